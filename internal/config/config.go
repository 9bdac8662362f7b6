package config

import (
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type DetectorBackend string

const (
	DetectorOpenCV DetectorBackend = "opencv"
	DetectorRemote DetectorBackend = "remote"
)

type CaptureBackend string

const (
	CaptureOpenCV CaptureBackend = "opencv"
	CaptureFFmpeg CaptureBackend = "ffmpeg"
)

const (
	DefaultConfigPath           string = "config.yaml"
	DefaultDetectorProcessorUrl string = "localhost:8080"
)

var CaptureBackends = [...]string{
	string(CaptureOpenCV),
	string(CaptureFFmpeg),
}

type DetectorConfig struct {
	Backend       DetectorBackend `yaml:"backend"`
	ModelPath     string          `yaml:"model_path"`
	ConfigPath    string          `yaml:"config_path"`
	LabelsPath    string          `yaml:"labels_path"`
	RemoteHost    string          `yaml:"remote_host"`
	RemoteTimeout time.Duration   `yaml:"remote_timeout"`
	Threshold     float32         `yaml:"confidence_threshold"`
}

type CaptureConfig struct {
	Backend      CaptureBackend `yaml:"backend"`
	DeviceID     int            `yaml:"device_id"`
	Width        int            `yaml:"width"`
	Height       int            `yaml:"height"`
	FPS          uint           `yaml:"fps"`
	TickInterval time.Duration  `yaml:"tick_interval"`
}

type DisplayConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Config struct {
	mu sync.RWMutex

	Detector DetectorConfig `yaml:"detector"`
	Capture  CaptureConfig  `yaml:"capture"`
	Display  DisplayConfig  `yaml:"display"`
	Log      LogConfig      `yaml:"log"`
}

func (c *Config) GetThreshold() float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Detector.Threshold
}

func (c *Config) SetThreshold(threshold float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Detector.Threshold = threshold
}

func (c *Config) GetDeviceID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Capture.DeviceID
}

func (c *Config) SetDeviceID(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Capture.DeviceID = id
}

func (c *Config) GetTickInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Capture.TickInterval
}

func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Detector.Threshold < 0 || c.Detector.Threshold > 1 {
		return errors.Errorf("confidence_threshold must be within [0,1], got %v", c.Detector.Threshold)
	}
	switch c.Detector.Backend {
	case DetectorOpenCV:
		if c.Detector.ModelPath == "" {
			return errors.New("detector.model_path is required for the opencv backend")
		}
	case DetectorRemote:
		if c.Detector.RemoteHost == "" {
			return errors.New("detector.remote_host is required for the remote backend")
		}
	default:
		return errors.Errorf("unknown detector backend %q", c.Detector.Backend)
	}
	switch c.Capture.Backend {
	case CaptureOpenCV, CaptureFFmpeg:
	default:
		return errors.Errorf("unknown capture backend %q, want one of %v", c.Capture.Backend, CaptureBackends)
	}
	if c.Capture.DeviceID < 0 {
		return errors.Errorf("capture.device_id must not be negative, got %d", c.Capture.DeviceID)
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return errors.Errorf("capture size must be positive, got %dx%d", c.Capture.Width, c.Capture.Height)
	}
	if c.Capture.TickInterval < 0 {
		return errors.Errorf("capture.tick_interval must not be negative, got %s", c.Capture.TickInterval)
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return errors.Errorf("display size must be positive, got %dx%d", c.Display.Width, c.Display.Height)
	}
	return nil
}

func (c *Config) Save(path string) error {
	c.mu.RLock()
	data, err := yaml.Marshal(c)
	c.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write config %s", path)
}

// LoadConfigFile reads path over the defaults. A missing file is not an error.
func LoadConfigFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	return cfg, nil
}

func NewDefaultConfig() *Config {
	return &Config{
		Detector: DetectorConfig{
			Backend:       DetectorOpenCV,
			ModelPath:     "frozen_inference_graph.pb",
			ConfigPath:    "ssd_mobilenet_v3_large_coco_2020_01_14.pbtxt",
			LabelsPath:    "Labels.txt",
			RemoteHost:    DefaultDetectorProcessorUrl,
			RemoteTimeout: 5 * time.Second,
			Threshold:     0.55,
		},
		Capture: CaptureConfig{
			Backend:      CaptureOpenCV,
			DeviceID:     0,
			Width:        640,
			Height:       480,
			FPS:          30,
			TickInterval: 10 * time.Millisecond,
		},
		Display: DisplayConfig{
			Width:  640,
			Height: 480,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
