package main

import (
	"log"
	"os"

	"objdetect/internal/config"
	"objdetect/internal/logging"
	"objdetect/internal/models"
	ui "objdetect/internal/ui"
	"objdetect/processing/capture"
	"objdetect/processing/capture/cvcapture"
	processing "objdetect/processing/detector"
	"objdetect/processing/detector/cvdnn"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	flagConfig   = "config"
	flagLogLevel = "log-level"
	flagDevice   = "device"
	flagLabels   = "labels"
)

func main() {
	app := &cli.App{
		Name:  "objdetect",
		Usage: "detect objects in still images or a live camera feed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   config.DefaultConfigPath,
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "override the configured log level (debug, info, warn, error)",
			},
			&cli.IntFlag{
				Name:  flagDevice,
				Usage: "capture device index for the live feed",
			},
			&cli.StringFlag{
				Name:  flagLabels,
				Usage: "class label file, one name per line",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfgPath := c.String(flagConfig)

	cfg, err := config.LoadConfigFile(cfgPath)
	if err != nil {
		return err
	}
	if c.IsSet(flagLogLevel) {
		cfg.Log.Level = c.String(flagLogLevel)
	}
	if c.IsSet(flagDevice) {
		cfg.SetDeviceID(c.Int(flagDevice))
	}
	if c.IsSet(flagLabels) {
		cfg.Detector.LabelsPath = c.String(flagLabels)
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrapf(err, "config %s", cfgPath)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	labels, err := models.LoadLabels(cfg.Detector.LabelsPath)
	if err != nil {
		return err
	}
	logger.Infow("labels loaded", "path", cfg.Detector.LabelsPath, "classes", len(labels))

	backend, err := newBackend(cfg, logger)
	if err != nil {
		return err
	}
	det := processing.NewAdapter(backend, labels)
	defer func() {
		if err := det.Close(); err != nil {
			logger.Warnw("close detector", "error", err)
		}
	}()

	opener, err := capture.NewOpener(cfg, cvcapture.Open)
	if err != nil {
		return err
	}

	proc := processing.NewProcessor(cfg, det, opener, labels, logger)

	ui.CreateApp(proc, cfg, cfgPath, logger).Run()
	return nil
}

func newBackend(cfg *config.Config, logger *zap.SugaredLogger) (processing.Backend, error) {
	d := cfg.Detector

	switch d.Backend {
	case config.DetectorOpenCV:
		logger.Infow("loading model", "model", d.ModelPath, "config", d.ConfigPath)
		net, err := cvdnn.Open(d.ModelPath, d.ConfigPath, processing.DefaultModelParams())
		if err != nil {
			return nil, err
		}
		return net, nil
	case config.DetectorRemote:
		return processing.NewRemoteDetector(d.RemoteHost, d.RemoteTimeout, logger), nil
	default:
		return nil, errors.Errorf("unknown detector backend: %s", d.Backend)
	}
}
