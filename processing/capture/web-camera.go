package capture

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"sync"

	"objdetect/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

const standartFps uint = 30

type FFmpegWebcamStreamer struct {
	stopOnce sync.Once
	mu       sync.Mutex

	deviceName string
	width      int
	height     int
	targetFPS  uint

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	buffer []byte

	frames  uint64
	stopped atomic.Bool
}

// NewFFmpegWebcam starts ffmpeg reading camera id as raw bgr24 frames of the
// given size. A camera that ffmpeg cannot open surfaces on the first Next.
func NewFFmpegWebcam(id int, targetFps uint, width, height int) (*FFmpegWebcamStreamer, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(models.ErrDeviceUnavailable, "invalid capture size %dx%d", width, height)
	}
	if targetFps == 0 {
		targetFps = standartFps
	}

	name, err := deviceName(runtime.GOOS, id)
	if err != nil {
		return nil, err
	}

	ws := &FFmpegWebcamStreamer{
		deviceName: name,
		width:      width,
		height:     height,
		targetFPS:  targetFps,
		buffer:     make([]byte, width*height*3),
	}

	ws.cmd = exec.Command("ffmpeg", webcamArgs(runtime.GOOS, ws.deviceName, ws.targetFPS, ws.width, ws.height)...)
	ws.cmd.Stderr = &ws.stderr

	ws.stdout, err = ws.cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrapf(models.ErrDeviceUnavailable, "ffmpeg pipe: %v", err)
	}

	if err := ws.cmd.Start(); err != nil {
		return nil, errors.Wrapf(models.ErrDeviceUnavailable, "ffmpeg start: %v", err)
	}

	return ws, nil
}

func deviceName(goos string, id int) (string, error) {
	switch goos {
	case "windows":
		cameras, err := ListCameras()
		if err != nil {
			return "", errors.Wrapf(models.ErrDeviceUnavailable, "list cameras: %v", err)
		}
		if id < 0 || id >= len(cameras) {
			return "", errors.Wrapf(models.ErrDeviceUnavailable, "camera %d not found", id)
		}
		return cameras[id], nil
	case "darwin":
		return fmt.Sprintf("%d", id), nil
	default:
		return fmt.Sprintf("/dev/video%d", id), nil
	}
}

func webcamArgs(goos, device string, fps uint, width, height int) []string {
	var input []string
	switch goos {
	case "windows":
		input = []string{"-f", "dshow", "-i", fmt.Sprintf("video=%s", device)}
	case "darwin":
		input = []string{"-f", "avfoundation", "-framerate", fmt.Sprintf("%d", fps), "-i", device}
	default:
		input = []string{"-f", "v4l2", "-i", device}
	}

	return append(input,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", fps, width, height),
		"-f", "image2pipe",
		"-pix_fmt", "bgr24",
		"-vcodec", "rawvideo",
		"-",
	)
}

// Next blocks until a whole frame has been read. A read failure before the
// first frame means the camera never opened; the process is then released.
func (ws *FFmpegWebcamStreamer) Next() (*models.Frame, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.stopped.Load() {
		return nil, ErrEndOfStream
	}

	if _, err := io.ReadFull(ws.stdout, ws.buffer); err != nil {
		closed := ws.stopped.Load()
		_ = ws.stopCmdOut()
		if !closed && ws.frames == 0 {
			return nil, errors.Wrapf(models.ErrDeviceUnavailable, "%s: %v: %s", ws.deviceName, err, bytes.TrimSpace(ws.stderr.Bytes()))
		}
		return nil, ErrEndOfStream
	}

	ws.frames++

	frame := models.NewFrame(ws.width, ws.height, models.OrderBGR)
	copy(frame.Pix, ws.buffer)

	return frame, nil
}

func (ws *FFmpegWebcamStreamer) stopCmdOut() error {
	var err error
	ws.stopOnce.Do(func() {
		ws.stopped.Store(true)
		if ws.cmd != nil && ws.cmd.Process != nil {
			if kerr := ws.cmd.Process.Kill(); !errors.Is(kerr, os.ErrProcessDone) {
				err = multierr.Append(err, kerr)
			}
			// ffmpeg exits non-zero once killed
			_ = ws.cmd.Wait()
		}
	})
	return err
}

// Close kills ffmpeg. It may be called while Next is blocked reading; the
// kill closes the pipe and unblocks it.
func (ws *FFmpegWebcamStreamer) Close() error {
	return ws.stopCmdOut()
}

func ListCameras() ([]string, error) {
	var cameras []string

	if runtime.GOOS == "windows" {
		cmd := exec.Command("ffmpeg", "-list_devices", "true", "-f", "dshow", "-i", "dummy")
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		// ffmpeg always fails here; the listing is on stderr
		_ = cmd.Run()

		cameras = parseDshowDevices(stderr.String())
	} else {
		cameras = []string{"/dev/video0", "/dev/video1"}
	}

	return cameras, nil
}

var dshowVideoDevice = regexp.MustCompile(`"([^"]+)"\s+\(video\)`)

func parseDshowDevices(output string) []string {
	var cameras []string
	seen := make(map[string]bool)
	for _, m := range dshowVideoDevice.FindAllStringSubmatch(output, -1) {
		name := m[1]
		if name != "dummy" && !seen[name] {
			cameras = append(cameras, name)
			seen[name] = true
		}
	}
	return cameras
}
