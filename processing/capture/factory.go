package capture

import (
	config "objdetect/internal/config"
	"objdetect/internal/models"

	"github.com/pkg/errors"
)

type DeviceOpener func(id int) (FrameSource, error)

// Opener hands out still-image and capture-device sources.
type Opener struct {
	Decode DecodeFunc
	Device DeviceOpener
}

// NewOpener picks the capture-device backend from cfg. The opencv backend
// lives in its own package and is passed in by the caller.
func NewOpener(t *config.Config, opencv DeviceOpener) (*Opener, error) {
	o := &Opener{Decode: DecodeFile}

	switch t.Capture.Backend {
	case config.CaptureOpenCV:
		if opencv == nil {
			return nil, errors.New("opencv capture backend is not available")
		}
		o.Device = opencv
	case config.CaptureFFmpeg:
		fps, w, h := t.Capture.FPS, t.Capture.Width, t.Capture.Height
		o.Device = func(id int) (FrameSource, error) {
			ws, err := NewFFmpegWebcam(id, fps, w, h)
			if err != nil {
				return nil, err
			}
			return ws, nil
		}
	default:
		return nil, errors.Errorf("unknown capture backend: %s", t.Capture.Backend)
	}

	return o, nil
}

func (o *Opener) OpenImage(path string) (FrameSource, error) {
	src, err := OpenImage(path, o.Decode)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (o *Opener) OpenDevice(id int) (FrameSource, error) {
	if o.Device == nil {
		return nil, errors.Wrap(models.ErrDeviceUnavailable, "no capture device backend configured")
	}
	return o.Device(id)
}
