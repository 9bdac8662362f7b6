// Package cvcapture reads frames from a camera through OpenCV.
package cvcapture

import (
	"sync"

	"objdetect/internal/models"
	"objdetect/processing/capture"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

type Webcam struct {
	mu     sync.Mutex
	id     int
	cam    *gocv.VideoCapture
	img    gocv.Mat
	frames int
	closed bool
}

// Open acquires camera id. The handle is released by Close.
func Open(id int) (capture.FrameSource, error) {
	cam, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, errors.Wrapf(models.ErrDeviceUnavailable, "camera %d: %v", id, err)
	}
	if !cam.IsOpened() {
		_ = cam.Close()
		return nil, errors.Wrapf(models.ErrDeviceUnavailable, "camera %d is not opened", id)
	}

	return &Webcam{id: id, cam: cam, img: gocv.NewMat()}, nil
}

func (w *Webcam) Next() (*models.Frame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, capture.ErrEndOfStream
	}

	if ok := w.cam.Read(&w.img); !ok {
		return nil, readFailure(w.id, w.frames)
	}
	if w.img.Empty() {
		return nil, errors.Wrapf(models.ErrEmptyFrame, "camera %d", w.id)
	}

	frame, err := toFrame(w.img)
	if err != nil {
		return nil, err
	}
	w.frames++
	return frame, nil
}

// readFailure: a camera that never delivered a frame is unavailable, one
// that stops later has simply ended.
func readFailure(id, frames int) error {
	if frames == 0 {
		return errors.Wrapf(models.ErrDeviceUnavailable, "camera %d: no frame could be read", id)
	}
	return capture.ErrEndOfStream
}

func toFrame(img gocv.Mat) (*models.Frame, error) {
	bgr := img
	switch img.Channels() {
	case 3:
	case 4:
		bgr = gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(img, &bgr, gocv.ColorBGRAToBGR)
	case 1:
		bgr = gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(img, &bgr, gocv.ColorGrayToBGR)
	default:
		return nil, errors.Wrapf(models.ErrEmptyFrame, "unexpected channel count %d", img.Channels())
	}

	if bgr.Type() != gocv.MatTypeCV8UC3 {
		return nil, errors.Wrapf(models.ErrEmptyFrame, "unexpected mat type %v", bgr.Type())
	}

	return &models.Frame{
		Pix:    bgr.ToBytes(),
		Width:  bgr.Cols(),
		Height: bgr.Rows(),
		Order:  models.OrderBGR,
	}, nil
}

func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	return multierr.Combine(w.img.Close(), w.cam.Close())
}
