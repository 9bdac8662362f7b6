package processing

import (
	"context"
	"sync"

	"objdetect/internal/models"

	"github.com/pkg/errors"
)

// ModelParams is the fixed preprocessing the detection network expects.
// It is set once when a backend is built and never changes afterwards.
type ModelParams struct {
	InputWidth  int
	InputHeight int
	Scale       float64
	Mean        [3]float64
	SwapRB      bool
}

func DefaultModelParams() ModelParams {
	return ModelParams{
		InputWidth:  320,
		InputHeight: 320,
		Scale:       1.0 / 127.5,
		Mean:        [3]float64{127.5, 127.5, 127.5},
		SwapRB:      true,
	}
}

// RawDetections holds one entry per raw detection in parallel slices.
type RawDetections struct {
	ClassIDs    []int
	Confidences []float32
	Boxes       []models.BoundingBox
}

func (r RawDetections) Len() int {
	return len(r.ClassIDs)
}

// Backend is the detection capability itself.
type Backend interface {
	DetectRaw(ctx context.Context, frame *models.Frame, threshold float32) (RawDetections, error)
	Close() error
}

type FrameDetector interface {
	Detect(ctx context.Context, frame *models.Frame, threshold float32) ([]models.Detection, error)
}

// Adapter turns backend output into detections that are safe to annotate:
// every returned detection has a known class and a confidence above the
// threshold.
type Adapter struct {
	mu      sync.Mutex
	backend Backend
	labels  models.LabelTable
}

func NewAdapter(backend Backend, labels models.LabelTable) *Adapter {
	return &Adapter{backend: backend, labels: labels}
}

func (a *Adapter) Detect(ctx context.Context, frame *models.Frame, threshold float32) ([]models.Detection, error) {
	if frame.Empty() {
		return nil, errors.Wrap(models.ErrEmptyFrame, "detect")
	}

	a.mu.Lock()
	raw, err := a.backend.DetectRaw(ctx, frame, threshold)
	a.mu.Unlock()
	if err != nil {
		if errors.Is(err, models.ErrDetectorFailure) {
			return nil, err
		}
		return nil, errors.Wrapf(models.ErrDetectorFailure, "%v", err)
	}

	n := raw.Len()
	if len(raw.Confidences) != n || len(raw.Boxes) != n {
		return nil, errors.Wrapf(models.ErrDetectorFailure,
			"mismatched output: %d classes, %d confidences, %d boxes",
			n, len(raw.Confidences), len(raw.Boxes))
	}

	dets := make([]models.Detection, 0, n)
	for i := 0; i < n; i++ {
		if !a.labels.Valid(raw.ClassIDs[i]) {
			continue
		}
		if raw.Confidences[i] <= threshold {
			continue
		}
		dets = append(dets, models.Detection{
			ClassIndex: raw.ClassIDs[i],
			Confidence: raw.Confidences[i],
			Box:        raw.Boxes[i],
		})
	}

	return dets, nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend.Close()
}
