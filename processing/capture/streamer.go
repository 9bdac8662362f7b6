package capture

import (
	"objdetect/internal/models"

	"github.com/pkg/errors"
)

// ErrEndOfStream is returned by Next once a source has nothing more to give.
// Sources keep returning it on every later call.
var ErrEndOfStream = errors.New("end of stream")

// FrameSource yields decoded frames one at a time. The caller owns every
// returned frame. Close releases the underlying handle and is idempotent.
type FrameSource interface {
	Next() (*models.Frame, error)
	Close() error
}
