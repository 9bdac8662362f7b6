package capture

import (
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"objdetect/internal/models"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

var SupportedExtensions = [...]string{".jpg", ".jpeg", ".png", ".bmp"}

type DecodeFunc func(path string) (image.Image, error)

func DecodeFile(path string) (image.Image, error) {
	return imaging.Open(path, imaging.AutoOrientation(true))
}

func SupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ImageSource yields a single still frame, then ErrEndOfStream forever.
type ImageSource struct {
	mu    sync.Mutex
	path  string
	frame *models.Frame
}

// OpenImage checks path and decodes it. Existence is checked first and the
// extension second, both before any decode attempt.
func OpenImage(path string, decode DecodeFunc) (*ImageSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(models.ErrInputNotFound, "%s", path)
		}
		return nil, errors.Wrapf(models.ErrDecodeFailure, "stat %s: %v", path, err)
	}
	if info.IsDir() {
		return nil, errors.Wrapf(models.ErrInputNotFound, "%s is a directory", path)
	}

	if !SupportedImage(path) {
		return nil, errors.Wrapf(models.ErrUnsupportedFormat, "%s", filepath.Ext(path))
	}

	if decode == nil {
		decode = DecodeFile
	}
	img, err := decode(path)
	if err != nil {
		return nil, errors.Wrapf(models.ErrDecodeFailure, "%s: %v", path, err)
	}

	frame := models.FrameFromImage(img)
	if frame.Empty() {
		return nil, errors.Wrapf(models.ErrEmptyFrame, "%s", path)
	}

	return &ImageSource{path: path, frame: frame}, nil
}

func (s *ImageSource) Next() (*models.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame == nil {
		return nil, ErrEndOfStream
	}
	f := s.frame
	s.frame = nil
	return f, nil
}

func (s *ImageSource) Close() error {
	s.mu.Lock()
	s.frame = nil
	s.mu.Unlock()
	return nil
}

func (s *ImageSource) Path() string {
	return s.path
}
