package models

import "github.com/pkg/errors"

var (
	ErrInputNotFound     = errors.New("input not found")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrDecodeFailure     = errors.New("decode failure")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrEmptyFrame        = errors.New("empty or invalid frame")
	ErrDetectorFailure   = errors.New("detector failure")
)

type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindInputNotFound
	KindUnsupportedFormat
	KindDecodeFailure
	KindDeviceUnavailable
	KindEmptyFrame
	KindDetectorFailure
	KindOther
)

var kindNames = [...]string{
	KindNone:              "none",
	KindInputNotFound:     "input-not-found",
	KindUnsupportedFormat: "unsupported-format",
	KindDecodeFailure:     "decode-failure",
	KindDeviceUnavailable: "device-unavailable",
	KindEmptyFrame:        "empty-frame",
	KindDetectorFailure:   "detection-failure",
	KindOther:             "other",
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "other"
	}
	return kindNames[k]
}

// KindOf classifies err by the sentinel it wraps. The first match wins, so a
// detector failure caused by an empty frame is reported as an empty frame.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInputNotFound):
		return KindInputNotFound
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, ErrDecodeFailure):
		return KindDecodeFailure
	case errors.Is(err, ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, ErrEmptyFrame):
		return KindEmptyFrame
	case errors.Is(err, ErrDetectorFailure):
		return KindDetectorFailure
	default:
		return KindOther
	}
}
