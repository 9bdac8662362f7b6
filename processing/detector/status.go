package processing

import (
	"objdetect/internal/models"

	"github.com/pkg/errors"
)

const (
	MsgIdle        = "Select an image or start the live feed."
	MsgProcessing  = "Processing image..."
	MsgImageDone   = "Image processed. Select another image or start the live feed."
	MsgLiveRunning = "Press 'q' to exit live feed."
	MsgLiveStopped = "Live feed stopped."
)

// StatusText maps a pipeline error to the message shown to the user.
// Each error kind gets its own text.
func StatusText(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrBusy) {
		return "Busy. Stop the live feed or wait for the current image."
	}

	switch models.KindOf(err) {
	case models.KindInputNotFound:
		return "File not found. Please check the file path."
	case models.KindUnsupportedFormat:
		return "Unsupported file format. Use .jpg, .jpeg, .png or .bmp."
	case models.KindDecodeFailure:
		return "Failed to read the image file."
	case models.KindDeviceUnavailable:
		return "Failed to access webcam."
	case models.KindEmptyFrame:
		return "Invalid image. Please try again."
	case models.KindDetectorFailure:
		return "Object detection failed."
	default:
		return "Unexpected error: " + err.Error()
	}
}
