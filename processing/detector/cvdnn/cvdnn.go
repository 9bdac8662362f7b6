// Package cvdnn runs an SSD-style detection network through OpenCV's dnn
// module.
package cvdnn

import (
	"context"
	"image"

	"objdetect/internal/models"
	processing "objdetect/processing/detector"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// each SSD output row is [image_id, class_id, confidence, left, top, right, bottom]
const rowSize = 7

type Net struct {
	net    gocv.Net
	params processing.ModelParams
}

// Open loads a frozen graph and its text config. params are copied.
func Open(modelPath, configPath string, params processing.ModelParams) (*Net, error) {
	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, errors.Wrapf(models.ErrDetectorFailure, "load model %s (%s)", modelPath, configPath)
	}

	return &Net{net: net, params: params}, nil
}

// DetectRaw is not safe for concurrent use; the Adapter serializes calls.
func (n *Net) DetectRaw(ctx context.Context, frame *models.Frame, threshold float32) (processing.RawDetections, error) {
	if err := ctx.Err(); err != nil {
		return processing.RawDetections{}, err
	}

	img, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pix)
	if err != nil {
		return processing.RawDetections{}, errors.Wrapf(models.ErrEmptyFrame, "%v", err)
	}
	defer img.Close()

	// the network wants RGB when SwapRB is set and the frame is BGR
	swap := n.params.SwapRB != (frame.Order == models.OrderRGB)
	mean := gocv.NewScalar(n.params.Mean[0], n.params.Mean[1], n.params.Mean[2], 0)
	size := image.Pt(n.params.InputWidth, n.params.InputHeight)

	blob := gocv.BlobFromImage(img, n.params.Scale, size, mean, swap, false)
	defer blob.Close()

	n.net.SetInput(blob, "")
	out := n.net.Forward("")
	defer out.Close()

	return parseSSD(out, frame.Width, frame.Height, threshold), nil
}

func parseSSD(out gocv.Mat, width, height int, threshold float32) processing.RawDetections {
	var raw processing.RawDetections
	w, h := float32(width), float32(height)

	n := out.Total() / rowSize
	if n == 0 {
		return raw
	}
	rows := out.Reshape(1, n)
	defer rows.Close()

	for i := 0; i < n; i++ {
		confidence := rows.GetFloatAt(i, 2)
		if confidence <= threshold {
			continue
		}

		left := int(rows.GetFloatAt(i, 3) * w)
		top := int(rows.GetFloatAt(i, 4) * h)
		right := int(rows.GetFloatAt(i, 5) * w)
		bottom := int(rows.GetFloatAt(i, 6) * h)

		raw.ClassIDs = append(raw.ClassIDs, int(rows.GetFloatAt(i, 1)))
		raw.Confidences = append(raw.Confidences, confidence)
		raw.Boxes = append(raw.Boxes, models.BoundingBox{
			X:      left,
			Y:      top,
			Width:  right - left,
			Height: bottom - top,
		})
	}

	return raw
}

func (n *Net) Close() error {
	return n.net.Close()
}
