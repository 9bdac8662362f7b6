// Package annotate draws detection overlays onto frames.
//
// Drawing happens in place: the frame passed in is modified and returned.
// Boxes are clamped to the frame; a box with no pixels inside the frame is
// skipped together with its label.
package annotate

import (
	"image"
	"image/color"

	"objdetect/internal/models"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	BoxColor   = color.RGBA{0, 0, 255, 255}
	LabelColor = color.RGBA{0, 255, 0, 255}

	// LabelOffset is the baseline origin of a label relative to its box.
	LabelOffset = image.Pt(10, 40)
)

const BoxThickness = 2

type Overlay struct {
	Detection models.Detection
	Box       image.Rectangle
	Text      string
	Origin    image.Point
}

type Annotator struct {
	BoxColor   color.Color
	LabelColor color.Color
	Thickness  int
	Face       font.Face
}

func NewAnnotator() *Annotator {
	return &Annotator{
		BoxColor:   BoxColor,
		LabelColor: LabelColor,
		Thickness:  BoxThickness,
		Face:       basicfont.Face7x13,
	}
}

// Annotate draws dets onto frame with the default style and returns frame.
func Annotate(frame *models.Frame, dets []models.Detection, labels models.LabelTable) *models.Frame {
	NewAnnotator().Draw(frame, dets, labels)
	return frame
}

// Draw renders one box and one label per drawable detection, in order, and
// reports what was drawn. Detections with an unknown class are skipped.
func (a *Annotator) Draw(frame *models.Frame, dets []models.Detection, labels models.LabelTable) []Overlay {
	if frame.Empty() {
		return nil
	}

	overlays := make([]Overlay, 0, len(dets))
	for _, det := range dets {
		text, ok := labels.Lookup(det.ClassIndex)
		if !ok {
			continue
		}

		box, ok := clampBox(det.Box, frame.Bounds())
		if !ok {
			continue
		}

		origin := box.Min.Add(LabelOffset)

		a.drawRect(frame, box)
		a.drawLabel(frame, text, origin)

		overlays = append(overlays, Overlay{
			Detection: det,
			Box:       box,
			Text:      text,
			Origin:    origin,
		})
	}

	return overlays
}

func clampBox(b models.BoundingBox, bounds image.Rectangle) (image.Rectangle, bool) {
	if b.Width <= 0 || b.Height <= 0 {
		return image.Rectangle{}, false
	}
	r := b.Rect().Intersect(bounds)
	if r.Empty() {
		return image.Rectangle{}, false
	}
	return r, true
}

// drawRect strokes r inward from its edges; the last row and column drawn
// are r.Max-1. Nothing outside r is touched, however thin r is.
func (a *Annotator) drawRect(img *models.Frame, r image.Rectangle) {
	thickness := a.Thickness
	if thickness < 1 {
		thickness = 1
	}
	x1, y1, x2, y2 := r.Min.X, r.Min.Y, r.Max.X-1, r.Max.Y-1
	col := a.BoxColor

	set := func(x, y int) {
		if image.Pt(x, y).In(r) {
			img.Set(x, y, col)
		}
	}

	for t := 0; t < thickness; t++ {
		for x := x1; x <= x2; x++ {
			set(x, y1+t)
			set(x, y2-t)
		}
		for y := y1; y <= y2; y++ {
			set(x1+t, y)
			set(x2-t, y)
		}
	}
}

func (a *Annotator) drawLabel(img *models.Frame, label string, origin image.Point) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(a.LabelColor),
		Face: a.Face,
		Dot:  fixed.P(origin.X, origin.Y),
	}
	d.DrawString(label)
}
