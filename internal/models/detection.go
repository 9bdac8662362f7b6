package models

import (
	"bufio"
	"image"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Detection is one object reported for a single frame. ClassIndex is 1-based.
type Detection struct {
	ClassIndex int         `json:"class_index"`
	Confidence float32     `json:"confidence"`
	Box        BoundingBox `json:"box"`
}

// LabelTable names class i+1 at index i.
type LabelTable []string

func (t LabelTable) Valid(classIndex int) bool {
	return classIndex >= 1 && classIndex <= len(t)
}

func (t LabelTable) Lookup(classIndex int) (string, bool) {
	if !t.Valid(classIndex) {
		return "", false
	}
	return t[classIndex-1], true
}

func ParseLabels(r io.Reader) (LabelTable, error) {
	var labels LabelTable

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		labels = append(labels, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read labels")
	}

	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}

	return labels, nil
}

func LoadLabels(path string) (LabelTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open labels %s", path)
	}
	defer f.Close()

	return ParseLabels(f)
}
