package models

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

type ChannelOrder int

const (
	OrderBGR ChannelOrder = iota
	OrderRGB
)

func (o ChannelOrder) String() string {
	if o == OrderRGB {
		return "RGB"
	}
	return "BGR"
}

const bytesPerPixel = 3

// Frame is a decoded raster with tightly packed 3-byte pixels. It implements
// draw.Image, so At and Set speak display colors whatever the storage order is.
type Frame struct {
	Pix    []uint8
	Width  int
	Height int
	Order  ChannelOrder
}

func NewFrame(width, height int, order ChannelOrder) *Frame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Frame{
		Pix:    make([]uint8, width*height*bytesPerPixel),
		Width:  width,
		Height: height,
		Order:  order,
	}
}

// FrameFromImage converts img into a BGR frame. Alpha is dropped.
func FrameFromImage(img image.Image) *Frame {
	src := imaging.Clone(img)
	b := src.Bounds()
	f := NewFrame(b.Dx(), b.Dy(), OrderBGR)

	for y := 0; y < f.Height; y++ {
		si := src.PixOffset(b.Min.X, b.Min.Y+y)
		di := y * f.Stride()
		for x := 0; x < f.Width; x++ {
			f.Pix[di+0] = src.Pix[si+2]
			f.Pix[di+1] = src.Pix[si+1]
			f.Pix[di+2] = src.Pix[si+0]
			si += 4
			di += bytesPerPixel
		}
	}

	return f
}

func (f *Frame) Stride() int {
	return f.Width * bytesPerPixel
}

func (f *Frame) Empty() bool {
	return f == nil || f.Width <= 0 || f.Height <= 0 || len(f.Pix) < f.Width*f.Height*bytesPerPixel
}

func (f *Frame) ColorModel() color.Model {
	return color.RGBAModel
}

func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

func (f *Frame) PixOffset(x, y int) int {
	return y*f.Stride() + x*bytesPerPixel
}

func (f *Frame) At(x, y int) color.Color {
	return f.RGBAAt(x, y)
}

func (f *Frame) RGBAAt(x, y int) color.RGBA {
	if !(image.Point{x, y}.In(f.Bounds())) {
		return color.RGBA{}
	}
	i := f.PixOffset(x, y)
	p := f.Pix[i : i+bytesPerPixel : i+bytesPerPixel]
	if f.Order == OrderRGB {
		return color.RGBA{p[0], p[1], p[2], 0xff}
	}
	return color.RGBA{p[2], p[1], p[0], 0xff}
}

func (f *Frame) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(f.Bounds())) {
		return
	}
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	i := f.PixOffset(x, y)
	p := f.Pix[i : i+bytesPerPixel : i+bytesPerPixel]
	if f.Order == OrderRGB {
		p[0], p[1], p[2] = rgba.R, rgba.G, rgba.B
		return
	}
	p[0], p[1], p[2] = rgba.B, rgba.G, rgba.R
}

func (f *Frame) Clone() *Frame {
	pix := make([]uint8, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Pix: pix, Width: f.Width, Height: f.Height, Order: f.Order}
}

// ToRGB returns a copy of f stored in RGB order.
func (f *Frame) ToRGB() *Frame {
	out := f.Clone()
	if f.Order == OrderRGB {
		return out
	}
	for i := 0; i+2 < len(out.Pix); i += bytesPerPixel {
		out.Pix[i], out.Pix[i+2] = out.Pix[i+2], out.Pix[i]
	}
	out.Order = OrderRGB
	return out
}

// ToRGBA returns an independent *image.RGBA suitable for display.
func (f *Frame) ToRGBA() *image.RGBA {
	rgb := f.ToRGB()
	img := image.NewRGBA(f.Bounds())

	n := f.Width * f.Height
	if m := len(rgb.Pix) / bytesPerPixel; m < n {
		n = m
	}
	for i := 0; i < n; i++ {
		s := i * bytesPerPixel
		d := i * 4
		img.Pix[d+0] = rgb.Pix[s+0]
		img.Pix[d+1] = rgb.Pix[s+1]
		img.Pix[d+2] = rgb.Pix[s+2]
		img.Pix[d+3] = 0xff
	}

	return img
}
