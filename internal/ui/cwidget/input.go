package cwidget

import (
	"fmt"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"github.com/pkg/errors"
)

// Input is a labelled entry that only reports values its Validator accepts.
// The label shows the last accepted value.
type Input[T any] struct {
	widget.BaseWidget

	labelWidget *widget.Label
	entryWidget *widget.Entry
	errorWidget *widget.Label

	LabelText   string
	Placeholder string

	DefaultValue T
	Value        T

	OnChanged func(T)

	Validator func(string) (T, error)
	Format    func(T) string
}

func newInput[T any](label, placeholder string, defaultValue T, format func(T) string, validator func(string) (T, error), onChanged func(T)) *Input[T] {
	input := &Input[T]{
		LabelText:    label,
		Placeholder:  placeholder,
		DefaultValue: defaultValue,
		Value:        defaultValue,
		OnChanged:    onChanged,
		Validator:    validator,
		Format:       format,
	}

	input.labelWidget = widget.NewLabel(input.caption(defaultValue))
	input.labelWidget.TextStyle = fyne.TextStyle{Bold: true}

	input.entryWidget = widget.NewEntry()
	input.entryWidget.SetPlaceHolder(placeholder)

	input.errorWidget = widget.NewLabel("")
	input.errorWidget.Hidden = true
	input.errorWidget.TextStyle = fyne.TextStyle{Italic: true}
	input.errorWidget.Importance = widget.DangerImportance

	input.entryWidget.OnChanged = func(s string) {
		res, err := input.Validator(strings.TrimSpace(s))
		input.SetError(err)
		if err != nil {
			return
		}

		input.Value = res
		input.labelWidget.SetText(input.caption(res))
		if input.OnChanged != nil {
			input.OnChanged(res)
		}
	}

	input.ExtendBaseWidget(input)

	return input
}

// NewIntInput accepts non-negative integers, e.g. a capture device index.
// An empty entry falls back to defaultValue.
func NewIntInput(label, placeholder string, defaultValue int, onChanged func(int)) *Input[int] {
	validator := func(s string) (int, error) {
		if s == "" {
			return defaultValue, nil
		}

		res, err := strconv.Atoi(s)
		if err != nil {
			return defaultValue, errors.New("not an integer")
		}
		if res < 0 {
			return defaultValue, errors.New("must not be negative")
		}
		return res, nil
	}

	return newInput(label, placeholder, defaultValue, strconv.Itoa, validator, onChanged)
}

// NewFloatInput accepts numbers within [lo, hi].
func NewFloatInput(label, placeholder string, defaultValue, lo, hi float32, onChanged func(float32)) *Input[float32] {
	validator := func(s string) (float32, error) {
		if s == "" {
			return defaultValue, nil
		}

		res, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return defaultValue, errors.New("not a number")
		}
		if float32(res) < lo || float32(res) > hi {
			return defaultValue, errors.Errorf("must be between %g and %g", lo, hi)
		}
		return float32(res), nil
	}

	format := func(v float32) string {
		return strconv.FormatFloat(float64(v), 'f', 2, 32)
	}

	return newInput(label, placeholder, defaultValue, format, validator, onChanged)
}

func (item *Input[T]) caption(v T) string {
	return fmt.Sprintf("%s: %s", item.LabelText, item.Format(v))
}

func (item *Input[T]) CreateRenderer() fyne.WidgetRenderer {
	c := container.NewVBox(
		item.labelWidget,
		item.entryWidget,
		item.errorWidget,
	)

	return widget.NewSimpleRenderer(c)
}

func (item *Input[T]) SetError(err error) {
	item.errorWidget.Hidden = err == nil
	if err != nil {
		item.errorWidget.SetText(err.Error())
	}
	item.errorWidget.Refresh()
}

func (item *Input[T]) SetText(text string) {
	item.entryWidget.SetText(text)
}

func (item *Input[T]) Caption() string {
	return item.labelWidget.Text
}

func (item *Input[T]) ErrorText() string {
	if item.errorWidget.Hidden {
		return ""
	}
	return item.errorWidget.Text
}
