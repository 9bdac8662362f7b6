package ui

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"objdetect/internal/config"
	"objdetect/internal/ui/cwidget"
	"objdetect/processing/capture"
	processing "objdetect/processing/detector"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"
)

const statInterval = 200 * time.Millisecond

// DetectApp is the main window. It is the processor's render sink and
// reporter, so every update it receives is marshalled onto the UI thread.
type DetectApp struct {
	fyneApp fyne.App
	mainWin fyne.Window

	config     *config.Config
	configPath string
	processor  *processing.Processor
	logger     *zap.SugaredLogger

	viewport     *canvas.Image
	statusLabel  *widget.Label
	latencyLabel *widget.Label
	fpsLabel     *widget.Label
}

func CreateApp(p *processing.Processor, cfg *config.Config, cfgPath string, logger *zap.SugaredLogger) *DetectApp {
	return newDetectApp(app.New(), p, cfg, cfgPath, logger)
}

func newDetectApp(a fyne.App, p *processing.Processor, cfg *config.Config, cfgPath string, logger *zap.SugaredLogger) *DetectApp {
	w := a.NewWindow("Object Detection GUI")
	w.Resize(fyne.NewSize(800, 600))

	d := &DetectApp{
		fyneApp:    a,
		mainWin:    w,
		processor:  p,
		config:     cfg,
		configPath: cfgPath,
		logger:     logger,
	}
	d.build()
	p.Attach(d, d)

	return d
}

func (a *DetectApp) build() {
	display := a.config.Display

	background := canvas.NewRectangle(color.White)
	background.SetMinSize(fyne.NewSize(float32(display.Width), float32(display.Height)))

	a.viewport = canvas.NewImageFromImage(nil)
	a.viewport.FillMode = canvas.ImageFillOriginal
	a.viewport.ScaleMode = canvas.ImageScalePixels

	// no layout: the frame stays pinned to the top-left corner at its own size
	viewport := container.NewStack(background, container.NewWithoutLayout(a.viewport))

	a.statusLabel = widget.NewLabel(processing.MsgIdle)
	a.statusLabel.Wrapping = fyne.TextWrapWord
	a.latencyLabel = widget.NewLabel(a.formatLatency(0))
	a.fpsLabel = widget.NewLabel(a.formatFPS(0))

	selectBtn := widget.NewButtonWithIcon("Select Image", theme.FolderOpenIcon(), a.selectImage)
	liveBtn := widget.NewButtonWithIcon("Live Feed", theme.MediaVideoIcon(), a.startLiveFeed)

	thresholdInput := cwidget.NewFloatInput(
		"Confidence threshold",
		"0.0 - 1.0",
		a.config.GetThreshold(),
		0, 1,
		a.config.SetThreshold,
	)

	cameraInput := cwidget.NewIntInput(
		"Camera",
		"device index",
		a.config.GetDeviceID(),
		a.config.SetDeviceID,
	)

	sidebar := container.NewVBox(
		widget.NewLabelWithStyle("Detection", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		widget.NewSeparator(),
		selectBtn,
		liveBtn,
		widget.NewSeparator(),
		thresholdInput,
		cameraInput,
	)

	content := container.NewBorder(
		a.statusLabel,
		container.NewHBox(a.fpsLabel, widget.NewSeparator(), a.latencyLabel),
		nil,
		container.NewPadded(sidebar),
		viewport,
	)
	a.mainWin.SetContent(content)

	a.mainWin.Canvas().SetOnTypedRune(func(r rune) {
		if r == 'q' || r == 'Q' {
			go a.processor.Stop()
		}
	})

	a.mainWin.SetCloseIntercept(func() {
		a.processor.Stop()
		if err := a.config.Save(a.configPath); err != nil {
			a.logger.Warnw("save config", "path", a.configPath, "error", err)
		}
		a.mainWin.Close()
	})
}

func (a *DetectApp) Run() {
	a.mainWin.CenterOnScreen()
	a.mainWin.ShowAndRun()
}

func (a *DetectApp) selectImage() {
	open := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, a.mainWin)
			return
		}
		if reader == nil {
			return
		}
		path := reader.URI().Path()
		_ = reader.Close()

		go func() {
			// failures reach the user through Failure
			_ = a.processor.SelectImage(context.Background(), path)
		}()
	}, a.mainWin)

	open.SetFilter(storage.NewExtensionFileFilter(capture.SupportedExtensions[:]))
	open.Show()
}

func (a *DetectApp) startLiveFeed() {
	go func() {
		if err := a.processor.StartLiveFeed(context.Background()); err != nil {
			return
		}
		a.runStatLoop()
	}()
}

// runStatLoop refreshes the FPS and latency labels until the live session ends.
func (a *DetectApp) runStatLoop() {
	uiTicker := time.NewTicker(statInterval)
	defer uiTicker.Stop()

	for range uiTicker.C {
		stats := a.processor.Stats()
		fyne.Do(func() {
			a.latencyLabel.SetText(a.formatLatency(stats.Latency))
			a.fpsLabel.SetText(a.formatFPS(stats.FPS))
		})

		if !a.processor.Running() {
			return
		}
	}
}

func (a *DetectApp) formatFPS(v uint) string {
	return fmt.Sprintf("FPS: %d", v)
}

func (a *DetectApp) formatLatency(v time.Duration) string {
	return fmt.Sprintf("Latency: %d ms", v.Milliseconds())
}

func (a *DetectApp) Render(img image.Image) {
	size := img.Bounds().Size()
	fyne.Do(func() {
		a.viewport.Image = img
		a.viewport.Move(fyne.NewPos(0, 0))
		a.viewport.Resize(fyne.NewSize(float32(size.X), float32(size.Y)))
		a.viewport.Refresh()
	})
}

func (a *DetectApp) Clear() {
	fyne.Do(func() {
		a.viewport.Image = nil
		a.viewport.Refresh()
	})
}

func (a *DetectApp) Status(text string) {
	fyne.Do(func() {
		a.statusLabel.SetText(text)
	})
}

func (a *DetectApp) Failure(err error) {
	a.logger.Debugw("showing failure", "error", err)
	fyne.Do(func() {
		dialog.ShowError(err, a.mainWin)
	})
}
