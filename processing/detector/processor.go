package processing

import (
	"context"
	"image"
	"sync"
	"time"

	"objdetect/internal/config"
	"objdetect/internal/models"
	"objdetect/processing/annotate"
	stream "objdetect/processing/capture"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ErrBusy rejects a request made while a live session or an image pass is
// already using the pipeline.
var ErrBusy = errors.New("pipeline busy")

type State int32

const (
	Idle State = iota
	ProcessingSingleImage
	LiveRunning
	LiveStopped
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ProcessingSingleImage:
		return "processing-single-image"
	case LiveRunning:
		return "live-running"
	case LiveStopped:
		return "live-stopped"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

type SourceOpener interface {
	OpenImage(path string) (stream.FrameSource, error)
	OpenDevice(id int) (stream.FrameSource, error)
}

// RenderSink shows the latest annotated frame. Each image handed to Render
// is a fresh copy that the sink may keep.
type RenderSink interface {
	Render(img image.Image)
	Clear()
}

// Reporter presents status text and failures to the user. Calls are made
// without the processor's lock held.
type Reporter interface {
	Status(text string)
	Failure(err error)
}

type Stats struct {
	Latency time.Duration
	FPS     uint
}

type session struct {
	source  stream.FrameSource
	running *atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Processor runs the capture, detect, annotate, render pipeline one frame
// at a time. At most one live session exists at any moment.
type Processor struct {
	cfg    *config.Config
	det    FrameDetector
	opener SourceOpener
	labels models.LabelTable
	ann    *annotate.Annotator
	logger *zap.SugaredLogger

	mu       sync.Mutex
	state    State
	session  *session
	sink     RenderSink
	reporter Reporter

	statsMu    sync.RWMutex
	stats      Stats
	frameCount uint
	lastFps    time.Time
}

func NewProcessor(cfg *config.Config, det FrameDetector, opener SourceOpener, labels models.LabelTable, logger *zap.SugaredLogger) *Processor {
	return &Processor{
		cfg:      cfg,
		det:      det,
		opener:   opener,
		labels:   labels,
		ann:      annotate.NewAnnotator(),
		logger:   logger,
		sink:     nopSink{},
		reporter: nopReporter{},
	}
}

// Attach sets where frames and status go. nil keeps the current one.
func (p *Processor) Attach(sink RenderSink, reporter Reporter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sink != nil {
		p.sink = sink
	}
	if reporter != nil {
		p.reporter = reporter
	}
}

func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Processor) Stats() Stats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}

func (p *Processor) outputs() (RenderSink, Reporter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink, p.reporter
}

func (p *Processor) setState(s State) {
	p.mu.Lock()
	prev := p.state
	p.state = s
	p.mu.Unlock()
	p.logger.Debugw("state", "from", prev, "to", s)
}

// begin moves an idle or stopped pipeline into next.
func (p *Processor) begin(next State) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Idle, LiveStopped:
	default:
		return p.state, errors.Wrapf(ErrBusy, "cannot leave %s", p.state)
	}
	prev := p.state
	p.state = next
	return prev, nil
}

func (p *Processor) fail(err error, after State) {
	_, rep := p.outputs()
	p.setState(Errored)
	p.logger.Warnw("pipeline failure", "kind", models.KindOf(err), "error", err)
	rep.Status(StatusText(err))
	rep.Failure(err)
	p.setState(after)
}

// SelectImage runs one full pass over the still image at path and returns
// the pipeline to Idle, whatever the outcome.
func (p *Processor) SelectImage(ctx context.Context, path string) error {
	if _, err := p.begin(ProcessingSingleImage); err != nil {
		_, rep := p.outputs()
		rep.Status(StatusText(err))
		return err
	}

	_, rep := p.outputs()
	rep.Status(MsgProcessing)
	p.logger.Infow("processing image", "path", path)

	if err := p.processImage(ctx, path); err != nil {
		p.fail(err, Idle)
		return err
	}

	p.setState(Idle)
	rep.Status(MsgImageDone)
	return nil
}

func (p *Processor) processImage(ctx context.Context, path string) error {
	src, err := p.opener.OpenImage(path)
	if err != nil {
		return err
	}
	defer src.Close()

	frame, err := src.Next()
	if err != nil {
		if errors.Is(err, stream.ErrEndOfStream) {
			return errors.Wrapf(models.ErrEmptyFrame, "%s yielded no frame", path)
		}
		return err
	}

	return p.runPass(ctx, frame)
}

// runPass is one detect, annotate, render cycle. frame is modified in place.
func (p *Processor) runPass(ctx context.Context, frame *models.Frame) error {
	if frame.Empty() {
		return errors.Wrap(models.ErrEmptyFrame, "pipeline pass")
	}

	start := time.Now()

	dets, err := p.det.Detect(ctx, frame, p.cfg.GetThreshold())
	if err != nil {
		return err
	}

	p.ann.Draw(frame, dets, p.labels)

	sink, _ := p.outputs()
	sink.Render(frame.ToRGBA())

	p.recordPass(time.Since(start))
	return nil
}

func (p *Processor) recordPass(latency time.Duration) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	p.stats.Latency = latency
	p.frameCount++
	if p.lastFps.IsZero() {
		p.lastFps = time.Now()
	}
	if time.Since(p.lastFps) >= time.Second {
		p.stats.FPS = p.frameCount
		p.frameCount = 0
		p.lastFps = time.Now()
	}
}

func (p *Processor) resetStats() {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats = Stats{}
	p.frameCount = 0
	p.lastFps = time.Time{}
}

// StartLiveFeed opens the configured capture device and starts ticking.
// It returns once the session is running; a second session is refused
// with ErrBusy.
func (p *Processor) StartLiveFeed(ctx context.Context) error {
	prev, err := p.begin(LiveRunning)
	if err != nil {
		_, rep := p.outputs()
		rep.Status(StatusText(err))
		return err
	}

	id := p.cfg.GetDeviceID()
	src, err := p.opener.OpenDevice(id)
	if err != nil {
		if !errors.Is(err, models.ErrDeviceUnavailable) {
			err = errors.Wrapf(models.ErrDeviceUnavailable, "camera %d: %v", id, err)
		}
		p.fail(err, prev)
		return err
	}

	waitCtx, cancel := context.WithCancel(ctx)
	s := &session{
		source:  src,
		running: atomic.NewBool(true),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	p.mu.Lock()
	p.session = s
	p.mu.Unlock()

	p.resetStats()
	p.logger.Infow("live feed started", "device", id)
	_, rep := p.outputs()
	rep.Status(MsgLiveRunning)

	go p.runLive(ctx, waitCtx, s)
	return nil
}

// runLive schedules each tick only after the previous pass has completed.
// The running flag is checked once per tick, never mid-pass; passes run
// under ctx so a stop never interrupts one, while waitCtx cuts the pause
// between ticks short.
func (p *Processor) runLive(ctx, waitCtx context.Context, s *session) {
	defer close(s.done)

	interval := p.cfg.GetTickInterval()

	var failure error
	for s.running.Load() && ctx.Err() == nil {
		frame, err := s.source.Next()
		if err != nil {
			if !errors.Is(err, stream.ErrEndOfStream) {
				failure = err
			}
			break
		}

		if err := p.runPass(ctx, frame); err != nil {
			failure = err
			break
		}

		select {
		case <-time.After(interval):
		case <-waitCtx.Done():
		}
	}

	stopped := !s.running.Load() || ctx.Err() != nil
	s.running.Store(false)
	s.cancel()

	if err := s.source.Close(); err != nil {
		p.logger.Warnw("release capture device", "error", err)
	}

	// the session stays visible to Stop until the final state is settled
	defer func() {
		p.mu.Lock()
		if p.session == s {
			p.session = nil
		}
		p.mu.Unlock()
	}()

	sink, rep := p.outputs()
	if failure != nil {
		p.fail(failure, LiveStopped)
		return
	}

	p.setState(LiveStopped)
	if stopped {
		sink.Clear()
	}
	p.logger.Infow("live feed stopped", "signalled", stopped)
	rep.Status(MsgLiveStopped)
}

// Stop ends the live session, if any, and waits until its device has been
// released. An in-flight pass is allowed to finish first.
func (p *Processor) Stop() {
	p.mu.Lock()
	s := p.session
	p.mu.Unlock()

	if s == nil {
		return
	}

	s.running.Store(false)
	s.cancel()
	<-s.done
}

func (p *Processor) Running() bool {
	return p.State() == LiveRunning
}

type nopSink struct{}

func (nopSink) Render(image.Image) {}
func (nopSink) Clear()             {}

type nopReporter struct{}

func (nopReporter) Status(string) {}
func (nopReporter) Failure(error) {}
