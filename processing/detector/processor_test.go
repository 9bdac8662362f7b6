package processing

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"objdetect/internal/config"
	"objdetect/internal/models"
	"objdetect/processing/annotate"
	stream "objdetect/processing/capture"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"
)

var testLabels = models.LabelTable{"person", "bicycle", "car"}

func grayFrame(w, h int) *models.Frame {
	f := models.NewFrame(w, h, models.OrderBGR)
	for i := range f.Pix {
		f.Pix[i] = 128
	}
	return f
}

type fakeSource struct {
	mu      sync.Mutex
	frames  int
	endless bool
	err     error
	served  int
	closes  atomic.Int32
}

func (s *fakeSource) Next() (*models.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil && s.served >= s.frames {
		return nil, s.err
	}
	if !s.endless && s.served >= s.frames {
		return nil, stream.ErrEndOfStream
	}
	s.served++
	return grayFrame(64, 48), nil
}

func (s *fakeSource) Close() error {
	s.closes.Inc()
	return nil
}

type fakeOpener struct {
	image       func(path string) (stream.FrameSource, error)
	device      func(id int) (stream.FrameSource, error)
	deviceOpens atomic.Int32
}

func (o *fakeOpener) OpenImage(path string) (stream.FrameSource, error) {
	return o.image(path)
}

func (o *fakeOpener) OpenDevice(id int) (stream.FrameSource, error) {
	o.deviceOpens.Inc()
	return o.device(id)
}

type fakeDetector struct {
	dets    []models.Detection
	err     error
	okFor   int32
	calls   atomic.Int32
	gate    chan struct{}
	entered chan struct{}
}

func (d *fakeDetector) Detect(_ context.Context, _ *models.Frame, _ float32) ([]models.Detection, error) {
	n := d.calls.Inc()
	if d.entered != nil && n == 1 {
		close(d.entered)
	}
	if d.gate != nil {
		<-d.gate
	}
	if d.err != nil && n > d.okFor {
		return nil, d.err
	}
	return d.dets, nil
}

type recordSink struct {
	mu      sync.Mutex
	renders []image.Image
	clears  int
}

func (s *recordSink) Render(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders = append(s.renders, img)
}

func (s *recordSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
}

func (s *recordSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.renders), s.clears
}

type recordReporter struct {
	p *Processor

	mu       sync.Mutex
	statuses []string
	failures []error
	states   []State
}

func (r *recordReporter) Status(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, text)
}

func (r *recordReporter) Failure(err error) {
	state := r.p.State()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
	r.states = append(r.states, state)
}

func (r *recordReporter) snapshot() ([]string, []error, []State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...), append([]error(nil), r.failures...), append([]State(nil), r.states...)
}

type fixture struct {
	proc   *Processor
	opener *fakeOpener
	det    *fakeDetector
	sink   *recordSink
	rep    *recordReporter
}

func newFixture(t *testing.T, det FrameDetector, opener *fakeOpener) *fixture {
	t.Helper()

	cfg := config.NewDefaultConfig()
	cfg.Capture.TickInterval = time.Millisecond

	p := NewProcessor(cfg, det, opener, testLabels, zaptest.NewLogger(t).Sugar())
	f := &fixture{proc: p, opener: opener, sink: &recordSink{}, rep: &recordReporter{p: p}}
	if fd, ok := det.(*fakeDetector); ok {
		f.det = fd
	}
	p.Attach(f.sink, f.rep)
	return f
}

func touch(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("not really an image"), 0o644))
	return path
}

type fakeBackend struct {
	raw RawDetections
	err error
}

func (b *fakeBackend) DetectRaw(context.Context, *models.Frame, float32) (RawDetections, error) {
	return b.raw, b.err
}

func (b *fakeBackend) Close() error { return nil }

func TestSelectImageRendersAnnotatedFrame(t *testing.T) {
	decodes := 0
	opener := &stream.Opener{Decode: func(string) (image.Image, error) {
		decodes++
		img := image.NewRGBA(image.Rect(0, 0, 120, 100))
		draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{128, 128, 128, 255}), image.Point{}, draw.Src)
		return img, nil
	}}
	backend := &fakeBackend{raw: RawDetections{
		ClassIDs:    []int{1, 7, 2},
		Confidences: []float32{0.9, 0.95, 0.3},
		Boxes: []models.BoundingBox{
			{X: 10, Y: 10, Width: 50, Height: 50},
			{X: 0, Y: 0, Width: 20, Height: 20},
			{X: 70, Y: 10, Width: 20, Height: 20},
		},
	}}

	cfg := config.NewDefaultConfig()
	p := NewProcessor(cfg, NewAdapter(backend, testLabels), opener, testLabels, zaptest.NewLogger(t).Sugar())
	sink := &recordSink{}
	rep := &recordReporter{p: p}
	p.Attach(sink, rep)

	require.NoError(t, p.SelectImage(context.Background(), touch(t, "street.png")))
	assert.Equal(t, 1, decodes)
	assert.Equal(t, Idle, p.State())

	require.Len(t, sink.renders, 1)
	img, ok := sink.renders[0].(*image.RGBA)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 120, 100), img.Bounds())

	assert.Equal(t, annotate.BoxColor, img.RGBAAt(10, 10))
	assert.Equal(t, annotate.BoxColor, img.RGBAAt(59, 59))
	assert.Equal(t, color.RGBA{128, 128, 128, 255}, img.RGBAAt(30, 30))
	// class 7 is unknown and class 2 is under the threshold
	assert.NotEqual(t, annotate.BoxColor, img.RGBAAt(0, 0))
	assert.NotEqual(t, annotate.BoxColor, img.RGBAAt(70, 10))

	statuses, failures, _ := rep.snapshot()
	assert.Equal(t, []string{MsgProcessing, MsgImageDone}, statuses)
	assert.Empty(t, failures)
}

func TestSelectImageRejectsBeforeDecoding(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
		kind models.ErrorKind
	}{
		{
			name: "unsupported extension",
			path: func(t *testing.T) string { return touch(t, "clip.gif") },
			kind: models.KindUnsupportedFormat,
		},
		{
			name: "missing file",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.jpg") },
			kind: models.KindInputNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decodes := 0
			opener := &stream.Opener{Decode: func(string) (image.Image, error) {
				decodes++
				return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
			}}
			det := &fakeDetector{}

			cfg := config.NewDefaultConfig()
			p := NewProcessor(cfg, det, opener, testLabels, zaptest.NewLogger(t).Sugar())
			sink := &recordSink{}
			rep := &recordReporter{p: p}
			p.Attach(sink, rep)

			err := p.SelectImage(context.Background(), tt.path(t))
			require.Error(t, err)
			assert.Equal(t, tt.kind, models.KindOf(err))

			assert.Zero(t, decodes)
			assert.Zero(t, det.calls.Load())
			assert.Empty(t, sink.renders)
			assert.Equal(t, Idle, p.State())

			statuses, failures, states := rep.snapshot()
			require.Len(t, failures, 1)
			assert.Equal(t, []State{Errored}, states)
			assert.Equal(t, StatusText(err), statuses[len(statuses)-1])
		})
	}
}

func TestSelectImageDetectorFailure(t *testing.T) {
	opener := &fakeOpener{image: func(string) (stream.FrameSource, error) {
		return &fakeSource{frames: 1}, nil
	}}
	det := &fakeDetector{err: errors.Wrap(models.ErrDetectorFailure, "boom")}
	f := newFixture(t, det, opener)

	err := f.proc.SelectImage(context.Background(), "any.jpg")
	assert.ErrorIs(t, err, models.ErrDetectorFailure)
	assert.Equal(t, Idle, f.proc.State())
	assert.Empty(t, f.sink.renders)
}

func TestSelectImageWithoutFrame(t *testing.T) {
	src := &fakeSource{}
	opener := &fakeOpener{image: func(string) (stream.FrameSource, error) { return src, nil }}
	f := newFixture(t, &fakeDetector{}, opener)

	err := f.proc.SelectImage(context.Background(), "any.jpg")
	assert.ErrorIs(t, err, models.ErrEmptyFrame)
	assert.Equal(t, int32(1), src.closes.Load())
}

func TestStartLiveFeedDeviceUnavailable(t *testing.T) {
	opener := &fakeOpener{device: func(int) (stream.FrameSource, error) {
		return nil, errors.New("no such camera")
	}}
	f := newFixture(t, &fakeDetector{}, opener)

	err := f.proc.StartLiveFeed(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDeviceUnavailable)

	assert.Equal(t, Idle, f.proc.State())
	assert.Zero(t, f.det.calls.Load())
	assert.Empty(t, f.sink.renders)

	statuses, failures, states := f.rep.snapshot()
	require.Len(t, failures, 1)
	assert.Equal(t, []State{Errored}, states)
	assert.Equal(t, "Failed to access webcam.", statuses[len(statuses)-1])
}

func TestLiveFeedStopReleasesDevice(t *testing.T) {
	var sources []*fakeSource
	opener := &fakeOpener{device: func(int) (stream.FrameSource, error) {
		s := &fakeSource{endless: true}
		sources = append(sources, s)
		return s, nil
	}}
	f := newFixture(t, &fakeDetector{}, opener)

	require.NoError(t, f.proc.StartLiveFeed(context.Background()))
	assert.True(t, f.proc.Running())

	assert.Eventually(t, func() bool {
		n, _ := f.sink.counts()
		return n >= 3
	}, 2*time.Second, time.Millisecond)

	f.proc.Stop()
	assert.Equal(t, LiveStopped, f.proc.State())
	require.Len(t, sources, 1)
	assert.Equal(t, int32(1), sources[0].closes.Load())

	rendered, clears := f.sink.counts()
	assert.Equal(t, 1, clears)

	statuses, _, _ := f.rep.snapshot()
	assert.Equal(t, MsgLiveRunning, statuses[0])
	assert.Equal(t, MsgLiveStopped, statuses[len(statuses)-1])

	// no ticks after stop
	time.Sleep(20 * time.Millisecond)
	after, _ := f.sink.counts()
	assert.Equal(t, rendered, after)

	require.NoError(t, f.proc.StartLiveFeed(context.Background()))
	assert.Equal(t, int32(2), opener.deviceOpens.Load())
	f.proc.Stop()
	require.Len(t, sources, 2)
	assert.Equal(t, int32(1), sources[1].closes.Load())
}

func TestStartWhileBusy(t *testing.T) {
	opener := &fakeOpener{
		device: func(int) (stream.FrameSource, error) { return &fakeSource{endless: true}, nil },
		image:  func(string) (stream.FrameSource, error) { return &fakeSource{frames: 1}, nil },
	}
	f := newFixture(t, &fakeDetector{}, opener)

	require.NoError(t, f.proc.StartLiveFeed(context.Background()))
	defer f.proc.Stop()

	err := f.proc.StartLiveFeed(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	err = f.proc.SelectImage(context.Background(), "a.png")
	assert.ErrorIs(t, err, ErrBusy)

	assert.Equal(t, int32(1), opener.deviceOpens.Load())
	assert.Equal(t, LiveRunning, f.proc.State())
}

func TestLiveFeedEndOfStream(t *testing.T) {
	src := &fakeSource{frames: 2}
	opener := &fakeOpener{device: func(int) (stream.FrameSource, error) { return src, nil }}
	f := newFixture(t, &fakeDetector{}, opener)

	require.NoError(t, f.proc.StartLiveFeed(context.Background()))
	assert.Eventually(t, func() bool {
		return f.proc.State() == LiveStopped
	}, 2*time.Second, time.Millisecond)

	rendered, clears := f.sink.counts()
	assert.Equal(t, 2, rendered)
	assert.Zero(t, clears)
	assert.Equal(t, int32(1), src.closes.Load())

	_, failures, _ := f.rep.snapshot()
	assert.Empty(t, failures)
}

func TestLiveFeedDetectorFailureEndsSession(t *testing.T) {
	src := &fakeSource{endless: true}
	opener := &fakeOpener{device: func(int) (stream.FrameSource, error) { return src, nil }}
	det := &fakeDetector{okFor: 2, err: errors.Wrap(models.ErrDetectorFailure, "inference")}
	f := newFixture(t, det, opener)

	require.NoError(t, f.proc.StartLiveFeed(context.Background()))
	assert.Eventually(t, func() bool {
		return f.proc.State() == LiveStopped
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, int32(1), src.closes.Load())
	rendered, _ := f.sink.counts()
	assert.Equal(t, 2, rendered)

	_, failures, states := f.rep.snapshot()
	require.Len(t, failures, 1)
	assert.Equal(t, models.KindDetectorFailure, models.KindOf(failures[0]))
	assert.Equal(t, []State{Errored}, states)
}

func TestLiveFeedCaptureFailureEndsSession(t *testing.T) {
	src := &fakeSource{frames: 1, err: errors.Wrap(models.ErrEmptyFrame, "blank read")}
	opener := &fakeOpener{device: func(int) (stream.FrameSource, error) { return src, nil }}
	f := newFixture(t, &fakeDetector{}, opener)

	require.NoError(t, f.proc.StartLiveFeed(context.Background()))
	assert.Eventually(t, func() bool {
		_, failures, _ := f.rep.snapshot()
		return len(failures) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Eventually(t, func() bool {
		return f.proc.State() == LiveStopped
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), src.closes.Load())
}

func TestStopLetsPassFinish(t *testing.T) {
	src := &fakeSource{endless: true}
	opener := &fakeOpener{device: func(int) (stream.FrameSource, error) { return src, nil }}
	det := &fakeDetector{gate: make(chan struct{}), entered: make(chan struct{})}
	f := newFixture(t, det, opener)

	require.NoError(t, f.proc.StartLiveFeed(context.Background()))
	<-det.entered

	stopped := make(chan struct{})
	go func() {
		f.proc.Stop()
		close(stopped)
	}()

	assert.Never(t, func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Zero(t, src.closes.Load())

	close(det.gate)
	<-stopped

	rendered, clears := f.sink.counts()
	assert.Equal(t, 1, rendered)
	assert.Equal(t, 1, clears)
	assert.Equal(t, int32(1), src.closes.Load())
	assert.Equal(t, int32(1), det.calls.Load())
}

func TestStopWithoutSession(t *testing.T) {
	f := newFixture(t, &fakeDetector{}, &fakeOpener{})
	assert.NotPanics(t, f.proc.Stop)
	assert.Equal(t, Idle, f.proc.State())
}

func TestCancelledContextEndsSession(t *testing.T) {
	src := &fakeSource{endless: true}
	opener := &fakeOpener{device: func(int) (stream.FrameSource, error) { return src, nil }}
	f := newFixture(t, &fakeDetector{}, opener)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.proc.StartLiveFeed(ctx))
	cancel()

	assert.Eventually(t, func() bool {
		return f.proc.State() == LiveStopped && src.closes.Load() == 1
	}, 2*time.Second, time.Millisecond)
}

func TestStatsTrackPasses(t *testing.T) {
	opener := &fakeOpener{image: func(string) (stream.FrameSource, error) {
		return &fakeSource{frames: 1}, nil
	}}
	f := newFixture(t, &fakeDetector{}, opener)

	require.NoError(t, f.proc.SelectImage(context.Background(), "x.jpg"))
	assert.GreaterOrEqual(t, f.proc.Stats().Latency, time.Duration(0))
	assert.Zero(t, f.proc.Stats().FPS)
}

type blockingReporter struct {
	nopReporter
	entered chan struct{}
	release chan struct{}
}

func (r *blockingReporter) Failure(error) {
	close(r.entered)
	<-r.release
}

func TestStopWaitsForFailureToSettle(t *testing.T) {
	opener := &fakeOpener{device: func(int) (stream.FrameSource, error) {
		return &fakeSource{endless: true}, nil
	}}
	det := &fakeDetector{err: errors.Wrap(models.ErrDetectorFailure, "inference")}
	f := newFixture(t, det, opener)

	rep := &blockingReporter{entered: make(chan struct{}), release: make(chan struct{})}
	f.proc.Attach(nil, rep)

	require.NoError(t, f.proc.StartLiveFeed(context.Background()))
	<-rep.entered
	assert.Equal(t, Errored, f.proc.State())

	stopped := make(chan struct{})
	go func() {
		f.proc.Stop()
		close(stopped)
	}()

	assert.Never(t, func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(rep.release)
	<-stopped
	assert.Equal(t, LiveStopped, f.proc.State())

	f.proc.Attach(nil, &recordReporter{p: f.proc})
	det.err = nil
	require.NoError(t, f.proc.StartLiveFeed(context.Background()))
	assert.Equal(t, int32(2), opener.deviceOpens.Load())
	f.proc.Stop()
	assert.Equal(t, LiveStopped, f.proc.State())
}
