package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/menta2k/breed-camera/internal/log"
	"github.com/menta2k/breed-camera/pkg/camera"
	"github.com/menta2k/breed-camera/pkg/classifier"
	"github.com/menta2k/breed-camera/pkg/cropper"
	"github.com/menta2k/breed-camera/pkg/labels"
	"github.com/menta2k/breed-camera/pkg/location"
	"github.com/menta2k/breed-camera/pkg/overlay"
	"github.com/menta2k/breed-camera/pkg/types"
)

const tenBreeds = "0.30-0,0.20-1,0.15-2,0.10-3,0.08-4,0.06-5,0.04-6,0.03-7,0.02-8,0.01-9"

// fakeCamera is driven by the test: it never produces events on its own
type fakeCamera struct {
	mu         sync.Mutex
	streaming  bool
	starts     int
	stops      int
	stills     int
	captureErr error
	events     chan camera.Event
}

func newFakeCamera() *fakeCamera {
	return &fakeCamera{events: make(chan camera.Event, 16)}
}

func (f *fakeCamera) StartStreaming() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = true
	f.starts++
	return nil
}

func (f *fakeCamera) StopStreaming() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = false
	f.stops++
}

func (f *fakeCamera) IsStreaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaming
}

func (f *fakeCamera) CaptureStill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return f.captureErr
	}
	f.stills++
	return nil
}

func (f *fakeCamera) Events() <-chan camera.Event { return f.events }

func (f *fakeCamera) stillCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stills
}

func (f *fakeCamera) frame(img image.Image) {
	f.events <- camera.Event{Kind: camera.EventFrame, Image: img}
}

func (f *fakeCamera) still(img image.Image) {
	f.events <- camera.Event{Kind: camera.EventWillCapture}
	f.events <- camera.Event{Kind: camera.EventStill, Image: img, Orientation: cropper.OrientationUp}
}

type recordingDelegate struct {
	mu       sync.Mutex
	payloads []types.Payload
}

func (d *recordingDelegate) OnPayloadReady(p types.Payload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads = append(d.payloads, p)
}

func (d *recordingDelegate) received() []types.Payload {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]types.Payload(nil), d.payloads...)
}

type harness struct {
	cam      *fakeCamera
	engine   *classifier.Mock
	session  *classifier.Session
	feed     *location.Feed
	delegate *recordingDelegate
	coord    *Coordinator
	runErr   chan error
	cancel   context.CancelFunc
}

func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 90, 255})
		}
	}
	return img
}

func newHarness(t *testing.T, engine *classifier.Mock, opts Options) *harness {
	t.Helper()

	h := &harness{
		cam:      newFakeCamera(),
		engine:   engine,
		session:  classifier.NewSession(engine, log.Discard()),
		feed:     location.NewFeed(location.FeedConfig{}),
		delegate: &recordingDelegate{},
		runErr:   make(chan error, 1),
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	h.coord = New(h.cam, h.session, labels.Default(), h.feed, h.delegate, opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.coord.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-h.coord.Done()
		_ = h.session.Shutdown()
	})

	h.waitFor(t, "previewing", func(s Snapshot) bool { return s.State == StatePreviewing })
	return h
}

func (h *harness) waitFor(t *testing.T, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := h.coord.Snapshot(); cond(s) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, last snapshot: %+v", what, h.coord.Snapshot())
	return Snapshot{}
}

// review drives the screen from preview to review
func (h *harness) review(t *testing.T) Snapshot {
	t.Helper()
	if err := h.coord.Capture(); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	h.cam.still(createTestImage(400, 300))
	return h.waitFor(t, "reviewing", func(s Snapshot) bool { return s.State == StateReviewing })
}

func TestStartup(t *testing.T) {
	engine := classifier.NewMock("")
	h := newHarness(t, engine, Options{})

	s := h.coord.Snapshot()
	if !s.TriggerEnabled {
		t.Error("trigger should be enabled while previewing")
	}
	if s.Analyzing || s.ReviewControls {
		t.Error("indicator and review controls should be hidden while previewing")
	}
	if s.PayloadStage != types.PayloadEmpty {
		t.Errorf("PayloadStage = %v, want empty", s.PayloadStage)
	}
	if !h.cam.IsStreaming() {
		t.Error("camera should be streaming")
	}
	if engine.InitCount() != 1 {
		t.Errorf("engine initialized %d times, want 1", engine.InitCount())
	}
}

func TestRunTwice(t *testing.T) {
	h := newHarness(t, classifier.NewMock(""), Options{})
	if err := h.coord.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestActionsBeforeRun(t *testing.T) {
	cam := newFakeCamera()
	session := classifier.NewSession(classifier.NewMock(""), log.Discard())
	c := New(cam, session, labels.Default(), nil, nil, Options{Logger: log.Discard()})

	actions := map[string]func() error{
		"capture": c.Capture,
		"retake":  c.Retake,
		"save":    c.Save,
		"cancel":  c.Cancel,
	}
	for name, action := range actions {
		errc := make(chan error, 1)
		go func() { errc <- action() }()
		select {
		case err := <-errc:
			if !errors.Is(err, ErrNotRunning) {
				t.Errorf("%s before Run: error = %v, want ErrNotRunning", name, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s before Run blocked", name)
		}
	}
	if s := c.Snapshot(); s.State != StateIdle {
		t.Errorf("state = %s, want idle", s.State)
	}
}

func TestInitFailureStopsScreen(t *testing.T) {
	engine := classifier.NewMock("")
	engine.InitFunc = func(ctx context.Context) error { return errors.New("no model") }

	cam := newFakeCamera()
	session := classifier.NewSession(engine, log.Discard())
	c := New(cam, session, labels.Default(), nil, nil, Options{Logger: log.Discard()})

	if err := c.Run(context.Background()); err == nil {
		t.Fatal("Run() should fail when the engine cannot start")
	}
	if cam.IsStreaming() {
		t.Error("camera should not be streaming")
	}
	if err := c.Capture(); !errors.Is(err, ErrClosed) {
		t.Errorf("Capture() after failed start error = %v, want ErrClosed", err)
	}
}

func TestLivePredictionsReplaceOverlays(t *testing.T) {
	engine := classifier.NewMock(tenBreeds)
	h := newHarness(t, engine, Options{})

	h.cam.frame(createTestImage(64, 64))
	s := h.waitFor(t, "live overlays", func(s Snapshot) bool { return len(s.Overlays) > 0 })

	if len(s.Overlays) != overlay.MaxLabels {
		t.Fatalf("got %d overlays, want %d", len(s.Overlays), overlay.MaxLabels)
	}
	for i, l := range s.Overlays {
		if l.Theme != overlay.Live {
			t.Errorf("overlay %d theme = %q, want live", i, l.Theme.Name)
		}
		if l.Slot != i {
			t.Errorf("overlay %d slot = %d", i, l.Slot)
		}
	}
	if s.Preview == nil {
		t.Error("latest preview frame missing")
	}
	if s.Overlays[0].Text != "30% Chihuahua" {
		t.Errorf("first overlay = %q", s.Overlays[0].Text)
	}

	engine.SetResult("")
	h.cam.frame(createTestImage(64, 64))
	h.waitFor(t, "overlays cleared", func(s Snapshot) bool { return len(s.Overlays) == 0 })
}

func TestLiveResultsIgnoredWhileAwaitingStill(t *testing.T) {
	engine := classifier.NewMock("0.9-0")
	h := newHarness(t, engine, Options{})

	if err := h.coord.Capture(); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	h.cam.frame(createTestImage(64, 64))
	for len(h.cam.events) > 0 {
		time.Sleep(time.Millisecond)
	}

	// the loop finishes the frame before serving the next action
	if err := h.coord.Retake(); err != nil {
		t.Fatalf("Retake() error = %v", err)
	}
	if got := engine.CallCount(); got != 0 {
		t.Errorf("frames classified while awaiting still: %d", got)
	}
	if s := h.coord.Snapshot(); len(s.Overlays) != 0 {
		t.Errorf("overlays changed while awaiting still: %+v", s.Overlays)
	}
}

func TestCaptureToReview(t *testing.T) {
	var shutters int
	var mu sync.Mutex
	engine := classifier.NewMock(tenBreeds)
	h := newHarness(t, engine, Options{OnShutter: func() {
		mu.Lock()
		shutters++
		mu.Unlock()
	}})

	if err := h.coord.Capture(); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	s := h.coord.Snapshot()
	if s.State != StateAwaitingStill || s.TriggerEnabled || !s.Analyzing {
		t.Fatalf("after Capture: state=%v trigger=%v analyzing=%v", s.State, s.TriggerEnabled, s.Analyzing)
	}

	h.cam.still(createTestImage(400, 300))
	s = h.waitFor(t, "reviewing", func(s Snapshot) bool { return s.State == StateReviewing })

	if !s.ReviewControls {
		t.Error("review controls should be visible")
	}
	if s.Analyzing || s.TriggerEnabled {
		t.Error("indicator and trigger should be hidden in review")
	}
	if s.Frozen == nil {
		t.Error("frozen still missing")
	}
	if s.PayloadStage != types.PayloadPartial {
		t.Errorf("PayloadStage = %v, want partial", s.PayloadStage)
	}
	if len(s.Predictions) != 10 {
		t.Errorf("payload has %d predictions, want 10", len(s.Predictions))
	}
	if len(s.Overlays) != overlay.MaxLabels {
		t.Errorf("review shows %d overlays, want %d", len(s.Overlays), overlay.MaxLabels)
	}
	for _, l := range s.Overlays {
		if l.Theme != overlay.Review {
			t.Errorf("overlay theme = %q, want review", l.Theme.Name)
		}
	}
	if h.cam.IsStreaming() {
		t.Error("stream should be stopped during review")
	}

	cropped := engine.LastImage()
	if cropped == nil || cropped.Bounds().Dx() != cropped.Bounds().Dy() {
		t.Error("engine should see a square crop")
	} else if cropped.Bounds().Dx() != 300 {
		t.Errorf("crop side = %d, want 300", cropped.Bounds().Dx())
	}

	mu.Lock()
	defer mu.Unlock()
	if shutters != 1 {
		t.Errorf("shutter hook called %d times, want 1", shutters)
	}
}

func TestDoubleCaptureRejected(t *testing.T) {
	engine := classifier.NewMock(tenBreeds)
	h := newHarness(t, engine, Options{})

	if err := h.coord.Capture(); err != nil {
		t.Fatalf("first Capture() error = %v", err)
	}
	if err := h.coord.Capture(); !errors.Is(err, ErrCaptureInFlight) {
		t.Errorf("second Capture() error = %v, want ErrCaptureInFlight", err)
	}
	if got := h.cam.stillCount(); got != 1 {
		t.Errorf("camera asked for %d stills, want 1", got)
	}
}

func TestCaptureInReviewRejected(t *testing.T) {
	h := newHarness(t, classifier.NewMock(tenBreeds), Options{})
	h.review(t)

	if err := h.coord.Capture(); !errors.Is(err, ErrNotPreviewing) {
		t.Errorf("Capture() in review error = %v, want ErrNotPreviewing", err)
	}
}

func TestCameraCaptureFailure(t *testing.T) {
	h := newHarness(t, classifier.NewMock(tenBreeds), Options{})
	h.cam.mu.Lock()
	h.cam.captureErr = errors.New("busy")
	h.cam.mu.Unlock()

	if err := h.coord.Capture(); err == nil {
		t.Fatal("Capture() should report camera failure")
	}
	s := h.coord.Snapshot()
	if s.State != StatePreviewing || !s.TriggerEnabled || s.Analyzing {
		t.Errorf("after failed capture: %+v", s)
	}
}

func TestStillFailureReturnsToPreview(t *testing.T) {
	engine := classifier.NewMock(tenBreeds)
	h := newHarness(t, engine, Options{})

	if err := h.coord.Capture(); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	h.cam.still(nil)

	s := h.waitFor(t, "preview after failed still", func(s Snapshot) bool {
		return s.State == StatePreviewing && s.TriggerEnabled
	})
	if s.Analyzing {
		t.Error("analyzing indicator should be hidden")
	}
	if !h.cam.IsStreaming() {
		t.Error("stream should resume")
	}
	if engine.CallCount() != 0 {
		t.Error("classifier should not run on a failed still")
	}
}

func TestCropFailureReturnsToPreview(t *testing.T) {
	// a selection outside the frame leaves nothing to crop
	h := newHarness(t, classifier.NewMock(tenBreeds), Options{
		Selection: types.Box{X: 2, Y: 2, W: 0.5, H: 0.5},
	})

	if err := h.coord.Capture(); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	h.cam.still(createTestImage(400, 300))

	h.waitFor(t, "preview after crop failure", func(s Snapshot) bool {
		return s.State == StatePreviewing && s.TriggerEnabled && !s.Analyzing
	})
	if h.engine.CallCount() != 0 {
		t.Error("classifier should not run when the crop fails")
	}
}

func TestEmptyStillResultReturnsToPreview(t *testing.T) {
	for _, result := range []string{"", "garbage,1.5-0,x-1"} {
		t.Run(result, func(t *testing.T) {
			engine := classifier.NewMock(result)
			h := newHarness(t, engine, Options{})

			if err := h.coord.Capture(); err != nil {
				t.Fatalf("Capture() error = %v", err)
			}
			h.cam.still(createTestImage(400, 300))

			h.waitFor(t, "classifier ran", func(Snapshot) bool { return engine.CallCount() == 1 })
			s := h.waitFor(t, "preview", func(s Snapshot) bool {
				return s.State == StatePreviewing && s.TriggerEnabled
			})
			if s.PayloadStage != types.PayloadEmpty {
				t.Errorf("PayloadStage = %v, want empty", s.PayloadStage)
			}
			if s.ReviewControls {
				t.Error("review controls should stay hidden")
			}
		})
	}
}

func TestRetakeOutsideReviewIsNoop(t *testing.T) {
	h := newHarness(t, classifier.NewMock(""), Options{})
	before := h.coord.Snapshot()

	if err := h.coord.Retake(); err != nil {
		t.Fatalf("Retake() error = %v", err)
	}
	after := h.coord.Snapshot()
	if after.State != before.State || after.Generation != before.Generation {
		t.Errorf("Retake changed state: %+v -> %+v", before, after)
	}
}

func TestRetakeResumesPreview(t *testing.T) {
	h := newHarness(t, classifier.NewMock(tenBreeds), Options{})
	h.review(t)

	if err := h.coord.Retake(); err != nil {
		t.Fatalf("Retake() error = %v", err)
	}
	s := h.coord.Snapshot()
	if s.State != StatePreviewing || !s.TriggerEnabled {
		t.Errorf("after Retake: state=%v trigger=%v", s.State, s.TriggerEnabled)
	}
	if s.Frozen != nil || s.ReviewControls {
		t.Error("still and review controls should be discarded")
	}
	if s.PayloadStage != types.PayloadEmpty {
		t.Errorf("PayloadStage = %v, want empty", s.PayloadStage)
	}
	if !h.cam.IsStreaming() {
		t.Error("stream should resume")
	}
	if len(h.delegate.received()) != 0 {
		t.Error("delegate should not be called on retake")
	}
}

func TestSaveOutsideReviewIsNoop(t *testing.T) {
	h := newHarness(t, classifier.NewMock(""), Options{})

	if err := h.coord.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if s := h.coord.Snapshot(); s.State != StatePreviewing {
		t.Errorf("State = %v, want previewing", s.State)
	}
	if len(h.delegate.received()) != 0 {
		t.Error("delegate should not be called")
	}
}

func TestSaveWithoutLocation(t *testing.T) {
	h := newHarness(t, classifier.NewMock(tenBreeds), Options{})
	h.review(t)

	if err := h.coord.Save(); !errors.Is(err, ErrNoLocation) {
		t.Fatalf("Save() error = %v, want ErrNoLocation", err)
	}
	s := h.coord.Snapshot()
	if s.State != StateReviewing || s.PayloadStage != types.PayloadPartial {
		t.Errorf("after failed Save: state=%v stage=%v", s.State, s.PayloadStage)
	}
	if len(h.delegate.received()) != 0 {
		t.Error("delegate should not be called without a location")
	}
}

func TestSaveDeliversPayloadOnce(t *testing.T) {
	h := newHarness(t, classifier.NewMock(tenBreeds), Options{})

	where := types.Coordinate{Latitude: 42.6977, Longitude: 23.3219}
	if !h.feed.Publish(where) {
		t.Fatal("location feed should be updating")
	}
	h.waitFor(t, "location", func(s Snapshot) bool { return s.Location != nil })
	h.review(t)

	if err := h.coord.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := <-h.runErr; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if err := h.coord.Save(); !errors.Is(err, ErrClosed) {
		t.Errorf("Save() after close error = %v, want ErrClosed", err)
	}

	got := h.delegate.received()
	if len(got) != 1 {
		t.Fatalf("delegate called %d times, want 1", len(got))
	}
	p := got[0]
	if p.Stage != types.PayloadComplete {
		t.Errorf("Stage = %v, want complete", p.Stage)
	}
	if len(p.Predictions) != 10 || p.Predictions[0].Label != "chihuahua" {
		t.Errorf("Predictions = %+v", p.Predictions)
	}
	if p.FullImage == nil || p.CroppedImage == nil {
		t.Error("payload images missing")
	}
	if p.Location == nil || *p.Location != where {
		t.Errorf("Location = %v, want %v", p.Location, where)
	}

	s := h.coord.Snapshot()
	if s.State != StateSaved {
		t.Errorf("State = %v, want saved", s.State)
	}
	if len(s.Overlays) != 0 {
		t.Error("overlays should be cleared on teardown")
	}
	if h.cam.IsStreaming() || h.feed.Updating() {
		t.Error("camera and location should be stopped")
	}
}

func TestCancelTearsDown(t *testing.T) {
	engine := classifier.NewMock(tenBreeds)
	h := newHarness(t, engine, Options{})

	h.cam.frame(createTestImage(64, 64))
	h.waitFor(t, "live overlays", func(s Snapshot) bool { return len(s.Overlays) > 0 })

	if err := h.coord.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := <-h.runErr; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	s := h.coord.Snapshot()
	if s.State != StateClosed || len(s.Overlays) != 0 || s.TriggerEnabled {
		t.Errorf("after Cancel: %+v", s)
	}
	if engine.ResetCount() != 1 {
		t.Errorf("overlay state reset %d times, want 1", engine.ResetCount())
	}
	if h.cam.IsStreaming() {
		t.Error("camera should be stopped")
	}
	if err := h.coord.Cancel(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Cancel() error = %v, want ErrClosed", err)
	}
}

func TestTeardownDuringClassification(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	engine := classifier.NewMock("")
	engine.ClassifyFunc = func(ctx context.Context, img image.Image) (string, error) {
		close(started)
		<-release
		return tenBreeds, nil
	}
	h := newHarness(t, engine, Options{})

	if err := h.coord.Capture(); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	h.cam.still(createTestImage(400, 300))
	<-started

	if err := h.coord.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	<-h.coord.Done()
	before := h.coord.Snapshot()

	close(release)
	time.Sleep(50 * time.Millisecond)

	after := h.coord.Snapshot()
	if after.State != StateClosed || after.Generation != before.Generation {
		t.Errorf("late result changed the screen: %+v", after)
	}
	if len(after.Overlays) != 0 || after.PayloadStage != types.PayloadEmpty || after.ReviewControls {
		t.Errorf("late result applied after teardown: %+v", after)
	}
	if len(h.delegate.received()) != 0 {
		t.Error("delegate should not be called")
	}
}

func TestContextCancelTearsDown(t *testing.T) {
	h := newHarness(t, classifier.NewMock(""), Options{})
	h.cancel()

	if err := <-h.runErr; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if s := h.coord.Snapshot(); s.State != StateClosed {
		t.Errorf("State = %v, want closed", s.State)
	}
	if h.cam.IsStreaming() {
		t.Error("camera should be stopped")
	}
}

func TestClassifyTimeout(t *testing.T) {
	engine := classifier.NewMock("")
	engine.ClassifyFunc = func(ctx context.Context, img image.Image) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	h := newHarness(t, engine, Options{ClassifyTimeout: 20 * time.Millisecond})

	if err := h.coord.Capture(); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	h.cam.still(createTestImage(400, 300))

	h.waitFor(t, "classifier ran", func(Snapshot) bool { return engine.CallCount() == 1 })
	h.waitFor(t, "preview after timeout", func(s Snapshot) bool {
		return s.State == StatePreviewing && s.TriggerEnabled
	})
}

func TestObserverSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	seen := map[State]bool{}
	h := newHarness(t, classifier.NewMock(tenBreeds), Options{Observer: func(s Snapshot) {
		mu.Lock()
		seen[s.State] = true
		mu.Unlock()
	}})
	h.review(t)

	mu.Lock()
	defer mu.Unlock()
	for _, st := range []State{StateIdle, StatePreviewing, StateAwaitingStill, StateReviewing} {
		if !seen[st] {
			t.Errorf("observer never saw %v", st)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:          "idle",
		StatePreviewing:    "previewing",
		StateAwaitingStill: "awaiting_still",
		StateReviewing:     "reviewing",
		StateSaved:         "saved",
		StateClosed:        "closed",
		State(42):          "unknown",
	}
	for st, want := range tests {
		if got := st.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", st, got, want)
		}
	}
}

func TestDelegateFunc(t *testing.T) {
	var got types.Payload
	var d Delegate = DelegateFunc(func(p types.Payload) { got = p })
	d.OnPayloadReady(types.Payload{Stage: types.PayloadComplete})
	if got.Stage != types.PayloadComplete {
		t.Error("DelegateFunc did not forward the payload")
	}
}
