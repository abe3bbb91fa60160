// Package capture drives the camera screen: live classification overlays,
// still capture, review, and hand-off of the confirmed payload.
//
// All screen state is owned by the goroutine running Coordinator.Run. Camera
// events, live classifier results, location updates, user actions and the
// result of the still classification worker all arrive over channels and are
// applied there, one at a time.
package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/menta2k/breed-camera/internal/log"
	"github.com/menta2k/breed-camera/pkg/camera"
	"github.com/menta2k/breed-camera/pkg/classifier"
	"github.com/menta2k/breed-camera/pkg/cropper"
	"github.com/menta2k/breed-camera/pkg/labels"
	"github.com/menta2k/breed-camera/pkg/location"
	"github.com/menta2k/breed-camera/pkg/overlay"
	"github.com/menta2k/breed-camera/pkg/prediction"
	"github.com/menta2k/breed-camera/pkg/types"
)

// Options tune a Coordinator. The zero value is usable.
type Options struct {
	// Selection is the normalized square cropped from a still. When zero, the
	// largest centered square of the upright still is used, shrunk by Zoom.
	Selection types.Box
	Zoom      float64
	// ClassifyTimeout bounds the still classification; zero means no bound.
	ClassifyTimeout time.Duration
	// OnShutter is called right before a still is taken
	OnShutter func()
	// Observer is called from the owning goroutine after every state change
	Observer func(Snapshot)

	Logger   *slog.Logger
	Renderer *overlay.Renderer
	Cropper  *cropper.SquareCropper
}

type actionKind int

const (
	actionCapture actionKind = iota
	actionRetake
	actionSave
	actionCancel
)

type request struct {
	kind  actionKind
	reply chan error
}

type stillResult struct {
	generation  uint64
	predictions []types.Prediction
	full        image.Image
	cropped     image.Image
}

// Coordinator is the capture screen controller
type Coordinator struct {
	camera   camera.Camera
	session  *classifier.Session
	catalog  labels.Catalog
	location location.Provider
	delegate Delegate
	opts     Options
	log      *slog.Logger
	renderer *overlay.Renderer
	cropper  *cropper.SquareCropper

	actions chan request
	stills  chan stillResult
	done    chan struct{}
	running atomic.Bool
	snap    atomic.Pointer[Snapshot]

	// owned by Run
	state         State
	payload       types.Payload
	overlays      []overlay.Label
	trigger       bool
	analyzing     bool
	frozen        image.Image
	preview       image.Image
	latest        *types.Coordinate
	generation    uint64
	live          <-chan string
	tornDown      bool
	cancelWorkers context.CancelFunc
}

// New creates a Coordinator. The camera, session and catalog are borrowed;
// the coordinator never closes them.
func New(cam camera.Camera, session *classifier.Session, catalog labels.Catalog, loc location.Provider, delegate Delegate, opts Options) *Coordinator {
	c := &Coordinator{
		camera:   cam,
		session:  session,
		catalog:  catalog,
		location: loc,
		delegate: delegate,
		opts:     opts,
		log:      opts.Logger,
		renderer: opts.Renderer,
		cropper:  opts.Cropper,
		actions:  make(chan request),
		stills:   make(chan stillResult),
		done:     make(chan struct{}),
		state:    StateIdle,
		payload:  types.NewPayload(),
	}
	if c.log == nil {
		c.log = log.With("component", "capture")
	}
	if c.renderer == nil {
		c.renderer = overlay.New()
	}
	if c.cropper == nil {
		c.cropper = cropper.New()
	}
	c.publish()
	return c
}

// Snapshot returns the latest published view of the screen
func (c *Coordinator) Snapshot() Snapshot {
	return *c.snap.Load()
}

// Done is closed once Run has returned
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Capture takes a still. It fails with ErrCaptureInFlight while a previous
// still is being analyzed.
func (c *Coordinator) Capture() error { return c.do(actionCapture) }

// Retake discards the still under review and resumes the preview. Outside
// review it does nothing.
func (c *Coordinator) Retake() error { return c.do(actionRetake) }

// Save confirms the still under review, closes the screen and hands the
// payload to the delegate. Without a known location it returns ErrNoLocation
// and nothing else happens. Outside review it does nothing.
func (c *Coordinator) Save() error { return c.do(actionSave) }

// Cancel closes the screen without saving
func (c *Coordinator) Cancel() error { return c.do(actionCancel) }

// do hands an action to the owning goroutine and waits for its answer
func (c *Coordinator) do(kind actionKind) error {
	if !c.running.Load() {
		return ErrNotRunning
	}
	req := request{kind: kind, reply: make(chan error, 1)}
	select {
	case c.actions <- req:
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-c.done:
		select {
		case err := <-req.reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// Run starts the screen and processes events until the user saves or
// cancels, or ctx is done. It may be called once; actions issued before it
// return ErrNotRunning.
//
// Preview frames are classified on the owning goroutine, so an action waits
// for the frame in progress. With a remote vision model that is a full model
// round trip; Capture and friends can take that long to answer.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	workerCtx, cancel := context.WithCancel(ctx)
	c.cancelWorkers = cancel
	defer cancel()

	if err := c.start(ctx); err != nil {
		c.teardown()
		c.publish()
		return err
	}
	c.publish()

	var locationUpdates <-chan types.Coordinate
	if c.location != nil {
		locationUpdates = c.location.Updates()
	}

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			c.publish()
			return ctx.Err()

		case req := <-c.actions:
			if c.handleAction(req) {
				return nil
			}

		case ev := <-c.camera.Events():
			c.handleCamera(workerCtx, ev)

		case raw := <-c.live:
			c.applyLive(raw)

		case coord := <-locationUpdates:
			where := coord
			c.latest = &where

		case res := <-c.stills:
			c.applyStill(res)
		}
		c.publish()
	}
}

func (c *Coordinator) start(ctx context.Context) error {
	if c.location != nil {
		if err := c.location.RequestPermission(); err != nil {
			c.log.Warn("location permission not granted", "error", err)
		}
	}

	if err := c.session.EnsureInitialized(ctx); err != nil {
		return fmt.Errorf("failed to start classifier: %w", err)
	}
	c.live = c.session.Subscribe()

	if err := c.startCapture(); err != nil {
		return err
	}

	if c.location != nil {
		if err := c.location.StartUpdating(); err != nil {
			c.log.Warn("location updates unavailable", "error", err)
		}
	}
	c.log.Info("capture screen started")
	return nil
}

// startCapture (re)enters the preview: fresh payload, trigger enabled,
// stream running. Bumping the generation orphans any still still in flight.
func (c *Coordinator) startCapture() error {
	c.generation++
	c.payload = types.NewPayload()
	c.frozen = nil
	c.overlays = nil
	c.analyzing = false
	c.trigger = true
	c.state = StatePreviewing

	if err := c.camera.StartStreaming(); err != nil {
		c.log.Error("failed to start camera stream", "error", err)
		return fmt.Errorf("failed to start camera: %w", err)
	}
	return nil
}

func (c *Coordinator) handleAction(req request) (exit bool) {
	switch req.kind {
	case actionCapture:
		req.reply <- c.capture()
		return false

	case actionRetake:
		if c.state != StateReviewing {
			req.reply <- nil
			return false
		}
		c.log.Debug("retake")
		req.reply <- c.startCapture()
		return false

	case actionSave:
		if c.state != StateReviewing {
			req.reply <- nil
			return false
		}
		if c.latest == nil {
			c.log.Warn("save ignored, no location yet")
			req.reply <- ErrNoLocation
			return false
		}
		final, err := c.payload.Complete(c.latest)
		if err != nil {
			req.reply <- err
			return false
		}
		c.state = StateSaved
		c.teardown()
		c.publish()
		req.reply <- nil
		if c.delegate != nil {
			c.delegate.OnPayloadReady(final)
		}
		c.log.Info("payload delivered", "predictions", len(final.Predictions))
		return true

	case actionCancel:
		c.teardown()
		c.publish()
		req.reply <- nil
		return true
	}

	req.reply <- fmt.Errorf("capture: unknown action %d", req.kind)
	return false
}

func (c *Coordinator) capture() error {
	switch {
	case c.state == StateAwaitingStill || (c.state == StatePreviewing && !c.trigger):
		return ErrCaptureInFlight
	case c.state != StatePreviewing:
		return ErrNotPreviewing
	}

	c.trigger = false
	c.analyzing = true
	c.state = StateAwaitingStill

	if err := c.camera.CaptureStill(); err != nil {
		c.log.Warn("still capture failed", "error", err)
		c.analyzing = false
		c.trigger = true
		c.state = StatePreviewing
		return fmt.Errorf("failed to capture still: %w", err)
	}
	return nil
}

func (c *Coordinator) handleCamera(ctx context.Context, ev camera.Event) {
	switch ev.Kind {
	case camera.EventFrame:
		if c.state != StatePreviewing || !c.camera.IsStreaming() {
			return
		}
		c.preview = ev.Image
		c.session.Submit(ctx, ev.Image)

	case camera.EventWillCapture:
		if c.opts.OnShutter != nil {
			c.opts.OnShutter()
		}

	case camera.EventStill:
		if c.state != StateAwaitingStill {
			c.log.Debug("unexpected still ignored", "state", c.state)
			return
		}
		c.camera.StopStreaming()

		full, cropped, err := c.prepareStill(ev)
		if err != nil {
			c.log.Warn("still capture aborted", "error", err)
			if err := c.startCapture(); err != nil {
				c.log.Error("failed to resume preview", "error", err)
			}
			return
		}

		go c.classifyStill(ctx, c.generation, full, cropped)
	}
}

func (c *Coordinator) prepareStill(ev camera.Event) (image.Image, image.Image, error) {
	full, result, err := c.cropper.NormalizeAndCrop(ev.Image, ev.Orientation, c.opts.Selection, c.opts.Zoom)
	if err != nil {
		return nil, nil, err
	}
	return full, result.Image, nil
}

// classifyStill runs off the owning goroutine. Its only way back is the
// stills channel; if the screen is gone the result is dropped.
func (c *Coordinator) classifyStill(ctx context.Context, generation uint64, full, cropped image.Image) {
	if c.opts.ClassifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ClassifyTimeout)
		defer cancel()
	}

	var preds []types.Prediction
	if raw, ok := c.session.Classify(ctx, cropped); ok {
		preds = prediction.Parse(raw, c.catalog)
	}

	select {
	case c.stills <- stillResult{generation: generation, predictions: preds, full: full, cropped: cropped}:
	case <-c.done:
	}
}

func (c *Coordinator) applyStill(res stillResult) {
	if res.generation != c.generation || c.state != StateAwaitingStill {
		c.log.Debug("stale still result dropped", "generation", res.generation, "current", c.generation)
		return
	}

	if len(res.predictions) == 0 {
		c.log.Info("nothing was found")
		if err := c.startCapture(); err != nil {
			c.log.Error("failed to resume preview", "error", err)
		}
		return
	}

	c.analyzing = false
	c.frozen = res.full
	c.overlays = c.renderer.Build(res.predictions, overlay.Review)
	c.payload = types.NewPayload()
	c.payload.Populate(res.predictions, res.full, res.cropped)
	c.state = StateReviewing
}

func (c *Coordinator) applyLive(raw string) {
	if c.state != StatePreviewing || !c.camera.IsStreaming() {
		return
	}
	c.overlays = c.renderer.Build(prediction.Parse(raw, c.catalog), overlay.Live)
}

// teardown releases everything the screen started. It runs at most once.
func (c *Coordinator) teardown() {
	if c.tornDown {
		return
	}
	c.tornDown = true

	c.generation++
	if c.cancelWorkers != nil {
		c.cancelWorkers()
	}
	c.camera.StopStreaming()
	if c.location != nil {
		c.location.StopUpdating()
	}
	c.session.ResetOverlayState()
	c.session.Unsubscribe()
	c.live = nil

	c.overlays = nil
	c.frozen = nil
	c.preview = nil
	c.payload = types.NewPayload()
	c.trigger = false
	c.analyzing = false
	if c.state != StateSaved {
		c.state = StateClosed
	}
	c.log.Info("capture screen closed", "state", c.state)
}

func (c *Coordinator) publish() {
	s := &Snapshot{
		State:          c.state,
		Overlays:       append([]overlay.Label(nil), c.overlays...),
		TriggerEnabled: c.trigger,
		Analyzing:      c.analyzing,
		ReviewControls: c.state == StateReviewing,
		Frozen:         c.frozen,
		Preview:        c.preview,
		PayloadStage:   c.payload.Stage,
		Predictions:    append([]types.Prediction(nil), c.payload.Predictions...),
		Generation:     c.generation,
	}
	if c.latest != nil {
		where := *c.latest
		s.Location = &where
	}
	c.snap.Store(s)

	if c.opts.Observer != nil {
		c.opts.Observer(*s)
	}
}
