package camera

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/menta2k/breed-camera/internal/utils"
	"github.com/menta2k/breed-camera/pkg/cropper"
	"github.com/menta2k/breed-camera/pkg/processing"
)

// ReplayConfig controls a Replay camera
type ReplayConfig struct {
	// Framerate is the number of preview frames per second
	Framerate int
	// Orientation is reported with every still
	Orientation cropper.Orientation
	// Buffer is the capacity of the event channel
	Buffer int
}

// DefaultReplayConfig streams three frames per second, like the phone preview
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		Framerate:   3,
		Orientation: cropper.OrientationUp,
		Buffer:      4,
	}
}

// Replay is a Camera that cycles through a fixed list of frames. Preview
// frames are dropped when the consumer falls behind; stills never are.
type Replay struct {
	frames []image.Image
	config ReplayConfig
	events chan Event

	mu        sync.Mutex
	streaming bool
	pending   bool
	next      int
	current   image.Image
	stop      chan struct{}
	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// NewReplay creates a replay camera over frames
func NewReplay(frames []image.Image, config ReplayConfig) (*Replay, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	if config.Framerate <= 0 {
		config.Framerate = DefaultReplayConfig().Framerate
	}
	if config.Buffer <= 0 {
		config.Buffer = DefaultReplayConfig().Buffer
	}
	return &Replay{
		frames:  frames,
		config:  config,
		events:  make(chan Event, config.Buffer),
		current: frames[0],
		closed:  make(chan struct{}),
	}, nil
}

// LoadReplay loads every image under source, in lexical order. A source
// starting with http:// or https:// is fetched once as a single snapshot
// frame.
func LoadReplay(ctx context.Context, source string, proc *processing.Processor, config ReplayConfig) (*Replay, error) {
	paths := []string{source}
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		var err error
		paths, err = utils.ListImageFiles(source)
		if err != nil {
			return nil, fmt.Errorf("failed to list frames: %w", err)
		}
	}
	frames := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := proc.LoadImageSmart(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to load frame %s: %w", p, err)
		}
		frames = append(frames, img)
	}
	return NewReplay(frames, config)
}

// Events returns the event channel
func (r *Replay) Events() <-chan Event {
	return r.events
}

// StartStreaming begins delivering preview frames. Calling it while already
// streaming is a no-op.
func (r *Replay) StartStreaming() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.closed:
		return ErrCameraStopped
	default:
	}
	if r.streaming {
		return nil
	}

	r.streaming = true
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go r.stream(r.stop)
	return nil
}

// StopStreaming stops preview frames; safe to call when not streaming
func (r *Replay) StopStreaming() {
	r.mu.Lock()
	if !r.streaming {
		r.mu.Unlock()
		return
	}
	r.streaming = false
	close(r.stop)
	r.mu.Unlock()

	r.wg.Wait()
}

// IsStreaming reports whether preview frames are being delivered
func (r *Replay) IsStreaming() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streaming
}

// CaptureStill takes the frame currently on screen as a still. Only one
// still may be pending at a time.
func (r *Replay) CaptureStill() error {
	r.mu.Lock()
	select {
	case <-r.closed:
		r.mu.Unlock()
		return ErrCameraStopped
	default:
	}
	if r.pending {
		r.mu.Unlock()
		return ErrStillPending
	}
	r.pending = true
	still := r.current
	r.mu.Unlock()

	go r.deliverStill(still)
	return nil
}

// Close stops streaming and abandons any pending still
func (r *Replay) Close() error {
	r.StopStreaming()
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

func (r *Replay) stream(stop <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(r.config.Framerate))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame := r.advance()
			select {
			case r.events <- Event{Kind: EventFrame, Image: frame}:
			default:
			}
		}
	}
}

func (r *Replay) advance() image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = r.frames[r.next]
	r.next = (r.next + 1) % len(r.frames)
	return r.current
}

func (r *Replay) deliverStill(still image.Image) {
	defer func() {
		r.mu.Lock()
		r.pending = false
		r.mu.Unlock()
	}()

	for _, ev := range []Event{
		{Kind: EventWillCapture},
		{Kind: EventStill, Image: still, Orientation: r.config.Orientation},
	} {
		select {
		case r.events <- ev:
		case <-r.closed:
			return
		}
	}
}
