// Package sighting stores confirmed captures on disk.
//
// Each sighting gets its own directory named by a random UUID holding the
// full still, the square crop, an annotated copy of the still and a
// record.json describing the predictions and where the photo was taken.
package sighting

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/breed-camera/internal/log"
	"github.com/menta2k/breed-camera/internal/utils"
	"github.com/menta2k/breed-camera/pkg/labels"
	"github.com/menta2k/breed-camera/pkg/overlay"
	"github.com/menta2k/breed-camera/pkg/processing"
	"github.com/menta2k/breed-camera/pkg/types"
)

// RecordFile is the name of the metadata file inside a sighting directory
const RecordFile = "record.json"

var (
	ErrIncomplete = errors.New("sighting: payload is not complete")
	ErrNoOutput   = errors.New("sighting: output directory not set")
)

// Config holds configuration for the recorder
type Config struct {
	Dir      string
	Format   string
	Quality  int
	Lossless bool
	Annotate bool
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Dir:      "./sightings",
		Format:   "webp",
		Quality:  90,
		Annotate: true,
	}
}

// Prediction is a ranked breed as written to record.json
type Prediction struct {
	Label      string  `json:"label"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Record describes one stored sighting
type Record struct {
	ID          string           `json:"id"`
	CapturedAt  time.Time        `json:"captured_at"`
	Location    types.Coordinate `json:"location"`
	Predictions []Prediction     `json:"predictions"`
	Full        string           `json:"full_image"`
	Cropped     string           `json:"cropped_image"`
	Annotated   string           `json:"annotated_image,omitempty"`
	Dir         string           `json:"-"`
}

// Recorder is a capture delegate that writes sightings to disk
type Recorder struct {
	config    Config
	processor *processing.Processor
	renderer  *overlay.Renderer
	log       *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	records []Record
	lastErr error
	saved   chan Record
}

// NewRecorder creates a recorder. A nil renderer selects the default layout.
func NewRecorder(config Config, renderer *overlay.Renderer, logger *slog.Logger) *Recorder {
	def := DefaultConfig()
	if config.Format == "" {
		config.Format = def.Format
	}
	if config.Quality <= 0 {
		config.Quality = def.Quality
	}
	if renderer == nil {
		renderer = overlay.New()
	}
	if logger == nil {
		logger = log.With("component", "sighting")
	}
	return &Recorder{
		config:    config,
		processor: processing.NewProcessor(),
		renderer:  renderer,
		log:       logger,
		now:       time.Now,
		saved:     make(chan Record, 1),
	}
}

// OnPayloadReady stores the payload. Failures are logged and kept for Err.
func (r *Recorder) OnPayloadReady(p types.Payload) {
	rec, err := r.Save(p)
	if err != nil {
		r.log.Error("failed to store sighting", "error", err)
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		return
	}
	r.log.Info("sighting stored", "id", rec.ID, "dir", rec.Dir)

	select {
	case r.saved <- rec:
	default:
	}
}

// Saved delivers records stored through OnPayloadReady; only the first
// unread one is kept
func (r *Recorder) Saved() <-chan Record {
	return r.saved
}

// Records returns the sightings stored so far
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Err returns the last storage failure seen by OnPayloadReady
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Save writes a complete payload to a new sighting directory
func (r *Recorder) Save(p types.Payload) (Record, error) {
	if p.Stage != types.PayloadComplete || p.Location == nil {
		return Record{}, ErrIncomplete
	}
	if p.FullImage == nil || p.CroppedImage == nil {
		return Record{}, fmt.Errorf("%w: missing image", ErrIncomplete)
	}
	if r.config.Dir == "" {
		return Record{}, ErrNoOutput
	}

	id := uuid.NewString()
	dir := filepath.Join(r.config.Dir, id)
	if err := utils.EnsureDir(dir); err != nil {
		return Record{}, fmt.Errorf("failed to create sighting directory: %w", err)
	}

	rec := Record{
		ID:          id,
		CapturedAt:  r.now().UTC(),
		Location:    *p.Location,
		Predictions: make([]Prediction, 0, len(p.Predictions)),
		Dir:         dir,
	}
	for _, pr := range p.Predictions {
		rec.Predictions = append(rec.Predictions, Prediction{
			Label:      pr.Label,
			Name:       labels.Display(pr.Label),
			Confidence: pr.Confidence,
		})
	}

	var err error
	if rec.Full, err = r.saveImage(dir, "full", p.FullImage); err != nil {
		return Record{}, err
	}
	if rec.Cropped, err = r.saveImage(dir, "crop", p.CroppedImage); err != nil {
		return Record{}, err
	}
	if r.config.Annotate {
		annotated := r.renderer.Draw(p.FullImage, r.renderer.Build(p.Predictions, overlay.Review))
		if rec.Annotated, err = r.saveImage(dir, "annotated", annotated); err != nil {
			return Record{}, err
		}
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, RecordFile), data, 0644); err != nil {
		return Record{}, fmt.Errorf("failed to write record: %w", err)
	}

	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	return rec, nil
}

// saveImage writes img as <dir>/<name>.<format> and returns the file name
func (r *Recorder) saveImage(dir, name string, img image.Image) (string, error) {
	path := utils.OutputFilename(dir, "", name, r.config.Format)
	if err := r.processor.SaveImage(img, path, r.config.Format, r.config.Quality, r.config.Lossless); err != nil {
		return "", fmt.Errorf("failed to save %s image: %w", name, err)
	}
	return filepath.Base(path), nil
}

// Load reads the record stored in a sighting directory
func Load(dir string) (Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, RecordFile))
	if err != nil {
		return Record{}, fmt.Errorf("failed to read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to parse record: %w", err)
	}
	rec.Dir = dir
	return rec, nil
}
