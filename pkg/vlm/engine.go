// Package vlm classifies dog breeds by prompting a vision-language model.
package vlm

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"sort"

	"github.com/menta2k/breed-camera/internal/log"
	"github.com/menta2k/breed-camera/pkg/classifier"
	"github.com/menta2k/breed-camera/pkg/client"
	"github.com/menta2k/breed-camera/pkg/labels"
	"github.com/menta2k/breed-camera/pkg/prediction"
	"github.com/menta2k/breed-camera/pkg/processing"
)

// ErrBadResponse is returned when the model reply cannot be read
var ErrBadResponse = errors.New("vlm: unreadable model response")

// Config holds configuration for the VLM engine
type Config struct {
	Model string
	// Prompt overrides DefaultPrompt; it must contain one %s for the breed list
	Prompt string
	// MaxImageSize limits the longer side of the image sent to the model
	MaxImageSize int
	// Quality is the JPEG quality of the image sent to the model
	Quality int
	// TopK limits the number of ranked breeds returned
	TopK int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Model:        "llava:7b",
		MaxImageSize: 768,
		Quality:      85,
		TopK:         5,
	}
}

// Engine implements classifier.Engine on top of a VisionClient
type Engine struct {
	client    client.VisionClient
	processor *processing.Processor
	catalog   *labels.List
	config    Config
	prompt    string
	log       *slog.Logger
}

var _ classifier.Engine = (*Engine)(nil)

// New creates an engine that ranks catalog breeds
func New(c client.VisionClient, catalog *labels.List, config Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.Quality <= 0 {
		config.Quality = def.Quality
	}
	if config.TopK <= 0 {
		config.TopK = def.TopK
	}
	tmpl := config.Prompt
	if tmpl == "" {
		tmpl = DefaultPrompt
	}
	if logger == nil {
		logger = log.With("component", "vlm")
	}

	return &Engine{
		client:    c,
		processor: processing.NewProcessor(),
		catalog:   catalog,
		config:    config,
		prompt:    fmt.Sprintf(tmpl, breedList(catalog.Names())),
		log:       logger,
	}
}

// Init checks that the model server is reachable
func (e *Engine) Init(ctx context.Context) error {
	if err := e.client.Ping(ctx); err != nil {
		return fmt.Errorf("vision model unavailable: %w", err)
	}
	e.log.Info("vision model ready", "model", e.config.Model)
	return nil
}

// Classify asks the model for breeds and returns them in wire form, most
// likely first
func (e *Engine) Classify(ctx context.Context, img image.Image) (string, error) {
	b64, err := e.processor.PrepareImageForModel(img, "jpg", e.config.MaxImageSize, e.config.Quality)
	if err != nil {
		return "", fmt.Errorf("failed to prepare image: %w", err)
	}

	raw, err := e.client.SimpleQuery(ctx, e.config.Model, e.prompt, b64)
	if err != nil {
		return "", err
	}

	guesses, err := ParseResponse(raw)
	if err != nil {
		e.log.Debug("unreadable model reply", "reply", raw)
		return "", err
	}
	return prediction.Format(e.rank(guesses)), nil
}

// TestVision asks the model to describe img in free text
func (e *Engine) TestVision(ctx context.Context, img image.Image) (string, error) {
	b64, err := e.processor.PrepareImageForModel(img, "jpg", e.config.MaxImageSize, e.config.Quality)
	if err != nil {
		return "", fmt.Errorf("failed to prepare image: %w", err)
	}
	return e.client.SimpleQuery(ctx, e.config.Model, SimpleTestPrompt, b64)
}

// Close implements classifier.Engine and releases the client when it holds
// a connection
func (e *Engine) Close() error {
	if c, ok := e.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// rank maps guesses onto catalog codes, keeping the best score per breed,
// and sorts them by confidence
func (e *Engine) rank(guesses []Guess) []prediction.Entry {
	best := make(map[string]float64, len(guesses))
	order := make([]string, 0, len(guesses))
	for _, g := range guesses {
		code, ok := e.catalog.Code(g.Breed)
		if !ok {
			e.log.Debug("model named unknown breed", "breed", g.Breed)
			continue
		}
		if math.IsNaN(g.Confidence) {
			continue
		}
		conf := clamp(g.Confidence, 0, 1)
		prev, seen := best[code]
		if !seen {
			order = append(order, code)
		}
		if !seen || conf > prev {
			best[code] = conf
		}
	}

	entries := make([]prediction.Entry, 0, len(order))
	for _, code := range order {
		entries = append(entries, prediction.Entry{Code: code, Confidence: best[code]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Confidence > entries[j].Confidence
	})
	if len(entries) > e.config.TopK {
		entries = entries[:e.config.TopK]
	}
	return entries
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
