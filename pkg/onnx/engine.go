// Package onnx runs an image classifier exported to ONNX through onnxruntime.
//
// The model takes one RGB image as a [1,3,N,N] float tensor and produces one
// score per class. Class i maps to catalog code i.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/menta2k/breed-camera/internal/log"
	"github.com/menta2k/breed-camera/pkg/classifier"
	"github.com/menta2k/breed-camera/pkg/prediction"
)

var (
	ErrBadMetadata = errors.New("onnx: invalid model metadata")
	ErrNotLoaded   = errors.New("onnx: model not loaded")
)

// Config holds configuration for the ONNX engine
type Config struct {
	ModelPath    string
	MetadataPath string
	// LibraryPath points at the onnxruntime shared library; empty uses the
	// platform default
	LibraryPath   string
	TopK          int
	MinConfidence float64
}

// Engine implements classifier.Engine. Inference is serialized because the
// session shares one input and one output tensor.
type Engine struct {
	config Config
	log    *slog.Logger

	mu           sync.Mutex
	meta         Metadata
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

var _ classifier.Engine = (*Engine)(nil)

// New creates an engine; the model is loaded by Init
func New(config Config, logger *slog.Logger) *Engine {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if logger == nil {
		logger = log.With("component", "onnx")
	}
	return &Engine{config: config, log: logger}
}

// Init loads the metadata and the model
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		return nil
	}

	meta, err := LoadMetadata(e.config.MetadataPath)
	if err != nil {
		return err
	}

	if e.config.LibraryPath != "" {
		ort.SetSharedLibraryPath(e.config.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(e.config.ModelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}

	e.meta = meta
	e.session = session
	e.inputTensor = inputTensor
	e.outputTensor = outputTensor
	e.log.Info("model loaded", "path", e.config.ModelPath, "image_size", meta.ImageSize)
	return nil
}

// Classify runs the model over img and returns the top classes in wire form
func (e *Engine) Classify(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return "", ErrNotLoaded
	}
	meta := e.meta
	e.mu.Unlock()

	input := Preprocess(img, meta.ImageSize, meta.Mean, meta.Std)

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return "", ErrNotLoaded
	}
	copy(e.inputTensor.GetData(), input)
	if err := e.session.Run(); err != nil {
		e.mu.Unlock()
		return "", fmt.Errorf("inference failed: %w", err)
	}
	scores := append([]float32(nil), e.outputTensor.GetData()...)
	e.mu.Unlock()

	if meta.Logits {
		scores = Softmax(scores)
	}
	return prediction.Format(TopK(scores, e.config.TopK, e.config.MinConfidence)), nil
}

// Close releases the session and the runtime environment
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil
	}
	var errs []error
	if err := e.session.Destroy(); err != nil {
		errs = append(errs, err)
	}
	if err := e.inputTensor.Destroy(); err != nil {
		errs = append(errs, err)
	}
	if err := e.outputTensor.Destroy(); err != nil {
		errs = append(errs, err)
	}
	e.session, e.inputTensor, e.outputTensor = nil, nil, nil

	if err := ort.DestroyEnvironment(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
