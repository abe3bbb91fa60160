// Package breedcamera assembles the dog-breed camera screen.
//
// The screen streams preview frames through a classifier and shows the top
// breeds over the preview. When the user takes a photo, the still is turned
// upright, a square is cut from it and classified, and the ranked breeds are
// shown over the frozen still for review. Confirming hands a payload with the
// still, the crop, the predictions and the current location to a delegate.
//
// Basic usage:
//
//	cfg := config.Default()
//	cfg.Classifier.Backend = "ollama"
//
//	app, err := breedcamera.New(cfg, breedcamera.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer app.Close()
//
//	go app.Run(ctx)
//	// drive the screen through app.Coordinator(): Capture, Retake, Save, Cancel
//
// The package consists of these main components:
//
// 1. Capture (pkg/capture): the screen state machine
// 2. Classifier (pkg/classifier): the engine handle, with backends in pkg/vlm
// (Ollama, llama.cpp or Gemini vision models) and pkg/onnx (on-device model)
// 3. Camera and Location (pkg/camera, pkg/location): the device inputs
// 4. Overlay (pkg/overlay): prediction rows over the preview
// 5. Sighting (pkg/sighting): the default delegate, storing sightings on disk
// 6. Web (pkg/web): HTTP view and controls for a headless screen
package breedcamera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/menta2k/breed-camera/internal/config"
	"github.com/menta2k/breed-camera/internal/log"
	"github.com/menta2k/breed-camera/pkg/camera"
	"github.com/menta2k/breed-camera/pkg/capture"
	"github.com/menta2k/breed-camera/pkg/classifier"
	"github.com/menta2k/breed-camera/pkg/client"
	"github.com/menta2k/breed-camera/pkg/cropper"
	"github.com/menta2k/breed-camera/pkg/gemini"
	"github.com/menta2k/breed-camera/pkg/labels"
	"github.com/menta2k/breed-camera/pkg/llamacpp"
	"github.com/menta2k/breed-camera/pkg/location"
	"github.com/menta2k/breed-camera/pkg/ollama"
	"github.com/menta2k/breed-camera/pkg/onnx"
	"github.com/menta2k/breed-camera/pkg/overlay"
	"github.com/menta2k/breed-camera/pkg/processing"
	"github.com/menta2k/breed-camera/pkg/sighting"
	"github.com/menta2k/breed-camera/pkg/types"
	"github.com/menta2k/breed-camera/pkg/vlm"
	"github.com/menta2k/breed-camera/pkg/web"
)

// Version of the breed camera library
const Version = "1.0.0"

// Options replace parts built from the configuration. Zero values select the
// configured defaults.
type Options struct {
	Camera    camera.Camera
	Engine    classifier.Engine
	Location  location.Provider
	Delegate  capture.Delegate
	Observer  func(capture.Snapshot)
	OnShutter func()
	Logger    *slog.Logger
}

// App owns everything the capture screen needs
type App struct {
	config      *config.Config
	catalog     *labels.List
	session     *classifier.Session
	camera      camera.Camera
	location    location.Provider
	renderer    *overlay.Renderer
	recorder    *sighting.Recorder
	coordinator *capture.Coordinator
	log         *slog.Logger

	closeOnce sync.Once
	closeErr  error
	closers   []func() error
}

// New builds an App from cfg
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.L()
	}

	a := &App{config: cfg, log: logger}

	catalog, err := LoadCatalog(cfg.Classifier.LabelsPath)
	if err != nil {
		return nil, err
	}
	a.catalog = catalog

	engine := opts.Engine
	if engine == nil {
		engine, err = NewEngine(cfg.Classifier, catalog, logger)
		if err != nil {
			return nil, err
		}
	}
	a.session = classifier.NewSession(engine, logger.With("component", "classifier"))

	a.camera = opts.Camera
	if a.camera == nil {
		replay, err := camera.LoadReplay(context.Background(), cfg.Camera.FramesDir, processing.NewProcessor(), camera.ReplayConfig{
			Framerate:   cfg.Camera.Framerate,
			Orientation: cropper.Orientation(cfg.Camera.Orientation),
			Buffer:      cfg.Camera.Buffer,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open camera: %w", err)
		}
		a.camera = replay
		a.closers = append(a.closers, replay.Close)
	}

	a.location = opts.Location
	if a.location == nil && cfg.Location.Enabled {
		a.location = location.NewStatic(cfg.Location.Latitude, cfg.Location.Longitude)
	}

	a.renderer = overlay.NewWithLayout(overlay.Layout{
		Width:        cfg.Overlay.Width,
		TopInset:     cfg.Overlay.TopInset,
		HeaderHeight: cfg.Overlay.HeaderHeight,
		RowHeight:    cfg.Overlay.RowHeight,
	})

	delegate := opts.Delegate
	if delegate == nil {
		a.recorder = sighting.NewRecorder(sighting.Config{
			Dir:      cfg.Output.Dir,
			Format:   cfg.Output.Format,
			Quality:  cfg.Output.Quality,
			Lossless: cfg.Output.Lossless,
			Annotate: cfg.Output.Annotate,
		}, a.renderer, logger.With("component", "sighting"))
		delegate = a.recorder
	}

	a.coordinator = capture.New(a.camera, a.session, catalog, a.location, delegate, capture.Options{
		Selection: types.Box{
			X: cfg.Selection.X,
			Y: cfg.Selection.Y,
			W: cfg.Selection.W,
			H: cfg.Selection.H,
		},
		Zoom:            cfg.Selection.Zoom,
		ClassifyTimeout: cfg.ClassifyTimeout(),
		OnShutter:       opts.OnShutter,
		Observer:        opts.Observer,
		Logger:          logger.With("component", "capture"),
		Renderer:        a.renderer,
		Cropper: cropper.NewWithConfig(cropper.CropConfig{
			MinImageSize: cfg.Selection.MinImageSize,
			OutputSize:   cfg.Selection.OutputSize,
		}),
	})

	return a, nil
}

// LoadCatalog reads the label list at path, or the bundled breed list when
// path is empty
func LoadCatalog(path string) (*labels.List, error) {
	if path == "" {
		return labels.Default(), nil
	}
	catalog, err := labels.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}
	return catalog, nil
}

// NewVisionClient creates the transport for a vision-language-model backend
func NewVisionClient(cfg config.ClassifierConfig) (client.VisionClient, error) {
	switch cfg.Backend {
	case "ollama":
		c, err := ollama.NewClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case "llamacpp":
		c, err := llamacpp.NewClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	case "gemini":
		c, err := gemini.NewClient(context.Background(), cfg.ResolveAPIKey(), cfg.URL)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown vision backend: %s", cfg.Backend)
	}
}

// NewEngine creates the classifier engine selected by cfg.Backend
func NewEngine(cfg config.ClassifierConfig, catalog *labels.List, logger *slog.Logger) (classifier.Engine, error) {
	switch cfg.Backend {
	case "ollama", "llamacpp", "gemini":
		c, err := NewVisionClient(cfg)
		if err != nil {
			return nil, err
		}
		return vlm.New(c, catalog, vlm.Config{
			Model:        cfg.Model,
			MaxImageSize: cfg.MaxImageSize,
			Quality:      cfg.Quality,
			TopK:         cfg.TopK,
		}, logger.With("component", "vlm")), nil
	case "onnx":
		return onnx.New(onnx.Config{
			ModelPath:     cfg.ModelPath,
			MetadataPath:  cfg.MetadataPath,
			LibraryPath:   cfg.LibraryPath,
			TopK:          cfg.TopK,
			MinConfidence: cfg.MinConfidence,
		}, logger.With("component", "onnx")), nil
	case "mock":
		return classifier.NewMock(cfg.MockResult), nil
	default:
		return nil, fmt.Errorf("unknown classifier backend: %s", cfg.Backend)
	}
}

// ErrNoVisionModel is returned by DescribeImage for backends that do not
// take a prompt
var ErrNoVisionModel = errors.New("breedcamera: backend is not a vision model")

// DescribeImage asks the configured vision model what it sees in the image
// at source (a path or URL). It checks that a model accepts images before a
// screen is started.
func DescribeImage(ctx context.Context, cfg config.ClassifierConfig, source string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = log.L()
	}
	catalog, err := LoadCatalog(cfg.LabelsPath)
	if err != nil {
		return "", err
	}
	engine, err := NewEngine(cfg, catalog, logger)
	if err != nil {
		return "", err
	}
	defer engine.Close()

	model, ok := engine.(*vlm.Engine)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoVisionModel, cfg.Backend)
	}

	img, err := processing.NewProcessor().LoadImageSmart(ctx, source)
	if err != nil {
		return "", fmt.Errorf("failed to load image: %w", err)
	}
	if err := model.Init(ctx); err != nil {
		return "", err
	}
	return model.TestVision(ctx, img)
}

// Run shows the capture screen until it is saved, cancelled or ctx is done
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting capture screen", "version", Version, "backend", a.config.Classifier.Backend)
	return a.coordinator.Run(ctx)
}

// Handler returns the HTTP control surface for the screen
func (a *App) Handler() http.Handler {
	return web.NewServer(a.coordinator, a.renderer, a.log.With("component", "web")).Router()
}

// Coordinator returns the capture screen controller
func (a *App) Coordinator() *capture.Coordinator {
	return a.coordinator
}

// Recorder returns the sighting recorder, or nil when a delegate was supplied
func (a *App) Recorder() *sighting.Recorder {
	return a.recorder
}

// Catalog returns the label catalog in use
func (a *App) Catalog() *labels.List {
	return a.catalog
}

// Renderer returns the overlay renderer in use
func (a *App) Renderer() *overlay.Renderer {
	return a.renderer
}

// Close shuts the engine down and releases the camera. The screen should
// have stopped first.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if err := a.session.Shutdown(); err != nil {
			errs = append(errs, err)
		}
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
