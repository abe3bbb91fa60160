package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	breedcamera "github.com/menta2k/breed-camera"
	"github.com/menta2k/breed-camera/internal/config"
	blog "github.com/menta2k/breed-camera/internal/log"
	"github.com/menta2k/breed-camera/internal/utils"
	"github.com/menta2k/breed-camera/pkg/capture"
	"github.com/menta2k/breed-camera/pkg/labels"
)

func main() {
	var configPath, frames, backend, url, model, outDir, level, saveConfig, listen, describe string
	var lat, lon float64
	var noLocation bool
	var warmup, reviewWait time.Duration
	var attempts int

	flag.StringVar(&configPath, "config", "", "config file (default: "+config.GetConfigPath()+" if present)")
	flag.StringVar(&frames, "frames", "", "directory of preview frames (jpg/png/webp) or a snapshot URL")
	flag.StringVar(&backend, "backend", "", "classifier backend: ollama|llamacpp|gemini|onnx|mock")
	flag.StringVar(&url, "url", "", "model server URL")
	flag.StringVar(&model, "model", "", "vision model name")
	flag.StringVar(&outDir, "out", "", "sighting output directory")
	flag.StringVar(&level, "level", "", "log level: debug|info|warn|error")
	flag.StringVar(&listen, "listen", "", "serve the screen over HTTP on this address instead of running the scripted session")
	flag.StringVar(&saveConfig, "save-config", "", "write the effective config to this path and exit")
	flag.StringVar(&describe, "describe", "", "ask the vision model to describe this image (path or URL) and exit")

	flag.Float64Var(&lat, "lat", 0, "latitude reported by the location feed (with -lon, enables it)")
	flag.Float64Var(&lon, "lon", 0, "longitude reported by the location feed (with -lat, enables it)")
	flag.BoolVar(&noLocation, "no-location", false, "run without a location feed (saving will be refused)")

	flag.DurationVar(&warmup, "warmup", 2*time.Second, "preview time before each capture")
	flag.DurationVar(&reviewWait, "review-wait", 2*time.Minute, "how long to wait for a still to be classified")
	flag.IntVar(&attempts, "attempts", 3, "captures to try before giving up")

	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if frames != "" {
		cfg.Camera.FramesDir = frames
	}
	if backend != "" {
		cfg.Classifier.Backend = backend
	}
	if url != "" {
		cfg.Classifier.URL = url
	}
	if model != "" {
		cfg.Classifier.Model = model
	}
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if level != "" {
		cfg.Log.Level = level
	}
	if set["lat"] {
		cfg.Location.Latitude = lat
	}
	if set["lon"] {
		cfg.Location.Longitude = lon
	}
	if set["lat"] && set["lon"] {
		cfg.Location.Enabled = true
	}
	if noLocation {
		cfg.Location.Enabled = false
	}
	if listen != "" {
		cfg.Server.Addr = listen
	}

	if saveConfig != "" {
		if err := cfg.SaveToFile(saveConfig); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", saveConfig)
		return
	}

	blog.Init(cfg.Log.Level)

	if describe != "" {
		reply, err := breedcamera.DescribeImage(context.Background(), cfg.Classifier, describe, nil)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(reply)
		return
	}

	var last capture.State
	app, err := breedcamera.New(cfg, breedcamera.Options{
		OnShutter: func() { log.Printf("click") },
		Observer: func(s capture.Snapshot) {
			if s.State != last {
				log.Printf("screen: %s", s.State)
				last = s.State
			}
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(ctx) }()

	if cfg.Server.Addr != "" {
		srv := &http.Server{Addr: cfg.Server.Addr, Handler: app.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http: %v", err)
				app.Coordinator().Cancel()
			}
		}()
		log.Printf("serving screen on http://%s", cfg.Server.Addr)
		<-app.Coordinator().Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		srv.Shutdown(shutdownCtx)
		cancel()
	} else if err := script(ctx, app.Coordinator(), warmup, reviewWait, attempts); err != nil {
		log.Printf("session: %v", err)
		app.Coordinator().Cancel()
	}

	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}

	if rec := app.Recorder(); rec != nil {
		for _, r := range rec.Records() {
			log.Printf("stored sighting %s in %s", r.ID, r.Dir)
		}
		if err := rec.Err(); err != nil {
			log.Fatalf("failed to store sighting: %v", err)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.GetConfigPath()
		if !utils.FileExists(path) {
			return config.Default(), nil
		}
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	log.Printf("using config %s", filepath.Clean(path))
	return cfg, nil
}

// script plays the user: watch the preview, take a photo, and save it once
// breeds are shown. A still with no result is retried.
func script(ctx context.Context, c *capture.Coordinator, warmup, reviewWait time.Duration, attempts int) error {
	if _, err := waitState(ctx, c, reviewWait, capture.StatePreviewing); err != nil {
		return err
	}

	for i := 1; i <= attempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(warmup):
		}
		printOverlays("live", c.Snapshot())

		if err := c.Capture(); err != nil {
			return fmt.Errorf("capture %d: %w", i, err)
		}

		s, err := waitSettled(ctx, c, reviewWait)
		if err != nil {
			return fmt.Errorf("capture %d: %w", i, err)
		}
		if s.State != capture.StateReviewing {
			log.Printf("capture %d: nothing recognised, retrying", i)
			continue
		}

		printOverlays("review", s)
		for _, p := range s.Predictions {
			log.Printf("  %-32s %.4f", labels.Display(p.Label), p.Confidence)
		}
		return c.Save()
	}
	return fmt.Errorf("no breed recognised after %d attempts", attempts)
}

func printOverlays(kind string, s capture.Snapshot) {
	if len(s.Overlays) == 0 {
		log.Printf("%s: (nothing)", kind)
		return
	}
	for _, l := range s.Overlays {
		log.Printf("%s: %s", kind, l.Text)
	}
}

// waitSettled waits until a still has either reached review or been dropped
func waitSettled(ctx context.Context, c *capture.Coordinator, timeout time.Duration) (capture.Snapshot, error) {
	return waitFor(ctx, c, timeout, func(s capture.Snapshot) bool {
		return s.State == capture.StateReviewing || (s.State == capture.StatePreviewing && s.TriggerEnabled)
	})
}

func waitState(ctx context.Context, c *capture.Coordinator, timeout time.Duration, want capture.State) (capture.Snapshot, error) {
	return waitFor(ctx, c, timeout, func(s capture.Snapshot) bool { return s.State == want })
}

func waitFor(ctx context.Context, c *capture.Coordinator, timeout time.Duration, cond func(capture.Snapshot) bool) (capture.Snapshot, error) {
	deadline := time.After(timeout)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		s := c.Snapshot()
		if cond(s) {
			return s, nil
		}
		if s.State == capture.StateClosed || s.State == capture.StateSaved {
			return s, capture.ErrClosed
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-c.Done():
			return c.Snapshot(), capture.ErrClosed
		case <-deadline:
			return s, fmt.Errorf("timed out in state %s", s.State)
		case <-tick.C:
		}
	}
}
