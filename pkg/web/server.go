// Package web exposes the capture screen over HTTP: its state as JSON, the
// current frame with overlays as JPEG, and the screen actions as POSTs.
package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/menta2k/breed-camera/internal/log"
	"github.com/menta2k/breed-camera/pkg/capture"
	"github.com/menta2k/breed-camera/pkg/labels"
	"github.com/menta2k/breed-camera/pkg/overlay"
	"github.com/menta2k/breed-camera/pkg/processing"
	"github.com/menta2k/breed-camera/pkg/types"
)

// Screen is the part of the coordinator the server drives
type Screen interface {
	Snapshot() capture.Snapshot
	Capture() error
	Retake() error
	Save() error
	Cancel() error
}

// Server serves one capture screen
type Server struct {
	screen    Screen
	renderer  *overlay.Renderer
	processor *processing.Processor
	quality   int
	log       *slog.Logger
}

// NewServer creates a server; a nil renderer selects the default layout
func NewServer(screen Screen, renderer *overlay.Renderer, logger *slog.Logger) *Server {
	if renderer == nil {
		renderer = overlay.New()
	}
	if logger == nil {
		logger = log.With("component", "web")
	}
	return &Server{
		screen:    screen,
		renderer:  renderer,
		processor: processing.NewProcessor(),
		quality:   85,
		log:       logger,
	}
}

// Router returns the HTTP routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")
	r.HandleFunc("/api/state", s.handleState).Methods("GET")
	r.HandleFunc("/api/frame.jpg", s.handleFrame).Methods("GET")
	r.HandleFunc("/api/{action:capture|retake|save|cancel}", s.handleAction).Methods("POST")
	return r
}

// OverlayView is one label row in the state document
type OverlayView struct {
	Slot  int    `json:"slot"`
	Text  string `json:"text"`
	Theme string `json:"theme"`
}

// PredictionView is one ranked breed in the state document
type PredictionView struct {
	Label      string  `json:"label"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// StateView is the JSON form of a capture snapshot
type StateView struct {
	State          string            `json:"state"`
	TriggerEnabled bool              `json:"trigger_enabled"`
	Analyzing      bool              `json:"analyzing"`
	ReviewControls bool              `json:"review_controls"`
	PayloadStage   string            `json:"payload_stage"`
	Overlays       []OverlayView     `json:"overlays"`
	Predictions    []PredictionView  `json:"predictions"`
	Location       *types.Coordinate `json:"location,omitempty"`
	Generation     uint64            `json:"generation"`
}

// NewStateView converts a snapshot
func NewStateView(snap capture.Snapshot) StateView {
	v := StateView{
		State:          snap.State.String(),
		TriggerEnabled: snap.TriggerEnabled,
		Analyzing:      snap.Analyzing,
		ReviewControls: snap.ReviewControls,
		PayloadStage:   snap.PayloadStage.String(),
		Overlays:       make([]OverlayView, 0, len(snap.Overlays)),
		Predictions:    make([]PredictionView, 0, len(snap.Predictions)),
		Location:       snap.Location,
		Generation:     snap.Generation,
	}
	for _, l := range snap.Overlays {
		v.Overlays = append(v.Overlays, OverlayView{Slot: l.Slot, Text: l.Text, Theme: l.Theme.Name})
	}
	for _, p := range snap.Predictions {
		v.Predictions = append(v.Predictions, PredictionView{
			Label:      p.Label,
			Name:       labels.Display(p.Label),
			Confidence: p.Confidence,
		})
	}
	return v
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(NewStateView(s.screen.Snapshot()))
}

// handleFrame renders the frozen still under review, or the latest preview
// frame, with the current overlays
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	snap := s.screen.Snapshot()

	var frame image.Image = snap.Preview
	if snap.Frozen != nil {
		frame = snap.Frozen
	}
	if frame == nil {
		http.Error(w, "no frame yet", http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	if err := s.processor.Encode(&buf, s.renderer.Draw(frame, snap.Overlays), "jpg", s.quality, false); err != nil {
		s.log.Error("failed to encode frame", "error", err)
		http.Error(w, "failed to encode frame", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]

	var err error
	switch action {
	case "capture":
		err = s.screen.Capture()
	case "retake":
		err = s.screen.Retake()
	case "save":
		err = s.screen.Save()
	case "cancel":
		err = s.screen.Cancel()
	}

	if err != nil {
		s.log.Info("action rejected", "action", action, "error", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	s.handleState(w, r)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrCaptureInFlight), errors.Is(err, capture.ErrNotPreviewing):
		return http.StatusConflict
	case errors.Is(err, capture.ErrNoLocation):
		return http.StatusPreconditionFailed
	case errors.Is(err, capture.ErrClosed):
		return http.StatusGone
	case errors.Is(err, capture.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
