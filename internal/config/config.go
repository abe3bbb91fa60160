package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Camera     CameraConfig     `json:"camera"`
	Classifier ClassifierConfig `json:"classifier"`
	Selection  SelectionConfig  `json:"selection"`
	Overlay    OverlayConfig    `json:"overlay"`
	Location   LocationConfig   `json:"location"`
	Output     OutputConfig     `json:"output"`
	Server     ServerConfig     `json:"server"`
	Log        LogConfig        `json:"log"`
}

// CameraConfig holds configuration for the replay camera
type CameraConfig struct {
	// FramesDir is a folder of frames or an http(s) snapshot URL
	FramesDir   string `json:"frames_dir"`
	Framerate   int    `json:"framerate"`
	Orientation int    `json:"orientation"`
	Buffer      int    `json:"buffer"`
}

// ClassifierConfig selects and tunes the inference engine
type ClassifierConfig struct {
	// Backend is one of ollama, llamacpp, gemini, onnx or mock
	Backend string `json:"backend"`
	// URL of the model server; empty picks the backend default
	URL            string  `json:"url"`
	APIKey         string  `json:"api_key,omitempty"`
	Model          string  `json:"model"`
	ModelPath      string  `json:"model_path"`
	MetadataPath   string  `json:"metadata_path"`
	LibraryPath    string  `json:"library_path"`
	LabelsPath     string  `json:"labels_path"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	TopK           int     `json:"top_k"`
	MinConfidence  float64 `json:"min_confidence"`
	MaxImageSize   int     `json:"max_image_size"`
	Quality        int     `json:"quality"`
	MockResult     string  `json:"mock_result,omitempty"`
}

// SelectionConfig describes the square cut from a still
type SelectionConfig struct {
	// Zoom shrinks the default centered square (0.01..1)
	Zoom float64 `json:"zoom"`
	// X, Y, W, H give an explicit normalized box; all zero means centered
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	W            float64 `json:"w"`
	H            float64 `json:"h"`
	MinImageSize int     `json:"min_image_size"`
	OutputSize   int     `json:"output_size"`
}

// OverlayConfig holds the label row layout
type OverlayConfig struct {
	Width        int `json:"width"`
	TopInset     int `json:"top_inset"`
	HeaderHeight int `json:"header_height"`
	RowHeight    int `json:"row_height"`
}

// LocationConfig configures a static location feed; off by default
type LocationConfig struct {
	Enabled   bool    `json:"enabled"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// OutputConfig holds configuration for stored sightings
type OutputConfig struct {
	Dir      string `json:"dir"`
	Format   string `json:"format"`
	Quality  int    `json:"quality"`
	Lossless bool   `json:"lossless"`
	Annotate bool   `json:"annotate"`
}

// ServerConfig holds the HTTP control surface settings; an empty Addr
// disables it
type ServerConfig struct {
	Addr string `json:"addr"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `json:"level"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			FramesDir:   "./frames",
			Framerate:   3,
			Orientation: 1,
			Buffer:      4,
		},
		Classifier: ClassifierConfig{
			Backend:        "ollama",
			Model:          "llava:7b",
			TimeoutSeconds: 30,
			TopK:           5,
			MinConfidence:  0.01,
			MaxImageSize:   768,
			Quality:        85,
		},
		Selection: SelectionConfig{
			Zoom:         1.0,
			MinImageSize: 32,
		},
		Overlay: OverlayConfig{
			Width:        720,
			TopInset:     20,
			HeaderHeight: 44,
			RowHeight:    26,
		},
		Output: OutputConfig{
			Dir:      "./sightings",
			Format:   "webp",
			Quality:  90,
			Annotate: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Missing fields keep
// their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ClassifyTimeout returns the still classification bound; zero means none
func (c *Config) ClassifyTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutSeconds) * time.Second
}

// ResolveAPIKey returns the configured key, falling back to GEMINI_API_KEY
func (c ClassifierConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	return strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Camera.Framerate < 1 {
		return fmt.Errorf("camera.framerate must be positive")
	}

	if c.Camera.Orientation < 1 || c.Camera.Orientation > 8 {
		return fmt.Errorf("camera.orientation must be between 1 and 8")
	}

	switch c.Classifier.Backend {
	case "ollama", "llamacpp":
		if c.Classifier.Model == "" {
			return fmt.Errorf("classifier.model is required for the %s backend", c.Classifier.Backend)
		}
	case "gemini":
		if c.Classifier.Model == "" {
			return fmt.Errorf("classifier.model is required for the gemini backend")
		}
		if c.Classifier.ResolveAPIKey() == "" {
			return fmt.Errorf("classifier.api_key or GEMINI_API_KEY is required for the gemini backend")
		}
	case "onnx":
		if c.Classifier.ModelPath == "" || c.Classifier.MetadataPath == "" {
			return fmt.Errorf("classifier.model_path and classifier.metadata_path are required for the onnx backend")
		}
	case "mock":
	default:
		return fmt.Errorf("classifier.backend must be one of ollama, llamacpp, gemini, onnx, mock")
	}

	if c.Classifier.TimeoutSeconds < 0 {
		return fmt.Errorf("classifier.timeout_seconds cannot be negative")
	}

	if c.Classifier.MinConfidence < 0 || c.Classifier.MinConfidence > 1 {
		return fmt.Errorf("classifier.min_confidence must be between 0 and 1")
	}

	if c.Classifier.Quality < 1 || c.Classifier.Quality > 100 {
		return fmt.Errorf("classifier.quality must be between 1 and 100")
	}

	if c.Selection.Zoom < 0 || c.Selection.Zoom > 1 {
		return fmt.Errorf("selection.zoom must be between 0 and 1")
	}

	for name, v := range map[string]float64{"x": c.Selection.X, "y": c.Selection.Y, "w": c.Selection.W, "h": c.Selection.H} {
		if v < 0 || v > 1 {
			return fmt.Errorf("selection.%s must be between 0 and 1", name)
		}
	}

	if c.Selection.MinImageSize < 1 {
		return fmt.Errorf("selection.min_image_size must be positive")
	}

	if c.Overlay.Width < 1 || c.Overlay.RowHeight < 1 {
		return fmt.Errorf("overlay.width and overlay.row_height must be positive")
	}

	if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
		return fmt.Errorf("location.latitude must be between -90 and 90")
	}

	if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
		return fmt.Errorf("location.longitude must be between -180 and 180")
	}

	switch strings.ToLower(c.Output.Format) {
	case "webp", "png", "jpg", "jpeg":
	default:
		return fmt.Errorf("output.format must be webp, png or jpg")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "breed-camera", "config.json")
}
