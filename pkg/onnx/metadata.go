package onnx

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata describes the model's tensors and input normalization
type Metadata struct {
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	ImageSize   int     `json:"image_size"`
	// Mean and Std are per channel (RGB); empty means plain [0,1] scaling
	Mean []float32 `json:"mean,omitempty"`
	Std  []float32 `json:"std,omitempty"`
	// Logits marks outputs that still need a softmax
	Logits bool `json:"logits"`
}

// LoadMetadata reads and validates a metadata file
func LoadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if meta.InputName == "" {
		meta.InputName = "input"
	}
	if meta.OutputName == "" {
		meta.OutputName = "output"
	}
	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// Validate checks that the shapes fit a single RGB image
func (m Metadata) Validate() error {
	if m.ImageSize <= 0 {
		return fmt.Errorf("%w: image_size must be positive", ErrBadMetadata)
	}
	want := int64(3 * m.ImageSize * m.ImageSize)
	if got := elements(m.InputShape); got != want {
		return fmt.Errorf("%w: input shape %v holds %d values, want %d", ErrBadMetadata, m.InputShape, got, want)
	}
	if elements(m.OutputShape) <= 0 {
		return fmt.Errorf("%w: empty output shape", ErrBadMetadata)
	}
	if len(m.Mean) != 0 && len(m.Mean) != 3 {
		return fmt.Errorf("%w: mean needs 3 values", ErrBadMetadata)
	}
	if len(m.Std) != 0 && len(m.Std) != 3 {
		return fmt.Errorf("%w: std needs 3 values", ErrBadMetadata)
	}
	for _, s := range m.Std {
		if s == 0 {
			return fmt.Errorf("%w: std must not be zero", ErrBadMetadata)
		}
	}
	return nil
}

func elements(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
