package types

import (
	"errors"
	"image"
)

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Coordinate is a WGS84 position reported by the location feed
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Prediction is a single classifier result
type Prediction struct {
	Label         string  `json:"label"`
	Confidence    float64 `json:"confidence"`
	HasConfidence bool    `json:"-"`
}

// NewPrediction returns a scored prediction
func NewPrediction(label string, confidence float64) Prediction {
	return Prediction{Label: label, Confidence: confidence, HasConfidence: true}
}

// Valid reports whether the prediction carries a confidence and may be shown
func (p Prediction) Valid() bool {
	return p.HasConfidence
}

// PayloadStage tags how far a payload has been filled in
type PayloadStage int

const (
	PayloadEmpty PayloadStage = iota
	PayloadPartial
	PayloadComplete
)

func (s PayloadStage) String() string {
	switch s {
	case PayloadEmpty:
		return "empty"
	case PayloadPartial:
		return "partial"
	case PayloadComplete:
		return "complete"
	default:
		return "unknown"
	}
}

var (
	ErrPayloadNotPopulated = errors.New("payload: predictions and images not populated")
	ErrPayloadNoLocation   = errors.New("payload: location required")
)

// Payload is the unit handed to the delegate once the user confirms a capture
type Payload struct {
	Predictions  []Prediction `json:"predictions"`
	FullImage    image.Image  `json:"-"`
	CroppedImage image.Image  `json:"-"`
	Location     *Coordinate  `json:"location,omitempty"`
	Stage        PayloadStage `json:"-"`
}

// NewPayload returns an empty payload
func NewPayload() Payload {
	return Payload{Stage: PayloadEmpty}
}

// Populate records the result of a successful still capture.
// Invalid predictions are dropped; order is kept.
func (p *Payload) Populate(predictions []Prediction, full, cropped image.Image) {
	kept := make([]Prediction, 0, len(predictions))
	for _, pr := range predictions {
		if pr.Valid() {
			kept = append(kept, pr)
		}
	}
	p.Predictions = kept
	p.FullImage = full
	p.CroppedImage = cropped
	p.Stage = PayloadPartial
}

// Complete returns an independent, finished copy of the payload stamped with loc
func (p Payload) Complete(loc *Coordinate) (Payload, error) {
	if p.Stage != PayloadPartial {
		return Payload{}, ErrPayloadNotPopulated
	}
	if loc == nil {
		return Payload{}, ErrPayloadNoLocation
	}
	preds := make([]Prediction, len(p.Predictions))
	copy(preds, p.Predictions)
	where := *loc
	return Payload{
		Predictions:  preds,
		FullImage:    p.FullImage,
		CroppedImage: p.CroppedImage,
		Location:     &where,
		Stage:        PayloadComplete,
	}, nil
}
