package presence

import (
	"fmt"
	"math"
)

const (
	// DefaultConfidenceThreshold is the exclusive lower bound a detection's
	// confidence must exceed to count as presence.
	DefaultConfidenceThreshold = 0.5

	// DefaultTargetLabel is the detector class that counts as presence.
	DefaultTargetLabel = "Person"
)

// Detection is one object reported by the vision model for a frame
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// RawDetection is a detection as decoded from JSON or YAML input. Pointers
// tell a missing field apart from a zero value.
type RawDetection struct {
	Label      *string  `json:"label" yaml:"label"`
	Confidence *float64 `json:"confidence" yaml:"confidence"`
}

// ToDetections converts decoded input, rejecting entries that lack a label
// or a confidence with ErrMalformedInput
func ToDetections(raw []RawDetection) ([]Detection, error) {
	detections := make([]Detection, 0, len(raw))
	for i, d := range raw {
		if d.Label == nil {
			return nil, fmt.Errorf("%w: detection %d missing label", ErrMalformedInput, i)
		}
		if d.Confidence == nil {
			return nil, fmt.Errorf("%w: detection %d missing confidence", ErrMalformedInput, i)
		}
		detections = append(detections, Detection{Label: *d.Label, Confidence: *d.Confidence})
	}
	return detections, nil
}

// Reducer collapses a frame's detections into a single presence signal
type Reducer struct {
	Threshold   float64
	TargetLabel string
}

// NewReducer creates a reducer, falling back to defaults for a zero
// threshold or an empty label
func NewReducer(threshold float64, targetLabel string) Reducer {
	if threshold == 0 {
		threshold = DefaultConfidenceThreshold
	}
	if targetLabel == "" {
		targetLabel = DefaultTargetLabel
	}
	return Reducer{Threshold: threshold, TargetLabel: targetLabel}
}

// Reduce reports whether any detection qualifies as presence.
// It stops at the first qualifying detection, so malformed entries after a
// match are not inspected.
func (r Reducer) Reduce(detections []Detection) (bool, error) {
	for i, d := range detections {
		if err := d.validate(); err != nil {
			return false, fmt.Errorf("detection %d: %w", i, err)
		}
		if d.Label == r.TargetLabel && d.Confidence > r.Threshold {
			return true, nil
		}
	}
	return false, nil
}

func (d Detection) validate() error {
	if d.Label == "" {
		return fmt.Errorf("%w: missing label", ErrMalformedInput)
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformedInput, d.Confidence)
	}
	return nil
}
