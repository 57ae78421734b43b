package replay

import (
	"math"
	"time"

	"github.com/saaga0h/jeeves-presence/internal/presence"
)

// Epoch is the instant a scenario's "at: 0" maps to
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Scenario is a recorded tick sequence with the events it should produce
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Config      ScenarioConfig `yaml:"config"`
	Ticks       []Tick         `yaml:"ticks"`
	FlushAt     *float64       `yaml:"flush_at,omitempty"` // Seconds from start
	Expect      []Expectation  `yaml:"expect"`
}

// ScenarioConfig overrides tracker and reducer settings. Zero windows and an
// empty label keep the defaults; an unset threshold keeps the default, while
// an explicit 0 counts any confidence above zero.
type ScenarioConfig struct {
	EntryConfirm        time.Duration `yaml:"entry_confirm"`
	ExitGrace           time.Duration `yaml:"exit_grace"`
	ConfidenceThreshold *float64      `yaml:"confidence_threshold,omitempty"`
	TargetLabel         string        `yaml:"target_label"`
}

// Tick is one frame. Either Presence or Detections is set, never both.
// Detections follow the same missing-field rules as MQTT frames.
type Tick struct {
	At          float64                  `yaml:"at"` // Seconds from start
	Presence    *bool                    `yaml:"presence,omitempty"`
	Detections  *[]presence.RawDetection `yaml:"detections,omitempty"`
	Description string                   `yaml:"description,omitempty"`
}

// Expectation is an event the scenario must emit, matched in order
type Expectation struct {
	Type     presence.EventType `yaml:"type"`
	At       float64            `yaml:"at"`                 // Seconds from start
	Duration *float64           `yaml:"duration,omitempty"` // Seconds, exit only
	Forced   *bool              `yaml:"forced,omitempty"`
}

// Result is the outcome of running a scenario
type Result struct {
	Scenario     *Scenario
	Events       []presence.Event
	TickErrors   []TickError
	Expectations []ExpectationResult
	Passed       bool
	PassedCount  int
	FailedCount  int
}

// TickError records a tick the tracker or reducer rejected
type TickError struct {
	Index int
	At    float64
	Err   error
}

// ExpectationResult is the check of one expectation against the event at
// the same position
type ExpectationResult struct {
	Expectation Expectation
	Actual      *presence.Event
	Passed      bool
	Reason      string
}

// TimeAt converts scenario seconds to a timestamp, rounded to the millisecond
func TimeAt(seconds float64) time.Time {
	return Epoch.Add(time.Duration(math.Round(seconds*1000)) * time.Millisecond)
}

// SecondsSince converts a timestamp back to scenario seconds
func SecondsSince(t time.Time) float64 {
	return t.Sub(Epoch).Seconds()
}
