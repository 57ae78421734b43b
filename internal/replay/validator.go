package replay

import (
	"fmt"

	"github.com/saaga0h/jeeves-presence/internal/presence"
)

// ValidateScenario performs validation checks on a loaded scenario.
// Tick order is not checked; the tracker reports regressions at run time.
func ValidateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}

	if err := validateConfig(s.Config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := validateTicks(s.Ticks); err != nil {
		return fmt.Errorf("ticks validation failed: %w", err)
	}

	if s.FlushAt != nil && *s.FlushAt < 0 {
		return fmt.Errorf("flush_at cannot be negative")
	}

	if err := validateExpectations(s.Expect); err != nil {
		return fmt.Errorf("expectations validation failed: %w", err)
	}

	return nil
}

func validateConfig(cfg ScenarioConfig) error {
	if cfg.EntryConfirm < 0 {
		return fmt.Errorf("entry_confirm cannot be negative")
	}
	if cfg.ExitGrace < 0 {
		return fmt.Errorf("exit_grace cannot be negative")
	}
	if t := cfg.ConfidenceThreshold; t != nil && (*t < 0 || *t >= 1) {
		return fmt.Errorf("confidence_threshold must be in [0, 1), got %v", *t)
	}
	return nil
}

func validateTicks(ticks []Tick) error {
	if len(ticks) == 0 {
		return fmt.Errorf("at least one tick is required")
	}

	for i, tick := range ticks {
		if tick.At < 0 {
			return fmt.Errorf("tick %d: time cannot be negative", i)
		}

		if tick.Presence == nil && tick.Detections == nil {
			return fmt.Errorf("tick %d: must have either 'presence' or 'detections'", i)
		}

		if tick.Presence != nil && tick.Detections != nil {
			return fmt.Errorf("tick %d: cannot specify both 'presence' and 'detections'", i)
		}
	}

	return nil
}

func validateExpectations(expectations []Expectation) error {
	for i, exp := range expectations {
		switch exp.Type {
		case presence.EventEntryConfirmed:
			if exp.Duration != nil {
				return fmt.Errorf("expectation %d: duration only applies to exit_confirmed", i)
			}
		case presence.EventExitConfirmed:
		default:
			return fmt.Errorf("expectation %d: unknown event type %q", i, exp.Type)
		}

		if exp.At < 0 {
			return fmt.Errorf("expectation %d: time cannot be negative", i)
		}
	}

	return nil
}
