package replay

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/saaga0h/jeeves-presence/internal/presence"
)

// Times are compared at millisecond resolution
const timeTolerance = 1e-6

// Runner drives a fresh tracker through a scenario
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a new scenario runner
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run replays every tick, flushes if requested and checks the expectations.
// Rejected ticks are recorded and skipped, as the agent would drop them.
func (r *Runner) Run(s *Scenario) *Result {
	tracker := presence.NewTracker(presence.TrackerConfig{
		EntryConfirmDuration: s.Config.EntryConfirm,
		ExitGraceDuration:    s.Config.ExitGrace,
	})
	reducer := newReducer(s.Config)

	result := &Result{Scenario: s}

	for i, tick := range s.Ticks {
		present, err := signal(reducer, tick)
		if err != nil {
			r.logger.Warn("Skipping tick", "index", i, "at", tick.At, "error", err)
			result.TickErrors = append(result.TickErrors, TickError{Index: i, At: tick.At, Err: err})
			continue
		}

		ev, err := tracker.Tick(present, TimeAt(tick.At))
		if err != nil {
			r.logger.Warn("Skipping tick", "index", i, "at", tick.At, "error", err)
			result.TickErrors = append(result.TickErrors, TickError{Index: i, At: tick.At, Err: err})
			continue
		}

		r.logger.Debug("Tick", "index", i, "at", tick.At, "presence", present, "phase", tracker.Snapshot().Phase)
		if ev != nil {
			result.Events = append(result.Events, *ev)
		}
	}

	if s.FlushAt != nil {
		ev, err := tracker.Flush(TimeAt(*s.FlushAt))
		if err != nil {
			result.TickErrors = append(result.TickErrors, TickError{Index: len(s.Ticks), At: *s.FlushAt, Err: err})
		} else if ev != nil {
			result.Events = append(result.Events, *ev)
		}
	}

	r.check(result)
	return result
}

func newReducer(cfg ScenarioConfig) presence.Reducer {
	reducer := presence.NewReducer(presence.DefaultConfidenceThreshold, cfg.TargetLabel)
	if cfg.ConfidenceThreshold != nil {
		reducer.Threshold = *cfg.ConfidenceThreshold
	}
	return reducer
}

func signal(reducer presence.Reducer, tick Tick) (bool, error) {
	if tick.Presence != nil {
		return *tick.Presence, nil
	}
	detections, err := presence.ToDetections(*tick.Detections)
	if err != nil {
		return false, err
	}
	return reducer.Reduce(detections)
}

// check pairs expectations with events by position. Events beyond the last
// expectation fail the scenario when any expectations were given.
func (r *Runner) check(result *Result) {
	expect := result.Scenario.Expect

	for i, exp := range expect {
		res := ExpectationResult{Expectation: exp}
		if i < len(result.Events) {
			ev := result.Events[i]
			res.Actual = &ev
			res.Passed, res.Reason = matchEvent(exp, ev)
		} else {
			res.Reason = "no event emitted"
		}

		if res.Passed {
			result.PassedCount++
		} else {
			result.FailedCount++
		}
		result.Expectations = append(result.Expectations, res)
	}

	if len(expect) > 0 {
		for _, ev := range result.Events[min(len(expect), len(result.Events)):] {
			result.FailedCount++
			result.Expectations = append(result.Expectations, ExpectationResult{
				Actual: &ev,
				Reason: fmt.Sprintf("unexpected %s at %.3fs", ev.Type, SecondsSince(eventTime(ev))),
			})
		}
	}

	result.Passed = result.FailedCount == 0
}

func matchEvent(exp Expectation, ev presence.Event) (bool, string) {
	if ev.Type != exp.Type {
		return false, fmt.Sprintf("expected %s, got %s", exp.Type, ev.Type)
	}

	if got := SecondsSince(eventTime(ev)); math.Abs(got-exp.At) > timeTolerance {
		return false, fmt.Sprintf("expected at %.3fs, got %.3fs", exp.At, got)
	}

	if exp.Duration != nil {
		if got := ev.Duration.Seconds(); math.Abs(got-*exp.Duration) > timeTolerance {
			return false, fmt.Sprintf("expected duration %.3fs, got %.3fs", *exp.Duration, got)
		}
	}

	if exp.Forced != nil && *exp.Forced != ev.Forced {
		return false, fmt.Sprintf("expected forced=%v, got %v", *exp.Forced, ev.Forced)
	}

	return true, ""
}

// eventTime is when the event was emitted
func eventTime(ev presence.Event) time.Time {
	if ev.Type == presence.EventExitConfirmed {
		return ev.ExitTime
	}
	return ev.EntryTime
}
