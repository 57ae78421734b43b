package presence

import (
	"fmt"
	"time"
)

const (
	// DefaultEntryConfirmDuration is how long presence must hold unbroken
	// before an entry is confirmed.
	DefaultEntryConfirmDuration = 1 * time.Second

	// DefaultExitGraceDuration is how long after the last sighting an absence
	// must last before an exit is confirmed.
	DefaultExitGraceDuration = 5 * time.Second
)

// Phase names the tracker's externally visible state
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhasePendingEntry Phase = "pending_entry"
	PhaseActive       Phase = "active"
	PhaseGraceExit    Phase = "grace_exit" // active, but the latest tick saw no presence
)

// EventType identifies a session boundary
type EventType string

const (
	EventEntryConfirmed EventType = "entry_confirmed"
	EventExitConfirmed  EventType = "exit_confirmed"
)

// Event is emitted when a session opens or closes.
// ExitTime and Duration are only set for exits. Forced marks exits produced
// by Flush rather than by an expired grace window.
type Event struct {
	Type      EventType
	EntryTime time.Time
	ExitTime  time.Time
	Duration  time.Duration
	Forced    bool
}

// SessionState is a read-only view of the tracker. Timestamps that are not
// valid for the current phase are zero.
type SessionState struct {
	Phase        Phase
	EntryTime    time.Time
	LastSeenTime time.Time
	PendingSince time.Time
}

// Active reports whether a confirmed session is open
func (s SessionState) Active() bool {
	return s.Phase == PhaseActive || s.Phase == PhaseGraceExit
}

// TrackerConfig holds the hysteresis windows
type TrackerConfig struct {
	EntryConfirmDuration time.Duration
	ExitGraceDuration    time.Duration
}

// state is the tracker's tagged variant: exactly one of idleState,
// pendingEntryState or activeState.
type state interface {
	phase() Phase
}

type idleState struct{}

type pendingEntryState struct {
	since time.Time
}

type activeState struct {
	entryTime time.Time
	lastSeen  time.Time
	graced    bool
}

func (idleState) phase() Phase         { return PhaseIdle }
func (pendingEntryState) phase() Phase { return PhasePendingEntry }

func (s activeState) phase() Phase {
	if s.graced {
		return PhaseGraceExit
	}
	return PhaseActive
}

// Tracker turns a per-frame presence signal into confirmed entry and exit
// events. It is not safe for concurrent use; callers feeding it from several
// goroutines must serialize Tick and Flush.
type Tracker struct {
	entryConfirm time.Duration
	exitGrace    time.Duration

	state   state
	lastNow time.Time
	started bool
}

// NewTracker creates an idle tracker. Zero durations fall back to the
// defaults.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.EntryConfirmDuration == 0 {
		cfg.EntryConfirmDuration = DefaultEntryConfirmDuration
	}
	if cfg.ExitGraceDuration == 0 {
		cfg.ExitGraceDuration = DefaultExitGraceDuration
	}

	return &Tracker{
		entryConfirm: cfg.EntryConfirmDuration,
		exitGrace:    cfg.ExitGraceDuration,
		state:        idleState{},
	}
}

// Tick applies one frame's presence signal observed at now and returns the
// event it produced, if any.
func (t *Tracker) Tick(presence bool, now time.Time) (*Event, error) {
	if err := t.checkTime(now); err != nil {
		return nil, err
	}

	next, event := t.transition(presence, now)
	t.state = next
	t.advance(now)

	return event, nil
}

// Flush closes an open session at now regardless of the grace window.
// Idle and pending trackers are left as they are and produce no event.
func (t *Tracker) Flush(now time.Time) (*Event, error) {
	if err := t.checkTime(now); err != nil {
		return nil, err
	}

	s, ok := t.state.(activeState)
	if !ok {
		return nil, nil
	}

	t.state = idleState{}
	t.advance(now)

	return exitEvent(s.entryTime, now, true), nil
}

// Snapshot returns the current state
func (t *Tracker) Snapshot() SessionState {
	view := SessionState{Phase: t.state.phase()}

	switch s := t.state.(type) {
	case pendingEntryState:
		view.PendingSince = s.since
	case activeState:
		view.EntryTime = s.entryTime
		view.LastSeenTime = s.lastSeen
	}

	return view
}

// LastTick returns the timestamp of the last accepted Tick or Flush
func (t *Tracker) LastTick() (time.Time, bool) {
	return t.lastNow, t.started
}

func (t *Tracker) transition(presence bool, now time.Time) (state, *Event) {
	switch s := t.state.(type) {
	case idleState:
		if !presence {
			return s, nil
		}
		return pendingEntryState{since: now}, nil

	case pendingEntryState:
		if !presence {
			return idleState{}, nil
		}
		if now.Sub(s.since) < t.entryConfirm {
			return s, nil
		}
		return activeState{entryTime: now, lastSeen: now}, &Event{
			Type:      EventEntryConfirmed,
			EntryTime: now,
		}

	case activeState:
		if presence {
			return activeState{entryTime: s.entryTime, lastSeen: now}, nil
		}
		if now.Sub(s.lastSeen) < t.exitGrace {
			s.graced = true
			return s, nil
		}
		return idleState{}, exitEvent(s.entryTime, now, false)

	default:
		panic(fmt.Sprintf("presence: unknown tracker state %T", s))
	}
}

func (t *Tracker) checkTime(now time.Time) error {
	if t.started && now.Before(t.lastNow) {
		return fmt.Errorf("%w: %s is before previous %s",
			ErrNonMonotonicTime, now.Format(time.RFC3339Nano), t.lastNow.Format(time.RFC3339Nano))
	}
	return nil
}

func (t *Tracker) advance(now time.Time) {
	t.lastNow = now
	t.started = true
}

func exitEvent(entryTime, exitTime time.Time, forced bool) *Event {
	return &Event{
		Type:      EventExitConfirmed,
		EntryTime: entryTime,
		ExitTime:  exitTime,
		Duration:  exitTime.Sub(entryTime),
		Forced:    forced,
	}
}
