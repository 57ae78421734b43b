package presence

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)

// at returns the epoch offset by the given seconds
func at(seconds float64) time.Time {
	return epoch.Add(time.Duration(math.Round(seconds*1000)) * time.Millisecond)
}

func newTestTracker() *Tracker {
	return NewTracker(TrackerConfig{
		EntryConfirmDuration: time.Second,
		ExitGraceDuration:    5 * time.Second,
	})
}

type tick struct {
	at       float64
	presence bool
}

// run feeds ticks and returns the events with the index of the tick that
// produced each
func run(t *testing.T, tr *Tracker, ticks []tick) ([]Event, []int) {
	t.Helper()

	var events []Event
	var indexes []int
	for i, tk := range ticks {
		ev, err := tr.Tick(tk.presence, at(tk.at))
		require.NoError(t, err, "tick %d", i)
		if ev != nil {
			events = append(events, *ev)
			indexes = append(indexes, i)
		}
	}
	return events, indexes
}

func TestTracker_ConcreteScenario(t *testing.T) {
	tr := newTestTracker()

	events, indexes := run(t, tr, []tick{
		{0.0, true},
		{0.5, true},
		{1.1, true},
		{2.0, false},
		{6.0, false},
		{6.2, false},
	})

	require.Len(t, events, 2)

	assert.Equal(t, 2, indexes[0])
	assert.Equal(t, EventEntryConfirmed, events[0].Type)
	assert.True(t, events[0].EntryTime.Equal(at(1.1)))

	assert.Equal(t, 5, indexes[1])
	assert.Equal(t, EventExitConfirmed, events[1].Type)
	assert.True(t, events[1].EntryTime.Equal(at(1.1)))
	assert.True(t, events[1].ExitTime.Equal(at(6.2)))
	assert.Equal(t, 5100*time.Millisecond, events[1].Duration)
	assert.False(t, events[1].Forced)

	assert.Equal(t, PhaseIdle, tr.Snapshot().Phase)
}

func TestTracker_TransitionTable(t *testing.T) {
	tests := []struct {
		name      string
		ticks     []tick
		wantPhase Phase
		wantEvent EventType // event produced by the final tick, "" for none
	}{
		{"idle stays idle", []tick{{0, false}}, PhaseIdle, ""},
		{"idle to pending", []tick{{0, true}}, PhasePendingEntry, ""},
		{"pending to idle on absence", []tick{{0, true}, {0.5, false}}, PhaseIdle, ""},
		{"pending holds before window", []tick{{0, true}, {0.9, true}}, PhasePendingEntry, ""},
		{"pending confirms at window", []tick{{0, true}, {1.0, true}}, PhaseActive, EventEntryConfirmed},
		{"active stays active on presence", []tick{{0, true}, {1, true}, {3, true}}, PhaseActive, ""},
		{"active enters grace", []tick{{0, true}, {1, true}, {3, false}}, PhaseGraceExit, ""},
		{"grace expires at window", []tick{{0, true}, {1, true}, {6, false}}, PhaseIdle, EventExitConfirmed},
		{"grace cancelled by presence", []tick{{0, true}, {1, true}, {3, false}, {4, true}}, PhaseActive, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker()

			var last *Event
			for i, tk := range tt.ticks {
				ev, err := tr.Tick(tk.presence, at(tk.at))
				if err != nil {
					t.Fatalf("tick %d: unexpected error: %v", i, err)
				}
				last = ev
			}

			if got := tr.Snapshot().Phase; got != tt.wantPhase {
				t.Errorf("phase = %s, want %s", got, tt.wantPhase)
			}

			switch {
			case tt.wantEvent == "" && last != nil:
				t.Errorf("unexpected event %s on final tick", last.Type)
			case tt.wantEvent != "" && last == nil:
				t.Errorf("expected %s on final tick, got none", tt.wantEvent)
			case tt.wantEvent != "" && last.Type != tt.wantEvent:
				t.Errorf("event = %s, want %s", last.Type, tt.wantEvent)
			}
		})
	}
}

func TestTracker_Debounce(t *testing.T) {
	tr := newTestTracker()

	// Repeated bursts shorter than the entry window never confirm.
	var ticks []tick
	for burst := 0; burst < 5; burst++ {
		base := float64(burst) * 3
		ticks = append(ticks,
			tick{base, true},
			tick{base + 0.4, true},
			tick{base + 0.9, true},
			tick{base + 1.2, false},
		)
	}

	events, _ := run(t, tr, ticks)
	assert.Empty(t, events)
	assert.Equal(t, PhaseIdle, tr.Snapshot().Phase)
}

func TestTracker_DebounceResetsOnBreak(t *testing.T) {
	tr := newTestTracker()

	events, indexes := run(t, tr, []tick{
		{0.0, true},
		{0.8, false},
		{0.9, true},
		{1.5, true},
		{1.9, true},
	})

	require.Len(t, events, 1)
	assert.Equal(t, 4, indexes[0], "debounce must restart from the first true tick after the break")
	assert.True(t, events[0].EntryTime.Equal(at(1.9)))
}

func TestTracker_EntryLatency(t *testing.T) {
	tr := newTestTracker()

	var ticks []tick
	for i := 0; i <= 30; i++ {
		ticks = append(ticks, tick{float64(i) * 0.05, true})
	}

	events, indexes := run(t, tr, ticks)

	require.Len(t, events, 1)
	assert.Equal(t, 20, indexes[0], "first tick at or beyond t0+1s is tick 20")
	assert.True(t, events[0].EntryTime.Equal(at(1.0)))
}

func TestTracker_GracePeriodExit(t *testing.T) {
	tr := newTestTracker()

	events, indexes := run(t, tr, []tick{
		{0, true},
		{1, true},
		{2, true},
		{3, false},
		{5, false},
		{6.999, false},
		{7, false},
		{8, false},
	})

	require.Len(t, events, 2)
	assert.Equal(t, 6, indexes[1])
	assert.True(t, events[1].ExitTime.Equal(at(7)))
	assert.Equal(t, 6*time.Second, events[1].Duration)
}

func TestTracker_GraceResetsOnSighting(t *testing.T) {
	tr := newTestTracker()

	events, indexes := run(t, tr, []tick{
		{0, true},
		{1, true}, // entry, lastSeen=1
		{2, false},
		{4, true}, // lastSeen=4
		{5, false},
		{6, false}, // 6-1 >= 5 but grace restarted at 4
		{8.9, false},
		{9, false}, // 9-4 >= 5
	})

	require.Len(t, events, 2)
	assert.Equal(t, 7, indexes[1])
	assert.True(t, events[1].ExitTime.Equal(at(9)))
	assert.Equal(t, 8*time.Second, events[1].Duration)
}

func TestTracker_TiesAccepted(t *testing.T) {
	tr := newTestTracker()

	_, err := tr.Tick(true, at(1))
	require.NoError(t, err)
	_, err = tr.Tick(true, at(1))
	require.NoError(t, err)
	assert.Equal(t, PhasePendingEntry, tr.Snapshot().Phase)
}

func TestTracker_NonMonotonicTime(t *testing.T) {
	tr := newTestTracker()

	_, err := tr.Tick(true, at(0))
	require.NoError(t, err)
	_, err = tr.Tick(true, at(0.5))
	require.NoError(t, err)

	before := tr.Snapshot()

	ev, err := tr.Tick(false, at(0.2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonMonotonicTime))
	assert.Nil(t, ev)
	assert.Equal(t, before, tr.Snapshot(), "state must be untouched after a rejected tick")

	// Retrying with a corrected timestamp continues from the untouched state.
	ev, err = tr.Tick(true, at(1.0))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, EventEntryConfirmed, ev.Type)
}

func TestTracker_FlushActive(t *testing.T) {
	tr := newTestTracker()
	run(t, tr, []tick{{0, true}, {1, true}, {2, false}})

	ev, err := tr.Flush(at(3))
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, EventExitConfirmed, ev.Type)
	assert.True(t, ev.Forced)
	assert.True(t, ev.EntryTime.Equal(at(1)))
	assert.True(t, ev.ExitTime.Equal(at(3)))
	assert.Equal(t, 2*time.Second, ev.Duration)
	assert.Equal(t, SessionState{Phase: PhaseIdle}, tr.Snapshot())

	// A second flush has nothing to close.
	ev, err = tr.Flush(at(4))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestTracker_FlushIdleAndPending(t *testing.T) {
	tests := []struct {
		name  string
		ticks []tick
	}{
		{"idle", nil},
		{"idle after false ticks", []tick{{0, false}, {1, false}}},
		{"pending", []tick{{0, true}, {0.5, true}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker()
			run(t, tr, tt.ticks)
			before := tr.Snapshot()

			ev, err := tr.Flush(at(2))
			require.NoError(t, err)
			assert.Nil(t, ev)
			assert.Equal(t, before, tr.Snapshot())
		})
	}
}

func TestTracker_FlushNonMonotonic(t *testing.T) {
	tr := newTestTracker()
	run(t, tr, []tick{{0, true}, {1, true}})

	ev, err := tr.Flush(at(0.5))
	assert.ErrorIs(t, err, ErrNonMonotonicTime)
	assert.Nil(t, ev)
	assert.True(t, tr.Snapshot().Active())
}

func TestTracker_SnapshotFields(t *testing.T) {
	tr := newTestTracker()

	_, _ = tr.Tick(true, at(0))
	snap := tr.Snapshot()
	assert.True(t, snap.PendingSince.Equal(at(0)))
	assert.True(t, snap.EntryTime.IsZero())
	assert.True(t, snap.LastSeenTime.IsZero())

	_, _ = tr.Tick(true, at(1))
	_, _ = tr.Tick(true, at(2))
	snap = tr.Snapshot()
	assert.True(t, snap.PendingSince.IsZero())
	assert.True(t, snap.EntryTime.Equal(at(1)))
	assert.True(t, snap.LastSeenTime.Equal(at(2)))
	assert.False(t, snap.LastSeenTime.Before(snap.EntryTime))
}

func TestNewTracker_Defaults(t *testing.T) {
	tr := NewTracker(TrackerConfig{})
	assert.Equal(t, DefaultEntryConfirmDuration, tr.entryConfirm)
	assert.Equal(t, DefaultExitGraceDuration, tr.exitGrace)
	assert.Equal(t, PhaseIdle, tr.Snapshot().Phase)
}

func TestTracker_RandomSequencesAlternate(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		tr := newTestTracker()
		now := epoch
		open := false
		var entry time.Time

		for i := 0; i < 300; i++ {
			now = now.Add(time.Duration(rng.Intn(800)) * time.Millisecond)
			ev, err := tr.Tick(rng.Intn(3) > 0, now)
			require.NoError(t, err)
			if ev == nil {
				continue
			}

			switch ev.Type {
			case EventEntryConfirmed:
				require.False(t, open, "trial %d tick %d: entry while a session is open", trial, i)
				open = true
				entry = ev.EntryTime
			case EventExitConfirmed:
				require.True(t, open, "trial %d tick %d: exit without an open session", trial, i)
				require.True(t, ev.EntryTime.Equal(entry))
				require.Equal(t, ev.ExitTime.Sub(ev.EntryTime), ev.Duration)
				open = false
			}

			require.Equal(t, open, tr.Snapshot().Active())
		}
	}
}
