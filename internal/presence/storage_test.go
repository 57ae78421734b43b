package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/jeeves-presence/pkg/redis"
)

func setupTestRedis(t *testing.T) (redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClientWithAddress(mr.Addr(), "", 0, newTestLogger())
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestStorage_StateRoundTrip(t *testing.T) {
	client, mr := setupTestRedis(t)
	storage := NewStorage(client, 10, newTestLogger())
	ctx := context.Background()

	entry := time.Date(2026, 10, 14, 8, 0, 1, 0, time.UTC)
	seen := entry.Add(3 * time.Second)

	err := storage.SaveState(ctx, "gate", "session-1", SessionState{
		Phase:        PhaseGraceExit,
		EntryTime:    entry,
		LastSeenTime: seen,
	}, seen.Add(time.Second))
	require.NoError(t, err)

	stored, err := storage.GetState(ctx, "gate")
	require.NoError(t, err)
	assert.Equal(t, PhaseGraceExit, stored.Phase)
	assert.Equal(t, "session-1", stored.SessionID)
	require.NotNil(t, stored.EntryTime)
	assert.True(t, stored.EntryTime.Equal(entry))
	require.NotNil(t, stored.LastSeenTime)
	assert.True(t, stored.LastSeenTime.Equal(seen))
	assert.True(t, stored.UpdatedAt.Equal(seen.Add(time.Second)))
	assert.Equal(t, presenceDataTTL, mr.TTL(redis.PresenceStateKey("gate")))

	// Returning to idle clears the session fields
	require.NoError(t, storage.SaveState(ctx, "gate", "", SessionState{Phase: PhaseIdle}, seen.Add(10*time.Second)))
	stored, err = storage.GetState(ctx, "gate")
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, stored.Phase)
	assert.Empty(t, stored.SessionID)
	assert.Nil(t, stored.EntryTime)
	assert.Nil(t, stored.LastSeenTime)
}

func TestStorage_UnknownCameraIsIdle(t *testing.T) {
	client, _ := setupTestRedis(t)
	storage := NewStorage(client, 10, newTestLogger())

	stored, err := storage.GetState(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, stored.Phase)
}

func TestStorage_EventHistoryCapped(t *testing.T) {
	client, _ := setupTestRedis(t)
	storage := NewStorage(client, 3, newTestLogger())
	ctx := context.Background()

	base := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ev := Event{Type: EventEntryConfirmed, EntryTime: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, storage.AppendEvent(ctx, NewEventRecord("gate", "s", ev)))
	}

	records, err := storage.RecentEvents(ctx, "gate")
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Oldest surviving first
	assert.True(t, records[0].EntryTime.Equal(base.Add(2*time.Minute)))
	assert.True(t, records[2].EntryTime.Equal(base.Add(4*time.Minute)))
}

func TestStorage_RedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	storage := NewStorage(client, 3, newTestLogger())
	mr.Close()

	err := storage.SaveState(context.Background(), "gate", "", SessionState{Phase: PhaseIdle}, time.Now())
	assert.Error(t, err)
}
