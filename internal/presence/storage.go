package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/saaga0h/jeeves-presence/pkg/redis"
)

// TTL for mirrored state and event history
const presenceDataTTL = 24 * time.Hour

// Storage mirrors tracker state and recent events into Redis so other
// agents can read current occupancy without subscribing to MQTT
type Storage struct {
	redis     redis.Client
	maxEvents int
	logger    *slog.Logger
}

// NewStorage creates a new storage wrapper
func NewStorage(redisClient redis.Client, maxEvents int, logger *slog.Logger) *Storage {
	return &Storage{
		redis:     redisClient,
		maxEvents: maxEvents,
		logger:    logger,
	}
}

// StoredState is the mirrored view of a camera's tracker
type StoredState struct {
	Phase        Phase
	SessionID    string
	EntryTime    *time.Time
	LastSeenTime *time.Time
	UpdatedAt    time.Time
}

// SaveState writes the camera's current phase.
// Pattern: presence:state:{camera} (hash)
func (s *Storage) SaveState(ctx context.Context, camera, sessionID string, state SessionState, at time.Time) error {
	key := redis.PresenceStateKey(camera)

	fields := map[string]interface{}{
		"phase":        string(state.Phase),
		"sessionId":    sessionID,
		"entryTime":    "",
		"lastSeenTime": "",
		"updatedAt":    strconv.FormatInt(at.UnixMilli(), 10),
	}
	if state.Active() {
		fields["entryTime"] = strconv.FormatInt(state.EntryTime.UnixMilli(), 10)
		fields["lastSeenTime"] = strconv.FormatInt(state.LastSeenTime.UnixMilli(), 10)
	}

	if err := s.redis.HSet(ctx, key, fields); err != nil {
		return fmt.Errorf("failed to save presence state: %w", err)
	}
	if err := s.redis.Expire(ctx, key, presenceDataTTL); err != nil {
		s.logger.Warn("Failed to set TTL on presence state", "camera", camera, "error", err)
	}

	return nil
}

// GetState reads the mirrored state; an unknown camera reads as idle
func (s *Storage) GetState(ctx context.Context, camera string) (*StoredState, error) {
	fields, err := s.redis.HGetAll(ctx, redis.PresenceStateKey(camera))
	if err != nil {
		return nil, err
	}

	state := &StoredState{Phase: PhaseIdle}
	if len(fields) == 0 {
		return state, nil
	}

	if phase, ok := fields["phase"]; ok && phase != "" {
		state.Phase = Phase(phase)
	}
	state.SessionID = fields["sessionId"]
	state.EntryTime = parseMillis(fields["entryTime"])
	state.LastSeenTime = parseMillis(fields["lastSeenTime"])
	if updated := parseMillis(fields["updatedAt"]); updated != nil {
		state.UpdatedAt = *updated
	}

	return state, nil
}

// AppendEvent adds an event to the camera's history (newest first, capped)
// Pattern: presence:events:{camera} (list)
func (s *Storage) AppendEvent(ctx context.Context, record EventRecord) error {
	key := redis.PresenceEventsKey(record.Camera)

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal event record: %w", err)
	}

	if err := s.redis.LPush(ctx, key, string(data)); err != nil {
		return err
	}

	if err := s.redis.LTrim(ctx, key, 0, int64(s.maxEvents-1)); err != nil {
		s.logger.Warn("Failed to trim presence event history", "camera", record.Camera, "error", err)
	}
	if err := s.redis.Expire(ctx, key, presenceDataTTL); err != nil {
		s.logger.Warn("Failed to set TTL on presence events", "camera", record.Camera, "error", err)
	}

	return nil
}

// RecentEvents returns the stored history, oldest first
func (s *Storage) RecentEvents(ctx context.Context, camera string) ([]EventRecord, error) {
	values, err := s.redis.LRange(ctx, redis.PresenceEventsKey(camera), 0, -1)
	if err != nil {
		return nil, err
	}

	records := make([]EventRecord, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		var record EventRecord
		if err := json.Unmarshal([]byte(values[i]), &record); err != nil {
			s.logger.Warn("Failed to parse presence event", "camera", camera, "error", err)
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

func parseMillis(v string) *time.Time {
	if v == "" {
		return nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
