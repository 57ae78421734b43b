package presence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Processor handles parsing of detector frames and building of outbound
// payloads
type Processor struct {
	logger *slog.Logger
}

// NewProcessor creates a new frame processor
func NewProcessor(logger *slog.Logger) *Processor {
	return &Processor{
		logger: logger,
	}
}

// Frame is one detector result for one camera.
// Timestamp is zero when the producer did not stamp the frame.
type Frame struct {
	CameraID   string
	Sequence   int64
	Timestamp  time.Time
	Detections []Detection
}

// framePayload mirrors the wire format with pointers so missing fields can
// be told apart from zero values
type framePayload struct {
	Timestamp  *string         `json:"timestamp"`
	Frame      *int64          `json:"frame"`
	Detections *[]RawDetection `json:"detections"`
}

// ParseFrame parses a frame published on automation/raw/detections/{camera}
func (p *Processor) ParseFrame(topic string, payload []byte) (*Frame, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[len(parts)-1] == "" {
		return nil, fmt.Errorf("%w: invalid topic format %s (expected automation/raw/detections/{camera})", ErrMalformedInput, topic)
	}
	camera := parts[len(parts)-1]

	var raw framePayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON: %v", ErrMalformedInput, err)
	}

	if raw.Detections == nil {
		return nil, fmt.Errorf("%w: missing detections field", ErrMalformedInput)
	}

	detections, err := ToDetections(*raw.Detections)
	if err != nil {
		return nil, err
	}

	frame := &Frame{
		CameraID:   camera,
		Detections: detections,
	}

	if raw.Frame != nil {
		frame.Sequence = *raw.Frame
	}

	if raw.Timestamp != nil {
		ts, err := time.Parse(time.RFC3339Nano, *raw.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timestamp %q: %v", ErrMalformedInput, *raw.Timestamp, err)
		}
		frame.Timestamp = ts
	}

	p.logger.Debug("Parsed detector frame",
		"camera", camera,
		"frame", frame.Sequence,
		"detections", len(frame.Detections))

	return frame, nil
}

// BuildEventPayload serializes an event record for MQTT
func (p *Processor) BuildEventPayload(record EventRecord) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return data, nil
}

// BuildStatePayload serializes the retained per-camera phase message
func (p *Processor) BuildStatePayload(camera, sessionID string, state SessionState, at time.Time) ([]byte, error) {
	payload := map[string]interface{}{
		"camera":     camera,
		"phase":      state.Phase,
		"active":     state.Active(),
		"updated_at": at.UTC().Format(time.RFC3339Nano),
	}
	if sessionID != "" {
		payload["session_id"] = sessionID
	}
	if state.Active() {
		payload["entry_time"] = state.EntryTime.UTC().Format(time.RFC3339Nano)
		payload["last_seen_time"] = state.LastSeenTime.UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state payload: %w", err)
	}
	return data, nil
}
