package presence

import "time"

// EventRecord is the published and mirrored form of an Event, tagged with
// the camera and session it belongs to
type EventRecord struct {
	Event           EventType  `json:"event"`
	Camera          string     `json:"camera"`
	SessionID       string     `json:"session_id"`
	EntryTime       time.Time  `json:"entry_time"`
	ExitTime        *time.Time `json:"exit_time,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	Forced          bool       `json:"forced,omitempty"`
}

// NewEventRecord builds the record for an event
func NewEventRecord(camera, sessionID string, ev Event) EventRecord {
	record := EventRecord{
		Event:     ev.Type,
		Camera:    camera,
		SessionID: sessionID,
		EntryTime: ev.EntryTime.UTC(),
		Forced:    ev.Forced,
	}

	if ev.Type == EventExitConfirmed {
		exit := ev.ExitTime.UTC()
		seconds := ev.Duration.Seconds()
		record.ExitTime = &exit
		record.DurationSeconds = &seconds
	}

	return record
}
