package mqtt

import (
	"fmt"
	"strings"
)

// Topic constants for the presence pipeline
const (
	// Detector frames (input), one topic per camera
	TopicRawDetections = "automation/raw/detections/+"

	// Presence events and retained state (output)
	TopicPresenceBase = "automation/presence"

	// Agent liveness, retained, carries "online" or "offline"
	TopicStatusBase = "automation/status"
)

// RawDetectionTopic constructs the frame topic for a camera
// Pattern: automation/raw/detections/{camera}
func RawDetectionTopic(camera string) string {
	return fmt.Sprintf("automation/raw/detections/%s", camera)
}

// PresenceEventTopic constructs the entry/exit event topic for a camera
// Pattern: automation/presence/{camera}
func PresenceEventTopic(camera string) string {
	return fmt.Sprintf("%s/%s", TopicPresenceBase, camera)
}

// PresenceStateTopic constructs the retained phase topic for a camera
// Pattern: automation/presence/{camera}/state
func PresenceStateTopic(camera string) string {
	return fmt.Sprintf("%s/%s/state", TopicPresenceBase, camera)
}

// StatusTopic constructs the retained liveness topic for a service
// Pattern: automation/status/{service}
func StatusTopic(service string) string {
	return fmt.Sprintf("%s/%s", TopicStatusBase, service)
}

// LastSegment returns the final level of a topic, which carries the camera
// or location in every pattern above
func LastSegment(topic string) string {
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
