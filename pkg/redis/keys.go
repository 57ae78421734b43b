package redis

import "fmt"

// PresenceStateKey returns the key for a camera's mirrored tracker state (hash)
// Pattern: presence:state:{camera}
func PresenceStateKey(camera string) string {
	return fmt.Sprintf("presence:state:%s", camera)
}

// PresenceEventsKey returns the key for a camera's recent events (list, newest first)
// Pattern: presence:events:{camera}
func PresenceEventsKey(camera string) string {
	return fmt.Sprintf("presence:events:%s", camera)
}
