package mqtt

import "strings"

// TopicRoot is the first level of every topic this box uses.
const TopicRoot = "tagbox"

// Command names accepted under command/.
const (
	CommandStop   = "stop"
	CommandVolume = "volume"
)

// Topics builds the topic tree of one box:
//
//	tagbox/{device_id}/status          online/offline, retained, also the LWT
//	tagbox/{device_id}/state/track     current track, retained
//	tagbox/{device_id}/state/volume    current volume, retained
//	tagbox/{device_id}/event/{name}    one message per notification
//	tagbox/{device_id}/command/{name}  inbound commands
type Topics struct {
	DeviceID string
}

func (t Topics) prefix() string {
	return TopicRoot + "/" + t.DeviceID
}

// Status returns the availability topic.
//
// Example: tagbox/nursery/status
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// TrackState returns the retained current-track topic.
func (t Topics) TrackState() string {
	return t.prefix() + "/state/track"
}

// VolumeState returns the retained volume topic.
func (t Topics) VolumeState() string {
	return t.prefix() + "/state/volume"
}

// Event returns the topic for a notification channel.
//
// Example: tagbox/nursery/event/track_update
func (t Topics) Event(name string) string {
	return t.prefix() + "/event/" + name
}

// Command returns the topic for a named command.
//
// Example: tagbox/nursery/command/volume
func (t Topics) Command(name string) string {
	return t.prefix() + "/command/" + name
}

// AllCommands returns the wildcard subscription for every command.
func (t Topics) AllCommands() string {
	return t.prefix() + "/command/+"
}

// CommandName extracts the command name from a topic under command/.
// It reports false for any other topic, including another box's.
func (t Topics) CommandName(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.prefix()+"/command/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
