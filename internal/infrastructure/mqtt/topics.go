package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of every bridge topic.
const DefaultTopicPrefix = "purifier"

// Device topic kinds.
const (
	KindState        = "state"
	KindAvailability = "availability"
	KindCommand      = "command"
	KindAck          = "ack"
	KindEvent        = "event"
)

// Topics builds the bridge's MQTT topics under a prefix.
//
// Device topics use the scheme {prefix}/{kind}/{device_id}:
//
//	topics := mqtt.NewTopics("purifier")
//	topics.DeviceState("living-room")   // purifier/state/living-room
//	topics.DeviceCommand("living-room") // purifier/command/living-room
type Topics struct {
	Prefix string
}

// NewTopics returns topic builders for prefix, or DefaultTopicPrefix when
// prefix is empty. Trailing slashes are removed.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// DeviceState returns the retained full-status topic of a device.
//
// Example: purifier/state/living-room
func (t Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", t.root(), KindState, deviceID)
}

// DeviceAvailability returns the retained online/offline topic of a device.
//
// Example: purifier/availability/living-room
func (t Topics) DeviceAvailability(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", t.root(), KindAvailability, deviceID)
}

// DeviceCommand returns the topic the bridge accepts commands on.
//
// Example: purifier/command/living-room
func (t Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", t.root(), KindCommand, deviceID)
}

// DeviceAck returns the topic for command acknowledgements.
//
// Example: purifier/ack/living-room
func (t Topics) DeviceAck(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", t.root(), KindAck, deviceID)
}

// DeviceEvent returns the topic for a device event such as filter_low.
//
// Example: purifier/event/living-room/filter_low
func (t Topics) DeviceEvent(deviceID, event string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.root(), KindEvent, deviceID, event)
}

// Health returns the retained bridge health topic.
//
// Example: purifier/health
func (t Topics) Health() string {
	return t.root() + "/health"
}

// SystemStatus returns the bridge's online/offline topic, which also
// carries the Last Will.
//
// Example: purifier/system/status
func (t Topics) SystemStatus() string {
	return t.root() + "/system/status"
}

// AllDeviceCommands returns the wildcard the bridge subscribes to for
// commands addressed to any device.
//
// Pattern: purifier/command/+
func (t Topics) AllDeviceCommands() string {
	return t.DeviceCommand("+")
}

// ParseDeviceTopic splits a device topic into its kind and device ID.
// Event topics return the event name as well.
//
// Returns ok=false for topics outside the prefix or with an unknown kind.
func (t Topics) ParseDeviceTopic(topic string) (kind, deviceID, event string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.root()+"/")
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 2 && parts[1] != "":
		switch parts[0] {
		case KindState, KindAvailability, KindCommand, KindAck:
			return parts[0], parts[1], "", true
		}
	case len(parts) == 3 && parts[0] == KindEvent && parts[1] != "" && parts[2] != "":
		return KindEvent, parts[1], parts[2], true
	}
	return "", "", "", false
}
