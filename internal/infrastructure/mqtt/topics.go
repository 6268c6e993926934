package mqtt

import "fmt"

// DefaultTopicPrefix is the root of every mfcd topic.
const DefaultTopicPrefix = "mfc"

// Topics builds mfcd MQTT topics under a configurable prefix.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.NewTopics("mfc")
//	topics.DeviceState("CH4")    // "mfc/state/CH4"
//	topics.Safety("purge")       // "mfc/safety/purge"
//
// Hierarchy:
//
//	<prefix>/command/<device>   JSON device commands (set_flow, close, wink, ...)
//	<prefix>/ack/<device>       command acknowledgements
//	<prefix>/state/<device>     retained device state from the sampler
//	<prefix>/safety/<action>    emergency_stop, purge, close_all requests
//	<prefix>/event/<kind>       safety outcomes (purge reports, stops)
//	<prefix>/system/status      online/offline with LWT
type Topics struct {
	Prefix string
}

// NewTopics returns builders for prefix, falling back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// DeviceCommand returns the command topic for one device.
func (t Topics) DeviceCommand(device string) string {
	return fmt.Sprintf("%s/command/%s", t.prefix(), device)
}

// DeviceAck returns the acknowledgement topic for one device.
func (t Topics) DeviceAck(device string) string {
	return fmt.Sprintf("%s/ack/%s", t.prefix(), device)
}

// DeviceState returns the retained state topic for one device.
func (t Topics) DeviceState(device string) string {
	return fmt.Sprintf("%s/state/%s", t.prefix(), device)
}

// Safety returns the request topic for a safety action.
func (t Topics) Safety(action string) string {
	return fmt.Sprintf("%s/safety/%s", t.prefix(), action)
}

// Event returns the topic for a published safety outcome.
func (t Topics) Event(kind string) string {
	return fmt.Sprintf("%s/event/%s", t.prefix(), kind)
}

// SystemStatus returns the daemon's status topic, also used for the LWT.
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// AllDeviceCommands matches every device command topic.
func (t Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/command/+", t.prefix())
}

// AllSafety matches every safety request topic.
func (t Topics) AllSafety() string {
	return fmt.Sprintf("%s/safety/+", t.prefix())
}

// AllDeviceStates matches every device state topic.
func (t Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/state/+", t.prefix())
}

// LastSegment returns the part of topic after the final '/', which is the
// device name or safety action for the topics above.
func LastSegment(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return topic
}
