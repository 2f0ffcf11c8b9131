package mqtt

import "strings"

// DefaultTopicPrefix is used when the configuration leaves topic_prefix empty.
const DefaultTopicPrefix = "adms"

// Topics builds the topic names used by the ADMS server.
//
// Every topic lives under a single configurable prefix:
//
//	{prefix}/system/status            server online/offline (retained, LWT)
//	{prefix}/health                   bridge health reports
//	{prefix}/event/{sn}/{type}        device events
//	{prefix}/command/{sn}             operator commands for a device
//	{prefix}/ack/{sn}                 command acknowledgements
//	{prefix}/response/{sn}            command results
type Topics struct {
	Prefix string
}

// NewTopics returns a topic builder for prefix, falling back to
// DefaultTopicPrefix when prefix is empty.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) join(parts ...string) string {
	prefix := t.Prefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// SystemStatus returns the retained server status topic.
func (t Topics) SystemStatus() string {
	return t.join("system", "status")
}

// Health returns the bridge health topic.
func (t Topics) Health() string {
	return t.join("health")
}

// Event returns the topic for an event of eventType raised by device sn.
func (t Topics) Event(sn, eventType string) string {
	return t.join("event", Segment(sn), Segment(eventType))
}

// DeviceEvents matches every event raised by device sn.
func (t Topics) DeviceEvents(sn string) string {
	return t.join("event", Segment(sn), "#")
}

// AllEvents matches every device event.
func (t Topics) AllEvents() string {
	return t.join("event", "#")
}

// Command returns the command topic for device sn.
func (t Topics) Command(sn string) string {
	return t.join("command", Segment(sn))
}

// AllCommands matches the command topic of every device.
func (t Topics) AllCommands() string {
	return t.join("command", "+")
}

// Ack returns the acknowledgement topic for device sn.
func (t Topics) Ack(sn string) string {
	return t.join("ack", Segment(sn))
}

// Response returns the command result topic for device sn.
func (t Topics) Response(sn string) string {
	return t.join("response", Segment(sn))
}

// CommandSerial extracts the device serial number from a command topic.
// It returns false when topic is not a command topic under this prefix.
func (t Topics) CommandSerial(topic string) (string, bool) {
	base := t.join("command") + "/"
	if !strings.HasPrefix(topic, base) {
		return "", false
	}
	sn := strings.TrimPrefix(topic, base)
	if sn == "" || strings.Contains(sn, "/") {
		return "", false
	}
	return sn, true
}

// Segment makes s safe to use as a single topic level.
// Wildcards and separators are replaced with underscores.
func Segment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, s)
}
