package mqtt

import "strings"

// Topics builds the gateway's sensor and command topics from the two
// configured base topics.
//
//	topics := mqtt.NewTopics("sensors", "commands")
//	topics.Sensor("line1/temp")         // "sensors/line1/temp"
//	topics.CommandFilter()              // "commands/#"
//	topics.CommandSuffix("commands/a/b") // "a/b", true
type Topics struct {
	sensors  string
	commands string
}

// NewTopics returns builders for the given base topics.
// Leading and trailing slashes are ignored.
func NewTopics(sensorBase, commandBase string) Topics {
	return Topics{
		sensors:  strings.Trim(sensorBase, "/"),
		commands: strings.Trim(commandBase, "/"),
	}
}

// Sensor returns the topic a tag's values are published to.
func (t Topics) Sensor(suffix string) string {
	return t.sensors + "/" + suffix
}

// Command returns the topic a tag's writes are received on.
func (t Topics) Command(suffix string) string {
	return t.commands + "/" + suffix
}

// CommandFilter returns the subscription filter covering every command topic.
func (t Topics) CommandFilter() string {
	return t.commands + "/#"
}

// CommandSuffix strips the command base from topic.
// It reports false when topic is not below the command base.
func (t Topics) CommandSuffix(topic string) (string, bool) {
	prefix := t.commands + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	suffix := strings.TrimPrefix(topic, prefix)
	if suffix == "" {
		return "", false
	}
	return suffix, true
}
