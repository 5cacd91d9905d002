package opcua

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/opcua-mqtt-gateway/internal/tag"
)

// TimestampLayout is the ISO-8601 UTC, second-precision layout of "ts".
const TimestampLayout = "2006-01-02T15:04:05Z"

// OutboundMessage is one sensor value ready to publish.
type OutboundMessage struct {
	TagName   string
	Topic     string
	Value     any
	Type      tag.ValueType
	Timestamp time.Time
	Payload   []byte
}

// InboundCommand is one routed write request.
type InboundCommand struct {
	TagName     string
	TopicSuffix string
	Type        tag.ValueType
	Value       any
}

// sensorPayload is the published wire body. Field order is part of the contract.
type sensorPayload struct {
	Value any    `json:"value"`
	Type  string `json:"type"`
	TS    string `json:"ts"`
}

// Translator converts between change notifications and broker messages.
// It holds no state beyond the registry and topic layout and is safe
// for concurrent use.
type Translator struct {
	registry *tag.Registry
	topics   mqtt.Topics
}

// NewTranslator returns a Translator over reg.
func NewTranslator(reg *tag.Registry, topics mqtt.Topics) *Translator {
	return &Translator{registry: reg, topics: topics}
}

// ToMessage builds the sensor message for a tag value observed at now.
//
// The value is normalised to vt before encoding. A value that cannot be
// normalised yields a CoercionError.
func (t *Translator) ToMessage(tagName string, value any, vt tag.ValueType, now time.Time) (OutboundMessage, error) {
	def, ok := t.registry.ByName(tagName)
	if !ok {
		return OutboundMessage{}, &GatewayError{Kind: KindParse, Op: "to message", Tag: tagName, Err: tag.ErrNotFound}
	}

	coerced, err := tag.Coerce(value, vt)
	if err != nil {
		return OutboundMessage{}, &GatewayError{Kind: KindCoercion, Op: "to message", Tag: tagName, Value: value, Err: err}
	}
	wire := wireValue(coerced)
	ts := now.UTC().Format(TimestampLayout)

	payload, err := json.Marshal(sensorPayload{Value: wire, Type: string(vt), TS: ts})
	if err != nil {
		return OutboundMessage{}, &GatewayError{Kind: KindCoercion, Op: "encode payload", Tag: tagName, Value: value, Err: err}
	}

	return OutboundMessage{
		TagName:   tagName,
		Topic:     t.topics.Sensor(def.TopicSuffix),
		Value:     wire,
		Type:      vt,
		Timestamp: now.UTC().Truncate(time.Second),
		Payload:   payload,
	}, nil
}

// FromMessage parses an inbound command body received for topicSuffix.
//
// The body must be a JSON object with a non-null "value" field and the
// suffix must route to a command-enabled tag. Anything else yields a
// ParseError. The value is returned as decoded; numbers arrive as
// json.Number so integer precision is kept until coercion.
func (t *Translator) FromMessage(topicSuffix string, raw []byte) (InboundCommand, error) {
	topic := t.topics.Command(topicSuffix)

	def, ok := t.registry.ByTopicSuffix(topicSuffix)
	if !ok {
		return InboundCommand{}, &GatewayError{
			Kind: KindParse, Op: "route command", Topic: topic, Value: string(raw),
			Err: fmt.Errorf("no command tag for suffix %q", topicSuffix),
		}
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return InboundCommand{}, &GatewayError{Kind: KindParse, Op: "decode command", Tag: def.Name, Topic: topic, Value: string(raw), Err: err}
	}
	rawValue, ok := body["value"]
	if !ok || bytes.Equal(bytes.TrimSpace(rawValue), []byte("null")) {
		return InboundCommand{}, &GatewayError{
			Kind: KindParse, Op: "decode command", Tag: def.Name, Topic: topic, Value: string(raw),
			Err: errors.New(`missing "value" field`),
		}
	}

	dec := json.NewDecoder(bytes.NewReader(rawValue))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return InboundCommand{}, &GatewayError{Kind: KindParse, Op: "decode value", Tag: def.Name, Topic: topic, Value: string(raw), Err: err}
	}

	return InboundCommand{
		TagName:     def.Name,
		TopicSuffix: topicSuffix,
		Type:        def.Type,
		Value:       value,
	}, nil
}

// wireValue converts a coerced value to its JSON representation.
// float32 is widened to the float64 with the same shortest decimal form.
func wireValue(v any) any {
	f, ok := v.(float32)
	if !ok {
		return v
	}
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return nil
	}
	w, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	if err != nil {
		return float64(f)
	}
	return w
}
