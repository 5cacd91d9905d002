package tag

import (
	"fmt"
	"strings"
)

// ValueType identifies the automation-side data type of a tag.
type ValueType string

// Supported value types. The names match the OPC UA built-in type names
// and appear verbatim in the "type" field of published payloads.
const (
	Int32   ValueType = "Int32"
	Float   ValueType = "Float"
	Boolean ValueType = "Boolean"
	String  ValueType = "String"
)

// AllValueTypes returns every supported value type.
func AllValueTypes() []ValueType {
	return []ValueType{Int32, Float, Boolean, String}
}

// ParseValueType converts a type name into a ValueType.
// Matching is case-insensitive; "Bool" and "Float32" are accepted aliases.
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int32":
		return Int32, nil
	case "float", "float32":
		return Float, nil
	case "boolean", "bool":
		return Boolean, nil
	case "string":
		return String, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
	}
}

// Valid reports whether v is one of the supported value types.
func (v ValueType) Valid() bool {
	switch v {
	case Int32, Float, Boolean, String:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (v ValueType) String() string {
	return string(v)
}

// Handle is the live monitored-item handle the automation side reports
// with every change notification.
type Handle uint32

// Definition describes a single tag. It is immutable once loaded.
type Definition struct {
	// Name is the unique logical tag name (e.g., "temperature").
	Name string

	// Address is the automation-side locator, an OPC UA node id string
	// such as "ns=2;s=Line1.Temperature".
	Address string

	// TopicSuffix is appended to both the sensor and the command base topic.
	TopicSuffix string

	// Type is the declared value type.
	Type ValueType

	// Command marks the tag as a target for inbound write commands.
	Command bool
}
