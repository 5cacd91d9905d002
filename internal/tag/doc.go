// Package tag provides the Tag Registry for the OPC UA ⇄ MQTT gateway.
//
// A tag is a logical process variable: a stable name mapped to one
// OPC UA node address, one MQTT topic suffix and one value type. The
// registry is built once at startup from the tag table and is read-only
// afterwards, except for the handle index which the automation session
// fills in while creating monitored items.
//
// # Lookups
//
//   - ByName: tag name → Definition
//   - ByTopicSuffix: command topic suffix → Definition (command-enabled tags only)
//   - ByHandle: monitored-item client handle → Definition
//
// All lookups are O(1) and return (Definition, bool). Absence is not an
// error; the caller decides whether a miss is fatal.
//
// # Value Types
//
// The supported value types form a closed set (Int32, Float, Boolean,
// String). Coerce converts arbitrary decoded values (JSON numbers,
// strings, OPC UA variants) into the Go representation of a type:
//
//	Int32   → int32
//	Float   → float32
//	Boolean → bool
//	String  → string
//
// # Usage
//
//	reg, err := tag.LoadFile("configs/tags.yaml")
//	if err != nil {
//	    return err // wraps tag.ErrConfig
//	}
//	def, ok := reg.ByTopicSuffix("line1/temp")
//
// # Thread Safety
//
// Registry lookups are safe for concurrent use from multiple goroutines.
package tag
