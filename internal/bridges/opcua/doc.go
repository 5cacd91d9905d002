// Package opcua implements the OPC UA to MQTT gateway core.
//
// It mirrors value changes from an OPC UA server onto broker topics and
// routes inbound command messages back into OPC UA writes.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   OPC UA        │  change  │    Gateway      │   MQTT
//	│   server        │─────────►│   (this pkg)    │◄────────► Broker
//	│                 │◄─────────│                 │
//	└─────────────────┘  write   └─────────────────┘
//
// # Components
//
//   - AutomationSession: one OPC UA connection (resolve, subscribe, read, write)
//   - MessagingSession: one broker connection (publish, command stream)
//   - Translator: change value to sensor payload, command payload to write
//   - Supervisor: connect order, bounded retry, unbounded restart loop
//   - CyclicPublisher: fixed-interval polling mode
//
// # Wire Format
//
// Sensor values are published to <sensors>/<suffix>:
//
//	{"value":23.5,"type":"Float","ts":"2024-01-01T00:00:00Z"}
//
// ts is the gateway's UTC clock, at second precision, when the value was
// forwarded or polled. It is not the server's source timestamp.
//
// Commands arrive on <commands>/# with body {"value": <v>}. The part of
// the topic after the command base selects the tag.
//
// # Lifecycle
//
//	Idle → ConnectingMessaging → ConnectingAutomation → SubscribingTags
//	     → Running → Restarting → ConnectingMessaging …
//
// Stopped is entered only when the Run context ends.
//
// # Errors
//
// Parse, write and coercion errors are logged and the message dropped.
// Connect and publish errors end the cycle and trigger a restart.
//
// # Thread Safety
//
// Sessions, Translator and Supervisor.Status are safe for concurrent use.
package opcua
