// Package opcua provides the gateway's OPC UA client, built on gopcua.
//
// A Client is one session: endpoint discovery and selection, optional
// message security from a certificate and key on disk, username or
// anonymous authentication, a single change subscription, single-node
// reads and writes, and a heartbeat read of the server CurrentTime node.
//
// Node addresses are OPC UA node id strings ("ns=2;s=Line1.Temperature",
// "i=2258"). Values cross the package boundary as plain Go values
// (int32, float32, bool, string, ...). Callers never see ua types.
//
// The client never reconnects on its own. A broken session shows up as
// an error from Ping, Read or Write, or as an Err notification on the
// subscription stream; the owner closes the client and dials again.
package opcua
