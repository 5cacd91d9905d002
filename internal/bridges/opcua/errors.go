package opcua

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the gateway bridge. Every *GatewayError matches
// exactly one of these with errors.Is.
var (
	// ErrConfig marks a malformed tag table or security descriptor.
	// Fatal at startup.
	ErrConfig = errors.New("gateway: configuration error")

	// ErrConnect marks a failed session connect or a lost connection.
	ErrConnect = errors.New("gateway: connect error")

	// ErrParse marks a malformed or unroutable inbound command. Never fatal.
	ErrParse = errors.New("gateway: parse error")

	// ErrWrite marks a write the automation side rejected. Never fatal.
	ErrWrite = errors.New("gateway: write error")

	// ErrPublish marks a publish the broker rejected. Session-fatal.
	ErrPublish = errors.New("gateway: publish error")

	// ErrCoercion marks a value that does not fit the tag's value type.
	ErrCoercion = errors.New("gateway: coercion error")
)

// Kind classifies a GatewayError.
type Kind string

// Error kinds.
const (
	KindConfig   Kind = "ConfigError"
	KindConnect  Kind = "ConnectError"
	KindParse    Kind = "ParseError"
	KindWrite    Kind = "WriteError"
	KindPublish  Kind = "PublishError"
	KindCoercion Kind = "CoercionError"
)

// sentinel returns the package error matching k.
func (k Kind) sentinel() error {
	switch k {
	case KindConfig:
		return ErrConfig
	case KindConnect:
		return ErrConnect
	case KindParse:
		return ErrParse
	case KindWrite:
		return ErrWrite
	case KindPublish:
		return ErrPublish
	case KindCoercion:
		return ErrCoercion
	default:
		return nil
	}
}

// GatewayError carries the context needed to diagnose a failure from
// logs alone.
type GatewayError struct {
	Kind  Kind
	Op    string
	Tag   string
	Topic string
	Value any
	Err   error
}

// Error implements error.
func (e *GatewayError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Tag != "" {
		fmt.Fprintf(&b, " tag=%s", e.Tag)
	}
	if e.Topic != "" {
		fmt.Fprintf(&b, " topic=%s", e.Topic)
	}
	if e.Value != nil {
		fmt.Fprintf(&b, " value=%v", e.Value)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is.
func (e *GatewayError) Unwrap() []error {
	out := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// LogArgs returns the error's context as slog key-value pairs.
func (e *GatewayError) LogArgs() []any {
	args := []any{"kind", string(e.Kind)}
	if e.Op != "" {
		args = append(args, "op", e.Op)
	}
	if e.Tag != "" {
		args = append(args, "tag", e.Tag)
	}
	if e.Topic != "" {
		args = append(args, "topic", e.Topic)
	}
	if e.Value != nil {
		args = append(args, "value", e.Value)
	}
	if e.Err != nil {
		args = append(args, "error", e.Err)
	}
	return args
}

// newError builds a GatewayError with only kind, op and cause set.
func newError(kind Kind, op string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Op: op, Err: err}
}

// errorArgs returns log arguments for any error, expanding GatewayError context.
func errorArgs(err error) []any {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.LogArgs()
	}
	return []any{"error", err}
}

// IsFatal reports whether err must end the current supervisor cycle.
// Parse, write and coercion errors are absorbed where they occur.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrParse) && !errors.Is(err, ErrWrite) && !errors.Is(err, ErrCoercion)
}
