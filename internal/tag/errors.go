package tag

import "errors"

// Domain errors for the tag package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, tag.ErrConfig) {
//	    // tag table rejected at load time
//	}
var (
	// ErrConfig is returned when the tag table is malformed.
	// Every load-time rejection wraps this error.
	ErrConfig = errors.New("tag: invalid tag table")

	// ErrDuplicateName is returned when two tags share a name.
	ErrDuplicateName = errors.New("tag: duplicate name")

	// ErrDuplicateTopic is returned when two command-enabled tags share a topic suffix.
	ErrDuplicateTopic = errors.New("tag: duplicate command topic suffix")

	// ErrUnsupportedType is returned when a declared value type is not supported.
	ErrUnsupportedType = errors.New("tag: unsupported value type")

	// ErrCoercion is returned when a value cannot be converted to a tag's value type.
	ErrCoercion = errors.New("tag: value coercion failed")

	// ErrHandleConflict is returned when a handle is already bound to another tag.
	ErrHandleConflict = errors.New("tag: handle already bound")

	// ErrNotFound is returned when a tag name is not in the registry.
	ErrNotFound = errors.New("tag: not found")
)
