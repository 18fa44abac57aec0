package widget

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that an identifier does not map to any resource.
	ErrNotFound = errors.New("resource not found")

	// ErrTraversalRejected reports an asset path that would escape its root.
	// It wraps ErrNotFound so callers cannot tell the two apart.
	ErrTraversalRejected = fmt.Errorf("%w: path escapes asset root", ErrNotFound)

	// ErrEntryMissing is returned by Locator when a widget has neither a
	// built nor a development entry document.
	ErrEntryMissing = errors.New("widget entry document missing")
)

// ValidationError reports a tool call whose arguments do not satisfy the
// tool's input schema.
type ValidationError struct {
	// Field is the offending argument name. Empty when the failure concerns
	// the argument object as a whole.
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field == "":
		return "invalid arguments: " + e.Reason
	case e.Reason == "":
		return fmt.Sprintf("missing required argument %q", e.Field)
	default:
		return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
	}
}
