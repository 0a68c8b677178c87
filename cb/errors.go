package cb

import (
	"github.com/pkg/errors"
)

// Errors shared by all configuration backends.
var (
	// Returned by the operations addressed with a server selector the
	// backend does not support for that operation, e.g. reading with
	// the unassigned selector.
	ErrNotImplemented = errors.New("not implemented")
	// Returned when an operation argument is malformed, e.g. a write
	// addressed with a selector invalid for writes or a reserved
	// server tag.
	ErrInvalidParameter = errors.New("invalid parameter")
	// Returned when a backend is opened over a schema whose major
	// version differs from the one expected by the code.
	ErrIncompatibleSchema = errors.New("incompatible schema version")
)
