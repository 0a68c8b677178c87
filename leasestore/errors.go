package leasestore

import (
	"github.com/pkg/errors"
)

// Errors shared by all lease store backends.
var (
	// Returned by the update operations when the primary key matches
	// no row.
	ErrNoSuchLease = errors.New("lease not found")
	// Returned when a store is opened over an on-disk schema whose major
	// version differs from the one expected by the code. The store
	// refuses to operate in that case.
	ErrIncompatibleSchema = errors.New("incompatible schema version")
)
