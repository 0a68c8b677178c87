package dhcpmodel

import (
	"github.com/pkg/errors"
)

// Type of a DHCPv6 lease. DHCPv4 leases carry no type.
type LeaseType int

// Valid lease types. The numeric values are shared with the lease
// backends, the lease file format and the wire representation of the
// identity association types.
const (
	LeaseTypeNA LeaseType = 0
	LeaseTypeTA LeaseType = 1
	LeaseTypePD LeaseType = 2
)

// Returns the textual lease type representation: IA_NA, IA_TA or IA_PD.
func (lt LeaseType) String() string {
	switch lt {
	case LeaseTypeNA:
		return "IA_NA"
	case LeaseTypeTA:
		return "IA_TA"
	case LeaseTypePD:
		return "IA_PD"
	}
	return "unknown"
}

// Parses a lease type from its textual representation.
func ParseLeaseType(text string) (LeaseType, error) {
	switch text {
	case "IA_NA":
		return LeaseTypeNA, nil
	case "IA_TA":
		return LeaseTypeTA, nil
	case "IA_PD":
		return LeaseTypePD, nil
	}
	return 0, errors.Errorf("invalid lease type %s", text)
}

// State of a lease. The numeric values are part of the persistent
// representation and must not be renumbered.
type LeaseState int

// Valid lease states. A default lease is an ordinary active or expired
// lease. A declined lease was reported in use by a client and remains
// quarantined until its probation elapses. An expired-reclaimed lease
// was returned to the free pool; its row may persist for history and
// may be reused by a subsequent allocation.
const (
	LeaseStateDefault          LeaseState = 0
	LeaseStateDeclined         LeaseState = 1
	LeaseStateExpiredReclaimed LeaseState = 2
)

// Returns the textual lease state representation.
func (ls LeaseState) String() string {
	switch ls {
	case LeaseStateDefault:
		return "default"
	case LeaseStateDeclined:
		return "declined"
	case LeaseStateExpiredReclaimed:
		return "expired-reclaimed"
	}
	return "unknown"
}
