package alloc

import "github.com/pkg/errors"

var (
	// Returned when an allocation exhausted the retry budgets of all
	// candidate subnets without finding a free address or prefix.
	ErrNoAddressAvailable = errors.New("no address available")

	// Returned when the address reserved for the requesting client is
	// actively held by another client. Allocate returns this error
	// together with a lease allocated from the free pools instead.
	ErrReservedInUse = errors.New("reserved address is held by another client")

	// Returned when the renewed address is reserved for another client.
	ErrReservedForOther = errors.New("address is reserved for another client")

	// Returned when the lease targeted by a renewal or release belongs
	// to another client.
	ErrClientMismatch = errors.New("lease belongs to another client")

	// Returned when the renewed address no longer lies in an active
	// pool of the subnet.
	ErrOutsidePool = errors.New("address does not belong to an active pool")
)
