package alloc

import (
	"hash/fnv"
	"math/rand/v2"
	"net/netip"
	"sync"

	"isc.org/tern/dhcpcfg"
	ternutil "isc.org/tern/util"
)

// A Pool exposes the candidates of an address pool or a delegated
// prefix pool as a sequence addressed by a zero-based offset. For the
// prefix pools a candidate is the first address of the delegated
// prefix.
type Pool interface {
	// Number of candidates in the pool.
	Size() uint64
	// Candidate address at the given offset.
	At(offset uint64) netip.Addr
	// Offset of the candidate address. The second returned value is
	// false when the address is not a candidate of this pool.
	Offset(addr netip.Addr) (uint64, bool)
}

// A Picker selects the candidate addresses probed during one
// allocation. Attempts are counted from zero and restart with every
// allocation.
type Picker interface {
	Pick(pool Pool, attempt int) netip.Addr
}

type addressSpace struct {
	r    ternutil.AddrRange
	size uint64
}

// Returns the picking space of an address pool.
func NewAddressPool(pool *dhcpcfg.AddressPool) (Pool, error) {
	r, err := pool.Range()
	if err != nil {
		return nil, err
	}
	size, ok := r.Size64()
	if !ok {
		size = ^uint64(0)
	}
	return &addressSpace{r: r, size: size}, nil
}

func (space *addressSpace) Size() uint64 {
	return space.size
}

func (space *addressSpace) At(offset uint64) netip.Addr {
	if offset >= space.size {
		return netip.Addr{}
	}
	return space.r.At(offset)
}

func (space *addressSpace) Offset(addr netip.Addr) (uint64, bool) {
	return space.r.Offset(addr)
}

type prefixSpace struct {
	pool dhcpcfg.PrefixPool
	size uint64
}

// Returns the picking space of a delegated prefix pool. The candidates
// step by the delegated prefix length.
func NewPrefixPool(pool *dhcpcfg.PrefixPool) (Pool, error) {
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	return &prefixSpace{pool: *pool, size: pool.Size()}, nil
}

func (space *prefixSpace) Size() uint64 {
	return space.size
}

func (space *prefixSpace) At(offset uint64) netip.Addr {
	if offset >= space.size {
		return netip.Addr{}
	}
	prefix, err := space.pool.At(offset)
	if err != nil {
		return netip.Addr{}
	}
	return prefix.Addr()
}

func (space *prefixSpace) Offset(addr netip.Addr) (uint64, bool) {
	if !addr.IsValid() || addr.Unmap().Is4() {
		return 0, false
	}
	return space.pool.Offset(netip.PrefixFrom(addr, space.pool.DelegatedLen))
}

// The iterative picker sweeps the pool in the address order, resuming
// after the last picked candidate across allocations. One picker
// instance must serve one pool.
type IterativePicker struct {
	mu     sync.Mutex
	cursor uint64
	primed bool
}

func NewIterativePicker() *IterativePicker {
	return &IterativePicker{}
}

func (picker *IterativePicker) Pick(pool Pool, attempt int) netip.Addr {
	size := pool.Size()
	if size == 0 {
		return netip.Addr{}
	}
	picker.mu.Lock()
	defer picker.mu.Unlock()
	if picker.primed {
		picker.cursor = (picker.cursor + 1) % size
	} else {
		picker.primed = true
		picker.cursor = 0
	}
	return pool.At(picker.cursor)
}

// The random picker draws the candidates uniformly from the pool.
type RandomPicker struct{}

func NewRandomPicker() *RandomPicker {
	return &RandomPicker{}
}

func (picker *RandomPicker) Pick(pool Pool, attempt int) netip.Addr {
	size := pool.Size()
	if size == 0 {
		return netip.Addr{}
	}
	return pool.At(rand.Uint64N(size))
}

// The hashed picker starts at the offset derived from the client key
// and probes the following candidates in the ascending order, so the
// same client maps to the same address on every server sharing the
// configuration.
type HashedPicker struct {
	seed uint64
}

func NewHashedPicker(clientKey []byte) *HashedPicker {
	hash := fnv.New64a()
	hash.Write(clientKey)
	return &HashedPicker{seed: hash.Sum64()}
}

func (picker *HashedPicker) Pick(pool Pool, attempt int) netip.Addr {
	size := pool.Size()
	if size == 0 {
		return netip.Addr{}
	}
	return pool.At((picker.seed + uint64(attempt)) % size)
}
