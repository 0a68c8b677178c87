package alloc

import (
	"net/netip"
	"sync"

	"github.com/bits-and-blooms/bitset"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/dhcpsrv"
)

// Largest pool tracked with an occupancy bitmap. Larger pools rely on
// the store probes alone.
const trackerCapacity = 1 << 20

// Occupancy state of one pool. The bitmap is a cache over the store:
// a set bit skips a candidate cheaply, a clear bit still requires a
// store probe before the insert.
type poolState struct {
	space     Pool
	size      uint64
	iterative *IterativePicker

	mu   sync.Mutex
	used *bitset.BitSet
}

func newPoolState(space Pool) *poolState {
	state := &poolState{
		space:     space,
		size:      space.Size(),
		iterative: NewIterativePicker(),
	}
	if state.size > 0 && state.size <= trackerCapacity {
		state.used = bitset.New(uint(state.size))
	}
	return state
}

func (state *poolState) markUsed(addr netip.Addr) {
	if state.used == nil {
		return
	}
	if offset, ok := state.space.Offset(addr); ok {
		state.mu.Lock()
		state.used.Set(uint(offset))
		state.mu.Unlock()
	}
}

func (state *poolState) markFree(addr netip.Addr) {
	if state.used == nil {
		return
	}
	if offset, ok := state.space.Offset(addr); ok {
		state.mu.Lock()
		state.used.Clear(uint(offset))
		state.mu.Unlock()
	}
}

// Returns true when the candidate is known to be taken. An untracked
// pool reports every candidate as possibly free.
func (state *poolState) isUsed(addr netip.Addr) bool {
	if state.used == nil {
		return false
	}
	offset, ok := state.space.Offset(addr)
	if !ok {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.used.Test(uint(offset))
}

// Returns true when every candidate of a tracked pool is taken.
func (state *poolState) full() bool {
	if state.used == nil {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return uint64(state.used.Count()) >= state.size
}

// Occupancy state of one subnet, the pool states in the declaration
// order. An invalid pool yields a nil entry and is skipped by the
// allocation.
type subnetState struct {
	pools   []*poolState
	pdPools []*poolState
}

func (state *subnetState) markUsed(addr netip.Addr) {
	for _, pool := range state.pools {
		if pool != nil {
			pool.markUsed(addr)
		}
	}
	for _, pool := range state.pdPools {
		if pool != nil {
			pool.markUsed(addr)
		}
	}
}

func (state *subnetState) markFree(addr netip.Addr) {
	for _, pool := range state.pools {
		if pool != nil {
			pool.markFree(addr)
		}
	}
	for _, pool := range state.pdPools {
		if pool != nil {
			pool.markFree(addr)
		}
	}
}

// Occupancy states of one address family, rebuilt lazily per subnet
// when a new configuration snapshot is committed. The iterative
// allocator cursors reset together with the states.
type familyState struct {
	mu       sync.Mutex
	snapshot *dhcpsrv.Snapshot
	subnets  map[dhcpmodel.SubnetID]*subnetState
}

// Returns the state of the subnet when it was already built from the
// given snapshot. The family mutex must be held.
func (state *familyState) get(snapshot *dhcpsrv.Snapshot, subnetID dhcpmodel.SubnetID) (*subnetState, bool) {
	if state.snapshot != snapshot {
		state.snapshot = snapshot
		state.subnets = make(map[dhcpmodel.SubnetID]*subnetState)
		return nil, false
	}
	built, ok := state.subnets[subnetID]
	return built, ok
}

func (state *familyState) free(subnetID dhcpmodel.SubnetID, addr netip.Addr) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if built, ok := state.subnets[subnetID]; ok {
		built.markFree(addr)
	}
}

func (state *familyState) occupy(subnetID dhcpmodel.SubnetID, addr netip.Addr) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if built, ok := state.subnets[subnetID]; ok {
		built.markUsed(addr)
	}
}
