package alloc

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"isc.org/tern/dhcpcfg"
)

func newTestAddressSpace(t *testing.T, boundaries string) Pool {
	space, err := NewAddressPool(&dhcpcfg.AddressPool{Pool: boundaries})
	require.NoError(t, err)
	return space
}

// A pool with no free space, used to exercise the picker guards.
type emptySpace struct{}

func (emptySpace) Size() uint64                          { return 0 }
func (emptySpace) At(offset uint64) netip.Addr           { return netip.Addr{} }
func (emptySpace) Offset(addr netip.Addr) (uint64, bool) { return 0, false }

// Check the offset arithmetic of an address pool space.
func TestAddressSpace(t *testing.T) {
	space := newTestAddressSpace(t, "192.0.2.2 - 192.0.2.6")
	require.EqualValues(t, 5, space.Size())
	require.Equal(t, netip.MustParseAddr("192.0.2.2"), space.At(0))
	require.Equal(t, netip.MustParseAddr("192.0.2.6"), space.At(4))

	offset, ok := space.Offset(netip.MustParseAddr("192.0.2.4"))
	require.True(t, ok)
	require.EqualValues(t, 2, offset)

	_, ok = space.Offset(netip.MustParseAddr("192.0.2.10"))
	require.False(t, ok)
}

// Check that a prefix pool space counts and addresses whole delegated
// prefixes.
func TestPrefixSpace(t *testing.T) {
	pool := &dhcpcfg.PrefixPool{Prefix: "2001:db8:8::", PrefixLen: 48, DelegatedLen: 64}
	space, err := NewPrefixPool(pool)
	require.NoError(t, err)
	require.EqualValues(t, 1<<16, space.Size())
	require.Equal(t, netip.MustParseAddr("2001:db8:8::"), space.At(0))
	require.Equal(t, netip.MustParseAddr("2001:db8:8:5::"), space.At(5))

	offset, ok := space.Offset(netip.MustParseAddr("2001:db8:8:5::"))
	require.True(t, ok)
	require.EqualValues(t, 5, offset)

	// Addresses outside the pool prefix do not belong to the space.
	_, ok = space.Offset(netip.MustParseAddr("2001:db9::"))
	require.False(t, ok)
	_, ok = space.Offset(netip.MustParseAddr("192.0.2.1"))
	require.False(t, ok)
}

// Check that an invalid prefix pool is rejected.
func TestPrefixSpaceInvalidPool(t *testing.T) {
	_, err := NewPrefixPool(&dhcpcfg.PrefixPool{Prefix: "2001:db8:8::", PrefixLen: 64, DelegatedLen: 48})
	require.Error(t, err)
}

// The iterative picker walks the pool from the first address and wraps
// around at the end.
func TestIterativePicker(t *testing.T) {
	space := newTestAddressSpace(t, "192.0.2.2 - 192.0.2.6")
	picker := NewIterativePicker()

	expected := []string{
		"192.0.2.2", "192.0.2.3", "192.0.2.4", "192.0.2.5", "192.0.2.6",
		"192.0.2.2",
	}
	for at, text := range expected {
		require.Equal(t, netip.MustParseAddr(text), picker.Pick(space, at), "pick %d", at)
	}
}

// The random picker draws from the pool only.
func TestRandomPicker(t *testing.T) {
	space := newTestAddressSpace(t, "192.0.2.2 - 192.0.2.6")
	picker := NewRandomPicker()

	for attempt := 0; attempt < 100; attempt++ {
		addr := picker.Pick(space, attempt)
		_, ok := space.Offset(addr)
		require.True(t, ok, "picked %s", addr)
	}
}

// The hashed picker derives the starting point from the client key, so
// the same client starts at the same address on every server, and
// probes linearly from there.
func TestHashedPicker(t *testing.T) {
	space := newTestAddressSpace(t, "192.0.2.2 - 192.0.2.6")
	clientKey := []byte{0x01, 0x02, 0x03}

	first := NewHashedPicker(clientKey).Pick(space, 0)
	require.Equal(t, first, NewHashedPicker(clientKey).Pick(space, 0))

	// The next attempts probe the following offsets.
	picker := NewHashedPicker(clientKey)
	start, ok := space.Offset(picker.Pick(space, 0))
	require.True(t, ok)
	for attempt := 1; attempt < 5; attempt++ {
		offset, ok := space.Offset(picker.Pick(space, attempt))
		require.True(t, ok)
		require.EqualValues(t, (start+uint64(attempt))%space.Size(), offset)
	}

	// A different client usually starts elsewhere; at minimum the
	// picker must stay within the pool.
	other := NewHashedPicker([]byte{0x0a, 0x0b}).Pick(space, 0)
	_, ok = space.Offset(other)
	require.True(t, ok)
}

// All pickers yield the invalid address on an empty pool.
func TestPickersEmptyPool(t *testing.T) {
	require.False(t, NewIterativePicker().Pick(emptySpace{}, 0).IsValid())
	require.False(t, NewRandomPicker().Pick(emptySpace{}, 0).IsValid())
	require.False(t, NewHashedPicker([]byte{0x01}).Pick(emptySpace{}, 0).IsValid())
}
