package dhcpcfg

import (
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	ternutil "isc.org/tern/util"
)

// Check that the pool boundaries are normalized on unmarshalling.
func TestAddressPoolUnmarshal(t *testing.T) {
	var pool AddressPool
	err := json.Unmarshal([]byte(`{"pool": "192.0.2.1-192.0.2.10"}`), &pool)
	require.NoError(t, err)
	require.Equal(t, "192.0.2.1 - 192.0.2.10", pool.Pool)

	// The prefix notation expands to the boundaries.
	err = json.Unmarshal([]byte(`{"pool": "192.0.2.64/26"}`), &pool)
	require.NoError(t, err)
	require.Equal(t, "192.0.2.64 - 192.0.2.127", pool.Pool)

	err = json.Unmarshal([]byte(`{"pool": "192.0.2.10 - 192.0.2.1"}`), &pool)
	require.Error(t, err)
}

// Check the pool boundary accessors.
func TestAddressPoolBoundaries(t *testing.T) {
	pool := AddressPool{Pool: "2001:db8:1::10 - 2001:db8:1::20"}

	lb, ub, err := pool.Boundaries()
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("2001:db8:1::10"), lb)
	require.Equal(t, netip.MustParseAddr("2001:db8:1::20"), ub)

	r, err := pool.Range()
	require.NoError(t, err)
	require.True(t, r.Contains(netip.MustParseAddr("2001:db8:1::15")))
	require.False(t, r.Contains(netip.MustParseAddr("2001:db8:1::30")))
}

// Check the pool validation against the address family.
func TestAddressPoolValidate(t *testing.T) {
	pool := AddressPool{Pool: "192.0.2.1 - 192.0.2.10"}
	require.NoError(t, pool.Validate(ternutil.IPv4))
	require.Error(t, pool.Validate(ternutil.IPv6))

	pool = AddressPool{Pool: "structurally broken"}
	require.Error(t, pool.Validate(ternutil.IPv4))

	pool = AddressPool{
		Pool:    "192.0.2.1 - 192.0.2.10",
		Options: []OptionDescriptor{{Code: 3, AlwaysSend: true, NeverSend: true}},
	}
	require.Error(t, pool.Validate(ternutil.IPv4))
}

// Check the canonical form of the prefix pool prefixes.
func TestPrefixPoolCanonicalPrefix(t *testing.T) {
	pool := PrefixPool{Prefix: "3000:1::", PrefixLen: 48, DelegatedLen: 64}
	require.Equal(t, "3000:1::/48", pool.CanonicalPrefix())

	parsed, err := pool.ParsedPrefix()
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("3000:1::/48"), parsed)

	pool.ExcludedPrefix = "3000:1:0:5::"
	pool.ExcludedPrefixLen = 80
	require.Equal(t, "3000:1:0:5::/80", pool.CanonicalExcludedPrefix())
}

// Check the prefix pool validation rules.
func TestPrefixPoolValidate(t *testing.T) {
	pool := PrefixPool{Prefix: "3000:1::", PrefixLen: 48, DelegatedLen: 64}
	require.NoError(t, pool.Validate())

	// Delegating prefixes shorter than the pool prefix is impossible.
	pool = PrefixPool{Prefix: "3000:1::", PrefixLen: 48, DelegatedLen: 32}
	require.Error(t, pool.Validate())

	pool = PrefixPool{Prefix: "192.0.2.0", PrefixLen: 24, DelegatedLen: 28}
	require.Error(t, pool.Validate())

	// The excluded prefix must sit inside the pool.
	pool = PrefixPool{
		Prefix: "3000:1::", PrefixLen: 48, DelegatedLen: 64,
		ExcludedPrefix: "3000:2::", ExcludedPrefixLen: 80,
	}
	require.Error(t, pool.Validate())

	// The excluded prefix must be longer than the delegated length.
	pool = PrefixPool{
		Prefix: "3000:1::", PrefixLen: 48, DelegatedLen: 64,
		ExcludedPrefix: "3000:1::", ExcludedPrefixLen: 56,
	}
	require.Error(t, pool.Validate())

	pool = PrefixPool{
		Prefix: "3000:1::", PrefixLen: 48, DelegatedLen: 64,
		ExcludedPrefix: "3000:1:0:5::", ExcludedPrefixLen: 80,
	}
	require.NoError(t, pool.Validate())
}

// Check the pool size and the prefix indexing in both directions.
func TestPrefixPoolAt(t *testing.T) {
	pool := PrefixPool{Prefix: "2001:db8::", PrefixLen: 48, DelegatedLen: 64}
	require.EqualValues(t, 65536, pool.Size())

	first, err := pool.At(0)
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("2001:db8::/64"), first)

	second, err := pool.At(1)
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("2001:db8:0:1::/64"), second)

	last, err := pool.At(65535)
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("2001:db8:0:ffff::/64"), last)

	offset, ok := pool.Offset(netip.MustParsePrefix("2001:db8:0:5::/64"))
	require.True(t, ok)
	require.EqualValues(t, 5, offset)

	offset, ok = pool.Offset(second)
	require.True(t, ok)
	require.EqualValues(t, 1, offset)

	// Wrong length or out of pool.
	_, ok = pool.Offset(netip.MustParsePrefix("2001:db8:0:5::/80"))
	require.False(t, ok)
	_, ok = pool.Offset(netip.MustParsePrefix("2001:db9::/64"))
	require.False(t, ok)
}

// Check the excluded prefix collision detection.
func TestPrefixPoolExcludes(t *testing.T) {
	pool := PrefixPool{
		Prefix: "2001:db8::", PrefixLen: 48, DelegatedLen: 64,
		ExcludedPrefix: "2001:db8:0:5::", ExcludedPrefixLen: 80,
	}

	require.True(t, pool.Excludes(netip.MustParsePrefix("2001:db8:0:5::/64")))
	require.False(t, pool.Excludes(netip.MustParsePrefix("2001:db8:0:6::/64")))

	pool.ExcludedPrefix = ""
	require.False(t, pool.Excludes(netip.MustParsePrefix("2001:db8:0:5::/64")))
}
