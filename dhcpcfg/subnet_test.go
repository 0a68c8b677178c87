package dhcpcfg

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
)

// Check parsing the subnet prefixes.
func TestSubnetParsedPrefix(t *testing.T) {
	subnet4 := Subnet4{Prefix: "192.0.2.5/24"}
	prefix, err := subnet4.ParsedPrefix()
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("192.0.2.0/24"), prefix)

	subnet4.Prefix = "2001:db8::/64"
	_, err = subnet4.ParsedPrefix()
	require.Error(t, err)

	subnet6 := Subnet6{Prefix: "2001:db8:1::5/64"}
	prefix, err = subnet6.ParsedPrefix()
	require.NoError(t, err)
	require.Equal(t, netip.MustParsePrefix("2001:db8:1::/64"), prefix)

	subnet6.Prefix = "192.0.2.0/24"
	_, err = subnet6.ParsedPrefix()
	require.Error(t, err)
}

// Check resolving the effective allocation retries.
func TestSubnetEffectiveAllocationRetries(t *testing.T) {
	subnet := Subnet4{}
	require.EqualValues(t, DefaultAllocationRetries, subnet.EffectiveAllocationRetries())

	retries := int64(0)
	subnet.AllocationRetries = &retries
	require.EqualValues(t, DefaultAllocationRetries, subnet.EffectiveAllocationRetries())

	retries = 10
	require.EqualValues(t, 10, subnet.EffectiveAllocationRetries())
}

// Check finding the pool an address belongs to.
func TestSubnet4PoolContaining(t *testing.T) {
	subnet := Subnet4{
		ID:     1,
		Prefix: "192.0.2.0/24",
		Pools: []AddressPool{
			{Pool: "192.0.2.10 - 192.0.2.20"},
			{Pool: "192.0.2.30 - 192.0.2.40"},
		},
	}

	pool := subnet.PoolContaining(netip.MustParseAddr("192.0.2.35"))
	require.NotNil(t, pool)
	require.Equal(t, "192.0.2.30 - 192.0.2.40", pool.Pool)

	require.Nil(t, subnet.PoolContaining(netip.MustParseAddr("192.0.2.25")))
}

// Check finding the reservations of an IPv4 subnet.
func TestSubnet4Reservations(t *testing.T) {
	subnet := Subnet4{
		ID:     1,
		Prefix: "192.0.2.0/24",
		Reservations: []Host{
			{HWAddress: "01:02:03:04:05:06", IPAddress: "192.0.2.7"},
			{ClientID: "aa:bb:cc", IPAddress: "192.0.2.8"},
		},
	}

	hwAddr, err := dhcpmodel.NewEthernetHWAddr(net.HardwareAddr{0x01, 0x02, 0x03, 0x04, 0x05, 0x06})
	require.NoError(t, err)
	clientID, err := dhcpmodel.NewClientID([]byte{0xaa, 0xbb, 0xcc})
	require.NoError(t, err)

	host := subnet.ReservationFor(hwAddr, nil)
	require.NotNil(t, host)
	require.Equal(t, "192.0.2.7", host.IPAddress)

	host = subnet.ReservationFor(nil, clientID)
	require.NotNil(t, host)
	require.Equal(t, "192.0.2.8", host.IPAddress)

	require.Nil(t, subnet.ReservationFor(nil, nil))

	host = subnet.ReservationOf(netip.MustParseAddr("192.0.2.8"))
	require.NotNil(t, host)
	require.Equal(t, "aa:bb:cc", host.ClientID)

	require.Nil(t, subnet.ReservationOf(netip.MustParseAddr("192.0.2.9")))
}

// Check validation of IPv4 subnets.
func TestSubnet4Validate(t *testing.T) {
	subnet := Subnet4{
		ID:     1,
		Prefix: "192.0.2.0/24",
		Pools: []AddressPool{
			{Pool: "192.0.2.10 - 192.0.2.20"},
			{Pool: "192.0.2.30 - 192.0.2.40"},
		},
		Reservations: []Host{
			{HWAddress: "01:02:03:04:05:06", IPAddress: "192.0.2.7"},
		},
	}
	require.NoError(t, subnet.Validate())

	// Missing identifier.
	subnet.ID = 0
	require.Error(t, subnet.Validate())
	subnet.ID = 1

	// Unsupported allocator.
	subnet.Allocator = "clairvoyant"
	require.Error(t, subnet.Validate())
	subnet.Allocator = AllocatorRandom
	require.NoError(t, subnet.Validate())

	// A pool reaching beyond the prefix.
	subnet.Pools = append(subnet.Pools, AddressPool{Pool: "192.0.2.250 - 192.0.3.5"})
	require.Error(t, subnet.Validate())

	// Overlapping pools.
	subnet.Pools = []AddressPool{
		{Pool: "192.0.2.10 - 192.0.2.20"},
		{Pool: "192.0.2.15 - 192.0.2.30"},
	}
	require.Error(t, subnet.Validate())
	subnet.Pools = nil

	// An invalid option.
	subnet.Options = []OptionDescriptor{{Code: 3, Space: DHCPv4OptionSpace, AlwaysSend: true, NeverSend: true}}
	require.Error(t, subnet.Validate())
	subnet.Options = nil

	// A reservation outside the prefix.
	subnet.Reservations = []Host{{HWAddress: "01:02:03:04:05:06", IPAddress: "192.0.3.7"}}
	require.Error(t, subnet.Validate())
}

// Check finding the prefix pool a delegated prefix belongs to.
func TestSubnet6PDPoolContaining(t *testing.T) {
	subnet := Subnet6{
		ID:     1,
		Prefix: "2001:db8::/32",
		PDPools: []PrefixPool{
			{Prefix: "2001:db8:1::", PrefixLen: 48, DelegatedLen: 64},
			{Prefix: "2001:db8:2::", PrefixLen: 48, DelegatedLen: 64},
		},
	}

	pool := subnet.PDPoolContaining(netip.MustParsePrefix("2001:db8:2:5::/64"))
	require.NotNil(t, pool)
	require.Equal(t, "2001:db8:2::", pool.Prefix)

	// A delegated length mismatch does not match.
	require.Nil(t, subnet.PDPoolContaining(netip.MustParsePrefix("2001:db8:2:5::/80")))
	require.Nil(t, subnet.PDPoolContaining(netip.MustParsePrefix("2001:db8:3::/64")))
}

// Check finding the reservations of an IPv6 subnet.
func TestSubnet6Reservations(t *testing.T) {
	subnet := Subnet6{
		ID:     1,
		Prefix: "2001:db8::/32",
		Reservations: []Host{
			{DUID: "00:01:00:01:aa:bb", IPAddresses: []string{"2001:db8::5"}},
			{HWAddress: "01:02:03:04:05:06", Prefixes: []string{"2001:db8:1::/64"}},
		},
	}

	duid, err := dhcpmodel.NewDUID([]byte{0x00, 0x01, 0x00, 0x01, 0xaa, 0xbb})
	require.NoError(t, err)

	host := subnet.ReservationFor(duid, nil)
	require.NotNil(t, host)
	require.Equal(t, []string{"2001:db8::5"}, host.IPAddresses)

	// An address lookup uses the full length.
	host = subnet.ReservationOf(netip.MustParseAddr("2001:db8::5"), 128)
	require.NotNil(t, host)
	require.Equal(t, "00:01:00:01:aa:bb", host.DUID)

	host = subnet.ReservationOf(netip.MustParseAddr("2001:db8:1::"), 64)
	require.NotNil(t, host)
	require.Equal(t, "01:02:03:04:05:06", host.HWAddress)

	require.Nil(t, subnet.ReservationOf(netip.MustParseAddr("2001:db8::6"), 128))
	require.Nil(t, subnet.ReservationOf(netip.MustParseAddr("2001:db8:1::"), 80))
}

// Check validation of IPv6 subnets.
func TestSubnet6Validate(t *testing.T) {
	subnet := Subnet6{
		ID:     1,
		Prefix: "2001:db8::/32",
		Pools: []AddressPool{
			{Pool: "2001:db8::10 - 2001:db8::20"},
		},
		PDPools: []PrefixPool{
			{Prefix: "2001:db8:1::", PrefixLen: 48, DelegatedLen: 64},
			{Prefix: "2001:db8:2::", PrefixLen: 48, DelegatedLen: 64},
		},
		Reservations: []Host{
			{DUID: "00:01:00:01:aa:bb", IPAddresses: []string{"2001:db8::5"}},
		},
	}
	require.NoError(t, subnet.Validate())

	// Unsupported prefix allocator.
	subnet.PDAllocator = "clairvoyant"
	require.Error(t, subnet.Validate())
	subnet.PDAllocator = ""

	// Overlapping prefix pools.
	subnet.PDPools = append(subnet.PDPools, PrefixPool{Prefix: "2001:db8:2:1::", PrefixLen: 64, DelegatedLen: 96})
	require.Error(t, subnet.Validate())
	subnet.PDPools = subnet.PDPools[:2]

	// An invalid prefix pool.
	subnet.PDPools = append(subnet.PDPools, PrefixPool{Prefix: "2001:db8:3::", PrefixLen: 48, DelegatedLen: 32})
	require.Error(t, subnet.Validate())
	subnet.PDPools = subnet.PDPools[:2]

	// A reservation outside the prefix.
	subnet.Reservations = []Host{{DUID: "00:01", IPAddresses: []string{"3000::5"}}}
	require.Error(t, subnet.Validate())
}

// Check validation of shared networks.
func TestSharedNetworkValidate(t *testing.T) {
	network4 := SharedNetwork4{
		Name: "frog",
		Subnets: []Subnet4{
			{ID: 1, Prefix: "192.0.2.0/24"},
		},
	}
	require.NoError(t, network4.Validate())

	network4.Name = ""
	require.Error(t, network4.Validate())
	network4.Name = "frog"

	// An invalid inline subnet.
	network4.Subnets[0].ID = 0
	require.Error(t, network4.Validate())
	network4.Subnets[0].ID = 1

	network4.Options = []OptionDescriptor{{Code: 3, Space: DHCPv4OptionSpace, AlwaysSend: true, NeverSend: true}}
	require.Error(t, network4.Validate())

	network6 := SharedNetwork6{
		Name: "toad",
		Subnets: []Subnet6{
			{ID: 1, Prefix: "2001:db8:1::/64"},
		},
	}
	require.NoError(t, network6.Validate())

	network6.Subnets[0].Prefix = "not-a-prefix"
	require.Error(t, network6.Validate())
}
