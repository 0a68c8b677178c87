package dhcpcfg

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
	ternutil "isc.org/tern/util"
)

// Check parsing the client identifiers of a reservation.
func TestHostParsedIdentifiers(t *testing.T) {
	host := Host{
		HWAddress: "01:02:03:04:05:06",
		ClientID:  "aa:bb:cc",
		DUID:      "00:01:00:01:aa:bb",
	}

	hwAddr, err := host.ParsedHWAddress()
	require.NoError(t, err)
	require.NotNil(t, hwAddr)
	require.Equal(t, net.HardwareAddr{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, hwAddr.Address)

	clientID, err := host.ParsedClientID()
	require.NoError(t, err)
	require.Equal(t, dhcpmodel.ClientID{0xaa, 0xbb, 0xcc}, clientID)

	duid, err := host.ParsedDUID()
	require.NoError(t, err)
	require.Equal(t, dhcpmodel.DUID{0x00, 0x01, 0x00, 0x01, 0xaa, 0xbb}, duid)

	// Absent identifiers parse to nil.
	hwAddr, err = Host{}.ParsedHWAddress()
	require.NoError(t, err)
	require.Nil(t, hwAddr)

	_, err = Host{HWAddress: "not-hex"}.ParsedHWAddress()
	require.Error(t, err)
	_, err = Host{ClientID: "not-hex"}.ParsedClientID()
	require.Error(t, err)
	_, err = Host{DUID: "not-hex"}.ParsedDUID()
	require.Error(t, err)
}

// Check parsing the reserved addresses and prefixes.
func TestHostParsedAddresses(t *testing.T) {
	host := Host{IPAddress: "192.0.2.7"}
	addr, err := host.ParsedIPAddress()
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.0.2.7"), addr)

	addr, err = Host{}.ParsedIPAddress()
	require.NoError(t, err)
	require.False(t, addr.IsValid())

	_, err = Host{IPAddress: "2001:db8::1"}.ParsedIPAddress()
	require.Error(t, err)

	host = Host{IPAddresses: []string{"2001:db8::5", "2001:db8::6"}}
	addrs, err := host.ParsedIPAddresses()
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	require.Equal(t, netip.MustParseAddr("2001:db8::6"), addrs[1])

	_, err = Host{IPAddresses: []string{"192.0.2.7"}}.ParsedIPAddresses()
	require.Error(t, err)

	// Prefixes are canonicalized to their masked form.
	host = Host{Prefixes: []string{"2001:db8:1::7/64"}}
	prefixes, err := host.ParsedPrefixes()
	require.NoError(t, err)
	require.Len(t, prefixes, 1)
	require.Equal(t, netip.MustParsePrefix("2001:db8:1::/64"), prefixes[0])

	_, err = Host{Prefixes: []string{"192.0.2.0/28"}}.ParsedPrefixes()
	require.Error(t, err)
}

// Check validation of IPv4 reservations.
func TestHostValidate4(t *testing.T) {
	host := Host{
		HWAddress: "01:02:03:04:05:06",
		IPAddress: "192.0.2.7",
		Hostname:  "printer.example.org",
	}
	require.NoError(t, host.Validate(ternutil.IPv4))

	// At least one IPv4 identifier is required.
	require.Error(t, Host{IPAddress: "192.0.2.7"}.Validate(ternutil.IPv4))

	// IPv6 properties are rejected.
	host.DUID = "00:01:00:01"
	require.Error(t, host.Validate(ternutil.IPv4))
	host.DUID = ""
	host.IPAddresses = []string{"2001:db8::1"}
	require.Error(t, host.Validate(ternutil.IPv4))
	host.IPAddresses = nil

	host.Hostname = "not a hostname"
	require.Error(t, host.Validate(ternutil.IPv4))
	host.Hostname = ""

	host.IPAddress = "not-an-address"
	require.Error(t, host.Validate(ternutil.IPv4))
}

// Check validation of IPv6 reservations.
func TestHostValidate6(t *testing.T) {
	host := Host{
		DUID:        "00:01:00:01:aa:bb",
		IPAddresses: []string{"2001:db8::5"},
		Prefixes:    []string{"3000:1::/64"},
	}
	require.NoError(t, host.Validate(ternutil.IPv6))

	// The hardware address serves as a fallback identifier.
	require.NoError(t, Host{HWAddress: "01:02:03:04:05:06"}.Validate(ternutil.IPv6))
	require.Error(t, Host{IPAddresses: []string{"2001:db8::5"}}.Validate(ternutil.IPv6))

	// IPv4 properties are rejected.
	host.ClientID = "aa:bb:cc"
	require.Error(t, host.Validate(ternutil.IPv6))
	host.ClientID = ""
	host.IPAddress = "192.0.2.7"
	require.Error(t, host.Validate(ternutil.IPv6))
	host.IPAddress = ""

	host.Prefixes = []string{"3000:1::/200"}
	require.Error(t, host.Validate(ternutil.IPv6))
}

// Check matching IPv4 clients against a reservation. The client
// identifier takes precedence over the hardware address.
func TestHostMatches4(t *testing.T) {
	host := Host{
		HWAddress: "01:02:03:04:05:06",
		ClientID:  "aa:bb:cc",
	}

	clientID, err := dhcpmodel.NewClientID([]byte{0xaa, 0xbb, 0xcc})
	require.NoError(t, err)
	hwAddr, err := dhcpmodel.NewEthernetHWAddr(net.HardwareAddr{0x01, 0x02, 0x03, 0x04, 0x05, 0x06})
	require.NoError(t, err)
	otherID, err := dhcpmodel.NewClientID([]byte{0x0d, 0x0e})
	require.NoError(t, err)
	otherHW, err := dhcpmodel.NewEthernetHWAddr(net.HardwareAddr{0x06, 0x05, 0x04, 0x03, 0x02, 0x01})
	require.NoError(t, err)

	require.True(t, host.Matches4(hwAddr, clientID))
	require.True(t, host.Matches4(nil, clientID))
	require.True(t, host.Matches4(hwAddr, nil))

	// A mismatched client identifier still matches on the hardware
	// address.
	require.True(t, host.Matches4(hwAddr, otherID))
	require.False(t, host.Matches4(otherHW, otherID))
	require.False(t, host.Matches4(nil, nil))

	// A reservation without identifiers matches nobody.
	require.False(t, Host{IPAddress: "192.0.2.7"}.Matches4(hwAddr, clientID))
}

// Check matching IPv6 clients against a reservation.
func TestHostMatches6(t *testing.T) {
	host := Host{
		DUID:      "00:01:00:01:aa:bb",
		HWAddress: "01:02:03:04:05:06",
	}

	duid, err := dhcpmodel.NewDUID([]byte{0x00, 0x01, 0x00, 0x01, 0xaa, 0xbb})
	require.NoError(t, err)
	hwAddr, err := dhcpmodel.NewEthernetHWAddr(net.HardwareAddr{0x01, 0x02, 0x03, 0x04, 0x05, 0x06})
	require.NoError(t, err)
	otherDUID, err := dhcpmodel.NewDUID([]byte{0x00, 0x03})
	require.NoError(t, err)

	require.True(t, host.Matches6(duid, nil))
	require.True(t, host.Matches6(nil, hwAddr))
	require.True(t, host.Matches6(otherDUID, hwAddr))
	require.False(t, host.Matches6(otherDUID, nil))
	require.False(t, host.Matches6(nil, nil))
}
