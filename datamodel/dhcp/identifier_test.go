package dhcpmodel

import (
	"net"
	"testing"

	"github.com/insomniacslk/dhcp/iana"
	"github.com/stretchr/testify/require"
)

// Check the client identifier length bounds and the hex notation.
func TestNewClientID(t *testing.T) {
	cid, err := NewClientID([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.Equal(t, "01:02:03", cid.String())

	// One byte is too short to carry the type and the data.
	_, err = NewClientID([]byte{0x01})
	require.Error(t, err)

	_, err = NewClientID(make([]byte, 256))
	require.Error(t, err)
}

// Check the DUID length bounds and the hex notation.
func TestNewDUID(t *testing.T) {
	duid, err := NewDUID([]byte{0x00, 0x03, 0x00, 0x01, 0xAA})
	require.NoError(t, err)
	require.Equal(t, "00:03:00:01:AA", duid.String())

	_, err = NewDUID([]byte{})
	require.Error(t, err)

	_, err = NewDUID(make([]byte, 129))
	require.Error(t, err)
}

// Check the hardware address construction and comparison.
func TestNewHWAddr(t *testing.T) {
	mac, err := net.ParseMAC("00:0c:01:02:03:04")
	require.NoError(t, err)

	hw, err := NewEthernetHWAddr(mac)
	require.NoError(t, err)
	require.Equal(t, iana.HWTypeEthernet, hw.Type)
	require.Equal(t, "00:0c:01:02:03:04", hw.String())

	other, err := NewHWAddr(iana.HWTypeEthernet, mac)
	require.NoError(t, err)
	require.True(t, hw.Equal(other))

	tokenRing, err := NewHWAddr(iana.HWTypeIEEE802, mac)
	require.NoError(t, err)
	require.False(t, hw.Equal(tokenRing))

	_, err = NewHWAddr(iana.HWTypeEthernet, make(net.HardwareAddr, 21))
	require.Error(t, err)
}

// Check the textual lease type representations.
func TestLeaseTypeText(t *testing.T) {
	require.Equal(t, "IA_NA", LeaseTypeNA.String())
	require.Equal(t, "IA_TA", LeaseTypeTA.String())
	require.Equal(t, "IA_PD", LeaseTypePD.String())

	parsed, err := ParseLeaseType("IA_PD")
	require.NoError(t, err)
	require.Equal(t, LeaseTypePD, parsed)

	_, err = ParseLeaseType("IA_XX")
	require.Error(t, err)
}

// Check the lease hostname canonicalization.
func TestCanonicalHostname(t *testing.T) {
	require.Equal(t, "faq.example.org", CanonicalHostname("FAQ.Example.ORG."))
	require.Equal(t, "host-1.example.org", CanonicalHostname("host-1.example.org"))
	require.Empty(t, CanonicalHostname(""))
}
