package leasestore

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
)

// Check the lease expiration time arithmetic.
func TestLease4Expiration(t *testing.T) {
	lease := &Lease4{
		Address:       netip.MustParseAddr("192.0.2.1"),
		SubnetID:      123,
		CLTT:          1000,
		ValidLifetime: 500,
	}
	require.Equal(t, time.Unix(1500, 0).UTC(), lease.ExpirationTime())
	require.False(t, lease.Expired(time.Unix(1500, 0)))
	require.True(t, lease.Expired(time.Unix(1501, 0)))

	// A released lease with the zero valid lifetime expires at CLTT.
	lease.ValidLifetime = 0
	require.True(t, lease.Expired(time.Unix(1001, 0)))
}

// Check the lifetime timers validation rules.
func TestValidateTimers(t *testing.T) {
	lease := &Lease4{
		Address:       netip.MustParseAddr("192.0.2.1"),
		SubnetID:      123,
		ValidLifetime: 3600,
	}
	// Unset timers are fine.
	require.NoError(t, lease.Validate())

	lease.T1 = 900
	lease.T2 = 1800
	require.NoError(t, lease.Validate())

	// T1 greater than T2.
	lease.T1 = 2000
	require.Error(t, lease.Validate())

	// T2 greater than the valid lifetime.
	lease.T1 = 900
	lease.T2 = 7200
	require.Error(t, lease.Validate())

	// T1 alone greater than the valid lifetime.
	lease.T2 = 0
	lease.T1 = 7200
	require.Error(t, lease.Validate())
}

// Check the family and subnet checks of the lease validation.
func TestLease4Validate(t *testing.T) {
	lease := &Lease4{
		Address:       netip.MustParseAddr("2001:db8::1"),
		SubnetID:      123,
		ValidLifetime: 3600,
	}
	require.Error(t, lease.Validate())

	lease.Address = netip.MustParseAddr("192.0.2.1")
	require.NoError(t, lease.Validate())

	lease.SubnetID = 0
	require.Error(t, lease.Validate())
}

// Check the IPv6 lease validation, including the prefix length rules
// per lease type.
func TestLease6Validate(t *testing.T) {
	lease := &Lease6{
		Address:       netip.MustParseAddr("2001:db8::1"),
		PrefixLen:     128,
		Type:          dhcpmodel.LeaseTypeNA,
		DUID:          dhcpmodel.DUID{0x01, 0x02},
		SubnetID:      234,
		ValidLifetime: 3600,
	}
	require.NoError(t, lease.Validate())

	// An address lease must use the prefix length of 128.
	lease.PrefixLen = 64
	require.Error(t, lease.Validate())

	// A delegated prefix lease must use a shorter prefix.
	lease.Type = dhcpmodel.LeaseTypePD
	require.NoError(t, lease.Validate())
	lease.PrefixLen = 128
	require.Error(t, lease.Validate())

	// The DUID is required.
	lease.PrefixLen = 56
	lease.DUID = nil
	require.Error(t, lease.Validate())
}

// Check that the lease keys distinguish the lease types.
func TestLease6Key(t *testing.T) {
	address := netip.MustParseAddr("2001:db8::")
	pdLease := &Lease6{Address: address, Type: dhcpmodel.LeaseTypePD}
	naLease := &Lease6{Address: address, Type: dhcpmodel.LeaseTypeNA}
	require.NotEqual(t, pdLease.Key(), naLease.Key())
	require.Equal(t, pdLease.Key(), (&Lease6{Address: address, Type: dhcpmodel.LeaseTypePD}).Key())
}
