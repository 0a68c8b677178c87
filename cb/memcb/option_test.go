package memcb

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"isc.org/tern/cb"
	"isc.org/tern/dhcpcfg"
)

// Creates a routers option carrying one address.
func newTestOption4() *dhcpcfg.OptionDescriptor {
	return &dhcpcfg.OptionDescriptor{
		Code:           3,
		FormattedValue: "192.0.2.1",
	}
}

// Check the global option round trip. An option without a space lands
// in the top level space of the family.
func TestCreateUpdateGetOption4(t *testing.T) {
	backend, clock := newTestBackend(t)
	ctx := context.Background()
	addTestServer(t, backend, "alpha")
	created := clock.Advance(time.Second)

	err := backend.CreateUpdateOption4(ctx, cb.SelectOne("alpha"), newTestOption4())
	require.NoError(t, err)

	returned, err := backend.GetOption4(ctx, cb.SelectOne("alpha"), 3, dhcpcfg.DHCPv4OptionSpace)
	require.NoError(t, err)
	require.NotNil(t, returned)
	require.Equal(t, "192.0.2.1", returned.FormattedValue)
	require.Equal(t, dhcpcfg.DHCPv4OptionSpace, returned.Space)
	require.Equal(t, []string{"alpha"}, returned.ServerTags)
	require.Equal(t, created, returned.ModificationTime)
	require.NotZero(t, returned.ID)

	// The upsert replaces the payload and keeps the identifier.
	updated := newTestOption4()
	updated.FormattedValue = "192.0.2.2"
	require.NoError(t, backend.CreateUpdateOption4(ctx, cb.SelectOne("alpha"), updated))

	replaced, err := backend.GetOption4(ctx, cb.SelectOne("alpha"), 3, dhcpcfg.DHCPv4OptionSpace)
	require.NoError(t, err)
	require.NotNil(t, replaced)
	require.Equal(t, "192.0.2.2", replaced.FormattedValue)
	require.Equal(t, returned.ID, replaced.ID)

	missing, err := backend.GetOption4(ctx, cb.SelectOne("alpha"), 4, dhcpcfg.DHCPv4OptionSpace)
	require.NoError(t, err)
	require.Nil(t, missing)
}

// Check that the malformed options are rejected.
func TestCreateUpdateOption4Invalid(t *testing.T) {
	backend, _ := newTestBackend(t)
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	option := newTestOption4()
	option.AlwaysSend = true
	option.NeverSend = true
	err := backend.CreateUpdateOption4(ctx, cb.SelectOne("alpha"), option)
	require.ErrorIs(t, err, cb.ErrInvalidParameter)

	err = backend.CreateUpdateOption4(ctx, cb.SelectOne("alpha"), nil)
	require.ErrorIs(t, err, cb.ErrInvalidParameter)
}

// Check the global option listing, filtering and deletes.
func TestGetDeleteOptions4(t *testing.T) {
	backend, clock := newTestBackend(t)
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	first := clock.Advance(time.Second)
	require.NoError(t, backend.CreateUpdateOption4(ctx, cb.SelectOne("alpha"), newTestOption4()))
	clock.Advance(time.Second)
	domain := &dhcpcfg.OptionDescriptor{Code: 15, FormattedValue: "example.org"}
	require.NoError(t, backend.CreateUpdateOption4(ctx, cb.SelectAll(), domain))

	options, err := backend.GetAllOptions4(ctx, cb.SelectOne("alpha"))
	require.NoError(t, err)
	require.Len(t, options, 2)
	require.EqualValues(t, 3, options[0].Code)
	require.EqualValues(t, 15, options[1].Code)

	options, err = backend.GetModifiedOptions4(ctx, cb.SelectAny(), first)
	require.NoError(t, err)
	require.Len(t, options, 1)
	require.EqualValues(t, 15, options[0].Code)

	// The shared option is not deletable through a one-server selector.
	count, err := backend.DeleteOption4(ctx, cb.SelectOne("alpha"), 15, dhcpcfg.DHCPv4OptionSpace)
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = backend.DeleteOption4(ctx, cb.SelectOne("alpha"), 3, dhcpcfg.DHCPv4OptionSpace)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, err = backend.DeleteOption4(ctx, cb.SelectAll(), 15, dhcpcfg.DHCPv4OptionSpace)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

// Check the options attached to a subnet: the upsert lands in the
// subnet and bumps its modification time so the pollers notice.
func TestSubnetOption4(t *testing.T) {
	backend, clock := newTestBackend(t)
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	created := clock.Advance(time.Second)
	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), newTestSubnet4(1, "192.0.2.0/24")))

	clock.Advance(time.Second)
	err := backend.CreateUpdateSubnetOption4(ctx, cb.SelectOne("alpha"), 1, newTestOption4())
	require.NoError(t, err)

	subnet, err := backend.GetSubnet4(ctx, cb.SelectOne("alpha"), 1)
	require.NoError(t, err)
	require.NotNil(t, subnet)
	require.Len(t, subnet.Options, 1)
	require.EqualValues(t, 3, subnet.Options[0].Code)
	require.Equal(t, dhcpcfg.DHCPv4OptionSpace, subnet.Options[0].Space)
	require.NotZero(t, subnet.Options[0].ID)

	// The subnet shows up in the modified feed.
	subnets, err := backend.GetModifiedSubnets4(ctx, cb.SelectOne("alpha"), created)
	require.NoError(t, err)
	require.Len(t, subnets, 1)

	// A repeated upsert does not duplicate the option.
	require.NoError(t, backend.CreateUpdateSubnetOption4(ctx, cb.SelectOne("alpha"), 1, newTestOption4()))
	subnet, err = backend.GetSubnet4(ctx, cb.SelectOne("alpha"), 1)
	require.NoError(t, err)
	require.Len(t, subnet.Options, 1)

	// An option on an unknown subnet is an error.
	err = backend.CreateUpdateSubnetOption4(ctx, cb.SelectOne("alpha"), 42, newTestOption4())
	require.ErrorIs(t, err, cb.ErrInvalidParameter)

	count, err := backend.DeleteSubnetOption4(ctx, cb.SelectOne("alpha"), 1, 3, dhcpcfg.DHCPv4OptionSpace)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	subnet, err = backend.GetSubnet4(ctx, cb.SelectOne("alpha"), 1)
	require.NoError(t, err)
	require.Empty(t, subnet.Options)

	count, err = backend.DeleteSubnetOption4(ctx, cb.SelectOne("alpha"), 1, 3, dhcpcfg.DHCPv4OptionSpace)
	require.NoError(t, err)
	require.Zero(t, count)
}

// Check the options attached to a shared network.
func TestSharedNetworkOption4(t *testing.T) {
	backend, _ := newTestBackend(t)
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	require.NoError(t, backend.CreateUpdateSharedNetwork4(ctx, cb.SelectOne("alpha"), &dhcpcfg.SharedNetwork4{Name: "frog"}))

	err := backend.CreateUpdateSharedNetworkOption4(ctx, cb.SelectOne("alpha"), "frog", newTestOption4())
	require.NoError(t, err)

	network, err := backend.GetSharedNetwork4(ctx, cb.SelectOne("alpha"), "frog")
	require.NoError(t, err)
	require.NotNil(t, network)
	require.Len(t, network.Options, 1)
	require.EqualValues(t, 3, network.Options[0].Code)

	err = backend.CreateUpdateSharedNetworkOption4(ctx, cb.SelectOne("alpha"), "toad", newTestOption4())
	require.ErrorIs(t, err, cb.ErrInvalidParameter)

	count, err := backend.DeleteSharedNetworkOption4(ctx, cb.SelectOne("alpha"), "frog", 3, dhcpcfg.DHCPv4OptionSpace)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	network, err = backend.GetSharedNetwork4(ctx, cb.SelectOne("alpha"), "frog")
	require.NoError(t, err)
	require.Empty(t, network.Options)
}

// Check the options attached to an address pool, addressed by the pool
// boundaries.
func TestPoolOption4(t *testing.T) {
	backend, _ := newTestBackend(t)
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	subnet := newTestSubnet4(1, "192.0.2.0/24")
	subnet.Pools = []dhcpcfg.AddressPool{{Pool: "192.0.2.10 - 192.0.2.20"}}
	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), subnet))

	start := netip.MustParseAddr("192.0.2.10")
	end := netip.MustParseAddr("192.0.2.20")
	err := backend.CreateUpdatePoolOption4(ctx, cb.SelectOne("alpha"), start, end, newTestOption4())
	require.NoError(t, err)

	returned, err := backend.GetSubnet4(ctx, cb.SelectOne("alpha"), 1)
	require.NoError(t, err)
	require.NotNil(t, returned)
	require.Len(t, returned.Pools[0].Options, 1)
	require.EqualValues(t, 3, returned.Pools[0].Options[0].Code)

	// Unknown pool boundaries.
	err = backend.CreateUpdatePoolOption4(ctx, cb.SelectOne("alpha"), start, netip.MustParseAddr("192.0.2.30"), newTestOption4())
	require.ErrorIs(t, err, cb.ErrInvalidParameter)

	count, err := backend.DeletePoolOption4(ctx, cb.SelectOne("alpha"), start, end, 3, dhcpcfg.DHCPv4OptionSpace)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	returned, err = backend.GetSubnet4(ctx, cb.SelectOne("alpha"), 1)
	require.NoError(t, err)
	require.Empty(t, returned.Pools[0].Options)
}

// Check the options attached to a prefix pool, addressed by the pool
// prefix.
func TestPDPoolOption6(t *testing.T) {
	backend, _ := newTestBackend(t)
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	subnet := newTestSubnet6(1, "2001:db8:1::/64")
	subnet.PDPools = []dhcpcfg.PrefixPool{{Prefix: "3000:1::", PrefixLen: 48, DelegatedLen: 64}}
	require.NoError(t, backend.CreateUpdateSubnet6(ctx, cb.SelectOne("alpha"), subnet))

	option := &dhcpcfg.OptionDescriptor{Code: 23, FormattedValue: "2001:db8::53"}
	err := backend.CreateUpdatePDPoolOption6(ctx, cb.SelectOne("alpha"), netip.MustParsePrefix("3000:1::/48"), option)
	require.NoError(t, err)

	returned, err := backend.GetSubnet6(ctx, cb.SelectOne("alpha"), 1)
	require.NoError(t, err)
	require.NotNil(t, returned)
	require.Len(t, returned.PDPools[0].Options, 1)
	require.EqualValues(t, 23, returned.PDPools[0].Options[0].Code)
	require.Equal(t, dhcpcfg.DHCPv6OptionSpace, returned.PDPools[0].Options[0].Space)

	err = backend.CreateUpdatePDPoolOption6(ctx, cb.SelectOne("alpha"), netip.MustParsePrefix("3000:2::/48"), option)
	require.ErrorIs(t, err, cb.ErrInvalidParameter)

	count, err := backend.DeletePDPoolOption6(ctx, cb.SelectOne("alpha"), netip.MustParsePrefix("3000:1::/48"), 23, dhcpcfg.DHCPv6OptionSpace)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	returned, err = backend.GetSubnet6(ctx, cb.SelectOne("alpha"), 1)
	require.NoError(t, err)
	require.Empty(t, returned.PDPools[0].Options)
}

// Check that a scoped option write is recorded in the audit feed as an
// option change.
func TestScopedOptionAudit4(t *testing.T) {
	backend, clock := newTestBackend(t)
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), newTestSubnet4(1, "192.0.2.0/24")))
	watermark := clock.Advance(time.Second)
	clock.Advance(time.Second)

	require.NoError(t, backend.CreateUpdateSubnetOption4(ctx, cb.SelectOne("alpha"), 1, newTestOption4()))

	entries, err := backend.GetRecentAuditEntries4(ctx, cb.SelectOne("alpha"), watermark, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, cb.ObjectOption, entries[0].ObjectType)
	require.Equal(t, cb.ModificationCreate, entries[0].ModificationType)
}
