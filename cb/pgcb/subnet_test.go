package pgcb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"isc.org/tern/cb"
	"isc.org/tern/dhcpcfg"
)

// Check the IPv4 subnet round trip: the nested pools, options and
// reservations survive the storage, the pool rows receive identifiers
// and the server tags are filled in.
func TestCreateUpdateGetSubnet4(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	subnet := newTestSubnet4(5, "192.0.2.0/24")
	subnet.Interface = "eth0"
	subnet.ClientClass = "gold"
	subnet.Relay = []string{"192.0.2.254"}
	subnet.RenewTimer = newInt64(900)
	subnet.RebindTimer = newInt64(1575)
	subnet.ValidLifetime = newInt64(1800)
	subnet.Allocator = "random"
	subnet.AllocationRetries = newInt64(100)
	subnet.Pools = []dhcpcfg.AddressPool{{
		Pool:        "192.0.2.10 - 192.0.2.20",
		ClientClass: "gold",
		Options: []dhcpcfg.OptionDescriptor{{
			Code:           3,
			Space:          dhcpcfg.DHCPv4OptionSpace,
			FormattedValue: "192.0.2.1",
		}},
	}}
	subnet.Options = []dhcpcfg.OptionDescriptor{{
		Code:           6,
		Space:          dhcpcfg.DHCPv4OptionSpace,
		FormattedValue: "192.0.2.2",
	}}
	subnet.Reservations = []dhcpcfg.Host{{
		HWAddress: "01:02:03:04:05:06",
		IPAddress: "192.0.2.200",
	}}
	subnet.UserContext = map[string]any{"site": "fra1"}
	err := backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), subnet)
	require.NoError(t, err)

	returned, err := backend.GetSubnet4(ctx, cb.SelectOne("alpha"), 5)
	require.NoError(t, err)
	require.NotNil(t, returned)
	require.EqualValues(t, 5, returned.ID)
	require.Equal(t, "192.0.2.0/24", returned.Prefix)
	require.Equal(t, "eth0", returned.Interface)
	require.Equal(t, "gold", returned.ClientClass)
	require.Equal(t, []string{"192.0.2.254"}, returned.Relay)
	require.Equal(t, []string{"alpha"}, returned.ServerTags)
	require.Equal(t, "random", returned.Allocator)
	require.False(t, returned.ModificationTime.IsZero())
	require.NotNil(t, returned.ValidLifetime)
	require.EqualValues(t, 1800, *returned.ValidLifetime)
	require.NotNil(t, returned.AllocationRetries)
	require.EqualValues(t, 100, *returned.AllocationRetries)

	require.Len(t, returned.Pools, 1)
	require.NotZero(t, returned.Pools[0].ID)
	require.Equal(t, "192.0.2.10 - 192.0.2.20", returned.Pools[0].Pool)
	require.Equal(t, "gold", returned.Pools[0].ClientClass)
	require.Len(t, returned.Pools[0].Options, 1)
	require.EqualValues(t, 3, returned.Pools[0].Options[0].Code)
	require.Equal(t, "192.0.2.1", returned.Pools[0].Options[0].FormattedValue)

	require.Len(t, returned.Options, 1)
	require.EqualValues(t, 6, returned.Options[0].Code)

	require.Len(t, returned.Reservations, 1)
	require.Equal(t, "192.0.2.200", returned.Reservations[0].IPAddress)
	require.Equal(t, map[string]any{"site": "fra1"}, returned.UserContext)

	missing, err := backend.GetSubnet4(ctx, cb.SelectOne("alpha"), 6)
	require.NoError(t, err)
	require.Nil(t, missing)
}

// Check that the writes reject the selectors not naming concrete
// servers and the selectors naming unknown servers.
func TestCreateUpdateSubnet4SelectorChecks(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	subnet := newTestSubnet4(1, "192.0.2.0/24")

	err := backend.CreateUpdateSubnet4(ctx, cb.SelectAny(), subnet)
	require.ErrorIs(t, err, cb.ErrNotImplemented)

	err = backend.CreateUpdateSubnet4(ctx, cb.SelectUnassigned(), subnet)
	require.ErrorIs(t, err, cb.ErrNotImplemented)

	err = backend.CreateUpdateSubnet4(ctx, cb.SelectOne("ghost"), subnet)
	require.ErrorIs(t, err, cb.ErrInvalidParameter)
	require.ErrorContains(t, err, "ghost")

	// An invalid subnet is rejected before the selector is applied.
	err = backend.CreateUpdateSubnet4(ctx, cb.SelectAll(), newTestSubnet4(0, "192.0.2.0/24"))
	require.ErrorIs(t, err, cb.ErrInvalidParameter)
}

// Check that a subnet cannot join a shared network which is not in the
// database.
func TestCreateUpdateSubnet4MissingSharedNetwork(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	subnet := newTestSubnet4(1, "192.0.2.0/24")
	subnet.SharedNetworkName = "ghost"
	err := backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), subnet)
	require.ErrorIs(t, err, cb.ErrInvalidParameter)
	require.ErrorContains(t, err, "ghost")
}

// Check that an update replaces the subnet and rewrites the server
// assignment, and that the audit distinguishes a create from an update.
func TestUpdateSubnet4RewritesAssignment(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")
	addTestServer(t, backend, "beta")
	since, sinceRevision := auditMark4(t, backend)

	err := backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), newTestSubnet4(1, "192.0.2.0/24"))
	require.NoError(t, err)

	updated := newTestSubnet4(1, "192.0.2.0/24")
	updated.Interface = "eth1"
	err = backend.CreateUpdateSubnet4(ctx, cb.SelectOne("beta"), updated)
	require.NoError(t, err)

	// The assignment now names beta only.
	subnet, err := backend.GetSubnet4(ctx, cb.SelectAny(), 1)
	require.NoError(t, err)
	require.NotNil(t, subnet)
	require.Equal(t, []string{"beta"}, subnet.ServerTags)
	require.Equal(t, "eth1", subnet.Interface)

	subnet, err = backend.GetSubnet4(ctx, cb.SelectOne("alpha"), 1)
	require.NoError(t, err)
	require.Nil(t, subnet)

	// The dropped server still observes the update in the audit feed.
	entries, err := backend.GetRecentAuditEntries4(ctx, cb.SelectOne("alpha"), since, sinceRevision)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, cb.ModificationCreate, entries[0].ModificationType)
	require.Equal(t, cb.ModificationUpdate, entries[1].ModificationType)
	require.Equal(t, cb.ObjectSubnet, entries[1].ObjectType)
}

// Check the selector visibility rules on the subnet reads.
func TestSubnetVisibility4(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")
	addTestServer(t, backend, "beta")

	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), newTestSubnet4(1, "192.0.2.0/24")))
	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectAll(), newTestSubnet4(2, "192.0.3.0/24")))
	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectMultiple("alpha", "beta"), newTestSubnet4(3, "192.0.4.0/24")))

	// A one-server read includes the elements shared by all servers.
	subnets, err := backend.GetAllSubnets4(ctx, cb.SelectOne("alpha"))
	require.NoError(t, err)
	require.Len(t, subnets, 3)

	subnets, err = backend.GetAllSubnets4(ctx, cb.SelectOne("beta"))
	require.NoError(t, err)
	require.Len(t, subnets, 2)
	require.EqualValues(t, 2, subnets[0].ID)
	require.EqualValues(t, 3, subnets[1].ID)
	require.ElementsMatch(t, []string{"alpha", "beta"}, subnets[1].ServerTags)

	// The all selector covers the shared elements only.
	subnets, err = backend.GetAllSubnets4(ctx, cb.SelectAll())
	require.NoError(t, err)
	require.Len(t, subnets, 1)
	require.EqualValues(t, 2, subnets[0].ID)

	subnets, err = backend.GetAllSubnets4(ctx, cb.SelectAny())
	require.NoError(t, err)
	require.Len(t, subnets, 3)

	_, err = backend.GetAllSubnets4(ctx, cb.SelectUnassigned())
	require.ErrorIs(t, err, cb.ErrNotImplemented)
}

// Check the modified-since filtering: the boundary is exclusive.
func TestGetModifiedSubnets4(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), newTestSubnet4(1, "192.0.2.0/24")))
	first, err := backend.GetSubnet4(ctx, cb.SelectOne("alpha"), 1)
	require.NoError(t, err)
	require.NotNil(t, first)

	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), newTestSubnet4(2, "192.0.3.0/24")))

	subnets, err := backend.GetModifiedSubnets4(ctx, cb.SelectOne("alpha"), first.ModificationTime)
	require.NoError(t, err)
	require.Len(t, subnets, 1)
	require.EqualValues(t, 2, subnets[0].ID)

	subnets, err = backend.GetModifiedSubnets4(ctx, cb.SelectOne("alpha"), time.Time{})
	require.NoError(t, err)
	require.Len(t, subnets, 2)
}

// Check the subnet lookup and delete by the prefix, including the
// denormalized and malformed inputs.
func TestSubnet4ByPrefix(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), newTestSubnet4(5, "192.0.2.0/24")))

	// A host address within the subnet selects the same row.
	subnet, err := backend.GetSubnet4ByPrefix(ctx, cb.SelectOne("alpha"), "192.0.2.5/24")
	require.NoError(t, err)
	require.NotNil(t, subnet)
	require.EqualValues(t, 5, subnet.ID)

	subnet, err = backend.GetSubnet4ByPrefix(ctx, cb.SelectOne("alpha"), "198.51.100.0/24")
	require.NoError(t, err)
	require.Nil(t, subnet)

	_, err = backend.GetSubnet4ByPrefix(ctx, cb.SelectOne("alpha"), "bogus")
	require.ErrorIs(t, err, cb.ErrInvalidParameter)

	_, err = backend.DeleteSubnet4ByPrefix(ctx, cb.SelectOne("alpha"), "bogus")
	require.ErrorIs(t, err, cb.ErrInvalidParameter)

	count, err := backend.DeleteSubnet4ByPrefix(ctx, cb.SelectOne("alpha"), "192.0.2.128/24")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	subnet, err = backend.GetSubnet4(ctx, cb.SelectAny(), 5)
	require.NoError(t, err)
	require.Nil(t, subnet)
}

// Check the delete discipline: a one-server delete does not touch the
// elements shared by all servers and a missing target is not an error.
func TestDeleteSubnet4(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), newTestSubnet4(1, "192.0.2.0/24")))
	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectAll(), newTestSubnet4(2, "192.0.3.0/24")))

	count, err := backend.DeleteSubnet4(ctx, cb.SelectOne("alpha"), 2)
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = backend.DeleteSubnet4(ctx, cb.SelectAll(), 2)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, err = backend.DeleteSubnet4(ctx, cb.SelectOne("alpha"), 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, err = backend.DeleteSubnet4(ctx, cb.SelectOne("alpha"), 9)
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = backend.DeleteAllSubnets4(ctx, cb.SelectAny())
	require.NoError(t, err)
	require.Zero(t, count)
}

// Check the bulk subnet delete with the selector scoping.
func TestDeleteAllSubnets4(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), newTestSubnet4(1, "192.0.2.0/24")))
	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectAll(), newTestSubnet4(2, "192.0.3.0/24")))

	// The one-server bulk delete leaves the shared subnet in place.
	count, err := backend.DeleteAllSubnets4(ctx, cb.SelectOne("alpha"))
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	subnets, err := backend.GetAllSubnets4(ctx, cb.SelectAny())
	require.NoError(t, err)
	require.Len(t, subnets, 1)
	require.EqualValues(t, 2, subnets[0].ID)

	count, err = backend.DeleteAllSubnets4(ctx, cb.SelectAny())
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

// Check the membership queries and the member delete of a shared
// network. An empty name addresses the subnets outside any shared
// network.
func TestSharedNetworkSubnets4(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	network := &dhcpcfg.SharedNetwork4{Name: "fabric"}
	require.NoError(t, backend.CreateUpdateSharedNetwork4(ctx, cb.SelectOne("alpha"), network))

	member1 := newTestSubnet4(1, "192.0.2.0/24")
	member1.SharedNetworkName = "fabric"
	member2 := newTestSubnet4(2, "192.0.3.0/24")
	member2.SharedNetworkName = "fabric"
	standalone := newTestSubnet4(3, "192.0.4.0/24")
	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), member1))
	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), member2))
	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), standalone))

	members, err := backend.GetSharedNetworkSubnets4(ctx, cb.SelectOne("alpha"), "fabric")
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, "fabric", members[0].SharedNetworkName)

	orphans, err := backend.GetSharedNetworkSubnets4(ctx, cb.SelectOne("alpha"), "")
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	require.EqualValues(t, 3, orphans[0].ID)

	count, err := backend.DeleteSharedNetworkSubnets4(ctx, cb.SelectOne("alpha"), "fabric")
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	subnets, err := backend.GetAllSubnets4(ctx, cb.SelectAny())
	require.NoError(t, err)
	require.Len(t, subnets, 1)
	require.EqualValues(t, 3, subnets[0].ID)
}

// Check the IPv6 subnet round trip with the address and prefix pools.
func TestCreateUpdateGetSubnet6(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	subnet := newTestSubnet6(7, "2001:db8:1::/64")
	subnet.PreferredLifetime = newInt64(2700)
	subnet.ValidLifetime = newInt64(3600)
	rapid := true
	subnet.RapidCommit = &rapid
	subnet.PDAllocator = "hashed"
	subnet.Pools = []dhcpcfg.AddressPool{{
		Pool: "2001:db8:1::10 - 2001:db8:1::ff",
	}}
	subnet.PDPools = []dhcpcfg.PrefixPool{
		{
			Prefix:       "3000:1::",
			PrefixLen:    48,
			DelegatedLen: 64,
		},
		{
			Prefix:            "3000:2::",
			PrefixLen:         48,
			DelegatedLen:      64,
			ExcludedPrefix:    "3000:2:0:1:8000::",
			ExcludedPrefixLen: 72,
			Options: []dhcpcfg.OptionDescriptor{{
				Code:           23,
				Space:          dhcpcfg.DHCPv6OptionSpace,
				FormattedValue: "2001:db8:1::53",
			}},
		},
	}
	err := backend.CreateUpdateSubnet6(ctx, cb.SelectOne("alpha"), subnet)
	require.NoError(t, err)

	returned, err := backend.GetSubnet6(ctx, cb.SelectOne("alpha"), 7)
	require.NoError(t, err)
	require.NotNil(t, returned)
	require.Equal(t, "2001:db8:1::/64", returned.Prefix)
	require.NotNil(t, returned.PreferredLifetime)
	require.EqualValues(t, 2700, *returned.PreferredLifetime)
	require.NotNil(t, returned.RapidCommit)
	require.True(t, *returned.RapidCommit)
	require.Equal(t, "hashed", returned.PDAllocator)

	require.Len(t, returned.Pools, 1)
	require.Equal(t, "2001:db8:1::10 - 2001:db8:1::ff", returned.Pools[0].Pool)

	require.Len(t, returned.PDPools, 2)
	require.Equal(t, "3000:1::", returned.PDPools[0].Prefix)
	require.Equal(t, 48, returned.PDPools[0].PrefixLen)
	require.Equal(t, 64, returned.PDPools[0].DelegatedLen)
	require.Empty(t, returned.PDPools[0].ExcludedPrefix)

	require.Equal(t, "3000:2:0:1:8000::", returned.PDPools[1].ExcludedPrefix)
	require.Equal(t, 72, returned.PDPools[1].ExcludedPrefixLen)
	require.Len(t, returned.PDPools[1].Options, 1)
	require.EqualValues(t, 23, returned.PDPools[1].Options[0].Code)

	// An update dropping the prefix pools removes their rows.
	returned.PDPools = returned.PDPools[:1]
	require.NoError(t, backend.CreateUpdateSubnet6(ctx, cb.SelectOne("alpha"), returned))
	replaced, err := backend.GetSubnet6(ctx, cb.SelectOne("alpha"), 7)
	require.NoError(t, err)
	require.NotNil(t, replaced)
	require.Len(t, replaced.PDPools, 1)
	require.Equal(t, "3000:1::", replaced.PDPools[0].Prefix)
}

// Check the IPv6 subnet deletes and the prefix lookup.
func TestDeleteSubnet6(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	require.NoError(t, backend.CreateUpdateSubnet6(ctx, cb.SelectOne("alpha"), newTestSubnet6(1, "2001:db8:1::/64")))

	subnet, err := backend.GetSubnet6ByPrefix(ctx, cb.SelectOne("alpha"), "2001:db8:1::42/64")
	require.NoError(t, err)
	require.NotNil(t, subnet)
	require.EqualValues(t, 1, subnet.ID)

	count, err := backend.DeleteSubnet6(ctx, cb.SelectOne("alpha"), 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, err = backend.DeleteSubnet6(ctx, cb.SelectOne("alpha"), 1)
	require.NoError(t, err)
	require.Zero(t, count)
}
