package memcb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"isc.org/tern/cb"
	dhcpmodel "isc.org/tern/datamodel/dhcp"
)

// Check the audit feed ordering and the watermark semantics against a
// fixed change history.
func TestGetRecentAuditEntries4(t *testing.T) {
	backend, clock := newTestBackend(t)
	ctx := context.Background()

	// rev 1: the server create, concerning all servers.
	addTestServer(t, backend, "alpha")
	// rev 2: a subnet assigned to alpha.
	first := clock.Advance(time.Second)
	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), newTestSubnet4(1, "192.0.2.0/24")))
	// revs 3-5 share one timestamp.
	second := clock.Advance(time.Second)
	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectAll(), newTestSubnet4(2, "192.0.3.0/24")))
	_, err := backend.DeleteSubnet4(ctx, cb.SelectOne("alpha"), 1)
	require.NoError(t, err)
	_, err = backend.DeleteSubnet4(ctx, cb.SelectAll(), 2)
	require.NoError(t, err)

	// The zero watermark returns the whole history in order.
	entries, err := backend.GetRecentAuditEntries4(ctx, cb.SelectOne("alpha"), time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		require.Greater(t, entries[i].Revision, entries[i-1].Revision)
		require.False(t, entries[i].ModificationTime.Before(entries[i-1].ModificationTime))
	}
	require.Equal(t, cb.ObjectServer, entries[0].ObjectType)
	require.Equal(t, cb.ObjectSubnet, entries[1].ObjectType)
	require.EqualValues(t, 1, entries[1].ObjectID)
	require.Equal(t, cb.ModificationCreate, entries[1].ModificationType)
	require.Equal(t, cb.ModificationDelete, entries[3].ModificationType)

	// A server not named in the assignments observes the shared
	// changes only.
	entries, err = backend.GetRecentAuditEntries4(ctx, cb.SelectOne("beta"), time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, entry := range entries {
		require.NotEqualValues(t, 1, entry.ObjectID)
	}

	// Strictly-after time watermark.
	entries, err = backend.GetRecentAuditEntries4(ctx, cb.SelectOne("alpha"), first, 2)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.EqualValues(t, 3, entries[0].Revision)

	// The revision breaks the tie within one timestamp.
	entries, err = backend.GetRecentAuditEntries4(ctx, cb.SelectOne("alpha"), second, 3)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.EqualValues(t, 4, entries[0].Revision)
	require.EqualValues(t, 5, entries[1].Revision)

	// The watermark at the feed head returns nothing.
	entries, err = backend.GetRecentAuditEntries4(ctx, cb.SelectOne("alpha"), second, 5)
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = backend.GetRecentAuditEntries4(ctx, cb.SelectUnassigned(), time.Time{}, 0)
	require.ErrorIs(t, err, cb.ErrNotImplemented)
}

// Check that the families keep separate audit feeds.
func TestAuditFeedsPerFamily(t *testing.T) {
	backend, _ := newTestBackend(t)
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), newTestSubnet4(1, "192.0.2.0/24")))

	entries, err := backend.GetRecentAuditEntries6(ctx, cb.SelectAny(), time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, cb.ObjectServer, entries[0].ObjectType)
}

// Check that repeated polling with the advancing watermark never
// returns an entry twice and never loses one.
func TestAuditWatermarkMonotonic(t *testing.T) {
	backend, clock := newTestBackend(t)
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	seen := make(map[int64]struct{})
	since := time.Time{}
	var sinceRevision int64

	poll := func() {
		entries, err := backend.GetRecentAuditEntries4(ctx, cb.SelectOne("alpha"), since, sinceRevision)
		require.NoError(t, err)
		for _, entry := range entries {
			_, duplicate := seen[entry.ID]
			require.False(t, duplicate, "entry %d returned twice", entry.ID)
			seen[entry.ID] = struct{}{}
			since = entry.ModificationTime
			sinceRevision = entry.Revision
		}
	}

	poll()
	for i := 1; i <= 5; i++ {
		if i%2 == 0 {
			clock.Advance(time.Second)
		}
		require.NoError(t, backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), newTestSubnet4(dhcpmodel.SubnetID(i), "192.0.2.0/24")))
		poll()
	}
	require.Len(t, seen, 6)

	// Nothing new on a final poll.
	entries, err := backend.GetRecentAuditEntries4(ctx, cb.SelectOne("alpha"), since, sinceRevision)
	require.NoError(t, err)
	require.Empty(t, entries)
}
