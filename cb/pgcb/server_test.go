package pgcb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"isc.org/tern/cb"
)

// Check the server round trip.
func TestCreateUpdateGetServer4(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()

	err := backend.CreateUpdateServer4(ctx, &cb.Server{Tag: "alpha", Description: "first floor"})
	require.NoError(t, err)

	server, err := backend.GetServer4(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, server)
	require.NotZero(t, server.ID)
	require.Equal(t, "alpha", server.Tag)
	require.Equal(t, "first floor", server.Description)
	require.False(t, server.ModificationTime.IsZero())

	// The update replaces the description and keeps the identifier.
	err = backend.CreateUpdateServer4(ctx, &cb.Server{Tag: "alpha", Description: "second floor"})
	require.NoError(t, err)

	replaced, err := backend.GetServer4(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, replaced)
	require.Equal(t, server.ID, replaced.ID)
	require.Equal(t, "second floor", replaced.Description)

	missing, err := backend.GetServer4(ctx, "ghost")
	require.NoError(t, err)
	require.Nil(t, missing)
}

// Check that the reserved and malformed tags are rejected.
func TestCreateUpdateServerInvalidTag(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()

	for _, tag := range []string{"", "all", "any", "unassigned", "two words"} {
		err := backend.CreateUpdateServer4(ctx, &cb.Server{Tag: tag})
		require.ErrorIs(t, err, cb.ErrInvalidParameter)
	}
	err := backend.CreateUpdateServer4(ctx, nil)
	require.ErrorIs(t, err, cb.ErrInvalidParameter)
}

// Check the server listing order: the built-in server comes first, the
// rest follow in the creation order.
func TestGetAllServers4(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()

	require.NoError(t, backend.CreateUpdateServer4(ctx, &cb.Server{Tag: "beta"}))
	require.NoError(t, backend.CreateUpdateServer4(ctx, &cb.Server{Tag: "alpha"}))

	servers, err := backend.GetAllServers4(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 3)
	require.Equal(t, cb.ServerTagAll, servers[0].Tag)
	require.Equal(t, "beta", servers[1].Tag)
	require.Equal(t, "alpha", servers[2].Tag)
}

// Check that deleting a server detaches its configurations instead of
// deleting them, and that the built-in server is not deletable.
func TestDeleteServer4(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	err := backend.CreateUpdateSubnet4(ctx, cb.SelectOne("alpha"), newTestSubnet4(1, "192.0.2.0/24"))
	require.NoError(t, err)

	_, err = backend.DeleteServer4(ctx, cb.ServerTagAll)
	require.ErrorIs(t, err, cb.ErrInvalidParameter)

	count, err := backend.DeleteServer4(ctx, "alpha")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	server, err := backend.GetServer4(ctx, "alpha")
	require.NoError(t, err)
	require.Nil(t, server)

	// The subnet survives unassigned: reachable with the any selector
	// but no longer through the deleted server.
	subnet, err := backend.GetSubnet4(ctx, cb.SelectAny(), 1)
	require.NoError(t, err)
	require.NotNil(t, subnet)
	require.Empty(t, subnet.ServerTags)

	subnet, err = backend.GetSubnet4(ctx, cb.SelectOne("alpha"), 1)
	require.NoError(t, err)
	require.Nil(t, subnet)

	count, err = backend.DeleteServer4(ctx, "ghost")
	require.NoError(t, err)
	require.Zero(t, count)
}

// Check the bulk server delete: everything but the built-in server
// goes away.
func TestDeleteAllServers4(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")
	addTestServer(t, backend, "beta")

	count, err := backend.DeleteAllServers4(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	servers, err := backend.GetAllServers4(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	require.Equal(t, cb.ServerTagAll, servers[0].Tag)
}

// Check the IPv6 server operations.
func TestServer6(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()

	require.NoError(t, backend.CreateUpdateServer6(ctx, &cb.Server{Tag: "alpha"}))

	server, err := backend.GetServer6(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, server)

	_, err = backend.DeleteServer6(ctx, cb.ServerTagAll)
	require.ErrorIs(t, err, cb.ErrInvalidParameter)

	count, err := backend.DeleteServer6(ctx, "alpha")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, err = backend.DeleteServer6(ctx, "alpha")
	require.NoError(t, err)
	require.Zero(t, count)
}
