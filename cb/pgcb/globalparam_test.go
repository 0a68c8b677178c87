package pgcb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"isc.org/tern/cb"
	"isc.org/tern/stamped"
)

// Check the global parameter round trip.
func TestCreateUpdateGetGlobalParameter4(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	err := backend.CreateUpdateGlobalParameter4(ctx, cb.SelectOne("alpha"), stamped.NewInt("valid-lifetime", 3600))
	require.NoError(t, err)

	returned, err := backend.GetGlobalParameter4(ctx, cb.SelectOne("alpha"), "valid-lifetime")
	require.NoError(t, err)
	require.NotNil(t, returned)
	value, err := returned.GetInt64()
	require.NoError(t, err)
	require.EqualValues(t, 3600, value)
	require.NotZero(t, returned.ID)
	require.False(t, returned.ModificationTime.IsZero())

	// The update replaces the value and keeps the identifier.
	require.NoError(t, backend.CreateUpdateGlobalParameter4(ctx, cb.SelectOne("alpha"), stamped.NewInt("valid-lifetime", 7200)))
	replaced, err := backend.GetGlobalParameter4(ctx, cb.SelectOne("alpha"), "valid-lifetime")
	require.NoError(t, err)
	require.NotNil(t, replaced)
	value, err = replaced.GetInt64()
	require.NoError(t, err)
	require.EqualValues(t, 7200, value)
	require.Equal(t, returned.ID, replaced.ID)

	missing, err := backend.GetGlobalParameter4(ctx, cb.SelectOne("alpha"), "renew-timer")
	require.NoError(t, err)
	require.Nil(t, missing)
}

// Check that the stored kind survives the round trip for each of the
// supported primitives.
func TestGlobalParameterKinds4(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	require.NoError(t, backend.CreateUpdateGlobalParameter4(ctx, cb.SelectOne("alpha"), stamped.New("allocator", "random")))
	require.NoError(t, backend.CreateUpdateGlobalParameter4(ctx, cb.SelectOne("alpha"), stamped.NewBool("echo-client-id", true)))
	require.NoError(t, backend.CreateUpdateGlobalParameter4(ctx, cb.SelectOne("alpha"), stamped.NewReal("t1-percent", 0.5)))

	text, err := backend.GetGlobalParameter4(ctx, cb.SelectOne("alpha"), "allocator")
	require.NoError(t, err)
	require.NotNil(t, text)
	s, err := text.GetString()
	require.NoError(t, err)
	require.Equal(t, "random", s)

	flag, err := backend.GetGlobalParameter4(ctx, cb.SelectOne("alpha"), "echo-client-id")
	require.NoError(t, err)
	require.NotNil(t, flag)
	b, err := flag.GetBool()
	require.NoError(t, err)
	require.True(t, b)

	ratio, err := backend.GetGlobalParameter4(ctx, cb.SelectOne("alpha"), "t1-percent")
	require.NoError(t, err)
	require.NotNil(t, ratio)
	f, err := ratio.GetFloat64()
	require.NoError(t, err)
	require.InDelta(t, 0.5, f, 1e-9)
}

// Check that a parameter holding no value is rejected.
func TestCreateUpdateGlobalParameter4NoValue(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	err := backend.CreateUpdateGlobalParameter4(ctx, cb.SelectOne("alpha"), stamped.NewNamed("valid-lifetime"))
	require.ErrorIs(t, err, cb.ErrInvalidParameter)

	err = backend.CreateUpdateGlobalParameter4(ctx, cb.SelectOne("alpha"), nil)
	require.ErrorIs(t, err, cb.ErrInvalidParameter)
}

// Check the global parameter listing and the selector scoping.
func TestGetAllGlobalParameters4(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	require.NoError(t, backend.CreateUpdateGlobalParameter4(ctx, cb.SelectAll(), stamped.NewInt("valid-lifetime", 3600)))
	require.NoError(t, backend.CreateUpdateGlobalParameter4(ctx, cb.SelectOne("alpha"), stamped.NewBool("echo-client-id", true)))

	parameters, err := backend.GetAllGlobalParameters4(ctx, cb.SelectOne("alpha"))
	require.NoError(t, err)
	require.Len(t, parameters, 2)
	require.NotNil(t, parameters.Get("valid-lifetime"))
	require.NotNil(t, parameters.Get("echo-client-id"))

	parameters, err = backend.GetAllGlobalParameters4(ctx, cb.SelectAll())
	require.NoError(t, err)
	require.Len(t, parameters, 1)
	require.NotNil(t, parameters.Get("valid-lifetime"))
}

// Check the modified-since filtering and the deletes.
func TestDeleteGlobalParameters4(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	require.NoError(t, backend.CreateUpdateGlobalParameter4(ctx, cb.SelectOne("alpha"), stamped.NewInt("valid-lifetime", 3600)))
	first, err := backend.GetGlobalParameter4(ctx, cb.SelectOne("alpha"), "valid-lifetime")
	require.NoError(t, err)
	require.NotNil(t, first)

	require.NoError(t, backend.CreateUpdateGlobalParameter4(ctx, cb.SelectOne("alpha"), stamped.NewInt("renew-timer", 900)))

	parameters, err := backend.GetModifiedGlobalParameters4(ctx, cb.SelectOne("alpha"), first.ModificationTime)
	require.NoError(t, err)
	require.Len(t, parameters, 1)
	require.Equal(t, "renew-timer", parameters[0].Name)

	count, err := backend.DeleteGlobalParameter4(ctx, cb.SelectOne("alpha"), "renew-timer")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, err = backend.DeleteGlobalParameter4(ctx, cb.SelectOne("alpha"), "renew-timer")
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = backend.DeleteAllGlobalParameters4(ctx, cb.SelectOne("alpha"))
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	parameters, err = backend.GetAllGlobalParameters4(ctx, cb.SelectAny())
	require.NoError(t, err)
	require.Empty(t, parameters)
}

// Check the IPv6 global parameter operations.
func TestGlobalParameters6(t *testing.T) {
	backend, teardown := setupBackend(t)
	defer teardown()
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	require.NoError(t, backend.CreateUpdateGlobalParameter6(ctx, cb.SelectOne("alpha"), stamped.NewInt("preferred-lifetime", 2700)))

	returned, err := backend.GetGlobalParameter6(ctx, cb.SelectOne("alpha"), "preferred-lifetime")
	require.NoError(t, err)
	require.NotNil(t, returned)
	value, err := returned.GetInt64()
	require.NoError(t, err)
	require.EqualValues(t, 2700, value)

	// The families do not share the parameters.
	missing, err := backend.GetGlobalParameter4(ctx, cb.SelectOne("alpha"), "preferred-lifetime")
	require.NoError(t, err)
	require.Nil(t, missing)

	count, err := backend.DeleteAllGlobalParameters6(ctx, cb.SelectOne("alpha"))
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}
