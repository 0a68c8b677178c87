package memcb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"isc.org/tern/cb"
	"isc.org/tern/dhcpcfg"
)

// Check the option definition round trip and the upsert semantics.
func TestCreateUpdateGetOptionDef4(t *testing.T) {
	backend, clock := newTestBackend(t)
	ctx := context.Background()
	addTestServer(t, backend, "alpha")
	clock.Advance(time.Second)

	def := &dhcpcfg.OptionDefinition{
		Code:  230,
		Name:  "container",
		Space: dhcpcfg.DHCPv4OptionSpace,
		Type:  dhcpcfg.StringOption,
	}
	err := backend.CreateUpdateOptionDef4(ctx, cb.SelectOne("alpha"), def)
	require.NoError(t, err)

	returned, err := backend.GetOptionDef4(ctx, cb.SelectOne("alpha"), 230, dhcpcfg.DHCPv4OptionSpace)
	require.NoError(t, err)
	require.NotNil(t, returned)
	require.Equal(t, "container", returned.Name)
	require.Equal(t, dhcpcfg.StringOption, returned.Type)
	require.Equal(t, []string{"alpha"}, returned.ServerTags)
	require.NotZero(t, returned.ID)

	// An update keeps the identifier.
	updated := &dhcpcfg.OptionDefinition{
		Code:  230,
		Name:  "container",
		Space: dhcpcfg.DHCPv4OptionSpace,
		Type:  dhcpcfg.Uint32Option,
		Array: true,
	}
	require.NoError(t, backend.CreateUpdateOptionDef4(ctx, cb.SelectOne("alpha"), updated))

	replaced, err := backend.GetOptionDef4(ctx, cb.SelectOne("alpha"), 230, dhcpcfg.DHCPv4OptionSpace)
	require.NoError(t, err)
	require.NotNil(t, replaced)
	require.Equal(t, returned.ID, replaced.ID)
	require.Equal(t, dhcpcfg.Uint32Option, replaced.Type)
	require.True(t, replaced.Array)

	missing, err := backend.GetOptionDef4(ctx, cb.SelectOne("alpha"), 231, dhcpcfg.DHCPv4OptionSpace)
	require.NoError(t, err)
	require.Nil(t, missing)
}

// Check that the invalid option definitions are rejected.
func TestCreateUpdateOptionDef4Invalid(t *testing.T) {
	backend, _ := newTestBackend(t)
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	// Standard option codes must not be redefined.
	err := backend.CreateUpdateOptionDef4(ctx, cb.SelectOne("alpha"), &dhcpcfg.OptionDefinition{
		Code:  3,
		Name:  "routers",
		Space: dhcpcfg.DHCPv4OptionSpace,
		Type:  dhcpcfg.IPv4AddressOption,
	})
	require.ErrorIs(t, err, cb.ErrInvalidParameter)

	// The ban does not apply to custom spaces.
	err = backend.CreateUpdateOptionDef4(ctx, cb.SelectOne("alpha"), &dhcpcfg.OptionDefinition{
		Code:  3,
		Name:  "vendor-knob",
		Space: "vendor-space",
		Type:  dhcpcfg.Uint8Option,
	})
	require.NoError(t, err)

	// Unknown payload type.
	err = backend.CreateUpdateOptionDef4(ctx, cb.SelectOne("alpha"), &dhcpcfg.OptionDefinition{
		Code:  231,
		Name:  "weird",
		Space: dhcpcfg.DHCPv4OptionSpace,
		Type:  "hologram",
	})
	require.ErrorIs(t, err, cb.ErrInvalidParameter)

	// A record needs its field types.
	err = backend.CreateUpdateOptionDef4(ctx, cb.SelectOne("alpha"), &dhcpcfg.OptionDefinition{
		Code:  232,
		Name:  "pair",
		Space: dhcpcfg.DHCPv4OptionSpace,
		Type:  dhcpcfg.RecordOption,
	})
	require.ErrorIs(t, err, cb.ErrInvalidParameter)
}

// Check the option definition listing, filtering and deletes.
func TestGetDeleteOptionDefs4(t *testing.T) {
	backend, clock := newTestBackend(t)
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	first := clock.Advance(time.Second)
	require.NoError(t, backend.CreateUpdateOptionDef4(ctx, cb.SelectOne("alpha"), &dhcpcfg.OptionDefinition{
		Code: 230, Name: "one", Space: dhcpcfg.DHCPv4OptionSpace, Type: dhcpcfg.StringOption,
	}))
	clock.Advance(time.Second)
	require.NoError(t, backend.CreateUpdateOptionDef4(ctx, cb.SelectAll(), &dhcpcfg.OptionDefinition{
		Code: 231, Name: "two", Space: dhcpcfg.DHCPv4OptionSpace, Type: dhcpcfg.StringOption,
	}))

	defs, err := backend.GetAllOptionDefs4(ctx, cb.SelectOne("alpha"))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.Equal(t, "one", defs[0].Name)
	require.Equal(t, "two", defs[1].Name)

	defs, err = backend.GetModifiedOptionDefs4(ctx, cb.SelectAny(), first)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Equal(t, "two", defs[0].Name)

	// A one-server delete does not touch the shared definition.
	count, err := backend.DeleteOptionDef4(ctx, cb.SelectOne("alpha"), 231, dhcpcfg.DHCPv4OptionSpace)
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = backend.DeleteOptionDef4(ctx, cb.SelectOne("alpha"), 230, dhcpcfg.DHCPv4OptionSpace)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, err = backend.DeleteAllOptionDefs4(ctx, cb.SelectAll())
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	defs, err = backend.GetAllOptionDefs4(ctx, cb.SelectAny())
	require.NoError(t, err)
	require.Empty(t, defs)
}

// Check the IPv6 option definition operations.
func TestOptionDefs6(t *testing.T) {
	backend, _ := newTestBackend(t)
	ctx := context.Background()
	addTestServer(t, backend, "alpha")

	// The IPv6 standard code boundary is higher.
	err := backend.CreateUpdateOptionDef6(ctx, cb.SelectOne("alpha"), &dhcpcfg.OptionDefinition{
		Code: 230, Name: "low", Space: dhcpcfg.DHCPv6OptionSpace, Type: dhcpcfg.StringOption,
	})
	require.ErrorIs(t, err, cb.ErrInvalidParameter)

	require.NoError(t, backend.CreateUpdateOptionDef6(ctx, cb.SelectOne("alpha"), &dhcpcfg.OptionDefinition{
		Code: 65001, Name: "high", Space: dhcpcfg.DHCPv6OptionSpace, Type: dhcpcfg.StringOption,
	}))

	def, err := backend.GetOptionDef6(ctx, cb.SelectOne("alpha"), 65001, dhcpcfg.DHCPv6OptionSpace)
	require.NoError(t, err)
	require.NotNil(t, def)
	require.Equal(t, "high", def.Name)

	count, err := backend.DeleteOptionDef6(ctx, cb.SelectOne("alpha"), 65001, dhcpcfg.DHCPv6OptionSpace)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}
