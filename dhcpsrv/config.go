package dhcpsrv

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"isc.org/tern/cb"
	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/dhcpcfg"
	"isc.org/tern/stamped"
	ternutil "isc.org/tern/util"
)

// A configuration backend serving both families. The in-memory and
// the PostgreSQL backends satisfy it.
type ConfigBackend interface {
	cb.Backend4
	cb.Backend6
}

// Materializes the IPv4 configuration visible to the servers matched
// by the selector: the global parameters applied to the typed
// configuration fields, the option definitions, the global scope
// options, the shared networks and the subnets with their pool and
// subnet scope options. The returned configuration is in the
// normalized form. The second returned value carries all global
// parameters, including the ones Config4 does not recognize.
func NewConfig4FromBackend(ctx context.Context, backend cb.Backend4, selector cb.ServerSelector) (*dhcpcfg.Config4, stamped.List, error) {
	globals, err := backend.GetAllGlobalParameters4(ctx, selector)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "problem fetching the IPv4 global parameters")
	}
	cfg := &dhcpcfg.Config4{}
	for _, value := range globals {
		if err = cfg.ApplyGlobalParameter(value); err != nil {
			return nil, nil, errors.WithMessagef(err, "problem applying the IPv4 global parameter %s", value.Name)
		}
	}
	if cfg.OptionDefs, err = backend.GetAllOptionDefs4(ctx, selector); err != nil {
		return nil, nil, errors.WithMessage(err, "problem fetching the IPv4 option definitions")
	}
	if cfg.Options, err = backend.GetAllOptions4(ctx, selector); err != nil {
		return nil, nil, errors.WithMessage(err, "problem fetching the IPv4 global options")
	}
	if cfg.SharedNetworks, err = backend.GetAllSharedNetworks4(ctx, selector); err != nil {
		return nil, nil, errors.WithMessage(err, "problem fetching the IPv4 shared networks")
	}
	if cfg.Subnets, err = backend.GetAllSubnets4(ctx, selector); err != nil {
		return nil, nil, errors.WithMessage(err, "problem fetching the IPv4 subnets")
	}
	return cfg, globals, nil
}

// Materializes the IPv6 configuration visible to the servers matched
// by the selector, mirroring the IPv4 variant.
func NewConfig6FromBackend(ctx context.Context, backend cb.Backend6, selector cb.ServerSelector) (*dhcpcfg.Config6, stamped.List, error) {
	globals, err := backend.GetAllGlobalParameters6(ctx, selector)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "problem fetching the IPv6 global parameters")
	}
	cfg := &dhcpcfg.Config6{}
	for _, value := range globals {
		if err = cfg.ApplyGlobalParameter(value); err != nil {
			return nil, nil, errors.WithMessagef(err, "problem applying the IPv6 global parameter %s", value.Name)
		}
	}
	if cfg.OptionDefs, err = backend.GetAllOptionDefs6(ctx, selector); err != nil {
		return nil, nil, errors.WithMessage(err, "problem fetching the IPv6 option definitions")
	}
	if cfg.Options, err = backend.GetAllOptions6(ctx, selector); err != nil {
		return nil, nil, errors.WithMessage(err, "problem fetching the IPv6 global options")
	}
	if cfg.SharedNetworks, err = backend.GetAllSharedNetworks6(ctx, selector); err != nil {
		return nil, nil, errors.WithMessage(err, "problem fetching the IPv6 shared networks")
	}
	if cfg.Subnets, err = backend.GetAllSubnets6(ctx, selector); err != nil {
		return nil, nil, errors.WithMessage(err, "problem fetching the IPv6 subnets")
	}
	return cfg, globals, nil
}

// Builds a snapshot of the configuration visible to the servers
// matched by the selector. The backends are consulted in the
// configured order and the first backend defining an entity or a
// parameter wins; the later backends only contribute what the earlier
// ones do not have. The snapshot revision is the latest audit feed
// position across all backends and both families.
func BuildSnapshot(ctx context.Context, selector cb.ServerSelector, backends ...ConfigBackend) (*Snapshot, error) {
	snapshot := &Snapshot{}
	var err error
	if snapshot.Config4, snapshot.Globals4, err = buildConfig4(ctx, selector, backends); err != nil {
		return nil, err
	}
	if snapshot.Config6, snapshot.Globals6, err = buildConfig6(ctx, selector, backends); err != nil {
		return nil, err
	}
	for _, backend := range backends {
		entries, err := backend.GetRecentAuditEntries4(ctx, selector, time.Time{}, 0)
		if err != nil {
			return nil, errors.WithMessagef(err, "problem reading the IPv4 audit feed of the %s backend", backend.Name())
		}
		snapshot.Revision = snapshot.Revision.Advance(entries)
		if entries, err = backend.GetRecentAuditEntries6(ctx, selector, time.Time{}, 0); err != nil {
			return nil, errors.WithMessagef(err, "problem reading the IPv6 audit feed of the %s backend", backend.Name())
		}
		snapshot.Revision = snapshot.Revision.Advance(entries)
	}
	return snapshot, nil
}

// Merges the IPv4 configurations of all backends, first wins.
func buildConfig4(ctx context.Context, selector cb.ServerSelector, backends []ConfigBackend) (*dhcpcfg.Config4, stamped.List, error) {
	merged := &dhcpcfg.Config4{}
	var globals stamped.List
	for _, backend := range backends {
		cfg, list, err := NewConfig4FromBackend(ctx, backend, selector)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "problem building the IPv4 configuration from the %s backend", backend.Name())
		}
		mergeConfig4(merged, cfg)
		globals = mergeKeyed(globals, list, func(value *stamped.Value) string { return value.Name })
	}
	return merged, globals, nil
}

// Merges the IPv6 configurations of all backends, first wins.
func buildConfig6(ctx context.Context, selector cb.ServerSelector, backends []ConfigBackend) (*dhcpcfg.Config6, stamped.List, error) {
	merged := &dhcpcfg.Config6{}
	var globals stamped.List
	for _, backend := range backends {
		cfg, list, err := NewConfig6FromBackend(ctx, backend, selector)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "problem building the IPv6 configuration from the %s backend", backend.Name())
		}
		mergeConfig6(merged, cfg)
		globals = mergeKeyed(globals, list, func(value *stamped.Value) string { return value.Name })
	}
	return merged, globals, nil
}

func mergeConfig4(dst, src *dhcpcfg.Config4) {
	if dst.ValidLifetime == nil {
		dst.ValidLifetime = src.ValidLifetime
	}
	if dst.RenewTimer == nil {
		dst.RenewTimer = src.RenewTimer
	}
	if dst.RebindTimer == nil {
		dst.RebindTimer = src.RebindTimer
	}
	if dst.Allocator == "" {
		dst.Allocator = src.Allocator
	}
	if dst.AllocationRetries == nil {
		dst.AllocationRetries = src.AllocationRetries
	}
	if dst.DeclineProbationPeriod == nil {
		dst.DeclineProbationPeriod = src.DeclineProbationPeriod
	}
	dst.OptionDefs = mergeKeyed(dst.OptionDefs, src.OptionDefs, optionDefKey)
	dst.Options = mergeKeyed(dst.Options, src.Options, optionKey)
	dst.SharedNetworks = mergeKeyed(dst.SharedNetworks, src.SharedNetworks,
		func(network dhcpcfg.SharedNetwork4) string { return network.Name })
	dst.Subnets = mergeKeyed(dst.Subnets, src.Subnets,
		func(subnet dhcpcfg.Subnet4) dhcpmodel.SubnetID { return subnet.ID })
}

func mergeConfig6(dst, src *dhcpcfg.Config6) {
	if dst.PreferredLifetime == nil {
		dst.PreferredLifetime = src.PreferredLifetime
	}
	if dst.ValidLifetime == nil {
		dst.ValidLifetime = src.ValidLifetime
	}
	if dst.RenewTimer == nil {
		dst.RenewTimer = src.RenewTimer
	}
	if dst.RebindTimer == nil {
		dst.RebindTimer = src.RebindTimer
	}
	if dst.Allocator == "" {
		dst.Allocator = src.Allocator
	}
	if dst.PDAllocator == "" {
		dst.PDAllocator = src.PDAllocator
	}
	if dst.AllocationRetries == nil {
		dst.AllocationRetries = src.AllocationRetries
	}
	if dst.DeclineProbationPeriod == nil {
		dst.DeclineProbationPeriod = src.DeclineProbationPeriod
	}
	dst.OptionDefs = mergeKeyed(dst.OptionDefs, src.OptionDefs, optionDefKey)
	dst.Options = mergeKeyed(dst.Options, src.Options, optionKey)
	dst.SharedNetworks = mergeKeyed(dst.SharedNetworks, src.SharedNetworks,
		func(network dhcpcfg.SharedNetwork6) string { return network.Name })
	dst.Subnets = mergeKeyed(dst.Subnets, src.Subnets,
		func(subnet dhcpcfg.Subnet6) dhcpmodel.SubnetID { return subnet.ID })
}

// Appends the elements of src missing from dst, keyed by the natural
// key. The elements already present in dst win.
func mergeKeyed[T any, K comparable](dst, src []T, key func(T) K) []T {
	seen := make(map[K]bool, len(dst))
	for i := range dst {
		seen[key(dst[i])] = true
	}
	for i := range src {
		k := key(src[i])
		if !seen[k] {
			seen[k] = true
			dst = append(dst, src[i])
		}
	}
	return dst
}

type optionScopeKey struct {
	space string
	code  uint16
}

func optionDefKey(def dhcpcfg.OptionDefinition) optionScopeKey {
	return optionScopeKey{space: def.Space, code: def.Code}
}

func optionKey(option dhcpcfg.OptionDescriptor) optionScopeKey {
	return optionScopeKey{space: option.Space, code: option.Code}
}

// Merges the option lists of the configuration scopes. An option
// redefined at a more specific scope replaces the less specific one in
// place, so the result keeps the first seen order.
type optionMerger struct {
	family  ternutil.IPType
	index   map[optionScopeKey]int
	options []dhcpcfg.OptionDescriptor
}

func (merger *optionMerger) add(options []dhcpcfg.OptionDescriptor) {
	if merger.index == nil {
		merger.index = make(map[optionScopeKey]int)
	}
	for _, option := range options {
		key := optionScopeKey{space: option.EffectiveSpace(merger.family), code: option.Code}
		if at, ok := merger.index[key]; ok {
			merger.options[at] = option
			continue
		}
		merger.index[key] = len(merger.options)
		merger.options = append(merger.options, option)
	}
}

// Returns the options effective for the subnet and the pool, merged
// across the global, shared network, subnet and pool scopes. The most
// specific scope wins for an option of the same code and space. An
// option cancelled with the never-send flag stays in the result with
// the flag set; the response assembly decides what to do with it.
func EffectiveOptions4(cfg *dhcpcfg.Config4, subnet *dhcpcfg.Subnet4, pool *dhcpcfg.AddressPool) []dhcpcfg.OptionDescriptor {
	merger := optionMerger{family: ternutil.IPv4}
	merger.add(cfg.Options)
	if network := cfg.FindSharedNetwork(subnet.SharedNetworkName); network != nil {
		merger.add(network.Options)
	}
	merger.add(subnet.Options)
	if pool != nil {
		merger.add(pool.Options)
	}
	return merger.options
}

// Returns the options effective for the subnet and the address or
// prefix delegation pool, merged across the global, shared network,
// subnet, pool and prefix pool scopes. At most one of the pools is
// expected per allocation.
func EffectiveOptions6(cfg *dhcpcfg.Config6, subnet *dhcpcfg.Subnet6, pool *dhcpcfg.AddressPool, pdPool *dhcpcfg.PrefixPool) []dhcpcfg.OptionDescriptor {
	merger := optionMerger{family: ternutil.IPv6}
	merger.add(cfg.Options)
	if network := cfg.FindSharedNetwork(subnet.SharedNetworkName); network != nil {
		merger.add(network.Options)
	}
	merger.add(subnet.Options)
	if pool != nil {
		merger.add(pool.Options)
	}
	if pdPool != nil {
		merger.add(pdPool.Options)
	}
	return merger.options
}
