package dhcpcfg

import (
	"net/netip"

	"github.com/pkg/errors"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/stamped"
)

// Names of the global parameters recognized by the server. Other
// parameters can be stored in the configuration backends but have no
// effect on the allocation.
const (
	GlobalValidLifetime          = "valid-lifetime"
	GlobalPreferredLifetime      = "preferred-lifetime"
	GlobalRenewTimer             = "renew-timer"
	GlobalRebindTimer            = "rebind-timer"
	GlobalAllocator              = "allocator"
	GlobalPDAllocator            = "pd-allocator"
	GlobalAllocationRetries      = "allocation-retries"
	GlobalDeclineProbationPeriod = "decline-probation-period"
)

// Defaults applied when a parameter is configured at no level.
const (
	DefaultValidLifetime          = 7200
	DefaultPreferredLifetime      = 3600
	DefaultDeclineProbationPeriod = 86400
)

// The IPv4 server configuration: global parameters, option
// definitions, global options, shared networks and subnets.
type Config4 struct {
	// Default valid lifetime of the allocated leases.
	ValidLifetime *int64 `json:"valid-lifetime,omitempty"`
	// Default renew timer (T1).
	RenewTimer *int64 `json:"renew-timer,omitempty"`
	// Default rebind timer (T2).
	RebindTimer *int64 `json:"rebind-timer,omitempty"`
	// Default address allocator.
	Allocator string `json:"allocator,omitempty"`
	// Default number of the candidate addresses probed per allocation.
	AllocationRetries *int64 `json:"allocation-retries,omitempty"`
	// How long a declined address stays unavailable before it is
	// reclaimed, in seconds.
	DeclineProbationPeriod *int64 `json:"decline-probation-period,omitempty"`
	// Custom option definitions.
	OptionDefs []OptionDefinition `json:"option-def,omitempty"`
	// Options attached at the global scope.
	Options []OptionDescriptor `json:"option-data,omitempty"`
	// Shared networks.
	SharedNetworks []SharedNetwork4 `json:"shared-networks,omitempty"`
	// Subnets outside of the shared networks, plus the shared network
	// members after normalization.
	Subnets []Subnet4 `json:"subnet4,omitempty"`
}

// Moves the subnets declared inline in the shared networks to the top
// level subnet list, recording the membership on the subnet side. The
// configuration backends and the allocation engine expect the
// normalized form.
func (cfg *Config4) Normalize() {
	for i := range cfg.SharedNetworks {
		network := &cfg.SharedNetworks[i]
		for j := range network.Subnets {
			subnet := network.Subnets[j]
			subnet.SharedNetworkName = network.Name
			cfg.Subnets = append(cfg.Subnets, subnet)
		}
		network.Subnets = nil
	}
}

// Validates the whole configuration: entity level validation plus the
// cross entity rules. The subnet identifiers and prefixes must be
// unique, the prefixes pairwise disjoint, the option definitions
// unique by code and space, and the shared network references must
// resolve. The configuration must be normalized first.
func (cfg *Config4) Validate() error {
	networks := make(map[string]bool, len(cfg.SharedNetworks))
	for i := range cfg.SharedNetworks {
		network := &cfg.SharedNetworks[i]
		if err := network.Validate(); err != nil {
			return err
		}
		if networks[network.Name] {
			return errors.Errorf("duplicated shared network %s", network.Name)
		}
		networks[network.Name] = true
	}
	type defKey struct {
		space string
		code  uint16
	}
	defs := make(map[defKey]bool, len(cfg.OptionDefs))
	for i := range cfg.OptionDefs {
		def := &cfg.OptionDefs[i]
		if err := def.Validate(); err != nil {
			return err
		}
		key := defKey{space: def.Space, code: def.Code}
		if defs[key] {
			return errors.Errorf("duplicated option definition %d in the %s space", def.Code, def.Space)
		}
		defs[key] = true
	}
	for i := range cfg.Options {
		if err := cfg.Options[i].Validate(); err != nil {
			return err
		}
	}
	ids := make(map[dhcpmodel.SubnetID]bool, len(cfg.Subnets))
	prefixes := make([]netip.Prefix, 0, len(cfg.Subnets))
	for i := range cfg.Subnets {
		subnet := &cfg.Subnets[i]
		if err := subnet.Validate(); err != nil {
			return err
		}
		if ids[subnet.ID] {
			return errors.Errorf("duplicated subnet identifier %d", subnet.ID)
		}
		ids[subnet.ID] = true
		if subnet.SharedNetworkName != "" && !networks[subnet.SharedNetworkName] {
			return errors.Errorf("subnet %s references unknown shared network %s",
				subnet.Prefix, subnet.SharedNetworkName)
		}
		prefix, err := subnet.ParsedPrefix()
		if err != nil {
			return err
		}
		for _, other := range prefixes {
			if prefix.Overlaps(other) {
				return errors.Errorf("subnet prefix %s overlaps with another subnet", subnet.Prefix)
			}
		}
		prefixes = append(prefixes, prefix)
	}
	return nil
}

// Returns the subnet with the given identifier or nil.
func (cfg *Config4) FindSubnet(id dhcpmodel.SubnetID) *Subnet4 {
	for i := range cfg.Subnets {
		if cfg.Subnets[i].ID == id {
			return &cfg.Subnets[i]
		}
	}
	return nil
}

// Returns the subnet whose prefix contains the address or nil.
func (cfg *Config4) SelectSubnet(addr netip.Addr) *Subnet4 {
	for i := range cfg.Subnets {
		prefix, err := cfg.Subnets[i].ParsedPrefix()
		if err == nil && prefix.Contains(addr.Unmap()) {
			return &cfg.Subnets[i]
		}
	}
	return nil
}

// Returns the subnet and the other members of its shared network, the
// given subnet first. A standalone subnet yields a single element.
func (cfg *Config4) CandidateSubnets(subnet *Subnet4) []*Subnet4 {
	candidates := []*Subnet4{subnet}
	if subnet.SharedNetworkName == "" {
		return candidates
	}
	for i := range cfg.Subnets {
		other := &cfg.Subnets[i]
		if other.ID != subnet.ID && other.SharedNetworkName == subnet.SharedNetworkName {
			candidates = append(candidates, other)
		}
	}
	return candidates
}

// Returns the shared network with the given name or nil.
func (cfg *Config4) FindSharedNetwork(name string) *SharedNetwork4 {
	for i := range cfg.SharedNetworks {
		if cfg.SharedNetworks[i].Name == name {
			return &cfg.SharedNetworks[i]
		}
	}
	return nil
}

// Returns the valid lifetime effective for the subnet, resolved down
// the subnet, shared network and global levels.
func (cfg *Config4) EffectiveValidLifetime(subnet *Subnet4) int64 {
	if subnet.ValidLifetime != nil {
		return *subnet.ValidLifetime
	}
	if network := cfg.FindSharedNetwork(subnet.SharedNetworkName); network != nil && network.ValidLifetime != nil {
		return *network.ValidLifetime
	}
	if cfg.ValidLifetime != nil {
		return *cfg.ValidLifetime
	}
	return DefaultValidLifetime
}

// Returns the renew and rebind timers effective for the subnet. A
// timer configured at no level defaults to a fraction of the valid
// lifetime: half for the renew timer and seven eighths for the rebind
// timer.
func (cfg *Config4) EffectiveTimers(subnet *Subnet4) (renew, rebind int64) {
	valid := cfg.EffectiveValidLifetime(subnet)
	renew = valid / 2
	rebind = valid * 7 / 8
	network := cfg.FindSharedNetwork(subnet.SharedNetworkName)
	switch {
	case subnet.RenewTimer != nil:
		renew = *subnet.RenewTimer
	case network != nil && network.RenewTimer != nil:
		renew = *network.RenewTimer
	case cfg.RenewTimer != nil:
		renew = *cfg.RenewTimer
	}
	switch {
	case subnet.RebindTimer != nil:
		rebind = *subnet.RebindTimer
	case network != nil && network.RebindTimer != nil:
		rebind = *network.RebindTimer
	case cfg.RebindTimer != nil:
		rebind = *cfg.RebindTimer
	}
	return renew, rebind
}

// Returns the allocator name effective for the subnet.
func (cfg *Config4) EffectiveAllocator(subnet *Subnet4) string {
	if subnet.Allocator != "" {
		return subnet.Allocator
	}
	if cfg.Allocator != "" {
		return cfg.Allocator
	}
	return AllocatorIterative
}

// Returns the decline probation period in seconds.
func (cfg *Config4) EffectiveDeclineProbationPeriod() int64 {
	if cfg.DeclineProbationPeriod != nil {
		return *cfg.DeclineProbationPeriod
	}
	return DefaultDeclineProbationPeriod
}

// Materializes the configured global parameters as stamped values, the
// form the configuration backends store them in.
func (cfg *Config4) GlobalParameters() stamped.List {
	var list stamped.List
	if cfg.ValidLifetime != nil {
		list = append(list, stamped.NewInt(GlobalValidLifetime, *cfg.ValidLifetime))
	}
	if cfg.RenewTimer != nil {
		list = append(list, stamped.NewInt(GlobalRenewTimer, *cfg.RenewTimer))
	}
	if cfg.RebindTimer != nil {
		list = append(list, stamped.NewInt(GlobalRebindTimer, *cfg.RebindTimer))
	}
	if cfg.Allocator != "" {
		list = append(list, stamped.New(GlobalAllocator, cfg.Allocator))
	}
	if cfg.AllocationRetries != nil {
		list = append(list, stamped.NewInt(GlobalAllocationRetries, *cfg.AllocationRetries))
	}
	if cfg.DeclineProbationPeriod != nil {
		list = append(list, stamped.NewInt(GlobalDeclineProbationPeriod, *cfg.DeclineProbationPeriod))
	}
	return list
}

// Applies a global parameter fetched from a configuration backend to
// the typed configuration field. Unrecognized parameters are kept by
// the caller but have no effect on the allocation.
func (cfg *Config4) ApplyGlobalParameter(value *stamped.Value) error {
	switch value.Name {
	case GlobalValidLifetime, GlobalRenewTimer, GlobalRebindTimer,
		GlobalAllocationRetries, GlobalDeclineProbationPeriod:
		intValue, err := value.GetInt64()
		if err != nil {
			return err
		}
		switch value.Name {
		case GlobalValidLifetime:
			cfg.ValidLifetime = &intValue
		case GlobalRenewTimer:
			cfg.RenewTimer = &intValue
		case GlobalRebindTimer:
			cfg.RebindTimer = &intValue
		case GlobalAllocationRetries:
			cfg.AllocationRetries = &intValue
		case GlobalDeclineProbationPeriod:
			cfg.DeclineProbationPeriod = &intValue
		}
	case GlobalAllocator:
		name, err := value.GetString()
		if err != nil {
			return err
		}
		if !ValidAllocator(name) {
			return errors.Errorf("unsupported allocator %s", name)
		}
		cfg.Allocator = name
	}
	return nil
}

// The IPv6 server configuration.
type Config6 struct {
	// Default preferred lifetime of the allocated leases.
	PreferredLifetime *int64 `json:"preferred-lifetime,omitempty"`
	// Default valid lifetime of the allocated leases.
	ValidLifetime *int64 `json:"valid-lifetime,omitempty"`
	// Default renew timer (T1).
	RenewTimer *int64 `json:"renew-timer,omitempty"`
	// Default rebind timer (T2).
	RebindTimer *int64 `json:"rebind-timer,omitempty"`
	// Default address allocator.
	Allocator string `json:"allocator,omitempty"`
	// Default prefix allocator.
	PDAllocator string `json:"pd-allocator,omitempty"`
	// Default number of the candidate addresses probed per allocation.
	AllocationRetries *int64 `json:"allocation-retries,omitempty"`
	// How long a declined address stays unavailable before it is
	// reclaimed, in seconds.
	DeclineProbationPeriod *int64 `json:"decline-probation-period,omitempty"`
	// Custom option definitions.
	OptionDefs []OptionDefinition `json:"option-def,omitempty"`
	// Options attached at the global scope.
	Options []OptionDescriptor `json:"option-data,omitempty"`
	// Shared networks.
	SharedNetworks []SharedNetwork6 `json:"shared-networks,omitempty"`
	// Subnets outside of the shared networks, plus the shared network
	// members after normalization.
	Subnets []Subnet6 `json:"subnet6,omitempty"`
}

// Moves the subnets declared inline in the shared networks to the top
// level subnet list, recording the membership on the subnet side.
func (cfg *Config6) Normalize() {
	for i := range cfg.SharedNetworks {
		network := &cfg.SharedNetworks[i]
		for j := range network.Subnets {
			subnet := network.Subnets[j]
			subnet.SharedNetworkName = network.Name
			cfg.Subnets = append(cfg.Subnets, subnet)
		}
		network.Subnets = nil
	}
}

// Validates the whole configuration, mirroring the IPv4 rules.
func (cfg *Config6) Validate() error {
	networks := make(map[string]bool, len(cfg.SharedNetworks))
	for i := range cfg.SharedNetworks {
		network := &cfg.SharedNetworks[i]
		if err := network.Validate(); err != nil {
			return err
		}
		if networks[network.Name] {
			return errors.Errorf("duplicated shared network %s", network.Name)
		}
		networks[network.Name] = true
	}
	type defKey struct {
		space string
		code  uint16
	}
	defs := make(map[defKey]bool, len(cfg.OptionDefs))
	for i := range cfg.OptionDefs {
		def := &cfg.OptionDefs[i]
		if err := def.Validate(); err != nil {
			return err
		}
		key := defKey{space: def.Space, code: def.Code}
		if defs[key] {
			return errors.Errorf("duplicated option definition %d in the %s space", def.Code, def.Space)
		}
		defs[key] = true
	}
	for i := range cfg.Options {
		if err := cfg.Options[i].Validate(); err != nil {
			return err
		}
	}
	ids := make(map[dhcpmodel.SubnetID]bool, len(cfg.Subnets))
	prefixes := make([]netip.Prefix, 0, len(cfg.Subnets))
	for i := range cfg.Subnets {
		subnet := &cfg.Subnets[i]
		if err := subnet.Validate(); err != nil {
			return err
		}
		if ids[subnet.ID] {
			return errors.Errorf("duplicated subnet identifier %d", subnet.ID)
		}
		ids[subnet.ID] = true
		if subnet.SharedNetworkName != "" && !networks[subnet.SharedNetworkName] {
			return errors.Errorf("subnet %s references unknown shared network %s",
				subnet.Prefix, subnet.SharedNetworkName)
		}
		prefix, err := subnet.ParsedPrefix()
		if err != nil {
			return err
		}
		for _, other := range prefixes {
			if prefix.Overlaps(other) {
				return errors.Errorf("subnet prefix %s overlaps with another subnet", subnet.Prefix)
			}
		}
		prefixes = append(prefixes, prefix)
	}
	return nil
}

// Returns the subnet with the given identifier or nil.
func (cfg *Config6) FindSubnet(id dhcpmodel.SubnetID) *Subnet6 {
	for i := range cfg.Subnets {
		if cfg.Subnets[i].ID == id {
			return &cfg.Subnets[i]
		}
	}
	return nil
}

// Returns the subnet whose prefix contains the address or nil.
func (cfg *Config6) SelectSubnet(addr netip.Addr) *Subnet6 {
	for i := range cfg.Subnets {
		prefix, err := cfg.Subnets[i].ParsedPrefix()
		if err == nil && prefix.Contains(addr.Unmap()) {
			return &cfg.Subnets[i]
		}
	}
	return nil
}

// Returns the subnet and the other members of its shared network, the
// given subnet first.
func (cfg *Config6) CandidateSubnets(subnet *Subnet6) []*Subnet6 {
	candidates := []*Subnet6{subnet}
	if subnet.SharedNetworkName == "" {
		return candidates
	}
	for i := range cfg.Subnets {
		other := &cfg.Subnets[i]
		if other.ID != subnet.ID && other.SharedNetworkName == subnet.SharedNetworkName {
			candidates = append(candidates, other)
		}
	}
	return candidates
}

// Returns the shared network with the given name or nil.
func (cfg *Config6) FindSharedNetwork(name string) *SharedNetwork6 {
	for i := range cfg.SharedNetworks {
		if cfg.SharedNetworks[i].Name == name {
			return &cfg.SharedNetworks[i]
		}
	}
	return nil
}

// Returns the valid lifetime effective for the subnet.
func (cfg *Config6) EffectiveValidLifetime(subnet *Subnet6) int64 {
	if subnet.ValidLifetime != nil {
		return *subnet.ValidLifetime
	}
	if network := cfg.FindSharedNetwork(subnet.SharedNetworkName); network != nil && network.ValidLifetime != nil {
		return *network.ValidLifetime
	}
	if cfg.ValidLifetime != nil {
		return *cfg.ValidLifetime
	}
	return DefaultValidLifetime
}

// Returns the preferred lifetime effective for the subnet.
func (cfg *Config6) EffectivePreferredLifetime(subnet *Subnet6) int64 {
	if subnet.PreferredLifetime != nil {
		return *subnet.PreferredLifetime
	}
	if network := cfg.FindSharedNetwork(subnet.SharedNetworkName); network != nil && network.PreferredLifetime != nil {
		return *network.PreferredLifetime
	}
	if cfg.PreferredLifetime != nil {
		return *cfg.PreferredLifetime
	}
	return DefaultPreferredLifetime
}

// Returns the renew and rebind timers effective for the subnet.
func (cfg *Config6) EffectiveTimers(subnet *Subnet6) (renew, rebind int64) {
	valid := cfg.EffectiveValidLifetime(subnet)
	renew = valid / 2
	rebind = valid * 7 / 8
	network := cfg.FindSharedNetwork(subnet.SharedNetworkName)
	switch {
	case subnet.RenewTimer != nil:
		renew = *subnet.RenewTimer
	case network != nil && network.RenewTimer != nil:
		renew = *network.RenewTimer
	case cfg.RenewTimer != nil:
		renew = *cfg.RenewTimer
	}
	switch {
	case subnet.RebindTimer != nil:
		rebind = *subnet.RebindTimer
	case network != nil && network.RebindTimer != nil:
		rebind = *network.RebindTimer
	case cfg.RebindTimer != nil:
		rebind = *cfg.RebindTimer
	}
	return renew, rebind
}

// Returns the address allocator name effective for the subnet.
func (cfg *Config6) EffectiveAllocator(subnet *Subnet6) string {
	if subnet.Allocator != "" {
		return subnet.Allocator
	}
	if cfg.Allocator != "" {
		return cfg.Allocator
	}
	return AllocatorIterative
}

// Returns the prefix allocator name effective for the subnet.
func (cfg *Config6) EffectivePDAllocator(subnet *Subnet6) string {
	if subnet.PDAllocator != "" {
		return subnet.PDAllocator
	}
	if cfg.PDAllocator != "" {
		return cfg.PDAllocator
	}
	return AllocatorIterative
}

// Returns the decline probation period in seconds.
func (cfg *Config6) EffectiveDeclineProbationPeriod() int64 {
	if cfg.DeclineProbationPeriod != nil {
		return *cfg.DeclineProbationPeriod
	}
	return DefaultDeclineProbationPeriod
}

// Materializes the configured global parameters as stamped values.
func (cfg *Config6) GlobalParameters() stamped.List {
	var list stamped.List
	if cfg.PreferredLifetime != nil {
		list = append(list, stamped.NewInt(GlobalPreferredLifetime, *cfg.PreferredLifetime))
	}
	if cfg.ValidLifetime != nil {
		list = append(list, stamped.NewInt(GlobalValidLifetime, *cfg.ValidLifetime))
	}
	if cfg.RenewTimer != nil {
		list = append(list, stamped.NewInt(GlobalRenewTimer, *cfg.RenewTimer))
	}
	if cfg.RebindTimer != nil {
		list = append(list, stamped.NewInt(GlobalRebindTimer, *cfg.RebindTimer))
	}
	if cfg.Allocator != "" {
		list = append(list, stamped.New(GlobalAllocator, cfg.Allocator))
	}
	if cfg.PDAllocator != "" {
		list = append(list, stamped.New(GlobalPDAllocator, cfg.PDAllocator))
	}
	if cfg.AllocationRetries != nil {
		list = append(list, stamped.NewInt(GlobalAllocationRetries, *cfg.AllocationRetries))
	}
	if cfg.DeclineProbationPeriod != nil {
		list = append(list, stamped.NewInt(GlobalDeclineProbationPeriod, *cfg.DeclineProbationPeriod))
	}
	return list
}

// Applies a global parameter fetched from a configuration backend.
func (cfg *Config6) ApplyGlobalParameter(value *stamped.Value) error {
	switch value.Name {
	case GlobalPreferredLifetime, GlobalValidLifetime, GlobalRenewTimer,
		GlobalRebindTimer, GlobalAllocationRetries, GlobalDeclineProbationPeriod:
		intValue, err := value.GetInt64()
		if err != nil {
			return err
		}
		switch value.Name {
		case GlobalPreferredLifetime:
			cfg.PreferredLifetime = &intValue
		case GlobalValidLifetime:
			cfg.ValidLifetime = &intValue
		case GlobalRenewTimer:
			cfg.RenewTimer = &intValue
		case GlobalRebindTimer:
			cfg.RebindTimer = &intValue
		case GlobalAllocationRetries:
			cfg.AllocationRetries = &intValue
		case GlobalDeclineProbationPeriod:
			cfg.DeclineProbationPeriod = &intValue
		}
	case GlobalAllocator, GlobalPDAllocator:
		name, err := value.GetString()
		if err != nil {
			return err
		}
		if !ValidAllocator(name) {
			return errors.Errorf("unsupported allocator %s", name)
		}
		if value.Name == GlobalAllocator {
			cfg.Allocator = name
		} else {
			cfg.PDAllocator = name
		}
	}
	return nil
}
