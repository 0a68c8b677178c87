package dhcpcfg

import (
	"maps"
	"slices"
)

// The Clone methods return copies sharing no mutable state with the
// originals. The backends use them to hand out entities without
// exposing their internal storage.

// Returns a deep copy of the option.
func (option OptionDescriptor) Clone() OptionDescriptor {
	option.Value = slices.Clone(option.Value)
	option.ClientClasses = slices.Clone(option.ClientClasses)
	option.ServerTags = slices.Clone(option.ServerTags)
	if option.CSVFormat != nil {
		csv := *option.CSVFormat
		option.CSVFormat = &csv
	}
	return option
}

// Returns a deep copy of the option set.
func CloneOptions(options []OptionDescriptor) []OptionDescriptor {
	if options == nil {
		return nil
	}
	cloned := make([]OptionDescriptor, len(options))
	for i := range options {
		cloned[i] = options[i].Clone()
	}
	return cloned
}

// Returns a deep copy of the option definition.
func (def OptionDefinition) Clone() OptionDefinition {
	def.RecordTypes = slices.Clone(def.RecordTypes)
	def.ServerTags = slices.Clone(def.ServerTags)
	return def
}

// Returns a deep copy of the pool.
func (pool AddressPool) Clone() AddressPool {
	pool.Options = CloneOptions(pool.Options)
	return pool
}

// Returns a deep copy of the prefix pool.
func (pool PrefixPool) Clone() PrefixPool {
	pool.Options = CloneOptions(pool.Options)
	return pool
}

// Returns a deep copy of the reservation.
func (host Host) Clone() Host {
	host.IPAddresses = slices.Clone(host.IPAddresses)
	host.Prefixes = slices.Clone(host.Prefixes)
	return host
}

// Returns a deep copy of the subnet.
func (subnet Subnet4) Clone() Subnet4 {
	subnet.Relay = slices.Clone(subnet.Relay)
	if subnet.RenewTimer != nil {
		value := *subnet.RenewTimer
		subnet.RenewTimer = &value
	}
	if subnet.RebindTimer != nil {
		value := *subnet.RebindTimer
		subnet.RebindTimer = &value
	}
	if subnet.ValidLifetime != nil {
		value := *subnet.ValidLifetime
		subnet.ValidLifetime = &value
	}
	if subnet.AllocationRetries != nil {
		value := *subnet.AllocationRetries
		subnet.AllocationRetries = &value
	}
	pools := make([]AddressPool, len(subnet.Pools))
	for i := range subnet.Pools {
		pools[i] = subnet.Pools[i].Clone()
	}
	if subnet.Pools == nil {
		pools = nil
	}
	subnet.Pools = pools
	subnet.Options = CloneOptions(subnet.Options)
	hosts := make([]Host, len(subnet.Reservations))
	for i := range subnet.Reservations {
		hosts[i] = subnet.Reservations[i].Clone()
	}
	if subnet.Reservations == nil {
		hosts = nil
	}
	subnet.Reservations = hosts
	subnet.UserContext = maps.Clone(subnet.UserContext)
	subnet.ServerTags = slices.Clone(subnet.ServerTags)
	return subnet
}

// Returns a deep copy of the subnet.
func (subnet Subnet6) Clone() Subnet6 {
	subnet.Relay = slices.Clone(subnet.Relay)
	if subnet.RenewTimer != nil {
		value := *subnet.RenewTimer
		subnet.RenewTimer = &value
	}
	if subnet.RebindTimer != nil {
		value := *subnet.RebindTimer
		subnet.RebindTimer = &value
	}
	if subnet.PreferredLifetime != nil {
		value := *subnet.PreferredLifetime
		subnet.PreferredLifetime = &value
	}
	if subnet.ValidLifetime != nil {
		value := *subnet.ValidLifetime
		subnet.ValidLifetime = &value
	}
	if subnet.RapidCommit != nil {
		value := *subnet.RapidCommit
		subnet.RapidCommit = &value
	}
	if subnet.AllocationRetries != nil {
		value := *subnet.AllocationRetries
		subnet.AllocationRetries = &value
	}
	pools := make([]AddressPool, len(subnet.Pools))
	for i := range subnet.Pools {
		pools[i] = subnet.Pools[i].Clone()
	}
	if subnet.Pools == nil {
		pools = nil
	}
	subnet.Pools = pools
	pdPools := make([]PrefixPool, len(subnet.PDPools))
	for i := range subnet.PDPools {
		pdPools[i] = subnet.PDPools[i].Clone()
	}
	if subnet.PDPools == nil {
		pdPools = nil
	}
	subnet.PDPools = pdPools
	subnet.Options = CloneOptions(subnet.Options)
	hosts := make([]Host, len(subnet.Reservations))
	for i := range subnet.Reservations {
		hosts[i] = subnet.Reservations[i].Clone()
	}
	if subnet.Reservations == nil {
		hosts = nil
	}
	subnet.Reservations = hosts
	subnet.UserContext = maps.Clone(subnet.UserContext)
	subnet.ServerTags = slices.Clone(subnet.ServerTags)
	return subnet
}

// Returns a deep copy of the shared network, excluding the inline
// subnets.
func (network SharedNetwork4) Clone() SharedNetwork4 {
	network.Relay = slices.Clone(network.Relay)
	if network.RenewTimer != nil {
		value := *network.RenewTimer
		network.RenewTimer = &value
	}
	if network.RebindTimer != nil {
		value := *network.RebindTimer
		network.RebindTimer = &value
	}
	if network.ValidLifetime != nil {
		value := *network.ValidLifetime
		network.ValidLifetime = &value
	}
	network.Subnets = nil
	network.Options = CloneOptions(network.Options)
	network.UserContext = maps.Clone(network.UserContext)
	network.ServerTags = slices.Clone(network.ServerTags)
	return network
}

// Returns a deep copy of the shared network, excluding the inline
// subnets.
func (network SharedNetwork6) Clone() SharedNetwork6 {
	network.Relay = slices.Clone(network.Relay)
	if network.RenewTimer != nil {
		value := *network.RenewTimer
		network.RenewTimer = &value
	}
	if network.RebindTimer != nil {
		value := *network.RebindTimer
		network.RebindTimer = &value
	}
	if network.PreferredLifetime != nil {
		value := *network.PreferredLifetime
		network.PreferredLifetime = &value
	}
	if network.ValidLifetime != nil {
		value := *network.ValidLifetime
		network.ValidLifetime = &value
	}
	if network.RapidCommit != nil {
		value := *network.RapidCommit
		network.RapidCommit = &value
	}
	network.Subnets = nil
	network.Options = CloneOptions(network.Options)
	network.UserContext = maps.Clone(network.UserContext)
	network.ServerTags = slices.Clone(network.ServerTags)
	return network
}
