package dhcpcfg

import (
	"time"

	"github.com/pkg/errors"
)

// An IPv4 shared network grouping subnets served from the same
// physical link. The level 2 parameters configured here apply to the
// member subnets unless a subnet overrides them. When a shared network
// arrives from a configuration file, the member subnets are declared
// inline; the configuration backends keep the membership on the subnet
// side instead.
type SharedNetwork4 struct {
	// Database identifier, zero before the first insert.
	ID int64 `json:"-"`
	// Shared network name, unique within the configuration.
	Name string `json:"name"`
	// Name of the interface the network is served on.
	Interface string `json:"interface,omitempty"`
	// Client class limiting the network to a class of clients.
	ClientClass string `json:"client-class,omitempty"`
	// Addresses of the relay agents the network is selected by.
	Relay []string `json:"relay,omitempty"`
	// Renew timer (T1) in seconds.
	RenewTimer *int64 `json:"renew-timer,omitempty"`
	// Rebind timer (T2) in seconds.
	RebindTimer *int64 `json:"rebind-timer,omitempty"`
	// Valid lifetime of the leases allocated from the network.
	ValidLifetime *int64 `json:"valid-lifetime,omitempty"`
	// Member subnets declared inline in a configuration file. The
	// backends neither store nor return them.
	Subnets []Subnet4 `json:"subnet4,omitempty"`
	// Options attached at the shared network scope.
	Options []OptionDescriptor `json:"option-data,omitempty"`
	// Free form annotations.
	UserContext map[string]any `json:"user-context,omitempty"`
	// Tags of the servers the network applies to, filled by the
	// configuration backends on read.
	ServerTags []string `json:"-"`
	// Last modification time, maintained by the backends.
	ModificationTime time.Time `json:"-"`
}

// Validates the shared network and its inline subnets.
func (network *SharedNetwork4) Validate() error {
	if network.Name == "" {
		return errors.New("shared network has no name")
	}
	for i := range network.Subnets {
		if err := network.Subnets[i].Validate(); err != nil {
			return errors.WithMessagef(err, "invalid subnet in shared network %s", network.Name)
		}
	}
	for i := range network.Options {
		if err := network.Options[i].Validate(); err != nil {
			return errors.WithMessagef(err, "invalid option in shared network %s", network.Name)
		}
	}
	return nil
}

// An IPv6 shared network grouping subnets served from the same
// physical link.
type SharedNetwork6 struct {
	// Database identifier, zero before the first insert.
	ID int64 `json:"-"`
	// Shared network name, unique within the configuration.
	Name string `json:"name"`
	// Name of the interface the network is served on.
	Interface string `json:"interface,omitempty"`
	// Client class limiting the network to a class of clients.
	ClientClass string `json:"client-class,omitempty"`
	// Addresses of the relay agents the network is selected by.
	Relay []string `json:"relay,omitempty"`
	// Renew timer (T1) in seconds.
	RenewTimer *int64 `json:"renew-timer,omitempty"`
	// Rebind timer (T2) in seconds.
	RebindTimer *int64 `json:"rebind-timer,omitempty"`
	// Preferred lifetime of the leases allocated from the network.
	PreferredLifetime *int64 `json:"preferred-lifetime,omitempty"`
	// Valid lifetime of the leases allocated from the network.
	ValidLifetime *int64 `json:"valid-lifetime,omitempty"`
	// Rapid commit support.
	RapidCommit *bool `json:"rapid-commit,omitempty"`
	// Member subnets declared inline in a configuration file. The
	// backends neither store nor return them.
	Subnets []Subnet6 `json:"subnet6,omitempty"`
	// Options attached at the shared network scope.
	Options []OptionDescriptor `json:"option-data,omitempty"`
	// Free form annotations.
	UserContext map[string]any `json:"user-context,omitempty"`
	// Tags of the servers the network applies to, filled by the
	// configuration backends on read.
	ServerTags []string `json:"-"`
	// Last modification time, maintained by the backends.
	ModificationTime time.Time `json:"-"`
}

// Validates the shared network and its inline subnets.
func (network *SharedNetwork6) Validate() error {
	if network.Name == "" {
		return errors.New("shared network has no name")
	}
	for i := range network.Subnets {
		if err := network.Subnets[i].Validate(); err != nil {
			return errors.WithMessagef(err, "invalid subnet in shared network %s", network.Name)
		}
	}
	for i := range network.Options {
		if err := network.Options[i].Validate(); err != nil {
			return errors.WithMessagef(err, "invalid option in shared network %s", network.Name)
		}
	}
	return nil
}
