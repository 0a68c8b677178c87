// Package cb defines the contract of the configuration backends: the
// stores holding the server configuration of one or more cooperating
// servers. The configuration elements are assigned to servers with
// tags and addressed with server selectors; every mutation is recorded
// in an audit log which the servers poll to learn about changes made
// by their peers.
package cb

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/dhcpcfg"
	"isc.org/tern/stamped"
)

// Kind of a configuration backend, naming its capability variant.
type Kind string

// Supported backend kinds.
const (
	KindInMemory   Kind = "in-memory"
	KindRelational Kind = "relational"
	KindWideColumn Kind = "wide-column"
)

// Schema version of a backend, as the major and minor pair. Backends
// refuse to open when the stored major differs from the major expected
// by the code; minor differences are tolerated.
type Version struct {
	Major uint32
	Minor uint32
}

// Returns the version in the major.minor notation.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// The introspection surface shared by the configuration backends.
type Backend interface {
	// Returns the backend name, e.g. "memory" or "postgresql".
	Name() string
	// Returns a one-line description of the backend instance.
	Description() string
	// Returns the backend schema version.
	Version(ctx context.Context) (Version, error)
	// Returns the capability variant of the backend.
	Kind() Kind
	// Releases the backend resources. The backend must not be used
	// after closing.
	Close()
}

// The contract of an IPv4 configuration backend.
//
// Reads with the one-server or multiple-servers selector also match
// the elements assigned to the built-in "all" server. Reads with the
// unassigned selector fail with ErrNotImplemented. Lookups returning a
// single element return nil without an error when nothing matches.
//
// Writes upsert: an element addressed by its natural key is created
// when absent and replaced when present, and its server assignment is
// rewritten to the servers named by the selector. Writes with the any
// or unassigned selector fail with ErrNotImplemented. Deletes with
// the all selector remove only the elements assigned to the "all"
// server. Deletes return the number of removed elements; deleting an
// absent element is not an error.
//
// Every mutation appends audit entries sharing one revision per
// top-level call or transaction.
type Backend4 interface {
	Backend

	// Subnets. A subnet returned by a read carries its pools, its
	// subnet scope options and the pool scope options of its pools. An
	// upsert replaces all of them with the supplied ones.
	CreateUpdateSubnet4(ctx context.Context, selector ServerSelector, subnet *dhcpcfg.Subnet4) error
	GetSubnet4(ctx context.Context, selector ServerSelector, subnetID dhcpmodel.SubnetID) (*dhcpcfg.Subnet4, error)
	GetSubnet4ByPrefix(ctx context.Context, selector ServerSelector, prefix string) (*dhcpcfg.Subnet4, error)
	GetAllSubnets4(ctx context.Context, selector ServerSelector) ([]dhcpcfg.Subnet4, error)
	GetModifiedSubnets4(ctx context.Context, selector ServerSelector, since time.Time) ([]dhcpcfg.Subnet4, error)
	GetSharedNetworkSubnets4(ctx context.Context, selector ServerSelector, name string) ([]dhcpcfg.Subnet4, error)
	DeleteSubnet4(ctx context.Context, selector ServerSelector, subnetID dhcpmodel.SubnetID) (int64, error)
	DeleteSubnet4ByPrefix(ctx context.Context, selector ServerSelector, prefix string) (int64, error)
	DeleteAllSubnets4(ctx context.Context, selector ServerSelector) (int64, error)
	DeleteSharedNetworkSubnets4(ctx context.Context, selector ServerSelector, name string) (int64, error)

	// Shared networks. The membership is kept on the subnet side;
	// deleting a shared network detaches its subnets.
	CreateUpdateSharedNetwork4(ctx context.Context, selector ServerSelector, network *dhcpcfg.SharedNetwork4) error
	GetSharedNetwork4(ctx context.Context, selector ServerSelector, name string) (*dhcpcfg.SharedNetwork4, error)
	GetAllSharedNetworks4(ctx context.Context, selector ServerSelector) ([]dhcpcfg.SharedNetwork4, error)
	GetModifiedSharedNetworks4(ctx context.Context, selector ServerSelector, since time.Time) ([]dhcpcfg.SharedNetwork4, error)
	DeleteSharedNetwork4(ctx context.Context, selector ServerSelector, name string) (int64, error)
	DeleteAllSharedNetworks4(ctx context.Context, selector ServerSelector) (int64, error)

	// Option definitions, addressed by the (code, space) pair.
	CreateUpdateOptionDef4(ctx context.Context, selector ServerSelector, def *dhcpcfg.OptionDefinition) error
	GetOptionDef4(ctx context.Context, selector ServerSelector, code uint16, space string) (*dhcpcfg.OptionDefinition, error)
	GetAllOptionDefs4(ctx context.Context, selector ServerSelector) ([]dhcpcfg.OptionDefinition, error)
	GetModifiedOptionDefs4(ctx context.Context, selector ServerSelector, since time.Time) ([]dhcpcfg.OptionDefinition, error)
	DeleteOptionDef4(ctx context.Context, selector ServerSelector, code uint16, space string) (int64, error)
	DeleteAllOptionDefs4(ctx context.Context, selector ServerSelector) (int64, error)

	// Global scope options, addressed by the (code, space) pair.
	CreateUpdateOption4(ctx context.Context, selector ServerSelector, option *dhcpcfg.OptionDescriptor) error
	GetOption4(ctx context.Context, selector ServerSelector, code uint16, space string) (*dhcpcfg.OptionDescriptor, error)
	GetAllOptions4(ctx context.Context, selector ServerSelector) ([]dhcpcfg.OptionDescriptor, error)
	GetModifiedOptions4(ctx context.Context, selector ServerSelector, since time.Time) ([]dhcpcfg.OptionDescriptor, error)
	DeleteOption4(ctx context.Context, selector ServerSelector, code uint16, space string) (int64, error)

	// Options attached at the shared network, subnet and pool scopes.
	// The owning entity must exist. Pools are addressed by their
	// boundary addresses.
	CreateUpdateSharedNetworkOption4(ctx context.Context, selector ServerSelector, name string, option *dhcpcfg.OptionDescriptor) error
	DeleteSharedNetworkOption4(ctx context.Context, selector ServerSelector, name string, code uint16, space string) (int64, error)
	CreateUpdateSubnetOption4(ctx context.Context, selector ServerSelector, subnetID dhcpmodel.SubnetID, option *dhcpcfg.OptionDescriptor) error
	DeleteSubnetOption4(ctx context.Context, selector ServerSelector, subnetID dhcpmodel.SubnetID, code uint16, space string) (int64, error)
	CreateUpdatePoolOption4(ctx context.Context, selector ServerSelector, poolStart, poolEnd netip.Addr, option *dhcpcfg.OptionDescriptor) error
	DeletePoolOption4(ctx context.Context, selector ServerSelector, poolStart, poolEnd netip.Addr, code uint16, space string) (int64, error)

	// Global parameters, addressed by name.
	CreateUpdateGlobalParameter4(ctx context.Context, selector ServerSelector, value *stamped.Value) error
	GetGlobalParameter4(ctx context.Context, selector ServerSelector, name string) (*stamped.Value, error)
	GetAllGlobalParameters4(ctx context.Context, selector ServerSelector) (stamped.List, error)
	GetModifiedGlobalParameters4(ctx context.Context, selector ServerSelector, since time.Time) (stamped.List, error)
	DeleteGlobalParameter4(ctx context.Context, selector ServerSelector, name string) (int64, error)
	DeleteAllGlobalParameters4(ctx context.Context, selector ServerSelector) (int64, error)

	// Servers, addressed by tag. The built-in "all" server cannot be
	// modified or deleted.
	CreateUpdateServer4(ctx context.Context, server *Server) error
	GetServer4(ctx context.Context, tag string) (*Server, error)
	GetAllServers4(ctx context.Context) ([]Server, error)
	DeleteServer4(ctx context.Context, tag string) (int64, error)
	DeleteAllServers4(ctx context.Context) (int64, error)

	// Returns the audit entries recorded strictly after the
	// (since, sinceRevision) watermark, ordered by the modification
	// time, revision and entry identifier.
	GetRecentAuditEntries4(ctx context.Context, selector ServerSelector, since time.Time, sinceRevision int64) ([]AuditEntry, error)

	// Runs the callback within one transaction; all mutations made
	// through the supplied backend share one audit revision and are
	// rolled back when the callback fails.
	RunWithTransaction4(ctx context.Context, fn func(backend Backend4) error) error
}

// The contract of an IPv6 configuration backend. The semantics mirror
// the IPv4 contract; prefix delegation pools are addressed by their
// pool prefix.
type Backend6 interface {
	Backend

	CreateUpdateSubnet6(ctx context.Context, selector ServerSelector, subnet *dhcpcfg.Subnet6) error
	GetSubnet6(ctx context.Context, selector ServerSelector, subnetID dhcpmodel.SubnetID) (*dhcpcfg.Subnet6, error)
	GetSubnet6ByPrefix(ctx context.Context, selector ServerSelector, prefix string) (*dhcpcfg.Subnet6, error)
	GetAllSubnets6(ctx context.Context, selector ServerSelector) ([]dhcpcfg.Subnet6, error)
	GetModifiedSubnets6(ctx context.Context, selector ServerSelector, since time.Time) ([]dhcpcfg.Subnet6, error)
	GetSharedNetworkSubnets6(ctx context.Context, selector ServerSelector, name string) ([]dhcpcfg.Subnet6, error)
	DeleteSubnet6(ctx context.Context, selector ServerSelector, subnetID dhcpmodel.SubnetID) (int64, error)
	DeleteSubnet6ByPrefix(ctx context.Context, selector ServerSelector, prefix string) (int64, error)
	DeleteAllSubnets6(ctx context.Context, selector ServerSelector) (int64, error)
	DeleteSharedNetworkSubnets6(ctx context.Context, selector ServerSelector, name string) (int64, error)

	CreateUpdateSharedNetwork6(ctx context.Context, selector ServerSelector, network *dhcpcfg.SharedNetwork6) error
	GetSharedNetwork6(ctx context.Context, selector ServerSelector, name string) (*dhcpcfg.SharedNetwork6, error)
	GetAllSharedNetworks6(ctx context.Context, selector ServerSelector) ([]dhcpcfg.SharedNetwork6, error)
	GetModifiedSharedNetworks6(ctx context.Context, selector ServerSelector, since time.Time) ([]dhcpcfg.SharedNetwork6, error)
	DeleteSharedNetwork6(ctx context.Context, selector ServerSelector, name string) (int64, error)
	DeleteAllSharedNetworks6(ctx context.Context, selector ServerSelector) (int64, error)

	CreateUpdateOptionDef6(ctx context.Context, selector ServerSelector, def *dhcpcfg.OptionDefinition) error
	GetOptionDef6(ctx context.Context, selector ServerSelector, code uint16, space string) (*dhcpcfg.OptionDefinition, error)
	GetAllOptionDefs6(ctx context.Context, selector ServerSelector) ([]dhcpcfg.OptionDefinition, error)
	GetModifiedOptionDefs6(ctx context.Context, selector ServerSelector, since time.Time) ([]dhcpcfg.OptionDefinition, error)
	DeleteOptionDef6(ctx context.Context, selector ServerSelector, code uint16, space string) (int64, error)
	DeleteAllOptionDefs6(ctx context.Context, selector ServerSelector) (int64, error)

	CreateUpdateOption6(ctx context.Context, selector ServerSelector, option *dhcpcfg.OptionDescriptor) error
	GetOption6(ctx context.Context, selector ServerSelector, code uint16, space string) (*dhcpcfg.OptionDescriptor, error)
	GetAllOptions6(ctx context.Context, selector ServerSelector) ([]dhcpcfg.OptionDescriptor, error)
	GetModifiedOptions6(ctx context.Context, selector ServerSelector, since time.Time) ([]dhcpcfg.OptionDescriptor, error)
	DeleteOption6(ctx context.Context, selector ServerSelector, code uint16, space string) (int64, error)

	CreateUpdateSharedNetworkOption6(ctx context.Context, selector ServerSelector, name string, option *dhcpcfg.OptionDescriptor) error
	DeleteSharedNetworkOption6(ctx context.Context, selector ServerSelector, name string, code uint16, space string) (int64, error)
	CreateUpdateSubnetOption6(ctx context.Context, selector ServerSelector, subnetID dhcpmodel.SubnetID, option *dhcpcfg.OptionDescriptor) error
	DeleteSubnetOption6(ctx context.Context, selector ServerSelector, subnetID dhcpmodel.SubnetID, code uint16, space string) (int64, error)
	CreateUpdatePoolOption6(ctx context.Context, selector ServerSelector, poolStart, poolEnd netip.Addr, option *dhcpcfg.OptionDescriptor) error
	DeletePoolOption6(ctx context.Context, selector ServerSelector, poolStart, poolEnd netip.Addr, code uint16, space string) (int64, error)
	CreateUpdatePDPoolOption6(ctx context.Context, selector ServerSelector, prefix netip.Prefix, option *dhcpcfg.OptionDescriptor) error
	DeletePDPoolOption6(ctx context.Context, selector ServerSelector, prefix netip.Prefix, code uint16, space string) (int64, error)

	CreateUpdateGlobalParameter6(ctx context.Context, selector ServerSelector, value *stamped.Value) error
	GetGlobalParameter6(ctx context.Context, selector ServerSelector, name string) (*stamped.Value, error)
	GetAllGlobalParameters6(ctx context.Context, selector ServerSelector) (stamped.List, error)
	GetModifiedGlobalParameters6(ctx context.Context, selector ServerSelector, since time.Time) (stamped.List, error)
	DeleteGlobalParameter6(ctx context.Context, selector ServerSelector, name string) (int64, error)
	DeleteAllGlobalParameters6(ctx context.Context, selector ServerSelector) (int64, error)

	CreateUpdateServer6(ctx context.Context, server *Server) error
	GetServer6(ctx context.Context, tag string) (*Server, error)
	GetAllServers6(ctx context.Context) ([]Server, error)
	DeleteServer6(ctx context.Context, tag string) (int64, error)
	DeleteAllServers6(ctx context.Context) (int64, error)

	GetRecentAuditEntries6(ctx context.Context, selector ServerSelector, since time.Time, sinceRevision int64) ([]AuditEntry, error)

	RunWithTransaction6(ctx context.Context, fn func(backend Backend6) error) error
}
