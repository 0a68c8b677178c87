package alloc

import (
	"net/netip"
	"slices"

	"github.com/pkg/errors"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
)

// An IPv4 allocation or renewal request. The upstream packet handler
// fills it from the client message and the subnet selection outcome.
type Request4 struct {
	// Hardware address of the client, may be nil when the client
	// identifier is present.
	HWAddr *dhcpmodel.HWAddr
	// Client identifier, takes precedence over the hardware address
	// when both are present.
	ClientID dhcpmodel.ClientID
	// Address the client asks for, the zero value when it has no
	// preference. A renewal targets this address.
	RequestedAddr netip.Addr
	// Hostname sent by the client.
	Hostname string
	// Identifier of the subnet the request was mapped to.
	SubnetID dhcpmodel.SubnetID
	// Name of the shared network the request was mapped to, used when
	// no single subnet could be derived.
	SharedNetworkHint string
	// Client classes evaluated by the packet handler.
	Classes []string
	// Forward and reverse DNS updates requested for the lease.
	FwdDNS bool
	RevDNS bool
}

// Validates the request identifiers.
func (request *Request4) Validate() error {
	if request.HWAddr == nil && len(request.ClientID) == 0 {
		return errors.New("request carries neither a hardware address nor a client identifier")
	}
	if request.RequestedAddr.IsValid() && !request.RequestedAddr.Unmap().Is4() {
		return errors.Errorf("requested address %s is not an IPv4 address", request.RequestedAddr)
	}
	return nil
}

// Returns the key identifying the client, the client identifier when
// present, the hardware address otherwise. The key feeds the hashed
// allocator and the per-address lock striping.
func (request *Request4) ClientKey() []byte {
	if len(request.ClientID) > 0 {
		return request.ClientID
	}
	if request.HWAddr != nil {
		return request.HWAddr.Address
	}
	return nil
}

// An IPv6 allocation or renewal request covering an address or a
// delegated prefix, selected by the lease type.
type Request6 struct {
	// DHCP unique identifier of the client, required.
	DUID dhcpmodel.DUID
	// Identity association the lease is requested under.
	IAID dhcpmodel.IAID
	// Type of the requested lease.
	LeaseType dhcpmodel.LeaseType
	// Address the client asks for within an IA_NA or IA_TA, the zero
	// value when it has no preference. A renewal targets this address.
	RequestedAddr netip.Addr
	// Delegated prefix the client asks for within an IA_PD, the zero
	// value when it has no preference.
	RequestedPrefix netip.Prefix
	// Address hint carried over from the prior client state.
	Hint netip.Addr
	// Hostname sent by the client.
	Hostname string
	// Identifier of the subnet the request was mapped to.
	SubnetID dhcpmodel.SubnetID
	// Client classes evaluated by the packet handler.
	Classes []string
	// Forward and reverse DNS updates requested for the lease.
	FwdDNS bool
	RevDNS bool
}

// Validates the request identifiers and the lease type.
func (request *Request6) Validate() error {
	if len(request.DUID) == 0 {
		return errors.New("request carries no DUID")
	}
	switch request.LeaseType {
	case dhcpmodel.LeaseTypeNA, dhcpmodel.LeaseTypeTA, dhcpmodel.LeaseTypePD:
	default:
		return errors.Errorf("request carries invalid lease type %d", request.LeaseType)
	}
	if request.RequestedAddr.IsValid() && request.RequestedAddr.Unmap().Is4() {
		return errors.Errorf("requested address %s is not an IPv6 address", request.RequestedAddr)
	}
	return nil
}

// Returns the key identifying the client, the DUID.
func (request *Request6) ClientKey() []byte {
	return request.DUID
}

// Checks a client class guard. An empty guard admits every client.
func classAllowed(classes []string, guard string) bool {
	return guard == "" || slices.Contains(classes, guard)
}
