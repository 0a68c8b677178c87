package dhcpmodel

import (
	"bytes"
	"net"

	"github.com/insomniacslk/dhcp/iana"
	"github.com/pkg/errors"

	ternutil "isc.org/tern/util"
)

// Identifier length bounds. A DHCPv4 client identifier must carry at
// least the type byte and one byte of data. The DUID upper bound follows
// the lease backends' column width.
const (
	ClientIDMinLen = 2
	ClientIDMaxLen = 255
	DUIDMinLen     = 1
	DUIDMaxLen     = 128
	HWAddrMinLen   = 1
	HWAddrMaxLen   = 20
)

// Subnet identifier, unique within a server configuration. Zero is
// reserved and never identifies a subnet.
type SubnetID uint32

// Identity association identifier, meaningful only relative to a DUID.
type IAID uint32

// An opaque DHCPv4 client identifier.
type ClientID []byte

// Creates a client identifier, validating the length bounds.
func NewClientID(value []byte) (ClientID, error) {
	if len(value) < ClientIDMinLen || len(value) > ClientIDMaxLen {
		return nil, errors.Errorf("client identifier must be between %d and %d bytes long, got %d bytes",
			ClientIDMinLen, ClientIDMaxLen, len(value))
	}
	return ClientID(value), nil
}

// Returns the identifier as a string of hexadecimal digits.
func (cid ClientID) String() string {
	return ternutil.BytesToHexWithSeparator(cid, ":")
}

// Compares two client identifiers byte by byte.
func (cid ClientID) Equal(other ClientID) bool {
	return bytes.Equal(cid, other)
}

// An opaque DHCPv6 client identifier (DHCP unique identifier).
type DUID []byte

// Creates a DUID, validating the length bounds.
func NewDUID(value []byte) (DUID, error) {
	if len(value) < DUIDMinLen || len(value) > DUIDMaxLen {
		return nil, errors.Errorf("DUID must be between %d and %d bytes long, got %d bytes",
			DUIDMinLen, DUIDMaxLen, len(value))
	}
	return DUID(value), nil
}

// Returns the DUID as a string of hexadecimal digits.
func (duid DUID) String() string {
	return ternutil.BytesToHexWithSeparator(duid, ":")
}

// Compares two DUIDs byte by byte.
func (duid DUID) Equal(other DUID) bool {
	return bytes.Equal(duid, other)
}

// A hardware address with its hardware type tag. The hardware type
// space is shared with the DHCP wire protocol, hence the IANA registry
// types are used directly.
type HWAddr struct {
	Type    iana.HWType
	Address net.HardwareAddr
}

// Creates a hardware address of the given type, validating the length
// bounds of the address data.
func NewHWAddr(hwType iana.HWType, address net.HardwareAddr) (*HWAddr, error) {
	if len(address) < HWAddrMinLen || len(address) > HWAddrMaxLen {
		return nil, errors.Errorf("hardware address must be between %d and %d bytes long, got %d bytes",
			HWAddrMinLen, HWAddrMaxLen, len(address))
	}
	return &HWAddr{Type: hwType, Address: address}, nil
}

// Creates an Ethernet hardware address.
func NewEthernetHWAddr(address net.HardwareAddr) (*HWAddr, error) {
	return NewHWAddr(iana.HWTypeEthernet, address)
}

// Returns the address part in the colon separated notation. The hardware
// type is excluded, matching the notation used in lease dumps.
func (hw *HWAddr) String() string {
	if hw == nil {
		return ""
	}
	return hw.Address.String()
}

// Compares two hardware addresses, including the hardware types. Two nil
// addresses are equal.
func (hw *HWAddr) Equal(other *HWAddr) bool {
	if hw == nil || other == nil {
		return hw == other
	}
	if hw.Type != other.Type {
		return false
	}
	return bytes.Equal(hw.Address, other.Address)
}
