// Package dhcpcfg defines the server configuration entities persisted
// by the configuration backends and served to the allocation engine:
// subnets, shared networks, pools, option definitions, option instances
// and host reservations. The entities follow the JSON shape of the
// server configuration files, so the same structures load from a file
// and from a backend.
package dhcpcfg

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	ternutil "isc.org/tern/util"
)

// Top level DHCP option spaces.
const (
	DHCPv4OptionSpace = "dhcp4"
	DHCPv6OptionSpace = "dhcp6"
)

// DHCP option definition types.
const (
	EmptyOption       = "empty"
	StringOption      = "string"
	BoolOption        = "bool"
	Uint8Option       = "uint8"
	Uint16Option      = "uint16"
	Uint32Option      = "uint32"
	Int8Option        = "int8"
	Int16Option       = "int16"
	Int32Option       = "int32"
	IPv4AddressOption = "ipv4-address"
	IPv6AddressOption = "ipv6-address"
	IPv6PrefixOption  = "ipv6-prefix"
	PsidOption        = "psid"
	FqdnOption        = "fqdn"
	TupleOption       = "tuple"
	BinaryOption      = "binary"
	RecordOption      = "record"
)

// The option codes below this boundary belong to the standard spaces
// and must not be redefined by custom option definitions.
const (
	StandardOptionCodeMax4 = 224
	StandardOptionCodeMax6 = 65000
)

// A custom DHCP option definition: the code and space under which the
// option instances are configured, and the layout of the option payload.
type OptionDefinition struct {
	// Database identifier, zero before the first insert.
	ID int64 `json:"-"`
	// Option code, unique within the space.
	Code uint16 `json:"code"`
	// Option name.
	Name string `json:"name"`
	// Option space the definition belongs to.
	Space string `json:"space"`
	// Type of the option payload, one of the type constants above.
	Type string `json:"type"`
	// True when the payload is an array of the type.
	Array bool `json:"array,omitempty"`
	// Field types of a record option, empty otherwise.
	RecordTypes []string `json:"record-types,omitempty"`
	// Name of the option space encapsulated by the option.
	EncapsulatedSpace string `json:"encapsulate,omitempty"`
	// Tags of the servers the definition applies to, filled by the
	// configuration backends on read.
	ServerTags []string `json:"-"`
	// Last modification time, maintained by the backends.
	ModificationTime time.Time `json:"-"`
}

// Validates the option definition: the type must be known, a record
// type must carry its field types, and the standard option codes of the
// top level spaces must not be redefined.
func (def *OptionDefinition) Validate() error {
	if def.Name == "" {
		return errors.Errorf("option definition %d.%s has no name", def.Code, def.Space)
	}
	if def.Space == "" {
		return errors.Errorf("option definition %s has no space", def.Name)
	}
	if !knownOptionType(def.Type) {
		return errors.Errorf("option definition %s has unsupported type %s", def.Name, def.Type)
	}
	if def.Type == RecordOption && len(def.RecordTypes) == 0 {
		return errors.Errorf("record option definition %s has no record types", def.Name)
	}
	if def.Type != RecordOption && len(def.RecordTypes) > 0 {
		return errors.Errorf("option definition %s is not a record but has record types", def.Name)
	}
	switch def.Space {
	case DHCPv4OptionSpace:
		if def.Code < StandardOptionCodeMax4 {
			return errors.Errorf("option definition %s redefines the standard code %d in the %s space",
				def.Name, def.Code, def.Space)
		}
	case DHCPv6OptionSpace:
		if def.Code < StandardOptionCodeMax6 {
			return errors.Errorf("option definition %s redefines the standard code %d in the %s space",
				def.Name, def.Code, def.Space)
		}
	}
	return nil
}

// Returns the record types in the comma separated notation used by the
// relational backends.
func (def *OptionDefinition) RecordTypesText() string {
	return strings.Join(def.RecordTypes, ",")
}

// Splits the comma separated record types notation.
func RecordTypesFromText(text string) []string {
	if text == "" {
		return nil
	}
	fields := strings.Split(text, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

func knownOptionType(optionType string) bool {
	switch optionType {
	case EmptyOption, StringOption, BoolOption, Uint8Option, Uint16Option,
		Uint32Option, Int8Option, Int16Option, Int32Option,
		IPv4AddressOption, IPv6AddressOption, IPv6PrefixOption,
		PsidOption, FqdnOption, TupleOption, BinaryOption, RecordOption:
		return true
	}
	return false
}

// A configured DHCP option instance. An option carries either the
// formatted (textual, comma separated) value or the raw binary value.
// Options are attached at one of five scopes: global, shared network,
// subnet, address pool or prefix pool; the scope is determined by the
// entity carrying the option, not by the option itself.
type OptionDescriptor struct {
	// Database identifier, zero before the first insert.
	ID int64 `json:"-"`
	// Option code.
	Code uint16 `json:"code"`
	// Option space; empty means the top level space of the family.
	Space string `json:"space,omitempty"`
	// Textual option value in the comma separated field notation.
	FormattedValue string `json:"data,omitempty"`
	// Raw binary option value, set when the value is not formatted.
	Value []byte `json:"-"`
	// Persist flag: send the option regardless of whether the client
	// requested it.
	AlwaysSend bool `json:"always-send,omitempty"`
	// Cancellation flag: suppress the option even when requested.
	NeverSend bool `json:"never-send,omitempty"`
	// Client classes the option is limited to, empty means no limit.
	ClientClasses []string `json:"client-classes,omitempty"`
	// Tags of the servers the option applies to, filled by the
	// configuration backends on read.
	ServerTags []string `json:"-"`
	// Last modification time, maintained by the backends.
	ModificationTime time.Time `json:"-"`

	// Set when the configuration file carried the value in the
	// hexadecimal form rather than the field notation.
	CSVFormat *bool `json:"csv-format,omitempty"`
}

// Returns the effective option space for the given family when the
// space is not set explicitly.
func (option *OptionDescriptor) EffectiveSpace(family ternutil.IPType) string {
	if option.Space != "" {
		return option.Space
	}
	if family == ternutil.IPv4 {
		return DHCPv4OptionSpace
	}
	return DHCPv6OptionSpace
}

// Normalizes the option after loading it from a configuration file:
// fills the default space and decodes a hexadecimal value into the raw
// form when the csv-format flag is disabled.
func (option *OptionDescriptor) normalize(family ternutil.IPType) error {
	option.Space = option.EffectiveSpace(family)
	if option.CSVFormat != nil && !*option.CSVFormat {
		if option.FormattedValue != "" {
			decoded := ternutil.HexToBytes(option.FormattedValue)
			if decoded == nil {
				return errors.Errorf("option %d.%s value %s is not a valid hexadecimal string",
					option.Code, option.Space, option.FormattedValue)
			}
			option.Value = decoded
			option.FormattedValue = ""
		}
		option.CSVFormat = nil
	}
	return nil
}

// Validates the option instance.
func (option *OptionDescriptor) Validate() error {
	if option.Space == "" {
		return errors.Errorf("option %d has no space", option.Code)
	}
	if option.AlwaysSend && option.NeverSend {
		return errors.Errorf("option %d.%s has both the always-send and never-send flags",
			option.Code, option.Space)
	}
	return nil
}

// Replaces an option matching the code and space in the set or appends
// it, returning the updated set and whether the option already existed.
func UpsertOption(options []OptionDescriptor, option OptionDescriptor) ([]OptionDescriptor, bool) {
	for i := range options {
		if options[i].Code == option.Code && options[i].Space == option.Space {
			if option.ID == 0 {
				option.ID = options[i].ID
			}
			options[i] = option
			return options, true
		}
	}
	return append(options, option), false
}

// Removes an option matching the code and space from the set,
// returning the updated set and the number of removed options.
func RemoveOption(options []OptionDescriptor, code uint16, space string) ([]OptionDescriptor, int64) {
	for i := range options {
		if options[i].Code == code && options[i].Space == space {
			return append(options[:i], options[i+1:]...), 1
		}
	}
	return options, 0
}

// Returns the option matching the code and space or nil.
func FindOption(options []OptionDescriptor, code uint16, space string) *OptionDescriptor {
	for i := range options {
		if options[i].Code == code && options[i].Space == space {
			return &options[i]
		}
	}
	return nil
}
