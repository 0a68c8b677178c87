package dhcpcfg

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"muzzammil.xyz/jsonc"

	ternutil "isc.org/tern/util"
)

// A server configuration file. The file holds the IPv4 configuration
// under the Dhcp4 key, the IPv6 configuration under the Dhcp6 key, or
// both.
type File struct {
	Dhcp4 *Config4 `json:"Dhcp4,omitempty"`
	Dhcp6 *Config6 `json:"Dhcp6,omitempty"`
}

// Parses a server configuration from JSON text. The text may contain
// comments and trailing commas. Unknown keys are rejected, catching
// misspelled parameter names early. The returned configurations are
// normalized and validated.
func Parse(raw []byte) (*File, error) {
	plain := jsonc.ToJSON(raw)
	decoder := json.NewDecoder(bytes.NewReader(plain))
	decoder.DisallowUnknownFields()
	var file File
	if err := decoder.Decode(&file); err != nil {
		return nil, errors.Wrap(err, "problem parsing the configuration")
	}
	if file.Dhcp4 == nil && file.Dhcp6 == nil {
		return nil, errors.New("configuration has neither a Dhcp4 nor a Dhcp6 section")
	}
	if file.Dhcp4 != nil {
		if err := normalizeOptions4(file.Dhcp4); err != nil {
			return nil, err
		}
		file.Dhcp4.Normalize()
		if err := file.Dhcp4.Validate(); err != nil {
			return nil, err
		}
	}
	if file.Dhcp6 != nil {
		if err := normalizeOptions6(file.Dhcp6); err != nil {
			return nil, err
		}
		file.Dhcp6.Normalize()
		if err := file.Dhcp6.Validate(); err != nil {
			return nil, err
		}
	}
	return &file, nil
}

// Loads and parses a server configuration file.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "problem reading the configuration file %s", path)
	}
	file, err := Parse(raw)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid configuration file %s", path)
	}
	return file, nil
}

// Fills the default option spaces and decodes hexadecimal option
// values throughout the IPv4 configuration.
func normalizeOptions4(cfg *Config4) error {
	for i := range cfg.Options {
		if err := cfg.Options[i].normalize(ternutil.IPv4); err != nil {
			return err
		}
	}
	for i := range cfg.SharedNetworks {
		network := &cfg.SharedNetworks[i]
		for j := range network.Options {
			if err := network.Options[j].normalize(ternutil.IPv4); err != nil {
				return err
			}
		}
		for j := range network.Subnets {
			if err := normalizeSubnetOptions4(&network.Subnets[j]); err != nil {
				return err
			}
		}
	}
	for i := range cfg.Subnets {
		if err := normalizeSubnetOptions4(&cfg.Subnets[i]); err != nil {
			return err
		}
	}
	return nil
}

func normalizeSubnetOptions4(subnet *Subnet4) error {
	for i := range subnet.Options {
		if err := subnet.Options[i].normalize(ternutil.IPv4); err != nil {
			return err
		}
	}
	for i := range subnet.Pools {
		pool := &subnet.Pools[i]
		for j := range pool.Options {
			if err := pool.Options[j].normalize(ternutil.IPv4); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fills the default option spaces and decodes hexadecimal option
// values throughout the IPv6 configuration.
func normalizeOptions6(cfg *Config6) error {
	for i := range cfg.Options {
		if err := cfg.Options[i].normalize(ternutil.IPv6); err != nil {
			return err
		}
	}
	for i := range cfg.SharedNetworks {
		network := &cfg.SharedNetworks[i]
		for j := range network.Options {
			if err := network.Options[j].normalize(ternutil.IPv6); err != nil {
				return err
			}
		}
		for j := range network.Subnets {
			if err := normalizeSubnetOptions6(&network.Subnets[j]); err != nil {
				return err
			}
		}
	}
	for i := range cfg.Subnets {
		if err := normalizeSubnetOptions6(&cfg.Subnets[i]); err != nil {
			return err
		}
	}
	return nil
}

func normalizeSubnetOptions6(subnet *Subnet6) error {
	for i := range subnet.Options {
		if err := subnet.Options[i].normalize(ternutil.IPv6); err != nil {
			return err
		}
	}
	for i := range subnet.Pools {
		pool := &subnet.Pools[i]
		for j := range pool.Options {
			if err := pool.Options[j].normalize(ternutil.IPv6); err != nil {
				return err
			}
		}
	}
	for i := range subnet.PDPools {
		pool := &subnet.PDPools[i]
		for j := range pool.Options {
			if err := pool.Options[j].normalize(ternutil.IPv6); err != nil {
				return err
			}
		}
	}
	return nil
}
