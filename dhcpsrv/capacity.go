package dhcpsrv

import (
	"isc.org/tern/dhcpcfg"
	ternutil "isc.org/tern/util"
)

// Returns the total number of addresses in the pools of the IPv4
// configuration. Malformed pools are skipped; they are rejected at
// validation time and cannot allocate anyway.
func Capacity4(cfg *dhcpcfg.Config4) *ternutil.BigCounter {
	capacity := ternutil.NewBigCounter(0)
	if cfg == nil {
		return capacity
	}
	for i := range cfg.Subnets {
		addPoolCapacity(capacity, cfg.Subnets[i].Pools)
	}
	return capacity
}

// Returns the total number of addresses and delegated prefixes in the
// pools of the IPv6 configuration. A delegated prefix counts as one
// regardless of its length. The total of a handful of wide pools
// exceeds uint64, which is why the result is a big counter.
func Capacity6(cfg *dhcpcfg.Config6) *ternutil.BigCounter {
	capacity := ternutil.NewBigCounter(0)
	if cfg == nil {
		return capacity
	}
	for i := range cfg.Subnets {
		subnet := &cfg.Subnets[i]
		addPoolCapacity(capacity, subnet.Pools)
		for j := range subnet.PDPools {
			pool := &subnet.PDPools[j]
			capacity.AddBigInt(ternutil.CalculateDelegatedPrefixRangeSize(pool.PrefixLen, pool.DelegatedLen))
		}
	}
	return capacity
}

func addPoolCapacity(capacity *ternutil.BigCounter, pools []dhcpcfg.AddressPool) {
	for i := range pools {
		r, err := pools[i].Range()
		if err != nil {
			continue
		}
		capacity.AddBigInt(r.Size())
	}
}
