// Package memfile implements the in-memory lease store with the
// append-only CSV lease file persistence and the lease file cleanup
// compacting the files periodically.
package memfile

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/leasestore"
	ternutil "isc.org/tern/util"
)

// Configuration of the memfile store. Empty lease file paths disable
// persistence for the respective family.
type Config struct {
	// Path of the IPv4 lease file.
	LeaseFile4 string
	// Path of the IPv6 lease file.
	LeaseFile6 string
	// Interval in seconds between the lease file cleanups. Zero
	// disables the periodic cleanup.
	LFCInterval int64
	// Optional path of the lease file cleanup binary. When set, the
	// cleanup runs in a separate process; otherwise it runs in a
	// goroutine of the server process.
	LFCCommand string
}

// The in-memory lease store. All maps are guarded by one read-write
// mutex, which also serializes conflicting writes on the same primary
// key. Queries return copies, so the callers own the results.
type Store struct {
	mutex sync.RWMutex

	leases4 map[netip.Addr]*leasestore.Lease4
	leases6 map[leasestore.Lease6Key]*leasestore.Lease6

	// Secondary indexes from an identifier to the primary keys.
	hwIndex4   map[string]map[netip.Addr]struct{}
	cidIndex4  map[string]map[netip.Addr]struct{}
	duidIndex6 map[string]map[leasestore.Lease6Key]struct{}

	file4 *leaseFile
	file6 *leaseFile

	config Config
	lfc    *ternutil.PeriodicExecutor
}

var _ leasestore.Manager = (*Store)(nil)

// Opens the memfile store. When the lease file paths are configured,
// the files are replayed into memory; a lease file with an incompatible
// header fails the open with leasestore.ErrIncompatibleSchema. The
// periodic lease file cleanup is started when its interval is positive.
func NewStore(config Config) (*Store, error) {
	store := &Store{
		leases4:    make(map[netip.Addr]*leasestore.Lease4),
		leases6:    make(map[leasestore.Lease6Key]*leasestore.Lease6),
		hwIndex4:   make(map[string]map[netip.Addr]struct{}),
		cidIndex4:  make(map[string]map[netip.Addr]struct{}),
		duidIndex6: make(map[string]map[leasestore.Lease6Key]struct{}),
		config:     config,
	}

	var err error
	if config.LeaseFile4 != "" {
		store.file4, err = openLeaseFile(config.LeaseFile4, leaseFile4Header)
		if err != nil {
			return nil, err
		}
		if err = store.replayFile4(); err != nil {
			store.Close()
			return nil, err
		}
	}
	if config.LeaseFile6 != "" {
		store.file6, err = openLeaseFile(config.LeaseFile6, leaseFile6Header)
		if err != nil {
			store.Close()
			return nil, err
		}
		if err = store.replayFile6(); err != nil {
			store.Close()
			return nil, err
		}
	}

	if config.LFCInterval > 0 && (store.file4 != nil || store.file6 != nil) {
		store.lfc, err = ternutil.NewPeriodicExecutor("lease file cleanup",
			store.runLFC,
			func() (int64, error) {
				return config.LFCInterval, nil
			})
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	log.WithFields(log.Fields{
		"file4": config.LeaseFile4,
		"file6": config.LeaseFile6,
	}).Info("Opened the memfile lease store")
	return store, nil
}

// Inserts a new IPv4 lease.
func (store *Store) AddLease4(ctx context.Context, lease *leasestore.Lease4) (bool, error) {
	if err := prepareLease4(lease); err != nil {
		return false, err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if existing, ok := store.leases4[lease.Address]; ok && existing.State != dhcpmodel.LeaseStateExpiredReclaimed {
		return false, nil
	} else if ok {
		// The expired-reclaimed lease is replaced by the new one.
		store.unindexLease4(existing)
	}
	inserted := copyLease4(lease)
	inserted.ModificationTime = ternutil.UTCNow()
	store.leases4[lease.Address] = inserted
	store.indexLease4(inserted)
	if err := store.persistLease4(inserted); err != nil {
		return false, err
	}
	return true, nil
}

// Returns the IPv4 lease by address.
func (store *Store) GetLease4ByAddr(ctx context.Context, addr netip.Addr) (*leasestore.Lease4, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	if lease, ok := store.leases4[addr.Unmap()]; ok {
		return copyLease4(lease), nil
	}
	return nil, nil
}

// Returns the IPv4 leases held by the hardware address across subnets.
func (store *Store) GetLeases4ByHWAddr(ctx context.Context, hwaddr *dhcpmodel.HWAddr) ([]leasestore.Lease4, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	var leases []leasestore.Lease4
	if hwaddr == nil {
		return leases, nil
	}
	for addr := range store.hwIndex4[string(hwaddr.Address)] {
		leases = append(leases, *copyLease4(store.leases4[addr]))
	}
	sortLeases4(leases)
	return leases, nil
}

// Returns the IPv4 lease held by the hardware address in the subnet.
func (store *Store) GetLease4ByHWAddrSubnet(ctx context.Context, hwaddr *dhcpmodel.HWAddr, subnetID dhcpmodel.SubnetID) (*leasestore.Lease4, error) {
	leases, err := store.GetLeases4ByHWAddr(ctx, hwaddr)
	if err != nil {
		return nil, err
	}
	for i := range leases {
		if leases[i].SubnetID == subnetID {
			return &leases[i], nil
		}
	}
	return nil, nil
}

// Returns the IPv4 leases held by the client identifier across subnets.
func (store *Store) GetLeases4ByClientID(ctx context.Context, clientID dhcpmodel.ClientID) ([]leasestore.Lease4, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	var leases []leasestore.Lease4
	for addr := range store.cidIndex4[string(clientID)] {
		leases = append(leases, *copyLease4(store.leases4[addr]))
	}
	sortLeases4(leases)
	return leases, nil
}

// Returns the IPv4 lease held by the client identifier in the subnet.
func (store *Store) GetLease4ByClientIDSubnet(ctx context.Context, clientID dhcpmodel.ClientID, subnetID dhcpmodel.SubnetID) (*leasestore.Lease4, error) {
	leases, err := store.GetLeases4ByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	for i := range leases {
		if leases[i].SubnetID == subnetID {
			return &leases[i], nil
		}
	}
	return nil, nil
}

// Returns all IPv4 leases in the subnet, ordered by address.
func (store *Store) GetLeases4BySubnet(ctx context.Context, subnetID dhcpmodel.SubnetID) ([]leasestore.Lease4, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	var leases []leasestore.Lease4
	for _, lease := range store.leases4 {
		if lease.SubnetID == subnetID {
			leases = append(leases, *copyLease4(lease))
		}
	}
	sortLeases4(leases)
	return leases, nil
}

// Returns up to maxCount expired, not yet reclaimed IPv4 leases,
// ordered by ascending expiration time.
func (store *Store) GetExpiredLeases4(ctx context.Context, maxCount int64) ([]leasestore.Lease4, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	now := ternutil.UTCNow()
	var leases []leasestore.Lease4
	for _, lease := range store.leases4 {
		if lease.State != dhcpmodel.LeaseStateExpiredReclaimed && lease.Expired(now) {
			leases = append(leases, *copyLease4(lease))
		}
	}
	sort.Slice(leases, func(i, j int) bool {
		return leases[i].ExpirationTime().Before(leases[j].ExpirationTime())
	})
	if maxCount > 0 && int64(len(leases)) > maxCount {
		leases = leases[:maxCount]
	}
	return leases, nil
}

// Returns the IPv4 leases modified strictly after the given time.
func (store *Store) GetModifiedLeases4(ctx context.Context, since time.Time) ([]leasestore.Lease4, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	var leases []leasestore.Lease4
	for _, lease := range store.leases4 {
		if lease.ModificationTime.After(since) {
			leases = append(leases, *copyLease4(lease))
		}
	}
	sort.Slice(leases, func(i, j int) bool {
		return leases[i].ModificationTime.Before(leases[j].ModificationTime)
	})
	return leases, nil
}

// Updates an existing IPv4 lease.
func (store *Store) UpdateLease4(ctx context.Context, lease *leasestore.Lease4) error {
	if err := prepareLease4(lease); err != nil {
		return err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	existing, ok := store.leases4[lease.Address]
	if !ok {
		return errors.Wrapf(leasestore.ErrNoSuchLease, "problem updating the lease for the address %s", lease.Address)
	}
	store.unindexLease4(existing)
	updated := copyLease4(lease)
	updated.ModificationTime = ternutil.UTCNow()
	store.leases4[lease.Address] = updated
	store.indexLease4(updated)
	return store.persistLease4(updated)
}

// Deletes the IPv4 lease by address.
func (store *Store) DeleteLease4(ctx context.Context, addr netip.Addr) (bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.deleteLease4Unlocked(addr.Unmap())
}

func (store *Store) deleteLease4Unlocked(addr netip.Addr) (bool, error) {
	existing, ok := store.leases4[addr]
	if !ok {
		return false, nil
	}
	store.unindexLease4(existing)
	delete(store.leases4, addr)
	if store.file4 != nil {
		// A deletion is persisted as a row with the zero valid lifetime.
		deleted := copyLease4(existing)
		deleted.ValidLifetime = 0
		if err := store.file4.append(encodeLease4(deleted)); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Deletes the expired-reclaimed IPv4 leases that expired more than the
// given duration ago.
func (store *Store) DeleteExpiredReclaimedLeases4(ctx context.Context, age time.Duration) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	horizon := ternutil.UTCNow().Add(-age)
	var removed int64
	for addr, lease := range store.leases4 {
		if lease.State == dhcpmodel.LeaseStateExpiredReclaimed && lease.ExpirationTime().Before(horizon) {
			if _, err := store.deleteLease4Unlocked(addr); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Inserts a new IPv6 lease.
func (store *Store) AddLease6(ctx context.Context, lease *leasestore.Lease6) (bool, error) {
	if err := prepareLease6(lease); err != nil {
		return false, err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	key := lease.Key()
	if existing, ok := store.leases6[key]; ok && existing.State != dhcpmodel.LeaseStateExpiredReclaimed {
		return false, nil
	} else if ok {
		store.unindexLease6(existing)
	}
	inserted := copyLease6(lease)
	inserted.ModificationTime = ternutil.UTCNow()
	store.leases6[key] = inserted
	store.indexLease6(inserted)
	if err := store.persistLease6(inserted); err != nil {
		return false, err
	}
	return true, nil
}

// Returns the IPv6 lease by address and lease type.
func (store *Store) GetLease6ByAddr(ctx context.Context, addr netip.Addr, leaseType dhcpmodel.LeaseType) (*leasestore.Lease6, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	key := leasestore.Lease6Key{Address: addr.Unmap(), Type: leaseType}
	if lease, ok := store.leases6[key]; ok {
		return copyLease6(lease), nil
	}
	return nil, nil
}

// Returns the IPv6 leases held by the DUID and IAID across subnets.
func (store *Store) GetLeases6ByDUID(ctx context.Context, duid dhcpmodel.DUID, iaid dhcpmodel.IAID) ([]leasestore.Lease6, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	var leases []leasestore.Lease6
	for key := range store.duidIndex6[duidIndexKey(duid, iaid)] {
		leases = append(leases, *copyLease6(store.leases6[key]))
	}
	sortLeases6(leases)
	return leases, nil
}

// Returns the IPv6 leases held by the DUID and IAID in the subnet.
func (store *Store) GetLeases6ByDUIDSubnet(ctx context.Context, duid dhcpmodel.DUID, iaid dhcpmodel.IAID, subnetID dhcpmodel.SubnetID) ([]leasestore.Lease6, error) {
	leases, err := store.GetLeases6ByDUID(ctx, duid, iaid)
	if err != nil {
		return nil, err
	}
	var matching []leasestore.Lease6
	for i := range leases {
		if leases[i].SubnetID == subnetID {
			matching = append(matching, leases[i])
		}
	}
	return matching, nil
}

// Returns all IPv6 leases in the subnet, ordered by address.
func (store *Store) GetLeases6BySubnet(ctx context.Context, subnetID dhcpmodel.SubnetID) ([]leasestore.Lease6, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	var leases []leasestore.Lease6
	for _, lease := range store.leases6 {
		if lease.SubnetID == subnetID {
			leases = append(leases, *copyLease6(lease))
		}
	}
	sortLeases6(leases)
	return leases, nil
}

// Returns up to maxCount expired, not yet reclaimed IPv6 leases,
// ordered by ascending expiration time.
func (store *Store) GetExpiredLeases6(ctx context.Context, maxCount int64) ([]leasestore.Lease6, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	now := ternutil.UTCNow()
	var leases []leasestore.Lease6
	for _, lease := range store.leases6 {
		if lease.State != dhcpmodel.LeaseStateExpiredReclaimed && lease.Expired(now) {
			leases = append(leases, *copyLease6(lease))
		}
	}
	sort.Slice(leases, func(i, j int) bool {
		return leases[i].ExpirationTime().Before(leases[j].ExpirationTime())
	})
	if maxCount > 0 && int64(len(leases)) > maxCount {
		leases = leases[:maxCount]
	}
	return leases, nil
}

// Returns the IPv6 leases modified strictly after the given time.
func (store *Store) GetModifiedLeases6(ctx context.Context, since time.Time) ([]leasestore.Lease6, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	var leases []leasestore.Lease6
	for _, lease := range store.leases6 {
		if lease.ModificationTime.After(since) {
			leases = append(leases, *copyLease6(lease))
		}
	}
	sort.Slice(leases, func(i, j int) bool {
		return leases[i].ModificationTime.Before(leases[j].ModificationTime)
	})
	return leases, nil
}

// Updates an existing IPv6 lease.
func (store *Store) UpdateLease6(ctx context.Context, lease *leasestore.Lease6) error {
	if err := prepareLease6(lease); err != nil {
		return err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	key := lease.Key()
	existing, ok := store.leases6[key]
	if !ok {
		return errors.Wrapf(leasestore.ErrNoSuchLease, "problem updating the %s lease for the address %s", lease.Type, lease.Address)
	}
	store.unindexLease6(existing)
	updated := copyLease6(lease)
	updated.ModificationTime = ternutil.UTCNow()
	store.leases6[key] = updated
	store.indexLease6(updated)
	return store.persistLease6(updated)
}

// Deletes the IPv6 lease by address and type.
func (store *Store) DeleteLease6(ctx context.Context, addr netip.Addr, leaseType dhcpmodel.LeaseType) (bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.deleteLease6Unlocked(leasestore.Lease6Key{Address: addr.Unmap(), Type: leaseType})
}

func (store *Store) deleteLease6Unlocked(key leasestore.Lease6Key) (bool, error) {
	existing, ok := store.leases6[key]
	if !ok {
		return false, nil
	}
	store.unindexLease6(existing)
	delete(store.leases6, key)
	if store.file6 != nil {
		deleted := copyLease6(existing)
		deleted.ValidLifetime = 0
		if err := store.file6.append(encodeLease6(deleted)); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Deletes the expired-reclaimed IPv6 leases that expired more than the
// given duration ago.
func (store *Store) DeleteExpiredReclaimedLeases6(ctx context.Context, age time.Duration) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	horizon := ternutil.UTCNow().Add(-age)
	var removed int64
	for key, lease := range store.leases6 {
		if lease.State == dhcpmodel.LeaseStateExpiredReclaimed && lease.ExpirationTime().Before(horizon) {
			if _, err := store.deleteLease6Unlocked(key); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Returns the backend name.
func (store *Store) Name() string {
	return "memfile"
}

// Returns a one-line description of the backend instance.
func (store *Store) Description() string {
	return fmt.Sprintf("in-memory lease store (file4=%s, file6=%s)", store.config.LeaseFile4, store.config.LeaseFile6)
}

// Returns the lease file layout version.
func (store *Store) Version(ctx context.Context) (leasestore.Version, error) {
	return leasestore.Version{Major: leaseFileVersionMajor, Minor: leaseFileVersionMinor}, nil
}

// Returns the capability variant of the backend.
func (store *Store) Kind() leasestore.Kind {
	return leasestore.KindInMemory
}

// Stops the periodic cleanup and closes the lease files.
func (store *Store) Close() {
	if store.lfc != nil {
		store.lfc.Shutdown()
		store.lfc = nil
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.file4 != nil {
		store.file4.close()
		store.file4 = nil
	}
	if store.file6 != nil {
		store.file6.close()
		store.file6 = nil
	}
}

// Validates and canonicalizes a lease before it is stored.
func prepareLease4(lease *leasestore.Lease4) error {
	if err := lease.Validate(); err != nil {
		return err
	}
	lease.Address = lease.Address.Unmap()
	lease.Hostname = dhcpmodel.CanonicalHostname(lease.Hostname)
	return nil
}

// Validates and canonicalizes a lease before it is stored.
func prepareLease6(lease *leasestore.Lease6) error {
	if err := lease.Validate(); err != nil {
		return err
	}
	lease.Address = lease.Address.Unmap()
	lease.Hostname = dhcpmodel.CanonicalHostname(lease.Hostname)
	return nil
}

func (store *Store) persistLease4(lease *leasestore.Lease4) error {
	if store.file4 == nil {
		return nil
	}
	return store.file4.append(encodeLease4(lease))
}

func (store *Store) persistLease6(lease *leasestore.Lease6) error {
	if store.file6 == nil {
		return nil
	}
	return store.file6.append(encodeLease6(lease))
}

func (store *Store) indexLease4(lease *leasestore.Lease4) {
	if lease.HWAddr != nil {
		addIndexEntry(store.hwIndex4, string(lease.HWAddr.Address), lease.Address)
	}
	if len(lease.ClientID) > 0 {
		addIndexEntry(store.cidIndex4, string(lease.ClientID), lease.Address)
	}
}

func (store *Store) unindexLease4(lease *leasestore.Lease4) {
	if lease.HWAddr != nil {
		removeIndexEntry(store.hwIndex4, string(lease.HWAddr.Address), lease.Address)
	}
	if len(lease.ClientID) > 0 {
		removeIndexEntry(store.cidIndex4, string(lease.ClientID), lease.Address)
	}
}

func (store *Store) indexLease6(lease *leasestore.Lease6) {
	if len(lease.DUID) > 0 {
		addIndexEntry(store.duidIndex6, duidIndexKey(lease.DUID, lease.IAID), lease.Key())
	}
}

func (store *Store) unindexLease6(lease *leasestore.Lease6) {
	if len(lease.DUID) > 0 {
		removeIndexEntry(store.duidIndex6, duidIndexKey(lease.DUID, lease.IAID), lease.Key())
	}
}

func addIndexEntry[K comparable](index map[string]map[K]struct{}, indexKey string, primaryKey K) {
	entries, ok := index[indexKey]
	if !ok {
		entries = make(map[K]struct{})
		index[indexKey] = entries
	}
	entries[primaryKey] = struct{}{}
}

func removeIndexEntry[K comparable](index map[string]map[K]struct{}, indexKey string, primaryKey K) {
	if entries, ok := index[indexKey]; ok {
		delete(entries, primaryKey)
		if len(entries) == 0 {
			delete(index, indexKey)
		}
	}
}

func duidIndexKey(duid dhcpmodel.DUID, iaid dhcpmodel.IAID) string {
	return fmt.Sprintf("%s/%d", duid, iaid)
}

func sortLeases4(leases []leasestore.Lease4) {
	sort.Slice(leases, func(i, j int) bool {
		return leases[i].Address.Compare(leases[j].Address) < 0
	})
}

func sortLeases6(leases []leasestore.Lease6) {
	sort.Slice(leases, func(i, j int) bool {
		if cmp := leases[i].Address.Compare(leases[j].Address); cmp != 0 {
			return cmp < 0
		}
		return leases[i].Type < leases[j].Type
	})
}

func copyLease4(lease *leasestore.Lease4) *leasestore.Lease4 {
	copied := *lease
	if lease.UserContext != nil {
		copied.UserContext = make(map[string]any, len(lease.UserContext))
		for k, v := range lease.UserContext {
			copied.UserContext[k] = v
		}
	}
	return &copied
}

func copyLease6(lease *leasestore.Lease6) *leasestore.Lease6 {
	copied := *lease
	if lease.UserContext != nil {
		copied.UserContext = make(map[string]any, len(lease.UserContext))
		for k, v := range lease.UserContext {
			copied.UserContext[k] = v
		}
	}
	return &copied
}
