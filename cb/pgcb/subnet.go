package pgcb

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/go-pg/pg/v10"
	pkgerrors "github.com/pkg/errors"

	"isc.org/tern/cb"
	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/dhcpcfg"
)

// Converts an address to the driver representation of an INET column.
func pgAddr(addr netip.Addr) net.IP {
	return net.IP(addr.Unmap().AsSlice())
}

// Converts an INET column value back to an address.
func recordAddr(ip net.IP) netip.Addr {
	addr, _ := netip.AddrFromSlice(ip)
	return addr.Unmap()
}

// Normalizes a subnet prefix supplied as an operation argument.
func normalizePrefix(prefix string) (string, error) {
	parsed, err := netip.ParsePrefix(prefix)
	if err != nil {
		return "", pkgerrors.Wrapf(cb.ErrInvalidParameter, "invalid subnet prefix %s", prefix)
	}
	return parsed.Masked().String(), nil
}

// Maps an optional text field to a nullable column.
func nullableText(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// Row of the subnet4 table. The identifier is assigned by the
// administrator, so the column carries no sequence. The pools and the
// scoped options live in their own tables keyed by the subnet
// identifier and are assembled around the row on read.
type subnet4Record struct {
	tableName struct{} `pg:"subnet4,alias:subnet4"` //nolint:unused

	ID                int64 `pg:",pk"`
	Prefix            string
	SharedNetworkName *string
	Interface         string
	ClientClass       string
	Relay             []string
	RenewTimer        *int64
	RebindTimer       *int64
	ValidLifetime     *int64
	Allocator         string
	AllocationRetries *int64
	Reservations      []dhcpcfg.Host
	UserContext       map[string]any
	ModificationTS    time.Time
}

// Row of the subnet6 table.
type subnet6Record struct {
	tableName struct{} `pg:"subnet6,alias:subnet6"` //nolint:unused

	ID                int64 `pg:",pk"`
	Prefix            string
	SharedNetworkName *string
	Interface         string
	ClientClass       string
	Relay             []string
	RenewTimer        *int64
	RebindTimer       *int64
	PreferredLifetime *int64
	ValidLifetime     *int64
	RapidCommit       *bool
	Allocator         string
	PDAllocator       *string `pg:"pd_allocator"`
	AllocationRetries *int64
	Reservations      []dhcpcfg.Host
	UserContext       map[string]any
	ModificationTS    time.Time
}

// Row of the address_pool4 table.
type addressPool4Record struct {
	tableName struct{} `pg:"address_pool4,alias:address_pool4"` //nolint:unused

	ID             int64 `pg:",pk"`
	StartAddress   net.IP
	EndAddress     net.IP
	SubnetID       int64 `pg:",use_zero"`
	ClientClass    string
	ModificationTS time.Time
}

// Row of the address_pool6 table.
type addressPool6Record struct {
	tableName struct{} `pg:"address_pool6,alias:address_pool6"` //nolint:unused

	ID             int64 `pg:",pk"`
	StartAddress   net.IP
	EndAddress     net.IP
	SubnetID       int64 `pg:",use_zero"`
	ClientClass    string
	ModificationTS time.Time
}

// Row of the prefix_pool6 table.
type prefixPool6Record struct {
	tableName struct{} `pg:"prefix_pool6,alias:prefix_pool6"` //nolint:unused

	ID                int64 `pg:",pk"`
	Prefix            net.IP
	PrefixLen         int `pg:",use_zero"`
	DelegatedLen      int `pg:",use_zero"`
	ExcludedPrefix    net.IP
	ExcludedPrefixLen *int
	SubnetID          int64 `pg:",use_zero"`
	ClientClass       string
	ModificationTS    time.Time
}

func subnetRecord4(subnet *dhcpcfg.Subnet4, prefix string, at time.Time) *subnet4Record {
	return &subnet4Record{
		ID:                int64(subnet.ID),
		Prefix:            prefix,
		SharedNetworkName: nullableText(subnet.SharedNetworkName),
		Interface:         subnet.Interface,
		ClientClass:       subnet.ClientClass,
		Relay:             subnet.Relay,
		RenewTimer:        subnet.RenewTimer,
		RebindTimer:       subnet.RebindTimer,
		ValidLifetime:     subnet.ValidLifetime,
		Allocator:         subnet.Allocator,
		AllocationRetries: subnet.AllocationRetries,
		Reservations:      subnet.Reservations,
		UserContext:       subnet.UserContext,
		ModificationTS:    at,
	}
}

func subnetRecord6(subnet *dhcpcfg.Subnet6, prefix string, at time.Time) *subnet6Record {
	return &subnet6Record{
		ID:                int64(subnet.ID),
		Prefix:            prefix,
		SharedNetworkName: nullableText(subnet.SharedNetworkName),
		Interface:         subnet.Interface,
		ClientClass:       subnet.ClientClass,
		Relay:             subnet.Relay,
		RenewTimer:        subnet.RenewTimer,
		RebindTimer:       subnet.RebindTimer,
		PreferredLifetime: subnet.PreferredLifetime,
		ValidLifetime:     subnet.ValidLifetime,
		RapidCommit:       subnet.RapidCommit,
		Allocator:         subnet.Allocator,
		PDAllocator:       nullableText(subnet.PDAllocator),
		AllocationRetries: subnet.AllocationRetries,
		Reservations:      subnet.Reservations,
		UserContext:       subnet.UserContext,
		ModificationTS:    at,
	}
}

func (record *subnet4Record) toSubnet() dhcpcfg.Subnet4 {
	subnet := dhcpcfg.Subnet4{
		ID:                dhcpmodel.SubnetID(record.ID),
		Prefix:            record.Prefix,
		Interface:         record.Interface,
		ClientClass:       record.ClientClass,
		Relay:             record.Relay,
		RenewTimer:        record.RenewTimer,
		RebindTimer:       record.RebindTimer,
		ValidLifetime:     record.ValidLifetime,
		Allocator:         record.Allocator,
		AllocationRetries: record.AllocationRetries,
		Reservations:      record.Reservations,
		UserContext:       record.UserContext,
		ModificationTime:  record.ModificationTS.UTC(),
	}
	if record.SharedNetworkName != nil {
		subnet.SharedNetworkName = *record.SharedNetworkName
	}
	return subnet
}

func (record *subnet6Record) toSubnet() dhcpcfg.Subnet6 {
	subnet := dhcpcfg.Subnet6{
		ID:                dhcpmodel.SubnetID(record.ID),
		Prefix:            record.Prefix,
		Interface:         record.Interface,
		ClientClass:       record.ClientClass,
		Relay:             record.Relay,
		RenewTimer:        record.RenewTimer,
		RebindTimer:       record.RebindTimer,
		PreferredLifetime: record.PreferredLifetime,
		ValidLifetime:     record.ValidLifetime,
		RapidCommit:       record.RapidCommit,
		Allocator:         record.Allocator,
		AllocationRetries: record.AllocationRetries,
		Reservations:      record.Reservations,
		UserContext:       record.UserContext,
		ModificationTime:  record.ModificationTS.UTC(),
	}
	if record.SharedNetworkName != nil {
		subnet.SharedNetworkName = *record.SharedNetworkName
	}
	if record.PDAllocator != nil {
		subnet.PDAllocator = *record.PDAllocator
	}
	return subnet
}

func (record *addressPool4Record) toPool(options []dhcpcfg.OptionDescriptor) dhcpcfg.AddressPool {
	return dhcpcfg.AddressPool{
		ID:               record.ID,
		Pool:             recordAddr(record.StartAddress).String() + " - " + recordAddr(record.EndAddress).String(),
		ClientClass:      record.ClientClass,
		Options:          options,
		ModificationTime: record.ModificationTS.UTC(),
	}
}

func (record *addressPool6Record) toPool(options []dhcpcfg.OptionDescriptor) dhcpcfg.AddressPool {
	return dhcpcfg.AddressPool{
		ID:               record.ID,
		Pool:             recordAddr(record.StartAddress).String() + " - " + recordAddr(record.EndAddress).String(),
		ClientClass:      record.ClientClass,
		Options:          options,
		ModificationTime: record.ModificationTS.UTC(),
	}
}

func (record *prefixPool6Record) toPool(options []dhcpcfg.OptionDescriptor) dhcpcfg.PrefixPool {
	pool := dhcpcfg.PrefixPool{
		ID:               record.ID,
		Prefix:           recordAddr(record.Prefix).String(),
		PrefixLen:        record.PrefixLen,
		DelegatedLen:     record.DelegatedLen,
		ClientClass:      record.ClientClass,
		Options:          options,
		ModificationTime: record.ModificationTS.UTC(),
	}
	if len(record.ExcludedPrefix) > 0 {
		pool.ExcludedPrefix = recordAddr(record.ExcludedPrefix).String()
	}
	if record.ExcludedPrefixLen != nil {
		pool.ExcludedPrefixLen = *record.ExcludedPrefixLen
	}
	return pool
}

// Inserts an option embedded in a subnet or shared network write. The
// embedded options carry no server assignment of their own; they share
// the fate of their owner.
func insertEmbeddedOption4(ctx context.Context, tx *pg.Tx, option *dhcpcfg.OptionDescriptor, owner *optionOwner, at time.Time) error {
	record := optionRecord4(option, 0, at)
	owner.applyTo4(record)
	if _, err := tx.ModelContext(ctx, record).Insert(); err != nil {
		return pkgerrors.Wrapf(err, "problem storing the option %d.%s", option.Code, option.Space)
	}
	return nil
}

func insertEmbeddedOption6(ctx context.Context, tx *pg.Tx, option *dhcpcfg.OptionDescriptor, owner *optionOwner, at time.Time) error {
	record := optionRecord6(option, 0, at)
	owner.applyTo6(record)
	if _, err := tx.ModelContext(ctx, record).Insert(); err != nil {
		return pkgerrors.Wrapf(err, "problem storing the option %d.%s", option.Code, option.Space)
	}
	return nil
}

// Rewrites the pools and scoped options of an IPv4 subnet. Dropping a
// pool row cascades to the options attached to it.
func replaceSubnetChildren4(ctx context.Context, tx *pg.Tx, subnet *dhcpcfg.Subnet4, at time.Time) error {
	id := int64(subnet.ID)
	_, err := tx.ExecContext(ctx, "DELETE FROM ? WHERE subnet_id = ?",
		pg.Ident(tables4.addressPool), id)
	if err != nil {
		return pkgerrors.Wrapf(err, "problem clearing the pools of the subnet %d", subnet.ID)
	}
	_, err = tx.ExecContext(ctx, "DELETE FROM ? WHERE scope_id = ? AND subnet_id = ?",
		pg.Ident(tables4.option.entity), scopeSubnet, id)
	if err != nil {
		return pkgerrors.Wrapf(err, "problem clearing the options of the subnet %d", subnet.ID)
	}
	for i := range subnet.Pools {
		pool := &subnet.Pools[i]
		lb, ub, err := pool.Boundaries()
		if err != nil {
			return pkgerrors.WithMessage(cb.ErrInvalidParameter, err.Error())
		}
		record := &addressPool4Record{
			StartAddress:   pgAddr(lb),
			EndAddress:     pgAddr(ub),
			SubnetID:       id,
			ClientClass:    pool.ClientClass,
			ModificationTS: at,
		}
		if _, err := tx.ModelContext(ctx, record).Insert(); err != nil {
			return pkgerrors.Wrapf(err, "problem storing the pool %s", pool.Pool)
		}
		owner := &optionOwner{scope: scopeAddressPool, poolID: &record.ID}
		for j := range pool.Options {
			if err := insertEmbeddedOption4(ctx, tx, &pool.Options[j], owner, at); err != nil {
				return err
			}
		}
	}
	owner := &optionOwner{scope: scopeSubnet, subnetID: &id}
	for i := range subnet.Options {
		if err := insertEmbeddedOption4(ctx, tx, &subnet.Options[i], owner, at); err != nil {
			return err
		}
	}
	return nil
}

// Rewrites the pools, prefix pools and scoped options of an IPv6
// subnet.
func replaceSubnetChildren6(ctx context.Context, tx *pg.Tx, subnet *dhcpcfg.Subnet6, at time.Time) error {
	id := int64(subnet.ID)
	_, err := tx.ExecContext(ctx, "DELETE FROM ? WHERE subnet_id = ?",
		pg.Ident(tables6.addressPool), id)
	if err != nil {
		return pkgerrors.Wrapf(err, "problem clearing the pools of the subnet %d", subnet.ID)
	}
	_, err = tx.ExecContext(ctx, "DELETE FROM ? WHERE subnet_id = ?",
		pg.Ident(tables6.prefixPool), id)
	if err != nil {
		return pkgerrors.Wrapf(err, "problem clearing the prefix pools of the subnet %d", subnet.ID)
	}
	_, err = tx.ExecContext(ctx, "DELETE FROM ? WHERE scope_id = ? AND subnet_id = ?",
		pg.Ident(tables6.option.entity), scopeSubnet, id)
	if err != nil {
		return pkgerrors.Wrapf(err, "problem clearing the options of the subnet %d", subnet.ID)
	}
	for i := range subnet.Pools {
		pool := &subnet.Pools[i]
		lb, ub, err := pool.Boundaries()
		if err != nil {
			return pkgerrors.WithMessage(cb.ErrInvalidParameter, err.Error())
		}
		record := &addressPool6Record{
			StartAddress:   pgAddr(lb),
			EndAddress:     pgAddr(ub),
			SubnetID:       id,
			ClientClass:    pool.ClientClass,
			ModificationTS: at,
		}
		if _, err := tx.ModelContext(ctx, record).Insert(); err != nil {
			return pkgerrors.Wrapf(err, "problem storing the pool %s", pool.Pool)
		}
		owner := &optionOwner{scope: scopeAddressPool, poolID: &record.ID}
		for j := range pool.Options {
			if err := insertEmbeddedOption6(ctx, tx, &pool.Options[j], owner, at); err != nil {
				return err
			}
		}
	}
	for i := range subnet.PDPools {
		pool := &subnet.PDPools[i]
		parsed, err := pool.ParsedPrefix()
		if err != nil {
			return pkgerrors.WithMessage(cb.ErrInvalidParameter, err.Error())
		}
		record := &prefixPool6Record{
			Prefix:         pgAddr(parsed.Addr()),
			PrefixLen:      pool.PrefixLen,
			DelegatedLen:   pool.DelegatedLen,
			SubnetID:       id,
			ClientClass:    pool.ClientClass,
			ModificationTS: at,
		}
		if excluded := pool.CanonicalExcludedPrefix(); excluded != "" {
			parsedExcluded, err := netip.ParsePrefix(excluded)
			if err != nil {
				return pkgerrors.WithMessage(cb.ErrInvalidParameter, err.Error())
			}
			record.ExcludedPrefix = pgAddr(parsedExcluded.Masked().Addr())
			bits := parsedExcluded.Bits()
			record.ExcludedPrefixLen = &bits
		}
		if _, err := tx.ModelContext(ctx, record).Insert(); err != nil {
			return pkgerrors.Wrapf(err, "problem storing the prefix pool %s", pool.Prefix)
		}
		owner := &optionOwner{scope: scopePrefixPool, pdPoolID: &record.ID}
		for j := range pool.Options {
			if err := insertEmbeddedOption6(ctx, tx, &pool.Options[j], owner, at); err != nil {
				return err
			}
		}
	}
	owner := &optionOwner{scope: scopeSubnet, subnetID: &id}
	for i := range subnet.Options {
		if err := insertEmbeddedOption6(ctx, tx, &subnet.Options[i], owner, at); err != nil {
			return err
		}
	}
	return nil
}

// Checks that the shared network a subnet joins exists.
func checkSharedNetworkExists4(ctx context.Context, tx *pg.Tx, name string) error {
	network := &sharedNetwork4Record{}
	err := tx.ModelContext(ctx, network).Column("id").Where("name = ?", name).Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return pkgerrors.Wrapf(cb.ErrInvalidParameter, "shared network %s does not exist", name)
	} else if err != nil {
		return pkgerrors.Wrapf(err, "problem getting the shared network %s", name)
	}
	return nil
}

func checkSharedNetworkExists6(ctx context.Context, tx *pg.Tx, name string) error {
	network := &sharedNetwork6Record{}
	err := tx.ModelContext(ctx, network).Column("id").Where("name = ?", name).Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return pkgerrors.Wrapf(cb.ErrInvalidParameter, "shared network %s does not exist", name)
	} else if err != nil {
		return pkgerrors.Wrapf(err, "problem getting the shared network %s", name)
	}
	return nil
}

// Creates or replaces an IPv4 subnet, assigning it to the servers
// named by the selector. The pools and the embedded options are
// rewritten as a whole. The prefix is stored in the canonical form.
func (backend *Backend) CreateUpdateSubnet4(ctx context.Context, selector cb.ServerSelector, subnet *dhcpcfg.Subnet4) error {
	if err := subnet.Validate(); err != nil {
		return pkgerrors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	prefix, err := subnet.ParsedPrefix()
	if err != nil {
		return pkgerrors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	return backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		servers, err := resolveWriteServers(ctx, tx, &tables4, selector)
		if err != nil {
			return err
		}
		if subnet.SharedNetworkName != "" {
			if err := checkSharedNetworkExists4(ctx, tx, subnet.SharedNetworkName); err != nil {
				return err
			}
		}
		existing := &subnet4Record{}
		err = tx.ModelContext(ctx, existing).
			Column("id").
			Where("id = ?", int64(subnet.ID)).
			Limit(1).
			Select()
		if err != nil && !errors.Is(err, pg.ErrNoRows) {
			return pkgerrors.Wrapf(err, "problem getting the subnet %d", subnet.ID)
		}
		previous := map[int64][]string{}
		if existing.ID != 0 {
			if previous, err = loadServerTags(ctx, tx, tables4.subnet, []int64{existing.ID}); err != nil {
				return err
			}
		}
		concern, err := concernID(ctx, tx, &tables4, writeConcern(servers, previous))
		if err != nil {
			return err
		}
		rev, err := slot.open(ctx, tx, concern)
		if err != nil {
			return err
		}
		record := subnetRecord4(subnet, prefix.String(), rev.time)
		modification := cb.ModificationCreate
		if existing.ID != 0 {
			modification = cb.ModificationUpdate
			_, err = tx.ModelContext(ctx, record).WherePK().Update()
		} else {
			_, err = tx.ModelContext(ctx, record).Insert()
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "problem storing the subnet %d", subnet.ID)
		}
		if err := replaceSubnetChildren4(ctx, tx, subnet, rev.time); err != nil {
			return err
		}
		if err := bindServers(ctx, tx, tables4.subnet, record.ID, servers, rev.time); err != nil {
			return err
		}
		return insertAudit(ctx, tx, &tables4, rev, cb.ObjectSubnet, record.ID, modification)
	})
}

// Creates or replaces an IPv6 subnet, assigning it to the servers
// named by the selector.
func (backend *Backend) CreateUpdateSubnet6(ctx context.Context, selector cb.ServerSelector, subnet *dhcpcfg.Subnet6) error {
	if err := subnet.Validate(); err != nil {
		return pkgerrors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	prefix, err := subnet.ParsedPrefix()
	if err != nil {
		return pkgerrors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	return backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		servers, err := resolveWriteServers(ctx, tx, &tables6, selector)
		if err != nil {
			return err
		}
		if subnet.SharedNetworkName != "" {
			if err := checkSharedNetworkExists6(ctx, tx, subnet.SharedNetworkName); err != nil {
				return err
			}
		}
		existing := &subnet6Record{}
		err = tx.ModelContext(ctx, existing).
			Column("id").
			Where("id = ?", int64(subnet.ID)).
			Limit(1).
			Select()
		if err != nil && !errors.Is(err, pg.ErrNoRows) {
			return pkgerrors.Wrapf(err, "problem getting the subnet %d", subnet.ID)
		}
		previous := map[int64][]string{}
		if existing.ID != 0 {
			if previous, err = loadServerTags(ctx, tx, tables6.subnet, []int64{existing.ID}); err != nil {
				return err
			}
		}
		concern, err := concernID(ctx, tx, &tables6, writeConcern(servers, previous))
		if err != nil {
			return err
		}
		rev, err := slot.open(ctx, tx, concern)
		if err != nil {
			return err
		}
		record := subnetRecord6(subnet, prefix.String(), rev.time)
		modification := cb.ModificationCreate
		if existing.ID != 0 {
			modification = cb.ModificationUpdate
			_, err = tx.ModelContext(ctx, record).WherePK().Update()
		} else {
			_, err = tx.ModelContext(ctx, record).Insert()
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "problem storing the subnet %d", subnet.ID)
		}
		if err := replaceSubnetChildren6(ctx, tx, subnet, rev.time); err != nil {
			return err
		}
		if err := bindServers(ctx, tx, tables6.subnet, record.ID, servers, rev.time); err != nil {
			return err
		}
		return insertAudit(ctx, tx, &tables6, rev, cb.ObjectSubnet, record.ID, modification)
	})
}

// Assembles the IPv4 subnets around the loaded rows: the pools, the
// scoped options and the server tags are fetched in a few batched
// queries instead of one query per subnet.
func (backend *Backend) assembleSubnets4(ctx context.Context, records []subnet4Record) ([]dhcpcfg.Subnet4, error) {
	subnets := []dhcpcfg.Subnet4{}
	if len(records) == 0 {
		return subnets, nil
	}
	ids := make([]int64, 0, len(records))
	for i := range records {
		ids = append(ids, records[i].ID)
	}
	assigned, err := loadServerTags(ctx, backend.db, tables4.subnet, ids)
	if err != nil {
		return nil, err
	}

	var poolRecords []addressPool4Record
	err = backend.db.ModelContext(ctx, &poolRecords).
		Where("subnet_id IN (?)", pg.In(ids)).
		Order("id ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the subnet pools")
	}
	poolOptions := map[int64][]dhcpcfg.OptionDescriptor{}
	if len(poolRecords) > 0 {
		poolIDs := make([]int64, 0, len(poolRecords))
		for i := range poolRecords {
			poolIDs = append(poolIDs, poolRecords[i].ID)
		}
		var optionRecords []dhcpOption4Record
		err = backend.db.ModelContext(ctx, &optionRecords).
			Where("scope_id = ?", scopeAddressPool).
			Where("pool_id IN (?)", pg.In(poolIDs)).
			Order("id ASC").
			Select()
		if err != nil {
			return nil, pkgerrors.Wrap(err, "problem getting the pool options")
		}
		for i := range optionRecords {
			id := *optionRecords[i].PoolID
			poolOptions[id] = append(poolOptions[id], optionRecords[i].toOption())
		}
	}
	pools := map[int64][]dhcpcfg.AddressPool{}
	for i := range poolRecords {
		record := &poolRecords[i]
		pools[record.SubnetID] = append(pools[record.SubnetID], record.toPool(poolOptions[record.ID]))
	}

	var optionRecords []dhcpOption4Record
	err = backend.db.ModelContext(ctx, &optionRecords).
		Where("scope_id = ?", scopeSubnet).
		Where("subnet_id IN (?)", pg.In(ids)).
		Order("id ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the subnet options")
	}
	options := map[int64][]dhcpcfg.OptionDescriptor{}
	for i := range optionRecords {
		id := *optionRecords[i].SubnetID
		options[id] = append(options[id], optionRecords[i].toOption())
	}

	for i := range records {
		record := &records[i]
		subnet := record.toSubnet()
		subnet.Pools = pools[record.ID]
		subnet.Options = options[record.ID]
		subnet.ServerTags = assigned[record.ID]
		subnets = append(subnets, subnet)
	}
	return subnets, nil
}

// Assembles the IPv6 subnets around the loaded rows.
func (backend *Backend) assembleSubnets6(ctx context.Context, records []subnet6Record) ([]dhcpcfg.Subnet6, error) {
	subnets := []dhcpcfg.Subnet6{}
	if len(records) == 0 {
		return subnets, nil
	}
	ids := make([]int64, 0, len(records))
	for i := range records {
		ids = append(ids, records[i].ID)
	}
	assigned, err := loadServerTags(ctx, backend.db, tables6.subnet, ids)
	if err != nil {
		return nil, err
	}

	var poolRecords []addressPool6Record
	err = backend.db.ModelContext(ctx, &poolRecords).
		Where("subnet_id IN (?)", pg.In(ids)).
		Order("id ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the subnet pools")
	}
	poolOptions := map[int64][]dhcpcfg.OptionDescriptor{}
	if len(poolRecords) > 0 {
		poolIDs := make([]int64, 0, len(poolRecords))
		for i := range poolRecords {
			poolIDs = append(poolIDs, poolRecords[i].ID)
		}
		var optionRecords []dhcpOption6Record
		err = backend.db.ModelContext(ctx, &optionRecords).
			Where("scope_id = ?", scopeAddressPool).
			Where("pool_id IN (?)", pg.In(poolIDs)).
			Order("id ASC").
			Select()
		if err != nil {
			return nil, pkgerrors.Wrap(err, "problem getting the pool options")
		}
		for i := range optionRecords {
			id := *optionRecords[i].PoolID
			poolOptions[id] = append(poolOptions[id], optionRecords[i].toOption())
		}
	}
	pools := map[int64][]dhcpcfg.AddressPool{}
	for i := range poolRecords {
		record := &poolRecords[i]
		pools[record.SubnetID] = append(pools[record.SubnetID], record.toPool(poolOptions[record.ID]))
	}

	var prefixPoolRecords []prefixPool6Record
	err = backend.db.ModelContext(ctx, &prefixPoolRecords).
		Where("subnet_id IN (?)", pg.In(ids)).
		Order("id ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the subnet prefix pools")
	}
	pdPoolOptions := map[int64][]dhcpcfg.OptionDescriptor{}
	if len(prefixPoolRecords) > 0 {
		poolIDs := make([]int64, 0, len(prefixPoolRecords))
		for i := range prefixPoolRecords {
			poolIDs = append(poolIDs, prefixPoolRecords[i].ID)
		}
		var optionRecords []dhcpOption6Record
		err = backend.db.ModelContext(ctx, &optionRecords).
			Where("scope_id = ?", scopePrefixPool).
			Where("pd_pool_id IN (?)", pg.In(poolIDs)).
			Order("id ASC").
			Select()
		if err != nil {
			return nil, pkgerrors.Wrap(err, "problem getting the prefix pool options")
		}
		for i := range optionRecords {
			id := *optionRecords[i].PDPoolID
			pdPoolOptions[id] = append(pdPoolOptions[id], optionRecords[i].toOption())
		}
	}
	pdPools := map[int64][]dhcpcfg.PrefixPool{}
	for i := range prefixPoolRecords {
		record := &prefixPoolRecords[i]
		pdPools[record.SubnetID] = append(pdPools[record.SubnetID], record.toPool(pdPoolOptions[record.ID]))
	}

	var optionRecords []dhcpOption6Record
	err = backend.db.ModelContext(ctx, &optionRecords).
		Where("scope_id = ?", scopeSubnet).
		Where("subnet_id IN (?)", pg.In(ids)).
		Order("id ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the subnet options")
	}
	options := map[int64][]dhcpcfg.OptionDescriptor{}
	for i := range optionRecords {
		id := *optionRecords[i].SubnetID
		options[id] = append(options[id], optionRecords[i].toOption())
	}

	for i := range records {
		record := &records[i]
		subnet := record.toSubnet()
		subnet.Pools = pools[record.ID]
		subnet.PDPools = pdPools[record.ID]
		subnet.Options = options[record.ID]
		subnet.ServerTags = assigned[record.ID]
		subnets = append(subnets, subnet)
	}
	return subnets, nil
}

// Returns the IPv4 subnet by identifier.
func (backend *Backend) GetSubnet4(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID) (*dhcpcfg.Subnet4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	record := &subnet4Record{}
	q := backend.db.ModelContext(ctx, record).Where("id = ?", int64(subnetID))
	q = readFilter(q, tables4.subnet, selector)
	err := q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the subnet %d", subnetID)
	}
	subnets, err := backend.assembleSubnets4(ctx, []subnet4Record{*record})
	if err != nil {
		return nil, err
	}
	return &subnets[0], nil
}

// Returns the IPv6 subnet by identifier.
func (backend *Backend) GetSubnet6(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID) (*dhcpcfg.Subnet6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	record := &subnet6Record{}
	q := backend.db.ModelContext(ctx, record).Where("id = ?", int64(subnetID))
	q = readFilter(q, tables6.subnet, selector)
	err := q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the subnet %d", subnetID)
	}
	subnets, err := backend.assembleSubnets6(ctx, []subnet6Record{*record})
	if err != nil {
		return nil, err
	}
	return &subnets[0], nil
}

// Returns the IPv4 subnet by prefix.
func (backend *Backend) GetSubnet4ByPrefix(ctx context.Context, selector cb.ServerSelector, prefix string) (*dhcpcfg.Subnet4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	normalized, err := normalizePrefix(prefix)
	if err != nil {
		return nil, err
	}
	record := &subnet4Record{}
	q := backend.db.ModelContext(ctx, record).Where("prefix = ?", normalized)
	q = readFilter(q, tables4.subnet, selector)
	err = q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the subnet %s", normalized)
	}
	subnets, err := backend.assembleSubnets4(ctx, []subnet4Record{*record})
	if err != nil {
		return nil, err
	}
	return &subnets[0], nil
}

// Returns the IPv6 subnet by prefix.
func (backend *Backend) GetSubnet6ByPrefix(ctx context.Context, selector cb.ServerSelector, prefix string) (*dhcpcfg.Subnet6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	normalized, err := normalizePrefix(prefix)
	if err != nil {
		return nil, err
	}
	record := &subnet6Record{}
	q := backend.db.ModelContext(ctx, record).Where("prefix = ?", normalized)
	q = readFilter(q, tables6.subnet, selector)
	err = q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the subnet %s", normalized)
	}
	subnets, err := backend.assembleSubnets6(ctx, []subnet6Record{*record})
	if err != nil {
		return nil, err
	}
	return &subnets[0], nil
}

// Returns all IPv4 subnets, ordered by the subnet identifier.
func (backend *Backend) GetAllSubnets4(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.Subnet4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []subnet4Record
	q := backend.db.ModelContext(ctx, &records)
	q = readFilter(q, tables4.subnet, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the subnets")
	}
	return backend.assembleSubnets4(ctx, records)
}

// Returns all IPv6 subnets, ordered by the subnet identifier.
func (backend *Backend) GetAllSubnets6(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.Subnet6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []subnet6Record
	q := backend.db.ModelContext(ctx, &records)
	q = readFilter(q, tables6.subnet, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the subnets")
	}
	return backend.assembleSubnets6(ctx, records)
}

// Returns the IPv4 subnets modified strictly after the given time,
// ordered by the subnet identifier.
func (backend *Backend) GetModifiedSubnets4(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.Subnet4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []subnet4Record
	q := backend.db.ModelContext(ctx, &records).Where("modification_ts > ?", since)
	q = readFilter(q, tables4.subnet, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the subnets modified since %s", since)
	}
	return backend.assembleSubnets4(ctx, records)
}

// Returns the IPv6 subnets modified strictly after the given time,
// ordered by the subnet identifier.
func (backend *Backend) GetModifiedSubnets6(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.Subnet6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []subnet6Record
	q := backend.db.ModelContext(ctx, &records).Where("modification_ts > ?", since)
	q = readFilter(q, tables6.subnet, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the subnets modified since %s", since)
	}
	return backend.assembleSubnets6(ctx, records)
}

// Returns the IPv4 subnets belonging to the shared network, ordered by
// the subnet identifier. The empty name selects the subnets outside of
// any shared network.
func (backend *Backend) GetSharedNetworkSubnets4(ctx context.Context, selector cb.ServerSelector, name string) ([]dhcpcfg.Subnet4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []subnet4Record
	q := backend.db.ModelContext(ctx, &records)
	if name == "" {
		q = q.Where("shared_network_name IS NULL")
	} else {
		q = q.Where("shared_network_name = ?", name)
	}
	q = readFilter(q, tables4.subnet, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the subnets of the shared network %s", name)
	}
	return backend.assembleSubnets4(ctx, records)
}

// Returns the IPv6 subnets belonging to the shared network, ordered by
// the subnet identifier.
func (backend *Backend) GetSharedNetworkSubnets6(ctx context.Context, selector cb.ServerSelector, name string) ([]dhcpcfg.Subnet6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []subnet6Record
	q := backend.db.ModelContext(ctx, &records)
	if name == "" {
		q = q.Where("shared_network_name IS NULL")
	} else {
		q = q.Where("shared_network_name = ?", name)
	}
	q = readFilter(q, tables6.subnet, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the subnets of the shared network %s", name)
	}
	return backend.assembleSubnets6(ctx, records)
}

// Removes the subnet rows and appends the audit entries. The pools and
// the scoped options die with the subnet through the schema.
func deleteSubnetRows(ctx context.Context, tx *pg.Tx, slot *revisionSlot, t *familyTables, ids []int64) error {
	assigned, err := loadServerTags(ctx, tx, t.subnet, ids)
	if err != nil {
		return err
	}
	concern, err := concernID(ctx, tx, t, assignedTags(assigned))
	if err != nil {
		return err
	}
	rev, err := slot.open(ctx, tx, concern)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "DELETE FROM ? WHERE id IN (?)",
		pg.Ident(t.subnet.entity), pg.In(ids))
	if err != nil {
		return pkgerrors.Wrap(err, "problem deleting the subnets")
	}
	for _, id := range ids {
		if err := insertAudit(ctx, tx, t, rev, cb.ObjectSubnet, id, cb.ModificationDelete); err != nil {
			return err
		}
	}
	return nil
}

// Deletes the IPv4 subnet by identifier.
func (backend *Backend) DeleteSubnet4(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []subnet4Record
		q := tx.ModelContext(ctx, &victims).Column("id").Where("id = ?", int64(subnetID))
		q = deleteFilter(q, tables4.subnet, selector)
		if err := q.Select(); err != nil {
			return pkgerrors.Wrapf(err, "problem getting the subnet %d", subnetID)
		}
		if len(victims) == 0 {
			return nil
		}
		count = 1
		return deleteSubnetRows(ctx, tx, slot, &tables4, []int64{victims[0].ID})
	})
	return count, err
}

// Deletes the IPv6 subnet by identifier.
func (backend *Backend) DeleteSubnet6(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []subnet6Record
		q := tx.ModelContext(ctx, &victims).Column("id").Where("id = ?", int64(subnetID))
		q = deleteFilter(q, tables6.subnet, selector)
		if err := q.Select(); err != nil {
			return pkgerrors.Wrapf(err, "problem getting the subnet %d", subnetID)
		}
		if len(victims) == 0 {
			return nil
		}
		count = 1
		return deleteSubnetRows(ctx, tx, slot, &tables6, []int64{victims[0].ID})
	})
	return count, err
}

// Deletes the IPv4 subnet by prefix.
func (backend *Backend) DeleteSubnet4ByPrefix(ctx context.Context, selector cb.ServerSelector, prefix string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	normalized, err := normalizePrefix(prefix)
	if err != nil {
		return 0, err
	}
	var count int64
	err = backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []subnet4Record
		q := tx.ModelContext(ctx, &victims).Column("id").Where("prefix = ?", normalized)
		q = deleteFilter(q, tables4.subnet, selector)
		if err := q.Select(); err != nil {
			return pkgerrors.Wrapf(err, "problem getting the subnet %s", normalized)
		}
		if len(victims) == 0 {
			return nil
		}
		count = 1
		return deleteSubnetRows(ctx, tx, slot, &tables4, []int64{victims[0].ID})
	})
	return count, err
}

// Deletes the IPv6 subnet by prefix.
func (backend *Backend) DeleteSubnet6ByPrefix(ctx context.Context, selector cb.ServerSelector, prefix string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	normalized, err := normalizePrefix(prefix)
	if err != nil {
		return 0, err
	}
	var count int64
	err = backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []subnet6Record
		q := tx.ModelContext(ctx, &victims).Column("id").Where("prefix = ?", normalized)
		q = deleteFilter(q, tables6.subnet, selector)
		if err := q.Select(); err != nil {
			return pkgerrors.Wrapf(err, "problem getting the subnet %s", normalized)
		}
		if len(victims) == 0 {
			return nil
		}
		count = 1
		return deleteSubnetRows(ctx, tx, slot, &tables6, []int64{victims[0].ID})
	})
	return count, err
}

// Deletes all IPv4 subnets matching the selector.
func (backend *Backend) DeleteAllSubnets4(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []subnet4Record
		q := tx.ModelContext(ctx, &victims).Column("id")
		q = deleteFilter(q, tables4.subnet, selector)
		if err := q.Order("id ASC").Select(); err != nil {
			return pkgerrors.Wrap(err, "problem getting the subnets")
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(victims))
		for i := range victims {
			ids = append(ids, victims[i].ID)
		}
		count = int64(len(ids))
		return deleteSubnetRows(ctx, tx, slot, &tables4, ids)
	})
	return count, err
}

// Deletes all IPv6 subnets matching the selector.
func (backend *Backend) DeleteAllSubnets6(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []subnet6Record
		q := tx.ModelContext(ctx, &victims).Column("id")
		q = deleteFilter(q, tables6.subnet, selector)
		if err := q.Order("id ASC").Select(); err != nil {
			return pkgerrors.Wrap(err, "problem getting the subnets")
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(victims))
		for i := range victims {
			ids = append(ids, victims[i].ID)
		}
		count = int64(len(ids))
		return deleteSubnetRows(ctx, tx, slot, &tables6, ids)
	})
	return count, err
}

// Deletes the IPv4 subnets belonging to the shared network.
func (backend *Backend) DeleteSharedNetworkSubnets4(ctx context.Context, selector cb.ServerSelector, name string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []subnet4Record
		q := tx.ModelContext(ctx, &victims).Column("id")
		if name == "" {
			q = q.Where("shared_network_name IS NULL")
		} else {
			q = q.Where("shared_network_name = ?", name)
		}
		q = deleteFilter(q, tables4.subnet, selector)
		if err := q.Order("id ASC").Select(); err != nil {
			return pkgerrors.Wrapf(err, "problem getting the subnets of the shared network %s", name)
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(victims))
		for i := range victims {
			ids = append(ids, victims[i].ID)
		}
		count = int64(len(ids))
		return deleteSubnetRows(ctx, tx, slot, &tables4, ids)
	})
	return count, err
}

// Deletes the IPv6 subnets belonging to the shared network.
func (backend *Backend) DeleteSharedNetworkSubnets6(ctx context.Context, selector cb.ServerSelector, name string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []subnet6Record
		q := tx.ModelContext(ctx, &victims).Column("id")
		if name == "" {
			q = q.Where("shared_network_name IS NULL")
		} else {
			q = q.Where("shared_network_name = ?", name)
		}
		q = deleteFilter(q, tables6.subnet, selector)
		if err := q.Order("id ASC").Select(); err != nil {
			return pkgerrors.Wrapf(err, "problem getting the subnets of the shared network %s", name)
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(victims))
		for i := range victims {
			ids = append(ids, victims[i].ID)
		}
		count = int64(len(ids))
		return deleteSubnetRows(ctx, tx, slot, &tables6, ids)
	})
	return count, err
}
