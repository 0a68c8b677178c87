package pgcb

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	pkgerrors "github.com/pkg/errors"

	"isc.org/tern/cb"
	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/dhcpcfg"
	ternutil "isc.org/tern/util"
)

// Option scope identifiers stored in the scope_id column. The values
// follow the option inheritance order, so a lower scope is overridden
// by a higher one.
const (
	scopeGlobal        = 0
	scopeSubnet        = 1
	scopeSharedNetwork = 4
	scopeAddressPool   = 5
	scopePrefixPool    = 6
)

// Row of the dhcp_option4 table. The check constraint in the schema
// ties the scope identifier to exactly one owner column, so the owner
// columns are pointers and all but one stay NULL.
type dhcpOption4Record struct {
	tableName struct{} `pg:"dhcp_option4,alias:dhcp_option4"` //nolint:unused

	ID                int64 `pg:",pk"`
	Code              int   `pg:",use_zero"`
	Value             []byte
	FormattedValue    string
	Space             string
	AlwaysSend        bool `pg:",use_zero"`
	NeverSend         bool `pg:",use_zero"`
	ScopeID           int  `pg:",use_zero"`
	SubnetID          *int64
	SharedNetworkName *string
	PoolID            *int64
	ClientClasses     []string
	ModificationTS    time.Time
}

// Row of the dhcp_option6 table.
type dhcpOption6Record struct {
	tableName struct{} `pg:"dhcp_option6,alias:dhcp_option6"` //nolint:unused

	ID                int64 `pg:",pk"`
	Code              int   `pg:",use_zero"`
	Value             []byte
	FormattedValue    string
	Space             string
	AlwaysSend        bool `pg:",use_zero"`
	NeverSend         bool `pg:",use_zero"`
	ScopeID           int  `pg:",use_zero"`
	SubnetID          *int64
	SharedNetworkName *string
	PoolID            *int64
	PDPoolID          *int64
	ClientClasses     []string
	ModificationTS    time.Time
}

func optionRecord4(option *dhcpcfg.OptionDescriptor, id int64, at time.Time) *dhcpOption4Record {
	return &dhcpOption4Record{
		ID:             id,
		Code:           int(option.Code),
		Value:          option.Value,
		FormattedValue: option.FormattedValue,
		Space:          option.Space,
		AlwaysSend:     option.AlwaysSend,
		NeverSend:      option.NeverSend,
		ScopeID:        scopeGlobal,
		ClientClasses:  option.ClientClasses,
		ModificationTS: at,
	}
}

func optionRecord6(option *dhcpcfg.OptionDescriptor, id int64, at time.Time) *dhcpOption6Record {
	return &dhcpOption6Record{
		ID:             id,
		Code:           int(option.Code),
		Value:          option.Value,
		FormattedValue: option.FormattedValue,
		Space:          option.Space,
		AlwaysSend:     option.AlwaysSend,
		NeverSend:      option.NeverSend,
		ScopeID:        scopeGlobal,
		ClientClasses:  option.ClientClasses,
		ModificationTS: at,
	}
}

func (record *dhcpOption4Record) toOption() dhcpcfg.OptionDescriptor {
	return dhcpcfg.OptionDescriptor{
		ID:               record.ID,
		Code:             uint16(record.Code),
		Space:            record.Space,
		FormattedValue:   record.FormattedValue,
		Value:            record.Value,
		AlwaysSend:       record.AlwaysSend,
		NeverSend:        record.NeverSend,
		ClientClasses:    record.ClientClasses,
		ModificationTime: record.ModificationTS.UTC(),
	}
}

func (record *dhcpOption6Record) toOption() dhcpcfg.OptionDescriptor {
	return dhcpcfg.OptionDescriptor{
		ID:               record.ID,
		Code:             uint16(record.Code),
		Space:            record.Space,
		FormattedValue:   record.FormattedValue,
		Value:            record.Value,
		AlwaysSend:       record.AlwaysSend,
		NeverSend:        record.NeverSend,
		ClientClasses:    record.ClientClasses,
		ModificationTime: record.ModificationTS.UTC(),
	}
}

// Prepares an option supplied to a write: the default space of the
// family is filled in and the flags are validated.
func prepareOption(option *dhcpcfg.OptionDescriptor, family ternutil.IPType) (dhcpcfg.OptionDescriptor, error) {
	if option == nil {
		return dhcpcfg.OptionDescriptor{}, pkgerrors.Wrap(cb.ErrInvalidParameter, "no option specified")
	}
	value := option.Clone()
	value.Space = value.EffectiveSpace(family)
	if err := value.Validate(); err != nil {
		return dhcpcfg.OptionDescriptor{}, pkgerrors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	value.ServerTags = nil
	return value, nil
}

// Creates or replaces an IPv4 global scope option. The options are
// keyed by the code and space pair within the scope.
func (backend *Backend) CreateUpdateOption4(ctx context.Context, selector cb.ServerSelector, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv4)
	if err != nil {
		return err
	}
	return backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		servers, err := resolveWriteServers(ctx, tx, &tables4, selector)
		if err != nil {
			return err
		}
		existing := &dhcpOption4Record{}
		err = tx.ModelContext(ctx, existing).
			Column("id").
			Where("scope_id = ?", scopeGlobal).
			Where("code = ?", int(value.Code)).
			Where("space = ?", value.Space).
			Limit(1).
			Select()
		if err != nil && !errors.Is(err, pg.ErrNoRows) {
			return pkgerrors.Wrapf(err, "problem getting the option %d.%s", value.Code, value.Space)
		}
		previous := map[int64][]string{}
		if existing.ID != 0 {
			if previous, err = loadServerTags(ctx, tx, tables4.option, []int64{existing.ID}); err != nil {
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
		record := optionRecord4(&value, existing.ID, rev.time)
		modification := cb.ModificationCreate
		if existing.ID != 0 {
			modification = cb.ModificationUpdate
			_, err = tx.ModelContext(ctx, record).WherePK().Update()
		} else {
			_, err = tx.ModelContext(ctx, record).Insert()
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "problem storing the option %d.%s", value.Code, value.Space)
		}
		if err := bindServers(ctx, tx, tables4.option, record.ID, servers, rev.time); err != nil {
			return err
		}
		return insertAudit(ctx, tx, &tables4, rev, cb.ObjectOption, record.ID, modification)
	})
}

// Creates or replaces an IPv6 global scope option.
func (backend *Backend) CreateUpdateOption6(ctx context.Context, selector cb.ServerSelector, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv6)
	if err != nil {
		return err
	}
	return backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		servers, err := resolveWriteServers(ctx, tx, &tables6, selector)
		if err != nil {
			return err
		}
		existing := &dhcpOption6Record{}
		err = tx.ModelContext(ctx, existing).
			Column("id").
			Where("scope_id = ?", scopeGlobal).
			Where("code = ?", int(value.Code)).
			Where("space = ?", value.Space).
			Limit(1).
			Select()
		if err != nil && !errors.Is(err, pg.ErrNoRows) {
			return pkgerrors.Wrapf(err, "problem getting the option %d.%s", value.Code, value.Space)
		}
		previous := map[int64][]string{}
		if existing.ID != 0 {
			if previous, err = loadServerTags(ctx, tx, tables6.option, []int64{existing.ID}); err != nil {
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
		record := optionRecord6(&value, existing.ID, rev.time)
		modification := cb.ModificationCreate
		if existing.ID != 0 {
			modification = cb.ModificationUpdate
			_, err = tx.ModelContext(ctx, record).WherePK().Update()
		} else {
			_, err = tx.ModelContext(ctx, record).Insert()
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "problem storing the option %d.%s", value.Code, value.Space)
		}
		if err := bindServers(ctx, tx, tables6.option, record.ID, servers, rev.time); err != nil {
			return err
		}
		return insertAudit(ctx, tx, &tables6, rev, cb.ObjectOption, record.ID, modification)
	})
}

// Returns the IPv4 global scope option by code and space.
func (backend *Backend) GetOption4(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (*dhcpcfg.OptionDescriptor, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	record := &dhcpOption4Record{}
	q := backend.db.ModelContext(ctx, record).
		Where("scope_id = ?", scopeGlobal).
		Where("code = ?", int(code)).
		Where("space = ?", space)
	q = readFilter(q, tables4.option, selector)
	err := q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the option %d.%s", code, space)
	}
	assigned, err := loadServerTags(ctx, backend.db, tables4.option, []int64{record.ID})
	if err != nil {
		return nil, err
	}
	option := record.toOption()
	option.ServerTags = assigned[record.ID]
	return &option, nil
}

// Returns the IPv6 global scope option by code and space.
func (backend *Backend) GetOption6(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (*dhcpcfg.OptionDescriptor, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	record := &dhcpOption6Record{}
	q := backend.db.ModelContext(ctx, record).
		Where("scope_id = ?", scopeGlobal).
		Where("code = ?", int(code)).
		Where("space = ?", space)
	q = readFilter(q, tables6.option, selector)
	err := q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the option %d.%s", code, space)
	}
	assigned, err := loadServerTags(ctx, backend.db, tables6.option, []int64{record.ID})
	if err != nil {
		return nil, err
	}
	option := record.toOption()
	option.ServerTags = assigned[record.ID]
	return &option, nil
}

// Converts the loaded rows, filling the server tags in one query.
func (backend *Backend) optionList4(ctx context.Context, records []dhcpOption4Record) ([]dhcpcfg.OptionDescriptor, error) {
	ids := make([]int64, 0, len(records))
	for i := range records {
		ids = append(ids, records[i].ID)
	}
	assigned, err := loadServerTags(ctx, backend.db, tables4.option, ids)
	if err != nil {
		return nil, err
	}
	options := []dhcpcfg.OptionDescriptor{}
	for i := range records {
		option := records[i].toOption()
		option.ServerTags = assigned[option.ID]
		options = append(options, option)
	}
	return options, nil
}

func (backend *Backend) optionList6(ctx context.Context, records []dhcpOption6Record) ([]dhcpcfg.OptionDescriptor, error) {
	ids := make([]int64, 0, len(records))
	for i := range records {
		ids = append(ids, records[i].ID)
	}
	assigned, err := loadServerTags(ctx, backend.db, tables6.option, ids)
	if err != nil {
		return nil, err
	}
	options := []dhcpcfg.OptionDescriptor{}
	for i := range records {
		option := records[i].toOption()
		option.ServerTags = assigned[option.ID]
		options = append(options, option)
	}
	return options, nil
}

// Returns all IPv4 global scope options, ordered by the creation
// sequence.
func (backend *Backend) GetAllOptions4(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.OptionDescriptor, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []dhcpOption4Record
	q := backend.db.ModelContext(ctx, &records).Where("scope_id = ?", scopeGlobal)
	q = readFilter(q, tables4.option, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the options")
	}
	return backend.optionList4(ctx, records)
}

// Returns all IPv6 global scope options, ordered by the creation
// sequence.
func (backend *Backend) GetAllOptions6(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.OptionDescriptor, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []dhcpOption6Record
	q := backend.db.ModelContext(ctx, &records).Where("scope_id = ?", scopeGlobal)
	q = readFilter(q, tables6.option, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the options")
	}
	return backend.optionList6(ctx, records)
}

// Returns the IPv4 global scope options modified strictly after the
// given time.
func (backend *Backend) GetModifiedOptions4(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.OptionDescriptor, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []dhcpOption4Record
	q := backend.db.ModelContext(ctx, &records).
		Where("scope_id = ?", scopeGlobal).
		Where("modification_ts > ?", since)
	q = readFilter(q, tables4.option, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the options modified since %s", since)
	}
	return backend.optionList4(ctx, records)
}

// Returns the IPv6 global scope options modified strictly after the
// given time.
func (backend *Backend) GetModifiedOptions6(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.OptionDescriptor, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []dhcpOption6Record
	q := backend.db.ModelContext(ctx, &records).
		Where("scope_id = ?", scopeGlobal).
		Where("modification_ts > ?", since)
	q = readFilter(q, tables6.option, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the options modified since %s", since)
	}
	return backend.optionList6(ctx, records)
}

// Deletes the IPv4 global scope option by code and space.
func (backend *Backend) DeleteOption4(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		existing := &dhcpOption4Record{}
		q := tx.ModelContext(ctx, existing).
			Column("id").
			Where("scope_id = ?", scopeGlobal).
			Where("code = ?", int(code)).
			Where("space = ?", space)
		q = deleteFilter(q, tables4.option, selector)
		err := q.Limit(1).Select()
		if errors.Is(err, pg.ErrNoRows) {
			return nil
		} else if err != nil {
			return pkgerrors.Wrapf(err, "problem getting the option %d.%s", code, space)
		}
		assigned, err := loadServerTags(ctx, tx, tables4.option, []int64{existing.ID})
		if err != nil {
			return err
		}
		concern, err := concernID(ctx, tx, &tables4, assignedTags(assigned))
		if err != nil {
			return err
		}
		rev, err := slot.open(ctx, tx, concern)
		if err != nil {
			return err
		}
		if _, err := tx.ModelContext(ctx, existing).WherePK().Delete(); err != nil {
			return pkgerrors.Wrapf(err, "problem deleting the option %d.%s", code, space)
		}
		count = 1
		return insertAudit(ctx, tx, &tables4, rev, cb.ObjectOption, existing.ID, cb.ModificationDelete)
	})
	return count, err
}

// Deletes the IPv6 global scope option by code and space.
func (backend *Backend) DeleteOption6(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		existing := &dhcpOption6Record{}
		q := tx.ModelContext(ctx, existing).
			Column("id").
			Where("scope_id = ?", scopeGlobal).
			Where("code = ?", int(code)).
			Where("space = ?", space)
		q = deleteFilter(q, tables6.option, selector)
		err := q.Limit(1).Select()
		if errors.Is(err, pg.ErrNoRows) {
			return nil
		} else if err != nil {
			return pkgerrors.Wrapf(err, "problem getting the option %d.%s", code, space)
		}
		assigned, err := loadServerTags(ctx, tx, tables6.option, []int64{existing.ID})
		if err != nil {
			return err
		}
		concern, err := concernID(ctx, tx, &tables6, assignedTags(assigned))
		if err != nil {
			return err
		}
		rev, err := slot.open(ctx, tx, concern)
		if err != nil {
			return err
		}
		if _, err := tx.ModelContext(ctx, existing).WherePK().Delete(); err != nil {
			return pkgerrors.Wrapf(err, "problem deleting the option %d.%s", code, space)
		}
		count = 1
		return insertAudit(ctx, tx, &tables6, rev, cb.ObjectOption, existing.ID, cb.ModificationDelete)
	})
	return count, err
}

// A filter narrowing an owner query to the elements visible to the
// selector; readFilter for the writes, deleteFilter for the deletes.
type ownerFilter func(*orm.Query, entityTables, cb.ServerSelector) *orm.Query

// The owner an option mutation is scoped to: the owner column of the
// option row, the assignment driving the audit concern and the owner
// row stamped with the new modification time.
type optionOwner struct {
	scope       int
	subnetID    *int64
	networkName *string
	poolID      *int64
	pdPoolID    *int64
	tags        map[int64][]string
	touchTable  string
	touchColumn string
	touchKey    any
}

func (owner *optionOwner) applyTo4(record *dhcpOption4Record) {
	record.ScopeID = owner.scope
	record.SubnetID = owner.subnetID
	record.SharedNetworkName = owner.networkName
	record.PoolID = owner.poolID
}

func (owner *optionOwner) applyTo6(record *dhcpOption6Record) {
	record.ScopeID = owner.scope
	record.SubnetID = owner.subnetID
	record.SharedNetworkName = owner.networkName
	record.PoolID = owner.poolID
	record.PDPoolID = owner.pdPoolID
}

// Narrows an option query to the owner scope.
func (owner *optionOwner) filter(q *orm.Query) *orm.Query {
	q = q.Where("scope_id = ?", owner.scope)
	switch {
	case owner.subnetID != nil:
		q = q.Where("subnet_id = ?", *owner.subnetID)
	case owner.networkName != nil:
		q = q.Where("shared_network_name = ?", *owner.networkName)
	case owner.poolID != nil:
		q = q.Where("pool_id = ?", *owner.poolID)
	case owner.pdPoolID != nil:
		q = q.Where("pd_pool_id = ?", *owner.pdPoolID)
	}
	return q
}

// Resolves the IPv4 shared network owning a scoped option. Returns nil
// without an error when the network does not exist or does not match
// the selector.
func sharedNetworkOwner4(ctx context.Context, tx *pg.Tx, selector cb.ServerSelector, filter ownerFilter, name string) (*optionOwner, error) {
	record := &sharedNetwork4Record{}
	q := tx.ModelContext(ctx, record).Column("id").Where("name = ?", name)
	q = filter(q, tables4.sharedNetwork, selector)
	err := q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the shared network %s", name)
	}
	tags, err := loadServerTags(ctx, tx, tables4.sharedNetwork, []int64{record.ID})
	if err != nil {
		return nil, err
	}
	return &optionOwner{
		scope:       scopeSharedNetwork,
		networkName: &name,
		tags:        tags,
		touchTable:  tables4.sharedNetwork.entity,
		touchColumn: "name",
		touchKey:    name,
	}, nil
}

// Resolves the IPv6 shared network owning a scoped option.
func sharedNetworkOwner6(ctx context.Context, tx *pg.Tx, selector cb.ServerSelector, filter ownerFilter, name string) (*optionOwner, error) {
	record := &sharedNetwork6Record{}
	q := tx.ModelContext(ctx, record).Column("id").Where("name = ?", name)
	q = filter(q, tables6.sharedNetwork, selector)
	err := q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the shared network %s", name)
	}
	tags, err := loadServerTags(ctx, tx, tables6.sharedNetwork, []int64{record.ID})
	if err != nil {
		return nil, err
	}
	return &optionOwner{
		scope:       scopeSharedNetwork,
		networkName: &name,
		tags:        tags,
		touchTable:  tables6.sharedNetwork.entity,
		touchColumn: "name",
		touchKey:    name,
	}, nil
}

// Resolves the IPv4 subnet owning a scoped option.
func subnetOwner4(ctx context.Context, tx *pg.Tx, selector cb.ServerSelector, filter ownerFilter, subnetID dhcpmodel.SubnetID) (*optionOwner, error) {
	record := &subnet4Record{}
	q := tx.ModelContext(ctx, record).Column("id").Where("id = ?", int64(subnetID))
	q = filter(q, tables4.subnet, selector)
	err := q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the subnet %d", subnetID)
	}
	tags, err := loadServerTags(ctx, tx, tables4.subnet, []int64{record.ID})
	if err != nil {
		return nil, err
	}
	id := int64(subnetID)
	return &optionOwner{
		scope:       scopeSubnet,
		subnetID:    &id,
		tags:        tags,
		touchTable:  tables4.subnet.entity,
		touchColumn: "id",
		touchKey:    id,
	}, nil
}

// Resolves the IPv6 subnet owning a scoped option.
func subnetOwner6(ctx context.Context, tx *pg.Tx, selector cb.ServerSelector, filter ownerFilter, subnetID dhcpmodel.SubnetID) (*optionOwner, error) {
	record := &subnet6Record{}
	q := tx.ModelContext(ctx, record).Column("id").Where("id = ?", int64(subnetID))
	q = filter(q, tables6.subnet, selector)
	err := q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the subnet %d", subnetID)
	}
	tags, err := loadServerTags(ctx, tx, tables6.subnet, []int64{record.ID})
	if err != nil {
		return nil, err
	}
	id := int64(subnetID)
	return &optionOwner{
		scope:       scopeSubnet,
		subnetID:    &id,
		tags:        tags,
		touchTable:  tables6.subnet.entity,
		touchColumn: "id",
		touchKey:    id,
	}, nil
}

// Resolves the IPv4 address pool owning a scoped option. The pool is
// addressed by its boundaries; the selector must match the subnet the
// pool belongs to.
func poolOwner4(ctx context.Context, tx *pg.Tx, selector cb.ServerSelector, filter ownerFilter, poolStart, poolEnd netip.Addr) (*optionOwner, error) {
	pool := &addressPool4Record{}
	err := tx.ModelContext(ctx, pool).
		Column("id", "subnet_id").
		Where("start_address = ?", pgAddr(poolStart)).
		Where("end_address = ?", pgAddr(poolEnd)).
		Limit(1).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the pool %s - %s", poolStart, poolEnd)
	}
	subnet := &subnet4Record{}
	q := tx.ModelContext(ctx, subnet).Column("id").Where("id = ?", pool.SubnetID)
	q = filter(q, tables4.subnet, selector)
	err = q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the subnet %d", pool.SubnetID)
	}
	tags, err := loadServerTags(ctx, tx, tables4.subnet, []int64{subnet.ID})
	if err != nil {
		return nil, err
	}
	id := pool.ID
	return &optionOwner{
		scope:       scopeAddressPool,
		poolID:      &id,
		tags:        tags,
		touchTable:  tables4.subnet.entity,
		touchColumn: "id",
		touchKey:    pool.SubnetID,
	}, nil
}

// Resolves the IPv6 address pool owning a scoped option.
func poolOwner6(ctx context.Context, tx *pg.Tx, selector cb.ServerSelector, filter ownerFilter, poolStart, poolEnd netip.Addr) (*optionOwner, error) {
	pool := &addressPool6Record{}
	err := tx.ModelContext(ctx, pool).
		Column("id", "subnet_id").
		Where("start_address = ?", pgAddr(poolStart)).
		Where("end_address = ?", pgAddr(poolEnd)).
		Limit(1).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the pool %s - %s", poolStart, poolEnd)
	}
	subnet := &subnet6Record{}
	q := tx.ModelContext(ctx, subnet).Column("id").Where("id = ?", pool.SubnetID)
	q = filter(q, tables6.subnet, selector)
	err = q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the subnet %d", pool.SubnetID)
	}
	tags, err := loadServerTags(ctx, tx, tables6.subnet, []int64{subnet.ID})
	if err != nil {
		return nil, err
	}
	id := pool.ID
	return &optionOwner{
		scope:       scopeAddressPool,
		poolID:      &id,
		tags:        tags,
		touchTable:  tables6.subnet.entity,
		touchColumn: "id",
		touchKey:    pool.SubnetID,
	}, nil
}

// Resolves the IPv6 prefix pool owning a scoped option. The pool is
// addressed by its canonical prefix.
func pdPoolOwner6(ctx context.Context, tx *pg.Tx, selector cb.ServerSelector, filter ownerFilter, prefix netip.Prefix) (*optionOwner, error) {
	canonical := prefix.Masked()
	pool := &prefixPool6Record{}
	err := tx.ModelContext(ctx, pool).
		Column("id", "subnet_id").
		Where("prefix = ?", pgAddr(canonical.Addr())).
		Where("prefix_len = ?", canonical.Bits()).
		Limit(1).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the prefix pool %s", prefix)
	}
	subnet := &subnet6Record{}
	q := tx.ModelContext(ctx, subnet).Column("id").Where("id = ?", pool.SubnetID)
	q = filter(q, tables6.subnet, selector)
	err = q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the subnet %d", pool.SubnetID)
	}
	tags, err := loadServerTags(ctx, tx, tables6.subnet, []int64{subnet.ID})
	if err != nil {
		return nil, err
	}
	id := pool.ID
	return &optionOwner{
		scope:       scopePrefixPool,
		pdPoolID:    &id,
		tags:        tags,
		touchTable:  tables6.subnet.entity,
		touchColumn: "id",
		touchKey:    pool.SubnetID,
	}, nil
}

// Creates or replaces an IPv4 option row in the owner scope.
func upsertScopedOption4(ctx context.Context, tx *pg.Tx, slot *revisionSlot, owner *optionOwner, value dhcpcfg.OptionDescriptor) error {
	existing := &dhcpOption4Record{}
	err := owner.filter(tx.ModelContext(ctx, existing).Column("id")).
		Where("code = ?", int(value.Code)).
		Where("space = ?", value.Space).
		Limit(1).
		Select()
	if err != nil && !errors.Is(err, pg.ErrNoRows) {
		return pkgerrors.Wrapf(err, "problem getting the option %d.%s", value.Code, value.Space)
	}
	concern, err := concernID(ctx, tx, &tables4, assignedTags(owner.tags))
	if err != nil {
		return err
	}
	rev, err := slot.open(ctx, tx, concern)
	if err != nil {
		return err
	}
	record := optionRecord4(&value, existing.ID, rev.time)
	owner.applyTo4(record)
	modification := cb.ModificationCreate
	if existing.ID != 0 {
		modification = cb.ModificationUpdate
		_, err = tx.ModelContext(ctx, record).WherePK().Update()
	} else {
		_, err = tx.ModelContext(ctx, record).Insert()
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "problem storing the option %d.%s", value.Code, value.Space)
	}
	if err := touchOwner(ctx, tx, owner.touchTable, owner.touchColumn, owner.touchKey, rev.time); err != nil {
		return err
	}
	return insertAudit(ctx, tx, &tables4, rev, cb.ObjectOption, record.ID, modification)
}

// Creates or replaces an IPv6 option row in the owner scope.
func upsertScopedOption6(ctx context.Context, tx *pg.Tx, slot *revisionSlot, owner *optionOwner, value dhcpcfg.OptionDescriptor) error {
	existing := &dhcpOption6Record{}
	err := owner.filter(tx.ModelContext(ctx, existing).Column("id")).
		Where("code = ?", int(value.Code)).
		Where("space = ?", value.Space).
		Limit(1).
		Select()
	if err != nil && !errors.Is(err, pg.ErrNoRows) {
		return pkgerrors.Wrapf(err, "problem getting the option %d.%s", value.Code, value.Space)
	}
	concern, err := concernID(ctx, tx, &tables6, assignedTags(owner.tags))
	if err != nil {
		return err
	}
	rev, err := slot.open(ctx, tx, concern)
	if err != nil {
		return err
	}
	record := optionRecord6(&value, existing.ID, rev.time)
	owner.applyTo6(record)
	modification := cb.ModificationCreate
	if existing.ID != 0 {
		modification = cb.ModificationUpdate
		_, err = tx.ModelContext(ctx, record).WherePK().Update()
	} else {
		_, err = tx.ModelContext(ctx, record).Insert()
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "problem storing the option %d.%s", value.Code, value.Space)
	}
	if err := touchOwner(ctx, tx, owner.touchTable, owner.touchColumn, owner.touchKey, rev.time); err != nil {
		return err
	}
	return insertAudit(ctx, tx, &tables6, rev, cb.ObjectOption, record.ID, modification)
}

// Deletes an IPv4 option row from the owner scope.
func deleteScopedOption4(ctx context.Context, tx *pg.Tx, slot *revisionSlot, owner *optionOwner, code uint16, space string) (int64, error) {
	existing := &dhcpOption4Record{}
	err := owner.filter(tx.ModelContext(ctx, existing).Column("id")).
		Where("code = ?", int(code)).
		Where("space = ?", space).
		Limit(1).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return 0, nil
	} else if err != nil {
		return 0, pkgerrors.Wrapf(err, "problem getting the option %d.%s", code, space)
	}
	concern, err := concernID(ctx, tx, &tables4, assignedTags(owner.tags))
	if err != nil {
		return 0, err
	}
	rev, err := slot.open(ctx, tx, concern)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ModelContext(ctx, existing).WherePK().Delete(); err != nil {
		return 0, pkgerrors.Wrapf(err, "problem deleting the option %d.%s", code, space)
	}
	if err := touchOwner(ctx, tx, owner.touchTable, owner.touchColumn, owner.touchKey, rev.time); err != nil {
		return 0, err
	}
	if err := insertAudit(ctx, tx, &tables4, rev, cb.ObjectOption, existing.ID, cb.ModificationDelete); err != nil {
		return 0, err
	}
	return 1, nil
}

// Deletes an IPv6 option row from the owner scope.
func deleteScopedOption6(ctx context.Context, tx *pg.Tx, slot *revisionSlot, owner *optionOwner, code uint16, space string) (int64, error) {
	existing := &dhcpOption6Record{}
	err := owner.filter(tx.ModelContext(ctx, existing).Column("id")).
		Where("code = ?", int(code)).
		Where("space = ?", space).
		Limit(1).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return 0, nil
	} else if err != nil {
		return 0, pkgerrors.Wrapf(err, "problem getting the option %d.%s", code, space)
	}
	concern, err := concernID(ctx, tx, &tables6, assignedTags(owner.tags))
	if err != nil {
		return 0, err
	}
	rev, err := slot.open(ctx, tx, concern)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ModelContext(ctx, existing).WherePK().Delete(); err != nil {
		return 0, pkgerrors.Wrapf(err, "problem deleting the option %d.%s", code, space)
	}
	if err := touchOwner(ctx, tx, owner.touchTable, owner.touchColumn, owner.touchKey, rev.time); err != nil {
		return 0, err
	}
	if err := insertAudit(ctx, tx, &tables6, rev, cb.ObjectOption, existing.ID, cb.ModificationDelete); err != nil {
		return 0, err
	}
	return 1, nil
}

// Creates or replaces an option attached to an IPv4 shared network.
func (backend *Backend) CreateUpdateSharedNetworkOption4(ctx context.Context, selector cb.ServerSelector, name string, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv4)
	if err != nil {
		return err
	}
	return backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		if _, err := resolveWriteServers(ctx, tx, &tables4, selector); err != nil {
			return err
		}
		owner, err := sharedNetworkOwner4(ctx, tx, selector, readFilter, name)
		if err != nil {
			return err
		}
		if owner == nil {
			return pkgerrors.Wrapf(cb.ErrInvalidParameter, "shared network %s does not exist", name)
		}
		return upsertScopedOption4(ctx, tx, slot, owner, value)
	})
}

// Deletes an option attached to an IPv4 shared network.
func (backend *Backend) DeleteSharedNetworkOption4(ctx context.Context, selector cb.ServerSelector, name string, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		owner, err := sharedNetworkOwner4(ctx, tx, selector, deleteFilter, name)
		if err != nil || owner == nil {
			return err
		}
		count, err = deleteScopedOption4(ctx, tx, slot, owner, code, space)
		return err
	})
	return count, err
}

// Creates or replaces an option attached to an IPv6 shared network.
func (backend *Backend) CreateUpdateSharedNetworkOption6(ctx context.Context, selector cb.ServerSelector, name string, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv6)
	if err != nil {
		return err
	}
	return backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		if _, err := resolveWriteServers(ctx, tx, &tables6, selector); err != nil {
			return err
		}
		owner, err := sharedNetworkOwner6(ctx, tx, selector, readFilter, name)
		if err != nil {
			return err
		}
		if owner == nil {
			return pkgerrors.Wrapf(cb.ErrInvalidParameter, "shared network %s does not exist", name)
		}
		return upsertScopedOption6(ctx, tx, slot, owner, value)
	})
}

// Deletes an option attached to an IPv6 shared network.
func (backend *Backend) DeleteSharedNetworkOption6(ctx context.Context, selector cb.ServerSelector, name string, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		owner, err := sharedNetworkOwner6(ctx, tx, selector, deleteFilter, name)
		if err != nil || owner == nil {
			return err
		}
		count, err = deleteScopedOption6(ctx, tx, slot, owner, code, space)
		return err
	})
	return count, err
}

// Creates or replaces an option attached to an IPv4 subnet.
func (backend *Backend) CreateUpdateSubnetOption4(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv4)
	if err != nil {
		return err
	}
	return backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		if _, err := resolveWriteServers(ctx, tx, &tables4, selector); err != nil {
			return err
		}
		owner, err := subnetOwner4(ctx, tx, selector, readFilter, subnetID)
		if err != nil {
			return err
		}
		if owner == nil {
			return pkgerrors.Wrapf(cb.ErrInvalidParameter, "subnet %d does not exist", subnetID)
		}
		return upsertScopedOption4(ctx, tx, slot, owner, value)
	})
}

// Deletes an option attached to an IPv4 subnet.
func (backend *Backend) DeleteSubnetOption4(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		owner, err := subnetOwner4(ctx, tx, selector, deleteFilter, subnetID)
		if err != nil || owner == nil {
			return err
		}
		count, err = deleteScopedOption4(ctx, tx, slot, owner, code, space)
		return err
	})
	return count, err
}

// Creates or replaces an option attached to an IPv6 subnet.
func (backend *Backend) CreateUpdateSubnetOption6(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv6)
	if err != nil {
		return err
	}
	return backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		if _, err := resolveWriteServers(ctx, tx, &tables6, selector); err != nil {
			return err
		}
		owner, err := subnetOwner6(ctx, tx, selector, readFilter, subnetID)
		if err != nil {
			return err
		}
		if owner == nil {
			return pkgerrors.Wrapf(cb.ErrInvalidParameter, "subnet %d does not exist", subnetID)
		}
		return upsertScopedOption6(ctx, tx, slot, owner, value)
	})
}

// Deletes an option attached to an IPv6 subnet.
func (backend *Backend) DeleteSubnetOption6(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		owner, err := subnetOwner6(ctx, tx, selector, deleteFilter, subnetID)
		if err != nil || owner == nil {
			return err
		}
		count, err = deleteScopedOption6(ctx, tx, slot, owner, code, space)
		return err
	})
	return count, err
}

// Creates or replaces an option attached to an IPv4 address pool. The
// pool is addressed by its boundaries.
func (backend *Backend) CreateUpdatePoolOption4(ctx context.Context, selector cb.ServerSelector, poolStart, poolEnd netip.Addr, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv4)
	if err != nil {
		return err
	}
	return backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		if _, err := resolveWriteServers(ctx, tx, &tables4, selector); err != nil {
			return err
		}
		owner, err := poolOwner4(ctx, tx, selector, readFilter, poolStart, poolEnd)
		if err != nil {
			return err
		}
		if owner == nil {
			return pkgerrors.Wrapf(cb.ErrInvalidParameter, "pool %s - %s does not exist", poolStart, poolEnd)
		}
		return upsertScopedOption4(ctx, tx, slot, owner, value)
	})
}

// Deletes an option attached to an IPv4 address pool.
func (backend *Backend) DeletePoolOption4(ctx context.Context, selector cb.ServerSelector, poolStart, poolEnd netip.Addr, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		owner, err := poolOwner4(ctx, tx, selector, deleteFilter, poolStart, poolEnd)
		if err != nil || owner == nil {
			return err
		}
		count, err = deleteScopedOption4(ctx, tx, slot, owner, code, space)
		return err
	})
	return count, err
}

// Creates or replaces an option attached to an IPv6 address pool.
func (backend *Backend) CreateUpdatePoolOption6(ctx context.Context, selector cb.ServerSelector, poolStart, poolEnd netip.Addr, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv6)
	if err != nil {
		return err
	}
	return backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		if _, err := resolveWriteServers(ctx, tx, &tables6, selector); err != nil {
			return err
		}
		owner, err := poolOwner6(ctx, tx, selector, readFilter, poolStart, poolEnd)
		if err != nil {
			return err
		}
		if owner == nil {
			return pkgerrors.Wrapf(cb.ErrInvalidParameter, "pool %s - %s does not exist", poolStart, poolEnd)
		}
		return upsertScopedOption6(ctx, tx, slot, owner, value)
	})
}

// Deletes an option attached to an IPv6 address pool.
func (backend *Backend) DeletePoolOption6(ctx context.Context, selector cb.ServerSelector, poolStart, poolEnd netip.Addr, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		owner, err := poolOwner6(ctx, tx, selector, deleteFilter, poolStart, poolEnd)
		if err != nil || owner == nil {
			return err
		}
		count, err = deleteScopedOption6(ctx, tx, slot, owner, code, space)
		return err
	})
	return count, err
}

// Creates or replaces an option attached to an IPv6 prefix pool. The
// pool is addressed by its prefix.
func (backend *Backend) CreateUpdatePDPoolOption6(ctx context.Context, selector cb.ServerSelector, prefix netip.Prefix, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv6)
	if err != nil {
		return err
	}
	return backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		if _, err := resolveWriteServers(ctx, tx, &tables6, selector); err != nil {
			return err
		}
		owner, err := pdPoolOwner6(ctx, tx, selector, readFilter, prefix)
		if err != nil {
			return err
		}
		if owner == nil {
			return pkgerrors.Wrapf(cb.ErrInvalidParameter, "prefix pool %s does not exist", prefix)
		}
		return upsertScopedOption6(ctx, tx, slot, owner, value)
	})
}

// Deletes an option attached to an IPv6 prefix pool.
func (backend *Backend) DeletePDPoolOption6(ctx context.Context, selector cb.ServerSelector, prefix netip.Prefix, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		owner, err := pdPoolOwner6(ctx, tx, selector, deleteFilter, prefix)
		if err != nil || owner == nil {
			return err
		}
		count, err = deleteScopedOption6(ctx, tx, slot, owner, code, space)
		return err
	})
	return count, err
}
