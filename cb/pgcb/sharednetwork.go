package pgcb

import (
	"context"
	"errors"
	"time"

	"github.com/go-pg/pg/v10"
	pkgerrors "github.com/pkg/errors"

	"isc.org/tern/cb"
	"isc.org/tern/dhcpcfg"
)

// Row of the shared_network4 table. The inline subnets of the entity
// are not persisted here; the membership lives in the subnet table.
type sharedNetwork4Record struct {
	tableName struct{} `pg:"shared_network4,alias:shared_network4"` //nolint:unused

	ID             int64 `pg:",pk"`
	Name           string
	Interface      string
	ClientClass    string
	Relay          []string
	RenewTimer     *int64
	RebindTimer    *int64
	ValidLifetime  *int64
	UserContext    map[string]any
	ModificationTS time.Time
}

// Row of the shared_network6 table.
type sharedNetwork6Record struct {
	tableName struct{} `pg:"shared_network6,alias:shared_network6"` //nolint:unused

	ID                int64 `pg:",pk"`
	Name              string
	Interface         string
	ClientClass       string
	Relay             []string
	RenewTimer        *int64
	RebindTimer       *int64
	PreferredLifetime *int64
	ValidLifetime     *int64
	RapidCommit       *bool
	UserContext       map[string]any
	ModificationTS    time.Time
}

func networkRecord4(network *dhcpcfg.SharedNetwork4, id int64, at time.Time) *sharedNetwork4Record {
	return &sharedNetwork4Record{
		ID:             id,
		Name:           network.Name,
		Interface:      network.Interface,
		ClientClass:    network.ClientClass,
		Relay:          network.Relay,
		RenewTimer:     network.RenewTimer,
		RebindTimer:    network.RebindTimer,
		ValidLifetime:  network.ValidLifetime,
		UserContext:    network.UserContext,
		ModificationTS: at,
	}
}

func networkRecord6(network *dhcpcfg.SharedNetwork6, id int64, at time.Time) *sharedNetwork6Record {
	return &sharedNetwork6Record{
		ID:                id,
		Name:              network.Name,
		Interface:         network.Interface,
		ClientClass:       network.ClientClass,
		Relay:             network.Relay,
		RenewTimer:        network.RenewTimer,
		RebindTimer:       network.RebindTimer,
		PreferredLifetime: network.PreferredLifetime,
		ValidLifetime:     network.ValidLifetime,
		RapidCommit:       network.RapidCommit,
		UserContext:       network.UserContext,
		ModificationTS:    at,
	}
}

func (record *sharedNetwork4Record) toNetwork(options []dhcpcfg.OptionDescriptor) dhcpcfg.SharedNetwork4 {
	return dhcpcfg.SharedNetwork4{
		ID:               record.ID,
		Name:             record.Name,
		Interface:        record.Interface,
		ClientClass:      record.ClientClass,
		Relay:            record.Relay,
		RenewTimer:       record.RenewTimer,
		RebindTimer:      record.RebindTimer,
		ValidLifetime:    record.ValidLifetime,
		Options:          options,
		UserContext:      record.UserContext,
		ModificationTime: record.ModificationTS.UTC(),
	}
}

func (record *sharedNetwork6Record) toNetwork(options []dhcpcfg.OptionDescriptor) dhcpcfg.SharedNetwork6 {
	return dhcpcfg.SharedNetwork6{
		ID:                record.ID,
		Name:              record.Name,
		Interface:         record.Interface,
		ClientClass:       record.ClientClass,
		Relay:             record.Relay,
		RenewTimer:        record.RenewTimer,
		RebindTimer:       record.RebindTimer,
		PreferredLifetime: record.PreferredLifetime,
		ValidLifetime:     record.ValidLifetime,
		RapidCommit:       record.RapidCommit,
		Options:           options,
		UserContext:       record.UserContext,
		ModificationTime:  record.ModificationTS.UTC(),
	}
}

// Rewrites the scoped options of a shared network.
func replaceNetworkOptions4(ctx context.Context, tx *pg.Tx, network *dhcpcfg.SharedNetwork4, at time.Time) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM ? WHERE scope_id = ? AND shared_network_name = ?",
		pg.Ident(tables4.option.entity), scopeSharedNetwork, network.Name)
	if err != nil {
		return pkgerrors.Wrapf(err, "problem clearing the options of the shared network %s", network.Name)
	}
	owner := &optionOwner{scope: scopeSharedNetwork, networkName: &network.Name}
	for i := range network.Options {
		if err := insertEmbeddedOption4(ctx, tx, &network.Options[i], owner, at); err != nil {
			return err
		}
	}
	return nil
}

func replaceNetworkOptions6(ctx context.Context, tx *pg.Tx, network *dhcpcfg.SharedNetwork6, at time.Time) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM ? WHERE scope_id = ? AND shared_network_name = ?",
		pg.Ident(tables6.option.entity), scopeSharedNetwork, network.Name)
	if err != nil {
		return pkgerrors.Wrapf(err, "problem clearing the options of the shared network %s", network.Name)
	}
	owner := &optionOwner{scope: scopeSharedNetwork, networkName: &network.Name}
	for i := range network.Options {
		if err := insertEmbeddedOption6(ctx, tx, &network.Options[i], owner, at); err != nil {
			return err
		}
	}
	return nil
}

// Creates or replaces an IPv4 shared network. The inline subnets are
// not stored; the membership lives on the subnet side.
func (backend *Backend) CreateUpdateSharedNetwork4(ctx context.Context, selector cb.ServerSelector, network *dhcpcfg.SharedNetwork4) error {
	if network.Name == "" {
		return pkgerrors.Wrap(cb.ErrInvalidParameter, "shared network has no name")
	}
	return backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		servers, err := resolveWriteServers(ctx, tx, &tables4, selector)
		if err != nil {
			return err
		}
		existing := &sharedNetwork4Record{}
		err = tx.ModelContext(ctx, existing).
			Column("id").
			Where("name = ?", network.Name).
			Limit(1).
			Select()
		if err != nil && !errors.Is(err, pg.ErrNoRows) {
			return pkgerrors.Wrapf(err, "problem getting the shared network %s", network.Name)
		}
		previous := map[int64][]string{}
		if existing.ID != 0 {
			if previous, err = loadServerTags(ctx, tx, tables4.sharedNetwork, []int64{existing.ID}); err != nil {
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
		record := networkRecord4(network, existing.ID, rev.time)
		modification := cb.ModificationCreate
		if existing.ID != 0 {
			modification = cb.ModificationUpdate
			_, err = tx.ModelContext(ctx, record).WherePK().Update()
		} else {
			_, err = tx.ModelContext(ctx, record).Insert()
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "problem storing the shared network %s", network.Name)
		}
		if err := replaceNetworkOptions4(ctx, tx, network, rev.time); err != nil {
			return err
		}
		if err := bindServers(ctx, tx, tables4.sharedNetwork, record.ID, servers, rev.time); err != nil {
			return err
		}
		return insertAudit(ctx, tx, &tables4, rev, cb.ObjectSharedNetwork, record.ID, modification)
	})
}

// Creates or replaces an IPv6 shared network.
func (backend *Backend) CreateUpdateSharedNetwork6(ctx context.Context, selector cb.ServerSelector, network *dhcpcfg.SharedNetwork6) error {
	if network.Name == "" {
		return pkgerrors.Wrap(cb.ErrInvalidParameter, "shared network has no name")
	}
	return backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		servers, err := resolveWriteServers(ctx, tx, &tables6, selector)
		if err != nil {
			return err
		}
		existing := &sharedNetwork6Record{}
		err = tx.ModelContext(ctx, existing).
			Column("id").
			Where("name = ?", network.Name).
			Limit(1).
			Select()
		if err != nil && !errors.Is(err, pg.ErrNoRows) {
			return pkgerrors.Wrapf(err, "problem getting the shared network %s", network.Name)
		}
		previous := map[int64][]string{}
		if existing.ID != 0 {
			if previous, err = loadServerTags(ctx, tx, tables6.sharedNetwork, []int64{existing.ID}); err != nil {
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
		record := networkRecord6(network, existing.ID, rev.time)
		modification := cb.ModificationCreate
		if existing.ID != 0 {
			modification = cb.ModificationUpdate
			_, err = tx.ModelContext(ctx, record).WherePK().Update()
		} else {
			_, err = tx.ModelContext(ctx, record).Insert()
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "problem storing the shared network %s", network.Name)
		}
		if err := replaceNetworkOptions6(ctx, tx, network, rev.time); err != nil {
			return err
		}
		if err := bindServers(ctx, tx, tables6.sharedNetwork, record.ID, servers, rev.time); err != nil {
			return err
		}
		return insertAudit(ctx, tx, &tables6, rev, cb.ObjectSharedNetwork, record.ID, modification)
	})
}

// Assembles the IPv4 shared networks around the loaded rows, filling
// the scoped options and the server tags in batched queries.
func (backend *Backend) assembleNetworks4(ctx context.Context, records []sharedNetwork4Record) ([]dhcpcfg.SharedNetwork4, error) {
	networks := []dhcpcfg.SharedNetwork4{}
	if len(records) == 0 {
		return networks, nil
	}
	ids := make([]int64, 0, len(records))
	names := make([]string, 0, len(records))
	for i := range records {
		ids = append(ids, records[i].ID)
		names = append(names, records[i].Name)
	}
	assigned, err := loadServerTags(ctx, backend.db, tables4.sharedNetwork, ids)
	if err != nil {
		return nil, err
	}
	var optionRecords []dhcpOption4Record
	err = backend.db.ModelContext(ctx, &optionRecords).
		Where("scope_id = ?", scopeSharedNetwork).
		Where("shared_network_name IN (?)", pg.In(names)).
		Order("id ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the shared network options")
	}
	options := map[string][]dhcpcfg.OptionDescriptor{}
	for i := range optionRecords {
		name := *optionRecords[i].SharedNetworkName
		options[name] = append(options[name], optionRecords[i].toOption())
	}
	for i := range records {
		record := &records[i]
		network := record.toNetwork(options[record.Name])
		network.ServerTags = assigned[record.ID]
		networks = append(networks, network)
	}
	return networks, nil
}

// Assembles the IPv6 shared networks around the loaded rows.
func (backend *Backend) assembleNetworks6(ctx context.Context, records []sharedNetwork6Record) ([]dhcpcfg.SharedNetwork6, error) {
	networks := []dhcpcfg.SharedNetwork6{}
	if len(records) == 0 {
		return networks, nil
	}
	ids := make([]int64, 0, len(records))
	names := make([]string, 0, len(records))
	for i := range records {
		ids = append(ids, records[i].ID)
		names = append(names, records[i].Name)
	}
	assigned, err := loadServerTags(ctx, backend.db, tables6.sharedNetwork, ids)
	if err != nil {
		return nil, err
	}
	var optionRecords []dhcpOption6Record
	err = backend.db.ModelContext(ctx, &optionRecords).
		Where("scope_id = ?", scopeSharedNetwork).
		Where("shared_network_name IN (?)", pg.In(names)).
		Order("id ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the shared network options")
	}
	options := map[string][]dhcpcfg.OptionDescriptor{}
	for i := range optionRecords {
		name := *optionRecords[i].SharedNetworkName
		options[name] = append(options[name], optionRecords[i].toOption())
	}
	for i := range records {
		record := &records[i]
		network := record.toNetwork(options[record.Name])
		network.ServerTags = assigned[record.ID]
		networks = append(networks, network)
	}
	return networks, nil
}

// Returns the IPv4 shared network by name.
func (backend *Backend) GetSharedNetwork4(ctx context.Context, selector cb.ServerSelector, name string) (*dhcpcfg.SharedNetwork4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	record := &sharedNetwork4Record{}
	q := backend.db.ModelContext(ctx, record).Where("name = ?", name)
	q = readFilter(q, tables4.sharedNetwork, selector)
	err := q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the shared network %s", name)
	}
	networks, err := backend.assembleNetworks4(ctx, []sharedNetwork4Record{*record})
	if err != nil {
		return nil, err
	}
	return &networks[0], nil
}

// Returns the IPv6 shared network by name.
func (backend *Backend) GetSharedNetwork6(ctx context.Context, selector cb.ServerSelector, name string) (*dhcpcfg.SharedNetwork6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	record := &sharedNetwork6Record{}
	q := backend.db.ModelContext(ctx, record).Where("name = ?", name)
	q = readFilter(q, tables6.sharedNetwork, selector)
	err := q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the shared network %s", name)
	}
	networks, err := backend.assembleNetworks6(ctx, []sharedNetwork6Record{*record})
	if err != nil {
		return nil, err
	}
	return &networks[0], nil
}

// Returns all IPv4 shared networks, ordered by the creation sequence.
func (backend *Backend) GetAllSharedNetworks4(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.SharedNetwork4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []sharedNetwork4Record
	q := backend.db.ModelContext(ctx, &records)
	q = readFilter(q, tables4.sharedNetwork, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the shared networks")
	}
	return backend.assembleNetworks4(ctx, records)
}

// Returns all IPv6 shared networks, ordered by the creation sequence.
func (backend *Backend) GetAllSharedNetworks6(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.SharedNetwork6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []sharedNetwork6Record
	q := backend.db.ModelContext(ctx, &records)
	q = readFilter(q, tables6.sharedNetwork, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the shared networks")
	}
	return backend.assembleNetworks6(ctx, records)
}

// Returns the IPv4 shared networks modified strictly after the given
// time.
func (backend *Backend) GetModifiedSharedNetworks4(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.SharedNetwork4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []sharedNetwork4Record
	q := backend.db.ModelContext(ctx, &records).Where("modification_ts > ?", since)
	q = readFilter(q, tables4.sharedNetwork, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the shared networks modified since %s", since)
	}
	return backend.assembleNetworks4(ctx, records)
}

// Returns the IPv6 shared networks modified strictly after the given
// time.
func (backend *Backend) GetModifiedSharedNetworks6(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.SharedNetwork6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []sharedNetwork6Record
	q := backend.db.ModelContext(ctx, &records).Where("modification_ts > ?", since)
	q = readFilter(q, tables6.sharedNetwork, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the shared networks modified since %s", since)
	}
	return backend.assembleNetworks6(ctx, records)
}

// Removes the shared network rows and appends the audit entries. The
// member subnets are detached and the scoped options are dropped by
// the schema.
func deleteSharedNetworkRows(ctx context.Context, tx *pg.Tx, slot *revisionSlot, t *familyTables, ids []int64) error {
	assigned, err := loadServerTags(ctx, tx, t.sharedNetwork, ids)
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
		pg.Ident(t.sharedNetwork.entity), pg.In(ids))
	if err != nil {
		return pkgerrors.Wrap(err, "problem deleting the shared networks")
	}
	for _, id := range ids {
		if err := insertAudit(ctx, tx, t, rev, cb.ObjectSharedNetwork, id, cb.ModificationDelete); err != nil {
			return err
		}
	}
	return nil
}

// Deletes the IPv4 shared network by name, detaching its member
// subnets.
func (backend *Backend) DeleteSharedNetwork4(ctx context.Context, selector cb.ServerSelector, name string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []sharedNetwork4Record
		q := tx.ModelContext(ctx, &victims).Column("id").Where("name = ?", name)
		q = deleteFilter(q, tables4.sharedNetwork, selector)
		if err := q.Select(); err != nil {
			return pkgerrors.Wrapf(err, "problem getting the shared network %s", name)
		}
		if len(victims) == 0 {
			return nil
		}
		count = 1
		return deleteSharedNetworkRows(ctx, tx, slot, &tables4, []int64{victims[0].ID})
	})
	return count, err
}

// Deletes the IPv6 shared network by name, detaching its member
// subnets.
func (backend *Backend) DeleteSharedNetwork6(ctx context.Context, selector cb.ServerSelector, name string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []sharedNetwork6Record
		q := tx.ModelContext(ctx, &victims).Column("id").Where("name = ?", name)
		q = deleteFilter(q, tables6.sharedNetwork, selector)
		if err := q.Select(); err != nil {
			return pkgerrors.Wrapf(err, "problem getting the shared network %s", name)
		}
		if len(victims) == 0 {
			return nil
		}
		count = 1
		return deleteSharedNetworkRows(ctx, tx, slot, &tables6, []int64{victims[0].ID})
	})
	return count, err
}

// Deletes all IPv4 shared networks matching the selector, detaching
// their member subnets.
func (backend *Backend) DeleteAllSharedNetworks4(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []sharedNetwork4Record
		q := tx.ModelContext(ctx, &victims).Column("id")
		q = deleteFilter(q, tables4.sharedNetwork, selector)
		if err := q.Order("id ASC").Select(); err != nil {
			return pkgerrors.Wrap(err, "problem getting the shared networks")
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(victims))
		for i := range victims {
			ids = append(ids, victims[i].ID)
		}
		count = int64(len(ids))
		return deleteSharedNetworkRows(ctx, tx, slot, &tables4, ids)
	})
	return count, err
}

// Deletes all IPv6 shared networks matching the selector, detaching
// their member subnets.
func (backend *Backend) DeleteAllSharedNetworks6(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []sharedNetwork6Record
		q := tx.ModelContext(ctx, &victims).Column("id")
		q = deleteFilter(q, tables6.sharedNetwork, selector)
		if err := q.Order("id ASC").Select(); err != nil {
			return pkgerrors.Wrap(err, "problem getting the shared networks")
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(victims))
		for i := range victims {
			ids = append(ids, victims[i].ID)
		}
		count = int64(len(ids))
		return deleteSharedNetworkRows(ctx, tx, slot, &tables6, ids)
	})
	return count, err
}
