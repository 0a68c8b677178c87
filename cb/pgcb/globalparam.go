package pgcb

import (
	"context"
	"errors"
	"time"

	"github.com/go-pg/pg/v10"
	pkgerrors "github.com/pkg/errors"

	"isc.org/tern/cb"
	"isc.org/tern/stamped"
)

// Row of the global_parameter4 table.
type globalParameter4Record struct {
	tableName struct{} `pg:"global_parameter4,alias:global_parameter4"` //nolint:unused

	ID             int64 `pg:",pk"`
	Name           string
	Value          string `pg:",use_zero"`
	ParameterType  int    `pg:",use_zero"`
	ModificationTS time.Time
}

// Row of the global_parameter6 table.
type globalParameter6Record struct {
	tableName struct{} `pg:"global_parameter6,alias:global_parameter6"` //nolint:unused

	ID             int64 `pg:",pk"`
	Name           string
	Value          string `pg:",use_zero"`
	ParameterType  int    `pg:",use_zero"`
	ModificationTS time.Time
}

func (record *globalParameter4Record) toValue() (*stamped.Value, error) {
	value, err := stamped.NewFromText(record.Name, record.Value, stamped.Kind(record.ParameterType))
	if err != nil {
		return nil, pkgerrors.WithMessagef(err, "problem restoring the parameter %s", record.Name)
	}
	value.ID = record.ID
	value.ModificationTime = record.ModificationTS.UTC()
	return value, nil
}

func (record *globalParameter6Record) toValue() (*stamped.Value, error) {
	value, err := stamped.NewFromText(record.Name, record.Value, stamped.Kind(record.ParameterType))
	if err != nil {
		return nil, pkgerrors.WithMessagef(err, "problem restoring the parameter %s", record.Name)
	}
	value.ID = record.ID
	value.ModificationTime = record.ModificationTS.UTC()
	return value, nil
}

// Checks a parameter supplied to a write. The stored form is the kind
// and the canonical textual value.
func prepareParameter(value *stamped.Value) (kind stamped.Kind, text string, err error) {
	if value == nil {
		return 0, "", pkgerrors.Wrap(cb.ErrInvalidParameter, "no parameter specified")
	}
	kind, err = value.GetKind()
	if err != nil {
		return 0, "", pkgerrors.Wrapf(cb.ErrInvalidParameter, "parameter %s holds no value", value.Name)
	}
	text, err = value.GetString()
	if err != nil {
		return 0, "", pkgerrors.Wrapf(cb.ErrInvalidParameter, "parameter %s holds no value", value.Name)
	}
	return kind, text, nil
}

// Creates or replaces an IPv4 global parameter. The supplied value
// must hold data; a name-only value cannot be stored.
func (backend *Backend) CreateUpdateGlobalParameter4(ctx context.Context, selector cb.ServerSelector, value *stamped.Value) error {
	kind, text, err := prepareParameter(value)
	if err != nil {
		return err
	}
	return backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		servers, err := resolveWriteServers(ctx, tx, &tables4, selector)
		if err != nil {
			return err
		}
		existing := &globalParameter4Record{}
		err = tx.ModelContext(ctx, existing).
			Column("id").
			Where("name = ?", value.Name).
			Limit(1).
			Select()
		if err != nil && !errors.Is(err, pg.ErrNoRows) {
			return pkgerrors.Wrapf(err, "problem getting the parameter %s", value.Name)
		}
		previous := map[int64][]string{}
		if existing.ID != 0 {
			if previous, err = loadServerTags(ctx, tx, tables4.parameter, []int64{existing.ID}); err != nil {
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
		record := &globalParameter4Record{
			ID:             existing.ID,
			Name:           value.Name,
			Value:          text,
			ParameterType:  int(kind),
			ModificationTS: rev.time,
		}
		modification := cb.ModificationCreate
		if existing.ID != 0 {
			modification = cb.ModificationUpdate
			_, err = tx.ModelContext(ctx, record).WherePK().Update()
		} else {
			_, err = tx.ModelContext(ctx, record).Insert()
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "problem storing the parameter %s", value.Name)
		}
		if err := bindServers(ctx, tx, tables4.parameter, record.ID, servers, rev.time); err != nil {
			return err
		}
		return insertAudit(ctx, tx, &tables4, rev, cb.ObjectGlobalParameter, record.ID, modification)
	})
}

// Creates or replaces an IPv6 global parameter.
func (backend *Backend) CreateUpdateGlobalParameter6(ctx context.Context, selector cb.ServerSelector, value *stamped.Value) error {
	kind, text, err := prepareParameter(value)
	if err != nil {
		return err
	}
	return backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		servers, err := resolveWriteServers(ctx, tx, &tables6, selector)
		if err != nil {
			return err
		}
		existing := &globalParameter6Record{}
		err = tx.ModelContext(ctx, existing).
			Column("id").
			Where("name = ?", value.Name).
			Limit(1).
			Select()
		if err != nil && !errors.Is(err, pg.ErrNoRows) {
			return pkgerrors.Wrapf(err, "problem getting the parameter %s", value.Name)
		}
		previous := map[int64][]string{}
		if existing.ID != 0 {
			if previous, err = loadServerTags(ctx, tx, tables6.parameter, []int64{existing.ID}); err != nil {
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
		record := &globalParameter6Record{
			ID:             existing.ID,
			Name:           value.Name,
			Value:          text,
			ParameterType:  int(kind),
			ModificationTS: rev.time,
		}
		modification := cb.ModificationCreate
		if existing.ID != 0 {
			modification = cb.ModificationUpdate
			_, err = tx.ModelContext(ctx, record).WherePK().Update()
		} else {
			_, err = tx.ModelContext(ctx, record).Insert()
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "problem storing the parameter %s", value.Name)
		}
		if err := bindServers(ctx, tx, tables6.parameter, record.ID, servers, rev.time); err != nil {
			return err
		}
		return insertAudit(ctx, tx, &tables6, rev, cb.ObjectGlobalParameter, record.ID, modification)
	})
}

// Returns the IPv4 global parameter by name.
func (backend *Backend) GetGlobalParameter4(ctx context.Context, selector cb.ServerSelector, name string) (*stamped.Value, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	record := &globalParameter4Record{}
	q := backend.db.ModelContext(ctx, record).Where("name = ?", name)
	q = readFilter(q, tables4.parameter, selector)
	err := q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the parameter %s", name)
	}
	return record.toValue()
}

// Returns the IPv6 global parameter by name.
func (backend *Backend) GetGlobalParameter6(ctx context.Context, selector cb.ServerSelector, name string) (*stamped.Value, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	record := &globalParameter6Record{}
	q := backend.db.ModelContext(ctx, record).Where("name = ?", name)
	q = readFilter(q, tables6.parameter, selector)
	err := q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the parameter %s", name)
	}
	return record.toValue()
}

// Returns all IPv4 global parameters, ordered by the creation
// sequence.
func (backend *Backend) GetAllGlobalParameters4(ctx context.Context, selector cb.ServerSelector) (stamped.List, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []globalParameter4Record
	q := backend.db.ModelContext(ctx, &records)
	q = readFilter(q, tables4.parameter, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the parameters")
	}
	values := stamped.List{}
	for i := range records {
		value, err := records[i].toValue()
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

// Returns all IPv6 global parameters, ordered by the creation
// sequence.
func (backend *Backend) GetAllGlobalParameters6(ctx context.Context, selector cb.ServerSelector) (stamped.List, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []globalParameter6Record
	q := backend.db.ModelContext(ctx, &records)
	q = readFilter(q, tables6.parameter, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the parameters")
	}
	values := stamped.List{}
	for i := range records {
		value, err := records[i].toValue()
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

// Returns the IPv4 global parameters modified strictly after the given
// time.
func (backend *Backend) GetModifiedGlobalParameters4(ctx context.Context, selector cb.ServerSelector, since time.Time) (stamped.List, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []globalParameter4Record
	q := backend.db.ModelContext(ctx, &records).Where("modification_ts > ?", since)
	q = readFilter(q, tables4.parameter, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the parameters modified since %s", since)
	}
	values := stamped.List{}
	for i := range records {
		value, err := records[i].toValue()
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

// Returns the IPv6 global parameters modified strictly after the given
// time.
func (backend *Backend) GetModifiedGlobalParameters6(ctx context.Context, selector cb.ServerSelector, since time.Time) (stamped.List, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []globalParameter6Record
	q := backend.db.ModelContext(ctx, &records).Where("modification_ts > ?", since)
	q = readFilter(q, tables6.parameter, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the parameters modified since %s", since)
	}
	values := stamped.List{}
	for i := range records {
		value, err := records[i].toValue()
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

// Deletes the IPv4 global parameter by name.
func (backend *Backend) DeleteGlobalParameter4(ctx context.Context, selector cb.ServerSelector, name string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []globalParameter4Record
		q := tx.ModelContext(ctx, &victims).Column("id").Where("name = ?", name)
		q = deleteFilter(q, tables4.parameter, selector)
		if err := q.Order("id ASC").Select(); err != nil {
			return pkgerrors.Wrapf(err, "problem getting the parameter %s", name)
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(victims))
		for i := range victims {
			ids = append(ids, victims[i].ID)
		}
		count = int64(len(ids))
		return deleteParameterRows(ctx, tx, slot, &tables4, ids)
	})
	return count, err
}

// Deletes the IPv6 global parameter by name.
func (backend *Backend) DeleteGlobalParameter6(ctx context.Context, selector cb.ServerSelector, name string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []globalParameter6Record
		q := tx.ModelContext(ctx, &victims).Column("id").Where("name = ?", name)
		q = deleteFilter(q, tables6.parameter, selector)
		if err := q.Order("id ASC").Select(); err != nil {
			return pkgerrors.Wrapf(err, "problem getting the parameter %s", name)
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(victims))
		for i := range victims {
			ids = append(ids, victims[i].ID)
		}
		count = int64(len(ids))
		return deleteParameterRows(ctx, tx, slot, &tables6, ids)
	})
	return count, err
}

// Deletes all IPv4 global parameters matching the selector.
func (backend *Backend) DeleteAllGlobalParameters4(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []globalParameter4Record
		q := tx.ModelContext(ctx, &victims).Column("id")
		q = deleteFilter(q, tables4.parameter, selector)
		if err := q.Order("id ASC").Select(); err != nil {
			return pkgerrors.Wrap(err, "problem getting the parameters")
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(victims))
		for i := range victims {
			ids = append(ids, victims[i].ID)
		}
		count = int64(len(ids))
		return deleteParameterRows(ctx, tx, slot, &tables4, ids)
	})
	return count, err
}

// Deletes all IPv6 global parameters matching the selector.
func (backend *Backend) DeleteAllGlobalParameters6(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []globalParameter6Record
		q := tx.ModelContext(ctx, &victims).Column("id")
		q = deleteFilter(q, tables6.parameter, selector)
		if err := q.Order("id ASC").Select(); err != nil {
			return pkgerrors.Wrap(err, "problem getting the parameters")
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(victims))
		for i := range victims {
			ids = append(ids, victims[i].ID)
		}
		count = int64(len(ids))
		return deleteParameterRows(ctx, tx, slot, &tables6, ids)
	})
	return count, err
}

// Removes the parameter rows and appends the audit entries.
func deleteParameterRows(ctx context.Context, tx *pg.Tx, slot *revisionSlot, t *familyTables, ids []int64) error {
	assigned, err := loadServerTags(ctx, tx, t.parameter, ids)
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
		pg.Ident(t.parameter.entity), pg.In(ids))
	if err != nil {
		return pkgerrors.Wrap(err, "problem deleting the parameters")
	}
	for _, id := range ids {
		if err := insertAudit(ctx, tx, t, rev, cb.ObjectGlobalParameter, id, cb.ModificationDelete); err != nil {
			return err
		}
	}
	return nil
}
