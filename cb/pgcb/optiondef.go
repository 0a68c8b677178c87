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

// Option definition types in the order of the smallint codes stored in
// the type column.
var optionDefTypes = []string{
	dhcpcfg.EmptyOption,
	dhcpcfg.StringOption,
	dhcpcfg.BoolOption,
	dhcpcfg.Uint8Option,
	dhcpcfg.Uint16Option,
	dhcpcfg.Uint32Option,
	dhcpcfg.Int8Option,
	dhcpcfg.Int16Option,
	dhcpcfg.Int32Option,
	dhcpcfg.IPv4AddressOption,
	dhcpcfg.IPv6AddressOption,
	dhcpcfg.IPv6PrefixOption,
	dhcpcfg.PsidOption,
	dhcpcfg.FqdnOption,
	dhcpcfg.TupleOption,
	dhcpcfg.BinaryOption,
	dhcpcfg.RecordOption,
}

func optionDefTypeCode(optionType string) int {
	for code, name := range optionDefTypes {
		if name == optionType {
			return code
		}
	}
	return 0
}

func optionDefTypeName(code int) string {
	if code < 0 || code >= len(optionDefTypes) {
		return ""
	}
	return optionDefTypes[code]
}

// Row of the option_def4 table.
type optionDef4Record struct {
	tableName struct{} `pg:"option_def4,alias:option_def4"` //nolint:unused

	ID             int64 `pg:",pk"`
	Code           int   `pg:",use_zero"`
	Name           string
	Space          string
	Type           int    `pg:",use_zero"`
	IsArray        bool   `pg:",use_zero"`
	RecordTypes    string `pg:",use_zero"`
	Encapsulate    string `pg:",use_zero"`
	ModificationTS time.Time
}

// Row of the option_def6 table.
type optionDef6Record struct {
	tableName struct{} `pg:"option_def6,alias:option_def6"` //nolint:unused

	ID             int64 `pg:",pk"`
	Code           int   `pg:",use_zero"`
	Name           string
	Space          string
	Type           int    `pg:",use_zero"`
	IsArray        bool   `pg:",use_zero"`
	RecordTypes    string `pg:",use_zero"`
	Encapsulate    string `pg:",use_zero"`
	ModificationTS time.Time
}

func optionDefRecord4(def *dhcpcfg.OptionDefinition, id int64, at time.Time) *optionDef4Record {
	return &optionDef4Record{
		ID:             id,
		Code:           int(def.Code),
		Name:           def.Name,
		Space:          def.Space,
		Type:           optionDefTypeCode(def.Type),
		IsArray:        def.Array,
		RecordTypes:    def.RecordTypesText(),
		Encapsulate:    def.EncapsulatedSpace,
		ModificationTS: at,
	}
}

func optionDefRecord6(def *dhcpcfg.OptionDefinition, id int64, at time.Time) *optionDef6Record {
	return &optionDef6Record{
		ID:             id,
		Code:           int(def.Code),
		Name:           def.Name,
		Space:          def.Space,
		Type:           optionDefTypeCode(def.Type),
		IsArray:        def.Array,
		RecordTypes:    def.RecordTypesText(),
		Encapsulate:    def.EncapsulatedSpace,
		ModificationTS: at,
	}
}

func (record *optionDef4Record) toDefinition() dhcpcfg.OptionDefinition {
	return dhcpcfg.OptionDefinition{
		ID:                record.ID,
		Code:              uint16(record.Code),
		Name:              record.Name,
		Space:             record.Space,
		Type:              optionDefTypeName(record.Type),
		Array:             record.IsArray,
		RecordTypes:       dhcpcfg.RecordTypesFromText(record.RecordTypes),
		EncapsulatedSpace: record.Encapsulate,
		ModificationTime:  record.ModificationTS.UTC(),
	}
}

func (record *optionDef6Record) toDefinition() dhcpcfg.OptionDefinition {
	return dhcpcfg.OptionDefinition{
		ID:                record.ID,
		Code:              uint16(record.Code),
		Name:              record.Name,
		Space:             record.Space,
		Type:              optionDefTypeName(record.Type),
		Array:             record.IsArray,
		RecordTypes:       dhcpcfg.RecordTypesFromText(record.RecordTypes),
		EncapsulatedSpace: record.Encapsulate,
		ModificationTime:  record.ModificationTS.UTC(),
	}
}

// Creates or replaces an IPv4 option definition. The definitions are
// keyed by the code and space pair.
func (backend *Backend) CreateUpdateOptionDef4(ctx context.Context, selector cb.ServerSelector, def *dhcpcfg.OptionDefinition) error {
	if err := def.Validate(); err != nil {
		return pkgerrors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	return backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		servers, err := resolveWriteServers(ctx, tx, &tables4, selector)
		if err != nil {
			return err
		}
		existing := &optionDef4Record{}
		err = tx.ModelContext(ctx, existing).
			Column("id").
			Where("code = ?", int(def.Code)).
			Where("space = ?", def.Space).
			Limit(1).
			Select()
		if err != nil && !errors.Is(err, pg.ErrNoRows) {
			return pkgerrors.Wrapf(err, "problem getting the option definition %d.%s", def.Code, def.Space)
		}
		previous := map[int64][]string{}
		if existing.ID != 0 {
			if previous, err = loadServerTags(ctx, tx, tables4.optionDef, []int64{existing.ID}); err != nil {
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
		record := optionDefRecord4(def, existing.ID, rev.time)
		modification := cb.ModificationCreate
		if existing.ID != 0 {
			modification = cb.ModificationUpdate
			_, err = tx.ModelContext(ctx, record).WherePK().Update()
		} else {
			_, err = tx.ModelContext(ctx, record).Insert()
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "problem storing the option definition %d.%s", def.Code, def.Space)
		}
		if err := bindServers(ctx, tx, tables4.optionDef, record.ID, servers, rev.time); err != nil {
			return err
		}
		return insertAudit(ctx, tx, &tables4, rev, cb.ObjectOptionDef, record.ID, modification)
	})
}

// Creates or replaces an IPv6 option definition.
func (backend *Backend) CreateUpdateOptionDef6(ctx context.Context, selector cb.ServerSelector, def *dhcpcfg.OptionDefinition) error {
	if err := def.Validate(); err != nil {
		return pkgerrors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	return backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		servers, err := resolveWriteServers(ctx, tx, &tables6, selector)
		if err != nil {
			return err
		}
		existing := &optionDef6Record{}
		err = tx.ModelContext(ctx, existing).
			Column("id").
			Where("code = ?", int(def.Code)).
			Where("space = ?", def.Space).
			Limit(1).
			Select()
		if err != nil && !errors.Is(err, pg.ErrNoRows) {
			return pkgerrors.Wrapf(err, "problem getting the option definition %d.%s", def.Code, def.Space)
		}
		previous := map[int64][]string{}
		if existing.ID != 0 {
			if previous, err = loadServerTags(ctx, tx, tables6.optionDef, []int64{existing.ID}); err != nil {
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
		record := optionDefRecord6(def, existing.ID, rev.time)
		modification := cb.ModificationCreate
		if existing.ID != 0 {
			modification = cb.ModificationUpdate
			_, err = tx.ModelContext(ctx, record).WherePK().Update()
		} else {
			_, err = tx.ModelContext(ctx, record).Insert()
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "problem storing the option definition %d.%s", def.Code, def.Space)
		}
		if err := bindServers(ctx, tx, tables6.optionDef, record.ID, servers, rev.time); err != nil {
			return err
		}
		return insertAudit(ctx, tx, &tables6, rev, cb.ObjectOptionDef, record.ID, modification)
	})
}

// Returns the IPv4 option definition by code and space.
func (backend *Backend) GetOptionDef4(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (*dhcpcfg.OptionDefinition, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	record := &optionDef4Record{}
	q := backend.db.ModelContext(ctx, record).
		Where("code = ?", int(code)).
		Where("space = ?", space)
	q = readFilter(q, tables4.optionDef, selector)
	err := q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the option definition %d.%s", code, space)
	}
	assigned, err := loadServerTags(ctx, backend.db, tables4.optionDef, []int64{record.ID})
	if err != nil {
		return nil, err
	}
	def := record.toDefinition()
	def.ServerTags = assigned[record.ID]
	return &def, nil
}

// Returns the IPv6 option definition by code and space.
func (backend *Backend) GetOptionDef6(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (*dhcpcfg.OptionDefinition, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	record := &optionDef6Record{}
	q := backend.db.ModelContext(ctx, record).
		Where("code = ?", int(code)).
		Where("space = ?", space)
	q = readFilter(q, tables6.optionDef, selector)
	err := q.Limit(1).Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the option definition %d.%s", code, space)
	}
	assigned, err := loadServerTags(ctx, backend.db, tables6.optionDef, []int64{record.ID})
	if err != nil {
		return nil, err
	}
	def := record.toDefinition()
	def.ServerTags = assigned[record.ID]
	return &def, nil
}

// Converts the loaded rows, filling the server tags in one query.
func (backend *Backend) optionDefList4(ctx context.Context, records []optionDef4Record) ([]dhcpcfg.OptionDefinition, error) {
	ids := make([]int64, 0, len(records))
	for i := range records {
		ids = append(ids, records[i].ID)
	}
	assigned, err := loadServerTags(ctx, backend.db, tables4.optionDef, ids)
	if err != nil {
		return nil, err
	}
	defs := []dhcpcfg.OptionDefinition{}
	for i := range records {
		def := records[i].toDefinition()
		def.ServerTags = assigned[def.ID]
		defs = append(defs, def)
	}
	return defs, nil
}

func (backend *Backend) optionDefList6(ctx context.Context, records []optionDef6Record) ([]dhcpcfg.OptionDefinition, error) {
	ids := make([]int64, 0, len(records))
	for i := range records {
		ids = append(ids, records[i].ID)
	}
	assigned, err := loadServerTags(ctx, backend.db, tables6.optionDef, ids)
	if err != nil {
		return nil, err
	}
	defs := []dhcpcfg.OptionDefinition{}
	for i := range records {
		def := records[i].toDefinition()
		def.ServerTags = assigned[def.ID]
		defs = append(defs, def)
	}
	return defs, nil
}

// Returns all IPv4 option definitions, ordered by the creation
// sequence.
func (backend *Backend) GetAllOptionDefs4(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.OptionDefinition, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []optionDef4Record
	q := backend.db.ModelContext(ctx, &records)
	q = readFilter(q, tables4.optionDef, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the option definitions")
	}
	return backend.optionDefList4(ctx, records)
}

// Returns all IPv6 option definitions, ordered by the creation
// sequence.
func (backend *Backend) GetAllOptionDefs6(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.OptionDefinition, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []optionDef6Record
	q := backend.db.ModelContext(ctx, &records)
	q = readFilter(q, tables6.optionDef, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the option definitions")
	}
	return backend.optionDefList6(ctx, records)
}

// Returns the IPv4 option definitions modified strictly after the
// given time.
func (backend *Backend) GetModifiedOptionDefs4(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.OptionDefinition, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []optionDef4Record
	q := backend.db.ModelContext(ctx, &records).Where("modification_ts > ?", since)
	q = readFilter(q, tables4.optionDef, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the option definitions modified since %s", since)
	}
	return backend.optionDefList4(ctx, records)
}

// Returns the IPv6 option definitions modified strictly after the
// given time.
func (backend *Backend) GetModifiedOptionDefs6(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.OptionDefinition, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	var records []optionDef6Record
	q := backend.db.ModelContext(ctx, &records).Where("modification_ts > ?", since)
	q = readFilter(q, tables6.optionDef, selector)
	if err := q.Order("id ASC").Select(); err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the option definitions modified since %s", since)
	}
	return backend.optionDefList6(ctx, records)
}

// Deletes the IPv4 option definition by code and space.
func (backend *Backend) DeleteOptionDef4(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []optionDef4Record
		q := tx.ModelContext(ctx, &victims).
			Column("id").
			Where("code = ?", int(code)).
			Where("space = ?", space)
		q = deleteFilter(q, tables4.optionDef, selector)
		if err := q.Order("id ASC").Select(); err != nil {
			return pkgerrors.Wrapf(err, "problem getting the option definition %d.%s", code, space)
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(victims))
		for i := range victims {
			ids = append(ids, victims[i].ID)
		}
		count = int64(len(ids))
		return deleteOptionDefRows(ctx, tx, slot, &tables4, ids)
	})
	return count, err
}

// Deletes the IPv6 option definition by code and space.
func (backend *Backend) DeleteOptionDef6(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []optionDef6Record
		q := tx.ModelContext(ctx, &victims).
			Column("id").
			Where("code = ?", int(code)).
			Where("space = ?", space)
		q = deleteFilter(q, tables6.optionDef, selector)
		if err := q.Order("id ASC").Select(); err != nil {
			return pkgerrors.Wrapf(err, "problem getting the option definition %d.%s", code, space)
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(victims))
		for i := range victims {
			ids = append(ids, victims[i].ID)
		}
		count = int64(len(ids))
		return deleteOptionDefRows(ctx, tx, slot, &tables6, ids)
	})
	return count, err
}

// Deletes all IPv4 option definitions matching the selector.
func (backend *Backend) DeleteAllOptionDefs4(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []optionDef4Record
		q := tx.ModelContext(ctx, &victims).Column("id")
		q = deleteFilter(q, tables4.optionDef, selector)
		if err := q.Order("id ASC").Select(); err != nil {
			return pkgerrors.Wrap(err, "problem getting the option definitions")
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(victims))
		for i := range victims {
			ids = append(ids, victims[i].ID)
		}
		count = int64(len(ids))
		return deleteOptionDefRows(ctx, tx, slot, &tables4, ids)
	})
	return count, err
}

// Deletes all IPv6 option definitions matching the selector.
func (backend *Backend) DeleteAllOptionDefs6(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []optionDef6Record
		q := tx.ModelContext(ctx, &victims).Column("id")
		q = deleteFilter(q, tables6.optionDef, selector)
		if err := q.Order("id ASC").Select(); err != nil {
			return pkgerrors.Wrap(err, "problem getting the option definitions")
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(victims))
		for i := range victims {
			ids = append(ids, victims[i].ID)
		}
		count = int64(len(ids))
		return deleteOptionDefRows(ctx, tx, slot, &tables6, ids)
	})
	return count, err
}

// Removes the option definition rows and appends the audit entries.
func deleteOptionDefRows(ctx context.Context, tx *pg.Tx, slot *revisionSlot, t *familyTables, ids []int64) error {
	assigned, err := loadServerTags(ctx, tx, t.optionDef, ids)
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
		pg.Ident(t.optionDef.entity), pg.In(ids))
	if err != nil {
		return pkgerrors.Wrap(err, "problem deleting the option definitions")
	}
	for _, id := range ids {
		if err := insertAudit(ctx, tx, t, rev, cb.ObjectOptionDef, id, cb.ModificationDelete); err != nil {
			return err
		}
	}
	return nil
}
