package pgcb

import (
	"context"
	"errors"
	"time"

	"github.com/go-pg/pg/v10"
	pkgerrors "github.com/pkg/errors"

	"isc.org/tern/cb"
)

// Row of the server4 table.
type server4Record struct {
	tableName struct{} `pg:"server4,alias:server4"` //nolint:unused

	ID             int64 `pg:",pk"`
	Tag            string
	Description    string `pg:",use_zero"`
	ModificationTS time.Time
}

// Row of the server6 table.
type server6Record struct {
	tableName struct{} `pg:"server6,alias:server6"` //nolint:unused

	ID             int64 `pg:",pk"`
	Tag            string
	Description    string `pg:",use_zero"`
	ModificationTS time.Time
}

func (record *server4Record) toServer() *cb.Server {
	return &cb.Server{
		ID:               record.ID,
		Tag:              record.Tag,
		Description:      record.Description,
		ModificationTime: record.ModificationTS.UTC(),
	}
}

func (record *server6Record) toServer() *cb.Server {
	return &cb.Server{
		ID:               record.ID,
		Tag:              record.Tag,
		Description:      record.Description,
		ModificationTime: record.ModificationTS.UTC(),
	}
}

// Creates or replaces a server by tag. The reserved tags, including
// the built-in "all" server, are rejected. Changes to the server table
// concern all servers, so the audit revision records no server.
func (backend *Backend) CreateUpdateServer4(ctx context.Context, server *cb.Server) error {
	if server == nil {
		return pkgerrors.Wrap(cb.ErrInvalidParameter, "no server specified")
	}
	if err := server.Validate(); err != nil {
		return pkgerrors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	return backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var existingID int64
		_, err := tx.QueryOneContext(ctx, pg.Scan(&existingID),
			"SELECT id FROM ? WHERE tag = ?", pg.Ident(tables4.server), server.Tag)
		if err != nil && !errors.Is(err, pg.ErrNoRows) {
			return pkgerrors.Wrapf(err, "problem getting the server %s", server.Tag)
		}
		rev, err := slot.open(ctx, tx, 0)
		if err != nil {
			return err
		}
		record := &server4Record{
			ID:             existingID,
			Tag:            server.Tag,
			Description:    server.Description,
			ModificationTS: rev.time,
		}
		modification := cb.ModificationCreate
		if existingID != 0 {
			modification = cb.ModificationUpdate
			_, err = tx.ModelContext(ctx, record).WherePK().Update()
		} else {
			_, err = tx.ModelContext(ctx, record).Insert()
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "problem storing the server %s", server.Tag)
		}
		return insertAudit(ctx, tx, &tables4, rev, cb.ObjectServer, record.ID, modification)
	})
}

// Creates or replaces an IPv6 server by tag.
func (backend *Backend) CreateUpdateServer6(ctx context.Context, server *cb.Server) error {
	if server == nil {
		return pkgerrors.Wrap(cb.ErrInvalidParameter, "no server specified")
	}
	if err := server.Validate(); err != nil {
		return pkgerrors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	return backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var existingID int64
		_, err := tx.QueryOneContext(ctx, pg.Scan(&existingID),
			"SELECT id FROM ? WHERE tag = ?", pg.Ident(tables6.server), server.Tag)
		if err != nil && !errors.Is(err, pg.ErrNoRows) {
			return pkgerrors.Wrapf(err, "problem getting the server %s", server.Tag)
		}
		rev, err := slot.open(ctx, tx, 0)
		if err != nil {
			return err
		}
		record := &server6Record{
			ID:             existingID,
			Tag:            server.Tag,
			Description:    server.Description,
			ModificationTS: rev.time,
		}
		modification := cb.ModificationCreate
		if existingID != 0 {
			modification = cb.ModificationUpdate
			_, err = tx.ModelContext(ctx, record).WherePK().Update()
		} else {
			_, err = tx.ModelContext(ctx, record).Insert()
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "problem storing the server %s", server.Tag)
		}
		return insertAudit(ctx, tx, &tables6, rev, cb.ObjectServer, record.ID, modification)
	})
}

// Returns a server by tag.
func (backend *Backend) GetServer4(ctx context.Context, tag string) (*cb.Server, error) {
	record := &server4Record{}
	err := backend.db.ModelContext(ctx, record).
		Where("tag = ?", tag).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the server %s", tag)
	}
	return record.toServer(), nil
}

func (backend *Backend) GetServer6(ctx context.Context, tag string) (*cb.Server, error) {
	record := &server6Record{}
	err := backend.db.ModelContext(ctx, record).
		Where("tag = ?", tag).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem getting the server %s", tag)
	}
	return record.toServer(), nil
}

// Returns all servers, ordered by the creation sequence. The built-in
// "all" server comes first.
func (backend *Backend) GetAllServers4(ctx context.Context) ([]cb.Server, error) {
	var records []server4Record
	err := backend.db.ModelContext(ctx, &records).
		Order("id ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the servers")
	}
	servers := []cb.Server{}
	for i := range records {
		servers = append(servers, *records[i].toServer())
	}
	return servers, nil
}

func (backend *Backend) GetAllServers6(ctx context.Context) ([]cb.Server, error) {
	var records []server6Record
	err := backend.db.ModelContext(ctx, &records).
		Order("id ASC").
		Select()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the servers")
	}
	servers := []cb.Server{}
	for i := range records {
		servers = append(servers, *records[i].toServer())
	}
	return servers, nil
}

// Deletes a server by tag. The elements assigned to the deleted server
// lose the assignment but are retained, possibly becoming unassigned.
// The built-in "all" server cannot be deleted.
func (backend *Backend) DeleteServer4(ctx context.Context, tag string) (int64, error) {
	if tag == cb.ServerTagAll {
		return 0, pkgerrors.Wrapf(cb.ErrInvalidParameter, "the built-in server %s cannot be deleted", tag)
	}
	var count int64
	err := backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var id int64
		_, err := tx.QueryOneContext(ctx, pg.Scan(&id),
			"SELECT id FROM ? WHERE tag = ?", pg.Ident(tables4.server), tag)
		if errors.Is(err, pg.ErrNoRows) {
			return nil
		} else if err != nil {
			return pkgerrors.Wrapf(err, "problem getting the server %s", tag)
		}
		rev, err := slot.open(ctx, tx, 0)
		if err != nil {
			return err
		}
		_, err = tx.ModelContext(ctx, (*server4Record)(nil)).
			Where("id = ?", id).
			Delete()
		if err != nil {
			return pkgerrors.Wrapf(err, "problem deleting the server %s", tag)
		}
		count = 1
		return insertAudit(ctx, tx, &tables4, rev, cb.ObjectServer, id, cb.ModificationDelete)
	})
	return count, err
}

func (backend *Backend) DeleteServer6(ctx context.Context, tag string) (int64, error) {
	if tag == cb.ServerTagAll {
		return 0, pkgerrors.Wrapf(cb.ErrInvalidParameter, "the built-in server %s cannot be deleted", tag)
	}
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var id int64
		_, err := tx.QueryOneContext(ctx, pg.Scan(&id),
			"SELECT id FROM ? WHERE tag = ?", pg.Ident(tables6.server), tag)
		if errors.Is(err, pg.ErrNoRows) {
			return nil
		} else if err != nil {
			return pkgerrors.Wrapf(err, "problem getting the server %s", tag)
		}
		rev, err := slot.open(ctx, tx, 0)
		if err != nil {
			return err
		}
		_, err = tx.ModelContext(ctx, (*server6Record)(nil)).
			Where("id = ?", id).
			Delete()
		if err != nil {
			return pkgerrors.Wrapf(err, "problem deleting the server %s", tag)
		}
		count = 1
		return insertAudit(ctx, tx, &tables6, rev, cb.ObjectServer, id, cb.ModificationDelete)
	})
	return count, err
}

// Deletes all servers except the built-in "all" server.
func (backend *Backend) DeleteAllServers4(ctx context.Context) (int64, error) {
	var count int64
	err := backend.write4(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []server4Record
		err := tx.ModelContext(ctx, &victims).
			Column("id").
			Where("tag != ?", cb.ServerTagAll).
			Order("id ASC").
			Select()
		if err != nil {
			return pkgerrors.Wrap(err, "problem getting the servers")
		}
		if len(victims) == 0 {
			return nil
		}
		rev, err := slot.open(ctx, tx, 0)
		if err != nil {
			return err
		}
		_, err = tx.ModelContext(ctx, (*server4Record)(nil)).
			Where("tag != ?", cb.ServerTagAll).
			Delete()
		if err != nil {
			return pkgerrors.Wrap(err, "problem deleting the servers")
		}
		for i := range victims {
			if err := insertAudit(ctx, tx, &tables4, rev, cb.ObjectServer, victims[i].ID, cb.ModificationDelete); err != nil {
				return err
			}
		}
		count = int64(len(victims))
		return nil
	})
	return count, err
}

func (backend *Backend) DeleteAllServers6(ctx context.Context) (int64, error) {
	var count int64
	err := backend.write6(ctx, func(tx *pg.Tx, slot *revisionSlot) error {
		var victims []server6Record
		err := tx.ModelContext(ctx, &victims).
			Column("id").
			Where("tag != ?", cb.ServerTagAll).
			Order("id ASC").
			Select()
		if err != nil {
			return pkgerrors.Wrap(err, "problem getting the servers")
		}
		if len(victims) == 0 {
			return nil
		}
		rev, err := slot.open(ctx, tx, 0)
		if err != nil {
			return err
		}
		_, err = tx.ModelContext(ctx, (*server6Record)(nil)).
			Where("tag != ?", cb.ServerTagAll).
			Delete()
		if err != nil {
			return pkgerrors.Wrap(err, "problem deleting the servers")
		}
		for i := range victims {
			if err := insertAudit(ctx, tx, &tables6, rev, cb.ObjectServer, victims[i].ID, cb.ModificationDelete); err != nil {
				return err
			}
		}
		count = int64(len(victims))
		return nil
	})
	return count, err
}
