// Package pgcb implements the configuration backend persisting the
// configuration in a PostgreSQL database shared by cooperating servers.
// The two protocol families live in separate tables suffixed with the
// family number; the server assignment of every configuration element
// is kept in a junction table next to the element table. Each mutating
// call or transaction creates one audit revision row and one audit row
// per touched object, which the servers poll to learn about changes
// made by their peers.
package pgcb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"isc.org/tern/cb"
	dbops "isc.org/tern/database"
	ternutil "isc.org/tern/util"
)

// Names of the tables persisting one configuration element kind and
// its server assignment.
type entityTables struct {
	entity      string
	junction    string
	ownerColumn string
	server      string
}

// Table names of one protocol family. Both families keep the same
// layout in tables suffixed with the family number.
type familyTables struct {
	family        ternutil.IPType
	server        string
	subnet        entityTables
	sharedNetwork entityTables
	optionDef     entityTables
	option        entityTables
	parameter     entityTables
	addressPool   string
	prefixPool    string
	revision      string
	audit         string
}

var tables4 = familyTables{
	family:        ternutil.IPv4,
	server:        "server4",
	subnet:        entityTables{"subnet4", "subnet4_server", "subnet_id", "server4"},
	sharedNetwork: entityTables{"shared_network4", "shared_network4_server", "shared_network_id", "server4"},
	optionDef:     entityTables{"option_def4", "option_def4_server", "option_def_id", "server4"},
	option:        entityTables{"dhcp_option4", "dhcp_option4_server", "option_id", "server4"},
	parameter:     entityTables{"global_parameter4", "global_parameter4_server", "parameter_id", "server4"},
	addressPool:   "address_pool4",
	revision:      "audit_revision4",
	audit:         "audit4",
}

var tables6 = familyTables{
	family:        ternutil.IPv6,
	server:        "server6",
	subnet:        entityTables{"subnet6", "subnet6_server", "subnet_id", "server6"},
	sharedNetwork: entityTables{"shared_network6", "shared_network6_server", "shared_network_id", "server6"},
	optionDef:     entityTables{"option_def6", "option_def6_server", "option_def_id", "server6"},
	option:        entityTables{"dhcp_option6", "dhcp_option6_server", "option_id", "server6"},
	parameter:     entityTables{"global_parameter6", "global_parameter6_server", "parameter_id", "server6"},
	addressPool:   "address_pool6",
	prefixPool:    "prefix_pool6",
	revision:      "audit_revision6",
	audit:         "audit6",
}

// An audit revision grouping the audit entries of one transaction. All
// entries of a revision share its modification time.
type revision struct {
	id   int64
	time time.Time
}

// A lazily opened audit revision shared by the mutations of one
// transaction. The row is inserted on the first mutation, so a
// read-only transaction leaves no trace in the audit log.
type revisionSlot struct {
	table   string
	rev     *revision
	concern int64
}

// Returns the open revision, inserting the revision row on the first
// call. The server identifier marks the single server the change
// concerns; zero stores NULL, meaning the change concerns every
// server. When the mutations of one transaction concern different
// servers the revision widens to NULL, so no reader misses it.
func (slot *revisionSlot) open(ctx context.Context, tx *pg.Tx, serverID int64) (*revision, error) {
	if slot.rev != nil {
		if slot.concern != 0 && slot.concern != serverID {
			_, err := tx.ExecContext(ctx, "UPDATE ? SET server_id = NULL WHERE id = ?",
				pg.Ident(slot.table), slot.rev.id)
			if err != nil {
				return nil, pkgerrors.Wrap(err, "problem widening an audit revision")
			}
			slot.concern = 0
		}
		return slot.rev, nil
	}
	now := ternutil.UTCNow()
	var server any
	if serverID != 0 {
		server = serverID
	}
	var id int64
	_, err := tx.QueryOneContext(ctx, pg.Scan(&id),
		"INSERT INTO ? (modification_ts, server_id) VALUES (?, ?) RETURNING id",
		pg.Ident(slot.table), now, server)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "problem opening an audit revision")
	}
	slot.rev = &revision{id: id, time: now}
	slot.concern = serverID
	return slot.rev, nil
}

// The PostgreSQL configuration backend. It implements both the
// cb.Backend4 and cb.Backend6 contracts.
type Backend struct {
	db          dbops.DBI
	version     cb.Version
	description string
	// Set on the view handed to a transaction callback: the view runs
	// all its operations in this transaction and shares the revision
	// slots across the calls.
	tx   *pg.Tx
	rev4 *revisionSlot
	rev6 *revisionSlot
}

var (
	_ cb.Backend4 = (*Backend)(nil)
	_ cb.Backend6 = (*Backend)(nil)
)

// Opens the configuration backend over the given database connection.
// The schema version found in the database must match the version
// expected by the code, otherwise the open fails with
// cb.ErrIncompatibleSchema. The connection is owned by the caller and
// is not closed by the backend.
func NewBackend(db *dbops.PgDB) (*Backend, error) {
	current, err := dbops.CurrentVersion(db)
	if err != nil {
		return nil, pkgerrors.WithMessage(err, "problem checking the configuration schema version")
	}
	available := dbops.AvailableVersion()
	if current != available {
		return nil, pkgerrors.Wrapf(cb.ErrIncompatibleSchema,
			"database holds the schema version %d but the server expects %d; run tern-db-migrate",
			current, available)
	}

	options := db.Options()
	backend := &Backend{
		db:          db,
		version:     cb.Version{Major: uint32(current)},
		description: fmt.Sprintf("PostgreSQL configuration backend in the %s database at %s", options.Database, options.Addr),
	}
	log.WithFields(log.Fields{
		"database": options.Database,
		"address":  options.Addr,
	}).Info("Opened the PostgreSQL configuration backend")
	return backend, nil
}

// Returns the backend name.
func (backend *Backend) Name() string {
	return "postgresql"
}

// Returns a one-line description of the backend instance.
func (backend *Backend) Description() string {
	return backend.description
}

// Returns the schema version the backend was opened over.
func (backend *Backend) Version(ctx context.Context) (cb.Version, error) {
	return backend.version, nil
}

// Returns the backend kind.
func (backend *Backend) Kind() cb.Kind {
	return cb.KindRelational
}

// Releases the backend resources. The database connection is owned by
// the caller and stays open.
func (backend *Backend) Close() {}

// Runs the callback with a backend executing all its operations within
// one database transaction. The mutations made through the supplied
// backend share one audit revision per family and are rolled back when
// the callback fails. A nested call joins the ongoing transaction.
func (backend *Backend) RunWithTransaction4(ctx context.Context, fn func(b cb.Backend4) error) error {
	if backend.tx != nil {
		return fn(backend)
	}
	return backend.db.RunInTransaction(ctx, func(tx *pg.Tx) error {
		return fn(backend.transactionView(tx))
	})
}

// Runs the callback within one IPv6 transaction.
func (backend *Backend) RunWithTransaction6(ctx context.Context, fn func(b cb.Backend6) error) error {
	if backend.tx != nil {
		return fn(backend)
	}
	return backend.db.RunInTransaction(ctx, func(tx *pg.Tx) error {
		return fn(backend.transactionView(tx))
	})
}

// Returns the backend view bound to the transaction.
func (backend *Backend) transactionView(tx *pg.Tx) *Backend {
	return &Backend{
		db:          tx,
		version:     backend.version,
		description: backend.description,
		tx:          tx,
		rev4:        &revisionSlot{table: tables4.revision},
		rev6:        &revisionSlot{table: tables6.revision},
	}
}

// Runs fn within a transaction carrying the IPv4 revision slot. A
// backend view inside RunWithTransaction4 joins the open transaction;
// the root backend opens a transaction spanning just this call.
func (backend *Backend) write4(ctx context.Context, fn func(tx *pg.Tx, slot *revisionSlot) error) error {
	if backend.tx != nil {
		return fn(backend.tx, backend.rev4)
	}
	return backend.db.RunInTransaction(ctx, func(tx *pg.Tx) error {
		return fn(tx, &revisionSlot{table: tables4.revision})
	})
}

// Runs fn within a transaction carrying the IPv6 revision slot.
func (backend *Backend) write6(ctx context.Context, fn func(tx *pg.Tx, slot *revisionSlot) error) error {
	if backend.tx != nil {
		return fn(backend.tx, backend.rev6)
	}
	return backend.db.RunInTransaction(ctx, func(tx *pg.Tx) error {
		return fn(tx, &revisionSlot{table: tables6.revision})
	})
}

// A server row resolved for a selector.
type serverRef struct {
	ID  int64
	Tag string
}

// Resolves the selector write tags against the server table, failing
// when a named server does not exist. The servers come back in the
// selector tag order.
func resolveWriteServers(ctx context.Context, tx *pg.Tx, t *familyTables, selector cb.ServerSelector) ([]serverRef, error) {
	if err := selector.CheckWrite(); err != nil {
		return nil, err
	}
	tags := selector.WriteTags()
	refs := make([]serverRef, 0, len(tags))
	for _, tag := range tags {
		ref := serverRef{Tag: tag}
		_, err := tx.QueryOneContext(ctx, pg.Scan(&ref.ID),
			"SELECT id FROM ? WHERE tag = ?", pg.Ident(t.server), tag)
		if errors.Is(err, pg.ErrNoRows) {
			return nil, pkgerrors.Wrapf(cb.ErrInvalidParameter, "server %s does not exist", tag)
		} else if err != nil {
			return nil, pkgerrors.Wrapf(err, "problem resolving the server %s", tag)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Returns the server identifier recorded in an audit revision for a
// change concerning the given tags. A change concerning exactly one
// server records its identifier; any other change records NULL, which
// every reader observes, so no server misses a change affecting it.
func concernID(ctx context.Context, tx *pg.Tx, t *familyTables, tags []string) (int64, error) {
	var single string
	for _, tag := range tags {
		if single != "" && tag != single {
			return 0, nil
		}
		single = tag
	}
	if single == "" {
		return 0, nil
	}
	var id int64
	_, err := tx.QueryOneContext(ctx, pg.Scan(&id),
		"SELECT id FROM ? WHERE tag = ?", pg.Ident(t.server), single)
	if errors.Is(err, pg.ErrNoRows) {
		return 0, nil
	} else if err != nil {
		return 0, pkgerrors.Wrapf(err, "problem resolving the server %s", single)
	}
	return id, nil
}

// Flattens an assignment map into the tag list.
func assignedTags(assigned map[int64][]string) []string {
	var tags []string
	for _, owner := range assigned {
		tags = append(tags, owner...)
	}
	return tags
}

// Collects the tags a write concerns: the tags named by the selector
// united with the previous assignment of the updated elements, so the
// servers losing an element also observe the change.
func writeConcern(servers []serverRef, previous map[int64][]string) []string {
	tags := make([]string, 0, len(servers))
	for _, server := range servers {
		tags = append(tags, server.Tag)
	}
	return append(tags, assignedTags(previous)...)
}

// Narrows an entity query to the elements matching a read with the
// selector. A read with a concrete server selector also matches the
// elements assigned to the built-in "all" server.
func readFilter(q *orm.Query, t entityTables, selector cb.ServerSelector) *orm.Query {
	tags, filter := selector.ReadTags()
	if !filter {
		return q
	}
	return assignmentFilter(q, t, tags)
}

// Narrows an entity query to the elements matching a delete with the
// selector. Unlike a read, a delete with a concrete server selector
// does not touch the elements assigned to the built-in "all" server.
func deleteFilter(q *orm.Query, t entityTables, selector cb.ServerSelector) *orm.Query {
	switch selector.Kind() {
	case cb.SelectorAny:
		return q
	case cb.SelectorAll:
		return assignmentFilter(q, t, []string{cb.ServerTagAll})
	default:
		return assignmentFilter(q, t, selector.Tags())
	}
}

// Restricts the query to the elements assigned to any of the tagged
// servers.
func assignmentFilter(q *orm.Query, t entityTables, tags []string) *orm.Query {
	if len(tags) == 0 {
		return q.Where("false")
	}
	return q.Where("?.id IN (SELECT j.? FROM ? AS j JOIN ? AS srv ON srv.id = j.server_id WHERE srv.tag IN (?))",
		pg.Ident(t.entity), pg.Ident(t.ownerColumn), pg.Ident(t.junction), pg.Ident(t.server), pg.In(tags))
}

// Rewrites the server assignment rows of a configuration element.
func bindServers(ctx context.Context, tx *pg.Tx, t entityTables, ownerID int64, servers []serverRef, at time.Time) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM ? WHERE ? = ?",
		pg.Ident(t.junction), pg.Ident(t.ownerColumn), ownerID)
	if err != nil {
		return pkgerrors.Wrapf(err, "problem clearing the server assignment in %s", t.junction)
	}
	for _, server := range servers {
		_, err := tx.ExecContext(ctx, "INSERT INTO ? (?, server_id, modification_ts) VALUES (?, ?, ?)",
			pg.Ident(t.junction), pg.Ident(t.ownerColumn), ownerID, server.ID, at)
		if err != nil {
			return pkgerrors.Wrapf(err, "problem assigning the server %s in %s", server.Tag, t.junction)
		}
	}
	return nil
}

// A junction row joined with the server tag, used to fill the
// ServerTags of the loaded entities.
type assignmentRow struct {
	OwnerID int64
	Tag     string
}

// Loads the server tags of the given configuration elements, keyed by
// the element identifier. The tags come back sorted.
func loadServerTags(ctx context.Context, db dbops.DBI, t entityTables, ownerIDs []int64) (map[int64][]string, error) {
	byOwner := make(map[int64][]string, len(ownerIDs))
	if len(ownerIDs) == 0 {
		return byOwner, nil
	}
	var rows []assignmentRow
	_, err := db.QueryContext(ctx, &rows,
		"SELECT j.? AS owner_id, srv.tag FROM ? AS j JOIN ? AS srv ON srv.id = j.server_id WHERE j.? IN (?) ORDER BY srv.tag",
		pg.Ident(t.ownerColumn), pg.Ident(t.junction), pg.Ident(t.server), pg.Ident(t.ownerColumn), pg.In(ownerIDs))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "problem loading the server assignment from %s", t.junction)
	}
	for _, row := range rows {
		byOwner[row.OwnerID] = append(byOwner[row.OwnerID], row.Tag)
	}
	return byOwner, nil
}

// Appends one audit row describing a touched object.
func insertAudit(ctx context.Context, tx *pg.Tx, t *familyTables, rev *revision, objectType cb.ObjectType, objectID int64, modification cb.ModificationType) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO ? (object_type, object_id, modification_type, revision_id) VALUES (?, ?, ?, ?)",
		pg.Ident(t.audit), string(objectType), objectID, int(modification), rev.id)
	if err != nil {
		return pkgerrors.Wrap(err, "problem appending an audit entry")
	}
	return nil
}

// Aligns the modification timestamp of an owner row after a nested
// element changed, so the modified-since reads observe the change.
func touchOwner(ctx context.Context, tx *pg.Tx, table, column string, key any, at time.Time) error {
	_, err := tx.ExecContext(ctx, "UPDATE ? SET modification_ts = ? WHERE ? = ?",
		pg.Ident(table), at, pg.Ident(column), key)
	if err != nil {
		return pkgerrors.Wrapf(err, "problem updating the modification time in %s", table)
	}
	return nil
}
