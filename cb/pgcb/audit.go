package pgcb

import (
	"context"
	"time"

	"github.com/go-pg/pg/v10"
	pkgerrors "github.com/pkg/errors"

	"isc.org/tern/cb"
	dbops "isc.org/tern/database"
)

// An audit row joined with its revision.
type auditRow struct {
	ID               int64
	ObjectType       string
	ObjectID         int64
	ModificationType int
	RevisionID       int64
	ModificationTS   time.Time
	LogMessage       string
}

// Loads the audit entries recorded strictly after the watermark. The
// entries of the revisions concerning a single server are delivered to
// the readers selecting that server; the revisions concerning several
// servers carry no server and every reader observes them.
func recentAuditEntries(ctx context.Context, db dbops.DBI, t *familyTables, selector cb.ServerSelector, since time.Time, sinceRevision int64) ([]cb.AuditEntry, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	query := "SELECT a.id, a.object_type, a.object_id, a.modification_type, a.revision_id, " +
		"r.modification_ts, COALESCE(r.log_message, '') AS log_message " +
		"FROM ? AS a JOIN ? AS r ON r.id = a.revision_id " +
		"WHERE (r.modification_ts > ?) OR (r.modification_ts = ? AND a.revision_id > ?)"
	args := []any{pg.Ident(t.audit), pg.Ident(t.revision), since, since, sinceRevision}
	if tags, filter := selector.ReadTags(); filter {
		query += " AND (r.server_id IS NULL OR r.server_id IN (SELECT id FROM ? WHERE tag IN (?)))"
		args = append(args, pg.Ident(t.server), pg.In(tags))
	}
	query += " ORDER BY r.modification_ts, a.revision_id, a.id"
	var rows []auditRow
	if _, err := db.QueryContext(ctx, &rows, query, args...); err != nil {
		return nil, pkgerrors.Wrap(err, "problem getting the audit entries")
	}
	entries := make([]cb.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, cb.AuditEntry{
			ID:               row.ID,
			ObjectType:       cb.ObjectType(row.ObjectType),
			ObjectID:         row.ObjectID,
			ModificationType: cb.ModificationType(row.ModificationType),
			Revision:         row.RevisionID,
			ModificationTime: row.ModificationTS.UTC(),
			LogMessage:       row.LogMessage,
		})
	}
	return entries, nil
}

// Returns the IPv4 audit entries recorded strictly after the
// (since, sinceRevision) watermark and concerning the selected
// servers, ordered by the modification time, revision and entry
// identifier.
func (backend *Backend) GetRecentAuditEntries4(ctx context.Context, selector cb.ServerSelector, since time.Time, sinceRevision int64) ([]cb.AuditEntry, error) {
	return recentAuditEntries(ctx, backend.db, &tables4, selector, since, sinceRevision)
}

// Returns the IPv6 audit entries recorded strictly after the
// (since, sinceRevision) watermark and concerning the selected
// servers.
func (backend *Backend) GetRecentAuditEntries6(ctx context.Context, selector cb.ServerSelector, since time.Time, sinceRevision int64) ([]cb.AuditEntry, error) {
	return recentAuditEntries(ctx, backend.db, &tables6, selector, since, sinceRevision)
}
