package memcb

import (
	"context"
	"time"

	"isc.org/tern/cb"
)

// Returns the IPv4 audit entries recorded strictly after the
// (since, sinceRevision) watermark and concerning the selected
// servers, ordered by the modification time, revision and entry
// identifier.
func (backend *Backend) GetRecentAuditEntries4(ctx context.Context, selector cb.ServerSelector, since time.Time, sinceRevision int64) ([]cb.AuditEntry, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	entries := []cb.AuditEntry{}
	for _, record := range backend.st.audit4 {
		if !record.entry.After(since, sinceRevision) {
			continue
		}
		if !readMatch(record.tags, selector) {
			continue
		}
		entries = append(entries, record.entry)
	}
	cb.SortAuditEntries(entries)
	return entries, nil
}

// Returns the IPv6 audit entries recorded strictly after the
// (since, sinceRevision) watermark and concerning the selected
// servers.
func (backend *Backend) GetRecentAuditEntries6(ctx context.Context, selector cb.ServerSelector, since time.Time, sinceRevision int64) ([]cb.AuditEntry, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	entries := []cb.AuditEntry{}
	for _, record := range backend.st.audit6 {
		if !record.entry.After(since, sinceRevision) {
			continue
		}
		if !readMatch(record.tags, selector) {
			continue
		}
		entries = append(entries, record.entry)
	}
	cb.SortAuditEntries(entries)
	return entries, nil
}
