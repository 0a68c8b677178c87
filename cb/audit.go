package cb

import (
	"sort"
	"time"
)

// Type of a modification recorded in the audit log. The numeric values
// are part of the persistent representation and must not be
// renumbered.
type ModificationType int

// Valid modification types.
const (
	ModificationCreate ModificationType = 0
	ModificationUpdate ModificationType = 1
	ModificationDelete ModificationType = 2
)

// Returns a modification type name used in logs.
func (m ModificationType) String() string {
	switch m {
	case ModificationCreate:
		return "create"
	case ModificationUpdate:
		return "update"
	case ModificationDelete:
		return "delete"
	}
	return "unknown"
}

// Type of an object recorded in the audit log. The audit tables are
// split by family, so the object types carry no family designation.
type ObjectType string

// Valid object types.
const (
	ObjectServer          ObjectType = "server"
	ObjectGlobalParameter ObjectType = "global_parameter"
	ObjectOptionDef       ObjectType = "option_def"
	ObjectOption          ObjectType = "option"
	ObjectSharedNetwork   ObjectType = "shared_network"
	ObjectSubnet          ObjectType = "subnet"
	ObjectPool            ObjectType = "pool"
	ObjectPDPool          ObjectType = "pd_pool"
)

// A single audit log entry describing one object touched by a
// configuration change. All entries recorded within one transaction
// share a revision; a configuration fetcher applies the entries in the
// revision order and uses the (modification time, revision) pair as
// its watermark.
type AuditEntry struct {
	// Database identifier of the entry.
	ID int64
	// Type of the touched object.
	ObjectType ObjectType
	// Identifier of the touched object.
	ObjectID int64
	// How the object was touched.
	ModificationType ModificationType
	// Identifier of the revision grouping the entries of one
	// transaction.
	Revision int64
	// Modification time of the revision.
	ModificationTime time.Time
	// Free form message supplied with the change.
	LogMessage string
}

// Checks if the entry lies strictly after the (time, revision)
// watermark. Entries sharing the watermark time are unambiguously
// ordered by the revision identifier, so a fetcher loses no entries
// even when distinct revisions share a timestamp.
func (entry AuditEntry) After(since time.Time, sinceRevision int64) bool {
	if entry.ModificationTime.After(since) {
		return true
	}
	return entry.ModificationTime.Equal(since) && entry.Revision > sinceRevision
}

// Sorts the entries by the modification time, then the revision, then
// the entry identifier. This is the order the backends return the
// entries in.
func SortAuditEntries(entries []AuditEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ModificationTime.Equal(entries[j].ModificationTime) {
			return entries[i].ModificationTime.Before(entries[j].ModificationTime)
		}
		if entries[i].Revision != entries[j].Revision {
			return entries[i].Revision < entries[j].Revision
		}
		return entries[i].ID < entries[j].ID
	})
}
