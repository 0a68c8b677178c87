// Package dhcpsrv maintains the server's view of the configuration:
// immutable snapshots built from the configuration backends, the
// holder the request path reads them through, and the periodic fetcher
// applying the changes made by the peer servers.
package dhcpsrv

import (
	"fmt"
	"sync/atomic"
	"time"

	"isc.org/tern/cb"
	"isc.org/tern/dhcpcfg"
	"isc.org/tern/stamped"
)

// A position in the audit feed of a configuration backend. The zero
// watermark lies before the first entry of any feed.
type Watermark struct {
	Time     time.Time
	Revision int64
}

// Checks if the watermark lies strictly after the other one. Equal
// times are ordered by the revision identifier.
func (mark Watermark) After(other Watermark) bool {
	if mark.Time.After(other.Time) {
		return true
	}
	return mark.Time.Equal(other.Time) && mark.Revision > other.Revision
}

// Returns the watermark advanced to the position of the latest of the
// given audit entries. The watermark never moves backwards.
func (mark Watermark) Advance(entries []cb.AuditEntry) Watermark {
	for _, entry := range entries {
		candidate := Watermark{Time: entry.ModificationTime, Revision: entry.Revision}
		if candidate.After(mark) {
			mark = candidate
		}
	}
	return mark
}

// Returns the watermark in the time/revision notation used in logs.
func (mark Watermark) String() string {
	return fmt.Sprintf("%s/%d", mark.Time.Format(time.RFC3339Nano), mark.Revision)
}

// An immutable view of the configuration the request path allocates
// against. A snapshot is never modified after it is committed to a
// holder; a reconfiguration builds a new snapshot and swaps the
// pointer. The unchanged family keeps the configuration instances of
// the previous snapshot.
type Snapshot struct {
	// The IPv4 configuration, never nil.
	Config4 *dhcpcfg.Config4
	// The IPv6 configuration, never nil.
	Config6 *dhcpcfg.Config6
	// All IPv4 global parameters, including the ones not recognized
	// by Config4.
	Globals4 stamped.List
	// All IPv6 global parameters.
	Globals6 stamped.List
	// The latest audit feed position folded into the snapshot.
	Revision Watermark
}

// Hands immutable configuration snapshots to the request path. Readers
// acquire the current snapshot once per request and use it for the
// whole request, so a concurrent commit never changes the
// configuration under a request half way through.
type SnapshotHolder struct {
	current atomic.Pointer[Snapshot]
}

// Creates a holder seeded with an empty snapshot, so Acquire never
// returns nil.
func NewSnapshotHolder() *SnapshotHolder {
	holder := &SnapshotHolder{}
	holder.current.Store(&Snapshot{
		Config4: &dhcpcfg.Config4{},
		Config6: &dhcpcfg.Config6{},
	})
	return holder
}

// Returns the current snapshot.
func (holder *SnapshotHolder) Acquire() *Snapshot {
	return holder.current.Load()
}

// Publishes a new snapshot. The snapshot must not be modified after
// the commit.
func (holder *SnapshotHolder) Commit(snapshot *Snapshot) {
	holder.current.Store(snapshot)
}
