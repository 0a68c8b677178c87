// Package memcb implements the in-memory configuration backend. It
// keeps the whole configuration in maps guarded by one lock and mirrors
// the transactional semantics of the relational backend by running a
// transaction against a copy of the state and swapping the copy in on
// success. The backend backs single-node deployments and the test
// suites of the components consuming the configuration backend
// contract.
package memcb

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"isc.org/tern/cb"
	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/dhcpcfg"
	"isc.org/tern/stamped"
	ternutil "isc.org/tern/util"
)

// Name of the backend.
const BackendName = "memory"

// Version of the in-memory representation.
var backendVersion = cb.Version{Major: 1, Minor: 0}

// A stored configuration element with its server assignment. The
// entries are immutable: every mutation replaces the whole entry, so a
// state copy can share the entries with the original.
type entry[T any] struct {
	id       int64
	value    T
	tags     map[string]struct{}
	modified time.Time
}

// The (code, space) pair addressing an option or an option definition.
type optionKey struct {
	code  uint16
	space string
}

// An audit entry remembered together with the tags of the servers it
// concerns, used to filter the audit feed per selector.
type auditRecord struct {
	entry cb.AuditEntry
	tags  map[string]struct{}
}

// A revision grouping the audit entries of one top level call or one
// transaction. All entries of a revision share its modification time.
type revision struct {
	id   int64
	time time.Time
}

// The whole backend state. A transaction works on a copy produced by
// clone; the copy replaces the original on commit.
type state struct {
	servers4    map[string]*entry[cb.Server]
	subnets4    map[dhcpmodel.SubnetID]*entry[dhcpcfg.Subnet4]
	networks4   map[string]*entry[dhcpcfg.SharedNetwork4]
	optionDefs4 map[optionKey]*entry[dhcpcfg.OptionDefinition]
	options4    map[optionKey]*entry[dhcpcfg.OptionDescriptor]
	parameters4 map[string]*entry[stamped.Value]
	audit4      []auditRecord
	revCounter4 int64
	auditSeq4   int64
	openRev4    *revision

	servers6    map[string]*entry[cb.Server]
	subnets6    map[dhcpmodel.SubnetID]*entry[dhcpcfg.Subnet6]
	networks6   map[string]*entry[dhcpcfg.SharedNetwork6]
	optionDefs6 map[optionKey]*entry[dhcpcfg.OptionDefinition]
	options6    map[optionKey]*entry[dhcpcfg.OptionDescriptor]
	parameters6 map[string]*entry[stamped.Value]
	audit6      []auditRecord
	revCounter6 int64
	auditSeq6   int64
	openRev6    *revision

	idCounter int64
}

// Returns a copy of the state sharing the immutable entries with the
// original. The audit slices are copied fully so the appends made by a
// transaction never reach the original backing array.
func (st *state) clone() *state {
	copied := *st
	copied.servers4 = maps.Clone(st.servers4)
	copied.subnets4 = maps.Clone(st.subnets4)
	copied.networks4 = maps.Clone(st.networks4)
	copied.optionDefs4 = maps.Clone(st.optionDefs4)
	copied.options4 = maps.Clone(st.options4)
	copied.parameters4 = maps.Clone(st.parameters4)
	copied.audit4 = slices.Clone(st.audit4)
	copied.servers6 = maps.Clone(st.servers6)
	copied.subnets6 = maps.Clone(st.subnets6)
	copied.networks6 = maps.Clone(st.networks6)
	copied.optionDefs6 = maps.Clone(st.optionDefs6)
	copied.options6 = maps.Clone(st.options6)
	copied.parameters6 = maps.Clone(st.parameters6)
	copied.audit6 = slices.Clone(st.audit6)
	return &copied
}

// The in-memory configuration backend. It implements both the
// cb.Backend4 and cb.Backend6 contracts.
type Backend struct {
	// Nil for the view handed to a transaction callback: the view
	// operates on a state copy under the lock already held by the
	// transaction opener.
	mu    *sync.RWMutex
	st    *state
	clock func() time.Time
}

var (
	_ cb.Backend4 = (*Backend)(nil)
	_ cb.Backend6 = (*Backend)(nil)
)

// Creates an empty backend. The built-in "all" servers are created
// for both families.
func New() *Backend {
	return NewWithClock(ternutil.UTCNow)
}

// Creates an empty backend obtaining timestamps from the given clock.
// Tests inject a deterministic clock here.
func NewWithClock(clock func() time.Time) *Backend {
	backend := &Backend{
		mu:    &sync.RWMutex{},
		clock: clock,
		st: &state{
			servers4:    make(map[string]*entry[cb.Server]),
			subnets4:    make(map[dhcpmodel.SubnetID]*entry[dhcpcfg.Subnet4]),
			networks4:   make(map[string]*entry[dhcpcfg.SharedNetwork4]),
			optionDefs4: make(map[optionKey]*entry[dhcpcfg.OptionDefinition]),
			options4:    make(map[optionKey]*entry[dhcpcfg.OptionDescriptor]),
			parameters4: make(map[string]*entry[stamped.Value]),
			servers6:    make(map[string]*entry[cb.Server]),
			subnets6:    make(map[dhcpmodel.SubnetID]*entry[dhcpcfg.Subnet6]),
			networks6:   make(map[string]*entry[dhcpcfg.SharedNetwork6]),
			optionDefs6: make(map[optionKey]*entry[dhcpcfg.OptionDefinition]),
			options6:    make(map[optionKey]*entry[dhcpcfg.OptionDescriptor]),
			parameters6: make(map[string]*entry[stamped.Value]),
		},
	}
	now := clock()
	for _, family := range []ternutil.IPType{ternutil.IPv4, ternutil.IPv6} {
		servers := backend.st.servers4
		if family == ternutil.IPv6 {
			servers = backend.st.servers6
		}
		backend.st.idCounter++
		servers[cb.ServerTagAll] = &entry[cb.Server]{
			id: backend.st.idCounter,
			value: cb.Server{
				ID:          backend.st.idCounter,
				Tag:         cb.ServerTagAll,
				Description: "the built-in server applying to all servers",
			},
			tags:     map[string]struct{}{cb.ServerTagAll: {}},
			modified: now,
		}
	}
	return backend
}

// Acquires the write lock; a no-op on a transaction view.
func (backend *Backend) lock() func() {
	if backend.mu == nil {
		return func() {}
	}
	backend.mu.Lock()
	return backend.mu.Unlock
}

// Acquires the read lock; a no-op on a transaction view.
func (backend *Backend) rlock() func() {
	if backend.mu == nil {
		return func() {}
	}
	backend.mu.RLock()
	return backend.mu.RUnlock
}

// Returns the open IPv4 revision, opening a fresh one when none is
// open. The returned closer ends a freshly opened revision and keeps
// a joined one open.
func (backend *Backend) revision4() (*revision, func()) {
	if backend.st.openRev4 != nil {
		return backend.st.openRev4, func() {}
	}
	backend.st.revCounter4++
	rev := &revision{id: backend.st.revCounter4, time: backend.clock()}
	backend.st.openRev4 = rev
	return rev, func() { backend.st.openRev4 = nil }
}

// Returns the open IPv6 revision, opening a fresh one when none is
// open.
func (backend *Backend) revision6() (*revision, func()) {
	if backend.st.openRev6 != nil {
		return backend.st.openRev6, func() {}
	}
	backend.st.revCounter6++
	rev := &revision{id: backend.st.revCounter6, time: backend.clock()}
	backend.st.openRev6 = rev
	return rev, func() { backend.st.openRev6 = nil }
}

// Appends an IPv4 audit entry to the log.
func (backend *Backend) audit4(rev *revision, objectType cb.ObjectType, objectID int64, modification cb.ModificationType, tags map[string]struct{}) {
	backend.st.auditSeq4++
	backend.st.audit4 = append(backend.st.audit4, auditRecord{
		entry: cb.AuditEntry{
			ID:               backend.st.auditSeq4,
			ObjectType:       objectType,
			ObjectID:         objectID,
			ModificationType: modification,
			Revision:         rev.id,
			ModificationTime: rev.time,
		},
		tags: tags,
	})
}

// Appends an IPv6 audit entry to the log.
func (backend *Backend) audit6(rev *revision, objectType cb.ObjectType, objectID int64, modification cb.ModificationType, tags map[string]struct{}) {
	backend.st.auditSeq6++
	backend.st.audit6 = append(backend.st.audit6, auditRecord{
		entry: cb.AuditEntry{
			ID:               backend.st.auditSeq6,
			ObjectType:       objectType,
			ObjectID:         objectID,
			ModificationType: modification,
			Revision:         rev.id,
			ModificationTime: rev.time,
		},
		tags: tags,
	})
}

// Assigns the next synthetic object identifier.
func (backend *Backend) nextID() int64 {
	backend.st.idCounter++
	return backend.st.idCounter
}

// Converts the selector write tags to a tag set, verifying that every
// named server exists.
func writeTagSet(servers map[string]*entry[cb.Server], selector cb.ServerSelector) (map[string]struct{}, error) {
	if err := selector.CheckWrite(); err != nil {
		return nil, err
	}
	tags := make(map[string]struct{})
	for _, tag := range selector.WriteTags() {
		if _, ok := servers[tag]; !ok {
			return nil, errors.Wrapf(cb.ErrInvalidParameter, "server %s does not exist", tag)
		}
		tags[tag] = struct{}{}
	}
	return tags, nil
}

// Checks if the entry tags match a read with the selector.
func readMatch(tags map[string]struct{}, selector cb.ServerSelector) bool {
	readTags, filter := selector.ReadTags()
	if !filter {
		return true
	}
	for _, tag := range readTags {
		if _, ok := tags[tag]; ok {
			return true
		}
	}
	return false
}

// Checks if the entry tags match a delete with the selector. Unlike a
// read, a delete with a one-server selector does not touch the
// elements assigned to the built-in "all" server.
func deleteMatch(tags map[string]struct{}, selector cb.ServerSelector) bool {
	switch selector.Kind() {
	case cb.SelectorAny:
		return true
	case cb.SelectorAll:
		_, ok := tags[cb.ServerTagAll]
		return ok
	default:
		for _, tag := range selector.Tags() {
			if _, ok := tags[tag]; ok {
				return true
			}
		}
		return false
	}
}

// Returns the union of two tag sets. An update reassigning an element
// audits the union of the old and new assignment, so a server dropped
// from the assignment still observes the change.
func unionTags(a, b map[string]struct{}) map[string]struct{} {
	union := make(map[string]struct{}, len(a)+len(b))
	for tag := range a {
		union[tag] = struct{}{}
	}
	for tag := range b {
		union[tag] = struct{}{}
	}
	return union
}

// Returns the entry tags as a sorted slice for the ServerTags entity
// field.
func tagSlice(tags map[string]struct{}) []string {
	out := make([]string, 0, len(tags))
	for tag := range tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Collects the entries matching a read with the selector, ordered by
// the entry identifier.
func collectEntries[K comparable, T any](m map[K]*entry[T], selector cb.ServerSelector) []*entry[T] {
	matched := make([]*entry[T], 0, len(m))
	for _, e := range m {
		if readMatch(e.tags, selector) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })
	return matched
}

// Returns the backend name.
func (backend *Backend) Name() string {
	return BackendName
}

// Returns a one-line description of the backend instance.
func (backend *Backend) Description() string {
	return fmt.Sprintf("%s configuration backend", BackendName)
}

// Returns the backend version.
func (backend *Backend) Version(ctx context.Context) (cb.Version, error) {
	return backendVersion, nil
}

// Returns the backend kind.
func (backend *Backend) Kind() cb.Kind {
	return cb.KindInMemory
}

// Releases the backend. The in-memory backend holds no external
// resources.
func (backend *Backend) Close() {}

// Runs the callback within one IPv4 transaction. The callback operates
// on a view over a state copy; the copy replaces the live state only
// when the callback succeeds. All mutations made by the callback share
// one audit revision. A nested call joins the outer transaction.
func (backend *Backend) RunWithTransaction4(ctx context.Context, fn func(backend cb.Backend4) error) error {
	if backend.mu == nil {
		return fn(backend)
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "transaction not started")
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	tx := &Backend{st: backend.st.clone(), clock: backend.clock}
	tx.st.revCounter4++
	tx.st.openRev4 = &revision{id: tx.st.revCounter4, time: backend.clock()}
	if err := fn(tx); err != nil {
		return err
	}
	tx.st.openRev4 = nil
	backend.st = tx.st
	return nil
}

// Runs the callback within one IPv6 transaction.
func (backend *Backend) RunWithTransaction6(ctx context.Context, fn func(backend cb.Backend6) error) error {
	if backend.mu == nil {
		return fn(backend)
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "transaction not started")
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	tx := &Backend{st: backend.st.clone(), clock: backend.clock}
	tx.st.revCounter6++
	tx.st.openRev6 = &revision{id: tx.st.revCounter6, time: backend.clock()}
	if err := fn(tx); err != nil {
		return err
	}
	tx.st.openRev6 = nil
	backend.st = tx.st
	return nil
}
