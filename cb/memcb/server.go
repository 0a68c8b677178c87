package memcb

import (
	"context"
	"maps"
	"slices"

	"github.com/pkg/errors"

	"isc.org/tern/cb"
)

// The tag set attached to server audit entries. Changes to the server
// table concern all servers.
func serverAuditTags() map[string]struct{} {
	return map[string]struct{}{cb.ServerTagAll: {}}
}

func serverValue(e *entry[cb.Server]) *cb.Server {
	value := e.value
	value.ID = e.id
	value.ModificationTime = e.modified
	return &value
}

// Creates or replaces a server by tag. The reserved tags, including
// the built-in "all" server, are rejected.
func (backend *Backend) CreateUpdateServer4(ctx context.Context, server *cb.Server) error {
	if server == nil {
		return errors.Wrap(cb.ErrInvalidParameter, "no server specified")
	}
	if err := server.Validate(); err != nil {
		return errors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	defer backend.lock()()
	rev, done := backend.revision4()
	defer done()
	value := *server
	value.ModificationTime = rev.time
	existing, ok := backend.st.servers4[server.Tag]
	modification := cb.ModificationCreate
	id := backend.nextID()
	if ok {
		modification = cb.ModificationUpdate
		id = existing.id
	}
	value.ID = id
	backend.st.servers4[server.Tag] = &entry[cb.Server]{
		id:       id,
		value:    value,
		modified: rev.time,
	}
	backend.audit4(rev, cb.ObjectServer, id, modification, serverAuditTags())
	return nil
}

func (backend *Backend) CreateUpdateServer6(ctx context.Context, server *cb.Server) error {
	if server == nil {
		return errors.Wrap(cb.ErrInvalidParameter, "no server specified")
	}
	if err := server.Validate(); err != nil {
		return errors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	defer backend.lock()()
	rev, done := backend.revision6()
	defer done()
	value := *server
	value.ModificationTime = rev.time
	existing, ok := backend.st.servers6[server.Tag]
	modification := cb.ModificationCreate
	id := backend.nextID()
	if ok {
		modification = cb.ModificationUpdate
		id = existing.id
	}
	value.ID = id
	backend.st.servers6[server.Tag] = &entry[cb.Server]{
		id:       id,
		value:    value,
		modified: rev.time,
	}
	backend.audit6(rev, cb.ObjectServer, id, modification, serverAuditTags())
	return nil
}

// Returns a server by tag.
func (backend *Backend) GetServer4(ctx context.Context, tag string) (*cb.Server, error) {
	defer backend.rlock()()
	e, ok := backend.st.servers4[tag]
	if !ok {
		return nil, nil
	}
	return serverValue(e), nil
}

func (backend *Backend) GetServer6(ctx context.Context, tag string) (*cb.Server, error) {
	defer backend.rlock()()
	e, ok := backend.st.servers6[tag]
	if !ok {
		return nil, nil
	}
	return serverValue(e), nil
}

// Returns all servers, ordered by the creation sequence. The built-in
// "all" server comes first.
func (backend *Backend) GetAllServers4(ctx context.Context) ([]cb.Server, error) {
	defer backend.rlock()()
	return collectServers(backend.st.servers4), nil
}

func (backend *Backend) GetAllServers6(ctx context.Context) ([]cb.Server, error) {
	defer backend.rlock()()
	return collectServers(backend.st.servers6), nil
}

func collectServers(servers map[string]*entry[cb.Server]) []cb.Server {
	entries := []*entry[cb.Server]{}
	for _, e := range servers {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *entry[cb.Server]) int {
		return int(a.id - b.id)
	})
	collected := []cb.Server{}
	for _, e := range entries {
		collected = append(collected, *serverValue(e))
	}
	return collected
}

// Deletes a server by tag. The configurations assigned to the deleted
// server lose the assignment but are retained, possibly becoming
// unassigned. The built-in "all" server cannot be deleted.
func (backend *Backend) DeleteServer4(ctx context.Context, tag string) (int64, error) {
	if tag == cb.ServerTagAll {
		return 0, errors.Wrapf(cb.ErrInvalidParameter, "the built-in server %s cannot be deleted", tag)
	}
	defer backend.lock()()
	e, ok := backend.st.servers4[tag]
	if !ok {
		return 0, nil
	}
	rev, done := backend.revision4()
	defer done()
	delete(backend.st.servers4, tag)
	backend.detachTag4(tag)
	backend.audit4(rev, cb.ObjectServer, e.id, cb.ModificationDelete, serverAuditTags())
	return 1, nil
}

func (backend *Backend) DeleteServer6(ctx context.Context, tag string) (int64, error) {
	if tag == cb.ServerTagAll {
		return 0, errors.Wrapf(cb.ErrInvalidParameter, "the built-in server %s cannot be deleted", tag)
	}
	defer backend.lock()()
	e, ok := backend.st.servers6[tag]
	if !ok {
		return 0, nil
	}
	rev, done := backend.revision6()
	defer done()
	delete(backend.st.servers6, tag)
	backend.detachTag6(tag)
	backend.audit6(rev, cb.ObjectServer, e.id, cb.ModificationDelete, serverAuditTags())
	return 1, nil
}

// Deletes all servers except the built-in "all" server.
func (backend *Backend) DeleteAllServers4(ctx context.Context) (int64, error) {
	defer backend.lock()()
	var rev *revision
	done := func() {}
	defer func() { done() }()
	var count int64
	for tag, e := range backend.st.servers4 {
		if tag == cb.ServerTagAll {
			continue
		}
		if rev == nil {
			rev, done = backend.revision4()
		}
		delete(backend.st.servers4, tag)
		backend.detachTag4(tag)
		backend.audit4(rev, cb.ObjectServer, e.id, cb.ModificationDelete, serverAuditTags())
		count++
	}
	return count, nil
}

func (backend *Backend) DeleteAllServers6(ctx context.Context) (int64, error) {
	defer backend.lock()()
	var rev *revision
	done := func() {}
	defer func() { done() }()
	var count int64
	for tag, e := range backend.st.servers6 {
		if tag == cb.ServerTagAll {
			continue
		}
		if rev == nil {
			rev, done = backend.revision6()
		}
		delete(backend.st.servers6, tag)
		backend.detachTag6(tag)
		backend.audit6(rev, cb.ObjectServer, e.id, cb.ModificationDelete, serverAuditTags())
		count++
	}
	return count, nil
}

// Removes the tag of a deleted server from all IPv4 configurations.
// The assignment change does not count as a modification of the
// configuration itself.
func (backend *Backend) detachTag4(tag string) {
	detachEntryTag(backend.st.subnets4, tag)
	detachEntryTag(backend.st.networks4, tag)
	detachEntryTag(backend.st.optionDefs4, tag)
	detachEntryTag(backend.st.options4, tag)
	detachEntryTag(backend.st.parameters4, tag)
}

// Removes the tag of a deleted server from all IPv6 configurations.
func (backend *Backend) detachTag6(tag string) {
	detachEntryTag(backend.st.subnets6, tag)
	detachEntryTag(backend.st.networks6, tag)
	detachEntryTag(backend.st.optionDefs6, tag)
	detachEntryTag(backend.st.options6, tag)
	detachEntryTag(backend.st.parameters6, tag)
}

func detachEntryTag[K comparable, T any](entries map[K]*entry[T], tag string) {
	for key, e := range entries {
		if _, ok := e.tags[tag]; !ok {
			continue
		}
		dropped := maps.Clone(e.tags)
		delete(dropped, tag)
		entries[key] = &entry[T]{id: e.id, value: e.value, tags: dropped, modified: e.modified}
	}
}
