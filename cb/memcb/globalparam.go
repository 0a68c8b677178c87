package memcb

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"isc.org/tern/cb"
	"isc.org/tern/stamped"
)

// Returns a global parameter entry as a stamped value.
func parameterValue(e *entry[stamped.Value]) *stamped.Value {
	value := e.value
	value.ID = e.id
	value.ModificationTime = e.modified
	return &value
}

// Creates or replaces an IPv4 global parameter. The supplied value
// must hold data; a name-only value cannot be stored.
func (backend *Backend) CreateUpdateGlobalParameter4(ctx context.Context, selector cb.ServerSelector, value *stamped.Value) error {
	if value == nil {
		return errors.Wrap(cb.ErrInvalidParameter, "no parameter specified")
	}
	if _, err := value.GetKind(); err != nil {
		return errors.Wrapf(cb.ErrInvalidParameter, "parameter %s holds no value", value.Name)
	}
	defer backend.lock()()
	tags, err := writeTagSet(backend.st.servers4, selector)
	if err != nil {
		return err
	}
	rev, done := backend.revision4()
	defer done()
	existing, ok := backend.st.parameters4[value.Name]
	modification := cb.ModificationCreate
	auditTags := tags
	id := backend.nextID()
	if ok {
		modification = cb.ModificationUpdate
		auditTags = unionTags(existing.tags, tags)
		id = existing.id
	}
	backend.st.parameters4[value.Name] = &entry[stamped.Value]{
		id:       id,
		value:    *value.Copy(),
		tags:     tags,
		modified: rev.time,
	}
	backend.audit4(rev, cb.ObjectGlobalParameter, id, modification, auditTags)
	return nil
}

// Creates or replaces an IPv6 global parameter.
func (backend *Backend) CreateUpdateGlobalParameter6(ctx context.Context, selector cb.ServerSelector, value *stamped.Value) error {
	if value == nil {
		return errors.Wrap(cb.ErrInvalidParameter, "no parameter specified")
	}
	if _, err := value.GetKind(); err != nil {
		return errors.Wrapf(cb.ErrInvalidParameter, "parameter %s holds no value", value.Name)
	}
	defer backend.lock()()
	tags, err := writeTagSet(backend.st.servers6, selector)
	if err != nil {
		return err
	}
	rev, done := backend.revision6()
	defer done()
	existing, ok := backend.st.parameters6[value.Name]
	modification := cb.ModificationCreate
	auditTags := tags
	id := backend.nextID()
	if ok {
		modification = cb.ModificationUpdate
		auditTags = unionTags(existing.tags, tags)
		id = existing.id
	}
	backend.st.parameters6[value.Name] = &entry[stamped.Value]{
		id:       id,
		value:    *value.Copy(),
		tags:     tags,
		modified: rev.time,
	}
	backend.audit6(rev, cb.ObjectGlobalParameter, id, modification, auditTags)
	return nil
}

// Returns the IPv4 global parameter by name.
func (backend *Backend) GetGlobalParameter4(ctx context.Context, selector cb.ServerSelector, name string) (*stamped.Value, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	e, ok := backend.st.parameters4[name]
	if !ok || !readMatch(e.tags, selector) {
		return nil, nil
	}
	return parameterValue(e), nil
}

// Returns the IPv6 global parameter by name.
func (backend *Backend) GetGlobalParameter6(ctx context.Context, selector cb.ServerSelector, name string) (*stamped.Value, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	e, ok := backend.st.parameters6[name]
	if !ok || !readMatch(e.tags, selector) {
		return nil, nil
	}
	return parameterValue(e), nil
}

// Returns all IPv4 global parameters, ordered by the creation
// sequence.
func (backend *Backend) GetAllGlobalParameters4(ctx context.Context, selector cb.ServerSelector) (stamped.List, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	list := stamped.List{}
	for _, e := range collectEntries(backend.st.parameters4, selector) {
		list = append(list, parameterValue(e))
	}
	return list, nil
}

// Returns all IPv6 global parameters, ordered by the creation
// sequence.
func (backend *Backend) GetAllGlobalParameters6(ctx context.Context, selector cb.ServerSelector) (stamped.List, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	list := stamped.List{}
	for _, e := range collectEntries(backend.st.parameters6, selector) {
		list = append(list, parameterValue(e))
	}
	return list, nil
}

// Returns the IPv4 global parameters modified strictly after the
// given time.
func (backend *Backend) GetModifiedGlobalParameters4(ctx context.Context, selector cb.ServerSelector, since time.Time) (stamped.List, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	list := stamped.List{}
	for _, e := range collectEntries(backend.st.parameters4, selector) {
		if e.modified.After(since) {
			list = append(list, parameterValue(e))
		}
	}
	return list, nil
}

// Returns the IPv6 global parameters modified strictly after the
// given time.
func (backend *Backend) GetModifiedGlobalParameters6(ctx context.Context, selector cb.ServerSelector, since time.Time) (stamped.List, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	list := stamped.List{}
	for _, e := range collectEntries(backend.st.parameters6, selector) {
		if e.modified.After(since) {
			list = append(list, parameterValue(e))
		}
	}
	return list, nil
}

// Deletes the IPv4 global parameter by name.
func (backend *Backend) DeleteGlobalParameter4(ctx context.Context, selector cb.ServerSelector, name string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	e, ok := backend.st.parameters4[name]
	if !ok || !deleteMatch(e.tags, selector) {
		return 0, nil
	}
	rev, done := backend.revision4()
	defer done()
	delete(backend.st.parameters4, name)
	backend.audit4(rev, cb.ObjectGlobalParameter, e.id, cb.ModificationDelete, e.tags)
	return 1, nil
}

// Deletes the IPv6 global parameter by name.
func (backend *Backend) DeleteGlobalParameter6(ctx context.Context, selector cb.ServerSelector, name string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	e, ok := backend.st.parameters6[name]
	if !ok || !deleteMatch(e.tags, selector) {
		return 0, nil
	}
	rev, done := backend.revision6()
	defer done()
	delete(backend.st.parameters6, name)
	backend.audit6(rev, cb.ObjectGlobalParameter, e.id, cb.ModificationDelete, e.tags)
	return 1, nil
}

// Deletes all IPv4 global parameters matching the selector.
func (backend *Backend) DeleteAllGlobalParameters4(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	var count int64
	var rev *revision
	done := func() {}
	for name, e := range backend.st.parameters4 {
		if !deleteMatch(e.tags, selector) {
			continue
		}
		if rev == nil {
			rev, done = backend.revision4()
		}
		delete(backend.st.parameters4, name)
		backend.audit4(rev, cb.ObjectGlobalParameter, e.id, cb.ModificationDelete, e.tags)
		count++
	}
	done()
	return count, nil
}

// Deletes all IPv6 global parameters matching the selector.
func (backend *Backend) DeleteAllGlobalParameters6(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	var count int64
	var rev *revision
	done := func() {}
	for name, e := range backend.st.parameters6 {
		if !deleteMatch(e.tags, selector) {
			continue
		}
		if rev == nil {
			rev, done = backend.revision6()
		}
		delete(backend.st.parameters6, name)
		backend.audit6(rev, cb.ObjectGlobalParameter, e.id, cb.ModificationDelete, e.tags)
		count++
	}
	done()
	return count, nil
}
