package memcb

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"isc.org/tern/cb"
	"isc.org/tern/dhcpcfg"
)

// Returns an option definition entry as an entity.
func optionDefValue(e *entry[dhcpcfg.OptionDefinition]) *dhcpcfg.OptionDefinition {
	value := e.value.Clone()
	value.ServerTags = tagSlice(e.tags)
	value.ModificationTime = e.modified
	return &value
}

// Creates or replaces an IPv4 option definition.
func (backend *Backend) CreateUpdateOptionDef4(ctx context.Context, selector cb.ServerSelector, def *dhcpcfg.OptionDefinition) error {
	if err := def.Validate(); err != nil {
		return errors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	defer backend.lock()()
	tags, err := writeTagSet(backend.st.servers4, selector)
	if err != nil {
		return err
	}
	rev, done := backend.revision4()
	defer done()
	key := optionKey{code: def.Code, space: def.Space}
	value := def.Clone()
	value.ServerTags = nil
	value.ModificationTime = rev.time
	existing, ok := backend.st.optionDefs4[key]
	modification := cb.ModificationCreate
	auditTags := tags
	id := backend.nextID()
	if ok {
		modification = cb.ModificationUpdate
		auditTags = unionTags(existing.tags, tags)
		id = existing.id
	}
	value.ID = id
	backend.st.optionDefs4[key] = &entry[dhcpcfg.OptionDefinition]{
		id:       id,
		value:    value,
		tags:     tags,
		modified: rev.time,
	}
	backend.audit4(rev, cb.ObjectOptionDef, id, modification, auditTags)
	return nil
}

// Creates or replaces an IPv6 option definition.
func (backend *Backend) CreateUpdateOptionDef6(ctx context.Context, selector cb.ServerSelector, def *dhcpcfg.OptionDefinition) error {
	if err := def.Validate(); err != nil {
		return errors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	defer backend.lock()()
	tags, err := writeTagSet(backend.st.servers6, selector)
	if err != nil {
		return err
	}
	rev, done := backend.revision6()
	defer done()
	key := optionKey{code: def.Code, space: def.Space}
	value := def.Clone()
	value.ServerTags = nil
	value.ModificationTime = rev.time
	existing, ok := backend.st.optionDefs6[key]
	modification := cb.ModificationCreate
	auditTags := tags
	id := backend.nextID()
	if ok {
		modification = cb.ModificationUpdate
		auditTags = unionTags(existing.tags, tags)
		id = existing.id
	}
	value.ID = id
	backend.st.optionDefs6[key] = &entry[dhcpcfg.OptionDefinition]{
		id:       id,
		value:    value,
		tags:     tags,
		modified: rev.time,
	}
	backend.audit6(rev, cb.ObjectOptionDef, id, modification, auditTags)
	return nil
}

// Returns the IPv4 option definition by code and space.
func (backend *Backend) GetOptionDef4(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (*dhcpcfg.OptionDefinition, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	e, ok := backend.st.optionDefs4[optionKey{code: code, space: space}]
	if !ok || !readMatch(e.tags, selector) {
		return nil, nil
	}
	return optionDefValue(e), nil
}

// Returns the IPv6 option definition by code and space.
func (backend *Backend) GetOptionDef6(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (*dhcpcfg.OptionDefinition, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	e, ok := backend.st.optionDefs6[optionKey{code: code, space: space}]
	if !ok || !readMatch(e.tags, selector) {
		return nil, nil
	}
	return optionDefValue(e), nil
}

// Returns all IPv4 option definitions, ordered by the creation
// sequence.
func (backend *Backend) GetAllOptionDefs4(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.OptionDefinition, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	defs := []dhcpcfg.OptionDefinition{}
	for _, e := range collectEntries(backend.st.optionDefs4, selector) {
		defs = append(defs, *optionDefValue(e))
	}
	return defs, nil
}

// Returns all IPv6 option definitions, ordered by the creation
// sequence.
func (backend *Backend) GetAllOptionDefs6(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.OptionDefinition, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	defs := []dhcpcfg.OptionDefinition{}
	for _, e := range collectEntries(backend.st.optionDefs6, selector) {
		defs = append(defs, *optionDefValue(e))
	}
	return defs, nil
}

// Returns the IPv4 option definitions modified strictly after the
// given time.
func (backend *Backend) GetModifiedOptionDefs4(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.OptionDefinition, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	defs := []dhcpcfg.OptionDefinition{}
	for _, e := range collectEntries(backend.st.optionDefs4, selector) {
		if e.modified.After(since) {
			defs = append(defs, *optionDefValue(e))
		}
	}
	return defs, nil
}

// Returns the IPv6 option definitions modified strictly after the
// given time.
func (backend *Backend) GetModifiedOptionDefs6(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.OptionDefinition, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	defs := []dhcpcfg.OptionDefinition{}
	for _, e := range collectEntries(backend.st.optionDefs6, selector) {
		if e.modified.After(since) {
			defs = append(defs, *optionDefValue(e))
		}
	}
	return defs, nil
}

// Deletes the IPv4 option definition by code and space.
func (backend *Backend) DeleteOptionDef4(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	key := optionKey{code: code, space: space}
	e, ok := backend.st.optionDefs4[key]
	if !ok || !deleteMatch(e.tags, selector) {
		return 0, nil
	}
	rev, done := backend.revision4()
	defer done()
	delete(backend.st.optionDefs4, key)
	backend.audit4(rev, cb.ObjectOptionDef, e.id, cb.ModificationDelete, e.tags)
	return 1, nil
}

// Deletes the IPv6 option definition by code and space.
func (backend *Backend) DeleteOptionDef6(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	key := optionKey{code: code, space: space}
	e, ok := backend.st.optionDefs6[key]
	if !ok || !deleteMatch(e.tags, selector) {
		return 0, nil
	}
	rev, done := backend.revision6()
	defer done()
	delete(backend.st.optionDefs6, key)
	backend.audit6(rev, cb.ObjectOptionDef, e.id, cb.ModificationDelete, e.tags)
	return 1, nil
}

// Deletes all IPv4 option definitions matching the selector.
func (backend *Backend) DeleteAllOptionDefs4(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	var count int64
	var rev *revision
	done := func() {}
	for key, e := range backend.st.optionDefs4 {
		if !deleteMatch(e.tags, selector) {
			continue
		}
		if rev == nil {
			rev, done = backend.revision4()
		}
		delete(backend.st.optionDefs4, key)
		backend.audit4(rev, cb.ObjectOptionDef, e.id, cb.ModificationDelete, e.tags)
		count++
	}
	done()
	return count, nil
}

// Deletes all IPv6 option definitions matching the selector.
func (backend *Backend) DeleteAllOptionDefs6(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	var count int64
	var rev *revision
	done := func() {}
	for key, e := range backend.st.optionDefs6 {
		if !deleteMatch(e.tags, selector) {
			continue
		}
		if rev == nil {
			rev, done = backend.revision6()
		}
		delete(backend.st.optionDefs6, key)
		backend.audit6(rev, cb.ObjectOptionDef, e.id, cb.ModificationDelete, e.tags)
		count++
	}
	done()
	return count, nil
}
