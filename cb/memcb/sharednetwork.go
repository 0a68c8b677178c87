package memcb

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"isc.org/tern/cb"
	"isc.org/tern/dhcpcfg"
)

// Returns an IPv4 shared network entry as an entity.
func networkValue4(e *entry[dhcpcfg.SharedNetwork4]) *dhcpcfg.SharedNetwork4 {
	value := e.value.Clone()
	value.ServerTags = tagSlice(e.tags)
	value.ModificationTime = e.modified
	return &value
}

// Returns an IPv6 shared network entry as an entity.
func networkValue6(e *entry[dhcpcfg.SharedNetwork6]) *dhcpcfg.SharedNetwork6 {
	value := e.value.Clone()
	value.ServerTags = tagSlice(e.tags)
	value.ModificationTime = e.modified
	return &value
}

// Creates or replaces an IPv4 shared network. The inline subnets are
// not stored; the membership lives on the subnet side.
func (backend *Backend) CreateUpdateSharedNetwork4(ctx context.Context, selector cb.ServerSelector, network *dhcpcfg.SharedNetwork4) error {
	if network.Name == "" {
		return errors.Wrap(cb.ErrInvalidParameter, "shared network has no name")
	}
	defer backend.lock()()
	tags, err := writeTagSet(backend.st.servers4, selector)
	if err != nil {
		return err
	}
	rev, done := backend.revision4()
	defer done()
	value := network.Clone()
	value.ServerTags = nil
	value.ModificationTime = rev.time
	stampOptions(value.Options, backend, rev.time)
	existing, ok := backend.st.networks4[network.Name]
	modification := cb.ModificationCreate
	auditTags := tags
	id := backend.nextID()
	if ok {
		modification = cb.ModificationUpdate
		auditTags = unionTags(existing.tags, tags)
		id = existing.id
	}
	value.ID = id
	backend.st.networks4[network.Name] = &entry[dhcpcfg.SharedNetwork4]{
		id:       id,
		value:    value,
		tags:     tags,
		modified: rev.time,
	}
	backend.audit4(rev, cb.ObjectSharedNetwork, id, modification, auditTags)
	return nil
}

// Returns the IPv4 shared network by name.
func (backend *Backend) GetSharedNetwork4(ctx context.Context, selector cb.ServerSelector, name string) (*dhcpcfg.SharedNetwork4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	e, ok := backend.st.networks4[name]
	if !ok || !readMatch(e.tags, selector) {
		return nil, nil
	}
	return networkValue4(e), nil
}

// Returns all IPv4 shared networks, ordered by the creation sequence.
func (backend *Backend) GetAllSharedNetworks4(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.SharedNetwork4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	networks := []dhcpcfg.SharedNetwork4{}
	for _, e := range collectEntries(backend.st.networks4, selector) {
		networks = append(networks, *networkValue4(e))
	}
	return networks, nil
}

// Returns the IPv4 shared networks modified strictly after the given
// time.
func (backend *Backend) GetModifiedSharedNetworks4(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.SharedNetwork4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	networks := []dhcpcfg.SharedNetwork4{}
	for _, e := range collectEntries(backend.st.networks4, selector) {
		if e.modified.After(since) {
			networks = append(networks, *networkValue4(e))
		}
	}
	return networks, nil
}

// Deletes the IPv4 shared network by name, detaching its member
// subnets.
func (backend *Backend) DeleteSharedNetwork4(ctx context.Context, selector cb.ServerSelector, name string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	e, ok := backend.st.networks4[name]
	if !ok || !deleteMatch(e.tags, selector) {
		return 0, nil
	}
	rev, done := backend.revision4()
	defer done()
	delete(backend.st.networks4, name)
	backend.detachSubnets4(name)
	backend.audit4(rev, cb.ObjectSharedNetwork, e.id, cb.ModificationDelete, e.tags)
	return 1, nil
}

// Deletes all IPv4 shared networks matching the selector, detaching
// their member subnets.
func (backend *Backend) DeleteAllSharedNetworks4(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	var count int64
	var rev *revision
	done := func() {}
	for name, e := range backend.st.networks4 {
		if !deleteMatch(e.tags, selector) {
			continue
		}
		if rev == nil {
			rev, done = backend.revision4()
		}
		delete(backend.st.networks4, name)
		backend.detachSubnets4(name)
		backend.audit4(rev, cb.ObjectSharedNetwork, e.id, cb.ModificationDelete, e.tags)
		count++
	}
	done()
	return count, nil
}

// Clears the membership of the subnets belonging to a deleted shared
// network, mirroring the relational backend where the membership
// column is nulled by the foreign key.
func (backend *Backend) detachSubnets4(name string) {
	for id, e := range backend.st.subnets4 {
		if e.value.SharedNetworkName != name {
			continue
		}
		value := e.value.Clone()
		value.SharedNetworkName = ""
		backend.st.subnets4[id] = &entry[dhcpcfg.Subnet4]{
			id:       e.id,
			value:    value,
			tags:     e.tags,
			modified: e.modified,
		}
	}
}

// Creates or replaces an IPv6 shared network.
func (backend *Backend) CreateUpdateSharedNetwork6(ctx context.Context, selector cb.ServerSelector, network *dhcpcfg.SharedNetwork6) error {
	if network.Name == "" {
		return errors.Wrap(cb.ErrInvalidParameter, "shared network has no name")
	}
	defer backend.lock()()
	tags, err := writeTagSet(backend.st.servers6, selector)
	if err != nil {
		return err
	}
	rev, done := backend.revision6()
	defer done()
	value := network.Clone()
	value.ServerTags = nil
	value.ModificationTime = rev.time
	stampOptions(value.Options, backend, rev.time)
	existing, ok := backend.st.networks6[network.Name]
	modification := cb.ModificationCreate
	auditTags := tags
	id := backend.nextID()
	if ok {
		modification = cb.ModificationUpdate
		auditTags = unionTags(existing.tags, tags)
		id = existing.id
	}
	value.ID = id
	backend.st.networks6[network.Name] = &entry[dhcpcfg.SharedNetwork6]{
		id:       id,
		value:    value,
		tags:     tags,
		modified: rev.time,
	}
	backend.audit6(rev, cb.ObjectSharedNetwork, id, modification, auditTags)
	return nil
}

// Returns the IPv6 shared network by name.
func (backend *Backend) GetSharedNetwork6(ctx context.Context, selector cb.ServerSelector, name string) (*dhcpcfg.SharedNetwork6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	e, ok := backend.st.networks6[name]
	if !ok || !readMatch(e.tags, selector) {
		return nil, nil
	}
	return networkValue6(e), nil
}

// Returns all IPv6 shared networks, ordered by the creation sequence.
func (backend *Backend) GetAllSharedNetworks6(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.SharedNetwork6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	networks := []dhcpcfg.SharedNetwork6{}
	for _, e := range collectEntries(backend.st.networks6, selector) {
		networks = append(networks, *networkValue6(e))
	}
	return networks, nil
}

// Returns the IPv6 shared networks modified strictly after the given
// time.
func (backend *Backend) GetModifiedSharedNetworks6(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.SharedNetwork6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	networks := []dhcpcfg.SharedNetwork6{}
	for _, e := range collectEntries(backend.st.networks6, selector) {
		if e.modified.After(since) {
			networks = append(networks, *networkValue6(e))
		}
	}
	return networks, nil
}

// Deletes the IPv6 shared network by name, detaching its member
// subnets.
func (backend *Backend) DeleteSharedNetwork6(ctx context.Context, selector cb.ServerSelector, name string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	e, ok := backend.st.networks6[name]
	if !ok || !deleteMatch(e.tags, selector) {
		return 0, nil
	}
	rev, done := backend.revision6()
	defer done()
	delete(backend.st.networks6, name)
	backend.detachSubnets6(name)
	backend.audit6(rev, cb.ObjectSharedNetwork, e.id, cb.ModificationDelete, e.tags)
	return 1, nil
}

// Deletes all IPv6 shared networks matching the selector, detaching
// their member subnets.
func (backend *Backend) DeleteAllSharedNetworks6(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	var count int64
	var rev *revision
	done := func() {}
	for name, e := range backend.st.networks6 {
		if !deleteMatch(e.tags, selector) {
			continue
		}
		if rev == nil {
			rev, done = backend.revision6()
		}
		delete(backend.st.networks6, name)
		backend.detachSubnets6(name)
		backend.audit6(rev, cb.ObjectSharedNetwork, e.id, cb.ModificationDelete, e.tags)
		count++
	}
	done()
	return count, nil
}

// Clears the membership of the subnets belonging to a deleted shared
// network.
func (backend *Backend) detachSubnets6(name string) {
	for id, e := range backend.st.subnets6 {
		if e.value.SharedNetworkName != name {
			continue
		}
		value := e.value.Clone()
		value.SharedNetworkName = ""
		backend.st.subnets6[id] = &entry[dhcpcfg.Subnet6]{
			id:       e.id,
			value:    value,
			tags:     e.tags,
			modified: e.modified,
		}
	}
}
