package memcb

import (
	"context"
	"net/netip"
	"time"

	"github.com/pkg/errors"

	"isc.org/tern/cb"
	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/dhcpcfg"
)

// Normalizes a subnet prefix supplied as an operation argument.
func normalizePrefix(prefix string) (string, error) {
	parsed, err := netip.ParsePrefix(prefix)
	if err != nil {
		return "", errors.Wrapf(cb.ErrInvalidParameter, "invalid subnet prefix %s", prefix)
	}
	return parsed.Masked().String(), nil
}

// Prepares an IPv4 subnet for storage: the nested pools and options
// receive fresh identifiers and the modification times are aligned
// with the revision.
func (backend *Backend) prepareSubnet4(subnet *dhcpcfg.Subnet4, rev *revision) dhcpcfg.Subnet4 {
	value := subnet.Clone()
	value.ServerTags = nil
	value.ModificationTime = rev.time
	for i := range value.Pools {
		value.Pools[i].ID = backend.nextID()
		value.Pools[i].ModificationTime = rev.time
		stampOptions(value.Pools[i].Options, backend, rev.time)
	}
	stampOptions(value.Options, backend, rev.time)
	return value
}

// Prepares an IPv6 subnet for storage.
func (backend *Backend) prepareSubnet6(subnet *dhcpcfg.Subnet6, rev *revision) dhcpcfg.Subnet6 {
	value := subnet.Clone()
	value.ServerTags = nil
	value.ModificationTime = rev.time
	for i := range value.Pools {
		value.Pools[i].ID = backend.nextID()
		value.Pools[i].ModificationTime = rev.time
		stampOptions(value.Pools[i].Options, backend, rev.time)
	}
	for i := range value.PDPools {
		value.PDPools[i].ID = backend.nextID()
		value.PDPools[i].ModificationTime = rev.time
		stampOptions(value.PDPools[i].Options, backend, rev.time)
	}
	stampOptions(value.Options, backend, rev.time)
	return value
}

// Assigns identifiers and modification times to a set of embedded
// options.
func stampOptions(options []dhcpcfg.OptionDescriptor, backend *Backend, at time.Time) {
	for i := range options {
		options[i].ID = backend.nextID()
		options[i].ModificationTime = at
		options[i].ServerTags = nil
	}
}

// Returns an IPv4 subnet entry as an entity.
func subnetValue4(e *entry[dhcpcfg.Subnet4]) *dhcpcfg.Subnet4 {
	value := e.value.Clone()
	value.ServerTags = tagSlice(e.tags)
	value.ModificationTime = e.modified
	return &value
}

// Returns an IPv6 subnet entry as an entity.
func subnetValue6(e *entry[dhcpcfg.Subnet6]) *dhcpcfg.Subnet6 {
	value := e.value.Clone()
	value.ServerTags = tagSlice(e.tags)
	value.ModificationTime = e.modified
	return &value
}

// Creates or replaces an IPv4 subnet, assigning it to the servers
// named by the selector.
func (backend *Backend) CreateUpdateSubnet4(ctx context.Context, selector cb.ServerSelector, subnet *dhcpcfg.Subnet4) error {
	if err := subnet.Validate(); err != nil {
		return errors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	defer backend.lock()()
	tags, err := writeTagSet(backend.st.servers4, selector)
	if err != nil {
		return err
	}
	rev, done := backend.revision4()
	defer done()
	existing, ok := backend.st.subnets4[subnet.ID]
	modification := cb.ModificationCreate
	auditTags := tags
	if ok {
		modification = cb.ModificationUpdate
		auditTags = unionTags(existing.tags, tags)
	}
	backend.st.subnets4[subnet.ID] = &entry[dhcpcfg.Subnet4]{
		id:       int64(subnet.ID),
		value:    backend.prepareSubnet4(subnet, rev),
		tags:     tags,
		modified: rev.time,
	}
	backend.audit4(rev, cb.ObjectSubnet, int64(subnet.ID), modification, auditTags)
	return nil
}

// Returns the IPv4 subnet by identifier.
func (backend *Backend) GetSubnet4(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID) (*dhcpcfg.Subnet4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	e, ok := backend.st.subnets4[subnetID]
	if !ok || !readMatch(e.tags, selector) {
		return nil, nil
	}
	return subnetValue4(e), nil
}

// Returns the IPv4 subnet by prefix.
func (backend *Backend) GetSubnet4ByPrefix(ctx context.Context, selector cb.ServerSelector, prefix string) (*dhcpcfg.Subnet4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	normalized, err := normalizePrefix(prefix)
	if err != nil {
		return nil, err
	}
	defer backend.rlock()()
	for _, e := range backend.st.subnets4 {
		parsed, err := e.value.ParsedPrefix()
		if err == nil && parsed.String() == normalized && readMatch(e.tags, selector) {
			return subnetValue4(e), nil
		}
	}
	return nil, nil
}

// Returns all IPv4 subnets, ordered by the subnet identifier.
func (backend *Backend) GetAllSubnets4(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.Subnet4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	subnets := []dhcpcfg.Subnet4{}
	for _, e := range collectEntries(backend.st.subnets4, selector) {
		subnets = append(subnets, *subnetValue4(e))
	}
	return subnets, nil
}

// Returns the IPv4 subnets modified strictly after the given time,
// ordered by the subnet identifier.
func (backend *Backend) GetModifiedSubnets4(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.Subnet4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	subnets := []dhcpcfg.Subnet4{}
	for _, e := range collectEntries(backend.st.subnets4, selector) {
		if e.modified.After(since) {
			subnets = append(subnets, *subnetValue4(e))
		}
	}
	return subnets, nil
}

// Returns the IPv4 subnets belonging to the shared network, ordered by
// the subnet identifier.
func (backend *Backend) GetSharedNetworkSubnets4(ctx context.Context, selector cb.ServerSelector, name string) ([]dhcpcfg.Subnet4, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	subnets := []dhcpcfg.Subnet4{}
	for _, e := range collectEntries(backend.st.subnets4, selector) {
		if e.value.SharedNetworkName == name {
			subnets = append(subnets, *subnetValue4(e))
		}
	}
	return subnets, nil
}

// Deletes the IPv4 subnet by identifier.
func (backend *Backend) DeleteSubnet4(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	e, ok := backend.st.subnets4[subnetID]
	if !ok || !deleteMatch(e.tags, selector) {
		return 0, nil
	}
	rev, done := backend.revision4()
	defer done()
	delete(backend.st.subnets4, subnetID)
	backend.audit4(rev, cb.ObjectSubnet, e.id, cb.ModificationDelete, e.tags)
	return 1, nil
}

// Deletes the IPv4 subnet by prefix.
func (backend *Backend) DeleteSubnet4ByPrefix(ctx context.Context, selector cb.ServerSelector, prefix string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	normalized, err := normalizePrefix(prefix)
	if err != nil {
		return 0, err
	}
	defer backend.lock()()
	for id, e := range backend.st.subnets4 {
		parsed, err := e.value.ParsedPrefix()
		if err != nil || parsed.String() != normalized {
			continue
		}
		if !deleteMatch(e.tags, selector) {
			return 0, nil
		}
		rev, done := backend.revision4()
		defer done()
		delete(backend.st.subnets4, id)
		backend.audit4(rev, cb.ObjectSubnet, e.id, cb.ModificationDelete, e.tags)
		return 1, nil
	}
	return 0, nil
}

// Deletes all IPv4 subnets matching the selector.
func (backend *Backend) DeleteAllSubnets4(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	var count int64
	var rev *revision
	done := func() {}
	for id, e := range backend.st.subnets4 {
		if !deleteMatch(e.tags, selector) {
			continue
		}
		if rev == nil {
			rev, done = backend.revision4()
		}
		delete(backend.st.subnets4, id)
		backend.audit4(rev, cb.ObjectSubnet, e.id, cb.ModificationDelete, e.tags)
		count++
	}
	done()
	return count, nil
}

// Deletes the IPv4 subnets belonging to the shared network.
func (backend *Backend) DeleteSharedNetworkSubnets4(ctx context.Context, selector cb.ServerSelector, name string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	var count int64
	var rev *revision
	done := func() {}
	for id, e := range backend.st.subnets4 {
		if e.value.SharedNetworkName != name || !deleteMatch(e.tags, selector) {
			continue
		}
		if rev == nil {
			rev, done = backend.revision4()
		}
		delete(backend.st.subnets4, id)
		backend.audit4(rev, cb.ObjectSubnet, e.id, cb.ModificationDelete, e.tags)
		count++
	}
	done()
	return count, nil
}

// Creates or replaces an IPv6 subnet, assigning it to the servers
// named by the selector.
func (backend *Backend) CreateUpdateSubnet6(ctx context.Context, selector cb.ServerSelector, subnet *dhcpcfg.Subnet6) error {
	if err := subnet.Validate(); err != nil {
		return errors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	defer backend.lock()()
	tags, err := writeTagSet(backend.st.servers6, selector)
	if err != nil {
		return err
	}
	rev, done := backend.revision6()
	defer done()
	existing, ok := backend.st.subnets6[subnet.ID]
	modification := cb.ModificationCreate
	auditTags := tags
	if ok {
		modification = cb.ModificationUpdate
		auditTags = unionTags(existing.tags, tags)
	}
	backend.st.subnets6[subnet.ID] = &entry[dhcpcfg.Subnet6]{
		id:       int64(subnet.ID),
		value:    backend.prepareSubnet6(subnet, rev),
		tags:     tags,
		modified: rev.time,
	}
	backend.audit6(rev, cb.ObjectSubnet, int64(subnet.ID), modification, auditTags)
	return nil
}

// Returns the IPv6 subnet by identifier.
func (backend *Backend) GetSubnet6(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID) (*dhcpcfg.Subnet6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	e, ok := backend.st.subnets6[subnetID]
	if !ok || !readMatch(e.tags, selector) {
		return nil, nil
	}
	return subnetValue6(e), nil
}

// Returns the IPv6 subnet by prefix.
func (backend *Backend) GetSubnet6ByPrefix(ctx context.Context, selector cb.ServerSelector, prefix string) (*dhcpcfg.Subnet6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	normalized, err := normalizePrefix(prefix)
	if err != nil {
		return nil, err
	}
	defer backend.rlock()()
	for _, e := range backend.st.subnets6 {
		parsed, err := e.value.ParsedPrefix()
		if err == nil && parsed.String() == normalized && readMatch(e.tags, selector) {
			return subnetValue6(e), nil
		}
	}
	return nil, nil
}

// Returns all IPv6 subnets, ordered by the subnet identifier.
func (backend *Backend) GetAllSubnets6(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.Subnet6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	subnets := []dhcpcfg.Subnet6{}
	for _, e := range collectEntries(backend.st.subnets6, selector) {
		subnets = append(subnets, *subnetValue6(e))
	}
	return subnets, nil
}

// Returns the IPv6 subnets modified strictly after the given time,
// ordered by the subnet identifier.
func (backend *Backend) GetModifiedSubnets6(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.Subnet6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	subnets := []dhcpcfg.Subnet6{}
	for _, e := range collectEntries(backend.st.subnets6, selector) {
		if e.modified.After(since) {
			subnets = append(subnets, *subnetValue6(e))
		}
	}
	return subnets, nil
}

// Returns the IPv6 subnets belonging to the shared network, ordered by
// the subnet identifier.
func (backend *Backend) GetSharedNetworkSubnets6(ctx context.Context, selector cb.ServerSelector, name string) ([]dhcpcfg.Subnet6, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	subnets := []dhcpcfg.Subnet6{}
	for _, e := range collectEntries(backend.st.subnets6, selector) {
		if e.value.SharedNetworkName == name {
			subnets = append(subnets, *subnetValue6(e))
		}
	}
	return subnets, nil
}

// Deletes the IPv6 subnet by identifier.
func (backend *Backend) DeleteSubnet6(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	e, ok := backend.st.subnets6[subnetID]
	if !ok || !deleteMatch(e.tags, selector) {
		return 0, nil
	}
	rev, done := backend.revision6()
	defer done()
	delete(backend.st.subnets6, subnetID)
	backend.audit6(rev, cb.ObjectSubnet, e.id, cb.ModificationDelete, e.tags)
	return 1, nil
}

// Deletes the IPv6 subnet by prefix.
func (backend *Backend) DeleteSubnet6ByPrefix(ctx context.Context, selector cb.ServerSelector, prefix string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	normalized, err := normalizePrefix(prefix)
	if err != nil {
		return 0, err
	}
	defer backend.lock()()
	for id, e := range backend.st.subnets6 {
		parsed, err := e.value.ParsedPrefix()
		if err != nil || parsed.String() != normalized {
			continue
		}
		if !deleteMatch(e.tags, selector) {
			return 0, nil
		}
		rev, done := backend.revision6()
		defer done()
		delete(backend.st.subnets6, id)
		backend.audit6(rev, cb.ObjectSubnet, e.id, cb.ModificationDelete, e.tags)
		return 1, nil
	}
	return 0, nil
}

// Deletes all IPv6 subnets matching the selector.
func (backend *Backend) DeleteAllSubnets6(ctx context.Context, selector cb.ServerSelector) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	var count int64
	var rev *revision
	done := func() {}
	for id, e := range backend.st.subnets6 {
		if !deleteMatch(e.tags, selector) {
			continue
		}
		if rev == nil {
			rev, done = backend.revision6()
		}
		delete(backend.st.subnets6, id)
		backend.audit6(rev, cb.ObjectSubnet, e.id, cb.ModificationDelete, e.tags)
		count++
	}
	done()
	return count, nil
}

// Deletes the IPv6 subnets belonging to the shared network.
func (backend *Backend) DeleteSharedNetworkSubnets6(ctx context.Context, selector cb.ServerSelector, name string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	var count int64
	var rev *revision
	done := func() {}
	for id, e := range backend.st.subnets6 {
		if e.value.SharedNetworkName != name || !deleteMatch(e.tags, selector) {
			continue
		}
		if rev == nil {
			rev, done = backend.revision6()
		}
		delete(backend.st.subnets6, id)
		backend.audit6(rev, cb.ObjectSubnet, e.id, cb.ModificationDelete, e.tags)
		count++
	}
	done()
	return count, nil
}
