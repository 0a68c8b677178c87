package memcb

import (
	"context"
	"net/netip"
	"time"

	"github.com/pkg/errors"

	"isc.org/tern/cb"
	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/dhcpcfg"
	ternutil "isc.org/tern/util"
)

// Returns a global option entry as an entity.
func optionValue(e *entry[dhcpcfg.OptionDescriptor]) *dhcpcfg.OptionDescriptor {
	value := e.value.Clone()
	value.ServerTags = tagSlice(e.tags)
	value.ModificationTime = e.modified
	return &value
}

// Prepares an option supplied to a write: the default space of the
// family is filled in and the flags are validated.
func prepareOption(option *dhcpcfg.OptionDescriptor, family ternutil.IPType) (dhcpcfg.OptionDescriptor, error) {
	if option == nil {
		return dhcpcfg.OptionDescriptor{}, errors.Wrap(cb.ErrInvalidParameter, "no option specified")
	}
	value := option.Clone()
	value.Space = value.EffectiveSpace(family)
	if err := value.Validate(); err != nil {
		return dhcpcfg.OptionDescriptor{}, errors.WithMessage(cb.ErrInvalidParameter, err.Error())
	}
	value.ServerTags = nil
	return value, nil
}

// Creates or replaces an IPv4 global scope option.
func (backend *Backend) CreateUpdateOption4(ctx context.Context, selector cb.ServerSelector, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv4)
	if err != nil {
		return err
	}
	defer backend.lock()()
	tags, err := writeTagSet(backend.st.servers4, selector)
	if err != nil {
		return err
	}
	rev, done := backend.revision4()
	defer done()
	key := optionKey{code: value.Code, space: value.Space}
	value.ModificationTime = rev.time
	existing, ok := backend.st.options4[key]
	modification := cb.ModificationCreate
	auditTags := tags
	id := backend.nextID()
	if ok {
		modification = cb.ModificationUpdate
		auditTags = unionTags(existing.tags, tags)
		id = existing.id
	}
	value.ID = id
	backend.st.options4[key] = &entry[dhcpcfg.OptionDescriptor]{
		id:       id,
		value:    value,
		tags:     tags,
		modified: rev.time,
	}
	backend.audit4(rev, cb.ObjectOption, id, modification, auditTags)
	return nil
}

// Creates or replaces an IPv6 global scope option.
func (backend *Backend) CreateUpdateOption6(ctx context.Context, selector cb.ServerSelector, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv6)
	if err != nil {
		return err
	}
	defer backend.lock()()
	tags, err := writeTagSet(backend.st.servers6, selector)
	if err != nil {
		return err
	}
	rev, done := backend.revision6()
	defer done()
	key := optionKey{code: value.Code, space: value.Space}
	value.ModificationTime = rev.time
	existing, ok := backend.st.options6[key]
	modification := cb.ModificationCreate
	auditTags := tags
	id := backend.nextID()
	if ok {
		modification = cb.ModificationUpdate
		auditTags = unionTags(existing.tags, tags)
		id = existing.id
	}
	value.ID = id
	backend.st.options6[key] = &entry[dhcpcfg.OptionDescriptor]{
		id:       id,
		value:    value,
		tags:     tags,
		modified: rev.time,
	}
	backend.audit6(rev, cb.ObjectOption, id, modification, auditTags)
	return nil
}

// Returns the IPv4 global scope option by code and space.
func (backend *Backend) GetOption4(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (*dhcpcfg.OptionDescriptor, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	e, ok := backend.st.options4[optionKey{code: code, space: space}]
	if !ok || !readMatch(e.tags, selector) {
		return nil, nil
	}
	return optionValue(e), nil
}

// Returns the IPv6 global scope option by code and space.
func (backend *Backend) GetOption6(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (*dhcpcfg.OptionDescriptor, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	e, ok := backend.st.options6[optionKey{code: code, space: space}]
	if !ok || !readMatch(e.tags, selector) {
		return nil, nil
	}
	return optionValue(e), nil
}

// Returns all IPv4 global scope options, ordered by the creation
// sequence.
func (backend *Backend) GetAllOptions4(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.OptionDescriptor, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	options := []dhcpcfg.OptionDescriptor{}
	for _, e := range collectEntries(backend.st.options4, selector) {
		options = append(options, *optionValue(e))
	}
	return options, nil
}

// Returns all IPv6 global scope options, ordered by the creation
// sequence.
func (backend *Backend) GetAllOptions6(ctx context.Context, selector cb.ServerSelector) ([]dhcpcfg.OptionDescriptor, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	options := []dhcpcfg.OptionDescriptor{}
	for _, e := range collectEntries(backend.st.options6, selector) {
		options = append(options, *optionValue(e))
	}
	return options, nil
}

// Returns the IPv4 global scope options modified strictly after the
// given time.
func (backend *Backend) GetModifiedOptions4(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.OptionDescriptor, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	options := []dhcpcfg.OptionDescriptor{}
	for _, e := range collectEntries(backend.st.options4, selector) {
		if e.modified.After(since) {
			options = append(options, *optionValue(e))
		}
	}
	return options, nil
}

// Returns the IPv6 global scope options modified strictly after the
// given time.
func (backend *Backend) GetModifiedOptions6(ctx context.Context, selector cb.ServerSelector, since time.Time) ([]dhcpcfg.OptionDescriptor, error) {
	if err := selector.CheckRead(); err != nil {
		return nil, err
	}
	defer backend.rlock()()
	options := []dhcpcfg.OptionDescriptor{}
	for _, e := range collectEntries(backend.st.options6, selector) {
		if e.modified.After(since) {
			options = append(options, *optionValue(e))
		}
	}
	return options, nil
}

// Deletes the IPv4 global scope option by code and space.
func (backend *Backend) DeleteOption4(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	key := optionKey{code: code, space: space}
	e, ok := backend.st.options4[key]
	if !ok || !deleteMatch(e.tags, selector) {
		return 0, nil
	}
	rev, done := backend.revision4()
	defer done()
	delete(backend.st.options4, key)
	backend.audit4(rev, cb.ObjectOption, e.id, cb.ModificationDelete, e.tags)
	return 1, nil
}

// Deletes the IPv6 global scope option by code and space.
func (backend *Backend) DeleteOption6(ctx context.Context, selector cb.ServerSelector, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	key := optionKey{code: code, space: space}
	e, ok := backend.st.options6[key]
	if !ok || !deleteMatch(e.tags, selector) {
		return 0, nil
	}
	rev, done := backend.revision6()
	defer done()
	delete(backend.st.options6, key)
	backend.audit6(rev, cb.ObjectOption, e.id, cb.ModificationDelete, e.tags)
	return 1, nil
}

// Upserts an option in an embedded option set, assigning an
// identifier to a newly added option. Returns the updated set, the
// option identifier and whether the option already existed.
func (backend *Backend) upsertEmbeddedOption(options []dhcpcfg.OptionDescriptor, option dhcpcfg.OptionDescriptor, at time.Time) ([]dhcpcfg.OptionDescriptor, int64, bool) {
	option.ID = 0
	option.ModificationTime = at
	updated, existed := dhcpcfg.UpsertOption(options, option)
	found := dhcpcfg.FindOption(updated, option.Code, option.Space)
	if found.ID == 0 {
		found.ID = backend.nextID()
	}
	return updated, found.ID, existed
}

// Creates or replaces an option attached to an IPv4 shared network.
func (backend *Backend) CreateUpdateSharedNetworkOption4(ctx context.Context, selector cb.ServerSelector, name string, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv4)
	if err != nil {
		return err
	}
	defer backend.lock()()
	if _, err := writeTagSet(backend.st.servers4, selector); err != nil {
		return err
	}
	owner, ok := backend.st.networks4[name]
	if !ok || !readMatch(owner.tags, selector) {
		return errors.Wrapf(cb.ErrInvalidParameter, "shared network %s does not exist", name)
	}
	rev, done := backend.revision4()
	defer done()
	network := owner.value.Clone()
	options, id, existed := backend.upsertEmbeddedOption(network.Options, value, rev.time)
	network.Options = options
	network.ModificationTime = rev.time
	backend.st.networks4[name] = &entry[dhcpcfg.SharedNetwork4]{
		id:       owner.id,
		value:    network,
		tags:     owner.tags,
		modified: rev.time,
	}
	modification := cb.ModificationCreate
	if existed {
		modification = cb.ModificationUpdate
	}
	backend.audit4(rev, cb.ObjectOption, id, modification, owner.tags)
	return nil
}

// Deletes an option attached to an IPv4 shared network.
func (backend *Backend) DeleteSharedNetworkOption4(ctx context.Context, selector cb.ServerSelector, name string, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	owner, ok := backend.st.networks4[name]
	if !ok || !deleteMatch(owner.tags, selector) {
		return 0, nil
	}
	removed := dhcpcfg.FindOption(owner.value.Options, code, space)
	if removed == nil {
		return 0, nil
	}
	rev, done := backend.revision4()
	defer done()
	network := owner.value.Clone()
	options, count := dhcpcfg.RemoveOption(network.Options, code, space)
	network.Options = options
	network.ModificationTime = rev.time
	backend.st.networks4[name] = &entry[dhcpcfg.SharedNetwork4]{
		id:       owner.id,
		value:    network,
		tags:     owner.tags,
		modified: rev.time,
	}
	backend.audit4(rev, cb.ObjectOption, removed.ID, cb.ModificationDelete, owner.tags)
	return count, nil
}

// Creates or replaces an option attached to an IPv6 shared network.
func (backend *Backend) CreateUpdateSharedNetworkOption6(ctx context.Context, selector cb.ServerSelector, name string, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv6)
	if err != nil {
		return err
	}
	defer backend.lock()()
	if _, err := writeTagSet(backend.st.servers6, selector); err != nil {
		return err
	}
	owner, ok := backend.st.networks6[name]
	if !ok || !readMatch(owner.tags, selector) {
		return errors.Wrapf(cb.ErrInvalidParameter, "shared network %s does not exist", name)
	}
	rev, done := backend.revision6()
	defer done()
	network := owner.value.Clone()
	options, id, existed := backend.upsertEmbeddedOption(network.Options, value, rev.time)
	network.Options = options
	network.ModificationTime = rev.time
	backend.st.networks6[name] = &entry[dhcpcfg.SharedNetwork6]{
		id:       owner.id,
		value:    network,
		tags:     owner.tags,
		modified: rev.time,
	}
	modification := cb.ModificationCreate
	if existed {
		modification = cb.ModificationUpdate
	}
	backend.audit6(rev, cb.ObjectOption, id, modification, owner.tags)
	return nil
}

// Deletes an option attached to an IPv6 shared network.
func (backend *Backend) DeleteSharedNetworkOption6(ctx context.Context, selector cb.ServerSelector, name string, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	owner, ok := backend.st.networks6[name]
	if !ok || !deleteMatch(owner.tags, selector) {
		return 0, nil
	}
	removed := dhcpcfg.FindOption(owner.value.Options, code, space)
	if removed == nil {
		return 0, nil
	}
	rev, done := backend.revision6()
	defer done()
	network := owner.value.Clone()
	options, count := dhcpcfg.RemoveOption(network.Options, code, space)
	network.Options = options
	network.ModificationTime = rev.time
	backend.st.networks6[name] = &entry[dhcpcfg.SharedNetwork6]{
		id:       owner.id,
		value:    network,
		tags:     owner.tags,
		modified: rev.time,
	}
	backend.audit6(rev, cb.ObjectOption, removed.ID, cb.ModificationDelete, owner.tags)
	return count, nil
}

// Creates or replaces an option attached to an IPv4 subnet.
func (backend *Backend) CreateUpdateSubnetOption4(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv4)
	if err != nil {
		return err
	}
	defer backend.lock()()
	if _, err := writeTagSet(backend.st.servers4, selector); err != nil {
		return err
	}
	owner, ok := backend.st.subnets4[subnetID]
	if !ok || !readMatch(owner.tags, selector) {
		return errors.Wrapf(cb.ErrInvalidParameter, "subnet %d does not exist", subnetID)
	}
	rev, done := backend.revision4()
	defer done()
	subnet := owner.value.Clone()
	options, id, existed := backend.upsertEmbeddedOption(subnet.Options, value, rev.time)
	subnet.Options = options
	subnet.ModificationTime = rev.time
	backend.st.subnets4[subnetID] = &entry[dhcpcfg.Subnet4]{
		id:       owner.id,
		value:    subnet,
		tags:     owner.tags,
		modified: rev.time,
	}
	modification := cb.ModificationCreate
	if existed {
		modification = cb.ModificationUpdate
	}
	backend.audit4(rev, cb.ObjectOption, id, modification, owner.tags)
	return nil
}

// Deletes an option attached to an IPv4 subnet.
func (backend *Backend) DeleteSubnetOption4(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	owner, ok := backend.st.subnets4[subnetID]
	if !ok || !deleteMatch(owner.tags, selector) {
		return 0, nil
	}
	removed := dhcpcfg.FindOption(owner.value.Options, code, space)
	if removed == nil {
		return 0, nil
	}
	rev, done := backend.revision4()
	defer done()
	subnet := owner.value.Clone()
	options, count := dhcpcfg.RemoveOption(subnet.Options, code, space)
	subnet.Options = options
	subnet.ModificationTime = rev.time
	backend.st.subnets4[subnetID] = &entry[dhcpcfg.Subnet4]{
		id:       owner.id,
		value:    subnet,
		tags:     owner.tags,
		modified: rev.time,
	}
	backend.audit4(rev, cb.ObjectOption, removed.ID, cb.ModificationDelete, owner.tags)
	return count, nil
}

// Creates or replaces an option attached to an IPv6 subnet.
func (backend *Backend) CreateUpdateSubnetOption6(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv6)
	if err != nil {
		return err
	}
	defer backend.lock()()
	if _, err := writeTagSet(backend.st.servers6, selector); err != nil {
		return err
	}
	owner, ok := backend.st.subnets6[subnetID]
	if !ok || !readMatch(owner.tags, selector) {
		return errors.Wrapf(cb.ErrInvalidParameter, "subnet %d does not exist", subnetID)
	}
	rev, done := backend.revision6()
	defer done()
	subnet := owner.value.Clone()
	options, id, existed := backend.upsertEmbeddedOption(subnet.Options, value, rev.time)
	subnet.Options = options
	subnet.ModificationTime = rev.time
	backend.st.subnets6[subnetID] = &entry[dhcpcfg.Subnet6]{
		id:       owner.id,
		value:    subnet,
		tags:     owner.tags,
		modified: rev.time,
	}
	modification := cb.ModificationCreate
	if existed {
		modification = cb.ModificationUpdate
	}
	backend.audit6(rev, cb.ObjectOption, id, modification, owner.tags)
	return nil
}

// Deletes an option attached to an IPv6 subnet.
func (backend *Backend) DeleteSubnetOption6(ctx context.Context, selector cb.ServerSelector, subnetID dhcpmodel.SubnetID, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	owner, ok := backend.st.subnets6[subnetID]
	if !ok || !deleteMatch(owner.tags, selector) {
		return 0, nil
	}
	removed := dhcpcfg.FindOption(owner.value.Options, code, space)
	if removed == nil {
		return 0, nil
	}
	rev, done := backend.revision6()
	defer done()
	subnet := owner.value.Clone()
	options, count := dhcpcfg.RemoveOption(subnet.Options, code, space)
	subnet.Options = options
	subnet.ModificationTime = rev.time
	backend.st.subnets6[subnetID] = &entry[dhcpcfg.Subnet6]{
		id:       owner.id,
		value:    subnet,
		tags:     owner.tags,
		modified: rev.time,
	}
	backend.audit6(rev, cb.ObjectOption, removed.ID, cb.ModificationDelete, owner.tags)
	return count, nil
}

// Finds the IPv4 subnet owning the pool with the given boundaries.
func findPoolSubnet4(subnets map[dhcpmodel.SubnetID]*entry[dhcpcfg.Subnet4], start, end netip.Addr) (*entry[dhcpcfg.Subnet4], int) {
	for _, e := range subnets {
		for i := range e.value.Pools {
			lb, ub, err := e.value.Pools[i].Boundaries()
			if err == nil && lb == start.Unmap() && ub == end.Unmap() {
				return e, i
			}
		}
	}
	return nil, 0
}

// Finds the IPv6 subnet owning the pool with the given boundaries.
func findPoolSubnet6(subnets map[dhcpmodel.SubnetID]*entry[dhcpcfg.Subnet6], start, end netip.Addr) (*entry[dhcpcfg.Subnet6], int) {
	for _, e := range subnets {
		for i := range e.value.Pools {
			lb, ub, err := e.value.Pools[i].Boundaries()
			if err == nil && lb == start.Unmap() && ub == end.Unmap() {
				return e, i
			}
		}
	}
	return nil, 0
}

// Finds the IPv6 subnet owning the prefix pool with the given prefix.
func findPDPoolSubnet6(subnets map[dhcpmodel.SubnetID]*entry[dhcpcfg.Subnet6], prefix netip.Prefix) (*entry[dhcpcfg.Subnet6], int) {
	canonical := prefix.Masked().String()
	for _, e := range subnets {
		for i := range e.value.PDPools {
			if e.value.PDPools[i].CanonicalPrefix() == canonical {
				return e, i
			}
		}
	}
	return nil, 0
}

// Creates or replaces an option attached to an IPv4 address pool. The
// pool is addressed by its boundaries.
func (backend *Backend) CreateUpdatePoolOption4(ctx context.Context, selector cb.ServerSelector, poolStart, poolEnd netip.Addr, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv4)
	if err != nil {
		return err
	}
	defer backend.lock()()
	if _, err := writeTagSet(backend.st.servers4, selector); err != nil {
		return err
	}
	owner, poolIdx := findPoolSubnet4(backend.st.subnets4, poolStart, poolEnd)
	if owner == nil || !readMatch(owner.tags, selector) {
		return errors.Wrapf(cb.ErrInvalidParameter, "pool %s - %s does not exist", poolStart, poolEnd)
	}
	rev, done := backend.revision4()
	defer done()
	subnet := owner.value.Clone()
	options, id, existed := backend.upsertEmbeddedOption(subnet.Pools[poolIdx].Options, value, rev.time)
	subnet.Pools[poolIdx].Options = options
	subnet.ModificationTime = rev.time
	backend.st.subnets4[subnet.ID] = &entry[dhcpcfg.Subnet4]{
		id:       owner.id,
		value:    subnet,
		tags:     owner.tags,
		modified: rev.time,
	}
	modification := cb.ModificationCreate
	if existed {
		modification = cb.ModificationUpdate
	}
	backend.audit4(rev, cb.ObjectOption, id, modification, owner.tags)
	return nil
}

// Deletes an option attached to an IPv4 address pool.
func (backend *Backend) DeletePoolOption4(ctx context.Context, selector cb.ServerSelector, poolStart, poolEnd netip.Addr, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	owner, poolIdx := findPoolSubnet4(backend.st.subnets4, poolStart, poolEnd)
	if owner == nil || !deleteMatch(owner.tags, selector) {
		return 0, nil
	}
	removed := dhcpcfg.FindOption(owner.value.Pools[poolIdx].Options, code, space)
	if removed == nil {
		return 0, nil
	}
	rev, done := backend.revision4()
	defer done()
	subnet := owner.value.Clone()
	options, count := dhcpcfg.RemoveOption(subnet.Pools[poolIdx].Options, code, space)
	subnet.Pools[poolIdx].Options = options
	subnet.ModificationTime = rev.time
	backend.st.subnets4[subnet.ID] = &entry[dhcpcfg.Subnet4]{
		id:       owner.id,
		value:    subnet,
		tags:     owner.tags,
		modified: rev.time,
	}
	backend.audit4(rev, cb.ObjectOption, removed.ID, cb.ModificationDelete, owner.tags)
	return count, nil
}

// Creates or replaces an option attached to an IPv6 address pool.
func (backend *Backend) CreateUpdatePoolOption6(ctx context.Context, selector cb.ServerSelector, poolStart, poolEnd netip.Addr, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv6)
	if err != nil {
		return err
	}
	defer backend.lock()()
	if _, err := writeTagSet(backend.st.servers6, selector); err != nil {
		return err
	}
	owner, poolIdx := findPoolSubnet6(backend.st.subnets6, poolStart, poolEnd)
	if owner == nil || !readMatch(owner.tags, selector) {
		return errors.Wrapf(cb.ErrInvalidParameter, "pool %s - %s does not exist", poolStart, poolEnd)
	}
	rev, done := backend.revision6()
	defer done()
	subnet := owner.value.Clone()
	options, id, existed := backend.upsertEmbeddedOption(subnet.Pools[poolIdx].Options, value, rev.time)
	subnet.Pools[poolIdx].Options = options
	subnet.ModificationTime = rev.time
	backend.st.subnets6[subnet.ID] = &entry[dhcpcfg.Subnet6]{
		id:       owner.id,
		value:    subnet,
		tags:     owner.tags,
		modified: rev.time,
	}
	modification := cb.ModificationCreate
	if existed {
		modification = cb.ModificationUpdate
	}
	backend.audit6(rev, cb.ObjectOption, id, modification, owner.tags)
	return nil
}

// Deletes an option attached to an IPv6 address pool.
func (backend *Backend) DeletePoolOption6(ctx context.Context, selector cb.ServerSelector, poolStart, poolEnd netip.Addr, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	owner, poolIdx := findPoolSubnet6(backend.st.subnets6, poolStart, poolEnd)
	if owner == nil || !deleteMatch(owner.tags, selector) {
		return 0, nil
	}
	removed := dhcpcfg.FindOption(owner.value.Pools[poolIdx].Options, code, space)
	if removed == nil {
		return 0, nil
	}
	rev, done := backend.revision6()
	defer done()
	subnet := owner.value.Clone()
	options, count := dhcpcfg.RemoveOption(subnet.Pools[poolIdx].Options, code, space)
	subnet.Pools[poolIdx].Options = options
	subnet.ModificationTime = rev.time
	backend.st.subnets6[subnet.ID] = &entry[dhcpcfg.Subnet6]{
		id:       owner.id,
		value:    subnet,
		tags:     owner.tags,
		modified: rev.time,
	}
	backend.audit6(rev, cb.ObjectOption, removed.ID, cb.ModificationDelete, owner.tags)
	return count, nil
}

// Creates or replaces an option attached to an IPv6 prefix pool. The
// pool is addressed by its prefix.
func (backend *Backend) CreateUpdatePDPoolOption6(ctx context.Context, selector cb.ServerSelector, prefix netip.Prefix, option *dhcpcfg.OptionDescriptor) error {
	value, err := prepareOption(option, ternutil.IPv6)
	if err != nil {
		return err
	}
	defer backend.lock()()
	if _, err := writeTagSet(backend.st.servers6, selector); err != nil {
		return err
	}
	owner, poolIdx := findPDPoolSubnet6(backend.st.subnets6, prefix)
	if owner == nil || !readMatch(owner.tags, selector) {
		return errors.Wrapf(cb.ErrInvalidParameter, "prefix pool %s does not exist", prefix)
	}
	rev, done := backend.revision6()
	defer done()
	subnet := owner.value.Clone()
	options, id, existed := backend.upsertEmbeddedOption(subnet.PDPools[poolIdx].Options, value, rev.time)
	subnet.PDPools[poolIdx].Options = options
	subnet.ModificationTime = rev.time
	backend.st.subnets6[subnet.ID] = &entry[dhcpcfg.Subnet6]{
		id:       owner.id,
		value:    subnet,
		tags:     owner.tags,
		modified: rev.time,
	}
	modification := cb.ModificationCreate
	if existed {
		modification = cb.ModificationUpdate
	}
	backend.audit6(rev, cb.ObjectOption, id, modification, owner.tags)
	return nil
}

// Deletes an option attached to an IPv6 prefix pool.
func (backend *Backend) DeletePDPoolOption6(ctx context.Context, selector cb.ServerSelector, prefix netip.Prefix, code uint16, space string) (int64, error) {
	if err := selector.CheckDelete(); err != nil {
		return 0, err
	}
	defer backend.lock()()
	owner, poolIdx := findPDPoolSubnet6(backend.st.subnets6, prefix)
	if owner == nil || !deleteMatch(owner.tags, selector) {
		return 0, nil
	}
	removed := dhcpcfg.FindOption(owner.value.PDPools[poolIdx].Options, code, space)
	if removed == nil {
		return 0, nil
	}
	rev, done := backend.revision6()
	defer done()
	subnet := owner.value.Clone()
	options, count := dhcpcfg.RemoveOption(subnet.PDPools[poolIdx].Options, code, space)
	subnet.PDPools[poolIdx].Options = options
	subnet.ModificationTime = rev.time
	backend.st.subnets6[subnet.ID] = &entry[dhcpcfg.Subnet6]{
		id:       owner.id,
		value:    subnet,
		tags:     owner.tags,
		modified: rev.time,
	}
	backend.audit6(rev, cb.ObjectOption, removed.ID, cb.ModificationDelete, owner.tags)
	return count, nil
}
