package memfile

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"

	"github.com/insomniacslk/dhcp/iana"
	"github.com/pkg/errors"

	dhcpmodel "isc.org/tern/datamodel/dhcp"
	"isc.org/tern/leasestore"
	ternutil "isc.org/tern/util"
)

// Version of the lease file layout. The major version changes when the
// column set changes incompatibly; an open of a file written with a
// different major version fails.
const (
	leaseFileVersionMajor = 2
	leaseFileVersionMinor = 0
)

// Column layout of the IPv4 lease file.
var leaseFile4Header = []string{
	"address", "hwaddr", "client_id", "valid_lifetime", "expire",
	"subnet_id", "fqdn_fwd", "fqdn_rev", "hostname", "state",
	"user_context", "pool_id",
}

// Column layout of the IPv6 lease file.
var leaseFile6Header = []string{
	"address", "duid", "valid_lifetime", "expire", "subnet_id",
	"pref_lifetime", "lease_type", "iaid", "prefix_len", "fqdn_fwd",
	"fqdn_rev", "hostname", "hwaddr", "hwtype", "state",
	"user_context", "pool_id",
}

// An append-only CSV lease file. Every insert, update and delete adds a
// row; the newest row for a primary key holds the current lease state.
// The periodic cleanup compacts the accumulated rows.
type leaseFile struct {
	path   string
	file   *os.File
	writer *csv.Writer
	header []string
}

// Opens a lease file for appending, creating it with a header row when
// it does not exist or is empty. An existing file with a different
// header fails with leasestore.ErrIncompatibleSchema.
func openLeaseFile(path string, header []string) (*leaseFile, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, errors.Wrapf(err, "problem opening the lease file %s", path)
	}
	lf := &leaseFile{
		path:   path,
		file:   file,
		writer: csv.NewWriter(file),
		header: header,
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "problem accessing the lease file %s", path)
	}
	if info.Size() == 0 {
		if err = lf.append(header); err != nil {
			file.Close()
			return nil, err
		}
		return lf, nil
	}
	if err = validateLeaseFileHeader(file, header); err != nil {
		file.Close()
		return nil, errors.WithMessagef(err, "lease file %s", path)
	}
	if _, err = file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "problem seeking in the lease file %s", path)
	}
	return lf, nil
}

func validateLeaseFileHeader(reader io.Reader, header []string) error {
	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	record, err := csvReader.Read()
	if err != nil {
		return errors.Wrap(err, "problem reading the lease file header")
	}
	if len(record) != len(header) {
		return errors.Wrapf(leasestore.ErrIncompatibleSchema, "the lease file has %d columns, expected %d", len(record), len(header))
	}
	for i := range header {
		if record[i] != header[i] {
			return errors.Wrapf(leasestore.ErrIncompatibleSchema, "unexpected lease file column %s at position %d, expected %s", record[i], i, header[i])
		}
	}
	return nil
}

func (lf *leaseFile) append(record []string) error {
	if err := lf.writer.Write(record); err != nil {
		return errors.Wrapf(err, "problem writing to the lease file %s", lf.path)
	}
	lf.writer.Flush()
	return errors.Wrapf(lf.writer.Error(), "problem writing to the lease file %s", lf.path)
}

func (lf *leaseFile) close() {
	lf.writer.Flush()
	lf.file.Close()
}

// Renames the lease file aside for the cleanup and reopens a fresh file
// in its place. Returns false without rotating when a previous rotation
// is still awaiting cleanup.
func (lf *leaseFile) rotate() (bool, error) {
	rotated := lf.path + ".1"
	if _, err := os.Stat(rotated); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, errors.Wrapf(err, "problem accessing the rotated lease file %s", rotated)
	}
	lf.writer.Flush()
	if err := lf.writer.Error(); err != nil {
		return false, errors.Wrapf(err, "problem flushing the lease file %s", lf.path)
	}
	if err := lf.file.Close(); err != nil {
		return false, errors.Wrapf(err, "problem closing the lease file %s", lf.path)
	}
	if err := os.Rename(lf.path, rotated); err != nil {
		return false, errors.Wrapf(err, "problem rotating the lease file %s", lf.path)
	}
	file, err := os.OpenFile(lf.path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return false, errors.Wrapf(err, "problem recreating the lease file %s", lf.path)
	}
	lf.file = file
	lf.writer = csv.NewWriter(file)
	return true, lf.append(lf.header)
}

// Replays the compacted and active IPv4 lease files into memory.
func (store *Store) replayFile4() error {
	for _, path := range replaySources(store.config.LeaseFile4) {
		err := replayLeaseFile(path, leaseFile4Header, func(record []string) error {
			lease, err := decodeLease4(record)
			if err != nil {
				return err
			}
			addr := lease.Address
			if lease.ValidLifetime == 0 {
				if existing, ok := store.leases4[addr]; ok {
					store.unindexLease4(existing)
					delete(store.leases4, addr)
				}
				return nil
			}
			if existing, ok := store.leases4[addr]; ok {
				store.unindexLease4(existing)
			}
			store.leases4[addr] = lease
			store.indexLease4(lease)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Replays the compacted and active IPv6 lease files into memory.
func (store *Store) replayFile6() error {
	for _, path := range replaySources(store.config.LeaseFile6) {
		err := replayLeaseFile(path, leaseFile6Header, func(record []string) error {
			lease, err := decodeLease6(record)
			if err != nil {
				return err
			}
			key := lease.Key()
			if lease.ValidLifetime == 0 {
				if existing, ok := store.leases6[key]; ok {
					store.unindexLease6(existing)
					delete(store.leases6, key)
				}
				return nil
			}
			if existing, ok := store.leases6[key]; ok {
				store.unindexLease6(existing)
			}
			store.leases6[key] = lease
			store.indexLease6(lease)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Returns the lease file paths to replay on startup in order: the last
// cleanup result, a rotated file whose cleanup did not finish, and the
// active file. Later rows override earlier ones.
func replaySources(path string) (paths []string) {
	for _, candidate := range []string{path + ".2", path + ".1", path} {
		if _, err := os.Stat(candidate); err == nil {
			paths = append(paths, candidate)
		}
	}
	return paths
}

func replayLeaseFile(path string, header []string, apply func(record []string) error) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "problem opening the lease file %s", path)
	}
	defer file.Close()

	csvReader := csv.NewReader(file)
	csvReader.FieldsPerRecord = len(header)
	first := true
	for {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "problem parsing the lease file %s", path)
		}
		if first {
			first = false
			continue
		}
		if err = apply(record); err != nil {
			return errors.WithMessagef(err, "lease file %s", path)
		}
	}
}

func encodeLease4(lease *leasestore.Lease4) []string {
	var hwaddr string
	if lease.HWAddr != nil {
		hwaddr = lease.HWAddr.String()
	}
	return []string{
		lease.Address.String(),
		hwaddr,
		lease.ClientID.String(),
		strconv.FormatUint(uint64(lease.ValidLifetime), 10),
		strconv.FormatInt(lease.CLTT+int64(lease.ValidLifetime), 10),
		strconv.FormatUint(uint64(lease.SubnetID), 10),
		encodeBool(lease.FqdnFwd),
		encodeBool(lease.FqdnRev),
		lease.Hostname,
		strconv.Itoa(int(lease.State)),
		encodeUserContext(lease.UserContext),
		strconv.FormatUint(uint64(lease.PoolID), 10),
	}
}

func decodeLease4(record []string) (*leasestore.Lease4, error) {
	addr, err := netip.ParseAddr(record[0])
	if err != nil {
		return nil, errors.Wrapf(err, "invalid lease address %s", record[0])
	}
	lease := &leasestore.Lease4{
		Address:  addr.Unmap(),
		Hostname: record[8],
	}
	if lease.HWAddr, err = decodeHWAddr(record[1], strconv.Itoa(int(iana.HWTypeEthernet))); err != nil {
		return nil, err
	}
	if record[2] != "" {
		lease.ClientID = ternutil.HexToBytes(record[2])
		if lease.ClientID == nil {
			return nil, errors.Errorf("invalid client identifier %s", record[2])
		}
	}
	valid, err := decodeUint32(record[3], "valid lifetime")
	if err != nil {
		return nil, err
	}
	lease.ValidLifetime = valid
	expire, err := strconv.ParseInt(record[4], 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid expiration time %s", record[4])
	}
	lease.CLTT = expire - int64(valid)
	subnetID, err := decodeUint32(record[5], "subnet identifier")
	if err != nil {
		return nil, err
	}
	lease.SubnetID = dhcpmodel.SubnetID(subnetID)
	lease.FqdnFwd = record[6] == "1"
	lease.FqdnRev = record[7] == "1"
	state, err := decodeUint32(record[9], "lease state")
	if err != nil {
		return nil, err
	}
	lease.State = dhcpmodel.LeaseState(state)
	if lease.UserContext, err = decodeUserContext(record[10]); err != nil {
		return nil, err
	}
	poolID, err := decodeUint32(record[11], "pool identifier")
	if err != nil {
		return nil, err
	}
	lease.PoolID = poolID
	// The file stores no modification time. Approximate it with the
	// client transaction time, so the modified-since queries remain
	// monotonic across a restart.
	lease.ModificationTime = ternutil.TimeFromUnix(lease.CLTT)
	return lease, nil
}

func encodeLease6(lease *leasestore.Lease6) []string {
	var hwaddr, hwtype string
	if lease.HWAddr != nil {
		hwaddr = lease.HWAddr.String()
		hwtype = strconv.Itoa(int(lease.HWAddr.Type))
	}
	return []string{
		lease.Address.String(),
		lease.DUID.String(),
		strconv.FormatUint(uint64(lease.ValidLifetime), 10),
		strconv.FormatInt(lease.CLTT+int64(lease.ValidLifetime), 10),
		strconv.FormatUint(uint64(lease.SubnetID), 10),
		strconv.FormatUint(uint64(lease.PreferredLifetime), 10),
		strconv.Itoa(int(lease.Type)),
		strconv.FormatUint(uint64(lease.IAID), 10),
		strconv.Itoa(int(lease.PrefixLen)),
		encodeBool(lease.FqdnFwd),
		encodeBool(lease.FqdnRev),
		lease.Hostname,
		hwaddr,
		hwtype,
		strconv.Itoa(int(lease.State)),
		encodeUserContext(lease.UserContext),
		strconv.FormatUint(uint64(lease.PoolID), 10),
	}
}

func decodeLease6(record []string) (*leasestore.Lease6, error) {
	addr, err := netip.ParseAddr(record[0])
	if err != nil {
		return nil, errors.Wrapf(err, "invalid lease address %s", record[0])
	}
	lease := &leasestore.Lease6{
		Address:  addr.Unmap(),
		Hostname: record[11],
	}
	if record[1] != "" {
		lease.DUID = ternutil.HexToBytes(record[1])
		if lease.DUID == nil {
			return nil, errors.Errorf("invalid DUID %s", record[1])
		}
	}
	valid, err := decodeUint32(record[2], "valid lifetime")
	if err != nil {
		return nil, err
	}
	lease.ValidLifetime = valid
	expire, err := strconv.ParseInt(record[3], 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid expiration time %s", record[3])
	}
	lease.CLTT = expire - int64(valid)
	subnetID, err := decodeUint32(record[4], "subnet identifier")
	if err != nil {
		return nil, err
	}
	lease.SubnetID = dhcpmodel.SubnetID(subnetID)
	preferred, err := decodeUint32(record[5], "preferred lifetime")
	if err != nil {
		return nil, err
	}
	lease.PreferredLifetime = preferred
	leaseType, err := decodeUint32(record[6], "lease type")
	if err != nil {
		return nil, err
	}
	lease.Type = dhcpmodel.LeaseType(leaseType)
	iaid, err := decodeUint32(record[7], "IAID")
	if err != nil {
		return nil, err
	}
	lease.IAID = dhcpmodel.IAID(iaid)
	prefixLen, err := decodeUint32(record[8], "prefix length")
	if err != nil {
		return nil, err
	}
	lease.PrefixLen = uint8(prefixLen)
	lease.FqdnFwd = record[9] == "1"
	lease.FqdnRev = record[10] == "1"
	if lease.HWAddr, err = decodeHWAddr(record[12], record[13]); err != nil {
		return nil, err
	}
	state, err := decodeUint32(record[14], "lease state")
	if err != nil {
		return nil, err
	}
	lease.State = dhcpmodel.LeaseState(state)
	if lease.UserContext, err = decodeUserContext(record[15]); err != nil {
		return nil, err
	}
	poolID, err := decodeUint32(record[16], "pool identifier")
	if err != nil {
		return nil, err
	}
	lease.PoolID = poolID
	lease.ModificationTime = ternutil.TimeFromUnix(lease.CLTT)
	return lease, nil
}

func decodeHWAddr(hwaddr, hwtype string) (*dhcpmodel.HWAddr, error) {
	if hwaddr == "" {
		return nil, nil
	}
	address := ternutil.HexToBytes(hwaddr)
	if address == nil {
		return nil, errors.Errorf("invalid hardware address %s", hwaddr)
	}
	hwType, err := decodeUint32(hwtype, "hardware address type")
	if err != nil {
		return nil, err
	}
	return dhcpmodel.NewHWAddr(iana.HWType(hwType), net.HardwareAddr(address))
}

func decodeUint32(value, field string) (uint32, error) {
	parsed, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %s", field, value)
	}
	return uint32(parsed), nil
}

func encodeBool(value bool) string {
	if value {
		return "1"
	}
	return "0"
}

func encodeUserContext(userContext map[string]any) string {
	if len(userContext) == 0 {
		return ""
	}
	encoded, err := json.Marshal(userContext)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func decodeUserContext(value string) (map[string]any, error) {
	if value == "" {
		return nil, nil
	}
	var userContext map[string]any
	if err := json.Unmarshal([]byte(value), &userContext); err != nil {
		return nil, errors.Wrapf(err, "invalid lease user context %s", value)
	}
	return userContext, nil
}
