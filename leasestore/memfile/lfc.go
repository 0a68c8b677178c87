package memfile

import (
	"encoding/csv"
	"io"
	"os"
	"os/exec"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Columns used by the cleanup to merge the lease file rows.
const (
	lease4ValidColumn = 3
	lease6ValidColumn = 2
	lease6TypeColumn  = 6
)

func lease4RecordKey(record []string) string {
	return record[0]
}

func lease6RecordKey(record []string) string {
	return record[0] + "/" + record[lease6TypeColumn]
}

// Compacts the rotated IPv4 lease file. See cleanupLeaseFile.
func Cleanup4(path string) error {
	return cleanupLeaseFile(path, leaseFile4Header, lease4RecordKey, lease4ValidColumn)
}

// Compacts the rotated IPv6 lease file. See cleanupLeaseFile.
func Cleanup6(path string) error {
	return cleanupLeaseFile(path, leaseFile6Header, lease6RecordKey, lease6ValidColumn)
}

// The lease file cleanup. It merges the previous cleanup result
// (path.2, when present) with the rotated lease file (path.1), keeps
// the newest row for each primary key, drops the leases whose final row
// is a deletion, and installs the result as the new path.2. The merge
// writes to path.output first and renames it to path.completed before
// installing, so a crash at any point leaves either the old or the new
// state intact.
func cleanupLeaseFile(path string, header []string, key func(record []string) string, validColumn int) error {
	completed := path + ".completed"
	if err := finishCleanup(path, completed); err != nil {
		return err
	}

	rotated := path + ".1"
	if _, err := os.Stat(rotated); errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return errors.Wrapf(err, "problem accessing the rotated lease file %s", rotated)
	}

	merged := make(map[string][]string)
	for _, source := range []string{path + ".2", rotated} {
		if _, err := os.Stat(source); errors.Is(err, os.ErrNotExist) {
			continue
		}
		err := replayLeaseFile(source, header, func(record []string) error {
			merged[key(record)] = record
			return nil
		})
		if err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(merged))
	for recordKey, record := range merged {
		if record[validColumn] == "0" {
			continue
		}
		keys = append(keys, recordKey)
	}
	sort.Strings(keys)

	output := path + ".output"
	if err := writeCompactedFile(output, header, merged, keys); err != nil {
		return err
	}
	if err := os.Rename(output, completed); err != nil {
		return errors.Wrapf(err, "problem marking the lease file cleanup of %s as completed", path)
	}
	return finishCleanup(path, completed)
}

// Installs a finished cleanup result as the new compacted file and
// removes the rotated input. Safe to call when there is nothing to
// finish, which also recovers from a crash between the two renames.
func finishCleanup(path, completed string) error {
	if _, err := os.Stat(completed); errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return errors.Wrapf(err, "problem accessing the completed lease file %s", completed)
	}
	if err := os.Rename(completed, path+".2"); err != nil {
		return errors.Wrapf(err, "problem installing the compacted lease file %s", completed)
	}
	if err := os.Remove(path + ".1"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "problem removing the rotated lease file %s", path+".1")
	}
	return nil
}

func writeCompactedFile(path string, header []string, merged map[string][]string, keys []string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return errors.Wrapf(err, "problem creating the compacted lease file %s", path)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err = writer.Write(header); err != nil {
		return errors.Wrapf(err, "problem writing the compacted lease file %s", path)
	}
	for _, recordKey := range keys {
		if err = writer.Write(merged[recordKey]); err != nil {
			return errors.Wrapf(err, "problem writing the compacted lease file %s", path)
		}
	}
	writer.Flush()
	if err = writer.Error(); err != nil {
		return errors.Wrapf(err, "problem writing the compacted lease file %s", path)
	}
	return errors.Wrapf(file.Sync(), "problem syncing the compacted lease file %s", path)
}

// Rotates the lease files and compacts the rotated copies. Invoked by
// the periodic executor. The rotation happens under the store mutex;
// the merge works on the rotated copies only, so it runs without
// blocking the lease traffic.
func (store *Store) runLFC() error {
	if store.file4 != nil {
		store.runLFCFile(store.file4, "4", Cleanup4)
	}
	if store.file6 != nil {
		store.runLFCFile(store.file6, "6", Cleanup6)
	}
	return nil
}

func (store *Store) runLFCFile(lf *leaseFile, family string, cleanup func(path string) error) {
	store.mutex.Lock()
	rotated, err := lf.rotate()
	store.mutex.Unlock()
	if err != nil {
		log.WithError(err).WithField("file", lf.path).Error("Failed to rotate the lease file")
		return
	}
	if !rotated {
		log.WithField("file", lf.path).Debug("Skipping the lease file cleanup because the previous one has not finished")
		return
	}

	if store.config.LFCCommand != "" {
		cmd := exec.Command(store.config.LFCCommand, "--family", family, "--file", lf.path)
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
		if err := cmd.Start(); err != nil {
			log.WithError(err).WithField("command", store.config.LFCCommand).Error("Failed to start the lease file cleanup process")
			return
		}
		go func() {
			if err := cmd.Wait(); err != nil {
				log.WithError(err).WithField("file", lf.path).Error("The lease file cleanup process failed")
			}
		}()
		return
	}

	go func() {
		if err := cleanup(lf.path); err != nil {
			log.WithError(err).WithField("file", lf.path).Error("The lease file cleanup failed")
			return
		}
		log.WithField("file", lf.path).Info("Completed the lease file cleanup")
	}()
}
