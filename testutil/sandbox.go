package testutil

import (
	"os"
	"path"

	log "github.com/sirupsen/logrus"
)

// A scratch directory for tests exercising files on disk, e.g. the
// lease files or the configuration files. Every sandbox gets its own
// unique directory, so two sandboxes never interfere. Close removes
// the directory with all its contents.
type Sandbox struct {
	BasePath string
}

// Creates a sandbox in a fresh temporary directory.
func NewSandbox() *Sandbox {
	dir, err := os.MkdirTemp("", "tern_ut_*")
	if err != nil {
		log.Fatal(err)
	}
	return &Sandbox{BasePath: dir}
}

// Removes the whole sandbox with its contents.
func (sb *Sandbox) Close() {
	os.RemoveAll(sb.BasePath)
}

// Creates an empty file under the given name, together with the missing
// parent directories, and returns the full path to it.
func (sb *Sandbox) Join(name string) (string, error) {
	filePath := path.Join(sb.BasePath, name)
	if err := os.MkdirAll(path.Dir(filePath), 0o777); err != nil {
		return "", err
	}
	file, err := os.Create(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	return filePath, nil
}

// Creates a file with the given content and returns the full path to it.
func (sb *Sandbox) Write(name, content string) (string, error) {
	filePath, err := sb.Join(name)
	if err != nil {
		return "", err
	}
	if err = os.WriteFile(filePath, []byte(content), 0o600); err != nil {
		return "", err
	}
	return filePath, nil
}
