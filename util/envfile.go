package ternutil

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Receives the variables read from an environment file.
type EnvironmentVariableSetter interface {
	Set(key, value string) error
}

type processEnvironmentVariableSetter struct{}

// Returns a setter applying the variables to the environment of the
// current process.
func NewProcessEnvironmentVariableSetter() EnvironmentVariableSetter {
	return processEnvironmentVariableSetter{}
}

func (processEnvironmentVariableSetter) Set(key, value string) error {
	return errors.WithStack(os.Setenv(key, value))
}

// Reads the environment file and applies all its entries to the setters.
func LoadEnvironmentFileToSetter(path string, setters ...EnvironmentVariableSetter) error {
	data, err := LoadEnvironmentFile(path)
	if err != nil {
		return err
	}

	for key, value := range data {
		for _, setter := range setters {
			if err = setter.Set(key, value); err != nil {
				return errors.WithMessagef(err, "cannot set value for key: '%s'", key)
			}
		}
	}
	return nil
}

// Reads the environment file into a map. The file contains KEY=value
// lines; empty lines and lines starting with # are skipped.
func LoadEnvironmentFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open the '%s' environment file", path)
	}
	defer file.Close()
	return parseEnvironmentEntries(file)
}

func parseEnvironmentEntries(reader io.Reader) (map[string]string, error) {
	data := make(map[string]string)
	scanner := bufio.NewScanner(reader)

	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		key, value, err := parseEnvironmentLine(scanner.Text())
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid line %d of environment file", lineIdx)
		}
		if key == "" {
			continue
		}
		data[key] = value
	}

	return data, errors.Wrap(scanner.Err(), "cannot read the environment file")
}

// Parses a line of the environment file. Returns an empty key for the
// skipped lines.
func parseEnvironmentLine(line string) (string, string, error) {
	line = strings.TrimSpace(line)

	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", nil
	}

	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", errors.Errorf("line must contain the key and value separated by the '=' sign")
	}
	if key == "" {
		return "", "", errors.Errorf("key cannot be empty")
	}

	return key, value, nil
}
