package ternutil

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Returns the current time in the UTC zone. All timestamps stored by the
// lease and configuration backends use this function so that the audit
// ordering does not depend on the local zone of a particular server.
func UTCNow() time.Time {
	return time.Now().UTC()
}

// Converts a Unix timestamp in seconds to a UTC time.
func TimeFromUnix(seconds int64) time.Time {
	return time.Unix(seconds, 0).UTC()
}

// Sets up the logging used by the daemons and tools.
func SetupLogging() {
	log.SetLevel(log.InfoLevel)
	if os.Getenv("TERN_LOG_LEVEL") == "debug" {
		log.SetLevel(log.DebugLevel)
	}
	log.SetOutput(os.Stdout)
	log.SetReportCaller(true)
	log.SetFormatter(&log.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			// Grab filename and line of current frame and add it to log entry.
			_, filename := path.Split(f.File)
			return "", fmt.Sprintf("%20v:%-5d", filename, f.Line)
		},
	})
}

// Convert bytes to hex string without separators, e.g. 0AF1.
func BytesToHex(bytesArray []byte) string {
	return BytesToHexWithSeparator(bytesArray, "")
}

// Convert bytes to hex string with a given separator between the
// consecutive bytes, e.g. 0A:F1 for a colon separator.
func BytesToHexWithSeparator(bytesArray []byte, separator string) string {
	var buf bytes.Buffer
	for i, f := range bytesArray {
		if i > 0 {
			fmt.Fprint(&buf, separator)
		}
		fmt.Fprintf(&buf, "%02X", f)
	}
	return buf.String()
}

// Parses a string of hexadecimal digits into bytes. It accepts the colon
// and dash separators as well as a bare hex string. It returns nil when
// the string is malformed.
func HexToBytes(hexString string) []byte {
	hexString = strings.ReplaceAll(hexString, ":", "")
	hexString = strings.ReplaceAll(hexString, "-", "")
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return nil
	}
	return decoded
}
