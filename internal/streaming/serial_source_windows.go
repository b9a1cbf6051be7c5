//go:build windows

package streaming

import "fmt"

// newSerialSource is unavailable on Windows; the serial source is scoped to
// POSIX tty platforms (see serial_source.go).
func newSerialSource(cfg SourceConfig) (Source, error) {
	return nil, fmt.Errorf("serial source: not supported on windows")
}
