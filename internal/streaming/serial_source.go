//go:build !windows

package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"go.bug.st/serial"
)

// serialSource streams newline-delimited JSON DataChunks from a serial
// device, e.g. a microcontroller-attached biosignal amplifier. Restricted to
// non-Windows builds to match the original's platform gate on its serial
// feature, which assumes POSIX tty semantics for port enumeration.
type serialSource struct {
	cfg       SourceConfig
	port      serial.Port
	connected atomic.Bool
	metadata  SourceMetadata
}

func newSerialSource(cfg SourceConfig) (*serialSource, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial source: device is required")
	}
	return &serialSource{cfg: cfg}, nil
}

func (s *serialSource) Connect(ctx context.Context) error {
	baud := s.cfg.BaudRate
	if baud == 0 {
		baud = 115200
	}
	port, err := serial.Open(s.cfg.Device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return fmt.Errorf("serial source: open %s: %w", s.cfg.Device, err)
	}
	s.port = port
	s.connected.Store(true)
	s.metadata = SourceMetadata{DataFormat: FormatFloat32}
	return nil
}

func (s *serialSource) Start(ctx context.Context, out chan<- DataChunk) error {
	if s.port == nil {
		return fmt.Errorf("serial source: not connected")
	}
	go func() {
		defer s.Stop()
		decoder := json.NewDecoder(s.port)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var chunk DataChunk
			if err := decoder.Decode(&chunk); err != nil {
				return
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *serialSource) Stop() error {
	s.connected.Store(false)
	if s.port != nil {
		return s.port.Close()
	}
	return nil
}

func (s *serialSource) IsConnected() bool        { return s.connected.Load() }
func (s *serialSource) Metadata() SourceMetadata { return s.metadata }
