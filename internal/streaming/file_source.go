package streaming

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// fileSource replays DataChunks recorded as newline-delimited JSON from a
// file on disk, at a configurable playback rate, optionally looping.
type fileSource struct {
	cfg       SourceConfig
	connected atomic.Bool
	metadata  SourceMetadata
}

func newFileSource(cfg SourceConfig) *fileSource { return &fileSource{cfg: cfg} }

func (s *fileSource) Connect(ctx context.Context) error {
	if _, err := os.Stat(s.cfg.Path); err != nil {
		return fmt.Errorf("file source: %w", err)
	}
	s.connected.Store(true)
	s.metadata = SourceMetadata{DataFormat: FormatFloat32}
	return nil
}

func (s *fileSource) Start(ctx context.Context, out chan<- DataChunk) error {
	hz := s.cfg.PlaybackHz
	if hz <= 0 {
		hz = 1.0
	}
	interval := time.Duration(float64(time.Second) / hz)

	go func() {
		defer s.Stop()
		for {
			f, err := os.Open(s.cfg.Path)
			if err != nil {
				return
			}
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
			ticker := time.NewTicker(interval)
			for scanner.Scan() {
				select {
				case <-ctx.Done():
					ticker.Stop()
					f.Close()
					return
				case <-ticker.C:
				}
				var chunk DataChunk
				if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
					continue
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					ticker.Stop()
					f.Close()
					return
				}
			}
			ticker.Stop()
			f.Close()
			if !s.cfg.LoopPlayback {
				return
			}
		}
	}()
	return nil
}

func (s *fileSource) Stop() error {
	s.connected.Store(false)
	return nil
}

func (s *fileSource) IsConnected() bool        { return s.connected.Load() }
func (s *fileSource) Metadata() SourceMetadata { return s.metadata }
