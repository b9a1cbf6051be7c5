package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// tcpSource streams newline-delimited JSON DataChunks over a TCP connection.
type tcpSource struct {
	cfg       SourceConfig
	conn      net.Conn
	connected atomic.Bool
	metadata  SourceMetadata
}

func newTCPSource(cfg SourceConfig) *tcpSource { return &tcpSource{cfg: cfg} }

func (s *tcpSource) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp source: dial %s: %w", addr, err)
	}
	s.conn = conn
	s.connected.Store(true)
	s.metadata = SourceMetadata{DataFormat: FormatFloat32}
	return nil
}

func (s *tcpSource) Start(ctx context.Context, out chan<- DataChunk) error {
	if s.conn == nil {
		return fmt.Errorf("tcp source: not connected")
	}
	go func() {
		defer s.Stop()
		decoder := json.NewDecoder(s.conn)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_ = s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var chunk DataChunk
			if err := decoder.Decode(&chunk); err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
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

func (s *tcpSource) Stop() error {
	s.connected.Store(false)
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *tcpSource) IsConnected() bool        { return s.connected.Load() }
func (s *tcpSource) Metadata() SourceMetadata { return s.metadata }
