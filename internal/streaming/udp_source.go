package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// udpSource listens for JSON-encoded DataChunk datagrams on a local UDP port.
type udpSource struct {
	cfg       SourceConfig
	conn      *net.UDPConn
	connected atomic.Bool
	metadata  SourceMetadata
}

func newUDPSource(cfg SourceConfig) *udpSource { return &udpSource{cfg: cfg} }

func (s *udpSource) Connect(ctx context.Context) error {
	addr := &net.UDPAddr{IP: net.ParseIP(s.cfg.Host), Port: s.cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("udp source: listen %s: %w", addr, err)
	}
	s.conn = conn
	s.connected.Store(true)
	s.metadata = SourceMetadata{DataFormat: FormatFloat32}
	return nil
}

func (s *udpSource) Start(ctx context.Context, out chan<- DataChunk) error {
	if s.conn == nil {
		return fmt.Errorf("udp source: not connected")
	}
	go func() {
		defer s.Stop()
		buf := make([]byte, 65536)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_ = s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			n, _, err := s.conn.ReadFromUDP(buf)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				return
			}
			var chunk DataChunk
			if err := json.Unmarshal(buf[:n], &chunk); err != nil {
				continue
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

func (s *udpSource) Stop() error {
	s.connected.Store(false)
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *udpSource) IsConnected() bool        { return s.connected.Load() }
func (s *udpSource) Metadata() SourceMetadata { return s.metadata }
