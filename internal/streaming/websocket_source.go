package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// webSocketSource streams DataChunks from a remote WebSocket endpoint that
// emits one JSON-encoded DataChunk per text message.
type webSocketSource struct {
	cfg       SourceConfig
	conn      *websocket.Conn
	connected atomic.Bool
	metadata  SourceMetadata
}

func newWebSocketSource(cfg SourceConfig) *webSocketSource {
	return &webSocketSource{cfg: cfg}
}

func (s *webSocketSource) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket source: dial %s: %w", s.cfg.URL, err)
	}
	s.conn = conn
	s.connected.Store(true)
	s.metadata = SourceMetadata{DataFormat: FormatFloat32}
	return nil
}

func (s *webSocketSource) Start(ctx context.Context, out chan<- DataChunk) error {
	if s.conn == nil {
		return fmt.Errorf("websocket source: not connected")
	}
	go func() {
		defer s.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				return
			}
			var chunk DataChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
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

func (s *webSocketSource) Stop() error {
	s.connected.Store(false)
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *webSocketSource) IsConnected() bool        { return s.connected.Load() }
func (s *webSocketSource) Metadata() SourceMetadata { return s.metadata }
