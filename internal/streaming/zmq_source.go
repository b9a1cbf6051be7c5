package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	zmq4 "github.com/go-zeromq/zmq4"
)

// zmqSource subscribes to a ZeroMQ PUB endpoint carrying JSON-encoded
// DataChunks. go-zeromq/zmq4 is a pure-Go ZeroMQ implementation, chosen
// specifically to avoid a cgo dependency on libzmq that the rest of this
// module otherwise has no need for.
type zmqSource struct {
	cfg       SourceConfig
	sock      zmq4.Socket
	connected atomic.Bool
	metadata  SourceMetadata
}

func newZMQSource(cfg SourceConfig) *zmqSource { return &zmqSource{cfg: cfg} }

func (s *zmqSource) Connect(ctx context.Context) error {
	sock := zmq4.NewSub(ctx)
	if err := sock.Dial(s.cfg.Endpoint); err != nil {
		return fmt.Errorf("zmq source: dial %s: %w", s.cfg.Endpoint, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, s.cfg.Topic); err != nil {
		return fmt.Errorf("zmq source: subscribe %q: %w", s.cfg.Topic, err)
	}
	s.sock = sock
	s.connected.Store(true)
	s.metadata = SourceMetadata{DataFormat: FormatFloat32}
	return nil
}

func (s *zmqSource) Start(ctx context.Context, out chan<- DataChunk) error {
	if s.sock == nil {
		return fmt.Errorf("zmq source: not connected")
	}
	go func() {
		defer s.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			msg, err := s.sock.Recv()
			if err != nil {
				return
			}
			frames := msg.Frames
			if len(frames) == 0 {
				continue
			}
			payload := frames[len(frames)-1]
			var chunk DataChunk
			if err := json.Unmarshal(payload, &chunk); err != nil {
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

func (s *zmqSource) Stop() error {
	s.connected.Store(false)
	if s.sock != nil {
		return s.sock.Close()
	}
	return nil
}

func (s *zmqSource) IsConnected() bool        { return s.connected.Load() }
func (s *zmqSource) Metadata() SourceMetadata { return s.metadata }
