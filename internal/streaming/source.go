package streaming

import (
	"context"
	"fmt"
)

// Source is a pluggable real-time data producer. Implementations connect to
// a transport (WebSocket, TCP, UDP, serial, file playback, LSL, ZeroMQ),
// emit DataChunks onto the channel given to Start, and stop cleanly on Stop
// or context cancellation.
type Source interface {
	Connect(ctx context.Context) error
	Start(ctx context.Context, out chan<- DataChunk) error
	Stop() error
	IsConnected() bool
	Metadata() SourceMetadata
}

// NewSource builds a Source from a tagged configuration.
func NewSource(cfg SourceConfig) (Source, error) {
	switch cfg.Type {
	case "websocket":
		return newWebSocketSource(cfg), nil
	case "tcp":
		return newTCPSource(cfg), nil
	case "udp":
		return newUDPSource(cfg), nil
	case "serial":
		return newSerialSource(cfg)
	case "file":
		return newFileSource(cfg), nil
	case "lsl":
		return newLSLSource(cfg), nil
	case "zmq":
		return newZMQSource(cfg), nil
	default:
		return nil, fmt.Errorf("unknown stream source type: %q", cfg.Type)
	}
}
