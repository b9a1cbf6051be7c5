// Package streaming provides pluggable real-time data sources, a bounded
// circular buffer for decoupling producers from consumers, and the DataChunk
// wire format shared by both.
package streaming

import "encoding/json"

// DataChunk is a batch of samples flowing out of a Source.
type DataChunk struct {
	Samples      [][]float32 `json:"samples"` // [channel][sample]
	Timestamp    float64     `json:"timestamp"`
	SampleRate   float32     `json:"sample_rate"`
	ChannelNames []string    `json:"channel_names"`
	Sequence     *uint64     `json:"sequence,omitempty"`
}

// NumSamples returns the number of samples per channel in this chunk.
func (c DataChunk) NumSamples() int {
	if len(c.Samples) == 0 {
		return 0
	}
	return len(c.Samples[0])
}

// NumChannels returns the channel count in this chunk.
func (c DataChunk) NumChannels() int { return len(c.Samples) }

// DurationSecs returns how many seconds of data this chunk represents.
func (c DataChunk) DurationSecs() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.NumSamples()) / float64(c.SampleRate)
}

// DataFormat describes the native sample encoding of a source.
type DataFormat string

const (
	FormatFloat32 DataFormat = "float32"
	FormatFloat64 DataFormat = "float64"
	FormatInt16   DataFormat = "int16"
	FormatInt24   DataFormat = "int24"
	FormatInt32   DataFormat = "int32"
	FormatRaw     DataFormat = "raw"
)

// SourceMetadata describes a connected source's channel layout and format.
type SourceMetadata struct {
	Channels   []string               `json:"channels"`
	SampleRate float32                `json:"sample_rate"`
	DataFormat DataFormat             `json:"data_format"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// SourceConfig is the tagged union of all source configurations, matching
// the original's `#[serde(tag = "type")]` discriminated enum. Type selects
// which of the type-specific fields are populated.
type SourceConfig struct {
	Type string `json:"type"`

	// websocket
	URL string `json:"url,omitempty"`

	// tcp / udp
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// serial
	Device   string `json:"device,omitempty"`
	BaudRate int    `json:"baud_rate,omitempty"`

	// file
	Path         string  `json:"path,omitempty"`
	PlaybackHz   float64 `json:"playback_hz,omitempty"`
	LoopPlayback bool    `json:"loop_playback,omitempty"`

	// lsl
	StreamName string `json:"stream_name,omitempty"`

	// zmq
	Endpoint string `json:"endpoint,omitempty"`
	Topic    string `json:"topic,omitempty"`
}

// ParseSourceConfig decodes a tagged SourceConfig from JSON.
func ParseSourceConfig(data []byte) (SourceConfig, error) {
	var cfg SourceConfig
	err := json.Unmarshal(data, &cfg)
	return cfg, err
}
