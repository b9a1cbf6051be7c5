// Package overview implements the progressive downsampled-overview cache:
// a SQLite-backed store of per-channel segments built incrementally as a
// large recording is decimated, so a partially-built cache can still answer
// "how much do you have so far" queries and survive a process restart.
package overview

// Metadata describes one cached overview (a unique file/max_points/channel
// set combination).
type Metadata struct {
	ID                   int64    `json:"id"`
	FilePath             string   `json:"file_path"`
	FileSize             uint64   `json:"file_size"`
	FileModifiedTime     int64    `json:"file_modified_time"`
	MaxPoints            int      `json:"max_points"`
	Channels             []string `json:"channels"`
	TotalSamples         int      `json:"total_samples"`
	SamplesProcessed     int      `json:"samples_processed"`
	CompletionPercentage float64  `json:"completion_percentage"`
	IsComplete           bool     `json:"is_complete"`
	CreatedAt            string   `json:"created_at"`
	UpdatedAt            string   `json:"updated_at"`
}

// Segment is one contiguous downsampled slice of a single channel.
type Segment struct {
	CacheID      int64     `json:"cache_id"`
	ChannelIndex int       `json:"channel_index"`
	SegmentStart int       `json:"segment_start"`
	SegmentEnd   int       `json:"segment_end"`
	Data         []float64 `json:"data"`
}

// ProgressSummary is the compact JSON shape returned by QueryProgress.
type ProgressSummary struct {
	HasCache             bool    `json:"has_cache"`
	CompletionPercentage float64 `json:"completion_percentage"`
	IsComplete           bool    `json:"is_complete"`
	SamplesProcessed     int     `json:"samples_processed"`
	TotalSamples         int     `json:"total_samples"`
}
