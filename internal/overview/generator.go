package overview

import (
	"context"
	"fmt"
	"log/slog"
)

// segmentSize is the number of samples processed, persisted, and
// progress-reported as one unit, matching the original generator's
// checkpoint granularity.
const segmentSize = 100_000

// SourceReader abstracts over a recording's channel data. Concrete
// file-format readers (EDF, CSV, and friends) are out of scope for this
// repo, so Generator depends only on this interface — callers that need a
// real one supply it themselves; tests use a fake.
type SourceReader interface {
	// Channels returns every channel label available in the recording, in
	// on-disk order.
	Channels() []string
	// SampleRate returns a channel's sampling frequency in Hz.
	SampleRate(channelIndex int) float64
	// TotalSamples returns the number of samples in the recording,
	// assumed uniform across channels.
	TotalSamples() int
	// ReadChannel returns every sample of one channel.
	ReadChannel(channelIndex int) ([]float64, error)
}

// Generator builds and resumes progressive overview caches: per-channel
// min/max downsampled segments, persisted as they're produced so a
// partially-built cache survives a restart or mid-build cancellation.
type Generator struct {
	store *Store
}

// NewGenerator wraps a Store with the progressive build algorithm.
func NewGenerator(store *Store) *Generator {
	return &Generator{store: store}
}

// Matrix is the reassembled result of a (possibly resumed) overview build:
// one downsampled [min, max, min, max, ...] row per requested channel.
type Matrix struct {
	ChannelLabels []string
	Data          [][]float64
	SampleRate    float64
	TotalSamples  int
}

// ProgressFunc reports cumulative samples processed against the total
// across all requested channels, mirroring Store.UpdateProgress's units.
type ProgressFunc func(samplesProcessed, totalSamples int)

// Generate builds or resumes a progressive overview for filePath. Channel
// selection falls back to the reader's first 10 channels if none of the
// requested names match, mirroring the original generator. ctx is polled
// between segments, so a caller can cancel a long-running build — a
// cancelled build leaves whatever segments it already persisted in place,
// and a subsequent call with the same parameters resumes from
// Store.GetLastSegmentEnd instead of restarting.
func (g *Generator) Generate(ctx context.Context, reader SourceReader, filePath string, fileSize uint64, fileModifiedTime int64, maxPoints int, selectedChannels []string, onProgress ProgressFunc) (*Matrix, error) {
	allLabels := reader.Channels()
	channelIdx, labels := determineChannels(allLabels, selectedChannels)
	if len(channelIdx) == 0 {
		return nil, fmt.Errorf("overview: no valid channels found")
	}

	totalSamples := reader.TotalSamples()
	sampleRate := reader.SampleRate(channelIdx[0])

	meta, err := g.store.GetOrCreateCacheMetadata(filePath, fileSize, fileModifiedTime, maxPoints, labels, totalSamples)
	if err != nil {
		return nil, fmt.Errorf("overview: get/create cache metadata: %w", err)
	}

	if !meta.IsComplete {
		if err := g.generateProgressive(ctx, reader, meta, channelIdx, totalSamples, maxPoints, onProgress); err != nil {
			return nil, err
		}
	}

	return g.assemble(meta.ID, labels, sampleRate, totalSamples)
}

// determineChannels resolves selected channel names to reader indices,
// falling back to the reader's first 10 channels if none match (or if none
// were requested, every channel).
func determineChannels(allLabels []string, selected []string) ([]int, []string) {
	if len(selected) == 0 {
		idx := make([]int, len(allLabels))
		labels := make([]string, len(allLabels))
		for i, l := range allLabels {
			idx[i] = i
			labels[i] = l
		}
		return idx, labels
	}

	var idx []int
	var labels []string
	for _, name := range selected {
		for i, l := range allLabels {
			if l == name {
				idx = append(idx, i)
				labels = append(labels, l)
				break
			}
		}
	}
	if len(idx) > 0 {
		return idx, labels
	}

	n := len(allLabels)
	if n > 10 {
		n = 10
	}
	idx = make([]int, n)
	labels = make([]string, n)
	for i := 0; i < n; i++ {
		idx[i] = i
		labels[i] = allLabels[i]
	}
	slog.Warn("overview: none of the selected channels found, falling back to first channels", "count", n)
	return idx, labels
}

func (g *Generator) generateProgressive(ctx context.Context, reader SourceReader, meta *Metadata, channelIdx []int, totalSamples, maxPoints int, onProgress ProgressFunc) error {
	bucketSize := (totalSamples + maxPoints - 1) / maxPoints
	if bucketSize < 1 {
		bucketSize = 1
	}

	for channelPos, signalIdx := range channelIdx {
		startSample, _, err := g.store.GetLastSegmentEnd(meta.ID, channelPos)
		if err != nil {
			return fmt.Errorf("overview: get resume point for channel %d: %w", channelPos, err)
		}
		if startSample >= totalSamples {
			continue
		}

		fullData, err := reader.ReadChannel(signalIdx)
		if err != nil {
			return fmt.Errorf("overview: read channel %d: %w", signalIdx, err)
		}

		current := startSample
		for current < totalSamples {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			segEnd := current + segmentSize
			if segEnd > totalSamples {
				segEnd = totalSamples
			}

			data := downsampleSegment(fullData, current, segEnd, bucketSize, totalSamples)
			seg := Segment{CacheID: meta.ID, ChannelIndex: channelPos, SegmentStart: current, SegmentEnd: segEnd, Data: data}
			if err := g.store.SaveSegment(seg); err != nil {
				return fmt.Errorf("overview: save segment: %w", err)
			}
			current = segEnd

			processed := channelPos*totalSamples + current
			total := len(channelIdx) * totalSamples
			if err := g.store.UpdateProgress(meta.ID, processed, total); err != nil {
				return fmt.Errorf("overview: update progress: %w", err)
			}
			if onProgress != nil {
				onProgress(processed, total)
			}
		}
	}
	return nil
}

// downsampleSegment computes [min, max] per bucket overlapping
// [segStart, segEnd), restricted to the samples that actually fall within
// the segment — a bucket straddling two segments contributes to each
// segment's own min/max independently, matching the original's chunked
// scan over already-loaded channel data.
func downsampleSegment(full []float64, segStart, segEnd, bucketSize, totalSamples int) []float64 {
	var out []float64
	startBucket := segStart / bucketSize
	endBucket := (segEnd + bucketSize - 1) / bucketSize

	for b := startBucket; b < endBucket; b++ {
		bucketStart := b * bucketSize
		bucketEnd := (b + 1) * bucketSize
		if bucketEnd > totalSamples {
			bucketEnd = totalSamples
		}
		dataStart := max(bucketStart, segStart)
		dataEnd := min(bucketEnd, segEnd)
		if dataStart >= dataEnd {
			continue
		}
		chunk := full[dataStart:dataEnd]
		minVal, maxVal := chunk[0], chunk[0]
		for _, v := range chunk[1:] {
			if v < minVal {
				minVal = v
			}
			if v > maxVal {
				maxVal = v
			}
		}
		out = append(out, minVal, maxVal)
	}
	return out
}

func (g *Generator) assemble(cacheID int64, labels []string, sampleRate float64, totalSamples int) (*Matrix, error) {
	segments, err := g.store.GetSegments(cacheID)
	if err != nil {
		return nil, fmt.Errorf("overview: retrieve segments: %w", err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("overview: no segments found in cache")
	}

	data := make([][]float64, len(labels))
	for _, seg := range segments {
		if seg.ChannelIndex < 0 || seg.ChannelIndex >= len(labels) {
			slog.Warn("overview: skipping segment with invalid channel index", "channel_index", seg.ChannelIndex)
			continue
		}
		data[seg.ChannelIndex] = append(data[seg.ChannelIndex], seg.Data...)
	}

	return &Matrix{ChannelLabels: labels, Data: data, SampleRate: sampleRate, TotalSamples: totalSamples}, nil
}
