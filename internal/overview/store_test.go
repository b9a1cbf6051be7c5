package overview

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "overview.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateCacheMetadataFreshInsert(t *testing.T) {
	s := openTestStore(t)
	m, err := s.GetOrCreateCacheMetadata("/data/a.edf", 1000, 12345, 2000, []string{"Fp1", "Fp2"}, 500000)
	require.NoError(t, err)
	assert.Equal(t, "/data/a.edf", m.FilePath)
	assert.False(t, m.IsComplete)
	assert.Equal(t, 0, m.SamplesProcessed)
}

func TestGetOrCreateCacheMetadataReturnsExisting(t *testing.T) {
	s := openTestStore(t)
	first, err := s.GetOrCreateCacheMetadata("/data/a.edf", 1000, 12345, 2000, []string{"Fp1"}, 500000)
	require.NoError(t, err)

	second, err := s.GetOrCreateCacheMetadata("/data/a.edf", 1000, 12345, 2000, []string{"Fp1"}, 500000)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetOrCreateCacheMetadataInvalidatesStale(t *testing.T) {
	s := openTestStore(t)
	first, err := s.GetOrCreateCacheMetadata("/data/a.edf", 1000, 12345, 2000, []string{"Fp1"}, 500000)
	require.NoError(t, err)
	require.NoError(t, s.SaveSegment(Segment{CacheID: first.ID, ChannelIndex: 0, SegmentStart: 0, SegmentEnd: 10, Data: []float64{1, 2, 3}}))

	second, err := s.GetOrCreateCacheMetadata("/data/a.edf", 2000, 99999, 2000, []string{"Fp1"}, 500000)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	segs, err := s.GetSegments(first.ID)
	require.NoError(t, err)
	assert.Empty(t, segs, "stale cache's segments should cascade-delete")
}

func TestUpdateProgressAndCompletion(t *testing.T) {
	s := openTestStore(t)
	m, err := s.GetOrCreateCacheMetadata("/data/a.edf", 1000, 12345, 2000, []string{"Fp1"}, 100)
	require.NoError(t, err)

	require.NoError(t, s.UpdateProgress(m.ID, 50, 100))
	updated, err := s.GetCacheMetadata(m.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, updated.CompletionPercentage)
	assert.False(t, updated.IsComplete)

	require.NoError(t, s.UpdateProgress(m.ID, 100, 100))
	updated, err = s.GetCacheMetadata(m.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsComplete)
}

func TestSaveAndGetSegmentsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	m, err := s.GetOrCreateCacheMetadata("/data/a.edf", 1000, 12345, 2000, []string{"Fp1", "Fp2"}, 100)
	require.NoError(t, err)

	require.NoError(t, s.SaveSegment(Segment{CacheID: m.ID, ChannelIndex: 0, SegmentStart: 0, SegmentEnd: 3, Data: []float64{1.5, -2.25, 3.0}}))
	require.NoError(t, s.SaveSegment(Segment{CacheID: m.ID, ChannelIndex: 1, SegmentStart: 0, SegmentEnd: 2, Data: []float64{9.9, 8.8}}))

	segs, err := s.GetSegments(m.ID)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, []float64{1.5, -2.25, 3.0}, segs[0].Data)
	assert.Equal(t, 0, segs[0].ChannelIndex)
	assert.Equal(t, 1, segs[1].ChannelIndex)
}

func TestGetIncompleteCaches(t *testing.T) {
	s := openTestStore(t)
	m, err := s.GetOrCreateCacheMetadata("/data/a.edf", 1000, 12345, 2000, []string{"Fp1"}, 100)
	require.NoError(t, err)

	incomplete, err := s.GetIncompleteCaches()
	require.NoError(t, err)
	assert.Len(t, incomplete, 1)

	require.NoError(t, s.UpdateProgress(m.ID, 100, 100))
	incomplete, err = s.GetIncompleteCaches()
	require.NoError(t, err)
	assert.Empty(t, incomplete)
}

func TestQueryProgressNoCache(t *testing.T) {
	s := openTestStore(t)
	summary, err := s.QueryProgress("/nope.edf", 1000, nil)
	require.NoError(t, err)
	assert.False(t, summary.HasCache)
}

func TestQueryProgressWildcardChannels(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetOrCreateCacheMetadata("/data/a.edf", 1000, 12345, 2000, []string{"Fp1"}, 100)
	require.NoError(t, err)

	summary, err := s.QueryProgress("/data/a.edf", 2000, nil)
	require.NoError(t, err)
	assert.True(t, summary.HasCache)
}
