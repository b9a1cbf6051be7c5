package overview

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS overview_cache (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT NOT NULL,
	file_size INTEGER NOT NULL,
	file_modified_time INTEGER NOT NULL,
	max_points INTEGER NOT NULL,
	channels TEXT NOT NULL,
	total_samples INTEGER NOT NULL,
	samples_processed INTEGER NOT NULL DEFAULT 0,
	completion_percentage REAL NOT NULL DEFAULT 0.0,
	is_complete INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(file_path, max_points, channels)
);

CREATE TABLE IF NOT EXISTS overview_cache_data (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cache_id INTEGER NOT NULL,
	channel_index INTEGER NOT NULL,
	segment_start INTEGER NOT NULL,
	segment_end INTEGER NOT NULL,
	data BLOB NOT NULL,
	FOREIGN KEY(cache_id) REFERENCES overview_cache(id) ON DELETE CASCADE,
	UNIQUE(cache_id, channel_index, segment_start)
);

CREATE INDEX IF NOT EXISTS idx_overview_cache_file_path ON overview_cache(file_path);
CREATE INDEX IF NOT EXISTS idx_overview_cache_is_complete ON overview_cache(is_complete);
CREATE INDEX IF NOT EXISTS idx_overview_cache_data_cache_channel ON overview_cache_data(cache_id, channel_index);
`

// Store is a SQLite-backed progressive overview cache.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path, applies the WAL/cache
// pragmas used by the original Tauri implementation, and ensures the schema
// exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=10000&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("overview: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-64000;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=10000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("overview: apply pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("overview: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func encodeChannels(channels []string) (string, error) {
	b, err := json.Marshal(channels)
	return string(b), err
}

func decodeChannels(s string) []string {
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

// GetOrCreateCacheMetadata looks up an existing cache keyed on
// (filePath, maxPoints, channels); if the file's size/mtime no longer match,
// the stale cache (and its segments, via ON DELETE CASCADE) is dropped and
// a fresh row inserted. If no row exists at all, one is created empty.
func (s *Store) GetOrCreateCacheMetadata(filePath string, fileSize uint64, fileModifiedTime int64, maxPoints int, channels []string, totalSamples int) (*Metadata, error) {
	channelsJSON, err := encodeChannels(channels)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(`SELECT id, file_size, file_modified_time FROM overview_cache WHERE file_path = ? AND max_points = ? AND channels = ?`, filePath, maxPoints, channelsJSON)
	var id int64
	var existingSize uint64
	var existingMtime int64
	err = row.Scan(&id, &existingSize, &existingMtime)

	now := time.Now().UTC().Format(time.RFC3339)

	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.Exec(`INSERT INTO overview_cache
			(file_path, file_size, file_modified_time, max_points, channels, total_samples, samples_processed, completion_percentage, is_complete, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, 0.0, 0, ?, ?)`,
			filePath, fileSize, fileModifiedTime, maxPoints, channelsJSON, totalSamples, now, now)
		if err != nil {
			return nil, fmt.Errorf("overview: insert cache metadata: %w", err)
		}
		newID, _ := res.LastInsertId()
		return s.GetCacheMetadata(newID)
	case err != nil:
		return nil, fmt.Errorf("overview: lookup cache metadata: %w", err)
	case existingSize == fileSize && existingMtime == fileModifiedTime:
		return s.GetCacheMetadata(id)
	default:
		if err := s.DeleteCache(id); err != nil {
			return nil, fmt.Errorf("overview: delete stale cache: %w", err)
		}
		res, err := s.db.Exec(`INSERT INTO overview_cache
			(file_path, file_size, file_modified_time, max_points, channels, total_samples, samples_processed, completion_percentage, is_complete, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, 0.0, 0, ?, ?)`,
			filePath, fileSize, fileModifiedTime, maxPoints, channelsJSON, totalSamples, now, now)
		if err != nil {
			return nil, fmt.Errorf("overview: reinsert cache metadata: %w", err)
		}
		newID, _ := res.LastInsertId()
		return s.GetCacheMetadata(newID)
	}
}

// UpdateProgress advances the samples-processed counter and recomputes
// completion percentage / completeness.
func (s *Store) UpdateProgress(cacheID int64, samplesProcessed, totalSamples int) error {
	pct := 0.0
	if totalSamples > 0 {
		pct = float64(samplesProcessed) / float64(totalSamples) * 100.0
	}
	complete := samplesProcessed >= totalSamples
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`UPDATE overview_cache SET samples_processed = ?, completion_percentage = ?, is_complete = ?, updated_at = ? WHERE id = ?`,
		samplesProcessed, pct, boolToInt(complete), now, cacheID)
	return err
}

// SaveSegment upserts a channel segment's little-endian float64 payload.
func (s *Store) SaveSegment(seg Segment) error {
	buf := make([]byte, 8*len(seg.Data))
	for i, v := range seg.Data {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO overview_cache_data
		(cache_id, channel_index, segment_start, segment_end, data) VALUES (?, ?, ?, ?, ?)`,
		seg.CacheID, seg.ChannelIndex, seg.SegmentStart, seg.SegmentEnd, buf)
	return err
}

// GetSegments returns every segment for a cache, ordered by channel then
// start offset, with the BLOB payload decoded back into []float64.
func (s *Store) GetSegments(cacheID int64) ([]Segment, error) {
	rows, err := s.db.Query(`SELECT channel_index, segment_start, segment_end, data FROM overview_cache_data
		WHERE cache_id = ? ORDER BY channel_index, segment_start`, cacheID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var seg Segment
		var blob []byte
		if err := rows.Scan(&seg.ChannelIndex, &seg.SegmentStart, &seg.SegmentEnd, &blob); err != nil {
			return nil, err
		}
		seg.CacheID = cacheID
		seg.Data = make([]float64, len(blob)/8)
		for i := range seg.Data {
			seg.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

// GetCacheMetadata fetches one cache row by id.
func (s *Store) GetCacheMetadata(cacheID int64) (*Metadata, error) {
	row := s.db.QueryRow(`SELECT id, file_path, file_size, file_modified_time, max_points, channels, total_samples, samples_processed, completion_percentage, is_complete, created_at, updated_at
		FROM overview_cache WHERE id = ?`, cacheID)
	return scanMetadata(row)
}

func scanMetadata(row *sql.Row) (*Metadata, error) {
	var m Metadata
	var channelsJSON string
	var isComplete int
	if err := row.Scan(&m.ID, &m.FilePath, &m.FileSize, &m.FileModifiedTime, &m.MaxPoints, &channelsJSON,
		&m.TotalSamples, &m.SamplesProcessed, &m.CompletionPercentage, &isComplete, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Channels = decodeChannels(channelsJSON)
	m.IsComplete = isComplete != 0
	return &m, nil
}

// DeleteCache removes a cache row; segments cascade via the foreign key.
func (s *Store) DeleteCache(cacheID int64) error {
	_, err := s.db.Exec(`DELETE FROM overview_cache WHERE id = ?`, cacheID)
	return err
}

// GetIncompleteCaches returns every cache not yet fully built, most recently
// updated first, so a composition root can resume or report in-flight
// overview builds after a process restart.
func (s *Store) GetIncompleteCaches() ([]Metadata, error) {
	rows, err := s.db.Query(`SELECT id, file_path, file_size, file_modified_time, max_points, channels, total_samples, samples_processed, completion_percentage, is_complete, created_at, updated_at
		FROM overview_cache WHERE is_complete = 0 ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		var m Metadata
		var channelsJSON string
		var isComplete int
		if err := rows.Scan(&m.ID, &m.FilePath, &m.FileSize, &m.FileModifiedTime, &m.MaxPoints, &channelsJSON,
			&m.TotalSamples, &m.SamplesProcessed, &m.CompletionPercentage, &isComplete, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Channels = decodeChannels(channelsJSON)
		m.IsComplete = isComplete != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetLastSegmentEnd returns the highest segment_end recorded for a channel,
// used by the decimation worker to know where to resume.
func (s *Store) GetLastSegmentEnd(cacheID int64, channelIndex int) (int, bool, error) {
	row := s.db.QueryRow(`SELECT MAX(segment_end) FROM overview_cache_data WHERE cache_id = ? AND channel_index = ?`, cacheID, channelIndex)
	var end sql.NullInt64
	if err := row.Scan(&end); err != nil {
		return 0, false, err
	}
	if !end.Valid {
		return 0, false, nil
	}
	return int(end.Int64), true, nil
}

// QueryProgress reports cache status for a (filePath, maxPoints, channels)
// key without requiring the caller to already know the cache id. An empty
// channels filter matches any cached channel set, mirroring the original's
// `(channels = ?3 OR ?3 = ”)` wildcard.
func (s *Store) QueryProgress(filePath string, maxPoints int, channels []string) (*ProgressSummary, error) {
	channelsJSON, err := encodeChannels(channels)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		channelsJSON = ""
	}

	row := s.db.QueryRow(`SELECT completion_percentage, is_complete, samples_processed, total_samples
		FROM overview_cache WHERE file_path = ? AND max_points = ? AND (channels = ? OR ? = '')
		ORDER BY updated_at DESC LIMIT 1`, filePath, maxPoints, channelsJSON, channelsJSON)

	var pct float64
	var isComplete int
	var processed, total int
	err = row.Scan(&pct, &isComplete, &processed, &total)
	if err == sql.ErrNoRows {
		return &ProgressSummary{HasCache: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &ProgressSummary{
		HasCache:             true,
		CompletionPercentage: pct,
		IsComplete:           isComplete != 0,
		SamplesProcessed:     processed,
		TotalSamples:         total,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
