package syncbroker

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresShareStore is the concrete ShareStore backing the sync broker's
// PublishShare/RequestShare/RevokeShare/ListMyShares messages, persisting
// to the same `shared_results` table internal/federation.Store reads from
// when enriching GetFederatedInstitutions with a shared-result count.
type PostgresShareStore struct {
	db *sql.DB
}

// OpenShareStore connects to Postgres using a lib/pq DSN.
func OpenShareStore(dsn string) (*PostgresShareStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("syncbroker: open: %w", err)
	}
	return &PostgresShareStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *PostgresShareStore) Close() error { return s.db.Close() }

// PublishResult upserts a share token's metadata.
func (s *PostgresShareStore) PublishResult(token string, metadata ShareMetadata) error {
	props, err := json.Marshal(metadata.Properties)
	if err != nil {
		return fmt.Errorf("syncbroker: marshal properties: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO shared_results (token, owner_user_id, result_id, properties, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (token) DO UPDATE SET owner_user_id = $2, result_id = $3, properties = $4, revoked_at = NULL`,
		token, metadata.OwnerUserID, metadata.ResultID, props)
	if err != nil {
		return fmt.Errorf("syncbroker: publish result: %w", err)
	}
	return nil
}

// RevokeShare marks a share token revoked; it stays in the table so
// ListMyShares history remains intact but CheckAccess/GetMetadata reject it.
func (s *PostgresShareStore) RevokeShare(token string) error {
	_, err := s.db.Exec(`UPDATE shared_results SET revoked_at = NOW() WHERE token = $1 AND revoked_at IS NULL`, token)
	if err != nil {
		return fmt.Errorf("syncbroker: revoke share: %w", err)
	}
	return nil
}

// ListUserShares returns every non-revoked share token owned by userID.
func (s *PostgresShareStore) ListUserShares(userID string) ([]ShareSummary, error) {
	rows, err := s.db.Query(`SELECT token, result_id FROM shared_results WHERE owner_user_id = $1 AND revoked_at IS NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("syncbroker: list user shares: %w", err)
	}
	defer rows.Close()

	var out []ShareSummary
	for rows.Next() {
		var s ShareSummary
		if err := rows.Scan(&s.Token, &s.ResultID); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetMetadata fetches a share token's metadata, if it exists and is not revoked.
func (s *PostgresShareStore) GetMetadata(token string) (ShareMetadata, error) {
	var md ShareMetadata
	var props []byte
	err := s.db.QueryRow(`SELECT owner_user_id, result_id, properties FROM shared_results
		WHERE token = $1 AND revoked_at IS NULL`, token).Scan(&md.OwnerUserID, &md.ResultID, &props)
	if err != nil {
		return ShareMetadata{}, fmt.Errorf("syncbroker: get metadata: %w", err)
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &md.Properties); err != nil {
			return ShareMetadata{}, fmt.Errorf("syncbroker: unmarshal properties: %w", err)
		}
	}
	return md, nil
}

// CheckAccess reports whether requesterID may resolve token. Every live
// share is institution-wide for now; per-user ACLs are not modeled.
func (s *PostgresShareStore) CheckAccess(token, requesterID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM shared_results WHERE token = $1 AND revoked_at IS NULL)`, token).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("syncbroker: check access: %w", err)
	}
	return exists, nil
}
