package federation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/ocx/backend/internal/ddaerr"
)

// Store is a Postgres-backed federation trust graph.
type Store struct {
	db        *sql.DB
	directory *Directory
}

// Open connects to Postgres using a lib/pq DSN. dir may be nil to disable
// Supabase-backed display-name resolution, in which case the Postgres
// `institutions` join is used as-is.
func Open(dsn string, dir *Directory) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("federation: open: %w", err)
	}
	return &Store{db: db, directory: dir}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// CreateInvite inserts a new pending federation invite.
func (s *Store) CreateInvite(fromInstitutionID, token, createdByUserID string, ttl time.Duration) (*Invite, error) {
	now := time.Now()
	expires := now.Add(ttl)
	var id string
	err := s.db.QueryRow(`INSERT INTO federation_invites
		(from_institution_id, token, created_by_user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		fromInstitutionID, token, createdByUserID, now, expires).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("federation: create invite: %w", err)
	}
	return &Invite{
		ID: id, FromInstitutionID: fromInstitutionID, Token: token,
		CreatedByUserID: createdByUserID, CreatedAt: now, ExpiresAt: expires,
	}, nil
}

func scanInvite(row *sql.Row) (*Invite, error) {
	var inv Invite
	var to sql.NullString
	var accepted, revoked sql.NullTime
	err := row.Scan(&inv.ID, &inv.FromInstitutionID, &to, &inv.Token, &inv.CreatedByUserID,
		&inv.CreatedAt, &inv.ExpiresAt, &accepted, &revoked)
	if err != nil {
		return nil, err
	}
	if to.Valid {
		inv.ToInstitutionID = &to.String
	}
	if accepted.Valid {
		inv.AcceptedAt = &accepted.Time
	}
	if revoked.Valid {
		inv.RevokedAt = &revoked.Time
	}
	return &inv, nil
}

// GetInvite fetches an invite by id.
func (s *Store) GetInvite(id string) (*Invite, error) {
	row := s.db.QueryRow(`SELECT id, from_institution_id, to_institution_id, token, created_by_user_id, created_at, expires_at, accepted_at, revoked_at
		FROM federation_invites WHERE id = $1`, id)
	return scanInvite(row)
}

// GetInviteByToken fetches an invite by its bearer token.
func (s *Store) GetInviteByToken(token string) (*Invite, error) {
	row := s.db.QueryRow(`SELECT id, from_institution_id, to_institution_id, token, created_by_user_id, created_at, expires_at, accepted_at, revoked_at
		FROM federation_invites WHERE token = $1`, token)
	return scanInvite(row)
}

// AcceptInvite validates and accepts a pending invite, then upserts a Full
// trust edge between the two institutions (reviving a previously-revoked
// edge rather than erroring on conflict).
func (s *Store) AcceptInvite(inviteID, acceptingInstitutionID, acceptingUserID string) (*Trust, error) {
	invite, err := s.GetInvite(inviteID)
	if err != nil {
		return nil, fmt.Errorf("federation: fetch invite: %w", err)
	}
	if invite.AcceptedAt != nil || invite.RevokedAt != nil || time.Now().After(invite.ExpiresAt) {
		return nil, ddaerr.ErrInviteExpired(inviteID)
	}

	now := time.Now()
	if _, err := s.db.Exec(`UPDATE federation_invites SET accepted_at = $1, to_institution_id = $2 WHERE id = $3`,
		now, acceptingInstitutionID, inviteID); err != nil {
		return nil, fmt.Errorf("federation: mark invite accepted: %w", err)
	}

	a, b := canonicalPair(invite.FromInstitutionID, acceptingInstitutionID)
	_, err = s.db.Exec(`INSERT INTO federation_trusts (institution_a, institution_b, trust_level, established_at)
		VALUES ($1, $2, 'full', $3)
		ON CONFLICT (institution_a, institution_b) DO UPDATE SET trust_level = 'full', revoked_at = NULL, revoked_by = NULL`,
		a, b, now)
	if err != nil {
		return nil, fmt.Errorf("federation: upsert trust: %w", err)
	}

	slog.Info("federation: invite accepted", "invite_id", inviteID, "institution_a", a, "institution_b", b, "accepted_by", acceptingUserID)

	return &Trust{InstitutionA: a, InstitutionB: b, TrustLevel: TrustFull, EstablishedAt: now}, nil
}

// RevokeInvite marks an invite revoked; no-ops-with-error if already revoked.
func (s *Store) RevokeInvite(inviteID string) error {
	res, err := s.db.Exec(`UPDATE federation_invites SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, inviteID)
	if err != nil {
		return fmt.Errorf("federation: revoke invite: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ddaerr.ErrInviteNotFound(inviteID)
	}
	return nil
}

// ListPendingInvites returns unexpired, unaccepted, unrevoked invites from an institution.
func (s *Store) ListPendingInvites(institutionID string) ([]Invite, error) {
	rows, err := s.db.Query(`SELECT id, from_institution_id, to_institution_id, token, created_by_user_id, created_at, expires_at, accepted_at, revoked_at
		FROM federation_invites
		WHERE from_institution_id = $1 AND accepted_at IS NULL AND revoked_at IS NULL AND expires_at > NOW()`, institutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invite
	for rows.Next() {
		var inv Invite
		var to sql.NullString
		var accepted, revoked sql.NullTime
		if err := rows.Scan(&inv.ID, &inv.FromInstitutionID, &to, &inv.Token, &inv.CreatedByUserID,
			&inv.CreatedAt, &inv.ExpiresAt, &accepted, &revoked); err != nil {
			return nil, err
		}
		if to.Valid {
			inv.ToInstitutionID = &to.String
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func scanTrust(row *sql.Row) (*Trust, error) {
	var t Trust
	var levelStr string
	var revokedAt sql.NullTime
	var revokedBy sql.NullString
	if err := row.Scan(&t.InstitutionA, &t.InstitutionB, &levelStr, &t.EstablishedAt, &revokedAt, &revokedBy); err != nil {
		return nil, err
	}
	t.TrustLevel = ParseTrustLevel(levelStr)
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	if revokedBy.Valid {
		t.RevokedBy = &revokedBy.String
	}
	return &t, nil
}

// GetTrust fetches the canonical trust edge between two institutions, if any.
func (s *Store) GetTrust(instA, instB string) (*Trust, error) {
	a, b := canonicalPair(instA, instB)
	row := s.db.QueryRow(`SELECT institution_a, institution_b, trust_level, established_at, revoked_at, revoked_by
		FROM federation_trusts WHERE institution_a = $1 AND institution_b = $2`, a, b)
	return scanTrust(row)
}

// ListTrusts returns every non-revoked trust edge touching an institution.
func (s *Store) ListTrusts(institutionID string) ([]Trust, error) {
	rows, err := s.db.Query(`SELECT institution_a, institution_b, trust_level, established_at, revoked_at, revoked_by
		FROM federation_trusts WHERE (institution_a = $1 OR institution_b = $1) AND revoked_at IS NULL`, institutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trust
	for rows.Next() {
		var t Trust
		var levelStr string
		var revokedAt sql.NullTime
		var revokedBy sql.NullString
		if err := rows.Scan(&t.InstitutionA, &t.InstitutionB, &levelStr, &t.EstablishedAt, &revokedAt, &revokedBy); err != nil {
			return nil, err
		}
		t.TrustLevel = ParseTrustLevel(levelStr)
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTrustLevel changes the trust level of an existing edge.
func (s *Store) UpdateTrustLevel(instA, instB string, level TrustLevel, actor string) error {
	a, b := canonicalPair(instA, instB)
	_, err := s.db.Exec(`UPDATE federation_trusts SET trust_level = $1 WHERE institution_a = $2 AND institution_b = $3`, string(level), a, b)
	if err != nil {
		return fmt.Errorf("federation: update trust level: %w", err)
	}
	slog.Info("federation: trust level changed", "institution_a", a, "institution_b", b, "new_level", level, "actor", actor)
	return nil
}

// RevokeTrust sets a trust edge's level to Revoked and records who did it.
func (s *Store) RevokeTrust(instA, instB, revokedBy string) error {
	a, b := canonicalPair(instA, instB)
	res, err := s.db.Exec(`UPDATE federation_trusts SET trust_level = 'revoked', revoked_at = NOW(), revoked_by = $1
		WHERE institution_a = $2 AND institution_b = $3 AND revoked_at IS NULL`, revokedBy, a, b)
	if err != nil {
		return fmt.Errorf("federation: revoke trust: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Info("federation: trust revoked", "institution_a", a, "institution_b", b, "revoked_by", revokedBy, "rows_affected", n)
	return nil
}

// AreFederated reports whether two institutions share a live, non-revoked trust edge.
func (s *Store) AreFederated(instA, instB string) (bool, error) {
	a, b := canonicalPair(instA, instB)
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM federation_trusts
		WHERE institution_a = $1 AND institution_b = $2 AND revoked_at IS NULL AND trust_level != 'revoked')`, a, b).Scan(&exists)
	return exists, err
}

// GetFederatedInstitutions lists the "other side" of every live trust edge
// touching institutionID, enriched with its display name and a count of
// institution-scoped shared results it owns.
func (s *Store) GetFederatedInstitutions(institutionID string) ([]FederatedInstitution, error) {
	rows, err := s.db.Query(`
		SELECT other_id, i.name, ft.trust_level, COALESCE(sc.shared_count, 0)
		FROM (
			SELECT CASE WHEN institution_a = $1 THEN institution_b ELSE institution_a END AS other_id,
			       trust_level
			FROM federation_trusts
			WHERE (institution_a = $1 OR institution_b = $1) AND revoked_at IS NULL AND trust_level != 'revoked'
		) ft
		JOIN institutions i ON i.id = ft.other_id
		LEFT JOIN (
			SELECT owner_institution_id, COUNT(*) AS shared_count
			FROM shared_results
			WHERE access_policy->>'type' = 'institution'
			GROUP BY owner_institution_id
		) sc ON sc.owner_institution_id = ft.other_id
		ORDER BY i.name`, institutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FederatedInstitution
	for rows.Next() {
		var fi FederatedInstitution
		var levelStr string
		if err := rows.Scan(&fi.InstitutionID, &fi.Name, &levelStr, &fi.SharedCount); err != nil {
			return nil, err
		}
		fi.TrustLevel = ParseTrustLevel(levelStr)
		if d := s.directory; d != nil {
			fi.Name = d.DisplayName(context.Background(), fi.InstitutionID)
		}
		out = append(out, fi)
	}
	return out, rows.Err()
}
