// Package federation implements the bilateral institution trust graph:
// invite issuance/acceptance, canonically-ordered trust edges, and
// institution directory lookups for the sync broker's cross-institution
// share resolution.
package federation

import "time"

// TrustLevel is the binary trust state of a federation edge.
type TrustLevel string

const (
	TrustFull     TrustLevel = "full"
	TrustReadOnly TrustLevel = "read_only"
	TrustRevoked  TrustLevel = "revoked"
)

// ParseTrustLevel maps a stored string to a TrustLevel, defaulting to Full
// for any unrecognized value — matching the original store's permissive
// parse, which favors availability over silently dropping a trust edge.
func ParseTrustLevel(s string) TrustLevel {
	switch TrustLevel(s) {
	case TrustFull, TrustReadOnly, TrustRevoked:
		return TrustLevel(s)
	default:
		return TrustFull
	}
}

// Invite is a pending or resolved federation invitation from one
// institution to another.
type Invite struct {
	ID                string     `json:"id"`
	FromInstitutionID string     `json:"from_institution_id"`
	ToInstitutionID   *string    `json:"to_institution_id,omitempty"`
	Token             string     `json:"token"`
	CreatedByUserID   string     `json:"created_by_user_id"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
}

// Trust is a canonically-ordered bilateral trust edge: InstitutionA is
// always the lexicographically (byte-wise string comparison) smaller of the
// pair, whatever the id scheme.
type Trust struct {
	InstitutionA  string     `json:"institution_a"`
	InstitutionB  string     `json:"institution_b"`
	TrustLevel    TrustLevel `json:"trust_level"`
	EstablishedAt time.Time  `json:"established_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedBy     *string    `json:"revoked_by,omitempty"`
}

// FederatedInstitution is one row of get_federated_institutions: the "other
// side" of a trust edge, enriched with its display name and share count.
type FederatedInstitution struct {
	InstitutionID string     `json:"institution_id"`
	Name          string     `json:"name"`
	TrustLevel    TrustLevel `json:"trust_level"`
	SharedCount   int        `json:"shared_count"`
}

// canonicalPair orders two institution ids so the same pair always maps to
// the same (a, b) regardless of call order.
func canonicalPair(x, y string) (string, string) {
	if x < y {
		return x, y
	}
	return y, x
}
