package federation

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"
	"github.com/spiffe/go-spiffe/v2/workloadapi"

	"github.com/ocx/backend/internal/circuitbreaker"
)

// PeerIdentity is the SPIFFE workload identity of one side of a federation
// handshake: the institution id is recovered from the trust domain, so the
// SPIFFE ID itself is the durable proof of "who this peer claims to be".
type PeerIdentity struct {
	SPIFFEID      spiffeid.ID
	InstitutionID string
	VerifiedAt    time.Time
}

// PeerVerifier authenticates the remote side of a federation invite
// acceptance using mutual TLS workload identity (SPIFFE/SPIRE), instead of
// trusting the institution id supplied in the invite's JSON body. It fetches
// SVIDs from a local SPIRE Workload API socket.
type PeerVerifier struct {
	source      *workloadapi.X509Source
	trustDomain string
}

// NewPeerVerifier opens a workload API source against socketPath (typically
// the default SPIRE agent socket) scoped to trustDomain, e.g. "ddalab.org".
func NewPeerVerifier(ctx context.Context, socketPath, trustDomain string) (*PeerVerifier, error) {
	source, err := workloadapi.NewX509Source(ctx, workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)))
	if err != nil {
		return nil, fmt.Errorf("federation: open spiffe workload source: %w", err)
	}
	return &PeerVerifier{source: source, trustDomain: trustDomain}, nil
}

// Close releases the workload API connection.
func (v *PeerVerifier) Close() error {
	if v == nil || v.source == nil {
		return nil
	}
	return v.source.Close()
}

// VerifyPeer validates a peer's X.509 SVID presented during a federation
// handshake: that at least one certificate is present, the leaf's validity
// window, and that the SPIFFE ID's trust domain matches institutionID's
// expected domain. The chain's signatures are not checked against a trust
// bundle. A
// successfully-verified peer is trusted to be institutionID for the
// purposes of establishing or renewing a Trust edge.
func (v *PeerVerifier) VerifyPeer(svid *x509svid.SVID, institutionID string) (PeerIdentity, error) {
	if len(svid.Certificates) == 0 {
		return PeerIdentity{}, errors.New("federation: peer svid has no certificates")
	}
	leaf := svid.Certificates[0]
	now := time.Now()
	if now.After(leaf.NotAfter) {
		return PeerIdentity{}, errors.New("federation: peer certificate expired")
	}
	if now.Before(leaf.NotBefore) {
		return PeerIdentity{}, errors.New("federation: peer certificate not yet valid")
	}

	id, err := spiffeid.FromString(svid.ID.String())
	if err != nil {
		return PeerIdentity{}, fmt.Errorf("federation: invalid peer spiffe id: %w", err)
	}
	expected := peerTrustDomain(v.trustDomain, institutionID)
	if id.TrustDomain().String() != expected {
		return PeerIdentity{}, fmt.Errorf("federation: peer trust domain %q does not match expected %q", id.TrustDomain(), expected)
	}

	slog.Info("federation peer handshake verified", "institution_id", institutionID, "spiffe_id", id.String())
	return PeerIdentity{SPIFFEID: id, InstitutionID: institutionID, VerifiedAt: now}, nil
}

// VerifyPeerCertChain is the mTLS entry point: it turns the peer certificate
// chain net/http's http.Server captured during the TLS handshake into a
// SPIFFE SVID and verifies it, gated by the federation-peer circuit breaker
// so a flapping peer agent can't stall invite acceptance indefinitely.
func (v *PeerVerifier) VerifyPeerCertChain(breakers *circuitbreaker.FederationCircuitBreakers, peerCerts []*x509.Certificate, institutionID string) (PeerIdentity, error) {
	if v == nil {
		return PeerIdentity{}, errors.New("federation: peer verifier not configured")
	}
	if len(peerCerts) == 0 {
		return PeerIdentity{}, errors.New("federation: no peer certificate presented")
	}

	id, err := x509svid.IDFromCert(peerCerts[0])
	if err != nil {
		return PeerIdentity{}, fmt.Errorf("federation: extract spiffe id from peer cert: %w", err)
	}
	svid := &x509svid.SVID{ID: id, Certificates: peerCerts}

	identity, err := circuitbreaker.ExecuteWithFallback(
		breakers.PeerEndpoint,
		func() (PeerIdentity, error) { return v.VerifyPeer(svid, institutionID) },
		func(err error) (PeerIdentity, error) { return PeerIdentity{}, err },
	)
	return identity, err
}

// peerTrustDomain derives the SPIFFE trust domain a peer institution is
// expected to present: each federation member runs under a subdomain of the
// deployment's root trust domain, keyed by institution id.
func peerTrustDomain(root, institutionID string) string {
	return institutionID + "." + root
}

// GenerateNonce returns 32 bytes of cryptographically secure randomness,
// hex-encoded, used to defend invite-token exchange against replay.
func GenerateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("federation: generate nonce: %w", err)
	}
	return hex.EncodeToString(nonce), nil
}

// SignInviteChallenge HMAC-SHA256s a nonce with the invite token as key,
// binding a handshake challenge to one specific invite so a captured
// challenge can't be replayed against a different invite.
func SignInviteChallenge(nonce, inviteToken string) (string, error) {
	if nonce == "" || inviteToken == "" {
		return "", errors.New("federation: nonce and invite token must not be empty")
	}
	h := hmac.New(sha256.New, []byte(inviteToken))
	h.Write([]byte(nonce))
	return hex.EncodeToString(h.Sum(nil)), nil
}
