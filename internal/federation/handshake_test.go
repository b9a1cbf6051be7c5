package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/backend/internal/circuitbreaker"
)

func TestGenerateNonceIsUniqueAndHexEncoded(t *testing.T) {
	a, err := GenerateNonce()
	require.NoError(t, err)
	b, err := GenerateNonce()
	require.NoError(t, err)

	assert.Len(t, a, 64) // 32 bytes hex-encoded
	assert.NotEqual(t, a, b)
}

func TestSignInviteChallengeIsDeterministicPerToken(t *testing.T) {
	nonce := "abc123"
	sig1, err := SignInviteChallenge(nonce, "invite-token-1")
	require.NoError(t, err)
	sig2, err := SignInviteChallenge(nonce, "invite-token-1")
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)

	sig3, err := SignInviteChallenge(nonce, "invite-token-2")
	require.NoError(t, err)
	assert.NotEqual(t, sig1, sig3)
}

func TestSignInviteChallengeRejectsEmptyInputs(t *testing.T) {
	_, err := SignInviteChallenge("", "invite-token")
	assert.Error(t, err)

	_, err = SignInviteChallenge("nonce", "")
	assert.Error(t, err)
}

func TestPeerTrustDomainScopesByInstitution(t *testing.T) {
	assert.Equal(t, "hospital-a.ddalab.org", peerTrustDomain("ddalab.org", "hospital-a"))
	assert.NotEqual(t, peerTrustDomain("ddalab.org", "hospital-a"), peerTrustDomain("ddalab.org", "hospital-b"))
}

func TestVerifyPeerCertChainRejectsNilVerifier(t *testing.T) {
	var v *PeerVerifier
	_, err := v.VerifyPeerCertChain(circuitbreaker.NewFederationCircuitBreakers(), nil, "hospital-a")
	assert.Error(t, err)
}

func TestVerifyPeerCertChainRejectsMissingCertificate(t *testing.T) {
	v := &PeerVerifier{trustDomain: "ddalab.org"}
	_, err := v.VerifyPeerCertChain(circuitbreaker.NewFederationCircuitBreakers(), nil, "hospital-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no peer certificate")
}
