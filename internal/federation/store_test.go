package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTrustLevel(t *testing.T) {
	assert.Equal(t, TrustFull, ParseTrustLevel("full"))
	assert.Equal(t, TrustReadOnly, ParseTrustLevel("read_only"))
	assert.Equal(t, TrustRevoked, ParseTrustLevel("revoked"))
	assert.Equal(t, TrustFull, ParseTrustLevel("garbage"))
}

func TestCanonicalPairOrdering(t *testing.T) {
	a, b := canonicalPair("zzz", "aaa")
	assert.Equal(t, "aaa", a)
	assert.Equal(t, "zzz", b)

	a, b = canonicalPair("aaa", "zzz")
	assert.Equal(t, "aaa", a)
	assert.Equal(t, "zzz", b)
}
