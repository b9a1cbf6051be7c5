package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSubmissionAppliesServerPathAndDefaultUser(t *testing.T) {
	userID, req, ok, err := decodeSubmission([]byte(`{"server_path": "recordings/a.edf", "parameters": {"WindowLength": 100}}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "pubsub-ingress", userID)
	assert.Equal(t, "recordings/a.edf", req.FilePath)
	assert.Equal(t, 100, req.WindowLength)
}

func TestDecodeSubmissionKeepsExplicitUser(t *testing.T) {
	userID, _, ok, err := decodeSubmission([]byte(`{"user_id": "svc-ingest", "server_path": "a.edf"}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "svc-ingest", userID)
}

func TestDecodeSubmissionRejectsMissingServerPath(t *testing.T) {
	_, _, ok, err := decodeSubmission([]byte(`{"user_id": "svc-ingest"}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeSubmissionRejectsMalformedJSON(t *testing.T) {
	_, _, ok, err := decodeSubmission([]byte(`not json`))
	assert.Error(t, err)
	assert.False(t, ok)
}
