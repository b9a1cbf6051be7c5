package syncbroker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/backend/internal/session"
)

type fakeShareStore struct {
	published map[string]ShareMetadata
	revoked   map[string]bool
	accessOK  bool
}

func newFakeShareStore() *fakeShareStore {
	return &fakeShareStore{published: make(map[string]ShareMetadata), revoked: make(map[string]bool), accessOK: true}
}

func (f *fakeShareStore) PublishResult(token string, metadata ShareMetadata) error {
	f.published[token] = metadata
	return nil
}
func (f *fakeShareStore) RevokeShare(token string) error { f.revoked[token] = true; return nil }
func (f *fakeShareStore) ListUserShares(userID string) ([]ShareSummary, error) {
	var out []ShareSummary
	for token, m := range f.published {
		if m.OwnerUserID == userID {
			out = append(out, ShareSummary{Token: token, ResultID: m.ResultID})
		}
	}
	return out, nil
}
func (f *fakeShareStore) GetMetadata(token string) (ShareMetadata, error) {
	m, ok := f.published[token]
	if !ok {
		return ShareMetadata{}, assert.AnError
	}
	return m, nil
}
func (f *fakeShareStore) CheckAccess(token, requesterID string) (bool, error) { return f.accessOK, nil }

func newTestBroker() (*Broker, *fakeShareStore) {
	store := newFakeShareStore()
	b := NewBroker(NewRegistry(0), store, session.NewManager(3600), "test-inst", "1.0.0", "", false)
	return b, store
}

func TestRegisterUserNoAuthRequired(t *testing.T) {
	b, _ := newTestBroker()
	var userID string
	resp := b.handleSyncMessage(SyncMessage{Type: "RegisterUser", UserID: "alice", Endpoint: "http://alice:8080"}, &userID)
	require.NotNil(t, resp)
	assert.Equal(t, "Connected", resp.Type)
	assert.Equal(t, "alice", userID)
	assert.True(t, b.Registry.IsOnline("alice"))
}

func TestRegisterUserRequiresAuthFailsWithoutCreds(t *testing.T) {
	b, _ := newTestBroker()
	b.RequireAuth = true
	var userID string
	resp := b.handleSyncMessage(SyncMessage{Type: "RegisterUser", UserID: "alice"}, &userID)
	require.NotNil(t, resp)
	assert.Equal(t, "Error", resp.Type)
	assert.Equal(t, "AUTH_FAILED", resp.Code)
}

func TestRegisterUserRequiresAuthSucceedsWithSessionToken(t *testing.T) {
	b, _ := newTestBroker()
	b.RequireAuth = true
	token, _, err := b.Sessions.CreateSession("alice", nil)
	require.NoError(t, err)

	var userID string
	resp := b.handleSyncMessage(SyncMessage{Type: "RegisterUser", UserID: "alice", SessionToken: token}, &userID)
	require.NotNil(t, resp)
	assert.Equal(t, "Connected", resp.Type)
}

func TestHeartbeatUnknownUser(t *testing.T) {
	b, _ := newTestBroker()
	var userID string
	resp := b.handleSyncMessage(SyncMessage{Type: "Heartbeat", UserID: "ghost"}, &userID)
	require.NotNil(t, resp)
	assert.Equal(t, "USER_NOT_FOUND", resp.Code)
}

func TestPublishShareRequiresAuth(t *testing.T) {
	b, _ := newTestBroker()
	var userID string
	meta, _ := json.Marshal(ShareMetadata{OwnerUserID: "alice", ResultID: "r1"})
	resp := b.handleSyncMessage(SyncMessage{Type: "PublishShare", Token: "tok1", Metadata: meta}, &userID)
	require.NotNil(t, resp)
	assert.Equal(t, "AUTH_REQUIRED", resp.Code)
}

func TestPublishShareRejectsOtherUsersShare(t *testing.T) {
	b, _ := newTestBroker()
	userID := "bob"
	meta, _ := json.Marshal(ShareMetadata{OwnerUserID: "alice", ResultID: "r1"})
	resp := b.handleSyncMessage(SyncMessage{Type: "PublishShare", Token: "tok1", Metadata: meta}, &userID)
	require.NotNil(t, resp)
	assert.Equal(t, "FORBIDDEN", resp.Code)
}

func TestPublishAndRequestShare(t *testing.T) {
	b, store := newTestBroker()
	userID := "alice"
	meta, _ := json.Marshal(ShareMetadata{OwnerUserID: "alice", ResultID: "r1"})
	resp := b.handleSyncMessage(SyncMessage{Type: "PublishShare", Token: "tok1", Metadata: meta}, &userID)
	require.NotNil(t, resp)
	assert.Equal(t, "Ack", resp.Type)
	assert.Contains(t, store.published, "tok1")

	resp = b.handleSyncMessage(SyncMessage{Type: "RequestShare", Token: "tok1", RequesterID: "carol"}, &userID)
	require.NotNil(t, resp)
	assert.Equal(t, "ShareInfo", resp.Type)
	assert.False(t, resp.Info.OwnerOnline)
}

func TestBackupStateNotImplemented(t *testing.T) {
	b, _ := newTestBroker()
	var userID string
	resp := b.handleSyncMessage(SyncMessage{Type: "BackupState", UserID: "alice"}, &userID)
	require.NotNil(t, resp)
	assert.Equal(t, "NOT_IMPLEMENTED", resp.Code)
}

func TestResponseTypeMessagesIgnored(t *testing.T) {
	b, _ := newTestBroker()
	var userID string
	resp := b.handleSyncMessage(SyncMessage{Type: "Ack"}, &userID)
	assert.Nil(t, resp)
}
