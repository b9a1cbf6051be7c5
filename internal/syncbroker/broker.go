package syncbroker

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/ocx/backend/internal/session"
)

// ShareStore is the subset of share-storage operations the sync broker
// needs; PostgresShareStore in store.go is the concrete implementation.
type ShareStore interface {
	PublishResult(token string, metadata ShareMetadata) error
	RevokeShare(token string) error
	ListUserShares(userID string) ([]ShareSummary, error)
	GetMetadata(token string) (ShareMetadata, error)
	CheckAccess(token, requesterID string) (bool, error)
}

// Broker holds the shared state every sync connection dispatches against.
type Broker struct {
	Registry      *Registry
	Shares        ShareStore
	Sessions      *session.Manager
	Institution   string
	ServerVersion string
	PasswordHash  string // bcrypt hash; empty disables password-based auth
	RequireAuth   bool

	upgrader websocket.Upgrader
}

// NewBroker constructs a sync broker.
func NewBroker(registry *Registry, shares ShareStore, sessions *session.Manager, institution, serverVersion, passwordHash string, requireAuth bool) *Broker {
	return &Broker{
		Registry: registry, Shares: shares, Sessions: sessions,
		Institution: institution, ServerVersion: serverVersion,
		PasswordHash: passwordHash, RequireAuth: requireAuth,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// HandleWebSocket upgrades an HTTP request and drives one connection's
// message loop until the client disconnects.
func (b *Broker) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("syncbroker: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var currentUserID string
	defer func() {
		if currentUserID != "" {
			b.Registry.Disconnect(currentUserID)
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.CloseMessage:
			return
		case websocket.PingMessage:
			_ = conn.WriteMessage(websocket.PongMessage, nil)
			continue
		case websocket.TextMessage:
			var msg SyncMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = conn.WriteJSON(errMsg("could not parse message", "PARSE_ERROR"))
				continue
			}
			resp := b.handleSyncMessage(msg, &currentUserID)
			if resp != nil {
				if err := conn.WriteJSON(resp); err != nil {
					return
				}
			}
		}
	}
}

func (b *Broker) handleSyncMessage(msg SyncMessage, currentUserID *string) *SyncMessage {
	switch msg.Type {
	case "RegisterUser":
		return b.handleRegisterUser(msg, currentUserID)
	case "Heartbeat":
		if b.Registry.Heartbeat(msg.UserID) {
			r := ack(nil)
			return &r
		}
		r := errMsg("user not registered", "USER_NOT_FOUND")
		return &r
	case "Disconnect":
		b.Registry.Disconnect(msg.UserID)
		*currentUserID = ""
		r := ack(nil)
		return &r
	case "PublishShare":
		return b.handlePublishShare(msg, *currentUserID)
	case "RequestShare":
		return b.handleRequestShare(msg)
	case "RevokeShare":
		if err := b.Shares.RevokeShare(msg.Token); err != nil {
			r := errMsg(err.Error(), "REVOKE_ERROR")
			return &r
		}
		r := ack(nil)
		return &r
	case "ListMyShares":
		shares, err := b.Shares.ListUserShares(msg.UserID)
		if err != nil {
			r := errMsg(err.Error(), "LIST_ERROR")
			return &r
		}
		r := SyncMessage{Type: "ShareList", Shares: shares}
		return &r
	case "BackupState", "RestoreState":
		slog.Warn("syncbroker: backup/restore requested but not implemented", "type", msg.Type, "user_id", msg.UserID)
		r := errMsg(msg.Type+" is not yet implemented", "NOT_IMPLEMENTED")
		return &r
	case "Ack", "Error", "ShareInfo", "ShareList", "Connected":
		slog.Warn("syncbroker: ignoring response-type message received as a request", "type", msg.Type)
		return nil
	default:
		r := errMsg("unknown message type: "+msg.Type, "UNKNOWN_TYPE")
		return &r
	}
}

func (b *Broker) handleRegisterUser(msg SyncMessage, currentUserID *string) *SyncMessage {
	if b.RequireAuth {
		authed := false
		if msg.SessionToken != "" {
			_, userID, ok := b.Sessions.ValidateToken(msg.SessionToken)
			authed = ok && userID == msg.UserID
		} else if b.PasswordHash != "" {
			authed = bcrypt.CompareHashAndPassword([]byte(b.PasswordHash), []byte(msg.Password)) == nil
		}
		if !authed {
			r := errMsg("invalid credentials", "AUTH_FAILED")
			return &r
		}
	}

	outcome, _ := b.Registry.Register(msg.UserID, msg.Endpoint)
	switch outcome {
	case RegisterOK, RegisterReplaced:
		*currentUserID = msg.UserID
		r := SyncMessage{Type: "Connected", ServerVersion: b.ServerVersion, Institution: b.Institution, UserID: msg.UserID}
		return &r
	default:
		r := errMsg("server at capacity", "SERVER_FULL")
		return &r
	}
}

func (b *Broker) handlePublishShare(msg SyncMessage, currentUserID string) *SyncMessage {
	if currentUserID == "" {
		r := errMsg("authentication required", "AUTH_REQUIRED")
		return &r
	}
	var meta ShareMetadata
	if err := json.Unmarshal(msg.Metadata, &meta); err != nil {
		r := errMsg("invalid share metadata", "PUBLISH_ERROR")
		return &r
	}
	if meta.OwnerUserID != currentUserID {
		r := errMsg("cannot publish share for another user", "FORBIDDEN")
		return &r
	}
	if err := b.Shares.PublishResult(msg.Token, meta); err != nil {
		r := errMsg(err.Error(), "PUBLISH_ERROR")
		return &r
	}
	r := ack(nil)
	return &r
}

func (b *Broker) handleRequestShare(msg SyncMessage) *SyncMessage {
	meta, err := b.Shares.GetMetadata(msg.Token)
	if err != nil {
		r := errMsg(err.Error(), "SHARE_NOT_FOUND")
		return &r
	}
	allowed, err := b.Shares.CheckAccess(msg.Token, msg.RequesterID)
	if err != nil {
		r := errMsg(err.Error(), "ACCESS_CHECK_ERROR")
		return &r
	}
	if !allowed {
		r := errMsg("access denied", "ACCESS_DENIED")
		return &r
	}

	online := b.Registry.IsOnline(meta.OwnerUserID)
	downloadURL := ""
	if online {
		if endpoint, ok := b.Registry.Endpoint(meta.OwnerUserID); ok {
			downloadURL = endpoint + "/api/results/" + meta.ResultID
		}
	}

	r := SyncMessage{Type: "ShareInfo", Info: &SharedResultInfo{Metadata: meta, DownloadURL: downloadURL, OwnerOnline: online}}
	return &r
}
