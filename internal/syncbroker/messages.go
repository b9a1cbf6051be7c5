// Package syncbroker implements the cross-institution WebSocket sync
// protocol: connection hub, presence registry, and the discriminated
// SyncMessage set (RegisterUser, Heartbeat, Disconnect, PublishShare,
// RequestShare, RevokeShare, ListMyShares, BackupState, RestoreState, plus
// the Ack/Error/Connected/ShareInfo/ShareList responses).
package syncbroker

import "encoding/json"

// SyncMessage is the tagged union of every message exchanged over /ws.
// Type selects which fields are populated; unused fields are omitted on the wire.
type SyncMessage struct {
	Type string `json:"type"`

	// RegisterUser
	UserID       string `json:"user_id,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`
	Password     string `json:"password,omitempty"`
	SessionToken string `json:"session_token,omitempty"`

	// PublishShare / RequestShare / RevokeShare / ShareInfo
	Token       string            `json:"token,omitempty"`
	Metadata    json.RawMessage   `json:"metadata,omitempty"`
	RequesterID string            `json:"requester_id,omitempty"`
	Info        *SharedResultInfo `json:"info,omitempty"`

	// ListMyShares / ShareList
	Shares []ShareSummary `json:"shares,omitempty"`

	// BackupState / RestoreState
	StateHash string `json:"state_hash,omitempty"`

	// Connected
	ServerVersion string `json:"server_version,omitempty"`
	Institution   string `json:"institution,omitempty"`

	// Ack
	MessageID *string `json:"message_id,omitempty"`

	// Error
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// ShareMetadata is the opaque payload published alongside a share token.
type ShareMetadata struct {
	OwnerUserID string                 `json:"owner_user_id"`
	ResultID    string                 `json:"result_id"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
}

// SharedResultInfo is the response to RequestShare.
type SharedResultInfo struct {
	Metadata    ShareMetadata `json:"metadata"`
	DownloadURL string        `json:"download_url"`
	OwnerOnline bool          `json:"owner_online"`
}

// ShareSummary is one entry of ListMyShares' response.
type ShareSummary struct {
	Token    string `json:"token"`
	ResultID string `json:"result_id"`
}

func ack(messageID *string) SyncMessage {
	return SyncMessage{Type: "Ack", MessageID: messageID}
}

func errMsg(message, code string) SyncMessage {
	return SyncMessage{Type: "Error", Error: message, Code: code}
}
