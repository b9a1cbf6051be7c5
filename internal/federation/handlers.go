package federation

import (
	"crypto/x509"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ocx/backend/internal/circuitbreaker"
	"github.com/ocx/backend/internal/ddaerr"
	"github.com/ocx/backend/internal/middleware"
)

const defaultInviteTTL = 72 * time.Hour

// Handlers wires the federation Store onto the REST surface: invite
// issuance, acceptance, revocation, and listing, plus the federated-
// institution directory.
type Handlers struct {
	store         *Store
	institutionID string

	peerVerifier *PeerVerifier
	breakers     *circuitbreaker.FederationCircuitBreakers
}

// NewHandlers constructs a Handlers for the local institutionID with peer
// verification disabled: AcceptInvite trusts the caller-supplied
// institution id, same as the original handler.
func NewHandlers(store *Store, institutionID string) *Handlers {
	return &Handlers{store: store, institutionID: institutionID}
}

// NewHandlersWithPeerVerification is like NewHandlers but additionally
// authenticates the accepting peer's mTLS certificate against its claimed
// institution id before honoring an invite acceptance.
func NewHandlersWithPeerVerification(store *Store, institutionID string, verifier *PeerVerifier, breakers *circuitbreaker.FederationCircuitBreakers) *Handlers {
	return &Handlers{store: store, institutionID: institutionID, peerVerifier: verifier, breakers: breakers}
}

// RegisterRoutes wires every federation endpoint onto a gorilla/mux router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/federation/invites", h.CreateInvite).Methods(http.MethodPost)
	r.HandleFunc("/api/federation/invites", h.ListPendingInvites).Methods(http.MethodGet)
	r.HandleFunc("/api/federation/invites/{invite_id}/accept", h.AcceptInvite).Methods(http.MethodPost)
	r.HandleFunc("/api/federation/invites/{invite_id}", h.RevokeInvite).Methods(http.MethodDelete)
	r.HandleFunc("/api/federation/institutions", h.ListFederatedInstitutions).Methods(http.MethodGet)
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusForError maps a tagged ddaerr.Error to an HTTP status, defaulting
// to 500 for anything unrecognized or untagged.
func statusForError(err error) int {
	var de *ddaerr.Error
	if !errors.As(err, &de) {
		return http.StatusInternalServerError
	}
	switch de.Code() {
	case "INVITE_EXPIRED":
		return http.StatusConflict
	case "INVITE_NOT_FOUND":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type createInviteRequest struct {
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

// CreateInvite issues a new pending invite from the local institution.
func (h *Handlers) CreateInvite(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		userID = "anonymous"
	}

	var req createInviteRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
	}
	ttl := defaultInviteTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	invite, err := h.store.CreateInvite(h.institutionID, uuid.NewString(), userID, ttl)
	if err != nil {
		writeJSONError(w, statusForError(err), err.Error(), "CREATE_INVITE_FAILED")
		return
	}
	writeJSON(w, http.StatusCreated, invite)
}

// AcceptInvite accepts a pending invite on behalf of the calling
// institution, establishing or reviving a Full trust edge. When peer
// verification is configured, the inviting institution's identity is
// authenticated against the mTLS certificate it presented before the
// trust edge is established; otherwise the invite's recorded institution
// id is trusted as-is.
func (h *Handlers) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		userID = "anonymous"
	}
	inviteID := mux.Vars(r)["invite_id"]

	if h.peerVerifier != nil {
		invite, err := h.store.GetInvite(inviteID)
		if err != nil {
			writeJSONError(w, statusForError(err), err.Error(), "ACCEPT_INVITE_FAILED")
			return
		}
		var peerCerts []*x509.Certificate
		if r.TLS != nil {
			peerCerts = r.TLS.PeerCertificates
		}
		if _, err := h.peerVerifier.VerifyPeerCertChain(h.breakers, peerCerts, invite.FromInstitutionID); err != nil {
			slog.Warn("federation: peer verification failed during invite acceptance", "invite_id", inviteID, "error", err)
			writeJSONError(w, http.StatusForbidden, err.Error(), "PEER_VERIFICATION_FAILED")
			return
		}
	}

	trust, err := h.store.AcceptInvite(inviteID, h.institutionID, userID)
	if err != nil {
		var de *ddaerr.Error
		code := "ACCEPT_INVITE_FAILED"
		if errors.As(err, &de) {
			code = de.Code()
		}
		writeJSONError(w, statusForError(err), err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, trust)
}

// RevokeInvite revokes a pending invite.
func (h *Handlers) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	inviteID := mux.Vars(r)["invite_id"]
	if err := h.store.RevokeInvite(inviteID); err != nil {
		var de *ddaerr.Error
		code := "REVOKE_INVITE_FAILED"
		if errors.As(err, &de) {
			code = de.Code()
		}
		writeJSONError(w, statusForError(err), err.Error(), code)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPendingInvites lists unexpired, unaccepted, unrevoked invites
// originating from the local institution.
func (h *Handlers) ListPendingInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := h.store.ListPendingInvites(h.institutionID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error(), "LIST_INVITES_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, invites)
}

// ListFederatedInstitutions lists every institution federated with the
// local one, enriched with trust level and shared-result counts.
func (h *Handlers) ListFederatedInstitutions(w http.ResponseWriter, r *http.Request) {
	institutions, err := h.store.GetFederatedInstitutions(h.institutionID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error(), "LIST_INSTITUTIONS_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, institutions)
}
