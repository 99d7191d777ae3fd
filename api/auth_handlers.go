package api

import (
	"errors"
	"net/http"

	"github.com/pdfchat/rolebroker/broker"
)

// AssumeRole handles POST /auth/assume-role.
func (a *API) AssumeRole(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[AssumeRoleRequest](w, r, maxJSONBodySize)
	if !ok {
		return
	}
	result, err := a.broker.AssumeRoleAndCache(r.Context(), req.RoleARN)
	if err != nil {
		a.audit.log(AuditAssumeRoleFailure, r, auditRecord{
			RoleARN: auditRoleARN(req.RoleARN),
			Detail:  broker.KindOf(err).String(),
		})
		writeBrokerError(w, err)
		return
	}

	a.audit.log(AuditAssumeRoleSuccess, r, auditRecord{
		RoleARN: auditRoleARN(req.RoleARN),
		Session: broker.Fingerprint(result.SessionID),
	})
	writeJSON(w, http.StatusOK, AssumeRoleResponse{
		Success:   true,
		SessionID: result.SessionID,
		ExpiresAt: formatTime(result.ExpiresAt),
	})
}

// Logout handles POST /auth/logout. It succeeds whether or not the session
// still existed.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LogoutRequest](w, r, maxJSONBodySize)
	if !ok {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, messageSessionRequired)
		return
	}

	rec := auditRecord{Session: broker.Fingerprint(req.SessionID)}
	if a.broker.ClearSession(req.SessionID) {
		a.audit.log(AuditSessionCleared, r, rec)
		writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Session cleared successfully"})
		return
	}
	a.audit.log(AuditSessionNotFound, r, rec)
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Session not found or already expired"})
}

// Status handles GET /auth/status. Unauthenticated, for debugging.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Success:    true,
		CacheStats: a.broker.CacheStats(),
		ServerTime: formatTime(a.now()),
	})
}

// AuditLog handles GET /auth/audit. The response can be saved and checked
// offline with "rolebroker audit verify".
func (a *API) AuditLog(w http.ResponseWriter, r *http.Request) {
	if a.audit == nil || a.audit.store == nil {
		writeInternalError(w, "audit trail unavailable", errors.New("audit store not configured"))
		return
	}
	entries, head, err := a.audit.store.entries()
	if err != nil {
		writeInternalError(w, "failed to read audit trail", err)
		return
	}
	resp := make([]AuditEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = AuditEntryResponse{
			ID:         e.ID,
			Event:      string(e.Event),
			RoleARN:    e.RoleARN,
			Session:    e.Session,
			RemoteAddr: e.RemoteAddr,
			Detail:     e.Detail,
			CreatedAt:  e.CreatedAt,
			PrevHash:   e.PrevHash,
		}
	}
	writeJSON(w, http.StatusOK, AuditLogResponse{Success: true, Entries: resp, Head: head})
}
