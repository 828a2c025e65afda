package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"consultdesk/internal/auth"
	"consultdesk/internal/httpjson"
	"consultdesk/internal/scope"
	"consultdesk/pkg/interfaces"
	"consultdesk/pkg/types"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresIn   int64           `json:"expires_in"`
	Principal   types.Principal `json:"principal"`
}

type CreateLeadRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Status   string `json:"status"`
	BranchID string `json:"branch_id"` // honoured for head-office admins only
}

type CreateFollowupRequest struct {
	Note  string    `json:"note"`
	DueAt time.Time `json:"due_at"` // defaults to now

}

type ChatStatsResponse struct {
	Connections map[string]int `json:"connections"`
	LeadID      string         `json:"lead_id,omitempty"`
	Unread      *int64         `json:"unread,omitempty"`
}

// errInvalidCredentials never says which field was wrong
var errInvalidCredentials = fmt.Errorf("%w: invalid email or password", interfaces.ErrUnauthorized)

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpjson.Error(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// principal is set by auth.Authenticate on every route that calls this
func principal(r *http.Request) *types.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

// FUNCTIONAL DISCOVERY: POST /api/auth/login - bcrypt check then token issue
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, errInvalidCredentials)
		return
	}

	user, err := s.deps.Store.GetUserByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		writeError(w, r, err)
		return
	}
	if user == nil || !s.deps.Passwords.Verify(req.Password, user.PasswordHash) {
		writeError(w, r, errInvalidCredentials)
		return
	}

	p := user.Principal()
	token, err := s.deps.Tokens.Issue(p)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpjson.Write(w, http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.deps.Tokens.TTL().Seconds()),
		Principal:   p,
	})
}

// GET /chat/history/{leadId} - last 50 messages, oldest first
func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	messages, err := s.deps.Chat.HistoryFor(r.Context(), principal(r), chi.URLParam(r, "leadId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, messages)
}

// GET /api/chat/stats - socket counts, plus unread for ?lead_id
func (s *Server) chatStats(w http.ResponseWriter, r *http.Request) {
	response := ChatStatsResponse{Connections: s.deps.Registry.GetStats()}

	if leadID := r.URL.Query().Get("lead_id"); leadID != "" {
		unread, err := s.deps.Chat.Unread(r.Context(), leadID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.LeadID = leadID
		response.Unread = &unread
	}
	httpjson.Write(w, http.StatusOK, response)
}

// GET /api/leads - leads visible to the caller, newest first
func (s *Server) listLeads(w http.ResponseWriter, r *http.Request) {
	leads, err := s.deps.Store.ListLeads(r.Context(), scope.Resolve(principal(r)))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, leads)
}

// GET /api/leads/{id} - 404 when missing or outside the caller's branch
func (s *Server) getLead(w http.ResponseWriter, r *http.Request) {
	lead, err := s.deps.Store.GetLead(r.Context(), scope.Resolve(principal(r)), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, lead)
}

// POST /api/leads - created in the caller's branch
func (s *Server) createLead(w http.ResponseWriter, r *http.Request) {
	var req CreateLeadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p := principal(r)
	branchID := p.BranchID
	if req.BranchID != "" && scope.Resolve(p).Kind() == scope.Unrestricted {
		branchID = req.BranchID
	}

	lead := &types.Lead{
		Name:     strings.TrimSpace(req.Name),
		Email:    strings.TrimSpace(req.Email),
		Phone:    strings.TrimSpace(req.Phone),
		Status:   req.Status,
		BranchID: branchID,
	}
	if err := s.deps.Store.CreateLead(r.Context(), lead); err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, lead)
}

// GET /api/followups - followups visible to the caller, soonest first
func (s *Server) listFollowups(w http.ResponseWriter, r *http.Request) {
	followups, err := s.deps.Store.ListFollowups(r.Context(), scope.Resolve(principal(r)))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, followups)
}

// POST /api/leads/{id}/followups - the branch is copied from the visible lead
func (s *Server) createFollowup(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	lead, err := s.deps.Store.GetLead(r.Context(), scope.Resolve(p), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req CreateFollowupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	followup := &types.Followup{
		LeadID:    lead.ID,
		BranchID:  lead.BranchID,
		Note:      strings.TrimSpace(req.Note),
		DueAt:     req.DueAt.UTC(),
		CreatedBy: p.ID,
	}
	if err := s.deps.Store.CreateFollowup(r.Context(), followup); err != nil {
		writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, followup)
}
