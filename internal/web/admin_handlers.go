package web

import (
	"net/http"
	"strings"

	"github.com/edvart/mazechase/internal/apperr"
)

type upsertUserRequest struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// handleAdminListUsers lists every registered player.
func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.players.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAdminUpsertUser registers a player or renames an existing one.
func (s *Server) handleAdminUpsertUser(w http.ResponseWriter, r *http.Request) {
	var req upsertUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	u, err := s.players.Register(r.Context(), strings.TrimSpace(req.ID), req.Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

type devLoginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

// handleDevLogin registers the named player and hands back a bearer token.
// Only routed in dev mode.
func (s *Server) handleDevLogin(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		s.writeError(w, r, apperr.Validation("web.devLogin", "user is required"))
		return
	}
	username := r.URL.Query().Get("username")
	if strings.TrimSpace(username) == "" {
		username = userID
	}

	u, err := s.players.Register(r.Context(), userID, username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	token, err := s.tokens.Issue(u.ID, u.Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.log.WithField("user_id", u.ID).Info("Dev login")
	writeJSON(w, http.StatusOK, devLoginResponse{Token: token, User: toUserResponse(u)})
}

// handleAddFakePlayers creates throwaway players for local testing.
func (s *Server) handleAddFakePlayers(w http.ResponseWriter, r *http.Request) {
	count, err := queryInt(r, "count", 10)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	created, err := s.players.CreateFakePlayers(r.Context(), count)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]userResponse, 0, len(created))
	for i := range created {
		out = append(out, toUserResponse(&created[i]))
	}
	writeJSON(w, http.StatusCreated, out)
}
