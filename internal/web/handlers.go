package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edvart/mazechase/internal/auth"
	"github.com/edvart/mazechase/internal/gamesession"
	"github.com/edvart/mazechase/internal/leaderboard"
	"github.com/edvart/mazechase/internal/players"
	"github.com/edvart/mazechase/internal/store"
)

type sessionResponse struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	Username        string     `json:"username"`
	Score           int        `json:"score"`
	LevelReached    int        `json:"levelReached"`
	DurationSeconds int        `json:"durationSeconds"`
	GhostsEaten     int        `json:"ghostsEaten"`
	PowerUpsUsed    int        `json:"powerUpsUsed"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt"`
}

func toSessionResponse(gs *store.GameSession) sessionResponse {
	return sessionResponse{
		ID:              gs.ID,
		UserID:          gs.UserID,
		Username:        gs.Username,
		Score:           gs.Score,
		LevelReached:    gs.LevelReached,
		DurationSeconds: gs.DurationSeconds,
		GhostsEaten:     gs.GhostsEaten,
		PowerUpsUsed:    gs.PowerUpsUsed,
		Status:          string(gs.Status),
		StartedAt:       gs.StartedAt,
		EndedAt:         gs.EndedAt,
	}
}

type statsResponse struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"userId"`
	HighestScore        int       `json:"highestScore"`
	HighestLevelReached int       `json:"highestLevelReached"`
	LongestTimePlayed   int       `json:"longestTimePlayed"`
	TotalGhostsEaten    int       `json:"totalGhostsEaten"`
	TotalPowerUpsUsed   int       `json:"totalPowerUpsUsed"`
	TotalGamesPlayed    int       `json:"totalGamesPlayed"`
	TotalGamesCompleted int       `json:"totalGamesCompleted"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

func toStatsResponse(st *store.UserStats) statsResponse {
	return statsResponse{
		ID:                  st.ID,
		UserID:              st.UserID,
		HighestScore:        st.HighestScore,
		HighestLevelReached: st.HighestLevelReached,
		LongestTimePlayed:   st.LongestTimePlayed,
		TotalGhostsEaten:    st.TotalGhostsEaten,
		TotalPowerUpsUsed:   st.TotalPowerUpsUsed,
		TotalGamesPlayed:    st.TotalGamesPlayed,
		TotalGamesCompleted: st.TotalGamesCompleted,
		CreatedAt:           st.CreatedAt,
		UpdatedAt:           st.UpdatedAt,
	}
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	IDNumber  string    `json:"idNumber"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Name:      u.DisplayName,
		IDNumber:  u.IDNumber,
		CreatedAt: u.CreatedAt,
	}
}

type endSessionRequest struct {
	gamesession.Metrics
	Status string `json:"status"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.CurrentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	gs, err := s.sessions.Start(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(gs))
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.CurrentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req gamesession.Metrics
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	gs, err := s.sessions.Update(r.Context(), chi.URLParam(r, "sessionID"), userID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(gs))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.CurrentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req endSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	gs, err := s.sessions.End(r.Context(), chi.URLParam(r, "sessionID"), userID, req.Metrics, req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(gs))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.CurrentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	gs, err := s.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(gs))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.CurrentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	list, err := s.sessions.List(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for i := range list {
		out = append(out, toSessionResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.CurrentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	gs, err := s.sessions.Active(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(gs))
}

func (s *Server) handleMyStats(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.CurrentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	st, err := s.stats.GetOrCreate(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(st))
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(st))
}

func (s *Server) pageParams(r *http.Request) (page, pageSize int, err error) {
	if page, err = queryInt(r, "page", 0); err != nil {
		return 0, 0, err
	}
	if pageSize, err = queryInt(r, "pageSize", s.cfg.DefaultPageSize); err != nil {
		return 0, 0, err
	}
	return page, pageSize, nil
}

func (s *Server) handleLeaderboardAll(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := s.pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	pages, err := s.leaderboard.RankAll(r.Context(), page, pageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pages)
}

func (s *Server) handleLeaderboard(category leaderboard.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, pageSize, err := s.pageParams(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		p, err := s.leaderboard.Rank(r.Context(), category, page, pageSize)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.CurrentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	u, err := s.players.Get(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		userResponse
		IsAdmin bool `json:"isAdmin"`
	}{toUserResponse(u), s.admins.IsAdmin(userID)})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.CurrentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req players.ProfileUpdate
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	u, err := s.players.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	s.sse.HandleConnection(w, r)
}
