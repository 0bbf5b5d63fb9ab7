package web

import (
	"net/http"

	"github.com/edvart/mazechase/internal/apperr"
	"github.com/edvart/mazechase/internal/auth"
	"github.com/edvart/mazechase/internal/push"
)

type PushSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s *Server) pushEnabled(w http.ResponseWriter, r *http.Request) bool {
	if s.pushService == nil || !s.pushService.Enabled() {
		s.writeError(w, r, &apperr.Error{
			Kind:    apperr.KindUnavailable,
			Op:      "web.push",
			Message: "push notifications not configured",
			Err:     push.ErrDisabled,
		})
		return false
	}
	return true
}

// handleSubscribePush stores the browser's push subscription for the caller.
func (s *Server) handleSubscribePush(w http.ResponseWriter, r *http.Request) {
	if !s.pushEnabled(w, r) {
		return
	}
	userID, err := auth.CurrentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req PushSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.pushService.Subscribe(r.Context(), userID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleUnsubscribePush(w http.ResponseWriter, r *http.Request) {
	if !s.pushEnabled(w, r) {
		return
	}

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.pushService.Unsubscribe(r.Context(), req.Endpoint); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// handleGetVAPIDPublicKey returns the VAPID public key for the frontend.
func (s *Server) handleGetVAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if !s.pushEnabled(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": s.pushService.PublicKey()})
}

// handleTestPush sends a test notification to the caller.
func (s *Server) handleTestPush(w http.ResponseWriter, r *http.Request) {
	if !s.pushEnabled(w, r) {
		return
	}
	userID, err := auth.CurrentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	payload := push.NotificationPayload{
		Title: "Test notification",
		Body:  "If you see this, push notifications are working!",
		Tag:   "test-notification",
		Data:  map[string]any{"url": "/"},
	}
	if err := s.pushService.SendToUser(r.Context(), userID, payload); err != nil {
		s.writeError(w, r, apperr.Classify("web.testPush", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Test notification sent"})
}
