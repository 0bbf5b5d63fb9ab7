package auth

import (
	"net/http"
	"strings"

	"github.com/edvart/mazechase/internal/apperr"
)

// AdminConfig holds the user ids allowed to manage players.
type AdminConfig struct {
	AdminUserIDs map[string]bool
}

// NewAdminConfig creates admin config from comma-separated user ids.
func NewAdminConfig(userIDs string) *AdminConfig {
	cfg := &AdminConfig{
		AdminUserIDs: make(map[string]bool),
	}

	for _, id := range strings.Split(userIDs, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			cfg.AdminUserIDs[id] = true
		}
	}

	return cfg
}

// IsAdmin checks if a user id is an admin.
func (c *AdminConfig) IsAdmin(userID string) bool {
	return c != nil && c.AdminUserIDs[userID]
}

// AdminGate requires an admin caller. It must run after RequireAuth.
func AdminGate(cfg *AdminConfig, fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := CurrentUser(r)
			if err != nil {
				fail(w, r, err)
				return
			}

			if !cfg.IsAdmin(userID) {
				fail(w, r, apperr.Forbidden("auth.AdminGate", "admin access required"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
