// Package players manages player identities and profiles.
package players

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/edvart/mazechase/internal/apperr"
	"github.com/edvart/mazechase/internal/store"
)

const (
	maxDisplayNameLen = 100
	maxUsernameLen    = 50
)

var (
	idNumberPattern = regexp.MustCompile(`^[0-9]{0,8}$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// ProfileUpdate carries optional profile fields. Nil leaves a field as is;
// a blank value clears it.
type ProfileUpdate struct {
	Name     *string `json:"name"`
	IDNumber *string `json:"idNumber"`
}

type Service struct {
	store store.Store
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewService(st store.Store, log logrus.FieldLogger) *Service {
	return &Service{store: st, log: log, now: time.Now}
}

// WithClock replaces time.Now, mostly for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns a player by id.
func (s *Service) Get(ctx context.Context, userID string) (*store.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("players.Get", "user not found")
	}
	if err != nil {
		return nil, apperr.Unavailable("players.Get", err)
	}
	return u, nil
}

func (s *Service) List(ctx context.Context) ([]store.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, apperr.Unavailable("players.List", err)
	}
	if users == nil {
		users = []store.User{}
	}
	return users, nil
}

// Register creates or renames a player. An empty id gets a fresh uuid.
func (s *Service) Register(ctx context.Context, userID, username string) (*store.User, error) {
	const op = "players.Register"
	username = strings.TrimSpace(username)
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLen || !usernamePattern.MatchString(username) {
		return nil, apperr.Validation(op, "username must be 1-50 letters, digits, '.', '_' or '-'")
	}
	if userID == "" {
		userID = uuid.New().String()
	}

	var out *store.User
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		now := s.now().UTC()
		user := &store.User{ID: userID, Username: username, CreatedAt: now, UpdatedAt: now}

		existing, err := tx.GetUser(ctx, userID)
		switch {
		case err == nil:
			user.DisplayName = existing.DisplayName
			user.IDNumber = existing.IDNumber
			user.CreatedAt = existing.CreatedAt
		case !errors.Is(err, store.ErrNotFound):
			return apperr.Unavailable(op, err)
		}

		if err := tx.UpsertUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.InvalidState(op, "username is already taken")
			}
			return apperr.Unavailable(op, err)
		}
		out = user
		return nil
	})
	if err != nil {
		return nil, apperr.Classify(op, err)
	}

	s.log.WithFields(logrus.Fields{"user_id": out.ID, "username": out.Username}).Info("Player registered")
	return out, nil
}

// UpdateProfile applies the caller's profile changes.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*store.User, error) {
	const op = "players.UpdateProfile"

	var name, idNumber *string
	if upd.Name != nil {
		v := strings.TrimSpace(*upd.Name)
		if utf8.RuneCountInString(v) > maxDisplayNameLen {
			return nil, apperr.Validation(op, "name cannot exceed 100 characters")
		}
		name = &v
	}
	if upd.IDNumber != nil {
		v := strings.TrimSpace(*upd.IDNumber)
		if !idNumberPattern.MatchString(v) {
			return nil, apperr.Validation(op, "ID number must be numeric and max 8 digits")
		}
		idNumber = &v
	}

	var out *store.User
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(op, "user not found")
		}
		if err != nil {
			return apperr.Unavailable(op, err)
		}

		displayName, number := current.DisplayName, current.IDNumber
		if name != nil {
			displayName = *name
		}
		if idNumber != nil {
			number = *idNumber
		}

		out, err = tx.UpdateProfile(ctx, userID, displayName, number, s.now().UTC())
		if err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Classify(op, err)
	}

	s.log.WithField("user_id", userID).Info("Profile updated")
	return out, nil
}

// CreateFakePlayers registers count throwaway players for development.
func (s *Service) CreateFakePlayers(ctx context.Context, count int) ([]store.User, error) {
	if count < 1 || count > 100 {
		return nil, apperr.Validation("players.CreateFakePlayers", "count must be between 1 and 100")
	}
	out := make([]store.User, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New().String()
		u, err := s.Register(ctx, id, fmt.Sprintf("player-%s", id[:8]))
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, nil
}
