// Package gamesession owns the start/update/end lifecycle of game sessions.
package gamesession

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/edvart/mazechase/internal/apperr"
	"github.com/edvart/mazechase/internal/events"
	"github.com/edvart/mazechase/internal/metrics"
	"github.com/edvart/mazechase/internal/stats"
	"github.com/edvart/mazechase/internal/store"
)

// Metrics is a partial report from the game client. Nil fields are left untouched.
type Metrics struct {
	Score           *int `json:"score,omitempty"`
	LevelReached    *int `json:"levelReached,omitempty"`
	DurationSeconds *int `json:"durationSeconds,omitempty"`
	GhostsEaten     *int `json:"ghostsEaten,omitempty"`
	PowerUpsUsed    *int `json:"powerUpsUsed,omitempty"`
}

func (m Metrics) validate(op string) error {
	fields := []struct {
		name string
		v    *int
	}{
		{"score", m.Score},
		{"levelReached", m.LevelReached},
		{"durationSeconds", m.DurationSeconds},
		{"ghostsEaten", m.GhostsEaten},
		{"powerUpsUsed", m.PowerUpsUsed},
	}
	for _, f := range fields {
		if f.v != nil && *f.v < 0 {
			return apperr.Validation(op, f.name+" must not be negative")
		}
	}
	return nil
}

// applyTo overwrites every reported field. Lower values than before are accepted.
func (m Metrics) applyTo(s *store.GameSession) {
	if m.Score != nil {
		s.Score = *m.Score
	}
	if m.LevelReached != nil {
		s.LevelReached = *m.LevelReached
	}
	if m.DurationSeconds != nil {
		s.DurationSeconds = *m.DurationSeconds
	}
	if m.GhostsEaten != nil {
		s.GhostsEaten = *m.GhostsEaten
	}
	if m.PowerUpsUsed != nil {
		s.PowerUpsUsed = *m.PowerUpsUsed
	}
}

// StatusFor maps a client-requested end status onto a terminal status.
// Only "completed" (any case) completes; everything else abandons.
func StatusFor(requested string) store.SessionStatus {
	if strings.EqualFold(strings.TrimSpace(requested), string(store.StatusCompleted)) {
		return store.StatusCompleted
	}
	return store.StatusAbandoned
}

// Publisher receives events after the producing transaction commits.
type Publisher interface {
	Publish(e events.Event)
}

// Option configures a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service is the session store. Every mutation runs in one transaction.
type Service struct {
	store     store.Store
	stats     *stats.Aggregator
	publisher Publisher
	metrics   *metrics.Manager
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewService(st store.Store, agg *stats.Aggregator, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		store: st,
		stats: agg,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens a new session for userID, abandoning any session still in progress.
func (s *Service) Start(ctx context.Context, userID string) (*store.GameSession, error) {
	const op = "gamesession.Start"
	now := s.now().UTC()

	var (
		session   *store.GameSession
		abandoned *store.GameSession
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		user, err := tx.GetUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(op, "user not found")
		}
		if err != nil {
			return apperr.Unavailable(op, err)
		}

		active, err := tx.FindActiveSession(ctx, userID)
		switch {
		case err == nil:
			active.Status = store.StatusAbandoned
			active.EndedAt = &now
			if err := tx.UpdateSession(ctx, active); err != nil {
				return apperr.Unavailable(op, err)
			}
			abandoned = active
		case !errors.Is(err, store.ErrNotFound):
			return apperr.Unavailable(op, err)
		}

		session = &store.GameSession{
			ID:           uuid.New().String(),
			UserID:       userID,
			Username:     user.Username,
			LevelReached: 1,
			Status:       store.StatusInProgress,
			StartedAt:    now,
		}
		if err := tx.CreateSession(ctx, session); err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Classify(op, err)
	}

	fields := logrus.Fields{"user_id": userID, "session_id": session.ID}
	if abandoned != nil {
		fields["abandoned_session_id"] = abandoned.ID
		s.metrics.SessionSuperseded()
		s.publish(events.SessionAbandoned{SessionID: abandoned.ID, UserID: userID, EndedAt: now})
	}
	s.log.WithFields(fields).Info("Session started")
	s.metrics.SessionStarted()
	s.publish(events.SessionStarted{SessionID: session.ID, UserID: userID, StartedAt: now})

	return session, nil
}

// Update overwrites the reported metrics of an in-progress session.
func (s *Service) Update(ctx context.Context, sessionID, userID string, m Metrics) (*store.GameSession, error) {
	const op = "gamesession.Update"
	if err := m.validate(op); err != nil {
		return nil, err
	}

	var session *store.GameSession
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		session, err = s.loadOwned(ctx, tx, op, sessionID, userID)
		if err != nil {
			return err
		}
		if session.Status != store.StatusInProgress {
			return apperr.InvalidState(op, "cannot update a session that is not in progress")
		}

		m.applyTo(session)
		if err := tx.UpdateSession(ctx, session); err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Classify(op, err)
	}
	return session, nil
}

// End finalizes an in-progress session and folds it into the owner's stats
// in the same transaction. A session can be ended once.
func (s *Service) End(ctx context.Context, sessionID, userID string, m Metrics, requestedStatus string) (*store.GameSession, error) {
	const op = "gamesession.End"
	if err := m.validate(op); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	var (
		session *store.GameSession
		folded  *stats.FoldResult
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		session, err = s.loadOwned(ctx, tx, op, sessionID, userID)
		if err != nil {
			return err
		}
		if session.Status != store.StatusInProgress {
			return apperr.InvalidState(op, "session is already ended")
		}

		m.applyTo(session)
		session.Status = StatusFor(requestedStatus)
		session.EndedAt = &now
		if err := tx.UpdateSession(ctx, session); err != nil {
			return apperr.Unavailable(op, err)
		}

		folded, err = s.stats.Fold(ctx, tx, userID, session)
		return err
	})
	if err != nil {
		return nil, apperr.Classify(op, err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"session_id": session.ID,
		"status":     session.Status,
		"score":      session.Score,
	}).Info("Session ended")
	s.metrics.SessionEnded(string(session.Status))

	s.publish(events.SessionEnded{
		SessionID: session.ID,
		UserID:    userID,
		Status:    string(session.Status),
		Score:     session.Score,
		EndedAt:   now,
	})
	s.publish(events.StatsUpdated{
		UserID:           userID,
		HighestScore:     folded.Stats.HighestScore,
		HighestLevel:     folded.Stats.HighestLevelReached,
		TotalGhostsEaten: folded.Stats.TotalGhostsEaten,
	})
	if folded.PersonalBest() {
		pb := events.PersonalBest{UserID: userID, Username: session.Username}
		if folded.NewHighScore {
			pb.HighestScore = folded.Stats.HighestScore
		}
		if folded.NewHighestLevel {
			pb.HighestLevel = folded.Stats.HighestLevelReached
		}
		s.publish(pb)
	}

	return session, nil
}

// Get returns a session owned by userID.
func (s *Service) Get(ctx context.Context, sessionID, userID string) (*store.GameSession, error) {
	session, err := s.store.GetSessionForUser(ctx, sessionID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("gamesession.Get", "game session not found")
	}
	if err != nil {
		return nil, apperr.Unavailable("gamesession.Get", err)
	}
	return session, nil
}

// List returns the user's sessions, most recently started first.
func (s *Service) List(ctx context.Context, userID string) ([]store.GameSession, error) {
	sessions, err := s.store.ListSessionsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Unavailable("gamesession.List", err)
	}
	if sessions == nil {
		sessions = []store.GameSession{}
	}
	return sessions, nil
}

// Active returns the user's in-progress session.
func (s *Service) Active(ctx context.Context, userID string) (*store.GameSession, error) {
	session, err := s.store.FindActiveSession(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("gamesession.Active", "no active game session found")
	}
	if err != nil {
		return nil, apperr.Unavailable("gamesession.Active", err)
	}
	return session, nil
}

func (s *Service) loadOwned(ctx context.Context, tx store.Tx, op, sessionID, userID string) (*store.GameSession, error) {
	session, err := tx.GetSessionForUser(ctx, sessionID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(op, "game session not found")
	}
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return session, nil
}

func (s *Service) publish(e events.Event) {
	if s.publisher != nil {
		s.publisher.Publish(e)
	}
}
