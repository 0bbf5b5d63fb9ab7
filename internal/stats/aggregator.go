// Package stats folds finished game sessions into per-user running summaries.
package stats

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/edvart/mazechase/internal/apperr"
	"github.com/edvart/mazechase/internal/metrics"
	"github.com/edvart/mazechase/internal/store"
)

// Contribution is what one session adds to its owner's stats.
// A nil field was not reported and contributes nothing.
type Contribution struct {
	Score           *int
	LevelReached    *int
	DurationSeconds *int
	GhostsEaten     *int
	PowerUpsUsed    *int
	Completed       bool
}

// ContributionOf reads every metric of a terminal session.
func ContributionOf(s *store.GameSession) Contribution {
	return Contribution{
		Score:           &s.Score,
		LevelReached:    &s.LevelReached,
		DurationSeconds: &s.DurationSeconds,
		GhostsEaten:     &s.GhostsEaten,
		PowerUpsUsed:    &s.PowerUpsUsed,
		Completed:       s.Status == store.StatusCompleted,
	}
}

// Apply folds c into st. Maxima only grow, totals only accumulate,
// and TotalGamesPlayed always increments.
func Apply(st *store.UserStats, c Contribution) {
	if c.Score != nil && *c.Score > st.HighestScore {
		st.HighestScore = *c.Score
	}
	if c.LevelReached != nil && *c.LevelReached > st.HighestLevelReached {
		st.HighestLevelReached = *c.LevelReached
	}
	if c.DurationSeconds != nil && *c.DurationSeconds > st.LongestTimePlayed {
		st.LongestTimePlayed = *c.DurationSeconds
	}
	if c.GhostsEaten != nil && *c.GhostsEaten > 0 {
		st.TotalGhostsEaten += *c.GhostsEaten
	}
	if c.PowerUpsUsed != nil && *c.PowerUpsUsed > 0 {
		st.TotalPowerUpsUsed += *c.PowerUpsUsed
	}
	st.TotalGamesPlayed++
	if c.Completed {
		st.TotalGamesCompleted++
	}
}

// FoldResult is the stats record after a fold and which personal bests moved.
type FoldResult struct {
	Stats           *store.UserStats
	NewHighScore    bool
	NewHighestLevel bool
}

// PersonalBest reports whether either headline metric improved.
func (r *FoldResult) PersonalBest() bool {
	return r.NewHighScore || r.NewHighestLevel
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithMetrics records folds and personal bests on m.
func WithMetrics(m *metrics.Manager) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// Aggregator owns UserStats records. It is the only writer of user_stats.
type Aggregator struct {
	store   store.Store
	log     logrus.FieldLogger
	metrics *metrics.Manager
	now     func() time.Time
}

func NewAggregator(st store.Store, log logrus.FieldLogger, opts ...Option) *Aggregator {
	a := &Aggregator{
		store: st,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetOrCreate returns the user's stats, creating a zeroed record on first access.
func (a *Aggregator) GetOrCreate(ctx context.Context, userID string) (*store.UserStats, error) {
	var out *store.UserStats
	err := a.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = a.getOrCreate(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, apperr.Classify("stats.GetOrCreate", err)
	}
	return out, nil
}

// Get returns the user's stats without creating them.
func (a *Aggregator) Get(ctx context.Context, userID string) (*store.UserStats, error) {
	st, err := a.store.GetStatsByUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("stats.Get", "stats not found for user")
	}
	if err != nil {
		return nil, apperr.Unavailable("stats.Get", err)
	}
	return st, nil
}

// FoldSession folds a terminal session in its own transaction.
func (a *Aggregator) FoldSession(ctx context.Context, userID string, session *store.GameSession) (*FoldResult, error) {
	var res *FoldResult
	err := a.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = a.Fold(ctx, tx, userID, session)
		return err
	})
	if err != nil {
		return nil, apperr.Classify("stats.FoldSession", err)
	}
	return res, nil
}

// Fold applies a terminal session to userID's stats inside tx. The caller
// guarantees it runs once per session; nothing here deduplicates.
func (a *Aggregator) Fold(ctx context.Context, tx store.Tx, userID string, session *store.GameSession) (*FoldResult, error) {
	if !session.Status.Terminal() {
		return nil, apperr.InvalidState("stats.Fold", "session is still in progress")
	}

	st, err := a.getOrCreate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	prevScore, prevLevel := st.HighestScore, st.HighestLevelReached
	Apply(st, ContributionOf(session))
	st.UpdatedAt = a.now().UTC()

	if err := tx.UpdateStats(ctx, st); err != nil {
		return nil, apperr.Unavailable("stats.Fold", err)
	}

	res := &FoldResult{
		Stats:           st,
		NewHighScore:    st.HighestScore > prevScore,
		NewHighestLevel: st.HighestLevelReached > prevLevel,
	}

	a.metrics.StatsFolded()
	if res.NewHighScore {
		a.metrics.PersonalBest("score")
	}
	if res.NewHighestLevel {
		a.metrics.PersonalBest("level")
	}
	a.log.WithFields(logrus.Fields{
		"user_id":       userID,
		"session_id":    session.ID,
		"games_played":  st.TotalGamesPlayed,
		"highest_score": st.HighestScore,
	}).Debug("Folded session into stats")

	return res, nil
}

// getOrCreate inserts a zeroed record and re-reads on a uniqueness conflict,
// so concurrent first access still yields exactly one record.
func (a *Aggregator) getOrCreate(ctx context.Context, tx store.Tx, userID string) (*store.UserStats, error) {
	st, err := tx.GetStatsByUser(ctx, userID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unavailable("stats.getOrCreate", err)
	}

	if _, err := tx.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("stats.getOrCreate", "user not found")
		}
		return nil, apperr.Unavailable("stats.getOrCreate", err)
	}

	now := a.now().UTC()
	st = &store.UserStats{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = tx.InsertStats(ctx, st)
	if errors.Is(err, store.ErrConflict) {
		st, err = tx.GetStatsByUser(ctx, userID)
	}
	if err != nil {
		return nil, apperr.Unavailable("stats.getOrCreate", err)
	}

	a.log.WithField("user_id", userID).Info("Created stats record")
	return st, nil
}
