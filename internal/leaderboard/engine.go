// Package leaderboard projects user stats into ranked, paginated views.
package leaderboard

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edvart/mazechase/internal/apperr"
	"github.com/edvart/mazechase/internal/metrics"
	"github.com/edvart/mazechase/internal/store"
)

// Category is the metric a leaderboard ranks by.
type Category string

const (
	HighScore    Category = "HIGH_SCORE"
	HighestLevel Category = "HIGHEST_LEVEL"
	TotalGhosts  Category = "TOTAL_GHOSTS"
)

// Categories lists every category in the order RankAll returns them.
var Categories = []Category{HighScore, HighestLevel, TotalGhosts}

func (c Category) field() (store.StatsField, bool) {
	switch c {
	case HighScore:
		return store.FieldHighestScore, true
	case HighestLevel:
		return store.FieldHighestLevel, true
	case TotalGhosts:
		return store.FieldTotalGhostsEaten, true
	}
	return "", false
}

func (c Category) value(st *store.UserStats) int {
	switch c {
	case HighScore:
		return st.HighestScore
	case HighestLevel:
		return st.HighestLevelReached
	default:
		return st.TotalGhostsEaten
	}
}

type Entry struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"name,omitempty"`
	IDNumber    string `json:"idNumber,omitempty"`
	Value       int    `json:"value"`
	Rank        int    `json:"rank"`
}

type Page struct {
	Category     Category  `json:"category"`
	Entries      []Entry   `json:"entries"`
	TotalPlayers int       `json:"totalPlayers"`
	CurrentPage  int       `json:"currentPage"`
	TotalPages   int       `json:"totalPages"`
	PageSize     int       `json:"pageSize"`
	GeneratedAt  time.Time `json:"generatedAt"`
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithMetrics(m *metrics.Manager) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithMaxPageSize caps pageSize. Zero means no cap.
func WithMaxPageSize(n int) Option {
	return func(e *Engine) {
		e.maxPageSize = n
	}
}

// Engine is read-only over the stats store.
type Engine struct {
	store       store.Store
	log         logrus.FieldLogger
	metrics     *metrics.Manager
	maxPageSize int
	now         func() time.Time
}

func NewEngine(st store.Store, log logrus.FieldLogger, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidatePage checks pagination before any store access.
func (e *Engine) ValidatePage(page, pageSize int) error {
	const op = "leaderboard.Rank"
	switch {
	case page < 0:
		return apperr.Validation(op, "page must be zero or greater")
	case pageSize < 1:
		return apperr.Validation(op, "pageSize must be at least 1")
	case e.maxPageSize > 0 && pageSize > e.maxPageSize:
		return apperr.Validation(op, fmt.Sprintf("pageSize must be at most %d", e.maxPageSize))
	case page > math.MaxInt32/pageSize:
		return apperr.Validation(op, "page is out of range")
	}
	return nil
}

// Rank returns the page-th window (0-indexed) of category. Ranks come from
// the position in the ordered window; ties are ordered by user id.
func (e *Engine) Rank(ctx context.Context, category Category, page, pageSize int) (*Page, error) {
	field, ok := category.field()
	if !ok {
		return nil, apperr.Validation("leaderboard.Rank", fmt.Sprintf("unknown category %q", category))
	}
	if err := e.ValidatePage(page, pageSize); err != nil {
		return nil, err
	}

	var (
		total  int
		ranked []store.RankedStats
	)
	err := e.store.InReadTx(ctx, func(tx store.Tx) error {
		var err error
		if total, err = tx.CountStats(ctx); err != nil {
			return err
		}
		ranked, err = tx.RankStats(ctx, field, page*pageSize, pageSize)
		return err
	})
	if err != nil {
		return nil, apperr.Unavailable("leaderboard.Rank", err)
	}

	out := &Page{
		Category:     category,
		Entries:      make([]Entry, 0, len(ranked)),
		TotalPlayers: total,
		CurrentPage:  page,
		TotalPages:   totalPages(total, pageSize),
		PageSize:     pageSize,
		GeneratedAt:  e.now().UTC(),
	}
	for i := range ranked {
		r := &ranked[i]
		out.Entries = append(out.Entries, Entry{
			UserID:      r.UserID,
			Username:    r.Username,
			DisplayName: r.DisplayName,
			IDNumber:    r.IDNumber,
			Value:       category.value(&r.UserStats),
			Rank:        page*pageSize + i + 1,
		})
	}

	e.metrics.LeaderboardQueried(string(category), total)
	e.log.WithFields(logrus.Fields{
		"category":  category,
		"page":      page,
		"page_size": pageSize,
		"entries":   len(out.Entries),
	}).Debug("Leaderboard page served")

	return out, nil
}

// RankAll returns the same window for every category, in Categories order.
func (e *Engine) RankAll(ctx context.Context, page, pageSize int) ([]*Page, error) {
	if err := e.ValidatePage(page, pageSize); err != nil {
		return nil, err
	}
	pages := make([]*Page, 0, len(Categories))
	for _, c := range Categories {
		p, err := e.Rank(ctx, c, page, pageSize)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, nil
}

func totalPages(total, pageSize int) int {
	if total == 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
