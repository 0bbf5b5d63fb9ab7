package stats_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/edvart/mazechase/internal/apperr"
	"github.com/edvart/mazechase/internal/logging"
	"github.com/edvart/mazechase/internal/stats"
	"github.com/edvart/mazechase/internal/store"
)

func intp(v int) *int { return &v }

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func finished(id string, status store.SessionStatus, score, level, duration, ghosts, powerUps int) *store.GameSession {
	return &store.GameSession{
		ID: id, UserID: "u1", Status: status,
		Score: score, LevelReached: level, DurationSeconds: duration,
		GhostsEaten: ghosts, PowerUpsUsed: powerUps,
	}
}

func TestApply(t *testing.T) {
	Convey("Given a stats record", t, func() {
		st := &store.UserStats{HighestScore: 400, HighestLevelReached: 3, LongestTimePlayed: 60, TotalGhostsEaten: 5}

		Convey("Maxima keep the larger value and totals add up", func() {
			stats.Apply(st, stats.Contribution{
				Score: intp(300), LevelReached: intp(4), DurationSeconds: intp(90),
				GhostsEaten: intp(2), PowerUpsUsed: intp(1), Completed: true,
			})
			So(st.HighestScore, ShouldEqual, 400)
			So(st.HighestLevelReached, ShouldEqual, 4)
			So(st.LongestTimePlayed, ShouldEqual, 90)
			So(st.TotalGhostsEaten, ShouldEqual, 7)
			So(st.TotalPowerUpsUsed, ShouldEqual, 1)
			So(st.TotalGamesPlayed, ShouldEqual, 1)
			So(st.TotalGamesCompleted, ShouldEqual, 1)
		})

		Convey("Absent fields contribute nothing but the game still counts", func() {
			stats.Apply(st, stats.Contribution{})
			So(st.HighestScore, ShouldEqual, 400)
			So(st.TotalGhostsEaten, ShouldEqual, 5)
			So(st.TotalGamesPlayed, ShouldEqual, 1)
			So(st.TotalGamesCompleted, ShouldEqual, 0)
		})
	})
}

func TestAggregator(t *testing.T) {
	Convey("Given an aggregator over a store with one user", t, func() {
		ctx := context.Background()
		st := newStore(t)
		now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		So(st.UpsertUser(ctx, &store.User{ID: "u1", Username: "pac", CreatedAt: now, UpdatedAt: now}), ShouldBeNil)

		agg := stats.NewAggregator(st, logging.Discard(), stats.WithClock(func() time.Time { return now }))

		Convey("GetOrCreate creates a zeroed record once", func() {
			first, err := agg.GetOrCreate(ctx, "u1")
			So(err, ShouldBeNil)
			So(first.TotalGamesPlayed, ShouldEqual, 0)
			So(first.CreatedAt.Equal(now), ShouldBeTrue)

			second, err := agg.GetOrCreate(ctx, "u1")
			So(err, ShouldBeNil)
			So(second.ID, ShouldEqual, first.ID)
		})

		Convey("Concurrent first access yields exactly one record", func() {
			var wg sync.WaitGroup
			ids := make([]string, 8)
			errs := make([]error, 8)
			for i := range ids {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					rec, err := agg.GetOrCreate(ctx, "u1")
					errs[i] = err
					if err == nil {
						ids[i] = rec.ID
					}
				}(i)
			}
			wg.Wait()

			for i := range ids {
				So(errs[i], ShouldBeNil)
				So(ids[i], ShouldEqual, ids[0])
			}
			n, err := st.CountStats(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
		})

		Convey("GetOrCreate for an unknown user is NotFound", func() {
			_, err := agg.GetOrCreate(ctx, "ghost")
			So(apperr.Is(err, apperr.KindNotFound), ShouldBeTrue)
		})

		Convey("Get does not create", func() {
			_, err := agg.Get(ctx, "u1")
			So(apperr.Is(err, apperr.KindNotFound), ShouldBeTrue)
		})

		Convey("Folding a completed session matches the reported metrics", func() {
			res, err := agg.FoldSession(ctx, "u1", finished("s1", store.StatusCompleted, 500, 1, 0, 3, 0))
			So(err, ShouldBeNil)
			So(res.Stats.HighestScore, ShouldEqual, 500)
			So(res.Stats.TotalGhostsEaten, ShouldEqual, 3)
			So(res.Stats.TotalGamesPlayed, ShouldEqual, 1)
			So(res.Stats.TotalGamesCompleted, ShouldEqual, 1)
			So(res.NewHighScore, ShouldBeTrue)
			So(res.PersonalBest(), ShouldBeTrue)

			got, err := agg.Get(ctx, "u1")
			So(err, ShouldBeNil)
			So(got.HighestScore, ShouldEqual, 500)
		})

		Convey("Maxima never decrease and totals are sums over a sequence", func() {
			sessions := []*store.GameSession{
				finished("s1", store.StatusCompleted, 500, 3, 120, 3, 1),
				finished("s2", store.StatusAbandoned, 200, 2, 30, 4, 2),
				finished("s3", store.StatusCompleted, 800, 1, 60, 0, 0),
			}
			prevScore, prevLevel, prevDuration := 0, 0, 0
			var last *stats.FoldResult
			for _, s := range sessions {
				res, err := agg.FoldSession(ctx, "u1", s)
				So(err, ShouldBeNil)
				So(res.Stats.HighestScore, ShouldBeGreaterThanOrEqualTo, prevScore)
				So(res.Stats.HighestLevelReached, ShouldBeGreaterThanOrEqualTo, prevLevel)
				So(res.Stats.LongestTimePlayed, ShouldBeGreaterThanOrEqualTo, prevDuration)
				prevScore, prevLevel, prevDuration = res.Stats.HighestScore, res.Stats.HighestLevelReached, res.Stats.LongestTimePlayed
				last = res
			}

			So(last.Stats.HighestScore, ShouldEqual, 800)
			So(last.Stats.HighestLevelReached, ShouldEqual, 3)
			So(last.Stats.LongestTimePlayed, ShouldEqual, 120)
			So(last.Stats.TotalGhostsEaten, ShouldEqual, 7)
			So(last.Stats.TotalPowerUpsUsed, ShouldEqual, 3)
			So(last.Stats.TotalGamesPlayed, ShouldEqual, 3)
			So(last.Stats.TotalGamesCompleted, ShouldEqual, 2)
			So(last.NewHighScore, ShouldBeTrue)
			So(last.NewHighestLevel, ShouldBeFalse)
		})

		Convey("An in-progress session cannot be folded", func() {
			_, err := agg.FoldSession(ctx, "u1", finished("s1", store.StatusInProgress, 10, 1, 0, 0, 0))
			So(apperr.Is(err, apperr.KindInvalidState), ShouldBeTrue)

			_, err = agg.Get(ctx, "u1")
			So(apperr.Is(err, apperr.KindNotFound), ShouldBeTrue)
		})
	})
}
