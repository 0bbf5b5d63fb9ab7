package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/edvart/mazechase/internal/store"
	. "github.com/smartystreets/goconvey/convey"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedUser(ctx context.Context, st store.Store, id, username string) {
	now := time.Now().UTC()
	So(st.UpsertUser(ctx, &store.User{ID: id, Username: username, CreatedAt: now, UpdatedAt: now}), ShouldBeNil)
}

func TestUsers(t *testing.T) {
	Convey("Given an empty store", t, func() {
		ctx := context.Background()
		st := newTestStore(t)

		Convey("A missing user is ErrNotFound", func() {
			_, err := st.GetUser(ctx, "nobody")
			So(errors.Is(err, store.ErrNotFound), ShouldBeTrue)
		})

		Convey("Upsert creates then updates a user", func() {
			seedUser(ctx, st, "u1", "pac")
			now := time.Now().UTC()
			So(st.UpsertUser(ctx, &store.User{ID: "u1", Username: "pacman", CreatedAt: now, UpdatedAt: now}), ShouldBeNil)

			u, err := st.GetUser(ctx, "u1")
			So(err, ShouldBeNil)
			So(u.Username, ShouldEqual, "pacman")
		})

		Convey("A username taken by another id is ErrConflict", func() {
			seedUser(ctx, st, "u1", "pac")
			now := time.Now().UTC()
			err := st.UpsertUser(ctx, &store.User{ID: "u2", Username: "pac", CreatedAt: now, UpdatedAt: now})
			So(errors.Is(err, store.ErrConflict), ShouldBeTrue)
		})

		Convey("UpdateProfile sets display fields", func() {
			seedUser(ctx, st, "u1", "pac")
			u, err := st.UpdateProfile(ctx, "u1", "Pac Man", "1234", time.Now().UTC())
			So(err, ShouldBeNil)
			So(u.DisplayName, ShouldEqual, "Pac Man")
			So(u.IDNumber, ShouldEqual, "1234")

			_, err = st.UpdateProfile(ctx, "ghost", "x", "", time.Now().UTC())
			So(errors.Is(err, store.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestSessions(t *testing.T) {
	Convey("Given a store with one user", t, func() {
		ctx := context.Background()
		st := newTestStore(t)
		seedUser(ctx, st, "u1", "pac")
		seedUser(ctx, st, "u2", "blinky")
		base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

		session := &store.GameSession{
			ID: "s1", UserID: "u1", LevelReached: 1,
			Status: store.StatusInProgress, StartedAt: base,
		}
		So(st.CreateSession(ctx, session), ShouldBeNil)

		Convey("It is readable only by its owner", func() {
			got, err := st.GetSessionForUser(ctx, "s1", "u1")
			So(err, ShouldBeNil)
			So(got.Username, ShouldEqual, "pac")
			So(got.Status, ShouldEqual, store.StatusInProgress)
			So(got.StartedAt.Equal(base), ShouldBeTrue)
			So(got.EndedAt, ShouldBeNil)

			_, err = st.GetSessionForUser(ctx, "s1", "u2")
			So(errors.Is(err, store.ErrNotFound), ShouldBeTrue)
		})

		Convey("A second IN_PROGRESS session for the same user violates the index", func() {
			err := st.CreateSession(ctx, &store.GameSession{
				ID: "s2", UserID: "u1", LevelReached: 1,
				Status: store.StatusInProgress, StartedAt: base.Add(time.Minute),
			})
			So(errors.Is(err, store.ErrConflict), ShouldBeTrue)
		})

		Convey("Update persists metrics and terminal state", func() {
			ended := base.Add(5 * time.Minute)
			session.Score = 900
			session.GhostsEaten = 4
			session.Status = store.StatusCompleted
			session.EndedAt = &ended
			So(st.UpdateSession(ctx, session), ShouldBeNil)

			got, err := st.GetSessionForUser(ctx, "s1", "u1")
			So(err, ShouldBeNil)
			So(got.Score, ShouldEqual, 900)
			So(got.Status, ShouldEqual, store.StatusCompleted)
			So(got.EndedAt, ShouldNotBeNil)
			So(got.EndedAt.Equal(ended), ShouldBeTrue)

			_, err = st.FindActiveSession(ctx, "u1")
			So(errors.Is(err, store.ErrNotFound), ShouldBeTrue)
		})

		Convey("List orders by start time, newest first", func() {
			ended := base.Add(time.Minute)
			session.Status = store.StatusAbandoned
			session.EndedAt = &ended
			So(st.UpdateSession(ctx, session), ShouldBeNil)
			So(st.CreateSession(ctx, &store.GameSession{
				ID: "s2", UserID: "u1", LevelReached: 1,
				Status: store.StatusInProgress, StartedAt: base.Add(2 * time.Minute),
			}), ShouldBeNil)

			list, err := st.ListSessionsByUser(ctx, "u1")
			So(err, ShouldBeNil)
			So(len(list), ShouldEqual, 2)
			So(list[0].ID, ShouldEqual, "s2")
			So(list[1].ID, ShouldEqual, "s1")

			active, err := st.FindActiveSession(ctx, "u1")
			So(err, ShouldBeNil)
			So(active.ID, ShouldEqual, "s2")

			empty, err := st.ListSessionsByUser(ctx, "u2")
			So(err, ShouldBeNil)
			So(empty, ShouldBeEmpty)
		})
	})
}

func TestStats(t *testing.T) {
	Convey("Given stats for several users", t, func() {
		ctx := context.Background()
		st := newTestStore(t)
		now := time.Now().UTC()
		ghosts := map[string]int{"a": 10, "b": 5, "c": 20, "d": 10}
		for id, g := range ghosts {
			seedUser(ctx, st, id, "user-"+id)
			So(st.InsertStats(ctx, &store.UserStats{
				ID: "st-" + id, UserID: id, TotalGhostsEaten: g, CreatedAt: now, UpdatedAt: now,
			}), ShouldBeNil)
		}

		Convey("A second record for the same user is ErrConflict", func() {
			err := st.InsertStats(ctx, &store.UserStats{ID: "dup", UserID: "a", CreatedAt: now, UpdatedAt: now})
			So(errors.Is(err, store.ErrConflict), ShouldBeTrue)
		})

		Convey("RankStats orders by value with user id as tie-break", func() {
			ranked, err := st.RankStats(ctx, store.FieldTotalGhostsEaten, 0, 10)
			So(err, ShouldBeNil)
			ids := []string{}
			for _, r := range ranked {
				ids = append(ids, r.UserID)
			}
			So(ids, ShouldResemble, []string{"c", "a", "d", "b"})
			So(ranked[0].Username, ShouldEqual, "user-c")
		})

		Convey("RankStats windows with offset and limit", func() {
			ranked, err := st.RankStats(ctx, store.FieldTotalGhostsEaten, 2, 1)
			So(err, ShouldBeNil)
			So(len(ranked), ShouldEqual, 1)
			So(ranked[0].UserID, ShouldEqual, "d")

			past, err := st.RankStats(ctx, store.FieldTotalGhostsEaten, 40, 10)
			So(err, ShouldBeNil)
			So(past, ShouldBeEmpty)
		})

		Convey("RankStats rejects unknown fields", func() {
			_, err := st.RankStats(ctx, store.StatsField("id; DROP TABLE users"), 0, 10)
			So(err, ShouldNotBeNil)
		})

		Convey("CountStats counts every record", func() {
			n, err := st.CountStats(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 4)
		})

		Convey("UpdateStats rewrites aggregates", func() {
			rec, err := st.GetStatsByUser(ctx, "b")
			So(err, ShouldBeNil)
			rec.HighestScore = 1200
			rec.TotalGamesPlayed = 3
			So(st.UpdateStats(ctx, rec), ShouldBeNil)

			rec, err = st.GetStatsByUser(ctx, "b")
			So(err, ShouldBeNil)
			So(rec.HighestScore, ShouldEqual, 1200)
			So(rec.TotalGamesPlayed, ShouldEqual, 3)
		})
	})
}

func TestTransactions(t *testing.T) {
	Convey("Given a store", t, func() {
		ctx := context.Background()
		st := newTestStore(t)
		seedUser(ctx, st, "u1", "pac")
		now := time.Now().UTC()

		Convey("A failing transaction leaves no trace", func() {
			boom := errors.New("boom")
			err := st.InTx(ctx, func(tx store.Tx) error {
				if err := tx.InsertStats(ctx, &store.UserStats{ID: "x", UserID: "u1", CreatedAt: now, UpdatedAt: now}); err != nil {
					return err
				}
				return boom
			})
			So(errors.Is(err, boom), ShouldBeTrue)

			_, err = st.GetStatsByUser(ctx, "u1")
			So(errors.Is(err, store.ErrNotFound), ShouldBeTrue)
		})

		Convey("A successful transaction commits", func() {
			err := st.InTx(ctx, func(tx store.Tx) error {
				return tx.InsertStats(ctx, &store.UserStats{ID: "x", UserID: "u1", CreatedAt: now, UpdatedAt: now})
			})
			So(err, ShouldBeNil)

			var count int
			So(st.InReadTx(ctx, func(tx store.Tx) error {
				var err error
				count, err = tx.CountStats(ctx)
				return err
			}), ShouldBeNil)
			So(count, ShouldEqual, 1)
		})
	})
}

func TestPushSubscriptions(t *testing.T) {
	Convey("Given a store with a user", t, func() {
		ctx := context.Background()
		st := newTestStore(t)
		seedUser(ctx, st, "u1", "pac")

		sub := &store.PushSubscription{UserID: "u1", Endpoint: "https://push.example/1", P256dh: "k", Auth: "a"}
		So(st.SavePushSubscription(ctx, sub), ShouldBeNil)

		Convey("Saving the same endpoint replaces its keys", func() {
			So(st.SavePushSubscription(ctx, &store.PushSubscription{UserID: "u1", Endpoint: sub.Endpoint, P256dh: "k2", Auth: "a2"}), ShouldBeNil)
			subs, err := st.GetPushSubscriptions(ctx, "u1")
			So(err, ShouldBeNil)
			So(len(subs), ShouldEqual, 1)
			So(subs[0].P256dh, ShouldEqual, "k2")
		})

		Convey("Deleting removes it", func() {
			So(st.DeletePushSubscription(ctx, sub.Endpoint), ShouldBeNil)
			subs, err := st.GetPushSubscriptions(ctx, "u1")
			So(err, ShouldBeNil)
			So(subs, ShouldBeEmpty)
		})
	})
}
