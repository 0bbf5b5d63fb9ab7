package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/edvart/mazechase/internal/auth"
	"github.com/edvart/mazechase/internal/events"
	"github.com/edvart/mazechase/internal/gamesession"
	"github.com/edvart/mazechase/internal/leaderboard"
	"github.com/edvart/mazechase/internal/logging"
	"github.com/edvart/mazechase/internal/metrics"
	"github.com/edvart/mazechase/internal/players"
	"github.com/edvart/mazechase/internal/push"
	"github.com/edvart/mazechase/internal/stats"
	"github.com/edvart/mazechase/internal/store"
)

type testServer struct {
	*Server
	tokens *auth.TokenService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "web.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	log := logging.Discard()
	m := metrics.NewManager()
	agg := stats.NewAggregator(st, log, stats.WithMetrics(m))
	ps := players.NewService(st, log)
	tokens := auth.NewTokenService("test-secret", "mazechase", time.Hour)

	ctx := context.Background()
	for id, name := range map[string]string{"u1": "pac", "u2": "blinky", "root": "admin"} {
		if _, err := ps.Register(ctx, id, name); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	srv := NewServer(Deps{
		Store:       st,
		Sessions:    gamesession.NewService(st, agg, log, gamesession.WithMetrics(m)),
		Stats:       agg,
		Leaderboard: leaderboard.NewEngine(st, log, leaderboard.WithMetrics(m), leaderboard.WithMaxPageSize(50)),
		Players:     ps,
		Tokens:      tokens,
		Admins:      auth.NewAdminConfig("root"),
		Push:        push.NewService(st, push.Config{}, log, m),
		Metrics:     m,
	}, Config{DevMode: true, DefaultPageSize: 10}, log)

	return &testServer{Server: srv, tokens: tokens}
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := ts.tokens.Issue(userID, userID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func decode(rec *httptest.ResponseRecorder) map[string]any {
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return out
}

func TestSessionRoutes(t *testing.T) {
	Convey("Given a running server", t, func() {
		ts := newTestServer(t)
		tok := ts.token(t, "u1")

		Convey("Requests without a token are unauthorized", func() {
			rec := ts.do(http.MethodPost, "/api/game-sessions/start", "", nil)
			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
			So(decode(rec)["code"], ShouldEqual, "unauthorized")
		})

		Convey("A session goes through its lifecycle", func() {
			rec := ts.do(http.MethodPost, "/api/game-sessions/start", tok, nil)
			So(rec.Code, ShouldEqual, http.StatusCreated)
			started := decode(rec)
			So(started["status"], ShouldEqual, "IN_PROGRESS")
			So(started["username"], ShouldEqual, "pac")
			id := started["id"].(string)

			rec = ts.do(http.MethodPut, "/api/game-sessions/"+id, tok, map[string]int{"score": 500})
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["score"], ShouldEqual, float64(500))

			rec = ts.do(http.MethodGet, "/api/game-sessions/active", tok, nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["id"], ShouldEqual, id)

			rec = ts.do(http.MethodPost, "/api/game-sessions/"+id+"/end", tok, map[string]any{"score": 900, "levelReached": 3, "status": "completed"})
			So(rec.Code, ShouldEqual, http.StatusOK)
			ended := decode(rec)
			So(ended["status"], ShouldEqual, "COMPLETED")
			So(ended["endedAt"], ShouldNotBeNil)

			rec = ts.do(http.MethodPost, "/api/game-sessions/"+id+"/end", tok, nil)
			So(rec.Code, ShouldEqual, http.StatusConflict)

			rec = ts.do(http.MethodGet, "/api/game-sessions/active", tok, nil)
			So(rec.Code, ShouldEqual, http.StatusNotFound)

			rec = ts.do(http.MethodGet, "/api/stats/me", tok, nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			me := decode(rec)
			So(me["highestScore"], ShouldEqual, float64(900))
			So(me["totalGamesCompleted"], ShouldEqual, float64(1))

			rec = ts.do(http.MethodGet, "/api/game-sessions", tok, nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			var list []map[string]any
			So(json.Unmarshal(rec.Body.Bytes(), &list), ShouldBeNil)
			So(len(list), ShouldEqual, 1)
		})

		Convey("Another player's session is not found", func() {
			rec := ts.do(http.MethodPost, "/api/game-sessions/start", tok, nil)
			id := decode(rec)["id"].(string)

			rec = ts.do(http.MethodGet, "/api/game-sessions/"+id, ts.token(t, "u2"), nil)
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Negative metrics and unknown fields are rejected", func() {
			rec := ts.do(http.MethodPost, "/api/game-sessions/start", tok, nil)
			id := decode(rec)["id"].(string)

			rec = ts.do(http.MethodPut, "/api/game-sessions/"+id, tok, map[string]int{"score": -1})
			So(rec.Code, ShouldEqual, http.StatusBadRequest)

			rec = ts.do(http.MethodPut, "/api/game-sessions/"+id, tok, map[string]int{"lives": 3})
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Stats of a player who never played are not found", func() {
			rec := ts.do(http.MethodGet, "/api/stats/user/u2", tok, nil)
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestLeaderboardRoutes(t *testing.T) {
	Convey("Given players with finished games", t, func() {
		ts := newTestServer(t)
		for user, score := range map[string]int{"u1": 300, "u2": 700} {
			tok := ts.token(t, user)
			id := decode(ts.do(http.MethodPost, "/api/game-sessions/start", tok, nil))["id"].(string)
			rec := ts.do(http.MethodPost, "/api/game-sessions/"+id+"/end", tok, map[string]any{"score": score, "status": "COMPLETED"})
			So(rec.Code, ShouldEqual, http.StatusOK)
		}

		Convey("The high score board is public and ordered", func() {
			rec := ts.do(http.MethodGet, "/api/leaderboard/high-score?page=0&pageSize=5", "", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)

			var page leaderboard.Page
			So(json.Unmarshal(rec.Body.Bytes(), &page), ShouldBeNil)
			So(page.TotalPlayers, ShouldEqual, 2)
			So(page.PageSize, ShouldEqual, 5)
			So(len(page.Entries), ShouldEqual, 2)
			So(page.Entries[0].UserID, ShouldEqual, "u2")
			So(page.Entries[0].Rank, ShouldEqual, 1)
			So(page.Entries[1].Value, ShouldEqual, 300)
		})

		Convey("Every category is returned together", func() {
			rec := ts.do(http.MethodGet, "/api/leaderboard", "", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)

			var pages []leaderboard.Page
			So(json.Unmarshal(rec.Body.Bytes(), &pages), ShouldBeNil)
			So(len(pages), ShouldEqual, 3)
			So(pages[0].PageSize, ShouldEqual, 10)
		})

		Convey("Bad paging is a validation error", func() {
			for _, q := range []string{"page=x", "pageSize=abc", "page=-1", "pageSize=0", "pageSize=51"} {
				rec := ts.do(http.MethodGet, "/api/leaderboard/total-ghosts?"+q, "", nil)
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
			}
		})

		Convey("A page past the end is empty", func() {
			rec := ts.do(http.MethodGet, "/api/leaderboard/highest-level?page=3&pageSize=1", "", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			var page leaderboard.Page
			So(json.Unmarshal(rec.Body.Bytes(), &page), ShouldBeNil)
			So(page.Entries, ShouldBeEmpty)
			So(page.TotalPages, ShouldEqual, 2)
		})
	})
}

func TestProfileAndAdminRoutes(t *testing.T) {
	Convey("Given a running server", t, func() {
		ts := newTestServer(t)
		tok := ts.token(t, "u1")

		Convey("A player updates their profile", func() {
			rec := ts.do(http.MethodPut, "/api/profile", tok, map[string]string{"name": " Pac ", "idNumber": "42"})
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["name"], ShouldEqual, "Pac")

			rec = ts.do(http.MethodPut, "/api/profile", tok, map[string]string{"idNumber": "abc"})
			So(rec.Code, ShouldEqual, http.StatusBadRequest)

			rec = ts.do(http.MethodGet, "/api/me", tok, nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			me := decode(rec)
			So(me["idNumber"], ShouldEqual, "42")
			So(me["isAdmin"], ShouldEqual, false)
		})

		Convey("Admin routes require an admin", func() {
			rec := ts.do(http.MethodGet, "/api/admin/users", tok, nil)
			So(rec.Code, ShouldEqual, http.StatusForbidden)
			So(decode(rec)["code"], ShouldEqual, "forbidden")
		})

		Convey("An admin registers and lists players", func() {
			admin := ts.token(t, "root")
			rec := ts.do(http.MethodPost, "/api/admin/users", admin, map[string]string{"id": "u3", "username": "inky"})
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["username"], ShouldEqual, "inky")

			rec = ts.do(http.MethodPost, "/api/admin/users", admin, map[string]string{"id": "u4", "username": "inky"})
			So(rec.Code, ShouldEqual, http.StatusConflict)

			rec = ts.do(http.MethodGet, "/api/admin/users", admin, nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			var users []map[string]any
			So(json.Unmarshal(rec.Body.Bytes(), &users), ShouldBeNil)
			So(len(users), ShouldEqual, 4)
		})

		Convey("Dev login issues a working token", func() {
			rec := ts.do(http.MethodGet, "/dev/login?user=dev1&username=clyde", "", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			var resp devLoginResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.User.Username, ShouldEqual, "clyde")

			rec = ts.do(http.MethodGet, "/api/me", resp.Token, nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["id"], ShouldEqual, "dev1")
		})

		Convey("Dev fake players are created", func() {
			rec := ts.do(http.MethodPost, "/dev/fake-players?count=2", "", nil)
			So(rec.Code, ShouldEqual, http.StatusCreated)

			rec = ts.do(http.MethodPost, "/dev/fake-players?count=500", "", nil)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestOperationalRoutes(t *testing.T) {
	Convey("Given a running server", t, func() {
		ts := newTestServer(t)

		Convey("Health reports ok", func() {
			rec := ts.do(http.MethodGet, "/healthz", "", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["status"], ShouldEqual, "ok")
		})

		Convey("Push routes are unavailable without VAPID keys", func() {
			rec := ts.do(http.MethodGet, "/api/push/vapid-key", "", nil)
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)

			rec = ts.do(http.MethodPost, "/api/push/subscribe", ts.token(t, "u1"), map[string]string{"endpoint": "https://push.example/1"})
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("Requests are counted by route pattern", func() {
			ts.do(http.MethodGet, "/api/leaderboard/high-score", "", nil)

			rec := ts.do(http.MethodGet, "/metrics", "", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			body := rec.Body.String()
			So(body, ShouldContainSubstring, "mazechase_http_requests_total")
			So(body, ShouldContainSubstring, `endpoint="/api/leaderboard/high-score"`)
		})
	})
}

func TestSSE(t *testing.T) {
	Convey("Events are encoded with their type", t, func() {
		msg, err := encodeSSE(events.PersonalBest{UserID: "u1", HighestScore: 900})
		So(err, ShouldBeNil)
		So(string(msg), ShouldStartWith, "event: personal_best\ndata: {")
		So(string(msg), ShouldEndWith, "}\n\n")
	})

	Convey("Given a connected stream filtered to one player", t, func() {
		ts := newTestServer(t)
		httpSrv := httptest.NewServer(ts)
		defer httpSrv.Close()

		ch := make(chan events.Event, 4)
		ts.StartSSE(ch)
		defer close(ch)

		resp, err := http.Get(httpSrv.URL + "/events?user=u1")
		So(err, ShouldBeNil)
		defer resp.Body.Close()
		So(resp.Header.Get("Content-Type"), ShouldEqual, "text/event-stream")

		reader := bufio.NewReader(resp.Body)
		line, err := reader.ReadString('\n')
		So(err, ShouldBeNil)
		So(line, ShouldEqual, ": connected\n")

		deadline := time.Now().Add(2 * time.Second)
		for ts.sse.ClientCount() == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		So(ts.sse.ClientCount(), ShouldEqual, 1)

		ch <- events.SessionStarted{SessionID: "s2", UserID: "u2"}
		ch <- events.SessionStarted{SessionID: "s1", UserID: "u1"}

		var got []string
		for len(got) < 2 {
			line, err := reader.ReadString('\n')
			So(err, ShouldBeNil)
			if strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "data:") {
				got = append(got, strings.TrimSpace(line))
			}
		}
		So(got[0], ShouldEqual, "event: session_started")
		So(got[1], ShouldContainSubstring, `"sessionId":"s1"`)

		Convey("Closing the hub ends the stream", func() {
			ts.CloseStreams()
			_, err := io.ReadAll(reader)
			So(err, ShouldBeNil)
		})
	})
}
