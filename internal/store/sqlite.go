package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	queries
	db *sql.DB
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements Tx over either the pool or an open transaction.
type queries struct {
	q dbtx
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one connection serializes transactions
	// instead of failing them with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	store := &SQLiteStore{queries: queries{q: db}, db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			id_number TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS game_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			score INTEGER NOT NULL DEFAULT 0,
			level_reached INTEGER NOT NULL DEFAULT 1,
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			ghosts_eaten INTEGER NOT NULL DEFAULT 0,
			power_ups_used INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_game_sessions_user ON game_sessions(user_id, started_at DESC)`,
		// At most one open session per user, enforced by the database as well.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_game_sessions_one_active
			ON game_sessions(user_id) WHERE status = 'IN_PROGRESS'`,
		`CREATE TABLE IF NOT EXISTS user_stats (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE REFERENCES users(id),
			highest_score INTEGER NOT NULL DEFAULT 0,
			highest_level_reached INTEGER NOT NULL DEFAULT 0,
			longest_time_played INTEGER NOT NULL DEFAULT 0,
			total_ghosts_eaten INTEGER NOT NULL DEFAULT 0,
			total_power_ups_used INTEGER NOT NULL DEFAULT 0,
			total_games_played INTEGER NOT NULL DEFAULT 0,
			total_games_completed INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_stats_score ON user_stats(highest_score DESC, user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_stats_level ON user_stats(highest_level_reached DESC, user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_stats_ghosts ON user_stats(total_ghosts_eaten DESC, user_id)`,
		`CREATE TABLE IF NOT EXISTS push_subscriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL REFERENCES users(id),
			endpoint TEXT NOT NULL UNIQUE,
			p256dh TEXT NOT NULL,
			auth TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside a transaction and commits if it returns nil.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// InReadTx runs fn inside a transaction that is always rolled back.
func (s *SQLiteStore) InReadTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	return fn(&queries{q: tx})
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// GetUser retrieves a user by id.
func (q *queries) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	err := q.q.QueryRowContext(ctx,
		`SELECT id, username, display_name, id_number, created_at, updated_at
		 FROM users WHERE id = ?`, userID).Scan(
		&u.ID, &u.Username, &u.DisplayName, &u.IDNumber, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// UpsertUser creates or updates a user. A username taken by another id is ErrConflict.
func (q *queries) UpsertUser(ctx context.Context, user *User) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, id_number, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		 	username = excluded.username,
		 	display_name = excluded.display_name,
		 	id_number = excluded.id_number,
		 	updated_at = excluded.updated_at`,
		user.ID, user.Username, user.DisplayName, user.IDNumber, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// ListUsers returns all registered users.
func (q *queries) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT id, username, display_name, id_number, created_at, updated_at
		 FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.IDNumber, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateProfile sets the display fields of a user.
func (q *queries) UpdateProfile(ctx context.Context, userID, displayName, idNumber string, updatedAt time.Time) (*User, error) {
	result, err := q.q.ExecContext(ctx,
		`UPDATE users SET display_name = ?, id_number = ?, updated_at = ? WHERE id = ?`,
		displayName, idNumber, updatedAt, userID)
	if err != nil {
		return nil, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return q.GetUser(ctx, userID)
}

const sessionColumns = `s.id, s.user_id, COALESCE(u.username, ''), s.score, s.level_reached,
	s.duration_seconds, s.ghosts_eaten, s.power_ups_used, s.status, s.started_at, s.ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*GameSession, error) {
	var gs GameSession
	var endedAt sql.NullTime
	if err := row.Scan(
		&gs.ID, &gs.UserID, &gs.Username, &gs.Score, &gs.LevelReached,
		&gs.DurationSeconds, &gs.GhostsEaten, &gs.PowerUpsUsed, &gs.Status, &gs.StartedAt, &endedAt,
	); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		gs.EndedAt = &t
	}
	return &gs, nil
}

// CreateSession inserts a new game session.
func (q *queries) CreateSession(ctx context.Context, session *GameSession) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO game_sessions (id, user_id, score, level_reached, duration_seconds,
			ghosts_eaten, power_ups_used, status, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.Score, session.LevelReached, session.DurationSeconds,
		session.GhostsEaten, session.PowerUpsUsed, session.Status, session.StartedAt, nullTime(session.EndedAt),
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetSessionForUser retrieves a session owned by userID.
func (q *queries) GetSessionForUser(ctx context.Context, sessionID, userID string) (*GameSession, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM game_sessions s LEFT JOIN users u ON u.id = s.user_id
		 WHERE s.id = ? AND s.user_id = ?`, sessionID, userID)
	gs, err := scanSession(row)
	if err != nil {
		return nil, notFound(err)
	}
	return gs, nil
}

// UpdateSession writes the mutable fields of a session. started_at is never rewritten.
func (q *queries) UpdateSession(ctx context.Context, session *GameSession) error {
	result, err := q.q.ExecContext(ctx,
		`UPDATE game_sessions SET score = ?, level_reached = ?, duration_seconds = ?,
			ghosts_eaten = ?, power_ups_used = ?, status = ?, ended_at = ?
		 WHERE id = ? AND user_id = ?`,
		session.Score, session.LevelReached, session.DurationSeconds,
		session.GhostsEaten, session.PowerUpsUsed, session.Status, nullTime(session.EndedAt),
		session.ID, session.UserID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessionsByUser returns a user's sessions, most recent first.
func (q *queries) ListSessionsByUser(ctx context.Context, userID string) ([]GameSession, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM game_sessions s LEFT JOIN users u ON u.id = s.user_id
		 WHERE s.user_id = ?
		 ORDER BY s.started_at DESC, s.rowid DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []GameSession{}
	for rows.Next() {
		gs, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *gs)
	}
	return sessions, rows.Err()
}

// FindActiveSession returns the user's IN_PROGRESS session.
func (q *queries) FindActiveSession(ctx context.Context, userID string) (*GameSession, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM game_sessions s LEFT JOIN users u ON u.id = s.user_id
		 WHERE s.user_id = ? AND s.status = ?
		 ORDER BY s.started_at DESC
		 LIMIT 1`, userID, StatusInProgress)
	gs, err := scanSession(row)
	if err != nil {
		return nil, notFound(err)
	}
	return gs, nil
}

const statsColumns = `s.id, s.user_id, s.highest_score, s.highest_level_reached, s.longest_time_played,
	s.total_ghosts_eaten, s.total_power_ups_used, s.total_games_played, s.total_games_completed,
	s.created_at, s.updated_at`

func statsDest(st *UserStats) []any {
	return []any{
		&st.ID, &st.UserID, &st.HighestScore, &st.HighestLevelReached, &st.LongestTimePlayed,
		&st.TotalGhostsEaten, &st.TotalPowerUpsUsed, &st.TotalGamesPlayed, &st.TotalGamesCompleted,
		&st.CreatedAt, &st.UpdatedAt,
	}
}

// GetStatsByUser retrieves the stats record of a user.
func (q *queries) GetStatsByUser(ctx context.Context, userID string) (*UserStats, error) {
	var st UserStats
	err := q.q.QueryRowContext(ctx,
		`SELECT `+statsColumns+` FROM user_stats s WHERE s.user_id = ?`, userID).Scan(statsDest(&st)...)
	if err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

// InsertStats creates a stats record; the user_id uniqueness constraint makes it ErrConflict on races.
func (q *queries) InsertStats(ctx context.Context, st *UserStats) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO user_stats (id, user_id, highest_score, highest_level_reached, longest_time_played,
			total_ghosts_eaten, total_power_ups_used, total_games_played, total_games_completed,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.UserID, st.HighestScore, st.HighestLevelReached, st.LongestTimePlayed,
		st.TotalGhostsEaten, st.TotalPowerUpsUsed, st.TotalGamesPlayed, st.TotalGamesCompleted,
		st.CreatedAt, st.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// UpdateStats writes every aggregate column. created_at is never rewritten.
func (q *queries) UpdateStats(ctx context.Context, st *UserStats) error {
	result, err := q.q.ExecContext(ctx,
		`UPDATE user_stats SET highest_score = ?, highest_level_reached = ?, longest_time_played = ?,
			total_ghosts_eaten = ?, total_power_ups_used = ?, total_games_played = ?,
			total_games_completed = ?, updated_at = ?
		 WHERE user_id = ?`,
		st.HighestScore, st.HighestLevelReached, st.LongestTimePlayed,
		st.TotalGhostsEaten, st.TotalPowerUpsUsed, st.TotalGamesPlayed,
		st.TotalGamesCompleted, st.UpdatedAt, st.UserID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RankStats returns one window of stats ordered by field. Ties are broken by user id.
func (q *queries) RankStats(ctx context.Context, field StatsField, offset, limit int) ([]RankedStats, error) {
	switch field {
	case FieldHighestScore, FieldHighestLevel, FieldTotalGhostsEaten:
	default:
		return nil, fmt.Errorf("unknown stats field %q", field)
	}

	query := fmt.Sprintf(`
		SELECT %s, COALESCE(u.username, s.user_id), COALESCE(u.display_name, ''), COALESCE(u.id_number, '')
		FROM user_stats s
		LEFT JOIN users u ON u.id = s.user_id
		ORDER BY s.%s DESC, s.user_id ASC
		LIMIT ? OFFSET ?`, statsColumns, field)

	rows, err := q.q.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ranked := []RankedStats{}
	for rows.Next() {
		var r RankedStats
		dest := append(statsDest(&r.UserStats), &r.Username, &r.DisplayName, &r.IDNumber)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		ranked = append(ranked, r)
	}
	return ranked, rows.Err()
}

// CountStats returns the number of players with a stats record.
func (q *queries) CountStats(ctx context.Context) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_stats`).Scan(&n)
	return n, err
}

// SavePushSubscription stores a subscription, replacing keys for a known endpoint.
func (s *SQLiteStore) SavePushSubscription(ctx context.Context, sub *PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET
		 	user_id = excluded.user_id,
		 	p256dh = excluded.p256dh,
		 	auth = excluded.auth`,
		sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth, sub.CreatedAt,
	)
	return err
}

// GetPushSubscriptions returns all subscriptions of a user.
func (s *SQLiteStore) GetPushSubscriptions(ctx context.Context, userID string) ([]PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, endpoint, p256dh, auth, created_at
		 FROM push_subscriptions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []PushSubscription
	for rows.Next() {
		var sub PushSubscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeletePushSubscription removes a subscription by endpoint.
func (s *SQLiteStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	return err
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
