package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "rankbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutLink(ctx context.Context, l Link) error {
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_links(user_id, name, tag, region, puuid, display_name, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   name=excluded.name, tag=excluded.tag, region=excluded.region,
		   puuid=excluded.puuid, display_name=excluded.display_name, updated_at=excluded.updated_at`,
		l.UserID, l.Name, l.Tag, l.Region, nullStr(l.PUUID), nullStr(l.DisplayName), formatTime(l.UpdatedAt),
	)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM link_groups WHERE user_id = ?`, l.UserID); err != nil {
		return err
	}
	for _, g := range l.GroupIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO link_groups(user_id, group_id) VALUES(?,?)`, l.UserID, g); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const linkColumns = `user_id, name, tag, region, COALESCE(puuid,''), COALESCE(display_name,''), updated_at`

func scanLink(sc interface{ Scan(...any) error }) (Link, error) {
	var (
		l  Link
		ts string
	)
	if err := sc.Scan(&l.UserID, &l.Name, &l.Tag, &l.Region, &l.PUUID, &l.DisplayName, &ts); err != nil {
		return Link{}, err
	}
	l.UpdatedAt = parseTime(ts)
	return l, nil
}

func (s *sqliteStore) GetLink(ctx context.Context, userID int64) (Link, bool, error) {
	l, err := scanLink(s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM user_links WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Link{}, false, nil
	}
	if err != nil {
		return Link{}, false, err
	}
	groups, err := s.linkGroups(ctx)
	if err != nil {
		return Link{}, false, err
	}
	l.GroupIDs = groups[userID]
	return l, true, nil
}

func (s *sqliteStore) DeleteLink(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{
		`DELETE FROM link_groups WHERE user_id = ?`,
		`DELETE FROM poller_state WHERE user_id = ?`,
		`DELETE FROM user_links WHERE user_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) linkGroups(ctx context.Context) (map[int64][]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, group_id FROM link_groups ORDER BY user_id, group_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64][]int64{}
	for rows.Next() {
		var u, g int64
		if err := rows.Scan(&u, &g); err != nil {
			return nil, err
		}
		out[u] = append(out[u], g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListLinks(ctx context.Context, groupID int64) ([]Link, error) {
	if groupID == 0 {
		return s.AllLinks(ctx)
	}
	return s.queryLinks(ctx,
		`SELECT `+linkColumns+` FROM user_links
		 WHERE user_id IN (SELECT user_id FROM link_groups WHERE group_id = ?)
		 ORDER BY user_id`, groupID)
}

func (s *sqliteStore) AllLinks(ctx context.Context) ([]Link, error) {
	return s.queryLinks(ctx, `SELECT `+linkColumns+` FROM user_links ORDER BY user_id`)
}

func (s *sqliteStore) queryLinks(ctx context.Context, q string, args ...any) ([]Link, error) {
	groups, err := s.linkGroups(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		l.GroupIDs = groups[l.UserID]
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutGroup(ctx context.Context, g GroupConfig) error {
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_configs(group_id, match_chat_id, match_thread_id, modules, updated_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(group_id) DO UPDATE SET
		   match_chat_id=excluded.match_chat_id, match_thread_id=excluded.match_thread_id,
		   modules=excluded.modules, updated_at=excluded.updated_at`,
		g.GroupID, g.MatchChatID, g.MatchThreadID, strings.Join(g.Modules, ","), formatTime(g.UpdatedAt),
	)
	return err
}

const groupColumns = `group_id, match_chat_id, match_thread_id, modules, updated_at`

func scanGroup(sc interface{ Scan(...any) error }) (GroupConfig, error) {
	var (
		g           GroupConfig
		modules, ts string
	)
	if err := sc.Scan(&g.GroupID, &g.MatchChatID, &g.MatchThreadID, &modules, &ts); err != nil {
		return GroupConfig{}, err
	}
	if modules != "" {
		g.Modules = strings.Split(modules, ",")
	}
	g.UpdatedAt = parseTime(ts)
	return g, nil
}

func (s *sqliteStore) GetGroup(ctx context.Context, groupID int64) (GroupConfig, bool, error) {
	g, err := scanGroup(s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM group_configs WHERE group_id = ?`, groupID))
	if errors.Is(err, sql.ErrNoRows) {
		return GroupConfig{}, false, nil
	}
	if err != nil {
		return GroupConfig{}, false, err
	}
	return g, true, nil
}

func (s *sqliteStore) ListGroups(ctx context.Context) ([]GroupConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+groupColumns+` FROM group_configs ORDER BY group_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GroupConfig
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListPollingGroups filters in Go so module matching stays in one place.
func (s *sqliteStore) ListPollingGroups(ctx context.Context) ([]GroupConfig, error) {
	all, err := s.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, g := range all {
		if g.PollingEnabled() {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *sqliteStore) GetLastActivity(ctx context.Context, groupID, userID int64) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT match_id FROM poller_state WHERE group_id = ? AND user_id = ?`, groupID, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *sqliteStore) SetLastActivity(ctx context.Context, groupID, userID int64, matchID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO poller_state(group_id, user_id, match_id, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(group_id, user_id) DO UPDATE SET match_id=excluded.match_id, updated_at=excluded.updated_at`,
		groupID, userID, matchID, formatTime(time.Now().UTC()),
	)
	return err
}

func (s *sqliteStore) ListMarkers(ctx context.Context) ([]Marker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id, user_id, match_id, updated_at FROM poller_state ORDER BY group_id, user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Marker
	for rows.Next() {
		var (
			m  Marker
			ts string
		)
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.MatchID, &ts); err != nil {
			return nil, err
		}
		m.UpdatedAt = parseTime(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertMatch(ctx context.Context, r MatchRecord) error {
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	var change any
	if r.RatingChange != nil {
		change = *r.RatingChange
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO match_history(match_id, user_id, puuid, player_name, player_tag, region, agent, map, mode,
		   result, kills, deaths, assists, score, team_rounds_won, enemy_rounds_won, rating_change, recorded_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(match_id, user_id) DO NOTHING`,
		r.MatchID, r.UserID, nullStr(r.PUUID), r.PlayerName, r.PlayerTag, r.Region,
		nullStr(r.Agent), nullStr(r.Map), nullStr(r.Mode), r.Result,
		r.Kills, r.Deaths, r.Assists, r.Score, r.TeamRoundsWon, r.EnemyRoundsWon, change,
		formatTime(r.RecordedAt),
	)
	return err
}

func (s *sqliteStore) RecentMatches(ctx context.Context, userID int64, limit int) ([]MatchRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT match_id, user_id, COALESCE(puuid,''), player_name, player_tag, region,
		   COALESCE(agent,''), COALESCE(map,''), COALESCE(mode,''), result,
		   kills, deaths, assists, score, team_rounds_won, enemy_rounds_won, rating_change, recorded_at
		 FROM match_history WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MatchRecord
	for rows.Next() {
		var (
			r      MatchRecord
			change sql.NullInt64
			ts     string
		)
		if err := rows.Scan(&r.MatchID, &r.UserID, &r.PUUID, &r.PlayerName, &r.PlayerTag, &r.Region,
			&r.Agent, &r.Map, &r.Mode, &r.Result,
			&r.Kills, &r.Deaths, &r.Assists, &r.Score, &r.TeamRoundsWon, &r.EnemyRoundsWon, &change, &ts); err != nil {
			return nil, err
		}
		if change.Valid {
			v := int(change.Int64)
			r.RatingChange = &v
		}
		r.RecordedAt = parseTime(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
