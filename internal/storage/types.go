package storage

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

var ErrClosed = errors.New("storage closed")

// ModuleMatchPosts gates the match poller for a group.
const ModuleMatchPosts = "match_posts"

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Link binds a chat user to a game identity. The link is tracked in every
// group listed in GroupIDs.
type Link struct {
	UserID      int64     `json:"user_id"`
	Name        string    `json:"name"`
	Tag         string    `json:"tag"`
	Region      string    `json:"region"`
	PUUID       string    `json:"puuid,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	GroupIDs    []int64   `json:"group_ids,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (l Link) Identity() string { return l.Name + "#" + l.Tag }

func (l Link) InGroup(groupID int64) bool { return slices.Contains(l.GroupIDs, groupID) }

// WithGroup returns a copy tracked in groupID as well.
func (l Link) WithGroup(groupID int64) Link {
	cp := l
	cp.GroupIDs = append([]int64(nil), l.GroupIDs...)
	if groupID != 0 && !cp.InGroup(groupID) {
		cp.GroupIDs = append(cp.GroupIDs, groupID)
	}
	return cp
}

// GroupConfig is the per-group setup.
type GroupConfig struct {
	GroupID       int64     `json:"group_id"`
	MatchChatID   int64     `json:"match_chat_id,omitempty"`
	MatchThreadID int       `json:"match_thread_id,omitempty"`
	Modules       []string  `json:"modules,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasModule treats an empty module list as "everything enabled".
func (g GroupConfig) HasModule(name string) bool {
	if len(g.Modules) == 0 {
		return true
	}
	for _, m := range g.Modules {
		if strings.EqualFold(m, name) {
			return true
		}
	}
	return false
}

// PollingEnabled reports whether match posts go out for this group.
func (g GroupConfig) PollingEnabled() bool {
	return g.MatchChatID != 0 && g.HasModule(ModuleMatchPosts)
}

// Marker is the last match id seen for (group, user).
type Marker struct {
	GroupID   int64     `json:"group_id"`
	UserID    int64     `json:"user_id"`
	MatchID   string    `json:"match_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MatchRecord is one posted match kept for /history.
type MatchRecord struct {
	MatchID        string    `json:"match_id"`
	UserID         int64     `json:"user_id"`
	PUUID          string    `json:"puuid,omitempty"`
	PlayerName     string    `json:"player_name"`
	PlayerTag      string    `json:"player_tag"`
	Region         string    `json:"region"`
	Agent          string    `json:"agent,omitempty"`
	Map            string    `json:"map,omitempty"`
	Mode           string    `json:"mode,omitempty"`
	Result         string    `json:"result"`
	Kills          int       `json:"kills"`
	Deaths         int       `json:"deaths"`
	Assists        int       `json:"assists"`
	Score          int       `json:"score"`
	TeamRoundsWon  int       `json:"team_rounds_won"`
	EnemyRoundsWon int       `json:"enemy_rounds_won"`
	RatingChange   *int      `json:"rating_change,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

type LinkStore interface {
	PutLink(ctx context.Context, l Link) error
	GetLink(ctx context.Context, userID int64) (Link, bool, error)
	DeleteLink(ctx context.Context, userID int64) error
	// ListLinks returns links tracked in groupID, ordered by user id.
	ListLinks(ctx context.Context, groupID int64) ([]Link, error)
	AllLinks(ctx context.Context) ([]Link, error)
}

type GroupStore interface {
	PutGroup(ctx context.Context, g GroupConfig) error
	GetGroup(ctx context.Context, groupID int64) (GroupConfig, bool, error)
	ListGroups(ctx context.Context) ([]GroupConfig, error)
	// ListPollingGroups returns groups with match posts enabled, ordered by id.
	ListPollingGroups(ctx context.Context) ([]GroupConfig, error)
}

type MarkerStore interface {
	GetLastActivity(ctx context.Context, groupID, userID int64) (string, bool, error)
	SetLastActivity(ctx context.Context, groupID, userID int64, matchID string) error
	ListMarkers(ctx context.Context) ([]Marker, error)
}

type HistoryStore interface {
	// UpsertMatch ignores a second record for the same (match, user).
	UpsertMatch(ctx context.Context, r MatchRecord) error
	RecentMatches(ctx context.Context, userID int64, limit int) ([]MatchRecord, error)
}

// Store is the persistence API used by the bot.
type Store interface {
	LinkStore
	GroupStore
	MarkerStore
	HistoryStore
	Close() error
}
