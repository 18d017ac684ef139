package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

type markerKey struct{ group, user int64 }

type historyKey struct {
	match string
	user  int64
}

// state is the in-memory data set shared by the memory and file drivers.
type state struct {
	Links   map[int64]Link        `json:"links"`
	Groups  map[int64]GroupConfig `json:"groups"`
	Markers []Marker              `json:"markers"`
	History []MatchRecord         `json:"history"`

	markers map[markerKey]Marker
	seen    map[historyKey]struct{}
}

func newState() *state {
	return &state{
		Links:   map[int64]Link{},
		Groups:  map[int64]GroupConfig{},
		markers: map[markerKey]Marker{},
		seen:    map[historyKey]struct{}{},
	}
}

// index rebuilds lookup maps after decoding a snapshot.
func (st *state) index() {
	if st.Links == nil {
		st.Links = map[int64]Link{}
	}
	if st.Groups == nil {
		st.Groups = map[int64]GroupConfig{}
	}
	st.markers = make(map[markerKey]Marker, len(st.Markers))
	for _, m := range st.Markers {
		st.markers[markerKey{m.GroupID, m.UserID}] = m
	}
	st.Markers = nil
	st.seen = make(map[historyKey]struct{}, len(st.History))
	for _, r := range st.History {
		st.seen[historyKey{r.MatchID, r.UserID}] = struct{}{}
	}
}

// flatten copies markers into the exported slice before encoding.
func (st *state) flatten() {
	st.Markers = st.listMarkers()
}

func (st *state) putLink(l Link) {
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = time.Now().UTC()
	}
	l.GroupIDs = append([]int64(nil), l.GroupIDs...)
	slices.Sort(l.GroupIDs)
	l.GroupIDs = slices.Compact(l.GroupIDs)
	st.Links[l.UserID] = l
}

func (st *state) deleteLink(userID int64) {
	delete(st.Links, userID)
	for k := range st.markers {
		if k.user == userID {
			delete(st.markers, k)
		}
	}
}

func (st *state) listLinks(groupID int64) []Link {
	out := make([]Link, 0, len(st.Links))
	for _, l := range st.Links {
		if groupID == 0 || l.InGroup(groupID) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (st *state) putGroup(g GroupConfig) {
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = time.Now().UTC()
	}
	g.Modules = append([]string(nil), g.Modules...)
	st.Groups[g.GroupID] = g
}

func (st *state) listGroups(pollingOnly bool) []GroupConfig {
	out := make([]GroupConfig, 0, len(st.Groups))
	for _, g := range st.Groups {
		if !pollingOnly || g.PollingEnabled() {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}

func (st *state) setMarker(m Marker) {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	st.markers[markerKey{m.GroupID, m.UserID}] = m
}

func (st *state) listMarkers() []Marker {
	out := make([]Marker, 0, len(st.markers))
	for _, m := range st.markers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GroupID != out[j].GroupID {
			return out[i].GroupID < out[j].GroupID
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// upsertMatch reports whether the record was new.
func (st *state) upsertMatch(r MatchRecord) bool {
	k := historyKey{r.MatchID, r.UserID}
	if _, ok := st.seen[k]; ok {
		return false
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	st.seen[k] = struct{}{}
	st.History = append(st.History, r)
	return true
}

func (st *state) recentMatches(userID int64, limit int) []MatchRecord {
	var out []MatchRecord
	for i := len(st.History) - 1; i >= 0; i-- {
		if st.History[i].UserID != userID {
			continue
		}
		out = append(out, st.History[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// memoryStore keeps everything in process memory.
type memoryStore struct {
	mu     sync.RWMutex
	st     *state
	closed bool
}

func NewMemory() Store { return &memoryStore{st: newState()} }

func (s *memoryStore) write(fn func(st *state)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	fn(s.st)
	return nil
}

func (s *memoryStore) read(fn func(st *state)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	fn(s.st)
	return nil
}

func (s *memoryStore) PutLink(_ context.Context, l Link) error {
	return s.write(func(st *state) { st.putLink(l) })
}

func (s *memoryStore) GetLink(_ context.Context, userID int64) (l Link, ok bool, err error) {
	err = s.read(func(st *state) { l, ok = st.Links[userID] })
	return l, ok, err
}

func (s *memoryStore) DeleteLink(_ context.Context, userID int64) error {
	return s.write(func(st *state) { st.deleteLink(userID) })
}

func (s *memoryStore) ListLinks(_ context.Context, groupID int64) (out []Link, err error) {
	err = s.read(func(st *state) { out = st.listLinks(groupID) })
	return out, err
}

func (s *memoryStore) AllLinks(_ context.Context) (out []Link, err error) {
	err = s.read(func(st *state) { out = st.listLinks(0) })
	return out, err
}

func (s *memoryStore) PutGroup(_ context.Context, g GroupConfig) error {
	return s.write(func(st *state) { st.putGroup(g) })
}

func (s *memoryStore) GetGroup(_ context.Context, groupID int64) (g GroupConfig, ok bool, err error) {
	err = s.read(func(st *state) { g, ok = st.Groups[groupID] })
	return g, ok, err
}

func (s *memoryStore) ListGroups(_ context.Context) (out []GroupConfig, err error) {
	err = s.read(func(st *state) { out = st.listGroups(false) })
	return out, err
}

func (s *memoryStore) ListPollingGroups(_ context.Context) (out []GroupConfig, err error) {
	err = s.read(func(st *state) { out = st.listGroups(true) })
	return out, err
}

func (s *memoryStore) GetLastActivity(_ context.Context, groupID, userID int64) (id string, ok bool, err error) {
	err = s.read(func(st *state) {
		var m Marker
		m, ok = st.markers[markerKey{groupID, userID}]
		id = m.MatchID
	})
	return id, ok, err
}

func (s *memoryStore) SetLastActivity(_ context.Context, groupID, userID int64, matchID string) error {
	return s.write(func(st *state) {
		st.setMarker(Marker{GroupID: groupID, UserID: userID, MatchID: matchID})
	})
}

func (s *memoryStore) ListMarkers(_ context.Context) (out []Marker, err error) {
	err = s.read(func(st *state) { out = st.listMarkers() })
	return out, err
}

func (s *memoryStore) UpsertMatch(_ context.Context, r MatchRecord) error {
	return s.write(func(st *state) { st.upsertMatch(r) })
}

func (s *memoryStore) RecentMatches(_ context.Context, userID int64, limit int) (out []MatchRecord, err error) {
	err = s.read(func(st *state) { out = st.recentMatches(userID, limit) })
	return out, err
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
