package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "rankbot/pkg/logx"
)

// fileStore persists the memory state without a database.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal since the snapshot)
//
// The journal is compacted into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu           sync.RWMutex
	st           *state
	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
}

const (
	opPutLink    = "link.put"
	opDeleteLink = "link.delete"
	opPutGroup   = "group.put"
	opSetMarker  = "marker.set"
	opMatch      = "match.upsert"
)

type journalRecord struct {
	Op     string       `json:"op"`
	UserID int64        `json:"user_id,omitempty"`
	Link   *Link        `json:"link,omitempty"`
	Group  *GroupConfig `json:"group,omitempty"`
	Marker *Marker      `json:"marker,omitempty"`
	Match  *MatchRecord `json:"match,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	st := newState()
	if err := loadSnapshot(snapPath, st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	st.index()
	n, err := replayJournal(journalPath, st)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if n > 0 {
		log.Debug("storage journal replayed", logx.Int("records", n))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{
		log:          log,
		st:           st,
		snapshotPath: snapPath,
		journal:      jf,
		compactEvery: 1000,
	}, nil
}

// apply mutates state and appends the journal record. State is updated
// even if the append fails; the next compaction persists it.
func (s *fileStore) apply(rec journalRecord, fn func(st *state) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if !fn(s.st) {
		return nil
	}
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("storage compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) read(fn func(st *state)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.journal == nil {
		return ErrClosed
	}
	fn(s.st)
	return nil
}

func (s *fileStore) PutLink(_ context.Context, l Link) error {
	return s.apply(journalRecord{Op: opPutLink, Link: &l}, func(st *state) bool {
		st.putLink(l)
		return true
	})
}

func (s *fileStore) GetLink(_ context.Context, userID int64) (l Link, ok bool, err error) {
	err = s.read(func(st *state) { l, ok = st.Links[userID] })
	return l, ok, err
}

func (s *fileStore) DeleteLink(_ context.Context, userID int64) error {
	return s.apply(journalRecord{Op: opDeleteLink, UserID: userID}, func(st *state) bool {
		st.deleteLink(userID)
		return true
	})
}

func (s *fileStore) ListLinks(_ context.Context, groupID int64) (out []Link, err error) {
	err = s.read(func(st *state) { out = st.listLinks(groupID) })
	return out, err
}

func (s *fileStore) AllLinks(_ context.Context) (out []Link, err error) {
	err = s.read(func(st *state) { out = st.listLinks(0) })
	return out, err
}

func (s *fileStore) PutGroup(_ context.Context, g GroupConfig) error {
	return s.apply(journalRecord{Op: opPutGroup, Group: &g}, func(st *state) bool {
		st.putGroup(g)
		return true
	})
}

func (s *fileStore) GetGroup(_ context.Context, groupID int64) (g GroupConfig, ok bool, err error) {
	err = s.read(func(st *state) { g, ok = st.Groups[groupID] })
	return g, ok, err
}

func (s *fileStore) ListGroups(_ context.Context) (out []GroupConfig, err error) {
	err = s.read(func(st *state) { out = st.listGroups(false) })
	return out, err
}

func (s *fileStore) ListPollingGroups(_ context.Context) (out []GroupConfig, err error) {
	err = s.read(func(st *state) { out = st.listGroups(true) })
	return out, err
}

func (s *fileStore) GetLastActivity(_ context.Context, groupID, userID int64) (id string, ok bool, err error) {
	err = s.read(func(st *state) {
		var m Marker
		m, ok = st.markers[markerKey{groupID, userID}]
		id = m.MatchID
	})
	return id, ok, err
}

func (s *fileStore) SetLastActivity(_ context.Context, groupID, userID int64, matchID string) error {
	m := Marker{GroupID: groupID, UserID: userID, MatchID: matchID}
	return s.apply(journalRecord{Op: opSetMarker, Marker: &m}, func(st *state) bool {
		st.setMarker(m)
		return true
	})
}

func (s *fileStore) ListMarkers(_ context.Context) (out []Marker, err error) {
	err = s.read(func(st *state) { out = st.listMarkers() })
	return out, err
}

func (s *fileStore) UpsertMatch(_ context.Context, r MatchRecord) error {
	return s.apply(journalRecord{Op: opMatch, Match: &r}, func(st *state) bool {
		return st.upsertMatch(r)
	})
}

func (s *fileStore) RecentMatches(_ context.Context, userID int64, limit int) (out []MatchRecord, err error) {
	err = s.read(func(st *state) { out = st.recentMatches(userID, limit) })
	return out, err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) compactLocked() error {
	s.st.flatten()
	defer func() { s.st.Markers = nil }()

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(st)
}

// replayJournal applies journal records on top of st. Corrupt lines are skipped.
func replayJournal(path string, st *state) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch {
		case r.Op == opPutLink && r.Link != nil:
			st.putLink(*r.Link)
		case r.Op == opDeleteLink:
			st.deleteLink(r.UserID)
		case r.Op == opPutGroup && r.Group != nil:
			st.putGroup(*r.Group)
		case r.Op == opSetMarker && r.Marker != nil:
			st.setMarker(*r.Marker)
		case r.Op == opMatch && r.Match != nil:
			st.upsertMatch(*r.Match)
		default:
			continue
		}
		n++
	}
	return n, sc.Err()
}
