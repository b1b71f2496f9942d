package state

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Member is one group participant as reported by the cli bridge.
// Records are replaced wholesale on update (last write wins per id).
type Member struct {
	ID        int64  `json:"peer_id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// DisplayName prefers the username handle, falling back to the
// concatenated first and last names.
func (m Member) DisplayName() string {
	if m.Username != "" {
		return "@" + m.Username
	}
	name := m.FirstName
	if m.LastName != "" {
		name += " " + m.LastName
	}
	return name
}

// Store holds the shared group state: the current (prefixed) title, the
// member map, the token issued-at ledger and the update stream offset.
// All three runtime contexts (the update poller, the event listener and
// the HTTP handler pool) go through it; a single RWMutex guards the
// aggregate so title and members are never observed torn.
type Store struct {
	mu      sync.RWMutex
	title   string
	members map[string]Member
	tokens  map[string]int64 // member id -> issued-at unix seconds
	offset  int64
	logger  *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	return &Store{
		members: make(map[string]Member),
		tokens:  make(map[string]int64),
		logger:  logger,
	}
}

// Snapshot returns the current title together with a copy of the member
// map, taken under one read lock so the pair is consistent.
func (s *Store) Snapshot() (string, map[string]Member) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make(map[string]Member, len(s.members))
	for id, m := range s.members {
		members[id] = m
	}
	return s.title, members
}

// Title returns the stored (prefixed) title.
func (s *Store) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

// MemberCount reports the number of known members.
func (s *Store) MemberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// Member looks up a single member by id.
func (s *Store) Member(id string) (Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	return m, ok
}

// HasMember reports whether the id is currently in the group.
func (s *Store) HasMember(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[id]
	return ok
}

// ApplyRefresh replaces the member map and title wholesale from a full
// fetch. Used at startup when no persisted membership exists.
func (s *Store) ApplyRefresh(title string, members map[string]Member) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.members = make(map[string]Member, len(members))
	for id, m := range members {
		s.members[id] = m
	}
	s.title = title

	s.logger.Info("membership refreshed",
		zap.Int("members", len(s.members)),
		zap.String("title", title),
	)
}

// MergeEvent upserts one member observed acting in the group and adopts
// the title carried by the event when it is non-empty.
func (s *Store) MergeEvent(from Member, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.members[FormatID(from.ID)] = from
	if title != "" {
		s.title = title
	}
}

// CommitTitle installs a successfully renamed title and revokes the
// acting member's token in one critical section, so a concurrent reader
// never sees the new title with the token still valid.
func (s *Store) CommitTitle(title, memberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.title = title
	delete(s.tokens, memberID)
}

// MarkIssued records the issue time for a member's token. A newer issue
// overwrites the previous one, invalidating the older token's ledger
// entry check.
func (s *Store) MarkIssued(memberID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[memberID] = at.Unix()
}

// IssuedAt returns the recorded issue time for a member's token.
func (s *Store) IssuedAt(memberID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.tokens[memberID]
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(ts, 0), true
}

// Revoke deletes a member's token ledger entry.
func (s *Store) Revoke(memberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, memberID)
}

// ExpireIssued deletes every ledger entry issued strictly before the
// cutoff and returns how many were removed.
func (s *Store) ExpireIssued(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	limit := cutoff.Unix()
	for id, ts := range s.tokens {
		if ts < limit {
			delete(s.tokens, id)
			n++
		}
	}
	return n
}

// Offset returns the persisted update stream cursor.
func (s *Store) Offset() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// SetOffset advances the update stream cursor. Called by the poller
// only after a batch has been fully processed.
func (s *Store) SetOffset(offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = offset
}

// FormatID renders a member id the way the state maps key it.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
