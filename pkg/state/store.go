package state

import (
	"sync"
	"time"
)

// PendingMessage is one buffered raw message awaiting merge.
type PendingMessage struct {
	ID   string
	Text string
}

// MemberState tracks one (group, user) pair. Scalar timestamps and the
// pending buffer are guarded by Mu; the evaluator holds it across its
// evaluate-then-mutate step but never across external calls.
type MemberState struct {
	UID string

	Mu           sync.Mutex
	LastWakeAt   time.Time
	SilenceUntil time.Time
	PendCdUntil  time.Time
	Pending      []PendingMessage
}

// ClearPending drops the member's buffered messages, e.g. after a reply
// for the merged text has been delivered.
func (m *MemberState) ClearPending() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Pending = nil
}

// GroupState tracks one group. Members are lazily created and never removed;
// the working set is bounded by real chat participants.
type GroupState struct {
	GID string

	mu          sync.RWMutex
	members     map[string]*MemberState
	shutupUntil time.Time
}

func (g *GroupState) Member(uid string) *MemberState {
	g.mu.RLock()
	m, ok := g.members[uid]
	g.mu.RUnlock()
	if ok {
		return m
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.members[uid]; ok {
		return m
	}
	m = &MemberState{UID: uid}
	g.members[uid] = m
	return m
}

func (g *GroupState) ShutupUntil() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.shutupUntil
}

func (g *GroupState) SetShutupUntil(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shutupUntil = t
}

func (g *GroupState) MemberCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// Store is the process-wide arena of group states. Read-mostly: lookups
// take the shared lock, lazy inserts the exclusive one.
type Store struct {
	mu     sync.RWMutex
	groups map[string]*GroupState
}

func NewStore() *Store {
	return &Store{groups: make(map[string]*GroupState)}
}

func (s *Store) Group(gid string) *GroupState {
	s.mu.RLock()
	g, ok := s.groups[gid]
	s.mu.RUnlock()
	if ok {
		return g
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[gid]; ok {
		return g
	}
	g = &GroupState{GID: gid, members: make(map[string]*MemberState)}
	s.groups[gid] = g
	return g
}

func (s *Store) GroupCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups)
}

// MemberSnapshot is a read-only diagnostic view of a member.
type MemberSnapshot struct {
	UID          string    `json:"uid"`
	LastWakeAt   time.Time `json:"last_wake_at"`
	SilenceUntil time.Time `json:"silence_until"`
	PendCdUntil  time.Time `json:"pend_cd_until"`
	PendingCount int       `json:"pending_count"`
}

// GroupSnapshot is a read-only diagnostic view of a group.
type GroupSnapshot struct {
	GID         string           `json:"gid"`
	ShutupUntil time.Time        `json:"shutup_until"`
	Members     []MemberSnapshot `json:"members"`
}

// Snapshot copies the whole store for diagnostics output. Cheap at chat
// scale; not meant for hot paths.
func (s *Store) Snapshot() []GroupSnapshot {
	s.mu.RLock()
	groups := make([]*GroupState, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, g)
	}
	s.mu.RUnlock()

	out := make([]GroupSnapshot, 0, len(groups))
	for _, g := range groups {
		g.mu.RLock()
		gs := GroupSnapshot{
			GID:         g.GID,
			ShutupUntil: g.shutupUntil,
			Members:     make([]MemberSnapshot, 0, len(g.members)),
		}
		members := make([]*MemberState, 0, len(g.members))
		for _, m := range g.members {
			members = append(members, m)
		}
		g.mu.RUnlock()

		for _, m := range members {
			m.Mu.Lock()
			gs.Members = append(gs.Members, MemberSnapshot{
				UID:          m.UID,
				LastWakeAt:   m.LastWakeAt,
				SilenceUntil: m.SilenceUntil,
				PendCdUntil:  m.PendCdUntil,
				PendingCount: len(m.Pending),
			})
			m.Mu.Unlock()
		}
		out = append(out, gs)
	}
	return out
}
