package matchstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/pawnline-match-server/internal/match"
)

// Memory is a process-local Store for single-node runs and tests. Sessions are kept
// serialized so callers never share pointers with the store.
type Memory struct {
	mu        sync.RWMutex
	sessions  map[string][]byte
	deadlines map[string]time.Time
	byUser    map[string]string
	o         options
}

var _ Store = (*Memory)(nil)

func NewMemory(opts ...Option) *Memory {
	return &Memory{
		sessions:  make(map[string][]byte),
		deadlines: make(map[string]time.Time),
		byUser:    make(map[string]string),
		o:         buildOptions(opts),
	}
}

func (m *Memory) Close() error                { return nil }
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Create(_ context.Context, s *match.Session) error {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return match.ErrInvalidRequest
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrExists
	}
	s.Version = 1
	s.ExpiresAt = m.o.now().Add(m.o.ttl)
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.sessions[s.ID] = raw
	m.deadlines[s.ID] = s.ExpiresAt
	for _, p := range s.Participants {
		m.byUser[p.ID] = s.ID
	}
	return nil
}

func (m *Memory) Load(_ context.Context, id string) (*match.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.decodeLocked(id)
}

func (m *Memory) decodeLocked(id string) (*match.Session, error) {
	raw, ok := m.sessions[id]
	if !ok {
		if _, known := m.deadlines[id]; known {
			return nil, match.ErrSessionExpired
		}
		return nil, match.ErrSessionNotFound
	}
	var s match.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Update runs fn outside the lock and commits only if nobody wrote in between.
func (m *Memory) Update(ctx context.Context, id string, fn func(*match.Session) error) (*match.Session, error) {
	return withRetry(ctx, m.o, id, func() (*match.Session, error) {
		cur, err := m.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		base := cur.Version
		if err := fn(cur); err != nil {
			return nil, err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		latest, err := m.decodeLocked(id)
		if err != nil {
			return nil, err
		}
		// 그사이 다른 쓰기가 있었으면 처음부터 다시
		if latest.Version != base {
			return nil, errVersionMismatch
		}
		cur.Version = base + 1
		cur.ExpiresAt = m.o.now().Add(m.o.ttl)
		raw, err := json.Marshal(cur)
		if err != nil {
			return nil, err
		}
		m.sessions[id] = raw
		m.deadlines[id] = cur.ExpiresAt
		return cur, nil
	})
}

func (m *Memory) Delete(_ context.Context, s *match.Session) error {
	if s == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.ID)
	delete(m.deadlines, s.ID)
	for _, p := range s.Participants {
		if m.byUser[p.ID] == s.ID { // 이미 새 경기로 넘어간 유저 인덱스는 건드리지 않음
			delete(m.byUser, p.ID)
		}
	}
	return nil
}

func (m *Memory) ActiveFor(_ context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byUser[userID], nil
}

func (m *Memory) Expired(_ context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	type due struct {
		id string
		at time.Time
	}
	var list []due
	for id, at := range m.deadlines {
		if !at.After(now) {
			list = append(list, due{id, at})
		}
	}
	m.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].at.Before(list[j].at) })
	out := make([]string, 0, min(limit, len(list)))
	for i := 0; i < len(list) && i < limit; i++ {
		out = append(out, list[i].id)
	}
	return out, nil
}

// Evict drops a session blob but remembers its deadline, the state Redis is in
// once the key TTL has elapsed.
func (m *Memory) Evict(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}
