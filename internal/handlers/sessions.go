package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessions keeps one Controller per open page. A page that stops calling the server is evicted
// once it was idle for longer than ttl.
type sessions struct {
	mu    sync.Mutex
	items map[string]*session
	ttl   time.Duration
}

type session struct {
	controller *Controller
	lastSeen   time.Time
}

func newSessions(ttl time.Duration) *sessions {
	return &sessions{
		items: make(map[string]*session),
		ttl:   ttl,
	}
}

func (s *sessions) add(c *Controller) string {
	id := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = &session{controller: c, lastSeen: time.Now()}
	return id
}

func (s *sessions) get(id string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.items[id]
	if !ok {
		return nil, false
	}
	ss.lastSeen = time.Now()
	return ss.controller, true
}

func (s *sessions) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}

func (s *sessions) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// evict drops the sessions idle since before now minus ttl and returns their IDs.
func (s *sessions) evict(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, ss := range s.items {
		if now.Sub(ss.lastSeen) > s.ttl {
			delete(s.items, id)
			ids = append(ids, id)
		}
	}
	return ids
}

// run evicts idle sessions periodically until ctx is done.
func (s *sessions) run(ctx context.Context, onEvict func(ids []string)) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if ids := s.evict(now); len(ids) > 0 {
				onEvict(ids)
			}
		}
	}
}
