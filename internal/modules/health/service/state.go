package service

import (
	"sync"
	"sync/atomic"
	"time"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected  atomic.Bool
	lastTickUnix atomic.Int64 // unix seconds

	mu         sync.RWMutex
	readyCheck func() bool
	priceState func() string
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }

// Ready — выставленный флаг и, если задана, проверка готовности (свежая цена).
func (s *State) Ready() bool {
	if !s.ready.Load() {
		return false
	}
	s.mu.RLock()
	check := s.readyCheck
	s.mu.RUnlock()
	return check == nil || check()
}

func (s *State) SetReadyCheck(fn func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyCheck = fn
}

func (s *State) SetPriceState(fn func() string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceState = fn
}

func (s *State) PriceState() string {
	s.mu.RLock()
	fn := s.priceState
	s.mu.RUnlock()
	if fn == nil {
		return ""
	}
	return fn()
}

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
