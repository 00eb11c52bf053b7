package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type State int

const (
	Unavailable State = iota // ни одной цены ещё не было
	Fresh
	Stale // последнее обновление старше staleAfter
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "unavailable"
	}
}

var ErrPriceUnavailable = errors.New("live price unavailable")

const waitPollInterval = 100 * time.Millisecond

// Cell — последняя цена: один писатель (фид), много читателей, читатели не блокируются надолго.
type Cell struct {
	staleAfter time.Duration
	now        func() time.Time

	mu    sync.RWMutex
	price float64
	at    time.Time
}

func NewCell(staleAfter time.Duration) *Cell {
	return &Cell{staleAfter: staleAfter, now: time.Now}
}

func (c *Cell) WithClock(now func() time.Time) *Cell {
	c.now = now
	return c
}

// Set игнорирует неположительные цены и записи старше уже сохранённой.
func (c *Cell) Set(price float64, at time.Time) {
	if price <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.at.IsZero() && at.Before(c.at) {
		return
	}
	c.price, c.at = price, at
}

func (c *Cell) Snapshot() (float64, time.Time, State) {
	c.mu.RLock()
	price, at := c.price, c.at
	c.mu.RUnlock()

	switch {
	case at.IsZero():
		return 0, at, Unavailable
	case c.staleAfter > 0 && c.now().Sub(at) > c.staleAfter:
		return price, at, Stale
	default:
		return price, at, Fresh
	}
}

func (c *Cell) State() State {
	_, _, st := c.Snapshot()
	return st
}

// Last — цена только в состоянии Fresh.
func (c *Cell) Last() (float64, bool) {
	price, _, st := c.Snapshot()
	return price, st == Fresh
}

// WaitFor ждёт свежую цену не дольше timeout.
func (c *Cell) WaitFor(ctx context.Context, timeout time.Duration) (float64, error) {
	if p, ok := c.Last(); ok {
		return p, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(waitPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return 0, errors.Wrapf(ErrPriceUnavailable, "no fresh price within %s (state %s)", timeout, c.State())
		case <-poll.C:
			if p, ok := c.Last(); ok {
				return p, nil
			}
		}
	}
}
