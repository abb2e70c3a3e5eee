package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/netpush-network/netpush/pkg/device"
	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/util"
)

// DefaultMaxIdle is the idle sessions kept per device.
const DefaultMaxIdle = 3

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("session pool closed")

// Observer is told about every session the pool opens or closes.
type Observer interface {
	SessionOpened(d dialect.Dialect)
	SessionClosed(d dialect.Dialect)
}

// Pool keeps up to MaxIdle idle sessions per device key. The key map has its
// own short-held lock; each key has a separate lock guarding its idle set,
// so devices never contend with each other. Sessions are opened and closed
// outside both locks.
type Pool struct {
	opener   Opener
	maxIdle  int
	observer Observer

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

type entry struct {
	mu      sync.Mutex
	dialect dialect.Dialect
	idle    []Session
	active  int
	opened  int
	reused  int
}

// Stats describes one key's sessions.
type Stats struct {
	Key    string `json:"key"`
	Idle   int    `json:"idle"`
	Active int    `json:"active"`
	Opened int    `json:"opened"`
	Reused int    `json:"reused"`
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithMaxIdle sets the per-device idle bound.
func WithMaxIdle(n int) PoolOption {
	return func(p *Pool) {
		if n >= 0 {
			p.maxIdle = n
		}
	}
}

// WithObserver reports session opens and closes to o.
func WithObserver(o Observer) PoolOption {
	return func(p *Pool) { p.observer = o }
}

// NewPool creates a pool that opens sessions with opener.
func NewPool(opener Opener, opts ...PoolOption) *Pool {
	p := &Pool{
		opener:  opener,
		maxIdle: DefaultMaxIdle,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) entry(key string, d dialect.Dialect) (*entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	e, ok := p.entries[key]
	if !ok {
		e = &entry{dialect: d}
		p.entries[key] = e
	}
	return e, nil
}

func (p *Pool) lookup(key string) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries[key]
}

// Acquire returns an idle live session for t, or opens a new one.
func (p *Pool) Acquire(ctx context.Context, t device.Target) (Session, error) {
	key := t.Key()
	e, err := p.entry(key, t.Dialect)
	if err != nil {
		return nil, err
	}

	var stale []Session
	e.mu.Lock()
	var s Session
	for len(e.idle) > 0 && s == nil {
		last := e.idle[len(e.idle)-1]
		e.idle = e.idle[:len(e.idle)-1]
		if last.Alive() {
			s = last
		} else {
			stale = append(stale, last)
		}
	}
	if s != nil {
		e.active++
		e.reused++
	}
	e.mu.Unlock()
	p.closeAll(e.dialect, stale)

	if s != nil {
		util.WithDevice(key).Debug("Reusing pooled session")
		return s, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err = p.opener.Open(ctx, t)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.active++
	e.opened++
	e.mu.Unlock()
	if p.observer != nil {
		p.observer.SessionOpened(e.dialect)
	}
	return s, nil
}

// Release hands s back. It is kept only if it is alive, the pool is open and
// the key's idle set has room; otherwise it is closed.
func (p *Pool) Release(key string, s Session) {
	e := p.lookup(key)
	if e == nil {
		s.Close()
		return
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	e.mu.Lock()
	e.active--
	keep := !closed && s.Alive() && len(e.idle) < p.maxIdle
	if keep {
		e.idle = append(e.idle, s)
	}
	e.mu.Unlock()

	if !keep {
		p.closeAll(e.dialect, []Session{s})
	}
}

// Evict closes s without returning it to the pool. Callers evict after a
// transport error proves the session dead.
func (p *Pool) Evict(key string, s Session) {
	e := p.lookup(key)
	if e == nil {
		s.Close()
		return
	}
	e.mu.Lock()
	e.active--
	e.mu.Unlock()
	p.closeAll(e.dialect, []Session{s})
}

func (p *Pool) closeAll(d dialect.Dialect, sessions []Session) error {
	var result error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if p.observer != nil {
			p.observer.SessionClosed(d)
		}
	}
	return result
}

// Close closes every idle session and refuses further Acquire calls.
// Sessions still checked out are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	var result error
	for _, e := range entries {
		e.mu.Lock()
		idle := e.idle
		e.idle = nil
		e.mu.Unlock()
		if err := p.closeAll(e.dialect, idle); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// Stats returns per-key counters sorted by key.
func (p *Pool) Stats() []Stats {
	p.mu.Lock()
	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	p.mu.Unlock()
	sort.Strings(keys)

	stats := make([]Stats, 0, len(keys))
	for _, k := range keys {
		e := p.lookup(k)
		e.mu.Lock()
		stats = append(stats, Stats{Key: k, Idle: len(e.idle), Active: e.active, Opened: e.opened, Reused: e.reused})
		e.mu.Unlock()
	}
	return stats
}
