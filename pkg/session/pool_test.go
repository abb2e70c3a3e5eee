package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/netpush-network/netpush/pkg/device"
	"github.com/netpush-network/netpush/pkg/dialect"
)

type stubSession struct {
	id     int
	dead   atomic.Bool
	closed atomic.Bool
}

func (s *stubSession) Send(context.Context, string) error { return nil }
func (s *stubSession) ReadUntilIdle(context.Context, time.Duration) (string, error) {
	return "SW#", nil
}
func (s *stubSession) Alive() bool  { return !s.dead.Load() && !s.closed.Load() }
func (s *stubSession) Close() error { s.closed.Store(true); return nil }

type stubOpener struct {
	mu     sync.Mutex
	opened []*stubSession
	delay  time.Duration
	err    error
}

func (o *stubOpener) Open(ctx context.Context, _ device.Target) (Session, error) {
	if o.delay > 0 {
		select {
		case <-time.After(o.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if o.err != nil {
		return nil, o.err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	s := &stubSession{id: len(o.opened) + 1}
	o.opened = append(o.opened, s)
	return s, nil
}

func (o *stubOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

type countingObserver struct{ open atomic.Int64 }

func (c *countingObserver) SessionOpened(dialect.Dialect) { c.open.Add(1) }
func (c *countingObserver) SessionClosed(dialect.Dialect) { c.open.Add(-1) }

var target = device.Target{Address: "10.0.0.1", Dialect: dialect.Standard}

func TestPool_ReuseAfterRelease(t *testing.T) {
	op := &stubOpener{}
	p := NewPool(op)
	ctx := context.Background()

	s1, err := p.Acquire(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	p.Release(target.Key(), s1)

	s2, err := p.Acquire(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	if s2 != s1 {
		t.Error("Acquire after Release should reuse the same session")
	}
	if op.count() != 1 {
		t.Errorf("opened %d sessions, want 1", op.count())
	}
	st := p.Stats()
	if len(st) != 1 || st[0].Reused != 1 || st[0].Opened != 1 || st[0].Active != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestPool_IdleBound(t *testing.T) {
	op := &stubOpener{}
	obs := &countingObserver{}
	p := NewPool(op, WithMaxIdle(2), WithObserver(obs))
	ctx := context.Background()

	var held []Session
	for i := 0; i < 5; i++ {
		s, err := p.Acquire(ctx, target)
		if err != nil {
			t.Fatal(err)
		}
		held = append(held, s)
	}
	for _, s := range held {
		p.Release(target.Key(), s)
	}

	st := p.Stats()[0]
	if st.Idle != 2 {
		t.Errorf("Idle = %d, want 2", st.Idle)
	}
	if st.Active != 0 {
		t.Errorf("Active = %d, want 0", st.Active)
	}
	closed := 0
	for _, s := range op.opened {
		if s.closed.Load() {
			closed++
		}
	}
	if closed != 3 {
		t.Errorf("closed %d sessions, want 3", closed)
	}
	if got := obs.open.Load(); got != 2 {
		t.Errorf("observer open = %d, want 2", got)
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if got := obs.open.Load(); got != 0 {
		t.Errorf("observer open after Close = %d, want 0", got)
	}
	if _, err := p.Acquire(ctx, target); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire after Close = %v, want ErrPoolClosed", err)
	}
}

func TestPool_DeadSessionsAreNotReused(t *testing.T) {
	op := &stubOpener{}
	p := NewPool(op)
	ctx := context.Background()

	s1, _ := p.Acquire(ctx, target)
	p.Release(target.Key(), s1)
	s1.(*stubSession).dead.Store(true)

	s2, err := p.Acquire(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	if s2 == s1 {
		t.Error("dead idle session was handed out")
	}
	if !s1.(*stubSession).closed.Load() {
		t.Error("dead idle session should be closed")
	}

	s2.(*stubSession).dead.Store(true)
	p.Release(target.Key(), s2)
	if st := p.Stats()[0]; st.Idle != 0 {
		t.Errorf("dead session kept idle: %+v", st)
	}
}

func TestPool_Evict(t *testing.T) {
	op := &stubOpener{}
	p := NewPool(op)
	s, _ := p.Acquire(context.Background(), target)
	p.Evict(target.Key(), s)
	if !s.(*stubSession).closed.Load() {
		t.Error("Evict should close the session")
	}
	if st := p.Stats()[0]; st.Idle != 0 || st.Active != 0 {
		t.Errorf("Stats after Evict = %+v", st)
	}
}

func TestPool_OpenErrorPropagates(t *testing.T) {
	want := errors.New("refused")
	p := NewPool(&stubOpener{err: want})
	if _, err := p.Acquire(context.Background(), target); !errors.Is(err, want) {
		t.Errorf("Acquire = %v, want %v", err, want)
	}
	if st := p.Stats()[0]; st.Active != 0 {
		t.Errorf("Active = %d after failed open", st.Active)
	}
}

// A slow connect to one device must not block another device's Acquire.
func TestPool_KeysIndependent(t *testing.T) {
	defer goleak.VerifyNone(t)

	slow := &stubOpener{delay: 300 * time.Millisecond}
	fast := &stubOpener{}
	p := NewPool(OpenerFunc(func(ctx context.Context, t device.Target) (Session, error) {
		if t.Address == "slow" {
			return slow.Open(ctx, t)
		}
		return fast.Open(ctx, t)
	}))
	defer p.Close()

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		s, err := p.Acquire(context.Background(), device.Target{Address: "slow", Dialect: dialect.Standard})
		if err == nil {
			p.Release("slow", s)
		}
		close(done)
	}()
	<-started

	begin := time.Now()
	s, err := p.Acquire(context.Background(), device.Target{Address: "fast", Dialect: dialect.Standard})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(begin); elapsed > 200*time.Millisecond {
		t.Errorf("fast Acquire took %v, blocked by slow device", elapsed)
	}
	p.Release("fast", s)
	<-done
}

func TestPool_ConcurrentAcquireRelease(t *testing.T) {
	defer goleak.VerifyNone(t)

	op := &stubOpener{}
	p := NewPool(op, WithMaxIdle(3))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.Acquire(context.Background(), target)
			if err != nil {
				t.Error(err)
				return
			}
			time.Sleep(time.Millisecond)
			p.Release(target.Key(), s)
		}()
	}
	wg.Wait()

	st := p.Stats()[0]
	if st.Idle > 3 {
		t.Errorf("Idle = %d exceeds bound", st.Idle)
	}
	if st.Active != 0 {
		t.Errorf("Active = %d, want 0", st.Active)
	}
	if st.Opened+st.Reused != 50 {
		t.Errorf("Opened+Reused = %d, want 50", st.Opened+st.Reused)
	}
	p.Close()
}
