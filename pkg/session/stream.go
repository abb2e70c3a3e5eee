package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/util"
)

// DefaultQuiet is how long output must stay silent after a prompt before a
// read is considered complete.
const DefaultQuiet = 200 * time.Millisecond

var errClosed = errors.New("session closed")

// stream is the Session implementation shared by the ssh and telnet
// bindings: a byte pipe to an interactive CLI plus a prompt-aware reader.
type stream struct {
	address string
	profile *dialect.Profile
	eol     string
	quiet   time.Duration

	w       io.Writer
	closeFn func() error

	chunks  chan []byte
	done    chan struct{}
	exited  chan struct{}
	readErr error

	dead      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newStream(address string, p *dialect.Profile, r io.Reader, w io.Writer, closeFn func() error) *stream {
	s := &stream{
		address: address,
		profile: p,
		eol:     "\n",
		quiet:   DefaultQuiet,
		w:       w,
		closeFn: closeFn,
		chunks:  make(chan []byte),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go s.readLoop(r)
	return s
}

func (s *stream) readLoop(r io.Reader) {
	defer close(s.exited)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.readErr = err
			s.dead.Store(true)
			return
		}
	}
}

func (s *stream) Send(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.dead.Load() {
		return util.NewTransportError("send", s.address, errClosed)
	}
	if wd, ok := s.w.(interface{ SetWriteDeadline(time.Time) error }); ok {
		if dl, ok := ctx.Deadline(); ok {
			wd.SetWriteDeadline(dl)
		} else {
			wd.SetWriteDeadline(time.Time{})
		}
	}
	if _, err := io.WriteString(s.w, line+s.eol); err != nil {
		s.dead.Store(true)
		return util.NewTransportError("send", s.address, err)
	}
	return nil
}

func (s *stream) ReadUntilIdle(ctx context.Context, timeout time.Duration) (string, error) {
	return s.readUntil(ctx, timeout, s.profile.IsPrompt)
}

// readUntil collects output until match holds and no more bytes arrive for
// the quiet period. A read that times out or is cancelled leaves the CLI in
// an unknown state, so the session is marked dead.
func (s *stream) readUntil(ctx context.Context, timeout time.Duration, match func(string) bool) (string, error) {
	var out strings.Builder
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var quiet *time.Timer
	var quietC <-chan time.Time
	defer func() {
		if quiet != nil {
			quiet.Stop()
		}
	}()

	for {
		select {
		case chunk := <-s.chunks:
			out.Write(chunk)
			if quiet != nil {
				quiet.Stop()
				quiet, quietC = nil, nil
			}
			if match(out.String()) {
				if s.quiet <= 0 {
					return out.String(), nil
				}
				quiet = time.NewTimer(s.quiet)
				quietC = quiet.C
			}
		case <-quietC:
			return out.String(), nil
		case <-s.exited:
			if match(out.String()) {
				return out.String(), nil
			}
			err := s.readErr
			if err == nil {
				err = errClosed
			}
			return out.String(), util.NewTransportError("read", s.address, err)
		case <-deadline.C:
			s.dead.Store(true)
			return out.String(), util.NewTransportError("read", s.address,
				fmt.Errorf("no prompt within %s: %w", timeout, os.ErrDeadlineExceeded))
		case <-ctx.Done():
			s.dead.Store(true)
			return out.String(), ctx.Err()
		}
	}
}

func (s *stream) Alive() bool {
	return !s.dead.Load()
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.dead.Store(true)
		close(s.done)
		s.closeErr = s.closeFn()
		<-s.exited
	})
	return s.closeErr
}
