// Package session provides live CLI sessions to switches and a per-address
// pool that reuses them across transactions.
package session

import (
	"context"
	"time"

	"github.com/netpush-network/netpush/pkg/device"
)

// Session is one live command-line connection to a device. A session is
// owned by one goroutine at a time; it is not safe for concurrent use.
type Session interface {
	// Send writes one command line.
	Send(ctx context.Context, line string) error
	// ReadUntilIdle returns output up to the next prompt, once the device
	// has gone quiet. A timeout is a transport error.
	ReadUntilIdle(ctx context.Context, timeout time.Duration) (string, error)
	// Alive reports whether the session can still be used.
	Alive() bool
	Close() error
}

// Opener opens a logged-in session ready at a privileged prompt.
type Opener interface {
	Open(ctx context.Context, t device.Target) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, t device.Target) (Session, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, t device.Target) (Session, error) {
	return f(ctx, t)
}

// Run sends line and waits for the prompt that follows its output.
func Run(ctx context.Context, s Session, line string, timeout time.Duration) (string, error) {
	if err := s.Send(ctx, line); err != nil {
		return "", err
	}
	return s.ReadUntilIdle(ctx, timeout)
}
