// Package device describes the switches a deployment is aimed at.
package device

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/netpush-network/netpush/pkg/dialect"
)

// DefaultTimeout bounds each network operation (connect, one command
// round-trip) when a target does not set its own.
const DefaultTimeout = 10 * time.Second

// Credentials authenticate a CLI session. Secret is the optional
// privileged-mode password.
type Credentials struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"-" yaml:"password"`
	Secret   string `json:"-" yaml:"secret,omitempty"`
}

// Target is one device a deployment is aimed at. It is passed by value and
// never mutated once a deployment starts.
type Target struct {
	Address     string          `json:"address" yaml:"address"`
	Port        int             `json:"port,omitempty" yaml:"port,omitempty"`
	Dialect     dialect.Dialect `json:"dialect" yaml:"dialect"`
	Credentials Credentials     `json:"credentials" yaml:"credentials"`
	Timeout     time.Duration   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OpTimeout returns the per-operation timeout.
func (t Target) OpTimeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTimeout
}

// Profile returns the dialect table for the target.
func (t Target) Profile() (*dialect.Profile, error) {
	return dialect.Lookup(t.Dialect)
}

// Key identifies the device within a deployment and the session pool. It
// is the address, or host:port when an explicit port is set so several
// emulated devices behind one host stay distinct.
func (t Target) Key() string {
	if t.Port == 0 {
		return t.Address
	}
	return net.JoinHostPort(t.Address, strconv.Itoa(t.Port))
}

// DialAddr returns host:port, falling back to the dialect's default port.
func (t Target) DialAddr() (string, error) {
	port := t.Port
	if port == 0 {
		p, err := t.Profile()
		if err != nil {
			return "", err
		}
		port = p.DefaultPort
	}
	return net.JoinHostPort(t.Address, strconv.Itoa(port)), nil
}

// Validate checks the fields every transaction relies on.
func (t Target) Validate() error {
	if t.Address == "" {
		return fmt.Errorf("target address is required")
	}
	if _, err := dialect.Lookup(t.Dialect); err != nil {
		return fmt.Errorf("target %s: %w", t.Address, err)
	}
	if t.Port < 0 || t.Port > 65535 {
		return fmt.Errorf("target %s: invalid port %d", t.Address, t.Port)
	}
	return nil
}
