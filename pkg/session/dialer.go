package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/netpush-network/netpush/pkg/device"
	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/util"
)

// maxLoginSteps bounds the username/password exchange so a device that
// keeps re-prompting fails instead of looping.
const maxLoginSteps = 6

// Dialer is the production Opener. It picks the ssh or telnet binding from
// the target's dialect, logs in, enters privileged mode when a secret is
// configured, and disables paging.
type Dialer struct {
	// KnownHostsFile enables SSH host key verification when set.
	KnownHostsFile string
	// Quiet overrides DefaultQuiet.
	Quiet time.Duration
}

// Open implements Opener.
func (d *Dialer) Open(ctx context.Context, t device.Target) (Session, error) {
	p, err := t.Profile()
	if err != nil {
		return nil, err
	}
	logger := util.WithDevice(t.Key()).WithField("transport", p.Transport)
	logger.Debug("Opening session")

	var s *stream
	switch p.Transport {
	case dialect.TransportSSH:
		s, err = dialSSH(ctx, t, p, d.KnownHostsFile)
	case dialect.TransportTelnet:
		s, err = dialTelnet(ctx, t, p)
	default:
		err = fmt.Errorf("dialect %s: unsupported transport %q", p.Dialect, p.Transport)
	}
	if err != nil {
		return nil, err
	}
	if d.Quiet > 0 {
		s.quiet = d.Quiet
	}

	if err := prepare(ctx, s, t, p); err != nil {
		s.Close()
		return nil, err
	}
	logger.Debug("Session ready")
	return s, nil
}

func hasSuffixAny(out string, suffixes []string) bool {
	out = strings.TrimRight(out, " \r\n")
	for _, sfx := range suffixes {
		if strings.HasSuffix(out, sfx) {
			return true
		}
	}
	return false
}

// prepare drives the session from connect to a privileged, unpaged prompt.
func prepare(ctx context.Context, s *stream, t device.Target, p *dialect.Profile) error {
	timeout := t.OpTimeout()
	loginPrompt := func(out string) bool {
		return p.IsPrompt(out) || hasSuffixAny(out, p.UsernamePrompts) || hasSuffixAny(out, p.PasswordPrompts)
	}

	out, err := s.readUntil(ctx, timeout, loginPrompt)
	if err != nil {
		return err
	}
	for step := 0; !p.IsPrompt(out); step++ {
		if step == maxLoginSteps {
			return util.NewAuthError(t.Key(), fmt.Errorf("still prompting after %d attempts", maxLoginSteps))
		}
		answer := t.Credentials.Password
		if hasSuffixAny(out, p.UsernamePrompts) {
			answer = t.Credentials.Username
		}
		if err := s.Send(ctx, answer); err != nil {
			return err
		}
		if out, err = s.readUntil(ctx, timeout, loginPrompt); err != nil {
			return err
		}
	}

	if p.IsUserPrompt(out) && p.EnableCommand != "" && t.Credentials.Secret != "" {
		if err := s.Send(ctx, p.EnableCommand); err != nil {
			return err
		}
		out, err = s.readUntil(ctx, timeout, loginPrompt)
		if err != nil {
			return err
		}
		if hasSuffixAny(out, p.PasswordPrompts) {
			if err := s.Send(ctx, t.Credentials.Secret); err != nil {
				return err
			}
			if out, err = s.ReadUntilIdle(ctx, timeout); err != nil {
				return err
			}
		}
		if p.IsUserPrompt(out) {
			return util.NewAuthError(t.Key(), errors.New("privileged mode refused"))
		}
	}

	if p.DisablePaging != "" {
		if _, err := Run(ctx, s, p.DisablePaging, timeout); err != nil {
			return err
		}
	}
	return nil
}
