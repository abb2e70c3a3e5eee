package session

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/netpush-network/netpush/pkg/device"
	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/util"
)

var insecureOnce sync.Once

func hostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts %s: %w", knownHostsFile, err)
		}
		return cb, nil
	}
	insecureOnce.Do(func() {
		util.Logger.Warn("SSH host key verification disabled (no known_hosts file configured)")
	})
	return ssh.InsecureIgnoreHostKey(), nil
}

// isAuthFailure reports a handshake that ended because the server accepted
// none of the offered credentials. x/crypto reports it as a plain error.
func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "ssh: unable to authenticate")
}

// dialSSH opens an interactive shell with a PTY, the way an operator's
// terminal would, so the device prints prompts and accepts config mode.
func dialSSH(ctx context.Context, t device.Target, p *dialect.Profile, knownHostsFile string) (*stream, error) {
	key := t.Key()
	addr, err := t.DialAddr()
	if err != nil {
		return nil, err
	}
	hostKeys, err := hostKeyCallback(knownHostsFile)
	if err != nil {
		return nil, err
	}
	password := t.Credentials.Password
	config := &ssh.ClientConfig{
		User: t.Credentials.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			// Some switch images only offer keyboard-interactive.
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeys,
		Timeout:         t.OpTimeout(),
	}

	d := net.Dialer{Timeout: t.OpTimeout()}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, util.NewTransportError("connect", key, err)
	}
	conn.SetDeadline(time.Now().Add(t.OpTimeout()))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		if isAuthFailure(err) {
			return nil, util.NewAuthError(key, err)
		}
		return nil, util.NewTransportError("connect", key, fmt.Errorf("SSH handshake: %w", err))
	}
	conn.SetDeadline(time.Time{})
	client := ssh.NewClient(c, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, util.NewTransportError("connect", key, fmt.Errorf("SSH session: %w", err))
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := sess.RequestPty("vt100", 0, 511, modes); err != nil {
		client.Close()
		return nil, util.NewTransportError("connect", key, fmt.Errorf("SSH pty: %w", err))
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("SSH stdin: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("SSH stdout: %w", err)
	}
	if err := sess.Shell(); err != nil {
		client.Close()
		return nil, util.NewTransportError("connect", key, fmt.Errorf("SSH shell: %w", err))
	}

	return newStream(key, p, stdout, stdin, func() error {
		sess.Close()
		return client.Close()
	}), nil
}
