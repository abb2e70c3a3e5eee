package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHServer is an in-process SSH endpoint that accepts a single password.
// It only performs the handshake: a connection that logs in is closed
// straight away, so it exercises the dialer's login path and nothing more.
type SSHServer struct {
	Addr string
	Port int

	ln         net.Listener
	wg         sync.WaitGroup
	closeOnce  sync.Once
	handshakes atomic.Int32
	logins     atomic.Int32
}

// NewSSHServer listens on a loopback port. An empty password rejects every
// login. The server is closed when the test ends.
func NewSSHServer(t testing.TB, password string) *SSHServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if password != "" && string(pw) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %s", c.User())
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &SSHServer{Addr: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port, ln: ln}
	srv.wg.Add(1)
	go srv.serve(cfg)
	t.Cleanup(srv.Close)
	return srv
}

func (s *SSHServer) serve(cfg *ssh.ServerConfig) {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.handshakes.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(5 * time.Second))
			sc, _, _, err := ssh.NewServerConn(conn, cfg)
			if err != nil {
				return
			}
			s.logins.Add(1)
			sc.Close()
		}()
	}
}

// Handshakes returns how many connections were accepted.
func (s *SSHServer) Handshakes() int {
	return int(s.handshakes.Load())
}

// Logins returns how many connections authenticated.
func (s *SSHServer) Logins() int {
	return int(s.logins.Load())
}

// Close stops accepting and waits for open connections to finish.
func (s *SSHServer) Close() {
	s.closeOnce.Do(func() {
		s.ln.Close()
		s.wg.Wait()
	})
}
