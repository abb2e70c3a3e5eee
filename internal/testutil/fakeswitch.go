// Package testutil provides test helpers: an in-memory fake switch for unit
// tests and, under the integration tag, access to a test Redis instance.
package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/netpush-network/netpush/pkg/device"
	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/runconfig"
	"github.com/netpush-network/netpush/pkg/session"
	"github.com/netpush-network/netpush/pkg/util"
)

type fakeSection struct {
	header string
	lines  []string
}

// FakeSwitch is an in-memory CLI device for engine and orchestrator
// tests. It keeps a running configuration, interprets the commands the
// generator emits for either dialect, and can be scripted to fail.
type FakeSwitch struct {
	Name    string
	profile *dialect.Profile

	mu       sync.Mutex
	sections []*fakeSection
	commands []string
	opens    int
	live     int
	startup  string
	saves    int

	// ConnectFailures makes that many Open calls time out before one succeeds.
	ConnectFailures int
	// Down refuses every connection.
	Down bool
	// Ignore lists commands that are accepted but have no effect.
	Ignore map[string]bool
	// Reject lists commands the device refuses with an error marker.
	Reject map[string]bool
	// DisconnectOn drops the connection when this command is sent.
	DisconnectOn string
	// Delay is added to every command round-trip.
	Delay time.Duration
	// OnCommand is called with each command as the device receives it,
	// with the switch locked; it must not call back into the switch.
	OnCommand func(cmd string)
}

// NewFakeSwitch returns a device of dialect d whose running configuration
// starts as initial.
func NewFakeSwitch(name string, d dialect.Dialect, initial string) *FakeSwitch {
	p, err := dialect.Lookup(d)
	if err != nil {
		panic(err)
	}
	fs := &FakeSwitch{
		Name:    name,
		profile: p,
		Ignore:  map[string]bool{},
		Reject:  map[string]bool{},
	}
	for _, s := range runconfig.Parse(p, initial).Sections {
		fs.sections = append(fs.sections, &fakeSection{header: s.Header, lines: append([]string(nil), s.Lines...)})
	}
	return fs
}

// Open implements session.Opener for a single device.
func (fs *FakeSwitch) Open(ctx context.Context, t device.Target) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.opens++
	if fs.Down {
		return nil, util.NewTransportError("connect", t.Address, syscall.ECONNREFUSED)
	}
	if fs.ConnectFailures > 0 {
		fs.ConnectFailures--
		return nil, util.NewTransportError("connect", t.Address, os.ErrDeadlineExceeded)
	}
	fs.live++
	return &fakeSession{sw: fs, address: t.Address, alive: true}, nil
}

// Opens returns how many times a session was requested.
func (fs *FakeSwitch) Opens() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.opens
}

// Live returns the number of sessions not yet closed.
func (fs *FakeSwitch) Live() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.live
}

// Commands returns every command the device received, in order.
func (fs *FakeSwitch) Commands() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.commands...)
}

// Config renders the running configuration as the device would print it.
func (fs *FakeSwitch) Config() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.render()
}

// Startup returns the configuration last saved, or "" if none was.
func (fs *FakeSwitch) Startup() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.startup
}

// Saves returns how many times the configuration was saved.
func (fs *FakeSwitch) Saves() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.saves
}

// Has reports whether header exists in the running configuration.
func (fs *FakeSwitch) Has(header string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.find(header) != nil
}

func (fs *FakeSwitch) render() string {
	var b strings.Builder
	emulated := fs.profile.Dialect == dialect.Emulated
	if emulated {
		b.WriteString("!Software Version V200R003C00\n#\nsysname " + fs.Name + "\n#\n")
	} else {
		b.WriteString("Building configuration...\n\nCurrent configuration : 1024 bytes\n!\nhostname " + fs.Name + "\n!\n")
	}
	for _, s := range fs.sections {
		b.WriteString(s.header + "\n")
		step := 5
		for _, l := range s.lines {
			if emulated && strings.HasPrefix(l, "rule ") {
				l = fmt.Sprintf("rule %d %s", step, strings.TrimPrefix(l, "rule "))
				step += 5
			}
			b.WriteString(" " + l + "\n")
		}
		b.WriteString(fs.profile.Comment + "\n")
	}
	if emulated {
		b.WriteString("return\n")
	} else {
		b.WriteString("end\n")
	}
	return b.String()
}

func (fs *FakeSwitch) find(header string) *fakeSection {
	header = runconfig.Normalize(header)
	for _, s := range fs.sections {
		if s.header == header {
			return s
		}
	}
	return nil
}

func (fs *FakeSwitch) remove(header string) bool {
	header = runconfig.Normalize(header)
	for i, s := range fs.sections {
		if s.header == header {
			fs.sections = append(fs.sections[:i], fs.sections[i+1:]...)
			return true
		}
	}
	return false
}

var sectionStarters = []string{"vlan ", "interface ", "ip access-list ", "acl "}
var topLevelOnly = []string{"ip route", "hostname ", "sysname ", "vlan batch "}

// Child lines that hold one value; setting one replaces the previous value.
var singleValued = []string{"name", "description", "ip address", "switchport mode", "switchport access vlan",
	"port link-type", "port default vlan"}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// cliState is one session's mode.
type cliState struct {
	config  bool
	section *fakeSection
	// confirming is set while a save waits for its confirmation answer.
	confirming bool
}

func (fs *FakeSwitch) prompt(st *cliState) string {
	if fs.profile.Dialect == dialect.Emulated {
		if st.config {
			return "[" + fs.Name + "]"
		}
		return "<" + fs.Name + ">"
	}
	if st.config {
		return fs.Name + "(config)#"
	}
	return fs.Name + "#"
}

func (fs *FakeSwitch) rejection() string {
	if fs.profile.Dialect == dialect.Emulated {
		return "Error: Unrecognized command found at '^' position.\n"
	}
	return "% Invalid input detected at '^' marker.\n"
}

// exec runs one command and returns its output, without echo or prompt.
func (fs *FakeSwitch) exec(st *cliState, cmd string) string {
	p := fs.profile
	cmd = strings.TrimSpace(cmd)
	fs.commands = append(fs.commands, cmd)
	if fs.OnCommand != nil {
		fs.OnCommand(cmd)
	}

	if st.confirming {
		st.confirming = false
		if cmd != p.SaveConfirm {
			return "Info: Save cancelled.\n"
		}
		fs.save()
		return "Save the configuration successfully.\n"
	}
	if fs.Reject[cmd] {
		return fs.rejection()
	}
	if fs.Ignore[cmd] {
		return ""
	}

	switch {
	case cmd == p.SaveConfig && !st.config && p.SaveConfirm != "":
		st.confirming = true
		return "Warning: The current configuration will be written to the device. Continue? [Y/N]:"
	case cmd == p.SaveConfig && !st.config:
		fs.save()
		return "Building configuration...\n[OK]\n"
	case cmd == p.SaveConfig:
		return fs.rejection()
	case cmd == p.ShowRunning && !st.config:
		return fs.render()
	case cmd == p.DisablePaging && !st.config:
		return ""
	case cmd == p.EnterConfig && !st.config:
		st.config = true
		return ""
	case cmd == p.ExitConfig:
		st.config, st.section = false, nil
		return ""
	case !st.config:
		return fs.rejection()
	case cmd == p.LeaveSection:
		if st.section == nil {
			st.config = false
		}
		st.section = nil
		return ""
	}

	if strings.HasPrefix(cmd, "hostname ") || strings.HasPrefix(cmd, "sysname ") {
		return ""
	}

	neg, negated := "", false
	for _, prefix := range []string{"no ", "undo "} {
		if strings.HasPrefix(cmd, prefix) {
			neg, negated = strings.TrimPrefix(cmd, prefix), true
		}
	}
	if negated {
		if st.section != nil && fs.removeChild(st.section, neg) {
			return ""
		}
		if neg == "shutdown" {
			return ""
		}
		fs.remove(neg)
		return ""
	}

	if hasAnyPrefix(cmd, sectionStarters) && !hasAnyPrefix(cmd, topLevelOnly) {
		s := fs.find(cmd)
		if s == nil {
			s = &fakeSection{header: runconfig.Normalize(cmd)}
			fs.sections = append(fs.sections, s)
		}
		st.section = s
		return ""
	}
	if st.section == nil || hasAnyPrefix(cmd, topLevelOnly) {
		st.section = nil
		if fs.find(cmd) == nil {
			fs.sections = append(fs.sections, &fakeSection{header: runconfig.Normalize(cmd)})
		}
		return ""
	}
	fs.setChild(st.section, runconfig.Normalize(cmd))
	return ""
}

func (fs *FakeSwitch) save() {
	fs.startup = fs.render()
	fs.saves++
}

func (fs *FakeSwitch) removeChild(s *fakeSection, line string) bool {
	removed := false
	kept := s.lines[:0]
	for _, l := range s.lines {
		if l == line || strings.HasPrefix(l, line+" ") {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	s.lines = kept
	return removed
}

func (fs *FakeSwitch) setChild(s *fakeSection, line string) {
	for _, key := range singleValued {
		if strings.HasPrefix(line, key+" ") {
			fs.removeChild(s, key)
			break
		}
	}
	for _, l := range s.lines {
		if l == line {
			return
		}
	}
	s.lines = append(s.lines, line)
}

type fakeSession struct {
	sw      *FakeSwitch
	address string
	state   cliState

	mu      sync.Mutex
	pending []string
	alive   bool
	closed  bool
}

func (s *fakeSession) Send(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return util.NewTransportError("send", s.address, syscall.EPIPE)
	}
	s.pending = append(s.pending, line)
	return nil
}

func (s *fakeSession) ReadUntilIdle(ctx context.Context, timeout time.Duration) (string, error) {
	if d := s.sw.Delay; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return "", util.NewTransportError("read", s.address, syscall.ECONNRESET)
	}

	sw := s.sw
	sw.mu.Lock()
	defer sw.mu.Unlock()

	var out strings.Builder
	for _, cmd := range s.pending {
		if sw.DisconnectOn != "" && cmd == sw.DisconnectOn {
			sw.commands = append(sw.commands, cmd)
			s.alive = false
			s.pending = nil
			return out.String(), util.NewTransportError("read", s.address, syscall.ECONNRESET)
		}
		out.WriteString(cmd + "\n")
		out.WriteString(sw.exec(&s.state, cmd))
	}
	s.pending = nil
	out.WriteString(sw.prompt(&s.state))
	return out.String(), nil
}

func (s *fakeSession) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed, s.alive = true, false
	s.sw.mu.Lock()
	s.sw.live--
	s.sw.mu.Unlock()
	return nil
}

// FakeFleet routes Open calls to a FakeSwitch by target key.
type FakeFleet struct {
	mu       sync.Mutex
	switches map[string]*FakeSwitch
}

// NewFakeFleet indexes switches by key.
func NewFakeFleet(switches map[string]*FakeSwitch) *FakeFleet {
	return &FakeFleet{switches: switches}
}

// Switch returns the device behind key.
func (f *FakeFleet) Switch(key string) *FakeSwitch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.switches[key]
}

// Open implements session.Opener.
func (f *FakeFleet) Open(ctx context.Context, t device.Target) (session.Session, error) {
	sw := f.Switch(t.Key())
	if sw == nil {
		return nil, util.NewTransportError("connect", t.Address, syscall.ECONNREFUSED)
	}
	return sw.Open(ctx, t)
}
