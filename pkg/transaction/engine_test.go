package transaction

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/netpush-network/netpush/internal/testutil"
	"github.com/netpush-network/netpush/pkg/backup"
	"github.com/netpush-network/netpush/pkg/device"
	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/intent"
	"github.com/netpush-network/netpush/pkg/session"
	"github.com/netpush-network/netpush/pkg/util"
)

const standardConfig = `interface Gi0/1
 description uplink
!
vlan 10
 name Users
!
`

var financeVLAN = &intent.Intent{Kind: intent.KindVLAN, VLANID: 100, Name: "Finance"}

func fastRetry(n int) RetryPolicy {
	return RetryPolicy{MaxAttempts: n, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}
}

type harness struct {
	sw     *testutil.FakeSwitch
	pool   *session.Pool
	store  *backup.FileStore
	engine *Engine
	target device.Target
}

func newHarness(t *testing.T, d dialect.Dialect, initial string, opts ...Option) *harness {
	t.Helper()
	sw := testutil.NewFakeSwitch("sw1", d, initial)
	store, err := backup.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	pool := session.NewPool(sw)
	t.Cleanup(func() { pool.Close() })
	return &harness{
		sw:     sw,
		pool:   pool,
		store:  store,
		engine: New(pool, store, opts...),
		target: device.Target{Address: "10.0.0.1", Dialect: d, Timeout: time.Second},
	}
}

func TestRun_VLANSuccess(t *testing.T) {
	h := newHarness(t, dialect.Standard, standardConfig)

	res := h.engine.Run(context.Background(), h.target, financeVLAN)
	if res.Status != StatusSuccess {
		t.Fatalf("Status = %q (%s), want success", res.Status, res.Error)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if res.Rollback != nil {
		t.Errorf("Rollback = %+v, want nil", res.Rollback)
	}
	if !h.sw.Has("vlan 100") {
		t.Errorf("vlan 100 not configured:\n%s", h.sw.Config())
	}
	if res.Backup == nil {
		t.Fatal("Backup ref is nil")
	}
	b, err := h.store.Load(context.Background(), res.Backup.Address, res.Backup.TakenAt)
	if err != nil {
		t.Fatalf("Load backup: %v", err)
	}
	if !strings.Contains(b.Config, "vlan 10") || strings.Contains(b.Config, "vlan 100") {
		t.Errorf("backup does not hold the pre-change config:\n%s", b.Config)
	}
	if h.sw.Live() != 1 {
		t.Errorf("Live sessions = %d, want 1 kept idle in the pool", h.sw.Live())
	}
}

func TestRun_Emulated(t *testing.T) {
	h := newHarness(t, dialect.Emulated, "vlan 10\n description Users\n#\n")

	res := h.engine.Run(context.Background(), h.target, financeVLAN)
	if res.Status != StatusSuccess {
		t.Fatalf("Status = %q (%s), want success", res.Status, res.Error)
	}
	cmds := strings.Join(h.sw.Commands(), "\n")
	for _, want := range []string{"system-view", "vlan 100", "description Finance", "return"} {
		if !strings.Contains(cmds, want) {
			t.Errorf("commands missing %q:\n%s", want, cmds)
		}
	}
}

func TestRun_ValidationFailureRollsBack(t *testing.T) {
	h := newHarness(t, dialect.Standard, standardConfig, WithRetryPolicy(fastRetry(3)))
	h.sw.Ignore["vlan 100"] = true

	res := h.engine.Run(context.Background(), h.target, financeVLAN)
	if res.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", res.Status)
	}
	if res.ErrorClass != util.ClassValidation {
		t.Errorf("ErrorClass = %q, want %q", res.ErrorClass, util.ClassValidation)
	}
	if !errors.Is(res.Err(), util.ErrValidationMismatch) {
		t.Errorf("Err() = %v, want ErrValidationMismatch", res.Err())
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (validation failures are not retried)", res.Attempts)
	}
	rb := res.Rollback
	if rb == nil || !rb.Attempted || !rb.Succeeded || !rb.Verified {
		t.Fatalf("Rollback = %+v, want attempted, succeeded and verified", rb)
	}
	if !h.sw.Has("vlan 10") || !h.sw.Has("interface Gi0/1") {
		t.Errorf("backup content missing after rollback:\n%s", h.sw.Config())
	}
}

func TestRun_ApplyRejected(t *testing.T) {
	h := newHarness(t, dialect.Standard, standardConfig)
	h.sw.Reject["name Finance"] = true

	res := h.engine.Run(context.Background(), h.target, financeVLAN)
	if res.Status != StatusFailed || res.ErrorClass != util.ClassApply {
		t.Fatalf("result = %q/%q, want failed/apply", res.Status, res.ErrorClass)
	}
	var ae *util.ApplyError
	if !errors.As(res.Err(), &ae) {
		t.Fatalf("Err() = %v, want *util.ApplyError", res.Err())
	}
	if ae.Command != "name Finance" {
		t.Errorf("rejected command = %q, want %q", ae.Command, "name Finance")
	}
	if res.Rollback == nil || !res.Rollback.Verified {
		t.Errorf("Rollback = %+v, want verified", res.Rollback)
	}
	if h.sw.Has("vlan 100") {
		t.Errorf("partial vlan 100 survived rollback:\n%s", h.sw.Config())
	}
	cmds := h.sw.Commands()
	for _, c := range cmds {
		if c == "no vlan 10" {
			t.Errorf("rollback removed pre-existing vlan 10")
		}
	}
}

func TestRun_RetriesConnectTimeouts(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, dialect.Standard, standardConfig, WithRetryPolicy(fastRetry(3)))
	h.sw.ConnectFailures = 2

	res := h.engine.Run(context.Background(), h.target, financeVLAN)
	if res.Status != StatusSuccess {
		t.Fatalf("Status = %q (%s), want success", res.Status, res.Error)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if got := h.sw.Opens(); got != 3 {
		t.Errorf("Opens = %d, want 3", got)
	}
}

func TestRun_AttemptCeiling(t *testing.T) {
	h := newHarness(t, dialect.Standard, standardConfig, WithRetryPolicy(fastRetry(3)))
	h.sw.ConnectFailures = 10

	res := h.engine.Run(context.Background(), h.target, financeVLAN)
	if res.Status != StatusFailed || res.ErrorClass != util.ClassTransport {
		t.Fatalf("result = %q/%q, want failed/transport", res.Status, res.ErrorClass)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if got := h.sw.Opens(); got != 3 {
		t.Errorf("Opens = %d, want 3", got)
	}
	if res.Rollback != nil || res.Backup != nil {
		t.Errorf("no backup or rollback expected before connecting, got %+v / %+v", res.Backup, res.Rollback)
	}
}

func TestRun_DisconnectDuringApply(t *testing.T) {
	h := newHarness(t, dialect.Standard, standardConfig, WithRetryPolicy(fastRetry(1)))
	h.sw.DisconnectOn = "name Finance"

	res := h.engine.Run(context.Background(), h.target, financeVLAN)
	if res.Status != StatusFailed || res.ErrorClass != util.ClassTransport {
		t.Fatalf("result = %q/%q, want failed/transport", res.Status, res.ErrorClass)
	}
	if res.Rollback == nil || !res.Rollback.Verified {
		t.Fatalf("Rollback = %+v, want verified over a fresh session", res.Rollback)
	}
	if h.sw.Has("vlan 100") {
		t.Errorf("vlan 100 survived rollback:\n%s", h.sw.Config())
	}
	if got := h.sw.Opens(); got != 2 {
		t.Errorf("Opens = %d, want 2 (original + rollback reconnect)", got)
	}
}

func TestRun_RetryAfterVerifiedRollback(t *testing.T) {
	h := newHarness(t, dialect.Standard, standardConfig, WithRetryPolicy(fastRetry(2)))
	h.sw.DisconnectOn = "name Finance"

	res := h.engine.Run(context.Background(), h.target, financeVLAN)
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	refs, err := h.store.List(context.Background(), h.target.Key())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(refs) != 2 {
		t.Errorf("backups = %d, want one per attempt", len(refs))
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t, dialect.Standard, standardConfig)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.engine.Run(ctx, h.target, financeVLAN)
	if res.Status != StatusCancelled {
		t.Errorf("Status = %q, want cancelled", res.Status)
	}
	if res.Attempts != 0 || h.sw.Opens() != 0 {
		t.Errorf("Attempts = %d, Opens = %d, want 0/0", res.Attempts, h.sw.Opens())
	}
}

func TestRun_InvalidIntent(t *testing.T) {
	h := newHarness(t, dialect.Standard, standardConfig)

	res := h.engine.Run(context.Background(), h.target, &intent.Intent{Kind: intent.KindVLAN, VLANID: 5000})
	if res.Status != StatusFailed || res.ErrorClass != util.ClassIntent {
		t.Errorf("result = %q/%q, want failed/intent", res.Status, res.ErrorClass)
	}
	if h.sw.Opens() != 0 {
		t.Errorf("Opens = %d, want 0", h.sw.Opens())
	}
}

type failingStore struct{ backup.Store }

func (failingStore) Save(context.Context, *backup.Backup) (*backup.Ref, error) {
	return nil, errors.New("disk full")
}

func TestRun_BackupFailureTouchesNothing(t *testing.T) {
	sw := testutil.NewFakeSwitch("sw1", dialect.Standard, standardConfig)
	pool := session.NewPool(sw)
	defer pool.Close()
	e := New(pool, failingStore{})

	res := e.Run(context.Background(), device.Target{Address: "10.0.0.1", Dialect: dialect.Standard}, financeVLAN)
	if res.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", res.Status)
	}
	if res.Rollback != nil {
		t.Errorf("Rollback = %+v, want nil", res.Rollback)
	}
	for _, c := range sw.Commands() {
		if c == "configure terminal" {
			t.Errorf("configuration mode entered after a failed backup")
		}
	}
}

func TestRollbackOutcomeLabel(t *testing.T) {
	tests := []struct {
		r    *RollbackOutcome
		want string
	}{
		{nil, "none"},
		{&RollbackOutcome{}, "none"},
		{&RollbackOutcome{Attempted: true, Succeeded: true, Verified: true}, "succeeded"},
		{&RollbackOutcome{Attempted: true, Succeeded: true}, "unverified"},
		{&RollbackOutcome{Attempted: true, Verified: true}, "failed"},
	}
	for _, tt := range tests {
		if got := tt.r.Label(); got != tt.want {
			t.Errorf("Label(%+v) = %q, want %q", tt.r, got, tt.want)
		}
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.attempts() != 3 {
		t.Errorf("attempts = %d, want 3", p.attempts())
	}
	if (RetryPolicy{}).attempts() != 1 {
		t.Errorf("zero policy attempts = %d, want 1", (RetryPolicy{}).attempts())
	}
	b := p.newBackOff()
	first := b.NextBackOff()
	if first < 800*time.Millisecond || first > 1200*time.Millisecond {
		t.Errorf("first interval = %v, want 1s ±20%%", first)
	}
}

func TestRun_CancelDuringApplyRunsToCommit(t *testing.T) {
	h := newHarness(t, dialect.Standard, standardConfig)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sw.OnCommand = func(cmd string) {
		if cmd == "vlan 100" {
			cancel()
		}
	}

	res := h.engine.Run(ctx, h.target, financeVLAN)
	if res.Status != StatusSuccess {
		t.Fatalf("Status = %q (%s), want success once apply has started", res.Status, res.Error)
	}
	if !h.sw.Has("vlan 100") {
		t.Errorf("vlan 100 not configured:\n%s", h.sw.Config())
	}
	cmds := h.sw.Commands()
	if cmds[len(cmds)-1] != "show running-config" {
		t.Errorf("last command = %q, want the validation read", cmds[len(cmds)-1])
	}
	if ctx.Err() == nil {
		t.Error("context was never cancelled")
	}
}

func TestRun_CancelDuringApplyStillRollsBack(t *testing.T) {
	h := newHarness(t, dialect.Standard, standardConfig)
	h.sw.Reject["name Finance"] = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sw.OnCommand = func(cmd string) {
		if cmd == "vlan 100" {
			cancel()
		}
	}

	res := h.engine.Run(ctx, h.target, financeVLAN)
	if res.Status != StatusFailed || res.ErrorClass != util.ClassApply {
		t.Fatalf("result = %q/%q, want failed/apply", res.Status, res.ErrorClass)
	}
	if res.Rollback == nil || !res.Rollback.Verified {
		t.Fatalf("Rollback = %+v, want verified", res.Rollback)
	}
	if h.sw.Has("vlan 100") {
		t.Errorf("partial vlan 100 survived rollback:\n%s", h.sw.Config())
	}
}

func TestRun_SaveConfig(t *testing.T) {
	tests := []struct {
		name    string
		dialect dialect.Dialect
		initial string
		want    []string
	}{
		{"standard", dialect.Standard, standardConfig, []string{"write memory"}},
		{"emulated", dialect.Emulated, "vlan 10\n description Users\n#\n", []string{"save", "y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.dialect, tt.initial, WithSaveConfig(true))
			h.target.Dialect = tt.dialect

			res := h.engine.Run(context.Background(), h.target, financeVLAN)
			if res.Status != StatusSuccess {
				t.Fatalf("Status = %q (%s), want success", res.Status, res.Error)
			}
			if !res.Saved || res.SaveError != "" {
				t.Errorf("Saved = %v, SaveError = %q, want saved", res.Saved, res.SaveError)
			}
			if h.sw.Saves() != 1 {
				t.Errorf("Saves = %d, want 1", h.sw.Saves())
			}
			if !strings.Contains(h.sw.Startup(), "vlan 100") {
				t.Errorf("startup configuration lacks vlan 100:\n%s", h.sw.Startup())
			}
			cmds := h.sw.Commands()
			tail := cmds[len(cmds)-len(tt.want):]
			if strings.Join(tail, "|") != strings.Join(tt.want, "|") {
				t.Errorf("last commands = %q, want %q", tail, tt.want)
			}
		})
	}
}

func TestRun_SaveConfigOffByDefault(t *testing.T) {
	h := newHarness(t, dialect.Standard, standardConfig)

	res := h.engine.Run(context.Background(), h.target, financeVLAN)
	if res.Status != StatusSuccess {
		t.Fatalf("Status = %q (%s), want success", res.Status, res.Error)
	}
	if res.Saved || h.sw.Saves() != 0 {
		t.Errorf("Saved = %v, Saves = %d, want nothing saved", res.Saved, h.sw.Saves())
	}
}

func TestRun_SaveRejectedKeepsCommit(t *testing.T) {
	h := newHarness(t, dialect.Standard, standardConfig, WithSaveConfig(true))
	h.sw.Reject["write memory"] = true

	res := h.engine.Run(context.Background(), h.target, financeVLAN)
	if res.Status != StatusSuccess {
		t.Fatalf("Status = %q (%s), want success", res.Status, res.Error)
	}
	if res.Saved || !strings.Contains(res.SaveError, "write memory") {
		t.Errorf("Saved = %v, SaveError = %q, want the rejected save reported", res.Saved, res.SaveError)
	}
	if res.Rollback != nil || !h.sw.Has("vlan 100") {
		t.Errorf("a failed save must not undo the change: rollback %+v", res.Rollback)
	}
}

func TestRun_AuthFailureIsNotRetried(t *testing.T) {
	srv := testutil.NewSSHServer(t, "right")
	store, err := backup.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	pool := session.NewPool(&session.Dialer{})
	defer pool.Close()
	e := New(pool, store, WithRetryPolicy(fastRetry(3)))

	target := device.Target{
		Address:     srv.Addr,
		Port:        srv.Port,
		Dialect:     dialect.Standard,
		Credentials: device.Credentials{Username: "admin", Password: "wrong"},
		Timeout:     2 * time.Second,
	}
	res := e.Run(context.Background(), target, financeVLAN)
	if res.Status != StatusFailed || res.ErrorClass != util.ClassAuth {
		t.Fatalf("result = %q/%q (%s), want failed/auth", res.Status, res.ErrorClass, res.Error)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if got := srv.Handshakes(); got != 1 {
		t.Errorf("Handshakes = %d, want 1", got)
	}
	if !strings.Contains(res.Error, target.Key()) {
		t.Errorf("Error = %q, want it to name %s", res.Error, target.Key())
	}
}
