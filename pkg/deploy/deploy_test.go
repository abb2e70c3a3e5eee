package deploy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/netpush-network/netpush/internal/testutil"
	"github.com/netpush-network/netpush/pkg/audit"
	"github.com/netpush-network/netpush/pkg/backup"
	"github.com/netpush-network/netpush/pkg/device"
	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/intent"
	"github.com/netpush-network/netpush/pkg/session"
	"github.com/netpush-network/netpush/pkg/transaction"
	"github.com/netpush-network/netpush/pkg/util"
)

var financeVLAN = &intent.Intent{Kind: intent.KindVLAN, VLANID: 100, Name: "Finance"}

type runnerFunc func(ctx context.Context, t device.Target, in *intent.Intent) *transaction.Result

func (f runnerFunc) Run(ctx context.Context, t device.Target, in *intent.Intent) *transaction.Result {
	return f(ctx, t, in)
}

func succeed(_ context.Context, t device.Target, _ *intent.Intent) *transaction.Result {
	return &transaction.Result{Address: t.Key(), Status: transaction.StatusSuccess, Attempts: 1}
}

func targets(n int, d dialect.Dialect) []device.Target {
	out := make([]device.Target, n)
	for i := range out {
		out[i] = device.Target{Address: fmt.Sprintf("10.0.0.%d", i+1), Dialect: d, Timeout: time.Second}
	}
	return out
}

func TestCheck(t *testing.T) {
	acl150 := &intent.Intent{Kind: intent.KindACL, ACLID: "150", ACLType: intent.ACLExtended, Rules: []intent.ACLRule{
		{Action: "permit", Protocol: "tcp", Source: "any", Destination: "any", Port: 22},
	}}
	dup := targets(2, dialect.Standard)
	dup[1].Address = dup[0].Address

	tests := []struct {
		name    string
		in      *intent.Intent
		targets []device.Target
		wantErr bool
	}{
		{"valid", financeVLAN, targets(3, dialect.Standard), false},
		{"mixed dialects", financeVLAN, append(targets(1, dialect.Standard), device.Target{Address: "sim", Port: 2000, Dialect: dialect.Emulated}), false},
		{"same host different ports", financeVLAN, []device.Target{
			{Address: "sim", Port: 2000, Dialect: dialect.Emulated},
			{Address: "sim", Port: 2001, Dialect: dialect.Emulated},
		}, false},
		{"invalid intent", &intent.Intent{Kind: intent.KindVLAN, VLANID: 0}, targets(1, dialect.Standard), true},
		{"nil intent", nil, targets(1, dialect.Standard), true},
		{"no targets", financeVLAN, nil, true},
		{"duplicate", financeVLAN, dup, true},
		{"empty address", financeVLAN, []device.Target{{Dialect: dialect.Standard}}, true},
		{"unknown dialect", financeVLAN, []device.Target{{Address: "10.0.0.1", Dialect: "junos"}}, true},
		{"acl range valid for standard", acl150, targets(1, dialect.Standard), false},
		{"acl range invalid for emulated", acl150, targets(1, dialect.Emulated), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.in, tt.targets)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, util.ErrInvalidIntent) {
				t.Errorf("Check() error = %v, want it to wrap ErrInvalidIntent", err)
			}
		})
	}
}

func TestDeploy_RejectsWithoutRunning(t *testing.T) {
	var calls atomic.Int32
	d := New(runnerFunc(func(ctx context.Context, t device.Target, in *intent.Intent) *transaction.Result {
		calls.Add(1)
		return succeed(ctx, t, in)
	}))
	dup := targets(2, dialect.Standard)
	dup[1] = dup[0]

	results, err := d.Deploy(context.Background(), financeVLAN, dup)
	if err == nil {
		t.Fatal("Deploy() with duplicate targets should fail")
	}
	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}
	if calls.Load() != 0 {
		t.Errorf("runner called %d times, want 0", calls.Load())
	}
}

func TestDeploy_OneResultPerTarget(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := New(runnerFunc(succeed))
	tgts := targets(12, dialect.Standard)

	results, err := d.Deploy(context.Background(), financeVLAN, tgts)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if len(results) != len(tgts) {
		t.Fatalf("results = %d, want %d", len(results), len(tgts))
	}
	for _, tg := range tgts {
		res, ok := results[tg.Key()]
		if !ok {
			t.Errorf("no result for %s", tg.Key())
			continue
		}
		if res.Address != tg.Key() {
			t.Errorf("result Address = %q, want %q", res.Address, tg.Key())
		}
	}
	if !results.OK() {
		t.Errorf("OK() = false, summary %+v", results.Summary())
	}
}

func TestDeploy_SharedHostKeyedByPort(t *testing.T) {
	d := New(runnerFunc(succeed))
	tgts := []device.Target{
		{Address: "sim", Port: 2000, Dialect: dialect.Emulated},
		{Address: "sim", Port: 2001, Dialect: dialect.Emulated},
	}

	results, err := d.Deploy(context.Background(), financeVLAN, tgts)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	for _, key := range []string{"sim:2000", "sim:2001"} {
		if _, ok := results[key]; !ok {
			t.Errorf("no result under %q (%d results)", key, len(results))
		}
	}
	if _, ok := results["sim"]; ok {
		t.Error("result stored under the bare address")
	}
}

func TestDeploy_GateBound(t *testing.T) {
	defer goleak.VerifyNone(t)
	var inflight, peak atomic.Int32
	runner := runnerFunc(func(ctx context.Context, t device.Target, in *intent.Intent) *transaction.Result {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inflight.Add(-1)
		return succeed(ctx, t, in)
	})
	d := New(runner, WithConcurrency(3))

	if _, err := d.Deploy(context.Background(), financeVLAN, targets(15, dialect.Standard)); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if p := peak.Load(); p > 3 {
		t.Errorf("peak in-flight = %d, want <= 3", p)
	}
	if p := peak.Load(); p < 1 {
		t.Errorf("peak in-flight = %d, want >= 1", p)
	}
}

func TestDeploy_CancelledBeforeAdmission(t *testing.T) {
	defer goleak.VerifyNone(t)
	started := make(chan string, 1)
	release := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, t device.Target, in *intent.Intent) *transaction.Result {
		started <- t.Key()
		<-release
		return succeed(ctx, t, in)
	})
	d := New(runner, WithConcurrency(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		results Results
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := d.Deploy(ctx, financeVLAN, targets(4, dialect.Standard))
		done <- outcome{r, err}
	}()

	first := <-started
	cancel()
	time.Sleep(50 * time.Millisecond)
	close(release)
	out := <-done

	if out.err != nil {
		t.Fatalf("Deploy: %v", out.err)
	}
	if len(out.results) != 4 {
		t.Fatalf("results = %d, want 4", len(out.results))
	}
	for key, res := range out.results {
		want := transaction.StatusCancelled
		if key == first {
			want = transaction.StatusSuccess
		}
		if res.Status != want {
			t.Errorf("%s: Status = %q, want %q", key, res.Status, want)
		}
	}
	s := out.results.Summary()
	if s.Succeeded != 1 || s.Cancelled != 3 {
		t.Errorf("Summary = %+v, want 1 succeeded and 3 cancelled", s)
	}
}

func TestDeploy_PanicIsolated(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, t device.Target, in *intent.Intent) *transaction.Result {
		if t.Address == "10.0.0.2" {
			panic("boom")
		}
		return succeed(ctx, t, in)
	})
	d := New(runner)

	results, err := d.Deploy(context.Background(), financeVLAN, targets(3, dialect.Standard))
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if got := results["10.0.0.2"]; got.Status != transaction.StatusFailed || got.ErrorClass != util.ClassInternal {
		t.Errorf("panicking device = %q/%q, want failed/internal", got.Status, got.ErrorClass)
	}
	for _, key := range []string{"10.0.0.1", "10.0.0.3"} {
		if results[key].Status != transaction.StatusSuccess {
			t.Errorf("%s: Status = %q, want success", key, results[key].Status)
		}
	}
}

// Three fake switches behind a real engine: one healthy, one unreachable,
// one that rejects a command. Each fails on its own.
func TestDeploy_FaultIsolation(t *testing.T) {
	defer goleak.VerifyNone(t)
	tgts := targets(3, dialect.Standard)
	good := testutil.NewFakeSwitch("a", dialect.Standard, "vlan 10\n name Users\n!\n")
	down := testutil.NewFakeSwitch("b", dialect.Standard, "")
	down.Down = true
	picky := testutil.NewFakeSwitch("c", dialect.Standard, "vlan 10\n name Users\n!\n")
	picky.Reject["name Finance"] = true
	fleet := testutil.NewFakeFleet(map[string]*testutil.FakeSwitch{
		tgts[0].Key(): good,
		tgts[1].Key(): down,
		tgts[2].Key(): picky,
	})

	pool := session.NewPool(fleet)
	defer pool.Close()
	store, err := backup.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	engine := transaction.New(pool, store, transaction.WithRetryPolicy(transaction.RetryPolicy{
		MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond,
	}))
	logger, err := audit.NewFileLogger(filepath.Join(t.TempDir(), "audit.log"), audit.RotationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	results, err := New(engine, WithAudit(logger, "alice")).Deploy(context.Background(), financeVLAN, tgts)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	want := map[string]struct {
		status transaction.Status
		class  util.ErrorClass
	}{
		tgts[0].Key(): {transaction.StatusSuccess, util.ClassNone},
		tgts[1].Key(): {transaction.StatusFailed, util.ClassTransport},
		tgts[2].Key(): {transaction.StatusFailed, util.ClassApply},
	}
	for key, w := range want {
		res := results[key]
		if res == nil {
			t.Errorf("%s: no result", key)
			continue
		}
		if res.Status != w.status || res.ErrorClass != w.class {
			t.Errorf("%s: result = %q/%q, want %q/%q", key, res.Status, res.ErrorClass, w.status, w.class)
		}
	}
	if !good.Has("vlan 100") {
		t.Error("healthy device was not configured")
	}
	if picky.Has("vlan 100") {
		t.Error("rejecting device kept a partial vlan 100")
	}
	if down.Opens() != 2 {
		t.Errorf("unreachable device Opens = %d, want 2 attempts", down.Opens())
	}

	events, err := logger.Query(audit.Filter{})
	if err != nil {
		t.Fatalf("audit Query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("audit events = %d, want 3", len(events))
	}
	failures, _ := logger.Query(audit.Filter{FailureOnly: true})
	if len(failures) != 2 {
		t.Errorf("audit failures = %d, want 2", len(failures))
	}
	for _, ev := range events {
		if ev.User != "alice" || ev.Kind != "vlan" {
			t.Errorf("event = %+v, want user alice and kind vlan", ev)
		}
	}
}
