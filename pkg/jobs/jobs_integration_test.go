//go:build integration

package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/netpush-network/netpush/internal/testutil"
	"github.com/netpush-network/netpush/pkg/deploy"
	"github.com/netpush-network/netpush/pkg/device"
	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/intent"
	"github.com/netpush-network/netpush/pkg/transaction"
	"github.com/netpush-network/netpush/pkg/util"
)

type deployFunc func(ctx context.Context, in *intent.Intent, targets []device.Target) (deploy.Results, error)

func (f deployFunc) Deploy(ctx context.Context, in *intent.Intent, targets []device.Target) (deploy.Results, error) {
	return f(ctx, in, targets)
}

func newTestStore(t *testing.T) (*Store, *testutil.Redis) {
	t.Helper()
	rd := testutil.NewRedis(t, testutil.JobsDB)
	s := NewStore(rd.Addr, rd.DB, time.Minute)
	t.Cleanup(func() { s.Close() })
	return s, rd
}

func TestRunner_SubmitAndWait(t *testing.T) {
	store, rd := newTestStore(t)
	release := make(chan struct{})
	d := deployFunc(func(ctx context.Context, in *intent.Intent, targets []device.Target) (deploy.Results, error) {
		<-release
		out := deploy.Results{}
		for _, tg := range targets {
			out[tg.Key()] = &transaction.Result{Address: tg.Key(), Status: transaction.StatusSuccess, Attempts: 1}
		}
		return out, nil
	})
	r := NewRunner(d, store, "alice")
	r.poll = 10 * time.Millisecond
	defer r.Close()

	ctx := testutil.Context(t)
	in := &intent.Intent{Kind: intent.KindVLAN, VLANID: 100, Name: "Finance"}
	targets := []device.Target{
		{Address: "10.0.0.1", Dialect: dialect.Standard},
		{Address: "sim", Port: 2000, Dialect: dialect.Emulated},
	}
	id, err := r.Submit(ctx, in, targets)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	running, err := r.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if running.Status != StatusRunning {
		t.Errorf("Status = %q, want running", running.Status)
	}
	close(release)

	job, err := r.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if job.Status != StatusFinished {
		t.Errorf("Status = %q, want finished", job.Status)
	}
	if job.Summary == nil || job.Summary.Succeeded != 2 {
		t.Errorf("Summary = %+v, want 2 succeeded", job.Summary)
	}
	if job.Results["sim:2000"] == nil {
		t.Errorf("no result for sim:2000: %v", job.Results)
	}
	if job.User != "alice" {
		t.Errorf("User = %q, want alice", job.User)
	}

	ttl := rd.KeyTTL(t, jobKey(id))
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want (0, 1m]", ttl)
	}
}

func TestRunner_SubmitRejected(t *testing.T) {
	store, rd := newTestStore(t)
	r := NewRunner(deployFunc(func(context.Context, *intent.Intent, []device.Target) (deploy.Results, error) {
		t.Error("Deploy should not be called")
		return nil, nil
	}), store, "alice")
	defer r.Close()

	_, err := r.Submit(testutil.Context(t), &intent.Intent{Kind: intent.KindVLAN}, []device.Target{{Address: "10.0.0.1", Dialect: dialect.Standard}})
	if !errors.Is(err, util.ErrInvalidIntent) {
		t.Errorf("Submit() error = %v, want ErrInvalidIntent", err)
	}
	if n := rd.KeyCount(t); n != 0 {
		t.Errorf("keys = %d, want 0", n)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(testutil.Context(t), "does-not-exist")
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}
