// Package deploy fans one intent out to many devices under a bounded
// admission gate and collects one result per device.
package deploy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/netpush-network/netpush/pkg/audit"
	"github.com/netpush-network/netpush/pkg/device"
	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/generator"
	"github.com/netpush-network/netpush/pkg/intent"
	"github.com/netpush-network/netpush/pkg/metrics"
	"github.com/netpush-network/netpush/pkg/transaction"
	"github.com/netpush-network/netpush/pkg/util"
)

// DefaultConcurrency is the admission gate size when none is configured.
const DefaultConcurrency = 5

// Runner executes one device transaction. *transaction.Engine implements it.
type Runner interface {
	Run(ctx context.Context, t device.Target, in *intent.Intent) *transaction.Result
}

// Results maps each target key to its outcome. The key is the target's
// Address, or "host:port" when the target sets an explicit Port (see
// device.Target.Key), so several devices reached through one host keep
// separate entries. Look results up with t.Key(), not t.Address.
type Results map[string]*transaction.Result

// Summary counts results by status.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Summary tallies r.
func (r Results) Summary() Summary {
	s := Summary{Total: len(r)}
	for _, res := range r {
		switch res.Status {
		case transaction.StatusSuccess:
			s.Succeeded++
		case transaction.StatusCancelled:
			s.Cancelled++
		default:
			s.Failed++
		}
	}
	return s
}

// OK reports whether every device committed.
func (r Results) OK() bool {
	s := r.Summary()
	return s.Succeeded == s.Total
}

// Deployer runs deployments. The zero value is not usable; use New.
type Deployer struct {
	runner      Runner
	concurrency int
	audit       audit.Logger
	user        string
	metrics     *metrics.Metrics
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithConcurrency sets the admission gate size. Values below 1 select
// DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(d *Deployer) { d.concurrency = n }
}

// WithAudit records one audit event per device result as user.
func WithAudit(l audit.Logger, user string) Option {
	return func(d *Deployer) {
		d.audit = l
		d.user = user
	}
}

// WithMetrics counts every device result, including those cancelled
// before admission.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Deployer) { d.metrics = m }
}

// New creates a Deployer around runner.
func New(runner Runner, opts ...Option) *Deployer {
	d := &Deployer{runner: runner, concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(d)
	}
	if d.concurrency < 1 {
		d.concurrency = DefaultConcurrency
	}
	return d
}

// Concurrency returns the admission gate size.
func (d *Deployer) Concurrency() int {
	return d.concurrency
}

// Check rejects a deployment that cannot run at all: an invalid intent,
// an empty or duplicated target list, an unknown dialect, or an intent
// whose commands cannot be generated safely for some target's dialect.
// No device is contacted.
func Check(in *intent.Intent, targets []device.Target) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("%w: no targets", util.ErrInvalidIntent)
	}

	seen := make(map[string]bool, len(targets))
	checked := make(map[dialect.Dialect]bool)
	for _, t := range targets {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %v", util.ErrInvalidIntent, err)
		}
		key := t.Key()
		if seen[key] {
			return fmt.Errorf("%w: duplicate target %s", util.ErrInvalidIntent, key)
		}
		seen[key] = true

		if checked[t.Dialect] {
			continue
		}
		checked[t.Dialect] = true
		seq, err := generator.Generate(in, t.Dialect)
		if err != nil {
			return fmt.Errorf("%s dialect: %w", t.Dialect, err)
		}
		if err := generator.CheckSafe(seq); err != nil {
			return fmt.Errorf("%s dialect: %w", t.Dialect, err)
		}
	}
	return nil
}

// Deploy applies in to every target concurrently. It returns an error only
// when Check rejects the request; device failures are reported in the
// results, one per target key. When ctx is cancelled, targets that have not
// yet been admitted are reported as cancelled and those already running are
// left to finish their transaction.
func (d *Deployer) Deploy(ctx context.Context, in *intent.Intent, targets []device.Target) (Results, error) {
	if err := Check(in, targets); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := util.WithDeployment(id).WithField("intent", in.Summary())
	logger.WithField("targets", len(targets)).Info("Deployment started")
	start := time.Now()

	gate := semaphore.NewWeighted(int64(d.concurrency))
	results := make(Results, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t device.Target) {
			defer wg.Done()
			var res *transaction.Result
			if err := gate.Acquire(ctx, 1); err != nil {
				res = transaction.Cancelled(t.Key(), err)
			} else {
				res = d.runOne(ctx, t, in)
				gate.Release(1)
			}
			d.record(id, t, in, res)
			mu.Lock()
			results[t.Key()] = res
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	s := results.Summary()
	logger.WithFields(map[string]interface{}{
		"succeeded": s.Succeeded,
		"failed":    s.Failed,
		"cancelled": s.Cancelled,
		"duration":  time.Since(start).Round(time.Millisecond).String(),
	}).Info("Deployment finished")
	return results, nil
}

// runOne isolates one device so a panic in its transaction is reported as
// that device's failure.
func (d *Deployer) runOne(ctx context.Context, t device.Target, in *intent.Intent) (res *transaction.Result) {
	defer func() {
		if r := recover(); r != nil {
			util.WithDevice(t.Key()).Errorf("transaction panicked: %v", r)
			res = &transaction.Result{
				Address:    t.Key(),
				Status:     transaction.StatusFailed,
				Error:      fmt.Sprintf("internal error: %v", r),
				ErrorClass: util.ClassInternal,
			}
		}
	}()
	res = d.runner.Run(ctx, t, in)
	if res == nil {
		res = &transaction.Result{
			Address:    t.Key(),
			Status:     transaction.StatusFailed,
			Error:      "internal error: no result",
			ErrorClass: util.ClassInternal,
		}
	}
	return res
}

func (d *Deployer) record(id string, t device.Target, in *intent.Intent, res *transaction.Result) {
	d.metrics.ObserveTransaction(string(res.Status), string(res.ErrorClass), res.Duration)
	if d.audit == nil {
		return
	}
	ev := audit.NewEvent(d.user, id, t.Key()).
		WithIntent(string(in.Kind), in.Summary()).
		WithOutcome(string(res.Status), string(res.ErrorClass), res.Error, res.Attempts).
		WithDuration(res.Duration)
	ev.Dialect = string(t.Dialect)
	if res.Backup != nil {
		ev.WithBackup(res.Backup.Location)
	}
	if res.Rollback != nil {
		ev.WithRollback(res.Rollback.Label())
	}
	if err := d.audit.Log(ev); err != nil {
		util.WithDevice(t.Key()).Warnf("audit: %v", err)
	}
}
