package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v3"

	"github.com/netpush-network/netpush/pkg/backup"
	"github.com/netpush-network/netpush/pkg/device"
	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/generator"
	"github.com/netpush-network/netpush/pkg/intent"
	"github.com/netpush-network/netpush/pkg/metrics"
	"github.com/netpush-network/netpush/pkg/runconfig"
	"github.com/netpush-network/netpush/pkg/session"
	"github.com/netpush-network/netpush/pkg/util"
)

// Phases of one attempt, used as the "phase" log field.
const (
	PhaseStart    = "start"
	PhaseBackup   = "backup"
	PhaseApply    = "apply"
	PhaseValidate = "validate"
	PhaseCommit   = "commit"
	PhaseRollback = "rollback"
	PhaseEnd      = "end"
)

// Sessions is the slice of the session pool the engine uses.
type Sessions interface {
	Acquire(ctx context.Context, t device.Target) (session.Session, error)
	Release(key string, s session.Session)
	Evict(key string, s session.Session)
}

// Engine runs device transactions. One Engine serves any number of
// concurrent Run calls for different devices.
type Engine struct {
	sessions Sessions
	store    backup.Store
	retry    RetryPolicy
	metrics  *metrics.Metrics
	save     bool
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithMetrics records retries and rollbacks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSaveConfig writes each committed change to the startup configuration
// so it survives a reload.
func WithSaveConfig(save bool) Option {
	return func(e *Engine) { e.save = save }
}

// WithClock overrides time.Now for backup timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine that takes sessions from sessions and saves
// backups to store.
func New(sessions Sessions, store backup.Store, opts ...Option) *Engine {
	e := &Engine{
		sessions: sessions,
		store:    store,
		retry:    DefaultRetryPolicy(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// plan is everything derived from the intent before any device is touched.
type plan struct {
	intent   *intent.Intent
	profile  *dialect.Profile
	commands generator.Sequence
	expect   []generator.Expectation
}

func newPlan(in *intent.Intent, t device.Target) (*plan, error) {
	prepared, err := in.Prepare()
	if err != nil {
		return nil, err
	}
	p, err := t.Profile()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidIntent, err)
	}
	seq, err := generator.Generate(prepared, t.Dialect)
	if err != nil {
		return nil, err
	}
	if err := generator.CheckSafe(seq); err != nil {
		return nil, err
	}
	exps, err := generator.Expectations(prepared, t.Dialect)
	if err != nil {
		return nil, err
	}
	return &plan{intent: prepared, profile: p, commands: seq, expect: exps}, nil
}

// Run applies in to t and returns the final result. It never returns nil.
// Transport failures repeat the whole cycle up to the policy's attempt
// ceiling, but only while the device is known to be in its pre-change state.
func (e *Engine) Run(ctx context.Context, t device.Target, in *intent.Intent) *Result {
	start := time.Now()
	res := e.run(ctx, t, in)
	res.Duration = time.Since(start)

	if res.Rollback != nil {
		e.metrics.IncRollback(res.Rollback.Label())
	}
	end := util.WithPhase(res.Address, PhaseEnd).WithFields(map[string]interface{}{
		"status":   res.Status,
		"attempts": res.Attempts,
		"duration": res.Duration.Round(time.Millisecond).String(),
	})
	if res.Status == StatusSuccess {
		end.Info("Transaction committed")
	} else {
		end.WithField("class", res.ErrorClass).Warn(res.Error)
	}
	return res
}

func (e *Engine) run(ctx context.Context, t device.Target, in *intent.Intent) *Result {
	key := t.Key()
	if err := ctx.Err(); err != nil {
		return Cancelled(key, err)
	}

	pl, err := newPlan(in, t)
	if err != nil {
		res := &Result{Address: key}
		res.fail(err)
		return res
	}

	logger := util.WithPhase(key, PhaseStart)
	bo := e.retry.newBackOff()
	maxAttempts := e.retry.attempts()
	for attempt := 1; ; attempt++ {
		logger.WithField("attempt", attempt).Debug("Starting attempt")
		res := e.attempt(ctx, t, pl)
		res.Attempts = attempt
		if res.Status == StatusSuccess || !res.retry || attempt >= maxAttempts {
			return res
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return res
		}
		logger.WithFields(map[string]interface{}{
			"attempt": attempt,
			"wait":    wait.String(),
		}).WithError(res.err).Warn("Transport failure, retrying")
		e.metrics.IncRetry()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return res
		}
	}
}

// attempt is one pass through the state machine.
func (e *Engine) attempt(ctx context.Context, t device.Target, pl *plan) *Result {
	key := t.Key()
	p := pl.profile
	timeout := t.OpTimeout()
	res := &Result{Address: key}

	// BACKUP
	log := util.WithPhase(key, PhaseBackup)
	s, err := e.sessions.Acquire(ctx, t)
	if err != nil {
		res.fail(err)
		res.retry = util.IsTransport(err)
		return res
	}
	raw, err := session.Run(ctx, s, p.ShowRunning, timeout)
	if err != nil {
		e.finish(key, s, err)
		res.fail(err)
		res.retry = util.IsTransport(err)
		return res
	}
	cfg := runconfig.Clean(p, raw, p.ShowRunning)
	if strings.TrimSpace(cfg) == "" {
		e.finish(key, s, nil)
		res.fail(fmt.Errorf("%s: device returned an empty running configuration", key))
		return res
	}
	ref, err := e.saveBackup(ctx, key, t.Dialect, cfg)
	if err != nil {
		e.finish(key, s, nil)
		res.fail(err)
		return res
	}
	res.Backup = ref
	log.WithField("location", ref.Location).Debug("Backup saved")

	// From APPLY on the attempt runs to a decision even if the caller
	// cancels; every step is still bounded by the per-operation timeout.
	actx := context.WithoutCancel(ctx)

	// APPLY
	util.WithPhase(key, PhaseApply).WithField("commands", len(pl.commands)).Debug("Applying")
	out, err := apply(actx, s, p, pl.commands, timeout)
	res.Output = out

	// VALIDATE
	if err == nil {
		util.WithPhase(key, PhaseValidate).Debug("Validating")
		err = validate(actx, s, p, key, pl.expect, timeout)
	}

	if err == nil {
		commit := util.WithPhase(key, PhaseCommit)
		res.Status = StatusSuccess
		var saveErr error
		if e.save && p.SaveConfig != "" {
			if saveErr = saveConfig(actx, s, p, timeout); saveErr != nil {
				res.SaveError = saveErr.Error()
				commit.WithError(saveErr).Warn("Committed but not saved to startup configuration")
			} else {
				res.Saved = true
			}
		}
		commit.WithField("saved", res.Saved).Debug("Committed")
		e.finish(key, s, saveErr)
		return res
	}

	// ROLLBACK
	res.fail(err)
	util.WithPhase(key, PhaseRollback).WithError(err).Warn("Attempt failed, rolling back")
	s, res.Rollback = e.rollback(actx, t, s, err, pl, cfg)
	if s != nil {
		e.finish(key, s, nil)
	}
	// A retry is only safe once the device is back in its captured state.
	res.retry = util.IsTransport(err) && res.Rollback.Verified
	return res
}

// saveBackup stores cfg, nudging the timestamp if a backup already exists
// for the same instant.
func (e *Engine) saveBackup(ctx context.Context, key string, d dialect.Dialect, cfg string) (*backup.Ref, error) {
	taken := e.now().UTC()
	for i := 0; ; i++ {
		ref, err := e.store.Save(ctx, &backup.Backup{Address: key, TakenAt: taken, Dialect: d, Config: cfg})
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, util.ErrAlreadyExists) || i == 2 {
			return nil, fmt.Errorf("saving backup: %w", err)
		}
		taken = taken.Add(time.Microsecond)
	}
}

// finish hands s back to the pool, or evicts it when err or its own state
// shows it is dead.
func (e *Engine) finish(key string, s session.Session, err error) {
	if util.IsTransport(err) || !s.Alive() {
		e.sessions.Evict(key, s)
		return
	}
	e.sessions.Release(key, s)
}

func apply(ctx context.Context, s session.Session, p *dialect.Profile, seq generator.Sequence, timeout time.Duration) (string, error) {
	var out strings.Builder
	for _, line := range seq {
		o, err := session.Run(ctx, s, line, timeout)
		out.WriteString(o)
		if err != nil {
			return out.String(), err
		}
		if reason, rejected := p.Rejected(o); rejected {
			return out.String(), &util.ApplyError{Command: line, Output: reason}
		}
	}
	return out.String(), nil
}

// saveConfig runs the dialect's save command outside configuration mode.
// The confirmation answer is typed ahead; the device reads it once it has
// printed the question.
func saveConfig(ctx context.Context, s session.Session, p *dialect.Profile, timeout time.Duration) error {
	if err := s.Send(ctx, p.SaveConfig); err != nil {
		return err
	}
	if p.SaveConfirm != "" {
		if err := s.Send(ctx, p.SaveConfirm); err != nil {
			return err
		}
	}
	out, err := s.ReadUntilIdle(ctx, timeout)
	if err != nil {
		return err
	}
	if reason, rejected := p.Rejected(out); rejected {
		return &util.ApplyError{Command: p.SaveConfig, Output: reason}
	}
	return nil
}

func validate(ctx context.Context, s session.Session, p *dialect.Profile, key string, exps []generator.Expectation, timeout time.Duration) error {
	raw, err := session.Run(ctx, s, p.ShowRunning, timeout)
	if err != nil {
		return err
	}
	cfg := runconfig.Parse(p, runconfig.Clean(p, raw, p.ShowRunning))
	if missing := generator.Verify(cfg, exps); len(missing) > 0 {
		return &util.ValidationMismatchError{Device: key, Missing: missing}
	}
	return nil
}

// rollback restores the backup on the device. s may be dead; it is
// replaced by a fresh session in that case. The returned session is nil
// when none is usable.
func (e *Engine) rollback(ctx context.Context, t device.Target, s session.Session, cause error, pl *plan, backupCfg string) (session.Session, *RollbackOutcome) {
	key := t.Key()
	p := pl.profile
	timeout := t.OpTimeout()
	out := &RollbackOutcome{Attempted: true}
	log := util.WithPhase(key, PhaseRollback)

	if util.IsTransport(cause) || !s.Alive() {
		e.sessions.Evict(key, s)
		var err error
		if s, err = e.sessions.Acquire(ctx, t); err != nil {
			out.Error = fmt.Sprintf("%v: reconnect: %v", util.ErrRollbackFailed, err)
			log.WithError(err).Error("Cannot reconnect for rollback")
			return nil, out
		}
	} else if _, err := session.Run(ctx, s, p.ExitConfig, timeout); err != nil {
		e.sessions.Evict(key, s)
		out.Error = fmt.Sprintf("%v: %v", util.ErrRollbackFailed, err)
		return nil, out
	}

	seq, err := generator.Rollback(pl.intent, t.Dialect, backupCfg)
	if err != nil {
		out.Error = fmt.Sprintf("%v: %v", util.ErrRollbackFailed, err)
		return s, out
	}

	var rejected []string
	for _, line := range seq {
		o, err := session.Run(ctx, s, line, timeout)
		if err != nil {
			e.sessions.Evict(key, s)
			out.Error = fmt.Sprintf("%v: %v", util.ErrRollbackFailed, err)
			log.WithError(err).Error("Rollback interrupted")
			return nil, out
		}
		if reason, bad := p.Rejected(o); bad {
			rejected = append(rejected, fmt.Sprintf("%q: %s", line, reason))
		}
	}
	out.Succeeded = len(rejected) == 0
	if !out.Succeeded {
		out.Error = fmt.Sprintf("%v: %d command(s) rejected: %s", util.ErrRollbackFailed, len(rejected), strings.Join(rejected, "; "))
	}

	raw, err := session.Run(ctx, s, p.ShowRunning, timeout)
	if err != nil {
		e.sessions.Evict(key, s)
		if out.Error == "" {
			out.Error = fmt.Sprintf("rollback verification: %v", err)
		}
		return nil, out
	}
	after := runconfig.Parse(p, runconfig.Clean(p, raw, p.ShowRunning))
	missing := runconfig.Parse(p, backupCfg).Missing(after)
	out.Verified = len(missing) == 0
	if !out.Verified && out.Error == "" {
		out.Error = "rollback verification: missing " + strings.Join(missing, "; ")
	}
	log.WithFields(map[string]interface{}{
		"succeeded": out.Succeeded,
		"verified":  out.Verified,
	}).Info("Rollback finished")
	return s, out
}
