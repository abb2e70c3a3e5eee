package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netpush-network/netpush/pkg/deploy"
	"github.com/netpush-network/netpush/pkg/device"
	"github.com/netpush-network/netpush/pkg/intent"
	"github.com/netpush-network/netpush/pkg/util"
)

// DefaultPollInterval is how often Wait re-reads a job.
const DefaultPollInterval = 500 * time.Millisecond

// Deployer is the part of *deploy.Deployer a job needs.
type Deployer interface {
	Deploy(ctx context.Context, in *intent.Intent, targets []device.Target) (deploy.Results, error)
}

// Runner starts deployments in the background and records their outcome.
type Runner struct {
	deployer Deployer
	store    *Store
	user     string
	poll     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner that records jobs in store on behalf of user.
func NewRunner(d Deployer, store *Store, user string) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		deployer: d,
		store:    store,
		user:     user,
		poll:     DefaultPollInterval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit validates the request, records a running job and starts the
// deployment. The deployment is detached from ctx; it stops only when the
// runner is closed. Requests that deploy.Check rejects return an error and
// create no job.
func (r *Runner) Submit(ctx context.Context, in *intent.Intent, targets []device.Target) (string, error) {
	if err := deploy.Check(in, targets); err != nil {
		return "", err
	}

	keys := make([]string, len(targets))
	for i, t := range targets {
		keys[i] = t.Key()
	}
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusRunning,
		User:      r.user,
		Intent:    in,
		Targets:   keys,
		CreatedAt: time.Now(),
	}
	if err := r.store.Put(ctx, job); err != nil {
		return "", err
	}

	log := util.WithJob(job.ID)
	log.WithField("targets", len(keys)).Info("Job submitted")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		results, err := r.deployer.Deploy(r.ctx, in, targets)
		job.FinishedAt = time.Now()
		job.Status = StatusFinished
		if err != nil {
			job.Status = StatusRejected
			job.Error = err.Error()
		} else {
			job.Results = results
			s := results.Summary()
			job.Summary = &s
		}
		// The submit context may be gone by now.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.store.Put(ctx, job); err != nil {
			log.WithError(err).Error("Cannot store job result")
			return
		}
		log.WithField("status", job.Status).Info("Job finished")
	}()
	return job.ID, nil
}

// Wait polls the store until the job is done or ctx ends.
func (r *Runner) Wait(ctx context.Context, id string) (*Job, error) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		job, err := r.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Done() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("waiting for job %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Get returns the current record of a job.
func (r *Runner) Get(ctx context.Context, id string) (*Job, error) {
	return r.store.Get(ctx, id)
}

// Close cancels running deployments and waits for their results to be stored.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}
