// Package transaction runs one intent against one device as
// backup, apply, validate, then commit or rollback, retrying the whole
// cycle on transport failures.
package transaction

import (
	"time"

	"github.com/netpush-network/netpush/pkg/backup"
	"github.com/netpush-network/netpush/pkg/util"
)

// Status is a device's final outcome.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// RollbackOutcome records what happened when a failed attempt was undone.
// Succeeded means every replay line was accepted; Verified means the backup
// content was read back from the device afterwards.
type RollbackOutcome struct {
	Attempted bool   `json:"attempted"`
	Succeeded bool   `json:"succeeded"`
	Verified  bool   `json:"verified"`
	Error     string `json:"error,omitempty"`
}

// Label names the outcome for metrics and audit.
func (r *RollbackOutcome) Label() string {
	switch {
	case r == nil || !r.Attempted:
		return "none"
	case r.Succeeded && r.Verified:
		return "succeeded"
	case r.Succeeded:
		return "unverified"
	}
	return "failed"
}

// Result is one device's outcome for one deployment call. It is not
// modified after Run returns.
type Result struct {
	Address    string           `json:"address"`
	Status     Status           `json:"status"`
	Output     string           `json:"output,omitempty"`
	Backup     *backup.Ref      `json:"backup,omitempty"`
	Error      string           `json:"error,omitempty"`
	ErrorClass util.ErrorClass  `json:"error_class,omitempty"`
	Attempts   int              `json:"attempts"`
	Rollback   *RollbackOutcome `json:"rollback,omitempty"`
	Duration   time.Duration    `json:"duration"`

	// Saved reports that a committed change was also written to the
	// startup configuration. SaveError is set when that write failed; the
	// change itself stays committed.
	Saved     bool   `json:"saved,omitempty"`
	SaveError string `json:"save_error,omitempty"`

	err   error
	retry bool
}

// Err returns the underlying error of a failed result, for errors.Is.
func (r *Result) Err() error {
	return r.err
}

func (r *Result) fail(err error) {
	r.err = err
	r.Error = err.Error()
	r.ErrorClass = util.Classify(err)
	r.Status = StatusFailed
	if r.ErrorClass == util.ClassCancelled {
		r.Status = StatusCancelled
	}
}

// Cancelled builds the result for a device whose transaction never started.
func Cancelled(address string, err error) *Result {
	if err == nil {
		err = util.ErrCancelled
	}
	r := &Result{Address: address}
	r.fail(err)
	r.Status = StatusCancelled
	r.ErrorClass = util.ClassCancelled
	return r
}
