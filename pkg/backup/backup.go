// Package backup stores the running configuration captured before every
// apply attempt. Backups are keyed by device and capture time and are
// never overwritten.
package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/netpush-network/netpush/pkg/dialect"
)

// timeFormat is fixed-width so stored keys sort chronologically.
const timeFormat = "20060102T150405.000000000Z"

// Backup is one captured running configuration.
type Backup struct {
	Address string          `json:"address"`
	TakenAt time.Time       `json:"taken_at"`
	Dialect dialect.Dialect `json:"dialect"`
	Config  string          `json:"config"`
}

// Ref points at a stored backup without carrying its content.
type Ref struct {
	Address  string    `json:"address"`
	TakenAt  time.Time `json:"taken_at"`
	Location string    `json:"location"`
	Size     int       `json:"size"`
}

// Store persists backups.
type Store interface {
	// Save stores b. It fails with util.ErrAlreadyExists rather than
	// replace an existing backup for the same address and time.
	Save(ctx context.Context, b *Backup) (*Ref, error)
	// Load returns the backup taken at takenAt, or util.ErrNotFound.
	Load(ctx context.Context, address string, takenAt time.Time) (*Backup, error)
	// List returns refs for address, newest first.
	List(ctx context.Context, address string) ([]Ref, error)
	Close() error
}

// Backend kinds accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the store for kind at location (a directory for file, a
// database path for sqlite).
func Open(kind, location string) (Store, error) {
	switch strings.ToLower(kind) {
	case "", BackendFile:
		return NewFileStore(location)
	case BackendSQLite:
		return OpenSQLite(location)
	}
	return nil, fmt.Errorf("unknown backup backend %q", kind)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func validate(b *Backup) error {
	if b == nil {
		return fmt.Errorf("backup is nil")
	}
	if b.Address == "" {
		return fmt.Errorf("backup address is required")
	}
	if b.TakenAt.IsZero() {
		return fmt.Errorf("backup %s: capture time is required", b.Address)
	}
	return nil
}
