package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/util"
)

const schema = `CREATE TABLE IF NOT EXISTS backups (
	address  TEXT NOT NULL,
	taken_at TEXT NOT NULL,
	dialect  TEXT NOT NULL DEFAULT '',
	config   TEXT NOT NULL,
	PRIMARY KEY (address, taken_at)
)`

// SQLiteStore keeps backups in one SQLite database.
type SQLiteStore struct {
	Path string
	DB   *sql.DB
}

// OpenSQLite opens (and creates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("backup db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return nil, fmt.Errorf("create backup db dir: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
		schema,
	} {
		if _, err := conn.Exec(stmt); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("init sqlite %s: %w", path, err)
		}
	}
	return &SQLiteStore{Path: path, DB: conn}, nil
}

func (s *SQLiteStore) location(address string, t time.Time) string {
	return fmt.Sprintf("sqlite://%s#%s@%s", s.Path, address, formatTime(t))
}

// Save inserts b; the primary key rejects a second backup for the same
// address and time.
func (s *SQLiteStore) Save(ctx context.Context, b *Backup) (*Ref, error) {
	if err := validate(b); err != nil {
		return nil, err
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO backups (address, taken_at, dialect, config) VALUES (?, ?, ?, ?)`,
		b.Address, formatTime(b.TakenAt), string(b.Dialect), b.Config)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("backup %s at %s: %w", b.Address, formatTime(b.TakenAt), util.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("insert backup %s: %w", b.Address, err)
	}
	return &Ref{
		Address:  b.Address,
		TakenAt:  b.TakenAt.UTC(),
		Location: s.location(b.Address, b.TakenAt),
		Size:     len(b.Config),
	}, nil
}

// Load fetches one backup.
func (s *SQLiteStore) Load(ctx context.Context, address string, takenAt time.Time) (*Backup, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT dialect, config FROM backups WHERE address = ? AND taken_at = ?`,
		address, formatTime(takenAt))
	var d, cfg string
	if err := row.Scan(&d, &cfg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("backup %s at %s: %w", address, formatTime(takenAt), util.ErrNotFound)
		}
		return nil, fmt.Errorf("load backup %s: %w", address, err)
	}
	return &Backup{Address: address, TakenAt: takenAt.UTC(), Dialect: dialect.Dialect(d), Config: cfg}, nil
}

// List returns refs for address, newest first.
func (s *SQLiteStore) List(ctx context.Context, address string) ([]Ref, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT taken_at, length(config) FROM backups
		WHERE address = ? ORDER BY taken_at DESC`, address)
	if err != nil {
		return nil, fmt.Errorf("list backups %s: %w", address, err)
	}
	defer rows.Close()

	var refs []Ref
	for rows.Next() {
		var ts string
		var size int
		if err := rows.Scan(&ts, &size); err != nil {
			return nil, err
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("backup %s: bad timestamp %q", address, ts)
		}
		refs = append(refs, Ref{Address: address, TakenAt: t, Location: s.location(address, t), Size: size})
	}
	return refs, rows.Err()
}

// Close releases the database handle. It is safe on a nil store.
func (s *SQLiteStore) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
