package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/netpush-network/netpush/pkg/util"
)

const (
	dirPerms  = 0o750
	filePerms = 0o600
	fileExt   = ".cfg"
)

// FileStore keeps one file per backup under dir/<address>/<time>.cfg.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("backup directory is required")
	}
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return nil, fmt.Errorf("create backup dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) deviceDir(address string) string {
	return filepath.Join(s.dir, util.SanitizeName(address))
}

func (s *FileStore) path(address string, t time.Time) string {
	return filepath.Join(s.deviceDir(address), formatTime(t)+fileExt)
}

// Save writes b with O_EXCL so an existing file is never replaced.
func (s *FileStore) Save(_ context.Context, b *Backup) (*Ref, error) {
	if err := validate(b); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.deviceDir(b.Address), dirPerms); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	path := s.path(b.Address, b.TakenAt)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerms)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("backup %s: %w", path, util.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create backup: %w", err)
	}
	if _, err := f.WriteString(b.Config); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write backup %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close backup %s: %w", path, err)
	}
	return &Ref{Address: b.Address, TakenAt: b.TakenAt.UTC(), Location: path, Size: len(b.Config)}, nil
}

// Load reads one backup.
func (s *FileStore) Load(_ context.Context, address string, takenAt time.Time) (*Backup, error) {
	path := s.path(address, takenAt)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("backup %s at %s: %w", address, formatTime(takenAt), util.ErrNotFound)
		}
		return nil, fmt.Errorf("read backup: %w", err)
	}
	return &Backup{Address: address, TakenAt: takenAt.UTC(), Config: string(data)}, nil
}

// List returns refs for address, newest first.
func (s *FileStore) List(_ context.Context, address string) ([]Ref, error) {
	entries, err := os.ReadDir(s.deviceDir(address))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}
	var refs []Ref
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		t, err := parseTime(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		refs = append(refs, Ref{
			Address:  address,
			TakenAt:  t,
			Location: filepath.Join(s.deviceDir(address), name),
			Size:     int(info.Size()),
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].TakenAt.After(refs[j].TakenAt) })
	return refs, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
