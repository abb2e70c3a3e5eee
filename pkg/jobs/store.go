// Package jobs runs deployments in the background and keeps their results
// in Redis so any process can look them up by ID.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/netpush-network/netpush/pkg/deploy"
	"github.com/netpush-network/netpush/pkg/intent"
	"github.com/netpush-network/netpush/pkg/util"
)

// DefaultTTL is how long a job record is kept after it is created.
const DefaultTTL = 7 * 24 * time.Hour

const keyPrefix = "netpush:job:"

// Status is a job's lifecycle state.
type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusRejected Status = "rejected"
)

// Job is the stored record of one background deployment.
type Job struct {
	ID         string          `json:"id"`
	Status     Status          `json:"status"`
	User       string          `json:"user,omitempty"`
	Intent     *intent.Intent  `json:"intent"`
	Targets    []string        `json:"targets"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
	Results    deploy.Results  `json:"results,omitempty"`
	Summary    *deploy.Summary `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Done reports whether the job reached a final state.
func (j *Job) Done() bool {
	return j.Status == StatusFinished || j.Status == StatusRejected
}

// Store keeps job records as Redis hashes at netpush:job:<id>.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore connects to the Redis server at addr.
func NewStore(addr string, db int, ttl time.Duration) *Store {
	return NewStoreWithClient(redis.NewClient(&redis.Options{Addr: addr, DB: db}), ttl)
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the connection
func (s *Store) Close() error {
	return s.client.Close()
}

func jobKey(id string) string {
	return keyPrefix + id
}

// Put writes every field of j and refreshes the record's TTL.
func (s *Store) Put(ctx context.Context, j *Job) error {
	fields, err := encode(j)
	if err != nil {
		return err
	}
	key := jobKey(j.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing job %s: %w", j.ID, err)
	}
	return nil
}

// Get loads a job. A missing or expired job is util.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("job %s: %w", id, util.ErrNotFound)
	}
	return decode(id, fields)
}

// encode flattens a job into hash fields. Structured values are JSON.
func encode(j *Job) (map[string]interface{}, error) {
	in, err := json.Marshal(j.Intent)
	if err != nil {
		return nil, fmt.Errorf("encoding intent: %w", err)
	}
	fields := map[string]interface{}{
		"status":     string(j.Status),
		"user":       j.User,
		"intent":     string(in),
		"targets":    strings.Join(j.Targets, ","),
		"created_at": j.CreatedAt.UTC().Format(time.RFC3339Nano),
		"error":      j.Error,
	}
	if j.Intent != nil {
		fields["kind"] = string(j.Intent.Kind)
	}
	if !j.FinishedAt.IsZero() {
		fields["finished_at"] = j.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	if j.Results != nil {
		res, err := json.Marshal(j.Results)
		if err != nil {
			return nil, fmt.Errorf("encoding results: %w", err)
		}
		fields["results"] = string(res)
	}
	if j.Summary != nil {
		fields["total"] = strconv.Itoa(j.Summary.Total)
		fields["succeeded"] = strconv.Itoa(j.Summary.Succeeded)
		fields["failed"] = strconv.Itoa(j.Summary.Failed)
		fields["cancelled"] = strconv.Itoa(j.Summary.Cancelled)
	}
	return fields, nil
}

func decode(id string, fields map[string]string) (*Job, error) {
	j := &Job{
		ID:     id,
		Status: Status(fields["status"]),
		User:   fields["user"],
		Error:  fields["error"],
	}
	if t := fields["targets"]; t != "" {
		j.Targets = strings.Split(t, ",")
	}
	if raw := fields["intent"]; raw != "" && raw != "null" {
		j.Intent = &intent.Intent{}
		if err := json.Unmarshal([]byte(raw), j.Intent); err != nil {
			return nil, fmt.Errorf("job %s: decoding intent: %w", id, err)
		}
	}
	var err error
	if j.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, fmt.Errorf("job %s: created_at: %w", id, err)
	}
	if j.FinishedAt, err = parseTime(fields["finished_at"]); err != nil {
		return nil, fmt.Errorf("job %s: finished_at: %w", id, err)
	}
	if raw := fields["results"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &j.Results); err != nil {
			return nil, fmt.Errorf("job %s: decoding results: %w", id, err)
		}
	}
	if _, ok := fields["total"]; ok {
		s := &deploy.Summary{}
		s.Total, _ = strconv.Atoi(fields["total"])
		s.Succeeded, _ = strconv.Atoi(fields["succeeded"])
		s.Failed, _ = strconv.Atoi(fields["failed"])
		s.Cancelled, _ = strconv.Atoi(fields["cancelled"])
		j.Summary = s
	}
	return j, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
