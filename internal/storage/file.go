package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"postpilot/internal/job"
	logx "postpilot/pkg/logx"
)

const (
	shardPrefix = "jobs-"
	shardExt    = ".json"
	shardDay    = "2006-01-02"
)

// fileStore shards jobs into one JSON file per UTC calendar day of their
// scheduled time (jobs-2026-08-25.json). Every write is read-merge-write with
// a temp-file-then-rename so a crash can never leave a partially written
// shard behind.
type fileStore struct {
	log logx.Logger
	dir string

	mu sync.Mutex
}

type shardFile struct {
	Jobs      []*job.Job `json:"jobs"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapErr("file", "mkdir", err)
	}
	return &fileStore{log: log, dir: dir}, nil
}

func (s *fileStore) Close() error { return nil }

func shardKeyFor(t time.Time) string {
	return t.UTC().Format(shardDay)
}

func (s *fileStore) shardPath(key string) string {
	return filepath.Join(s.dir, shardPrefix+key+shardExt)
}

// readShardsLocked loads every shard in the directory. A corrupt or
// unreadable shard is logged and skipped; it never aborts the load of the
// other shards.
func (s *fileStore) readShardsLocked() map[string]*shardFile {
	shards := map[string]*shardFile{}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("job shard directory unreadable", logx.String("dir", s.dir), logx.Err(err))
		return shards
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, shardPrefix) || !strings.HasSuffix(name, shardExt) {
			continue
		}
		key := strings.TrimSuffix(strings.TrimPrefix(name, shardPrefix), shardExt)
		path := filepath.Join(s.dir, name)

		b, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("skipping unreadable job shard", logx.String("shard", name), logx.Err(err))
			continue
		}
		var sf shardFile
		if err := json.Unmarshal(b, &sf); err != nil {
			s.log.Warn("skipping corrupt job shard", logx.String("shard", name), logx.Err(err))
			continue
		}
		shards[key] = &sf
	}
	return shards
}

func (s *fileStore) writeShardLocked(key string, sf *shardFile) error {
	path := s.shardPath(key)
	if len(sf.Jobs) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return wrapErr("file", "remove shard", err)
		}
		return nil
	}

	sort.Slice(sf.Jobs, func(i, k int) bool { return job.Less(sf.Jobs[i], sf.Jobs[k]) })
	sf.UpdatedAt = time.Now().UTC()

	b, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return wrapErr("file", "encode shard", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return wrapErr("file", "write shard", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return wrapErr("file", "rename shard", err)
	}
	return nil
}

func (s *fileStore) LoadJobs(ctx context.Context) (map[string]*job.Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	shards := s.readShardsLocked()

	// Duplicate IDs across shards can only come from a crash between the
	// write of a rescheduled job's new shard and the cleanup of its old one.
	// The copy in the freshest shard wins.
	out := map[string]*job.Job{}
	seenAt := map[string]time.Time{}
	for _, sf := range shards {
		for _, j := range sf.Jobs {
			if j == nil || j.ID == "" {
				continue
			}
			if prev, ok := seenAt[j.ID]; ok && !sf.UpdatedAt.After(prev) {
				continue
			}
			out[j.ID] = j.Clone()
			seenAt[j.ID] = sf.UpdatedAt
		}
	}
	return out, nil
}

func (s *fileStore) SaveJobs(ctx context.Context, jobs map[string]*job.Job) error {
	_ = ctx
	if len(jobs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	shards := s.readShardsLocked()
	dirty := map[string]bool{}

	for id, j := range jobs {
		if j == nil || id == "" {
			continue
		}
		target := shardKeyFor(j.ScheduledAt)

		// Drop stale copies from other shards (the job may have been
		// rescheduled onto a different day).
		for key, sf := range shards {
			if key == target {
				continue
			}
			if removeJobByID(sf, id) {
				dirty[key] = true
			}
		}

		sf := shards[target]
		if sf == nil {
			sf = &shardFile{}
			shards[target] = sf
		}
		removeJobByID(sf, id)
		sf.Jobs = append(sf.Jobs, j.Clone())
		dirty[target] = true
	}

	var firstErr error
	for key := range dirty {
		if err := s.writeShardLocked(key, shards[key]); err != nil {
			s.log.Error("job shard write failed", logx.String("shard", key), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func removeJobByID(sf *shardFile, id string) bool {
	for i, j := range sf.Jobs {
		if j != nil && j.ID == id {
			sf.Jobs = append(sf.Jobs[:i], sf.Jobs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *fileStore) GetJob(ctx context.Context, id string) (*job.Job, error) {
	all, err := s.LoadJobs(ctx)
	if err != nil {
		return nil, err
	}
	j, ok := all[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return j, nil
}

func (s *fileStore) GetJobsByStatus(ctx context.Context, status job.Status) ([]*job.Job, error) {
	all, err := s.LoadJobs(ctx)
	if err != nil {
		return nil, err
	}
	var out []*job.Job
	for _, j := range all {
		if j.Status == status {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return job.Less(out[i], out[k]) })
	return out, nil
}

func (s *fileStore) GetJobsByAccount(ctx context.Context, accountID string) ([]*job.Job, error) {
	all, err := s.LoadJobs(ctx)
	if err != nil {
		return nil, err
	}
	var out []*job.Job
	for _, j := range all {
		if j.AccountID == accountID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return job.Less(out[i], out[k]) })
	return out, nil
}

func (s *fileStore) DeleteJob(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	shards := s.readShardsLocked()
	found := false
	for key, sf := range shards {
		if removeJobByID(sf, id) {
			found = true
			if err := s.writeShardLocked(key, sf); err != nil {
				return err
			}
		}
	}
	if !found {
		return job.ErrNotFound
	}
	return nil
}

// CompactShards removes terminal jobs whose day is older than the retention
// cutoff and rewrites (or removes) the affected shards. Used by the
// maintenance sweep; live jobs are never touched.
func (s *fileStore) CompactShards(ctx context.Context, cutoff time.Time) (removed int, err error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoffKey := shardKeyFor(cutoff)
	shards := s.readShardsLocked()
	for key, sf := range shards {
		if key >= cutoffKey {
			continue
		}
		kept := sf.Jobs[:0]
		for _, j := range sf.Jobs {
			if j != nil && j.Status.Terminal() {
				removed++
				continue
			}
			kept = append(kept, j)
		}
		if len(kept) == len(sf.Jobs) {
			continue
		}
		sf.Jobs = kept
		if werr := s.writeShardLocked(key, sf); werr != nil && err == nil {
			err = werr
		}
	}
	return removed, err
}
