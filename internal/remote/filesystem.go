package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tripsync/internal/model"
	"tripsync/internal/tripsync"
)

const (
	seqFile  = ".seq"
	lockFile = ".seq.lock"
)

// FileSystemStore is a tripsync.RemoteStore kept in a directory tree that
// several devices can share:
//
//	<root>/
//	  .seq                    (store-wide sequence counter)
//	  <scope>/<kind>/
//	    .seq                  (sequence of the last write to this kind)
//	    <id>.json             (envelope: sequence number and record)
//
// Writes go to a temp file and are renamed into place. Cursors are sequence
// numbers.
type FileSystemStore struct {
	root         string
	pollInterval time.Duration
	lockTimeout  time.Duration
	mu           sync.Mutex
}

type envelope struct {
	Seq    int64            `json:"seq"`
	Record *tripsync.Record `json:"record"`
}

// NewFileSystemStore creates a store rooted at root. pollInterval is how
// often watchers check for changes.
func NewFileSystemStore(root string, pollInterval time.Duration) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create remote root: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &FileSystemStore{root: root, pollInterval: pollInterval, lockTimeout: 10 * time.Second}, nil
}

func (f *FileSystemStore) kindDir(scope string, kind model.Kind) string {
	return filepath.Join(f.root, scope, string(kind))
}

func validName(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`) && !strings.HasPrefix(s, ".")
}

func (f *FileSystemStore) Put(ctx context.Context, scope string, rec *tripsync.Record) (tripsync.Ack, error) {
	if err := ctx.Err(); err != nil {
		return tripsync.Ack{}, err
	}
	if err := checkPut(scope, rec); err != nil {
		return tripsync.Ack{}, err
	}
	if !validName(scope) || !validName(rec.ID) {
		return tripsync.Ack{}, tripsync.NewSyncError(tripsync.PermanentRejection, "put", fmt.Errorf("invalid scope or id"))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := f.kindDir(scope, rec.Kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return tripsync.Ack{}, fmt.Errorf("creating kind directory: %w", err)
	}

	seq, err := f.nextSeq(ctx)
	if err != nil {
		return tripsync.Ack{}, err
	}
	data, err := json.Marshal(envelope{Seq: seq, Record: rec.ForRemote()})
	if err != nil {
		return tripsync.Ack{}, tripsync.NewSyncError(tripsync.PermanentRejection, "put", err)
	}
	if err := writeAtomic(filepath.Join(dir, rec.ID+".json"), data); err != nil {
		return tripsync.Ack{}, err
	}
	if err := writeAtomic(filepath.Join(dir, seqFile), []byte(strconv.FormatInt(seq, 10))); err != nil {
		return tripsync.Ack{}, err
	}
	return tripsync.Ack{ID: rec.ID, Kind: rec.Kind, StoredAt: time.Now()}, nil
}

// nextSeq increments the store-wide counter under a lock file shared by
// every process using the root.
func (f *FileSystemStore) nextSeq(ctx context.Context) (int64, error) {
	lockPath := filepath.Join(f.root, lockFile)
	deadline := time.Now().Add(f.lockTimeout)
	for {
		lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			lf.Close()
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("acquiring sequence lock: %w", err)
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("sequence lock held for over %s: %s", f.lockTimeout, lockPath)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	defer os.Remove(lockPath)

	seq, err := readSeq(filepath.Join(f.root, seqFile))
	if err != nil {
		return 0, err
	}
	seq++
	if err := writeAtomic(filepath.Join(f.root, seqFile), []byte(strconv.FormatInt(seq, 10))); err != nil {
		return 0, err
	}
	return seq, nil
}

func readSeq(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading sequence: %w", err)
	}
	seq, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing sequence %s: %w", path, err)
	}
	return seq, nil
}

// writeAtomic writes data to a temp file next to path and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

func (f *FileSystemStore) Get(ctx context.Context, scope string, kind model.Kind, id string) (*tripsync.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validName(scope) || !validName(id) {
		return nil, nil
	}
	env, err := readEnvelope(filepath.Join(f.kindDir(scope, kind), id+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return env.Record, nil
}

func readEnvelope(path string) (*envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if env.Record == nil {
		return nil, fmt.Errorf("decoding %s: no record", path)
	}
	return &env, nil
}

func (f *FileSystemStore) Fetch(ctx context.Context, scope string, kind model.Kind, cursor tripsync.Cursor, limit int) (*tripsync.ChangeSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validName(scope) {
		return nil, tripsync.NewSyncError(tripsync.PermanentRejection, "fetch", fmt.Errorf("invalid scope"))
	}
	var after int64
	if cursor != "" {
		v, err := strconv.ParseInt(string(cursor), 10, 64)
		if err != nil {
			return nil, tripsync.ErrCursorExpired
		}
		after = v
	}

	dir := f.kindDir(scope, kind)
	names, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return &tripsync.ChangeSet{Cursor: cursor}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var envs []*envelope
	for _, e := range names {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		env, err := readEnvelope(filepath.Join(dir, e.Name()))
		if err != nil {
			// Skipped; the merge layer never sees a half-read record.
			continue
		}
		if env.Seq > after {
			envs = append(envs, env)
		}
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Seq < envs[j].Seq })

	cs := &tripsync.ChangeSet{Cursor: cursor}
	if limit > 0 && len(envs) > limit {
		envs = envs[:limit]
		cs.More = true
	}
	for _, env := range envs {
		cs.Records = append(cs.Records, env.Record)
		cs.Cursor = tripsync.Cursor(strconv.FormatInt(env.Seq, 10))
	}
	return cs, nil
}

func (f *FileSystemStore) ValidateSetup(ctx context.Context) error {
	probe := filepath.Join(f.root, ".probe")
	if err := writeAtomic(probe, []byte("ok")); err != nil {
		return fmt.Errorf("remote root is not writable: %w", err)
	}
	return os.Remove(probe)
}

// Watch polls the kind's sequence file and signals when it changes.
func (f *FileSystemStore) Watch(scope string, kind model.Kind) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	done := make(chan struct{})
	path := filepath.Join(f.kindDir(scope, kind), seqFile)

	go func() {
		last, _ := readSeq(path)
		ticker := time.NewTicker(f.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				seq, err := readSeq(path)
				if err != nil || seq == last {
					continue
				}
				last = seq
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()

	var once sync.Once
	return ch, func() { once.Do(func() { close(done) }) }
}

var (
	_ tripsync.RemoteStore = (*FileSystemStore)(nil)
	_ tripsync.Notifier    = (*FileSystemStore)(nil)
)
