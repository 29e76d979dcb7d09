package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
	"github.com/zhiyang446/musictabapp-codex/internal/repository/inline"
	"github.com/zhiyang446/musictabapp-codex/internal/repository/psql"
	"github.com/zhiyang446/musictabapp-codex/internal/transcriber"
)

var (
	ownerA = uuid.MustParse("00000000-0000-0000-0000-000000000123")
	ownerB = uuid.MustParse("00000000-0000-0000-0000-000000000456")
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := psql.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// stepClock hands out strictly increasing timestamps, safe for concurrent use.
type stepClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newStepClock() *stepClock {
	return &stepClock{cur: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Millisecond)
	return c.cur
}

type repos struct {
	jobs   *psql.GormJobRepo
	events *psql.GormEventRepo
	assets *psql.GormAssetRepo
}

func newRepos(t *testing.T) repos {
	t.Helper()
	db := newTestDB(t)
	clock := newStepClock()
	r := repos{
		jobs:   psql.NewGormJobRepo(db),
		events: psql.NewGormEventRepo(db),
		assets: psql.NewGormAssetRepo(db),
	}
	r.jobs.Now = clock.Now
	r.events.Now = clock.Now
	r.assets.Now = clock.Now
	return r
}

// memStore is an in-memory object store and URL signer.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	signErr error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	s.types[key] = contentType
	return nil
}

func (s *memStore) GetFileReader(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, entity.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) Stat(ctx context.Context, key string) (int64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return 0, "", fmt.Errorf("object %s: %w", key, entity.ErrNotFound)
	}
	return int64(len(data)), s.types[key], nil
}

func (s *memStore) GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://s3.test/" + key + "?get", nil
}

func (s *memStore) PresignedPutURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.signErr != nil {
		return "", s.signErr
	}
	return "https://s3.test/" + key + "?put", nil
}

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

type memCache struct {
	mu    sync.Mutex
	items map[uuid.UUID]entity.StatusSnapshot
}

func newMemCache() *memCache {
	return &memCache{items: map[uuid.UUID]entity.StatusSnapshot{}}
}

func (c *memCache) SetStatus(ctx context.Context, s entity.StatusSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[s.JobID] = s
	return nil
}

func (c *memCache) GetStatus(ctx context.Context, jobID uuid.UUID) (entity.StatusSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.items[jobID]
	if !ok {
		return entity.StatusSnapshot{}, entity.ErrNotFound
	}
	return s, nil
}

// recordingDispatcher keeps dispatched messages without running them. With
// err set every dispatch fails.
type recordingDispatcher struct {
	mu       sync.Mutex
	msgs     []entity.TaskMessage
	err      error
	attempts int
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, msg entity.TaskMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.err != nil {
		return d.err
	}
	d.msgs = append(d.msgs, msg)
	return nil
}

func (d *recordingDispatcher) last() entity.TaskMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.msgs[len(d.msgs)-1]
}

// countingEngine wraps an engine and counts runs.
type countingEngine struct {
	mu    sync.Mutex
	calls int
	err   error
	inner Engine
}

func (e *countingEngine) Transcribe(ctx context.Context, req transcriber.Request, progress transcriber.ProgressFunc) ([]transcriber.Output, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return e.inner.Transcribe(ctx, req, progress)
}

func (e *countingEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// harness wires the real repositories and the inline dispatcher.
type harness struct {
	repos
	store    *memStore
	cache    *memCache
	engine   *countingEngine
	pipeline *PipelineUseCase
	worker   *Worker
	jobUC    *JobUseCase
}

func newHarness(t *testing.T, engineErr error, policy RetryPolicy) *harness {
	t.Helper()
	h := &harness{
		repos:  newRepos(t),
		store:  newMemStore(),
		cache:  newMemCache(),
		engine: &countingEngine{err: engineErr, inner: transcriber.NewPlaceholder()},
	}
	d := inline.NewDispatcher()
	h.pipeline = NewPipelineUseCase(h.repos.jobs, h.events, h.assets, h.store, h.engine, d, h.cache)
	h.worker = NewWorker(h.pipeline, d, policy)
	h.worker.Sleep = func(context.Context, time.Duration) error { return nil }
	d.Bind(h.worker)
	h.jobUC = NewJobUseCase(h.repos.jobs, h.events, h.assets, h.cache, d, h.store, 3)
	return h
}

func (h *harness) uploadAudio(t *testing.T, owner uuid.UUID) string {
	t.Helper()
	key := owner.String() + "/audio/abc_song.wav"
	if err := h.store.Upload(context.Background(), key, []byte("RIFF"), "audio/wav"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	return key
}

func stages(events []entity.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Stage
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var errEngineDown = errors.New("engine unavailable")
