package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/MacJediWizard/strongbox/internal/agent"
	"github.com/MacJediWizard/strongbox/internal/tasks"
	"github.com/MacJediWizard/strongbox/pkg/models"
)

type passControl struct{}

func (passControl) Checkpoint(ctx context.Context) error { return ctx.Err() }

// cancelAfter lets n checkpoints pass, then reports cancellation.
type cancelAfter struct {
	n     int
	calls int
}

func (c *cancelAfter) Checkpoint(context.Context) error {
	c.calls++
	if c.calls > c.n {
		return tasks.ErrCancelled
	}
	return nil
}

type fakeUploader struct {
	mu sync.Mutex

	archives  map[string][]byte // backup name -> archive bytes
	checksums map[string]string
	sessions  map[string]*bytes.Buffer
	requests  []models.CreateUploadRequest
	finalized []models.FinalizeBackupRequest
	aborted   []string
	chunks    map[string][]int // session -> chunk sizes received
	failChunk int
	version   int
	chunkSize int64 // size the fake server hands out; zero means no usable plan

	// archiveStarted, when set, is closed as UploadArchive begins, which
	// then blocks until archiveGate is closed.
	archiveStarted chan struct{}
	archiveGate    chan struct{}
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{
		archives:  make(map[string][]byte),
		checksums: make(map[string]string),
		sessions:  make(map[string]*bytes.Buffer),
		chunks:    make(map[string][]int),
		failChunk: -1,
		version:   7,
		chunkSize: 4,
	}
}

func (u *fakeUploader) CreateUpload(_ context.Context, req *models.CreateUploadRequest) (*models.CreateUploadResponse, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests = append(u.requests, *req)
	id := fmt.Sprintf("s%d", len(u.requests))
	u.sessions[id] = &bytes.Buffer{}
	version := req.Version
	if version == 0 {
		version = u.version
	}
	resp := &models.CreateUploadResponse{SessionID: id, Version: version, ChunkSize: u.chunkSize}
	if u.chunkSize > 0 {
		resp.TotalChunks = int((req.TotalSize + u.chunkSize - 1) / u.chunkSize)
		if resp.TotalChunks == 0 {
			resp.TotalChunks = 1
		}
	}
	return resp, nil
}

func (u *fakeUploader) UploadChunk(_ context.Context, sessionID string, index int, data []byte) (*models.ChunkAck, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if index == u.failChunk {
		return nil, errors.New("connection reset")
	}
	u.sessions[sessionID].Write(data)
	u.chunks[sessionID] = append(u.chunks[sessionID], len(data))
	return &models.ChunkAck{SessionID: sessionID, Index: index, ReceivedBytes: int64(u.sessions[sessionID].Len())}, nil
}

func (u *fakeUploader) CompleteUpload(_ context.Context, sessionID string) (*models.UploadResult, error) {
	return &models.UploadResult{Version: u.version}, nil
}

func (u *fakeUploader) AbortUpload(_ context.Context, sessionID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.aborted = append(u.aborted, sessionID)
	return nil
}

func (u *fakeUploader) FinalizeBackup(_ context.Context, req *models.FinalizeBackupRequest) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.finalized = append(u.finalized, *req)
	return nil
}

func (u *fakeUploader) UploadArchive(_ context.Context, backupName, archivePath, checksum string, fileCount int) (*models.UploadResult, error) {
	if u.archiveStarted != nil {
		close(u.archiveStarted)
		<-u.archiveGate
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.archives[backupName] = data
	u.checksums[backupName] = checksum
	return &models.UploadResult{Version: u.version}, nil
}

type memStore struct {
	mu    sync.Mutex
	items map[string]*models.Item
	saves int
}

func newMemStore(items ...*models.Item) *memStore {
	s := &memStore{items: make(map[string]*models.Item)}
	for _, item := range items {
		cp := *item
		s.items[item.ID] = &cp
	}
	return s
}

func (s *memStore) ListItems(context.Context) ([]*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Item, 0, len(s.items))
	for _, item := range s.items {
		cp := *item
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) GetItem(_ context.Context, id string) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, agent.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *memStore) SaveItem(_ context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.items[item.ID] = &cp
	s.saves++
	return nil
}

func (s *memStore) FindItemByName(_ context.Context, name string) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.Name == name {
			cp := *item
			return &cp, nil
		}
	}
	return nil, agent.ErrNotFound
}

func (s *memStore) item(id string) models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.items[id]
}

type fakeTimer struct {
	at      time.Time
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// live returns the timers that are neither stopped nor fired.
func (c *fakeClock) live() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// fire moves the clock to t's deadline and runs it.
func (c *fakeClock) fire(t *fakeTimer) {
	c.mu.Lock()
	c.now = t.at
	t.stopped = true
	c.mu.Unlock()
	t.f()
}

type fakeEngine struct {
	mu      sync.Mutex
	created []models.Item
	events  chan tasks.Event
	dup     bool
	fail    error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan tasks.Event, 16)}
}

func (e *fakeEngine) Create(item models.Item) (*tasks.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dup {
		return nil, tasks.ErrDuplicateTask
	}
	if e.fail != nil {
		return nil, e.fail
	}
	e.created = append(e.created, item)
	return &tasks.Task{ID: fmt.Sprintf("t%d", len(e.created)), ItemID: item.ID, ItemName: item.Name}, nil
}

func (e *fakeEngine) Follow() (<-chan tasks.Event, func()) {
	var once sync.Once
	return e.events, func() { once.Do(func() { close(e.events) }) }
}

func (e *fakeEngine) createdNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.created))
	for _, item := range e.created {
		names = append(names, item.Name)
	}
	return names
}
