package service

import (
	"context"
	"encoding/base64"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"Nexus/internal/modules/inventory/application/dto/request"
	"Nexus/internal/modules/inventory/domain/item"
	"Nexus/internal/modules/inventory/domain/repository"
	"Nexus/internal/modules/inventory/infrastructure/embedding"
	"Nexus/internal/modules/inventory/infrastructure/extraction"
	"Nexus/internal/modules/inventory/infrastructure/mq"
	"Nexus/internal/modules/inventory/infrastructure/pipeline"
	"Nexus/internal/modules/inventory/infrastructure/queue"
	"Nexus/internal/modules/inventory/infrastructure/vectordb"
	"Nexus/pkg/ws"
	"Nexus/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngImage = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

func pngB64() string { return base64.StdEncoding.EncodeToString(pngImage) }

type stubItemRepo struct {
	mu    sync.Mutex
	items map[string]item.Item
}

func newStubItemRepo() *stubItemRepo { return &stubItemRepo{items: map[string]item.Item{}} }

func (r *stubItemRepo) Create(ctx context.Context, it *item.Item) error { return r.Save(ctx, it) }
func (r *stubItemRepo) Save(_ context.Context, it *item.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[it.Id] = *it
	return nil
}
func (r *stubItemRepo) GetByID(_ context.Context, id string) (*item.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if it, ok := r.items[id]; ok {
		cp := it
		return &cp, nil
	}
	return nil, nil
}
func (r *stubItemRepo) Delete(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return 0, nil
	}
	delete(r.items, id)
	return 1, nil
}
func (r *stubItemRepo) List(_ context.Context, f repository.ItemFilter) ([]item.Item, error) {
	all, _ := r.ListAll(context.Background())
	out := make([]item.Item, 0, len(all))
	for _, it := range all {
		if f.Category != "" && it.Category != f.Category {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}
func (r *stubItemRepo) ListAll(_ context.Context) ([]item.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]item.Item, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}
func (r *stubItemRepo) ListIDsByCategory(_ context.Context, category string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, it := range r.items {
		if it.Category == category {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
func (r *stubItemRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.items)), nil
}

type stubTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*item.IngestTask
}

func newStubTaskRepo() *stubTaskRepo { return &stubTaskRepo{tasks: map[string]*item.IngestTask{}} }

func (r *stubTaskRepo) Create(_ context.Context, t *item.IngestTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tasks[t.Id] = &cp
	return nil
}
func (r *stubTaskRepo) GetByID(_ context.Context, id string) (*item.IngestTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}
func (r *stubTaskRepo) UpdateState(_ context.Context, id string, state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.State = state
	}
	return nil
}
func (r *stubTaskRepo) TryMarkProcessing(_ context.Context, id string, _ time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.State != item.TaskStateReceived {
		return false, nil
	}
	t.State = item.TaskStateEmbedding
	return true, nil
}
func (r *stubTaskRepo) MarkIndexed(_ context.Context, id string, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.State = item.TaskStateIndexed
		t.ItemId = itemID
	}
	return nil
}
func (r *stubTaskRepo) MarkFailed(_ context.Context, id string, errCode int, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.State = item.TaskStateFailed
		t.ErrorCode = errCode
		t.ErrorMsg = errMsg
	}
	return nil
}
func (r *stubTaskRepo) AddRetry(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.RetryCount++
	}
	return nil
}

type stubPublisher struct {
	mu       sync.Mutex
	messages []mq.Message
	err      error
}

func (p *stubPublisher) Publish(_ context.Context, msg mq.Message) (mq.PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return mq.PublishResult{}, p.err
	}
	p.messages = append(p.messages, msg)
	return mq.PublishResult{}, nil
}
func (p *stubPublisher) Close() error { return nil }

type stubPayloadStore struct {
	mu   sync.Mutex
	data map[string]*queue.IngestPayload
}

func newStubPayloadStore() *stubPayloadStore {
	return &stubPayloadStore{data: map[string]*queue.IngestPayload{}}
}

func (s *stubPayloadStore) Save(_ context.Context, taskID string, p *queue.IngestPayload, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.data[taskID] = &cp
	return nil
}
func (s *stubPayloadStore) Load(_ context.Context, taskID string) (*queue.IngestPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.data[taskID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}
func (s *stubPayloadStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, taskID)
	return nil
}

type serviceFixture struct {
	itemRepo *stubItemRepo
	taskRepo *stubTaskRepo
	index    *vectordb.MemoryIndex
	ingest   *pipeline.IngestPipeline
	search   *pipeline.SearchPipeline
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	itemRepo := newStubItemRepo()
	taskRepo := newStubTaskRepo()
	idx, err := vectordb.NewMemoryIndex(8, itemRepo)
	require.NoError(t, err)
	adapter, err := embedding.NewProviderAdapter(embedding.NewMockEmbedder(8), 8, 1<<20)
	require.NoError(t, err)
	ingest, err := pipeline.NewIngestPipeline(adapter, extraction.NewMockExtractor(), itemRepo, taskRepo, idx, 3, nil)
	require.NoError(t, err)
	search, err := pipeline.NewSearchPipeline(adapter, itemRepo, idx, 15)
	require.NoError(t, err)
	return &serviceFixture{itemRepo: itemRepo, taskRepo: taskRepo, index: idx, ingest: ingest, search: search}
}

func TestIngestServiceSync(t *testing.T) {
	fx := newServiceFixture(t)
	svc := NewIngestService(fx.ingest, fx.taskRepo, nil, nil, "", false, 1<<20)

	resp, err := svc.Ingest(context.Background(), request.IngestItemRequest{
		ImageB64: pngB64(),
		TextHint: "hand saw",
	}, "owner-1")
	require.NoError(t, err)

	assert.Equal(t, item.TaskStateIndexed, resp.State)
	assert.NotEmpty(t, resp.ItemID)
	assert.NotEmpty(t, resp.TaskID)

	it, _ := fx.itemRepo.GetByID(context.Background(), resp.ItemID)
	require.NotNil(t, it)
	assert.Equal(t, "hand saw", it.Name)
}

func TestIngestServiceRejectsBadBase64(t *testing.T) {
	fx := newServiceFixture(t)
	svc := NewIngestService(fx.ingest, fx.taskRepo, nil, nil, "", false, 1<<20)

	_, err := svc.Ingest(context.Background(), request.IngestItemRequest{ImageB64: "!!bad!!"}, "owner-1")
	assert.True(t, xerr.Is(err, xerr.CodeInvalidInput))
}

func TestIngestServiceRejectsOversizedImage(t *testing.T) {
	fx := newServiceFixture(t)
	svc := NewIngestService(fx.ingest, fx.taskRepo, nil, nil, "", false, 4)

	_, err := svc.Ingest(context.Background(), request.IngestItemRequest{ImageB64: pngB64()}, "owner-1")
	assert.True(t, xerr.Is(err, xerr.CodeInvalidInput))
}

func TestIngestServiceAsyncEnqueues(t *testing.T) {
	fx := newServiceFixture(t)
	pub := &stubPublisher{}
	payloads := newStubPayloadStore()
	svc := NewIngestService(fx.ingest, fx.taskRepo, pub, payloads, "nexus.ingest", true, 1<<20)

	resp, err := svc.Ingest(context.Background(), request.IngestItemRequest{
		ImageB64: pngB64(),
		Async:    true,
	}, "owner-1")
	require.NoError(t, err)

	assert.Equal(t, item.TaskStateReceived, resp.State)
	assert.Empty(t, resp.ItemID)

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "nexus.ingest", pub.messages[0].Topic)
	assert.Equal(t, resp.TaskID, string(pub.messages[0].Value))

	p, _ := payloads.Load(context.Background(), resp.TaskID)
	require.NotNil(t, p)
	assert.Equal(t, "owner-1", p.OwnerID)

	// 条目尚未入库
	count, _ := fx.itemRepo.Count(context.Background())
	assert.Zero(t, count)
}

func TestIngestServicePublishFailureFallsBackToSync(t *testing.T) {
	fx := newServiceFixture(t)
	pub := &stubPublisher{err: errors.New("broker down")}
	payloads := newStubPayloadStore()
	svc := NewIngestService(fx.ingest, fx.taskRepo, pub, payloads, "nexus.ingest", true, 1<<20)

	resp, err := svc.Ingest(context.Background(), request.IngestItemRequest{
		ImageB64: pngB64(),
		Async:    true,
	}, "owner-1")
	require.NoError(t, err)

	assert.Equal(t, item.TaskStateIndexed, resp.State)
	assert.NotEmpty(t, resp.ItemID)
}

func TestQueryServiceSearchAndGet(t *testing.T) {
	fx := newServiceFixture(t)
	ingestSvc := NewIngestService(fx.ingest, fx.taskRepo, nil, nil, "", false, 1<<20)
	querySvc := NewQueryService(fx.search, fx.itemRepo, fx.index, 0.75, 500)

	resp, err := ingestSvc.Ingest(context.Background(), request.IngestItemRequest{
		ImageB64: pngB64(),
		TextHint: "steel thermos",
	}, "owner-1")
	require.NoError(t, err)

	// 同一载荷的查询必然命中自身
	searchResp, err := querySvc.SemanticSearch(context.Background(), request.SemanticSearchRequest{
		ImageB64: pngB64(),
		Query:    "steel thermos",
		TopK:     5,
	}, "owner-1")
	require.NoError(t, err)
	require.NotEmpty(t, searchResp.Hits)
	assert.Equal(t, resp.ItemID, searchResp.Hits[0].ItemID)
	assert.InDelta(t, 1.0, searchResp.Hits[0].Score, 1e-6)

	detail, err := querySvc.GetItem(context.Background(), resp.ItemID)
	require.NoError(t, err)
	assert.Equal(t, "steel thermos", detail.Name)
}

func TestQueryServiceSearchRequiresInput(t *testing.T) {
	fx := newServiceFixture(t)
	querySvc := NewQueryService(fx.search, fx.itemRepo, fx.index, 0.75, 500)

	_, err := querySvc.SemanticSearch(context.Background(), request.SemanticSearchRequest{}, "owner-1")
	assert.Error(t, err)
}

func TestQueryServiceGetItemNotFound(t *testing.T) {
	fx := newServiceFixture(t)
	querySvc := NewQueryService(fx.search, fx.itemRepo, fx.index, 0.75, 500)

	_, err := querySvc.GetItem(context.Background(), "nope")
	assert.True(t, xerr.Is(err, xerr.NotFound))
}

func TestQueryServiceDeleteItem(t *testing.T) {
	fx := newServiceFixture(t)
	ingestSvc := NewIngestService(fx.ingest, fx.taskRepo, nil, nil, "", false, 1<<20)
	querySvc := NewQueryService(fx.search, fx.itemRepo, fx.index, 0.75, 500)

	resp, err := ingestSvc.Ingest(context.Background(), request.IngestItemRequest{ImageB64: pngB64()}, "owner-1")
	require.NoError(t, err)

	require.NoError(t, querySvc.DeleteItem(context.Background(), resp.ItemID))

	n, _ := fx.index.Len(context.Background())
	assert.Zero(t, n)
	count, _ := fx.itemRepo.Count(context.Background())
	assert.Zero(t, count)

	// 再删同一条目返回 NotFound
	err = querySvc.DeleteItem(context.Background(), resp.ItemID)
	assert.True(t, xerr.Is(err, xerr.NotFound))
}

func TestQueryServiceGraphSnapshot(t *testing.T) {
	fx := newServiceFixture(t)
	querySvc := NewQueryService(fx.search, fx.itemRepo, fx.index, 0.75, 500)

	add := func(id, name string, vec []float32) {
		now := time.Now()
		it := &item.Item{Id: id, Name: name, Category: "Tools", CreatedAt: now, UpdatedAt: now}
		it.SetEmbedding(vec)
		require.NoError(t, fx.itemRepo.Save(context.Background(), it))
		require.NoError(t, fx.index.Insert(context.Background(), id, vec))
	}
	add("item-a", "saw", []float32{1, 0, 0, 0, 0, 0, 0, 0})
	add("item-b", "hacksaw", []float32{0.9, 0.4359, 0, 0, 0, 0, 0, 0})
	add("item-c", "bandage", []float32{0, 0, 1, 0, 0, 0, 0, 0})

	snap, err := querySvc.GraphSnapshot(context.Background(), 0.8, 0)
	require.NoError(t, err)

	assert.Len(t, snap.Nodes, 3)
	require.Len(t, snap.Edges, 1)
	assert.Equal(t, "item-a", snap.Edges[0].Source)
	assert.Equal(t, "item-b", snap.Edges[0].Target)
	assert.InDelta(t, 0.8, snap.Threshold, 1e-6)
	assert.NotEmpty(t, snap.GeneratedAt)
}

func TestTaskService(t *testing.T) {
	taskRepo := newStubTaskRepo()
	svc := NewTaskService(taskRepo)

	now := time.Now()
	require.NoError(t, taskRepo.Create(context.Background(), &item.IngestTask{
		Id: "task-1", OwnerId: "owner-1", State: item.TaskStateExtracting,
		RetryCount: 1, CreatedAt: now, UpdatedAt: now,
	}))

	resp, err := svc.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, item.TaskStateExtracting, resp.State)
	assert.Equal(t, 1, resp.RetryCount)

	_, err = svc.GetTask(context.Background(), "missing")
	assert.True(t, xerr.Is(err, xerr.NotFound))
}

func TestTaskStateObserverPublishesAndCloses(t *testing.T) {
	hub := ws.NewHub()
	observer := NewTaskStateObserver(hub)

	c := ws.NewClient("task-1", nil)
	hub.Register(c)

	observer("task-1", item.TaskStateEmbedding, "")
	assert.Equal(t, 1, hub.SubscriberCount("task-1"))

	observer("task-1", item.TaskStateIndexed, "")
	assert.Zero(t, hub.SubscriberCount("task-1"))
}
