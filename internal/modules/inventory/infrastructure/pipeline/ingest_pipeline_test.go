package pipeline

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"Nexus/internal/modules/inventory/domain/item"
	"Nexus/internal/modules/inventory/domain/repository"
	"Nexus/internal/modules/inventory/infrastructure/embedding"
	"Nexus/internal/modules/inventory/infrastructure/extraction"
	"Nexus/internal/modules/inventory/infrastructure/vectordb"
	"Nexus/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 最小合法 PNG 头，确保内容类型探测通过
var pngImage = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

type fakeItemRepo struct {
	mu      sync.Mutex
	items   map[string]item.Item
	saveErr error
}

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{items: map[string]item.Item{}}
}

func (r *fakeItemRepo) Create(ctx context.Context, it *item.Item) error { return r.Save(ctx, it) }

func (r *fakeItemRepo) Save(_ context.Context, it *item.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.items[it.Id] = *it
	return nil
}

func (r *fakeItemRepo) GetByID(_ context.Context, id string) (*item.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	cp := it
	return &cp, nil
}

func (r *fakeItemRepo) Delete(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return 0, nil
	}
	delete(r.items, id)
	return 1, nil
}

func (r *fakeItemRepo) List(_ context.Context, filter repository.ItemFilter) ([]item.Item, error) {
	all, _ := r.ListAll(context.Background())
	out := make([]item.Item, 0, len(all))
	for _, it := range all {
		if filter.Category != "" && it.Category != filter.Category {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (r *fakeItemRepo) ListAll(_ context.Context) ([]item.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]item.Item, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (r *fakeItemRepo) ListIDsByCategory(_ context.Context, category string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0)
	for id, it := range r.items {
		if it.Category == category {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *fakeItemRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.items)), nil
}

type fakeTaskRepo struct {
	mu          sync.Mutex
	tasks       map[string]*item.IngestTask
	transitions []string
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: map[string]*item.IngestTask{}}
}

func (r *fakeTaskRepo) Create(_ context.Context, t *item.IngestTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tasks[t.Id] = &cp
	return nil
}

func (r *fakeTaskRepo) GetByID(_ context.Context, id string) (*item.IngestTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTaskRepo) UpdateState(_ context.Context, id string, state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.State = state
	}
	r.transitions = append(r.transitions, state)
	return nil
}

func (r *fakeTaskRepo) TryMarkProcessing(_ context.Context, id string, _ time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.State != item.TaskStateReceived {
		return false, nil
	}
	t.State = item.TaskStateEmbedding
	return true, nil
}

func (r *fakeTaskRepo) MarkIndexed(_ context.Context, id string, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.State = item.TaskStateIndexed
		t.ItemId = itemID
	}
	r.transitions = append(r.transitions, item.TaskStateIndexed)
	return nil
}

func (r *fakeTaskRepo) MarkFailed(_ context.Context, id string, errCode int, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.State = item.TaskStateFailed
		t.ErrorCode = errCode
		t.ErrorMsg = errMsg
	}
	r.transitions = append(r.transitions, item.TaskStateFailed)
	return nil
}

func (r *fakeTaskRepo) AddRetry(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.RetryCount++
	}
	return nil
}

func (r *fakeTaskRepo) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.transitions))
	copy(out, r.transitions)
	return out
}

// flakyProvider 前 failTimes 次调用返回 ProviderUnavailable，之后委托真实实现
type flakyProvider struct {
	inner     repository.EmbeddingProvider
	mu        sync.Mutex
	failTimes int
	calls     int
}

func (f *flakyProvider) EmbedImage(ctx context.Context, image []byte, hint string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failTimes
	f.mu.Unlock()
	if fail {
		return nil, xerr.ErrProviderUnavailable
	}
	return f.inner.EmbedImage(ctx, image, hint)
}

func (f *flakyProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return f.inner.EmbedText(ctx, text)
}

func (f *flakyProvider) Dimension() int { return f.inner.Dimension() }

// failingIndex Insert 恒失败，其余委托内层索引
type failingIndex struct {
	repository.VectorIndex
	insertErr error
}

func (f *failingIndex) Insert(ctx context.Context, id string, vec []float32) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.VectorIndex.Insert(ctx, id, vec)
}

type ingestFixture struct {
	itemRepo *fakeItemRepo
	taskRepo *fakeTaskRepo
	index    repository.VectorIndex
	pipeline *IngestPipeline
}

func newIngestFixture(t *testing.T, provider repository.EmbeddingProvider, index repository.VectorIndex, retryTimes int) *ingestFixture {
	t.Helper()
	itemRepo := newFakeItemRepo()
	taskRepo := newFakeTaskRepo()
	if provider == nil {
		adapter, err := embedding.NewProviderAdapter(embedding.NewMockEmbedder(8), 8, 1<<20)
		require.NoError(t, err)
		provider = adapter
	}
	if index == nil {
		idx, err := vectordb.NewMemoryIndex(8, itemRepo)
		require.NoError(t, err)
		index = idx
	}
	p, err := NewIngestPipeline(provider, extraction.NewMockExtractor(), itemRepo, taskRepo, index, retryTimes, nil)
	require.NoError(t, err)
	return &ingestFixture{itemRepo: itemRepo, taskRepo: taskRepo, index: index, pipeline: p}
}

func newTask(t *testing.T, repo *fakeTaskRepo, id string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, repo.Create(context.Background(), &item.IngestTask{
		Id:        id,
		OwnerId:   "owner-1",
		State:     item.TaskStateReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func TestIngestPipelineSuccess(t *testing.T) {
	fx := newIngestFixture(t, nil, nil, 3)
	newTask(t, fx.taskRepo, "task-1")

	res, err := fx.pipeline.Ingest(context.Background(), &IngestRequest{
		TaskID:   "task-1",
		OwnerID:  "owner-1",
		Image:    pngImage,
		TextHint: "folding shovel",
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, item.TaskStateIndexed, res.State)
	assert.NotEmpty(t, res.ItemID)
	assert.Zero(t, res.ErrCode)

	it, err := fx.itemRepo.GetByID(context.Background(), res.ItemID)
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, "folding shovel", it.Name)
	assert.NotEmpty(t, it.Category)
	assert.Len(t, it.Embedding(), 8)

	n, err := fx.index.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, err := fx.taskRepo.GetByID(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, item.TaskStateIndexed, task.State)
	assert.Equal(t, res.ItemID, task.ItemId)

	// 状态必须按序演进到终态
	assert.Equal(t, []string{
		item.TaskStateEmbedding,
		item.TaskStateExtracting,
		item.TaskStatePersisting,
		item.TaskStateIndexed,
	}, fx.taskRepo.states())
}

func TestIngestPipelineEmptyImage(t *testing.T) {
	fx := newIngestFixture(t, nil, nil, 3)
	newTask(t, fx.taskRepo, "task-2")

	res, err := fx.pipeline.Ingest(context.Background(), &IngestRequest{
		TaskID: "task-2",
		Image:  nil,
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, item.TaskStateFailed, res.State)
	assert.Equal(t, xerr.CodeInvalidInput, res.ErrCode)
	assert.Empty(t, res.ItemID)

	count, _ := fx.itemRepo.Count(context.Background())
	assert.Zero(t, count)

	task, _ := fx.taskRepo.GetByID(context.Background(), "task-2")
	assert.Equal(t, item.TaskStateFailed, task.State)
	assert.Equal(t, xerr.CodeInvalidInput, task.ErrorCode)
}

func TestIngestPipelineRetriesProvider(t *testing.T) {
	adapter, err := embedding.NewProviderAdapter(embedding.NewMockEmbedder(8), 8, 1<<20)
	require.NoError(t, err)
	provider := &flakyProvider{inner: adapter, failTimes: 2}

	fx := newIngestFixture(t, provider, nil, 3)
	fx.pipeline.baseDelay = time.Millisecond
	newTask(t, fx.taskRepo, "task-3")

	res, err := fx.pipeline.Ingest(context.Background(), &IngestRequest{
		TaskID: "task-3",
		Image:  pngImage,
	})
	require.NoError(t, err)

	assert.Equal(t, item.TaskStateIndexed, res.State)
	assert.Equal(t, 2, res.RetryCount)

	task, _ := fx.taskRepo.GetByID(context.Background(), "task-3")
	assert.Equal(t, 2, task.RetryCount)
}

func TestIngestPipelineProviderExhausted(t *testing.T) {
	adapter, err := embedding.NewProviderAdapter(embedding.NewMockEmbedder(8), 8, 1<<20)
	require.NoError(t, err)
	provider := &flakyProvider{inner: adapter, failTimes: 100}

	fx := newIngestFixture(t, provider, nil, 1)
	fx.pipeline.baseDelay = time.Millisecond
	newTask(t, fx.taskRepo, "task-4")

	res, err := fx.pipeline.Ingest(context.Background(), &IngestRequest{
		TaskID: "task-4",
		Image:  pngImage,
	})
	require.NoError(t, err)

	assert.Equal(t, item.TaskStateFailed, res.State)
	assert.Equal(t, xerr.CodeProviderUnavailable, res.ErrCode)

	count, _ := fx.itemRepo.Count(context.Background())
	assert.Zero(t, count)
}

func TestIngestPipelineIndexFailureRollsBackNewItem(t *testing.T) {
	itemRepo := newFakeItemRepo()
	inner, err := vectordb.NewMemoryIndex(8, itemRepo)
	require.NoError(t, err)
	idx := &failingIndex{VectorIndex: inner, insertErr: xerr.ErrServerError}

	fx := newIngestFixture(t, nil, idx, 3)
	newTask(t, fx.taskRepo, "task-5")

	res, err := fx.pipeline.Ingest(context.Background(), &IngestRequest{
		TaskID: "task-5",
		Image:  pngImage,
	})
	require.NoError(t, err)

	assert.Equal(t, item.TaskStateFailed, res.State)
	// 索引写入失败后条目写入被撤销，存储与索引保持对齐
	count, _ := fx.itemRepo.Count(context.Background())
	assert.Zero(t, count)
	n, _ := fx.index.Len(context.Background())
	assert.Zero(t, n)
}

func TestIngestPipelineIndexFailureRestoresPrevious(t *testing.T) {
	itemRepo := newFakeItemRepo()
	inner, err := vectordb.NewMemoryIndex(8, itemRepo)
	require.NoError(t, err)
	idx := &failingIndex{VectorIndex: inner}

	fx := newIngestFixture(t, nil, idx, 3)
	fx.itemRepo = itemRepo // 固定到同一个仓储
	p, err := NewIngestPipeline(fx.pipeline.provider, extraction.NewMockExtractor(), itemRepo, fx.taskRepo, idx, 3, nil)
	require.NoError(t, err)

	// 预置旧版本条目
	old := &item.Item{Id: "item-9", Name: "old kettle", Category: "Tools", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	old.SetEmbedding([]float32{1, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, itemRepo.Save(context.Background(), old))

	idx.insertErr = xerr.ErrServerError
	newTask(t, fx.taskRepo, "task-6")

	res, err := p.Ingest(context.Background(), &IngestRequest{
		TaskID: "task-6",
		ItemID: "item-9",
		Image:  pngImage,
	})
	require.NoError(t, err)

	assert.Equal(t, item.TaskStateFailed, res.State)
	got, err := itemRepo.GetByID(context.Background(), "item-9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "old kettle", got.Name)
}

func TestIngestPipelineOverwriteKeepsCreatedAt(t *testing.T) {
	fx := newIngestFixture(t, nil, nil, 3)

	created := time.Now().Add(-time.Hour).Truncate(time.Second)
	old := &item.Item{Id: "item-1", Name: "old", Category: "Misc", CreatedAt: created, UpdatedAt: created}
	old.SetEmbedding([]float32{1, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, fx.itemRepo.Save(context.Background(), old))

	newTask(t, fx.taskRepo, "task-7")
	res, err := fx.pipeline.Ingest(context.Background(), &IngestRequest{
		TaskID:   "task-7",
		ItemID:   "item-1",
		Image:    pngImage,
		TextHint: "thermos",
	})
	require.NoError(t, err)
	assert.Equal(t, item.TaskStateIndexed, res.State)
	assert.Equal(t, "item-1", res.ItemID)

	got, err := fx.itemRepo.GetByID(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, "thermos", got.Name)
	assert.True(t, got.CreatedAt.Equal(created))
}
