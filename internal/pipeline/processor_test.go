package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"vectrieve-go/internal/apperr"
	"vectrieve-go/internal/model"
	"vectrieve-go/internal/splitter"
	"vectrieve-go/internal/vectorstore"
)

type fakeDocRepo struct {
	mu      sync.Mutex
	docs    map[string]model.Document
	findErr error // 注入 FindByFileName 的故障
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{docs: make(map[string]model.Document)}
}

func (r *fakeDocRepo) Create(record *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[record.FileName]; ok {
		return errors.New("duplicate key")
	}
	r.docs[record.FileName] = *record
	return nil
}

func (r *fakeDocRepo) FindByFileName(fileName string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	doc, ok := r.docs[fileName]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &doc, nil
}

func (r *fakeDocRepo) FindAll() ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.docs))
	for name := range r.docs {
		names = append(names, name)
	}
	sort.Strings(names)
	records := make([]model.Document, 0, len(names))
	for _, name := range names {
		records = append(records, r.docs[name])
	}
	return records, nil
}

func (r *fakeDocRepo) MarkIndexed(fileName string, chunkCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[fileName]
	if !ok {
		return apperr.ErrNotFound
	}
	doc.Status = model.StatusIndexed
	doc.ChunkCount = chunkCount
	r.docs[fileName] = doc
	return nil
}

func (r *fakeDocRepo) Delete(fileName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, fileName)
	return nil
}

// fakeEmbedder 返回由文本长度决定的确定性向量，可注入若干次失败。
type fakeEmbedder struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (e *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.failures > 0 {
		e.failures--
		return nil, fmt.Errorf("embedding api returned non-200 status: 503")
	}
	return []float32{float32(len(text)), 1}, nil
}

func newTestProcessor(embedder *fakeEmbedder) (*Processor, *fakeDocRepo, *vectorstore.MemoryStore) {
	repo := newFakeDocRepo()
	store := vectorstore.NewMemoryStore()
	p := NewProcessor(splitter.New(100, 10), nil, embedder, store, nil, repo, "test-embed-v1")
	return p, repo, store
}

func TestIngestAndListFiles(t *testing.T) {
	p, _, store := newTestProcessor(&fakeEmbedder{})
	ctx := context.Background()

	result, err := p.Ingest(ctx, "notes.txt", []byte("第一段内容。\n\n第二段内容。"))
	if err != nil {
		t.Fatal(err)
	}
	if result.ChunksIndexed == 0 {
		t.Fatal("摄取成功后分块数不应为 0")
	}

	count, _ := store.Count(ctx)
	if count != int64(result.ChunksIndexed) {
		t.Errorf("索引条目数 %d 与返回的分块数 %d 不一致", count, result.ChunksIndexed)
	}

	files, err := p.ListFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0] != "notes.txt" {
		t.Errorf("文件列表应只包含 notes.txt, got %v", files)
	}
}

func TestIngestDuplicateRejected(t *testing.T) {
	p, _, store := newTestProcessor(&fakeEmbedder{})
	ctx := context.Background()

	if _, err := p.Ingest(ctx, "a.txt", []byte("hello world")); err != nil {
		t.Fatal(err)
	}
	before, _ := store.Count(ctx)

	_, err := p.Ingest(ctx, "a.txt", []byte("different content"))
	if !errors.Is(err, apperr.ErrDuplicateFile) {
		t.Fatalf("重复文件名应返回 ErrDuplicateFile, got %v", err)
	}

	after, _ := store.Count(ctx)
	if after != before {
		t.Errorf("失败的重复摄取不应改变索引: before=%d after=%d", before, after)
	}
}

func TestIngestEmbedFailureRollsBack(t *testing.T) {
	// 重试一次后仍失败：每次调用都失败
	embedder := &fakeEmbedder{failures: 1 << 30}
	p, _, store := newTestProcessor(embedder)
	ctx := context.Background()

	_, err := p.Ingest(ctx, "a.txt", []byte("some content to embed"))
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("向量化失败应归类为 ErrUpstreamUnavailable, got %v", err)
	}

	count, _ := store.Count(ctx)
	if count != 0 {
		t.Errorf("失败后索引应回到摄取前的状态, got %d 条", count)
	}
	files, _ := p.ListFiles()
	if len(files) != 0 {
		t.Errorf("失败的文件不应出现在注册表中, got %v", files)
	}
}

func TestIngestRetriesEmbeddingOnce(t *testing.T) {
	// 首次调用失败，重试成功
	embedder := &fakeEmbedder{failures: 1}
	p, _, _ := newTestProcessor(embedder)

	result, err := p.Ingest(context.Background(), "a.txt", []byte("short text"))
	if err != nil {
		t.Fatalf("单次失败应被重试吸收, got %v", err)
	}
	if result.ChunksIndexed != 1 {
		t.Errorf("期望 1 个分块, got %d", result.ChunksIndexed)
	}
	if embedder.calls != 2 {
		t.Errorf("期望恰好调用 2 次（失败 + 重试）, got %d", embedder.calls)
	}
}

func TestIngestBinaryRejected(t *testing.T) {
	p, _, _ := newTestProcessor(&fakeEmbedder{})

	_, err := p.Ingest(context.Background(), "blob.bin", []byte{0xff, 0xfe, 0x00, 0x01})
	if !errors.Is(err, apperr.ErrUnsupportedFormat) {
		t.Fatalf("二进制内容应返回 ErrUnsupportedFormat, got %v", err)
	}
}

func TestIngestInvalidInput(t *testing.T) {
	p, _, _ := newTestProcessor(&fakeEmbedder{})

	if _, err := p.Ingest(context.Background(), "", []byte("x")); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("空文件名应返回 ErrInvalidInput, got %v", err)
	}
	if _, err := p.Ingest(context.Background(), "a.txt", nil); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("空内容应返回 ErrInvalidInput, got %v", err)
	}
}

func TestIngestBlankContentRejected(t *testing.T) {
	// 纯空白内容切不出任何分块：拒绝摄取，文件不得出现在列表中
	p, _, store := newTestProcessor(&fakeEmbedder{})
	ctx := context.Background()

	_, err := p.Ingest(ctx, "blank.txt", []byte("   \n\t\n  "))
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("零分块的文件应返回 ErrInvalidInput, got %v", err)
	}

	count, _ := store.Count(ctx)
	if count != 0 {
		t.Errorf("拒绝的文件不应写入索引, got %d 条", count)
	}
	files, _ := p.ListFiles()
	if len(files) != 0 {
		t.Errorf("拒绝的文件不应出现在文件列表中, got %v", files)
	}
}

func TestIngestRegistryLookupFailure(t *testing.T) {
	// 注册表查询出错时不能当作文件不存在继续摄取
	p, repo, store := newTestProcessor(&fakeEmbedder{})
	repo.findErr = errors.New("connection refused")

	_, err := p.Ingest(context.Background(), "a.txt", []byte("some content"))
	if err == nil {
		t.Fatal("注册表查询失败时摄取应报错")
	}
	if errors.Is(err, apperr.ErrDuplicateFile) {
		t.Fatalf("查询故障不应被判定为重复文件, got %v", err)
	}

	count, _ := store.Count(context.Background())
	if count != 0 {
		t.Errorf("摄取被拒绝后索引应保持为空, got %d 条", count)
	}
}

func TestDeleteRemovesFileCompletely(t *testing.T) {
	p, _, store := newTestProcessor(&fakeEmbedder{})
	ctx := context.Background()

	_, err := p.Ingest(ctx, "a.txt", []byte("第一段。\n\n第二段。"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Ingest(ctx, "b.txt", []byte("另一份文件。")); err != nil {
		t.Fatal(err)
	}

	if err := p.Delete(ctx, "a.txt"); err != nil {
		t.Fatal(err)
	}

	files, _ := p.ListFiles()
	if len(files) != 1 || files[0] != "b.txt" {
		t.Errorf("删除 a.txt 后列表应只剩 b.txt, got %v", files)
	}
	results, _ := store.Search(ctx, []float32{1, 1}, 10)
	for _, r := range results {
		if r.Entry.FileName == "a.txt" {
			t.Errorf("a.txt 的索引条目应被全部删除")
		}
	}

	// 删除后可以重新摄取同名文件
	if _, err := p.Ingest(ctx, "a.txt", []byte("新内容。")); err != nil {
		t.Errorf("删除后重新摄取应成功, got %v", err)
	}
}

func TestDeleteUnknownFile(t *testing.T) {
	p, _, _ := newTestProcessor(&fakeEmbedder{})

	err := p.Delete(context.Background(), "nope.txt")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("删除未登记的文件应返回 ErrNotFound, got %v", err)
	}
}
