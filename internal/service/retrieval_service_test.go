package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"vectrieve-go/internal/apperr"
	"vectrieve-go/internal/config"
	"vectrieve-go/internal/model"
	"vectrieve-go/internal/vectorstore"
)

// fakeEmbedder 返回固定向量，可注入若干次失败。
type fakeEmbedder struct {
	mu       sync.Mutex
	vector   []float32
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
	return e.vector, nil
}

func seededStore(t *testing.T) *vectorstore.MemoryStore {
	t.Helper()
	store := vectorstore.NewMemoryStore()
	err := store.Upsert(context.Background(), []model.IndexEntry{
		{VectorID: "f_0", FileName: "f.txt", Seq: 0, TextContent: "与查询相近的内容", Vector: []float32{1, 0}},
		{VectorID: "f_1", FileName: "f.txt", Seq: 1, TextContent: "与查询无关的内容", Vector: []float32{-1, 0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestRetrieveEmptyQuery(t *testing.T) {
	svc := NewRetrievalService(&fakeEmbedder{vector: []float32{1, 0}}, vectorstore.NewMemoryStore(), config.RetrievalConfig{TopK: 5})

	_, err := svc.Retrieve(context.Background(), "   ", 0)
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("空查询应返回 ErrInvalidInput, got %v", err)
	}
}

func TestRetrieveEmptyIndex(t *testing.T) {
	svc := NewRetrievalService(&fakeEmbedder{vector: []float32{1, 0}}, vectorstore.NewMemoryStore(), config.RetrievalConfig{TopK: 5})

	results, err := svc.Retrieve(context.Background(), "任意问题", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("空索引检索应返回空序列, got %d", len(results))
	}
}

func TestRetrieveMinScoreFloor(t *testing.T) {
	store := seededStore(t)
	// 反向向量的归一化得分为 0，正向为 1；下限 0.5 应只留下正向那条
	svc := NewRetrievalService(&fakeEmbedder{vector: []float32{1, 0}}, store, config.RetrievalConfig{TopK: 5, MinScore: 0.5})

	results, err := svc.Retrieve(context.Background(), "问题", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("期望下限过滤后剩 1 条, got %d", len(results))
	}
	if results[0].Content != "与查询相近的内容" {
		t.Errorf("留下的应是高分条目, got %q", results[0].Content)
	}

	// 下限高到全部过滤时返回空序列而不是错误
	strict := NewRetrievalService(&fakeEmbedder{vector: []float32{1, 0}}, store, config.RetrievalConfig{TopK: 5, MinScore: 1.1})
	results, err = strict.Retrieve(context.Background(), "问题", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("全部低于下限时应返回空序列, got %d", len(results))
	}
}

func TestRetrieveRetriesEmbeddingOnce(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{1, 0}, failures: 1}
	svc := NewRetrievalService(embedder, seededStore(t), config.RetrievalConfig{TopK: 5})

	if _, err := svc.Retrieve(context.Background(), "问题", 0); err != nil {
		t.Fatalf("单次失败应被重试吸收, got %v", err)
	}
	if embedder.calls != 2 {
		t.Errorf("期望恰好调用 2 次, got %d", embedder.calls)
	}
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{1, 0}, failures: 1 << 30}
	svc := NewRetrievalService(embedder, seededStore(t), config.RetrievalConfig{TopK: 5})

	_, err := svc.Retrieve(context.Background(), "问题", 0)
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("向量化持续失败应归类为 ErrUpstreamUnavailable, got %v", err)
	}
}
