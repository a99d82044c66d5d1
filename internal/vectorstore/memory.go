package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"vectrieve-go/internal/model"
)

// MemoryStore 是基于暴力余弦计算的内存向量索引。
// 用于本地无外部依赖运行与测试，与 ES 实现遵守同一契约。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]model.IndexEntry // vector_id -> entry
}

// NewMemoryStore 创建一个空的内存向量索引。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]model.IndexEntry)}
}

// Upsert 按 VectorID 写入或覆盖条目。
func (s *MemoryStore) Upsert(ctx context.Context, entries []model.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.VectorID] = e
	}
	return nil
}

// Search 暴力遍历全部条目计算余弦相似度。
func (s *MemoryStore) Search(ctx context.Context, queryVector []float32, k int) ([]ScoredEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.entries) == 0 {
		return []ScoredEntry{}, nil
	}

	results := make([]ScoredEntry, 0, len(s.entries))
	for _, e := range s.entries {
		results = append(results, ScoredEntry{
			Entry: e,
			Score: normalizedCosine(queryVector, e.Vector),
		})
	}

	// 得分降序；同分按 (seq, filename) 升序，保证结果确定。
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Entry.Seq != results[j].Entry.Seq {
			return results[i].Entry.Seq < results[j].Entry.Seq
		}
		return results[i].Entry.FileName < results[j].Entry.FileName
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// DeleteByFileName 删除该文件名下的全部条目。持写锁完成，调用方不会观察到部分删除。
func (s *MemoryStore) DeleteByFileName(ctx context.Context, fileName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.FileName == fileName {
			delete(s.entries, id)
		}
	}
	return nil
}

// Count 返回条目总数。
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// normalizedCosine 将余弦相似度从 [-1,1] 映射到 [0,1]，
// 与 Elasticsearch 对 cosine dense_vector 的 _score 口径一致。
func normalizedCosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	for i := n; i < len(a); i++ {
		na += float64(a[i]) * float64(a[i])
	}
	for i := n; i < len(b); i++ {
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	score := (1 + cos) / 2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
