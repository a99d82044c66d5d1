// Package vectorstore 定义了向量索引的访问接口及其实现。
//
// 两个实现共享同一份调用方契约：
//   - Search 结果按归一化相似度降序排列，得分相同的按 (seq, filename) 升序，
//     保证检索结果可复现；
//   - 得分恒落在 [0,1]，1 表示与查询向量完全一致，调用方无需关心底层度量；
//   - k 会被收紧到可用条目数，空索引返回空序列而不是错误；
//   - DeleteByFileName 对调用方表现为原子操作，不会留下可见的部分删除。
package vectorstore

import (
	"context"

	"vectrieve-go/internal/model"
)

// ScoredEntry 是一次相似度检索命中的条目及其归一化得分。
type ScoredEntry struct {
	Entry model.IndexEntry
	Score float64
}

// Store 是向量索引的统一接口。
type Store interface {
	// Upsert 批量写入（或覆盖）索引条目。
	Upsert(ctx context.Context, entries []model.IndexEntry) error

	// Search 返回与查询向量最相似的至多 k 个条目，降序排列。
	Search(ctx context.Context, queryVector []float32, k int) ([]ScoredEntry, error)

	// DeleteByFileName 删除该文件名下的全部条目。
	DeleteByFileName(ctx context.Context, fileName string) error

	// Count 返回索引中的条目总数。
	Count(ctx context.Context) (int64, error)
}
