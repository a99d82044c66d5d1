package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"vectrieve-go/internal/model"
	"vectrieve-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ESStore 是基于 Elasticsearch dense_vector kNN 的向量索引实现。
// 索引 mapping 以 cosine 相似度建立，因此 _score 已经是 (1+cos)/2，
// 天然落在 [0,1]，无需二次换算。
type ESStore struct {
	client    *elasticsearch.Client
	indexName string
}

// NewESStore 创建一个 ESStore。索引本身由 pkg/es 在启动时建立。
func NewESStore(client *elasticsearch.Client, indexName string) *ESStore {
	return &ESStore{client: client, indexName: indexName}
}

// Upsert 将条目逐个写入 Elasticsearch，DocumentID 取 VectorID，重复写入即覆盖。
// Refresh 置为 true，写入后立即可检索。
func (s *ESStore) Upsert(ctx context.Context, entries []model.IndexEntry) error {
	for _, entry := range entries {
		docBytes, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		req := esapi.IndexRequest{
			Index:      s.indexName,
			DocumentID: entry.VectorID,
			Body:       bytes.NewReader(docBytes),
			Refresh:    "true",
		}

		res, err := req.Do(ctx, s.client)
		if err != nil {
			return fmt.Errorf("索引分块 %s 失败: %w", entry.VectorID, err)
		}
		if res.IsError() {
			log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
			res.Body.Close()
			return errors.New("failed to index document")
		}
		res.Body.Close()
	}
	return nil
}

// Search 执行 kNN 检索。排序子句固定为 _score 降序、seq 升序、filename 升序，
// 与内存实现的确定性口径保持一致。
func (s *ESStore) Search(ctx context.Context, queryVector []float32, k int) ([]ScoredEntry, error) {
	if k <= 0 {
		return []ScoredEntry{}, nil
	}

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              k,
			"num_candidates": k * 10,
		},
		"sort": []interface{}{
			map[string]interface{}{"_score": map[string]interface{}{"order": "desc"}},
			map[string]interface{}{"seq": map[string]interface{}{"order": "asc"}},
			map[string]interface{}{"filename": map[string]interface{}{"order": "asc"}},
		},
		"size": k,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
		s.client.Search.WithTrackScores(true),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[ESStore] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.String())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.IndexEntry `json:"_source"`
				Score  float64          `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]ScoredEntry, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		score := hit.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		results = append(results, ScoredEntry{Entry: hit.Source, Score: score})
	}
	return results, nil
}

// DeleteByFileName 通过 delete_by_query 删除该文件的全部分块，并立即刷新。
func (s *ESStore) DeleteByFileName(ctx context.Context, fileName string) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"filename": fileName},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return fmt.Errorf("failed to encode delete query: %w", err)
	}

	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:   []string{s.indexName},
		Body:    &buf,
		Refresh: &refresh,
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("elasticsearch delete_by_query failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[ESStore] 删除文件分块失败, filename: %s, body: %s", fileName, string(bodyBytes))
		return errors.New("failed to delete documents by filename")
	}
	return nil
}

// Count 返回索引中的文档总数。
func (s *ESStore) Count(ctx context.Context) (int64, error) {
	res, err := s.client.Count(
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(s.indexName),
	)
	if err != nil {
		return 0, fmt.Errorf("elasticsearch count failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("elasticsearch count returned an error: %s", res.String())
	}

	var countResp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&countResp); err != nil {
		return 0, fmt.Errorf("failed to decode count response: %w", err)
	}
	return countResp.Count, nil
}
