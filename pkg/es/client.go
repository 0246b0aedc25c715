// Package es 提供了基于 Elasticsearch dense_vector 的分块向量存储。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"duoread-go/internal/config"
	"duoread-go/internal/model"
	"duoread-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// VectorStore 定义了分块向量的写入、检索与清理操作。
type VectorStore interface {
	EnsureIndex(ctx context.Context) error
	IndexChunk(ctx context.Context, doc model.EsDocument) error
	Refresh(ctx context.Context) error
	Search(ctx context.Context, documentID string, vector []float32, k int) ([]model.RetrievedChunk, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

type vectorStore struct {
	client        *elasticsearch.Client
	index         string
	dims          int
	numCandidates int
}

// NewClient 根据配置创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
	}
	if esCfg.InsecureSkipVerify {
		cfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return elasticsearch.NewClient(cfg)
}

// NewVectorStore 创建一个使用指定索引的 VectorStore。
// numCandidates 为 kNN 检索的候选数下限。
func NewVectorStore(client *elasticsearch.Client, index string, dims, numCandidates int) VectorStore {
	return &vectorStore{client: client, index: index, dims: dims, numCandidates: numCandidates}
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它。
func (s *vectorStore) EnsureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", s.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, s.dims)

	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithBody(strings.NewReader(mapping)),
		s.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", s.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("创建索引时 Elasticsearch 返回错误: %s", res.String())
	}

	log.Infof("索引 '%s' 创建成功", s.index)
	return nil
}

// IndexChunk 写入单个分块向量。文档 ID 由 documentId 与 chunkIndex 决定，重复写入会覆盖。
func (s *vectorStore) IndexChunk(ctx context.Context, doc model.EsDocument) error {
	if doc.VectorID == "" {
		doc.VectorID = model.VectorID(doc.DocumentID, doc.ChunkIndex)
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: doc.VectorID,
		Body:       bytes.NewReader(docBytes),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("索引文档 %s 到 Elasticsearch 出错: %s", doc.VectorID, res.String())
	}
	return nil
}

// Refresh 使已写入的向量对检索可见。
func (s *vectorStore) Refresh(ctx context.Context) error {
	res, err := s.client.Indices.Refresh(
		s.client.Indices.Refresh.WithIndex(s.index),
		s.client.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("刷新索引失败: %s", res.String())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64 `json:"_score"`
			Source struct {
				ChunkIndex  int    `json:"chunk_index"`
				TextContent string `json:"text_content"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search 在单个文档范围内执行 kNN 检索，结果按 Elasticsearch 返回顺序给出。
func (s *vectorStore) Search(ctx context.Context, documentID string, vector []float32, k int) ([]model.RetrievedChunk, error) {
	numCandidates := k * 10
	if numCandidates < s.numCandidates {
		numCandidates = s.numCandidates
	}
	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
			"filter": map[string]interface{}{
				"term": map[string]interface{}{"document_id": documentID},
			},
		},
		"size":    k,
		"_source": []string{"chunk_index", "text_content"},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode knn query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("knn search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("knn search returned error: %s %s", res.Status(), string(body))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]model.RetrievedChunk, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		results = append(results, model.RetrievedChunk{
			ChunkIndex: hit.Source.ChunkIndex,
			Text:       hit.Source.TextContent,
			Score:      hit.Score,
		})
	}
	return results, nil
}

// DeleteDocument 删除某个文档的全部分块向量。
func (s *vectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	body := fmt.Sprintf(`{"query":{"term":{"document_id":%q}}}`, documentID)
	res, err := s.client.DeleteByQuery(
		[]string{s.index},
		strings.NewReader(body),
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("删除文档 %s 的向量失败: %s", documentID, res.String())
	}
	return nil
}
