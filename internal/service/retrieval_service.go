package service

import (
	"context"
	"fmt"
	"sort"

	"duoread-go/internal/config"
	"duoread-go/internal/model"
	"duoread-go/internal/repository"
	"duoread-go/pkg/embedding"
	"duoread-go/pkg/es"
	"duoread-go/pkg/log"
)

// RetrievalService 在单个文档范围内做向量检索。
type RetrievalService interface {
	// Search 返回至多 topK 个分块，按分数降序、分块序号升序排列。
	// 未指定文档、文档不存在或尚未 ready 时返回空结果而不是错误。
	Search(ctx context.Context, query, documentID string, topK int) ([]model.RetrievedChunk, error)
}

type retrievalService struct {
	docRepo         repository.DocumentRepository
	embeddingClient embedding.Client
	vectorStore     es.VectorStore
	cfg             config.RetrievalConfig
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(docRepo repository.DocumentRepository, embeddingClient embedding.Client, vectorStore es.VectorStore, cfg config.RetrievalConfig) RetrievalService {
	return &retrievalService{
		docRepo:         docRepo,
		embeddingClient: embeddingClient,
		vectorStore:     vectorStore,
		cfg:             cfg,
	}
}

func (s *retrievalService) Search(ctx context.Context, query, documentID string, topK int) ([]model.RetrievedChunk, error) {
	if documentID == "" {
		return []model.RetrievedChunk{}, nil
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	if topK <= 0 {
		topK = 5
	}

	doc, err := s.docRepo.FindByID(ctx, documentID)
	if err != nil {
		if repository.IsNotFound(err) {
			return []model.RetrievedChunk{}, nil
		}
		return nil, err
	}
	if doc.Status != model.StatusReady || doc.ChunkCount == 0 {
		log.Debugf("[Retrieval] 文档未就绪，跳过检索, DocumentID: %s, Status: %s", documentID, doc.Status)
		return []model.RetrievedChunk{}, nil
	}

	vector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}
	results, err := s.vectorStore.Search(ctx, documentID, vector, s.candidateCount(doc, topK))
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// candidateCount 决定向 ES 请求的候选数：默认多取一倍，截断前按序号打破分数相同的情况。
// 分块数不超过 num_candidates 的文档直接取全部分块，排序结果与 ES 的取舍无关。
func (s *retrievalService) candidateCount(doc *model.Document, topK int) int {
	k := topK * 2
	if doc.ChunkCount > k && doc.ChunkCount <= s.cfg.NumCandidates {
		k = doc.ChunkCount
	}
	return k
}
