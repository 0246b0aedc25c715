// Package pipeline 定义了文档索引的核心流程：提取文本、识别语言、分块、向量化并写入索引。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"duoread-go/internal/config"
	"duoread-go/internal/model"
	"duoread-go/internal/repository"
	"duoread-go/pkg/embedding"
	"duoread-go/pkg/es"
	"duoread-go/pkg/extractor"
	"duoread-go/pkg/log"
	"duoread-go/pkg/storage"

	"golang.org/x/sync/errgroup"
)

// Processor 封装了文档索引的所有依赖和逻辑。
// 调用方负责先把文档从 pending 置为 processing，Processor 负责最终的 ready/failed。
type Processor struct {
	docRepo         repository.DocumentRepository
	chunkRepo       repository.ChunkRepository
	blobStore       storage.BlobStore
	extractor       extractor.Extractor
	detector        LanguageDetector
	chunker         *Chunker
	embeddingClient embedding.Client
	vectorStore     es.VectorStore
	concurrency     int
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	blobStore storage.BlobStore,
	textExtractor extractor.Extractor,
	detector LanguageDetector,
	chunker *Chunker,
	embeddingClient embedding.Client,
	vectorStore es.VectorStore,
	embeddingCfg config.EmbeddingConfig,
) *Processor {
	concurrency := embeddingCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Processor{
		docRepo:         docRepo,
		chunkRepo:       chunkRepo,
		blobStore:       blobStore,
		extractor:       textExtractor,
		detector:        detector,
		chunker:         chunker,
		embeddingClient: embeddingClient,
		vectorStore:     vectorStore,
		concurrency:     concurrency,
	}
}

// IndexBlob 处理通过上传得到的文档：从对象存储读取原始文件后执行完整流程。
func (p *Processor) IndexBlob(ctx context.Context, documentID string) bool {
	log.Infof("[Processor] 开始处理文档, DocumentID: %s", documentID)

	blob, err := p.docRepo.FindBlob(ctx, documentID)
	if err != nil {
		p.fail(documentID, fmt.Errorf("读取文件记录失败: %w", err))
		return false
	}
	content, err := p.blobStore.Get(ctx, blob.StorageKey)
	if err != nil {
		p.fail(documentID, fmt.Errorf("%w: %v", ErrExtraction, err))
		return false
	}
	log.Infof("[Processor] 步骤1: 文件下载成功, DocumentID: %s, 大小: %d 字节", documentID, len(content))
	return p.run(ctx, documentID, bytes.NewReader(content), blob.FileName)
}

// IndexFromPath 从本地路径读取源文件并执行完整流程，用于演示文档导入和重建索引。
func (p *Processor) IndexFromPath(ctx context.Context, documentID, path string) bool {
	log.Infof("[Processor] 开始处理本地文件, DocumentID: %s, Path: %s", documentID, path)

	f, err := os.Open(path)
	if err != nil {
		p.fail(documentID, fmt.Errorf("%w: %v", ErrExtraction, err))
		return false
	}
	defer f.Close()
	return p.run(ctx, documentID, f, filepath.Base(path))
}

func (p *Processor) run(ctx context.Context, documentID string, r io.Reader, fileName string) bool {
	text, err := p.extractor.ExtractText(ctx, r, fileName)
	if err != nil {
		p.fail(documentID, fmt.Errorf("%w: %v", ErrExtraction, err))
		return false
	}
	log.Infof("[Processor] 步骤2: 文本提取成功, DocumentID: %s, 内容长度: %d 字符", documentID, utf8.RuneCountInString(text))

	language, err := p.detector.Detect(text)
	if err != nil {
		log.Warnw("[Processor] 语言检测失败，使用默认语言", "documentID", documentID, "language", language, "error", err)
	}
	if err := p.docRepo.UpdateLanguage(ctx, documentID, language); err != nil {
		p.fail(documentID, fmt.Errorf("更新文档语言失败: %w", err))
		return false
	}

	chunks := p.chunker.Chunk(text)
	log.Infof("[Processor] 步骤3: 文本分块完成, DocumentID: %s, 共 %d 个分块, 语言: %s", documentID, len(chunks), language)

	return p.EmbedAndStore(ctx, documentID, chunks)
}

// EmbedAndStore 对全部分块向量化并写入索引，成功后把文档置为 ready。
// 任意一个分块失败都会清理已写入的数据并把文档置为 failed。错误只记录日志，不向上返回。
func (p *Processor) EmbedAndStore(ctx context.Context, documentID string, chunks []Chunk) bool {
	start := time.Now()
	if err := p.embedAndStore(ctx, documentID, chunks); err != nil {
		p.cleanup(documentID)
		p.fail(documentID, err)
		return false
	}

	ok, err := p.docRepo.TransitionStatus(ctx, documentID, model.StatusProcessing, model.StatusReady, map[string]interface{}{
		"chunk_count":    len(chunks),
		"failure_reason": "",
	})
	if err != nil {
		// 状态未能写入 ready：改为 failed，成功后再清理已写入的数据
		if p.fail(documentID, fmt.Errorf("更新文档状态为 ready 失败: %w", err)) {
			p.cleanup(documentID)
		}
		return false
	}
	if !ok {
		log.Warnw("[Processor] 文档不在 processing 状态，放弃结果", "documentID", documentID)
		return false
	}

	log.Infow("[Processor] 文档处理成功完成",
		"documentID", documentID,
		"chunks", len(chunks),
		"latency", time.Since(start).String(),
	)
	return true
}

func (p *Processor) embedAndStore(ctx context.Context, documentID string, chunks []Chunk) error {
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			vec, err := p.embeddingClient.CreateEmbedding(gctx, c.Text)
			if err != nil {
				return fmt.Errorf("%w: chunk %d: %v", ErrEmbedding, c.Index, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Infof("[Processor] 步骤4: 向量化完成, DocumentID: %s, 分块数: %d", documentID, len(chunks))

	modelVersion := p.embeddingClient.ModelVersion()
	rows := make([]*model.DocumentChunk, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, &model.DocumentChunk{
			DocumentID:   documentID,
			ChunkIndex:   c.Index,
			StartOffset:  c.StartOffset,
			EndOffset:    c.EndOffset,
			TextContent:  c.Text,
			ModelVersion: modelVersion,
		})
	}
	if err := p.chunkRepo.ReplaceChunks(ctx, documentID, rows); err != nil {
		return fmt.Errorf("批量保存文本分块失败: %w", err)
	}

	// 重新索引前清掉旧向量，保证每个分块至多一个向量
	if err := p.vectorStore.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexing, err)
	}
	for i, c := range chunks {
		doc := model.EsDocument{
			VectorID:     model.VectorID(documentID, c.Index),
			DocumentID:   documentID,
			ChunkIndex:   c.Index,
			TextContent:  c.Text,
			Vector:       vectors[i],
			ModelVersion: modelVersion,
		}
		if err := p.vectorStore.IndexChunk(ctx, doc); err != nil {
			return fmt.Errorf("%w: chunk %d: %v", ErrIndexing, c.Index, err)
		}
	}
	if len(chunks) > 0 {
		if err := p.vectorStore.Refresh(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrIndexing, err)
		}
	}
	return nil
}

// cleanup 尽力删除部分写入的分块与向量。
func (p *Processor) cleanup(documentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.vectorStore.DeleteDocument(ctx, documentID); err != nil {
		log.Warnw("[Processor] 清理部分向量失败", "documentID", documentID, "error", err)
	}
	if err := p.chunkRepo.DeleteByDocument(ctx, documentID); err != nil {
		log.Warnw("[Processor] 清理部分分块失败", "documentID", documentID, "error", err)
	}
}

// fail 把文档置为 failed 并记录原因，返回状态是否确实被更新。使用独立上下文，处理超时后仍能写入状态。
func (p *Processor) fail(documentID string, cause error) bool {
	if errors.Is(cause, context.DeadlineExceeded) {
		cause = fmt.Errorf("处理超时: %w", cause)
	}
	log.Errorw("[Processor] 文档处理失败", "documentID", documentID, "error", cause)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ok, err := p.docRepo.TransitionStatus(ctx, documentID, model.StatusProcessing, model.StatusFailed, map[string]interface{}{
		"failure_reason": cause.Error(),
	})
	if err != nil {
		log.Errorw("[Processor] 更新文档状态为 failed 失败", "documentID", documentID, "error", err)
		return false
	}
	if !ok {
		log.Warnw("[Processor] 文档不在 processing 状态，未标记 failed", "documentID", documentID)
	}
	return ok
}
