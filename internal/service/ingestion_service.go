// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"duoread-go/internal/config"
	"duoread-go/internal/model"
	"duoread-go/internal/repository"
	"duoread-go/pkg/extractor"
	"duoread-go/pkg/log"
	"duoread-go/pkg/storage"
	"duoread-go/pkg/tasks"

	"github.com/google/uuid"
)

// DispatchMode 决定 Submit 在返回前是否等待索引完成。
type DispatchMode int

const (
	// DispatchAsync 立即返回，索引在后台工作池中进行。
	DispatchAsync DispatchMode = iota
	// DispatchSync 等待索引结束后返回，用于批量导入等可信路径。
	DispatchSync
)

// SubmitRequest 描述一次文档提交。
type SubmitRequest struct {
	OwnerID     string
	FileName    string
	Title       string
	Description *string
	ContentType string
	Content     []byte
	IsDemo      bool
	Mode        DispatchMode
}

// PathRequest 描述从本地文件导入的一次提交，总是同步执行。
type PathRequest struct {
	OwnerID     string
	Path        string
	Title       string
	Description *string
	IsDemo      bool
}

// SubmitResult 是提交后的文档 ID 与当时的状态。
type SubmitResult struct {
	DocumentID string               `json:"id"`
	Status     model.DocumentStatus `json:"status"`
}

// Indexer 执行单个文档的索引，结果只体现在文档状态上。
type Indexer interface {
	IndexBlob(ctx context.Context, documentID string) bool
	IndexFromPath(ctx context.Context, documentID, path string) bool
}

// TaskRunner 是有界的任务执行器，队列满时立即返回错误。
type TaskRunner interface {
	Submit(task func()) error
}

// TaskPublisher 把索引任务投递到外部队列，由消费者调用 HandleIndexTask。
type TaskPublisher interface {
	PublishIndexTask(ctx context.Context, task tasks.IndexTask) error
}

// IngestionService 接口定义了文档提交、状态查询与索引调度。
type IngestionService interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	SubmitFromPath(ctx context.Context, req PathRequest) (*SubmitResult, error)
	Status(ctx context.Context, documentID, userID string) (*model.Document, error)
	HandleIndexTask(ctx context.Context, task tasks.IndexTask) error
}

type ingestionService struct {
	docRepo   repository.DocumentRepository
	blobStore storage.BlobStore
	indexer   Indexer
	runner    TaskRunner
	publisher TaskPublisher
	cfg       config.IngestionConfig

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewIngestionService 创建一个新的 IngestionService 实例。publisher 为 nil 时所有任务直接进入工作池。
func NewIngestionService(
	docRepo repository.DocumentRepository,
	blobStore storage.BlobStore,
	indexer Indexer,
	runner TaskRunner,
	publisher TaskPublisher,
	cfg config.IngestionConfig,
) IngestionService {
	return &ingestionService{
		docRepo:   docRepo,
		blobStore: blobStore,
		indexer:   indexer,
		runner:    runner,
		publisher: publisher,
		cfg:       cfg,
		inflight:  make(map[string]struct{}),
	}
}

// Submit 校验并持久化文档与原始文件，然后按 Mode 调度索引。
func (s *ingestionService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	doc, err := s.persist(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.Mode == DispatchSync {
		return s.runSync(ctx, doc.ID, "")
	}

	if s.publisher != nil {
		perr := s.publisher.PublishIndexTask(ctx, tasks.IndexTask{DocumentID: doc.ID})
		if perr == nil {
			log.Infof("[Ingestion] 索引任务已发送到 Kafka, DocumentID: %s", doc.ID)
			return &SubmitResult{DocumentID: doc.ID, Status: model.StatusPending}, nil
		}
		log.Warnw("[Ingestion] 发送 Kafka 任务失败，改用本地工作池", "documentID", doc.ID, "error", perr)
	}

	if err := s.schedule(ctx, doc.ID, "", false); err != nil {
		log.Errorw("[Ingestion] 调度索引任务失败", "documentID", doc.ID, "error", err)
		return &SubmitResult{DocumentID: doc.ID, Status: model.StatusFailed}, nil
	}
	return &SubmitResult{DocumentID: doc.ID, Status: model.StatusPending}, nil
}

// SubmitFromPath 读取本地文件并同步完成索引。
func (s *ingestionService) SubmitFromPath(ctx context.Context, req PathRequest) (*SubmitResult, error) {
	content, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取文件失败: %v", ErrInvalidInput, err)
	}
	doc, err := s.persist(ctx, SubmitRequest{
		OwnerID:     req.OwnerID,
		FileName:    filepath.Base(req.Path),
		Title:       req.Title,
		Description: req.Description,
		Content:     content,
		IsDemo:      req.IsDemo,
	})
	if err != nil {
		return nil, err
	}
	return s.runSync(ctx, doc.ID, req.Path)
}

// Status 返回调用者可见的文档，不存在或无权访问时返回 ErrNotFound。
func (s *ingestionService) Status(ctx context.Context, documentID, userID string) (*model.Document, error) {
	doc, err := s.docRepo.FindByID(ctx, documentID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !doc.AccessibleBy(userID) {
		return nil, ErrNotFound
	}
	return doc, nil
}

// HandleIndexTask 处理 Kafka 投递的任务。重复投递与未知文档只记录日志，不重试。
func (s *ingestionService) HandleIndexTask(ctx context.Context, task tasks.IndexTask) error {
	err := s.schedule(ctx, task.DocumentID, task.SourcePath, true)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAlreadyProcessing), errors.Is(err, ErrNotFound):
		log.Warnw("[Ingestion] 忽略索引任务", "documentID", task.DocumentID, "reason", err)
		return nil
	default:
		return err
	}
}

func (s *ingestionService) validate(req SubmitRequest) error {
	if strings.TrimSpace(req.OwnerID) == "" {
		return fmt.Errorf("%w: 缺少所有者", ErrInvalidInput)
	}
	if strings.TrimSpace(req.FileName) == "" {
		return fmt.Errorf("%w: 未提供文件", ErrInvalidInput)
	}
	if len(req.Content) == 0 {
		return fmt.Errorf("%w: 文件内容为空", ErrInvalidInput)
	}
	if s.cfg.MaxFileSize > 0 && int64(len(req.Content)) > s.cfg.MaxFileSize {
		return fmt.Errorf("%w: 文件大小 %d 超过上限 %d", ErrInvalidInput, len(req.Content), s.cfg.MaxFileSize)
	}
	if len(s.cfg.AllowedExtensions) > 0 {
		ext := strings.ToLower(filepath.Ext(req.FileName))
		allowed := false
		for _, e := range s.cfg.AllowedExtensions {
			if strings.EqualFold(e, ext) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: 不支持的文件类型 %q", ErrInvalidInput, ext)
		}
	}
	return nil
}

// persist 先写对象存储再在一个事务中写文档与文件记录；事务失败时删除已上传的对象。
func (s *ingestionService) persist(ctx context.Context, req SubmitRequest) (*model.Document, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	fileName := filepath.Base(req.FileName)
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = extractor.DetectMimeType(fileName)
	}

	id := uuid.NewString()
	key := fmt.Sprintf("documents/%s/%s", id, fileName)
	if err := s.blobStore.Put(ctx, key, req.Content, contentType); err != nil {
		return nil, fmt.Errorf("保存原始文件失败: %w", err)
	}

	doc := &model.Document{
		ID:          id,
		OwnerID:     req.OwnerID,
		Title:       title,
		Description: req.Description,
		IsDemo:      req.IsDemo,
		Status:      model.StatusPending,
	}
	blob := &model.FileBlob{
		FileName:    fileName,
		FileSize:    int64(len(req.Content)),
		ContentType: contentType,
		StorageKey:  key,
	}
	if err := s.docRepo.CreateWithBlob(ctx, doc, blob); err != nil {
		if rerr := s.blobStore.Remove(context.Background(), key); rerr != nil {
			log.Warnw("[Ingestion] 清理孤立对象失败", "key", key, "error", rerr)
		}
		return nil, err
	}
	log.Infow("[Ingestion] 文档已创建", "documentID", id, "ownerID", req.OwnerID, "fileName", fileName, "size", len(req.Content))
	return doc, nil
}

func (s *ingestionService) runSync(ctx context.Context, documentID, sourcePath string) (*SubmitResult, error) {
	if err := s.schedule(ctx, documentID, sourcePath, true); err != nil {
		return nil, err
	}
	doc, err := s.docRepo.FindByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{DocumentID: documentID, Status: doc.Status}, nil
}

// schedule 把索引任务交给工作池。任务内先把 pending 置为 processing，抢占失败则放弃，
// 因此同一文档至多有一次索引在执行。wait 为 true 时等待任务结束或 ctx 取消。
func (s *ingestionService) schedule(ctx context.Context, documentID, sourcePath string, wait bool) error {
	if !s.acquire(documentID) {
		return ErrAlreadyProcessing
	}

	doc, err := s.docRepo.FindByID(ctx, documentID)
	if err != nil {
		s.release(documentID)
		if repository.IsNotFound(err) {
			return ErrNotFound
		}
		return err
	}
	if doc.Status != model.StatusPending {
		s.release(documentID)
		return ErrAlreadyProcessing
	}

	done := make(chan struct{})
	task := func() {
		defer close(done)
		defer s.release(documentID)
		s.process(documentID, sourcePath)
	}

	if err := s.runner.Submit(task); err != nil {
		s.release(documentID)
		s.markFailed(documentID, model.StatusPending, fmt.Sprintf("提交索引任务失败: %v", err))
		return fmt.Errorf("提交索引任务失败: %w", err)
	}
	log.Infof("[Ingestion] 索引任务已提交, DocumentID: %s", documentID)

	if !wait {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process 在工作池中执行，使用独立于请求的上下文。
func (s *ingestionService) process(documentID, sourcePath string) {
	ctx, cancel := s.processContext()
	defer cancel()

	claimed, err := s.docRepo.TransitionStatus(ctx, documentID, model.StatusPending, model.StatusProcessing, nil)
	if err != nil {
		log.Errorw("[Ingestion] 认领文档失败", "documentID", documentID, "error", err)
		s.markFailed(documentID, model.StatusPending, fmt.Sprintf("认领文档失败: %v", err))
		return
	}
	if !claimed {
		log.Warnw("[Ingestion] 文档已被其他任务认领", "documentID", documentID)
		return
	}

	var ok bool
	if sourcePath != "" {
		ok = s.indexer.IndexFromPath(ctx, documentID, sourcePath)
	} else {
		ok = s.indexer.IndexBlob(ctx, documentID)
	}
	log.Infow("[Ingestion] 索引任务结束", "documentID", documentID, "success", ok)
}

func (s *ingestionService) processContext() (context.Context, context.CancelFunc) {
	if s.cfg.ProcessTimeout > 0 {
		return context.WithTimeout(context.Background(), s.cfg.ProcessTimeout)
	}
	return context.WithCancel(context.Background())
}

func (s *ingestionService) markFailed(documentID string, from model.DocumentStatus, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.docRepo.TransitionStatus(ctx, documentID, from, model.StatusFailed, map[string]interface{}{
		"failure_reason": reason,
	}); err != nil {
		log.Errorw("[Ingestion] 标记文档失败状态出错", "documentID", documentID, "error", err)
	}
}

func (s *ingestionService) acquire(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[documentID]; busy {
		return false
	}
	s.inflight[documentID] = struct{}{}
	return true
}

func (s *ingestionService) release(documentID string) {
	s.mu.Lock()
	delete(s.inflight, documentID)
	s.mu.Unlock()
}
