package service

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"duoread-go/internal/model"
	"duoread-go/internal/repository"
	"duoread-go/pkg/llm"
	"duoread-go/pkg/tasks"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "service.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Document{}, &model.FileBlob{}, &model.DocumentChunk{}))
	return db
}

type memBlobStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	putErr error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{data: map[string][]byte{}}
}

func (m *memBlobStore) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.data[key] = data
	return nil
}

func (m *memBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return b, nil
}

func (m *memBlobStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memBlobStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// gatedIndexer 在 gate 关闭前阻塞，然后把文档置为 ready。
type gatedIndexer struct {
	docRepo repository.DocumentRepository
	gate    chan struct{}
	fail    bool
	calls   atomic.Int32
	paths   []string
	mu      sync.Mutex
}

func (g *gatedIndexer) finish(ctx context.Context, documentID string) bool {
	g.calls.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	to := model.StatusReady
	if g.fail {
		to = model.StatusFailed
	}
	ok, err := g.docRepo.TransitionStatus(ctx, documentID, model.StatusProcessing, to, map[string]interface{}{"chunk_count": 1})
	return err == nil && ok && !g.fail
}

func (g *gatedIndexer) IndexBlob(ctx context.Context, documentID string) bool {
	return g.finish(ctx, documentID)
}

func (g *gatedIndexer) IndexFromPath(ctx context.Context, documentID, path string) bool {
	g.mu.Lock()
	g.paths = append(g.paths, path)
	g.mu.Unlock()
	return g.finish(ctx, documentID)
}

type rejectingRunner struct{}

func (rejectingRunner) Submit(func()) error { return errors.New("queue is full") }

type recordingPublisher struct {
	mu    sync.Mutex
	tasks []tasks.IndexTask
	err   error
}

func (p *recordingPublisher) PublishIndexTask(_ context.Context, task tasks.IndexTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

// keywordEmbedder 把文本映射为关键词计数向量。
type keywordEmbedder struct {
	keywords []string
	calls    atomic.Int32
	err      error
}

func (e *keywordEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	lower := strings.ToLower(text)
	vec := make([]float32, len(e.keywords))
	for i, k := range e.keywords {
		vec[i] = float32(strings.Count(lower, k))
	}
	return vec, nil
}

func (e *keywordEmbedder) ModelVersion() string { return "keyword-v1" }

// cosineStore 按余弦相似度暴力检索。
type cosineStore struct {
	mu   sync.Mutex
	docs []model.EsDocument
}

func (c *cosineStore) EnsureIndex(context.Context) error { return nil }

func (c *cosineStore) IndexChunk(_ context.Context, doc model.EsDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, doc)
	return nil
}

func (c *cosineStore) Refresh(context.Context) error { return nil }

func (c *cosineStore) Search(_ context.Context, documentID string, vector []float32, k int) ([]model.RetrievedChunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.RetrievedChunk
	for _, d := range c.docs {
		if d.DocumentID != documentID {
			continue
		}
		out = append(out, model.RetrievedChunk{ChunkIndex: d.ChunkIndex, Text: d.TextContent, Score: cosine(vector, d.Vector)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (c *cosineStore) DeleteDocument(_ context.Context, documentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.docs[:0]
	for _, d := range c.docs {
		if d.DocumentID != documentID {
			kept = append(kept, d)
		}
	}
	c.docs = kept
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// fixedStore 原样返回预设结果，用于检验排序与截断。
type fixedStore struct {
	cosineStore
	results []model.RetrievedChunk
	gotK    int
}

func (f *fixedStore) Search(_ context.Context, _ string, _ []float32, k int) ([]model.RetrievedChunk, error) {
	f.gotK = k
	out := make([]model.RetrievedChunk, len(f.results))
	copy(out, f.results)
	return out, nil
}

type memConversationRepo struct {
	mu      sync.Mutex
	threads map[string][]model.ChatMessage
}

func newMemConversationRepo() *memConversationRepo {
	return &memConversationRepo{threads: map[string][]model.ChatMessage{}}
}

func (r *memConversationRepo) key(userID, documentID string) string {
	return userID + "|" + documentID
}

func (r *memConversationRepo) Append(_ context.Context, userID, documentID string, messages ...model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(userID, documentID)
	r.threads[k] = append(r.threads[k], messages...)
	return nil
}

func (r *memConversationRepo) History(_ context.Context, userID, documentID string, limit int) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.threads[r.key(userID, documentID)]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (r *memConversationRepo) Clear(_ context.Context, userID, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, r.key(userID, documentID))
	return nil
}

// scriptedLLM 依次输出 fragments，然后返回 err。waitForCancel 为 true 时在输出后阻塞到 ctx 取消。
type scriptedLLM struct {
	fragments     []string
	err           error
	waitForCancel bool

	mu       sync.Mutex
	messages []llm.Message
}

func (s *scriptedLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, _ *llm.GenerationParams, onFragment llm.FragmentFunc) error {
	s.mu.Lock()
	s.messages = messages
	s.mu.Unlock()
	for _, f := range s.fragments {
		if err := onFragment(f); err != nil {
			return err
		}
	}
	if s.waitForCancel {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func (s *scriptedLLM) systemPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return ""
	}
	return s.messages[0].Content
}
