package repository

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"duoread-go/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
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

func newDocument(id string) *model.Document {
	return &model.Document{ID: id, OwnerID: "user-1", Title: "Book", Status: model.StatusPending}
}

func TestCreateWithBlob(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	ctx := context.Background()

	doc := newDocument("doc-1")
	require.NoError(t, repo.CreateWithBlob(ctx, doc, &model.FileBlob{FileName: "book.pdf", FileSize: 10, StorageKey: "k"}))

	got, err := repo.FindByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	blob, err := repo.FindBlob(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "book.pdf", blob.FileName)
}

func TestCreateWithBlobRollsBack(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	ctx := context.Background()

	// an orphan blob row makes the second insert of the transaction fail
	require.NoError(t, db.Create(&model.FileBlob{DocumentID: "doc-2", FileName: "orphan.pdf", StorageKey: "k"}).Error)

	err := repo.CreateWithBlob(ctx, newDocument("doc-2"), &model.FileBlob{FileName: "b.pdf", StorageKey: "k2"})
	require.Error(t, err)

	_, err = repo.FindByID(ctx, "doc-2")
	assert.True(t, IsNotFound(err))
}

func TestCreateWithBlobDuplicateDocument(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.CreateWithBlob(ctx, newDocument("doc-1"), &model.FileBlob{FileName: "a.pdf", StorageKey: "k1"}))
	err := repo.CreateWithBlob(ctx, newDocument("doc-1"), &model.FileBlob{FileName: "b.pdf", StorageKey: "k2"})
	require.Error(t, err)

	blob, err := repo.FindBlob(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", blob.FileName)
}

func TestFindByIDNotFound(t *testing.T) {
	repo := NewDocumentRepository(newTestDB(t))
	_, err := repo.FindByID(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestTransitionStatusIsCompareAndSwap(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.CreateWithBlob(ctx, newDocument("doc-1"), &model.FileBlob{FileName: "a.pdf", StorageKey: "k"}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.TransitionStatus(ctx, "doc-1", model.StatusPending, model.StatusProcessing, nil)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())

	ok, err := repo.TransitionStatus(ctx, "doc-1", model.StatusProcessing, model.StatusReady, map[string]interface{}{"chunk_count": 5})
	require.NoError(t, err)
	assert.True(t, ok)

	// terminal states never go backwards
	ok, err = repo.TransitionStatus(ctx, "doc-1", model.StatusProcessing, model.StatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.FindByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, got.Status)
	assert.Equal(t, 5, got.ChunkCount)
}

func TestTransitionStatusRejectsLeavingTerminalState(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	ctx := context.Background()
	doc := newDocument("doc-1")
	doc.Status = model.StatusFailed
	require.NoError(t, repo.CreateWithBlob(ctx, doc, &model.FileBlob{FileName: "a.pdf", StorageKey: "k"}))

	for _, from := range []model.DocumentStatus{model.StatusReady, model.StatusFailed} {
		assert.True(t, from.IsTerminal())
		ok, err := repo.TransitionStatus(ctx, "doc-1", from, model.StatusPending, nil)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.False(t, ok)
	}
	assert.False(t, model.StatusPending.IsTerminal())
	assert.False(t, model.StatusProcessing.IsTerminal())

	got, err := repo.FindByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
}

func TestUpdateLanguageAndDemoLookup(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	ctx := context.Background()

	doc := newDocument("doc-1")
	doc.IsDemo = true
	doc.OwnerID = model.DemoOwnerID
	doc.Title = "Demo Book"
	require.NoError(t, repo.CreateWithBlob(ctx, doc, &model.FileBlob{FileName: "a.pdf", StorageKey: "k"}))

	require.NoError(t, repo.UpdateLanguage(ctx, "doc-1", "fr"))
	assert.True(t, IsNotFound(repo.UpdateLanguage(ctx, "missing", "fr")))

	got, err := repo.FindDemoByTitle(ctx, "Demo Book")
	require.NoError(t, err)
	assert.Equal(t, "fr", got.Language)

	_, err = repo.FindDemoByTitle(ctx, "Other")
	assert.True(t, IsNotFound(err))
}

func TestReplaceChunks(t *testing.T) {
	db := newTestDB(t)
	repo := NewChunkRepository(db)
	ctx := context.Background()

	first := []*model.DocumentChunk{
		{DocumentID: "doc-1", ChunkIndex: 1, TextContent: "b"},
		{DocumentID: "doc-1", ChunkIndex: 0, TextContent: "a"},
		{DocumentID: "doc-1", ChunkIndex: 2, TextContent: "c"},
	}
	require.NoError(t, repo.ReplaceChunks(ctx, "doc-1", first))

	got, err := repo.FindByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{got[0].ChunkIndex, got[1].ChunkIndex, got[2].ChunkIndex})

	require.NoError(t, repo.ReplaceChunks(ctx, "doc-1", []*model.DocumentChunk{{DocumentID: "doc-1", ChunkIndex: 0, TextContent: "z"}}))
	got, err = repo.FindByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "z", got[0].TextContent)

	require.NoError(t, repo.DeleteByDocument(ctx, "doc-1"))
	got, err = repo.FindByDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReplaceChunksRejectsDuplicateIndex(t *testing.T) {
	repo := NewChunkRepository(newTestDB(t))
	ctx := context.Background()

	err := repo.ReplaceChunks(ctx, "doc-1", []*model.DocumentChunk{
		{DocumentID: "doc-1", ChunkIndex: 0},
		{DocumentID: "doc-1", ChunkIndex: 0},
	})
	assert.Error(t, err)
}
