package service

import (
	"context"
	"fmt"
	"testing"

	"duoread-go/internal/config"
	"duoread-go/internal/model"
	"duoread-go/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKeywords = []string{"whale", "harpoon", "ocean", "captain", "ship"}

func seedDocument(t *testing.T, docRepo repository.DocumentRepository, id, owner string, status model.DocumentStatus, chunkCount int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, docRepo.CreateWithBlob(ctx,
		&model.Document{ID: id, OwnerID: owner, Title: "Moby Dick", Language: "en", Status: model.StatusPending},
		&model.FileBlob{FileName: id + ".txt", StorageKey: id}))
	if status == model.StatusPending {
		return
	}
	ok, err := docRepo.TransitionStatus(ctx, id, model.StatusPending, model.StatusProcessing, nil)
	require.NoError(t, err)
	require.True(t, ok)
	if status == model.StatusProcessing {
		return
	}
	ok, err = docRepo.TransitionStatus(ctx, id, model.StatusProcessing, status, map[string]interface{}{"chunk_count": chunkCount})
	require.NoError(t, err)
	require.True(t, ok)
}

// indexKeywordChunks 为每个关键词写入一个分块，第 i 个分块只包含第 i 个关键词。
func indexKeywordChunks(t *testing.T, store *cosineStore, embedder *keywordEmbedder, documentID string) {
	t.Helper()
	for i, k := range testKeywords {
		text := fmt.Sprintf("a passage about the %s", k)
		vec, err := embedder.CreateEmbedding(context.Background(), text)
		require.NoError(t, err)
		require.NoError(t, store.IndexChunk(context.Background(), model.EsDocument{
			VectorID:    model.VectorID(documentID, i),
			DocumentID:  documentID,
			ChunkIndex:  i,
			TextContent: text,
			Vector:      vec,
		}))
	}
	embedder.calls.Store(0)
}

func TestRetrievalRanksMatchingChunkFirst(t *testing.T) {
	docRepo := repository.NewDocumentRepository(newTestDB(t))
	embedder := &keywordEmbedder{keywords: testKeywords}
	store := &cosineStore{}
	seedDocument(t, docRepo, "doc-1", "user-1", model.StatusReady, len(testKeywords))
	indexKeywordChunks(t, store, embedder, "doc-1")

	s := NewRetrievalService(docRepo, embedder, store, config.RetrievalConfig{TopK: 3})
	results, err := s.Search(context.Background(), "tell me about the ocean", "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 2, results[0].ChunkIndex)
	assert.Contains(t, results[0].Text, "ocean")
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestRetrievalOrdersTiesByChunkIndex(t *testing.T) {
	docRepo := repository.NewDocumentRepository(newTestDB(t))
	seedDocument(t, docRepo, "doc-1", "user-1", model.StatusReady, 5)
	store := &fixedStore{results: []model.RetrievedChunk{
		{ChunkIndex: 4, Text: "e", Score: 0.5},
		{ChunkIndex: 3, Text: "d", Score: 0.9},
		{ChunkIndex: 1, Text: "b", Score: 0.5},
		{ChunkIndex: 0, Text: "a", Score: 0.5},
		{ChunkIndex: 2, Text: "c", Score: 0.1},
	}}

	s := NewRetrievalService(docRepo, &keywordEmbedder{keywords: testKeywords}, store, config.RetrievalConfig{TopK: 5})
	results, err := s.Search(context.Background(), "q", "doc-1", 3)
	require.NoError(t, err)

	got := make([]int, 0, len(results))
	for _, r := range results {
		got = append(got, r.ChunkIndex)
	}
	assert.Equal(t, []int{3, 0, 1}, got)
	assert.Equal(t, 6, store.gotK)
}

func TestRetrievalCandidateCount(t *testing.T) {
	cases := []struct {
		name       string
		chunkCount int
		wantK      int
	}{
		{name: "few_chunks", chunkCount: 4, wantK: 6},
		{name: "whole_document", chunkCount: 40, wantK: 40},
		{name: "large_document", chunkCount: 500, wantK: 6},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			docRepo := repository.NewDocumentRepository(newTestDB(t))
			seedDocument(t, docRepo, "doc-1", "user-1", model.StatusReady, tc.chunkCount)
			store := &fixedStore{results: []model.RetrievedChunk{{ChunkIndex: 0, Text: "a", Score: 0.5}}}

			s := NewRetrievalService(docRepo, &keywordEmbedder{keywords: testKeywords}, store,
				config.RetrievalConfig{TopK: 5, NumCandidates: 100})
			_, err := s.Search(context.Background(), "q", "doc-1", 3)
			require.NoError(t, err)
			assert.Equal(t, tc.wantK, store.gotK)
		})
	}
}

func TestRetrievalReturnsEmptyWithoutUsableDocument(t *testing.T) {
	docRepo := repository.NewDocumentRepository(newTestDB(t))
	seedDocument(t, docRepo, "pending", "user-1", model.StatusPending, 0)
	seedDocument(t, docRepo, "processing", "user-1", model.StatusProcessing, 0)
	seedDocument(t, docRepo, "failed", "user-1", model.StatusFailed, 0)
	seedDocument(t, docRepo, "empty", "user-1", model.StatusReady, 0)

	embedder := &keywordEmbedder{keywords: testKeywords}
	s := NewRetrievalService(docRepo, embedder, &cosineStore{}, config.RetrievalConfig{TopK: 5})

	for _, id := range []string{"", "missing", "pending", "processing", "failed", "empty"} {
		t.Run("doc_"+id, func(t *testing.T) {
			results, err := s.Search(context.Background(), "whale", id, 5)
			require.NoError(t, err)
			assert.NotNil(t, results)
			assert.Empty(t, results)
		})
	}
	assert.Equal(t, int32(0), embedder.calls.Load())
}
