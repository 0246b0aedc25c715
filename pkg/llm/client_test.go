package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"duoread-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, lines []string, check func(req chatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if check != nil {
			check(req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			_, _ = fmt.Fprintf(w, "%s\n\n", l)
		}
	}))
}

func TestStreamChatMessagesForwardsFragments(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`: keep-alive`,
		`data: {"choices":[{"delta":{"content":""}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"ignored"}}]}`,
	}, func(req chatRequest) {
		assert.True(t, req.Stream)
		assert.Equal(t, "chat-model", req.Model)
		require.NotNil(t, req.Temperature)
		assert.Equal(t, 0.3, *req.Temperature)
		assert.Nil(t, req.TopP)
	})
	defer srv.Close()

	client := NewOpenAICompatibleClient(config.LLMConfig{
		BaseURL:    srv.URL,
		Model:      "chat-model",
		Generation: config.LLMGenerationConfig{Temperature: 0.3},
	}, srv.Client())

	var got []string
	err := client.StreamChatMessages(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil,
		func(fragment string) error {
			got = append(got, fragment)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
}

func TestStreamChatMessagesStopsOnWriterError(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"a"}}]}`,
		`data: {"choices":[{"delta":{"content":"b"}}]}`,
	}, nil)
	defer srv.Close()

	client := NewOpenAICompatibleClient(config.LLMConfig{BaseURL: srv.URL}, srv.Client())
	stop := errors.New("consumer gone")
	calls := 0
	err := client.StreamChatMessages(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil,
		func(string) error {
			calls++
			return stop
		})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestStreamChatMessagesNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewOpenAICompatibleClient(config.LLMConfig{BaseURL: srv.URL}, srv.Client())
	err := client.StreamChatMessages(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil,
		func(string) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestParamsFromConfig(t *testing.T) {
	assert.Nil(t, ParamsFromConfig(config.LLMGenerationConfig{}))

	gp := ParamsFromConfig(config.LLMGenerationConfig{TopP: 0.9, MaxTokens: 256})
	require.NotNil(t, gp)
	assert.Nil(t, gp.Temperature)
	assert.Equal(t, 0.9, *gp.TopP)
	assert.Equal(t, 256, *gp.MaxTokens)
}
