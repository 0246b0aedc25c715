package extractor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"duoread-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTikaExtractText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		assert.Equal(t, "text/plain", r.Header.Get("Accept"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "%PDF-1.4 fake", string(body))
		_, _ = io.WriteString(w, "extracted text")
	}))
	defer srv.Close()

	ex := NewTikaExtractor(config.TikaConfig{ServerURL: srv.URL + "/"})
	text, err := ex.ExtractText(context.Background(), strings.NewReader("%PDF-1.4 fake"), "book.pdf")
	require.NoError(t, err)
	assert.Equal(t, "extracted text", text)
}

func TestTikaExtractTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unprocessable", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	ex := NewTikaExtractor(config.TikaConfig{ServerURL: srv.URL})
	_, err := ex.ExtractText(context.Background(), strings.NewReader("x"), "book.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestDetectMimeType(t *testing.T) {
	assert.Equal(t, "application/pdf", DetectMimeType("a.pdf"))
	assert.Equal(t, "application/octet-stream", DetectMimeType("noext"))
	assert.Equal(t, "application/octet-stream", DetectMimeType("a.unknownext123"))
}

func TestNewSelectsImplementation(t *testing.T) {
	ex, err := New("docconv", config.TikaConfig{})
	require.NoError(t, err)
	assert.IsType(t, &DocconvExtractor{}, ex)

	ex, err = New("", config.TikaConfig{ServerURL: "http://tika"})
	require.NoError(t, err)
	assert.IsType(t, &TikaExtractor{}, ex)

	_, err = New("ocr", config.TikaConfig{})
	assert.Error(t, err)
}
