package jina

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbed_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req EmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "jina-embeddings-v3", req.Model)
		assert.Equal(t, []string{"first", "second"}, req.Input)
		assert.Equal(t, TaskPassage, req.Task)
		assert.Equal(t, 4, req.Dimensions)
		assert.True(t, req.Normalized)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "jina-embeddings-v3",
			"data": [
				{"index": 1, "embedding": [0, 1, 0, 0]},
				{"index": 0, "embedding": [1, 0, 0, 0]}
			],
			"usage": {"total_tokens": 7}
		}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.Embed(context.Background(), []string{"first", "second"}, WithTask(TaskPassage), WithDimensions(4))

	require.NoError(t, err)
	require.Len(t, got.Data, 2)
	assert.Equal(t, []float32{1, 0, 0, 0}, got.Data[0].Embedding)
	assert.Equal(t, []float32{0, 1, 0, 0}, got.Data[1].Embedding)
	assert.Equal(t, 7, got.Usage.TotalTokens)
}

func TestEmbed_EmptyInput(t *testing.T) {
	t.Parallel()

	client := NewClient("test-key", WithBaseURL("http://127.0.0.1:1"))
	got, err := client.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got.Data)
}

func TestEmbed_ClientError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"invalid key"}`))
	}))
	defer srv.Close()

	client := NewClient("bad", WithBaseURL(srv.URL), WithRetryBackoff(time.Millisecond))
	_, err := client.Embed(context.Background(), []string{"x"})

	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbed_RetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req EmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"x"}, req.Input)

		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5]}]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithRetryBackoff(time.Millisecond))
	got, err := client.Embed(context.Background(), []string{"x"})

	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, got.Data[0].Embedding)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbed_RetriesExhausted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`slow down`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithRetryBackoff(time.Millisecond))
	_, err := client.Embed(context.Background(), []string{"x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestEmbed_CountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestEmbed_InvalidJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	_, err := client.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestEmbed_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient("k", WithBaseURL(srv.URL), WithRetryBackoff(time.Second))

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := client.Embed(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}
