package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaAdapter_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embeddings": [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer server.Close()

	adapter := NewOllamaAdapter(server.URL, "test-model")
	emb, err := adapter.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Len(t, emb, 3)
	assert.Equal(t, 3, adapter.Info().Dimension)
}

func TestOllamaAdapter_EmbedBatchSendsAllInputs(t *testing.T) {
	var got ollamaEmbedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		out := make([][]float32, len(got.Input))
		for i := range out {
			out[i] = []float32{float32(i)}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": out})
	}))
	defer server.Close()

	adapter := NewOllamaAdapter(server.URL, "test-model")
	results, err := adapter.EmbedBatch(context.Background(), []string{"a", "b", "c"})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got.Input)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, results, 3)
	assert.Equal(t, float32(2), results[2][0])
}

func TestOllamaAdapter_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": [][]float32{{1}}})
	}))
	defer server.Close()

	_, err := NewOllamaAdapter(server.URL, "m").EmbedBatch(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestOllamaAdapter_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	adapter := NewOllamaAdapter(server.URL, "test")
	_, err := adapter.Embed(context.Background(), "test")

	assert.Error(t, err, "should error on 500")
}

func TestOllamaAdapter_DefaultValues(t *testing.T) {
	adapter := NewOllamaAdapter("", "")
	assert.Equal(t, "http://localhost:11434", adapter.baseURL)
	assert.Equal(t, "nomic-embed-text", adapter.model)
}
