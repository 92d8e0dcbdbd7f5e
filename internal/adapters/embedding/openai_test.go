package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linyone/chatrag/internal/domain/entities"
)

func TestOpenAIAdapter_EmbedBatchKeepsOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 1, "embedding": []float64{0, 1}},
				{"object": "embedding", "index": 0, "embedding": []float64{1, 0}},
			},
			"usage": map[string]int{"prompt_tokens": 2, "total_tokens": 2},
		})
	}))
	defer server.Close()

	adapter, err := NewOpenAIAdapter(OpenAIConfig{BaseURL: server.URL, APIKey: "sk-test"})
	require.NoError(t, err)

	out, err := adapter.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, out[0])
	assert.Equal(t, []float32{0, 1}, out[1])
	assert.Equal(t, 2, adapter.Info().Dimension)
}

func TestOpenAIAdapter_RequiresKey(t *testing.T) {
	_, err := NewOpenAIAdapter(OpenAIConfig{})
	assert.Error(t, err)
}

func TestNew_PicksAdapterFromModelInfo(t *testing.T) {
	svc, err := New(entities.ModelInfo{Provider: ProviderHash, Dimension: 16}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 16, svc.Info().Dimension)

	svc, err = New(entities.ModelInfo{Provider: ProviderOllama, Model: "bge-m3", Dimension: 1024}, Options{OllamaBaseURL: "http://ollama:11434"})
	require.NoError(t, err)
	assert.Equal(t, entities.ModelInfo{Model: "bge-m3", Provider: ProviderOllama, Dimension: 1024}, svc.Info())

	_, err = New(entities.ModelInfo{Provider: "faiss"}, Options{})
	assert.Error(t, err)
}
