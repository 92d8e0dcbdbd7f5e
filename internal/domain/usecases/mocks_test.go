package usecases

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/linyone/chatrag/internal/domain/entities"
	"github.com/linyone/chatrag/internal/domain/ports"
)

// mockEmbedder implements ports.EmbeddingService for testing
type mockEmbedder struct {
	embedFn func(text string) ([]float32, error)
	dim     int
	calls   int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.embedFn != nil {
		return m.embedFn(text)
	}
	return []float32{3, 4, 0}, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls++
	result := make([][]float32, len(texts))
	for i := range texts {
		emb, err := m.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		result[i] = emb
	}
	return result, nil
}

func (m *mockEmbedder) Info() entities.ModelInfo {
	return entities.ModelInfo{Model: "mock", Provider: "mock", Dimension: m.dim}
}

// lookupEmbedder maps known texts to fixed vectors.
func lookupEmbedder(table map[string][]float32) *mockEmbedder {
	return &mockEmbedder{embedFn: func(text string) ([]float32, error) {
		v, ok := table[text]
		if !ok {
			return nil, errors.New("unknown text")
		}
		out := make([]float32, len(v))
		copy(out, v)
		return out, nil
	}}
}

// mockPublisher implements ports.IndexPublisher for testing
type mockPublisher struct {
	records []entities.DocumentRecord
	vectors [][]float32
	info    entities.ModelInfo
	err     error
}

func (m *mockPublisher) Publish(ctx context.Context, records []entities.DocumentRecord, vectors [][]float32, info entities.ModelInfo) error {
	if m.err != nil {
		return m.err
	}
	m.records, m.vectors, m.info = records, vectors, info
	return nil
}

// sliceIndex is a brute-force ports.SearchIndex
type sliceIndex struct {
	dim     int
	vectors [][]float32
	extra   []ports.Hit
}

func (s *sliceIndex) Search(q []float32, topK int) []ports.Hit {
	var hits []ports.Hit
	for i, v := range s.vectors {
		var sum float64
		for j := range v {
			sum += float64(v[j]) * float64(q[j])
		}
		hits = append(hits, ports.Hit{ID: i, Score: sum})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	hits = append(hits, s.extra...)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func (s *sliceIndex) Len() int       { return len(s.vectors) }
func (s *sliceIndex) Dimension() int { return s.dim }

// mockSource implements ports.ArtifactSource for testing
type mockSource struct {
	mu        sync.Mutex
	artifacts *ports.Artifacts
	err       error
	loads     int
}

func (m *mockSource) Load(ctx context.Context) (*ports.Artifacts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.err != nil {
		return nil, m.err
	}
	return m.artifacts, nil
}

func (m *mockSource) loadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

// mockProvider implements ports.Provider for testing
type mockProvider struct {
	name       string
	configured bool
	attempt    entities.Attempt
	calls      int
	lastMsgs   []entities.Message
	lastParams entities.GenerationParams
}

func (m *mockProvider) Name() string     { return m.name }
func (m *mockProvider) Configured() bool { return m.configured }

func (m *mockProvider) Attempt(ctx context.Context, msgs []entities.Message, p entities.GenerationParams) entities.Attempt {
	m.calls++
	m.lastMsgs, m.lastParams = msgs, p
	return m.attempt
}

func fallbackProvider() *mockProvider {
	return &mockProvider{name: "local", configured: true, attempt: entities.Success("stay safe", "fallback")}
}

// mockExtractor implements ports.TextExtractor for testing
type mockExtractor struct {
	texts map[string]string
}

func (m *mockExtractor) Extract(ctx context.Context, f entities.Attachment) string {
	return m.texts[f.Name]
}
