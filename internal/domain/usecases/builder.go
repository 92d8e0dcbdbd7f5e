// Package usecases contains application business rules.
// Usecases orchestrate entities and depend only on port interfaces.
package usecases

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/linyone/chatrag/internal/domain/entities"
	"github.com/linyone/chatrag/internal/domain/ports"
)

// ErrNoDocuments is returned when a build collected nothing to index.
var ErrNoDocuments = errors.New("no documents to index")

// IndexBuilder embeds document records and publishes the index artifacts.
type IndexBuilder struct {
	embedder  ports.EmbeddingService
	publisher ports.IndexPublisher
	batchSize int
}

// NewIndexBuilder creates an IndexBuilder with injected dependencies.
func NewIndexBuilder(embedder ports.EmbeddingService, publisher ports.IndexPublisher, batchSize int) *IndexBuilder {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &IndexBuilder{
		embedder:  embedder,
		publisher: publisher,
		batchSize: batchSize,
	}
}

// Build embeds every record in order, normalizes the vectors and publishes
// them together with the metadata and encoder identity.
func (b *IndexBuilder) Build(ctx context.Context, records []entities.DocumentRecord) (entities.ModelInfo, error) {
	if len(records) == 0 {
		return entities.ModelInfo{}, ErrNoDocuments
	}

	vectors := make([][]float32, 0, len(records))
	for start := 0; start < len(records); start += b.batchSize {
		end := start + b.batchSize
		if end > len(records) {
			end = len(records)
		}
		texts := make([]string, end-start)
		for i, r := range records[start:end] {
			texts[i] = r.Text
		}

		batch, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return entities.ModelInfo{}, fmt.Errorf("embedding records %d-%d: %w", start, end-1, err)
		}
		if len(batch) != len(texts) {
			return entities.ModelInfo{}, fmt.Errorf("encoder returned %d vectors for %d records", len(batch), len(texts))
		}
		for _, v := range batch {
			vectors = append(vectors, Normalize(v))
		}
		log.Printf("[DEBUG] Embedded %d/%d records", end, len(records))
	}

	info := b.embedder.Info()
	dim := len(vectors[0])
	if info.Dimension == 0 {
		info.Dimension = dim
	}
	for i, v := range vectors {
		if len(v) != info.Dimension {
			return entities.ModelInfo{}, fmt.Errorf("record %d has dimension %d, expected %d", i, len(v), info.Dimension)
		}
	}

	if err := b.publisher.Publish(ctx, records, vectors, info); err != nil {
		return entities.ModelInfo{}, fmt.Errorf("publishing index: %w", err)
	}
	return info, nil
}

// Normalize scales v to unit L2 length in place and returns it.
// A zero vector stays zero.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	inv := 1 / (math.Sqrt(sum) + 1e-12)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
