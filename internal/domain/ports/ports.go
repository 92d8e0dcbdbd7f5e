// Package ports defines interfaces for external dependencies.
// Usecases depend on these abstractions; adapters implement them.
package ports

import (
	"context"

	"github.com/linyone/chatrag/internal/domain/entities"
)

// EmbeddingService generates vector embeddings for text.
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Info identifies the encoder so the serving side can rebuild the same one.
	Info() entities.ModelInfo
}

// Provider is one stage of the text-generation cascade.
// Provider-specific retries live inside Attempt, never in the cascade driver.
type Provider interface {
	// Name is the provider prefix of the model identifier ("groq", "ollama", ...).
	Name() string

	// Configured reports whether credentials/endpoints are present.
	// Unconfigured providers are skipped without being attempted.
	Configured() bool

	// Attempt runs one generation and reports a tagged outcome.
	Attempt(ctx context.Context, messages []entities.Message, params entities.GenerationParams) entities.Attempt
}

// MultiCallProvider is implemented by providers whose Attempt may issue more
// than one upstream request. Providers without it issue exactly one.
type MultiCallProvider interface {
	MaxCalls() int
}

// AuthReporter is implemented by providers whose credentials are optional.
type AuthReporter interface {
	HasAuth() bool
}

// TextExtractor turns an uploaded file into plain text. Failures come back as
// inline placeholder text, never as errors.
type TextExtractor interface {
	Extract(ctx context.Context, file entities.Attachment) string
}

// IndexPublisher persists the build-time artifacts.
type IndexPublisher interface {
	Publish(ctx context.Context, records []entities.DocumentRecord, vectors [][]float32, info entities.ModelInfo) error
}

// SearchIndex is an exact nearest-neighbour structure over unit vectors.
type SearchIndex interface {
	// Search returns up to topK (ordinal, score) pairs by descending inner product.
	Search(query []float32, topK int) []Hit
	Len() int
	Dimension() int
}

// Hit is one raw index match.
type Hit struct {
	ID    int
	Score float64
}

// Artifacts is a loaded, read-only view of a published index.
type Artifacts struct {
	Index   SearchIndex
	Records []entities.DocumentRecord
	Model   entities.ModelInfo
}

// ArtifactSource loads published artifacts.
type ArtifactSource interface {
	Load(ctx context.Context) (*Artifacts, error)
}

// FileWatcher monitors a directory for changes.
type FileWatcher interface {
	// Watch starts monitoring the directory and emits events.
	Watch(ctx context.Context, dir string) (<-chan FileEvent, error)

	// Stop stops the watcher.
	Stop() error
}

// FileEvent represents a file system change.
type FileEvent struct {
	Path      string
	Operation FileOperation
}

// FileOperation is the type of file change.
type FileOperation int

const (
	FileCreated FileOperation = iota
	FileModified
	FileDeleted
)
