package usecases

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/linyone/chatrag/internal/domain/entities"
	"github.com/linyone/chatrag/internal/domain/ports"
)

// DefaultContextBudget is the soft character ceiling of the curated context.
const DefaultContextBudget = 1500

// EncoderFactory builds the query encoder matching a published index.
type EncoderFactory func(info entities.ModelInfo) (ports.EmbeddingService, error)

// snapshot is an immutable view of one published index.
type snapshot struct {
	artifacts *ports.Artifacts
	encoder   ports.EmbeddingService
}

// Retriever answers similarity queries against the loaded artifacts.
// The loaded state is swapped atomically on reload; readers never lock.
type Retriever struct {
	source     ports.ArtifactSource
	newEncoder EncoderFactory
	current    atomic.Pointer[snapshot]
}

// NewRetriever creates a Retriever. Nothing is loaded until Load is called.
func NewRetriever(source ports.ArtifactSource, newEncoder EncoderFactory) *Retriever {
	return &Retriever{source: source, newEncoder: newEncoder}
}

// Load reads the artifacts and swaps them in. On error the previous
// snapshot, if any, stays in service.
func (r *Retriever) Load(ctx context.Context) error {
	a, err := r.source.Load(ctx)
	if err != nil {
		return err
	}
	info := a.Model
	if info.Dimension == 0 {
		info.Dimension = a.Index.Dimension()
	}
	enc, err := r.newEncoder(info)
	if err != nil {
		return fmt.Errorf("creating query encoder: %w", err)
	}
	if d := enc.Info().Dimension; d != 0 && d != a.Index.Dimension() {
		return fmt.Errorf("encoder dimension %d does not match index dimension %d", d, a.Index.Dimension())
	}
	if len(a.Records) != a.Index.Len() {
		return fmt.Errorf("index has %d vectors but %d metadata records", a.Index.Len(), len(a.Records))
	}

	r.current.Store(&snapshot{artifacts: a, encoder: enc})
	log.Printf("[INFO] Retrieval index loaded: %d records, encoder %s/%s (dim %d)",
		len(a.Records), info.Provider, info.Model, a.Index.Dimension())
	return nil
}

// Ready reports whether an index is loaded.
func (r *Retriever) Ready() bool {
	return r.current.Load() != nil
}

// DocCount is the number of metadata records in the loaded index.
func (r *Retriever) DocCount() int {
	s := r.current.Load()
	if s == nil {
		return 0
	}
	return len(s.artifacts.Records)
}

// Dimension is the vector dimension of the loaded index, or 0.
func (r *Retriever) Dimension() int {
	s := r.current.Load()
	if s == nil {
		return 0
	}
	return s.artifacts.Index.Dimension()
}

// Retrieve returns up to topK results for query, best first. It never fails:
// a missing index or encoder error yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) []entities.RetrievalResult {
	s := r.current.Load()
	if s == nil || topK <= 0 {
		return nil
	}

	vec, err := s.encoder.Embed(ctx, query)
	if err != nil {
		log.Printf("[WARN] Query embedding failed, retrieval skipped: %v", err)
		return nil
	}
	hits := s.artifacts.Index.Search(Normalize(vec), topK)

	records := s.artifacts.Records
	results := make([]entities.RetrievalResult, 0, len(hits))
	for i, h := range hits {
		if h.ID < 0 || h.ID >= len(records) {
			continue
		}
		rec := records[h.ID]
		results = append(results, entities.RetrievalResult{
			Rank:       i + 1,
			Score:      h.Score,
			DocumentID: h.ID,
			Label:      rec.Label(),
			Record:     rec,
		})
	}
	return results
}

// Follow reloads the index whenever marker (the last artifact written by a
// publish) is created or replaced. It returns when ctx is done or events closes.
func (r *Retriever) Follow(ctx context.Context, events <-chan ports.FileEvent, marker string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Operation == ports.FileDeleted || filepath.Base(ev.Path) != marker {
				continue
			}
			log.Printf("[INFO] Index artifacts changed, reloading")
			if err := r.Load(ctx); err != nil {
				log.Printf("[ERROR] Reloading index: %v", err)
			}
		}
	}
}

// MakeContextSnippets renders one "[rank] label: text" line per result and
// stops once the running character count exceeds budget. The line that
// crosses the budget is kept whole.
func MakeContextSnippets(results []entities.RetrievalResult, budget int) string {
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	var lines []string
	total := 0
	for _, res := range results {
		cleaned := strings.ReplaceAll(strings.TrimSpace(res.Record.Text), "\n", " ")
		line := fmt.Sprintf("[%d] %s: %s", res.Rank, res.Label, cleaned)
		lines = append(lines, line)
		total += utf8.RuneCountInString(line)
		if total > budget {
			break
		}
	}
	return strings.Join(lines, "\n")
}
