package usecases

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/linyone/chatrag/internal/domain/entities"
	"github.com/linyone/chatrag/internal/domain/ports"
)

var corpus = []entities.DocumentRecord{
	{Text: "box breathing helps anxiety", Meta: entities.RecordMeta{Type: entities.RecordQA}},
	{Text: "grief\nI miss my home", Meta: entities.RecordMeta{Type: entities.RecordTherapySession, Topic: "grief"}},
	{Text: "drop cover hold on", Meta: entities.RecordMeta{Type: entities.RecordQA}},
}

var corpusVectors = map[string][]float32{
	"box breathing helps anxiety": {1, 0, 0},
	"grief\nI miss my home":       {0, 1, 0},
	"drop cover hold on":          {0, 0, 1},
	"tie":                         {0, 1, 1},
}

func newTestRetriever(t *testing.T, extra ...ports.Hit) (*Retriever, *mockSource) {
	t.Helper()
	idx := &sliceIndex{dim: 3, extra: extra}
	for _, r := range corpus {
		idx.vectors = append(idx.vectors, corpusVectors[r.Text])
	}
	src := &mockSource{artifacts: &ports.Artifacts{
		Index:   idx,
		Records: corpus,
		Model:   entities.ModelInfo{Model: "m", Provider: "mock", Dimension: 3},
	}}
	r := NewRetriever(src, func(info entities.ModelInfo) (ports.EmbeddingService, error) {
		return lookupEmbedder(corpusVectors), nil
	})
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return r, src
}

func TestRetriever_ExactMatchRanksFirst(t *testing.T) {
	r, _ := newTestRetriever(t)

	results := r.Retrieve(context.Background(), "grief\nI miss my home", 3)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].DocumentID != 1 || results[0].Rank != 1 {
		t.Errorf("expected doc 1 at rank 1, got doc %d rank %d", results[0].DocumentID, results[0].Rank)
	}
	for _, res := range results[1:] {
		if res.Score > results[0].Score {
			t.Errorf("rank 1 must have the highest score")
		}
	}
	if r.Dimension() != 3 {
		t.Errorf("expected dimension 3, got %d", r.Dimension())
	}
	if results[0].Label != "grief" || results[1].Label != "snippet" {
		t.Errorf("unexpected labels: %q %q", results[0].Label, results[1].Label)
	}
}

func TestRetriever_TiesKeepIndexOrder(t *testing.T) {
	r, _ := newTestRetriever(t)

	results := r.Retrieve(context.Background(), "tie", 2)
	if len(results) != 2 || results[0].DocumentID != 1 || results[1].DocumentID != 2 {
		t.Errorf("expected docs [1 2], got %+v", results)
	}
}

func TestRetriever_DropsOutOfRange(t *testing.T) {
	r, _ := newTestRetriever(t, ports.Hit{ID: 99, Score: 0}, ports.Hit{ID: -1, Score: 0})

	results := r.Retrieve(context.Background(), "tie", 10)
	if len(results) != 3 {
		t.Errorf("expected out-of-range hits dropped, got %d results", len(results))
	}
}

func TestRetriever_SoftFailures(t *testing.T) {
	empty := NewRetriever(&mockSource{err: errors.New("missing")}, nil)
	if err := empty.Load(context.Background()); err == nil {
		t.Error("expected load error")
	}
	if empty.Ready() || empty.DocCount() != 0 || empty.Dimension() != 0 {
		t.Error("retriever should not be ready")
	}
	if res := empty.Retrieve(context.Background(), "anything", 6); res != nil {
		t.Errorf("expected no results, got %v", res)
	}

	r, _ := newTestRetriever(t)
	if res := r.Retrieve(context.Background(), "not in lookup table", 6); res != nil {
		t.Errorf("expected no results on encoder error, got %v", res)
	}
}

func TestRetriever_RejectsDimensionMismatch(t *testing.T) {
	src := &mockSource{artifacts: &ports.Artifacts{Index: &sliceIndex{dim: 3}}}
	r := NewRetriever(src, func(entities.ModelInfo) (ports.EmbeddingService, error) {
		return &mockEmbedder{dim: 5}, nil
	})
	if err := r.Load(context.Background()); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestRetriever_RejectsRecordCountMismatch(t *testing.T) {
	r, src := newTestRetriever(t)

	src.mu.Lock()
	src.artifacts = &ports.Artifacts{
		Index:   &sliceIndex{dim: 3, vectors: [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}},
		Records: corpus[:2],
		Model:   entities.ModelInfo{Model: "m", Provider: "mock", Dimension: 3},
	}
	src.mu.Unlock()

	if err := r.Load(context.Background()); err == nil {
		t.Fatal("expected error for 3 vectors against 2 records")
	}
	if r.DocCount() != 3 {
		t.Errorf("expected previous snapshot to stay in service, got %d records", r.DocCount())
	}
}

func TestRetriever_FollowReloadsOnMarker(t *testing.T) {
	r, src := newTestRetriever(t)
	events := make(chan ports.FileEvent, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.Follow(ctx, events, "model.json")
		close(done)
	}()

	events <- ports.FileEvent{Path: "/v/meta.jsonl", Operation: ports.FileModified}
	events <- ports.FileEvent{Path: "/v/model.json", Operation: ports.FileDeleted}
	events <- ports.FileEvent{Path: "/v/model.json", Operation: ports.FileCreated}
	close(events)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Follow did not return after events closed")
	}
	if got := src.loadCount(); got != 2 {
		t.Errorf("expected 1 reload after initial load, got %d loads", got)
	}
}

func TestMakeContextSnippets_Budget(t *testing.T) {
	long := strings.Repeat("word ", 20)
	results := []entities.RetrievalResult{
		{Rank: 1, Label: "a", Record: entities.DocumentRecord{Text: long}},
		{Rank: 2, Label: "b", Record: entities.DocumentRecord{Text: long}},
		{Rank: 3, Label: "c", Record: entities.DocumentRecord{Text: long}},
	}

	out := MakeContextSnippets(results, 50)
	lines := strings.Split(out, "\n")
	if len(lines) != 1 {
		t.Errorf("expected 1 line (first already exceeds budget), got %d", len(lines))
	}

	out = MakeContextSnippets(results, 150)
	lines = strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[1], "[2] b: word") {
		t.Errorf("unexpected line: %q", lines[1])
	}
}

func TestMakeContextSnippets_FlattensNewlines(t *testing.T) {
	out := MakeContextSnippets([]entities.RetrievalResult{
		{Rank: 1, Label: "grief", Record: entities.DocumentRecord{Text: "  grief\nT: hi\nC: hello  "}},
	}, 0)
	if out != "[1] grief: grief T: hi C: hello" {
		t.Errorf("unexpected snippet: %q", out)
	}
	if MakeContextSnippets(nil, 50) != "" {
		t.Error("expected empty context for no results")
	}
}
