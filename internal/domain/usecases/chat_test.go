package usecases

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/linyone/chatrag/internal/domain/entities"
	"github.com/linyone/chatrag/internal/domain/ports"
)

type fixedRetriever struct {
	results []entities.RetrievalResult
	calls   int
	topK    int
}

func (f *fixedRetriever) Retrieve(ctx context.Context, q string, topK int) []entities.RetrievalResult {
	f.calls++
	f.topK = topK
	return f.results
}

func newChat(p *mockProvider, r SnippetRetriever, x ports.TextExtractor) *ChatUseCase {
	uc := NewChatUseCase(r, x, NewCascade([]ports.Provider{p}, fallbackProvider()))
	uc.now = func() time.Time { return time.Date(2025, 3, 28, 7, 20, 0, 0, time.FixedZone("MMT", 23400)) }
	return uc
}

func TestChatUseCase_MessageRequired(t *testing.T) {
	p := &mockProvider{name: "p", configured: true, attempt: entities.Success("x", "m")}
	_, err := newChat(p, nil, nil).Chat(context.Background(), &entities.ChatRequest{Message: "  "})
	if !errors.Is(err, ErrMessageRequired) {
		t.Errorf("expected ErrMessageRequired, got %v", err)
	}
	if p.calls != 0 {
		t.Error("cascade must not run for an empty message")
	}
}

func TestChatUseCase_Emergency(t *testing.T) {
	p := &mockProvider{name: "groq", configured: true, attempt: entities.Success("Drop, cover, hold on.", "llama")}
	r := &fixedRetriever{}
	resp, err := newChat(p, r, nil).Chat(context.Background(), &entities.ChatRequest{Message: "earthquake now"})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if r.calls != 0 {
		t.Error("retrieval only runs for the mental assistant")
	}
	if resp.Category != "general" || resp.Model != "groq:llama" || resp.DatasetRefs != nil {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Timestamp != "2025-03-28T00:50:00Z" {
		t.Errorf("unexpected timestamp %s", resp.Timestamp)
	}
	if p.lastParams.Temperature != 0.7 || p.lastParams.MaxTokens != 512 {
		t.Errorf("unexpected params %+v", p.lastParams)
	}
}

func TestChatUseCase_MentalWithRetrieval(t *testing.T) {
	var results []entities.RetrievalResult
	for i := 1; i <= 6; i++ {
		results = append(results, entities.RetrievalResult{
			Rank: i, Score: 1 / float64(i), DocumentID: 10 + i, Label: "grief",
			Record: entities.DocumentRecord{Text: "short"},
		})
	}
	r := &fixedRetriever{results: results}
	p := &mockProvider{name: "ollama", configured: true, attempt: entities.Success("breathe", "llama3.2:3b")}

	resp, err := newChat(p, r, nil).Chat(context.Background(), &entities.ChatRequest{
		Message: "I feel sad", Category: entities.CategoryMental,
	})
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if r.topK != 6 {
		t.Errorf("expected top_k 6, got %d", r.topK)
	}
	if resp.Category != "mental" || len(resp.DatasetRefs) != 5 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.DatasetRefs[0] != (entities.DatasetRef{ID: 11, Rank: 1, Score: 1, Label: "grief"}) {
		t.Errorf("unexpected first ref %+v", resp.DatasetRefs[0])
	}
	if p.lastParams.Temperature != 0.5 {
		t.Errorf("expected temperature 0.5, got %v", p.lastParams.Temperature)
	}
	if len(p.lastMsgs) != 3 || !strings.HasPrefix(p.lastMsgs[1].Content, ContextLabel+"[1] grief: short") {
		t.Errorf("expected curated context message, got %+v", p.lastMsgs)
	}
}

func TestChatUseCase_LanguageDetection(t *testing.T) {
	p := &mockProvider{name: "p", configured: true, attempt: entities.Success("ok", "m")}
	uc := newChat(p, nil, nil)

	if _, err := uc.Chat(context.Background(), &entities.ChatRequest{Message: "ငလျင် help"}); err != nil {
		t.Fatal(err)
	}
	if p.lastMsgs[0].Content != SystemPrompt(entities.CategoryEmergency, entities.LanguageBurmese) {
		t.Error("Burmese input should use the Burmese template")
	}

	if _, err := uc.Chat(context.Background(), &entities.ChatRequest{Message: "help"}); err != nil {
		t.Fatal(err)
	}
	if p.lastMsgs[0].Content != SystemPrompt(entities.CategoryEmergency, entities.LanguageEnglish) {
		t.Error("ASCII input should use the English template")
	}

	if _, err := uc.Chat(context.Background(), &entities.ChatRequest{Message: "ငလျင်", Language: entities.LanguageEnglish}); err != nil {
		t.Fatal(err)
	}
	if p.lastParams.Language != entities.LanguageEnglish {
		t.Error("explicit language must win over detection")
	}
}

func TestChatUseCase_Attachments(t *testing.T) {
	p := &mockProvider{name: "p", configured: true, attempt: entities.Success("ok", "m")}
	x := &mockExtractor{texts: map[string]string{
		"a.txt": strings.Repeat("a", 3000),
		"b.txt": "",
		"c.txt": strings.Repeat("c", 3000),
	}}
	_, err := newChat(p, nil, x).Chat(context.Background(), &entities.ChatRequest{
		Message: "read these",
		Files:   []entities.Attachment{{Name: "a.txt"}, {Name: "b.txt"}, {Name: "c.txt"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	fileMsg := p.lastMsgs[1].Content
	if !strings.HasPrefix(fileMsg, FileLabel) {
		t.Fatalf("expected file message, got %q", fileMsg)
	}
	if n := utf8.RuneCountInString(strings.TrimPrefix(fileMsg, FileLabel)); n != MaxPromptFile {
		t.Errorf("expected prompt file text capped at %d, got %d", MaxPromptFile, n)
	}
}

func TestChatUseCase_ExtractFilesCap(t *testing.T) {
	x := &mockExtractor{texts: map[string]string{"a": strings.Repeat("a", 3000), "c": strings.Repeat("c", 3000)}}
	uc := newChat(&mockProvider{}, nil, x)
	text := uc.extractFiles(context.Background(), []entities.Attachment{{Name: "a"}, {Name: "c"}})
	if utf8.RuneCountInString(text) != MaxFileText {
		t.Errorf("expected %d characters, got %d", MaxFileText, utf8.RuneCountInString(text))
	}
	if !strings.Contains(text, "a\n\nc") {
		t.Error("attachments should be joined by a blank line")
	}
}

func TestChatUseCase_IgnoresCallerCancellation(t *testing.T) {
	var seen error
	p := &mockProvider{name: "p", configured: true, attempt: entities.Success("ok", "m")}
	uc := newChat(p, &ctxRetriever{seen: &seen}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err := uc.Chat(ctx, &entities.ChatRequest{Message: "hi", Category: entities.CategoryMental})
	if err != nil || resp.Model != "p:m" {
		t.Fatalf("unexpected result %v %+v", err, resp)
	}
	if seen != nil {
		t.Errorf("downstream context should not be cancelled, got %v", seen)
	}
}

type ctxRetriever struct{ seen *error }

func (c *ctxRetriever) Retrieve(ctx context.Context, q string, k int) []entities.RetrievalResult {
	*c.seen = ctx.Err()
	return nil
}

func TestChatUseCase_FailureResponse(t *testing.T) {
	uc := newChat(&mockProvider{}, nil, nil)
	resp := uc.FailureResponse(context.Background(), errors.New("boom"))
	if !resp.Error || resp.Detail != "boom" || resp.Response == "" || resp.Model != "local:fallback" {
		t.Errorf("unexpected failure envelope %+v", resp)
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		in   string
		want entities.Language
	}{
		{"hello", entities.LanguageEnglish},
		{"", entities.LanguageEnglish},
		{"မင်္ဂလာပါ", entities.LanguageBurmese},
		{"hi ၁", entities.LanguageBurmese},
		{"héllo", entities.LanguageEnglish},
	}
	for _, c := range cases {
		if got := DetectLanguage(c.in); got != c.want {
			t.Errorf("DetectLanguage(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}
