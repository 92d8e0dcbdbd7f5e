package usecases

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/linyone/chatrag/internal/domain/entities"
	"github.com/linyone/chatrag/internal/domain/ports"
)

// ErrMessageRequired is returned for a request without a message.
var ErrMessageRequired = errors.New("'message' is required")

// Per-request generation settings.
const (
	RetrievalTopK    = 6
	MaxFileText      = 4000
	MaxOutputTokens  = 512
	MaxDatasetRefs   = 5
	TimestampLayout  = "2006-01-02T15:04:05Z"
	mentalTemp       = 0.5
	emergencyTemp    = 0.7
	attachmentJoiner = "\n\n"
)

// SnippetRetriever is the retrieval dependency of ChatUseCase.
type SnippetRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) []entities.RetrievalResult
}

// ChatUseCase runs one chat request end to end.
type ChatUseCase struct {
	retriever SnippetRetriever
	extractor ports.TextExtractor
	cascade   *Cascade
	now       func() time.Time
}

// NewChatUseCase creates a ChatUseCase with injected dependencies.
// retriever and extractor may be nil.
func NewChatUseCase(retriever SnippetRetriever, extractor ports.TextExtractor, cascade *Cascade) *ChatUseCase {
	return &ChatUseCase{
		retriever: retriever,
		extractor: extractor,
		cascade:   cascade,
		now:       time.Now,
	}
}

// Chat answers req. The only error is ErrMessageRequired; provider
// failures end in the local fallback.
func (uc *ChatUseCase) Chat(ctx context.Context, req *entities.ChatRequest) (*entities.ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrMessageRequired
	}
	// a client disconnect must not abort the cascade
	ctx = context.WithoutCancel(ctx)

	lang := req.Language
	if lang == "" {
		lang = DetectLanguage(req.Message)
	}
	category := req.Category
	if category == "" {
		category = entities.CategoryEmergency
	}

	var retrieved []entities.RetrievalResult
	if category == entities.CategoryMental && uc.retriever != nil {
		retrieved = uc.retriever.Retrieve(ctx, req.Message, RetrievalTopK)
	}
	contextText := ""
	if len(retrieved) > 0 {
		contextText = MakeContextSnippets(retrieved, DefaultContextBudget)
	}

	fileText := uc.extractFiles(ctx, req.Files)
	msgs := BuildMessages(category, lang, req.Message, contextText, fileText)
	params := entities.GenerationParams{
		Temperature: emergencyTemp,
		MaxTokens:   MaxOutputTokens,
		Category:    category,
		Language:    lang,
	}
	if category == entities.CategoryMental {
		params.Temperature = mentalTemp
	}

	result := uc.cascade.Run(ctx, msgs, params)
	log.Printf("[INFO] Chat answered by %s (%s/%s, %d refs, %d provider errors)",
		result.ModelID, category, lang, len(retrieved), len(result.Errors))

	return &entities.ChatResponse{
		Response:    result.Text,
		Category:    category.ResponseCategory(),
		Timestamp:   uc.now().UTC().Format(TimestampLayout),
		Model:       result.ModelID,
		DatasetRefs: datasetRefs(retrieved),
	}, nil
}

// FailureResponse is the envelope returned when a request fails unexpectedly.
func (uc *ChatUseCase) FailureResponse(ctx context.Context, cause error) *entities.ChatResponse {
	result := uc.cascade.Fallback(ctx, entities.GenerationParams{
		Category: entities.CategoryEmergency,
		Language: entities.LanguageEnglish,
	})
	detail := "internal error"
	if cause != nil {
		detail = cause.Error()
	}
	return &entities.ChatResponse{
		Response:  result.Text,
		Category:  entities.CategoryEmergency.ResponseCategory(),
		Timestamp: uc.now().UTC().Format(TimestampLayout),
		Model:     result.ModelID,
		Error:     true,
		Detail:    detail,
	}
}

func (uc *ChatUseCase) extractFiles(ctx context.Context, files []entities.Attachment) string {
	if uc.extractor == nil || len(files) == 0 {
		return ""
	}
	var texts []string
	for _, f := range files {
		if t := uc.extractor.Extract(ctx, f); t != "" {
			texts = append(texts, t)
		}
	}
	return truncateRunes(strings.Join(texts, attachmentJoiner), MaxFileText)
}

func datasetRefs(results []entities.RetrievalResult) []entities.DatasetRef {
	if len(results) == 0 {
		return nil
	}
	if len(results) > MaxDatasetRefs {
		results = results[:MaxDatasetRefs]
	}
	refs := make([]entities.DatasetRef, len(results))
	for i, r := range results {
		refs[i] = entities.DatasetRef{ID: r.DocumentID, Rank: r.Rank, Score: r.Score, Label: r.Label}
	}
	return refs
}

// DetectLanguage returns Burmese when text contains any character of the
// Myanmar block, English otherwise.
func DetectLanguage(text string) entities.Language {
	for _, r := range text {
		if r >= 0x1000 && r <= 0x109F {
			return entities.LanguageBurmese
		}
	}
	return entities.LanguageEnglish
}
