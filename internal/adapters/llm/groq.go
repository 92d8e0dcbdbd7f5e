// Package llm provides the text-generation providers of the cascade.
// Each provider implements ports.Provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/linyone/chatrag/internal/domain/entities"
)

// DefaultGroqBaseURL is Groq's OpenAI-compatible endpoint.
const DefaultGroqBaseURL = "https://api.groq.com/openai/v1"

// GroqConfig configures the Groq provider.
type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string // preferred model, tried first
	Timeout time.Duration
}

// GroqProvider tries an ordered list of Groq models and returns the first
// non-empty answer.
type GroqProvider struct {
	client openai.Client
	apiKey string
	models []string
}

// NewGroqProvider creates the provider. Without an API key it reports itself
// unconfigured.
func NewGroqProvider(cfg GroqConfig) *GroqProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGroqBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Model == "" {
		cfg.Model = "llama-3.3-70b-versatile"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &GroqProvider{
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
			option.WithRequestTimeout(cfg.Timeout),
			option.WithMaxRetries(0),
		),
		apiKey: cfg.APIKey,
		models: dedupe([]string{cfg.Model, "llama-3.1-8b-instant", "mixtral-8x7b-32768"}),
	}
}

// Name implements ports.Provider.
func (p *GroqProvider) Name() string { return "groq" }

// Configured implements ports.Provider.
func (p *GroqProvider) Configured() bool { return p.apiKey != "" }

// Models returns the model list in try order.
func (p *GroqProvider) Models() []string { return p.models }

// MaxCalls is one request per model.
func (p *GroqProvider) MaxCalls() int { return len(p.models) }

// Attempt implements ports.Provider.
func (p *GroqProvider) Attempt(ctx context.Context, messages []entities.Message, params entities.GenerationParams) entities.Attempt {
	req := openai.ChatCompletionNewParams{
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(params.Temperature),
		MaxTokens:   openai.Int(int64(params.MaxTokens)),
	}

	var last error
	for _, model := range p.models {
		req.Model = openai.ChatModel(model)
		resp, err := p.client.Chat.Completions.New(ctx, req)
		if err != nil {
			log.Printf("[DEBUG] groq model %s failed: %v", model, err)
			last = err
			continue
		}
		if len(resp.Choices) > 0 {
			if content := strings.TrimSpace(resp.Choices[0].Message.Content); content != "" {
				return entities.Success(resp.Choices[0].Message.Content, model)
			}
		}
		last = fmt.Errorf("model %s returned empty content", model)
	}
	if last == nil {
		last = errors.New("no models configured")
	}
	return entities.Failure(fmt.Errorf("Groq failed: %w", last))
}

func toOpenAIMessages(messages []entities.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case entities.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case entities.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, s := range items {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
