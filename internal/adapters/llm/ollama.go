package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/linyone/chatrag/internal/domain/entities"
)

// gpuErrors are failure fragments that mean the model did not fit on the GPU.
var gpuErrors = []string{
	"more system memory",
	"unable to load full model on gpu",
	"out of memory",
	"no supported gpu",
}

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	BaseURL        string // empty disables the provider
	EmergencyModel string
	MentalModel    string
	Timeout        time.Duration
}

// OllamaProvider talks to a local Ollama server. It tries the
// OpenAI-compatible endpoint first, then the native /api/chat endpoint, and
// retries the native endpoint once on CPU when the GPU ran out of memory.
type OllamaProvider struct {
	baseURL        string
	emergencyModel string
	mentalModel    string
	compat         *goopenai.Client
	client         *http.Client
}

// NewOllamaProvider creates the provider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.EmergencyModel == "" {
		cfg.EmergencyModel = "llama3.2:3b"
	}
	if cfg.MentalModel == "" {
		cfg.MentalModel = "llama3.2:3b"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	httpClient := &http.Client{Timeout: cfg.Timeout}

	compatCfg := goopenai.DefaultConfig("ollama")
	compatCfg.BaseURL = baseURL + "/v1"
	compatCfg.HTTPClient = httpClient

	return &OllamaProvider{
		baseURL:        baseURL,
		emergencyModel: cfg.EmergencyModel,
		mentalModel:    cfg.MentalModel,
		compat:         goopenai.NewClientWithConfig(compatCfg),
		client:         httpClient,
	}
}

// Name implements ports.Provider.
func (p *OllamaProvider) Name() string { return "ollama" }

// Configured implements ports.Provider.
func (p *OllamaProvider) Configured() bool { return p.baseURL != "" }

// MaxCalls covers the compat call, the native call and its CPU retry.
func (p *OllamaProvider) MaxCalls() int { return 3 }

// ModelFor picks the local model for a category.
func (p *OllamaProvider) ModelFor(category entities.Category) string {
	if category == entities.CategoryMental {
		return p.mentalModel
	}
	return p.emergencyModel
}

// Attempt implements ports.Provider.
func (p *OllamaProvider) Attempt(ctx context.Context, messages []entities.Message, params entities.GenerationParams) entities.Attempt {
	model := p.ModelFor(params.Category)

	text, err := p.chatCompat(ctx, model, messages, params)
	if err == nil {
		return entities.Success(text, model)
	}
	log.Printf("[DEBUG] ollama compat endpoint failed: %v", err)

	forceCPU := isGPUError(err)
	payload, err := nativePayload(model, messages, params, forceCPU)
	if err != nil {
		return entities.Failure(err)
	}
	text, nativeErr := p.chatNative(ctx, payload)
	if nativeErr == nil {
		return entities.Success(text, model)
	}

	if !forceCPU && isGPUError(nativeErr) {
		log.Printf("[WARN] ollama GPU failure, retrying on CPU: %v", nativeErr)
		payload, err = sjson.SetBytes(payload, "options.num_gpu", 0)
		if err != nil {
			return entities.Failure(fmt.Errorf("setting num_gpu: %w", err))
		}
		if text, err := p.chatNative(ctx, payload); err == nil {
			return entities.Success(text, model)
		}
	}
	return entities.Failure(nativeErr)
}

func (p *OllamaProvider) chatCompat(ctx context.Context, model string, messages []entities.Message, params entities.GenerationParams) (string, error) {
	msgs := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = goopenai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	resp, err := p.compat.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: float32(params.Temperature),
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("empty response from /v1/chat/completions")
	}
	return resp.Choices[0].Message.Content, nil
}

// ollamaChatRequest is the native /api/chat request format.
type ollamaChatRequest struct {
	Model    string             `json:"model"`
	Messages []entities.Message `json:"messages"`
	Options  map[string]any     `json:"options"`
	Stream   bool               `json:"stream"`
}

func nativePayload(model string, messages []entities.Message, params entities.GenerationParams, forceCPU bool) ([]byte, error) {
	opts := map[string]any{
		"temperature": params.Temperature,
		"num_predict": params.MaxTokens,
	}
	if forceCPU {
		opts["num_gpu"] = 0
	}
	data, err := json.Marshal(ollamaChatRequest{Model: model, Messages: messages, Options: opts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	return data, nil
}

func (p *OllamaProvider) chatNative(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling Ollama: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if msg := gjson.GetBytes(body, "error").String(); msg != "" {
			return "", fmt.Errorf("Ollama returned status %d: %s", resp.StatusCode, msg)
		}
		return "", fmt.Errorf("Ollama returned status %d: %s", resp.StatusCode, truncate(string(body), 500))
	}

	if msg := gjson.GetBytes(body, "error").String(); msg != "" {
		return "", fmt.Errorf("Ollama error: %s", msg)
	}
	content := gjson.GetBytes(body, "message.content").String()
	if strings.TrimSpace(content) == "" {
		return "", errors.New("empty response from /api/chat")
	}
	return content, nil
}

func isGPUError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, k := range gpuErrors {
		if strings.Contains(msg, k) {
			return true
		}
	}
	return false
}

// truncate keeps at most n characters of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
