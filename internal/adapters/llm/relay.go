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

	"github.com/tidwall/gjson"

	"github.com/linyone/chatrag/internal/domain/entities"
)

// softRefusalText replaces an empty relay answer. It tells the user, in
// Burmese, that the question could not be answered safely and asks them to
// rephrase; the English line follows.
const softRefusalText = "မင်းမေးခဲ့တဲ့အကြောင်းအရာကို လုံခြုံရေးနဲ့ ကိုယ်ရေးအချက်အလက် ထိခိုက်နိုင်လို့ " +
	"အတိအကျဖြေပါမယ်လို့ မမြင်လို့ပါ။ အခြားပုံစံနဲ့ သို့မဟုတ် အခြားမေးခွန်းနဲ့ စမ်းမေးကြည့်ပါမလား။\n" +
	"I couldn't answer that safely. Could you try asking in a different way?"

// RelayConfig configures the Gemini relay provider.
type RelayConfig struct {
	URL     string // edge function endpoint; empty disables the provider
	AnonKey string
	Model   string
	Timeout time.Duration
}

// RelayProvider forwards the prompt to a remote edge function that calls
// Gemini and answers {"content": "...", "model": "..."}.
type RelayProvider struct {
	url     string
	anonKey string
	model   string
	client  *http.Client
}

// NewRelayProvider creates the provider.
func NewRelayProvider(cfg RelayConfig) *RelayProvider {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &RelayProvider{
		url:     strings.TrimSpace(cfg.URL),
		anonKey: strings.TrimSpace(cfg.AnonKey),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Name implements ports.Provider.
func (p *RelayProvider) Name() string { return "gemini" }

// Configured implements ports.Provider.
func (p *RelayProvider) Configured() bool { return p.url != "" }

// HasAuth reports whether requests carry the anon key.
func (p *RelayProvider) HasAuth() bool { return p.anonKey != "" }

type relayRequest struct {
	Messages    []entities.Message `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
	Model       string             `json:"model"`
}

// Attempt implements ports.Provider. An empty answer without an error field
// is a soft refusal and still ends the cascade.
func (p *RelayProvider) Attempt(ctx context.Context, messages []entities.Message, params entities.GenerationParams) entities.Attempt {
	if p.url == "" {
		return entities.Failure(errors.New("relay URL not configured"))
	}
	jsonData, err := json.Marshal(relayRequest{
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Model:       p.model,
	})
	if err != nil {
		return entities.Failure(fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(jsonData))
	if err != nil {
		return entities.Failure(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.anonKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.anonKey)
		req.Header.Set("apikey", p.anonKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return entities.Failure(fmt.Errorf("calling relay: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return entities.Failure(fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return entities.Failure(fmt.Errorf("Gemini edge error %d: %s", resp.StatusCode, truncate(string(body), 500)))
	}
	if !gjson.ValidBytes(body) {
		return entities.Failure(fmt.Errorf("invalid relay payload: %s", truncate(string(body), 500)))
	}

	payload := gjson.ParseBytes(body)
	if text := strings.TrimSpace(payload.Get("content").String()); text != "" {
		return entities.Success(text, p.model)
	}

	log.Printf("[WARN] Empty Gemini content, raw edge payload: %s", body)
	if e := payload.Get("error"); truthy(e) {
		return entities.Failure(fmt.Errorf("Gemini edge error payload: %s", e.String()))
	}
	return entities.SoftRefusal(softRefusalText, p.model)
}

// truthy reports whether a JSON value is set to something non-empty.
func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.String:
		return v.Str != ""
	case gjson.Number:
		return v.Num != 0
	case gjson.JSON:
		return v.Raw != "{}" && v.Raw != "[]"
	default:
		return false
	}
}
