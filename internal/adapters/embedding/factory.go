package embedding

import (
	"fmt"

	"github.com/linyone/chatrag/internal/domain/entities"
	"github.com/linyone/chatrag/internal/domain/ports"
)

// Encoder provider identifiers, as recorded in model.json.
const (
	ProviderHash   = "hash"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Options carries endpoint settings the factory may need.
type Options struct {
	OllamaBaseURL string
	OpenAI        OpenAIConfig
}

// New builds the encoder described by info. The serving side calls this with
// the ModelInfo read from the published artifacts so that query vectors live
// in the same space as the indexed ones.
func New(info entities.ModelInfo, opts Options) (ports.EmbeddingService, error) {
	switch info.Provider {
	case ProviderHash, "":
		return NewHashingAdapter(info.Dimension), nil
	case ProviderOllama:
		a := NewOllamaAdapter(opts.OllamaBaseURL, info.Model)
		a.dimension = info.Dimension
		return a, nil
	case ProviderOpenAI:
		cfg := opts.OpenAI
		cfg.Model = info.Model
		a, err := NewOpenAIAdapter(cfg)
		if err != nil {
			return nil, err
		}
		a.dimension = info.Dimension
		return a, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", info.Provider)
	}
}
