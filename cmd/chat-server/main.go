// Command chat-server serves /health, /ready, /query and /chat.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/linyone/chatrag/internal/adapters/embedding"
	"github.com/linyone/chatrag/internal/adapters/filewatcher"
	"github.com/linyone/chatrag/internal/adapters/llm"
	"github.com/linyone/chatrag/internal/adapters/parser"
	"github.com/linyone/chatrag/internal/adapters/vectordb"
	"github.com/linyone/chatrag/internal/config"
	"github.com/linyone/chatrag/internal/domain/entities"
	"github.com/linyone/chatrag/internal/domain/ports"
	"github.com/linyone/chatrag/internal/domain/usecases"
	httpserver "github.com/linyone/chatrag/internal/infrastructure/http"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to YAML config file (optional, or CHAT_CONFIG)")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Printf("[WARN] %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[ERROR] loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := vectordb.NewArtifactStore(cfg.VectorsDir)
	retriever := usecases.NewRetriever(store, encoderFactory(cfg))
	if err := retriever.Load(ctx); err != nil {
		if errors.Is(err, vectordb.ErrArtifactsMissing) {
			log.Printf("[WARN] No index in %s. Retrieval disabled until one is built.", cfg.VectorsDir)
		} else {
			log.Printf("[WARN] Loading index failed, retrieval disabled: %v", err)
		}
	} else {
		log.Printf("[INFO] Serving index from %s", store.CurrentDir())
	}

	if cfg.WatchVectors {
		watcher, err := filewatcher.NewFSNotifyWatcher(nil)
		if err != nil {
			log.Printf("[WARN] Index hot reload disabled: %v", err)
		} else {
			defer watcher.Stop()
			events, err := watcher.Watch(ctx, cfg.VectorsDir)
			if err != nil {
				log.Printf("[WARN] Index hot reload disabled: %v", err)
			} else {
				go retriever.Follow(ctx, events, vectordb.ModelFile)
				log.Printf("[INFO] Watching %s for index rebuilds", cfg.VectorsDir)
			}
		}
	}

	cascade := usecases.NewCascade(buildProviders(cfg), llm.NewLocalFallback()).
		WithInactive(inactiveProviders(cfg.ProviderOrder)...)
	for name, ok := range cascade.Configured() {
		log.Printf("[INFO] Provider %s configured=%v", name, ok)
	}

	chat := usecases.NewChatUseCase(retriever, parser.NewExtractor(cfg.TesseractCmd), cascade)
	server := httpserver.NewServer(chat, retriever, cascade, httpserver.Options{
		Addr:         cfg.Addr,
		WriteTimeout: httpserver.WriteTimeoutFor(cfg.ProviderTimeout, cascade.MaxCalls()),
	})
	if err := server.Start(ctx); err != nil {
		log.Fatalf("[ERROR] server: %v", err)
	}
	log.Printf("[INFO] Server stopped")
}

// encoderFactory rebuilds the encoder recorded in model.json, falling back to
// the configured encoder when the index carries no model record.
func encoderFactory(cfg *config.Config) usecases.EncoderFactory {
	return func(info entities.ModelInfo) (ports.EmbeddingService, error) {
		if info.Provider == "" {
			info.Provider = cfg.Embed.Provider
			info.Model = cfg.Embed.Model
		}
		return embedding.New(info, embedding.Options{
			OllamaBaseURL: cfg.Ollama.BaseURL,
			OpenAI: embedding.OpenAIConfig{
				BaseURL: cfg.OpenAI.BaseURL,
				APIKey:  cfg.OpenAI.APIKey,
			},
		})
	}
}

// knownProviders are the names PROVIDER_ORDER may contain.
var knownProviders = []string{"gemini", "groq", "ollama"}

// inactiveProviders lists known providers missing from order.
func inactiveProviders(order []string) []string {
	listed := map[string]bool{}
	for _, name := range order {
		listed[name] = true
	}
	var out []string
	for _, name := range knownProviders {
		if !listed[name] {
			out = append(out, name)
		}
	}
	return out
}

// buildProviders returns the cascade providers in configured order.
func buildProviders(cfg *config.Config) []ports.Provider {
	var out []ports.Provider
	seen := map[string]bool{}
	for _, name := range cfg.ProviderOrder {
		if seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case "gemini":
			out = append(out, llm.NewRelayProvider(llm.RelayConfig{
				URL:     cfg.Gemini.RelayURL,
				AnonKey: cfg.Gemini.AnonKey,
				Model:   cfg.Gemini.Model,
				Timeout: cfg.ProviderTimeout,
			}))
		case "groq":
			out = append(out, llm.NewGroqProvider(llm.GroqConfig{
				APIKey:  cfg.Groq.APIKey,
				BaseURL: cfg.Groq.BaseURL,
				Model:   cfg.Groq.Model,
				Timeout: cfg.ProviderTimeout,
			}))
		case "ollama":
			out = append(out, llm.NewOllamaProvider(llm.OllamaConfig{
				BaseURL:        cfg.Ollama.BaseURL,
				EmergencyModel: cfg.Ollama.EmergencyModel,
				MentalModel:    cfg.Ollama.MentalModel,
				Timeout:        cfg.ProviderTimeout,
			}))
		default:
			log.Printf("[WARN] Unknown provider %q in PROVIDER_ORDER, ignored", name)
		}
	}
	return out
}
