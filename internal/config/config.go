// Package config loads service and build settings: defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EmbedConfig selects the encoder used by the index build.
type EmbedConfig struct {
	Provider  string `yaml:"provider"` // hash, ollama, openai
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// OpenAIConfig holds the OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// GroqConfig configures the Groq provider.
type GroqConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig configures the Gemini relay provider.
type GeminiConfig struct {
	RelayURL string `yaml:"relay_url"`
	AnonKey  string `yaml:"anon_key"`
	Model    string `yaml:"model"`
}

// OllamaConfig configures the local Ollama server.
type OllamaConfig struct {
	BaseURL        string `yaml:"base_url"` // empty disables it
	EmergencyModel string `yaml:"emergency_model"`
	MentalModel    string `yaml:"mental_model"`
}

// Config is the root configuration.
type Config struct {
	Addr            string        `yaml:"addr"`
	VectorsDir      string        `yaml:"vectors_dir"`
	WatchVectors    bool          `yaml:"watch_vectors"`
	Embed           EmbedConfig   `yaml:"embed"`
	OpenAI          OpenAIConfig  `yaml:"openai"`
	Groq            GroqConfig    `yaml:"groq"`
	Gemini          GeminiConfig  `yaml:"gemini"`
	Ollama          OllamaConfig  `yaml:"ollama"`
	ProviderOrder   []string      `yaml:"provider_order"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	TesseractCmd    string        `yaml:"tesseract_cmd"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Addr:         ":8000",
		VectorsDir:   "./vectors",
		WatchVectors: true,
		Embed: EmbedConfig{
			Provider:  "hash",
			Dimension: 384,
			BatchSize: 64,
		},
		Groq: GroqConfig{
			Model:   "llama-3.3-70b-versatile",
			BaseURL: "https://api.groq.com/openai/v1",
		},
		Gemini: GeminiConfig{Model: "gemini-2.5-flash"},
		Ollama: OllamaConfig{
			BaseURL:        "http://127.0.0.1:11434",
			EmergencyModel: "llama3.2:3b",
			MentalModel:    "llama3.2:3b",
		},
		ProviderOrder:   []string{"gemini", "groq", "ollama"},
		ProviderTimeout: 60 * time.Second,
		TesseractCmd:    "tesseract",
	}
}

// LoadDotEnv loads .env from the working directory if present. Variables
// already set in the environment are not overridden.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// Load builds the configuration. path may be empty, in which case
// CHAT_CONFIG is consulted; a missing file means defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CHAT_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	// nonEmpty ignores empty values so they cannot wipe a default
	nonEmpty := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		cfg.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	nonEmpty("CHAT_ADDR", &cfg.Addr)
	nonEmpty("VECTORS_DIR", &cfg.VectorsDir)
	if v, ok := lookup("VECTORS_WATCH"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("VECTORS_WATCH: %w", err)
		}
		cfg.WatchVectors = b
	}

	nonEmpty("EMBED_PROVIDER", &cfg.Embed.Provider)
	nonEmpty("EMBED_MODEL", &cfg.Embed.Model)
	for key, dst := range map[string]*int{"EMBED_DIM": &cfg.Embed.Dimension, "EMBED_BATCH": &cfg.Embed.BatchSize} {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	str("OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	nonEmpty("OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)

	str("GROQ_API_KEY", &cfg.Groq.APIKey)
	nonEmpty("GROQ_MODEL", &cfg.Groq.Model)
	nonEmpty("GROQ_BASE_URL", &cfg.Groq.BaseURL)

	str("SUPABASE_GEMINI_URL", &cfg.Gemini.RelayURL)
	str("SUPABASE_ANON_KEY", &cfg.Gemini.AnonKey)
	nonEmpty("GEMINI_MODEL", &cfg.Gemini.Model)

	// an explicitly empty OLLAMA_BASE_URL disables the provider
	str("OLLAMA_BASE_URL", &cfg.Ollama.BaseURL)
	nonEmpty("OLLAMA_MODEL_EMERGENCY", &cfg.Ollama.EmergencyModel)
	nonEmpty("OLLAMA_MODEL_MENTAL", &cfg.Ollama.MentalModel)

	if v, ok := lookup("PROVIDER_ORDER"); ok && strings.TrimSpace(v) != "" {
		cfg.ProviderOrder = splitList(v)
	}
	if v, ok := lookup("PROVIDER_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PROVIDER_TIMEOUT: %w", err)
		}
		cfg.ProviderTimeout = d
	}
	nonEmpty("TESSERACT_CMD", &cfg.TesseractCmd)
	return nil
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Addr == "" {
		cfg.Addr = d.Addr
	}
	if cfg.VectorsDir == "" {
		cfg.VectorsDir = d.VectorsDir
	}
	if cfg.Embed.Provider == "" {
		cfg.Embed.Provider = d.Embed.Provider
	}
	if cfg.Embed.Dimension <= 0 {
		cfg.Embed.Dimension = d.Embed.Dimension
	}
	if cfg.Embed.BatchSize <= 0 {
		cfg.Embed.BatchSize = d.Embed.BatchSize
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = d.ProviderTimeout
	}
	cfg.Ollama.BaseURL = strings.TrimRight(cfg.Ollama.BaseURL, "/")
	cfg.ProviderOrder = splitList(strings.Join(cfg.ProviderOrder, ","))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
