// Command build-index embeds dataset files and publishes the retrieval
// artifacts (vectors.db, meta.jsonl, model.json).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/linyone/chatrag/internal/adapters/embedding"
	"github.com/linyone/chatrag/internal/adapters/loader"
	"github.com/linyone/chatrag/internal/adapters/vectordb"
	"github.com/linyone/chatrag/internal/config"
	"github.com/linyone/chatrag/internal/domain/entities"
	"github.com/linyone/chatrag/internal/domain/usecases"
)

var defaultDatasets = []string{"../public/therapy_sessions.json", "../public/mental_qa.json"}

func main() {
	var (
		cfgPath  = flag.String("config", "", "path to YAML config file (optional, or CHAT_CONFIG)")
		out      = flag.String("out", "", "output directory (default VECTORS_DIR or ./vectors)")
		provider = flag.String("provider", "", "encoder: hash, ollama or openai (default EMBED_PROVIDER)")
		model    = flag.String("model", "", "encoder model (default EMBED_MODEL)")
		dim      = flag.Int("dim", 0, "hashing encoder dimension (default EMBED_DIM)")
		batch    = flag.Int("batch", 0, "embedding batch size (default EMBED_BATCH)")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: build-index [flags] [dataset.json ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Printf("[WARN] %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[ERROR] loading config: %v", err)
	}
	if *out != "" {
		cfg.VectorsDir = *out
	}
	if *provider != "" {
		cfg.Embed.Provider = *provider
		if *model == "" {
			cfg.Embed.Model = ""
		}
	}
	if *model != "" {
		cfg.Embed.Model = *model
	}
	if *dim > 0 {
		cfg.Embed.Dimension = *dim
	}
	if *batch > 0 {
		cfg.Embed.BatchSize = *batch
	}

	datasets := flag.Args()
	if len(datasets) == 0 {
		datasets = defaultDatasets
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, datasets); err != nil {
		if errors.Is(err, usecases.ErrNoDocuments) {
			log.Printf("[WARN] No documents found in %v. Nothing to index.", datasets)
			return
		}
		log.Fatalf("[ERROR] %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, datasets []string) error {
	records := loader.NewDatasetLoader().LoadAll(ctx, datasets)
	log.Printf("[INFO] Collected %d records from %d dataset files", len(records), len(datasets))
	if len(records) == 0 {
		return usecases.ErrNoDocuments
	}

	want := entities.ModelInfo{Model: cfg.Embed.Model, Provider: cfg.Embed.Provider}
	if want.Provider == embedding.ProviderHash {
		// remote encoders report their own dimension
		want.Dimension = cfg.Embed.Dimension
	}
	encoder, err := embedding.New(want, embedding.Options{
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OpenAI: embedding.OpenAIConfig{
			BaseURL: cfg.OpenAI.BaseURL,
			APIKey:  cfg.OpenAI.APIKey,
		},
	})
	if err != nil {
		return fmt.Errorf("creating encoder: %w", err)
	}

	builder := usecases.NewIndexBuilder(encoder, vectordb.NewArtifactStore(cfg.VectorsDir), cfg.Embed.BatchSize)
	info, err := builder.Build(ctx, records)
	if err != nil {
		return err
	}
	log.Printf("[INFO] Indexed %d records with %s/%s (dim %d) into %s",
		len(records), info.Provider, info.Model, info.Dimension, cfg.VectorsDir)
	return nil
}
