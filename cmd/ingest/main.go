package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/lexscholar/lexscholar/internal/ai"
	"github.com/lexscholar/lexscholar/internal/config"
	"github.com/lexscholar/lexscholar/internal/ingest"
	"github.com/lexscholar/lexscholar/internal/store"
	"github.com/lexscholar/lexscholar/internal/textproc"
)

func main() {
	fs := pflag.NewFlagSet("lexscholar-ingest", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).
		With().Timestamp().Logger()

	root := cfg.IngestRoot
	if fs.NArg() > 0 {
		root = fs.Arg(0)
	}
	if root == "" {
		log.Fatal("no directory to ingest: pass a path or set --ingest-root")
	}
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		log.Fatalf("not a directory: %s", root)
	}

	clientConfig := &ai.ClientConfig{
		APIKey:     cfg.APIKey,
		EmbedModel: cfg.EmbedModel,
		ChatModel:  cfg.ChatModel,
		Dim:        cfg.Dim,
		ProjectID:  cfg.ProjectID,
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		clientConfig.Provider = ai.ProviderOpenAI
	case "vertexai", "google":
		clientConfig.Provider = ai.ProviderVertexAI
		clientConfig.Location = cfg.Location
	case "stub":
		clientConfig.Provider = ai.ProviderStub
	default:
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create model client: %v", err)
	}

	if err := st.Migrate(ctx, client.Dim()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	svc := ingest.New(st, client, textproc.ChunkConfig{
		Size:     cfg.Chunk.Size,
		Overlap:  cfg.Chunk.Overlap,
		Lookback: cfg.Chunk.Lookback,
	})

	logger.Info().Str("root", root).Str("user", cfg.IngestUser).
		Str("provider", cfg.Provider).Msg("bulk ingestion starting")

	if err := svc.Run(ctx, root, cfg.IngestUser); err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}
}
