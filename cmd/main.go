package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"document-qa/internal/cache"
	"document-qa/internal/config"
	"document-qa/internal/embedding"
	"document-qa/internal/helper"
	"document-qa/internal/llmservice"
	"document-qa/internal/metrics"
	"document-qa/internal/parser"
	"document-qa/internal/rag"
	"document-qa/internal/report"
)

const configFilePath = "./configs/config.yaml"

var errEmptyQuestion = errors.New("question is empty")

type runOptions struct {
	dryRun     bool
	resetCache bool
}

func main() {
	setupLogger("info", "stdout")

	configPath := flag.String("config", configFilePath, "Path to the YAML config file")
	filePath := flag.String("file", "", "Path to the document, overrides document.path")
	dryRun := flag.Bool("dry-run", false, "Print extracted chunks as JSON and exit without calling any model")
	resetCache := flag.Bool("reset-cache", false, "Empty the embedding cache before embedding")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if *filePath != "" {
		cfg.Document.Path = *filePath
	}

	setupLogger(cfg.Log.Level, logOutput(cfg.Log.Output, *dryRun))
	if runID, err := helper.GenerateUUID(); err == nil {
		log.Logger = log.With().Str("run_id", runID).Logger()
	}
	log.Debug().Str("document", cfg.Document.Path).Str("cache", cfg.Cache.Driver).
		Str("embed_provider", cfg.EmbedLLM.Provider).Str("inference_provider", cfg.InferenceLLM.Provider).
		Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	metrics.Register()
	runErr := run(ctx, cfg, runOptions{dryRun: *dryRun, resetCache: *resetCache}, os.Stdin, os.Stdout)

	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Error().Err(err).Msg("Error writing metrics")
		}
	}
	if runErr != nil {
		stop()
		log.Fatal().Err(runErr).Msg("Run failed")
	}
}

func run(ctx context.Context, cfg *config.Config, opts runOptions, in io.Reader, out io.Writer) error {
	var recognizer parser.Recognizer
	if cfg.Extract.OCR.Enabled {
		recognizer = parser.NewTesseractRecognizer(&cfg.Extract.OCR)
	}
	extractor := parser.NewExtractor(&cfg.Extract, recognizer)

	if opts.dryRun {
		chunks, err := rag.NewRAG(extractor, nil, nil, cfg.RAG.ChunkSize).Chunks(ctx, cfg.Document.Path)
		if err != nil {
			return err
		}
		helper.PrettyPrint(out, chunks)
		return nil
	}

	question, err := readQuestion(in)
	if err != nil {
		return err
	}

	embedder, err := llmservice.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return fmt.Errorf("error initializing embedder: %w", err)
	}
	chat, err := llmservice.NewChatModel(&cfg.InferenceLLM)
	if err != nil {
		return fmt.Errorf("error initializing chat model: %w", err)
	}

	store := openCache(ctx, cfg)
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing embedding cache")
		}
	}()
	if opts.resetCache {
		if err := store.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset embedding cache: %w", err)
		}
		log.Info().Str("driver", cfg.Cache.Driver).Msg("Embedding cache reset")
	}

	r := rag.NewRAG(
		extractor,
		embedding.NewBatchEmbedder(embedder, cfg.EmbedLLM.Model, cfg.RAG.BatchSize, store),
		rag.NewRefiner(chat, &cfg.RAG, &cfg.InferenceLLM),
		cfg.RAG.ChunkSize,
	)

	if err := r.Ingest(ctx, cfg.Document.Path); err != nil {
		return err
	}

	resp, err := r.Query(ctx, question)
	if err != nil {
		return err
	}

	rendered, err := report.Render(resp.Candidates, cfg.Report.Format)
	if err != nil {
		return err
	}
	if len(resp.Candidates) == 0 {
		log.Info().Msg("Brak istotnych fragmentów do wyświetlenia.")
	}
	_, err = fmt.Fprint(out, rendered)
	return err
}

// readQuestion reads all of in; a question may span several lines.
func readQuestion(in io.Reader) (string, error) {
	fmt.Fprint(os.Stderr, "Wpisz swoje pytanie prawne: ")
	raw, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read question: %w", err)
	}
	question := strings.TrimSpace(string(raw))
	if question == "" {
		return "", errEmptyQuestion
	}
	return question, nil
}

// openCache falls back to no caching when the backend is unreachable.
func openCache(ctx context.Context, cfg *config.Config) cache.Store {
	if cfg.Cache.Driver == config.CacheChromem {
		if err := helper.CreateFolder(cfg.Cache.Path); err != nil {
			log.Warn().Err(err).Msg("Error creating cache folder")
			return cache.Nop{}
		}
	}
	store, err := cache.NewStore(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Str("driver", cfg.Cache.Driver).Msg("Embedding cache disabled")
		return cache.Nop{}
	}
	return store
}

// logOutput keeps stdout free for the chunk JSON in dry-run mode.
func logOutput(output string, dryRun bool) string {
	if dryRun {
		return "stderr"
	}
	return output
}

func setupLogger(level, output string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	out := os.Stdout
	if output == "stderr" {
		out = os.Stderr
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).With().Caller().Logger()
}
