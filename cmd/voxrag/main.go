package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"voxrag/internal/assembler"
	"voxrag/internal/channel"
	"voxrag/internal/chunker"
	"voxrag/internal/config"
	"voxrag/internal/domain"
	"voxrag/internal/embedding"
	"voxrag/internal/index"
	"voxrag/internal/ingest"
	"voxrag/internal/metrics"
	"voxrag/internal/provider"
	"voxrag/internal/retriever"
	"voxrag/internal/session"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:     "voxrag",
		Short:   "voxrag: retrieval-augmented chat over your documents",
		Long:    "voxrag ingests local documents into a vector index and answers questions about them in an interactive text or voice session.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.voxrag/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(statsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	return cfg
}

func setupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogger("info")
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			for _, dir := range []string{cfg.General.DataDir, cfg.Documents.Dir} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			logger.Info("initialized",
				"config", cfgPath,
				"data", cfg.General.DataDir,
				"documents", cfg.Documents.Dir)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE:  runChat,
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Sync the document directory into the index and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigWithLogger()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := buildPipelineStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.pipeline.Sync(ctx)
			if err != nil {
				return err
			}
			if err := app.idx.Persist(ctx); err != nil {
				return fmt.Errorf("persist index: %w", err)
			}
			logger.Info("ingest finished",
				"ingested", report.Ingested,
				"skipped", report.Skipped,
				"removed", report.Removed,
				"failed", report.Failed)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigWithLogger()

			ctx := context.Background()
			app, err := buildPipelineStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			st := app.idx.Stats()
			fmt.Printf("passages:        %d\n", st.Passages)
			fmt.Printf("sources:         %d\n", st.Sources)
			fmt.Printf("embedding model: %s\n", st.ModelID)
			fmt.Printf("metric:          %s\n", st.Metric)
			return nil
		},
	}
}

func loadConfigWithLogger() *config.Config {
	setupLogger("info")
	cfg := loadConfig()
	setupLogger(cfg.General.LogLevel)
	return cfg
}

// appStack bundles the pieces shared by the chat, ingest, and stats
// commands.
type appStack struct {
	embedder domain.Embedder
	idx      *index.Durable
	pipeline *ingest.Pipeline
}

func (a *appStack) Close() {
	a.idx.Close()
}

func buildPipelineStack(ctx context.Context, cfg *config.Config) (*appStack, error) {
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	snap, err := index.NewSnapshotStore(cfg.Index.SnapshotPath, logger)
	if err != nil {
		return nil, err
	}
	mem := index.NewMemory(index.MemoryConfig{
		Metric:  index.Metric(cfg.Index.Metric),
		ModelID: embedder.ModelID(),
		Logger:  logger,
	})
	idx := index.NewDurable(mem, snap)

	// A snapshot from another embedding model or metric cannot be
	// served; start from an empty index and let ingest rebuild it.
	if err := idx.Load(ctx); err != nil {
		if !errors.Is(err, domain.ErrIndexVersionMismatch) {
			idx.Close()
			return nil, fmt.Errorf("load index snapshot: %w", err)
		}
		logger.Warn("index snapshot unusable, rebuilding from documents", "err", err)
	}

	ck, err := chunker.New(cfg.Documents.ChunkSize, cfg.Documents.ChunkOverlap)
	if err != nil {
		idx.Close()
		return nil, err
	}

	if err := os.MkdirAll(cfg.Documents.Dir, 0o755); err != nil {
		idx.Close()
		return nil, err
	}
	pipeline := ingest.NewPipeline(ingest.PipelineConfig{
		Dir:      cfg.Documents.Dir,
		Registry: ingest.NewRegistry(ingest.PlainExtractor{}),
		Chunker:  ck,
		Embedder: embedder,
		Index:    idx,
		Logger:   logger,
	})

	return &appStack{embedder: embedder, idx: idx, pipeline: pipeline}, nil
}

func buildEmbedder(cfg *config.Config) (domain.Embedder, error) {
	var embedder domain.Embedder
	switch cfg.Embedding.Kind {
	case "hash":
		embedder = embedding.NewHash(cfg.Embedding.Dimension)
	case "openai":
		embedder = embedding.NewOpenAI(embedding.OpenAIConfig{
			APIKey:  cfg.Embedding.APIKey,
			APIBase: cfg.Embedding.APIBase,
			Model:   cfg.Embedding.Model,
			Logger:  logger,
		})
	case "ollama":
		embedder = embedding.NewOllama(embedding.OllamaConfig{
			APIBase: cfg.Embedding.APIBase,
			Model:   cfg.Embedding.Model,
			Logger:  logger,
		})
	default:
		return nil, fmt.Errorf("unknown embedding kind %q", cfg.Embedding.Kind)
	}

	if ttl := cfg.Embedding.CacheTTLSeconds; ttl > 0 {
		embedder = embedding.NewCached(embedder, time.Duration(ttl)*time.Second)
	}
	return embedder, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfigWithLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildPipelineStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if _, err := app.pipeline.Sync(ctx); err != nil {
		return fmt.Errorf("initial document sync: %w", err)
	}

	if addr := cfg.General.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", metrics.Collector.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			logger.Info("metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "err", err)
			}
		}()
		defer srv.Close()
	}

	if cfg.Documents.Watch {
		watcher := ingest.NewWatcher(cfg.Documents.Dir, app.pipeline, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("document watcher stopped", "err", err)
			}
		}()
	}

	factory := provider.NewFactory(logger)
	prov, err := factory.BuildChain(cfg.LLM)
	if err != nil {
		return err
	}
	dispatcher := provider.NewDispatcher(prov, provider.DispatcherConfig{
		MaxRetries:  cfg.LLM.MaxRetries,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Logger:      logger,
	})

	var transcriber domain.Transcriber
	var synthesizer domain.Synthesizer
	if cfg.Audio.Enabled {
		transcriber = provider.NewWhisper(provider.WhisperConfig{
			APIBase: cfg.Audio.STT.APIBase,
			APIKey:  cfg.Audio.STT.APIKey,
			Model:   cfg.Audio.STT.Model,
			Logger:  logger,
		})
		synthesizer = provider.NewSpeech(provider.SpeechConfig{
			Kind:    cfg.Audio.TTS.Kind,
			APIBase: cfg.Audio.TTS.APIBase,
			APIKey:  cfg.Audio.TTS.APIKey,
			Model:   cfg.Audio.TTS.Model,
			Voice:   cfg.Audio.TTS.Voice,
			Logger:  logger,
		})
	}

	sess := session.New(session.Config{
		HistoryCap: cfg.Context.HistoryCap,
		Searcher: retriever.New(app.embedder, app.idx, retriever.Config{
			TopK:          cfg.Retrieval.TopK,
			MinScore:      cfg.Retrieval.MinScore,
			MinQueryWords: cfg.Retrieval.MinQueryWords,
			Logger:        logger,
		}),
		Builder: assembler.New(assembler.Config{
			BudgetChars: cfg.Context.BudgetChars,
			HistoryCap:  cfg.Context.HistoryCap,
			Logger:      logger,
		}),
		Generator:   dispatcher,
		Transcriber: transcriber,
		Synthesizer: synthesizer,
		Reloader:    app.pipeline,
		Stats:       app.idx,
		Logger:      logger,
	})

	cli := channel.NewCLI(channel.CLIConfig{
		Session:  sess,
		AudioDir: filepath.Join(cfg.General.DataDir, "audio"),
		Logger:   logger,
	})
	runErr := cli.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// Persist with a fresh context: the signal that ended the session
	// must not also abort the snapshot write.
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.idx.Persist(persistCtx); err != nil {
		logger.Error("persist index on exit", "err", err)
	}
	return runErr
}
