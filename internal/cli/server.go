package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"pygrounds-generation-service/internal/app"
	"pygrounds-generation-service/internal/config"
	"pygrounds-generation-service/internal/domain"
	"pygrounds-generation-service/internal/infra/artifact"
	"pygrounds-generation-service/internal/infra/llm"
	"pygrounds-generation-service/internal/infra/memory"
	pgcatalog "pygrounds-generation-service/internal/infra/postgres"
	redisdedup "pygrounds-generation-service/internal/infra/redis"
	transport "pygrounds-generation-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the generation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var units app.UnitSource
	var fragments app.FragmentSource
	var store app.QuestionStore
	if pool != nil {
		catalog := pgcatalog.NewCatalog(pool)
		units = catalog
		fragments = catalog
		store = pgcatalog.NewQuestionStore(pool)
	} else {
		catalog := sampleCatalog()
		units = catalog
		fragments = catalog
		store = memory.NewQuestionStore()
	}

	retention := config.TTLDuration(cfg.Generation.SessionRetention, 24*time.Hour)
	var dedup app.Deduplicator
	if redisClient != nil {
		dedup = redisdedup.NewDedup(redisClient, retention)
	} else {
		dedup = memory.NewDedup()
	}

	outDir := cfg.Output.Dir
	if outDir == "" {
		outDir = "generated_questions"
	}
	artifacts, err := artifact.NewWriter(outDir)
	if err != nil {
		return err
	}

	generator := llm.NewClient(llm.Options{
		BaseURL:   cfg.LLM.BaseURL,
		APIKeyEnv: cfg.LLM.APIKeyEnv,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   config.TTLDuration(cfg.LLM.Timeout, 120*time.Second),
	})

	contextTTL := config.TTLDuration(cfg.Generation.ContextTTL, 10*time.Minute)
	retriever := app.NewRetriever(fragments, cfg.Generation.Retrieval, contextTTL)
	worker := app.NewWorker(retriever, generator, dedup, store, artifacts, cfg.Generation.MaxAttempts)
	engine := app.NewEngine(cfg.Generation, units, worker, artifacts, retention)

	handler := transport.NewHandler(engine)
	wsHandler := transport.NewWSHandler(engine)

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.HandleFunc("/ws/progress", wsHandler.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// write timeout stays off: websocket streams outlive any sane value
	}

	go func() {
		log.Printf("starting generation service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleCatalog provides a minimal subtopic catalog for running without
// Postgres; production deployments read the real catalog and rankings.
func sampleCatalog() *memory.Catalog {
	catalog := memory.NewCatalog()
	catalog.AddUnit(
		domain.Subtopic{ID: 1, Name: "Lists", Topic: "Data Structures"},
		[]domain.Fragment{
			{Text: "Lists are ordered, mutable sequences. Use append() to add to the end and insert(i, x) to add at a position.", Type: "definition", Confidence: 0.91},
			{Text: "Slicing a list with lst[a:b] returns a shallow copy of the elements from index a up to but not including b.", Type: "example", Confidence: 0.84},
		},
	)
	catalog.AddUnit(
		domain.Subtopic{ID: 2, Name: "Dictionaries", Topic: "Data Structures"},
		[]domain.Fragment{
			{Text: "Dictionaries map hashable keys to values. Lookup, insertion and deletion are average O(1).", Type: "definition", Confidence: 0.89},
			{Text: "dict.get(key, default) avoids KeyError by returning the default when the key is absent.", Type: "example", Confidence: 0.78},
		},
	)
	catalog.AddUnit(
		domain.Subtopic{ID: 3, Name: "For Loops", Topic: "Control Flow"},
		[]domain.Fragment{
			{Text: "A for loop iterates over any iterable. enumerate() yields (index, value) pairs when the position matters.", Type: "definition", Confidence: 0.87},
		},
	)
	return catalog
}
