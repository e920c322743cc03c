package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"spectrum/internal/config"
	"spectrum/internal/domain/repositories"
	"spectrum/internal/handler"
	"spectrum/internal/media"
	"spectrum/internal/middleware"
	"spectrum/internal/repository/memory"
	"spectrum/internal/repository/postgres"
	"spectrum/internal/service/contextbuilder"
	"spectrum/internal/service/dialogue"
	"spectrum/internal/service/introspection"
	llmproviders "spectrum/internal/service/llm/providers"
	"spectrum/internal/service/mixer"
	"spectrum/internal/service/notify"
	"spectrum/internal/service/parser"
	"spectrum/internal/service/tools"
	"spectrum/internal/service/tools/builtin"
)

// sweepInterval is how often the background sweeper checks for expired turns.
const sweepInterval = time.Minute

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	logLevel := config.ParseLogLevel(cfg.LogLevel)
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	logOut := os.Stdout
	if cfg.LogFile != "" {
		f, err := config.SetupLogFile(cfg.LogFile, 10)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"port", cfg.Port,
		"store", cfg.DBURL,
		"llm_provider", cfg.LLMProvider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store selection: the literal "memory" URL picks the in-process store.
	var store *repositories.Store
	if cfg.UseMemoryStore() {
		store = memory.New()
		logger.Info("using in-process memory store")
	} else {
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DBURL)
		if err != nil {
			log.Fatalf("Failed to create connection pool: %v", err)
		}
		defer pool.Close()

		repoConfig := &postgres.RepositoryConfig{
			Pool:   pool,
			Tables: postgres.NewTableNames(cfg.TablePrefix()),
			Logger: logger,
		}
		if err := postgres.EnsureSchema(ctx, repoConfig); err != nil {
			log.Fatalf("Failed to ensure schema: %v", err)
		}
		store = postgres.NewStore(repoConfig)
		logger.Info("database connected", "table_prefix", cfg.TablePrefix())
	}

	persona, err := config.LoadPersona(cfg.PersonaFile)
	if err != nil {
		log.Fatalf("Failed to load persona: %v", err)
	}

	provider, err := llmproviders.New(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to setup LLM provider: %v", err)
	}

	registry := tools.NewRegistry()
	if err := builtin.Register(registry, cfg); err != nil {
		log.Fatalf("Failed to register builtin tools: %v", err)
	}
	invoker := tools.NewInvoker(registry, store.ToolCalls, logger)

	mediaStore, err := media.NewStore(cfg.MediaStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("Failed to setup media storage: %v", err)
	}

	hub := notify.NewHub(logger)
	turns := dialogue.NewTurnManager(store, cfg.ResponseWindow, logger)
	sessions := dialogue.NewSessionManager(store, cfg.SessionTimeout, logger)

	core := dialogue.NewCore(dialogue.Deps{
		Store:    store,
		Parser:   parser.New(store.Messages, logger),
		Builder:  contextbuilder.New(store.Messages, persona, cfg.MaxContextLength, logger),
		Provider: provider,
		Invoker:  invoker,
		Mixer:    mixer.New(cfg.MaxContextLength),
		Hub:      hub,
		Turns:    turns,
		Sessions: sessions,
		Config:   cfg,
		Logger:   logger,
	})
	engine := introspection.New(store, sessions, turns, invoker, provider, logger)

	go turns.Run(ctx, sweepInterval)

	h := handler.New(handler.Deps{
		Core:     core,
		Engine:   engine,
		Store:    store,
		Registry: registry,
		Invoker:  invoker,
		Hub:      hub,
		Media:    mediaStore,
		Logger:   logger,
	})
	logger.Info("services initialized")

	// Middleware chain: CORS → request log → recovery → routes.
	var root http.Handler = h.Routes()
	root = middleware.Recovery(logger)(root)
	root = middleware.RequestLogger(logger)(root)
	root = cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	}).Handler(root)

	server := &http.Server{
		Addr:         cfg.Host + ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // long-lived WebSocket connections
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
	logger.Info("server stopped")
}
