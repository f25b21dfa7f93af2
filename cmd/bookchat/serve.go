package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suPer8Hu/book-chat/internal/ai"
	"github.com/suPer8Hu/book-chat/internal/auth"
	"github.com/suPer8Hu/book-chat/internal/chat"
	"github.com/suPer8Hu/book-chat/internal/config"
	"github.com/suPer8Hu/book-chat/internal/conversation"
	"github.com/suPer8Hu/book-chat/internal/db"
	"github.com/suPer8Hu/book-chat/internal/httpapi"
	"github.com/suPer8Hu/book-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/book-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/book-chat/internal/logging"
	"github.com/suPer8Hu/book-chat/internal/metrics"
	"github.com/suPer8Hu/book-chat/internal/ratelimit"
	"github.com/suPer8Hu/book-chat/internal/retrieval"
	"github.com/suPer8Hu/book-chat/internal/store/rabbitmq"
	"github.com/suPer8Hu/book-chat/internal/store/redisstore"
	"github.com/suPer8Hu/book-chat/internal/worker"
)

const (
	janitorEvery    = time.Minute
	embedCacheTTL   = 30 * 24 * time.Hour
	shutdownTimeout = 15 * time.Second
)

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the job worker when RABBIT_URL is set)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides HTTP_ADDR")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	if cfg.UsesDefaultJWTSecret() {
		log.Warn("JWT_SECRET is the built-in development default; set it before exposing the server")
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(gdb) }()
	if err := db.Migrate(gdb); err != nil {
		return err
	}

	tokens := auth.NewRegistry(auth.NewJWTSigner(cfg.JWTSecret, cfg.SessionTTL), janitorEvery,
		auth.WithRegistryLogger(log))
	defer tokens.Close()
	authSvc := auth.NewService(auth.NewRepo(gdb), auth.NewHasher(cfg.BcryptCost), tokens, log)

	limiter := ratelimit.New(cfg.RateLimit, cfg.RateWindow, ratelimit.WithJanitor(janitorEvery))
	defer limiter.Close()

	catalog, err := loadCatalog(cfg.BooksFile)
	if err != nil {
		return err
	}

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	cache, closeCache, err := newEmbeddingCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	rankOpts := []retrieval.Option{retrieval.WithTopK(cfg.RetrievalTopK), retrieval.WithLogger(log)}
	if cache != nil {
		rankOpts = append(rankOpts, retrieval.WithCache(cache))
	}
	ranker := retrieval.NewRanker(embedder, rankOpts...)
	log.Info("retrieval ready",
		zap.String("embedder", embedder.Name()),
		zap.String("cache", cfg.EmbedCache),
		zap.Int("top_k", ranker.TopK()),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	deps := chat.Deps{
		Tokens:   tokens,
		Limiter:  limiter,
		Store:    conversation.NewStore(),
		Catalog:  catalog,
		Ranker:   ranker,
		Provider: ai.Routed{Registry: newProviders(cfg), Name: cfg.AIProvider, Model: cfg.AIModel},
	}

	var (
		publisher *rabbitmq.Publisher
		consumer  *rabbitmq.Consumer
	)
	if cfg.RabbitURL != "" {
		publisher, err = rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return err
		}
		defer func() { _ = publisher.Close() }()
		consumer, err = rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency)
		if err != nil {
			return err
		}
		defer func() { _ = consumer.Close() }()
		deps.Jobs = chat.NewRepo(gdb)
		deps.Publisher = publisher
	}

	svc := chat.NewService(deps,
		chat.WithGenerationTimeout(cfg.GenerationTimeout),
		chat.WithHistoryTurns(cfg.ChatHistoryTurns),
		chat.WithAnonymousByAddr(cfg.RateLimitAnonIP),
		chat.WithMetrics(rec),
		chat.WithLogger(log),
	)

	ipLimit := middleware.NewIPLimiter(cfg.IPRatePerSec, cfg.IPRateBurst, janitorEvery)
	defer ipLimit.Stop()

	h := handlers.NewHandler(authSvc, svc, catalog, int(cfg.SessionTTL/time.Second), cfg.CookieSecure, log)
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.RouterDeps{
			Handler:  h,
			Sessions: tokens,
			IPLimit:  ipLimit,
			Gatherer: reg,
			Metrics:  rec,
			Log:      log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	if consumer != nil {
		pool := worker.NewPool(cfg.WorkerConcurrency, svc.ProcessJob, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Run(ctx, worker.FromAMQP(ctx, consumer.Deliveries()))
		}()
		log.Info("worker started", zap.String("queue", cfg.RabbitQueue), zap.Int("concurrency", cfg.WorkerConcurrency))
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.Int("books", len(catalog.All())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	wg.Wait()
	return nil
}

func newProviders(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("ollama", func(_ context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	reg.Register("openrouter", func(_ context.Context, model string) (ai.Provider, error) {
		if cfg.OpenRouterAPIKey == "" {
			return nil, errors.New("OPENROUTER_API_KEY is not set")
		}
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	return reg
}

func newEmbedder(ctx context.Context, cfg config.Config) (ai.Embedder, error) {
	switch strings.ToLower(cfg.EmbedProvider) {
	case "", "ollama":
		p := ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel)
		if cfg.EmbedModel != "" {
			p.EmbedModel = cfg.EmbedModel
		}
		return p, nil
	case "genai", "gemini":
		e, err := ai.NewGenAIEmbedder(ctx, cfg.GenAIAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unsupported EMBED_PROVIDER %q", cfg.EmbedProvider)
	}
}

// newEmbeddingCache returns a nil cache for EMBED_CACHE=none.
func newEmbeddingCache(ctx context.Context, cfg config.Config) (retrieval.EmbeddingCache, func(), error) {
	switch strings.ToLower(cfg.EmbedCache) {
	case "", "memory":
		return retrieval.NewMemoryCache(), func() {}, nil
	case "redis":
		s, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, embedCacheTTL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "none", "off":
		return nil, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported EMBED_CACHE %q", cfg.EmbedCache)
	}
}
