package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/juanibianchi/coro/config"
	"github.com/juanibianchi/coro/internal/auth"
	"github.com/juanibianchi/coro/internal/dispatch"
	"github.com/juanibianchi/coro/internal/gateway"
	"github.com/juanibianchi/coro/internal/httpclient"
	"github.com/juanibianchi/coro/internal/provider"
	"github.com/juanibianchi/coro/internal/provider/cerebras"
	"github.com/juanibianchi/coro/internal/provider/deepseek"
	"github.com/juanibianchi/coro/internal/provider/gemini"
	"github.com/juanibianchi/coro/internal/provider/groq"
	"github.com/juanibianchi/coro/internal/ratelimit"
	"github.com/juanibianchi/coro/internal/search"
	"github.com/juanibianchi/coro/internal/telemetry"
)

// modelOrder fixes the registration (and /models listing) order.
var modelOrder = []string{"gemini", "llama-70b", "llama-8b", "mixtral", "deepseek"}

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// 2. Logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_PRETTY") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	for key, configured := range cfg.APIKeysStatus() {
		log.Info().Str("key", key).Bool("configured", configured).Msg("provider credential")
	}

	// 3. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("coro-gateway", cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer shutdownTracer()

	// 4. Init rate limiter (connects to Redis, or degrades to in-process)
	ctx := context.Background()
	limiter := ratelimit.New(ctx, cfg.RedisURL, cfg.RateLimits, cfg.PremiumSessionTTL)
	defer limiter.Close()

	// 5. Shared outbound transport
	outbound := httpclient.New(httpclient.Config{
		MaxConnections:     cfg.MaxConnections,
		MaxIdleConnections: cfg.MaxIdleConnections,
		ConnectTimeout:     cfg.ConnectTimeout,
		ReadTimeout:        cfg.ReadTimeout,
		WriteTimeout:       cfg.WriteTimeout,
		RetryAttempts:      cfg.RetryAttempts,
		RetryMinBackoff:    cfg.RetryMinBackoff,
		RetryMaxBackoff:    cfg.RetryMaxBackoff,
	})
	defer outbound.Close()

	// 6. Provider clients and the model registry
	geminiClient := gemini.New(cfg.GeminiAPIKey, outbound)
	groqClient := groq.New(cfg.GroqAPIKey, outbound)
	deepseekClient := deepseek.New(cfg.DeepSeekAPIKey, outbound)
	cerebrasClient := cerebras.New(cfg.CerebrasAPIKey, outbound)

	registry := provider.NewRegistry()
	for _, id := range modelOrder {
		m := config.Models[id]
		info := provider.ModelInfo{
			ID:            m.ID,
			Name:          m.Name,
			Provider:      m.Provider,
			Cost:          m.Cost,
			UpstreamModel: m.UpstreamModel,
		}

		var client provider.Client
		switch m.Provider {
		case "Google":
			client = geminiClient
		case "Groq":
			client = groqClient
		case "DeepSeek":
			client = deepseekClient
		default:
			log.Fatal().Str("model", id).Str("provider", m.Provider).Msg("no client for provider")
		}

		// Cerebras serves the fast 8B model when its key is configured.
		if id == "llama-8b" && cfg.CerebrasAPIKey != "" {
			client = cerebrasClient
			info.Provider = "Cerebras"
			info.UpstreamModel = "llama3.1-8b"
			log.Info().Msg("serving llama-8b from Cerebras")
		}

		registry.Register(info, client)
	}

	// 7. Dispatcher
	tracer := otel.GetTracerProvider().Tracer("coro-gateway")
	dispatcher := dispatch.New(registry, tracer)

	// 8. Identity verification and search
	verifier := auth.NewAppleVerifier(cfg.AppleClientID, cfg.AppleSkipVerification, outbound.Raw())
	searchSvc := search.New(cfg.TavilyAPIKey, cfg.TavilyEndpoint, outbound.Raw())

	// 9. HTTP surface
	handler := gateway.NewHandler(dispatcher, registry, limiter, verifier, searchSvc, cfg.PremiumSessionTTL)
	router := handler.Router(gateway.Admission(limiter, cfg.MasterAPIToken))

	// 10. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("gateway starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	log.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server stopped")
}
