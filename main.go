package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nevis-proxy/config"
	"nevis-proxy/observability"
	"nevis-proxy/providers"
	"nevis-proxy/quota"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	envMissing := godotenv.Load() != nil

	cfg, err := config.Load()
	if err != nil {
		observability.InitLogger(false)
		observability.Fatal("invalid configuration", "error", err)
	}

	observability.InitLogger(cfg.HTTP.Production)
	observability.InitMetrics()
	if envMissing {
		observability.Info("no .env file found, using environment variables")
	}

	ctx := context.Background()

	entries, err := buildAdapters(ctx, cfg)
	if err != nil {
		observability.Fatal("failed to initialize provider adapters", "error", err)
	}

	breakers := providers.NewBreakerRegistry(providers.DefaultBreakerConfig)
	orch, err := providers.NewOrchestrator(
		providers.OrchestratorConfig{
			AttemptTimeout:  time.Duration(cfg.Fallback.AttemptTimeoutSeconds) * time.Second,
			OverallTimeout:  time.Duration(cfg.Fallback.OverallTimeoutSeconds) * time.Second,
			AttemptUnusable: cfg.Fallback.AttemptUnusable,
			ProxyEnabled:    cfg.Proxy.Enabled,
		},
		breakers,
		providers.HealthThresholds{
			ConsecutiveFailureLimit: cfg.Health.ConsecutiveFailureLimit,
			ErrorRateWindow:         cfg.Health.ErrorRateWindow,
			ErrorRateLimit:          cfg.Health.ErrorRateLimit,
			DefaultCooldown:         time.Duration(cfg.Health.CooldownSeconds) * time.Second,
		},
		entries,
	)
	if err != nil {
		// A deployment that cannot serve a capability must refuse to start.
		observability.Fatal("failed to initialize orchestrator", "error", err)
	}

	quotaTracker := quota.NewTracker(cfg.Quota.MonthlyLimit)
	handler := NewAPIHandler(orch, quotaTracker, cfg)
	router := NewRouter(handler, cfg)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(cfg.Fallback.OverallTimeoutSeconds+30) * time.Second,
	}

	go func() {
		observability.Info("starting server",
			"addr", cfg.HTTP.Addr,
			"providers", len(entries),
			"proxy_enabled", cfg.Proxy.Enabled)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observability.Fatal("server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.Info("shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.Fatal("server forced to shutdown", "error", err)
	}

	observability.Info("server stopped")
}

// buildAdapters constructs an adapter for every provider with credentials
// configured. Providers without credentials are skipped, not errors; the
// orchestrator decides whether the resulting set can serve all capabilities.
func buildAdapters(ctx context.Context, cfg *config.Config) ([]providers.Entry, error) {
	var entries []providers.Entry

	if cfg.HasGemini() {
		gemini, err := providers.NewGeminiAdapter(providers.GeminiOptions{
			APIKeys:      cfg.Gemini.APIKeys,
			TextModel:    cfg.Gemini.TextModel,
			ImageModel:   cfg.Gemini.ImageModel,
			BaseURL:      cfg.Gemini.BaseURL,
			ProxyBaseURL: cfg.Proxy.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, providers.Entry{Adapter: gemini, Priority: cfg.Gemini.Priority})
		observability.Info("registered provider", "provider", "gemini", "credentials", len(cfg.Gemini.APIKeys))
	}

	if cfg.HasOpenAI() {
		oa, err := providers.NewOpenAIAdapter(providers.OpenAIOptions{
			APIKeys:    cfg.OpenAI.APIKeys,
			Model:      cfg.OpenAI.Model,
			ImageModel: cfg.OpenAI.ImageModel,
			MaxTokens:  cfg.OpenAI.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, providers.Entry{Adapter: oa, Priority: cfg.OpenAI.Priority})
		observability.Info("registered provider", "provider", "openai", "credentials", len(cfg.OpenAI.APIKeys))
	}

	if cfg.HasAnthropic() {
		an, err := providers.NewAnthropicAdapter(providers.AnthropicOptions{
			APIKeys:   cfg.Anthropic.APIKeys,
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, providers.Entry{Adapter: an, Priority: cfg.Anthropic.Priority})
		observability.Info("registered provider", "provider", "anthropic", "credentials", len(cfg.Anthropic.APIKeys))
	}

	if cfg.HasBedrock() {
		br, err := providers.NewBedrockAdapter(ctx, providers.BedrockOptions{
			Region:       cfg.Bedrock.Region,
			ModelID:      cfg.Bedrock.ModelID,
			ImageModelID: cfg.Bedrock.ImageModelID,
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, providers.Entry{Adapter: br, Priority: cfg.Bedrock.Priority})
		observability.Info("registered provider", "provider", "bedrock", "region", cfg.Bedrock.Region)
	}

	return entries, nil
}
