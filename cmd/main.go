package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"

	"advisor-proxy/handler"
	"advisor-proxy/internal/config"
	"advisor-proxy/internal/credentials"
	"advisor-proxy/internal/integrations/novita"
	"advisor-proxy/internal/integrations/paramstore"
	"advisor-proxy/internal/metrics"
	"advisor-proxy/internal/repository"
	"advisor-proxy/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"), os.Getenv)
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	// ---- AWS SDK config, only when something needs it ----
	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
	}

	// ---- Clients ----
	keys, err := newKeySource(cfg, awsCfg)
	if err != nil {
		logger.Error("failed to create credential source", "err", err)
		os.Exit(1)
	}

	novitaClient, err := novita.NewClient(
		novita.WithBaseURL(cfg.Novita.BaseURL),
		novita.WithTimeout(cfg.Novita.Timeout),
		novita.WithRetry(novita.RetryPolicy{
			MaxAttempts: cfg.Novita.Retry.MaxAttempts,
			Backoff:     cfg.Novita.Retry.Backoff,
		}),
	)
	if err != nil {
		logger.Error("failed to create Novita client", "err", err)
		os.Exit(1)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
		collector = metrics.New(cfg.Metrics.Namespace, registry)
	}

	useCaseOpts := []usecase.Option{
		usecase.WithLogger(logger),
		usecase.WithObserver(collector),
		usecase.WithModels(usecase.Models{
			Default: cfg.Models.Default,
			Chatbot: cfg.Models.Chatbot,
			Profile: cfg.Models.Profile,
		}),
		usecase.WithHistoryLimit(cfg.HistoryLimit),
	}
	if cfg.ProfileTable != "" {
		store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.ProfileTable)
		if err != nil {
			logger.Error("failed to create profile store", "err", err)
			os.Exit(1)
		}
		useCaseOpts = append(useCaseOpts, usecase.WithAnalysisStore(store))
	}

	// ---- Handler ----
	chatService, err := usecase.NewChatService(keys, novitaClient, useCaseOpts...)
	if err != nil {
		logger.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}
	profileService, err := usecase.NewProfileService(keys, novitaClient, useCaseOpts...)
	if err != nil {
		logger.Error("failed to create profile service", "err", err)
		os.Exit(1)
	}

	handlerOpts := []handler.Option{
		handler.WithProfile(profileService),
		handler.WithLogger(logger),
		handler.WithRequestObserver(collector),
	}
	if collector != nil {
		handlerOpts = append(handlerOpts, handler.WithMetricsHandler(collector.Handler()))
	}
	h, err := handler.NewHandler(chatService, handlerOpts...)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	logger.Info("starting advisor proxy",
		"runtime", cfg.Runtime,
		"credential_mode", cfg.Credentials.Mode,
		"profile_store", cfg.ProfileTable != "",
		"metrics", cfg.Metrics.Enabled,
	)

	if cfg.Runtime == config.RuntimeLambda {
		lambda.Start(h.Handle)
		return
	}
	if err := serveHTTP(h, cfg.Port, logger); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

// newKeySource picks the credential source once for the process lifetime.
func newKeySource(cfg *config.Config, awsCfg aws.Config) (credentials.Source, error) {
	if cfg.Credentials.Mode != credentials.ModeServer {
		return credentials.Header{}, nil
	}
	if cfg.Credentials.Param == "" {
		return credentials.NewStatic(cfg.Credentials.APIKey), nil
	}
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, err
	}
	return credentials.NewParamStore(ssmClient, cfg.Credentials.Param)
}

// serveHTTP runs the router until SIGINT or SIGTERM, then drains in-flight
// requests.
func serveHTTP(h *handler.Handler, port int, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", shutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
