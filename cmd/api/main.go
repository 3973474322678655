// Package main is the entry point for the crowdpark API server.
//
// It loads configuration, reads the models and static datasets into an
// immutable state snapshot, wires the prediction services behind the core
// HTTP chassis (middleware, routing, health checks) and serves requests.
//
// In local mode it runs as a standard HTTP server on the configured port.
// Inside AWS Lambda it serves API Gateway HTTP API (payload v2) events
// through the api-proxy httpadapter.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"crowdpark/internal/api/handlers"
	"crowdpark/internal/carpark"
	"crowdpark/internal/config"
	"crowdpark/internal/core"
	"crowdpark/internal/dataset"
	"crowdpark/internal/db"
	"crowdpark/internal/external"
	"crowdpark/internal/queue"
	"crowdpark/internal/state"
	"crowdpark/internal/telemetry"
)

const userAgent = "crowdpark-api/1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" && os.Getenv("APP_ENV") != "" {
		provider = config.NewSSMProvider(envOr("AWS_REGION", "ap-southeast-1"))
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("crowdpark API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"data_source", cfg.Data.Source,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients, err := newAWSClients(ctx, cfg)
	if err != nil {
		return err
	}

	srv, err := buildServer(ctx, cfg, logger, clients)
	if err != nil {
		return err
	}

	if isLambdaEnvironment() {
		return runLambda(srv, logger)
	}
	return runHTTPServer(ctx, srv, cfg, logger)
}

// awsClients are the AWS collaborators. Any of them may be nil in tests.
type awsClients struct {
	S3         dataset.S3API
	SQS        queue.SQSSender
	CloudWatch telemetry.CloudWatchClient
}

func newAWSClients(ctx context.Context, cfg *config.Config) (awsClients, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWS.Region)}
	if cfg.AWS.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return awsClients{}, fmt.Errorf("loading AWS config: %w", err)
	}

	return awsClients{
		S3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			// LocalStack serves buckets on the path, not a subdomain.
			o.UsePathStyle = cfg.AWS.EndpointURL != ""
		}),
		SQS:        sqs.NewFromConfig(awsCfg),
		CloudWatch: cloudwatch.NewFromConfig(awsCfg),
	}, nil
}

// buildServer loads the startup state and returns a server with every
// route mounted.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, clients awsClients) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	deps := state.Deps{
		Files:  dataset.NewOpener(clients.S3),
		Logger: logger,
	}

	if cfg.Data.Source == config.SourcePostgres {
		pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask(), db.PoolConfig{
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		repo := db.NewCarparkRepository(pool)
		deps.Carparks = repo
		srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{ProbeName: "database", Fn: repo.Ping})
		srv.ShutdownHooks = append(srv.ShutdownHooks, func(context.Context) error {
			pool.Close()
			return nil
		})
	}

	if cfg.Crowd.ModelBackend == config.BackendRemote || cfg.Carpark.ModelBackend == config.BackendRemote {
		deps.ModelClient = external.NewBaseClient(
			&http.Client{},
			"model-server",
			external.DefaultRetryPolicy(),
			userAgent,
			external.WithLogger(logger),
		)
	}

	loadCtx := ctx
	if cfg.Database.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, cfg.Database.LoadTimeout)
		defer cancel()
	}
	st, err := state.Load(loadCtx, cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("loading models and datasets: %w", err)
	}

	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
		ProbeName: "state",
		Fn: func(context.Context) error {
			if st.Index.Len() == 0 {
				return errors.New("no carpark locations loaded")
			}
			return nil
		},
	})
	if pingers := modelPingers(st.Classifier, st.Regressor); len(pingers) > 0 {
		srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
			ProbeName: "model-server",
			Fn: func(ctx context.Context) error {
				for _, p := range pingers {
					if err := p.Ping(ctx); err != nil {
						return err
					}
				}
				return nil
			},
		})
	}

	counter := wireMetrics(ctx, srv, cfg, logger, clients.CloudWatch)

	carparkOpts := []carpark.ServiceOption{carpark.WithLowAvailabilityCounter(counter)}
	if cfg.AWS.LowAvailabilityQueue != "" && clients.SQS != nil {
		carparkOpts = append(carparkOpts, carpark.WithAlertPublisher(
			queue.NewAlertPublisher(clients.SQS, cfg.AWS.LowAvailabilityQueue, logger),
		))
	}

	if cfg.Security.APIKeyHash.IsSet() {
		auth, err := core.NewAPIKeyAuthenticator(cfg.Security.APIKeyHash.Unmask())
		if err != nil {
			return nil, fmt.Errorf("configuring API key auth: %w", err)
		}
		srv.Authenticator = auth
	}

	crowdHandler := handlers.NewCrowdHandler(st.CrowdService(logger), srv.Validator, logger)
	carparkHandler := handlers.NewCarparkHandler(
		st.CarparkService(fallbackConfig(cfg.Fallback), logger, carparkOpts...),
		srv.Validator,
		logger,
	)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		crowdHandler.RegisterRoutes,
		carparkHandler.RegisterRoutes,
	)

	srv.MountRoutes()
	return srv, nil
}

// wireMetrics installs the request collector and returns the counter the
// carpark service reports low-availability forecasts to.
func wireMetrics(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger, client telemetry.CloudWatchClient) carpark.LowAvailabilityCounter {
	if !cfg.Observability.EnableMetrics || client == nil {
		srv.Metrics = telemetry.NopCollector{}
		return telemetry.NopCollector{}
	}

	collector := telemetry.NewCloudWatchCollector(client, cfg.Observability.MetricNamespace, logger)
	srv.Metrics = collector
	srv.ShutdownHooks = append(srv.ShutdownHooks, collector.Flush)
	go collector.Run(ctx, cfg.Observability.FlushInterval)
	return collector
}

type pinger interface {
	Ping(ctx context.Context) error
}

// modelPingers returns the models served by a remote model server.
func modelPingers(models ...any) []pinger {
	var out []pinger
	for _, m := range models {
		if p, ok := m.(pinger); ok {
			out = append(out, p)
		}
	}
	return out
}

func fallbackConfig(c config.FallbackConfig) carpark.FallbackConfig {
	return carpark.FallbackConfig{
		TriggerBelow:    c.TriggerBelow,
		Neighbors:       c.Neighbors,
		MinAvailable:    c.MinAvailable,
		MaxAlternatives: c.MaxAlternatives,
	}
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runLambda hands the router to the Lambda runtime. lambda.Start does not
// return under normal operation.
func runLambda(srv *core.Server, logger *slog.Logger) error {
	logger.Info("starting in Lambda mode")
	lambda.Start(newLambdaHandler(srv.Handler()))
	return nil
}

// newLambdaHandler converts HTTP API (payload v2) events into requests on h.
func newLambdaHandler(h http.Handler) func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	return httpadapter.NewV2(h).ProxyWithContext
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with a 10-second deadline.
	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Release server resources (DB pool, buffered metrics).
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
