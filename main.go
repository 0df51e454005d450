package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/johnwmail/pastebin-lite/config"
	"github.com/johnwmail/pastebin-lite/handlers"
	"github.com/johnwmail/pastebin-lite/internal/events"
	"github.com/johnwmail/pastebin-lite/internal/logging"
	"github.com/johnwmail/pastebin-lite/internal/metrics"
	"github.com/johnwmail/pastebin-lite/internal/services"
	"github.com/johnwmail/pastebin-lite/storage"
	"github.com/johnwmail/pastebin-lite/utils"
	"github.com/johnwmail/pastebin-lite/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	// Lambda imports (only used when in Lambda mode)
	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
)

// Version/build info (set via -ldflags at build time)
var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "none"
)

// Lambda-specific variables
var (
	ginLambdaV1   *ginadapter.GinLambda
	ginLambdaV2   *ginadapter.GinLambdaV2
	ginLambdaOnce sync.Once
	lambdaLogger  = zap.NewNop()
)

// isLambdaEnvironment detects if running in AWS Lambda
func isLambdaEnvironment() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

func main() {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	cfg.Version = Version
	cfg.BuildTime = BuildTime
	cfg.CommitHash = CommitHash

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Pastebin starting",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", CommitHash))

	// Set Gin mode based on environment
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	logStartupConfig(logger, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.NewStore(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.String("type", cfg.StorageType), zap.Error(err))
	}

	publisher := newPublisher(cfg, logger)

	router, err := setupRouter(store, publisher, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to set up router", zap.Error(err))
	}

	// Check if running in Lambda environment
	if isLambdaEnvironment() {
		logger.Info("Starting in AWS Lambda mode")
		lambdaLogger = logger
		ginLambdaOnce.Do(func() {
			ginLambdaV1 = ginadapter.New(router)
			ginLambdaV2 = ginadapter.NewV2(router)
		})
		lambda.Start(lambdaHandler)
		return
	}

	// Run in container/server mode
	logger.Info("Starting in HTTP server mode")
	runHTTPServer(router, cfg, store, publisher, logger)
}

// logStartupConfig prints the effective settings, with credentials masked,
// outside release mode or when debug logging is on
func logStartupConfig(logger *zap.Logger, cfg *config.Config) {
	if !utils.IsDebugEnabled(cfg.LogLevel) {
		return
	}
	logger.Info("Loaded config",
		zap.String("storage_type", cfg.StorageType),
		zap.String("database_dsn", utils.RedactURL(cfg.DatabaseDSN)),
		zap.String("mongodb_uri", utils.RedactURL(cfg.MongoDBURI)),
		zap.String("redis_url", utils.RedactURL(cfg.RedisURL)),
		zap.String("rabbitmq_url", utils.RedactURL(cfg.RabbitMQURL)),
		zap.Bool("test_mode", cfg.TestMode),
		zap.Int64("max_body_bytes", cfg.MaxBodyBytes),
		zap.Duration("lock_timeout", cfg.LockTimeout))
}

// newPublisher connects to RabbitMQ when configured. A broker that cannot be
// reached only disables events.
func newPublisher(cfg *config.Config, logger *zap.Logger) events.Publisher {
	if cfg.RabbitMQURL == "" {
		return events.NewNoop()
	}
	publisher, err := events.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
	if err != nil {
		logger.Warn("RabbitMQ unavailable, paste events disabled", zap.Error(err))
		return events.NewNoop()
	}
	logger.Info("Publishing paste events", zap.String("exchange", cfg.RabbitMQExchange))
	return publisher
}

// lambdaHandler handles Lambda requests for both v1 and v2 formats
func lambdaHandler(ctx context.Context, event interface{}) (interface{}, error) {
	if ginLambdaV1 == nil || ginLambdaV2 == nil {
		return nil, errors.New("lambda adapters are not initialized")
	}

	// Convert event to JSON bytes for parsing
	eventBytes, err := json.Marshal(event)
	if err != nil {
		lambdaLogger.Error("Failed to marshal event", zap.Error(err))
		return lambdaevents.APIGatewayV2HTTPResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       "Failed to process event",
			Headers:    map[string]string{"Content-Type": "text/plain"},
		}, err
	}

	// Try to parse as APIGatewayV2HTTPRequest first (for Lambda Function URLs and HTTP API)
	var reqV2 lambdaevents.APIGatewayV2HTTPRequest
	if err := json.Unmarshal(eventBytes, &reqV2); err == nil && reqV2.RequestContext.HTTP.Method != "" {
		lambdaLogger.Debug("Handling as APIGatewayV2HTTPRequest",
			zap.String("method", reqV2.RequestContext.HTTP.Method),
			zap.String("path", reqV2.RawPath))
		return ginLambdaV2.ProxyWithContext(ctx, reqV2)
	}

	// Try to parse as APIGatewayProxyRequest (for REST API and ALB)
	var reqV1 lambdaevents.APIGatewayProxyRequest
	if err := json.Unmarshal(eventBytes, &reqV1); err == nil && reqV1.HTTPMethod != "" {
		lambdaLogger.Debug("Handling as APIGatewayProxyRequest",
			zap.String("method", reqV1.HTTPMethod),
			zap.String("path", reqV1.Path))
		return ginLambdaV1.ProxyWithContext(ctx, reqV1)
	}

	lambdaLogger.Warn("Unable to parse event as APIGateway v1 or v2 format", zap.ByteString("event", eventBytes))

	// Console test events carry key1/key2/key3
	var testEvent map[string]interface{}
	if err := json.Unmarshal(eventBytes, &testEvent); err == nil {
		if _, hasKey1 := testEvent["key1"]; hasKey1 {
			return lambdaevents.APIGatewayV2HTTPResponse{
				StatusCode: http.StatusOK,
				Body:       `{"message": "pastebin Lambda function is working! Use a real HTTP request or API Gateway integration."}`,
				Headers:    map[string]string{"Content-Type": "application/json"},
			}, nil
		}
	}

	return lambdaevents.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "Unsupported event type - this function expects API Gateway or Lambda Function URL events",
		Headers:    map[string]string{"Content-Type": "text/plain"},
	}, fmt.Errorf("unsupported event type: %T", event)
}

// setupRouter creates and configures the Gin router
func setupRouter(store storage.PasteStore, publisher events.Publisher, cfg *config.Config, logger *zap.Logger) (*gin.Engine, error) {
	tmpl, err := web.Templates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	// Initialize service
	pasteService := services.NewPasteService(store, cfg, publisher, logger)

	// Initialize handlers
	pasteHandler := handlers.NewPasteHandler(pasteService, cfg, logger)
	systemHandler := handlers.NewSystemHandler(pasteService, logger)
	webuiHandler := handlers.NewWebUIHandler(cfg)

	// Create Gin router
	router := gin.New()
	router.Use(logging.GinLogger(logger))
	router.Use(jsonRecovery(logger))
	if cfg.EnableMetrics {
		router.Use(metrics.GinMiddleware())
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	router.SetHTMLTemplate(tmpl)

	// Web UI routes
	router.GET("/", webuiHandler.Index)
	router.GET("/p/:id", pasteHandler.View)

	// API routes
	api := router.Group("/api")
	api.GET("/healthz", systemHandler.Health)
	api.GET("/pastes", webuiHandler.Index)
	api.POST("/pastes", pasteHandler.Create)
	api.GET("/pastes/:id", pasteHandler.Fetch)

	// Global 404 handler
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Resource not found"})
	})

	return router, nil
}

// jsonRecovery returns a middleware that recovers from panics and answers
// with a JSON error body
func jsonRecovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
		}()
		c.Next()
	}
}

// runHTTPServer starts the HTTP server for container mode
func runHTTPServer(router *gin.Engine, cfg *config.Config, store storage.PasteStore, publisher events.Publisher, logger *zap.Logger) {
	// Ensure cleanup on exit
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("Error closing event publisher", zap.Error(err))
		}
		if err := store.Close(); err != nil {
			logger.Warn("Error closing storage", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting pastebin server", zap.Int("port", cfg.Port))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	} else {
		logger.Info("Server shutdown complete")
	}
}
