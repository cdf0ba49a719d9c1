package main

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dhawalhost/vineseal/internal/audit"
	"github.com/dhawalhost/vineseal/internal/authz"
	"github.com/dhawalhost/vineseal/internal/capability"
	"github.com/dhawalhost/vineseal/internal/config"
	"github.com/dhawalhost/vineseal/internal/engine"
	"github.com/dhawalhost/vineseal/internal/envelope"
	"github.com/dhawalhost/vineseal/internal/invite"
	"github.com/dhawalhost/vineseal/internal/policy"
	"github.com/dhawalhost/vineseal/internal/relationship"
	"github.com/dhawalhost/vineseal/pkg/database"
	"github.com/dhawalhost/vineseal/pkg/logger"
	"github.com/dhawalhost/vineseal/pkg/middleware"
	"github.com/dhawalhost/vineseal/pkg/observability"
)

func main() {
	log := logger.New(logger.LevelFromEnv())

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Error("Failed to create logger", "err", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	ctx := context.Background()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    "vineseal-authzsvc",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Environment,
	}, zapLogger)
	if err != nil {
		log.Error("Failed to initialize tracing", "err", err)
		os.Exit(1)
	}
	defer shutdownTracer(ctx)

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Error("Failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	auditSvc := audit.NewService(audit.NewStore(db), zapLogger)

	policies := policy.Load(cfg.PolicyPath, zapLogger)
	eng := engine.New(policies, auditSvc, zapLogger)

	relationships := relationship.NewService(relationship.NewStore(db), auditSvc)
	capabilities := capability.NewService(capability.NewStore(db), auditSvc, zapLogger)

	codec, err := envelope.NewCodec(envelope.Config{
		Secret:            cfg.EnvelopeSecret,
		TokenType:         "invitation",
		InsecureNoEncrypt: cfg.EnvelopeInsecure,
	}, zapLogger)
	if err != nil {
		log.Error("Failed to create envelope codec", "err", err)
		os.Exit(1)
	}
	invitations := invite.NewService(codec, envelope.NewNonceStore(db), auditSvc, zapLogger)

	metrics := observability.NewMetrics()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("vineseal-authzsvc"))
	router.Use(observability.PrometheusMiddleware(metrics))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RateLimit(rate.Limit(50), 100))
	router.Use(cors.Default())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(observability.PrometheusHandler()))

	h := authz.NewHTTPHandler(eng, relationships, capabilities, invitations, auditSvc, metrics, zapLogger)
	h.RegisterRoutes(router, cfg.JWTSecret)

	log.Info("HTTP server starting", "addr", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, router); err != nil {
		log.Error("HTTP server failed", "err", err)
		os.Exit(1)
	}
}
