package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/kdsun75/comprj/internal/chat"
	"github.com/kdsun75/comprj/internal/config"
	"github.com/kdsun75/comprj/internal/db"
	"github.com/kdsun75/comprj/internal/handlers"
	"github.com/kdsun75/comprj/internal/middleware"
	"github.com/kdsun75/comprj/internal/observability"
	"github.com/kdsun75/comprj/internal/rabbitmq"
	"github.com/kdsun75/comprj/internal/repositories"
	"github.com/kdsun75/comprj/internal/telemetry"
	"github.com/kdsun75/comprj/internal/ws"
)

const serviceName = "chat-service"

func main() {
	cfg := config.Load()

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracer(context.Background(), serviceName, cfg.TracingEndpoint)
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(ctx)
			}()
		}
	}

	database, err := db.Connect(cfg.DBDSN, logger)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)

	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, serviceName, cfg.Environment, logger)

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	inboxRepo := repositories.NewInboxRepo(database)
	userRepo := repositories.NewUserRepo(database)

	store := chat.NewStore(conversationRepo, messageRepo, inboxRepo, logger)

	hub := ws.NewHub(store, logger)

	chatHandler := handlers.NewChatHandler(store, userRepo, audit)
	conversationWS := ws.NewConversationWSHandler(hub, store, cfg.JWTSecret)
	inboxWS := ws.NewInboxWSHandler(hub, cfg.JWTSecret)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(otelgin.Middleware(serviceName))

	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret)

	router.GET("/chat/inbox", authMiddleware, chatHandler.ListInbox)
	router.POST("/chat/conversations", authMiddleware, chatHandler.StartConversation)
	router.GET("/chat/conversations/:key/messages", authMiddleware, chatHandler.GetMessages)
	router.POST("/chat/conversations/:key/messages", authMiddleware, chatHandler.PostMessage)
	router.POST("/chat/conversations/:key/read", authMiddleware, chatHandler.MarkRead)
	router.GET("/chat/unread", authMiddleware, chatHandler.UnreadTotal)

	router.GET("/ws/conversations/:key", conversationWS.Handle)
	router.GET("/ws/inbox", inboxWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	logger.Info("chat service listening", zap.String("port", cfg.Port))
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Environment == "production" {
		return zap.NewProduction()
	}
	zapCfg := zap.NewDevelopmentConfig()
	if level, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = level
	}
	return zapCfg.Build()
}
