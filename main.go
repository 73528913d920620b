package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messenger-service/internal/config"
	"messenger-service/internal/db"
	"messenger-service/internal/handlers"
	"messenger-service/internal/middleware"
	"messenger-service/internal/observability"
	"messenger-service/internal/rabbitmq"
	"messenger-service/internal/repositories"
	"messenger-service/internal/storage"
	"messenger-service/internal/telemetry"
	"messenger-service/internal/ws"
)

const serviceName = "messenger-service"

func main() {
	cfg := config.Load()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	shutdownTracer, err := observability.InitTracer(context.Background(), cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Printf("tracer shutdown: %v", err)
		}
	}()

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit.messenger", serviceName, cfg.Environment)

	if cfg.AMQPURL != "" {
		eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("event publisher unavailable, ws lifecycle events disabled: %v", err)
		} else {
			observability.SetPublisher(eventPublisher)
			defer eventPublisher.Close()
		}
	}

	uploader, err := storage.NewLocalUploader(cfg.UploadDir, cfg.UploadBaseURL)
	if err != nil {
		log.Fatalf("failed to prepare upload dir: %v", err)
	}

	userRepo := repositories.NewUserRepo(database)
	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub(cfg.TypingTTL)
	notifier := ws.NewNotifier(hub, messageRepo, cfg.DeliveryGrace)

	chatHandler := handlers.NewChatHandler(chatRepo, messageRepo, userRepo, uploader, hub, notifier, audit)
	groupHandler := handlers.NewGroupHandler(chatRepo, userRepo, uploader, notifier, audit)
	chatWS := ws.NewChatWebSocketHandler(hub, notifier, chatRepo, messageRepo, cfg.JWTSecret)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(otelgin.Middleware(serviceName))

	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret, userRepo)

	router.GET("/chats", authMiddleware, chatHandler.ListChats)
	router.POST("/chats", authMiddleware, chatHandler.StartChat)
	router.GET("/chats/:chat_id", authMiddleware, chatHandler.GetChat)
	router.POST("/chats/:chat_id/messages", authMiddleware, chatHandler.PostChatMessage)

	router.POST("/groups", authMiddleware, groupHandler.CreateGroup)
	router.PUT("/groups/:group_id", authMiddleware, groupHandler.UpdateGroup)
	router.DELETE("/groups/:group_id", authMiddleware, groupHandler.DeleteGroup)
	router.POST("/groups/:group_id/participants", authMiddleware, groupHandler.AddParticipant)
	router.DELETE("/groups/:group_id/participants", authMiddleware, groupHandler.RemoveParticipant)
	router.POST("/groups/:group_id/admins", authMiddleware, groupHandler.PromoteAdmin)

	router.GET("/ws/chats/:chat_id", chatWS.Handle)

	handlers.RegisterDebugRoutes(router, audit, hub, cfg.DebugRoutes)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.Static(cfg.UploadBaseURL, cfg.UploadDir)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
