package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	commonauth "chatdesk/server/common/auth"
	"chatdesk/server/common/infra/cache"
	"chatdesk/server/common/infra/changefeed"
	"chatdesk/server/common/infra/db"
	"chatdesk/server/common/infra/mq"
	"chatdesk/server/common/infra/webhook"
	commonlog "chatdesk/server/common/log"
	"chatdesk/server/common/metrics"
	"chatdesk/server/dashboard/api"
	"chatdesk/server/dashboard/phone"
	"chatdesk/server/dashboard/repository"
	"chatdesk/server/dashboard/service"
)

type Server struct {
	HTTPServer *http.Server
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	MQConn     *amqp.Connection
	Publisher  *mq.Publisher
	Hub        *service.Hub
	Poller     *service.Poller
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.PostgresDSN, int32(cfg.PostgresMaxConns))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient := cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := cache.Ping(ctx, redisClient); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	var (
		mqConn    *amqp.Connection
		publisher *mq.Publisher
		events    service.EventPublisher
	)
	if cfg.UseMQ {
		mqConn, err = mq.NewConnection(cfg.LavinMQURL)
		if err != nil {
			pool.Close()
			_ = redisClient.Close()
			return nil, fmt.Errorf("initialize lavinmq: %w", err)
		}
		publisher, err = mq.NewPublisher(mqConn, cfg.MQExchange)
		if err != nil {
			pool.Close()
			_ = redisClient.Close()
			_ = mqConn.Close()
			return nil, fmt.Errorf("initialize amqp publisher: %w", err)
		}
		events = publisher
	}

	phones := phone.Normalizer{CollapseMobileNine: cfg.CollapseMobileNine}
	feed := service.NewRedisFeed(changefeed.New(redisClient))
	contacts := repository.NewContactRepository(pool)
	messages := repository.NewMessageRepository(pool)
	transfers := repository.NewTransferRepository(pool)
	directory := repository.NewDirectoryRepository(pool)

	var notifier *service.WebhookNotifier
	if cfg.WebhookURL != "" {
		notifier = service.NewWebhookNotifier(webhook.NewClient(cfg.WebhookURL, webhook.WithTimeout(cfg.WebhookTimeout)), cfg.WebhookTimeout)
	}

	coordinator := service.NewTransferCoordinator(contacts, transfers, directory, feed, events)
	deps := service.SessionDeps{
		Contacts:           contacts,
		Messages:           messages,
		Directory:          directory,
		Feed:               feed,
		Transfers:          coordinator,
		Sender:             service.NewSender(messages, contacts, directory, feed, events, notifier),
		Tags:               service.NewTagService(contacts, feed),
		Phones:             phones,
		InitialLoadTimeout: cfg.InitialLoadTimeout,
	}
	poller := service.NewPoller(cfg.PollInterval)
	if err := poller.Start(); err != nil {
		pool.Close()
		_ = redisClient.Close()
		if publisher != nil {
			publisher.Close()
		}
		if mqConn != nil {
			_ = mqConn.Close()
		}
		return nil, fmt.Errorf("start poller: %w", err)
	}
	hub := service.NewHub(deps, poller)
	ingestor := service.NewIngestor(messages, contacts, feed, phones)
	authSvc := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)

	h := api.NewHandler(authSvc, hub, directory, ingestor, coordinator, cfg.AllowedOrigins)
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), metrics.Middleware())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.RegisterRoutes(r)

	corsOptions := cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Api-Key"},
		AllowCredentials: true,
	}
	if len(cfg.AllowedOrigins) == 0 {
		corsOptions.AllowedOrigins = []string{"*"}
		corsOptions.AllowCredentials = false
	}

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     cors.New(corsOptions).Handler(r),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	commonlog.Infof("event=server_init status=ok port=%s mq=%t webhook=%t poll_interval=%s", cfg.Port, cfg.UseMQ, cfg.WebhookURL != "", cfg.PollInterval)

	return &Server{
		HTTPServer: httpServer,
		Pool:       pool,
		Redis:      redisClient,
		MQConn:     mqConn,
		Publisher:  publisher,
		Hub:        hub,
		Poller:     poller,
	}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	if s.Poller != nil {
		s.Poller.Stop(ctx)
	}
	if s.Hub != nil {
		s.Hub.Close()
	}
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
	return err
}
