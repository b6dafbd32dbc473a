package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"juninpagos/backend/internal/auth"
	jwtpkg "juninpagos/backend/internal/auth/jwt"
	"juninpagos/backend/internal/config"
	"juninpagos/backend/internal/health"
	"juninpagos/backend/internal/jobs"
	"juninpagos/backend/internal/logger"
	"juninpagos/backend/internal/monitoring"
	"juninpagos/backend/internal/notify"
	"juninpagos/backend/internal/provider"
	"juninpagos/backend/internal/queue"
	"juninpagos/backend/internal/ratelimit"
	"juninpagos/backend/internal/service"
	"juninpagos/backend/internal/smtp"
	"juninpagos/backend/internal/storage"
	"juninpagos/backend/internal/storage/memory"
	"juninpagos/backend/internal/storage/postgres"
	redisstore "juninpagos/backend/internal/storage/redis"
	httptransport "juninpagos/backend/internal/transport/http"
	"juninpagos/backend/internal/websocket"
)

const version = "1.4.0"

// main 启动 HTTP API、可选的 SMTP 收件服务、定时任务和通知消费者。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.FromAppConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting juninpagos backend",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化存储层
	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, log)

	// Redis 可选：JWT 黑名单和分布式限流
	var (
		blacklist  jwtpkg.Blacklist
		limitStore ratelimit.Store
		sweeper    jobs.Sweeper
	)
	if cfg.Redis.Enabled {
		rdb, err := redisstore.New(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer func() { _ = rdb.Close() }()

		blacklist = rdb
		limitStore = ratelimit.NewRedisStore(rdb, "ratelimit:contact:")
		healthChecker.AddReadinessCheck("redis", rdb)
		log.Info("redis enabled", zap.String("address", cfg.Redis.Address))
	} else {
		memLimits := ratelimit.NewMemoryStore(cfg.RateLimit.SweepThreshold)
		limitStore = memLimits
		sweeper = memLimits
		log.Info("using in-memory rate limit store")
	}
	contactLimiter := ratelimit.New(limitStore, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)

	// 邮件服务商
	sender, fetcher, relay := newProviders(cfg, log)

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, log)

	// 新线索通知：优先走 SMTP 中继
	var notifySender provider.Sender = sender
	if relay != nil {
		notifySender = relay
	}
	notifier := notify.NewLeadNotifier(
		notifySender,
		cfg.Email.FromAddress,
		cfg.Email.FromName,
		cfg.Notify.Recipients,
		metrics,
		log,
	)

	var (
		publisher service.LeadPublisher
		consumer  *queue.Consumer
		inline    *notify.Inline
	)
	if cfg.Queue.Enabled {
		mq, err := queue.Connect(cfg.Queue.URL, log)
		if err != nil {
			log.Fatal("failed to connect to rabbitmq", zap.Error(err))
		}
		defer func() { _ = mq.Close() }()

		pub, err := mq.NewPublisher()
		if err != nil {
			log.Fatal("failed to create queue publisher", zap.Error(err))
		}
		consumer, err = mq.NewConsumer(cfg.Queue.Workers)
		if err != nil {
			log.Fatal("failed to create queue consumer", zap.Error(err))
		}
		publisher = pub
		healthChecker.AddReadinessCheck("rabbitmq", mq)
	} else {
		inline = notify.NewInline(notifier.Handle, log)
		publisher = inline
		log.Info("queue disabled, lead notifications are sent inline")
	}

	// 初始化服务层
	accountResolver := service.NewCachedAccountResolver(store, time.Minute)
	leadService := service.NewLeadService(store, cfg.Leads.DefaultRegion, publisher, wsHub, metrics, log)
	emailService := service.NewEmailService(store, sender, service.SenderIdentity{
		Address: cfg.Email.FromAddress,
		Name:    cfg.Email.FromName,
		ReplyTo: cfg.Email.ReplyTo,
	}, metrics, log)
	threadService := service.NewThreadService(store, store, metrics, log)
	templateService := service.NewTemplateService(store, log)
	accountService := service.NewAccountService(store)

	webhookOpts := service.WebhookOptions{
		SigningSecret: cfg.Webhook.SigningSecret,
		AllowUnsigned: cfg.Webhook.AllowUnsigned,
		Fetcher:       fetcher,
		Accounts:      accountResolver,
		Broadcaster:   wsHub,
		Metrics:       metrics,
	}
	webhookService, err := service.NewWebhookService(store, webhookOpts, log)
	if err != nil {
		log.Fatal("failed to initialize webhook service", zap.Error(err))
	}
	if cfg.Webhook.SigningSecret == "" && !cfg.Webhook.AllowUnsigned {
		log.Warn("webhook signing secret not configured, all provider callbacks will be rejected")
	}

	tokens := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry, blacklist)
	authService := auth.NewService(store, tokens, log)

	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("access_expiry", cfg.JWT.AccessExpiry),
		zap.Bool("revocation", blacklist != nil),
	)

	cronManager, err := jobs.NewCronManager(cfg.Jobs.DispatchSchedule, emailService, sweeper, metrics, log)
	if err != nil {
		log.Fatal("failed to initialize scheduler", zap.Error(err))
	}

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:          cfg,
		LeadService:     leadService,
		EmailService:    emailService,
		ThreadService:   threadService,
		WebhookService:  webhookService,
		TemplateService: templateService,
		AccountService:  accountService,
		AuthService:     authService,
		ContactLimiter:  contactLimiter,
		WebSocketHub:    wsHub,
		Health:          healthChecker,
		Metrics:         metrics,
		Logger:          log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 收件服务器 goroutine
	if cfg.SMTP.Enabled {
		smtpServer := smtp.NewServer(cfg.SMTP, accountResolver, webhookService, log)
		group.Go(func() error {
			return smtpServer.Run(groupCtx)
		})
	}

	// 通知消费者 goroutine
	if consumer != nil {
		group.Go(func() error {
			defer func() { _ = consumer.Close() }()
			return consumer.Run(groupCtx, notifier.Handle)
		})
	}

	// 定时任务 goroutine
	group.Go(func() error {
		return cronManager.Run(groupCtx)
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if inline != nil {
			inline.Wait()
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// openStore 根据配置选择存储：配置了数据库驱动时使用 GORM，否则使用内存存储
func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Driver == "" {
		log.Warn("using memory storage, data is lost on restart")
		return memory.NewStore(), nil
	}

	store, err := postgres.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Info("using database storage", zap.String("driver", cfg.Database.Driver))
	return store, nil
}

// newProviders 创建出站发送器、入站正文拉取器和 SMTP 中继。
//
// 配置了 Resend API Key 时 Resend 同时负责发送和拉取正文；
// 否则出站邮件走 SMTP 中继。三者都可能为 nil。
func newProviders(cfg *config.Config, log *zap.Logger) (provider.Sender, provider.ContentFetcher, provider.Sender) {
	var (
		sender  provider.Sender
		fetcher provider.ContentFetcher
		relay   provider.Sender
	)

	smtpRelay, err := provider.NewSMTPRelay(cfg.SMTPRelay, log)
	switch {
	case err == nil:
		relay = smtpRelay
		log.Info("smtp relay configured", zap.String("host", cfg.SMTPRelay.Host), zap.Int("port", cfg.SMTPRelay.Port))
	case errors.Is(err, provider.ErrNotConfigured):
	default:
		log.Warn("invalid smtp relay configuration", zap.Error(err))
	}

	if cfg.Email.ResendAPIKey != "" {
		resend, err := provider.NewResend(cfg.Email.ResendAPIKey, cfg.Email.ResendBaseURL, log)
		if err != nil {
			log.Fatal("failed to initialize resend client", zap.Error(err))
		}
		sender = resend
		fetcher = resend
	} else if relay != nil {
		sender = relay
	} else {
		log.Warn("no email provider configured, outbound emails will fail")
	}

	return sender, fetcher, relay
}
