package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"juninpagos/backend/internal/auth"
	"juninpagos/backend/internal/config"
	"juninpagos/backend/internal/health"
	"juninpagos/backend/internal/middleware"
	"juninpagos/backend/internal/monitoring"
	"juninpagos/backend/internal/ratelimit"
	"juninpagos/backend/internal/service"
	"juninpagos/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	LeadService     *service.LeadService
	EmailService    *service.EmailService
	ThreadService   *service.ThreadService
	WebhookService  *service.WebhookService
	TemplateService *service.TemplateService
	AccountService  *service.AccountService
	AuthService     *auth.Service
	ContactLimiter  *ratelimit.Limiter
	WebSocketHub    *websocket.Hub        // 可为 nil
	Health          *health.HealthChecker // 可为 nil
	Metrics         *monitoring.Metrics   // 可为 nil
	Logger          *zap.Logger
}

// adminPages 是后台 UI 的页面路径，只做会话跳转
var adminPages = []string{"/admin", "/admin/leads", "/admin/emails", "/admin/emails/compose"}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	cfg := deps.Config
	log := deps.Logger

	router := gin.New()
	// 只有配置的反向代理可以通过 X-Forwarded-For 指定客户端 IP，
	// 否则限流键可被伪造
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		log.Error("invalid trusted proxies, trusting none", zap.Strings("proxies", cfg.Server.TrustedProxies), zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, log)
	router.Use(monitor.PanicRecovery())
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.RequestLogger(log))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: cfg.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders: []string{
			"Content-Length",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
	}
	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	secure := cfg.Server.Production
	session := middleware.NewSessionActivity(cfg.Session, secure)
	jwtAuth := middleware.NewJWTAuth(deps.AuthService.Tokens(), log)

	contactHandler := NewContactHandler(deps.LeadService, deps.ContactLimiter, deps.Metrics, log)
	leadHandler := NewLeadHandler(deps.LeadService, log)
	emailHandler := NewEmailHandler(deps.EmailService, log)
	threadHandler := NewThreadHandler(deps.ThreadService, log)
	webhookHandler := NewWebhookHandler(deps.WebhookService, log)
	templateHandler := NewTemplateHandler(deps.TemplateService, deps.AccountService, log)
	authHandler := NewAuthHandler(deps.AuthService, session, secure, log)

	// ========== 运维端点 ==========
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// ========== 后台页面 ==========
	router.GET("/admin/login", adminPlaceholder("login"))
	for _, path := range adminPages {
		router.GET(path, session.Require(), adminPlaceholder(path))
	}

	api := router.Group("/api")
	{
		// ========== 公开接口 ==========
		api.POST("/contact", middleware.BodySizeLimit(middleware.SmallBodyLimit), contactHandler.Submit)
		api.GET("/contact", contactHandler.MethodNotAllowed)
		api.GET("/leads", middleware.BootstrapKey(cfg.Admin.BootstrapKey), leadHandler.Export)

		// ========== 认证 ==========
		authRoutes := api.Group("/auth")
		authRoutes.Use(middleware.SecurityHeaders())
		{
			authRoutes.POST("/login", middleware.BodySizeLimit(middleware.SmallBodyLimit), authHandler.Login)
			authRoutes.GET("/check", authHandler.Check)
			authRoutes.POST("/logout", authHandler.Logout)
		}

		// ========== 服务商回调（只认签名） ==========
		api.GET("/admin/emails/webhook", webhookHandler.Info)
		api.POST("/admin/emails/webhook", middleware.BodySizeLimit(middleware.WebhookBodyLimit), webhookHandler.Receive)

		// ========== 后台接口 ==========
		admin := api.Group("/admin")
		admin.Use(middleware.SecurityHeaders())
		admin.Use(jwtAuth.RequireAuth())
		admin.Use(session.Require())
		admin.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
		admin.Use(middleware.RequireJSON())
		{
			admin.GET("/leads/list", leadHandler.List)
			admin.PATCH("/leads/list", leadHandler.Update)
			admin.DELETE("/leads/list", leadHandler.Delete)

			admin.GET("/emails/list", emailHandler.List)
			admin.PATCH("/emails/list", emailHandler.Patch)
			admin.DELETE("/emails/list", emailHandler.Delete)
			admin.POST("/emails/send", emailHandler.Send)
			admin.GET("/emails/counts", emailHandler.Counts)

			admin.GET("/emails/threads", threadHandler.List)
			admin.POST("/emails/threads", threadHandler.Open)
			admin.POST("/emails/threads/archive", threadHandler.Archive)
			admin.POST("/emails/threads/delete", threadHandler.Delete)

			admin.GET("/emails/templates", templateHandler.List)
			admin.POST("/emails/templates", templateHandler.Create)
			admin.PATCH("/emails/templates", templateHandler.Update)
			admin.DELETE("/emails/templates", templateHandler.Delete)

			admin.GET("/emails/accounts", templateHandler.Accounts)

			if deps.WebSocketHub != nil {
				admin.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
			}
		}
	}

	return router
}

// adminPlaceholder 后台 UI 由前端渲染，这里只返回占位页面
func adminPlaceholder(page string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "text/html; charset=utf-8",
			[]byte("<!doctype html><html><head><title>Junin Pagos Admin</title></head><body data-page=\""+page+"\"></body></html>"))
	}
}
