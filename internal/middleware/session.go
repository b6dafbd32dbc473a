package middleware

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"juninpagos/backend/internal/config"
)

// 会话失效原因，作为登录页的 reason 参数
const (
	ReasonNoSession      = "no_session"
	ReasonSessionExpired = "session_expired"
)

// LoginPath is where UI requests without a live session are sent.
const LoginPath = "/admin/login"

// SessionActivity 管理后台滑动过期 Cookie。Cookie 保存最近一次请求的毫秒时间戳，
// 超过窗口即视为过期，与访问令牌是否有效无关。
type SessionActivity struct {
	cookieName string
	window     time.Duration
	secure     bool
	now        func() time.Time
}

// NewSessionActivity 创建会话活动中间件，secure 为 true 时 Cookie 带 Secure 标记
func NewSessionActivity(cfg config.SessionConfig, secure bool) *SessionActivity {
	name := cfg.CookieName
	if name == "" {
		name = "admin_session_timestamp"
	}
	window := cfg.Duration
	if window <= 0 {
		window = 3 * time.Hour
	}
	return &SessionActivity{
		cookieName: name,
		window:     window,
		secure:     secure,
		now:        time.Now,
	}
}

// WithClock replaces the time source.
func (s *SessionActivity) WithClock(now func() time.Time) *SessionActivity {
	s.now = now
	return s
}

// Window returns the inactivity window.
func (s *SessionActivity) Window() time.Duration {
	return s.window
}

// Require rejects requests whose activity cookie is missing or stale and
// refreshes it otherwise. API paths get a 401, UI paths a redirect to the
// login page.
func (s *SessionActivity) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(s.cookieName)
		if err != nil || raw == "" {
			s.reject(c, ReasonNoSession)
			return
		}

		last, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || s.now().Sub(time.UnixMilli(last)) > s.window {
			s.Clear(c)
			s.reject(c, ReasonSessionExpired)
			return
		}

		s.Touch(c)
		c.Next()
	}
}

// Touch sets the activity cookie to the current time.
func (s *SessionActivity) Touch(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     s.cookieName,
		Value:    strconv.FormatInt(s.now().UnixMilli(), 10),
		Path:     "/",
		MaxAge:   int(s.window.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear removes the activity cookie.
func (s *SessionActivity) Clear(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *SessionActivity) reject(c *gin.Context, reason string) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		msg := "Sesión no iniciada"
		if reason == ReasonSessionExpired {
			msg = "Sesión expirada. Por favor, inicia sesión nuevamente."
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   msg,
			"reason":  reason,
		})
		return
	}

	target := LoginPath + "?" + url.Values{"reason": {reason}}.Encode()
	c.Redirect(http.StatusFound, target)
	c.Abort()
}
