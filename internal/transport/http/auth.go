package httptransport

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"juninpagos/backend/internal/auth"
	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/middleware"
)

// AuthHandler 处理后台登录、会话检查和登出
type AuthHandler struct {
	authService *auth.Service
	session     *middleware.SessionActivity
	secure      bool
	log         *zap.Logger
}

// NewAuthHandler 创建认证处理器，secure 为 true 时 Cookie 带 Secure 标记
func NewAuthHandler(authService *auth.Service, session *middleware.SessionActivity, secure bool, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		session:     session,
		secure:      secure,
		log:         log,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID    string  `json:"id"`
	Email string  `json:"email"`
	Name  *string `json:"name"`
	Role  string  `json:"role"`
}

func newUserResponse(u *domain.AdminUser) userResponse {
	resp := userResponse{ID: u.ID, Email: u.Email, Role: string(u.Role)}
	if u.Name != "" {
		name := u.Name
		resp.Name = &name
	}
	return resp
}

// Login 处理后台登录
// @Summary 后台登录
// @Description 校验邮箱和密码，设置 access_token 和活动时间 Cookie
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body loginRequest true "登录凭证"
// @Success 200 {object} object{success=bool,user=userResponse}
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Router /api/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		BadRequest(c, "Email es requerido")
		return
	}
	if req.Password == "" {
		BadRequest(c, "Contraseña es requerida")
		return
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		BadRequest(c, "Formato de email inválido")
		return
	}

	result, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrUserInactive) {
			h.log.Info("admin login rejected", zap.String("ip", c.ClientIP()), zap.Error(err))
			Unauthorized(c, MsgInvalidCredentials)
			return
		}
		respondError(c, h.log, err)
		return
	}

	h.setAccessCookie(c, result.AccessToken, time.Until(result.ExpiresAt))
	h.session.Touch(c)

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"user":      newUserResponse(result.User),
		"expiresAt": result.ExpiresAt,
	})
}

// Check 检查当前会话
// @Summary 检查登录状态
// @Tags Auth
// @Produce json
// @Success 200 {object} object{authenticated=bool,user=userResponse}
// @Failure 401 {object} object{authenticated=bool,error=string}
// @Router /api/auth/check [get]
func (h *AuthHandler) Check(c *gin.Context) {
	token := middleware.ExtractToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"authenticated": false, "error": "Not authenticated"})
		return
	}

	claims, err := h.authService.Tokens().ValidateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"authenticated": false, "error": "Not authenticated"})
		return
	}

	user, err := h.authService.Check(c.Request.Context(), claims.UserID)
	if err != nil {
		if !errors.Is(err, auth.ErrUserNotFound) && !errors.Is(err, auth.ErrUserInactive) {
			h.log.Error("auth check failed", zap.Error(err))
		}
		c.JSON(http.StatusUnauthorized, gin.H{"authenticated": false, "error": "Not authenticated"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user":          newUserResponse(user),
	})
}

// Logout 登出，总是清除 Cookie
// @Summary 后台登出
// @Tags Auth
// @Produce json
// @Success 200 {object} Response
// @Router /api/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.authService.Logout(c.Request.Context(), middleware.ExtractToken(c)); err != nil {
		h.log.Warn("failed to revoke token", zap.Error(err))
	}

	h.setAccessCookie(c, "", -1)
	h.session.Clear(c)
	SuccessWithMsg(c, MsgLoggedOut, nil)
}

func (h *AuthHandler) setAccessCookie(c *gin.Context, token string, ttl time.Duration) {
	maxAge := int(ttl.Seconds())
	if ttl < 0 {
		maxAge = -1
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     middleware.AccessTokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
