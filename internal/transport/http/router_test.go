package httptransport

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"juninpagos/backend/internal/auth"
	"juninpagos/backend/internal/auth/jwt"
	"juninpagos/backend/internal/config"
	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/provider"
	"juninpagos/backend/internal/ratelimit"
	"juninpagos/backend/internal/service"
	"juninpagos/backend/internal/storage/memory"
	"juninpagos/backend/internal/storage/redis"
)

const (
	testBootstrapKey = "bootstrap-key"
	testAdminEmail   = "admin@juninpagos.com"
	testAdminPass    = "Password123!"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type stubSender struct {
	mu   sync.Mutex
	sent []provider.OutgoingMessage
}

func (s *stubSender) Send(_ context.Context, msg provider.OutgoingMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return "re_out_" + strconv.Itoa(len(s.sent)), nil
}

type testServer struct {
	router *gin.Engine
	sender *stubSender
	auth   *auth.Service
}

func newTestServer(t *testing.T, configure ...func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zap.NewNop()
	store := memory.NewStore()
	sender := &stubSender{}

	webhooks, err := service.NewWebhookService(store, service.WebhookOptions{
		SigningSecret: "whsec_" + base64.StdEncoding.EncodeToString(testSigningKey),
	}, log)
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), log)
	t.Cleanup(func() { _ = rdb.Close() })

	tokens := jwt.NewManager(strings.Repeat("k", 32), "juninpagos-test", time.Hour, rdb)
	authSvc := auth.NewService(store, tokens, log)
	_, err = authSvc.CreateUser(context.Background(), testAdminEmail, "Admin", testAdminPass, domain.RoleAdmin)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.CORS.AllowedOrigins = []string{"*"}
	cfg.Session.Duration = 3 * time.Hour
	cfg.Session.CookieName = "admin_session_timestamp"
	cfg.Admin.BootstrapKey = testBootstrapKey
	for _, fn := range configure {
		fn(cfg)
	}

	identity := service.SenderIdentity{Address: "hola@juninpagos.com", Name: "Junin Pagos"}
	router := NewRouter(RouterDependencies{
		Config:          cfg,
		LeadService:     service.NewLeadService(store, "AR", nil, nil, nil, log),
		EmailService:    service.NewEmailService(store, sender, identity, nil, log),
		ThreadService:   service.NewThreadService(store, store, nil, log),
		WebhookService:  webhooks,
		TemplateService: service.NewTemplateService(store, log),
		AccountService:  service.NewAccountService(store),
		AuthService:     authSvc,
		ContactLimiter:  ratelimit.New(ratelimit.NewRedisStore(rdb, "contact:"), 5, time.Minute),
		Logger:          log,
	})
	return &testServer{router: router, sender: sender, auth: authSvc}
}

type requestOption func(*http.Request)

func withHeader(key, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func withCookies(cookies []*http.Cookie) requestOption {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}
}

func fromIP(ip string) requestOption {
	return func(r *http.Request) { r.RemoteAddr = ip + ":40000" }
}

func (s *testServer) do(method, path, body string, opts ...requestOption) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, opt := range opts {
		opt(req)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// login returns the cookies a browser would keep after signing in.
func (s *testServer) login(t *testing.T) []*http.Cookie {
	t.Helper()
	w := s.do(http.MethodPost, "/api/auth/login",
		`{"email":"`+testAdminEmail+`","password":"`+testAdminPass+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func signedWebhook(payload string) []requestOption {
	msgID := "msg_" + strconv.FormatInt(time.Now().UnixNano(), 10)
	stamp := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, testSigningKey)
	mac.Write([]byte(msgID + "." + stamp + "." + payload))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return []requestOption{
		withHeader("svix-id", msgID),
		withHeader("svix-timestamp", stamp),
		withHeader("svix-signature", "v1,"+sig),
	}
}

const validContact = `{"nombre":"Ana Pérez","telefono":"2364 15-123456","localidad":"Junín"}`

func TestContact_Submit(t *testing.T) {
	s := newTestServer(t)
	xhr := withHeader("X-Requested-With", "XMLHttpRequest")

	t.Run("accepted", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/contact", validContact, xhr, fromIP("10.0.0.1"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
		body := decode(t, w)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, MsgContactAccepted, body["message"])
	})

	t.Run("missing X-Requested-With", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/contact", validContact, fromIP("10.0.0.2"))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("wrong content type", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/contact", validContact, xhr, fromIP("10.0.0.3"),
			withHeader("Content-Type", "text/plain"))
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/contact", `{"nombre":`, xhr, fromIP("10.0.0.4"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, MsgInvalidJSON, decode(t, w)["error"])
	})

	t.Run("validation error", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/contact", `{"nombre":"A","telefono":"2364123456"}`, xhr, fromIP("10.0.0.5"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "El nombre debe tener al menos 2 caracteres", decode(t, w)["error"])
	})

	t.Run("GET not allowed", func(t *testing.T) {
		w := s.do(http.MethodGet, "/api/contact", "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		assert.Equal(t, "POST", w.Header().Get("Allow"))
	})
}

func TestContact_RateLimit(t *testing.T) {
	s := newTestServer(t)
	xhr := withHeader("X-Requested-With", "XMLHttpRequest")
	ip := fromIP("10.1.1.1")

	for i := 0; i < 5; i++ {
		w := s.do(http.MethodPost, "/api/contact", validContact, xhr, ip)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := s.do(http.MethodPost, "/api/contact", validContact, xhr, ip)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, MsgRateLimited, body["error"])
	assert.Greater(t, body["resetIn"].(float64), float64(0))

	// 限流在所有校验之前
	w = s.do(http.MethodPost, "/api/contact", validContact, ip)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	other := s.do(http.MethodPost, "/api/contact", validContact, xhr, fromIP("10.1.1.2"))
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestContact_ForwardedForIgnoredWithoutTrustedProxy(t *testing.T) {
	s := newTestServer(t)
	xhr := withHeader("X-Requested-With", "XMLHttpRequest")
	ip := fromIP("10.1.1.1")

	for i := 0; i < 5; i++ {
		xff := withHeader("X-Forwarded-For", "203.0.113."+strconv.Itoa(i+1))
		w := s.do(http.MethodPost, "/api/contact", validContact, xhr, ip, xff)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := s.do(http.MethodPost, "/api/contact", validContact, xhr, ip, withHeader("X-Forwarded-For", "198.51.100.7"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "a forged header does not open a new window")
}

func TestContact_ForwardedForFromTrustedProxy(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.TrustedProxies = []string{"10.0.0.1"}
	})
	xhr := withHeader("X-Requested-With", "XMLHttpRequest")
	proxy := fromIP("10.0.0.1")
	client := withHeader("X-Forwarded-For", "203.0.113.5")

	for i := 0; i < 5; i++ {
		w := s.do(http.MethodPost, "/api/contact", validContact, xhr, proxy, client)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}
	w := s.do(http.MethodPost, "/api/contact", validContact, xhr, proxy, client)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	other := s.do(http.MethodPost, "/api/contact", validContact, xhr, proxy, withHeader("X-Forwarded-For", "203.0.113.6"))
	assert.Equal(t, http.StatusOK, other.Code, "clients behind the proxy are limited separately")
}

func TestAuth_LoginCheckLogout(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/auth/login", `{"email":"`+testAdminEmail+`","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, MsgInvalidCredentials, decode(t, w)["error"])

	w = s.do(http.MethodPost, "/api/auth/login", `{"email":"not-an-email","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	cookies := s.login(t)
	access := cookieByName(cookies, "access_token")
	require.NotNil(t, access)
	assert.True(t, access.HttpOnly)
	require.NotNil(t, cookieByName(cookies, "admin_session_timestamp"))

	w = s.do(http.MethodGet, "/api/auth/check", "", withCookies(cookies))
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, testAdminEmail, body["user"].(map[string]interface{})["email"])

	w = s.do(http.MethodPost, "/api/auth/logout", "", withCookies(cookies))
	assert.Equal(t, http.StatusOK, w.Code)
	cleared := cookieByName(w.Result().Cookies(), "access_token")
	require.NotNil(t, cleared)
	assert.True(t, cleared.MaxAge < 0)

	// 注销后的令牌已被吊销
	w = s.do(http.MethodGet, "/api/auth/check", "", withCookies(cookies))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, decode(t, w)["authenticated"])
}

func TestAdmin_RequiresAuthAndSession(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/admin/leads/list", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	cookies := s.login(t)
	var tokenOnly []*http.Cookie
	for _, c := range cookies {
		if c.Name == "access_token" {
			tokenOnly = append(tokenOnly, c)
		}
	}
	w = s.do(http.MethodGet, "/api/admin/leads/list", "", withCookies(tokenOnly))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "no_session", decode(t, w)["reason"])

	w = s.do(http.MethodGet, "/api/admin/leads/list", "", withCookies(cookies))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
	assert.NotNil(t, cookieByName(w.Result().Cookies(), "admin_session_timestamp"), "activity cookie refreshed")
}

func TestAdmin_PagesRedirectWithoutSession(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/admin/leads", "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/admin/login?reason=no_session", w.Header().Get("Location"))

	w = s.do(http.MethodGet, "/admin/login", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_Leads(t *testing.T) {
	s := newTestServer(t)
	xhr := withHeader("X-Requested-With", "XMLHttpRequest")
	for i := 0; i < 3; i++ {
		w := s.do(http.MethodPost, "/api/contact", validContact, xhr, fromIP("10.2.0."+strconv.Itoa(i+1)))
		require.Equal(t, http.StatusOK, w.Code)
	}
	cookies := s.login(t)

	w := s.do(http.MethodGet, "/api/admin/leads/list?page=1&limit=2", "", withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	items := body["data"].([]interface{})
	assert.Len(t, items, 2)
	meta := body["meta"].(map[string]interface{})
	assert.Equal(t, float64(3), meta["total"])
	assert.Equal(t, float64(2), meta["totalPages"])

	id := items[0].(map[string]interface{})["id"].(float64)
	idStr := strconv.FormatInt(int64(id), 10)

	w = s.do(http.MethodPatch, "/api/admin/leads/list", `{"id":`+idStr+`,"estado":"contactado","notas":"llamar"}`, withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "contactado", updated["estado"])

	w = s.do(http.MethodPatch, "/api/admin/leads/list", `{"estado":"contactado"}`, withCookies(cookies))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPatch, "/api/admin/leads/list", `{"id":`+idStr+`}`,
		withCookies(cookies), withHeader("Content-Type", "text/plain"))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = s.do(http.MethodDelete, "/api/admin/leads/list", `{"id":`+idStr+`}`, withCookies(cookies))
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodDelete, "/api/admin/leads/list", `{"id":`+idStr+`}`, withCookies(cookies))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLeadsExport_BootstrapKey(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/leads", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/leads", "", withHeader("Authorization", "Bearer wrong"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/leads", "", withHeader("Authorization", "Bearer "+testBootstrapKey))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decode(t, w)["leads"])
}

func TestWebhook_InboundThread(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/admin/emails/webhook", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "active", decode(t, w)["status"])

	payload := `{"type":"email.received","created_at":"2026-03-01T12:00:00Z","data":{"email_id":"re_in_1","from":"Ana <ana@example.com>","to":["hola@juninpagos.com"],"subject":"Consulta por cuotas"}}`

	w = s.do(http.MethodPost, "/api/admin/emails/webhook", payload)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "unsigned callbacks are rejected")

	w = s.do(http.MethodPost, "/api/admin/emails/webhook", payload, signedWebhook(payload)...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["received"])

	cookies := s.login(t)
	w = s.do(http.MethodGet, "/api/admin/emails/threads?folder=inbox", "", withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code)
	threads := decode(t, w)["data"].([]interface{})
	require.Len(t, threads, 1)
	thread := threads[0].(map[string]interface{})
	assert.Equal(t, "Consulta por cuotas", thread["subject"])
	assert.Equal(t, float64(1), thread["unreadCount"])

	threadID := thread["id"].(string)
	w = s.do(http.MethodPost, "/api/admin/emails/threads", `{"thread_id":"`+threadID+`","mark_as_read":true}`, withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	opened := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(0), opened["unreadCount"])

	w = s.do(http.MethodPost, "/api/admin/emails/threads/archive", `{}`, withCookies(cookies))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/admin/emails/threads/archive", `{"thread_id":"`+threadID+`"}`, withCookies(cookies))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/admin/emails/threads?folder=inbox", "", withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["data"])
}

func TestWebhook_InvalidBody(t *testing.T) {
	s := newTestServer(t)

	payload := `{"data":{}}`
	w := s.do(http.MethodPost, "/api/admin/emails/webhook", payload, signedWebhook(payload)...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEmails_SendAndCounts(t *testing.T) {
	s := newTestServer(t)
	cookies := s.login(t)

	w := s.do(http.MethodPost, "/api/admin/emails/send", `{"to_email":"cliente@example.com","subject":"Hola","body_html":"<p>Hola</p>"}`, withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "re_out_1", data["resend_id"])
	require.Len(t, s.sender.sent, 1)
	assert.Equal(t, "cliente@example.com", s.sender.sent[0].To)

	w = s.do(http.MethodPost, "/api/admin/emails/send", `{"to_email":"cliente@example.com","subject":""}`, withCookies(cookies))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/admin/emails/list?folder=sent", "", withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 1)

	w = s.do(http.MethodGet, "/api/admin/emails/list?lead_id=abc", "", withCookies(cookies))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/admin/emails/counts", "", withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code)
	counts := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(1), counts["sent"])
}

func TestTemplates_CreateDuplicate(t *testing.T) {
	s := newTestServer(t)
	cookies := s.login(t)

	body := `{"name":"bienvenida","subject":"Hola {{nombre}}","body_html":"<p>Hola {{nombre}}</p>","category":"general"}`
	w := s.do(http.MethodPost, "/api/admin/emails/templates", body, withCookies(cookies))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/admin/emails/templates", body, withCookies(cookies))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/api/admin/emails/templates", "", withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 1)
}
