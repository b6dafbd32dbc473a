package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有方法对 nil 接收者安全，未启用监控时服务可以传入 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge

	// 线索指标
	LeadsSubmitted       prometheus.Counter
	ContactRateLimited   prometheus.Counter
	ContactRequestsTotal *prometheus.CounterVec

	// 邮件指标
	WebhookEvents  *prometheus.CounterVec
	EmailsSent     *prometheus.CounterVec
	InboundEmails  *prometheus.CounterVec
	BulkOperations *prometheus.CounterVec

	// 后台任务指标
	LeadNotifications *prometheus.CounterVec
	JobRuns           *prometheus.CounterVec

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 系统指标
	SystemUptime prometheus.Gauge
	startedAt    time.Time
}

// NewMetrics 创建监控指标并注册到独立的 Registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry:  reg,
		startedAt: time.Now(),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "juninpagos_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "juninpagos_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "juninpagos_http_requests_in_flight",
				Help: "Number of HTTP requests being served",
			},
		),

		LeadsSubmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "juninpagos_leads_submitted_total",
				Help: "Total number of leads stored from the contact form",
			},
		),

		ContactRateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "juninpagos_contact_rate_limited_total",
				Help: "Total number of contact requests rejected by the rate limiter",
			},
		),

		ContactRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "juninpagos_contact_requests_total",
				Help: "Contact form requests by outcome",
			},
			[]string{"outcome"},
		),

		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "juninpagos_webhook_events_total",
				Help: "Provider webhook events by type and result",
			},
			[]string{"type", "result"},
		),

		EmailsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "juninpagos_emails_sent_total",
				Help: "Outbound emails by result",
			},
			[]string{"result"},
		),

		InboundEmails: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "juninpagos_inbound_emails_total",
				Help: "Inbound emails recorded by channel",
			},
			[]string{"channel"},
		),

		BulkOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "juninpagos_thread_bulk_operations_total",
				Help: "Thread archive/delete operations by result",
			},
			[]string{"operation", "result"},
		),

		LeadNotifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "juninpagos_lead_notifications_total",
				Help: "Lead notifications by result",
			},
			[]string{"result"},
		),

		JobRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "juninpagos_job_runs_total",
				Help: "Scheduled job runs by job and result",
			},
			[]string{"job", "result"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "juninpagos_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "juninpagos_panics_total",
				Help: "Total number of panics",
			},
		),

		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "juninpagos_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),
	}
}

// Registry 返回底层 Registry，测试中用于读取指标
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// InFlight 调整正在处理的请求数
func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.HTTPInFlight.Add(delta)
}

// RecordLeadSubmitted 记录新线索
func (m *Metrics) RecordLeadSubmitted() {
	if m == nil {
		return
	}
	m.LeadsSubmitted.Inc()
}

// RecordContactRequest 记录联系表单请求结果
func (m *Metrics) RecordContactRequest(outcome string) {
	if m == nil {
		return
	}
	m.ContactRequestsTotal.WithLabelValues(outcome).Inc()
	if outcome == "rate_limited" {
		m.ContactRateLimited.Inc()
	}
}

// RecordWebhookEvent 记录 Webhook 事件处理结果
func (m *Metrics) RecordWebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType, result).Inc()
}

// RecordEmailSent 记录外发邮件结果（sent, failed, draft, queued）
func (m *Metrics) RecordEmailSent(result string) {
	if m == nil {
		return
	}
	m.EmailsSent.WithLabelValues(result).Inc()
}

// RecordInboundEmail 记录收到的邮件
func (m *Metrics) RecordInboundEmail(channel string) {
	if m == nil {
		return
	}
	m.InboundEmails.WithLabelValues(channel).Inc()
}

// RecordLeadNotification 记录线索通知结果（sent, failed, invalid）
func (m *Metrics) RecordLeadNotification(result string) {
	if m == nil {
		return
	}
	m.LeadNotifications.WithLabelValues(result).Inc()
}

// RecordJobRun 记录定时任务执行结果
func (m *Metrics) RecordJobRun(job, result string) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
}

// RecordBulkOperation 记录会话批量操作结果
func (m *Metrics) RecordBulkOperation(operation, result string) {
	if m == nil {
		return
	}
	m.BulkOperations.WithLabelValues(operation, result).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime() {
	if m == nil {
		return
	}
	m.SystemUptime.Set(time.Since(m.startedAt).Seconds())
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
