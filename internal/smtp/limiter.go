package smtp

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnectionLimiter 按来源 IP 限制 SMTP 新建连接速率（令牌桶）
type ConnectionLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - perSecond: 每个 IP 每秒允许的新连接数
//   - burst: 突发连接数
func NewConnectionLimiter(perSecond float64, burst int) *ConnectionLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &ConnectionLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow 检查 ip 是否可以建立新连接
func (l *ConnectionLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Sweep 删除 idle 时间以上没有连接的 IP，返回删除数量
func (l *ConnectionLimiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for ip, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, ip)
			removed++
		}
	}
	return removed
}

// Len 当前跟踪的 IP 数量
func (l *ConnectionLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}
