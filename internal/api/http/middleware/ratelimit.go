package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	apitypes "github.com/weisyn/permnode/internal/api/types"
)

// RateLimit 按客户端IP限流
//
// 读请求与写请求（POST）使用各自的令牌桶。
type RateLimit struct {
	mu         sync.Mutex
	limiters   map[string]*clientLimiters
	readLimit  rate.Limit
	writeLimit rate.Limit
}

type clientLimiters struct {
	read  *rate.Limiter
	write *rate.Limiter
}

// NewRateLimit 创建限流中间件，参数为每秒请求数
func NewRateLimit(readQPS, writeQPS int) *RateLimit {
	return &RateLimit{
		limiters:   make(map[string]*clientLimiters),
		readLimit:  rate.Limit(readQPS),
		writeLimit: rate.Limit(writeQPS),
	}
}

// Middleware 返回Gin中间件
func (m *RateLimit) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		l := m.limiterFor(c.ClientIP())
		allowed := l.read.Allow()
		if c.Request.Method == http.MethodPost {
			allowed = l.write.Allow()
		}
		if !allowed {
			WriteError(c, apitypes.CodeCommonRateLimited, "请求过于频繁，请稍后重试。",
				"request rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}

func (m *RateLimit) limiterFor(client string) *clientLimiters {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[client]
	if !ok {
		l = &clientLimiters{
			read:  rate.NewLimiter(m.readLimit, int(m.readLimit)+1),
			write: rate.NewLimiter(m.writeLimit, int(m.writeLimit)+1),
		}
		m.limiters[client] = l
	}
	return l
}
