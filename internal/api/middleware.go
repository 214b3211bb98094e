package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"assetforge/internal/logging"
	"assetforge/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

func route(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

// RequestLogger присваивает request id и пишет строку лога по завершении запроса.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(requestIDHeader, rid)

		c.Next()

		logging.WithRequest(rid, actorOf(c).ID, route(c)).Infow("HTTP request completed",
			"method", c.Request.Method,
			"status_code", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// Metrics: запросы в полёте, счётчик и длительность по шаблону маршрута.
func Metrics() gin.HandlerFunc {
	mx := metrics.Get()
	return func(c *gin.Context) {
		r := route(c)
		start := time.Now()
		mx.HTTPRequestsInFlight.WithLabelValues(r).Inc()
		defer mx.HTTPRequestsInFlight.WithLabelValues(r).Dec()

		c.Next()

		mx.HTTPRequestsTotal.WithLabelValues(r, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		mx.HTTPRequestDuration.WithLabelValues(r, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// limiters: по лимитеру на IP клиента.
type limiters struct {
	mu    sync.Mutex
	byIP  map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

const maxTrackedClients = 10000

func (l *limiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.byIP[ip]; ok {
		return lim
	}
	if len(l.byIP) >= maxTrackedClients {
		l.byIP = map[string]*rate.Limiter{}
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.byIP[ip] = lim
	return lim
}

// RateLimit ограничивает изменяющие запросы; чтение не лимитируется.
// rps <= 0 выключает ограничение.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	l := &limiters{byIP: map[string]*rate.Limiter{}, rps: rate.Limit(rps), burst: burst}
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}
		if !l.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
