package api

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"eduapp/pkg/logger"
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// limiterPool keeps one token bucket per client address and drops buckets
// idle longer than ttl.
type limiterPool struct {
	rps   float64
	burst int

	mu            sync.Mutex
	m             map[string]*limiterEntry
	startCleanup  sync.Once
	stopOnce      sync.Once
	ttl           time.Duration
	cleanupPeriod time.Duration
	stopCh        chan struct{}
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{
		rps:           rps,
		burst:         burst,
		m:             make(map[string]*limiterEntry),
		ttl:           10 * time.Minute,
		cleanupPeriod: time.Minute,
		stopCh:        make(chan struct{}),
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.startCleanup.Do(func() { go p.cleanupLoop() })

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[key]; ok {
		e.lastSeen = time.Now()
		return e.l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: time.Now()}
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

func (p *limiterPool) Shutdown() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *limiterPool) cleanupLoop() {
	ticker := time.NewTicker(p.cleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep(time.Now().Add(-p.ttl))
		case <-p.stopCh:
			return
		}
	}
}

func (p *limiterPool) sweep(cutoff time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
}

func clientIP(ctx *fasthttp.RequestCtx) string {
	host := ctx.RemoteAddr().String()
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	return h
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func publicPath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

// middleware applies request logging, CORS, rate limiting and the
// readiness gate, in that order.
func (s *Server) middleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		logger.LogRequestFast(ctx)

		origin := strings.TrimSpace(string(ctx.Request.Header.Peek("Origin")))
		if origin != "" && originAllowed(origin, s.opts.CORSOrigins) {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			ctx.Response.Header.Set("Vary", "Origin")
			ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
			ctx.Response.Header.Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
			ctx.Response.Header.Set("Access-Control-Max-Age", "600")
		}
		if string(ctx.Method()) == fasthttp.MethodOptions {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		path := string(ctx.Path())
		if publicPath(path) {
			next(ctx)
			return
		}
		if s.limiters != nil && !s.limiters.Allow(clientIP(ctx)) {
			writeError(ctx, fasthttp.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			logger.Warn("rate_limited", "ip", clientIP(ctx), "path", path)
			return
		}
		if strings.HasPrefix(path, "/v1/") && !s.ready() {
			writeError(ctx, fasthttp.StatusServiceUnavailable, "not_ready", "bootstrap state "+s.seq.State().String())
			return
		}
		next(ctx)
	}
}
