// Package api exposes the access layer over HTTP.
package api

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"eduapp/pkg/bootstrap"
	"eduapp/pkg/router"
)

var heapAlloc = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
	Name: "eduapp_heap_alloc_bytes",
	Help: "Current heap allocation in bytes.",
}, func() float64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return float64(stats.HeapAlloc)
})

func init() {
	prometheus.MustRegister(heapAlloc)
}

// CompactFunc runs one compaction and returns its report.
type CompactFunc func(ctx context.Context) (any, error)

type Options struct {
	CORSOrigins []string
	// RateRPS <= 0 disables per-client rate limiting.
	RateRPS   float64
	RateBurst int
	// DataDir is reported on /healthz with its free space.
	DataDir string
	// Compact backs POST /admin/jobs/compact; nil answers 501.
	Compact CompactFunc
	// RequestTimeout bounds each store call made by a handler.
	RequestTimeout time.Duration
}

type Server struct {
	seq      *bootstrap.Sequencer
	opts     Options
	limiters *limiterPool
	started  time.Time
}

func New(seq *bootstrap.Sequencer, opts Options) *Server {
	s := &Server{seq: seq, opts: opts, started: time.Now()}
	if opts.RateRPS > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiters = newLimiterPool(opts.RateRPS, burst)
	}
	return s
}

func (s *Server) ready() bool {
	return s.seq.State() == bootstrap.Ready
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	if s.limiters != nil {
		s.limiters.Shutdown()
	}
}

func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout > 0 {
		return context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	}
	return context.WithCancel(context.Background())
}

// RegisterRoutes wires every endpoint onto r.
func (s *Server) RegisterRoutes(r *router.Router) {
	r.GET("/healthz", s.health)
	r.GET("/readyz", s.readiness)

	r.POST("/v1/docs", s.createDoc)
	r.GET("/v1/docs", s.listDocs)
	r.GET("/v1/docs/{key}", s.readDoc)
	r.PUT("/v1/docs/{key}", s.saveDoc)
	r.PATCH("/v1/docs/{key}", s.updateDoc)
	r.DELETE("/v1/docs/{key}", s.deleteDoc)
	r.POST("/v1/_find", s.findDocs)
	r.GET("/v1/indexes/{index}/{view}", s.queryView)

	r.GET("/admin/indexes", s.listIndexes)
	r.POST("/admin/jobs/compact", s.runCompaction)
	r.GET("/admin/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))

	r.NotFound(func(ctx *fasthttp.RequestCtx) {
		writeError(ctx, fasthttp.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(ctx *fasthttp.RequestCtx) {
		writeError(ctx, fasthttp.StatusMethodNotAllowed, "method_not_allowed", string(ctx.Method()))
	})
}

// Handler returns the full request pipeline.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()
	s.RegisterRoutes(r)
	return s.middleware(r.Handler)
}
