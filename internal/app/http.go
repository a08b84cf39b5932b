package app

import (
	"time"

	"github.com/valyala/fasthttp"

	"eduapp/pkg/logger"
)

// startHTTP builds and starts the fasthttp server, returning a channel that
// delivers its terminal error.
func (a *App) startHTTP() <-chan error {
	cfg := a.eff.Config
	const (
		readBufferSize       = 64 * 1024
		maxRequestBodySize   = 4 * 1024 * 1024
		idleTimeout          = 30 * time.Second
		maxKeepaliveDuration = 2 * time.Minute
	)
	a.srvFast = &fasthttp.Server{
		Name:                 "eduapp",
		Handler:              a.api.Handler(),
		ReadBufferSize:       readBufferSize,
		MaxRequestBodySize:   maxRequestBodySize,
		ReadTimeout:          cfg.Server.ReadTimeout.Duration(),
		WriteTimeout:         cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:          idleTimeout,
		MaxKeepaliveDuration: maxKeepaliveDuration,
	}

	errCh := make(chan error, 1)
	tls := cfg.Server.TLS
	go func() {
		switch {
		case a.listener != nil:
			logger.Info("http_listening", "addr", a.listener.Addr().String())
			errCh <- a.srvFast.Serve(a.listener)
		case tls.CertFile != "":
			logger.Info("http_listening", "addr", cfg.Addr(), "tls", true)
			errCh <- a.srvFast.ListenAndServeTLS(cfg.Addr(), tls.CertFile, tls.KeyFile)
		default:
			logger.Info("http_listening", "addr", cfg.Addr(), "tls", false)
			errCh <- a.srvFast.ListenAndServe(cfg.Addr())
		}
	}()
	return errCh
}
