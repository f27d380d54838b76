// Package server is the outer HTTP layer: it accepts SDP offers, serves
// the demo assets and exposes metrics. All bridging logic lives in the
// bridge package; this layer only creates connections and hands them the
// offer.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ggarber/rt-proxy/internal/bridge"
	"github.com/ggarber/rt-proxy/internal/config"
	"github.com/ggarber/rt-proxy/internal/gemini"
	"github.com/ggarber/rt-proxy/internal/logging"
	"github.com/ggarber/rt-proxy/internal/metrics"
)

// Server serves the offer endpoint and owns the connection registry.
type Server struct {
	cfg      *config.Config
	dialer   gemini.Dialer
	registry *bridge.Registry
	metrics  *metrics.Metrics
	httpSrv  *http.Server
}

// New creates the server.
func New(cfg *config.Config, dialer gemini.Dialer, registry *bridge.Registry, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		dialer:   dialer,
		registry: registry,
		metrics:  m,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/", s.handleOffer)
	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.AssetsDir != "" {
		router.Static("/assets", cfg.AssetsDir)
	}

	s.httpSrv = &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	return s
}

// handleOffer creates a connection for the posted SDP offer and answers
// with application/sdp.
func (s *Server) handleOffer(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		c.String(http.StatusBadRequest, "empty offer")
		return
	}

	if s.metrics != nil {
		s.metrics.OffersHandled.Inc()
	}

	conn := bridge.NewConnection(bridge.Options{
		Dialer:   s.dialer,
		Model:    s.cfg.Model,
		Registry: s.registry,
		Metrics:  s.metrics,
	})
	s.registry.Register(conn)

	answer, err := conn.HandleOffer(c.Request.Context(), string(body))
	if err != nil {
		logging.Error(logging.CategoryServer, "offer rejected id=%s: %v", conn.ID(), err)
		if s.metrics != nil {
			s.metrics.NegotiationFailures.Inc()
		}
		c.String(http.StatusBadRequest, "negotiation failed")
		return
	}

	c.Data(http.StatusOK, "application/sdp", []byte(answer))
}

// Run serves HTTP (TLS when a certificate is configured) until ctx is
// cancelled, then drains every live connection and shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.CertFile != "" {
			logging.Info(logging.CategoryServer, "listening with TLS addr=%s", s.cfg.Addr())
			err = s.httpSrv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			logging.Info(logging.CategoryServer, "listening addr=%s", s.cfg.Addr())
			err = s.httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Drain live connections before tearing the listener down.
	drainDone := make(chan struct{})
	go func() {
		s.CloseAllConnections()
		close(drainDone)
	}()
	select {
	case <-drainDone:
	case <-time.After(s.cfg.DrainTimeout):
		logging.Warning(logging.CategoryServer, "drain timeout exceeded, forcing shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.Warning(logging.CategoryServer, "http shutdown: %v", err)
	}

	return <-errCh
}

// CloseAllConnections closes every live connection and empties the
// registry. Used at process shutdown.
func (s *Server) CloseAllConnections() {
	s.registry.CloseAll()
}
