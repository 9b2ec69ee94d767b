// Package api is the public HTTP surface: web and JSON submissions, the chat
// webhook, nearby queries, confirmations, deletion and admin tools.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
	"github.com/couchcryptid/road-hazard-service/internal/pipeline"
)

// Reports is the report lifecycle surface the API exposes.
type Reports interface {
	Get(ctx context.Context, id string) (domain.Report, error)
	Confirm(ctx context.Context, id string) (domain.Report, error)
	SetStatus(ctx context.Context, id string, status domain.Status) (domain.Report, error)
	Delete(ctx context.Context, id, token string) (bool, error)
	List(ctx context.Context, filter domain.ReportFilter) ([]domain.Report, error)
	Nearby(ctx context.Context, origin domain.Coordinates, radius float64) ([]domain.NearbyReport, error)
}

// WebSubmitter finalizes single-request submissions.
type WebSubmitter interface {
	SubmitWeb(ctx context.Context, ws pipeline.WebSubmission) (pipeline.Outcome, error)
}

// ChatHandler advances a chat conversation by one message.
type ChatHandler interface {
	Handle(ctx context.Context, msg domain.InboundMessage) (string, error)
}

// RateLimiter bounds submissions per client.
type RateLimiter interface {
	Allow(ctx context.Context, clientID string) (bool, time.Duration, error)
}

// Options configures optional API behavior.
type Options struct {
	// AdminToken guards the admin routes. Empty disables them.
	AdminToken     string
	CORSOrigins    []string
	MediaDir       string
	MaxUploadBytes int64
	// RateLimiter is applied to submission routes when set.
	RateLimiter RateLimiter
}

// Server is the public API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type handler struct {
	reports   Reports
	submitter WebSubmitter
	chat      ChatHandler
	opts      Options
	logger    *slog.Logger
}

// NewServer builds the gin router and wraps it in an http.Server.
func NewServer(addr string, reports Reports, submitter WebSubmitter, chat ChatHandler, opts Options, logger *slog.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	h := &handler{
		reports:   reports,
		submitter: submitter,
		chat:      chat,
		opts:      opts,
		logger:    logger,
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           h.router(),
			ReadHeaderTimeout: 10 * time.Second,
			// Submissions wait on the detector and geocoder.
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

func (h *handler) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(h.opts.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = h.opts.CORSOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	r.Use(cors.New(corsCfg))

	limit := h.rateLimit()
	r.POST("/reports", limit, h.submitWebForm)
	r.POST("/webhooks/whatsapp", h.chatWebhook)
	if h.opts.MediaDir != "" {
		r.Static("/media", h.opts.MediaDir)
	}

	v1 := r.Group("/api/v1")
	v1.POST("/reports", limit, h.submitJSON)
	v1.GET("/reports/nearby", h.nearby)
	v1.GET("/reports/:id", h.getReport)
	v1.POST("/reports/:id/confirm", h.confirm)
	v1.POST("/reports/:id/delete", h.deleteReport)

	admin := v1.Group("/admin", h.requireAdmin())
	admin.PATCH("/reports/:id/status", h.setStatus)
	admin.GET("/reports/export.csv", h.exportCSV)

	return r
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
