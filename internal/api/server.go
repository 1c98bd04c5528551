// Package api exposes the HTTP surface: the reconciliation trigger hit by
// the external scheduler plus read-only run and stats endpoints.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stockpilot/marketplace-sync/internal/domain/skumatch"
	"github.com/stockpilot/marketplace-sync/internal/infrastructure/storage"
	"github.com/stockpilot/marketplace-sync/internal/pipeline"
)

// Runner triggers one reconciliation pass. Satisfied by
// *pipeline.Orchestrator; faked in tests.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error)
}

// Config holds API server configuration.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	engine     *gin.Engine
	httpServer *http.Server
	runner     Runner
	repo       storage.Repository
	logger     *slog.Logger
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg Config, runner Runner, repo storage.Repository, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		config: cfg,
		engine: engine,
		runner: runner,
		repo:   repo,
		logger: logger,
	}

	engine.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	engine.Use(s.requestLog())

	engine.GET("/health", s.health)

	apiGroup := engine.Group("/api")
	{
		apiGroup.GET("/reconcile", s.reconcile)
		apiGroup.POST("/reconcile", s.reconcile)
		apiGroup.GET("/runs", s.listRuns)
		apiGroup.GET("/runs/:id", s.getRun)
		apiGroup.GET("/stats", s.stats)
		apiGroup.GET("/mappings/suggest", s.suggestMapping)
	}

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // reconcile runs synchronously
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting API server", slog.String("addr", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// reconcile triggers one pipeline pass. An optional account_id query
// parameter scopes the run to a single account; dry_run=true resolves
// without writing.
func (s *Server) reconcile(c *gin.Context) {
	var opts pipeline.Options

	if raw := c.Query("account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid account_id"})
			return
		}
		opts.AccountID = id
	}
	opts.DryRun = c.Query("dry_run") == "true"

	result, err := s.runner.Run(c.Request.Context(), opts)
	if err != nil {
		s.logger.Error("reconciliation failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"run_uid":   result.RunUID,
		"accounts":  result.Accounts,
		"processed": result.Processed,
		"details":   result.Details,
	})
}

func (s *Server) listRuns(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := s.repo.ListRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []storage.SyncRun{}
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRun(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	run, err := s.repo.GetRun(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	c.JSON(http.StatusOK, run)
}

// suggestMapping proposes catalog products for an unmapped remote SKU. The
// result feeds the manual mapping workflow; an ambiguous match returns all
// candidates instead of guessing.
func (s *Server) suggestMapping(c *gin.Context) {
	sku := c.Query("sku")
	if sku == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sku is required"})
		return
	}

	products, err := s.repo.ListProducts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load catalog"})
		return
	}

	catalog := make([]skumatch.Product, 0, len(products))
	for _, p := range products {
		catalog = append(catalog, skumatch.Product{
			ID:       p.ID,
			SKU:      p.SKU,
			Name:     p.Name,
			ParentID: p.ParentID,
		})
	}

	result := skumatch.Match(catalog, sku)

	resp := gin.H{
		"sku":       sku,
		"matched":   result.Product != nil,
		"ambiguous": result.Ambiguous,
		"tier":      result.Tier,
	}
	if result.Product != nil {
		resp["product"] = result.Product
	}
	if result.Ambiguous {
		resp["candidates"] = result.Candidates
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.repo.GetLedgerStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
