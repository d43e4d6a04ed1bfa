// Package httpapi is the indexer's read-only lookup facade: one route to
// fetch a fused user-op record by hash, plus health and metrics.
package httpapi

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paymaster-labs/pm-indexer/internal/metrics"
	"github.com/paymaster-labs/pm-indexer/internal/storage"
)

// StorageReader is the subset of storage.Writer the facade needs.
type StorageReader interface {
	GetByHash(ctx context.Context, userOpHash string) (*storage.Row, error)
}

// Server is the HTTP server for the lookup facade.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	storage    StorageReader
	metrics    *metrics.Metrics
	addr       string
}

// New builds the facade bound to host:port, wired the same way the
// facilitator service wires its gin.Engine: recovery, request logging, CORS,
// then routes.
func New(storage StorageReader, m *metrics.Metrics, host, port string) *Server {
	router := gin.New()

	s := &Server{
		router:  router,
		storage: storage,
		metrics: m,
		addr:    host + ":" + port,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware())
	s.router.Use(CORSMiddleware())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/user_op/:hash", s.handleGetUserOp)
	if s.metrics != nil {
		s.router.GET("/metrics", s.metrics.Handler())
	}
}

// handleHealth answers GET /health with 200 "OK", per SPEC_FULL §4.10.
func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// handleGetUserOp answers GET /user_op/:hash: the stored row as JSON, 404 if
// absent, 500 on a read error.
func (s *Server) handleGetUserOp(c *gin.Context) {
	hash := c.Param("hash")

	row, err := s.storage.GetByHash(c.Request.Context(), hash)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read user operation"})
		return
	}
	if row == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user operation not found"})
		return
	}
	c.JSON(http.StatusOK, row)
}

// Start runs the HTTP server until an interrupt/terminate signal arrives,
// then shuts it down with a bounded grace period.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("httpapi: listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("httpapi: listen failed: %v", err)
		}
	}()

	s.waitForShutdown()
}

func (s *Server) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("httpapi: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("httpapi: forced shutdown: %v", err)
	}
}
