package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"ragd/internal/metrics"
	"ragd/internal/search"
	"ragd/internal/store"
)

// Dashboard is the read-only store surface behind the /api routes.
type Dashboard interface {
	ListPages(ctx context.Context, sortBy, order, search string) ([]store.Page, error)
	ListChunks(ctx context.Context, page, size int, search string) ([]store.ChunkRow, int64, error)
	GetStats(ctx context.Context) (*store.Stats, error)
	Ping(ctx context.Context) error
}

// QueryEngine answers retrieval calls.
type QueryEngine interface {
	Query(ctx context.Context, text string, k int) (*search.Response, error)
}

type Server struct {
	app    *fiber.App
	store  Dashboard
	engine QueryEngine
	cache  *QueryCache
	logger *slog.Logger
}

func NewServer(st Dashboard, engine QueryEngine, cache *QueryCache, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		app:    app,
		store:  st,
		engine: engine,
		cache:  cache,
		logger: logger,
	}

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		metrics.RecordRequest(c.Method(), c.Path(), status, latency.Milliseconds())

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", c.Method(),
				"path", c.Path(),
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
		return err
	})

	app.Post("/tools/perform_rag_query", s.handleRAGQuery)

	api := app.Group("/api")
	api.Get("/pages", s.handleListPages)
	api.Get("/chunks", s.handleListChunks)
	api.Get("/stats", s.handleStats)

	app.Get("/healthz", s.handleHealth)
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/plain; version=0.0.4")
		return c.SendString(metrics.Export())
	})

	return s
}

func (s *Server) Listen(host string, port int) error {
	return s.app.Listen(fmt.Sprintf("%s:%d", host, port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	if c.Query("deep") != "true" {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	if err := s.store.Ping(ctx); err != nil {
		dbStatus = "error"
	}

	cacheStatus := "disabled"
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			cacheStatus = "error"
		} else {
			cacheStatus = "ok"
		}
	}

	status := "ok"
	code := fiber.StatusOK
	if dbStatus != "ok" {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":   status,
		"database": dbStatus,
		"cache":    cacheStatus,
	})
}
