package http

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"ragd/internal/metrics"
)

// ErrorResponse is the uniform failure envelope.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type ragQueryRequest struct {
	Query      string `json:"query"`
	MatchCount int    `json:"match_count"`
}

func (s *Server) handleRAGQuery(c *fiber.Ctx) error {
	var req ragQueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Error:   fmt.Sprintf("invalid request body: %v", err),
		})
	}
	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Error:   "query is required",
		})
	}
	if req.MatchCount <= 0 {
		req.MatchCount = 5
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(c.Context(), req.Query, req.MatchCount); ok {
			metrics.RecordQueryCache(true)
			return c.JSON(cached)
		}
		metrics.RecordQueryCache(false)
	}

	resp, err := s.engine.Query(c.Context(), req.Query, req.MatchCount)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Error:   fmt.Sprintf("query failed: %v", err),
		})
	}

	s.cache.Set(c.Context(), req.Query, req.MatchCount, resp)
	return c.JSON(resp)
}

func (s *Server) handleListPages(c *fiber.Ctx) error {
	pages, err := s.store.ListPages(c.Context(),
		c.Query("sort", "created_at"),
		c.Query("order", "desc"),
		c.Query("search"),
	)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Error:   fmt.Sprintf("list pages failed: %v", err),
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    pages,
		"count":   len(pages),
	})
}

func (s *Server) handleListChunks(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	size := c.QueryInt("size", 20)

	chunks, total, err := s.store.ListChunks(c.Context(), page, size, c.Query("search"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Error:   fmt.Sprintf("list chunks failed: %v", err),
		})
	}

	if page < 1 {
		page = 1
	}
	if size < 1 || size > 200 {
		size = 20
	}
	totalPages := (total + int64(size) - 1) / int64(size)

	return c.JSON(fiber.Map{
		"success": true,
		"data":    chunks,
		"pagination": fiber.Map{
			"page":  page,
			"size":  size,
			"total": total,
			"pages": totalPages,
		},
	})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.store.GetStats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Error:   fmt.Sprintf("stats failed: %v", err),
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    stats,
	})
}
