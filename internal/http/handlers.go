/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/qqringman/Degrade/internal/config"
	"github.com/qqringman/Degrade/internal/domain"
	"github.com/qqringman/Degrade/internal/repo"
	"github.com/qqringman/Degrade/internal/services"
)

const dateLayout = "2006-01-02"

type service interface {
	Stats(ctx context.Context, p services.StatsParams) (*services.StatsReport, error)
	Refresh(ctx context.Context) (*domain.AggregateResult, error)
	RefreshAsync() bool
	CacheStatus() domain.CacheStatus
	ClearCache()
	GetLastRun(ctx context.Context) (*repo.LastRun, error)
	RunDigest(ctx context.Context) error
}

type Handlers struct {
	cfg config.Config
	log zerolog.Logger
	svc service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc any) *Handlers {
	return &Handlers{cfg: cfg, log: log, svc: svc.(service)}
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) Stats(c *gin.Context) {
	var p services.StatsParams
	if s := c.Query("start_date"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid start_date, want YYYY-MM-DD")
			return
		}
		p.Start = t
	}
	if s := c.Query("end_date"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid end_date, want YYYY-MM-DD")
			return
		}
		p.End = t
	}
	p.Owner = c.Query("owner")

	rep, err := h.svc.Stats(c.Request.Context(), p)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rep})
}

func (h *Handlers) Refresh(c *gin.Context) {
	if c.Query("background") == "1" {
		if h.svc.RefreshAsync() {
			c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "refresh started"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "refresh already running"})
		return
	}
	res, err := h.svc.Refresh(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        "cache refreshed",
		"degrade_count":  len(res.Degrade),
		"resolved_count": len(res.Resolved),
		"warning_count":  len(res.Warnings),
		"load_seconds":   res.LoadSeconds,
	})
}

func (h *Handlers) CacheStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": h.svc.CacheStatus()})
}

func (h *Handlers) CacheClear(c *gin.Context) {
	h.svc.ClearCache()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "cache cleared"})
}

func (h *Handlers) LastRun(c *gin.Context) {
	lr, err := h.svc.GetLastRun(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrNoDatabase) {
			fail(c, http.StatusNotFound, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, lr)
}

func (h *Handlers) RunDigest(c *gin.Context) {
	// Run in background detached from the HTTP request to avoid context cancellation
	go func() { _ = h.svc.RunDigest(context.Background()) }()
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "digest queued"})
}
