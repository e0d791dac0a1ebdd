/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/qqringman/Degrade/internal/config"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc any) *gin.Engine {
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	h := NewHandlers(cfg, log, svc)

	r.GET("/healthz", h.Healthz)
	r.GET("/api/stats", h.Stats)
	// The dashboard triggers reloads with a plain GET, keep it that way.
	r.GET("/api/refresh", h.Refresh)
	r.GET("/api/cache", h.CacheStatus)
	r.DELETE("/api/cache", h.CacheClear)
	r.GET("/admin/last-run", h.LastRun)
	r.POST("/admin/digest", h.RunDigest)

	return r
}
