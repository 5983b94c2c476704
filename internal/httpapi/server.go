// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httpapi is the HTTP+JSON command surface spec.md §6 names,
// wired with gin the way the teacher's cmd/trace and services/orchestrator
// wire it: gin.New() plus Recovery, otelgin tracing, and route groups
// under a versioned prefix.
package httpapi

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/csa-systems/csa-engine/internal/engine"
	"github.com/csa-systems/csa-engine/internal/telemetry"
)

// NewRouter builds the gin engine: recovery, otelgin tracing, the metrics
// middleware, and every route named in spec.md §6 under /v1.
func NewRouter(eng *engine.Engine, debug bool, logger *slog.Logger) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if debug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware("csa-engine"))
	router.Use(metricsMiddleware(eng.Metrics()))

	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}
	router.GET("/healthz", func(c *gin.Context) { c.Status(200) })
	router.GET("/v1/events", func(c *gin.Context) { handleEventStream(eng, c) })

	v1 := router.Group("/v1")
	{
		systems := v1.Group("/systems")
		{
			systems.POST("", createSystem(eng))
			systems.GET("/:id", loadSystem(eng))
			systems.PUT("/:id", saveSystem(eng))
			systems.POST("/:id/components", addComponent(eng))
			systems.DELETE("/:id/components/:cid", removeComponent(eng))
			systems.PATCH("/:id/components/:cid/state", updateComponentState(eng))
			systems.POST("/:id/relationships", addRelationship(eng))
			systems.DELETE("/:id/relationships/:rid", removeRelationship(eng))
			systems.POST("/:id/analysis", submitAnalysis(eng))
			systems.POST("/:id/validate", validateSystem(eng))
			systems.POST("/:id/export", exportSystem(eng))
		}
		v1.POST("/import", importSystem(eng))

		tasks := v1.Group("/tasks")
		{
			tasks.GET("/:handle", getTask(eng))
			tasks.GET("/:handle/result", getTaskResult(eng))
			tasks.POST("/:handle/cancel", cancelTask(eng))
		}
	}

	return router
}
