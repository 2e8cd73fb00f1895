// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"net/http"

	"github.com/AleutianAI/AleutianKG/services/knowledge/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// routeBaseKey is the gin context key holding the knowledge route prefix.
const routeBaseKey = "knowledge.base_path"

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// MaxBodyBytes caps request bodies. 0 disables the cap.
	MaxBodyBytes int64

	// AccessLog enables gin's request logger.
	AccessLog bool
}

// NewRouter builds the HTTP router for the knowledge service.
//
// Description:
//
//	Installs recovery, OpenTelemetry and body size middleware, the
//	/metrics endpoint when a Prometheus exporter is active, and all
//	knowledge routes under /v1.
//
// Inputs:
//
//	handlers - The handlers instance.
//	cfg - Router configuration.
//
// Outputs:
//
//	*gin.Engine - The configured router.
func NewRouter(handlers *Handlers, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.AccessLog {
		router.Use(gin.Logger())
	}
	if cfg.ServiceName != "" {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	if cfg.MaxBodyBytes > 0 {
		router.Use(limitBody(cfg.MaxBodyBytes))
	}

	if metrics := telemetry.MetricsHandler(); metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}

// RegisterRoutes registers all knowledge routes with the router.
//
// Description:
//
//	Registers all /v1/knowledge/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET  /v1/knowledge/health - Service and graph health
//	POST /v1/knowledge/entities - Add entity records
//	POST /v1/knowledge/relationships - Add relationship records
//	GET  /v1/knowledge/entities - List entities by type or name prefix
//	GET  /v1/knowledge/entities/:name - Get one entity
//	GET  /v1/knowledge/neighbors - Out-edge neighborhood
//	GET  /v1/knowledge/paths - Simple paths between two entities
//	POST /v1/knowledge/subgraph - Induced subgraph around seeds
//	POST /v1/knowledge/analysis/centrality - Schedule PageRank
//	POST /v1/knowledge/analysis/communities - Schedule community detection
//	GET  /v1/knowledge/jobs/:id - Analysis job status
//	GET  /v1/knowledge/export - Full graph export
//	GET  /v1/knowledge/stats - Graph statistics
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	kg := rg.Group("/knowledge")
	base := kg.BasePath()
	kg.Use(func(c *gin.Context) {
		c.Set(routeBaseKey, base)
		c.Next()
	})

	kg.GET("/health", handlers.HandleHealth)

	kg.POST("/entities", handlers.HandleAddEntities)
	kg.POST("/relationships", handlers.HandleAddRelationships)
	kg.GET("/entities", handlers.HandleListEntities)
	kg.GET("/entities/:name", handlers.HandleGetEntity)

	kg.GET("/neighbors", handlers.HandleNeighbors)
	kg.GET("/paths", handlers.HandleFindPaths)
	kg.POST("/subgraph", handlers.HandleSubgraph)

	analysis := kg.Group("/analysis")
	{
		analysis.POST("/centrality", handlers.HandleCentrality)
		analysis.POST("/communities", handlers.HandleCommunities)
	}
	kg.GET("/jobs/:id", handlers.HandleGetJob)

	kg.GET("/export", handlers.HandleExport)
	kg.GET("/stats", handlers.HandleStats)
}

// limitBody caps the request body size.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
