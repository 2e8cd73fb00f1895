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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianKG/services/knowledge/graph"
	"github.com/AleutianAI/AleutianKG/services/knowledge/jobs"
	"github.com/AleutianAI/AleutianKG/services/knowledge/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ServiceVersion is the version reported by the health endpoint.
const ServiceVersion = "0.1.0"

// defaultListLimit caps entity listings when no limit is given.
const defaultListLimit = 100

// Handlers contains the HTTP handlers for the knowledge service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleHealth handles GET /v1/knowledge/health.
//
// Description:
//
//	Returns the health status of the service and the size of the current
//	graph. Always returns 200 if running.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Health())
}

// HandleAddEntities handles POST /v1/knowledge/entities.
//
// Description:
//
//	Adds a batch of entity records. Invalid records are reported in the
//	response and skipped.
//
// Request Body:
//
//	AddEntitiesRequest
//
// Response:
//
//	200 OK: IngestResponse
//	400 Bad Request: Malformed body or batch too large
func (h *Handlers) HandleAddEntities(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleAddEntities")

	var req AddEntitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body: entities is required",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	resp, err := h.svc.AddEntities(req.Entities)
	if err != nil {
		writeError(c, logger, err)
		return
	}

	logger.Info("Entities added",
		"added", resp.Added,
		"duplicates", resp.Duplicates,
		"failed", len(resp.Failures),
	)
	c.JSON(http.StatusOK, resp)
}

// HandleAddRelationships handles POST /v1/knowledge/relationships.
//
// Description:
//
//	Adds a batch of relationship records. Records that fail validation
//	or reference an unregistered entity are reported and skipped.
//
// Request Body:
//
//	AddRelationshipsRequest
//
// Response:
//
//	200 OK: IngestResponse
//	400 Bad Request: Malformed body or batch too large
func (h *Handlers) HandleAddRelationships(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleAddRelationships")

	var req AddRelationshipsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body: relationships is required",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	resp, err := h.svc.AddRelationships(req.Relationships)
	if err != nil {
		writeError(c, logger, err)
		return
	}

	logger.Info("Relationships added", "added", resp.Added, "failed", len(resp.Failures))
	c.JSON(http.StatusOK, resp)
}

// HandleListEntities handles GET /v1/knowledge/entities.
//
// Query Parameters:
//
//	type: Entity type filter (optional)
//	prefix: Name prefix filter, ignored when type is set (optional)
//	limit: Maximum number of results (optional, default 100)
//
// Response:
//
//	200 OK: EntitiesResponse (may be empty)
//	400 Bad Request: Invalid parameters
func (h *Handlers) HandleListEntities(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleListEntities")

	var req ListEntitiesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		logger.Warn("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid query parameters",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultListLimit
	}

	ents := h.svc.ListEntities(req.Type, req.Prefix, req.Limit)
	c.JSON(http.StatusOK, EntitiesResponse{Entities: ents, Count: len(ents)})
}

// HandleGetEntity handles GET /v1/knowledge/entities/:name.
//
// Response:
//
//	200 OK: EntityInfo including outgoing relationships
//	404 Not Found: Unknown entity
func (h *Handlers) HandleGetEntity(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleGetEntity")

	info, err := h.svc.GetEntity(c.Param("name"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// HandleNeighbors handles GET /v1/knowledge/neighbors.
//
// Description:
//
//	Returns entities reachable from name by following out-edges up to
//	depth hops. An unknown name yields an empty list.
//
// Query Parameters:
//
//	name: Origin entity name (required)
//	depth: Number of hops (optional, default 1)
//
// Response:
//
//	200 OK: NeighborsResponse
//	400 Bad Request: Missing name
//	422 Unprocessable Entity: depth exceeds the configured limit
func (h *Handlers) HandleNeighbors(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleNeighbors")

	var req NeighborsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		logger.Warn("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid query parameters: name is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if req.Depth <= 0 {
		req.Depth = 1
	}

	ents, err := h.svc.Neighbors(req.Name, req.Depth)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, NeighborsResponse{Name: req.Name, Depth: req.Depth, Neighbors: ents})
}

// HandleFindPaths handles GET /v1/knowledge/paths.
//
// Description:
//
//	Enumerates simple directed paths from source to target. When the
//	path count limit is reached the partial result is returned with
//	truncated=true.
//
// Query Parameters:
//
//	source: Source entity name (required)
//	target: Target entity name (required)
//	max_length: Maximum edges per path (optional, default 5)
//
// Response:
//
//	200 OK: graph.PathResult
//	400 Bad Request: Missing parameters
//	422 Unprocessable Entity: max_length exceeds the configured limit
func (h *Handlers) HandleFindPaths(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleFindPaths")

	var req PathsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		logger.Warn("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid query parameters: source and target are required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	res, err := h.svc.FindPaths(c.Request.Context(), req.Source, req.Target, req.MaxLength)
	if err != nil && !(res != nil && res.Truncated) {
		writeError(c, logger, err)
		return
	}
	if res.Truncated {
		logger.Warn("Path enumeration truncated", "source", req.Source, "target", req.Target, "paths", len(res.Paths))
	}
	c.JSON(http.StatusOK, res)
}

// HandleSubgraph handles POST /v1/knowledge/subgraph.
//
// Description:
//
//	Extracts the subgraph induced by the seed names expanded depth hops
//	in either direction and returns it in export form.
//
// Request Body:
//
//	SubgraphRequest
//
// Response:
//
//	200 OK: graph.Export
//	400 Bad Request: Missing names
func (h *Handlers) HandleSubgraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleSubgraph")

	var req SubgraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body: names is required",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, h.svc.Subgraph(req.Names, req.Depth))
}

// HandleCentrality handles POST /v1/knowledge/analysis/centrality.
//
// Description:
//
//	Schedules a PageRank analysis. With wait=true the request blocks
//	until the job finishes.
//
// Query Parameters:
//
//	wait: Run synchronously (optional, default false)
//
// Response:
//
//	202 Accepted: JobResponse (async)
//	200 OK: JobResponse with the finished job (wait=true)
//	429 Too Many Requests: Submission rate exceeded
func (h *Handlers) HandleCentrality(c *gin.Context) {
	h.handleAnalysis(c, "HandleCentrality", h.svc.SubmitCentrality, h.svc.RunCentrality)
}

// HandleCommunities handles POST /v1/knowledge/analysis/communities.
//
// Description:
//
//	Schedules greedy modularity community detection. With wait=true the
//	request blocks until the job finishes.
//
// Response:
//
//	Same as HandleCentrality.
func (h *Handlers) HandleCommunities(c *gin.Context) {
	h.handleAnalysis(c, "HandleCommunities", h.svc.SubmitCommunities, h.svc.RunCommunities)
}

func (h *Handlers) handleAnalysis(
	c *gin.Context,
	name string,
	submit func() (jobs.Job, error),
	run func(ctx context.Context) (jobs.Job, error),
) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, name)

	var req AnalysisRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		logger.Warn("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid query parameters",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if !req.Wait {
		job, err := submit()
		if err != nil {
			writeError(c, logger, err)
			return
		}
		logger.Info("Analysis scheduled", "job_id", job.ID, "kind", job.Kind)
		c.Header("Location", jobLocation(c, job.ID))
		c.JSON(http.StatusAccepted, JobResponse{Job: job})
		return
	}

	job, err := run(c.Request.Context())
	if err != nil {
		if job.ID != "" && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			c.Header("Location", jobLocation(c, job.ID))
			c.JSON(http.StatusAccepted, JobResponse{Job: job})
			return
		}
		writeError(c, logger, err)
		return
	}
	logger.Info("Analysis finished", "job_id", job.ID, "state", job.State)
	c.JSON(http.StatusOK, JobResponse{Job: job})
}

// HandleGetJob handles GET /v1/knowledge/jobs/:id.
//
// Response:
//
//	200 OK: JobResponse
//	404 Not Found: Unknown or evicted job
func (h *Handlers) HandleGetJob(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleGetJob")

	job, err := h.svc.Job(c.Param("id"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, JobResponse{Job: job})
}

// HandleExport handles GET /v1/knowledge/export.
//
// Response:
//
//	200 OK: graph.Export
func (h *Handlers) HandleExport(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Export())
}

// HandleStats handles GET /v1/knowledge/stats.
//
// Response:
//
//	200 OK: graph.Statistics
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Statistics())
}

// writeError maps service errors to HTTP status codes.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, graph.ErrInvalidRecord):
		status, code = http.StatusBadRequest, "INVALID_RECORD"
	case errors.Is(err, graph.ErrEntityNotFound):
		status, code = http.StatusNotFound, "ENTITY_NOT_FOUND"
	case errors.Is(err, jobs.ErrJobNotFound):
		status, code = http.StatusNotFound, "JOB_NOT_FOUND"
	case errors.Is(err, graph.ErrLimitExceeded):
		status, code = http.StatusUnprocessableEntity, "LIMIT_EXCEEDED"
	case errors.Is(err, jobs.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, jobs.ErrClosed):
		status, code = http.StatusServiceUnavailable, "SHUTTING_DOWN"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, context.Canceled):
		status, code = 499, "CANCELED"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err, "status", status)
	} else {
		logger.Warn("Request rejected", "error", err, "status", status)
	}
	c.JSON(status, ErrorResponse{
		Error:   err.Error(),
		Code:    code,
		TraceID: telemetry.TraceID(c.Request.Context()),
	})
}

// jobLocation returns the status URL for a job, relative to the route group.
func jobLocation(c *gin.Context, id string) string {
	base := c.GetString(routeBaseKey)
	return base + "/jobs/" + id
}

// requestLogger returns the default logger tagged with the request id, the
// handler name and the trace of the otelgin span.
func requestLogger(c *gin.Context, requestID, handler string) *slog.Logger {
	return telemetry.LoggerWithTrace(c.Request.Context(), slog.Default()).
		With("request_id", requestID, "handler", handler)
}

// getOrCreateRequestID returns the X-Request-ID header or a new UUID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
