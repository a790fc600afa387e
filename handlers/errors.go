package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tas-llm-gateway/models"
	"github.com/tas-llm-gateway/services"
)

// routeErrorStatus maps a pipeline error to the HTTP status and body the
// gateway returns. Upstream client errors (400-404) keep the provider's own
// status so callers see e.g. a 402 deactivated_workspace exactly as the
// provider sent it.
func routeErrorStatus(err error) (int, models.ErrorResponse) {
	switch {
	case errors.Is(err, services.ErrCostGuardBlocked):
		return http.StatusInternalServerError,
			models.NewErrorResponse(err.Error(), "cost_guard", models.ReasonCostGuardBlocked)
	case errors.Is(err, services.ErrQueueTimeout):
		return http.StatusServiceUnavailable,
			models.NewErrorResponse(err.Error(), "gpu_queue", models.ReasonQueueTimeout)
	case errors.Is(err, services.ErrCloudDisabled):
		return http.StatusServiceUnavailable,
			models.NewErrorResponse(err.Error(), "cloud_gate", "cloud_unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout,
			models.NewErrorResponse("request deadline exceeded", "timeout", "deadline_exceeded")
	}

	if ue, ok := services.AsUpstreamError(err); ok {
		status := http.StatusBadGateway
		if ue.StatusCode >= 400 && ue.StatusCode < 500 {
			status = ue.StatusCode
		}
		return status, models.NewErrorResponse(ue.Error(), "upstream_error", "")
	}

	return http.StatusInternalServerError,
		models.NewErrorResponse("Internal routing failure", "internal_error", "")
}

// writeRouteError renders err as the JSON error response.
func writeRouteError(c *gin.Context, logger *logrus.Logger, err error) {
	status, body := routeErrorStatus(err)
	if status >= 500 {
		logger.WithError(err).Error("Routing request failed")
	}
	c.JSON(status, body)
}

// bindError renders a malformed request body as a 400.
func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest,
		models.NewErrorResponse("Invalid request body: "+err.Error(), "invalid_request_error", "bad_request"))
}
