package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// healthTimeout bounds the database ping.
const healthTimeout = 2 * time.Second

// HealthResponse reports liveness and the database check.
type HealthResponse struct {
	Status    string    `json:"status" example:"healthy"`
	Service   string    `json:"service" example:"chatdys-backend"`
	Version   string    `json:"version" example:"2.0.0"`
	Database  string    `json:"database" example:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

// Health godoc
// @ID          health
// @Summary     Health check
// @Tags        Health
// @Produce     json
// @Success     200  {object}  handlers.HealthResponse
// @Failure     503  {object}  handlers.HealthResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Service:   h.service,
		Version:   h.version,
		Database:  "ok",
		Timestamp: h.now().UTC(),
	}
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			_ = c.Error(err)
			resp.Status = "unhealthy"
			resp.Database = "unreachable"
			ok(c, http.StatusServiceUnavailable, resp)
			return
		}
	}
	ok(c, http.StatusOK, resp)
}
