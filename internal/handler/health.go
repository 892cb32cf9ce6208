package handler

import (
	"net/http"

	"github.com/geomarkapp/geomark/pkg/response"
)

// HealthHandler serves liveness endpoints.
type HealthHandler struct {
	version string
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version}
}

// Health handles GET /api/v1/health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}
