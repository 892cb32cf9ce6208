// Package handler implements the control API endpoints.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/geomarkapp/geomark/internal/service"
	"github.com/geomarkapp/geomark/pkg/apierror"
	"github.com/geomarkapp/geomark/pkg/response"
)

// LandmarkHandler serves landmark CRUD over the local store.
type LandmarkHandler struct {
	svc *service.LandmarkService
}

// NewLandmarkHandler creates a LandmarkHandler.
func NewLandmarkHandler(svc *service.LandmarkService) *LandmarkHandler {
	return &LandmarkHandler{svc: svc}
}

// List handles GET /api/v1/landmarks.
func (h *LandmarkHandler) List(w http.ResponseWriter, r *http.Request) {
	landmarks, err := h.svc.List()
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, landmarks)
}

// Get handles GET /api/v1/landmarks/{id}.
func (h *LandmarkHandler) Get(w http.ResponseWriter, r *http.Request) {
	landmark, err := h.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, landmark)
}

// Create handles POST /api/v1/landmarks. The write is optimistic: the local
// record appears immediately as dirty and confirms on the next sync.
func (h *LandmarkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var fields service.Fields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}

	landmark, err := h.svc.Create(&fields)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, landmark)
}

// Update handles PUT /api/v1/landmarks/{id}.
func (h *LandmarkHandler) Update(w http.ResponseWriter, r *http.Request) {
	var fields service.Fields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}

	landmark, err := h.svc.Update(chi.URLParam(r, "id"), &fields)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, landmark)
}

// Delete handles DELETE /api/v1/landmarks/{id}.
func (h *LandmarkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(chi.URLParam(r, "id")); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}
