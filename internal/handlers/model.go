package handlers

import (
	"context"
	"net/http"

	"parley-backend/internal/models"
)

type modelLister interface {
	ListModels(ctx context.Context) ([]models.ModelInfo, error)
	DefaultModel() string
}

type ModelHandler struct {
	gateway modelLister
}

func NewModelHandler(gateway modelLister) *ModelHandler {
	return &ModelHandler{gateway: gateway}
}

func (h *ModelHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.gateway.ListModels(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models":  list,
		"default": h.gateway.DefaultModel(),
	})
}
