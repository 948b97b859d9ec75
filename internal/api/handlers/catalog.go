package handlers

import (
	"net/http"
	"sort"

	"github.com/flowline-ai/flowline/internal/api/dto"
	"github.com/flowline-ai/flowline/internal/engine/actions"
)

// CatalogHandler lists the registered action types for workflow authors.
type CatalogHandler struct {
	registry *actions.Registry
}

func NewCatalogHandler(registry *actions.Registry) *CatalogHandler {
	return &CatalogHandler{registry: registry}
}

func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.registry.Catalog()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ActionType < entries[j].ActionType
	})
	dto.OK(w, entries)
}
