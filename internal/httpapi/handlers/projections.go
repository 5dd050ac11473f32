package handlers

import "net/http"

// ListProjections handles GET /api/projections?region=&search=.
func (h *Handlers) ListProjections(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	search := r.URL.Query().Get("search")
	h.respondJSON(w, http.StatusOK, h.catalog.List(region, search))
}
