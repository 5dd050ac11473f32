package handlers

import (
	"net/http"
	"strconv"

	"batchroute/internal/apperr"
)

// Upload handles POST /api/upload (multipart, single part named "file").
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		h.respondError(w, apperr.Wrap(apperr.KindValidation, "expected multipart/form-data", err))
		return
	}

	var descriptorFound bool
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		descriptor, err := h.uploads.Ingest(part)
		part.Close()
		if err != nil {
			h.respondError(w, err)
			return
		}
		h.respondJSON(w, http.StatusOK, descriptor)
		descriptorFound = true
		break
	}

	if !descriptorFound {
		h.respondError(w, apperr.Validation(`expected a multipart part named "file"`))
	}
}

// Sample handles GET /api/upload/:fileId/sample?limit=N.
func (h *Handlers) Sample(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("fileId")
	if fileID == "" {
		h.respondError(w, apperr.Validation("file id is required"))
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.respondError(w, apperr.Validation("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	sample, err := h.uploads.Sample(fileID, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, sample)
}
