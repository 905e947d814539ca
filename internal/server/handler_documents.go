package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/adverant/nexus/docextract-worker/internal/storage"
)

const maxListLimit = 100

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	switch status {
	case storage.StatusProcessing, storage.StatusCompleted, storage.StatusFailed:
	case "":
		writeError(w, http.StatusBadRequest, errors.New("status is required"))
		return
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", status))
		return
	}

	limit := 0

	if value := r.URL.Query().Get("limit"); value != "" {
		n, err := strconv.Atoi(value)

		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", value))
			return
		}

		limit = min(n, maxListLimit)
	}

	records, err := s.documents.QueryByStatus(r.Context(), status, limit)

	if err != nil {
		s.logger.Error("Failed to list documents", "status", status, "error", err)
		writeError(w, http.StatusInternalServerError, nil)
		return
	}

	result := DocumentList{
		Status:    status,
		Documents: make([]Document, 0, len(records)),
	}

	for _, record := range records {
		result.Documents = append(result.Documents, toDocument(record, false))
	}

	writeJson(w, result)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var timestamp *time.Time

	if value := r.URL.Query().Get("timestamp"); value != "" {
		t, err := time.Parse(time.RFC3339Nano, value)

		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid timestamp %q", value))
			return
		}

		timestamp = &t
	}

	record, err := s.documents.GetDocument(r.Context(), id, timestamp)

	if errors.Is(err, storage.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}

	if err != nil {
		s.logger.Error("Failed to get document", "document_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, nil)
		return
	}

	writeJson(w, toDocument(record, true))
}
