package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/adverant/nexus/docextract-worker/internal/processor"
	"github.com/adverant/nexus/docextract-worker/internal/queue"
)

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no queue configured"))
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))

	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	event, err := queue.ParseS3Event(data)

	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ids, err := s.queue.Enqueue(r.Context(), event)

	if err != nil {
		s.logger.Error("Failed to enqueue event", "records", len(event.Records), "enqueued", len(ids), "error", err)
		writeError(w, http.StatusInternalServerError, nil)
		return
	}

	s.logger.Info("Enqueued arrival event", "records", len(event.Records))

	writeJsonStatus(w, http.StatusAccepted, EnqueueResult{JobIDs: ids})
}

func (s *Server) handleReconstruct(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReconstructBytes))

	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	graph, err := processor.ParseBlockGraph(data)

	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	doc, err := s.reconstructor.Reconstruct(graph)

	if errors.Is(err, processor.ErrMalformedInput) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJson(w, doc)
}
