package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/texgrep/texgrep/pkg/backend"
	"github.com/texgrep/texgrep/pkg/ingest"
	"github.com/texgrep/texgrep/pkg/query"
	"github.com/texgrep/texgrep/pkg/version"
)

const maxBodyBytes = 1 << 20

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.APIVersion(),
	})
}

func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var payload query.Payload
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	req, err := query.ParsePayload(payload)
	if err != nil {
		var validationErr *query.ValidationError
		if errors.As(err, &validationErr) {
			s.writeError(w, http.StatusBadRequest, "Invalid query", validationErr.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, "Invalid query", err.Error())
		return
	}

	result, err := s.service.Search(r.Context(), req)
	if err != nil {
		var providerErr *backend.ProviderError
		if errors.As(err, &providerErr) {
			logger.Errorf("search: %v", err)
			s.writeError(w, http.StatusBadGateway, "Search backend unavailable", "The search provider did not return a result")
			return
		}
		logger.Errorf("search: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Search failed", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, SearchResponse{
		Hits:           result.Hits,
		Total:          result.Total,
		TookProviderMS: result.TookProviderMS,
		TookEndToEndMS: time.Since(start).Milliseconds(),
		Page:           result.Page,
		Size:           result.Size,
		NextCursor:     result.NextCursor,
	})
}

func (s *Server) HandleReindex(w http.ResponseWriter, r *http.Request) {
	var payload ReindexRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	// an empty body selects the defaults
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if payload.Source == "" {
		payload.Source = ingest.SampleSource
	}
	if payload.Source != ingest.SampleSource {
		s.writeError(w, http.StatusBadRequest, "Unknown source", "Only the embedded sample corpus can be reindexed")
		return
	}

	limit := 0
	if payload.Limit != nil {
		limit = *payload.Limit
	}

	taskID := uuid.NewString()
	go s.runReindex(taskID, limit)

	s.writeJSON(w, http.StatusAccepted, ReindexResponse{
		TaskID: taskID,
		Status: "queued",
	})
}

func (s *Server) runReindex(taskID string, limit int) {
	logger.Infof("reindex %s: starting (limit=%d)", taskID, limit)

	sampleDir := filepath.Join(s.cfg.StorageDir, "samples")
	docs, err := ingest.FetchSamples(sampleDir, limit)
	if err != nil {
		logger.Errorf("reindex %s: fetching samples: %v", taskID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := s.service.Reindex(ctx, docs); err != nil {
		logger.Errorf("reindex %s: %v", taskID, err)
		return
	}
	logger.Infof("reindex %s: indexed %d documents", taskID, len(docs))
}
