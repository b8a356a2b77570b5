package api

import "github.com/texgrep/texgrep/pkg/core"

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// SearchResponse is the wire shape of a search result. It extends the
// provider response with the end-to-end latency measured at the handler.
type SearchResponse struct {
	Hits           []core.SearchHit `json:"hits"`
	Total          int              `json:"total"`
	TookProviderMS int64            `json:"took_provider_ms"`
	TookEndToEndMS int64            `json:"took_end_to_end_ms"`
	Page           int              `json:"page"`
	Size           int              `json:"size"`
	NextCursor     string           `json:"next_cursor,omitempty"`
}

type ReindexRequest struct {
	Source string `json:"source"`
	Limit  *int   `json:"limit"`
}

type ReindexResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}
