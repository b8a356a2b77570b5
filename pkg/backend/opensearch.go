package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/texgrep/texgrep/pkg/config"
	"github.com/texgrep/texgrep/pkg/core"
	"github.com/texgrep/texgrep/pkg/log"
	"github.com/texgrep/texgrep/pkg/query"
)

var osLogger = log.ForService("opensearch")

// OpenSearchBackend talks to the full-text index engine over its JSON HTTP
// interface. The backend owns the index schema and builds every request body
// by hand; it issues a single attempt per call and surfaces provider
// failures opaquely.
type OpenSearchBackend struct {
	client       *http.Client
	host         string
	index        string
	snippetLines int
}

// NewOpenSearchBackend creates a backend for the configured engine host and
// index name.
func NewOpenSearchBackend(cfg config.OpenSearchConfig, snippetLines int) *OpenSearchBackend {
	return &OpenSearchBackend{
		client:       &http.Client{Timeout: cfg.Timeout.Duration},
		host:         strings.TrimRight(cfg.Host, "/"),
		index:        cfg.Index,
		snippetLines: snippetLines,
	}
}

// IndexDefinition returns the settings and mappings for the TeX index:
// keyword fields for exact filters, a command field with an edge-ngram
// prefix sub-field, and a content field retaining positions and offsets
// with an ngram sub-field for the regex fallback path.
func IndexDefinition() map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"index": map[string]any{
				"max_ngram_diff": 20,
			},
			"analysis": map[string]any{
				"tokenizer": map[string]any{
					"tex_tokenizer": map[string]any{
						"type":    "pattern",
						"pattern": `\s+`,
					},
				},
				"filter": map[string]any{
					"command_edge": map[string]any{
						"type":     "edge_ngram",
						"min_gram": 1,
						"max_gram": 15,
					},
					"tex_ngram": map[string]any{
						"type":     "ngram",
						"min_gram": 2,
						"max_gram": 15,
					},
				},
				"analyzer": map[string]any{
					"tex_analyzer": map[string]any{
						"type":      "custom",
						"tokenizer": "tex_tokenizer",
						"filter":    []any{},
					},
					"command_prefix": map[string]any{
						"type":      "custom",
						"tokenizer": "keyword",
						"filter":    []any{"command_edge"},
					},
					"tex_ngram_analyzer": map[string]any{
						"type":      "custom",
						"tokenizer": "tex_tokenizer",
						"filter":    []any{"tex_ngram"},
					},
				},
			},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"file_id": map[string]any{"type": "keyword"},
				"path":    map[string]any{"type": "keyword"},
				"url":     map[string]any{"type": "keyword"},
				"year":    map[string]any{"type": "keyword"},
				"source":  map[string]any{"type": "keyword"},
				"commands": map[string]any{
					"type": "keyword",
					"fields": map[string]any{
						"prefix": map[string]any{
							"type":     "text",
							"analyzer": "command_prefix",
						},
					},
				},
				"content": map[string]any{
					"type":            "text",
					"analyzer":        "tex_analyzer",
					"search_analyzer": "tex_analyzer",
					"term_vector":     "with_positions_offsets",
					"fields": map[string]any{
						"ngram": map[string]any{
							"type":     "text",
							"analyzer": "tex_ngram_analyzer",
						},
					},
				},
				"line_offsets": map[string]any{"type": "integer"},
			},
		},
	}
}

func (b *OpenSearchBackend) Search(ctx context.Context, req core.SearchRequest) (*core.SearchResponse, error) {
	body := query.BuildSearchBody(req)
	offset := req.Offset()

	searchURL := fmt.Sprintf("%s/%s/_search?from=%d&size=%d",
		b.host, url.PathEscape(b.index), offset, req.Size)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, providerErrorf("opensearch", "encoding query body: %w", err)
	}

	respBody, err := b.do(ctx, http.MethodPost, searchURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Took int64 `json:"took"`
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string             `json:"_id"`
				Source core.IndexDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, providerErrorf("opensearch", "decoding search response: %w", err)
	}

	hits := make([]core.SearchHit, 0, len(parsed.Hits.Hits))
	for _, raw := range parsed.Hits.Hits {
		doc := raw.Source
		if doc.FileID == "" {
			doc.FileID = raw.ID
		}
		// keepOnMiss: the engine can match via the alternate-backslash
		// phrase or ngram decomposition, so hits never get dropped for
		// a rendering miss.
		if hit, ok := buildHit(doc, req, b.snippetLines, true); ok {
			hits = append(hits, hit)
		}
	}

	total := parsed.Hits.Total.Value
	return &core.SearchResponse{
		Hits:           hits,
		Total:          total,
		TookProviderMS: parsed.Took,
		Page:           req.ResolvedPage(),
		Size:           req.Size,
		NextCursor:     core.NextCursor(offset, req.Size, total),
	}, nil
}

func (b *OpenSearchBackend) IndexDocuments(ctx context.Context, docs []core.IndexDocument) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		action := map[string]any{
			"index": map[string]any{"_index": b.index, "_id": doc.FileID},
		}
		if err := json.NewEncoder(&buf).Encode(action); err != nil {
			return providerErrorf("opensearch", "encoding bulk action: %w", err)
		}
		if err := json.NewEncoder(&buf).Encode(doc); err != nil {
			return providerErrorf("opensearch", "encoding document %s: %w", doc.FileID, err)
		}
	}

	respBody, err := b.do(ctx, http.MethodPost, b.host+"/_bulk", "application/x-ndjson", &buf)
	if err != nil {
		return err
	}

	var result struct {
		Errors bool `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return providerErrorf("opensearch", "decoding bulk response: %w", err)
	}
	if result.Errors {
		return providerErrorf("opensearch", "bulk indexing reported item failures")
	}
	osLogger.Debugf("bulk indexed %d documents", len(docs))
	return nil
}

func (b *OpenSearchBackend) CreateIndex(ctx context.Context) error {
	exists, err := b.indexExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	payload, err := json.Marshal(IndexDefinition())
	if err != nil {
		return providerErrorf("opensearch", "encoding index definition: %w", err)
	}
	_, err = b.do(ctx, http.MethodPut, b.indexURL(), "application/json", bytes.NewReader(payload))
	return err
}

func (b *OpenSearchBackend) DeleteIndex(ctx context.Context) error {
	exists, err := b.indexExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	_, err = b.do(ctx, http.MethodDelete, b.indexURL(), "", nil)
	return err
}

func (b *OpenSearchBackend) Close() error {
	return nil
}

func (b *OpenSearchBackend) indexURL() string {
	return b.host + "/" + url.PathEscape(b.index)
}

func (b *OpenSearchBackend) indexExists(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.indexURL(), nil)
	if err != nil {
		return false, providerErrorf("opensearch", "building request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false, providerErrorf("opensearch", "checking index: %w", err)
	}
	defer drainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, providerErrorf("opensearch", "checking index: unexpected status %d", resp.StatusCode)
	}
}

func (b *OpenSearchBackend) do(ctx context.Context, method, rawURL, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, providerErrorf("opensearch", "building request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, providerErrorf("opensearch", "%s %s: %w", method, rawURL, err)
	}
	defer drainAndClose(resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providerErrorf("opensearch", "reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, providerErrorf("opensearch", "%s %s: status %d: %s",
			method, rawURL, resp.StatusCode, truncateBody(respBody))
	}
	return respBody, nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
