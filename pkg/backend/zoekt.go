package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/texgrep/texgrep/pkg/config"
	"github.com/texgrep/texgrep/pkg/core"
	"github.com/texgrep/texgrep/pkg/log"
	"github.com/texgrep/texgrep/pkg/query"
	"github.com/texgrep/texgrep/pkg/snippet"
)

var zoektLogger = log.ForService("zoekt")

// ZoektBackend queries a zoekt webserver over its JSON API. Queries run as
// case-sensitive substring searches on the decoded literal; regex mode falls
// back to local matching over the returned file content. Indexing writes the
// corpus into a git work tree and shells out to zoekt-index.
type ZoektBackend struct {
	client       *http.Client
	baseURL      string
	repoRoot     string
	snippetLines int
}

// NewZoektBackend creates a backend for the configured zoekt webserver. The
// storage directory holds the git work trees fed to zoekt-index.
func NewZoektBackend(cfg config.ZoektConfig, storageDir string, snippetLines int) *ZoektBackend {
	return &ZoektBackend{
		client:       &http.Client{Timeout: cfg.Timeout.Duration},
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		repoRoot:     filepath.Join(storageDir, "repos"),
		snippetLines: snippetLines,
	}
}

type zoektLineMatch struct {
	LineNumber int    `json:"LineNumber"`
	Line       string `json:"Line"`
}

type zoektFileMatch struct {
	FileName    string           `json:"FileName"`
	Repository  string           `json:"Repository"`
	Checksum    string           `json:"Checksum"`
	URL         string           `json:"URL"`
	Content     *string          `json:"Content"`
	LineMatches []zoektLineMatch `json:"LineMatches"`
}

type zoektSearchResult struct {
	Stats struct {
		Duration   float64 `json:"Duration"`
		MatchCount int     `json:"MatchCount"`
		FileCount  int     `json:"FileCount"`
	} `json:"Stats"`
	Duration    float64          `json:"Duration"`
	FileMatches []zoektFileMatch `json:"FileMatches"`
}

func (b *ZoektBackend) Search(ctx context.Context, req core.SearchRequest) (*core.SearchResponse, error) {
	start := time.Now()
	offset := req.Offset()
	decoded := query.Decode(req.Query)

	payload := map[string]any{
		"query": map[string]any{
			"type":          "substring",
			"pattern":       decoded,
			"caseSensitive": true,
		},
		"num":    req.Size,
		"offset": offset,
	}
	// Structured year/source filters are not expressible over this API;
	// they would need Repo or Branch constraints on the index layout.

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, providerErrorf("zoekt", "encoding query: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/search", bytes.NewReader(body))
	if err != nil {
		return nil, providerErrorf("zoekt", "building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, providerErrorf("zoekt", "querying %s: %w", b.baseURL, err)
	}
	defer drainAndClose(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providerErrorf("zoekt", "reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, providerErrorf("zoekt", "search returned status %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var result zoektSearchResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, providerErrorf("zoekt", "decoding response: %w", err)
		}
	}

	hits := b.processFileMatches(ctx, result.FileMatches, req, decoded)

	tookMS := b.extractDuration(result, start)
	total := result.Stats.MatchCount
	if total == 0 {
		total = result.Stats.FileCount
	}
	if total == 0 {
		total = len(hits)
	}

	return &core.SearchResponse{
		Hits:           hits,
		Total:          total,
		TookProviderMS: tookMS,
		Page:           req.ResolvedPage(),
		Size:           req.Size,
		NextCursor:     core.NextCursor(offset, req.Size, total),
	}, nil
}

func (b *ZoektBackend) processFileMatches(ctx context.Context, matches []zoektFileMatch, req core.SearchRequest, decoded string) []core.SearchHit {
	hits := []core.SearchHit{}
	for _, fm := range matches {
		content, ok := b.fileContent(ctx, fm)
		if !ok {
			continue
		}
		fileID := fm.FileName
		if fm.Repository != "" {
			fileID = fm.Repository + ":" + fm.FileName
		}
		if fm.Checksum != "" {
			fileID = fm.Checksum
		}
		for _, lm := range fm.LineMatches {
			match := buildLineMatch(content, lm, req.Mode, decoded)
			if match == nil {
				continue
			}
			built := snippet.Build(content, *match, b.snippetLines, req.Mode, decoded)
			hits = append(hits, core.SearchHit{
				FileID:  fileID,
				Path:    fm.FileName,
				Line:    match.LineNumber,
				Snippet: built.Snippet,
				URL:     fm.URL,
				Blocks:  built.Blocks,
			})
		}
	}
	return hits
}

// buildLineMatch converts a zoekt line match to exact offsets. When the
// preview line contains the needle the offsets come from line arithmetic;
// otherwise the whole content is rescanned.
func buildLineMatch(content string, lm zoektLineMatch, mode core.SearchMode, decoded string) *core.MatchResult {
	if content == "" {
		return nil
	}
	if lm.LineNumber <= 0 || decoded == "" {
		return snippet.FindMatch(content, mode, decoded)
	}

	idx := strings.Index(lm.Line, decoded)
	if idx == -1 {
		return snippet.FindMatch(content, mode, decoded)
	}

	lines := snippet.SplitLines(content)
	offset := 0
	for i := 0; i < lm.LineNumber-1 && i < len(lines); i++ {
		offset += len(lines[i]) + 1
	}
	start := offset + idx
	return &core.MatchResult{
		Start:      start,
		End:        start + len(decoded),
		LineNumber: lm.LineNumber,
	}
}

func (b *ZoektBackend) fileContent(ctx context.Context, fm zoektFileMatch) (string, bool) {
	if fm.Content != nil {
		return *fm.Content, true
	}
	if fm.Repository == "" || fm.FileName == "" {
		return "", false
	}

	params := url.Values{}
	params.Set("Repository", fm.Repository)
	params.Set("File", fm.FileName)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/file?"+params.Encode(), nil)
	if err != nil {
		return "", false
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		zoektLogger.Warnf("fetching %s/%s: %v", fm.Repository, fm.FileName, err)
		return "", false
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false
	}
	return string(body), true
}

func (b *ZoektBackend) extractDuration(result zoektSearchResult, start time.Time) int64 {
	duration := result.Stats.Duration
	if duration == 0 {
		duration = result.Duration
	}
	if duration > 0 {
		return int64(duration * 1000)
	}
	return time.Since(start).Milliseconds()
}

// IndexDocuments writes every document under a git work tree and runs
// zoekt-index over it. The webserver picks up the shard on its next scan.
func (b *ZoektBackend) IndexDocuments(ctx context.Context, docs []core.IndexDocument) error {
	binary, err := exec.LookPath("zoekt-index")
	if err != nil {
		return providerErrorf("zoekt", "zoekt-index executable not found in PATH")
	}

	repoDir := filepath.Join(b.repoRoot, "texgrep")
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return providerErrorf("zoekt", "creating repo dir: %w", err)
	}

	for _, doc := range docs {
		target := filepath.Join(repoDir, filepath.FromSlash(doc.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return providerErrorf("zoekt", "creating %s: %w", filepath.Dir(target), err)
		}
		if err := os.WriteFile(target, []byte(doc.Content), 0o644); err != nil {
			return providerErrorf("zoekt", "writing %s: %w", target, err)
		}
	}

	if err := b.ensureGitRepo(ctx, repoDir); err != nil {
		return err
	}
	if err := runGit(ctx, repoDir, "add", "--all"); err != nil {
		return err
	}
	status, err := gitOutput(ctx, repoDir, "status", "--porcelain")
	if err != nil {
		return err
	}
	if strings.TrimSpace(status) != "" {
		// commit failures (e.g. nothing staged after a rename) are not fatal
		if err := runGit(ctx, repoDir, "commit", "-m", "Update index"); err != nil {
			zoektLogger.Warnf("git commit: %v", err)
		}
	}

	cmd := exec.CommandContext(ctx, binary, "-incremental", repoDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return providerErrorf("zoekt", "zoekt-index: %w: %s", err, truncateBody(out))
	}
	zoektLogger.Infof("indexed %d documents under %s", len(docs), repoDir)
	return nil
}

func (b *ZoektBackend) CreateIndex(ctx context.Context) error {
	return os.MkdirAll(b.repoRoot, 0o755)
}

func (b *ZoektBackend) DeleteIndex(ctx context.Context) error {
	repoDir := filepath.Join(b.repoRoot, "texgrep")
	if err := os.RemoveAll(repoDir); err != nil {
		return providerErrorf("zoekt", "removing repo dir: %w", err)
	}
	return nil
}

func (b *ZoektBackend) Close() error {
	return nil
}

func (b *ZoektBackend) ensureGitRepo(ctx context.Context, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return nil
	}
	if err := runGit(ctx, dir, "init"); err != nil {
		return err
	}
	if err := runGit(ctx, dir, "config", "user.email", "indexer@texgrep.local"); err != nil {
		return err
	}
	return runGit(ctx, dir, "config", "user.name", "texgrep indexer")
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return providerErrorf("zoekt", "git %s: %w: %s", strings.Join(args, " "), err, truncateBody(out))
	}
	return nil
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", providerErrorf("zoekt", "git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}
