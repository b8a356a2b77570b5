package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/texgrep/texgrep/pkg/core"
	"github.com/texgrep/texgrep/pkg/db"
	"github.com/texgrep/texgrep/pkg/log"
	"github.com/texgrep/texgrep/pkg/query"
)

var sqliteLogger = log.ForService("sqlite")

// SQLiteBackend stores the corpus in a local SQLite database with an FTS5
// table used as a candidate prefilter. Matching and snippet rendering run
// in-process on the stored content, so the FTS pass only has to be a
// superset of the true result set.
type SQLiteBackend struct {
	db           *sql.DB
	snippetLines int
}

// NewSQLiteBackend opens (or creates) the database at dbPath.
func NewSQLiteBackend(dbPath string, snippetLines int) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA temp_store = memory",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	return &SQLiteBackend{db: db, snippetLines: snippetLines}, nil
}

func (b *SQLiteBackend) CreateIndex(ctx context.Context) error {
	if err := db.InitializeDatabase(b.db); err != nil {
		return providerErrorf("sqlite", "creating schema: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) DeleteIndex(ctx context.Context) error {
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS documents_fts`,
		`DROP TABLE IF EXISTS documents`,
	} {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return providerErrorf("sqlite", "dropping schema: %w", err)
		}
	}
	if err := db.NewMigrationManager(b.db).ResetMigrations(); err != nil {
		return providerErrorf("sqlite", "resetting migrations: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) IndexDocuments(ctx context.Context, docs []core.IndexDocument) error {
	if len(docs) == 0 {
		return nil
	}
	if err := b.CreateIndex(ctx); err != nil {
		return err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return providerErrorf("sqlite", "beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				sqliteLogger.Warnf("rolling back transaction: %v", err)
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO documents (file_id, path, url, year, source, content, commands, line_offsets)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return providerErrorf("sqlite", "preparing statement: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			sqliteLogger.Warnf("closing statement: %v", err)
		}
	}()

	ftsDelete, err := tx.PrepareContext(ctx, `DELETE FROM documents_fts WHERE file_id = ?`)
	if err != nil {
		return providerErrorf("sqlite", "preparing FTS delete: %w", err)
	}
	defer func() {
		if err := ftsDelete.Close(); err != nil {
			sqliteLogger.Warnf("closing FTS delete: %v", err)
		}
	}()

	ftsInsert, err := tx.PrepareContext(ctx, `
		INSERT INTO documents_fts (file_id, content, commands)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return providerErrorf("sqlite", "preparing FTS insert: %w", err)
	}
	defer func() {
		if err := ftsInsert.Close(); err != nil {
			sqliteLogger.Warnf("closing FTS insert: %v", err)
		}
	}()

	for _, doc := range docs {
		commandsJSON, err := json.Marshal(doc.Commands)
		if err != nil {
			return providerErrorf("sqlite", "marshaling commands for %s: %w", doc.FileID, err)
		}
		offsetsJSON, err := json.Marshal(doc.LineOffsets)
		if err != nil {
			return providerErrorf("sqlite", "marshaling offsets for %s: %w", doc.FileID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			doc.FileID, doc.Path, doc.URL, doc.Year, doc.Source,
			doc.Content, string(commandsJSON), string(offsetsJSON),
		); err != nil {
			return providerErrorf("sqlite", "storing %s: %w", doc.FileID, err)
		}
		if _, err := ftsDelete.ExecContext(ctx, doc.FileID); err != nil {
			return providerErrorf("sqlite", "clearing FTS row for %s: %w", doc.FileID, err)
		}
		if _, err := ftsInsert.ExecContext(ctx,
			doc.FileID, doc.Content, strings.Join(doc.Commands, " "),
		); err != nil {
			return providerErrorf("sqlite", "indexing FTS row for %s: %w", doc.FileID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return providerErrorf("sqlite", "committing transaction: %w", err)
	}
	committed = true
	sqliteLogger.Debugf("stored %d documents", len(docs))
	return nil
}

func (b *SQLiteBackend) Search(ctx context.Context, req core.SearchRequest) (*core.SearchResponse, error) {
	start := time.Now()
	decoded := query.Decode(req.Query)

	docs, err := b.candidateDocuments(ctx, req, decoded)
	if err != nil {
		return nil, err
	}

	hits := []core.SearchHit{}
	for _, doc := range docs {
		if !filtersMatch(req, doc) {
			continue
		}
		if hit, ok := buildHit(doc, req, b.snippetLines, false); ok {
			hits = append(hits, hit)
		}
	}

	resp := paginate(hits, req, time.Since(start).Milliseconds())
	return resp, nil
}

// candidateDocuments returns a superset of the matching documents, ordered
// by path. Literal queries with interior alphanumeric tokens go through the
// FTS index; everything else scans the whole table.
func (b *SQLiteBackend) candidateDocuments(ctx context.Context, req core.SearchRequest, decoded string) ([]core.IndexDocument, error) {
	var rows *sql.Rows
	var err error

	tokens := interiorTokens(decoded)
	if req.Mode == core.ModeLiteral && len(tokens) > 0 {
		match := ftsMatchExpression(tokens)
		rows, err = b.db.QueryContext(ctx, `
			SELECT d.file_id, d.path, d.url, d.year, d.source, d.content, d.commands, d.line_offsets
			FROM documents d
			JOIN documents_fts f ON f.file_id = d.file_id
			WHERE documents_fts MATCH ?
			ORDER BY d.path
		`, match)
	} else {
		rows, err = b.db.QueryContext(ctx, `
			SELECT file_id, path, url, year, source, content, commands, line_offsets
			FROM documents
			ORDER BY path
		`)
	}
	if err != nil {
		return nil, providerErrorf("sqlite", "querying documents: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			sqliteLogger.Warnf("closing rows: %v", err)
		}
	}()

	var docs []core.IndexDocument
	for rows.Next() {
		var doc core.IndexDocument
		var commandsJSON, offsetsJSON string
		if err := rows.Scan(&doc.FileID, &doc.Path, &doc.URL, &doc.Year, &doc.Source,
			&doc.Content, &commandsJSON, &offsetsJSON); err != nil {
			return nil, providerErrorf("sqlite", "scanning row: %w", err)
		}
		if err := json.Unmarshal([]byte(commandsJSON), &doc.Commands); err != nil {
			sqliteLogger.Warnf("decoding commands for %s: %v", doc.FileID, err)
		}
		if err := json.Unmarshal([]byte(offsetsJSON), &doc.LineOffsets); err != nil {
			sqliteLogger.Warnf("decoding offsets for %s: %v", doc.FileID, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, providerErrorf("sqlite", "iterating rows: %w", err)
	}
	return docs, nil
}

// interiorTokens extracts alphanumeric runs that are bounded on both sides
// by other characters of the needle. Runs touching either end could be
// fragments of longer tokens in a document, so using them in an FTS MATCH
// would drop true matches.
func interiorTokens(needle string) []string {
	const minLen = 3
	const maxTokens = 4

	// The FTS tokenizer (unicode61) treats non-ASCII letters as token
	// characters, so byte-level boundaries would split tokens the index
	// keeps whole. Non-ASCII needles get a full scan instead.
	for i := 0; i < len(needle); i++ {
		if needle[i] >= utf8.RuneSelf {
			return nil
		}
	}

	seen := make(map[string]struct{})
	var tokens []string

	runStart := -1
	for i := 0; i <= len(needle); i++ {
		alnum := i < len(needle) && isAlnumByte(needle[i])
		if alnum {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if runStart >= 0 {
			run := needle[runStart:i]
			interior := runStart > 0 && i < len(needle)
			if interior && len(run) >= minLen {
				if _, dup := seen[run]; !dup {
					seen[run] = struct{}{}
					tokens = append(tokens, run)
				}
			}
			runStart = -1
		}
	}

	sort.Strings(tokens)
	if len(tokens) > maxTokens {
		tokens = tokens[:maxTokens]
	}
	return tokens
}

func isAlnumByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func ftsMatchExpression(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " AND ")
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
