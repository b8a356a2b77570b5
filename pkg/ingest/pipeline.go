package ingest

import (
	"archive/tar"
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/texgrep/texgrep/pkg/core"
	"github.com/texgrep/texgrep/pkg/log"
)

var logger = log.ForService("ingest")

// Metadata carries the optional per-file attributes read from
// metadata.jsonl at the corpus root, keyed by relative file path.
type Metadata struct {
	URL    string `json:"url"`
	Year   string `json:"year"`
	Source string `json:"source"`
}

// Options controls corpus collection.
type Options struct {
	// Limit caps the number of files ingested; 0 means no limit.
	Limit int

	// DefaultSource is used for files whose metadata does not name one.
	DefaultSource string
}

// CollectDocuments walks a corpus root, preprocesses every .tex file and
// builds the index documents. Files are visited in sorted path order so
// repeated runs produce identical document sequences.
func CollectDocuments(root string, opts Options) ([]core.IndexDocument, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("corpus root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus root %s is not a directory", root)
	}

	metadata, err := LoadMetadata(root)
	if err != nil {
		return nil, err
	}

	paths, err := DiscoverTexFiles(root)
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(paths) > opts.Limit {
		paths = paths[:opts.Limit]
	}

	documents := make([]core.IndexDocument, 0, len(paths))
	for _, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		processed, err := PreprocessFile(path)
		if err != nil {
			return nil, fmt.Errorf("preprocessing %s: %w", rel, err)
		}

		meta := metadata[rel]
		source := meta.Source
		if source == "" {
			source = opts.DefaultSource
		}
		documents = append(documents, core.IndexDocument{
			FileID:      rel,
			Path:        rel,
			URL:         meta.URL,
			Year:        meta.Year,
			Source:      source,
			Content:     processed.Content,
			Commands:    NormalizeCommands(processed.Commands),
			LineOffsets: processed.LineOffsets,
		})
	}
	logger.Infof("collected %d documents from %s", len(documents), root)
	return documents, nil
}

// LoadMetadata reads metadata.jsonl from the corpus root. A missing file is
// not an error; malformed lines are skipped.
func LoadMetadata(root string) (map[string]Metadata, error) {
	path := filepath.Join(root, "metadata.jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Metadata{}, nil
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warnf("closing %s: %v", path, err)
		}
	}()

	metadata := make(map[string]Metadata)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record struct {
			FileID string `json:"file_id"`
			Metadata
		}
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			logger.Warnf("skipping malformed metadata line: %v", err)
			continue
		}
		if record.FileID == "" {
			continue
		}
		metadata[record.FileID] = record.Metadata
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return metadata, nil
}

// DiscoverTexFiles returns every .tex file under root, sorted.
func DiscoverTexFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".tex") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// IsArchive reports whether path looks like a corpus archive the pipeline
// can unpack.
func IsArchive(path string) bool {
	return strings.HasSuffix(path, ".tar.gz") ||
		strings.HasSuffix(path, ".tgz") ||
		strings.HasSuffix(path, ".tar.zst")
}

// ExtractArchive unpacks a .tar.gz/.tgz or .tar.zst corpus archive into
// destDir. Entries escaping the destination are rejected.
func ExtractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warnf("closing %s: %v", archivePath, err)
		}
	}()

	var reader io.Reader
	switch {
	case strings.HasSuffix(archivePath, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("opening zstd stream: %w", err)
		}
		defer zr.Close()
		reader = zr
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		gr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("opening gzip stream: %w", err)
		}
		defer func() {
			if err := gr.Close(); err != nil {
				logger.Warnf("closing gzip reader: %v", err)
			}
		}()
		reader = gr
	default:
		return fmt.Errorf("unsupported archive format: %s", archivePath)
	}

	tr := tar.NewReader(reader)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		target, err := securePath(destDir, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return fmt.Errorf("extracting %s: %w", header.Name, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", target, err)
			}
		}
	}
}

func securePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}
