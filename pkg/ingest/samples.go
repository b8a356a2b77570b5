package ingest

import (
	"crypto/sha1"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/texgrep/texgrep/pkg/core"
)

//go:embed samples/*.tex
var sampleCorpus embed.FS

// SampleSource is the reindex source name for the embedded sample corpus.
const SampleSource = "samples"

// FetchSamples materializes the embedded sample corpus into targetDir and
// preprocesses it into index documents. File ids are content-stable
// ("samples:<sha1 of name>") so reindexing replaces documents instead of
// accumulating them.
func FetchSamples(targetDir string, limit int) ([]core.IndexDocument, error) {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sample directory: %w", err)
	}

	entries, err := fs.ReadDir(sampleCorpus, "samples")
	if err != nil {
		return nil, fmt.Errorf("reading embedded samples: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	documents := make([]core.IndexDocument, 0, len(names))
	for _, name := range names {
		data, err := sampleCorpus.ReadFile("samples/" + name)
		if err != nil {
			return nil, fmt.Errorf("reading sample %s: %w", name, err)
		}
		destination := filepath.Join(targetDir, name)
		if err := os.WriteFile(destination, data, 0o644); err != nil {
			return nil, fmt.Errorf("writing sample %s: %w", name, err)
		}

		processed, err := PreprocessFile(destination)
		if err != nil {
			return nil, err
		}
		documents = append(documents, core.IndexDocument{
			FileID:      sampleFileID(name),
			Path:        name,
			URL:         "https://example.com/samples/" + name,
			Source:      SampleSource,
			Content:     processed.Content,
			Commands:    NormalizeCommands(processed.Commands),
			LineOffsets: processed.LineOffsets,
		})
	}
	return documents, nil
}

func sampleFileID(name string) string {
	digest := sha1.Sum([]byte(name))
	return fmt.Sprintf("%s:%x", SampleSource, digest)
}
