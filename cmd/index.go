package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/texgrep/texgrep/pkg/core"
	"github.com/texgrep/texgrep/pkg/ingest"
	"github.com/urfave/cli/v3"
)

// IndexCommand creates the index command
func IndexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Build the search index from a corpus directory or archive",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "input",
				Usage: "Path to the corpus root directory or a .tar.gz/.tar.zst archive",
			},
			&cli.BoolFlag{
				Name:  "samples",
				Usage: "Index the embedded sample corpus instead of --input",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of files to index (0 for no limit)",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Source label for files without metadata",
				Value: "local",
			},
			&cli.BoolFlag{
				Name:  "append",
				Usage: "Add to the existing index instead of rebuilding it",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return indexCorpus(ctx, c.String("config"), indexOptions{
				input:   c.String("input"),
				samples: c.Bool("samples"),
				limit:   c.Int("limit"),
				source:  c.String("source"),
				append:  c.Bool("append"),
			})
		},
	}
}

type indexOptions struct {
	input   string
	samples bool
	limit   int
	source  string
	append  bool
}

func indexCorpus(ctx context.Context, configPath string, opts indexOptions) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	service, err := newService(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := service.Close(); err != nil {
			fmt.Printf("Warning: failed to close backend: %v\n", err)
		}
	}()

	docs, err := collectCorpus(cfg.StorageDir, opts)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("No .tex files discovered; nothing to do")
		return nil
	}

	if opts.append {
		if err := service.EnsureIndex(ctx); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
		if err := service.IndexDocuments(ctx, docs); err != nil {
			return fmt.Errorf("indexing documents: %w", err)
		}
	} else {
		if err := service.Reindex(ctx, docs); err != nil {
			return fmt.Errorf("rebuilding index: %w", err)
		}
	}

	fmt.Printf("Indexed %d documents\n", len(docs))
	return nil
}

func collectCorpus(storageDir string, opts indexOptions) ([]core.IndexDocument, error) {
	if opts.samples {
		return ingest.FetchSamples(filepath.Join(storageDir, "samples"), opts.limit)
	}
	if opts.input == "" {
		return nil, fmt.Errorf("either --input or --samples is required")
	}

	root := opts.input
	if ingest.IsArchive(opts.input) {
		tmpDir, err := os.MkdirTemp("", "texgrep-corpus-*")
		if err != nil {
			return nil, fmt.Errorf("creating extraction dir: %w", err)
		}
		defer func() {
			if err := os.RemoveAll(tmpDir); err != nil {
				fmt.Printf("Warning: failed to remove %s: %v\n", tmpDir, err)
			}
		}()
		if err := ingest.ExtractArchive(opts.input, tmpDir); err != nil {
			return nil, fmt.Errorf("extracting %s: %w", opts.input, err)
		}
		root = tmpDir
	}

	return ingest.CollectDocuments(root, ingest.Options{
		Limit:         opts.limit,
		DefaultSource: opts.source,
	})
}
