package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/texgrep/texgrep/pkg/core"
	"github.com/texgrep/texgrep/pkg/query"
	"github.com/urfave/cli/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Define styles using lipgloss
var (
	searchTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("86")).
				Background(lipgloss.Color("235")).
				Padding(0, 1).
				Margin(0, 0, 1, 0)

	hitPathStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	hitSnippetStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Margin(0, 0, 1, 2)

	hitMetaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	noHitsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true).
			Margin(1, 0)
)

// SearchCommand creates the search command
func SearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search the indexed corpus",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Search mode: literal or regex",
				Value: "literal",
			},
			&cli.IntFlag{
				Name:  "page",
				Usage: "Result page",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "size",
				Usage: "Results per page",
				Value: query.DefaultPageSize,
			},
			&cli.StringFlag{
				Name:  "year",
				Usage: "Restrict results to a publication year",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Restrict results to a corpus source",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the raw JSON response",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() == 0 {
				return fmt.Errorf("a query argument is required")
			}
			return runSearch(ctx, c.String("config"), searchOptions{
				query:  strings.Join(c.Args().Slice(), " "),
				mode:   c.String("mode"),
				page:   c.Int("page"),
				size:   c.Int("size"),
				year:   c.String("year"),
				source: c.String("source"),
				asJSON: c.Bool("json"),
			})
		},
	}
}

type searchOptions struct {
	query  string
	mode   string
	page   int
	size   int
	year   string
	source string
	asJSON bool
}

func runSearch(ctx context.Context, configPath string, opts searchOptions) error {
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

	req, err := buildRequest(opts)
	if err != nil {
		return err
	}

	resp, err := service.Search(ctx, req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if opts.asJSON {
		return json.NewEncoder(os.Stdout).Encode(resp)
	}

	printResults(cfg.Provider, resp)
	return nil
}

// buildRequest validates the CLI arguments through the same path the HTTP
// API uses. Literal queries are typed unescaped on the command line, so
// their backslashes get doubled to match the wire form.
func buildRequest(opts searchOptions) (core.SearchRequest, error) {
	q := opts.query
	if opts.mode == string(core.ModeLiteral) {
		q = strings.ReplaceAll(q, `\`, `\\`)
	}

	filters := make(map[string]string)
	if opts.year != "" {
		filters["year"] = opts.year
	}
	if opts.source != "" {
		filters["source"] = opts.source
	}

	page := opts.page
	size := opts.size
	return query.ParsePayload(query.Payload{
		Q:       q,
		Mode:    opts.mode,
		Filters: filters,
		Page:    &page,
		Size:    &size,
	})
}

func printResults(provider string, resp *core.SearchResponse) {
	providerName := cases.Title(language.English).String(provider)
	fmt.Println(searchTitleStyle.Render(fmt.Sprintf("%s: %d results (%dms)",
		providerName, resp.Total, resp.TookProviderMS)))

	if len(resp.Hits) == 0 {
		fmt.Println(noHitsStyle.Render("No results found"))
		return
	}

	for _, hit := range resp.Hits {
		fmt.Println(hitPathStyle.Render(fmt.Sprintf("%s:%d", hit.Path, hit.Line)))
		snippet := stripSnippetMarkup(hit.Snippet)
		if snippet != "" {
			fmt.Println(hitSnippetStyle.Render(snippet))
		}
		if hit.URL != "" {
			fmt.Println(hitMetaStyle.Render(hit.URL))
		}
	}

	fmt.Println(hitMetaStyle.Render(fmt.Sprintf("Page %d (size %d)", resp.Page, resp.Size)))
	if resp.NextCursor != "" {
		fmt.Println(hitMetaStyle.Render("Next cursor: " + resp.NextCursor))
	}
}

// stripSnippetMarkup turns the HTML snippet into terminal text
func stripSnippetMarkup(snippet string) string {
	replacer := strings.NewReplacer(
		"<br />", "\n",
		"<br>", "\n",
		"<mark>", "",
		"</mark>", "",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
	return strings.TrimSpace(replacer.Replace(snippet))
}
