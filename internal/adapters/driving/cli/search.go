package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

var (
	searchFlags       criteriaFlags
	searchJSON        bool
	searchSave        bool
	searchName        string
	searchTTL         time.Duration
	searchDescription string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the archive",
	Long: `Searches every entity type with one query and returns a single ranked list.

Text matching is case-insensitive. Add --semantic or --similar to match by
meaning as well; a semantic match or a text match is enough to qualify.
Filters (--type, --meta, --since, --until, --days) restrict the candidates.

Examples:
  carchive search "vector database"
  carchive search --semantic "how do I rotate keys" -t message -n 20
  carchive search -m source=chatgpt --days 7 --sort date_desc
  carchive search "migration plan" --save --name migration --ttl 24h`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchFlags.bind(searchCmd, string(domain.SortRelevance))
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	searchCmd.Flags().BoolVar(&searchSave, "save", false, "save the results as a buffer")
	searchCmd.Flags().StringVar(&searchName, "name", "", "buffer name for --save (default generated)")
	searchCmd.Flags().DurationVar(&searchTTL, "ttl", 0, "buffer lifetime for --save (0 = configured default)")
	searchCmd.Flags().StringVar(&searchDescription, "description", "", "buffer description for --save")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchService == nil {
		return errors.New("search service not configured")
	}

	var query string
	if len(args) > 0 {
		query = args[0]
	}
	criteria, err := searchFlags.criteria(query)
	if err != nil {
		return err
	}

	results, err := searchService.Search(cmd.Context(), criteria)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		if err := outputJSON(cmd, results); err != nil {
			return err
		}
	} else {
		outputResults(cmd, results)
	}

	if !searchSave {
		return nil
	}
	if bufferService == nil {
		return errors.New("buffer service not configured")
	}
	description := searchDescription
	if description == "" {
		description = describeCriteria(results.Criteria)
	}
	handle, err := bufferService.Save(cmd.Context(), searchName, results, domain.BufferSaveOptions{
		TTL:         searchTTL,
		Owner:       currentOwner(),
		Description: description,
	})
	if err != nil {
		return fmt.Errorf("saving buffer: %w", err)
	}
	if !searchJSON {
		outputHandle(cmd, "Saved", handle)
	}
	return nil
}

// describeCriteria summarises criteria for a buffer listing.
func describeCriteria(c domain.SearchCriteria) string {
	switch {
	case c.TextQuery != "":
		return fmt.Sprintf("search %q", c.TextQuery)
	case c.VectorQuery != nil && c.VectorQuery.SourceText != "":
		return fmt.Sprintf("similar to %q", c.VectorQuery.SourceText)
	default:
		return "filtered search"
	}
}
