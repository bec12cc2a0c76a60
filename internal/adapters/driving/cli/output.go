package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/carchive/internal/adapters/driving/cli/styles"
	"github.com/custodia-labs/carchive/internal/core/domain"
)

// stylesFor returns coloured styles when w is a terminal.
func stylesFor(w io.Writer) *styles.Styles {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return styles.DefaultStyles()
	}
	return styles.Plain()
}

func outputJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputResults(cmd *cobra.Command, results *domain.SearchResults) {
	st := stylesFor(cmd.OutOrStdout())
	for _, w := range results.Warnings {
		cmd.Println(st.Warning.Render("warning: " + w))
	}
	if results.VectorDegraded {
		cmd.Println(st.Warning.Render("semantic matching unavailable; showing text and filter matches only"))
	}

	if len(results.Results) == 0 {
		cmd.Println("No results found.")
		return
	}

	cmd.Println(st.Title.Render(fmt.Sprintf("Results %d-%d of %d",
		results.Criteria.Offset+1, results.Criteria.Offset+len(results.Results), results.TotalMatched)))
	if results.Truncated {
		cmd.Println(st.Muted.Render("(some entity types hit the candidate cap; narrow the query for complete results)"))
	}
	cmd.Println()
	for i := range results.Results {
		r := &results.Results[i]
		cmd.Printf("  [%d] %s %s  %s\n",
			results.Criteria.Offset+i+1,
			st.Ref.Render(r.Ref().String()),
			st.Score.Render(fmt.Sprintf("(%.2f)", r.Score)),
			st.Muted.Render(r.Timestamp.Format(time.DateTime)))
		if r.Excerpt != "" {
			cmd.Printf("      %s\n", st.Normal.Render(oneLine(r.Excerpt)))
		}
	}
	cmd.Println()
}

func outputBufferList(cmd *cobra.Command, summaries []domain.BufferSummary) {
	if len(summaries) == 0 {
		cmd.Println("No buffers.")
		return
	}
	st := stylesFor(cmd.OutOrStdout())
	for _, b := range summaries {
		expires := "never"
		if b.ExpiresAt != nil {
			expires = b.ExpiresAt.Local().Format(time.DateTime)
		}
		cmd.Printf("  %s  %d items  %s  expires %s\n",
			st.Ref.Render(b.Name), b.Count,
			st.Muted.Render(b.CreatedAt.Local().Format(time.DateTime)), expires)
		if b.Description != "" {
			cmd.Printf("      %s\n", st.Muted.Render(b.Description))
		}
	}
}

func outputHandle(cmd *cobra.Command, verb string, h domain.BufferHandle) {
	st := stylesFor(cmd.OutOrStdout())
	msg := fmt.Sprintf("%s buffer %s (%d items)", verb, h.Name, h.Count)
	if h.ExpiresAt != nil {
		msg += ", expires " + h.ExpiresAt.Local().Format(time.DateTime)
	}
	cmd.Println(st.Success.Render(msg))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
