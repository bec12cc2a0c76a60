package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

var (
	bufferListAll     bool
	bufferJSON        bool
	narrowFlags       criteriaFlags
	narrowSaveAs      string
	bufferTTL         time.Duration
	bufferDescription string
	mergeOp           string
)

var bufferCmd = &cobra.Command{
	Use:     "buffer",
	Aliases: []string{"buf"},
	Short:   "Manage saved result buffers",
	Long: `Buffers keep the entity references of a search under a name so the set
can be shown, narrowed or combined later. Saving to an existing name
replaces that buffer. Expired buffers are removed when next read.`,
}

var bufferListCmd = &cobra.Command{
	Use:   "list",
	Short: "List buffers",
	Args:  cobra.NoArgs,
	RunE:  runBufferList,
}

var bufferShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show the current contents of a buffer",
	Args:  cobra.ExactArgs(1),
	RunE:  runBufferShow,
}

var bufferNarrowCmd = &cobra.Command{
	Use:   "narrow <name> [query]",
	Short: "Filter a buffer with further criteria",
	Long: `Re-reads the buffered entities from the archive and keeps those that also
match the given criteria. Entities deleted since the buffer was saved are
dropped. The result never contains anything outside the buffer.

Examples:
  carchive buffer narrow migration "rollback"
  carchive buffer narrow migration -t message --save-as migration-messages`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runBufferNarrow,
}

var bufferDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a buffer",
	Args:  cobra.ExactArgs(1),
	RunE:  runBufferDelete,
}

var bufferMergeCmd = &cobra.Command{
	Use:   "merge <target> <source>...",
	Short: "Combine buffers with a set operation",
	Long: `Combines source buffers into target.

  union        entities in any source
  intersect    entities in every source
  difference   entities in the first source and none of the others`,
	Args: cobra.MinimumNArgs(2),
	RunE: runBufferMerge,
}

var bufferPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove every expired buffer",
	Args:  cobra.NoArgs,
	RunE:  runBufferPrune,
}

var bufferSaveAsCmd = &cobra.Command{
	Use:   "save-as <name> <new-name>",
	Short: "Copy a buffer under a new name",
	Args:  cobra.ExactArgs(2),
	RunE:  runBufferSaveAs,
}

var bufferAddCmd = &cobra.Command{
	Use:   "add <name> <type:id>...",
	Short: "Append entities to a buffer",
	Long: `Appends entity references to an existing buffer. References already in
the buffer are skipped. The buffer keeps its expiry.

Example:
  carchive buffer add migration message:m1 chunk:c7`,
	Args: cobra.MinimumNArgs(2),
	RunE: runBufferAdd,
}

var bufferToCollectionCmd = &cobra.Command{
	Use:   "to-collection <name> <collection>",
	Short: "Save a buffer as a collection entity",
	Long: `Writes a collection named <collection> whose meta_info.members lists the
buffer's entities in order. Converting again under the same collection name
replaces it.`,
	Args: cobra.ExactArgs(2),
	RunE: runBufferToCollection,
}

func init() {
	bufferListCmd.Flags().BoolVarP(&bufferListAll, "all", "a", false, "list buffers of every owner")
	bufferCmd.PersistentFlags().BoolVar(&bufferJSON, "json", false, "output as JSON")

	narrowFlags.bind(bufferNarrowCmd, string(domain.SortRelevance))
	bufferNarrowCmd.Flags().StringVar(&narrowSaveAs, "save-as", "", "save the narrowed set as a new buffer")

	for _, c := range []*cobra.Command{bufferNarrowCmd, bufferMergeCmd, bufferSaveAsCmd} {
		c.Flags().DurationVar(&bufferTTL, "ttl", 0, "lifetime of the saved buffer (0 = configured default)")
		c.Flags().StringVar(&bufferDescription, "description", "", "description of the saved buffer")
	}
	bufferToCollectionCmd.Flags().StringVar(&bufferDescription, "description", "", "description of the collection")
	bufferMergeCmd.Flags().StringVar(&mergeOp, "op", string(domain.BufferUnion), "union, intersect or difference")

	bufferCmd.AddCommand(bufferListCmd, bufferShowCmd, bufferNarrowCmd, bufferDeleteCmd,
		bufferMergeCmd, bufferPruneCmd, bufferSaveAsCmd, bufferAddCmd, bufferToCollectionCmd)
	rootCmd.AddCommand(bufferCmd)
}

func saveOptions(description string) domain.BufferSaveOptions {
	if bufferDescription != "" {
		description = bufferDescription
	}
	return domain.BufferSaveOptions{TTL: bufferTTL, Owner: currentOwner(), Description: description}
}

func runBufferList(cmd *cobra.Command, _ []string) error {
	if bufferService == nil {
		return errors.New("buffer service not configured")
	}
	listOwner := currentOwner()
	if bufferListAll {
		listOwner = ""
	}
	summaries, err := bufferService.List(cmd.Context(), listOwner)
	if err != nil {
		return fmt.Errorf("listing buffers: %w", err)
	}
	if bufferJSON {
		return outputJSON(cmd, summaries)
	}
	outputBufferList(cmd, summaries)
	return nil
}

func runBufferShow(cmd *cobra.Command, args []string) error {
	if bufferService == nil {
		return errors.New("buffer service not configured")
	}
	results, err := bufferService.Narrow(cmd.Context(), args[0], domain.SearchCriteria{SortOrder: domain.SortDateDesc})
	if err != nil {
		return bufferHint(err)
	}
	if bufferJSON {
		return outputJSON(cmd, results)
	}
	outputResults(cmd, results)
	return nil
}

func runBufferNarrow(cmd *cobra.Command, args []string) error {
	if bufferService == nil {
		return errors.New("buffer service not configured")
	}
	var query string
	if len(args) > 1 {
		query = args[1]
	}
	criteria, err := narrowFlags.criteria(query)
	if err != nil {
		return err
	}

	results, err := bufferService.Narrow(cmd.Context(), args[0], criteria)
	if err != nil {
		return bufferHint(err)
	}
	if bufferJSON {
		if err := outputJSON(cmd, results); err != nil {
			return err
		}
	} else {
		outputResults(cmd, results)
	}

	if narrowSaveAs == "" {
		return nil
	}
	handle, err := bufferService.Save(cmd.Context(), narrowSaveAs, results,
		saveOptions(fmt.Sprintf("%s narrowed by %s", args[0], describeCriteria(results.Criteria))))
	if err != nil {
		return fmt.Errorf("saving buffer: %w", err)
	}
	if !bufferJSON {
		outputHandle(cmd, "Saved", handle)
	}
	return nil
}

func runBufferDelete(cmd *cobra.Command, args []string) error {
	if bufferService == nil {
		return errors.New("buffer service not configured")
	}
	if err := bufferService.Delete(cmd.Context(), args[0]); err != nil {
		return bufferHint(err)
	}
	cmd.Printf("Deleted buffer %s\n", args[0])
	return nil
}

func runBufferMerge(cmd *cobra.Command, args []string) error {
	if bufferService == nil {
		return errors.New("buffer service not configured")
	}
	op := domain.BufferOp(mergeOp)
	if !op.IsValid() {
		return fmt.Errorf("%w: unknown operation %q", domain.ErrInvalidInput, mergeOp)
	}
	handle, err := bufferService.Merge(cmd.Context(), args[0], op, args[1:], saveOptions(""))
	if err != nil {
		return bufferHint(err)
	}
	if bufferJSON {
		return outputJSON(cmd, handle)
	}
	outputHandle(cmd, "Merged into", handle)
	return nil
}

func runBufferPrune(cmd *cobra.Command, _ []string) error {
	if bufferService == nil {
		return errors.New("buffer service not configured")
	}
	n, err := bufferService.Prune(cmd.Context())
	if err != nil {
		return fmt.Errorf("pruning buffers: %w", err)
	}
	cmd.Printf("Removed %d expired buffers\n", n)
	return nil
}

func runBufferSaveAs(cmd *cobra.Command, args []string) error {
	if bufferService == nil {
		return errors.New("buffer service not configured")
	}
	buf, err := bufferService.Load(cmd.Context(), args[0])
	if err != nil {
		return bufferHint(err)
	}
	description := buf.Description
	if description == "" {
		description = "copy of " + buf.Name
	}
	handle, err := bufferService.SaveRefs(cmd.Context(), args[1], buf.Refs, saveOptions(description))
	if err != nil {
		return fmt.Errorf("saving buffer: %w", err)
	}
	if bufferJSON {
		return outputJSON(cmd, handle)
	}
	outputHandle(cmd, "Saved", handle)
	return nil
}

func runBufferAdd(cmd *cobra.Command, args []string) error {
	if bufferService == nil {
		return errors.New("buffer service not configured")
	}
	refs := make([]domain.EntityRef, 0, len(args)-1)
	for _, arg := range args[1:] {
		ref, err := domain.ParseEntityRef(arg)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
	}
	handle, err := bufferService.Append(cmd.Context(), args[0], refs)
	if err != nil {
		return bufferHint(err)
	}
	if bufferJSON {
		return outputJSON(cmd, handle)
	}
	outputHandle(cmd, "Updated", handle)
	return nil
}

func runBufferToCollection(cmd *cobra.Command, args []string) error {
	if bufferService == nil {
		return errors.New("buffer service not configured")
	}
	row, err := bufferService.ToCollection(cmd.Context(), args[0], args[1], bufferDescription)
	if err != nil {
		return bufferHint(err)
	}
	members, _ := row.MetaInfo["members"].([]string)
	if bufferJSON {
		return outputJSON(cmd, map[string]any{
			"collection_id": row.ID,
			"name":          row.Columns["name"],
			"members":       members,
		})
	}
	st := stylesFor(cmd.OutOrStdout())
	cmd.Println(st.Success.Render(fmt.Sprintf("Saved collection %s (%s, %d members)", row.Columns["name"], row.ID, len(members))))
	return nil
}
