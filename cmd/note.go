package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// =============================================================================
// Note Command Flags
// =============================================================================

var (
	noteImportID   string
	noteImportSlug string
	noteShowMeta   bool
	noteJSON       bool
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Manage stored notes",
	Long: `Manage the notes held by the configured store.

Subcommands:
  import   - Store a markdown file as a new note
  show     - Print a note's content
  list     - List stored notes`,
}

var noteImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Store a markdown file as a new note",
	Long: `Store a markdown file as a new note. The id defaults to a random UUID and
the slug to the file name without its extension.`,
	Args: cobra.ExactArgs(1),
	RunE: runNoteImport,
}

var noteShowCmd = &cobra.Command{
	Use:   "show <note-ref>",
	Short: "Print a note's content",
	Args:  cobra.ExactArgs(1),
	RunE:  runNoteShow,
}

var noteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored notes",
	Args:  cobra.NoArgs,
	RunE:  runNoteList,
}

func init() {
	rootCmd.AddCommand(noteCmd)
	noteCmd.AddCommand(noteImportCmd)
	noteCmd.AddCommand(noteShowCmd)
	noteCmd.AddCommand(noteListCmd)

	noteCmd.PersistentFlags().BoolVar(&noteJSON, "json", false, "Output as JSON")
	noteImportCmd.Flags().StringVar(&noteImportID, "id", "", "Note id (default: random UUID)")
	noteImportCmd.Flags().StringVar(&noteImportSlug, "slug", "", "Note slug (default: file name)")
	noteShowCmd.Flags().BoolVar(&noteShowMeta, "version", false, "Print the version token before the content")
}

func runNoteImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read note: %w", err)
	}

	id := noteImportID
	if id == "" {
		id = uuid.NewString()
	}
	slug := noteImportSlug
	if slug == "" {
		base := filepath.Base(args[0])
		slug = strings.TrimSuffix(base, filepath.Ext(base))
	}

	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.openStore(cmd.Context()); err != nil {
		return err
	}

	doc, err := rt.store.Create(cmd.Context(), id, slug, string(data))
	if err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}
	rt.logger.Info("note imported", "id", id, "slug", slug)

	out := cmd.OutOrStdout()
	if noteJSON {
		return writeJSON(out, map[string]string{"id": id, "slug": slug, "version": doc.Version})
	}
	fmt.Fprintf(out, "%s\t%s\t%s\n", id, slug, doc.Version)
	return nil
}

func runNoteShow(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.openStore(cmd.Context()); err != nil {
		return err
	}

	doc, err := rt.store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if noteJSON {
		return writeJSON(out, map[string]string{"note": args[0], "content": doc.Text, "version": doc.Version})
	}
	if noteShowMeta {
		p := paletteFor(out)
		fmt.Fprintf(out, "%s%s%s\n", p.gray, doc.Version, p.reset)
	}
	fmt.Fprint(out, doc.Text)
	if !strings.HasSuffix(doc.Text, "\n") {
		fmt.Fprintln(out)
	}
	return nil
}

func runNoteList(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.openStore(cmd.Context()); err != nil {
		return err
	}

	notes, err := rt.store.List(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if noteJSON {
		return writeJSON(out, notes)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSLUG\tSIZE\tUPDATED\tVERSION")
	for _, n := range notes {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", n.ID, n.Slug, n.Size, n.UpdatedAt.Format(time.RFC3339), n.Version)
	}
	return tw.Flush()
}
