package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tsingmao/xwm/internal/api"
)

// ListOptions holds options for the list command
type ListOptions struct {
	*GlobalOptions
	Tag string // Only families with a checkpoint carrying this tag
}

// NewListCommand creates the list (ls) command.
//
// Usage:
//
//	xwm ls [-t|--tag TAG]
//
// Examples:
//
//	# List all registered families
//	xwm ls
//
//	# List families with vision checkpoints
//	xwm ls -t vision
func NewListCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &ListOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List registered model families",
		Long: `List the registered model families in registration order: the built-in
catalog first, then the families of the registry overlay.`,
		Example: `  # List all families
  xwm ls

  # List families with audio checkpoints
  xwm ls -t audio`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Tag, "tag", "t", "", "only show families with checkpoints carrying this tag")

	return cmd
}

// runList prints the families as a table or JSON.
func runList(cmd *cobra.Command, opts *ListOptions) error {
	cat, err := loadCatalog(opts.GlobalOptions)
	if err != nil {
		return err
	}

	resp := api.ListFamiliesResponse{Families: []api.FamilySummary{}}
	for _, meta := range cat.Registry.Families() {
		if opts.Tag != "" && !meta.HasTag(opts.Tag) {
			continue
		}
		resp.Families = append(resp.Families, api.FamilySummaryFrom(meta))
	}
	resp.Total = len(resp.Families)

	out := cmd.OutOrStdout()
	if opts.JSON {
		return printJSON(out, resp)
	}

	if resp.Total == 0 {
		if opts.Tag != "" {
			fmt.Fprintf(out, "No families tagged %q.\n", opts.Tag)
		} else {
			fmt.Fprintln(out, "No families registered.")
		}
		return nil
	}

	table := newTable(out, "MODEL TYPE", "TEMPLATE", "LOADER", "ARCHITECTURES", "MODELS", "TAGS")
	for _, f := range resp.Families {
		table.Append([]string{
			f.ModelType,
			f.Template,
			orDash(f.Loader),
			orDash(strings.Join(f.Architectures, ",")),
			strconv.Itoa(f.Models),
			orDash(strings.Join(f.Tags, ",")),
		})
	}
	table.Render()
	return nil
}
