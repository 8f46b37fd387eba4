package app

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tsingmao/xwm/internal/config"
	"github.com/tsingmao/xwm/internal/models"
	"github.com/tsingmao/xwm/internal/patch"
)

// ShowOptions holds options for the show command
type ShowOptions struct {
	*GlobalOptions

	// Export writes the family to an overlay file instead of printing it
	Export string
}

// NewShowCommand creates the show command.
//
// Usage:
//
//	xwm show MODEL_TYPE|MODEL_ID [--export FILE]
//
// Examples:
//
//	# Show the qwen2_vl family
//	xwm show qwen2_vl
//
//	# Show the family a checkpoint belongs to
//	xwm show Qwen/Qwen2-VL-7B-Instruct
//
//	# Start an overlay from an existing family
//	xwm show qwen2_vl --export my-registry.yaml
func NewShowCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &ShowOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "show MODEL_TYPE|MODEL_ID",
		Short: "Show a model family",
		Long: `Show a model family: template, constructor, requirements, auxiliary files,
runtime corrections and checkpoints.

With --export the family is written in registry overlay form, ready to be
edited and loaded through XWM_REGISTRY_CONFIG.`,
		Example: `  xwm show qwen2_5_omni
  xwm show Qwen/QwQ-32B
  xwm show ovis2 --export ~/.xwm/registry.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Export, "export", "", "write the family as a registry overlay to `FILE`")

	return cmd
}

func runShow(cmd *cobra.Command, opts *ShowOptions, name string) error {
	cat, err := loadCatalog(opts.GlobalOptions)
	if err != nil {
		return err
	}
	meta, _, err := resolveFamily(cat.Registry, name)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.Export != "" {
		overlay, err := cat.Export(meta.ModelType)
		if err != nil {
			return err
		}
		if err := config.SaveRegistryConfig(overlay, opts.Export); err != nil {
			return err
		}
		fmt.Fprintf(out, "Exported %s to %s\n", meta.ModelType, opts.Export)
		return nil
	}

	if opts.JSON {
		return printJSON(out, meta)
	}
	printFamily(out, meta)
	return nil
}

// printFamily renders a family for humans.
func printFamily(w io.Writer, meta *models.ModelMeta) {
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(w, "  %-24s %s\n", name+":", value)
		}
	}
	list := func(name string, values []string) {
		field(name, strings.Join(values, ", "))
	}

	fmt.Fprintf(w, "Family %s\n", meta.ModelType)
	field("Template", meta.Template)
	field("Loader", meta.LoaderName)
	list("Architectures", meta.Architectures)
	field("Model arch", meta.ModelArch)
	field("Model class", meta.ModelClass)
	field("Task", meta.TaskType)
	if meta.IsMultimodal {
		field("Multimodal", "yes")
	}
	list("Requires", meta.Requires)
	list("Additional files", meta.AdditionalSavedFiles)
	list("Attn impl keys", meta.AttnImplKeys)

	if corrections := capabilityLines(meta.Capabilities); len(corrections) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Corrections:")
		for _, c := range corrections {
			fmt.Fprintf(w, "  %s\n", c)
		}
	}

	fmt.Fprintln(w)
	table := newTable(w, "MODEL", "HF MODEL", "TAGS", "REQUIRES")
	for _, g := range meta.Groups {
		for _, m := range g.Models {
			table.Append([]string{
				m.ID,
				orDash(m.HFID),
				orDash(strings.Join(slices.Concat(m.Tags, g.Tags), ",")),
				orDash(strings.Join(g.Requires, ",")),
			})
		}
	}
	table.Render()
}

func capabilityLines(c models.Capabilities) []string {
	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}
	either := func(path string) string {
		return strings.Join(patch.SplitAlternatives(path), " or ")
	}
	if c.DtypeFlags {
		add("dtype flags synced into config")
	}
	if c.CausalMaskBuffer != "" {
		add("causal mask %s moved to the compute device", c.CausalMaskBuffer)
	}
	if c.InputDropout != "" {
		add("input dropout %s output cloned", c.InputDropout)
	}
	if c.VisualBlocks != "" {
		add("visual residuals in %s moved across devices", c.VisualBlocks)
	}
	if c.VisualProj != "" {
		add("%s moved to the device of %s", c.VisualProj, c.VisualProjAnchor)
	}
	if c.FixedDeviceModule != "" {
		add("%s kept on its placement device", c.FixedDeviceModule)
	}
	for _, p := range c.CloneEmbeddings {
		add("embedding %s output cloned", either(p))
	}
	for _, p := range c.InputDeviceEmbeddings {
		add("embedding %s output moved to the input device", either(p))
	}
	for _, a := range c.InputEmbeddings {
		add("input embeddings of %s resolve to %s under it", a.Owner, either(a.Module))
	}
	if len(c.Sentinels) > 0 {
		add("decode drops sentinel ids %v", c.Sentinels)
	}
	if c.EODToken != "" {
		add("eos taken from %s when missing", c.EODToken)
	}
	if c.HybridCache {
		add("hybrid cache moved to the state device")
	}
	return lines
}
