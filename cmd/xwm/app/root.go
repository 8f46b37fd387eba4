// Package app provides the command-line interface implementation for xwm.
//
// Commands are organized with cobra: a root command holding the global
// options and one constructor per subcommand. Every command runs in
// process; there is no server.
package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tsingmao/xwm/internal/api"
	"github.com/tsingmao/xwm/internal/catalog"
	"github.com/tsingmao/xwm/internal/config"
	"github.com/tsingmao/xwm/internal/logger"
	"github.com/tsingmao/xwm/internal/models"
	"github.com/tsingmao/xwm/internal/patch"
)

const (
	// cliName is the name of the CLI application
	cliName = "xwm"

	// cliDescription is the short description shown in help text
	cliDescription = "xwm - Qwen model family registry and loader"
)

// GlobalOptions holds options that are common to all commands
type GlobalOptions struct {
	// Debug enables debug logging
	Debug bool

	// JSON prints machine-readable output
	JSON bool

	// Config is loaded before any subcommand runs
	Config *config.Config
}

// NewXWMCommand creates the root xwm command with all subcommands.
//
// Configuration is read from the environment (and the .env file of the
// config directory) before a subcommand runs.
//
// Returns:
//   - A configured cobra.Command ready for execution
//
// Example:
//
//	cmd, _ := NewXWMCommand()
//	if err := cmd.Execute(); err != nil {
//	    os.Exit(1)
//	}
func NewXWMCommand() (*cobra.Command, *GlobalOptions) {
	opts := &GlobalOptions{}

	cmd := &cobra.Command{
		Use:   cliName,
		Short: cliDescription,
		Long: `xwm knows the Qwen model families (Qwen, Qwen-VL, Qwen2-VL, Qwen2.5-Omni,
Ovis, QwQ and others): which checkpoints belong to them, which library
versions they need, how to load them and which runtime corrections their
models need after loading.

Families can be added or overridden in a registry overlay file
($XWM_HOME/registry.yaml or $XWM_REGISTRY_CONFIG).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.Config = cfg
			logger.SetDebug(opts.Debug || cfg.Debug)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print JSON instead of tables")

	cmd.AddCommand(
		NewListCommand(opts),
		NewShowCommand(opts),
		NewLoadCommand(opts),
		NewCheckCommand(opts),
		NewPullCommand(opts),
		NewEnvCommand(opts),
		NewVersionCommand(opts),
	)

	return cmd, opts
}

// Execute runs the CLI with args and returns the process exit code.
// Errors are printed to stderr, as an api.ErrorResponse with --json.
func Execute(args []string) int {
	cmd, opts := NewXWMCommand()
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		return 0
	}
	if opts.JSON {
		printJSON(os.Stderr, api.ErrorResponse{Error: err.Error(), Code: errorCode(err)})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return 1
}

// errorCode classifies err for api.ErrorResponse.
func errorCode(err error) string {
	var loadErr *models.LoadError
	var patchErr *patch.Error
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, models.ErrUnsupportedVersion):
		return "UNSUPPORTED_VERSION"
	case errors.Is(err, models.ErrDuplicateKey):
		return "DUPLICATE_KEY"
	case errors.Is(err, models.ErrInvalidMeta):
		return "INVALID_META"
	case errors.As(err, &patchErr):
		return "PATCH_FAILED"
	case errors.As(err, &loadErr):
		return "LOAD_FAILED"
	default:
		return ""
	}
}

// loadCatalog builds the registry for the current configuration.
func loadCatalog(opts *GlobalOptions) (*catalog.Catalog, error) {
	return catalog.Load(opts.Config)
}

// resolveFamily accepts a model type or a checkpoint id and returns the
// family, plus the checkpoint id when one was given.
func resolveFamily(r *models.Registry, name string) (*models.ModelMeta, string, error) {
	meta, err := r.Resolve(name)
	if err == nil {
		return meta, "", nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, "", err
	}
	meta, m, idErr := r.FindByModelID(name)
	if idErr != nil {
		return nil, "", err
	}
	return meta, m.ID, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTable returns a borderless, left-aligned table.
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("   ")
	return table
}

// orDash renders an empty cell as "-".
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
