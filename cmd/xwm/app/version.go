package app

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/tsingmao/xwm/internal/api"
)

// Build information, set with -ldflags "-X".
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "dev"
)

// NewVersionCommand creates the version command.
//
// Usage:
//
//	xwm version
func NewVersionCommand(globalOpts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp := api.VersionResponse{
				Version:   Version,
				BuildTime: BuildTime,
				GitCommit: GitCommit,
				GoVersion: goruntime.Version(),
			}
			out := cmd.OutOrStdout()
			if globalOpts.JSON {
				return printJSON(out, resp)
			}
			fmt.Fprintln(out, "Version:")
			fmt.Fprintf(out, "  Version:    %s\n", resp.Version)
			fmt.Fprintf(out, "  Build Time: %s\n", resp.BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", resp.GitCommit)
			fmt.Fprintf(out, "  Go Version: %s\n", resp.GoVersion)
			return nil
		},
	}
}
