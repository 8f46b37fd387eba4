package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tsingmao/xwm/internal/api"
	"github.com/tsingmao/xwm/internal/catalog"
	"github.com/tsingmao/xwm/internal/config"
	"github.com/tsingmao/xwm/internal/models"
	"github.com/tsingmao/xwm/internal/runtime"
)

// CheckOptions holds options for the check command
type CheckOptions struct {
	*GlobalOptions

	// Image queries this docker image instead of the host
	Image string

	// ModelID selects group requirements
	ModelID string
}

// NewCheckCommand creates the check command.
//
// Usage:
//
//	xwm check MODEL_TYPE|MODEL_ID [--image IMAGE]
func NewCheckCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &CheckOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "check MODEL_TYPE|MODEL_ID",
		Short: "Check a family's library requirements",
		Long: `Check the library requirements of a family (and of the checkpoint's group
when a checkpoint id is given) against the installed packages.

Versions come from the overlay's installed block when present, otherwise
from pip in the --image docker image, XWM_RUNTIME_IMAGE, or the host
interpreter (XWM_PYTHON). The command fails when a requirement does not
hold.`,
		Example: `  xwm check qwen2_5_vl
  xwm check Qwen/Qwen2.5-Omni-7B --image vllm/vllm-openai:v0.8.5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Image, "image", "", "query packages inside this docker image")
	cmd.Flags().StringVar(&opts.ModelID, "model-id", "", "checkpoint id, selects group requirements")

	return cmd
}

// versionSource picks where installed versions come from: the overlay's
// pinned versions unless an image is requested, then the runtime config.
// The second result describes the source.
func versionSource(cfg *config.Config, cat *catalog.Catalog, image string) (models.VersionSource, string, error) {
	if image == "" {
		if vs := cat.VersionSource(); vs != nil {
			return vs, "overlay", nil
		}
	}
	rc := cfg.Runtime
	if image != "" {
		rc.Image = image
	}
	vs, err := runtime.NewVersionSource(rc)
	if err != nil {
		return nil, "", err
	}
	if rc.Image != "" {
		return vs, "image:" + rc.Image, nil
	}
	return vs, "host", nil
}

func runCheck(cmd *cobra.Command, opts *CheckOptions, name string) error {
	cat, err := loadCatalog(opts.GlobalOptions)
	if err != nil {
		return err
	}
	meta, modelID, err := resolveFamily(cat.Registry, name)
	if err != nil {
		return err
	}
	if opts.ModelID != "" {
		modelID = opts.ModelID
	}

	resp := api.CheckResponse{
		ModelType:  meta.ModelType,
		Requires:   meta.RequiresFor(modelID),
		Violations: []models.Violation{},
	}

	var installed map[string]string
	if len(resp.Requires) > 0 {
		vs, source, err := versionSource(opts.Config, cat, opts.Image)
		if err != nil {
			return err
		}
		resp.Source = source
		installed, err = vs.InstalledVersions(cmd.Context())
		if err != nil {
			return err
		}
		violations, err := models.CheckRequirements(resp.Requires, installed)
		if err != nil {
			return err
		}
		resp.Violations = append(resp.Violations, violations...)
	}
	resp.OK = len(resp.Violations) == 0

	out := cmd.OutOrStdout()
	if opts.JSON {
		if err := printJSON(out, resp); err != nil {
			return err
		}
	} else if len(resp.Requires) == 0 {
		fmt.Fprintf(out, "%s has no library requirements.\n", meta.ModelType)
	} else {
		fmt.Fprintf(out, "Requirements of %s (versions from %s):\n\n", meta.ModelType, resp.Source)
		table := newTable(out, "REQUIREMENT", "INSTALLED", "STATUS")
		for _, raw := range resp.Requires {
			status, have := "ok", "-"
			if req, err := models.ParseRequirement(raw); err == nil && installed[req.Name] != "" {
				have = installed[req.Name]
			}
			for _, v := range resp.Violations {
				if v.Requirement == raw {
					status = "FAIL"
				}
			}
			table.Append([]string{raw, have, status})
		}
		table.Render()
	}

	if !resp.OK {
		failed := make([]string, len(resp.Violations))
		for i, v := range resp.Violations {
			failed[i] = v.String()
		}
		return fmt.Errorf("%w: %s requires %s", models.ErrUnsupportedVersion, meta.ModelType, strings.Join(failed, ", "))
	}
	return nil
}
