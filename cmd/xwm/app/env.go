package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsingmao/xwm/internal/config"
	"github.com/tsingmao/xwm/internal/device"
)

// EnvInfo is the output of `xwm env`.
type EnvInfo struct {
	Config *config.Config `json:"config"`

	// RegistryOverlay is the overlay path and whether a file exists there.
	RegistryOverlay       string `json:"registry_overlay"`
	RegistryOverlayLoaded bool   `json:"registry_overlay_loaded"`

	AcceleratorKind   string `json:"accelerator_kind"`
	Accelerators      int    `json:"accelerators"`
	DevicesPerReplica int    `json:"devices_per_replica"`

	Vision config.VisionSettings `json:"vision"`
}

// NewEnvCommand creates the env command, which prints the effective
// configuration, detected accelerators and vision tunables.
func NewEnvCommand(globalOpts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show the effective configuration",
		Long: `Show the effective configuration: directories, hub, runtime query, the
registry overlay, the accelerators visible to this process and the vision
preprocessing tunables read from the environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnv(cmd, globalOpts)
		},
	}
}

func runEnv(cmd *cobra.Command, opts *GlobalOptions) error {
	cat, err := loadCatalog(opts)
	if err != nil {
		return err
	}
	vision, err := config.LoadVisionSettings(nil)
	if err != nil {
		return err
	}

	counter := device.Counter{}
	kind, n := counter.Accelerators()
	info := EnvInfo{
		Config:                opts.Config,
		RegistryOverlay:       cat.OverlayPath,
		RegistryOverlayLoaded: cat.Overlay != nil,
		AcceleratorKind:       string(kind),
		Accelerators:          n,
		DevicesPerReplica:     counter.DevicesPerReplica(),
		Vision:                vision,
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		return printJSON(out, info)
	}

	overlay := info.RegistryOverlay
	if !info.RegistryOverlayLoaded {
		overlay += " (not present)"
	}
	table := newTable(out, "SETTING", "VALUE")
	table.AppendBulk([][]string{
		{"config dir", info.Config.Storage.ConfigDir},
		{"models dir", info.Config.Storage.ModelsDir},
		{"registry overlay", overlay},
		{"hub source", info.Config.Hub.Source},
		{"hub endpoint", orDash(info.Config.Hub.Endpoint)},
		{"python", info.Config.Runtime.Python},
		{"runtime image", orDash(info.Config.Runtime.Image)},
		{"accelerators", fmt.Sprintf("%d %s", info.Accelerators, info.AcceleratorKind)},
		{"devices per replica", fmt.Sprint(info.DevicesPerReplica)},
		{"min/max pixels", fmt.Sprintf("%d/%d", vision.MinPixels, vision.MaxPixels)},
		{"audio output", fmt.Sprint(vision.EnableAudioOutput)},
	})
	table.Render()
	return nil
}
