package app

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tsingmao/xwm/internal/api"
	"github.com/tsingmao/xwm/internal/config"
	"github.com/tsingmao/xwm/internal/hub"
	"github.com/tsingmao/xwm/internal/logger"
)

// PullOptions holds options for the pull command
type PullOptions struct {
	*GlobalOptions

	// Source overrides XWM_HUB_SOURCE: "ms"/"modelscope" or "hf"/"huggingface"
	Source string
}

// NewPullCommand creates the pull command.
//
// The pull command completes a checkpoint directory with the auxiliary files
// its family needs at load time (fonts, mel filters, speaker dictionaries,
// pooling configs). Weights are not downloaded.
//
// Usage:
//
//	xwm pull MODEL_TYPE MODEL_ID DIR [--source ms|hf]
func NewPullCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &PullOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "pull MODEL_TYPE MODEL_ID DIR",
		Short: "Fetch a family's auxiliary files into a checkpoint directory",
		Long: `Fetch the auxiliary files a family declares (for example SimSun.ttf for
Qwen-VL, mel_filters.npz for Qwen-Audio, spk_dict.pt for Qwen2.5-Omni) from
the checkpoint's repository on ModelScope or HuggingFace.

Downloads resume from partial files, run in parallel and are verified against
the hub's sha256 when one is published. Files the repository lacks are
reported and skipped.`,
		Example: `  xwm pull qwen_vl Qwen/Qwen-VL-Chat ./Qwen-VL-Chat
  xwm pull qwen3_emb Qwen/Qwen3-Embedding-0.6B ./emb --source hf`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(cmd, opts, args[0], args[1], args[2])
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "hub to fetch from: ms (modelscope) or hf (huggingface)")

	return cmd
}

func parseSource(s string) (string, error) {
	switch strings.ToLower(s) {
	case "ms", config.HubModelScope:
		return hub.SourceModelScope, nil
	case "hf", config.HubHuggingFace:
		return hub.SourceHuggingFace, nil
	default:
		return "", fmt.Errorf("unknown hub source %q (want ms or hf)", s)
	}
}

func runPull(cmd *cobra.Command, opts *PullOptions, modelType, modelID, dir string) error {
	cat, err := loadCatalog(opts.GlobalOptions)
	if err != nil {
		return err
	}
	meta, err := cat.Registry.Resolve(modelType)
	if err != nil {
		return err
	}

	hubCfg := opts.Config.Hub
	if opts.Source != "" {
		if hubCfg.Source, err = parseSource(opts.Source); err != nil {
			return err
		}
	}
	client, err := hub.NewClientFromConfig(hubCfg)
	if err != nil {
		return err
	}

	// Translate a known ModelScope id to its HuggingFace alias and back.
	repoID := modelID
	for _, m := range meta.Models() {
		if strings.EqualFold(m.ID, modelID) || (m.HFID != "" && strings.EqualFold(m.HFID, modelID)) {
			repoID = hub.HubID(m, client.Source())
			break
		}
	}
	if repoID != modelID {
		logger.Info("Using %s for %s on %s", repoID, modelID, client.Source())
	}

	var mu sync.Mutex
	progress := func(name string, downloaded, total int64) {
		if downloaded != total || total == 0 {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		logger.Info("Fetched %s (%d bytes)", name, total)
	}

	files, err := client.FetchAdditionalFiles(cmd.Context(), meta, repoID, dir, progress)
	if err != nil {
		return err
	}

	resp := api.PullResponse{
		ModelType: meta.ModelType,
		ModelID:   repoID,
		Source:    client.Source(),
		Dir:       dir,
		Files:     files,
	}
	if resp.Files == nil {
		resp.Files = []string{}
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		return printJSON(out, resp)
	}
	switch {
	case len(meta.AdditionalSavedFiles) == 0:
		fmt.Fprintf(out, "%s declares no auxiliary files.\n", meta.ModelType)
	case len(files) == 0:
		fmt.Fprintf(out, "%s on %s has none of: %s\n", repoID, client.Source(), strings.Join(meta.AdditionalSavedFiles, ", "))
	default:
		fmt.Fprintf(out, "Fetched %d file(s) of %s into %s:\n", len(files), repoID, dir)
		for _, f := range files {
			fmt.Fprintf(out, "  %s\n", f)
		}
	}
	return nil
}
