package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/tsingmao/xwm/internal/api"
	"github.com/tsingmao/xwm/internal/device"
	"github.com/tsingmao/xwm/internal/framework"
	"github.com/tsingmao/xwm/internal/framework/local"
	"github.com/tsingmao/xwm/internal/logger"
	"github.com/tsingmao/xwm/internal/metrics"
	"github.com/tsingmao/xwm/internal/models"
)

// LoadOptions holds options for the load command
type LoadOptions struct {
	*GlobalOptions

	Dtype     string
	AttnImpl  string
	Quant     string
	QuantBits int
	DeviceMap string

	// Devices simulates this many accelerators; 0 detects them
	Devices int

	ModelID          string
	Image            string
	SkipVersionCheck bool
	NoModel          bool
	MetricsFile      string
}

// NewLoadCommand creates the load command.
//
// The load command runs a family's constructor against a checkpoint
// directory through the metadata framework and reports the runtime
// corrections applied to the result.
//
// Usage:
//
//	xwm load MODEL_TYPE|MODEL_ID DIR [flags]
func NewLoadCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &LoadOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "load MODEL_TYPE|MODEL_ID DIR",
		Short: "Load a checkpoint and report the applied corrections",
		Long: `Load a checkpoint directory with the constructor of its family.

Requirements of the family are checked first against the overlay's pinned
versions, the configured runtime image, or the host interpreter. The model
is then loaded on the detected (or --devices simulated) accelerators and the
family's corrections are applied and reported.`,
		Example: `  # Load a Qwen-VL checkpoint across four simulated devices
  xwm load qwen_vl ./Qwen-VL-Chat --devices 4

  # Config and tokenizer only, bf16, JSON output
  xwm load Qwen/Qwen2.5-VL-7B-Instruct ./ckpt --no-model --dtype bf16 --json

  # Record load metrics for the node exporter
  xwm load qwen2_5_omni ./ckpt --metrics-file /var/lib/node_exporter/xwm.prom`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Dtype, "dtype", "", "compute dtype: auto, bf16, fp16 or fp32")
	cmd.Flags().StringVar(&opts.AttnImpl, "attn-impl", "", "attention implementation: auto, flash_attn, sdpa or eager")
	cmd.Flags().StringVar(&opts.Quant, "quant", "", "quantization method: bnb, gptq or awq")
	cmd.Flags().IntVar(&opts.QuantBits, "quant-bits", 4, "quantization bits (4 or 8)")
	cmd.Flags().StringVar(&opts.DeviceMap, "device-map", "", "device map: auto, cpu or a single device such as cuda:0")
	cmd.Flags().IntVar(&opts.Devices, "devices", 0, "simulate this many accelerators per replica (0 detects)")
	cmd.Flags().StringVar(&opts.ModelID, "model-id", "", "checkpoint id, selects group requirements")
	cmd.Flags().StringVar(&opts.Image, "image", "", "check requirements inside this docker image")
	cmd.Flags().BoolVar(&opts.SkipVersionCheck, "skip-version-check", false, "turn requirement violations into warnings")
	cmd.Flags().BoolVar(&opts.NoModel, "no-model", false, "load config and tokenizer only")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write load metrics to `FILE` in text exposition format")

	return cmd
}

// buildLoadOptions converts the flags into loader options.
func (o *LoadOptions) buildLoadOptions(modelID string) (models.LoadOptions, error) {
	var lo models.LoadOptions

	dtype, err := framework.ParseDtype(o.Dtype)
	if err != nil {
		return lo, err
	}
	attn, err := parseAttnImpl(o.AttnImpl)
	if err != nil {
		return lo, err
	}
	lo.Dtype = dtype
	lo.AttnImpl = attn
	lo.DeviceMap = o.DeviceMap
	if o.Quant != "" {
		lo.Quantization = &framework.QuantizationConfig{
			Method: framework.QuantMethod(strings.ToLower(o.Quant)),
			Bits:   o.QuantBits,
		}
	}

	lo.ModelID = o.ModelID
	if lo.ModelID == "" {
		lo.ModelID = modelID
	}
	lo.SkipModel = o.NoModel
	lo.SkipVersionCheck = o.SkipVersionCheck
	lo.DevicesPerReplica = o.Devices

	if err := validator.New().Struct(lo); err != nil {
		return lo, fmt.Errorf("invalid load options: %w", err)
	}
	return lo, nil
}

func parseAttnImpl(s string) (framework.AttnImpl, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return framework.AttnImplAuto, nil
	case "flash_attn", "flash_attention_2", "flash":
		return framework.AttnImplFlashAttn, nil
	case "sdpa":
		return framework.AttnImplSDPA, nil
	case "eager":
		return framework.AttnImplEager, nil
	default:
		return "", fmt.Errorf("unknown attention implementation %q", s)
	}
}

// newFramework creates the metadata framework on the visible accelerators,
// or on n simulated ones.
func newFramework(n int) *local.Framework {
	kind, count := device.Counter{}.Accelerators()
	if n > 0 {
		count = n
		if kind == device.KindCPU {
			kind = device.KindCUDA
		}
	}
	if count == 0 {
		return local.New()
	}
	return local.New(local.WithDevices(string(kind), count))
}

func runLoad(cmd *cobra.Command, opts *LoadOptions, name, dir string) error {
	cat, err := loadCatalog(opts.GlobalOptions)
	if err != nil {
		return err
	}
	meta, modelID, err := resolveFamily(cat.Registry, name)
	if err != nil {
		return err
	}
	lo, err := opts.buildLoadOptions(modelID)
	if err != nil {
		return err
	}

	loaderOpts := []models.LoaderOption{}
	if len(meta.RequiresFor(lo.ModelID)) > 0 {
		vs, source, err := versionSource(opts.Config, cat, opts.Image)
		if err != nil {
			return err
		}
		logger.Debug("Checking requirements of %s against %s", meta.ModelType, source)
		loaderOpts = append(loaderOpts, models.WithVersionSource(vs))
	}

	m := metrics.New()
	loaderOpts = append(loaderOpts, models.WithMetrics(m))
	loader := models.NewLoader(cat.Registry, newFramework(opts.Devices), loaderOpts...)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	res, loadErr := loader.LoadDetailed(ctx, meta.ModelType, dir, lo)
	if opts.MetricsFile != "" {
		if err := m.WriteTextfile(opts.MetricsFile); err != nil {
			logger.Warn("Failed to write metrics to %s: %v", opts.MetricsFile, err)
		}
	}
	if loadErr != nil {
		return loadErr
	}

	resp := api.LoadResponseFrom(res)
	out := cmd.OutOrStdout()
	if opts.JSON {
		return printJSON(out, resp)
	}

	fmt.Fprintf(out, "Loaded %s from %s (load %s)\n", resp.ModelType, resp.Dir, resp.LoadID)
	if resp.ModelClass != "" {
		fmt.Fprintf(out, "  Model:    %s on %s\n", resp.ModelClass, resp.Device)
	} else {
		fmt.Fprintln(out, "  Model:    skipped")
	}
	fmt.Fprintf(out, "  Dtype:    %s\n", orDash(resp.Dtype))
	fmt.Fprintf(out, "  Devices:  %d per replica\n", resp.DevicesPerReplica)
	if resp.EOSTokenID != nil {
		fmt.Fprintf(out, "  EOS:      %d\n", *resp.EOSTokenID)
	}
	fmt.Fprintf(out, "  Duration: %dms\n", resp.DurationMs)
	for _, w := range resp.Warnings {
		fmt.Fprintf(out, "  Warning:  %s\n", w)
	}

	if len(resp.Patches) > 0 {
		fmt.Fprintln(out)
		table := newTable(out, "PATCH", "OUTCOME", "ERROR")
		for _, p := range resp.Patches {
			table.Append([]string{p.Patch, p.Outcome, orDash(p.Error)})
		}
		table.Render()
	}
	return nil
}
