package models

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tsingmao/xwm/internal/config"
	"github.com/tsingmao/xwm/internal/device"
	"github.com/tsingmao/xwm/internal/framework"
	"github.com/tsingmao/xwm/internal/logger"
	"github.com/tsingmao/xwm/internal/metrics"
	"github.com/tsingmao/xwm/internal/patch"
)

// LoaderFunc is a family constructor. It loads config, tokenizer and
// (unless the options skip it) the model through the LoadContext helpers and
// applies family-specific configuration. The post-load corrections declared
// in the family's Capabilities are applied by the Loader afterwards.
type LoaderFunc func(ctx context.Context, lc *LoadContext) (framework.Model, framework.Tokenizer, error)

// LoadOptions are the caller's options for one load.
type LoadOptions struct {
	framework.LoadOptions

	// ModelID selects group-level requirements; optional.
	ModelID string `json:"model_id,omitempty"`

	// SkipModel loads config and tokenizer only.
	SkipModel bool `json:"skip_model,omitempty"`

	// SkipVersionCheck turns requirement violations into warnings.
	SkipVersionCheck bool `json:"skip_version_check,omitempty"`

	// DevicesPerReplica overrides device detection when positive.
	DevicesPerReplica int `json:"devices_per_replica,omitempty" validate:"gte=0"`
}

// Result is everything a load produced.
type Result struct {
	LoadID    string `json:"load_id"`
	ModelType string `json:"model_type"`
	Template  string `json:"template"`
	Dir       string `json:"dir"`

	Config    *framework.ModelConfig `json:"config,omitempty"`
	Model     *patch.Model           `json:"-"`
	Tokenizer *patch.Tokenizer       `json:"-"`

	Dtype             framework.Dtype `json:"dtype,omitempty"`
	DevicesPerReplica int             `json:"devices_per_replica"`

	Patches  []patch.Result         `json:"patches"`
	Vision   *config.VisionSettings `json:"vision,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
	Duration time.Duration          `json:"duration"`
}

// Loader resolves model types and runs their constructors.
type Loader struct {
	registry  *Registry
	framework framework.Framework
	versions  VersionSource
	metrics   *metrics.Metrics
	devices   func() int
	environ   map[string]string
	runner    patch.Runner

	visionOnce sync.Once
	vision     config.VisionSettings
	visionErr  error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithVersionSource sets where installed library versions come from.
// Without one, requirements are not checked.
func WithVersionSource(vs VersionSource) LoaderOption {
	return func(l *Loader) { l.versions = vs }
}

// WithMetrics records loads and patch outcomes.
func WithMetrics(m *metrics.Metrics) LoaderOption {
	return func(l *Loader) { l.metrics = m }
}

// WithDeviceCounter replaces accelerator detection.
func WithDeviceCounter(fn func() int) LoaderOption {
	return func(l *Loader) { l.devices = fn }
}

// WithEnviron makes vision settings read from environ instead of the
// process environment.
func WithEnviron(environ map[string]string) LoaderOption {
	return func(l *Loader) { l.environ = environ }
}

// NewLoader creates a loader over r that loads through fw.
func NewLoader(r *Registry, fw framework.Framework, opts ...LoaderOption) *Loader {
	l := &Loader{
		registry:  r,
		framework: fw,
		devices:   device.DevicesPerReplica,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics != nil {
		m := l.metrics
		l.runner.Observe = func(name string, outcome patch.Outcome) {
			m.ObservePatch(name, string(outcome))
		}
	}
	return l
}

// Registry returns the registry the loader resolves against.
func (l *Loader) Registry() *Registry { return l.registry }

// Load loads modelType from dir and returns the patched model and tokenizer.
// The model is nil when opts.SkipModel is set.
//
// Errors:
//   - ErrNotFound if modelType is not registered
//   - ErrUnsupportedVersion if requirements fail and are not skipped
//   - *LoadError if the framework fails
//   - *patch.Error if a critical correction fails
func (l *Loader) Load(ctx context.Context, modelType, dir string, opts LoadOptions) (framework.Model, framework.Tokenizer, error) {
	res, err := l.LoadDetailed(ctx, modelType, dir, opts)
	if err != nil {
		return nil, nil, err
	}
	var model framework.Model
	if res.Model != nil {
		model = res.Model
	}
	return model, res.Tokenizer, nil
}

// LoadDetailed is Load returning the full Result.
func (l *Loader) LoadDetailed(ctx context.Context, modelType, dir string, opts LoadOptions) (*Result, error) {
	start := time.Now()
	res, err := l.load(ctx, modelType, dir, opts)
	if res != nil {
		res.Duration = time.Since(start)
	}
	if l.metrics != nil {
		l.metrics.ObserveLoad(modelType, loadResult(err), time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func loadResult(err error) string {
	var loadErr *LoadError
	var patchErr *patch.Error
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, ErrNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, ErrUnsupportedVersion):
		return metrics.ResultUnsupportedVersion
	case errors.As(err, &patchErr):
		return metrics.ResultPatchError
	case errors.As(err, &loadErr):
		return metrics.ResultLoadError
	default:
		return metrics.ResultError
	}
}

func (l *Loader) load(ctx context.Context, modelType, dir string, opts LoadOptions) (*Result, error) {
	meta, err := l.registry.Resolve(modelType)
	if err != nil {
		return nil, err
	}

	res := &Result{
		LoadID:    uuid.NewString(),
		ModelType: meta.ModelType,
		Template:  meta.Template,
		Dir:       dir,
	}
	logger.Info("[%s] Loading %s from %s", res.LoadID, meta.ModelType, dir)

	warnings, err := l.checkVersions(ctx, meta, opts)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, warnings...)

	res.DevicesPerReplica = opts.DevicesPerReplica
	if res.DevicesPerReplica <= 0 {
		res.DevicesPerReplica = l.devices()
	}

	lc := &LoadContext{
		Meta:              meta,
		Framework:         l.framework,
		Dir:               dir,
		Options:           opts,
		DevicesPerReplica: res.DevicesPerReplica,
		LoadID:            res.LoadID,
		loader:            l,
		target:            &patch.Target{},
	}
	lc.Options.LoadOptions = meta.LoadOptions(opts.LoadOptions)

	model, tok, err := meta.Loader(ctx, lc)
	if err != nil {
		var patchErr *patch.Error
		var loadErr *LoadError
		if errors.As(err, &patchErr) || errors.As(err, &loadErr) {
			return nil, err
		}
		return nil, &LoadError{ModelType: meta.ModelType, Dir: dir, Err: err}
	}

	if tok != nil {
		lc.target.Tokenizer = patch.WrapTokenizer(tok)
	}
	if model != nil {
		lc.target.Model = patch.WrapModel(model)
		if lc.target.Config == nil {
			lc.target.Config = model.Config()
		}
	}

	post := meta.Capabilities.postLoadPatches(lc.DevicesPerReplica)
	results, err := l.runner.Run(ctx, lc.target, post...)
	lc.results = append(lc.results, results...)
	if err != nil {
		return nil, err
	}

	res.Config = lc.target.Config
	res.Model = lc.target.Model
	res.Tokenizer = lc.target.Tokenizer
	res.Dtype = lc.dtype
	res.Patches = lc.results
	res.Vision = lc.vision

	logger.Info("[%s] Loaded %s (%d patches)", res.LoadID, meta.ModelType, countApplied(res.Patches))
	return res, nil
}

func countApplied(results []patch.Result) int {
	n := 0
	for _, r := range results {
		if r.Outcome == patch.OutcomeApplied {
			n++
		}
	}
	return n
}

// checkVersions verifies the family's requirements. A failing query is
// logged and the check skipped.
func (l *Loader) checkVersions(ctx context.Context, meta *ModelMeta, opts LoadOptions) ([]string, error) {
	requires := meta.RequiresFor(opts.ModelID)
	if len(requires) == 0 {
		return nil, nil
	}
	if l.versions == nil {
		logger.Debug("No version source, skipping requirement check for %s", meta.ModelType)
		return nil, nil
	}

	installed, err := l.versions.InstalledVersions(ctx)
	if err != nil {
		logger.Warn("Could not query installed versions, skipping check for %s: %v", meta.ModelType, err)
		return []string{"version query failed: " + err.Error()}, nil
	}
	violations, err := CheckRequirements(requires, installed)
	if err != nil {
		logger.Warn("Could not check requirements of %s: %v", meta.ModelType, err)
		return []string{err.Error()}, nil
	}
	if len(violations) == 0 {
		return nil, nil
	}

	verr := violationsError(meta.ModelType, violations)
	if !opts.SkipVersionCheck {
		return nil, verr
	}
	logger.Warn("%v (continuing, version check skipped)", verr)
	return []string{verr.Error()}, nil
}

func (l *Loader) visionSettings() (config.VisionSettings, error) {
	l.visionOnce.Do(func() {
		l.vision, l.visionErr = config.LoadVisionSettings(l.environ)
	})
	return l.vision, l.visionErr
}

// LoadContext carries one load through a constructor.
type LoadContext struct {
	Meta      *ModelMeta
	Framework framework.Framework
	Dir       string

	// Options has the family's attention keys and model class merged in.
	// Constructors may adjust it before calling LoadModel.
	Options LoadOptions

	DevicesPerReplica int
	LoadID            string

	loader  *Loader
	target  *patch.Target
	results []patch.Result
	dtype   framework.Dtype
	vision  *config.VisionSettings
}

// LoadConfig reads the model config and applies the family's config
// corrections (precision flags).
func (lc *LoadContext) LoadConfig(ctx context.Context) (*framework.ModelConfig, error) {
	cfg, err := lc.Framework.LoadConfig(ctx, lc.Dir)
	if err != nil {
		return nil, err
	}
	lc.dtype = lc.Options.Dtype
	if lc.dtype == framework.DtypeAuto {
		lc.dtype = cfg.TorchDtype()
	}

	lc.target.Config = cfg
	results, err := lc.loader.runner.Run(ctx, lc.target, lc.Meta.Capabilities.configPatches(lc.dtype)...)
	lc.results = append(lc.results, results...)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Dtype is the compute precision resolved by LoadConfig: the requested one,
// else the config's torch_dtype.
func (lc *LoadContext) Dtype() framework.Dtype { return lc.dtype }

// LoadTokenizer reads the tokenizer.
func (lc *LoadContext) LoadTokenizer(ctx context.Context) (framework.Tokenizer, error) {
	return lc.Framework.LoadTokenizer(ctx, lc.Dir)
}

// LoadModel instantiates the model, or returns nil when the options skip it.
func (lc *LoadContext) LoadModel(ctx context.Context, cfg *framework.ModelConfig) (framework.Model, error) {
	if lc.Options.SkipModel {
		logger.Debug("[%s] Skipping model weights", lc.LoadID)
		return nil, nil
	}
	return lc.Framework.LoadModel(ctx, lc.Dir, cfg, lc.Options.LoadOptions)
}

// Vision returns the vision preprocessing limits. They are read from the
// environment once per Loader.
func (lc *LoadContext) Vision() (config.VisionSettings, error) {
	s, err := lc.loader.visionSettings()
	if err != nil {
		return s, err
	}
	lc.vision = &s
	return s, nil
}
