package models

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tsingmao/xwm/internal/logger"
)

// Registry is the catalog of model families.
//
// The Registry provides thread-safe access to family metadata. It is
// populated explicitly at startup (see qwen.Register and catalog.New) and
// treated as read-only afterwards; concurrent lookups only take the read
// lock. Families are kept in registration order so listings are stable.
type Registry struct {
	// mu guards every field below.
	// Uses RWMutex to allow multiple concurrent readers.
	mu sync.RWMutex

	// families maps model types to their metadata.
	families map[string]*ModelMeta

	// order is the registration order of model types.
	order []string

	// loaders holds named constructors for families declared in config.
	loaders map[string]LoaderFunc

	validate *validator.Validate
}

// NewRegistry creates an empty registry with the built-in constructors
// (with_flash_attn, multimodal, reward_model) available by name.
//
// Returns:
//   - A pointer to an initialized Registry without families.
//
// Example:
//
//	r := models.NewRegistry()
//	if err := qwen.Register(r); err != nil {
//	    log.Fatal(err)
//	}
func NewRegistry() *Registry {
	r := &Registry{
		families: make(map[string]*ModelMeta),
		loaders:  make(map[string]LoaderFunc),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	r.loaders[LoaderWithFlashAttn] = LoadWithFlashAttn
	r.loaders[LoaderMultimodal] = LoadMultimodal
	r.loaders[LoaderRewardModel] = LoadRewardModel
	return r
}

// RegisterOption configures a single Register call.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	overwrite bool
}

// WithOverwrite allows Register to replace an existing family. The replaced
// family keeps its position in the registration order.
func WithOverwrite() RegisterOption {
	return func(o *registerOptions) { o.overwrite = true }
}

// Register validates meta and adds it to the registry.
//
// The registry stores its own copy of meta, so later changes to the
// caller's value are not observed. Requirement strings are parsed here so
// that a malformed constraint fails at startup rather than at load time.
//
// Parameters:
//   - meta: The family to register. ModelType, Groups, Template and Loader
//     are required; every group needs at least one model with an ID.
//   - opts: WithOverwrite to replace an existing family.
//
// Returns:
//   - nil on success
//   - ErrInvalidMeta (wrapped) if validation fails
//   - ErrDuplicateKey (wrapped) if the model type exists and overwrite is not set
//
// Example:
//
//	err := r.Register(&models.ModelMeta{
//	    ModelType: "alpha",
//	    Groups:    []models.ModelGroup{{Models: []models.Model{{ID: "org/alpha-7b"}}}},
//	    Template:  "T1",
//	    Loader:    models.LoadWithFlashAttn,
//	})
func (r *Registry) Register(meta *ModelMeta, opts ...RegisterOption) error {
	if meta == nil {
		return fmt.Errorf("%w: nil meta", ErrInvalidMeta)
	}
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := r.check(meta); err != nil {
		return err
	}
	stored := meta.clone()
	stored.effective = stored.mergedModels()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.families[stored.ModelType]; exists {
		if !o.overwrite {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, stored.ModelType)
		}
		logger.Debug("Overwriting model type: %s", stored.ModelType)
	} else {
		r.order = append(r.order, stored.ModelType)
	}
	r.families[stored.ModelType] = stored

	logger.Debug("Registered model type: %s (%d models)", stored.ModelType, len(stored.effective))
	return nil
}

// check validates a family declaration.
func (r *Registry) check(meta *ModelMeta) error {
	if err := r.validate.Struct(meta); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s: field %s failed %q", ErrInvalidMeta, meta.ModelType, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidMeta, meta.ModelType, err)
	}
	for _, raw := range meta.Requires {
		if _, err := ParseRequirement(raw); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidMeta, meta.ModelType, err)
		}
	}
	for _, g := range meta.Groups {
		for _, raw := range g.Requires {
			if _, err := ParseRequirement(raw); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidMeta, meta.ModelType, err)
			}
		}
	}
	return nil
}

// Unregister removes a family.
//
// Returns:
//   - nil if the family was removed
//   - ErrNotFound (wrapped) if it was not registered
func (r *Registry) Unregister(modelType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.families[modelType]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, modelType)
	}
	delete(r.families, modelType)
	r.order = slices.DeleteFunc(r.order, func(t string) bool { return t == modelType })
	return nil
}

// Resolve returns the family registered under modelType.
//
// The returned pointer references registry data and must not be modified.
// A failed lookup has no side effects.
//
// Returns:
//   - The family metadata if found
//   - ErrNotFound (wrapped) otherwise
//
// Example:
//
//	meta, err := r.Resolve("qwen2_vl")
//	if errors.Is(err, models.ErrNotFound) {
//	    ...
//	}
func (r *Registry) Resolve(modelType string) (*ModelMeta, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, exists := r.families[modelType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, modelType)
	}
	return meta, nil
}

// ModelTypes returns the registered model types in registration order.
func (r *Registry) ModelTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Families returns all families in registration order.
func (r *Registry) Families() []*ModelMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ModelMeta, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.families[t])
	}
	return out
}

// AllTagged yields every checkpoint whose merged tags contain tag.
//
// Iteration order is families in registration order, then groups, then
// entries. The sequence is lazy and can be ranged over any number of
// times; each pass takes a fresh snapshot of the registration order.
//
// Example:
//
//	for m := range r.AllTagged("vision") {
//	    fmt.Println(m.ID)
//	}
func (r *Registry) AllTagged(tag string) iter.Seq[Model] {
	return func(yield func(Model) bool) {
		for _, meta := range r.Families() {
			for _, m := range meta.entries() {
				if !slices.Contains(m.Tags, tag) {
					continue
				}
				m.Tags = slices.Clone(m.Tags)
				if !yield(m) {
					return
				}
			}
		}
	}
}

// FindByModelID looks a checkpoint up by ModelScope or HuggingFace id.
//
// The lookup is case-insensitive. When several families list the same
// checkpoint, the first registered wins.
//
// Returns:
//   - The family and the checkpoint (with merged tags) if found
//   - ErrNotFound (wrapped) otherwise
func (r *Registry) FindByModelID(id string) (*ModelMeta, Model, error) {
	for _, meta := range r.Families() {
		for _, m := range meta.entries() {
			if matchesID(m, id) {
				m.Tags = slices.Clone(m.Tags)
				return meta, m, nil
			}
		}
	}
	return nil, Model{}, fmt.Errorf("%w: no family lists %s", ErrNotFound, id)
}

func matchesID(m Model, id string) bool {
	return strings.EqualFold(m.ID, id) || (m.HFID != "" && strings.EqualFold(m.HFID, id))
}

// MatchArchitecture returns the families that declare arch, in
// registration order.
func (r *Registry) MatchArchitecture(arch string) []*ModelMeta {
	var out []*ModelMeta
	for _, meta := range r.Families() {
		if slices.Contains(meta.Architectures, arch) {
			out = append(out, meta)
		}
	}
	return out
}

// RegisterLoader makes a constructor available by name to families declared
// in a registry overlay file.
func (r *Registry) RegisterLoader(name string, fn LoaderFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("%w: loader needs a name and a function", ErrInvalidMeta)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.loaders[name]; exists {
		return fmt.Errorf("%w: loader %s", ErrDuplicateKey, name)
	}
	r.loaders[name] = fn
	return nil
}

// Loader returns a named constructor.
func (r *Registry) Loader(name string) (LoaderFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.loaders[name]
	return fn, ok
}

// LoaderNames returns the names of the available constructors, sorted.
func (r *Registry) LoaderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.loaders))
	for n := range r.loaders {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
