// Package patch applies post-load corrections to framework objects.
//
// Corrections never mutate the framework's own model or tokenizer. Loaded
// handles are wrapped in adapters (Model, Tokenizer) and each patch installs
// an override on the adapter. Every patch is recorded as a marker on the
// adapter it touched, so running the same patch again is a no-op.
package patch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tsingmao/xwm/internal/framework"
	"github.com/tsingmao/xwm/internal/logger"
)

// ErrNotApplicable is returned by a patch whose precondition does not hold
// (buffer absent, too few devices, ...). The runner records it as skipped.
var ErrNotApplicable = errors.New("patch not applicable")

// AltSep separates alternative module paths; the first one present is used.
const AltSep = "|"

// Alternatives joins module paths that name the same module across
// releases of an architecture, most likely first.
func Alternatives(paths ...string) string {
	return strings.Join(paths, AltSep)
}

// SplitAlternatives is the inverse of Alternatives.
func SplitAlternatives(path string) []string {
	return strings.Split(path, AltSep)
}

// Error reports a failed patch.
type Error struct {
	Patch    string
	Critical bool
	Err      error
}

func (e *Error) Error() string {
	kind := "patch"
	if e.Critical {
		kind = "critical patch"
	}
	return fmt.Sprintf("%s %s failed: %v", kind, e.Patch, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Scope is the object a patch operates on.
type Scope int

const (
	ScopeConfig Scope = iota
	ScopeModel
	ScopeTokenizer
)

func (s Scope) String() string {
	switch s {
	case ScopeConfig:
		return "config"
	case ScopeModel:
		return "model"
	case ScopeTokenizer:
		return "tokenizer"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// Patch is a single correction.
type Patch struct {
	// Name is the kind of correction, e.g. "output_clone".
	Name string

	// Path is the module or buffer the patch targets, if any.
	Path string

	Scope    Scope
	Critical bool

	Apply func(ctx context.Context, t *Target) error
}

// ID identifies the patch instance; it is the marker key.
func (p Patch) ID() string {
	if p.Path == "" {
		return p.Name
	}
	return p.Name + ":" + p.Path
}

// Target bundles the objects a load produced.
type Target struct {
	Config    *framework.ModelConfig
	Model     *Model
	Tokenizer *Tokenizer

	mu    sync.Mutex
	marks map[string]bool
}

func (t *Target) marker(s Scope) marker {
	switch s {
	case ScopeModel:
		if t.Model == nil {
			return nil
		}
		return t.Model
	case ScopeTokenizer:
		if t.Tokenizer == nil {
			return nil
		}
		return t.Tokenizer
	default:
		if t.Config == nil {
			return nil
		}
		return t
	}
}

func (t *Target) marked(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.marks[id]
}

func (t *Target) mark(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.marks == nil {
		t.marks = make(map[string]bool)
	}
	t.marks[id] = true
}

type marker interface {
	marked(id string) bool
	mark(id string)
}

// Outcome is what happened to one patch during a run.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeAlready Outcome = "already_applied"
	OutcomeFailed  Outcome = "failed"
)

// Result records the outcome of one patch.
type Result struct {
	Patch   string  `json:"patch"`
	Outcome Outcome `json:"outcome"`
	Err     error   `json:"-"`
}

// Runner applies patches in order.
type Runner struct {
	// Observe, when set, is called once per patch.
	Observe func(patch string, outcome Outcome)
}

// Run applies patches to t. Non-critical failures are logged and the run
// continues; the first critical failure stops the run with an *Error.
func (r *Runner) Run(ctx context.Context, t *Target, patches ...Patch) ([]Result, error) {
	results := make([]Result, 0, len(patches))
	for _, p := range patches {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := r.apply(ctx, t, p)
		results = append(results, res)
		if r.Observe != nil {
			r.Observe(p.Name, res.Outcome)
		}
		if res.Outcome == OutcomeFailed {
			if p.Critical {
				return results, &Error{Patch: p.ID(), Critical: true, Err: res.Err}
			}
			logger.Warn("Patch %s failed, continuing: %v", p.ID(), res.Err)
		}
	}
	return results, nil
}

func (r *Runner) apply(ctx context.Context, t *Target, p Patch) Result {
	res := Result{Patch: p.ID()}
	m := t.marker(p.Scope)
	if m == nil {
		res.Outcome = OutcomeSkipped
		logger.Debug("Patch %s skipped: no %s", p.ID(), p.Scope)
		return res
	}
	if m.marked(p.ID()) {
		res.Outcome = OutcomeAlready
		return res
	}

	err := p.Apply(ctx, t)
	switch {
	case err == nil:
		m.mark(p.ID())
		res.Outcome = OutcomeApplied
		logger.Debug("Patch %s applied", p.ID())
	case errors.Is(err, ErrNotApplicable):
		res.Outcome = OutcomeSkipped
		logger.Debug("Patch %s skipped: %v", p.ID(), err)
	default:
		res.Outcome = OutcomeFailed
		res.Err = err
	}
	return res
}
