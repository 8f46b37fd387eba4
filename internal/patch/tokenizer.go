package patch

import (
	"sync"

	"github.com/tsingmao/xwm/internal/framework"
)

// DecodeFunc replaces a tokenizer's decode step. inner is the wrapped tokenizer.
type DecodeFunc func(inner framework.Tokenizer, ids []int, skipSpecialTokens bool) (string, error)

// Tokenizer wraps a loaded framework tokenizer.
type Tokenizer struct {
	inner framework.Tokenizer

	mu     sync.RWMutex
	decode DecodeFunc
	eos    int
	hasEOS bool
	marks  map[string]bool
}

var _ framework.Tokenizer = (*Tokenizer)(nil)

// WrapTokenizer returns the adapter for tok; an adapter is returned as is.
func WrapTokenizer(tok framework.Tokenizer) *Tokenizer {
	if pt, ok := tok.(*Tokenizer); ok {
		return pt
	}
	return &Tokenizer{inner: tok, marks: make(map[string]bool)}
}

// Unwrap returns the framework's own tokenizer.
func (t *Tokenizer) Unwrap() framework.Tokenizer { return t.inner }

func (t *Tokenizer) Decode(ids []int, skipSpecialTokens bool) (string, error) {
	t.mu.RLock()
	fn := t.decode
	t.mu.RUnlock()
	if fn != nil {
		return fn(t.inner, ids, skipSpecialTokens)
	}
	return t.inner.Decode(ids, skipSpecialTokens)
}

func (t *Tokenizer) EOSTokenID() (int, bool) {
	t.mu.RLock()
	eos, ok := t.eos, t.hasEOS
	t.mu.RUnlock()
	if ok {
		return eos, true
	}
	return t.inner.EOSTokenID()
}

func (t *Tokenizer) TokenID(token string) (int, bool) { return t.inner.TokenID(token) }

func (t *Tokenizer) setDecode(fn DecodeFunc) {
	t.mu.Lock()
	t.decode = fn
	t.mu.Unlock()
}

func (t *Tokenizer) setEOS(id int) {
	t.mu.Lock()
	t.eos, t.hasEOS = id, true
	t.mu.Unlock()
}

func (t *Tokenizer) marked(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.marks[id]
}

func (t *Tokenizer) mark(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.marks[id] = true
}

// Patched reports whether the patch with the given id has been applied.
func (t *Tokenizer) Patched(id string) bool { return t.marked(id) }
