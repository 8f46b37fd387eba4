package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tsingmao/xwm/internal/framework"
)

const (
	tokenizerConfigFile = "tokenizer_config.json"
	vocabFile           = "vocab.json"
)

type addedToken struct {
	Content string `json:"content"`
	Special bool   `json:"special"`
}

type tokenizerConfig struct {
	EOSToken     json.RawMessage       `json:"eos_token"`
	AddedTokens  map[string]addedToken `json:"added_tokens_decoder"`
	TokenizerCls string                `json:"tokenizer_class"`
}

// Tokenizer is a vocabulary lookup table.
type Tokenizer struct {
	class   string
	byID    map[int]string
	byToken map[string]int
	special map[int]bool
	eos     int
	hasEOS  bool
}

var _ framework.Tokenizer = (*Tokenizer)(nil)

// NewTokenizer builds a tokenizer from a vocabulary and its special tokens.
// An empty eos leaves the end-of-sequence id undeclared.
func NewTokenizer(vocab map[string]int, special map[string]int, eos string) *Tokenizer {
	t := &Tokenizer{
		byID:    make(map[int]string),
		byToken: make(map[string]int),
		special: make(map[int]bool),
	}
	for tok, id := range vocab {
		t.byID[id] = tok
		t.byToken[tok] = id
	}
	for tok, id := range special {
		t.byID[id] = tok
		t.byToken[tok] = id
		t.special[id] = true
	}
	if eos != "" {
		t.eos, t.hasEOS = t.byToken[eos]
	}
	return t
}

// ReadTokenizer reads tokenizer_config.json and, when present, vocab.json.
// Checkpoints shipping only a tiktoken file get the added tokens alone.
func ReadTokenizer(dir string) (*Tokenizer, error) {
	data, err := os.ReadFile(filepath.Join(dir, tokenizerConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer config: %w", err)
	}
	var cfg tokenizerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse tokenizer config: %w", err)
	}

	vocab := make(map[string]int)
	data, err = os.ReadFile(filepath.Join(dir, vocabFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &vocab); err != nil {
			return nil, fmt.Errorf("failed to parse vocabulary: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}

	special := make(map[string]int)
	for key, tok := range cfg.AddedTokens {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid added token id %q: %w", key, err)
		}
		if tok.Special {
			special[tok.Content] = id
		} else {
			vocab[tok.Content] = id
		}
	}

	t := NewTokenizer(vocab, special, eosContent(cfg.EOSToken))
	t.class = cfg.TokenizerCls
	return t, nil
}

// eosContent accepts both "eos_token": "<|im_end|>" and the object form
// {"content": "<|im_end|>", ...}.
func eosContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var tok addedToken
	if json.Unmarshal(raw, &tok) == nil {
		return tok.Content
	}
	return ""
}

// Class returns the tokenizer_class declared by the checkpoint.
func (t *Tokenizer) Class() string { return t.class }

// Decode concatenates token strings.
func (t *Tokenizer) Decode(ids []int, skipSpecialTokens bool) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		tok, ok := t.byID[id]
		if !ok {
			return "", fmt.Errorf("token id %d out of vocabulary", id)
		}
		if skipSpecialTokens && t.special[id] {
			continue
		}
		b.WriteString(tok)
	}
	return b.String(), nil
}

func (t *Tokenizer) EOSTokenID() (int, bool) { return t.eos, t.hasEOS }

func (t *Tokenizer) TokenID(token string) (int, bool) {
	id, ok := t.byToken[token]
	return id, ok
}
