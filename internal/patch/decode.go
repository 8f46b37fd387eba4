package patch

import (
	"context"
	"fmt"
	"slices"

	"github.com/tsingmao/xwm/internal/framework"
)

// Qwen end-of-turn and end-of-text ids.
const (
	IMEndID     = 151645
	EndOfTextID = 151643

	// EndOfText is the token Qwen tokenizers declare as eod.
	EndOfText = "<|endoftext|>"
)

// DefaultSentinels are the ids stripped by DecodeSentinels when none are given.
var DefaultSentinels = []int{IMEndID, EndOfTextID}

// DecodeSentinels replaces the decode step of tokenizers whose own special
// token handling is broken. When skipping special tokens is requested only
// trailing sentinel ids are dropped; the wrapped decode always runs with
// skipping disabled.
func DecodeSentinels(sentinels ...int) Patch {
	if len(sentinels) == 0 {
		sentinels = DefaultSentinels
	}
	sentinels = slices.Clone(sentinels)
	return Patch{
		Name:  "decode_sentinels",
		Scope: ScopeTokenizer,
		Apply: func(_ context.Context, t *Target) error {
			t.Tokenizer.setDecode(func(inner framework.Tokenizer, ids []int, skip bool) (string, error) {
				if skip {
					ids = trimSentinels(ids, sentinels)
				}
				return inner.Decode(ids, false)
			})
			return nil
		},
	}
}

func trimSentinels(ids, sentinels []int) []int {
	n := len(ids)
	for n > 0 && slices.Contains(sentinels, ids[n-1]) {
		n--
	}
	return ids[:n]
}

// EOSFromEOD declares the end-of-document token as end-of-sequence for
// tokenizers that leave eos unset.
func EOSFromEOD(eodToken string) Patch {
	return Patch{
		Name:  "eos_from_eod",
		Scope: ScopeTokenizer,
		Apply: func(_ context.Context, t *Target) error {
			if _, ok := t.Tokenizer.EOSTokenID(); ok {
				return fmt.Errorf("%w: eos already declared", ErrNotApplicable)
			}
			id, ok := t.Tokenizer.TokenID(eodToken)
			if !ok {
				return fmt.Errorf("eod token %q not in vocabulary", eodToken)
			}
			t.Tokenizer.setEOS(id)
			return nil
		},
	}
}
