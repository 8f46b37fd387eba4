// Package localtest writes minimal checkpoint directories for tests.
package localtest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// Qwen special tokens shared by every family in the catalog.
const (
	EndOfText = "<|endoftext|>"
	IMStart   = "<|im_start|>"
	IMEnd     = "<|im_end|>"

	EndOfTextID = 151643
	IMStartID   = 151644
	IMEndID     = 151645
)

// Checkpoint describes the files to write.
type Checkpoint struct {
	// Config is written to config.json.
	Config map[string]any

	// Vocab is written to vocab.json. Nil writes a small default vocabulary.
	Vocab map[string]int

	// EOSToken is written as eos_token. Empty leaves it undeclared.
	EOSToken string

	// NoWeights skips the weights file.
	NoWeights bool

	// Extra files, keyed by relative path.
	Files map[string]string
}

// Write creates the checkpoint under a fresh temp dir and returns its path.
func Write(t testing.TB, ckpt Checkpoint) string {
	t.Helper()
	dir := t.TempDir()

	writeJSON(t, filepath.Join(dir, "config.json"), ckpt.Config)

	vocab := ckpt.Vocab
	if vocab == nil {
		vocab = map[string]int{"hello": 0, " world": 1, "!": 2}
	}
	writeJSON(t, filepath.Join(dir, "vocab.json"), vocab)

	added := map[string]any{}
	for tok, id := range map[string]int{EndOfText: EndOfTextID, IMStart: IMStartID, IMEnd: IMEndID} {
		added[strconv.Itoa(id)] = map[string]any{"content": tok, "special": true}
	}
	tokCfg := map[string]any{"added_tokens_decoder": added}
	if ckpt.EOSToken != "" {
		tokCfg["eos_token"] = ckpt.EOSToken
	}
	writeJSON(t, filepath.Join(dir, "tokenizer_config.json"), tokCfg)

	if !ckpt.NoWeights {
		writeFile(t, filepath.Join(dir, "model.safetensors"), "weights")
	}
	for name, content := range ckpt.Files {
		writeFile(t, filepath.Join(dir, name), content)
	}
	return dir
}

func writeJSON(t testing.TB, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	writeFile(t, path, string(data))
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
