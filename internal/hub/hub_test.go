package hub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsingmao/xwm/internal/config"
	"github.com/tsingmao/xwm/internal/models"
	"github.com/tsingmao/xwm/internal/models/qwen"
)

type repoFile struct {
	content string
	sha     string
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// modelScopeServer serves the listing and file endpoints of one repository.
func modelScopeServer(t *testing.T, modelID string, files map[string]repoFile) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/models/"+modelID+"/repo/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "True", r.URL.Query().Get("Recursive"))
		type entry struct {
			Path   string `json:"Path"`
			Size   int64  `json:"Size"`
			Sha256 string `json:"Sha256"`
			Type   string `json:"Type"`
		}
		list := []entry{{Path: "1_Pooling", Type: "tree"}}
		for name, f := range files {
			list = append(list, entry{Path: name, Size: int64(len(f.content)), Sha256: f.sha, Type: "blob"})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"Data": map[string]any{"Files": list}})
	})
	mux.HandleFunc("/api/v1/models/"+modelID+"/repo", func(w http.ResponseWriter, r *http.Request) {
		f, ok := files[r.URL.Query().Get("FilePath")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "", time.Time{}, strings.NewReader(f.content))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(SourceHuggingFace)
	require.NoError(t, err)
	assert.Equal(t, DefaultHuggingFaceEndpoint, c.endpoint)
	assert.Equal(t, "main", c.revision)

	c, err = NewClientFromConfig(config.HubConfig{Endpoint: "https://mirror.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, SourceModelScope, c.Source())
	assert.Equal(t, "https://mirror.example.com", c.endpoint)

	_, err = NewClient("github")
	assert.Error(t, err)
}

func TestSelectFiles(t *testing.T) {
	files := []FileInfo{
		{Name: "config.json"},
		{Name: "modules.json"},
		{Name: "1_Pooling/config.json"},
		{Name: "1_Pooling_extra.json"},
		{Name: "SimSun.ttf"},
		{Name: "1_Pooling/../../escaped.txt"},
		{Name: "1_Pooling/sub/../x.json"},
		{Name: "/etc/passwd"},
	}
	tests := []struct {
		name    string
		names   []string
		want    []string
		missing []string
	}{
		{"exact", []string{"SimSun.ttf"}, []string{"SimSun.ttf"}, nil},
		{"directory", []string{"1_Pooling"}, []string{"1_Pooling/config.json"}, nil},
		{"trailing slash", []string{"1_Pooling/"}, []string{"1_Pooling/config.json"}, nil},
		{"missing", []string{"mel_filters.npz", "modules.json"}, []string{"modules.json"}, []string{"mel_filters.npz"}},
		{"none", nil, nil, nil},
		{"escaping entry", []string{"1_Pooling"}, []string{"1_Pooling/config.json"}, nil},
		{"unclean entry only", []string{"1_Pooling/sub"}, nil, []string{"1_Pooling/sub"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected, missing := SelectFiles(files, tt.names)
			var got []string
			for _, f := range selected {
				got = append(got, f.Name)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.missing, missing)
		})
	}
}

func TestFetchAdditionalFiles(t *testing.T) {
	const modelID = "Qwen/Qwen3-Embedding-0.6B"
	files := map[string]repoFile{
		"config.json":           {content: `{"architectures":["Qwen3ForCausalLM"]}`},
		"modules.json":          {content: `[{"idx":0}]`, sha: digest(`[{"idx":0}]`)},
		"1_Pooling/config.json": {content: `{"pooling_mode_lasttoken":true}`},
	}
	srv := modelScopeServer(t, modelID, files)
	c, err := NewClient(SourceModelScope, WithEndpoint(srv.URL))
	require.NoError(t, err)

	dir := t.TempDir()
	var (
		mu       sync.Mutex
		reported []string
	)
	got, err := c.FetchAdditionalFiles(context.Background(), qwen.Qwen3Embedding(), modelID, dir,
		func(name string, downloaded, total int64) {
			if downloaded == total {
				mu.Lock()
				reported = append(reported, name)
				mu.Unlock()
			}
		})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"modules.json", "1_Pooling/config.json"}, got)
	assert.Contains(t, reported, "modules.json")

	data, err := os.ReadFile(filepath.Join(dir, "1_Pooling", "config.json"))
	require.NoError(t, err)
	assert.Equal(t, files["1_Pooling/config.json"].content, string(data))
	assert.NoFileExists(t, filepath.Join(dir, "config.json"))
	assert.NoFileExists(t, filepath.Join(dir, lockFileName))

	none, err := c.FetchAdditionalFiles(context.Background(), qwen.Qwen3(), modelID, dir, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFetchAdditionalFilesStaysInDir(t *testing.T) {
	const modelID = "Qwen/Qwen3-Embedding-0.6B"
	srv := modelScopeServer(t, modelID, map[string]repoFile{
		"modules.json":                {content: `[]`},
		"1_Pooling/../../escaped.txt": {content: "escaped"},
	})
	c, err := NewClient(SourceModelScope, WithEndpoint(srv.URL))
	require.NoError(t, err)

	root := t.TempDir()
	dir := filepath.Join(root, "ckpt")
	got, err := c.FetchAdditionalFiles(context.Background(), qwen.Qwen3Embedding(), modelID, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"modules.json"}, got)
	assert.NoFileExists(t, filepath.Join(root, "escaped.txt"))

	err = c.DownloadFiles(context.Background(), modelID, dir, []FileInfo{{Name: "1_Pooling/../../escaped.txt"}}, nil)
	assert.ErrorContains(t, err, "unsafe file name")
	err = c.DownloadFiles(context.Background(), modelID, dir, []FileInfo{{Name: lockFileName}}, nil)
	assert.ErrorContains(t, err, "unsafe file name")
	assert.NoFileExists(t, filepath.Join(root, "escaped.txt"))
}

func TestDownloadResumes(t *testing.T) {
	const modelID = "Qwen/Qwen-VL-Chat"
	content := strings.Repeat("0123456789", 100)
	srv := modelScopeServer(t, modelID, map[string]repoFile{"SimSun.ttf": {content: content, sha: digest(content)}})
	c, err := NewClient(SourceModelScope, WithEndpoint(srv.URL))
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SimSun.ttf.tmp"), []byte(content[:400]), 0o644))

	file := FileInfo{Name: "SimSun.ttf", Size: int64(len(content)), Sha256: digest(content)}
	require.NoError(t, c.DownloadFiles(context.Background(), modelID, dir, []FileInfo{file}, nil))

	data, err := os.ReadFile(filepath.Join(dir, "SimSun.ttf"))
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	assert.NoFileExists(t, filepath.Join(dir, "SimSun.ttf.tmp"))
}

func TestDownloadIntegrityMismatch(t *testing.T) {
	const modelID = "Qwen/Qwen-Audio"
	srv := modelScopeServer(t, modelID, map[string]repoFile{"mel_filters.npz": {content: "filters"}})
	c, err := NewClient(SourceModelScope, WithEndpoint(srv.URL))
	require.NoError(t, err)

	dir := t.TempDir()
	file := FileInfo{Name: "mel_filters.npz", Size: 7, Sha256: digest("other")}
	err = c.DownloadFiles(context.Background(), modelID, dir, []FileInfo{file}, nil)
	assert.ErrorContains(t, err, "integrity check failed")
	assert.NoFileExists(t, filepath.Join(dir, "mel_filters.npz"))
}

func TestDownloadLocked(t *testing.T) {
	c, err := NewClient(SourceModelScope, WithEndpoint("http://127.0.0.1:0"))
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, lockFileName), []byte("pid=1"), 0o644))
	err = c.DownloadFiles(context.Background(), "Qwen/Qwen-VL", dir, nil, nil)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestHuggingFace(t *testing.T) {
	const modelID = "Qwen/Qwen2.5-Omni-3B"
	content := []byte("speaker dictionary")

	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/"+modelID+"/tree/main", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hf_token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"type": "directory", "path": "assets"},
			{"type": "file", "path": "config.json", "size": 2},
			{"type": "file", "path": "spk_dict.pt", "size": 133,
				"lfs": map[string]any{"oid": digest(string(content)), "size": len(content)}},
		})
	})
	mux.HandleFunc("/"+modelID+"/resolve/main/spk_dict.pt", func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(content))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewClient(SourceHuggingFace, WithEndpoint(srv.URL), WithToken("hf_token"))
	require.NoError(t, err)

	files, err := c.ListFiles(context.Background(), modelID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, FileInfo{Name: "spk_dict.pt", Size: int64(len(content)), Sha256: digest(string(content))}, files[1])

	dir := t.TempDir()
	got, err := c.FetchAdditionalFiles(context.Background(), qwen.Qwen2_5Omni(), modelID, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"spk_dict.pt"}, got)
	assert.FileExists(t, filepath.Join(dir, "spk_dict.pt"))
}

func TestListFilesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such repo", http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(SourceModelScope, WithEndpoint(srv.URL))
	require.NoError(t, err)
	_, err = c.ListFiles(context.Background(), "org/missing")
	assert.ErrorContains(t, err, "status 404")
}

func TestHubID(t *testing.T) {
	m := models.Model{ID: "TongyiFinance/Tongyi-Finance-14B-Chat", HFID: "jxy/Tongyi-Finance-14B-Chat"}
	assert.Equal(t, "jxy/Tongyi-Finance-14B-Chat", HubID(m, SourceHuggingFace))
	assert.Equal(t, m.ID, HubID(m, SourceModelScope))
	assert.Equal(t, "iic/ModelScope-Agent-7B", HubID(models.Model{ID: "iic/ModelScope-Agent-7B"}, SourceHuggingFace))
}
