// Package hub fetches files of model repositories from ModelScope or
// HuggingFace.
//
// It is used to complete exported or partially downloaded checkpoints with
// the auxiliary files a family needs at load time (mel filters, fonts,
// speaker dictionaries, sentence-transformers pooling config), but can fetch
// any file of a repository.
//
// Key features:
//   - Repository listing on both hubs
//   - Resumable downloads through a .tmp file
//   - Parallel file downloads
//   - SHA256 validation when the hub publishes a digest
//   - A lock file against concurrent downloads into the same directory
//
// Example usage:
//
//	client, err := hub.NewClient(hub.SourceModelScope)
//	files, err := client.FetchAdditionalFiles(ctx, meta, "Qwen/Qwen-VL-Chat", dir, nil)
package hub

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tsingmao/xwm/internal/config"
)

// Hub sources.
const (
	SourceModelScope  = config.HubModelScope
	SourceHuggingFace = config.HubHuggingFace
)

const (
	// DefaultModelScopeEndpoint is the default ModelScope API endpoint
	DefaultModelScopeEndpoint = "https://www.modelscope.cn"

	// DefaultHuggingFaceEndpoint is the default HuggingFace endpoint
	DefaultHuggingFaceEndpoint = "https://huggingface.co"

	// DefaultUserAgent is the user agent string for HTTP requests
	DefaultUserAgent = "xwm/1.0.0 (Go)"

	// DefaultRevision is the branch files are listed and fetched from
	DefaultRevision = "master"

	// ChunkSize is the read buffer for file downloads (8MB)
	ChunkSize = 8 * 1024 * 1024

	// MaxParallelDownloads - maximum number of concurrent file downloads
	MaxParallelDownloads = 4
)

// Client lists and downloads repository files.
type Client struct {
	source   string
	endpoint string
	revision string
	parallel int
	http     *resty.Client
}

// FileInfo represents a single file in a model repository.
type FileInfo struct {
	Name   string `json:"name"`             // File path relative to the repository root
	Size   int64  `json:"size"`             // File size in bytes
	Sha256 string `json:"sha256,omitempty"` // Empty when the hub publishes no digest
}

// ProgressFunc is called periodically during download to report progress.
// Parameters: filename, bytesDownloaded, totalBytes
type ProgressFunc func(filename string, downloaded, total int64)

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the hub endpoint, e.g. a mirror.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = strings.TrimRight(endpoint, "/")
		}
	}
}

// WithToken authenticates requests with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		if token != "" {
			c.http.SetAuthToken(token)
		}
	}
}

// WithRevision selects the branch or tag to read.
func WithRevision(rev string) Option {
	return func(c *Client) {
		if rev != "" {
			c.revision = rev
		}
	}
}

// WithParallel bounds the number of concurrent file downloads.
func WithParallel(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.parallel = n
		}
	}
}

// NewClient creates a client for source ("modelscope" or "huggingface").
func NewClient(source string, opts ...Option) (*Client, error) {
	c := &Client{
		source:   source,
		revision: DefaultRevision,
		parallel: MaxParallelDownloads,
		http: resty.New().
			SetHeader("User-Agent", DefaultUserAgent).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
	}
	switch source {
	case SourceModelScope:
		c.endpoint = DefaultModelScopeEndpoint
	case SourceHuggingFace:
		c.endpoint = DefaultHuggingFaceEndpoint
		c.revision = "main"
	default:
		return nil, fmt.Errorf("unknown hub source %q", source)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewClientFromConfig creates a client from the hub section of the
// configuration. An empty source falls back to ModelScope.
func NewClientFromConfig(cfg config.HubConfig) (*Client, error) {
	source := cfg.Source
	if source == "" {
		source = SourceModelScope
	}
	return NewClient(source, WithEndpoint(cfg.Endpoint), WithToken(cfg.Token))
}

// Source returns the hub this client talks to.
func (c *Client) Source() string { return c.source }

// ListFiles returns the files of a repository, directories excluded.
func (c *Client) ListFiles(ctx context.Context, modelID string) ([]FileInfo, error) {
	if c.source == SourceHuggingFace {
		return c.listHuggingFace(ctx, modelID)
	}
	return c.listModelScope(ctx, modelID)
}

func (c *Client) listModelScope(ctx context.Context, modelID string) ([]FileInfo, error) {
	// ModelScope API returns {Data: {Files: [...]}}
	var result struct {
		Data struct {
			Files []struct {
				Name   string `json:"Name"`
				Path   string `json:"Path"`
				Size   int64  `json:"Size"`
				Sha256 string `json:"Sha256"`
				Type   string `json:"Type"`
			} `json:"Files"`
		} `json:"Data"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"Revision": c.revision, "Recursive": "True"}).
		SetResult(&result).
		Get(fmt.Sprintf("%s/api/v1/models/%s/repo/files", c.endpoint, modelID))
	if err != nil {
		return nil, fmt.Errorf("modelscope file listing failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("modelscope API returned status %d: %s", resp.StatusCode(), resp.String())
	}

	files := make([]FileInfo, 0, len(result.Data.Files))
	for _, f := range result.Data.Files {
		if f.Type == "tree" {
			continue
		}
		files = append(files, FileInfo{Name: f.Path, Size: f.Size, Sha256: f.Sha256})
	}
	return files, nil
}

func (c *Client) listHuggingFace(ctx context.Context, modelID string) ([]FileInfo, error) {
	var entries []struct {
		Type string `json:"type"`
		Path string `json:"path"`
		Size int64  `json:"size"`
		LFS  *struct {
			Oid  string `json:"oid"`
			Size int64  `json:"size"`
		} `json:"lfs,omitempty"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("recursive", "true").
		SetResult(&entries).
		Get(fmt.Sprintf("%s/api/models/%s/tree/%s", c.endpoint, modelID, url.PathEscape(c.revision)))
	if err != nil {
		return nil, fmt.Errorf("huggingface file listing failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("huggingface API returned status %d: %s", resp.StatusCode(), resp.String())
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Type != "file" {
			continue
		}
		f := FileInfo{Name: e.Path, Size: e.Size}
		// Only LFS objects carry a sha256; plain git blobs are sha1.
		if e.LFS != nil {
			f.Sha256 = e.LFS.Oid
			f.Size = e.LFS.Size
		}
		files = append(files, f)
	}
	return files, nil
}

// fileRequest builds the download request of one file.
func (c *Client) fileRequest(ctx context.Context, modelID, name string) (*resty.Request, string) {
	req := c.http.R().SetContext(ctx).SetDoNotParseResponse(true)
	if c.source == SourceHuggingFace {
		segments := strings.Split(name, "/")
		for i, s := range segments {
			segments[i] = url.PathEscape(s)
		}
		return req, fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint, modelID, url.PathEscape(c.revision), strings.Join(segments, "/"))
	}
	req.SetQueryParams(map[string]string{"Revision": c.revision, "FilePath": name})
	return req, fmt.Sprintf("%s/api/v1/models/%s/repo", c.endpoint, modelID)
}
