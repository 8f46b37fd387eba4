package hub

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/tsingmao/xwm/internal/logger"
	"github.com/tsingmao/xwm/internal/models"
)

// SelectFiles returns the files matching names, in listing order. A name
// matches a file with that exact path or, for a directory such as
// "1_Pooling", every file below it. Names matching nothing are returned
// as missing. Listed paths that are not clean relative paths are dropped.
func SelectFiles(files []FileInfo, names []string) (selected []FileInfo, missing []string) {
	matched := make(map[string]bool, len(names))
	for _, f := range files {
		if !isLocalName(f.Name) {
			logger.Warn("Ignoring listed file with unsafe path %q", f.Name)
			continue
		}
		for _, n := range names {
			n = strings.Trim(path.Clean(n), "/")
			if f.Name == n || strings.HasPrefix(f.Name, n+"/") {
				selected = append(selected, f)
				matched[n] = true
				break
			}
		}
	}
	for _, n := range names {
		if !matched[strings.Trim(path.Clean(n), "/")] {
			missing = append(missing, n)
		}
	}
	return selected, missing
}

// isLocalName reports whether a slash-separated repository path is clean
// and stays below the directory it is joined to.
func isLocalName(name string) bool {
	return path.Clean(name) == name && filepath.IsLocal(filepath.FromSlash(name))
}

// FetchAdditionalFiles downloads the auxiliary files of a family
// (ModelMeta.AdditionalSavedFiles) from the repository of modelID into dir.
//
// Entries the repository does not contain are logged and skipped; not every
// checkpoint of a family ships all of them.
//
// Returns:
//   - Names of the files fetched or already present
//   - Error if listing or downloading fails
func (c *Client) FetchAdditionalFiles(ctx context.Context, meta *models.ModelMeta, modelID, dir string, progress ProgressFunc) ([]string, error) {
	if len(meta.AdditionalSavedFiles) == 0 {
		return nil, nil
	}

	files, err := c.ListFiles(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files of %s: %w", modelID, err)
	}
	selected, missing := SelectFiles(files, meta.AdditionalSavedFiles)
	for _, m := range missing {
		logger.Warn("%s does not contain %s, skipping", modelID, m)
	}
	if len(selected) == 0 {
		return nil, nil
	}

	if err := c.DownloadFiles(ctx, modelID, dir, selected, progress); err != nil {
		return nil, err
	}

	names := make([]string, len(selected))
	for i, f := range selected {
		names[i] = f.Name
	}
	return names, nil
}

// HubID returns the id of m on source: the HuggingFace alias when the
// source is HuggingFace and one exists, the ModelScope id otherwise.
func HubID(m models.Model, source string) string {
	if source == SourceHuggingFace && m.HFID != "" {
		return m.HFID
	}
	return m.ID
}
