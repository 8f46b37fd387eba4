package hub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tsingmao/xwm/internal/logger"
)

// lockFileName guards a directory against concurrent downloads.
const lockFileName = ".download.lock"

// ErrLocked is returned when another download holds the directory lock.
var ErrLocked = errors.New("download already in progress")

// DownloadFiles downloads files of modelID into dir.
//
// Files already present with the expected size are skipped. Interrupted
// downloads resume from their .tmp file. Up to the client's parallelism
// limit, files are fetched concurrently; the first failure cancels the rest.
//
// Parameters:
//   - ctx: Context for cancellation
//   - modelID: Repository identifier on the client's hub
//   - dir: Destination directory (created if missing)
//   - files: Files to fetch, usually a subset of ListFiles
//   - progress: Optional callback for progress updates
//
// Returns:
//   - Error if a file name is not a clean path below dir
//   - Error wrapping ErrLocked if the directory is locked, or the first
//     download or integrity failure
func (c *Client) DownloadFiles(ctx context.Context, modelID, dir string, files []FileInfo, progress ProgressFunc) error {
	for _, file := range files {
		if !isLocalName(file.Name) || file.Name == lockFileName {
			return fmt.Errorf("unsafe file name %q for %s", file.Name, dir)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	lockPath := filepath.Join(dir, lockFileName)
	if err := acquireLock(lockPath); err != nil {
		return err
	}
	defer releaseLock(lockPath)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for _, file := range files {
		g.Go(func() error {
			localPath := filepath.Join(dir, filepath.FromSlash(file.Name))
			if err := c.downloadFile(gctx, modelID, file, localPath, progress); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("failed to download %s: %w", file.Name, err)
			}
			if file.Sha256 == "" {
				return nil
			}
			if err := validateFileIntegrity(localPath, file.Sha256); err != nil {
				return fmt.Errorf("integrity check failed for %s: %w", file.Name, err)
			}
			logger.Debug("Verified %s", file.Name)
			return nil
		})
	}
	return g.Wait()
}

// acquireLock creates a lock file holding the process ID and timestamp.
//
// Returns:
//   - Error wrapping ErrLocked if the lock file already exists
func acquireLock(lockPath string) error {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			data, _ := os.ReadFile(lockPath)
			return fmt.Errorf("%w (lock: %s). If this is stale, remove the lock file manually: %s",
				ErrLocked, string(data), lockPath)
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "pid=%d,time=%s", os.Getpid(), time.Now().Format(time.RFC3339))
	return err
}

// releaseLock removes the lock file. A missing file is ignored.
func releaseLock(lockPath string) {
	os.Remove(lockPath)
}

// validateFileIntegrity verifies the SHA256 hash of a downloaded file.
// A mismatching file is deleted so the next attempt starts over.
func validateFileIntegrity(filePath, expectedSha256 string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file for validation: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	actual := hex.EncodeToString(hash.Sum(nil))
	if actual != expectedSha256 {
		file.Close()
		os.Remove(filePath)
		return fmt.Errorf("expected %s, got %s (file deleted, size: %d bytes)", expectedSha256, actual, size)
	}
	return nil
}

// downloadFile downloads a single file with resume support.
func (c *Client) downloadFile(ctx context.Context, modelID string, file FileInfo, localPath string, progress ProgressFunc) (err error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}

	if stat, err := os.Stat(localPath); err == nil && stat.Size() == file.Size {
		if progress != nil {
			progress(file.Name, file.Size, file.Size)
		}
		return nil
	}
	if progress != nil {
		progress(file.Name, 0, file.Size)
	}

	// Resume an interrupted download; a temp file larger than expected
	// starts over.
	tmpPath := localPath + ".tmp"
	var resumeFrom int64
	if stat, err := os.Stat(tmpPath); err == nil {
		if stat.Size() < file.Size {
			resumeFrom = stat.Size()
		} else {
			os.Remove(tmpPath)
		}
	}

	req, downloadURL := c.fileRequest(ctx, modelID, file.Name)
	if resumeFrom > 0 {
		req.SetHeader("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}
	resp, err := req.Get(downloadURL)
	if err != nil {
		return err
	}
	body := resp.RawBody()
	defer body.Close()

	switch resp.StatusCode() {
	case http.StatusOK:
		// The server ignored the range: rewrite from the start.
		resumeFrom = 0
	case http.StatusPartialContent:
	default:
		msg, _ := io.ReadAll(io.LimitReader(body, 4096))
		return fmt.Errorf("download %s returned status %d: %s", file.Name, resp.StatusCode(), string(msg))
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resumeFrom > 0 {
		flags = os.O_WRONLY | os.O_APPEND
	}
	out, err := os.OpenFile(tmpPath, flags, 0644)
	if err != nil {
		return err
	}
	defer func() {
		out.Close()
		if err != nil && ctx.Err() == nil {
			os.Remove(tmpPath)
		}
	}()

	downloaded := resumeFrom
	buf := make([]byte, min(ChunkSize, max(file.Size, 64*1024)))
	lastReport := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return err
			}
			downloaded += int64(n)
			if progress != nil && time.Since(lastReport) > 500*time.Millisecond {
				progress(file.Name, downloaded, file.Size)
				lastReport = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	if progress != nil {
		progress(file.Name, downloaded, file.Size)
	}
	if downloaded != file.Size {
		return fmt.Errorf("download incomplete: expected %d bytes, got %d", file.Size, downloaded)
	}

	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, localPath)
}
