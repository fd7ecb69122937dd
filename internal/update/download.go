package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"gameupdater/internal/debug"
	appErrors "gameupdater/internal/errors"
)

// chunkSize is the read buffer used while streaming an artifact.
const chunkSize = 32 * 1024

// DownloadProgress reports how much of an artifact has arrived.
// TotalBytes is zero when the server did not announce a length.
type DownloadProgress struct {
	BytesRead  uint64
	TotalBytes uint64
}

// Percent returns the completed fraction clamped to [0,1]. The second result is
// false when the total is unknown, in which case the fraction is meaningless.
func (p DownloadProgress) Percent() (float64, bool) {
	if p.TotalBytes == 0 {
		return 0, false
	}
	f := float64(p.BytesRead) / float64(p.TotalBytes)
	switch {
	case f < 0:
		f = 0
	case f > 1:
		f = 1
	}
	return f, true
}

// Downloader streams remote artifacts to disk.
type Downloader struct {
	userAgent  string
	httpClient *http.Client
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithDownloadHTTPClient sets a custom HTTP client for downloads.
func WithDownloadHTTPClient(client *http.Client) DownloaderOption {
	return func(d *Downloader) {
		d.httpClient = client
	}
}

// WithDownloadTimeout bounds the whole transfer. Zero means no limit.
func WithDownloadTimeout(timeout time.Duration) DownloaderOption {
	return func(d *Downloader) {
		d.httpClient.Timeout = timeout
	}
}

// NewDownloader creates a downloader. Downloads have no timeout by default.
func NewDownloader(opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: 0, // No timeout for downloads
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches url into dest. Bytes go to a temporary sibling of dest that
// is renamed into place only once the whole body has arrived; on failure the
// temporary file is removed and dest is left untouched. onProgress may be nil.
func (d *Downloader) Download(ctx context.Context, url, dest string, onProgress func(DownloadProgress)) error {
	if onProgress == nil {
		onProgress = func(DownloadProgress) {}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return appErrors.New(appErrors.CodeDownload, fmt.Sprintf("create request: %v", err), err)
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", d.userAgent)

	log := debug.WithFields(map[string]any{"url": url, "dest": dest})
	log.Info("download started")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return downloadError(ctx, "download request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return appErrors.New(appErrors.CodeDownload, fmt.Sprintf("download failed: status %d", resp.StatusCode), nil)
	}

	var total uint64
	if resp.ContentLength > 0 {
		total = uint64(resp.ContentLength)
	}

	dir := filepath.Dir(dest)
	//nolint:gosec // G301: download directory needs standard permissions
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return appErrors.New(appErrors.CodeDownload, fmt.Sprintf("create download directory: %v", err), err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".part-*")
	if err != nil {
		return appErrors.New(appErrors.CodeDownload, fmt.Sprintf("create temp file: %v", err), err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tmp.Close()
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.WithError(rmErr).Warn("remove partial download")
		}
	}()

	progress := DownloadProgress{TotalBytes: total}
	onProgress(progress)

	buf := make([]byte, chunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := tmp.Write(buf[:n]); err != nil {
				return appErrors.New(appErrors.CodeDownload, fmt.Sprintf("write download: %v", err), err)
			}
			progress.BytesRead += uint64(n)
			onProgress(progress)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return downloadError(ctx, "download interrupted", readErr)
		}
	}

	if total > 0 && progress.BytesRead != total {
		return appErrors.New(appErrors.CodeDownload,
			fmt.Sprintf("download incomplete: received %d of %d bytes", progress.BytesRead, total), io.ErrUnexpectedEOF)
	}
	if err := tmp.Sync(); err != nil {
		return appErrors.New(appErrors.CodeDownload, fmt.Sprintf("sync download: %v", err), err)
	}
	if err := tmp.Close(); err != nil {
		return appErrors.New(appErrors.CodeDownload, fmt.Sprintf("close download: %v", err), err)
	}
	if err := ctx.Err(); err != nil {
		return downloadError(ctx, "download cancelled", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return appErrors.New(appErrors.CodeDownload, fmt.Sprintf("move download into place: %v", err), err)
	}
	committed = true

	log.WithField("bytes", progress.BytesRead).Info("download complete")
	return nil
}

func downloadError(ctx context.Context, msg string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return appErrors.New(appErrors.CodeDownload, fmt.Sprintf("%s: %v", msg, ctxErr), errors.Join(err, ctxErr))
	}
	return appErrors.New(appErrors.CodeDownload, fmt.Sprintf("%s: %v", msg, err), err)
}
