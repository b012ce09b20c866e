// Package downloader fetches tool archives over HTTP and unpacks single
// binaries out of them.
package downloader

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"yolo-export/internal/logger"
	"yolo-export/internal/types"
)

const (
	// DefaultTimeout is the default HTTP client timeout for downloads
	DefaultTimeout = 300 * time.Second
	// MaxRetries is the maximum number of attempts for network errors
	MaxRetries = 3
	// BaseRetryDelay is multiplied by the attempt number between retries
	BaseRetryDelay = 2 * time.Second
	// UserAgent is sent with every request
	UserAgent = "yolo-export/1.0"
)

// Downloader downloads files with retry on transient failures.
type Downloader struct {
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// New creates a Downloader with the default timeout and retry policy.
func New() *Downloader {
	return NewWithTimeout(DefaultTimeout)
}

// NewWithTimeout creates a Downloader with a custom client timeout.
func NewWithTimeout(timeout time.Duration) *Downloader {
	return &Downloader{
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return types.NewAppError(types.ErrNetwork, "too many redirects", nil)
				}
				return nil
			},
		},
		maxRetries: MaxRetries,
		retryDelay: BaseRetryDelay,
	}
}

// SetRetryPolicy overrides the attempt count and base delay.
func (d *Downloader) SetRetryPolicy(attempts int, baseDelay time.Duration) {
	if attempts < 1 {
		attempts = 1
	}
	d.maxRetries = attempts
	d.retryDelay = baseDelay
}

// Download fetches url into destPath, retrying network and 5xx errors with
// a linearly growing delay. A partial file is removed on failure.
func (d *Downloader) Download(ctx context.Context, url, destPath string) error {
	var lastErr error

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		logger.Debug("download attempt", logger.Int("attempt", attempt), logger.String("url", url))
		err := d.downloadFile(ctx, url, destPath)
		if err == nil {
			return nil
		}

		lastErr = err
		logger.Warn("download attempt failed", logger.Int("attempt", attempt), logger.Err(err))

		if !isRetryableError(err) || ctx.Err() != nil {
			return err
		}

		if attempt < d.maxRetries {
			delay := d.retryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return types.NewAppErrorWithDetails(
		types.ErrNetwork,
		"download failed after multiple retries",
		fmt.Sprintf("attempted %d times", d.maxRetries),
		lastErr,
	)
}

func (d *Downloader) downloadFile(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.NewAppError(types.ErrInternal, "failed to create HTTP request", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return types.NewAppError(types.ErrNetwork, "network request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return handleHTTPError(resp.StatusCode, url)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return types.NewAppError(types.ErrInternal, "failed to create destination directory", err)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return types.NewAppError(types.ErrInternal, "failed to create destination file", err)
	}

	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(destPath)
		return types.NewAppError(types.ErrNetwork, "failed to save downloaded content", err)
	}
	return file.Close()
}

// handleHTTPError maps a non-200 status to an AppError.
func handleHTTPError(statusCode int, url string) error {
	switch statusCode {
	case http.StatusNotFound:
		return types.NewAppErrorWithDetails(types.ErrDownload, "resource not found",
			fmt.Sprintf("URL: %s returned 404", url), nil)
	case http.StatusForbidden:
		return types.NewAppErrorWithDetails(types.ErrDownload, "access forbidden",
			fmt.Sprintf("URL: %s returned 403", url), nil)
	case http.StatusTooManyRequests:
		return types.NewAppErrorWithDetails(types.ErrRateLimit, "rate limit exceeded",
			"too many requests, please try again later", nil)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return types.NewAppErrorWithDetails(types.ErrNetwork, "server error",
			fmt.Sprintf("URL: %s returned %d", url, statusCode), nil)
	default:
		return types.NewAppErrorWithDetails(types.ErrDownload, "download failed",
			fmt.Sprintf("URL: %s returned status %d", url, statusCode), nil)
	}
}

// isRetryableError reports whether err is worth another attempt.
// Network, 5xx and rate-limit errors are; everything else is not.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if appErr, ok := err.(*types.AppError); ok {
		switch appErr.Code {
		case types.ErrNetwork, types.ErrRateLimit:
			return true
		default:
			return false
		}
	}

	return true
}

// ExtractBinary copies the first archive member whose base name equals name
// to destPath with mode 0755. The archive may be a .zip or a .tar.gz; the
// format is detected from the header bytes.
func ExtractBinary(archivePath, name, destPath string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return types.NewAppError(types.ErrExtract, "failed to open archive", err)
	}
	header := make([]byte, 4)
	_, err = io.ReadFull(file, header)
	file.Close()
	if err != nil {
		return types.NewAppError(types.ErrExtract, "failed to read archive header", err)
	}

	switch {
	case header[0] == 0x1f && header[1] == 0x8b:
		return extractFromTarGz(archivePath, name, destPath)
	case header[0] == 0x50 && header[1] == 0x4b && header[2] == 0x03 && header[3] == 0x04:
		return extractFromZip(archivePath, name, destPath)
	default:
		return types.NewAppError(types.ErrExtract, "unsupported archive format", nil)
	}
}

func extractFromTarGz(archivePath, name, destPath string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return types.NewAppError(types.ErrExtract, "failed to open archive", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return types.NewAppError(types.ErrExtract, "failed to create gzip reader", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return types.NewAppError(types.ErrExtract, "failed to read tar entry", err)
		}
		if header.Typeflag != tar.TypeReg || path.Base(header.Name) != name {
			continue
		}
		return writeExecutable(destPath, io.LimitReader(tarReader, header.Size))
	}

	return types.NewAppErrorWithDetails(types.ErrExtract, "file not found in archive", name, nil)
}

func extractFromZip(archivePath, name, destPath string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return types.NewAppError(types.ErrExtract, "failed to open zip file", err)
	}
	defer reader.Close()

	for _, f := range reader.File {
		if f.FileInfo().IsDir() || path.Base(f.Name) != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return types.NewAppError(types.ErrExtract, "failed to open zip entry", err)
		}
		defer rc.Close()
		return writeExecutable(destPath, io.LimitReader(rc, int64(f.UncompressedSize64)))
	}

	return types.NewAppErrorWithDetails(types.ErrExtract, "file not found in archive", name, nil)
}

func writeExecutable(destPath string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return types.NewAppError(types.ErrExtract, "failed to create parent directory", err)
	}
	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return types.NewAppError(types.ErrExtract, "failed to create file", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(destPath)
		return types.NewAppError(types.ErrExtract, "failed to write file content", err)
	}
	return out.Close()
}
