package downloader

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yolo-export/internal/types"
)

func TestDownload_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		w.Write([]byte("uv-archive-bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "tools", "uv.tar.gz")
	require.NoError(t, New().Download(context.Background(), srv.URL+"/uv.tar.gz", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "uv-archive-bytes", string(data))
}

func TestDownload_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := New()
	d.SetRetryPolicy(3, time.Millisecond)

	require.NoError(t, d.Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "f")))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDownload_NotFoundIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := New()
	d.SetRetryPolicy(3, time.Millisecond)
	dest := filepath.Join(t.TempDir(), "f")

	err := d.Download(context.Background(), srv.URL, dest)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrDownload, appErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.NoFileExists(t, dest)
}

func TestDownload_GivesUpAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := New()
	d.SetRetryPolicy(2, time.Millisecond)

	err := d.Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "f"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempted 2 times")
}

func TestDownload_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New().Download(ctx, srv.URL, filepath.Join(t.TempDir(), "f"))
	assert.Error(t, err)
}

func TestHandleHTTPError(t *testing.T) {
	tests := []struct {
		status int
		code   types.ErrorCode
	}{
		{http.StatusNotFound, types.ErrDownload},
		{http.StatusForbidden, types.ErrDownload},
		{http.StatusTooManyRequests, types.ErrRateLimit},
		{http.StatusInternalServerError, types.ErrNetwork},
		{http.StatusGatewayTimeout, types.ErrNetwork},
		{http.StatusTeapot, types.ErrDownload},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := handleHTTPError(tt.status, "https://example.invalid/uv")
			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(types.NewAppError(types.ErrNetwork, "x", nil)))
	assert.True(t, isRetryableError(types.NewAppError(types.ErrRateLimit, "x", nil)))
	assert.False(t, isRetryableError(types.NewAppError(types.ErrDownload, "x", nil)))
	assert.True(t, isRetryableError(errors.New("connection reset")))
}

func writeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0755, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestExtractBinary_TarGz(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "uv.tar.gz")
	writeTarGz(t, archive, map[string]string{
		"uv-x86_64-unknown-linux-gnu/uvx": "uvx-binary",
		"uv-x86_64-unknown-linux-gnu/uv":  "uv-binary",
	})

	dest := filepath.Join(dir, ".tools", "uv")
	require.NoError(t, ExtractBinary(archive, "uv", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "uv-binary", string(data))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(dest)
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&0100, "extracted binary should be executable")
	}
}

func TestExtractBinary_Zip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "uv.zip")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("uv.exe")
	require.NoError(t, err)
	w.Write([]byte("windows-uv"))
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0644))

	dest := filepath.Join(dir, "uv.exe")
	require.NoError(t, ExtractBinary(archive, "uv.exe", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "windows-uv", string(data))
}

func TestExtractBinary_Missing(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "uv.tar.gz")
	writeTarGz(t, archive, map[string]string{"README.md": "docs"})

	err := ExtractBinary(archive, "uv", filepath.Join(dir, "uv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found in archive")
}

func TestExtractBinary_UnsupportedFormat(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "uv.bin")
	require.NoError(t, os.WriteFile(archive, []byte("plain text"), 0644))

	err := ExtractBinary(archive, "uv", filepath.Join(t.TempDir(), "uv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported archive format")
}
