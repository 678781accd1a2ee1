// Package snapshot implements the Bootstrap and Backup operations named in
// SPEC_FULL.md §3.8: fetching a remote store file to seed a cold start, and
// producing + shipping a consistent online snapshot of the live store.
package snapshot

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bgpkit/broker/internal/store"
	"github.com/bgpkit/broker/pkg/broker"
	"github.com/klauspost/compress/zstd"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// Bootstrap downloads the remote snapshot at sourceURL to destPath, so the
// Updater can start from a warm store instead of recrawling history from
// scratch.
func Bootstrap(ctx context.Context, sourceURL, destPath string, showProgress bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return &broker.NetworkError{URL: sourceURL, Cause: err}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &broker.NetworkError{URL: sourceURL, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &broker.UpstreamError{StatusCode: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return &broker.StoreError{Op: "mkdir bootstrap destination", Cause: err}
	}

	tmp := destPath + ".downloading"
	out, err := os.Create(tmp)
	if err != nil {
		return &broker.StoreError{Op: "create bootstrap file", Cause: err}
	}

	var writer io.Writer = out
	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.DefaultBytes(resp.ContentLength, "bootstrapping store")
		writer = io.MultiWriter(out, bar)
	}

	_, copyErr := io.Copy(writer, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		os.Remove(tmp)
		return &broker.NetworkError{URL: sourceURL, Cause: copyErr}
	}
	if closeErr != nil {
		os.Remove(tmp)
		return &broker.StoreError{Op: "close bootstrap file", Cause: closeErr}
	}

	if err := os.Rename(tmp, destPath); err != nil {
		return &broker.StoreError{Op: "finalize bootstrap file", Cause: err}
	}
	return nil
}

// BackupOptions configures one Backup invocation.
type BackupOptions struct {
	// Target is either a local filesystem path or an s3://bucket/key URL.
	Target string
	// CompressZstd wraps the shipped file in zstd before upload.
	CompressZstd bool
	// HeartbeatURL is GETed on success, best-effort.
	HeartbeatURL string
}

// Backup produces a consistent snapshot of s via its online-backup facility,
// optionally compresses it, and ships it to opts.Target.
func Backup(ctx context.Context, s *store.Store, opts BackupOptions, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	tmpDir, err := os.MkdirTemp("", "broker-backup-*")
	if err != nil {
		return &broker.StoreError{Op: "create backup temp dir", Cause: err}
	}
	defer os.RemoveAll(tmpDir)

	rawPath := filepath.Join(tmpDir, "broker.sqlite3")
	if err := s.BackupTo(ctx, rawPath); err != nil {
		return err
	}

	shipPath := rawPath
	if opts.CompressZstd {
		compressedPath := rawPath + ".zst"
		if err := compressFile(rawPath, compressedPath); err != nil {
			return &broker.StoreError{Op: "compress backup", Cause: err}
		}
		shipPath = compressedPath
	}

	if err := ship(ctx, shipPath, opts.Target); err != nil {
		return err
	}

	if opts.HeartbeatURL != "" {
		PingHeartbeat(ctx, opts.HeartbeatURL, logger)
	}

	logger.Info("backup: snapshot shipped", zap.String("target", opts.Target))
	return nil
}

func compressFile(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	enc, err := zstd.NewWriter(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func ship(ctx context.Context, path, target string) error {
	u, err := url.Parse(target)
	if err == nil && u.Scheme == "s3" {
		return shipToS3(ctx, path, u)
	}
	return shipToLocalPath(path, target)
}

func shipToLocalPath(srcPath, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return &broker.StoreError{Op: "mkdir backup destination", Cause: err}
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return &broker.StoreError{Op: "open backup source", Cause: err}
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return &broker.StoreError{Op: "create backup destination", Cause: err}
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return &broker.StoreError{Op: "copy backup to destination", Cause: err}
	}
	return nil
}

func shipToS3(ctx context.Context, srcPath string, u *url.URL) error {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return &broker.ConfigurationError{Field: "backup.to", Got: u.String(), Valid: []string{"s3://bucket/key"}}
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return &broker.StoreError{Op: "load aws config", Cause: err}
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return &broker.StoreError{Op: "open backup for upload", Cause: err}
	}
	defer f.Close()

	client := s3.NewFromConfig(cfg)
	uploader := manager.NewUploader(client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return &broker.StoreError{Op: "upload backup to s3", Cause: err}
	}
	return nil
}

// PingHeartbeat issues a best-effort GET to heartbeatURL. Failures are
// logged, never returned: a missed heartbeat must not fail the caller's
// otherwise-successful operation.
func PingHeartbeat(ctx context.Context, heartbeatURL string, logger *zap.Logger) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, heartbeatURL, nil)
	if err != nil {
		logger.Warn("backup: building heartbeat request failed", zap.Error(err))
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Warn("backup: heartbeat request failed", zap.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		logger.Warn("backup: heartbeat returned non-success", zap.Int("status", resp.StatusCode))
	}
}
