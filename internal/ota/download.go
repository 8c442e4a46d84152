package ota

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/okian/windfarm/internal/domain/model"
	"github.com/okian/windfarm/pkg/logger"
)

// Default downloader configuration constants.
const (
	defaultDownloadTimeout = 5 * time.Minute
	defaultRetries         = 2
	defaultPackageName     = "model.tar.gz"
)

// Downloader fetches model packages into a local directory laid out as
// <dir>/<model>/<version>/<file>.
type Downloader struct {
	dir    string
	client *resty.Client
	logger logger.Logger
}

// NewDownloader creates a downloader writing below dir.
func NewDownloader(dir string, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		dir: dir,
		client: resty.New().
			SetTimeout(defaultDownloadTimeout).
			SetRetryCount(defaultRetries).
			SetRetryWaitTime(time.Second),
		logger: logger.Get().Named("ota-download"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch downloads or copies the package named by the notice, verifies its
// checksum when one is given and returns the installed path.
func (d *Downloader) Fetch(ctx context.Context, n model.DeploymentNotice) (string, int64, error) {
	u, err := url.Parse(n.PackageURL)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = defaultPackageName
	}
	destDir := filepath.Join(d.dir, safeSegment(n.ModelName), safeSegment(n.Version))
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return "", 0, fmt.Errorf("create package dir: %w", err)
	}
	dest := filepath.Join(destDir, name)
	tmp := dest + ".part"

	switch u.Scheme {
	case "http", "https":
		err = d.download(ctx, n.PackageURL, tmp)
	case "file":
		err = copyFile(u.Path, tmp)
	case "":
		err = copyFile(n.PackageURL, tmp)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", 0, err
	}

	size, sum, err := digest(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return "", 0, err
	}
	if n.Checksum != "" && !strings.EqualFold(n.Checksum, sum) {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("%w: want %s, got %s", ErrChecksumMismatch, n.Checksum, sum)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("install package: %w", err)
	}

	d.logger.Debug(ctx, "package stored", logger.String("path", dest), logger.String("sha256", sum))
	return dest, size, nil
}

func (d *Downloader) download(ctx context.Context, rawURL, dest string) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetOutput(dest).
		Get(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s returned %s", ErrDownloadFailed, rawURL, resp.Status())
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("%w: copy: %w", ErrDownloadFailed, err)
	}
	return out.Close()
}

func digest(p string) (int64, string, error) {
	f, err := os.Open(p)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("hash package: %w", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// safeSegment keeps a notice field from escaping the package directory.
func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}
