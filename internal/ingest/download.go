package ingest

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DownloadOptions configures a Downloader.
type DownloadOptions struct {
	UserAgent     string
	Timeout       time.Duration
	MaxRetries    int
	RatePerSecond float64
}

// Downloader fetches source files over HTTP(S) or FTP. HTTP requests share
// one rate limiter; 429 and 5xx responses are retried with jittered
// exponential backoff.
type Downloader struct {
	client    *http.Client
	opts      DownloadOptions
	limiter   *rate.Limiter
	baseDelay time.Duration
}

// NewDownloader creates a Downloader, filling zero options with defaults.
func NewDownloader(opts DownloadOptions) *Downloader {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "dv-atlas/1.0"
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 2
	}
	return &Downloader{
		client:    &http.Client{Timeout: opts.Timeout},
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
		baseDelay: time.Second,
	}
}

// Open returns the body behind rawURL. The caller closes it.
func (d *Downloader) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: parse url %q", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		return d.openHTTP(ctx, rawURL)
	case "ftp":
		return d.openFTP(ctx, u)
	default:
		return nil, eris.Errorf("ingest: unsupported scheme %q in %s", u.Scheme, rawURL)
	}
}

// ToFile downloads rawURL to path, creating parent directories. The file
// only appears at path once the transfer completed.
func (d *Downloader) ToFile(ctx context.Context, rawURL, path string) (int64, error) {
	body, err := d.Open(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, eris.Wrap(err, "ingest: create download dir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, eris.Wrap(err, "ingest: create download file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		return n, eris.Wrapf(err, "ingest: download %s", rawURL)
	}
	if err := tmp.Close(); err != nil {
		return n, eris.Wrap(err, "ingest: close download file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, eris.Wrapf(err, "ingest: move download to %s", path)
	}

	zap.L().Info("ingest: downloaded",
		zap.String("url", rawURL),
		zap.String("path", path),
		zap.Int64("bytes", n),
	)
	return n, nil
}

func (d *Downloader) openHTTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create request")
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)

	var lastErr error
	for attempt := range d.opts.MaxRetries {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ingest: rate limiter wait")
		}

		resp, err := d.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			zap.L().Warn("ingest: request failed, retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			d.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http %d from %s", resp.StatusCode, rawURL)
			zap.L().Warn("ingest: server refused, retrying",
				zap.String("url", rawURL),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			d.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, eris.Errorf("ingest: unexpected status %d from %s", resp.StatusCode, rawURL)
		}
		return resp.Body, nil
	}

	return nil, eris.Wrapf(lastErr, "ingest: %s: all retries exhausted", rawURL)
}

func (d *Downloader) backoff(ctx context.Context, attempt int) {
	delay := time.Duration(float64(d.baseDelay) * math.Pow(2, float64(attempt)))
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	if half := int64(delay) / 2; half > 0 {
		delay += time.Duration(rand.Int64N(half))
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ftpReader closes the transfer and the control connection together.
type ftpReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "ingest: close ftp transfer")
	}
	return eris.Wrap(quitErr, "ingest: quit ftp")
}

// openFTP retrieves u.Path, logging in with the URL credentials or
// anonymously.
func (d *Downloader) openFTP(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if u.Path == "" || u.Path == "/" {
		return nil, eris.Errorf("ingest: empty path in %s", u.Redacted())
	}
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "21")
	}

	user, pass := "anonymous", "anonymous@"
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}

	zap.L().Debug("ingest: ftp connect", zap.String("host", host), zap.String("path", u.Path))
	conn, err := ftp.Dial(host, ftp.DialWithTimeout(d.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: ftp dial %s", host)
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "ingest: ftp login")
	}
	resp, err := conn.Retr(u.Path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "ingest: ftp retrieve %s", u.Path)
	}
	return &ftpReader{resp: resp, conn: conn}, nil
}
