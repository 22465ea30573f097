// Package weights resolves model and overlay references to local files.
//
// Local paths and registry identifiers pass through untouched. Remote
// references (http:// or https://) are downloaded once into a
// content-addressed directory and published there atomically: the bytes are
// streamed into a temporary file next to the final location, the size is
// checked against Content-Length, and only then is the file renamed into
// place. A visible file is therefore always complete.
package weights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// ChunkSize bounds a single read from the response body.
	ChunkSize = 32 << 20
	// Extension is appended to every published file.
	Extension = ".safetensors"
	// DefaultUserAgent is sent when Options.UserAgent is empty. Some model
	// hosts refuse requests without a browser-like agent.
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.8; rv:21.0) Gecko/20100101 Firefox/21.0"

	progressEvery = 5 * time.Second
)

// Options configures a Resolver.
type Options struct {
	Client    *http.Client
	UserAgent string
	Logger    zerolog.Logger
	// ChunkSize overrides the read size; tests use small values.
	ChunkSize int
}

// Resolver maps references to local files under dir.
type Resolver struct {
	dir       string
	client    *http.Client
	userAgent string
	chunk     int
	log       zerolog.Logger

	group     singleflight.Group
	transfers atomic.Int64
}

// New returns a resolver that publishes downloads into dir. The directory is
// created lazily on the first download.
func New(dir string, opts Options) *Resolver {
	r := &Resolver{
		dir:       dir,
		client:    opts.Client,
		userAgent: opts.UserAgent,
		chunk:     opts.ChunkSize,
		log:       opts.Logger,
	}
	if r.client == nil {
		r.client = http.DefaultClient
	}
	if r.userAgent == "" {
		r.userAgent = DefaultUserAgent
	}
	if r.chunk <= 0 {
		r.chunk = ChunkSize
	}
	return r
}

// Dir is the publication directory.
func (r *Resolver) Dir() string { return r.dir }

// Transfers counts completed downloads since construction.
func (r *Resolver) Transfers() int64 { return r.transfers.Load() }

// IsRemote reports whether ref must be downloaded.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://")
}

// PathFor returns where a remote reference is published. The name keeps the
// last path segment for readability and appends a hash of the full
// reference so distinct URLs never collide.
func (r *Resolver) PathFor(ref string) string {
	seg := ref
	if u, err := url.Parse(ref); err == nil {
		seg = u.Path
	}
	base := strings.ReplaceAll(strings.Trim(path.Base(seg), "."), ".", "_")
	if base == "" || base == "/" {
		base = "weights"
	}
	sum := strconv.FormatUint(xxhash.Sum64String(ref), 16)
	return filepath.Join(r.dir, base+"-"+sum+Extension)
}

// Resolve returns a local path for ref, downloading it first when remote.
// Concurrent calls for the same reference share a single transfer and a
// published file is never fetched again.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	if !IsRemote(ref) {
		return ref, nil
	}
	if strings.HasSuffix(ref, ".ckpt") {
		return "", ErrIncompatibleFormat(ref)
	}
	dst := r.PathFor(ref)
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	ch := r.group.DoChan(dst, func() (any, error) {
		// Another caller may have published while we queued on the group.
		if _, err := os.Stat(dst); err == nil {
			return dst, nil
		}
		// The transfer outlives any single caller; cancellation of one
		// waiter must not abort a download others are waiting for.
		return dst, r.download(context.WithoutCancel(ctx), ref, dst)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Resolver) download(ctx context.Context, ref, dst string) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", r.dir, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return &TransferError{URL: ref, Err: err}
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return &TransferError{URL: ref, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransferError{URL: ref, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	tmp, err := os.CreateTemp(r.dir, filepath.Base(dst)+"-partial-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	published := false
	defer func() {
		if !published {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	total := resp.ContentLength
	log := r.log.With().Str("url", ref).Logger()
	log.Info().Str("event", "download_start").Str("size", sizeOrUnknown(total)).Msg("downloading weights")

	n, err := r.copyChunks(tmp, resp.Body, total, log)
	if err != nil {
		return &TransferError{URL: ref, Err: err}
	}
	if total > 0 && n != total {
		return &TransferError{URL: ref, Err: fmt.Errorf("downloaded %d bytes, expected %d", n, total)}
	}
	if err := tmp.Close(); err != nil {
		return &TransferError{URL: ref, Err: err}
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("publish %s: %w", dst, err)
	}
	published = true
	r.transfers.Add(1)
	log.Info().Str("event", "download_done").Str("size", humanize.IBytes(uint64(n))).Str("path", dst).Msg("weights published")
	return nil
}

func (r *Resolver) copyChunks(w io.Writer, body io.Reader, total int64, log zerolog.Logger) (int64, error) {
	buf := make([]byte, r.chunk)
	var n int64
	last := time.Now()
	for {
		k, rerr := body.Read(buf)
		if k > 0 {
			if _, err := w.Write(buf[:k]); err != nil {
				return n, err
			}
			n += int64(k)
			if time.Since(last) >= progressEvery {
				last = time.Now()
				ev := log.Debug().Str("event", "download_progress").Str("done", humanize.IBytes(uint64(n)))
				if total > 0 {
					ev = ev.Float64("pct", float64(n)*100/float64(total))
				}
				ev.Msg("downloading weights")
			}
		}
		// Only a clean EOF ends the stream; a dropped connection surfaces
		// as io.ErrUnexpectedEOF and fails the transfer.
		if errors.Is(rerr, io.EOF) {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}

func sizeOrUnknown(n int64) string {
	if n <= 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(n))
}
