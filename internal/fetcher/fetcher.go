// Package fetcher downloads bulk-import files over HTTP or FTP and streams
// their rows as string slices.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads one remote file.
type Fetcher interface {
	// Download fetches url and returns its body. The caller closes it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Router dispatches on the URL scheme. Plain paths and file:// URLs are
// opened from disk.
type Router struct {
	HTTP Fetcher
	FTP  Fetcher
}

// NewRouter returns a Router over the given HTTP and FTP fetchers. Either
// may be nil, in which case URLs with that scheme are rejected.
func NewRouter(httpFetcher, ftpFetcher Fetcher) *Router {
	return &Router{HTTP: httpFetcher, FTP: ftpFetcher}
}

// Download implements Fetcher.
func (r *Router) Download(ctx context.Context, location string) (io.ReadCloser, error) {
	scheme := Scheme(location)
	switch scheme {
	case "http", "https":
		if r.HTTP == nil {
			return nil, eris.Errorf("fetcher: no http fetcher for %s", location)
		}
		return r.HTTP.Download(ctx, location)
	case "ftp":
		if r.FTP == nil {
			return nil, eris.Errorf("fetcher: no ftp fetcher for %s", location)
		}
		return r.FTP.Download(ctx, location)
	case "", "file":
		path := strings.TrimPrefix(location, "file://")
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", path)
		}
		return f, nil
	}
	return nil, eris.Errorf("fetcher: unsupported scheme %q", scheme)
}

// Scheme returns the lowercased URL scheme of location, or "" for a local
// path. Windows drive letters are not treated as schemes.
func Scheme(location string) string {
	u, err := url.Parse(location)
	if err != nil || len(u.Scheme) < 2 {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// DownloadToFile copies the body at location into path and returns the
// number of bytes written.
func DownloadToFile(ctx context.Context, f Fetcher, location, path string) (int64, error) {
	body, err := f.Download(ctx, location)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	out, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	defer out.Close() //nolint:errcheck

	n, err := io.Copy(out, body)
	if err != nil {
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, nil
}
