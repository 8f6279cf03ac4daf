package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	body string
	got  []string
}

func (s *stubFetcher) Download(_ context.Context, url string) (io.ReadCloser, error) {
	s.got = append(s.got, url)
	return io.NopCloser(strings.NewReader(s.body)), nil
}

func TestScheme(t *testing.T) {
	tests := map[string]string{
		"https://data.gouv.fr/x.csv": "https",
		"HTTP://example.com/a":       "http",
		"ftp://ftp.example.com/a":    "ftp",
		"file:///tmp/a.csv":          "file",
		"/tmp/shops.csv":             "",
		"shops.xlsx":                 "",
		`C:\data\shops.csv`:          "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Scheme(in), in)
	}
}

func TestRouter_Dispatch(t *testing.T) {
	h := &stubFetcher{body: "http"}
	f := &stubFetcher{body: "ftp"}
	r := NewRouter(h, f)

	body, err := r.Download(context.Background(), "https://example.com/a.csv")
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	assert.Equal(t, "http", string(data))

	body, err = r.Download(context.Background(), "ftp://example.com/a.csv")
	require.NoError(t, err)
	data, _ = io.ReadAll(body)
	assert.Equal(t, "ftp", string(data))

	assert.Equal(t, []string{"https://example.com/a.csv"}, h.got)
	assert.Equal(t, []string{"ftp://example.com/a.csv"}, f.got)
}

func TestRouter_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shops.csv")
	require.NoError(t, os.WriteFile(path, []byte("nom;ville\n"), 0o644))

	r := NewRouter(nil, nil)
	for _, loc := range []string{path, "file://" + path} {
		body, err := r.Download(context.Background(), loc)
		require.NoError(t, err)
		data, _ := io.ReadAll(body)
		_ = body.Close()
		assert.Equal(t, "nom;ville\n", string(data))
	}
}

func TestRouter_Rejects(t *testing.T) {
	r := NewRouter(nil, nil)

	_, err := r.Download(context.Background(), "https://example.com/a.csv")
	assert.ErrorContains(t, err, "no http fetcher")

	_, err = r.Download(context.Background(), "s3://bucket/a.csv")
	assert.ErrorContains(t, err, "unsupported scheme")

	_, err = r.Download(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestDownloadToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	n, err := DownloadToFile(context.Background(), &stubFetcher{body: "file content here"}, "https://x/y", path)
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file content here", string(data))
}
