package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/resilience"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout time.Duration
}

// FTPFetcher downloads files over FTP.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPFetcher{opts: opts}
}

// ftpTarget is a parsed ftp:// URL.
type ftpTarget struct {
	host     string
	path     string
	user     string
	password string
}

// parseFTPURL extracts host (with port), path and credentials from an FTP
// URL. Without userinfo the login is anonymous.
func parseFTPURL(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "fetcher: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("fetcher: expected ftp scheme, got %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		return ftpTarget{}, eris.New("fetcher: empty path in ftp url")
	}

	t := ftpTarget{host: u.Host, path: u.Path, user: "anonymous", password: "anonymous@"}
	if _, _, splitErr := net.SplitHostPort(t.host); splitErr != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if u.User != nil && u.User.Username() != "" {
		t.user = u.User.Username()
		t.password, _ = u.User.Password()
	}
	return t, nil
}

// ftpConnReader wraps an FTP response and connection so that closing the reader
// also closes the FTP response and disconnects from the server.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "fetcher: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "fetcher: quit ftp connection")
	}
	return nil
}

// Download connects to the FTP server, retrieves the file, and returns a reader.
// The caller must close the returned ReadCloser to release the FTP connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	t, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("fetcher: ftp connecting",
		zap.String("component", "importer"),
		zap.String("host", t.host),
		zap.String("path", t.path),
	)

	conn, err := ftp.Dial(t.host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: ftp dial"), 0)
	}

	if err := conn.Login(t.user, t.password); err != nil {
		_ = conn.Quit()
		return nil, resilience.NewQuotaError(eris.Wrap(err, "fetcher: ftp login"), 0)
	}

	resp, err := conn.Retr(t.path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "fetcher: ftp retrieve %s", t.path)
	}

	return &ftpConnReader{resp: resp, conn: conn}, nil
}
