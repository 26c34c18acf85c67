package market

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/refi-monitor/internal/model"
)

// FTPOptions configures an FTPSource.
type FTPOptions struct {
	Timeout  time.Duration
	User     string
	Password string
}

// FTPSource retrieves a rate sheet dropped on an FTP server.
type FTPSource struct {
	host   string
	path   string
	format Format
	opts   FTPOptions
}

// NewFTPSource returns a source for an ftp:// URL. Credentials in the URL
// override the options.
func NewFTPSource(rawURL string, opts FTPOptions) (*FTPSource, error) {
	host, path, err := parseFTPURL(rawURL)
	if err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if u, _ := url.Parse(rawURL); u != nil && u.User != nil {
		opts.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	if opts.User == "" {
		opts.User, opts.Password = "anonymous", "anonymous@"
	}
	return &FTPSource{host: host, path: path, format: formatOf(path), opts: opts}, nil
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("empty path in ftp url")
	}

	return host, path, nil
}

// Name implements Source.
func (s *FTPSource) Name() string {
	return "ftp://" + s.host + s.path
}

// Fetch implements Source.
func (s *FTPSource) Fetch(ctx context.Context) (*model.Snapshot, error) {
	zap.L().Debug("ftp: connecting", zap.String("host", s.host), zap.String("path", s.path))

	conn, err := ftp.Dial(s.host, ftp.DialWithTimeout(s.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ftp dial")
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Login(s.opts.User, s.opts.Password); err != nil {
		return nil, eris.Wrap(err, "ftp login")
	}

	resp, err := conn.Retr(s.path)
	if err != nil {
		return nil, eris.Wrap(err, "ftp retrieve")
	}
	defer resp.Close() //nolint:errcheck

	return Parse(ctx, resp, s.format)
}
