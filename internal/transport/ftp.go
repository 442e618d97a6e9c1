package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/Fenveireth/lightspark/internal/urlinfo"
)

// FTPConfig tunes the FTP fetcher.
type FTPConfig struct {
	Timeout  time.Duration
	User     string
	Password string
}

// DefaultFTPConfig returns anonymous access with a 30s dial timeout.
func DefaultFTPConfig() FTPConfig {
	return FTPConfig{
		Timeout:  30 * time.Second,
		User:     "anonymous",
		Password: "anonymous",
	}
}

// FTP retrieves policy files from FTP servers. One connection per
// fetch; the returned body owns the connection and quits it on Close.
type FTP struct {
	cfg FTPConfig
}

// NewFTP builds the fetcher from cfg; zero fields take defaults.
func NewFTP(cfg FTPConfig) *FTP {
	def := DefaultFTPConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.User == "" {
		cfg.User = def.User
		if cfg.Password == "" {
			cfg.Password = def.Password
		}
	}
	return &FTP{cfg: cfg}
}

// Schemes implements Fetcher.
func (f *FTP) Schemes() []string {
	return []string{urlinfo.SchemeFTP}
}

// Open retrieves the target path. FTP has no redirects and reports no
// content type; meta-policy gating for FTP runs on filename instead.
func (f *FTP) Open(ctx context.Context, target urlinfo.Info) (*Response, error) {
	addr := fmt.Sprintf("%s:%d", target.Host(), target.EffectivePort())

	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(f.cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s: %w", addr, err)
	}
	if err := conn.Login(f.cfg.User, f.cfg.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("transport: ftp login on %s: %w", addr, err)
	}

	resp, err := conn.Retr(target.Path())
	if err != nil {
		conn.Quit()
		return nil, fmt.Errorf("transport: retrieving %s: %w", target.String(), err)
	}

	return &Response{
		EffectiveURL: target,
		Body:         &ftpBody{resp: resp, conn: conn},
	}, nil
}

// ftpBody ties the data connection's lifetime to the control
// connection's.
type ftpBody struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (b *ftpBody) Read(p []byte) (int, error) { return b.resp.Read(p) }

func (b *ftpBody) Close() error {
	rerr := b.resp.Close()
	qerr := b.conn.Quit()
	if rerr != nil {
		return rerr
	}
	return qerr
}
