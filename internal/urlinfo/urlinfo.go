// Package urlinfo parses and compares the URLs the security engine reasons
// about: scheme/host/port/path access, IDNA host folding, domain-pattern
// matching and path-directory containment.
package urlinfo

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Schemes understood by the engine. Anything else fails Parse.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFTP   = "ftp"
	SchemeFile  = "file"
)

// ErrInvalidURL wraps every parse rejection.
var ErrInvalidURL = errors.New("urlinfo: invalid url")

// Info is an immutable parsed URL. The zero value is no URL at all; use
// IsZero to detect it.
type Info struct {
	raw    string
	scheme string
	host   string
	port   int
	path   string
}

// Parse validates raw and normalizes its components: schemes and hosts are
// lowercased, international hosts folded to their IDNA ASCII form, empty
// paths become "/".
func Parse(raw string) (Info, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case SchemeHTTP, SchemeHTTPS, SchemeFTP, SchemeFile:
	default:
		return Info{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	host := foldHost(u.Hostname())
	if scheme != SchemeFile && host == "" {
		return Info{}, fmt.Errorf("%w: missing host in %q", ErrInvalidURL, raw)
	}

	port := 0
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 65535 {
			return Info{}, fmt.Errorf("%w: bad port %q", ErrInvalidURL, p)
		}
		port = n
	}

	pth := u.EscapedPath()
	if pth == "" {
		pth = "/"
	}

	return Info{raw: raw, scheme: scheme, host: host, port: port, path: pth}, nil
}

// MustParse panics on bad input. It belongs in tests and static wiring.
func MustParse(raw string) Info {
	i, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return i
}

// String returns the URL as given to Parse, or the canonical rebuild for
// derived values.
func (i Info) String() string { return i.raw }

// Scheme returns the lowercased scheme.
func (i Info) Scheme() string { return i.scheme }

// Host returns the normalized hostname, without port.
func (i Info) Host() string { return i.host }

// Path returns the escaped path, never empty for a parsed URL.
func (i Info) Path() string { return i.path }

// Port returns the explicit port, or 0 when the URL carries none.
func (i Info) Port() int { return i.port }

// EffectivePort resolves the scheme default when no explicit port is
// present.
func (i Info) EffectivePort() int {
	if i.port != 0 {
		return i.port
	}
	switch i.scheme {
	case SchemeHTTP:
		return 80
	case SchemeHTTPS:
		return 443
	case SchemeFTP:
		return 21
	}
	return 0
}

// IsLocal reports whether the URL refers to local content.
func (i Info) IsLocal() bool { return i.scheme == SchemeFile }

// IsZero reports whether i was never parsed.
func (i Info) IsZero() bool { return i.scheme == "" }

// Filename returns the final path segment, empty for directory paths.
func (i Info) Filename() string {
	if strings.HasSuffix(i.path, "/") {
		return ""
	}
	return i.path[strings.LastIndex(i.path, "/")+1:]
}

// Directory returns the path up to and including the final separator.
func (i Info) Directory() string {
	idx := strings.LastIndex(i.path, "/")
	return i.path[:idx+1]
}

// Equal compares normalized components, ignoring how the URL was spelled.
func (i Info) Equal(o Info) bool {
	return i.scheme == o.scheme && i.host == o.host && i.port == o.port && i.path == o.path
}

// SameHost reports whether both URLs point at the same authority: scheme,
// host and effective port all match.
func (i Info) SameHost(o Info) bool {
	return i.host != "" && i.host == o.host &&
		i.scheme == o.scheme && i.EffectivePort() == o.EffectivePort()
}

// GoToPath derives a URL on the same authority with the given absolute
// path.
func (i Info) GoToPath(p string) Info {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	out := Info{scheme: i.scheme, host: i.host, port: i.port, path: p}
	out.raw = out.rebuild()
	return out
}

// WithinDirectory reports whether the URL's path sits in dir or a
// subdirectory of it. Dot segments are resolved first, so escapes through
// ".." do not slip past the check.
func (i Info) WithinDirectory(dir string) bool {
	if dir == "" {
		return false
	}
	d := path.Clean(dir)
	p := path.Clean(i.path)
	if d == "/" {
		return true
	}
	return p == d || strings.HasPrefix(p, d+"/")
}

func (i Info) rebuild() string {
	var b strings.Builder
	b.WriteString(i.scheme)
	b.WriteString("://")
	b.WriteString(i.host)
	if i.port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(i.port))
	}
	b.WriteString(i.path)
	return b.String()
}
