package security

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/net/html/charset"
)

// Parse rejections. All of them leave the owning file loaded+invalid.
var (
	ErrEmptyPolicy     = errors.New("security: empty policy document")
	ErrBinaryPolicy    = errors.New("security: policy body is not text")
	ErrBadPolicyRoot   = errors.New("security: root element is not cross-domain-policy")
	ErrTrailingContent = errors.New("security: element after policy root closed")
)

// policyDocument is the raw parse result, before grant construction.
type policyDocument struct {
	siteControl *siteControlEntry
	access      []accessEntry
	headers     []headerEntry
}

type siteControlEntry struct {
	permitted string
}

type accessEntry struct {
	domain  string
	toPorts string
	secure  *bool
}

type headerEntry struct {
	domain  string
	headers []string
	secure  *bool
}

const sniffLen = 512

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// parsePolicy consumes the whole body from r and extracts the policy
// vocabulary: site-control, allow-access-from and
// allow-http-request-headers-from elements under a cross-domain-policy
// root. Unknown elements are skipped. The returned digest is the
// BLAKE2b-256 hex of every byte read, parse outcome aside.
//
// Bodies that are recognizably binary are rejected before the XML
// decoder sees them; text bodies in undeclared non-UTF-8 encodings are
// detected and transcoded so real-world policy files parse as served.
func parsePolicy(r io.Reader) (*policyDocument, string, error) {
	h, _ := blake2b.New256(nil)
	br := bufio.NewReader(io.TeeReader(r, h))

	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF {
		return nil, digestOf(h), fmt.Errorf("security: reading policy body: %w", err)
	}
	if len(head) == 0 {
		return nil, digestOf(h), ErrEmptyPolicy
	}
	if !textLike(head) {
		return nil, digestOf(h), ErrBinaryPolicy
	}
	// The XML decoder does not strip a UTF-8 byte order mark itself.
	if bytes.HasPrefix(head, utf8BOM) {
		br.Discard(len(utf8BOM))
		head, _ = br.Peek(sniffLen)
	}

	var src io.Reader = br
	if enc := undeclaredEncoding(head); enc != "" {
		if cr, err := charset.NewReaderLabel(enc, br); err == nil {
			src = cr
		}
	}

	dec := xml.NewDecoder(src)
	dec.CharsetReader = charset.NewReaderLabel

	doc := &policyDocument{}
	sawRoot := false
	rootClosed := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, digestOf(h), fmt.Errorf("security: malformed policy: %w", err)
		}
		switch se := tok.(type) {
		case xml.EndElement:
			// Children are consumed by Skip below, so the only end
			// element surfacing here is the root's own close.
			rootClosed = true
		case xml.StartElement:
			if !sawRoot {
				if se.Name.Local != "cross-domain-policy" {
					return nil, digestOf(h), ErrBadPolicyRoot
				}
				sawRoot = true
				continue
			}
			if rootClosed {
				// A grant smuggled in after the root closes must not
				// widen access.
				return nil, digestOf(h), ErrTrailingContent
			}
			switch se.Name.Local {
			case "site-control":
				doc.siteControl = &siteControlEntry{
					permitted: findAttr(se, "permitted-cross-domain-policies"),
				}
			case "allow-access-from":
				doc.access = append(doc.access, accessEntry{
					domain:  findAttr(se, "domain"),
					toPorts: findAttr(se, "to-ports"),
					secure:  boolAttr(se, "secure"),
				})
			case "allow-http-request-headers-from":
				doc.headers = append(doc.headers, headerEntry{
					domain:  findAttr(se, "domain"),
					headers: splitHeaderList(findAttr(se, "headers")),
					secure:  boolAttr(se, "secure"),
				})
			}
			if err := dec.Skip(); err != nil {
				return nil, digestOf(h), fmt.Errorf("security: malformed policy: %w", err)
			}
		}
	}
	if !sawRoot {
		return nil, digestOf(h), ErrEmptyPolicy
	}
	return doc, digestOf(h), nil
}

// textLike reports whether the sniffed head is a text format. Every
// textual type in the detector's hierarchy descends from text/plain;
// anything else (images, archives, executables) is rejected outright.
func textLike(head []byte) bool {
	for mt := mimetype.Detect(head); mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return true
		}
	}
	return false
}

// undeclaredEncoding detects the charset of a body that neither
// declares one in its XML prolog nor already validates as UTF-8.
// Returns the empty string when the decoder can handle the body as is.
func undeclaredEncoding(head []byte) string {
	if bytes.Contains(head, []byte("encoding=")) || utf8.Valid(head) {
		return ""
	}
	res, err := chardet.NewTextDetector().DetectBest(head)
	if err != nil {
		return ""
	}
	switch enc := strings.ToLower(res.Charset); enc {
	case "", "utf-8", "ascii": // decoder default suffices
		return ""
	default:
		return enc
	}
}

func digestOf(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

func findAttr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// boolAttr returns nil when the attribute is absent, so callers can
// apply subtype-dependent defaults.
func boolAttr(se xml.StartElement, name string) *bool {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			v := strings.EqualFold(strings.TrimSpace(a.Value), "true")
			return &v
		}
	}
	return nil
}

func splitHeaderList(s string) []string {
	var out []string
	for _, hd := range strings.Split(s, ",") {
		if hd = strings.TrimSpace(hd); hd != "" {
			out = append(out, hd)
		}
	}
	return out
}
