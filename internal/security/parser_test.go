package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullDocument(t *testing.T) {
	body := `<?xml version="1.0"?>
<!DOCTYPE cross-domain-policy SYSTEM "http://www.adobe.com/xml/dtds/cross-domain-policy.dtd">
<cross-domain-policy>
  <site-control permitted-cross-domain-policies="by-content-type"/>
  <allow-access-from domain="*.example.com" secure="false"/>
  <allow-access-from domain="partner.net" to-ports="507,516-523"/>
  <allow-http-request-headers-from domain="*" headers="X-Custom, X-Other" secure="TRUE"/>
</cross-domain-policy>`

	doc, digest, err := parsePolicy(strings.NewReader(body))
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Len(t, digest, 64)

	require.NotNil(t, doc.siteControl)
	assert.Equal(t, "by-content-type", doc.siteControl.permitted)

	require.Len(t, doc.access, 2)
	assert.Equal(t, "*.example.com", doc.access[0].domain)
	require.NotNil(t, doc.access[0].secure)
	assert.False(t, *doc.access[0].secure)
	assert.Equal(t, "partner.net", doc.access[1].domain)
	assert.Equal(t, "507,516-523", doc.access[1].toPorts)
	assert.Nil(t, doc.access[1].secure, "absent secure attribute must stay nil")

	require.Len(t, doc.headers, 1)
	assert.Equal(t, "*", doc.headers[0].domain)
	assert.Equal(t, []string{"X-Custom", "X-Other"}, doc.headers[0].headers)
	require.NotNil(t, doc.headers[0].secure)
	assert.True(t, *doc.headers[0].secure)
}

func TestParseMinimalDocument(t *testing.T) {
	doc, _, err := parsePolicy(strings.NewReader(`<cross-domain-policy/>`))
	require.NoError(t, err)
	assert.Nil(t, doc.siteControl)
	assert.Empty(t, doc.access)
	assert.Empty(t, doc.headers)
}

func TestParseSkipsUnknownElements(t *testing.T) {
	body := `<cross-domain-policy>
  <allow-access-from-identity>
    <signatory><certificate hash="01:02"/></signatory>
  </allow-access-from-identity>
  <allow-access-from domain="b.com"/>
</cross-domain-policy>`

	doc, _, err := parsePolicy(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, doc.access, 1)
	assert.Equal(t, "b.com", doc.access[0].domain)
}

func TestParseRejectsBadRoot(t *testing.T) {
	body := `<html><body>not found</body></html>`
	_, _, err := parsePolicy(strings.NewReader(body))
	assert.ErrorIs(t, err, ErrBadPolicyRoot)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, _, err := parsePolicy(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyPolicy)

	_, _, err = parsePolicy(strings.NewReader("   \n\t  "))
	assert.ErrorIs(t, err, ErrEmptyPolicy)
}

func TestParseRejectsBinary(t *testing.T) {
	png := "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01"
	_, _, err := parsePolicy(strings.NewReader(png))
	assert.ErrorIs(t, err, ErrBinaryPolicy)
}

func TestParseRejectsElementAfterRoot(t *testing.T) {
	body := `<cross-domain-policy><allow-access-from domain="b.com"/></cross-domain-policy>` +
		`<allow-access-from domain="*"/>`
	_, _, err := parsePolicy(strings.NewReader(body))
	assert.ErrorIs(t, err, ErrTrailingContent)
}

func TestParseRejectsMalformedXML(t *testing.T) {
	body := `<cross-domain-policy><allow-access-from domain="a.com">`
	_, _, err := parsePolicy(strings.NewReader(body))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmptyPolicy)
	assert.NotErrorIs(t, err, ErrBadPolicyRoot)
}

func TestParseDigestDeterministic(t *testing.T) {
	body := `<cross-domain-policy><allow-access-from domain="b.com"/></cross-domain-policy>`
	_, d1, err := parsePolicy(strings.NewReader(body))
	require.NoError(t, err)
	_, d2, err := parsePolicy(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	_, d3, err := parsePolicy(strings.NewReader(strings.Replace(body, "b.com", "c.com", 1)))
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestParseDeclaredEncoding(t *testing.T) {
	// ISO-8859-1 body: 0xE9 is "é" and must survive transcoding.
	body := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n" +
		"<cross-domain-policy><allow-access-from domain=\"caf\xe9.example\"/></cross-domain-policy>"
	doc, _, err := parsePolicy(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, doc.access, 1)
	assert.Equal(t, "café.example", doc.access[0].domain)
}

func TestParseUndeclaredEncoding(t *testing.T) {
	// Same byte content, no prolog: the charset has to be detected.
	body := "<cross-domain-policy>\n" +
		"<!-- politique d'acc\xe8s r\xe9serv\xe9e aux h\xf4tes list\xe9s ci-dessous -->\n" +
		"<allow-access-from domain=\"caf\xe9.example\"/>\n" +
		"</cross-domain-policy>"
	doc, _, err := parsePolicy(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, doc.access, 1)
	assert.Equal(t, "café.example", doc.access[0].domain)
}

func TestParseUTF8ByteOrderMark(t *testing.T) {
	body := `<cross-domain-policy><allow-access-from domain="b.com"/></cross-domain-policy>`
	doc, withBOM, err := parsePolicy(strings.NewReader("\xef\xbb\xbf" + body))
	require.NoError(t, err)
	require.Len(t, doc.access, 1)

	// The digest covers the body exactly as served, mark included.
	_, without, err := parsePolicy(strings.NewReader(body))
	require.NoError(t, err)
	assert.NotEqual(t, without, withBOM)
}
