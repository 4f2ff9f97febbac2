package mimefeed

import (
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/go-pyzor/pyzordigest"
)

func digestFor(c *qt.C, raw string) string {
	d := pyzordigest.New()
	err := Feed(d, strings.NewReader(raw))
	c.Assert(err, qt.IsNil)
	out := make([]byte, pyzordigest.DigestSize)
	d.Finalize(out)
	return string(out)
}

func TestFeedPlainMessage(t *testing.T) {
	c := qt.New(t)
	raw := "From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Subject: hello\r\n" +
		"\r\n" +
		"this plain message body has more than eight bytes on it\n"
	got := digestFor(c, raw)
	c.Assert(got, qt.HasLen, pyzordigest.DigestSize)
	c.Assert(got, qt.Not(qt.Equals), pyzordigest.EmptyDigest)
}

func TestFeedMultipartMessage(t *testing.T) {
	c := qt.New(t)
	raw := "From: a@example.com\r\n" +
		"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"plain part of the message with enough content here\n" +
		"--XYZ\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<html><body>plain part of the message with enough content here</body></html>\n" +
		"--XYZ--\r\n"
	got := digestFor(c, raw)
	c.Assert(got, qt.HasLen, pyzordigest.DigestSize)
}

func TestFeedEmptyBody(t *testing.T) {
	c := qt.New(t)
	raw := "From: a@example.com\r\n\r\n"
	got := digestFor(c, raw)
	c.Assert(got, qt.Equals, pyzordigest.EmptyDigest)
}
