// Package mimefeed walks a raw RFC 822 message and feeds its text parts into
// a pyzordigest.Digester, the way the original implementation's main.c walks
// a GMimeMessage and feeds pyzor_digest_update from a GMimeFilterBasic
// decoding stream. MIME parsing itself is explicitly out of scope for the
// Digester (spec.md §1, §6); this package is the external collaborator that
// supplies it, built entirely on the standard library by design — see
// SPEC_FULL.md's MessageFeed section for why no pack dependency fits here.
package mimefeed

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/go-pyzor/pyzordigest"
)

// bufLen mirrors the original implementation's BUFLEN: text parts are fed to
// the digester in chunks of this size rather than read whole, keeping
// memory use independent of attachment size.
const bufLen = 4096

// Feed parses msg as an RFC 822 message, walks its MIME structure (if any),
// and updates d with the decoded bytes of every text/* part it finds. Each
// part is closed off with an end-of-part boundary so a later part always
// starts its own line, matching spec.md §5's requirement for update().
func Feed(d *pyzordigest.Digester, msg io.Reader) error {
	m, err := mail.ReadMessage(msg)
	if err != nil {
		return fmt.Errorf("mimefeed: reading message: %w", err)
	}
	return feedEntity(d, textproto.MIMEHeader(m.Header), m.Body)
}

func feedEntity(d *pyzordigest.Digester, header textproto.MIMEHeader, body io.Reader) error {
	mediaType, params, err := mime.ParseMediaType(header.Get("Content-Type"))
	if err != nil {
		// No (or unparsable) Content-Type: treat the body as a single
		// text part, matching a plain, non-MIME message.
		return feedPart(d, header, body)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("mimefeed: multipart part without boundary")
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("mimefeed: reading multipart part: %w", err)
			}
			if err := feedEntity(d, textproto.MIMEHeader(part.Header), part); err != nil {
				return err
			}
		}
	}

	return feedPart(d, header, body)
}

// feedPart decodes a single leaf part's content-transfer-encoding and, if
// it's text, streams it into d in bufLen chunks.
func feedPart(d *pyzordigest.Digester, header textproto.MIMEHeader, body io.Reader) error {
	mediaType, _, _ := mime.ParseMediaType(header.Get("Content-Type"))
	if mediaType != "" && !strings.HasPrefix(mediaType, "text/") {
		return nil
	}

	r := decodeTransferEncoding(header.Get("Content-Transfer-Encoding"), body)
	buf := make([]byte, bufLen)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			eop := err == io.EOF
			if uerr := d.Update(buf[:n], eop); uerr != nil {
				return fmt.Errorf("mimefeed: updating digest: %w", uerr)
			}
		}
		if err == io.EOF {
			if n == 0 {
				// empty part: still force the line boundary
				if uerr := d.Update(nil, true); uerr != nil {
					return fmt.Errorf("mimefeed: updating digest: %w", uerr)
				}
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("mimefeed: reading part body: %w", err)
		}
	}
}

func decodeTransferEncoding(enc string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, bufio.NewReader(r))
	default:
		return r
	}
}
