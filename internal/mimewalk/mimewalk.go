// Package mimewalk splits a parsed RFC 5322 header plus its raw body
// into a flat list of MIME parts, classifying each as body or
// attachment. It is the inbound-only half of what
// spilled-ink-spilld's email/msgcleaver package does: no re-encoding,
// no compression bookkeeping, no DKIM — this module never rebuilds a
// message for the wire.
package mimewalk

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"

	"crawshaw.io/iox"
	"veilmail.dev/core/email"
	"veilmail.dev/core/internal/charset"
)

// Walk decomposes hdr/body into a flat Parts slice, in depth-first
// MIME order, appended to msg.Parts.
func Walk(filer *iox.Filer, hdr email.Header, body io.Reader, msg *email.Msg) error {
	return walkRec(filer, hdr, "", 0, body, msg)
}

func walkRec(filer *iox.Filer, hdr email.Header, parentMediaType string, localPartNum int, r io.Reader, msg *email.Msg) error {
	mediaType, params, err := mime.ParseMediaType(string(hdr.Get("Content-Type")))
	if err != nil {
		return leaf(filer, hdr, parentMediaType, 0, r, msg)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return leaf(filer, hdr, parentMediaType, localPartNum, r, msg)
	}

	boundary := params["boundary"]
	if boundary == "" {
		return leaf(filer, hdr, parentMediaType, localPartNum, r, msg)
	}
	mr := multipart.NewReader(r, boundary)
	for i := 0; ; i++ {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("mimewalk: corrupt mime part: %v", err)
		}
		partHdr := toEmailHeader(part.Header)
		if err := walkRec(filer, partHdr, mediaType, i, part, msg); err != nil {
			return err
		}
	}
	return nil
}

func toEmailHeader(h textproto.MIMEHeader) email.Header {
	var out email.Header
	for k, vs := range h {
		key := email.CanonicalKey([]byte(k))
		for _, v := range vs {
			out.Add(key, []byte(v))
		}
	}
	return out
}

func leaf(filer *iox.Filer, hdr email.Header, parentMediaType string, localPartNum int, r io.Reader, msg *email.Msg) (err error) {
	var buf *iox.BufferFile
	defer func() {
		if err != nil && buf != nil {
			buf.Close()
		}
	}()

	mediaType, params, err := mime.ParseMediaType(string(hdr.Get("Content-Type")))
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}
	if mediaType == "image/jpg" {
		mediaType = "image/jpeg" // yes, people do this
	}

	cte := strings.ToLower(string(hdr.Get("Content-Transfer-Encoding")))
	switch cte {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	if strings.HasPrefix(mediaType, "text/") {
		r = charset.Reader(params["charset"], r)
	}

	isAttachment := false
	fileName := ""
	if d, dparams, err := mime.ParseMediaType(string(hdr.Get("Content-Disposition"))); err == nil {
		fileName = dparams["filename"]
		if strings.EqualFold(d, "attachment") {
			isAttachment = true
		}
	}
	if fileName == "" {
		fileName = params["name"]
	}

	isBody := false
	switch parentMediaType {
	case "":
		isBody = true
	case "multipart/alternative":
		isBody = true
	case "multipart/mixed":
		isBody = localPartNum == 0
		if len(hdr.Get("Content-Disposition")) == 0 {
			isAttachment = localPartNum > 0
		}
	case "multipart/related":
		isBody = localPartNum == 0
	}

	contentID := strings.TrimSuffix(strings.TrimPrefix(string(hdr.Get("Content-ID")), "<"), ">")

	buf = filer.BufferFile(0)
	if _, err := io.Copy(buf, r); err != nil {
		return err
	}
	if _, err := buf.Seek(0, 0); err != nil {
		return err
	}

	msg.Parts = append(msg.Parts, email.Part{
		PartNum:                 len(msg.Parts),
		Name:                    fileName,
		IsBody:                  isBody,
		IsAttachment:            isAttachment,
		ContentType:             mediaType,
		ContentID:               contentID,
		Content:                 buf,
		ContentTransferEncoding: cte,
	})
	return nil
}
