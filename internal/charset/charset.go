// Package charset decodes MIME body text declared in a charset other
// than UTF-8, the same fallback chain internal/imf already uses for
// RFC 2047 encoded-words.
package charset

import (
	"io"
	"log"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Reader wraps r, decoding it from charset to UTF-8. If charset is
// empty, "us-ascii", or "utf-8", r is returned unchanged. An unknown
// charset is logged and passed through undecoded rather than treated
// as fatal — a garbled preview is better than a dropped message.
func Reader(cs string, r io.Reader) io.Reader {
	cs = strings.ToLower(strings.TrimSpace(cs))
	if cs == "" || cs == "us-ascii" || cs == "utf-8" || cs == "ascii" {
		return r
	}

	enc, err := ianaindex.MIME.Encoding(cs)
	if err != nil || enc == nil {
		if cs == "gb2312" {
			enc = simplifiedchinese.HZGB2312
		} else {
			log.Printf("charset: no decoder for %q, passing through", cs)
			return r
		}
	}
	return enc.NewDecoder().Reader(r)
}
