// Package email is a light-weight set of types fundamental to processing
// RFC 5322 mail: a header bag, a MIME part tree, and the byte-content
// interface both are built on.
package email

import (
	"io"
	"time"
)

// Msg is a parsed wire-format email, prior to any chat-domain
// interpretation. It is the output of cleaving raw bytes into headers
// and MIME parts; it does not know about chats, contacts, or message
// rows.
type Msg struct {
	Seed        int64 // random seed derived from content hash, used for multipart boundaries on re-encode
	RawHash     string
	Date        time.Time
	Headers     Header
	Parts       []Part // Parts[i].PartNum == i
	EncodedSize int64  // size of the fully re-encoded message
}

func (m *Msg) Close() {
	for i := range m.Parts {
		if m.Parts[i].Content != nil {
			m.Parts[i].Content.Close()
			m.Parts[i].Content = nil
		}
	}
}

// Part represents a single part of a MIME multipart message.
// A Msg with a single text/plain part is not multipart encoded.
type Part struct {
	PartNum        int
	Name           string
	IsBody         bool
	IsAttachment   bool
	IsCompressed   bool  // stored compressed on disk
	CompressedSize int64 // size of content when compressed if known
	ContentType    string
	ContentID      string
	Content        Buffer // uncompressed data
	Text           string // plain-text rendering, populated for text/html bodies
	Error          string // non-fatal decode error for this part, if any

	ContentTransferEncoding string // "", "quoted-printable", "base64"
	ContentTransferSize     int64  // transfer-encoded size
	ContentTransferLines    int64  // transfer-encoded line count
}

// Buffer is content store.
//
// It is usually an *iox.BufferFile or *sqlite.Blob.
//
// Expect it to be fixed size.
type Buffer interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	Size() int64
}
