// Package msgview presents a parsed RFC 5322 message as typed
// accessors: headers, parts, encryption status, signer set, gossip
// set, report kind, system-message kind, attached locations, and
// webxdc status updates. It is the inbound-only replacement for what
// spilled-ink-spilld's email/msgcleaver builds for the outbound path:
// this package never re-encodes, it only classifies what arrived.
package msgview

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"crawshaw.io/iox"

	"veilmail.dev/core/email"
	"veilmail.dev/core/internal/imf"
	"veilmail.dev/core/internal/mimewalk"
	"veilmail.dev/core/pgpengine"
)

// SystemKind classifies a message as a human-visible chat action
// rather than ordinary text.
type SystemKind int

const (
	SystemNone SystemKind = iota
	AutocryptSetupMessage
	GroupNameChanged
	GroupImageChanged
	MemberAdded
	MemberRemoved
	EphemeralTimerChanged
	ChatProtectionEnabled
	ChatProtectionDisabled
	LocationStreamingEnabled
	SecurejoinMessage
	WebxdcStatusUpdate
	MultiDeviceSync
)

// MailinglistType distinguishes the two ways a message can identify
// itself as mailing-list traffic.
type MailinglistType int

const (
	MailinglistNone MailinglistType = iota
	MailinglistListIDBased
	MailinglistSenderBased
)

// MdnReport is one disposition-notification entry from a
// multipart/report; report-type=disposition-notification envelope.
type MdnReport struct {
	OriginalMessageID string
	Disposition       string // e.g. "displayed"
}

// DeliveryReport is the parsed control part of a
// multipart/report; report-type=delivery-status envelope (a DSN).
type DeliveryReport struct {
	OriginalMessageID string
	Action            string // "failed", "delayed", "delivered", ...
	Failed             bool
}

// Part is one MIME leaf, carrying both the raw decoded bytes (via
// email.Part) and, for text parts, a plain-text rendering.
type Part struct {
	email.Part
	Error string
}

// View is the typed accessor surface over one parsed message. It owns
// no persistent state and is safe to discard once the reception
// pipeline has extracted what it needs.
type View struct {
	msg *email.Msg

	From       email.Address
	Recipients []email.Address // To+Cc, deduplicated, lowercased, invalid addresses elided

	Parts []Part

	WasEncrypted    bool
	Signatures      map[pgpengine.Fingerprint]bool
	DecryptingFailed bool
	GossipedAddr    map[string]bool
	gossipKeys      []pgpengine.GossipKey

	IsSystemMessage SystemKind

	MdnReports         []MdnReport
	DeliveryReport     *DeliveryReport
	MessageKML         []byte
	LocationKML        []byte
	WebxdcStatusUpdate []byte
	SyncItems          []byte

	ListPost        string
	MailinglistType MailinglistType

	// protectedHeader, when non-nil, is the header of the decrypted
	// inner MIME document. Per Autocrypt, any header present here
	// shadows the outer envelope's header of the same name, except
	// recipient lists, which are always read from the outer envelope.
	protectedHeader *email.Header
	outerHeader     email.Header
}

// ParseError is returned when no headers at all could be extracted
// from the input; the caller logs and discards the envelope rather
// than treating it as a retryable failure.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("msgview: parse error: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// GossipKeys returns the keys gossiped inside the decrypted envelope,
// one per distinct address.
func (v *View) GossipKeys() []pgpengine.GossipKey { return v.gossipKeys }

// Msg returns the underlying cleaved message, for callers (C7) that
// need to store the raw parts.
func (v *View) Msg() *email.Msg { return v.msg }

// Close releases every part's backing buffer file.
func (v *View) Close() {
	if v.msg != nil {
		v.msg.Close()
	}
}

// GetHeader returns the first value of name, preferring the protected
// (decrypted) header over the outer envelope header when both are
// present — with the exception of recipient lists, which callers must
// read via Recipients/From, never via GetHeader.
func (v *View) GetHeader(name email.Key) []byte {
	if v.protectedHeader != nil {
		if val := v.protectedHeader.Get(name); val != nil {
			return val
		}
	}
	return v.outerHeader.Get(name)
}

// GetHeaderAll is the multi-valued counterpart of GetHeader, used for
// headers like Autocrypt-Gossip that may repeat.
func (v *View) GetHeaderAll(name email.Key) [][]byte {
	if v.protectedHeader != nil {
		if vals := v.protectedHeader.GetAll(name); len(vals) > 0 {
			return vals
		}
	}
	return v.outerHeader.GetAll(name)
}

// HasChatVersion reports whether the message declares itself as
// produced by a chat-aware client.
func (v *View) HasChatVersion() bool {
	return v.GetHeader("Chat-Version") != nil
}

// IsMailinglistMessage reports whether this message was recognized as
// mailing-list traffic by either detection rule.
func (v *View) IsMailinglistMessage() bool {
	return v.MailinglistType != MailinglistNone
}

// HasHeaders reports whether any header at all survived parsing.
func (v *View) HasHeaders() bool {
	return len(v.outerHeader.Entries) > 0
}

// IsMDN reports whether this envelope is a disposition-notification
// report of any kind.
func (v *View) IsMDN() bool {
	return len(v.MdnReports) > 0
}

// Parse reads one RFC 5322 message from r, classifying it per this
// package's typed accessors. engine may be nil; a nil engine treats
// every message as unencrypted (DecryptingFailed is only ever set
// when engine is non-nil and Decrypt returns an error other than
// ErrNotEncrypted).
func Parse(ctx context.Context, filer *iox.Filer, r io.Reader, engine pgpengine.Engine) (*View, error) {
	imfr := imf.NewReader(bufio.NewReader(r))
	hdr, err := imfr.ReadMIMEHeader()
	if err != nil && len(hdr.Entries) == 0 {
		return nil, &ParseError{Err: err}
	}

	msg := &email.Msg{Headers: hdr}
	if err := mimewalk.Walk(filer, hdr, imfr.R, msg); err != nil {
		return nil, &ParseError{Err: err}
	}
	if date := hdr.Get("Date"); len(date) > 0 {
		if t, err := mail.ParseDate(string(date)); err == nil {
			msg.Date = t
		}
	}

	v := &View{
		msg:          msg,
		outerHeader:  hdr,
		Signatures:   map[pgpengine.Fingerprint]bool{},
		GossipedAddr: map[string]bool{},
	}

	if err := v.resolveEnvelopeIdentity(hdr); err != nil {
		return nil, &ParseError{Err: err}
	}

	v.splitParts(msg)
	if err := v.decryptIfNeeded(ctx, filer, engine); err != nil {
		return nil, err
	}
	v.renderTextParts()
	v.classifyMailinglist(hdr)
	v.classifyReports()
	v.classifyLocations()
	v.classifyWebxdc()
	v.classifySync()
	v.classifySystemMessage()

	return v, nil
}

func (v *View) resolveEnvelopeIdentity(hdr email.Header) error {
	if from := hdr.Get("From"); len(from) > 0 {
		addrs, err := imf.ParseAddressList(string(from))
		if err == nil && len(addrs) > 0 {
			v.From = *addrs[0]
		}
	}

	seen := map[string]bool{}
	add := func(raw []byte) {
		if len(raw) == 0 {
			return
		}
		addrs, err := imf.ParseAddressList(string(raw))
		if err != nil {
			return
		}
		for _, a := range addrs {
			lower := strings.ToLower(a.Addr)
			if lower == "" || seen[lower] {
				continue
			}
			seen[lower] = true
			v.Recipients = append(v.Recipients, email.Address{Name: a.Name, Addr: lower})
		}
	}
	add(hdr.Get("To"))
	add(hdr.Get("Cc"))
	return nil
}

func (v *View) splitParts(msg *email.Msg) {
	v.Parts = make([]Part, len(msg.Parts))
	for i, p := range msg.Parts {
		v.Parts[i] = Part{Part: p}
	}
}
