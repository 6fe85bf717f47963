// Package chat resolves an incoming message's destination chat (C4),
// applies group-metadata mutations (C5), and enforces the
// verified-chat invariant (C6).
//
// Control flow and the "sequential guarded stages with early returns"
// shape are grounded on spilldb/processor.Processor.process; the
// per-attribute timestamp-guard idiom for group mutation is new
// (named directly by this module's specification §4.5), built the
// same way the teacher builds other monotone-counter guards
// (processor.Processor.maxReadyDate).
package chat

import (
	"veilmail.dev/core/events"
	"veilmail.dev/core/peerstate"
	"veilmail.dev/core/pgpengine"
	"veilmail.dev/core/store"
)

// ShowEmails is the account-wide configuration gating implicit chat
// creation from classical (non-chat-version) email.
type ShowEmails int

const (
	ShowEmailsOff ShowEmails = iota
	ShowEmailsAcceptedContacts
	ShowEmailsAll
)

// Resolver holds the per-account collaborators the chat package needs
// across a reception: the peerstate cache, the event emitter, the
// account's own addresses (for is-outgoing / is-self checks), and the
// show_emails policy.
type Resolver struct {
	Peerstates *peerstate.Cache
	Events     *events.Emitter
	SelfAddrs  map[string]bool
	ShowEmails ShowEmails
	Engine     pgpengine.Engine
	Logf       store.Logf
}

// Envelope is the subset of a parsed, classified message the chat
// package needs. Callers (the pipeline) build one from a
// msgview.View plus the contact/peerstate resolution already done
// for From/To/Cc.
type Envelope struct {
	Rfc724Mid     string
	InReplyTo     string
	References    []string
	Subject       string
	SentTs        int64
	RcvdTs        int64
	FromID        store.ContactID
	FromAddr      string
	ToIDs         []store.ContactID
	ToAddrs       []string
	DownloadState store.DownloadState
	Incoming      bool
	HasChatVersion bool
	IsMDN         bool
	IsDSN         bool
	DSNFailed     bool
	IsMozillaDraft bool
	IsStatusUpdateOnly bool
	IsSyncOnly    bool
	IsSecureJoin  bool
	SecureJoinResult SecureJoinResult

	ChatGroupID          string
	ChatGroupName        string
	ChatGroupNameChanged string
	MemberAdded          string
	MemberRemoved        string
	ChatVerified         bool
	ChatContent          string
	EphemeralTimerHeader string

	ListID           string
	ListPost         string
	MailinglistType  int // mirrors msgview.MailinglistType, avoids import cycle
	FromName         string

	WasEncrypted     bool
	DecryptingFailed bool
	Signatures       map[pgpengine.Fingerprint]bool
	GossipedAddr     map[string]bool
	Gossip           []pgpengine.GossipKey

	HopInfo     string // one line per Received: header, oldest first
	MimeHeaders []byte // full header blob, only when needed for a later resend (S-M-M/MDN request)

	FetchingExisting bool // true during a historical backfill pass
}

// SecureJoinResult is the observe-side handler's verdict for a
// Secure-Join: handshake message (the interactive side is out of
// scope; only its effect on trashing is modeled here).
type SecureJoinResult int

const (
	SecureJoinPropagate SecureJoinResult = iota
	SecureJoinDone
	SecureJoinIgnore
)

// Decision is the outcome of Resolve: the destination chat, whether
// it is newly blocked/request/accepted, and whether the message
// should be trashed wholesale.
type Decision struct {
	ChatID       store.ChatID
	Blocked      store.Blocked
	Trashed      bool
	TrashReason  string
	ReplaceMsgID store.MsgID // non-zero: caller must merge onto this id
}
