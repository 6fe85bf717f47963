// Package pipeline wires the header/MIME view (C1), contact resolver
// (C2), peerstate cache (C3), chat resolver and group mutation engine
// (C4/C5), verification gate (C6), message writer (C7), and
// side-channel handlers (C8) into the single entry point this
// module's specification names: one call per inbound RFC 5322
// envelope.
package pipeline

import (
	"context"
	"encoding/base64"
	"io"
	"strings"

	"crawshaw.io/iox"
	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/google/uuid"

	"veilmail.dev/core/chat"
	"veilmail.dev/core/contact"
	"veilmail.dev/core/email"
	"veilmail.dev/core/events"
	"veilmail.dev/core/internal/imf"
	"veilmail.dev/core/msgview"
	"veilmail.dev/core/msgwriter"
	"veilmail.dev/core/peerstate"
	"veilmail.dev/core/pgpengine"
	"veilmail.dev/core/sidechannel"
	"veilmail.dev/core/store"
)

// Account is one account's context handle: the per-account
// collaborators named in this module's specification §5, passed
// explicitly rather than held in package-level globals.
type Account struct {
	DBPool     *sqlitex.Pool
	Filer      *iox.Filer
	Engine     pgpengine.Engine
	Peerstates *peerstate.Cache
	Events     *events.Emitter
	SelfAddrs  map[string]bool
	ShowEmails chat.ShowEmails
	Logf       store.Logf
}

// Pipeline processes envelopes for one Account.
type Pipeline struct {
	acc      *Account
	resolver *chat.Resolver
	writer   *msgwriter.Writer
	side     *sidechannel.Handler

	wakeup chan struct{}
}

func New(acc *Account) *Pipeline {
	return &Pipeline{
		acc: acc,
		resolver: &chat.Resolver{
			Peerstates: acc.Peerstates,
			Events:     acc.Events,
			SelfAddrs:  acc.SelfAddrs,
			ShowEmails: acc.ShowEmails,
			Engine:     acc.Engine,
			Logf:       acc.Logf,
		},
		writer: &msgwriter.Writer{Events: acc.Events},
		side:   &sidechannel.Handler{SelfAddrs: acc.SelfAddrs, Logf: acc.Logf, Events: acc.Events},
		wakeup: make(chan struct{}, 1),
	}
}

// Receive ingests one envelope end to end, per the control flow named
// in this module's specification: parse, resolve contacts, consume
// peerstate evidence, resolve chat, mutate group metadata, write
// rows, apply side effects, emit events. The whole reception runs in
// one write transaction, mirroring spilldb/processor.processSave's
// shape: either every row this envelope produces lands, or none does.
//
// rcvdTs is the local receipt time, injected by the caller rather than
// read from the wall clock so reception stays deterministic for
// replay and tests.
func (p *Pipeline) Receive(ctx context.Context, r io.Reader, rcvdTs int64, downloadState store.DownloadState, fetchingExisting bool) (msgwriter.Result, error) {
	view, err := msgview.Parse(ctx, p.acc.Filer, r, p.acc.Engine)
	if err != nil {
		return msgwriter.Result{}, err
	}
	defer view.Close()

	conn := p.acc.DBPool.Get(ctx)
	if conn == nil {
		return msgwriter.Result{}, context.Canceled
	}
	defer p.acc.DBPool.Put(conn)

	var result msgwriter.Result
	txErr := func() (err error) {
		defer sqlitex.Save(conn)(&err)
		result, err = p.receiveLocked(conn, view, rcvdTs, downloadState, fetchingExisting)
		return err
	}()
	return result, txErr
}

func (p *Pipeline) receiveLocked(conn *sqlite.Conn, view *msgview.View, rcvdTs int64, downloadState store.DownloadState, fetchingExisting bool) (msgwriter.Result, error) {
	env, err := p.buildEnvelope(conn, view, rcvdTs, downloadState, fetchingExisting)
	if err != nil {
		return msgwriter.Result{}, err
	}

	if err := p.ingestPeerstateEvidence(conn, view, env); err != nil {
		return msgwriter.Result{}, err
	}

	decision, err := p.resolver.Resolve(conn, env)
	if err != nil {
		if err == chat.ErrAlreadyProcessed {
			return msgwriter.Result{Trashed: decision.Trashed}, nil
		}
		return msgwriter.Result{}, err
	}

	var mutRes chat.MutationResult
	if !decision.Trashed {
		c, ok, err := store.GetChat(conn, decision.ChatID)
		if err != nil {
			return msgwriter.Result{}, err
		}
		if ok {
			mutRes, err = p.resolver.Mutate(conn, c, env)
			if err != nil {
				return msgwriter.Result{}, err
			}
		}

		if view.IsMDN() {
			if err := p.side.HandleMDN(conn, view.MdnReports, env.HasChatVersion); err != nil {
				return msgwriter.Result{}, err
			}
		}
		if view.DeliveryReport != nil {
			if err := p.side.HandleDSN(conn, view.DeliveryReport); err != nil {
				return msgwriter.Result{}, err
			}
		}
		if avatarRef := string(view.GetHeader("Chat-User-Avatar")); avatarRef != "" && env.FromID != store.UNDEFINED {
			if err := p.side.HandleAvatar(conn, env.FromID, avatarRef, env.SentTs, view.IsMailinglistMessage()); err != nil {
				return msgwriter.Result{}, err
			}
		}
	}

	result, err := p.writer.Write(conn, view, env, decision, mutRes)
	if err != nil {
		return result, err
	}

	if !decision.Trashed && (len(view.MessageKML) > 0 || len(view.LocationKML) > 0) {
		var msgID store.MsgID
		if len(result.MsgIDs) > 0 {
			msgID = result.MsgIDs[0]
		}
		if _, err := p.side.HandleLocations(conn, decision.ChatID, env.FromID, env.FromAddr, view.MessageKML, view.LocationKML, msgID); err != nil {
			return result, err
		}
	}

	return result, nil
}

// buildEnvelope lowers a msgview.View into the subset of fields the
// chat package needs, resolving contact ids along the way (C2).
func (p *Pipeline) buildEnvelope(conn *sqlite.Conn, view *msgview.View, rcvdTs int64, downloadState store.DownloadState, fetchingExisting bool) (*chat.Envelope, error) {
	fromID, _, _, fromModified, err := contact.FromFieldToContact(conn, view.From, p.acc.SelfAddrs, logAdapter(p.acc.Logf))
	if err != nil {
		return nil, err
	}

	preventRename := contact.PreventRename(view.IsMailinglistMessage(), view.GetHeader("Sender") != nil)
	recipients := make([]email.Address, 0, len(view.Recipients))
	toSelf := false
	for _, a := range view.Recipients {
		if p.acc.SelfAddrs[a.Addr] {
			toSelf = true
			continue
		}
		recipients = append(recipients, a)
	}
	toIDs, toModified, err := contact.ResolveList(conn, recipients, store.OriginIncomingUnknownCcTo, preventRename)
	if err != nil {
		return nil, err
	}
	if toSelf {
		toIDs = append([]store.ContactID{store.SELF}, toIDs...)
	}

	if fromModified {
		p.emitContactsChanged(fromID)
	}
	for _, id := range toModified {
		p.emitContactsChanged(id)
	}
	toAddrs := make([]string, len(view.Recipients))
	for i, a := range view.Recipients {
		toAddrs[i] = a.Addr
	}

	references, _ := imf.ParseReferences(string(view.GetHeader("References")))

	rfc724Mid := headerMsgID(view, "Message-Id")
	if rfc724Mid == "" {
		// Malformed mail with no Message-Id at all cannot be
		// deduplicated; synthesize a private one so the rest of the
		// pipeline's rfc724_mid-keyed invariants still hold.
		rfc724Mid = "synth." + uuid.NewString() + "@local"
	}

	sentTs := rcvdTs
	if date := view.Msg().Date; !date.IsZero() {
		sentTs = date.Unix()
	}

	var mimeHeaders []byte
	if view.GetHeader("Autocrypt-Setup-Message") != nil || view.GetHeader("Chat-Disposition-Notification-To") != nil {
		mimeHeaders = []byte(view.Msg().Headers.String())
	}

	env := &chat.Envelope{
		Rfc724Mid:            rfc724Mid,
		InReplyTo:            headerMsgID(view, "In-Reply-To"),
		References:           references,
		Subject:              string(view.GetHeader("Subject")),
		SentTs:               sentTs,
		RcvdTs:               rcvdTs,
		FromID:               fromID,
		FromAddr:             strings.ToLower(view.From.Addr),
		ToIDs:                toIDs,
		ToAddrs:              toAddrs,
		DownloadState:        downloadState,
		Incoming:             fromID != store.SELF,
		HasChatVersion:       view.HasChatVersion(),
		IsMDN:                view.IsMDN(),
		IsDSN:                view.DeliveryReport != nil,
		DSNFailed:            view.DeliveryReport != nil && view.DeliveryReport.Failed,
		IsMozillaDraft:       view.GetHeader("X-Mozilla-Draft-Info") != nil,
		IsStatusUpdateOnly:   len(view.WebxdcStatusUpdate) > 0 && len(view.Parts) == 0,
		IsSecureJoin:         view.GetHeader("Secure-Join") != nil,
		ChatGroupID:          string(view.GetHeader("Chat-Group-ID")),
		ChatGroupName:        string(view.GetHeader("Chat-Group-Name")),
		ChatGroupNameChanged: string(view.GetHeader("Chat-Group-Name-Changed")),
		MemberAdded:          strings.ToLower(string(view.GetHeader("Chat-Group-Member-Added"))),
		MemberRemoved:        strings.ToLower(string(view.GetHeader("Chat-Group-Member-Removed"))),
		ChatVerified:         string(view.GetHeader("Chat-Verified")) == "1",
		ChatContent:          string(view.GetHeader("Chat-Content")),
		EphemeralTimerHeader: string(view.GetHeader("Ephemeral-Timer")),
		ListID:               string(view.GetHeader("List-Id")),
		ListPost:             view.ListPost,
		MailinglistType:      int(view.MailinglistType),
		FromName:             view.From.Name,
		WasEncrypted:         view.WasEncrypted,
		DecryptingFailed:     view.DecryptingFailed,
		Signatures:           view.Signatures,
		GossipedAddr:         view.GossipedAddr,
		Gossip:               view.GossipKeys(),
		HopInfo:              hopInfo(view.GetHeaderAll("Received")),
		MimeHeaders:          mimeHeaders,
		FetchingExisting:     fetchingExisting,
	}
	if env.IsSecureJoin {
		if p.side.HandleSecureJoin(env.FromAddr) {
			env.SecureJoinResult = chat.SecureJoinDone
		} else {
			env.SecureJoinResult = chat.SecureJoinPropagate
		}
	}
	return env, nil
}

func (p *Pipeline) ingestPeerstateEvidence(conn *sqlite.Conn, view *msgview.View, env *chat.Envelope) error {
	if raw := view.GetHeader("Autocrypt"); raw != nil {
		if hdr, ok := parseAutocryptHeader(env.FromAddr, string(raw)); ok {
			if err := p.acc.Peerstates.IngestAutocrypt(conn, p.acc.Engine, hdr, env.SentTs); err != nil {
				return err
			}
		}
	}
	for _, raw := range view.GetHeaderAll("Autocrypt-Gossip") {
		hdr, ok := parseAutocryptHeader("", string(raw))
		if !ok || hdr.Addr == "" {
			continue
		}
		fp, err := p.acc.Engine.Fingerprint(hdr.KeyData)
		if err != nil {
			continue
		}
		env.Gossip = append(env.Gossip, pgpengine.GossipKey{
			Addr: hdr.Addr,
			Key:  pgpengine.Key{Data: hdr.KeyData, Fingerprint: fp},
		})
		env.GossipedAddr[strings.ToLower(hdr.Addr)] = true
	}
	return nil
}

// parseAutocryptHeader parses the attribute-list syntax shared by
// Autocrypt: and Autocrypt-Gossip: headers: semicolon-separated
// key=value pairs, keydata base64-encoded with embedded whitespace
// folding allowed.
func parseAutocryptHeader(fallbackAddr, raw string) (peerstate.AutocryptHeader, bool) {
	hdr := peerstate.AutocryptHeader{Addr: fallbackAddr}
	var keydataB64 strings.Builder
	for _, field := range strings.Split(raw, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])
		switch key {
		case "addr":
			hdr.Addr = strings.ToLower(val)
		case "prefer-encrypt":
			hdr.PreferEncrypt = strings.ToLower(val)
		case "keydata":
			keydataB64.WriteString(val)
		}
	}
	if hdr.Addr == "" || keydataB64.Len() == 0 {
		return peerstate.AutocryptHeader{}, false
	}
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, keydataB64.String())
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return peerstate.AutocryptHeader{}, false
	}
	hdr.KeyData = data
	return hdr, true
}

func headerMsgID(view *msgview.View, name email.Key) string {
	raw := string(view.GetHeader(name))
	if raw == "" {
		return ""
	}
	id, err := imf.ParseReference(raw)
	if err != nil {
		return raw
	}
	return id
}

// hopInfo renders one line per Received: header for delivery-latency
// diagnosis. Received headers are prepended by each relay, so the raw
// header order is newest-first; this reverses it to oldest-first.
func hopInfo(received [][]byte) string {
	if len(received) == 0 {
		return ""
	}
	lines := make([]string, len(received))
	for i, r := range received {
		lines[len(received)-1-i] = strings.Join(strings.Fields(string(r)), " ")
	}
	return strings.Join(lines, "\n")
}

// emitContactsChanged notifies subscribers that AddOrLookup created or
// renamed a contact, per this module's specification's
// ContactsChanged{contact?} event.
func (p *Pipeline) emitContactsChanged(id store.ContactID) {
	if p.acc.Events == nil {
		return
	}
	p.acc.Events.Emit(events.Event{Kind: events.ContactsChanged, ContactID: id})
}

func logAdapter(lf store.Logf) func(string, ...interface{}) {
	if lf == nil {
		return func(string, ...interface{}) {}
	}
	return func(format string, args ...interface{}) {
		lf(format, args...)
	}
}
