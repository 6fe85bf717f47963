package chat

import (
	"errors"
	"strings"

	"crawshaw.io/sqlite"

	"veilmail.dev/core/contact"
	"veilmail.dev/core/store"
)

// ErrAlreadyProcessed is returned by Resolve when rfc724_mid names a
// message this account has already ingested in full.
var ErrAlreadyProcessed = errors.New("already processed")

// Resolve runs the duplicate gate, the trash gates, and the chat
// identity cascade of §4.4, returning the destination chat and
// blocking decision for env. conn must already be inside a
// transaction the caller controls; Resolve itself does not open one,
// since the group-mutation and message-write stages that follow share
// it.
func (r *Resolver) Resolve(conn *sqlite.Conn, env *Envelope) (Decision, error) {
	dup, stop, err := r.duplicateGate(conn, env)
	if stop {
		return dup, err
	}

	if d, trashed := r.trashGates(env); trashed {
		return d, nil
	}

	allowCreation := r.allowCreation(env)

	if d, ok, err := r.resolveByReply(conn, env); err != nil {
		return Decision{}, err
	} else if ok {
		return r.finishBlocking(conn, env, d, dup.ReplaceMsgID)
	}

	grpid, hasGrpid := tryGetGrpid(env)
	if hasGrpid {
		if d, ok, err := r.resolveByGrpid(conn, env, grpid, allowCreation); err != nil {
			return Decision{}, err
		} else if ok {
			return r.finishBlocking(conn, env, d, dup.ReplaceMsgID)
		}
	}

	if env.MailinglistType != 0 {
		d, ok, err := r.resolveMailinglist(conn, env, allowCreation)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			return r.finishBlocking(conn, env, d, dup.ReplaceMsgID)
		}
	}

	if !hasGrpid && allowCreation && env.ChatGroupName != "" && env.MemberRemoved == "" {
		d, err := r.createGroup(conn, env, "")
		if err != nil {
			return Decision{}, err
		}
		return r.finishBlocking(conn, env, d, dup.ReplaceMsgID)
	}

	if !hasGrpid && env.MailinglistType == 0 && !env.DecryptingFailed && len(uniqueContacts(env))+1 >= 3 {
		d, err := r.createAdHocGroup(conn, env, allowCreation)
		if err != nil {
			return Decision{}, err
		}
		if d.ChatID != store.UNDEFINED {
			return r.finishBlocking(conn, env, d, dup.ReplaceMsgID)
		}
	}

	d, err := r.resolveSingle(conn, env, allowCreation)
	if err != nil {
		return Decision{}, err
	}
	return r.finishBlocking(conn, env, d, dup.ReplaceMsgID)
}

func (r *Resolver) duplicateGate(conn *sqlite.Conn, env *Envelope) (Decision, bool, error) {
	existing, ok, err := store.LookupMsgByRfc724Mid(conn, env.Rfc724Mid)
	if err != nil {
		return Decision{}, true, err
	}
	if !ok {
		return Decision{}, false, nil
	}
	if existing.DownloadState != store.DownloadDone && env.DownloadState == store.DownloadDone {
		return Decision{ChatID: existing.ChatID, ReplaceMsgID: existing.ID}, false, nil
	}
	return Decision{ChatID: existing.ChatID, Trashed: existing.ChatID == store.TRASH, TrashReason: "already processed"}, true, ErrAlreadyProcessed
}

func (r *Resolver) trashGates(env *Envelope) (Decision, bool) {
	trash := func(reason string) (Decision, bool) {
		return Decision{ChatID: store.TRASH, Trashed: true, TrashReason: reason}, true
	}
	if !env.HasChatVersion && r.ShowEmails == ShowEmailsOff {
		return trash("classical email, show_emails=Off")
	}
	if env.IsDSN {
		return trash("delivery status report")
	}
	if env.IsMDN {
		return trash("disposition notification")
	}
	if env.IsMozillaDraft {
		return trash("mozilla draft header")
	}
	if env.IsSecureJoin {
		switch env.SecureJoinResult {
		case SecureJoinDone, SecureJoinIgnore:
			return trash("secure-join handshake consumed")
		}
	}
	if !env.Incoming && env.IsSyncOnly {
		return trash("self-sent sync envelope")
	}
	if env.FetchingExisting && env.DecryptingFailed {
		return trash("decryption failed during backfill")
	}
	if env.IsStatusUpdateOnly {
		return trash("status-update-only payload")
	}
	return Decision{}, false
}

func (r *Resolver) allowCreation(env *Envelope) bool {
	if r.ShowEmails == ShowEmailsAcceptedContacts && !env.HasChatVersion {
		return false
	}
	if r.ShowEmails == ShowEmailsAll && env.IsMDN {
		return false
	}
	return true
}

// isPrivateReply implements §4.4a: the recipient set is exactly
// {SELF} (or from=SELF and to={single}) and either the message
// carries a Chat-Version header or the parent chat has more than two
// members.
func isPrivateReply(env *Envelope, parentMemberCount int) bool {
	soleRecipient := (env.Incoming && len(env.ToIDs) == 1 && env.ToIDs[0] == store.SELF) ||
		(!env.Incoming && len(env.ToIDs) == 1)
	if !soleRecipient {
		return false
	}
	return env.HasChatVersion || parentMemberCount > 2
}

func (r *Resolver) resolveByReply(conn *sqlite.Conn, env *Envelope) (Decision, bool, error) {
	var refs []string
	if env.InReplyTo != "" {
		refs = append(refs, env.InReplyTo)
	}
	refs = append(refs, env.References...)
	if len(refs) == 0 {
		return Decision{}, false, nil
	}

	var best store.Msg
	found := false
	for _, mid := range refs {
		m, ok, err := store.LookupMsgByRfc724Mid(conn, mid)
		if err != nil {
			return Decision{}, false, err
		}
		if !ok || m.ChatID == store.TRASH || m.Error != "" {
			continue
		}
		if !found || m.TimestampSent > best.TimestampSent {
			best = m
			found = true
		}
	}
	if !found {
		return Decision{}, false, nil
	}

	members, err := store.ChatMembers(conn, best.ChatID)
	if err != nil {
		return Decision{}, false, err
	}
	if isPrivateReply(env, len(members)) {
		return Decision{}, false, nil
	}
	return Decision{ChatID: best.ChatID}, true, nil
}

func (r *Resolver) resolveByGrpid(conn *sqlite.Conn, env *Envelope, grpid string, allowCreation bool) (Decision, bool, error) {
	if len(grpid) != 11 && len(grpid) != 16 {
		return Decision{}, false, nil
	}
	c, ok, err := store.LookupChatByGrpid(conn, grpid)
	if err != nil {
		return Decision{}, false, err
	}
	if ok {
		selfMember, err := store.IsChatMember(conn, c.ID, store.SELF)
		if err != nil {
			return Decision{}, false, err
		}
		if !selfMember && !r.SelfAddrs[strings.ToLower(env.MemberAdded)] {
			r.logf("chat: refusing to rejoin left group %s without explicit re-add", grpid)
			return Decision{}, false, nil
		}
		return Decision{ChatID: c.ID}, true, nil
	}
	if !allowCreation || env.ChatGroupName == "" || env.MemberRemoved != "" {
		return Decision{}, false, nil
	}
	d, err := r.createGroup(conn, env, grpid)
	if err != nil {
		return Decision{}, false, err
	}
	return d, true, nil
}

func (r *Resolver) resolveMailinglist(conn *sqlite.Conn, env *Envelope, allowCreation bool) (Decision, bool, error) {
	listid := extractListID(env.ListID, env.FromAddr)
	if listid == "" {
		return Decision{}, false, nil
	}
	c, ok, err := store.LookupChatByGrpid(conn, listid)
	if err != nil {
		return Decision{}, false, err
	}
	if ok {
		return Decision{ChatID: c.ID}, true, nil
	}
	if !allowCreation {
		return Decision{}, false, nil
	}
	name := deriveMailinglistName(env.Subject, env.FromName, listid)
	id, err := store.InsertChat(conn, store.ChatMailinglist, name, listid, store.BlockedRequest, []store.ContactID{store.SELF})
	if err != nil {
		return Decision{}, false, err
	}
	if env.ListPost != "" {
		if err := store.SetChatParam(conn, id, store.ParamListPost, env.ListPost); err != nil {
			return Decision{}, false, err
		}
	}
	if err := store.SetChatParam(conn, id, store.ParamListID, listid); err != nil {
		return Decision{}, false, err
	}
	return Decision{ChatID: id}, true, nil
}

func uniqueContacts(env *Envelope) []store.ContactID {
	seen := map[store.ContactID]bool{store.SELF: true}
	var out []store.ContactID
	add := func(id store.ContactID) {
		if id == store.UNDEFINED || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	add(env.FromID)
	for _, id := range env.ToIDs {
		add(id)
	}
	return out
}

func (r *Resolver) createGroup(conn *sqlite.Conn, env *Envelope, grpid string) (Decision, error) {
	members := append(uniqueContacts(env), store.SELF)
	id, err := store.InsertChat(conn, store.ChatGroup, env.ChatGroupName, grpid, store.BlockedNot, members)
	if err != nil {
		return Decision{}, err
	}
	if err := store.SetChatParamInt64(conn, id, store.ParamMemberListTimestamp, env.SentTs); err != nil {
		return Decision{}, err
	}
	if err := store.SetChatParamInt64(conn, id, store.ParamGroupNameTimestamp, env.SentTs); err != nil {
		return Decision{}, err
	}
	return Decision{ChatID: id}, nil
}

func (r *Resolver) createAdHocGroup(conn *sqlite.Conn, env *Envelope, allowCreation bool) (Decision, error) {
	if !allowCreation {
		return Decision{}, nil
	}
	name := env.Subject
	if name == "" {
		name = "Group"
	}
	members := append(uniqueContacts(env), store.SELF)
	id, err := store.InsertChat(conn, store.ChatGroup, name, "", store.BlockedRequest, members)
	if err != nil {
		return Decision{}, err
	}
	return Decision{ChatID: id}, nil
}

func (r *Resolver) resolveSingle(conn *sqlite.Conn, env *Envelope, allowCreation bool) (Decision, error) {
	var peer store.ContactID
	if env.Incoming {
		peer = env.FromID
	} else if len(env.ToIDs) > 0 {
		peer = env.ToIDs[0]
	}
	if peer == store.UNDEFINED {
		return Decision{ChatID: store.UNDEFINED}, nil
	}

	c, ok, err := store.LookupSingleChat(conn, peer)
	if err != nil {
		return Decision{}, err
	}
	if ok {
		return Decision{ChatID: c.ID}, nil
	}
	if !allowCreation {
		return Decision{ChatID: store.UNDEFINED}, nil
	}

	blocked := store.BlockedRequest
	if peerContact, ok, err := store.GetContact(conn, peer); err == nil && ok && peerContact.Blocked == store.BlockedYes {
		blocked = store.BlockedYes
	} else if err != nil {
		return Decision{}, err
	}
	id, err := store.InsertChat(conn, store.ChatSingle, "", "", blocked, []store.ContactID{peer, store.SELF})
	if err != nil {
		return Decision{}, err
	}
	return Decision{ChatID: id, Blocked: blocked}, nil
}

// finishBlocking applies the blocking policy of §4.4: outgoing
// messages unblock their chat, and a reply to a known conversation
// promotes the sender's origin to IncomingReplyTo.
func (r *Resolver) finishBlocking(conn *sqlite.Conn, env *Envelope, d Decision, replaceID store.MsgID) (Decision, error) {
	d.ReplaceMsgID = replaceID
	if d.ChatID == store.UNDEFINED {
		return d, nil
	}
	c, ok, err := store.GetChat(conn, d.ChatID)
	if err != nil {
		return Decision{}, err
	}
	if ok {
		if !env.Incoming && c.Blocked != store.BlockedNot {
			if err := store.SetChatBlocked(conn, d.ChatID, store.BlockedNot); err != nil {
				return Decision{}, err
			}
		}
		d.Blocked = c.Blocked
		if !env.Incoming {
			d.Blocked = store.BlockedNot
		}
	}
	if env.Incoming && env.FromID != store.UNDEFINED {
		if err := contact.UpdateLastSeen(conn, env.FromID, env.SentTs); err != nil {
			return Decision{}, err
		}
		replyToKnown := false
		for _, mid := range append([]string{env.InReplyTo}, env.References...) {
			if mid == "" {
				continue
			}
			_, ok, err := store.LookupMsgByRfc724Mid(conn, mid)
			if err != nil {
				return Decision{}, err
			}
			if ok {
				replyToKnown = true
				break
			}
		}
		if replyToKnown {
			if err := store.BumpContactOrigin(conn, env.FromID, store.OriginIncomingReplyTo); err != nil {
				return Decision{}, err
			}
		}
	}
	return d, nil
}

func (r *Resolver) logf(format string, args ...interface{}) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}
