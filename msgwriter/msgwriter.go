// Package msgwriter is the message writer (C7): it turns one
// classified, chat-resolved envelope into stored rows, computing the
// sort timestamp, the fresh/seen state, and the trashing and
// idempotent-replace paths, then emits the resulting events.
//
// Grounded on spilldb/processor.processSave's "upgrade lock via
// UPDATE first, then write the row" shape, generalized from the
// teacher's single-MsgFull-row write to this module's
// one-or-more-rows-per-envelope split.
package msgwriter

import (
	"io"
	"strings"

	"crawshaw.io/sqlite"

	"veilmail.dev/core/chat"
	"veilmail.dev/core/events"
	"veilmail.dev/core/msgview"
	"veilmail.dev/core/store"
)

// Writer owns the event emitter every write reports through.
type Writer struct {
	Events *events.Emitter
}

// Result is what one envelope produced: the ids of every row written
// (trash writes one row; a split multipart can write several).
type Result struct {
	MsgIDs  []store.MsgID
	Trashed bool
}

// Write stores decision's chat and view's content, applying mutRes's
// info messages and gate error, and emits the events ordering
// guaranteed by this module's specification §5: ChatModified before
// any IncomingMsg/MsgsChanged for a message placed in that chat on
// the same envelope.
func (w *Writer) Write(conn *sqlite.Conn, view *msgview.View, env *chat.Envelope, decision chat.Decision, mutRes chat.MutationResult) (Result, error) {
	if decision.Trashed {
		id, err := w.writeTrash(conn, env)
		if err != nil {
			return Result{}, err
		}
		return Result{MsgIDs: []store.MsgID{id}, Trashed: true}, nil
	}

	if mutRes.ChatModified {
		w.emit(events.ChatModified, decision.ChatID, 0, 0)
	}

	fresh := isFresh(env)
	sortTs, err := w.sortTimestamp(conn, decision.ChatID, env, fresh)
	if err != nil {
		return Result{}, err
	}
	state := messageState(env, fresh)

	var ids []store.MsgID
	bodyParts, attachments := splitUnits(view)

	if len(bodyParts) > 0 || len(attachments) == 0 {
		id, err := w.writeUnit(conn, view, env, decision, state, sortTs, bodyParts)
		if err != nil {
			return Result{}, err
		}
		if decision.ReplaceMsgID != 0 {
			if err := store.ReplaceMsgID(conn, decision.ReplaceMsgID, id); err != nil {
				return Result{}, err
			}
			id = decision.ReplaceMsgID
		}
		if mutRes.GateError != "" {
			if err := store.SetMsgError(conn, id, mutRes.GateError); err != nil {
				return Result{}, err
			}
		}
		ids = append(ids, id)
		w.emitMsg(decision.ChatID, id, fresh, env.Incoming)
		w.emitIfDelivered(decision.ChatID, id, state)
	}

	for _, a := range attachments {
		id, err := w.writeUnit(conn, view, env, decision, state, sortTs, []msgview.Part{a})
		if err != nil {
			return Result{}, err
		}
		ids = append(ids, id)
		w.emitMsg(decision.ChatID, id, fresh, env.Incoming)
		w.emitIfDelivered(decision.ChatID, id, state)
	}

	for _, text := range mutRes.InfoMessages {
		id, err := w.writeInfo(conn, decision.ChatID, env, sortTs, text)
		if err != nil {
			return Result{}, err
		}
		ids = append(ids, id)
	}

	if err := w.maybeUnarchive(conn, decision.ChatID, env, fresh); err != nil {
		return Result{}, err
	}

	return Result{MsgIDs: ids}, nil
}

func (w *Writer) writeTrash(conn *sqlite.Conn, env *chat.Envelope) (store.MsgID, error) {
	return store.InsertMsg(conn, store.Msg{
		ChatID:        store.TRASH,
		Rfc724Mid:     env.Rfc724Mid,
		DownloadState: env.DownloadState,
	})
}

func (w *Writer) writeInfo(conn *sqlite.Conn, chatID store.ChatID, env *chat.Envelope, sortTs int64, text string) (store.MsgID, error) {
	return store.InsertMsg(conn, store.Msg{
		ChatID:        chatID,
		FromID:        store.INFO,
		Rfc724Mid:     env.Rfc724Mid + "." + text,
		TimestampSent: env.SentTs,
		TimestampRcvd: env.RcvdTs,
		TimestampSort: sortTs,
		State:         store.StateInNoticed,
		Viewtype:      "info",
		Txt:           text,
		DownloadState: store.DownloadDone,
	})
}

func (w *Writer) writeUnit(conn *sqlite.Conn, view *msgview.View, env *chat.Envelope, decision chat.Decision, state store.MsgState, sortTs int64, parts []msgview.Part) (store.MsgID, error) {
	var toID store.ContactID
	if len(env.ToIDs) > 0 {
		toID = env.ToIDs[0]
	}

	txt, viewtype := unitText(parts)
	var bytes int64
	for _, p := range parts {
		if p.Content != nil {
			bytes += p.Content.Size()
		}
	}

	id, err := store.InsertMsg(conn, store.Msg{
		ChatID:         decision.ChatID,
		FromID:         env.FromID,
		ToID:           toID,
		Rfc724Mid:      env.Rfc724Mid,
		TimestampSent:  clampFuture(env.SentTs, env.RcvdTs),
		TimestampRcvd:  env.RcvdTs,
		TimestampSort:  sortTs,
		State:          state,
		Viewtype:       viewtype,
		Txt:            txt,
		Subject:        env.Subject,
		Bytes:          bytes,
		MimeInReplyTo:  env.InReplyTo,
		MimeReferences: strings.Join(env.References, " "),
		HopInfo:        env.HopInfo,
		MimeHeaders:    env.MimeHeaders,
		DownloadState:  store.DownloadDone,
		IsDcMessage:    dcKind(env),
	})
	if err != nil {
		return 0, err
	}

	for i, p := range parts {
		content, cerr := readAll(p.Content)
		if cerr != nil {
			return 0, cerr
		}
		if err := store.InsertPart(conn, id, i, p.Name, p.IsBody, p.IsAttachment, p.ContentType, p.ContentID, content, p.ContentTransferEncoding); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func readAll(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	if s, ok := r.(io.Seeker); ok {
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}
	return io.ReadAll(r)
}

func unitText(parts []msgview.Part) (text, viewtype string) {
	for _, p := range parts {
		if p.IsBody && p.Text != "" {
			if text != "" {
				text += "\n\n"
			}
			text += p.Text
		}
	}
	if text != "" {
		return text, "text"
	}
	if len(parts) > 0 {
		return "", "file"
	}
	return "", "text"
}

func splitUnits(view *msgview.View) (body []msgview.Part, attachments []msgview.Part) {
	for _, p := range view.Parts {
		switch {
		case p.IsAttachment:
			attachments = append(attachments, p)
		case p.IsBody:
			body = append(body, p)
		}
	}
	return body, attachments
}

func clampFuture(sentTs, rcvdTs int64) int64 {
	if sentTs > rcvdTs {
		return rcvdTs
	}
	return sentTs
}

func dcKind(env *chat.Envelope) store.IsDcMessage {
	switch {
	case env.HasChatVersion:
		return store.IsDcYes
	case env.InReplyTo != "" || len(env.References) > 0:
		return store.IsDcReply
	default:
		return store.IsDcNo
	}
}

// isFresh implements §4.7's fresh/seen classification.
func isFresh(env *chat.Envelope) bool {
	if !env.Incoming {
		return false
	}
	if env.IsMDN || env.IsStatusUpdateOnly || env.FetchingExisting {
		return false
	}
	return true
}

func messageState(env *chat.Envelope, fresh bool) store.MsgState {
	if !env.Incoming {
		return store.StateOutDelivered
	}
	if fresh {
		return store.StateInFresh
	}
	return store.StateInSeen
}

// sortTimestamp implements §4.7: sort = min(rcvd, max(sent,
// max_sort_in_chat_excluding_fresh, parent_sort)), the inner max
// taken only when the message is fresh.
func (w *Writer) sortTimestamp(conn *sqlite.Conn, chatID store.ChatID, env *chat.Envelope, fresh bool) (int64, error) {
	sent := clampFuture(env.SentTs, env.RcvdTs)
	if !fresh {
		if sent < env.RcvdTs {
			return sent, nil
		}
		return env.RcvdTs, nil
	}

	maxInChat, err := store.MaxSortTimestamp(conn, chatID)
	if err != nil {
		return 0, err
	}
	parentSort, err := parentSortTimestamp(conn, env)
	if err != nil {
		return 0, err
	}
	inner := sent
	if maxInChat > inner {
		inner = maxInChat
	}
	if parentSort > inner {
		inner = parentSort
	}
	if inner < env.RcvdTs {
		return inner, nil
	}
	return env.RcvdTs, nil
}

func parentSortTimestamp(conn *sqlite.Conn, env *chat.Envelope) (int64, error) {
	refs := env.References
	if env.InReplyTo != "" {
		refs = append([]string{env.InReplyTo}, refs...)
	}
	for _, ref := range refs {
		m, ok, err := store.LookupMsgByRfc724Mid(conn, ref)
		if err != nil {
			return 0, err
		}
		if ok && m.ChatID != store.TRASH {
			return m.TimestampSort, nil
		}
	}
	return 0, nil
}

func (w *Writer) maybeUnarchive(conn *sqlite.Conn, chatID store.ChatID, env *chat.Envelope, fresh bool) error {
	if !fresh || env.IsMDN {
		return nil
	}
	c, ok, err := store.GetChat(conn, chatID)
	if err != nil || !ok || !c.Archived {
		return err
	}
	return store.SetChatArchived(conn, chatID, false)
}

func (w *Writer) emitMsg(chatID store.ChatID, msgID store.MsgID, fresh, incoming bool) {
	if fresh && incoming {
		w.emit(events.IncomingMsg, chatID, msgID, 0)
		return
	}
	w.emit(events.MsgsChanged, chatID, msgID, 0)
}

// emitIfDelivered fires MsgDelivered when this account's own outgoing
// message has just been seen arriving back in its own mailbox, the
// self-sent echo that confirms it reached the server.
func (w *Writer) emitIfDelivered(chatID store.ChatID, msgID store.MsgID, state store.MsgState) {
	if state == store.StateOutDelivered {
		w.emit(events.MsgDelivered, chatID, msgID, 0)
	}
}

func (w *Writer) emit(kind events.Kind, chatID store.ChatID, msgID store.MsgID, contactID store.ContactID) {
	if w.Events == nil {
		return
	}
	w.Events.Emit(events.Event{Kind: kind, ChatID: chatID, MsgID: msgID, ContactID: contactID})
}
