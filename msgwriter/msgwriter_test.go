package msgwriter_test

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"crawshaw.io/sqlite/sqlitex"

	"veilmail.dev/core/chat"
	"veilmail.dev/core/events"
	"veilmail.dev/core/msgview"
	"veilmail.dev/core/msgwriter"
	"veilmail.dev/core/store"
)

func newTestPool(t *testing.T) *sqlitex.Pool {
	t.Helper()
	dir, err := ioutil.TempDir("", "msgwriter-test-")
	if err != nil {
		t.Fatal(err)
	}
	pool, err := store.Open(filepath.Join(dir, "account.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestWriteFreshIncomingEmitsIncomingMsgAfterChatModified(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	peer, err := store.InsertContact(conn, "alice@example.com", "Alice", store.OriginIncomingUnknownFrom)
	if err != nil {
		t.Fatal(err)
	}
	chatID, err := store.InsertChat(conn, store.ChatSingle, "", "", store.BlockedNot, []store.ContactID{store.SELF, peer})
	if err != nil {
		t.Fatal(err)
	}

	emitter := &events.Emitter{}
	ch := emitter.Subscribe(8)
	w := &msgwriter.Writer{Events: emitter}

	env := &chat.Envelope{
		Rfc724Mid: "fresh1@example.com",
		FromID:    peer,
		ToIDs:     []store.ContactID{store.SELF},
		SentTs:    1000,
		RcvdTs:    1000,
		Incoming:  true,
	}
	decision := chat.Decision{ChatID: chatID}
	mutRes := chat.MutationResult{ChatModified: true}

	res, err := w.Write(conn, &msgview.View{}, env, decision, mutRes)
	if err != nil {
		t.Fatal(err)
	}
	if res.Trashed || len(res.MsgIDs) != 1 {
		t.Fatalf("Write result = %+v, want one non-trashed message", res)
	}

	var kinds []events.Kind
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			kinds = append(kinds, ev.Kind)
		default:
			t.Fatalf("expected 2 events, got %d", i)
		}
	}
	if len(kinds) != 2 || kinds[0] != events.ChatModified || kinds[1] != events.IncomingMsg {
		t.Errorf("event order = %v, want [ChatModified, IncomingMsg]", kinds)
	}
}

func TestWriteClassifiesMDNAsSeenNotFresh(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	peer, err := store.InsertContact(conn, "alice@example.com", "Alice", store.OriginIncomingUnknownFrom)
	if err != nil {
		t.Fatal(err)
	}
	chatID, err := store.InsertChat(conn, store.ChatSingle, "", "", store.BlockedNot, []store.ContactID{store.SELF, peer})
	if err != nil {
		t.Fatal(err)
	}

	w := &msgwriter.Writer{}
	env := &chat.Envelope{
		Rfc724Mid: "mdn1@example.com",
		FromID:    peer,
		ToIDs:     []store.ContactID{store.SELF},
		SentTs:    1000,
		RcvdTs:    1000,
		Incoming:  true,
		IsMDN:     true,
	}
	res, err := w.Write(conn, &msgview.View{}, env, chat.Decision{ChatID: chatID}, chat.MutationResult{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.MsgIDs) != 1 {
		t.Fatalf("MsgIDs = %v, want 1", res.MsgIDs)
	}
	msg, ok, err := store.GetMsg(conn, res.MsgIDs[0])
	if err != nil || !ok {
		t.Fatal(err)
	}
	if msg.State != store.StateInSeen {
		t.Errorf("State = %v, want StateInSeen for an MDN", msg.State)
	}
}

func TestWriteSelfSentEchoEmitsMsgDelivered(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	peer, err := store.InsertContact(conn, "alice@example.com", "Alice", store.OriginIncomingUnknownFrom)
	if err != nil {
		t.Fatal(err)
	}
	chatID, err := store.InsertChat(conn, store.ChatSingle, "", "", store.BlockedNot, []store.ContactID{store.SELF, peer})
	if err != nil {
		t.Fatal(err)
	}

	emitter := &events.Emitter{}
	ch := emitter.Subscribe(8)
	w := &msgwriter.Writer{Events: emitter}

	env := &chat.Envelope{
		Rfc724Mid: "sent1@example.com",
		FromID:    store.SELF,
		ToIDs:     []store.ContactID{peer},
		SentTs:    1000,
		RcvdTs:    1000,
		Incoming:  false,
	}
	res, err := w.Write(conn, &msgview.View{}, env, chat.Decision{ChatID: chatID}, chat.MutationResult{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.MsgIDs) != 1 {
		t.Fatalf("MsgIDs = %v, want 1", res.MsgIDs)
	}
	msg, ok, err := store.GetMsg(conn, res.MsgIDs[0])
	if err != nil || !ok {
		t.Fatal(err)
	}
	if msg.State != store.StateOutDelivered {
		t.Errorf("State = %v, want StateOutDelivered for a self-sent echo", msg.State)
	}

	var gotDelivered bool
	for {
		select {
		case ev := <-ch:
			if ev.Kind == events.MsgDelivered {
				gotDelivered = true
			}
		default:
			if !gotDelivered {
				t.Error("MsgDelivered was not emitted for a self-sent echo")
			}
			return
		}
	}
}

func TestWriteIdempotentReplaceReusesMsgID(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	peer, err := store.InsertContact(conn, "alice@example.com", "Alice", store.OriginIncomingUnknownFrom)
	if err != nil {
		t.Fatal(err)
	}
	chatID, err := store.InsertChat(conn, store.ChatSingle, "", "", store.BlockedNot, []store.ContactID{store.SELF, peer})
	if err != nil {
		t.Fatal(err)
	}

	partialID, err := store.InsertMsg(conn, store.Msg{
		ChatID:        chatID,
		FromID:        peer,
		Rfc724Mid:     "partial1@example.com",
		DownloadState: store.DownloadAvailable,
	})
	if err != nil {
		t.Fatal(err)
	}

	w := &msgwriter.Writer{}
	env := &chat.Envelope{
		Rfc724Mid:     "partial1@example.com",
		FromID:        peer,
		ToIDs:         []store.ContactID{store.SELF},
		SentTs:        1000,
		RcvdTs:        1000,
		Incoming:      true,
		DownloadState: store.DownloadDone,
	}
	decision := chat.Decision{ChatID: chatID, ReplaceMsgID: partialID}
	res, err := w.Write(conn, &msgview.View{}, env, decision, chat.MutationResult{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.MsgIDs) != 1 || res.MsgIDs[0] != partialID {
		t.Errorf("MsgIDs = %v, want the reused partial id %v", res.MsgIDs, partialID)
	}
	msg, ok, err := store.GetMsg(conn, partialID)
	if err != nil || !ok {
		t.Fatal(err)
	}
	if msg.DownloadState != store.DownloadDone {
		t.Errorf("DownloadState = %v, want DownloadDone after replace", msg.DownloadState)
	}
}

func TestWriteTrashedStoresTombstoneOnly(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	w := &msgwriter.Writer{}
	env := &chat.Envelope{Rfc724Mid: "spam1@example.com", DownloadState: store.DownloadDone}
	decision := chat.Decision{ChatID: store.TRASH, Trashed: true, TrashReason: "delivery status report"}

	res, err := w.Write(conn, &msgview.View{}, env, decision, chat.MutationResult{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Trashed || len(res.MsgIDs) != 1 {
		t.Fatalf("Write result = %+v, want one trashed tombstone", res)
	}
	msg, ok, err := store.GetMsg(conn, res.MsgIDs[0])
	if err != nil || !ok {
		t.Fatal(err)
	}
	if msg.ChatID != store.TRASH {
		t.Errorf("ChatID = %v, want TRASH", msg.ChatID)
	}
}
