package chat_test

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"veilmail.dev/core/chat"
	"veilmail.dev/core/store"
)

func newTestPool(t *testing.T) *sqlitex.Pool {
	t.Helper()
	dir, err := ioutil.TempDir("", "chat-resolve-test-")
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

func newResolver() *chat.Resolver {
	return &chat.Resolver{ShowEmails: chat.ShowEmailsAcceptedContacts}
}

func insertPeer(t *testing.T, conn *sqlite.Conn, addr string) store.ContactID {
	t.Helper()
	id, err := store.InsertContact(conn, addr, addr, store.OriginIncomingUnknownFrom)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestResolveDuplicateGateRejectsAlreadyProcessed(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	r := newResolver()
	peer := insertPeer(t, conn, "alice@example.com")

	chatID, err := store.InsertChat(conn, store.ChatSingle, "", "", store.BlockedNot, []store.ContactID{store.SELF, peer})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.InsertMsg(conn, store.Msg{
		ChatID:        chatID,
		FromID:        peer,
		Rfc724Mid:     "dup1@example.com",
		DownloadState: store.DownloadDone,
	}); err != nil {
		t.Fatal(err)
	}

	env := &chat.Envelope{
		Rfc724Mid:     "dup1@example.com",
		FromID:        peer,
		Incoming:      true,
		DownloadState: store.DownloadDone,
	}
	if _, err := r.Resolve(conn, env); err != chat.ErrAlreadyProcessed {
		t.Errorf("Resolve = %v, want ErrAlreadyProcessed", err)
	}
}

func TestResolveTwoAdHocChatsAreNotMerged(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	r := &chat.Resolver{ShowEmails: chat.ShowEmailsAll}
	alice := insertPeer(t, conn, "alice@example.com")
	bob := insertPeer(t, conn, "bob@example.com")
	carol := insertPeer(t, conn, "carol@example.com")

	env1 := &chat.Envelope{
		Rfc724Mid: "adhoc1@example.com",
		Subject:   "Trip planning",
		FromID:    alice,
		ToIDs:     []store.ContactID{store.SELF, bob},
		Incoming:  true,
	}
	d1, err := r.Resolve(conn, env1)
	if err != nil {
		t.Fatal(err)
	}
	if d1.ChatID == store.UNDEFINED {
		t.Fatalf("first ad-hoc group was not created")
	}

	env2 := &chat.Envelope{
		Rfc724Mid: "adhoc2@example.com",
		Subject:   "Trip planning",
		FromID:    carol,
		ToIDs:     []store.ContactID{store.SELF, bob},
		Incoming:  true,
	}
	d2, err := r.Resolve(conn, env2)
	if err != nil {
		t.Fatal(err)
	}
	if d2.ChatID == store.UNDEFINED {
		t.Fatalf("second ad-hoc group was not created")
	}
	if d1.ChatID == d2.ChatID {
		t.Errorf("two independent ad-hoc chats with different participants must not merge into chat %v", d1.ChatID)
	}
}

func TestResolveAdHocReplyStability(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	r := newResolver()
	claire := insertPeer(t, conn, "claire@example.com")
	alice := insertPeer(t, conn, "alice@example.com")
	bob := insertPeer(t, conn, "bob@example.com")

	msgA := &chat.Envelope{
		Rfc724Mid:      "1@x",
		Subject:        "T1",
		HasChatVersion: true,
		FromID:         claire,
		ToIDs:          []store.ContactID{store.SELF, alice, bob},
		Incoming:       true,
	}
	dA, err := r.Resolve(conn, msgA)
	if err != nil {
		t.Fatal(err)
	}
	if dA.ChatID == store.UNDEFINED {
		t.Fatal("message A did not resolve to a chat")
	}
	if _, err := store.InsertMsg(conn, store.Msg{ChatID: dA.ChatID, Rfc724Mid: "1@x", TimestampSent: 100}); err != nil {
		t.Fatal(err)
	}

	msgB := &chat.Envelope{
		Rfc724Mid:      "2@x",
		Subject:        "T2",
		HasChatVersion: true,
		FromID:         claire,
		ToIDs:          []store.ContactID{store.SELF, alice, bob},
		Incoming:       true,
	}
	dB, err := r.Resolve(conn, msgB)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.InsertMsg(conn, store.Msg{ChatID: dB.ChatID, Rfc724Mid: "2@x", TimestampSent: 110}); err != nil {
		t.Fatal(err)
	}

	r1 := &chat.Envelope{
		Rfc724Mid:      "r1@x",
		InReplyTo:      "1@x",
		HasChatVersion: true,
		FromID:         alice,
		ToIDs:          []store.ContactID{store.SELF, claire, bob},
		Incoming:       true,
	}
	dR1, err := r.Resolve(conn, r1)
	if err != nil {
		t.Fatal(err)
	}
	if dR1.ChatID != dA.ChatID {
		t.Errorf("R1.ChatID = %v, want A's chat %v (In-Reply-To must win over a fresh ad-hoc match)", dR1.ChatID, dA.ChatID)
	}
	if dB.ChatID == dA.ChatID {
		t.Errorf("B.ChatID = %v, same as A's chat %v, want a distinct ad-hoc chat (no shared In-Reply-To)", dB.ChatID, dA.ChatID)
	}
}

func TestResolveMailinglistNameDerivation(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	r := &chat.Resolver{ShowEmails: chat.ShowEmailsAll}
	sender := insertPeer(t, conn, "info@atlasobscura.com")

	const listid = "399fc0....100761.list-id.mcsv.net"
	env := &chat.Envelope{
		Rfc724Mid:       "atlas1@mcsv.net",
		ListID:          "<" + listid + ">",
		FromID:          sender,
		FromAddr:        "info@atlasobscura.com",
		FromName:        "Atlas Obscura",
		MailinglistType: 1, // mirrors msgview.MailinglistListIDBased
		ToIDs:           []store.ContactID{store.SELF},
		Incoming:        true,
	}
	d, err := r.Resolve(conn, env)
	if err != nil {
		t.Fatal(err)
	}
	if d.ChatID == store.UNDEFINED {
		t.Fatal("mailinglist chat was not created")
	}

	c, ok, err := store.GetChat(conn, d.ChatID)
	if err != nil || !ok {
		t.Fatal(err)
	}
	if c.Type != store.ChatMailinglist {
		t.Errorf("Type = %v, want ChatMailinglist", c.Type)
	}
	if c.Grpid != listid {
		t.Errorf("Grpid = %q, want the List-Id %q", c.Grpid, listid)
	}
	if c.Name != "Atlas Obscura" {
		t.Errorf("Name = %q, want %q", c.Name, "Atlas Obscura")
	}
	if c.Blocked != store.BlockedRequest {
		t.Errorf("Blocked = %v, want BlockedRequest", c.Blocked)
	}
	if listPost, ok := store.GetChatParam(conn, d.ChatID, store.ParamListPost); ok && listPost != "" {
		t.Errorf("ParamListPost = %q, want unset (no List-Post header means read-only)", listPost)
	}
}

func TestResolveTrashesDSNAndMDN(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	r := newResolver()
	peer := insertPeer(t, conn, "mailer-daemon@example.com")

	dsn := &chat.Envelope{Rfc724Mid: "dsn1@example.com", FromID: peer, Incoming: true, IsDSN: true}
	d, err := r.Resolve(conn, dsn)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Trashed || d.ChatID != store.TRASH {
		t.Errorf("DSN envelope: Trashed=%v ChatID=%v, want trashed into TRASH", d.Trashed, d.ChatID)
	}

	mdn := &chat.Envelope{Rfc724Mid: "mdn1@example.com", FromID: peer, Incoming: true, IsMDN: true}
	d, err = r.Resolve(conn, mdn)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Trashed || d.ChatID != store.TRASH {
		t.Errorf("MDN envelope: Trashed=%v ChatID=%v, want trashed into TRASH", d.Trashed, d.ChatID)
	}
}

func TestResolveClassicalEmailTrashedWhenShowEmailsOff(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	r := &chat.Resolver{ShowEmails: chat.ShowEmailsOff}
	peer := insertPeer(t, conn, "newsletter@example.com")

	env := &chat.Envelope{
		Rfc724Mid:      "classic1@example.com",
		FromID:         peer,
		Incoming:       true,
		HasChatVersion: false,
	}
	d, err := r.Resolve(conn, env)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Trashed || d.ChatID != store.TRASH {
		t.Errorf("classical email with show_emails=Off: Trashed=%v ChatID=%v, want trashed", d.Trashed, d.ChatID)
	}
}

func TestResolveGroupReplyJoinsExistingGrpid(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	r := newResolver()
	alice := insertPeer(t, conn, "alice@example.com")

	first := &chat.Envelope{
		Rfc724Mid:      "Gr.abcdefghijk.1@example.com",
		ChatGroupName:  "Hiking crew",
		HasChatVersion: true,
		FromID:         alice,
		ToIDs:          []store.ContactID{store.SELF},
		Incoming:       true,
	}
	d1, err := r.Resolve(conn, first)
	if err != nil {
		t.Fatal(err)
	}
	if d1.ChatID == store.UNDEFINED {
		t.Fatal("group was not created from the first grpid message")
	}

	second := &chat.Envelope{
		Rfc724Mid:      "Gr.abcdefghijk.2@example.com",
		ChatGroupID:    "abcdefghijk",
		HasChatVersion: true,
		FromID:         alice,
		ToIDs:          []store.ContactID{store.SELF},
		Incoming:       true,
	}
	d2, err := r.Resolve(conn, second)
	if err != nil {
		t.Fatal(err)
	}
	if d2.ChatID != d1.ChatID {
		t.Errorf("second message sharing a grpid resolved to chat %v, want %v", d2.ChatID, d1.ChatID)
	}
}

func TestResolveSingleChatReusedAcrossMessages(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	r := newResolver()
	alice := insertPeer(t, conn, "alice@example.com")

	env1 := &chat.Envelope{Rfc724Mid: "single1@example.com", FromID: alice, ToIDs: []store.ContactID{store.SELF}, Incoming: true, HasChatVersion: true}
	d1, err := r.Resolve(conn, env1)
	if err != nil {
		t.Fatal(err)
	}

	env2 := &chat.Envelope{Rfc724Mid: "single2@example.com", FromID: alice, ToIDs: []store.ContactID{store.SELF}, Incoming: true, HasChatVersion: true}
	d2, err := r.Resolve(conn, env2)
	if err != nil {
		t.Fatal(err)
	}
	if d2.ChatID != d1.ChatID {
		t.Errorf("two messages from the same peer resolved to different 1:1 chats: %v vs %v", d1.ChatID, d2.ChatID)
	}
}
