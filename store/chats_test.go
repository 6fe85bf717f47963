package store_test

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"crawshaw.io/sqlite/sqlitex"

	"veilmail.dev/core/store"
)

func newTestPool(t *testing.T) *sqlitex.Pool {
	t.Helper()
	dir, err := ioutil.TempDir("", "store-test-")
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

func TestLookupSelfChatVsLookupSingleChat(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	peer, err := store.InsertContact(conn, "peer@example.com", "Peer", store.OriginIncomingUnknownFrom)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok, err := store.LookupSelfChat(conn); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Fatalf("LookupSelfChat found a chat before any was created")
	}
	if _, ok, err := store.LookupSingleChat(conn, peer); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Fatalf("LookupSingleChat found a chat before any was created")
	}

	peerChatID, err := store.InsertChat(conn, store.ChatSingle, "", "", store.BlockedNot, []store.ContactID{store.SELF, peer})
	if err != nil {
		t.Fatal(err)
	}

	// LookupSelfChat must not be fooled by the ordinary 1:1 chat
	// (SELF is a member of every Single chat, but is not its only
	// member).
	if _, ok, err := store.LookupSelfChat(conn); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Fatalf("LookupSelfChat incorrectly matched the peer 1:1 chat")
	}

	got, ok, err := store.LookupSingleChat(conn, peer)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got.ID != peerChatID {
		t.Fatalf("LookupSingleChat = %v, %v, want %v, true", got.ID, ok, peerChatID)
	}

	selfChatID, err := store.InsertChat(conn, store.ChatSingle, "", "", store.BlockedNot, []store.ContactID{store.SELF})
	if err != nil {
		t.Fatal(err)
	}

	self, ok, err := store.LookupSelfChat(conn)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || self.ID != selfChatID {
		t.Fatalf("LookupSelfChat = %v, %v, want %v, true", self.ID, ok, selfChatID)
	}
}

func TestSetContactStatus(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	id, err := store.InsertContact(conn, "a@example.com", "A", store.OriginIncomingUnknownFrom)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetContactStatus(conn, id, "on my bike"); err != nil {
		t.Fatal(err)
	}
	c, ok, err := store.GetContact(conn, id)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || c.Status != "on my bike" {
		t.Fatalf("Status = %q, want %q", c.Status, "on my bike")
	}
}
