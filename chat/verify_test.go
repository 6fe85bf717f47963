package chat_test

import (
	"context"
	"testing"

	"veilmail.dev/core/chat"
	"veilmail.dev/core/peerstate"
	"veilmail.dev/core/pgpengine"
	"veilmail.dev/core/pgpengine/pgptest"
	"veilmail.dev/core/store"
)

func TestVerifyRequiresEncryption(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	r := &chat.Resolver{Peerstates: peerstate.NewCache()}
	env := &chat.Envelope{WasEncrypted: false}

	msg, ok, err := r.Verify(conn, env)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("Verify must fail on an unencrypted envelope")
	}
	if want := "End-to-end encryption is required for a protected chat"; msg != want {
		t.Errorf("msg = %q, want %q", msg, want)
	}
}

func TestVerifySenderNotVerified(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	peers := peerstate.NewCache()
	peer := insertPeer(t, conn, "alice@example.com")

	r := &chat.Resolver{Peerstates: peers}
	env := &chat.Envelope{
		WasEncrypted: true,
		FromID:       peer,
		FromAddr:     "alice@example.com",
		Signatures:   map[pgpengine.Fingerprint]bool{},
	}

	msg, ok, err := r.Verify(conn, env)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("Verify must fail when the sender has no verified key on file")
	}
	if want := "Sender is not verified"; msg != want {
		t.Errorf("msg = %q, want %q", msg, want)
	}
}

func TestVerifySucceedsWithGossipPromotion(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	peers := peerstate.NewCache()
	engine := pgptest.Engine{}
	senderID := insertPeer(t, conn, "alice@example.com")

	// Establish alice's public key, then promote a matching gossip key
	// to verified — simulating a prior protected-chat introduction.
	if err := peers.IngestAutocrypt(conn, engine, peerstate.AutocryptHeader{
		Addr: "alice@example.com", PreferEncrypt: "mutual", KeyData: []byte("alice-key"),
	}, 1000); err != nil {
		t.Fatal(err)
	}
	aliceFP, err := engine.Fingerprint([]byte("alice-key"))
	if err != nil {
		t.Fatal(err)
	}
	promoted, err := peers.PromoteGossip(conn, pgpengine.GossipKey{
		Addr: "alice@example.com",
		Key:  pgpengine.Key{Data: []byte("alice-key"), Fingerprint: aliceFP},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !promoted {
		t.Fatal("setup: alice's key should have promoted to verified")
	}

	// team@example.com already has a known public key but is not yet
	// verified; this envelope carries a matching gossip key for it.
	if err := peers.IngestAutocrypt(conn, engine, peerstate.AutocryptHeader{
		Addr: "team@example.com", PreferEncrypt: "mutual", KeyData: []byte("team-key"),
	}, 1000); err != nil {
		t.Fatal(err)
	}
	teamFP, err := engine.Fingerprint([]byte("team-key"))
	if err != nil {
		t.Fatal(err)
	}

	r := &chat.Resolver{Peerstates: peers, SelfAddrs: map[string]bool{}}
	env := &chat.Envelope{
		WasEncrypted: true,
		FromID:       senderID,
		FromAddr:     "alice@example.com",
		ToAddrs:      []string{"team@example.com"},
		Signatures:   map[pgpengine.Fingerprint]bool{aliceFP: true},
		Gossip: []pgpengine.GossipKey{
			{Addr: "team@example.com", Key: pgpengine.Key{Data: []byte("team-key"), Fingerprint: teamFP}},
		},
		GossipedAddr: map[string]bool{"team@example.com": true},
	}

	msg, ok, err := r.Verify(conn, env)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("Verify failed: %q", msg)
	}
	if msg != "" {
		t.Errorf("msg = %q, want empty on success", msg)
	}

	verified, err := peers.IsVerified(conn, "team@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !verified {
		t.Error("team@example.com should now be verified after gossip promotion")
	}
}

func TestVerifyFailsWhenRecipientNotAMember(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	peers := peerstate.NewCache()
	engine := pgptest.Engine{}
	senderID := insertPeer(t, conn, "alice@example.com")

	if err := peers.IngestAutocrypt(conn, engine, peerstate.AutocryptHeader{
		Addr: "alice@example.com", PreferEncrypt: "mutual", KeyData: []byte("alice-key"),
	}, 1000); err != nil {
		t.Fatal(err)
	}
	aliceFP, err := engine.Fingerprint([]byte("alice-key"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := peers.PromoteGossip(conn, pgpengine.GossipKey{
		Addr: "alice@example.com",
		Key:  pgpengine.Key{Data: []byte("alice-key"), Fingerprint: aliceFP},
	}); err != nil {
		t.Fatal(err)
	}

	r := &chat.Resolver{Peerstates: peers, SelfAddrs: map[string]bool{}}
	env := &chat.Envelope{
		WasEncrypted: true,
		FromID:       senderID,
		FromAddr:     "alice@example.com",
		ToAddrs:      []string{"stranger@example.com"},
		Signatures:   map[pgpengine.Fingerprint]bool{aliceFP: true},
	}

	msg, ok, err := r.Verify(conn, env)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("Verify must fail when a recipient has no verified key and no usable gossip")
	}
	if want := "stranger@example.com is not a member of this protected chat"; msg != want {
		t.Errorf("msg = %q, want %q", msg, want)
	}
}
