package peerstate_test

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"crawshaw.io/sqlite/sqlitex"

	"veilmail.dev/core/peerstate"
	"veilmail.dev/core/pgpengine"
	"veilmail.dev/core/pgpengine/pgptest"
	"veilmail.dev/core/store"
)

func newTestPool(t *testing.T) *sqlitex.Pool {
	t.Helper()
	dir, err := ioutil.TempDir("", "peerstate-test-")
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

func TestIngestAutocryptFreshnessGate(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	cache := peerstate.NewCache()
	engine := pgptest.Engine{}

	hdr := peerstate.AutocryptHeader{Addr: "alice@example.com", PreferEncrypt: "mutual", KeyData: []byte("key-v1")}
	if err := cache.IngestAutocrypt(conn, engine, hdr, 1000); err != nil {
		t.Fatal(err)
	}

	// An older header must not overwrite the newer one.
	stale := peerstate.AutocryptHeader{Addr: "alice@example.com", PreferEncrypt: "nopreference", KeyData: []byte("key-v0")}
	if err := cache.IngestAutocrypt(conn, engine, stale, 500); err != nil {
		t.Fatal(err)
	}

	p, ok, err := store.LookupPeerstate(conn, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("peerstate not found")
	}
	if p.PreferEncrypt != store.PreferEncryptMutual {
		t.Errorf("PreferEncrypt = %v, want mutual (stale header must not override)", p.PreferEncrypt)
	}

	// A newer header does override.
	newer := peerstate.AutocryptHeader{Addr: "alice@example.com", PreferEncrypt: "nopreference", KeyData: []byte("key-v2")}
	if err := cache.IngestAutocrypt(conn, engine, newer, 2000); err != nil {
		t.Fatal(err)
	}
	p, _, err = store.LookupPeerstate(conn, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if p.PreferEncrypt != store.PreferEncryptNoPreference {
		t.Errorf("PreferEncrypt = %v, want nopreference after fresher header", p.PreferEncrypt)
	}
}

func TestAgeOutResetsPreferEncrypt(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	cache := peerstate.NewCache()
	engine := pgptest.Engine{}

	now := time.Now()
	hdr := peerstate.AutocryptHeader{Addr: "bob@example.com", PreferEncrypt: "mutual", KeyData: []byte("bob-key")}
	if err := cache.IngestAutocrypt(conn, engine, hdr, now.Add(-40*24*time.Hour).Unix()); err != nil {
		t.Fatal(err)
	}

	if err := cache.AgeOut(conn, "bob@example.com", now); err != nil {
		t.Fatal(err)
	}

	p, ok, err := store.LookupPeerstate(conn, "bob@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || p.PreferEncrypt != store.PreferEncryptReset {
		t.Errorf("PreferEncrypt = %v, ok=%v, want reset", p.PreferEncrypt, ok)
	}
}

func TestPromoteGossipRequiresFingerprintMatch(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	cache := peerstate.NewCache()
	engine := pgptest.Engine{}

	hdr := peerstate.AutocryptHeader{Addr: "carol@example.com", PreferEncrypt: "mutual", KeyData: []byte("carol-key")}
	if err := cache.IngestAutocrypt(conn, engine, hdr, 1000); err != nil {
		t.Fatal(err)
	}
	fp, err := engine.Fingerprint([]byte("carol-key"))
	if err != nil {
		t.Fatal(err)
	}

	// Gossip for a different key: recorded, but not promoted.
	otherFP, _ := engine.Fingerprint([]byte("some-other-key"))
	promoted, err := cache.PromoteGossip(conn, pgpengine.GossipKey{
		Addr: "carol@example.com",
		Key:  pgpengine.Key{Data: []byte("some-other-key"), Fingerprint: otherFP},
	})
	if err != nil {
		t.Fatal(err)
	}
	if promoted {
		t.Errorf("gossip for an unrelated key must not promote")
	}
	if v, _ := cache.IsVerified(conn, "carol@example.com"); v {
		t.Errorf("IsVerified = true after an unrelated gossip key")
	}

	// Gossip matching the known public fingerprint: promoted to verified.
	promoted, err = cache.PromoteGossip(conn, pgpengine.GossipKey{
		Addr: "carol@example.com",
		Key:  pgpengine.Key{Data: []byte("carol-key"), Fingerprint: fp},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !promoted {
		t.Errorf("gossip matching the public fingerprint must promote")
	}
	if v, _ := cache.IsVerified(conn, "carol@example.com"); !v {
		t.Errorf("IsVerified = false after matching gossip promotion")
	}
}
