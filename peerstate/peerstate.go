// Package peerstate caches and updates the per-remote-address view of
// advertised, gossiped, and verified OpenPGP keys that the rest of
// this module consults for encryption and verification decisions.
//
// The in-process cache is grounded on spilldb/processor.Processor's
// maxReadyDateMu/maxReadyDate pattern: a small piece of shared state
// guarded by one sync.Mutex for the duration of a read-modify-write,
// generalized here from a single int64 to a map of addr->Peerstate.
package peerstate

import (
	"strings"
	"sync"
	"time"

	"crawshaw.io/sqlite"

	"veilmail.dev/core/pgpengine"
	"veilmail.dev/core/store"
)

// ResetThreshold is how long an Autocrypt header may be absent from a
// known sender before prefer_encrypt is aged out to reset.
const ResetThreshold = 35 * 24 * time.Hour

// Cache is the process-wide write-through peerstate cache named in
// §5 of this module's specification. One Cache serves every envelope
// reception for one account.
type Cache struct {
	mu    sync.Mutex
	byAddr map[string]store.Peerstate
}

func NewCache() *Cache {
	return &Cache{byAddr: make(map[string]store.Peerstate)}
}

// Get returns the cached peerstate for addr, loading it from conn on
// a cache miss.
func (c *Cache) Get(conn *sqlite.Conn, addr string) (store.Peerstate, bool, error) {
	addr = strings.ToLower(addr)
	c.mu.Lock()
	if p, ok := c.byAddr[addr]; ok {
		c.mu.Unlock()
		return p, true, nil
	}
	c.mu.Unlock()

	p, ok, err := store.LookupPeerstate(conn, addr)
	if err != nil || !ok {
		return store.Peerstate{}, ok, err
	}
	c.mu.Lock()
	c.byAddr[addr] = p
	c.mu.Unlock()
	return p, true, nil
}

// save persists p to conn and the cache under one lock, mirroring the
// teacher's "hold the lock for the duration of save_to_db" comment in
// this module's specification §5.
func (c *Cache) save(conn *sqlite.Conn, p store.Peerstate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := store.SavePeerstate(conn, p); err != nil {
		return err
	}
	c.byAddr[p.Addr] = p
	return nil
}

// AutocryptHeader is the subset of an Autocrypt: (or
// Autocrypt-Gossip:) header this package needs.
type AutocryptHeader struct {
	Addr          string
	PreferEncrypt string // "mutual", "nopreference", or "" (absent)
	KeyData       []byte
}

// IngestAutocrypt applies one Autocrypt: header seen at sentTs,
// following the freshness rule: ingested only when sentTs is not
// older than the stored LastSeenAutocrypt.
func (c *Cache) IngestAutocrypt(conn *sqlite.Conn, engine pgpengine.Engine, hdr AutocryptHeader, sentTs int64) error {
	addr := strings.ToLower(hdr.Addr)
	p, ok, err := c.Get(conn, addr)
	if err != nil {
		return err
	}
	if ok && sentTs < p.LastSeenAutocrypt {
		return nil
	}
	if !ok {
		p = store.Peerstate{Addr: addr}
	}

	fp, err := engine.Fingerprint(hdr.KeyData)
	if err != nil {
		return err
	}
	p.PublicKey = hdr.KeyData
	p.PublicKeyFingerprint = fp.String()
	p.LastSeenAutocrypt = sentTs
	if sentTs > p.LastSeen {
		p.LastSeen = sentTs
	}
	switch hdr.PreferEncrypt {
	case "mutual":
		p.PreferEncrypt = store.PreferEncryptMutual
	default:
		p.PreferEncrypt = store.PreferEncryptNoPreference
	}
	return c.save(conn, p)
}

// AgeOut moves a known sender's prefer_encrypt to reset when no
// Autocrypt header has been seen from them since before now minus
// ResetThreshold.
func (c *Cache) AgeOut(conn *sqlite.Conn, addr string, now time.Time) error {
	p, ok, err := c.Get(conn, addr)
	if err != nil || !ok {
		return err
	}
	if p.PreferEncrypt == store.PreferEncryptReset {
		return nil
	}
	cutoff := now.Add(-ResetThreshold).Unix()
	if p.LastSeenAutocrypt >= cutoff {
		return nil
	}
	p.PreferEncrypt = store.PreferEncryptReset
	return c.save(conn, p)
}

// HasVerifiedKey reports whether addr has a verified-key fingerprint
// that appears in signers.
func (c *Cache) HasVerifiedKey(conn *sqlite.Conn, addr string, signers map[pgpengine.Fingerprint]bool) (bool, error) {
	p, ok, err := c.Get(conn, addr)
	if err != nil || !ok || p.VerifiedKeyFingerprint == "" {
		return false, err
	}
	for fp := range signers {
		if fp.String() == p.VerifiedKeyFingerprint {
			return true, nil
		}
	}
	return false, nil
}

// IsVerified reports whether addr currently has a verified key on
// file, independent of any particular signer set.
func (c *Cache) IsVerified(conn *sqlite.Conn, addr string) (bool, error) {
	p, ok, err := c.Get(conn, addr)
	if err != nil || !ok {
		return false, err
	}
	return p.VerifiedKeyFingerprint != "", nil
}

// PromoteGossip copies a gossiped key into verified_key when its
// fingerprint matches the existing public or gossip fingerprint and
// the caller has established that the carrier is a protected chat
// member (checked by the verification gate, package chat, not here).
// promoted reports whether the gossip evidence was strong enough to
// become a verified key; when false the key is recorded only as
// gossip, for next time.
func (c *Cache) PromoteGossip(conn *sqlite.Conn, gossip pgpengine.GossipKey) (promoted bool, err error) {
	addr := strings.ToLower(gossip.Addr)
	p, ok, err := c.Get(conn, addr)
	if err != nil {
		return false, err
	}
	if !ok {
		p = store.Peerstate{Addr: addr}
	}
	fp := gossip.Key.Fingerprint.String()
	if fp != p.PublicKeyFingerprint && fp != p.GossipKeyFingerprint {
		p.GossipKey = gossip.Key.Data
		p.GossipKeyFingerprint = fp
		return false, c.save(conn, p)
	}
	p.VerifiedKey = gossip.Key.Data
	p.VerifiedKeyFingerprint = fp
	return true, c.save(conn, p)
}
