package store

import (
	"crawshaw.io/sqlite"
)

// Peerstate is one row of the Peerstates table: the cached
// cryptographic view of a remote address.
type Peerstate struct {
	Addr                   string
	LastSeen               int64
	LastSeenAutocrypt      int64
	PreferEncrypt          PreferEncrypt
	PublicKey              []byte
	PublicKeyFingerprint   string
	GossipKey              []byte
	GossipKeyFingerprint   string
	GossipTimestamp        int64
	VerifiedKey            []byte
	VerifiedKeyFingerprint string
}

// LookupPeerstate returns the peerstate for addr, or ok=false if
// there has never been an Autocrypt header from that address.
func LookupPeerstate(conn *sqlite.Conn, addr string) (p Peerstate, ok bool, err error) {
	stmt := conn.Prep(`SELECT Addr, LastSeen, LastSeenAutocrypt, PreferEncrypt,
		PublicKey, PublicKeyFingerprint, GossipKey, GossipKeyFingerprint, GossipTimestamp,
		VerifiedKey, VerifiedKeyFingerprint
		FROM Peerstates WHERE Addr = $addr;`)
	stmt.SetText("$addr", addr)
	defer stmt.Reset()
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return Peerstate{}, false, err
	}
	return scanPeerstate(stmt), true, nil
}

func scanPeerstate(stmt *sqlite.Stmt) Peerstate {
	return Peerstate{
		Addr:                   stmt.GetText("Addr"),
		LastSeen:               stmt.GetInt64("LastSeen"),
		LastSeenAutocrypt:      stmt.GetInt64("LastSeenAutocrypt"),
		PreferEncrypt:          PreferEncrypt(stmt.GetInt64("PreferEncrypt")),
		PublicKey:              getBytesCol(stmt, "PublicKey"),
		PublicKeyFingerprint:   stmt.GetText("PublicKeyFingerprint"),
		GossipKey:              getBytesCol(stmt, "GossipKey"),
		GossipKeyFingerprint:   stmt.GetText("GossipKeyFingerprint"),
		GossipTimestamp:        stmt.GetInt64("GossipTimestamp"),
		VerifiedKey:            getBytesCol(stmt, "VerifiedKey"),
		VerifiedKeyFingerprint: stmt.GetText("VerifiedKeyFingerprint"),
	}
}

func getBytesCol(stmt *sqlite.Stmt, col string) []byte {
	n := stmt.GetLen(col)
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	stmt.GetBytes(col, buf)
	return buf
}

// SavePeerstate upserts p wholesale. Callers (package peerstate) are
// responsible for enforcing the Autocrypt freshness and age-out rules
// before calling this; store itself only persists.
func SavePeerstate(conn *sqlite.Conn, p Peerstate) error {
	stmt := conn.Prep(`INSERT INTO Peerstates (
			Addr, LastSeen, LastSeenAutocrypt, PreferEncrypt,
			PublicKey, PublicKeyFingerprint, GossipKey, GossipKeyFingerprint, GossipTimestamp,
			VerifiedKey, VerifiedKeyFingerprint
		) VALUES (
			$addr, $lastSeen, $lastSeenAutocrypt, $preferEncrypt,
			$publicKey, $publicKeyFingerprint, $gossipKey, $gossipKeyFingerprint, $gossipTimestamp,
			$verifiedKey, $verifiedKeyFingerprint
		)
		ON CONFLICT(Addr) DO UPDATE SET
			LastSeen = excluded.LastSeen,
			LastSeenAutocrypt = excluded.LastSeenAutocrypt,
			PreferEncrypt = excluded.PreferEncrypt,
			PublicKey = excluded.PublicKey,
			PublicKeyFingerprint = excluded.PublicKeyFingerprint,
			GossipKey = excluded.GossipKey,
			GossipKeyFingerprint = excluded.GossipKeyFingerprint,
			GossipTimestamp = excluded.GossipTimestamp,
			VerifiedKey = excluded.VerifiedKey,
			VerifiedKeyFingerprint = excluded.VerifiedKeyFingerprint;`)
	stmt.SetText("$addr", p.Addr)
	stmt.SetInt64("$lastSeen", p.LastSeen)
	stmt.SetInt64("$lastSeenAutocrypt", p.LastSeenAutocrypt)
	stmt.SetInt64("$preferEncrypt", int64(p.PreferEncrypt))
	setBytesOrNull(stmt, "$publicKey", p.PublicKey)
	setTextOrNull(stmt, "$publicKeyFingerprint", p.PublicKeyFingerprint)
	setBytesOrNull(stmt, "$gossipKey", p.GossipKey)
	setTextOrNull(stmt, "$gossipKeyFingerprint", p.GossipKeyFingerprint)
	stmt.SetInt64("$gossipTimestamp", p.GossipTimestamp)
	setBytesOrNull(stmt, "$verifiedKey", p.VerifiedKey)
	setTextOrNull(stmt, "$verifiedKeyFingerprint", p.VerifiedKeyFingerprint)
	_, err := stmt.Step()
	return err
}

func setBytesOrNull(stmt *sqlite.Stmt, param string, b []byte) {
	if len(b) == 0 {
		stmt.SetNull(param)
		return
	}
	stmt.SetBytes(param, b)
}

func setTextOrNull(stmt *sqlite.Stmt, param, s string) {
	if s == "" {
		stmt.SetNull(param)
		return
	}
	stmt.SetText(param, s)
}
