package contact_test

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"crawshaw.io/sqlite/sqlitex"

	"veilmail.dev/core/contact"
	"veilmail.dev/core/email"
	"veilmail.dev/core/store"
)

func newTestPool(t *testing.T) *sqlitex.Pool {
	t.Helper()
	dir, err := ioutil.TempDir("", "contact-test-")
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

func TestAddOrLookupOriginNeverDecreases(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	id, modified, err := contact.AddOrLookup(conn, "Alice", "alice@example.com", store.OriginIncomingUnknownFrom, false)
	if err != nil {
		t.Fatal(err)
	}
	if !modified {
		t.Fatal("expected modified=true for a brand new contact")
	}

	id2, _, err := contact.AddOrLookup(conn, "Alice Smith", "alice@example.com", store.OriginOutgoingTo, false)
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id {
		t.Fatalf("AddOrLookup returned a different id for the same address: %v vs %v", id2, id)
	}
	c, ok, err := store.GetContact(conn, id)
	if err != nil || !ok {
		t.Fatal(err)
	}
	if c.Origin != store.OriginOutgoingTo {
		t.Errorf("Origin = %v, want %v after a stronger origin", c.Origin, store.OriginOutgoingTo)
	}
	if c.AuthName != "Alice Smith" {
		t.Errorf("AuthName = %q, want %q", c.AuthName, "Alice Smith")
	}

	// A weaker origin must not downgrade the stored origin or rename.
	if _, _, err := contact.AddOrLookup(conn, "Not Alice", "alice@example.com", store.OriginIncomingUnknownFrom, false); err != nil {
		t.Fatal(err)
	}
	c, ok, err = store.GetContact(conn, id)
	if err != nil || !ok {
		t.Fatal(err)
	}
	if c.Origin != store.OriginOutgoingTo {
		t.Errorf("Origin = %v after a weaker origin, want unchanged %v", c.Origin, store.OriginOutgoingTo)
	}
	if c.AuthName != "Alice Smith" {
		t.Errorf("AuthName = %q after a weaker origin, want unchanged %q", c.AuthName, "Alice Smith")
	}
}

func TestAddOrLookupPreventRenameSuppressesAuthName(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	id, _, err := contact.AddOrLookup(conn, "Announce List", "list@example.com", store.OriginIncomingUnknownFrom, false)
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := contact.AddOrLookup(conn, "Someone Posting Today", "list@example.com", store.OriginOutgoingTo, true); err != nil {
		t.Fatal(err)
	}
	c, ok, err := store.GetContact(conn, id)
	if err != nil || !ok {
		t.Fatal(err)
	}
	if c.AuthName != "Announce List" {
		t.Errorf("AuthName = %q, want unchanged %q when preventRename is set", c.AuthName, "Announce List")
	}
	if c.Origin != store.OriginOutgoingTo {
		t.Errorf("Origin = %v, want %v (preventRename only suppresses the name, not the origin bump)", c.Origin, store.OriginOutgoingTo)
	}
}

func TestFromFieldToContactSelfAddress(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	selfAddrs := map[string]bool{"me@example.com": true}
	id, blocked, origin, modified, err := contact.FromFieldToContact(conn, email.Address{Addr: "me@example.com"}, selfAddrs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if id != store.SELF {
		t.Errorf("id = %v, want store.SELF", id)
	}
	if blocked {
		t.Error("blocked = true for SELF")
	}
	if origin != store.OriginOutgoingBcc {
		t.Errorf("origin = %v, want OriginOutgoingBcc", origin)
	}
	if modified {
		t.Error("modified = true for SELF, want false (SELF is never upserted)")
	}
}

func TestFromFieldToContactNormalSender(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	id, blocked, origin, modified, err := contact.FromFieldToContact(conn, email.Address{Name: "Bob", Addr: "bob@example.com"}, map[string]bool{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if id == store.UNDEFINED || id == store.SELF {
		t.Fatalf("id = %v, want a newly created contact id", id)
	}
	if blocked {
		t.Error("a freshly created contact must not start blocked")
	}
	if origin != store.OriginIncomingUnknownFrom {
		t.Errorf("origin = %v, want OriginIncomingUnknownFrom", origin)
	}
	if !modified {
		t.Error("modified = false, want true for a brand new contact")
	}
}

func TestFromFieldToContactUnparseableAddress(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	id, blocked, origin, modified, err := contact.FromFieldToContact(conn, email.Address{Addr: "   "}, map[string]bool{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if id != store.UNDEFINED {
		t.Errorf("id = %v, want store.UNDEFINED for an empty address", id)
	}
	if blocked {
		t.Error("blocked = true, want false")
	}
	if origin != store.OriginUnknown {
		t.Errorf("origin = %v, want OriginUnknown", origin)
	}
	if modified {
		t.Error("modified = true, want false for an unparseable address")
	}
}

func TestResolveListReportsOnlyModifiedIDs(t *testing.T) {
	pool := newTestPool(t)
	conn := pool.Get(context.Background())
	defer pool.Put(conn)

	existingID, _, err := contact.AddOrLookup(conn, "Carol", "carol@example.com", store.OriginIncomingUnknownFrom, false)
	if err != nil {
		t.Fatal(err)
	}

	addrs := []email.Address{
		{Name: "Carol", Addr: "carol@example.com"}, // same name, origin only rises: not modified
		{Name: "Dave", Addr: "dave@example.com"},    // brand new: modified
	}
	ids, modifiedIDs, err := contact.ResolveList(conn, addrs, store.OriginIncomingUnknownCcTo, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want 2 entries", ids)
	}
	if len(modifiedIDs) != 1 {
		t.Fatalf("modifiedIDs = %v, want exactly Dave's id", modifiedIDs)
	}
	if modifiedIDs[0] == existingID {
		t.Errorf("modifiedIDs reported Carol's existing, unchanged contact")
	}
}

func TestPreventRename(t *testing.T) {
	cases := []struct {
		isMailinglist, hasSender, want bool
	}{
		{false, false, false},
		{true, false, true},
		{false, true, true},
		{true, true, true},
	}
	for _, c := range cases {
		got := contact.PreventRename(c.isMailinglist, c.hasSender)
		if got != c.want {
			t.Errorf("PreventRename(%v, %v) = %v, want %v", c.isMailinglist, c.hasSender, got, c.want)
		}
	}
}
