// Package contact maps address lists to stable contact ids: creating
// on demand, honoring rename-prevention for mailing-list/bot sources,
// and remembering how strongly each address was learned.
//
// Grounded on spilldb/spillbox.ResolveAddressID's "look up, else
// insert with a random rowid" idiom, recast from (Name, Address)
// pairs with a fallback-contact search onto this module's
// one-address-per-contact model (§3 of this module's specification:
// a Contact is keyed by a single normalized address, not a set of
// addresses).
package contact

import (
	"strings"

	"crawshaw.io/sqlite"

	"veilmail.dev/core/email"
	"veilmail.dev/core/store"
)

// AddOrLookup upserts a contact by normalized address. If the contact
// already exists, its AuthName is updated to the new display name
// unless the new origin is weaker than the stored origin, or
// preventRename was requested by the caller. Origin only ever
// increases.
func AddOrLookup(conn *sqlite.Conn, displayName, addr string, origin store.Origin, preventRename bool) (id store.ContactID, modified bool, err error) {
	norm := strings.ToLower(strings.TrimSpace(addr))
	if norm == "" {
		return store.UNDEFINED, false, nil
	}

	existing, ok, err := store.LookupContactByAddr(conn, norm)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		id, err = store.InsertContact(conn, norm, displayName, origin)
		if err != nil {
			return 0, false, err
		}
		return id, true, nil
	}

	id = existing.ID
	if origin < existing.Origin {
		return id, false, nil
	}
	if err := store.BumpContactOrigin(conn, id, origin); err != nil {
		return id, false, err
	}
	if preventRename || displayName == "" || displayName == existing.AuthName {
		return id, false, nil
	}
	if err := store.UpdateContactAuthName(conn, id, displayName, origin); err != nil {
		return id, false, err
	}
	return id, true, nil
}

// ResolveList resolves every address in addrs to a contact id,
// de-duplicating by id and skipping addresses that don't parse. The
// second return value lists, in order, the ids AddOrLookup reported
// as newly created or renamed, for the caller to turn into
// ContactsChanged events.
func ResolveList(conn *sqlite.Conn, addrs []email.Address, origin store.Origin, preventRename bool) (ids []store.ContactID, modifiedIDs []store.ContactID, err error) {
	seen := map[store.ContactID]bool{}
	for _, a := range addrs {
		id, modified, err := AddOrLookup(conn, a.Name, a.Addr, origin, preventRename)
		if err != nil {
			return nil, nil, err
		}
		if id == store.UNDEFINED || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
		if modified {
			modifiedIDs = append(modifiedIDs, id)
		}
	}
	return ids, modifiedIDs, nil
}

// FromFieldToContact resolves the From: address of an incoming
// message to a (from_id, blocked, origin) triple, per the three cases
// named in this module's specification: SELF sends from another of
// the account's own devices; a non-self address; or no valid address
// at all. Only the one address passed in is considered, and no warning
// is logged for a From: header carrying several. modified reports
// whether resolving the address created or renamed the contact.
func FromFieldToContact(conn *sqlite.Conn, from email.Address, selfAddrs map[string]bool, logf func(string, ...interface{})) (id store.ContactID, blocked bool, origin store.Origin, modified bool, err error) {
	norm := strings.ToLower(strings.TrimSpace(from.Addr))
	if norm == "" {
		return store.UNDEFINED, false, store.OriginUnknown, false, nil
	}
	if selfAddrs[norm] {
		return store.SELF, false, store.OriginOutgoingBcc, false, nil
	}

	id, modified, err = AddOrLookup(conn, from.Name, norm, store.OriginIncomingUnknownFrom, false)
	if err != nil {
		return 0, false, 0, false, err
	}
	c, ok, err := store.GetContact(conn, id)
	if err != nil {
		return 0, false, 0, false, err
	}
	if !ok {
		return store.UNDEFINED, false, store.OriginUnknown, false, nil
	}
	return id, c.Blocked == store.BlockedYes, c.Origin, modified, nil
}

// PreventRename reports whether the caller should suppress
// authname updates for a message's sender: mailing lists (same
// address, many humans behind it) and Sender:-relayed mail (alias or
// bot relay) both hide the real human behind the address.
func PreventRename(isMailinglist bool, hasSenderHeader bool) bool {
	return isMailinglist || hasSenderHeader
}

// UpdateLastSeen advances a contact's last-seen timestamp to sentTs,
// a monotone max.
func UpdateLastSeen(conn *sqlite.Conn, id store.ContactID, sentTs int64) error {
	return store.UpdateContactLastSeen(conn, id, sentTs)
}
