package store

import (
	"crawshaw.io/sqlite"
)

// Contact is one row of the Contacts table.
type Contact struct {
	ID       ContactID
	Addr     string
	AuthName string
	Name     string
	Origin   Origin
	Blocked  Blocked
	Status   string
	LastSeen int64
}

// DisplayName is AuthName unless the user has set an override Name.
func (c Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.AuthName
}

// LookupContactByAddr returns the contact stored for addr (already
// normalized lowercase), or ok=false if none exists.
func LookupContactByAddr(conn *sqlite.Conn, addr string) (c Contact, ok bool, err error) {
	stmt := conn.Prep(`SELECT ContactID, Addr, AuthName, Name, Origin, Blocked, Status, LastSeen
		FROM Contacts WHERE Addr = $addr;`)
	stmt.SetText("$addr", addr)
	defer stmt.Reset()
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return Contact{}, false, err
	}
	return scanContact(stmt), true, nil
}

// GetContact loads a contact by id.
func GetContact(conn *sqlite.Conn, id ContactID) (c Contact, ok bool, err error) {
	stmt := conn.Prep(`SELECT ContactID, Addr, AuthName, Name, Origin, Blocked, Status, LastSeen
		FROM Contacts WHERE ContactID = $id;`)
	stmt.SetInt64("$id", int64(id))
	defer stmt.Reset()
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return Contact{}, false, err
	}
	return scanContact(stmt), true, nil
}

func scanContact(stmt *sqlite.Stmt) Contact {
	return Contact{
		ID:       ContactID(stmt.GetInt64("ContactID")),
		Addr:     stmt.GetText("Addr"),
		AuthName: stmt.GetText("AuthName"),
		Name:     stmt.GetText("Name"),
		Origin:   Origin(stmt.GetInt64("Origin")),
		Blocked:  Blocked(stmt.GetInt64("Blocked")),
		Status:   stmt.GetText("Status"),
		LastSeen: stmt.GetInt64("LastSeen"),
	}
}

// InsertContact creates a new contact row with a random id, mirroring
// spillbox.ResolveAddressID's "insert with a random rowid, retry on
// collision" idiom via store.InsertRandID.
func InsertContact(conn *sqlite.Conn, addr, authName string, origin Origin) (ContactID, error) {
	stmt := conn.Prep(`INSERT INTO Contacts (ContactID, Addr, AuthName, Name, Origin, Blocked, Status, LastSeen)
		VALUES ($id, $addr, $authName, '', $origin, $blocked, '', 0);`)
	stmt.SetText("$addr", addr)
	stmt.SetText("$authName", authName)
	stmt.SetInt64("$origin", int64(origin))
	stmt.SetInt64("$blocked", int64(BlockedNot))
	id, err := InsertRandID(stmt, "$id")
	return ContactID(id), err
}

// UpdateContactAuthName updates the wire-observed display name and,
// if origin is stronger than what is stored, the origin too.
func UpdateContactAuthName(conn *sqlite.Conn, id ContactID, authName string, origin Origin) error {
	stmt := conn.Prep(`UPDATE Contacts SET AuthName = $authName,
		Origin = CASE WHEN $origin > Origin THEN $origin ELSE Origin END
		WHERE ContactID = $id;`)
	stmt.SetInt64("$id", int64(id))
	stmt.SetText("$authName", authName)
	stmt.SetInt64("$origin", int64(origin))
	_, err := stmt.Step()
	return err
}

// BumpContactOrigin raises a contact's origin to at least origin,
// never lowering it.
func BumpContactOrigin(conn *sqlite.Conn, id ContactID, origin Origin) error {
	stmt := conn.Prep(`UPDATE Contacts SET Origin = $origin WHERE ContactID = $id AND Origin < $origin;`)
	stmt.SetInt64("$id", int64(id))
	stmt.SetInt64("$origin", int64(origin))
	_, err := stmt.Step()
	return err
}

// UpdateContactLastSeen advances LastSeen to sentTs if sentTs is
// newer — a monotone max, never regressing.
func UpdateContactLastSeen(conn *sqlite.Conn, id ContactID, sentTs int64) error {
	stmt := conn.Prep(`UPDATE Contacts SET LastSeen = $ts WHERE ContactID = $id AND LastSeen < $ts;`)
	stmt.SetInt64("$id", int64(id))
	stmt.SetInt64("$ts", sentTs)
	_, err := stmt.Step()
	return err
}

// SetContactStatus updates a contact's signature-footer status text.
func SetContactStatus(conn *sqlite.Conn, id ContactID, status string) error {
	stmt := conn.Prep(`UPDATE Contacts SET Status = $status WHERE ContactID = $id;`)
	stmt.SetInt64("$id", int64(id))
	stmt.SetText("$status", status)
	_, err := stmt.Step()
	return err
}

// SetContactBlocked updates a contact's blocked state.
func SetContactBlocked(conn *sqlite.Conn, id ContactID, blocked Blocked) error {
	stmt := conn.Prep(`UPDATE Contacts SET Blocked = $blocked WHERE ContactID = $id;`)
	stmt.SetInt64("$id", int64(id))
	stmt.SetInt64("$blocked", int64(blocked))
	_, err := stmt.Step()
	return err
}
