package store

import (
	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// Chat is one row of the Chats table.
type Chat struct {
	ID        ChatID
	Type      ChatType
	Name      string
	Grpid     string
	Blocked   Blocked
	Protected bool
	Archived  bool
	Pinned    bool
}

// GetChat loads a chat by id.
func GetChat(conn *sqlite.Conn, id ChatID) (c Chat, ok bool, err error) {
	stmt := conn.Prep(`SELECT ChatID, Type, Name, Grpid, Blocked, Protected, Archived, Pinned
		FROM Chats WHERE ChatID = $id;`)
	stmt.SetInt64("$id", int64(id))
	defer stmt.Reset()
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return Chat{}, false, err
	}
	return scanChat(stmt), true, nil
}

// LookupChatByGrpid returns the chat with the given stable group
// identifier, or ok=false if none exists. Grpid is never empty for
// Group and Mailinglist chats; ad-hoc groups and Single chats are not
// found this way.
func LookupChatByGrpid(conn *sqlite.Conn, grpid string) (c Chat, ok bool, err error) {
	if grpid == "" {
		return Chat{}, false, nil
	}
	stmt := conn.Prep(`SELECT ChatID, Type, Name, Grpid, Blocked, Protected, Archived, Pinned
		FROM Chats WHERE Grpid = $grpid;`)
	stmt.SetText("$grpid", grpid)
	defer stmt.Reset()
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return Chat{}, false, err
	}
	return scanChat(stmt), true, nil
}

func scanChat(stmt *sqlite.Stmt) Chat {
	return Chat{
		ID:        ChatID(stmt.GetInt64("ChatID")),
		Type:      ChatType(stmt.GetInt64("Type")),
		Name:      stmt.GetText("Name"),
		Grpid:     stmt.GetText("Grpid"),
		Blocked:   Blocked(stmt.GetInt64("Blocked")),
		Protected: stmt.GetInt64("Protected") != 0,
		Archived:  stmt.GetInt64("Archived") != 0,
		Pinned:    stmt.GetInt64("Pinned") != 0,
	}
}

// InsertChat creates a new chat with a random id and the given
// initial member set.
func InsertChat(conn *sqlite.Conn, typ ChatType, name, grpid string, blocked Blocked, members []ContactID) (id ChatID, err error) {
	defer sqlitex.Save(conn)(&err)

	stmt := conn.Prep(`INSERT INTO Chats (ChatID, Type, Name, Grpid, Blocked, Protected, Archived, Pinned)
		VALUES ($id, $type, $name, $grpid, $blocked, FALSE, FALSE, FALSE);`)
	stmt.SetText("$name", name)
	stmt.SetText("$grpid", grpid)
	stmt.SetInt64("$type", int64(typ))
	stmt.SetInt64("$blocked", int64(blocked))
	rowID, err := InsertRandID(stmt, "$id")
	if err != nil {
		return 0, err
	}
	id = ChatID(rowID)

	for _, m := range members {
		if err := AddChatMember(conn, id, m); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// LookupSingleChat returns an existing Single chat that has contactID
// as a member, or ok=false if none exists yet. The rest of the chat's
// member set is not checked.
func LookupSingleChat(conn *sqlite.Conn, contactID ContactID) (c Chat, ok bool, err error) {
	stmt := conn.Prep(`SELECT c.ChatID, c.Type, c.Name, c.Grpid, c.Blocked, c.Protected, c.Archived, c.Pinned
		FROM Chats c JOIN ChatsContacts cc ON cc.ChatID = c.ChatID
		WHERE c.Type = $type AND cc.ContactID = $contactID;`)
	stmt.SetInt64("$type", int64(ChatSingle))
	stmt.SetInt64("$contactID", int64(contactID))
	defer stmt.Reset()
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return Chat{}, false, err
	}
	return scanChat(stmt), true, nil
}

// LookupSelfChat returns the single chat whose only member is SELF
// (used to store Autocrypt-Setup Messages), or ok=false if none
// exists yet.
func LookupSelfChat(conn *sqlite.Conn) (c Chat, ok bool, err error) {
	stmt := conn.Prep(`SELECT c.ChatID, c.Type, c.Name, c.Grpid, c.Blocked, c.Protected, c.Archived, c.Pinned
		FROM Chats c
		WHERE c.Type = $type
		  AND (SELECT COUNT(*) FROM ChatsContacts cc WHERE cc.ChatID = c.ChatID) = 1
		  AND EXISTS (SELECT 1 FROM ChatsContacts cc WHERE cc.ChatID = c.ChatID AND cc.ContactID = $self);`)
	stmt.SetInt64("$type", int64(ChatSingle))
	stmt.SetInt64("$self", int64(SELF))
	defer stmt.Reset()
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return Chat{}, false, err
	}
	return scanChat(stmt), true, nil
}

// AddChatMember adds contactID to chatID's member set, idempotently.
func AddChatMember(conn *sqlite.Conn, chatID ChatID, contactID ContactID) error {
	stmt := conn.Prep(`INSERT OR IGNORE INTO ChatsContacts (ChatID, ContactID) VALUES ($chatID, $contactID);`)
	stmt.SetInt64("$chatID", int64(chatID))
	stmt.SetInt64("$contactID", int64(contactID))
	_, err := stmt.Step()
	return err
}

// RemoveChatMember removes contactID from chatID's member set.
func RemoveChatMember(conn *sqlite.Conn, chatID ChatID, contactID ContactID) error {
	stmt := conn.Prep(`DELETE FROM ChatsContacts WHERE ChatID = $chatID AND ContactID = $contactID;`)
	stmt.SetInt64("$chatID", int64(chatID))
	stmt.SetInt64("$contactID", int64(contactID))
	_, err := stmt.Step()
	return err
}

// ClearChatMembers deletes every member row for chatID, the first
// half of a member-list recreation.
func ClearChatMembers(conn *sqlite.Conn, chatID ChatID) error {
	stmt := conn.Prep(`DELETE FROM ChatsContacts WHERE ChatID = $chatID;`)
	stmt.SetInt64("$chatID", int64(chatID))
	_, err := stmt.Step()
	return err
}

// ChatMembers returns the contact ids currently in chatID's member
// set, in no particular order.
func ChatMembers(conn *sqlite.Conn, chatID ChatID) (ids []ContactID, err error) {
	stmt := conn.Prep(`SELECT ContactID FROM ChatsContacts WHERE ChatID = $chatID;`)
	stmt.SetInt64("$chatID", int64(chatID))
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		ids = append(ids, ContactID(stmt.GetInt64("ContactID")))
	}
	return ids, nil
}

// IsChatMember reports whether contactID is in chatID's member set.
func IsChatMember(conn *sqlite.Conn, chatID ChatID, contactID ContactID) (bool, error) {
	stmt := conn.Prep(`SELECT 1 FROM ChatsContacts WHERE ChatID = $chatID AND ContactID = $contactID;`)
	stmt.SetInt64("$chatID", int64(chatID))
	stmt.SetInt64("$contactID", int64(contactID))
	defer stmt.Reset()
	return stmt.Step()
}

// SetChatName updates a chat's display name.
func SetChatName(conn *sqlite.Conn, chatID ChatID, name string) error {
	stmt := conn.Prep(`UPDATE Chats SET Name = $name WHERE ChatID = $chatID;`)
	stmt.SetInt64("$chatID", int64(chatID))
	stmt.SetText("$name", name)
	_, err := stmt.Step()
	return err
}

// SetChatBlocked updates a chat's blocked state.
func SetChatBlocked(conn *sqlite.Conn, chatID ChatID, blocked Blocked) error {
	stmt := conn.Prep(`UPDATE Chats SET Blocked = $blocked WHERE ChatID = $chatID;`)
	stmt.SetInt64("$chatID", int64(chatID))
	stmt.SetInt64("$blocked", int64(blocked))
	_, err := stmt.Step()
	return err
}

// SetChatProtected updates a chat's protected flag.
func SetChatProtected(conn *sqlite.Conn, chatID ChatID, protected bool) error {
	stmt := conn.Prep(`UPDATE Chats SET Protected = $protected WHERE ChatID = $chatID;`)
	stmt.SetInt64("$chatID", int64(chatID))
	stmt.SetBool("$protected", protected)
	_, err := stmt.Step()
	return err
}

// SetChatArchived updates a chat's archived flag.
func SetChatArchived(conn *sqlite.Conn, chatID ChatID, archived bool) error {
	stmt := conn.Prep(`UPDATE Chats SET Archived = $archived WHERE ChatID = $chatID;`)
	stmt.SetInt64("$chatID", int64(chatID))
	stmt.SetBool("$archived", archived)
	_, err := stmt.Step()
	return err
}
