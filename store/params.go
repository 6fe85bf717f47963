package store

import (
	"strconv"

	"crawshaw.io/sqlite"
)

// ParamKey is one of the closed set of known param-map keys named in
// this module's specification, plus an escape hatch (any other
// string) for forwards compatibility with keys this build doesn't
// know about yet.
type ParamKey string

const (
	ParamListID                     ParamKey = "ListId"
	ParamListPost                   ParamKey = "ListPost"
	ParamProfileImage               ParamKey = "ProfileImage"
	ParamAvatarTimestamp            ParamKey = "AvatarTimestamp"
	ParamMemberListTimestamp        ParamKey = "MemberListTimestamp"
	ParamGroupNameTimestamp         ParamKey = "GroupNameTimestamp"
	ParamProtectionSettingsTimestamp ParamKey = "ProtectionSettingsTimestamp"
	ParamEphemeralSettingsTimestamp ParamKey = "EphemeralSettingsTimestamp"
	ParamSubjectTimestamp           ParamKey = "SubjectTimestamp"
	ParamLastSubject                ParamKey = "LastSubject"
	ParamCmd                        ParamKey = "Cmd"
	ParamQuote                      ParamKey = "Quote"
	ParamFile                       ParamKey = "File"
	ParamMimeType                   ParamKey = "MimeType"
	ParamOverrideSenderDisplayname  ParamKey = "OverrideSenderDisplayname"
	ParamWantsMdn                   ParamKey = "WantsMdn"
	ParamSkipAutocrypt              ParamKey = "SkipAutocrypt"
	ParamStatusTimestamp            ParamKey = "StatusTimestamp"
	ParamEphemeralTimer             ParamKey = "EphemeralTimer"
)

func getParam(conn *sqlite.Conn, table, idCol string, id int64, key ParamKey) (string, bool) {
	stmt := conn.Prep(`SELECT Value FROM ` + table + ` WHERE ` + idCol + ` = $id AND Key = $key;`)
	stmt.SetInt64("$id", id)
	stmt.SetText("$key", string(key))
	defer stmt.Reset()
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return "", false
	}
	return stmt.GetText("Value"), true
}

func setParam(conn *sqlite.Conn, table, idCol string, id int64, key ParamKey, value string) error {
	stmt := conn.Prep(`INSERT INTO ` + table + ` (` + idCol + `, Key, Value) VALUES ($id, $key, $value)
		ON CONFLICT(` + idCol + `, Key) DO UPDATE SET Value = excluded.Value;`)
	stmt.SetInt64("$id", id)
	stmt.SetText("$key", string(key))
	stmt.SetText("$value", value)
	_, err := stmt.Step()
	return err
}

// GetChatParam reads one chat param-map entry.
func GetChatParam(conn *sqlite.Conn, chatID ChatID, key ParamKey) (string, bool) {
	return getParam(conn, "ChatParams", "ChatID", int64(chatID), key)
}

// SetChatParam writes one chat param-map entry.
func SetChatParam(conn *sqlite.Conn, chatID ChatID, key ParamKey, value string) error {
	return setParam(conn, "ChatParams", "ChatID", int64(chatID), key, value)
}

// GetChatParamInt64 reads a chat param as an integer, defaulting to 0
// if absent or unparsable — used for the *Timestamp guard fields,
// where "never set" and "set to zero" behave identically.
func GetChatParamInt64(conn *sqlite.Conn, chatID ChatID, key ParamKey) int64 {
	v, ok := GetChatParam(conn, chatID, key)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

// SetChatParamInt64 writes a chat param as an integer.
func SetChatParamInt64(conn *sqlite.Conn, chatID ChatID, key ParamKey, value int64) error {
	return SetChatParam(conn, chatID, key, strconv.FormatInt(value, 10))
}

// GetContactParam reads one contact param-map entry.
func GetContactParam(conn *sqlite.Conn, contactID ContactID, key ParamKey) (string, bool) {
	return getParam(conn, "ContactParams", "ContactID", int64(contactID), key)
}

// SetContactParam writes one contact param-map entry.
func SetContactParam(conn *sqlite.Conn, contactID ContactID, key ParamKey, value string) error {
	return setParam(conn, "ContactParams", "ContactID", int64(contactID), key, value)
}

// GetMsgParam reads one message param-map entry.
func GetMsgParam(conn *sqlite.Conn, msgID MsgID, key ParamKey) (string, bool) {
	return getParam(conn, "MsgParams", "MsgID", int64(msgID), key)
}

// SetMsgParam writes one message param-map entry.
func SetMsgParam(conn *sqlite.Conn, msgID MsgID, key ParamKey, value string) error {
	return setParam(conn, "MsgParams", "MsgID", int64(msgID), key, value)
}
