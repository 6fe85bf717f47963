package store

import (
	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// Msg is one row of the Msgs table.
type Msg struct {
	ID                MsgID
	ChatID            ChatID
	FromID            ContactID
	ToID              ContactID
	Rfc724Mid         string
	TimestampSent     int64
	TimestampRcvd     int64
	TimestampSort     int64
	State             MsgState
	Viewtype          string
	Txt               string
	Subject           string
	Bytes             int64
	MimeHeaders       []byte
	MimeInReplyTo     string
	MimeReferences    string
	EphemeralTimer    int64
	EphemeralExpireTs int64
	DownloadState     DownloadState
	IsDcMessage       IsDcMessage
	HopInfo           string
	Error             string
}

// LookupMsgByRfc724Mid returns the stored message (including TRASH
// tombstones) with the given Message-Id, or ok=false if this id has
// never been seen.
func LookupMsgByRfc724Mid(conn *sqlite.Conn, mid string) (m Msg, ok bool, err error) {
	stmt := conn.Prep(`SELECT MsgID, ChatID, FromID, ToID, Rfc724Mid, TimestampSent, TimestampRcvd,
		TimestampSort, State, Viewtype, Txt, Subject, Bytes, MimeHeaders, MimeInReplyTo, MimeReferences,
		EphemeralTimer, EphemeralExpireTs, DownloadState, IsDcMessage, HopInfo, Error
		FROM Msgs WHERE Rfc724Mid = $mid;`)
	stmt.SetText("$mid", mid)
	defer stmt.Reset()
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return Msg{}, false, err
	}
	return scanMsg(stmt), true, nil
}

// GetMsg loads a message by id.
func GetMsg(conn *sqlite.Conn, id MsgID) (m Msg, ok bool, err error) {
	stmt := conn.Prep(`SELECT MsgID, ChatID, FromID, ToID, Rfc724Mid, TimestampSent, TimestampRcvd,
		TimestampSort, State, Viewtype, Txt, Subject, Bytes, MimeHeaders, MimeInReplyTo, MimeReferences,
		EphemeralTimer, EphemeralExpireTs, DownloadState, IsDcMessage, HopInfo, Error
		FROM Msgs WHERE MsgID = $id;`)
	stmt.SetInt64("$id", int64(id))
	defer stmt.Reset()
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return Msg{}, false, err
	}
	return scanMsg(stmt), true, nil
}

func scanMsg(stmt *sqlite.Stmt) Msg {
	return Msg{
		ID:                MsgID(stmt.GetInt64("MsgID")),
		ChatID:            ChatID(stmt.GetInt64("ChatID")),
		FromID:            ContactID(stmt.GetInt64("FromID")),
		ToID:              ContactID(stmt.GetInt64("ToID")),
		Rfc724Mid:         stmt.GetText("Rfc724Mid"),
		TimestampSent:     stmt.GetInt64("TimestampSent"),
		TimestampRcvd:     stmt.GetInt64("TimestampRcvd"),
		TimestampSort:     stmt.GetInt64("TimestampSort"),
		State:             MsgState(stmt.GetInt64("State")),
		Viewtype:          stmt.GetText("Viewtype"),
		Txt:               stmt.GetText("Txt"),
		Subject:           stmt.GetText("Subject"),
		Bytes:             stmt.GetInt64("Bytes"),
		MimeHeaders:       getBytesCol(stmt, "MimeHeaders"),
		MimeInReplyTo:     stmt.GetText("MimeInReplyTo"),
		MimeReferences:    stmt.GetText("MimeReferences"),
		EphemeralTimer:    stmt.GetInt64("EphemeralTimer"),
		EphemeralExpireTs: stmt.GetInt64("EphemeralExpireTs"),
		DownloadState:     DownloadState(stmt.GetInt64("DownloadState")),
		IsDcMessage:       IsDcMessage(stmt.GetInt64("IsDcMessage")),
		HopInfo:           stmt.GetText("HopInfo"),
		Error:             stmt.GetText("Error"),
	}
}

// MaxSortTimestamp returns the largest TimestampSort among the
// messages in chatID that are not fresh (StateInFresh), or 0 if there
// are none.
func MaxSortTimestamp(conn *sqlite.Conn, chatID ChatID) (int64, error) {
	stmt := conn.Prep(`SELECT IFNULL(MAX(TimestampSort), 0) AS m FROM Msgs WHERE ChatID = $chatID AND State != $fresh;`)
	stmt.SetInt64("$chatID", int64(chatID))
	stmt.SetInt64("$fresh", int64(StateInFresh))
	defer stmt.Reset()
	if _, err := stmt.Step(); err != nil {
		return 0, err
	}
	return stmt.GetInt64("m"), nil
}

// InsertMsg inserts a new message row with a random id; m.ID is
// ignored and the store always assigns the id. msgwriter's idempotent-replace
// path instead calls ReplaceMsgID afterward to rewrite onto a
// previously reserved id.
func InsertMsg(conn *sqlite.Conn, m Msg) (id MsgID, err error) {
	stmt := conn.Prep(`INSERT INTO Msgs (
			MsgID, ChatID, FromID, ToID, Rfc724Mid, TimestampSent, TimestampRcvd, TimestampSort,
			State, Viewtype, Txt, Subject, Bytes, MimeHeaders, MimeInReplyTo, MimeReferences,
			EphemeralTimer, EphemeralExpireTs, DownloadState, IsDcMessage, HopInfo, Error
		) VALUES (
			$id, $chatID, $fromID, $toID, $mid, $sentTs, $rcvdTs, $sortTs,
			$state, $viewtype, $txt, $subject, $bytes, $mimeHeaders, $inReplyTo, $references,
			$ephemeralTimer, $ephemeralExpireTs, $downloadState, $isDc, $hopInfo, $error
		);`)
	stmt.SetText("$mid", m.Rfc724Mid)
	stmt.SetInt64("$chatID", int64(m.ChatID))
	stmt.SetInt64("$fromID", int64(m.FromID))
	stmt.SetInt64("$toID", int64(m.ToID))
	stmt.SetInt64("$sentTs", m.TimestampSent)
	stmt.SetInt64("$rcvdTs", m.TimestampRcvd)
	stmt.SetInt64("$sortTs", m.TimestampSort)
	stmt.SetInt64("$state", int64(m.State))
	stmt.SetText("$viewtype", m.Viewtype)
	stmt.SetText("$txt", m.Txt)
	stmt.SetText("$subject", m.Subject)
	stmt.SetInt64("$bytes", m.Bytes)
	setBytesOrNull(stmt, "$mimeHeaders", m.MimeHeaders)
	stmt.SetText("$inReplyTo", m.MimeInReplyTo)
	stmt.SetText("$references", m.MimeReferences)
	stmt.SetInt64("$ephemeralTimer", m.EphemeralTimer)
	stmt.SetInt64("$ephemeralExpireTs", m.EphemeralExpireTs)
	stmt.SetInt64("$downloadState", int64(m.DownloadState))
	stmt.SetInt64("$isDc", int64(m.IsDcMessage))
	stmt.SetText("$hopInfo", m.HopInfo)
	stmt.SetText("$error", m.Error)
	rowID, err := InsertRandID(stmt, "$id")
	return MsgID(rowID), err
}

// ReplaceMsgID rewrites every row referencing oldID to reference
// newID, then deletes the now-empty oldID row — the idempotent
// partial-then-full merge path: attachments pre-downloaded against
// the partial message's id are re-keyed onto the full message.
func ReplaceMsgID(conn *sqlite.Conn, oldID, newID MsgID) (err error) {
	defer sqlitex.Save(conn)(&err)

	for _, stmtSQL := range []string{
		`UPDATE MsgParts SET MsgID = $newID WHERE MsgID = $oldID;`,
		`UPDATE MsgParams SET MsgID = $newID WHERE MsgID = $oldID;`,
	} {
		stmt := conn.Prep(stmtSQL)
		stmt.SetInt64("$newID", int64(newID))
		stmt.SetInt64("$oldID", int64(oldID))
		if _, err := stmt.Step(); err != nil {
			return err
		}
	}
	stmt := conn.Prep(`DELETE FROM Msgs WHERE MsgID = $oldID;`)
	stmt.SetInt64("$oldID", int64(oldID))
	_, err = stmt.Step()
	return err
}

// UpdateMsgState advances a message's delivery/read state.
func UpdateMsgState(conn *sqlite.Conn, id MsgID, state MsgState) error {
	stmt := conn.Prep(`UPDATE Msgs SET State = $state WHERE MsgID = $id;`)
	stmt.SetInt64("$id", int64(id))
	stmt.SetInt64("$state", int64(state))
	_, err := stmt.Step()
	return err
}

// SetMsgError overwrites a message's visible text with a localized
// error string, leaving everything else untouched (used by the
// verification gate on failure: the envelope stays but its body is
// replaced).
func SetMsgError(conn *sqlite.Conn, id MsgID, errText string) error {
	stmt := conn.Prep(`UPDATE Msgs SET Txt = $errText, Error = $errText WHERE MsgID = $id;`)
	stmt.SetInt64("$id", int64(id))
	stmt.SetText("$errText", errText)
	_, err := stmt.Step()
	return err
}

// InsertPart writes one MsgParts row plus its backing
// MsgPartContents blob.
func InsertPart(conn *sqlite.Conn, msgID MsgID, partNum int, name string, isBody, isAttachment bool, contentType, contentID string, content []byte, cte string) (err error) {
	defer sqlitex.Save(conn)(&err)

	var blobID int64
	if content != nil {
		stmt := conn.Prep(`INSERT INTO MsgPartContents (BlobID, Content) VALUES ($id, $content);`)
		stmt.SetBytes("$content", content)
		blobID, err = InsertRandID(stmt, "$id")
		if err != nil {
			return err
		}
	}

	stmt := conn.Prep(`INSERT INTO MsgParts (
			MsgID, PartNum, Name, IsBody, IsAttachment, ContentType, ContentID, BlobID, ContentTransferEncoding
		) VALUES ($msgID, $partNum, $name, $isBody, $isAttachment, $contentType, $contentID, $blobID, $cte);`)
	stmt.SetInt64("$msgID", int64(msgID))
	stmt.SetInt64("$partNum", int64(partNum))
	stmt.SetText("$name", name)
	stmt.SetBool("$isBody", isBody)
	stmt.SetBool("$isAttachment", isAttachment)
	stmt.SetText("$contentType", contentType)
	stmt.SetText("$contentID", contentID)
	if content != nil {
		stmt.SetInt64("$blobID", blobID)
	} else {
		stmt.SetNull("$blobID")
	}
	stmt.SetText("$cte", cte)
	_, err = stmt.Step()
	return err
}
