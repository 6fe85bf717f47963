package store

import (
	"crawshaw.io/sqlite"
)

// LocationID identifies a row of the Locations table.
type LocationID int64

// Location is one point attached by a message.kml or location.kml
// payload (§4.8's "KML locations" observe-side handler).
type Location struct {
	ID             LocationID
	ChatID         ChatID
	ContactID      ContactID
	Timestamp      int64
	Latitude       float64
	Longitude      float64
	Accuracy       float64
	IndependentPos bool
	MsgID          MsgID
}

// InsertLocation adds one point with a random id.
func InsertLocation(conn *sqlite.Conn, l Location) (id LocationID, err error) {
	stmt := conn.Prep(`INSERT INTO Locations (
			LocationID, ChatID, ContactID, Timestamp, Latitude, Longitude, Accuracy, IndependentPos, MsgID
		) VALUES (
			$id, $chatID, $contactID, $ts, $lat, $lng, $accuracy, $independent, $msgID
		);`)
	stmt.SetInt64("$chatID", int64(l.ChatID))
	stmt.SetInt64("$contactID", int64(l.ContactID))
	stmt.SetInt64("$ts", l.Timestamp)
	stmt.SetFloat("$lat", l.Latitude)
	stmt.SetFloat("$lng", l.Longitude)
	stmt.SetFloat("$accuracy", l.Accuracy)
	stmt.SetInt64("$independent", boolToInt(l.IndependentPos))
	if l.MsgID == 0 {
		stmt.SetNull("$msgID")
	} else {
		stmt.SetInt64("$msgID", int64(l.MsgID))
	}
	rowID, err := InsertRandID(stmt, "$id")
	return LocationID(rowID), err
}

// NewestLocationForChat returns the chat's most recently timestamped
// location row, or ok=false if the chat has none.
func NewestLocationForChat(conn *sqlite.Conn, chatID ChatID) (l Location, ok bool, err error) {
	stmt := conn.Prep(`SELECT LocationID, ChatID, ContactID, Timestamp, Latitude, Longitude, Accuracy, IndependentPos, MsgID
		FROM Locations WHERE ChatID = $chatID ORDER BY Timestamp DESC LIMIT 1;`)
	stmt.SetInt64("$chatID", int64(chatID))
	defer stmt.Reset()
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		return Location{}, false, err
	}
	return Location{
		ID:             LocationID(stmt.GetInt64("LocationID")),
		ChatID:         ChatID(stmt.GetInt64("ChatID")),
		ContactID:      ContactID(stmt.GetInt64("ContactID")),
		Timestamp:      stmt.GetInt64("Timestamp"),
		Latitude:       stmt.GetFloat("Latitude"),
		Longitude:      stmt.GetFloat("Longitude"),
		Accuracy:       stmt.GetFloat("Accuracy"),
		IndependentPos: stmt.GetInt64("IndependentPos") != 0,
		MsgID:          MsgID(stmt.GetInt64("MsgID")), // 0 (UNDEFINED) when the point came from a standalone location.kml
	}, true, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
