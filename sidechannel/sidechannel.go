// Package sidechannel implements the C8 observe-side handlers named
// in this module's specification §4.8: MDN read receipts,
// delivery-failure DSNs, avatar/status-update gating, KML location
// updates, and the watch-only side of Autocrypt-Setup-Message and
// secure-join.
//
// Grounded on spilldb/db.go's DeliveryState transition-table idiom
// (a small set of named states plus a String() method, mutated by
// narrow setter functions rather than a generic state machine).
package sidechannel

import (
	"strconv"

	"crawshaw.io/sqlite"

	"veilmail.dev/core/events"
	"veilmail.dev/core/internal/kml"
	"veilmail.dev/core/msgview"
	"veilmail.dev/core/store"
)

// Handler applies C8's side effects. It shares the chat package's
// notion of "this account's own addresses" for self-sent envelope
// detection.
type Handler struct {
	SelfAddrs map[string]bool
	Logf      store.Logf
	Events    *events.Emitter
}

func (h *Handler) emit(ev events.Event) {
	if h.Events != nil {
		h.Events.Emit(ev)
	}
}

// HandleMDN matches a disposition-notification report to its
// original outgoing message by Message-ID and advances that
// message's state. The caller has already decided the MDN envelope
// itself is TRASH (§4.4 gate 3); this only updates the referenced
// message.
func (h *Handler) HandleMDN(conn *sqlite.Conn, reports []msgview.MdnReport, hasChatVersion bool) error {
	for _, rep := range reports {
		m, ok, err := store.LookupMsgByRfc724Mid(conn, rep.OriginalMessageID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if !hasChatVersion {
			continue
		}
		if err := store.UpdateMsgState(conn, m.ID, store.StateOutMdnRcvd); err != nil {
			return err
		}
		h.emit(events.Event{Kind: events.MsgRead, ChatID: m.ChatID, MsgID: m.ID})
		h.emit(events.Event{Kind: events.MsgsChanged, ChatID: m.ChatID, MsgID: m.ID})
	}
	return nil
}

// HandleDSN matches a delivery-status report to its original outgoing
// message. Only a "failed" action moves the message to OutFailed;
// informational DSNs (delayed, relayed, delivered) leave state alone.
func (h *Handler) HandleDSN(conn *sqlite.Conn, report *msgview.DeliveryReport) error {
	if report == nil {
		return nil
	}
	m, ok, err := store.LookupMsgByRfc724Mid(conn, report.OriginalMessageID)
	if err != nil || !ok {
		return err
	}
	if !report.Failed {
		return nil
	}
	if err := store.SetMsgError(conn, m.ID, "delivery failed"); err != nil {
		return err
	}
	if err := store.UpdateMsgState(conn, m.ID, store.StateOutFailed); err != nil {
		return err
	}
	h.emit(events.Event{Kind: events.MsgFailed, ChatID: m.ChatID, MsgID: m.ID})
	return nil
}

// HandleAvatar applies a Chat-User-Avatar change to a contact's
// profile image, gated by sent-timestamp-greater-than-stored on
// AvatarTimestamp, and ignoring updates carried by mailing-list
// traffic (footers are noisy, not user intent).
func (h *Handler) HandleAvatar(conn *sqlite.Conn, contactID store.ContactID, avatarRef string, sentTs int64, isMailinglist bool) error {
	if isMailinglist || avatarRef == "" {
		return nil
	}
	stored, ok := store.GetContactParam(conn, contactID, store.ParamAvatarTimestamp)
	if ok {
		storedTs, _ := parseTs(stored)
		if sentTs <= storedTs {
			return nil
		}
	}
	if err := store.SetContactParam(conn, contactID, store.ParamProfileImage, avatarRef); err != nil {
		return err
	}
	return store.SetContactParam(conn, contactID, store.ParamAvatarTimestamp, formatTs(sentTs))
}

// HandleStatusUpdate applies a signature/footer status-line change,
// gated the same way as the avatar and likewise suppressed for
// mailing-list traffic.
func (h *Handler) HandleStatusUpdate(conn *sqlite.Conn, contactID store.ContactID, status string, sentTs int64, isMailinglist bool) error {
	if isMailinglist {
		return nil
	}
	stored, ok := store.GetContactParam(conn, contactID, store.ParamStatusTimestamp)
	if ok {
		storedTs, _ := parseTs(stored)
		if sentTs <= storedTs {
			return nil
		}
	}
	if err := store.SetContactParam(conn, contactID, store.ParamStatusTimestamp, formatTs(sentTs)); err != nil {
		return err
	}
	return store.SetContactStatus(conn, contactID, status)
}

// HandleLocations saves the points carried by a message.kml (this
// message's own position, always trusted) and/or a location.kml
// (a streamed position history, trusted only when its Document addr
// matches the envelope's actual sender — a spoofed addr is silently
// dropped rather than failing the whole message). It reports whether
// at least one new point was saved, so the caller can emit
// LocationChanged only when something actually changed.
func (h *Handler) HandleLocations(conn *sqlite.Conn, chatID store.ChatID, fromID store.ContactID, fromAddr string, messageKML, locationKML []byte, msgID store.MsgID) (bool, error) {
	saved := false

	if len(messageKML) > 0 {
		doc, err := kml.Parse(messageKML)
		if err == nil {
			for _, p := range doc.Points {
				if _, err := store.InsertLocation(conn, store.Location{
					ChatID: chatID, ContactID: fromID, Timestamp: p.Timestamp.Unix(),
					Latitude: p.Lat, Longitude: p.Lng, Accuracy: p.Accuracy,
					IndependentPos: true, MsgID: msgID,
				}); err != nil {
					return saved, err
				}
				saved = true
			}
		}
	}

	if len(locationKML) > 0 {
		doc, err := kml.Parse(locationKML)
		if err == nil {
			if doc.Addr != "" && doc.Addr != fromAddr {
				h.logf("sidechannel: location.kml addr %q does not match sender %q, dropping", doc.Addr, fromAddr)
			} else {
				for _, p := range doc.Points {
					if _, err := store.InsertLocation(conn, store.Location{
						ChatID: chatID, ContactID: fromID, Timestamp: p.Timestamp.Unix(),
						Latitude: p.Lat, Longitude: p.Lng, Accuracy: p.Accuracy,
						IndependentPos: false,
					}); err != nil {
						return saved, err
					}
					saved = true
				}
			}
		}
	}

	if saved {
		h.emit(events.Event{Kind: events.LocationChanged, ContactID: fromID})
	}
	return saved, nil
}

func (h *Handler) logf(format string, args ...interface{}) {
	if h.Logf != nil {
		h.Logf(format, args...)
	}
}

// SelfChatID returns the single chat between SELF and SELF used to
// store an Autocrypt-Setup Message, creating it if this is the first
// one ever received. Decryption of the setup payload happens only on
// explicit user action, out of scope here; this only ensures the
// encrypted attachment has somewhere to live.
func (h *Handler) SelfChatID(conn *sqlite.Conn) (store.ChatID, error) {
	c, ok, err := store.LookupSelfChat(conn)
	if err != nil {
		return 0, err
	}
	if ok {
		return c.ID, nil
	}
	return store.InsertChat(conn, store.ChatSingle, "", "", store.BlockedNot, []store.ContactID{store.SELF})
}

// HandleSecureJoin gates trashing of an outgoing self-sent
// Secure-Join: handshake envelope, per §4.4 gate 5 / §4.8's "observe
// side" note: the interactive handshake logic itself is out of
// scope, only its effect on this envelope is modeled.
func (h *Handler) HandleSecureJoin(fromAddr string) bool {
	return h.SelfAddrs[fromAddr]
}

func parseTs(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

func formatTs(ts int64) string {
	return strconv.FormatInt(ts, 10)
}
