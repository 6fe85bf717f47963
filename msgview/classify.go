package msgview

import (
	"io"
	"strings"

	"veilmail.dev/core/email"
	"veilmail.dev/core/internal/htmltext"
)

// renderTextParts fills Part.Text for every text/plain and text/html
// leaf, so downstream components never need to touch raw bytes for a
// preview or footer-suppression check.
func (v *View) renderTextParts() {
	for i := range v.Parts {
		p := &v.Parts[i]
		ct := strings.ToLower(p.ContentType)
		if !strings.HasPrefix(ct, "text/") {
			continue
		}
		if _, err := p.Content.Seek(0, 0); err != nil {
			p.Error = err.Error()
			continue
		}
		buf, err := io.ReadAll(p.Content)
		if err != nil {
			p.Error = err.Error()
			continue
		}
		if ct == "text/html" {
			p.Text = htmltext.Extract(string(buf))
		} else {
			p.Text = string(buf)
		}
		p.Content.Seek(0, 0)
	}
}

// knownNotificationSuffixes are notification-only senders whose display name is
// preferred over a raw List-Id when deriving a mailing-list's name.
var knownNotificationSuffixes = []string{".list-id.mcsv.net", ".xt.local"}

func (v *View) classifyMailinglist(hdr email.Header) {
	if len(hdr.Get("List-Id")) > 0 {
		v.MailinglistType = MailinglistListIDBased
		return
	}
	sender := hdr.Get("Sender")
	if len(sender) == 0 {
		v.MailinglistType = MailinglistNone
		return
	}
	precedence := strings.ToLower(string(hdr.Get("Precedence")))
	hasListHeader := len(hdr.Get("List-Post")) > 0 || len(hdr.Get("List-Unsubscribe")) > 0 ||
		len(hdr.Get("List-Help")) > 0 || len(hdr.Get("List-Archive")) > 0
	if precedence == "list" || precedence == "bulk" || hasListHeader {
		v.MailinglistType = MailinglistSenderBased
		return
	}
	v.MailinglistType = MailinglistNone
}

// ListID returns the raw List-Id header value (the unparsed
// "Name <id>" or bare "<id>" or bare-id form); callers in the chat
// resolver are responsible for stripping the angle brackets.
func (v *View) ListID() string {
	return string(v.outerHeader.Get("List-Id"))
}

// classifyReports detects multipart/report envelopes: MDNs
// (disposition-notification) and DSNs (delivery-status).
func (v *View) classifyReports() {
	ct := strings.ToLower(string(v.outerHeader.Get("Content-Type")))
	if !strings.Contains(ct, "multipart/report") {
		return
	}
	switch {
	case strings.Contains(ct, "disposition-notification"):
		for _, p := range v.Parts {
			if !strings.EqualFold(p.ContentType, "message/disposition-notification") {
				continue
			}
			mid, disposition := parseDispositionNotification(p.Text)
			v.MdnReports = append(v.MdnReports, MdnReport{
				OriginalMessageID: mid,
				Disposition:       disposition,
			})
		}
	case strings.Contains(ct, "delivery-status"):
		for _, p := range v.Parts {
			if !strings.EqualFold(p.ContentType, "message/delivery-status") {
				continue
			}
			mid, action := parseDeliveryStatus(p.Text)
			v.DeliveryReport = &DeliveryReport{
				OriginalMessageID: mid,
				Action:            action,
				Failed:            action == "failed",
			}
		}
	}
}

// parseDispositionNotification extracts Original-Message-ID and
// Disposition from an RFC 8098 message/disposition-notification body.
// These bodies are themselves a small RFC 5322-style header block, so
// this is a minimal line scan rather than a full parse.
func parseDispositionNotification(body string) (mid, disposition string) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if v, ok := fieldValue(line, "Original-Message-ID"); ok {
			mid = strings.Trim(v, "<>")
		}
		if v, ok := fieldValue(line, "Disposition"); ok {
			if i := strings.LastIndexByte(v, '/'); i >= 0 {
				v = v[i+1:]
			}
			disposition = strings.TrimSpace(v)
		}
	}
	return mid, disposition
}

// parseDeliveryStatus extracts Original-Envelope-Id/Final-Recipient
// and Action from an RFC 3464 message/delivery-status body.
func parseDeliveryStatus(body string) (mid, action string) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if v, ok := fieldValue(line, "Original-Envelope-Id"); ok {
			mid = strings.Trim(v, "<>")
		}
		if v, ok := fieldValue(line, "Action"); ok {
			action = strings.ToLower(strings.TrimSpace(v))
		}
	}
	return mid, action
}

func fieldValue(line, key string) (string, bool) {
	if !strings.HasPrefix(strings.ToLower(line), strings.ToLower(key)+":") {
		return "", false
	}
	return line[len(key)+1:], true
}

// classifyLocations finds the Delta-style location attachments:
// message.kml (per-message waypoint) and location.kml (accumulated
// location-streaming track).
func (v *View) classifyLocations() {
	for _, p := range v.Parts {
		if !strings.EqualFold(p.ContentType, "application/vnd.google-earth.kml+xml") {
			continue
		}
		p.Content.Seek(0, 0)
		buf, _ := io.ReadAll(p.Content)
		p.Content.Seek(0, 0)
		switch strings.ToLower(p.Name) {
		case "message.kml":
			v.MessageKML = buf
		case "location.kml":
			v.LocationKML = buf
		}
	}
}

// classifyWebxdc finds a status-update.json attachment carrying a
// webxdc interactive-attachment status update.
func (v *View) classifyWebxdc() {
	for _, p := range v.Parts {
		if strings.EqualFold(p.Name, "status-update.json") && strings.Contains(p.ContentType, "json") {
			p.Content.Seek(0, 0)
			buf, _ := io.ReadAll(p.Content)
			p.Content.Seek(0, 0)
			v.WebxdcStatusUpdate = buf
			return
		}
	}
}

// classifySync finds a multi-device-sync.json attachment carrying
// self-sent synchronization items.
func (v *View) classifySync() {
	for _, p := range v.Parts {
		if strings.EqualFold(p.Name, "multi-device-sync.json") && strings.Contains(p.ContentType, "json") {
			p.Content.Seek(0, 0)
			buf, _ := io.ReadAll(p.Content)
			p.Content.Seek(0, 0)
			v.SyncItems = buf
			return
		}
	}
}

// classifySystemMessage assigns the highest-precedence SystemKind the
// headers/parts evidence supports. Precedence follows the original
// implementation's check order: explicit protocol sub-messages first,
// then group-metadata changes, then the content-addressed payload
// kinds last (they are mutually exclusive with everything above in
// practice, since a message carries only one Chat-Content).
func (v *View) classifySystemMessage() {
	switch {
	case len(v.outerHeader.Get("Autocrypt-Setup-Message")) > 0:
		v.IsSystemMessage = AutocryptSetupMessage
	case len(v.outerHeader.Get("Secure-Join")) > 0:
		v.IsSystemMessage = SecurejoinMessage
	case v.SyncItems != nil:
		v.IsSystemMessage = MultiDeviceSync
	case v.WebxdcStatusUpdate != nil:
		v.IsSystemMessage = WebxdcStatusUpdate
	case len(v.outerHeader.Get("Chat-Group-Member-Added")) > 0:
		v.IsSystemMessage = MemberAdded
	case len(v.outerHeader.Get("Chat-Group-Member-Removed")) > 0:
		v.IsSystemMessage = MemberRemoved
	case len(v.outerHeader.Get("Chat-Group-Name-Changed")) > 0:
		v.IsSystemMessage = GroupNameChanged
	case strings.EqualFold(string(v.outerHeader.Get("Chat-Content")), "group-avatar-changed"):
		v.IsSystemMessage = GroupImageChanged
	case len(v.outerHeader.Get("Ephemeral-Timer")) > 0:
		v.IsSystemMessage = EphemeralTimerChanged
	case strings.EqualFold(string(v.outerHeader.Get("Chat-Verified")), "1"):
		v.IsSystemMessage = ChatProtectionEnabled
	case v.MessageKML != nil || v.LocationKML != nil:
		v.IsSystemMessage = LocationStreamingEnabled
	default:
		v.IsSystemMessage = SystemNone
	}
}
