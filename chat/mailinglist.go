package chat

import (
	"regexp"
	"strings"
)

// listIDPattern pulls the bracketed identifier out of a List-Id header
// shaped "Display Name <id>" or the bare "<id>" or "id" forms.
var listIDPattern = regexp.MustCompile(`<([^>]+)>`)

// knownNotificationSuffixes names List-Id domains known to carry a
// generic "notifications@" or "no-reply@" From address, where the
// chat name should be taken from the display name instead of the
// listid itself. Grounded on this module's specification §4.4's
// mailing-list name-derivation rule.
var knownNotificationSuffixes = []string{
	".list-id.mcsv.net",
	".xt.local",
}

var hex32Prefix = regexp.MustCompile(`^[0-9a-fA-F]{32}\.`)

// extractListID resolves the stable mailing-list identifier from
// either a List-Id header or, absent one, a Sender: address.
func extractListID(listIDHeader, senderAddr string) string {
	if listIDHeader != "" {
		if m := listIDPattern.FindStringSubmatch(listIDHeader); m != nil {
			return strings.ToLower(strings.TrimSpace(m[1]))
		}
		return strings.ToLower(strings.TrimSpace(listIDHeader))
	}
	return strings.ToLower(strings.TrimSpace(senderAddr))
}

// deriveMailinglistName applies the name-derivation order from §4.4:
// a bracketed subject tag first, then the From display name for
// known notification senders, then the listid with any 32-hex-char
// prefix stripped, then the raw listid.
func deriveMailinglistName(subject, fromName, listid string) string {
	if tag, ok := subjectBracketTag(subject); ok {
		return tag
	}
	if fromName != "" {
		for _, suffix := range knownNotificationSuffixes {
			if strings.HasSuffix(listid, suffix) {
				return fromName
			}
		}
		if looksLikeNoReply(listid) {
			return fromName
		}
	}
	if hex32Prefix.MatchString(listid) {
		return listid[33:]
	}
	return listid
}

var subjectTagPattern = regexp.MustCompile(`^\s*\[([^\]]+)\]`)

func subjectBracketTag(subject string) (string, bool) {
	m := subjectTagPattern.FindStringSubmatch(subject)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func looksLikeNoReply(listid string) bool {
	local := listid
	if at := strings.Index(listid, "@"); at >= 0 {
		local = listid[:at]
	}
	local = strings.ToLower(local)
	return strings.Contains(local, "noreply") || strings.Contains(local, "no-reply") || local == "info"
}
