package chat

import "regexp"

// grIDPattern matches the stable group identifier embedded in a
// Message-Id of the form Gr.<grpid>.<rest>@host, per this module's
// specification §6 group-id grammar.
var grIDPattern = regexp.MustCompile(`Gr\.([A-Za-z0-9_-]{11}|[A-Za-z0-9_-]{16})\.`)

// extractGrpid pulls a grpid out of a single Message-Id-shaped string,
// reporting ok=false if the Gr. prefix pattern is absent.
func extractGrpid(messageID string) (grpid string, ok bool) {
	m := grIDPattern.FindStringSubmatch(messageID)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// tryGetGrpid implements §4.4's try_get_grpid cascade: an explicit
// Chat-Group-ID header, else the Gr. pattern in Message-Id, else (only
// for messages with no Chat-Version header) the same pattern in
// In-Reply-To/References.
func tryGetGrpid(env *Envelope) (grpid string, ok bool) {
	if env.ChatGroupID != "" {
		return env.ChatGroupID, true
	}
	if g, ok := extractGrpid(env.Rfc724Mid); ok {
		return g, true
	}
	if env.HasChatVersion {
		return "", false
	}
	if g, ok := extractGrpid(env.InReplyTo); ok {
		return g, true
	}
	for _, ref := range env.References {
		if g, ok := extractGrpid(ref); ok {
			return g, true
		}
	}
	return "", false
}
