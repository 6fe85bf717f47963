package chat

import (
	"fmt"
	"strconv"
	"strings"

	"crawshaw.io/sqlite"

	"veilmail.dev/core/store"
)

// MutationResult reports what the group mutation engine changed, so
// the message writer can decide which events to emit and what text
// to synthesize as info messages.
type MutationResult struct {
	ChatModified bool
	InfoMessages []string
	GateError    string // set when a Chat-Verified:1 request failed verification
}

// Mutate applies §4.5's membership/name/avatar/protection/timer
// changes to chat, guarded by per-attribute timestamps and the
// sender-authority check. It is a no-op for any chat that is not a
// Group.
func (r *Resolver) Mutate(conn *sqlite.Conn, chat store.Chat, env *Envelope) (MutationResult, error) {
	var res MutationResult
	if chat.Type != store.ChatGroup {
		return res, nil
	}

	selfMember, err := store.IsChatMember(conn, chat.ID, store.SELF)
	if err != nil {
		return res, err
	}
	senderMember, err := store.IsChatMember(conn, chat.ID, env.FromID)
	if err != nil {
		return res, err
	}
	authority := !(selfMember && !senderMember)
	if !authority {
		r.logf("chat: member-list edit by non-member %s rejected on chat %s", env.FromAddr, chat.ID)
	}

	guard := func(key store.ParamKey) (bool, error) {
		stored := store.GetChatParamInt64(conn, chat.ID, key)
		if env.SentTs <= stored {
			return false, nil
		}
		return true, store.SetChatParamInt64(conn, chat.ID, key, env.SentTs)
	}

	if authority && (env.MemberAdded != "" || env.MemberRemoved != "") {
		pass, err := guard(store.ParamMemberListTimestamp)
		if err != nil {
			return res, err
		}
		if pass {
			if err := r.recreateMembers(conn, chat.ID, env); err != nil {
				return res, err
			}
			if env.MemberRemoved != "" {
				res.InfoMessages = append(res.InfoMessages, fmt.Sprintf("%s removed %s", env.FromAddr, env.MemberRemoved))
			}
			if env.MemberAdded != "" {
				res.InfoMessages = append(res.InfoMessages, fmt.Sprintf("%s added %s", env.FromAddr, env.MemberAdded))
			}
			res.ChatModified = true
			// The recreated member list now includes the sender if this
			// envelope just added them, so accompanying name/avatar/
			// protection changes in the same message are authorized too.
			authority = true
		}
	}

	if authority && env.ChatGroupNameChanged != "" {
		pass, err := guard(store.ParamGroupNameTimestamp)
		if err != nil {
			return res, err
		}
		if pass {
			if err := store.SetChatName(conn, chat.ID, env.ChatGroupName); err != nil {
				return res, err
			}
			res.InfoMessages = append(res.InfoMessages, fmt.Sprintf(
				"%s changed group name from %s to %s", env.FromAddr, env.ChatGroupNameChanged, env.ChatGroupName))
			res.ChatModified = true
		}
	}

	if authority && env.ChatContent == "group-avatar-changed" {
		pass, err := guard(store.ParamAvatarTimestamp)
		if err != nil {
			return res, err
		}
		if pass {
			res.InfoMessages = append(res.InfoMessages, avatarChangeText(env))
			res.ChatModified = true
		}
	}

	if env.ChatVerified {
		errMsg, ok, err := r.Verify(conn, env)
		if err != nil {
			return res, err
		}
		if !ok {
			res.GateError = errMsg
		} else if !chat.Protected {
			if err := store.SetChatProtected(conn, chat.ID, true); err != nil {
				return res, err
			}
			if err := r.recreateMembers(conn, chat.ID, env); err != nil {
				return res, err
			}
			res.ChatModified = true
			chat.Protected = true
		}
	}

	if env.EphemeralTimerHeader != "" && res.GateError == "" {
		if err := r.applyEphemeralTimer(conn, chat, env, &res, guard); err != nil {
			return res, err
		}
	}

	return res, nil
}

// recreateMembers deletes and rebuilds chatID's member set from the
// union of SELF (unless SELF is the party being removed), from_id,
// and to_ids — the member-list recreation of §4.5.
func (r *Resolver) recreateMembers(conn *sqlite.Conn, chatID store.ChatID, env *Envelope) error {
	if err := store.ClearChatMembers(conn, chatID); err != nil {
		return err
	}
	members := uniqueContacts(env)
	selfRemoved := env.MemberRemoved != "" && r.SelfAddrs[strings.ToLower(env.MemberRemoved)]
	if !selfRemoved {
		members = append(members, store.SELF)
	}
	for _, m := range members {
		if err := store.AddChatMember(conn, chatID, m); err != nil {
			return err
		}
	}
	return nil
}

func avatarChangeText(env *Envelope) string {
	return fmt.Sprintf("%s changed group image", env.FromAddr)
}

// applyEphemeralTimer implements the timer-change rules of §4.5: the
// verification gate and attribute-timestamp guard must both pass, and
// the rollback guard must not trip.
func (r *Resolver) applyEphemeralTimer(conn *sqlite.Conn, chat store.Chat, env *Envelope, res *MutationResult, guard func(store.ParamKey) (bool, error)) error {
	seconds, disabled, err := parseEphemeralTimer(env.EphemeralTimerHeader)
	if err != nil {
		r.logf("chat: unparsable ephemeral timer header %q", env.EphemeralTimerHeader)
		return nil
	}

	if chat.Protected {
		errMsg, ok, err := r.Verify(conn, env)
		if err != nil {
			return err
		}
		if !ok {
			res.GateError = errMsg
			return nil
		}
	}

	pass, err := guard(store.ParamEphemeralSettingsTimestamp)
	if err != nil {
		return err
	}
	if !pass {
		return nil
	}

	currentTimer := store.GetChatParamInt64(conn, chat.ID, store.ParamEphemeralTimer)
	if env.HasChatVersion {
		for _, ref := range env.References {
			m, ok, err := store.LookupMsgByRfc724Mid(conn, ref)
			if err != nil {
				return err
			}
			if ok && m.EphemeralTimer == currentTimer {
				r.logf("chat: ignoring ephemeral-timer rollback on chat %s", chat.ID)
				return nil
			}
		}
	}

	newTimer := int64(0)
	if !disabled {
		newTimer = seconds
	}
	if err := store.SetChatParamInt64(conn, chat.ID, store.ParamEphemeralTimer, newTimer); err != nil {
		return err
	}
	if disabled {
		res.InfoMessages = append(res.InfoMessages, "disappearing messages disabled")
	} else {
		res.InfoMessages = append(res.InfoMessages, fmt.Sprintf("disappearing messages timer changed to %ds", newTimer))
	}
	res.ChatModified = true
	return nil
}

// parseEphemeralTimer parses an Ephemeral-Timer: header value into
// {Disabled} or {Enabled, seconds}.
func parseEphemeralTimer(v string) (seconds int64, disabled bool, err error) {
	v = strings.TrimSpace(v)
	if v == "" || v == "0" {
		return 0, true, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, false, nil
}
