// Package events is the process-global event emitter named in §6 of
// this module's specification. It has no teacher analogue —
// spilled-ink-spilld has no event bus — so it is shaped as the
// simplest concrete type consistent with the rest of the corpus's
// preference for small types over frameworks: a bounded channel per
// subscriber, fed by a non-blocking send.
package events

import (
	"veilmail.dev/core/store"
)

// Kind identifies an event's shape.
type Kind int

const (
	IncomingMsg Kind = iota
	MsgsChanged
	ChatModified
	ContactsChanged
	LocationChanged
	MsgDelivered
	MsgRead
	MsgFailed
)

func (k Kind) String() string {
	switch k {
	case IncomingMsg:
		return "IncomingMsg"
	case MsgsChanged:
		return "MsgsChanged"
	case ChatModified:
		return "ChatModified"
	case ContactsChanged:
		return "ContactsChanged"
	case LocationChanged:
		return "LocationChanged"
	case MsgDelivered:
		return "MsgDelivered"
	case MsgRead:
		return "MsgRead"
	case MsgFailed:
		return "MsgFailed"
	default:
		return "Kind(unknown)"
	}
}

// Event is one emitted occurrence. ChatID, MsgID, and ContactID are
// zero-valued when not applicable to Kind.
type Event struct {
	Kind      Kind
	ChatID    store.ChatID
	MsgID     store.MsgID
	ContactID store.ContactID
}

// Emitter fans out events to every subscriber. The zero Emitter has
// no subscribers and simply discards events, which is a valid and
// cheap default for callers (tests, the CLI harness) that don't care
// about eventing.
type Emitter struct {
	subs []chan Event
}

// Subscribe returns a channel that receives every event emitted
// after this call, buffered so a slow subscriber cannot block
// reception. Events are dropped, not queued without bound, if the
// subscriber falls behind — eventing is a convenience signal, not a
// delivery guarantee.
func (e *Emitter) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	e.subs = append(e.subs, ch)
	return ch
}

// Emit sends ev to every subscriber, non-blocking.
func (e *Emitter) Emit(ev Event) {
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
