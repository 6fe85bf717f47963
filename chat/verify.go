package chat

import (
	"fmt"
	"strings"

	"crawshaw.io/sqlite"

	"veilmail.dev/core/pgpengine"
	"veilmail.dev/core/store"
)

// Verify enforces the three-step bidirectional-verification contract
// of §4.6. On success it returns ok=true; on failure it returns the
// localized error string the caller should store as the message's
// visible text, per §4.6's "fail closed, but still store the
// envelope" rule.
func (r *Resolver) Verify(conn *sqlite.Conn, env *Envelope) (errMsg string, ok bool, err error) {
	if !env.WasEncrypted {
		return "End-to-end encryption is required for a protected chat", false, nil
	}

	if env.FromID != store.SELF {
		senderVerified, err := r.Peerstates.HasVerifiedKey(conn, env.FromAddr, env.Signatures)
		if err != nil {
			return "", false, err
		}
		if !senderVerified {
			return "Sender is not verified", false, nil
		}
	}

	for _, addr := range env.ToAddrs {
		addr = strings.ToLower(addr)
		if r.SelfAddrs[addr] {
			continue
		}
		verified, err := r.Peerstates.IsVerified(conn, addr)
		if err != nil {
			return "", false, err
		}
		if verified {
			continue
		}
		if gk, ok := findGossip(env.Gossip, addr); ok && env.GossipedAddr[addr] {
			promoted, err := r.Peerstates.PromoteGossip(conn, gk)
			if err != nil {
				return "", false, err
			}
			if promoted {
				continue
			}
		}
		return fmt.Sprintf("%s is not a member of this protected chat", addr), false, nil
	}

	return "", true, nil
}

// findGossip returns the gossip key carried for addr, if any.
func findGossip(gossip []pgpengine.GossipKey, addr string) (pgpengine.GossipKey, bool) {
	for _, gk := range gossip {
		if strings.EqualFold(gk.Addr, addr) {
			return gk, true
		}
	}
	return pgpengine.GossipKey{}, false
}
