package presence

import (
	"github.com/samber/lo"

	"github.com/codedeck/backend/internal/identity"
	"github.com/codedeck/backend/internal/protocol"
)

// AnonymousName labels connections that never announced an identity.
const AnonymousName = "Anonymous"

// Snapshot resolves the given room membership into the deduplicated
// presence list. The same logical user joined from several tabs shares a
// userId and appears once (first connection in enumeration order wins);
// anonymous connections have no userId to group on and are each listed on
// their own. The result is recomputed on every call, never cached.
func Snapshot(reg *identity.Registry, connectionIDs []string) []protocol.ClientInfo {
	entries := lo.Map(connectionIDs, func(connID string, _ int) protocol.ClientInfo {
		info := protocol.ClientInfo{SocketID: connID, Username: AnonymousName}
		if id, ok := reg.Lookup(connID); ok {
			info.Username = id.Username
			// An empty userId is treated like no userId at all: it must
			// never group unrelated connections together.
			if id.UserID != "" {
				uid := id.UserID
				info.UserID = &uid
			}
		}
		return info
	})

	seen := make(map[string]bool, len(entries))
	return lo.Filter(entries, func(c protocol.ClientInfo, _ int) bool {
		if c.UserID == nil {
			return true
		}
		if seen[*c.UserID] {
			return false
		}
		seen[*c.UserID] = true
		return true
	})
}

// CountIdentified reports how many of the given connections have a
// resolvable identity. Room garbage collection keys off this: a room dies
// when the count reaches zero.
func CountIdentified(reg *identity.Registry, connectionIDs []string) int {
	return lo.CountBy(connectionIDs, func(connID string) bool {
		_, ok := reg.Lookup(connID)
		return ok
	})
}
