package cache

import (
	"strings"

	"FinStore/internal/replay"
)

// Invalidator drops cached reads after on-disk state changed.
type Invalidator interface {
	Purge(reason string)
}

// Key scopes a cache key to a replay context so live and replay reads never share entries.
func Key(rc replay.Context, parts ...string) string {
	return rc.String() + "|" + strings.Join(parts, "|")
}
