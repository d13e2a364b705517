// Copyright 2024-2026 Aiku AI

package connector

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Chatwoot fires message_created for messages the bridge itself posts and
// may deliver the same event more than once. Both are suppressed by
// remembering Chatwoot message ids for a while: ids the bridge created are
// marked up front, ids relayed to Telegram are claimed on first sight.

func newRecentCache(ttl time.Duration) *cache.Cache {
	return cache.New(ttl, 2*ttl)
}

// markOwnMessage records a Chatwoot message id created by the bridge so its
// webhook echo is dropped.
func (c *Connector) markOwnMessage(id int64) {
	if id == 0 {
		return
	}
	c.recent.SetDefault(chatwootMessageKey(id), struct{}{})
}

// claimChatwootMessage returns false when the id was created by the bridge
// or already relayed. Events without an id are always claimed.
func (c *Connector) claimChatwootMessage(id int64) bool {
	if id == 0 {
		return true
	}
	return c.recent.Add(chatwootMessageKey(id), struct{}{}, cache.DefaultExpiration) == nil
}
