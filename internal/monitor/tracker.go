package monitor

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Tracker remembers which event IDs have already been notified. An ID is
// added only after a successful webhook send, so anything not in the set
// is still eligible for retry on the next poll.
//
// With a zero TTL entries never expire; event volume is tiny and the
// process lives no longer than the VM, so unbounded growth is fine. A
// positive TTL lets long-lived deployments shed old entries at the cost
// of re-notifying an event that outlives its entry.
type Tracker struct {
	c *cache.Cache
}

// NewTracker returns a Tracker whose entries expire after ttl, or never
// when ttl is zero or negative.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		return &Tracker{c: cache.New(cache.NoExpiration, 0)}
	}
	return &Tracker{c: cache.New(ttl, 2*ttl)}
}

// Contains reports whether the event ID has been notified.
func (t *Tracker) Contains(eventID string) bool {
	_, ok := t.c.Get(eventID)
	return ok
}

// MarkProcessed records the event ID as notified.
func (t *Tracker) MarkProcessed(eventID string) {
	t.c.SetDefault(eventID, struct{}{})
}

// Len returns the number of tracked event IDs.
func (t *Tracker) Len() int {
	return t.c.ItemCount()
}
