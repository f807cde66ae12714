package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Timestamps remembers the last time something happened, keyed by a
// composite string key, and answers whether a configured window has elapsed
// since then. It backs the assignment grace period and the recovery
// cooldown: both need "have we done this recently?", not "what exactly did
// we do?".
//
// Entries expire on their own via go-cache's janitor once the window has
// passed, so Timestamps never grows unbounded the way Set needs explicit
// capacity eviction for.
type Timestamps struct {
	window time.Duration
	store  *gocache.Cache
	now    func() time.Time
}

// NewTimestamps constructs a Timestamps cache with the given window. Entries
// are purged shortly after they expire; window/2 keeps the janitor from
// running needlessly often for long windows while still reclaiming quickly
// for short ones.
func NewTimestamps(window time.Duration) *Timestamps {
	cleanup := window / 2
	if cleanup < time.Second {
		cleanup = time.Second
	}
	return &Timestamps{
		window: window,
		store:  gocache.New(window, cleanup),
		now:    time.Now,
	}
}

// Mark records that the event for key happened now.
func (t *Timestamps) Mark(key string) {
	t.store.Set(key, t.now(), t.window)
}

// Recent reports whether key was Marked within the configured window.
func (t *Timestamps) Recent(key string) bool {
	v, ok := t.store.Get(key)
	if !ok {
		return false
	}
	markedAt, ok := v.(time.Time)
	if !ok {
		return false
	}
	return t.now().Sub(markedAt) < t.window
}

// Clear removes key, e.g. once the event it guards against has been
// confirmed (a child PR appeared, recovery succeeded).
func (t *Timestamps) Clear(key string) {
	t.store.Delete(key)
}
