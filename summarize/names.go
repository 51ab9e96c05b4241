package summarize

import (
	"context"
	"sync"

	"github.com/worklog-sh/worklog/logging"
	"github.com/worklog-sh/worklog/slack"
)

// NameResolver maps user ids to display names. Concurrent lookups for
// the same id share one API call; lookup failure falls back to the bare
// id without poisoning the cache, so a later lookup may still succeed.
type NameResolver struct {
	api slack.API

	mu       sync.Mutex
	names    map[string]string
	inflight map[string]*nameCall
}

type nameCall struct {
	done chan struct{}
	name string
	ok   bool
}

// NewNameResolver builds a resolver over the platform API.
func NewNameResolver(api slack.API) *NameResolver {
	return &NameResolver{
		api:      api,
		names:    map[string]string{},
		inflight: map[string]*nameCall{},
	}
}

// Prime seeds the cache from a bulk listing.
func (r *NameResolver) Prime(names map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, name := range names {
		if name != "" {
			r.names[id] = name
		}
	}
}

// DisplayName resolves one user id, returning the id itself when the
// lookup fails.
func (r *NameResolver) DisplayName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}

	r.mu.Lock()
	if name, ok := r.names[userID]; ok {
		r.mu.Unlock()
		return name
	}
	if call, ok := r.inflight[userID]; ok {
		r.mu.Unlock()
		<-call.done
		if call.ok {
			return call.name
		}
		return userID
	}
	call := &nameCall{done: make(chan struct{})}
	r.inflight[userID] = call
	r.mu.Unlock()

	name, err := r.api.UserDisplayName(ctx, userID)
	call.ok = err == nil && name != ""
	call.name = name
	close(call.done)

	r.mu.Lock()
	delete(r.inflight, userID)
	if call.ok {
		r.names[userID] = name
	}
	r.mu.Unlock()

	if !call.ok {
		if err != nil {
			logging.Debug("display name lookup failed", "user", userID, "error", err.Error())
		}
		return userID
	}
	return name
}
