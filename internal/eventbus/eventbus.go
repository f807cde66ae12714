// Package eventbus publishes the Orchestrator's four event kinds
// (agent_assigned, agent_completed, status_updated, recovery) to
// subscribers, grounded on the teacher's WebSocket event-publishing pattern
// in reviewloop.go (publishAgentStatusChange/publishReviewLoopChange)
// generalized from a single WebSocket hub to a channel-based bus, since this
// process has no Mattermost client to publish WebSocket events to.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Kind discriminates the four event kinds the Orchestrator publishes,
// closing the "dynamic attribute" smell at the wire boundary per SPEC_FULL
// §6: every event is a typed struct field, never an interface{} map.
type Kind string

const (
	KindAgentAssigned  Kind = "agent_assigned"
	KindAgentCompleted Kind = "agent_completed"
	KindStatusUpdated  Kind = "status_updated"
	KindRecovery       Kind = "recovery"
)

// Event is one notification published to the bus. Only the fields relevant
// to Kind are populated; the rest are left zero.
type Event struct {
	ID        string
	Kind      Kind
	ProjectID string
	Issue     int
	Timestamp time.Time

	// agent_assigned / agent_completed
	Agent     string
	Status    string
	NextAgent string

	// status_updated
	From        string
	To          string
	TriggeredBy string

	// recovery
	Missing []string
}

// Bus fans out published events to every current subscriber over its own
// goroutine (Run), grounded on SPEC_FULL §5's "second cooperative task...
// owns no pipeline state" design: Bus never touches a pipeline.Store, it
// only routes Event values subscribers chose to listen for.
type Bus struct {
	in  chan Event
	now func() time.Time

	mu   sync.Mutex
	subs map[chan Event]bool
}

// New constructs a Bus with the given input buffer size.
func New(bufferSize int) *Bus {
	return &Bus{
		in:   make(chan Event, bufferSize),
		now:  time.Now,
		subs: make(map[chan Event]bool),
	}
}

// Publish stamps an ID/Timestamp (if unset) and enqueues event for fan-out.
// Publish blocks once the bus's input buffer is full rather than dropping
// the event: the poll loop would rather stall a tick than silently lose an
// event a subscriber depends on.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}
	select {
	case b.in <- e:
	case <-ctx.Done():
	}
}

// Subscribe registers a new subscriber channel with the given buffer size,
// returning it along with an unsubscribe function.
func (b *Bus) Subscribe(bufferSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufferSize)
	b.mu.Lock()
	b.subs[ch] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Run drains published events and fans each out to every current subscriber
// until ctx is cancelled. Each event is sent to all subscribers concurrently
// via errgroup, and Run waits until every subscriber has received it (or ctx
// ends) before taking the next event, so one blocked subscriber delays
// delivery of later events to all subscribers.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-b.in:
			b.mu.Lock()
			targets := make([]chan Event, 0, len(b.subs))
			for ch := range b.subs {
				targets = append(targets, ch)
			}
			b.mu.Unlock()

			g, gctx := errgroup.WithContext(ctx)
			for _, ch := range targets {
				ch := ch
				g.Go(func() error {
					select {
					case ch <- e:
						return nil
					case <-gctx.Done():
						return gctx.Err()
					}
				})
			}
			_ = g.Wait()
		}
	}
}
