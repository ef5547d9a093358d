// Package progress implements the status feed: a non-blocking fanout of
// processing updates to any number of subscribers. A single run()
// goroutine selects over register/unregister/publish channels, with a
// non-blocking send per subscriber so one slow reader can't stall the rest.
package progress

import (
	"github.com/arborfm/karaopipe/src/features/status"
)

// Event is one published status change for a track.
type Event struct {
	TrackID string       `json:"track_id"`
	Entry   status.Entry `json:"entry"`
}

// subscriberBuffer is the bound on each subscriber's channel; once full,
// further events for a blocked subscriber are dropped rather than queued.
const subscriberBuffer = 32

// Broadcaster fans out Events to any number of subscribers; a slow
// subscriber never blocks the publisher.
type Broadcaster struct {
	events    chan Event
	subscribe chan chan Event
	unsub     chan chan Event
	snapshot  chan snapshotRequest
}

type snapshotRequest struct {
	reply chan map[string]status.Entry
}

// New starts the broadcaster's run loop and returns a ready-to-use handle.
func New() *Broadcaster {
	b := &Broadcaster{
		events:    make(chan Event, 256),
		subscribe: make(chan chan Event),
		unsub:     make(chan chan Event),
		snapshot:  make(chan snapshotRequest),
	}
	go b.run()
	return b
}

func (b *Broadcaster) run() {
	subscribers := make(map[chan Event]bool)
	latest := make(map[string]status.Entry)

	for {
		select {
		case ev := <-b.events:
			latest[ev.TrackID] = ev.Entry
			for ch := range subscribers {
				select {
				case ch <- ev:
				default:
					// slow subscriber: drop this event rather than block.
				}
			}
		case ch := <-b.subscribe:
			subscribers[ch] = true
		case ch := <-b.unsub:
			if _, ok := subscribers[ch]; ok {
				delete(subscribers, ch)
				close(ch)
			}
		case req := <-b.snapshot:
			out := make(map[string]status.Entry, len(latest))
			for k, v := range latest {
				out[k] = v
			}
			req.reply <- out
		}
	}
}

// Publish queues an event for every current subscriber. It waits only
// while the 256-event queue in front of the run loop is full; a slow
// subscriber never holds it up.
func (b *Broadcaster) Publish(trackID string, entry status.Entry) {
	b.events <- Event{TrackID: trackID, Entry: entry}
}

// Subscribe registers a new listener and returns a channel of Events.
// Callers must call Unsubscribe when done to release the channel.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.subscribe <- ch
	return ch
}

// Unsubscribe deregisters and closes a channel returned by Subscribe.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.unsub <- ch
}

// Snapshot returns the most recently published entry per track_id, for
// the pull/polling transport.
func (b *Broadcaster) Snapshot() map[string]status.Entry {
	req := snapshotRequest{reply: make(chan map[string]status.Entry)}
	b.snapshot <- req
	return <-req.reply
}
