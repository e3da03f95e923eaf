package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rocketweb/squirrelops-sensor/internal/logging"
	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

// Bus is the event bus described by the component design: publish()
// atomically appends to the backing store and only then fans out to
// subscribers; subscribe() supports the "*" wildcard; replay() re-reads
// the log from any sequence.
type Bus struct {
	store *storage.Store
	log   *logging.Logger

	mu   sync.RWMutex
	subs map[EventType][]chan Event

	published uint64
	dropped   uint64
}

// New creates a Bus backed by store.
func New(store *storage.Store) *Bus {
	return &Bus{
		store: store,
		log:   logging.WithComponent("eventbus"),
		subs:  make(map[EventType][]chan Event),
	}
}

// Publish persists the event and fans it out. If persistence fails, no
// fan-out occurs and the error is returned to the caller. Fan-out is
// non-blocking and best-effort: a full subscriber channel drops the event
// rather than blocking the publisher, and one subscriber's drop never
// affects delivery to others.
func (b *Bus) Publish(ctx context.Context, eventType EventType, payload any, sourceID string) (int64, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: encode payload: %v", storage.ErrValidation, err)
	}

	seq, err := b.store.AppendEvent(ctx, string(eventType), string(encoded), sourceID)
	if err != nil {
		return 0, err
	}

	e := Event{Seq: seq, Type: eventType, Payload: payload, SourceID: sourceID}

	b.mu.RLock()
	defer b.mu.RUnlock()
	b.published++
	for _, ch := range b.subs[eventType] {
		dispatch(ch, e, &b.dropped)
	}
	if eventType != EventAll {
		for _, ch := range b.subs[EventAll] {
			dispatch(ch, e, &b.dropped)
		}
	}
	return seq, nil
}

func dispatch(ch chan Event, e Event, dropped *uint64) {
	select {
	case ch <- e:
	default:
		*dropped++
	}
}

// Subscribe returns a channel receiving events of any of the given types.
// Passing EventAll (or no types) subscribes to everything. Callers must
// drain the channel or call Unsubscribe to avoid drops.
func (b *Bus) Subscribe(bufSize int, types ...EventType) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}
	if len(types) == 0 {
		types = []EventType{EventAll}
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subs[t] = append(b.subs[t], ch)
	}
	return ch
}

// Unsubscribe removes ch from every subscription it was registered under.
// The channel is not closed.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t, subs := range b.subs {
		filtered := make([]chan Event, 0, len(subs))
		for _, s := range subs {
			if (<-chan Event)(s) != ch {
				filtered = append(filtered, s)
			}
		}
		b.subs[t] = filtered
	}
}

// Replay returns every event with seq > sinceSeq in ascending order.
func (b *Bus) Replay(ctx context.Context, sinceSeq int64) ([]Event, error) {
	stored, err := b.store.Replay(ctx, sinceSeq)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(stored))
	for _, se := range stored {
		var payload any
		_ = json.Unmarshal([]byte(se.Payload), &payload)
		out = append(out, Event{Seq: se.Seq, Type: EventType(se.EventType), Payload: payload, SourceID: se.SourceID, Timestamp: se.CreatedAt})
	}
	return out, nil
}

// Stats returns the publish/drop counters for monitoring.
func (b *Bus) Stats() (published, dropped uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.published, b.dropped
}

// Drain synchronously collects every event currently buffered on a
// subscription channel, for deterministic tests that need to assert on
// dispatched events without racing a consumer goroutine.
func Drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
