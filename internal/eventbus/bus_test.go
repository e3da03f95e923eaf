package eventbus

import (
	"context"
	"sync"
	"testing"

	"github.com/rocketweb/squirrelops-sensor/internal/storage"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	store, err := storage.Open(storage.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func TestPublishMonotonicSequences(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	const n = 20
	seqs := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seq, err := b.Publish(ctx, EventDeviceDiscovered, map[string]string{"n": "x"}, "")
			if err != nil {
				t.Errorf("publish: %v", err)
				return
			}
			seqs[i] = seq
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, s := range seqs {
		if s == 0 || seen[s] {
			t.Fatalf("duplicate or zero sequence in %v", seqs)
		}
		seen[s] = true
	}

	events, err := b.Replay(ctx, 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(events) != n {
		t.Fatalf("expected %d events, got %d", n, len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Fatalf("replay not in ascending seq order at %d", i)
		}
	}
}

func TestSubscribeWildcardAndTyped(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	all := b.Subscribe(10, EventAll)
	typed := b.Subscribe(10, EventDecoyTrip)

	if _, err := b.Publish(ctx, EventDeviceDiscovered, "payload", ""); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := b.Publish(ctx, EventDecoyTrip, "payload2", ""); err != nil {
		t.Fatalf("publish: %v", err)
	}

	allEvents := Drain(all)
	if len(allEvents) != 2 {
		t.Fatalf("wildcard subscriber expected 2 events, got %d", len(allEvents))
	}
	typedEvents := Drain(typed)
	if len(typedEvents) != 1 || typedEvents[0].Type != EventDecoyTrip {
		t.Fatalf("typed subscriber expected 1 decoy.trip event, got %+v", typedEvents)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	ch := b.Subscribe(10, EventAll)
	b.Unsubscribe(ch)

	if _, err := b.Publish(ctx, EventDeviceDiscovered, "x", ""); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(Drain(ch)) != 0 {
		t.Fatalf("unsubscribed channel should receive nothing")
	}
}

func TestSlowSubscriberDropsDontBlockOthers(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	slow := b.Subscribe(1, EventAll)
	fast := b.Subscribe(10, EventAll)

	for i := 0; i < 5; i++ {
		if _, err := b.Publish(ctx, EventDeviceDiscovered, i, ""); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if len(Drain(fast)) != 5 {
		t.Fatalf("fast subscriber should receive all 5 events")
	}
	_, dropped := b.Stats()
	if dropped == 0 {
		t.Fatalf("expected drops recorded for slow subscriber")
	}
	_ = slow
}
