package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abhinavp13/Ubiquitous/internal/datalayer"
)

func collect(t *testing.T, l datalayer.Link) (<-chan datalayer.Event, func()) {
	t.Helper()
	ch := make(chan datalayer.Event, 16)
	remove, err := l.AddListener(func(events []datalayer.Event) {
		for _, ev := range events {
			ch <- ev
		}
	})
	if err != nil {
		t.Fatalf("add listener: %v", err)
	}
	return ch, remove
}

func next(t *testing.T, ch <-chan datalayer.Event) datalayer.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return datalayer.Event{}
	}
}

func expectNone(t *testing.T, ch <-chan datalayer.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPutReachesOtherLinkAndIsRetained(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()

	primary, err := bus.Dial(ctx, datalayer.Hooks{})
	if err != nil {
		t.Fatalf("dial primary: %v", err)
	}
	companion, err := bus.Dial(ctx, datalayer.Hooks{})
	if err != nil {
		t.Fatalf("dial companion: %v", err)
	}

	ch, remove := collect(t, companion)
	defer remove()

	if err := primary.Put(ctx, "/wearable/weather", []byte("a")); err != nil {
		t.Fatalf("put: %v", err)
	}
	ev := next(t, ch)
	if ev.Kind != datalayer.EventChanged || ev.Path != "/wearable/weather" || string(ev.Payload) != "a" {
		t.Fatalf("unexpected event %+v", ev)
	}

	// A listener registered later still sees the latest record.
	late, removeLate := collect(t, companion)
	defer removeLate()
	if ev := next(t, late); string(ev.Payload) != "a" {
		t.Fatalf("expected retained payload, got %+v", ev)
	}
	if bus.Puts() != 1 {
		t.Fatalf("expected 1 put, got %d", bus.Puts())
	}
}

func TestSuspendRejectsPutsAndResumeReplays(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()

	suspended := make(chan error, 1)
	resumed := make(chan struct{}, 1)
	l, err := bus.Dial(ctx, datalayer.Hooks{
		Suspended: func(reason error) { suspended <- reason },
		Resumed:   func() { resumed <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := l.Put(ctx, "/p", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	ch, remove := collect(t, l)
	defer remove()
	next(t, ch)

	reason := errors.New("out of range")
	bus.Suspend(reason)
	if got := <-suspended; !errors.Is(got, reason) {
		t.Fatalf("expected suspend reason, got %v", got)
	}
	if err := l.Put(ctx, "/p", []byte("y")); !errors.Is(err, datalayer.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable while suspended, got %v", err)
	}

	bus.Resume()
	<-resumed
	if ev := next(t, ch); string(ev.Payload) != "x" {
		t.Fatalf("expected replay of retained record, got %+v", ev)
	}
}

func TestRemovedListenerStopsReceiving(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	l, _ := bus.Dial(ctx, datalayer.Hooks{})

	ch, remove := collect(t, l)
	remove()
	remove()

	if err := l.Put(ctx, "/p", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	expectNone(t, ch)
}

func TestDeleteEmitsDeletedEvent(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	l, _ := bus.Dial(ctx, datalayer.Hooks{})
	_ = l.Put(ctx, "/p", []byte("x"))

	ch, remove := collect(t, l)
	defer remove()
	next(t, ch)

	bus.Delete("/p")
	if ev := next(t, ch); ev.Kind != datalayer.EventDeleted || ev.Path != "/p" || ev.Payload != nil {
		t.Fatalf("unexpected event %+v", ev)
	}
	if _, ok := bus.Retained("/p"); ok {
		t.Fatal("deleted path should not be retained")
	}
}

func TestDialFailureAndDrop(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	errDenied := errors.New("denied")

	bus.FailDials(errDenied)
	if _, err := bus.Dial(ctx, datalayer.Hooks{}); !errors.Is(err, errDenied) {
		t.Fatalf("expected dial error, got %v", err)
	}
	bus.FailDials(nil)

	failed := make(chan error, 1)
	l, err := bus.Dial(ctx, datalayer.Hooks{Failed: func(reason error) { failed <- reason }})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	bus.Drop(errDenied)
	if got := <-failed; !errors.Is(got, errDenied) {
		t.Fatalf("expected drop reason, got %v", got)
	}
	if err := l.Put(ctx, "/p", nil); !errors.Is(err, datalayer.ErrClosed) {
		t.Fatalf("expected ErrClosed after drop, got %v", err)
	}
	if _, err := l.AddListener(func([]datalayer.Event) {}); !errors.Is(err, datalayer.ErrClosed) {
		t.Fatalf("expected ErrClosed from AddListener, got %v", err)
	}
	if bus.Links() != 0 || bus.Dials() != 2 {
		t.Fatalf("unexpected counters: links=%d dials=%d", bus.Links(), bus.Dials())
	}
}

func TestListenerAddedDuringPutEndsOnLatest(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		bus := NewBus()
		writer, err := bus.Dial(ctx, datalayer.Hooks{})
		if err != nil {
			t.Fatalf("dial writer: %v", err)
		}
		reader, err := bus.Dial(ctx, datalayer.Hooks{})
		if err != nil {
			t.Fatalf("dial reader: %v", err)
		}
		if err := writer.Put(ctx, "/wearable/weather", []byte("old")); err != nil {
			t.Fatalf("put: %v", err)
		}

		var mu sync.Mutex
		var last string
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = writer.Put(ctx, "/wearable/weather", []byte("new"))
		}()
		remove, err := reader.AddListener(func(events []datalayer.Event) {
			mu.Lock()
			last = string(events[len(events)-1].Payload)
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("add listener: %v", err)
		}
		<-done

		deadline := time.Now().Add(2 * time.Second)
		for {
			mu.Lock()
			got := last
			mu.Unlock()
			if got == "new" {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("iteration %d: listener ended on %q", i, got)
			}
			time.Sleep(time.Millisecond)
		}
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		got := last
		mu.Unlock()
		if got != "new" {
			t.Fatalf("iteration %d: older record delivered after the latest: %q", i, got)
		}
		remove()
		bus.Drop(nil)
	}
}
