package subscriber

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abhinavp13/Ubiquitous/internal/connection"
	"github.com/abhinavp13/Ubiquitous/internal/datalayer"
	"github.com/abhinavp13/Ubiquitous/internal/datalayer/memory"
	"github.com/abhinavp13/Ubiquitous/internal/publisher"
	"github.com/abhinavp13/Ubiquitous/internal/render"
	"github.com/abhinavp13/Ubiquitous/internal/weather"
)

// pair wires a primary and a companion over one in-process bus.
type pair struct {
	bus       *memory.Bus
	primary   *connection.Manager
	companion *connection.Manager
	pub       *publisher.Publisher
	loop      *render.Loop
	cancel    context.CancelFunc
}

func newPair(t *testing.T) *pair {
	t.Helper()
	bus := memory.NewBus()
	p := &pair{
		bus:       bus,
		primary:   connection.New(bus, connection.Config{Name: "primary"}),
		companion: connection.New(bus, connection.Config{Name: "companion"}),
		loop:      render.NewLoop("watchface", nil, nil),
	}
	p.pub = publisher.New(p.primary, nil, publisher.Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	t.Cleanup(cancel)

	sub := New(p.companion, weather.ConditionTable{}, p.loop, Config{Name: "watchface"}, nil)
	go p.loop.Run(ctx)
	go sub.Run(ctx)

	p.primary.Connect()
	p.companion.Connect()
	awaitReady(t, p.primary)
	awaitReady(t, p.companion)
	return p
}

func awaitReady(t *testing.T, m *connection.Manager) connection.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := m.AwaitReady(ctx)
	if err != nil {
		t.Fatalf("await ready: %v", err)
	}
	return s
}

func waitForRender(t *testing.T, loop *render.Loop, ok func(render.State) bool) render.State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := loop.Current()
		if ok(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for render state, last %+v", st)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func putRaw(t *testing.T, m *connection.Manager, path string, rec datalayer.Record) {
	t.Helper()
	payload, err := rec.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := awaitReady(t, m)
	if err := s.Link.Put(context.Background(), path, payload); err != nil {
		t.Fatalf("put: %v", err)
	}
}

func TestRoundTripFewClouds(t *testing.T) {
	p := newPair(t)

	snap := weather.Snapshot{ConditionID: 802, MaxTemp: "75°", MinTemp: "52°"}
	if err := p.pub.Publish(context.Background(), snap); err != nil {
		t.Fatalf("publish: %v", err)
	}

	st := waitForRender(t, p.loop, func(s render.State) bool { return s.Real != 0 })
	want := render.State{
		Icon:    weather.IconLightClouds,
		Label:   "Few Clouds",
		MaxTemp: "75°",
		MinTemp: "52°",
		Real:    render.AllFields,
	}
	if st != want {
		t.Fatalf("expected %+v, got %+v", want, st)
	}
}

func TestZeroConditionAndMissingMax(t *testing.T) {
	p := newPair(t)

	putRaw(t, p.primary, weather.DefaultPath, datalayer.NewRecord().
		PutInt(weather.FieldConditionID, 0).
		PutString(weather.FieldMinTemp, "40°"))

	st := waitForRender(t, p.loop, func(s render.State) bool { return s.Real != 0 })
	want := render.State{
		Icon:    weather.IconDefault,
		Label:   "Unknown",
		MaxTemp: "--",
		MinTemp: "40°",
		Real:    render.FieldMin,
	}
	if st != want {
		t.Fatalf("expected %+v, got %+v", want, st)
	}
}

func TestUnknownConditionKeepsTemperatures(t *testing.T) {
	p := newPair(t)

	putRaw(t, p.primary, weather.DefaultPath, datalayer.NewRecord().
		PutInt(weather.FieldConditionID, 9999).
		PutString(weather.FieldMaxTemp, "10°").
		PutString(weather.FieldMinTemp, "2°"))

	st := waitForRender(t, p.loop, func(s render.State) bool { return s.Real != 0 })
	if st.Icon != weather.IconDefault || st.Label != "Unknown" || st.MaxTemp != "10°" || st.MinTemp != "2°" {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestUnrelatedPathIsIgnored(t *testing.T) {
	p := newPair(t)

	putRaw(t, p.primary, "/wearable/steps", datalayer.NewRecord().PutString(weather.FieldMaxTemp, "99°"))
	putRaw(t, p.primary, weather.DefaultPath, datalayer.NewRecord().PutString(weather.FieldMaxTemp, "20°"))

	st := waitForRender(t, p.loop, func(s render.State) bool { return s.Real != 0 })
	if st.MaxTemp != "20°" {
		t.Fatalf("expected only the weather path to apply, got %+v", st)
	}
}

func TestDecodeFailureRaisesAdvisory(t *testing.T) {
	p := newPair(t)

	s := awaitReady(t, p.primary)
	if err := s.Link.Put(context.Background(), weather.DefaultPath, []byte(`{"v":9,"data":{}}`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	st := waitForRender(t, p.loop, func(s render.State) bool { return s.Advisory != "" })
	if st.Advisory != render.AdvisoryText || st.MaxTemp != render.PlaceholderTemp {
		t.Fatalf("unexpected state %+v", st)
	}
}

// eventCounter records subscriber outcomes.
type eventCounter struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *eventCounter) RecordEvent(_, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = make(map[string]int)
	}
	c.outcomes[outcome]++
}

func (c *eventCounter) RecordUnresolved(string, string) {}

func (c *eventCounter) count(outcome string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcomes[outcome]
}

func waitForFailed(t *testing.T, m *connection.Manager) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != connection.Failed {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for failed, have %s", m.State())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRepeatedConnectFailuresRaiseAdvisoryOnce(t *testing.T) {
	bus := memory.NewBus()
	bus.FailDials(errors.New("peer out of range"))

	var mu sync.Mutex
	advisories := 0
	loop := render.NewLoop("watchface", render.RendererFunc(func(s render.State) {
		if s.Advisory != "" {
			mu.Lock()
			advisories++
			mu.Unlock()
		}
	}), nil)
	companion := connection.New(bus, connection.Config{Name: "companion"})
	sub := New(companion, weather.ConditionTable{}, loop, Config{Name: "watchface"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)
	go sub.Run(ctx)

	for i := 0; i < 3; i++ {
		companion.Connect()
		waitForFailed(t, companion)
	}

	st := waitForRender(t, loop, func(s render.State) bool { return s.Advisory != "" })
	if st.Advisory != render.AdvisoryText || st.MaxTemp != render.PlaceholderTemp || st.Icon != weather.IconDefault {
		t.Fatalf("expected placeholders with the advisory, got %+v", st)
	}

	// A later success clears it.
	bus.FailDials(nil)
	primary := connection.New(bus, connection.Config{Name: "primary"})
	primary.Connect()
	awaitReady(t, primary)
	pub := publisher.New(primary, nil, publisher.Config{}, nil)
	if err := pub.Publish(context.Background(), weather.Snapshot{ConditionID: 800, MaxTemp: "30°", MinTemp: "20°"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	companion.Connect()
	waitForRender(t, loop, func(s render.State) bool { return s.MaxTemp == "30°" && s.Advisory == "" })

	mu.Lock()
	defer mu.Unlock()
	if advisories != 1 {
		t.Fatalf("expected the advisory to be rendered once, got %d", advisories)
	}
}

func TestUpdateQueuedBeforeDisconnectIsDropped(t *testing.T) {
	bus := memory.NewBus()
	primary := connection.New(bus, connection.Config{Name: "primary"})
	companion := connection.New(bus, connection.Config{Name: "companion"})
	loop := render.NewLoop("watchface", nil, nil)
	events := &eventCounter{}
	sub := New(companion, weather.ConditionTable{}, loop, Config{Name: "watchface"}, events)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sub.Run(ctx)

	primary.Connect()
	companion.Connect()
	awaitReady(t, primary)
	awaitReady(t, companion)

	pub := publisher.New(primary, nil, publisher.Config{}, nil)
	if err := pub.Publish(context.Background(), weather.Snapshot{ConditionID: 800, MaxTemp: "30°", MinTemp: "20°"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// The loop is idle, so the decoded update sits in its queue.
	deadline := time.Now().Add(2 * time.Second)
	for events.count("applied") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never handed the update off")
		}
		time.Sleep(2 * time.Millisecond)
	}

	companion.Disconnect()
	go loop.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	if st := loop.Current(); st != render.Placeholder() {
		t.Fatalf("update from a superseded session was rendered: %+v", st)
	}
}

func TestNoUpdatesAfterDisconnect(t *testing.T) {
	p := newPair(t)

	if err := p.pub.Publish(context.Background(), weather.Snapshot{ConditionID: 800, MaxTemp: "30°", MinTemp: "20°"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitForRender(t, p.loop, func(s render.State) bool { return s.MaxTemp == "30°" })

	p.companion.Disconnect()
	if err := p.pub.Publish(context.Background(), weather.Snapshot{ConditionID: 500, MaxTemp: "12°", MinTemp: "8°"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if st := p.loop.Current(); st.MaxTemp != "30°" {
		t.Fatalf("disconnected companion rendered %+v", st)
	}

	// Reconnecting delivers the latest record again.
	p.companion.Connect()
	st := waitForRender(t, p.loop, func(s render.State) bool { return s.MaxTemp == "12°" })
	if st.Icon != weather.IconRain {
		t.Fatalf("expected rain icon, got %s", st.Icon)
	}
}

func TestDeletedEventKeepsDisplay(t *testing.T) {
	p := newPair(t)

	if err := p.pub.Publish(context.Background(), weather.Snapshot{ConditionID: 800, MaxTemp: "30°", MinTemp: "20°"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitForRender(t, p.loop, func(s render.State) bool { return s.MaxTemp == "30°" })

	p.bus.Delete(weather.DefaultPath)
	time.Sleep(30 * time.Millisecond)
	if st := p.loop.Current(); st.MaxTemp != "30°" || st.Advisory != "" {
		t.Fatalf("deletion changed the display: %+v", st)
	}
}

func TestMissingTemperatureKeepsLastGoodValue(t *testing.T) {
	p := newPair(t)

	if err := p.pub.Publish(context.Background(), weather.Snapshot{ConditionID: 800, MaxTemp: "30°", MinTemp: "20°"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitForRender(t, p.loop, func(s render.State) bool { return s.MaxTemp == "30°" })

	putRaw(t, p.primary, weather.DefaultPath, datalayer.NewRecord().
		PutInt(weather.FieldConditionID, 500).
		PutString(weather.FieldMinTemp, "15°"))

	st := waitForRender(t, p.loop, func(s render.State) bool { return s.MinTemp == "15°" })
	if st.MaxTemp != "30°" || st.Icon != weather.IconRain {
		t.Fatalf("expected max to keep its last good value, got %+v", st)
	}
}

func TestDecodePerFieldPolicy(t *testing.T) {
	id, maxTemp := 802, "75°"
	c, unresolved := Decode(weather.Fields{ConditionID: &id, MaxTemp: &maxTemp}, weather.ConditionTable{})
	if c.Icon != weather.IconLightClouds || c.Label != "Few Clouds" || c.MaxTemp != "75°" || c.MinTemp != "" {
		t.Fatalf("unexpected candidate %+v", c)
	}
	if unresolved != render.FieldMin {
		t.Fatalf("expected only min unresolved, got %v", unresolved.Names())
	}

	_, unresolved = Decode(weather.Fields{}, weather.ConditionTable{})
	if unresolved != render.AllFields {
		t.Fatalf("expected every field unresolved, got %v", unresolved.Names())
	}
}
