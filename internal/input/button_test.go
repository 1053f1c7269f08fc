package input

import (
	"testing"
	"time"

	"github.com/sweeney/sensor-node/internal/clock"
)

// press drives an active-low button low from start, polling every 10ms until end.
func press(b *Button, start, end clock.Instant) []ButtonEvent {
	var events []ButtonEvent
	for ms := start; ms <= end; ms += 10 {
		if ev := b.Update(ms, false); ev.Any() {
			events = append(events, ev)
		}
	}
	return events
}

func release(b *Button, start, end clock.Instant) []ButtonEvent {
	var events []ButtonEvent
	for ms := start; ms <= end; ms += 10 {
		if ev := b.Update(ms, true); ev.Any() {
			events = append(events, ev)
		}
	}
	return events
}

func TestShortPress(t *testing.T) {
	b := NewButton(50*time.Millisecond, time.Second, true, 0)

	events := press(b, 100, 400)
	if len(events) != 1 || events[0].Edge != EdgeFell {
		t.Fatalf("expected one FELL on press, got %+v", events)
	}
	if !b.Pressed() {
		t.Error("expected Pressed after FELL")
	}

	events = release(b, 410, 600)
	if len(events) != 1 {
		t.Fatalf("expected one event on release, got %+v", events)
	}
	if events[0].Edge != EdgeRose || !events[0].Short || events[0].HeldLong {
		t.Errorf("expected ROSE+Short on release, got %+v", events[0])
	}
	if b.Pressed() {
		t.Error("expected not Pressed after ROSE")
	}
}

func TestLongPressReportedOncePerPress(t *testing.T) {
	b := NewButton(50*time.Millisecond, time.Second, true, 0)

	events := press(b, 100, 5000)
	var held int
	for _, ev := range events {
		if ev.HeldLong {
			held++
		}
	}
	if held != 1 {
		t.Fatalf("expected exactly one HeldLong while held for ~5s, got %d (%+v)", held, events)
	}

	// FELL commits at 150, so HeldLong fires at 1150
	last := events[len(events)-1]
	if !last.HeldLong {
		t.Fatalf("expected last event to be HeldLong, got %+v", last)
	}

	events = release(b, 5010, 5200)
	if len(events) != 1 || events[0].Short {
		t.Errorf("release after long press must not be Short, got %+v", events)
	}

	// Second press gets its own HeldLong
	events = press(b, 6000, 7500)
	held = 0
	for _, ev := range events {
		if ev.HeldLong {
			held++
		}
	}
	if held != 1 {
		t.Errorf("expected latch cleared on release, got %d HeldLong", held)
	}
}

func TestLongPressThreshold(t *testing.T) {
	b := NewButton(50*time.Millisecond, time.Second, true, 0)
	b.Update(0, false)
	if ev := b.Update(50, false); ev.Edge != EdgeFell {
		t.Fatalf("expected FELL at 50, got %+v", ev)
	}
	if ev := b.Update(1049, false); ev.HeldLong {
		t.Fatal("HeldLong fired early")
	}
	if ev := b.Update(1050, false); !ev.HeldLong {
		t.Fatal("expected HeldLong at threshold")
	}
}

func TestActiveHighButton(t *testing.T) {
	b := NewButton(50*time.Millisecond, 0, false, 0)
	b.Update(0, true)
	if ev := b.Update(50, true); ev.Edge != EdgeRose {
		t.Fatalf("expected ROSE as press for active-high, got %+v", ev)
	}
	if ev := b.Update(5000, true); ev.HeldLong {
		t.Error("hold disabled with zero threshold")
	}
}
