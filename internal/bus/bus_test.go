package bus

import "testing"

func TestSend_LossyDrainKeepsMostRecent(t *testing.T) {
	b := NewWithCapacity(100)
	total := 100 + 17 // "1000 + k" property, scaled down for test speed
	for i := 0; i < total; i++ {
		b.Send(Message{Kind: KindSync, Text: "x", Count: i})
	}

	drained := b.Drain()
	if len(drained) > 100 {
		t.Fatalf("bus holds %d messages, want <= capacity 100", len(drained))
	}

	// The most recent 17 sends must never have been dropped before an
	// older message — i.e. the tail of the drained slice must be exactly
	// the last 17 counts sent, in order.
	k := 17
	if len(drained) < k {
		t.Fatalf("drained only %d messages, want at least %d", len(drained), k)
	}
	tail := drained[len(drained)-k:]
	for i, m := range tail {
		want := total - k + i
		if m.Count != want {
			t.Fatalf("tail[%d].Count = %d, want %d", i, m.Count, want)
		}
	}
}

func TestSend_UnderCapacityPreservesAll(t *testing.T) {
	b := NewWithCapacity(10)
	for i := 0; i < 5; i++ {
		b.Send(Message{Kind: KindSetup, Text: "ok", Count: i})
	}
	drained := b.Drain()
	if len(drained) != 5 {
		t.Fatalf("got %d messages, want 5", len(drained))
	}
	for i, m := range drained {
		if m.Count != i {
			t.Fatalf("drained[%d].Count = %d, want %d", i, m.Count, i)
		}
	}
}

func TestDrain_EmptiesBus(t *testing.T) {
	b := NewWithCapacity(10)
	b.Send(Message{Kind: KindTrigger, Text: "one"})
	b.Drain()
	if b.Len() != 0 {
		t.Fatalf("Len() = %d after drain, want 0", b.Len())
	}
	if got := b.Drain(); len(got) != 0 {
		t.Fatalf("second drain returned %d messages, want 0", len(got))
	}
}
