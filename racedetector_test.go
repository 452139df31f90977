package synckit

import (
	"testing"
	"time"

	"pkt.systems/synckit/internal/clock"
)

func TestRaceDetectorFlagsOverlapBeyondBound(t *testing.T) {
	t.Parallel()

	d := NewRaceDetector("orders", 2, time.Second)
	if !d.Track("op-1") {
		t.Fatal("first operation refused")
	}
	if !d.Track("op-2") {
		t.Fatal("second operation refused within bound")
	}
	if d.Track("op-3") {
		t.Fatal("third concurrent operation should be refused")
	}
	if !d.Check() {
		t.Fatal("violation flag not set")
	}
	vs := d.Violations()
	if len(vs) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(vs))
	}
	v := vs[0]
	if v.Key != "orders" || v.OperationID != "op-3" || v.Concurrent != 3 || v.MaxConcurrent != 2 {
		t.Fatalf("unexpected violation payload: %+v", v)
	}
}

func TestRaceDetectorCompleteFreesSlot(t *testing.T) {
	t.Parallel()

	d := NewRaceDetector("orders", 1, time.Second)
	if !d.Track("op-1") {
		t.Fatal("first operation refused")
	}
	if d.Track("op-2") {
		t.Fatal("overlap should be refused")
	}
	d.Complete("op-1")
	if !d.Track("op-3") {
		t.Fatal("slot not freed after Complete")
	}
	if d.Tracked() != 1 {
		t.Fatalf("expected 1 tracked operation, got %d", d.Tracked())
	}
}

func TestRaceDetectorWindowExpiry(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Unix(1700000000, 0))
	d := NewRaceDetector("orders", 1, time.Second, WithRaceClock(clk))
	if !d.Track("op-1") {
		t.Fatal("first operation refused")
	}
	// Inside the window the slot is still held.
	clk.Advance(999 * time.Millisecond)
	if d.Track("op-2") {
		t.Fatal("entry expired before the window elapsed")
	}
	// Once op-1 ages past the window it stops counting against the bound.
	clk.Advance(2 * time.Millisecond)
	if !d.Track("op-3") {
		t.Fatal("expired entry still held the slot")
	}
}

func TestRaceDetectorZeroWindowKeepsUntilComplete(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Unix(1700000000, 0))
	d := NewRaceDetector("orders", 1, 0, WithRaceClock(clk))
	if !d.Track("op-1") {
		t.Fatal("first operation refused")
	}
	clk.Advance(time.Hour)
	if d.Track("op-2") {
		t.Fatal("zero-window entry must persist until Complete")
	}
	d.Complete("op-1")
	if !d.Track("op-2") {
		t.Fatal("slot not freed after Complete")
	}
}

func TestRaceDetectorResetClearsHistoryNotTracking(t *testing.T) {
	t.Parallel()

	d := NewRaceDetector("orders", 1, 0)
	d.Track("op-1")
	d.Track("op-2")
	if !d.Check() {
		t.Fatal("violation flag not set")
	}
	d.Reset()
	if d.Check() {
		t.Fatal("Reset did not clear the violation flag")
	}
	if len(d.Violations()) != 0 {
		t.Fatal("Reset did not clear violation history")
	}
	if d.Tracked() != 1 {
		t.Fatalf("Reset must not drop tracked operations: %d", d.Tracked())
	}
	// The original overlap is still live, so new overlap is still refused.
	if d.Track("op-3") {
		t.Fatal("overlap allowed after Reset")
	}
}
