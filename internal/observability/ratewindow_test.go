package observability

import (
	"testing"
	"time"
)

func TestRateTrackerCountsWithinWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewRateTracker(time.Second)

	tr.Record(base)
	tr.Record(base.Add(100 * time.Millisecond))
	tr.Record(base.Add(200 * time.Millisecond))

	if got := tr.Count(base.Add(200 * time.Millisecond)); got != 3 {
		t.Fatalf("expected 3 events in window, got %d", got)
	}
}

func TestRateTrackerPurgesExpiredEntries(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewRateTracker(time.Second)

	tr.Record(base)
	tr.Record(base.Add(2 * time.Second))

	if got := tr.Count(base.Add(2 * time.Second)); got != 1 {
		t.Fatalf("expected stale entry purged, got count=%d", got)
	}
}

func TestRateTrackerRateComputation(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewRateTracker(2 * time.Second)

	for i := 0; i < 10; i++ {
		tr.Record(base.Add(time.Duration(i) * 100 * time.Millisecond))
	}

	rate := tr.Rate(base.Add(900 * time.Millisecond))
	if rate != 5 {
		t.Fatalf("expected rate 5/sec (10 events / 2s window), got %v", rate)
	}
}

func TestRateTrackerResetClearsHistory(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewRateTracker(time.Second)
	tr.Record(base)
	tr.Reset()

	if got := tr.Count(base); got != 0 {
		t.Fatalf("expected empty tracker after reset, got %d", got)
	}
}

func TestRateWindowFallingBehindWhenIncomingExceedsOutgoing(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rw := NewRateWindow(time.Second)

	for i := 0; i < 20; i++ {
		rw.RecordIncoming(base)
	}
	for i := 0; i < 5; i++ {
		rw.RecordOutgoing(base)
	}

	if !rw.FallingBehind(base, 1.2) {
		t.Fatal("expected falling behind with incoming >> outgoing")
	}
}

func TestRateWindowNotFallingBehindWhenRatesMatch(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rw := NewRateWindow(time.Second)

	for i := 0; i < 10; i++ {
		rw.RecordIncoming(base)
		rw.RecordOutgoing(base)
	}

	if rw.FallingBehind(base, 1.2) {
		t.Fatal("expected not falling behind when rates are equal")
	}
}

func TestRateWindowFallingBehindWithZeroOutgoingButNonzeroIncoming(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rw := NewRateWindow(time.Second)
	rw.RecordIncoming(base)

	if !rw.FallingBehind(base, 1.2) {
		t.Fatal("expected falling behind when outgoing rate is zero but incoming is not")
	}
}

func TestRateWindowResetClearsBothTrackers(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rw := NewRateWindow(time.Second)
	rw.RecordIncoming(base)
	rw.RecordOutgoing(base)
	rw.Reset()

	if rw.IncomingRate(base) != 0 || rw.OutgoingRate(base) != 0 {
		t.Fatal("expected zero rates after reset")
	}
}
