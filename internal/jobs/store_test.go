package jobs

import (
	"context"
	"testing"
	"time"
)

func TestStoreMemoryRoundTrip(t *testing.T) {
	store := NewStore(nil, time.Minute, nil)
	ctx := context.Background()

	record := &Record{
		JobID:  "job-1",
		Status: StatusProcessing,
		Mode:   ModeFull,
	}
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if record.StartTime == 0 || record.LastUpdated == 0 {
		t.Fatal("Put did not stamp timestamps")
	}

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got == nil {
		t.Fatal("expected record, got nil")
	}
	if got.Status != StatusProcessing || got.Mode != ModeFull {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Get はコピーを返す: 取得側の変更が保存済みレコードに漏れない。
	got.Status = StatusError
	again, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("second Get returned error: %v", err)
	}
	if again.Status != StatusProcessing {
		t.Fatalf("stored record was mutated through a read: %s", again.Status)
	}
}

func TestStoreMissingRecord(t *testing.T) {
	store := NewStore(nil, time.Minute, nil)

	got, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing record, got %+v", got)
	}
}

func TestStoreTTLExpiry(t *testing.T) {
	store := NewStore(nil, 20*time.Millisecond, nil)
	ctx := context.Background()

	if err := store.Put(ctx, &Record{JobID: "job-2", Status: StatusProcessing}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	got, err := store.Get(ctx, "job-2")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got != nil {
		t.Fatal("expected expired record to be invisible")
	}

	if removed := store.Sweep(); removed != 1 {
		t.Fatalf("expected sweep to remove 1 record, removed %d", removed)
	}
	if removed := store.Sweep(); removed != 0 {
		t.Fatalf("second sweep removed %d records", removed)
	}
}

func TestPutRefreshesTTL(t *testing.T) {
	store := NewStore(nil, 50*time.Millisecond, nil)
	ctx := context.Background()

	if err := store.Put(ctx, &Record{JobID: "job-3", Status: StatusProcessing}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	// TTLの途中で書き直すと期限が伸びる。
	time.Sleep(30 * time.Millisecond)
	if err := store.Put(ctx, &Record{JobID: "job-3", Status: StatusProcessingSection}); err != nil {
		t.Fatalf("second Put returned error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	got, err := store.Get(ctx, "job-3")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got == nil {
		t.Fatal("record expired despite refreshed TTL")
	}
	if got.Status != StatusProcessingSection {
		t.Fatalf("unexpected status: %s", got.Status)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusComplete, StatusError, StatusTimeout, StatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	active := []Status{StatusProcessing, StatusTranscriptReady, StatusProcessingSection, StatusProcessingKeyframes, StatusCombiningResults}
	for _, s := range active {
		if s.IsTerminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}

func TestDetectionArea(t *testing.T) {
	det := Detection{BoundingBox: [4]float64{10, 20, 110, 70}}
	if got := det.Area(); got != 5000 {
		t.Fatalf("unexpected area: %f", got)
	}
	inverted := Detection{BoundingBox: [4]float64{100, 100, 0, 0}}
	if got := inverted.Area(); got != 0 {
		t.Fatalf("expected zero area for inverted box, got %f", got)
	}
}
