package history

import (
	"context"
	"testing"
)

func TestRecordLifecycle(t *testing.T) {
	r, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	r.RecordStart(ctx, "corr-1", "deadbeef")
	r.RecordSuccess(ctx, "corr-1")

	entries, err := r.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Outcome != "succeeded" || entries[0].MD5 != "deadbeef" {
		t.Errorf("entry = %+v, want outcome=succeeded md5=deadbeef", entries[0])
	}
	if !entries[0].FinishedAt.Valid {
		t.Errorf("FinishedAt not set after RecordSuccess")
	}
}

func TestRecordFailureDetail(t *testing.T) {
	r, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	r.RecordStart(ctx, "corr-2", "cafebabe")
	r.RecordFailure(ctx, "corr-2", "sector write timeout")

	entries, err := r.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Outcome != "failed" || entries[0].Detail != "sector write timeout" {
		t.Errorf("entries = %+v, want one failed entry with detail", entries)
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	r, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	r.RecordStart(ctx, "corr-a", "111")
	r.RecordSuccess(ctx, "corr-a")
	r.RecordStart(ctx, "corr-b", "222")
	r.RecordSuccess(ctx, "corr-b")

	entries, err := r.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 || entries[0].CorrelationID != "corr-b" {
		t.Errorf("entries = %+v, want corr-b first", entries)
	}
}
