package domain

import (
	"testing"
	"time"
)

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true},
		{name: "done", status: IdempotencyStatusDone, want: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true},
		{name: "invalid", status: IdempotencyStatus("broken"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestIdempotencyRecordExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if (IdempotencyRecord{}).Expired(now) {
		t.Fatalf("record without ttl must not expire")
	}
	if !(IdempotencyRecord{TTLAt: now}).Expired(now) {
		t.Fatalf("record with ttl == now must be expired")
	}
	if (IdempotencyRecord{TTLAt: now.Add(time.Minute)}).Expired(now) {
		t.Fatalf("record with future ttl must not be expired")
	}
}

func TestNewIdempotencyRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record, err := NewIdempotencyRecord(" key-1 ", " hash ", time.Time{}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Key != "key-1" || record.RequestHash != "hash" {
		t.Fatalf("key and hash must be trimmed: %+v", record)
	}
	if record.Status != IdempotencyStatusProcessing {
		t.Fatalf("status = %s, want processing", record.Status)
	}
	if !record.TTLAt.Equal(now.Add(DefaultIdempotencyTTL)) {
		t.Fatalf("zero ttl must default to %s, got %s", DefaultIdempotencyTTL, record.TTLAt)
	}

	if _, err := NewIdempotencyRecord(" ", "hash", now, now); err != ErrIdempotencyKeyRequired {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := NewIdempotencyRecord("key", "", now, now); err != ErrIdempotencyRequestHashRequired {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
}

func TestIdempotencyRecordConflictAndReplay(t *testing.T) {
	record := IdempotencyRecord{RequestHash: "h1", Status: IdempotencyStatusProcessing}

	if err := record.ConflictWith("h1"); err != ErrIdempotencyKeyAlreadyExists {
		t.Fatalf("same hash: got %v", err)
	}
	if err := record.ConflictWith("h2"); err != ErrIdempotencyHashMismatch {
		t.Fatalf("other hash: got %v", err)
	}
	if record.Replayable() {
		t.Fatal("processing record must not be replayable")
	}

	record.Status = IdempotencyStatusFailed
	record.ResponseBody = []byte(`{"error":{}}`)
	record.HTTPStatus = 409
	if !record.Replayable() {
		t.Fatal("failed record with stored response must be replayable")
	}

	record.HTTPStatus = 0
	if record.Replayable() {
		t.Fatal("record without status code must not be replayable")
	}
}
