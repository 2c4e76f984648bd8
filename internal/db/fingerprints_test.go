package db

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()
	database, err := New(path)
	if err != nil {
		t.Fatalf("New(%s): %v", path, err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestRecordAndExists(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t, filepath.Join(t.TempDir(), "seen.db"))

	exists, err := database.Exists(ctx, 4021, 15000)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("empty store reported 4021@15000 as seen")
	}

	if err := database.Record(ctx, 4021, 15000); err != nil {
		t.Fatalf("Record: %v", err)
	}

	tests := []struct {
		name  string
		id    int64
		price int64
		want  bool
	}{
		{"same id and price", 4021, 15000, true},
		{"price changed", 4021, 14000, false},
		{"other listing", 4022, 15000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := database.Exists(ctx, tt.id, tt.price)
			if err != nil {
				t.Fatalf("Exists: %v", err)
			}
			if got != tt.want {
				t.Errorf("Exists(%d, %d) = %v, want %v", tt.id, tt.price, got, tt.want)
			}
		})
	}
}

func TestRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t, filepath.Join(t.TempDir(), "seen.db"))

	for i := 0; i < 3; i++ {
		if err := database.Record(ctx, 7, 100); err != nil {
			t.Fatalf("Record #%d: %v", i, err)
		}
	}
	if err := database.Record(ctx, 7, 120); err != nil {
		t.Fatalf("Record: %v", err)
	}

	count, err := database.CountFingerprints(ctx)
	if err != nil {
		t.Fatalf("CountFingerprints: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	prices, err := database.PricesSeen(ctx, 7)
	if err != nil {
		t.Fatalf("PricesSeen: %v", err)
	}
	if len(prices) != 2 {
		t.Fatalf("PricesSeen returned %d rows, want 2", len(prices))
	}
}

func TestFingerprintsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "seen.db")

	first, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.Record(ctx, 99, 5000); err != nil {
		t.Fatalf("Record: %v", err)
	}
	first.Close()

	second := openTestDB(t, path)
	exists, err := second.Exists(ctx, 99, 5000)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("fingerprint lost after reopening the store")
	}
}
