package db

import (
	"context"
	"fmt"

	"fraud-crawler/internal/models"
)

// Exists reports whether the (listing id, price) pair has been recorded
func (db *DB) Exists(ctx context.Context, listingID, price int64) (bool, error) {
	var exists bool
	err := db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM fingerprints WHERE listing_id = ? AND price = ?)`,
		listingID, price)
	if err != nil {
		return false, fmt.Errorf("failed to check fingerprint %d@%d: %w", listingID, price, err)
	}
	return exists, nil
}

// Record stores the (listing id, price) pair. Recording an existing pair is a no-op.
func (db *DB) Record(ctx context.Context, listingID, price int64) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO fingerprints (listing_id, price) VALUES (?, ?)
		 ON CONFLICT(listing_id, price) DO NOTHING`,
		listingID, price)
	if err != nil {
		return fmt.Errorf("failed to record fingerprint %d@%d: %w", listingID, price, err)
	}
	return nil
}

// PricesSeen returns every fingerprint recorded for a listing, oldest first
func (db *DB) PricesSeen(ctx context.Context, listingID int64) ([]models.Fingerprint, error) {
	var fps []models.Fingerprint
	err := db.SelectContext(ctx, &fps,
		`SELECT listing_id, price, seen_at FROM fingerprints WHERE listing_id = ? ORDER BY seen_at, price`,
		listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprints for %d: %w", listingID, err)
	}
	return fps, nil
}

// CountFingerprints returns the total number of recorded fingerprints
func (db *DB) CountFingerprints(ctx context.Context) (int, error) {
	var count int
	err := db.GetContext(ctx, &count, "SELECT COUNT(*) FROM fingerprints")
	return count, err
}
