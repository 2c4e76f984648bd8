package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fraud-crawler/internal/models"
)

const (
	// MatchIncrement is added to a client's fraud percentage per confirmed match
	MatchIncrement = 30
	// MaxFraudPercentage caps repeated increments
	MaxFraudPercentage = 100
	// StatusNeedsReview is written to the client's fraud state on a match
	StatusNeedsReview = "Требует внимания"
)

const loadAddressesSQL = `
	SELECT id, address
	FROM clients
	WHERE report_id = $1 AND address IS NOT NULL AND btrim(address) <> ''
	ORDER BY id`

// The percentage only moves when the stored link changes, so recording the
// same listing twice counts once.
const recordMatchSQL = `
	UPDATE clients
	SET frod_procentage = CASE
			WHEN frod_avito IS DISTINCT FROM $2
			THEN LEAST(COALESCE(frod_procentage, 0) + $3, $4)
			ELSE frod_procentage
		END,
		frod_avito = $2,
		frod_state = $5
	WHERE id = $1`

// Store reads target addresses from and writes matches back to the external
// client database.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the client database and verifies the connection
func New(ctx context.Context, dsn string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// LoadAddresses returns the clients of a report that have a non-empty address
func (s *Store) LoadAddresses(ctx context.Context, reportID int64) ([]models.AddressTask, error) {
	rows, err := s.pool.Query(ctx, loadAddressesSQL, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query addresses for report %d: %w", reportID, err)
	}

	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AddressTask, error) {
		var t models.AddressTask
		err := row.Scan(&t.ClientID, &t.Address)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read addresses for report %d: %w", reportID, err)
	}

	return tasks, nil
}

// RecordMatch stores the listing link on the client, raises the fraud
// percentage by MatchIncrement (capped at MaxFraudPercentage) and flags the
// client for review. Repeating the call for the link already stored leaves
// the percentage unchanged.
func (s *Store) RecordMatch(ctx context.Context, clientID int64, listingURL string) error {
	tag, err := s.pool.Exec(ctx, recordMatchSQL,
		clientID, listingURL, MatchIncrement, MaxFraudPercentage, StatusNeedsReview)
	if err != nil {
		return fmt.Errorf("failed to record match for client %d: %w", clientID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client %d not found", clientID)
	}
	return nil
}
