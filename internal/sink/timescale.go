package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TimescaleSink writes flushed buckets to a TimescaleDB hypertable.
type TimescaleSink struct {
	pool *pgxpool.Pool
}

// NewTimescaleSink creates a TimescaleDB-backed metrics sink.
func NewTimescaleSink(pool *pgxpool.Pool) *TimescaleSink {
	return &TimescaleSink{pool: pool}
}

// WriteRow appends one flushed bucket to ad_metrics. Rows for the same
// dimensions at different flush cycles are distinct inserts, never merged.
func (s *TimescaleSink) WriteRow(ctx context.Context, row Row) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ad_metrics
		  (time, state, ip_range, campaign_id, ad_id, search_keyword,
		   impression_count, click_count, conversion_count, revenue, ctr, conversion_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, row.Time, row.State, row.IPRange, row.CampaignID, row.AdID, row.SearchKeyword,
		row.Impressions, row.Clicks, row.Conversions, row.Revenue, row.CTR, row.ConversionRate)

	if err != nil {
		return fmt.Errorf("failed to insert metrics row: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *TimescaleSink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *TimescaleSink) Close() error {
	s.pool.Close()
	return nil
}
