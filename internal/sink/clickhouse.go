package sink

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseSink writes flushed buckets to a ClickHouse table with the same
// column contract as the TimescaleDB sink. Selected with
// ADMETRY_SINK_DRIVER=clickhouse.
type ClickHouseSink struct {
	conn driver.Conn
}

// NewClickHouseSink creates a ClickHouse-backed metrics sink.
func NewClickHouseSink(conn driver.Conn) *ClickHouseSink {
	return &ClickHouseSink{conn: conn}
}

// WriteRow appends one flushed bucket to ad_metrics.
func (s *ClickHouseSink) WriteRow(ctx context.Context, row Row) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO ad_metrics
		  (time, state, ip_range, campaign_id, ad_id, search_keyword,
		   impression_count, click_count, conversion_count, revenue, ctr, conversion_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.Time, row.State, row.IPRange, row.CampaignID, row.AdID, row.SearchKeyword,
		row.Impressions, row.Clicks, row.Conversions, row.Revenue, row.CTR, row.ConversionRate)

	if err != nil {
		return fmt.Errorf("failed to insert metrics row: %w", err)
	}
	return nil
}

// Ping checks the ClickHouse connection.
func (s *ClickHouseSink) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the ClickHouse connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
