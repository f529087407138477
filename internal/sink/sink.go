package sink

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Row is one flushed bucket, ready for the ad_metrics table. The ratios are
// computed at write time from the counters, never accumulated incrementally,
// so rounding error does not compound across flushes.
type Row struct {
	Time           time.Time
	State          string
	IPRange        string
	CampaignID     string
	AdID           string
	SearchKeyword  string
	Impressions    uint64
	Clicks         uint64
	Conversions    uint64
	Revenue        decimal.Decimal
	CTR            float64
	ConversionRate float64
}

// MetricsSink persists flushed rows. Rows are written one at a time so a
// failure affects only its own row; callers log and drop failed rows.
type MetricsSink interface {
	WriteRow(ctx context.Context, row Row) error
	Ping(ctx context.Context) error
	Close() error
}
