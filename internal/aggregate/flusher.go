package aggregate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/admetry/admetry/internal/metrics"
	"github.com/admetry/admetry/internal/sink"
)

// Flusher periodically drains closed buckets from the store and persists
// them. It runs on its own timer, independent of message arrival, and only
// touches the store for the brief snapshot-and-remove step, so it never
// stalls consumption.
type Flusher struct {
	store   *Store
	sink    sink.MetricsSink
	period  time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewFlusher wires a flusher to a store and a metrics sink.
func NewFlusher(store *Store, s sink.MetricsSink, period time.Duration, logger *zap.Logger, m *metrics.Metrics) *Flusher {
	return &Flusher{
		store:   store,
		sink:    s,
		period:  period,
		logger:  logger,
		metrics: m,
	}
}

// Run flushes on every tick until ctx is cancelled, then performs one final
// best-effort drain of everything still live so a clean shutdown loses no
// closed or open buckets.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.Flush(ctx, f.store.DrainClosed(time.Now()))
		case <-ctx.Done():
			// Shutdown context is already cancelled; give the final
			// flush its own bounded deadline.
			final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			f.Flush(final, f.store.DrainAll())
			cancel()
			return
		}
	}
}

// Flush computes derived ratios and writes one row per drained bucket. Each
// row is attempted independently: a failed write is logged and dropped, and
// the rest of the batch proceeds.
func (f *Flusher) Flush(ctx context.Context, batch map[BucketKey]*Record) {
	if len(batch) == 0 {
		return
	}
	start := time.Now()

	var written, failed int
	for key, rec := range batch {
		row := buildRow(key, rec)
		if err := f.sink.WriteRow(ctx, row); err != nil {
			failed++
			f.logger.Error("dropping metrics row, sink write failed",
				zap.Error(err),
				zap.Time("bucket", row.Time),
				zap.String("campaign_id", row.CampaignID),
				zap.String("ad_id", row.AdID),
			)
			continue
		}
		written++
	}

	if f.metrics != nil {
		f.metrics.RecordFlush(written, failed, time.Since(start))
		f.metrics.SetLiveBuckets(f.store.Len())
	}
	f.logger.Info("flushed closed buckets",
		zap.Int("written", written),
		zap.Int("failed", failed),
		zap.Duration("took", time.Since(start)),
	)
}

// buildRow turns a drained record into a sink row, computing ctr and
// conversion_rate from the final counters. Zero denominators yield 0.0.
func buildRow(key BucketKey, rec *Record) sink.Row {
	var ctr, convRate float64
	if rec.Impressions > 0 {
		ctr = float64(rec.Clicks) / float64(rec.Impressions)
	}
	if rec.Clicks > 0 {
		convRate = float64(rec.Conversions) / float64(rec.Clicks)
	}
	return sink.Row{
		Time:           key.Time(),
		State:          key.State,
		IPRange:        key.IPRange,
		CampaignID:     key.CampaignID,
		AdID:           key.AdID,
		SearchKeyword:  key.Keyword,
		Impressions:    rec.Impressions,
		Clicks:         rec.Clicks,
		Conversions:    rec.Conversions,
		Revenue:        rec.Revenue,
		CTR:            ctr,
		ConversionRate: convRate,
	}
}
