package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/admetry/admetry/internal/sink"
)

// captureSink records written rows and can fail selectively by campaign.
type captureSink struct {
	rows         []sink.Row
	failCampaign string
}

func (c *captureSink) WriteRow(_ context.Context, row sink.Row) error {
	if c.failCampaign != "" && row.CampaignID == c.failCampaign {
		return errors.New("write refused")
	}
	c.rows = append(c.rows, row)
	return nil
}

func (c *captureSink) Ping(context.Context) error { return nil }
func (c *captureSink) Close() error               { return nil }

func TestFlush_ComputesDerivedRatios(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, time.Minute)
	cs := &captureSink{}
	f := NewFlusher(store, cs, time.Minute, zap.NewNop(), nil)

	key := testKey(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Unix(), "camp-1")
	batch := map[BucketKey]*Record{
		key: {
			Impressions: 100,
			Clicks:      20,
			Conversions: 5,
			Revenue:     decimal.RequireFromString("199.95"),
		},
	}

	f.Flush(context.Background(), batch)

	require.Len(t, cs.rows, 1)
	row := cs.rows[0]
	assert.Equal(t, key.Time(), row.Time)
	assert.Equal(t, "CA", row.State)
	assert.Equal(t, "203.0.113.0/24", row.IPRange)
	assert.Equal(t, "camp-1", row.CampaignID)
	assert.Equal(t, "ad-1", row.AdID)
	assert.Equal(t, "shoes", row.SearchKeyword)
	assert.Equal(t, uint64(100), row.Impressions)
	assert.InDelta(t, 0.2, row.CTR, 1e-9)
	assert.InDelta(t, 0.25, row.ConversionRate, 1e-9)
	assert.True(t, row.Revenue.Equal(decimal.RequireFromString("199.95")))
}

func TestFlush_ZeroDenominators(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, time.Minute)
	cs := &captureSink{}
	f := NewFlusher(store, cs, time.Minute, zap.NewNop(), nil)

	noImpressions := testKey(1000, "camp-a")
	noClicks := testKey(1000, "camp-b")
	batch := map[BucketKey]*Record{
		noImpressions: {Clicks: 3, Conversions: 1, Revenue: decimal.Zero},
		noClicks:      {Impressions: 50, Revenue: decimal.Zero},
	}

	f.Flush(context.Background(), batch)

	require.Len(t, cs.rows, 2)
	for _, row := range cs.rows {
		switch row.CampaignID {
		case "camp-a":
			assert.Equal(t, 0.0, row.CTR)
			assert.InDelta(t, 1.0/3.0, row.ConversionRate, 1e-9)
		case "camp-b":
			assert.Equal(t, 0.0, row.CTR)
			assert.Equal(t, 0.0, row.ConversionRate)
		default:
			t.Fatalf("unexpected row for campaign %q", row.CampaignID)
		}
	}
}

func TestFlush_FailedRowDoesNotBlockBatch(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, time.Minute)
	cs := &captureSink{failCampaign: "camp-bad"}
	f := NewFlusher(store, cs, time.Minute, zap.NewNop(), nil)

	batch := map[BucketKey]*Record{
		testKey(1000, "camp-good"):  {Impressions: 1, Revenue: decimal.Zero},
		testKey(1000, "camp-bad"):   {Impressions: 1, Revenue: decimal.Zero},
		testKey(1000, "camp-other"): {Impressions: 1, Revenue: decimal.Zero},
	}

	f.Flush(context.Background(), batch)

	require.Len(t, cs.rows, 2)
	for _, row := range cs.rows {
		assert.NotEqual(t, "camp-bad", row.CampaignID)
	}
}

func TestRun_FinalDrainOnShutdown(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, time.Minute)
	cs := &captureSink{}
	f := NewFlusher(store, cs, time.Hour, zap.NewNop(), nil)

	// The bucket is still open; only the shutdown drain can reach it.
	store.Add(testKey(time.Now().Truncate(time.Minute).Unix(), "camp-1"), KindImpression, decimal.Zero)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(ctx)
	}()

	cancel()
	<-done

	require.Len(t, cs.rows, 1)
	assert.Equal(t, uint64(1), cs.rows[0].Impressions)
	assert.Equal(t, 0, store.Len())
}
