package aggregate

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(bucket int64, campaign string) BucketKey {
	return BucketKey{
		BucketStart: bucket,
		State:       "CA",
		IPRange:     "203.0.113.0/24",
		CampaignID:  campaign,
		AdID:        "ad-1",
		Keyword:     "shoes",
	}
}

func TestStore_AddAccumulates(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute, time.Minute)
	key := testKey(1000, "camp-1")

	s.Add(key, KindImpression, decimal.Zero)
	s.Add(key, KindImpression, decimal.Zero)
	s.Add(key, KindClick, decimal.Zero)
	s.Add(key, KindConversion, decimal.RequireFromString("12.50"))
	s.Add(key, KindConversion, decimal.RequireFromString("7.50"))

	batch := s.DrainAll()
	require.Len(t, batch, 1)

	rec := batch[key]
	require.NotNil(t, rec)
	assert.Equal(t, uint64(2), rec.Impressions)
	assert.Equal(t, uint64(1), rec.Clicks)
	assert.Equal(t, uint64(2), rec.Conversions)
	assert.True(t, rec.Revenue.Equal(decimal.RequireFromString("20")))
}

func TestStore_OrderIndependent(t *testing.T) {
	t.Parallel()

	key := testKey(1000, "camp-1")
	adds := []Add{
		{Key: key, Kind: KindImpression},
		{Key: key, Kind: KindClick},
		{Key: key, Kind: KindConversion, Revenue: decimal.RequireFromString("3")},
		{Key: key, Kind: KindImpression},
	}

	forward := NewStore(time.Minute, time.Minute)
	forward.Apply(adds)

	reversed := NewStore(time.Minute, time.Minute)
	for i := len(adds) - 1; i >= 0; i-- {
		reversed.Add(adds[i].Key, adds[i].Kind, adds[i].Revenue)
	}

	a := forward.DrainAll()[key]
	b := reversed.DrainAll()[key]
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, a.Impressions, b.Impressions)
	assert.Equal(t, a.Clicks, b.Clicks)
	assert.Equal(t, a.Conversions, b.Conversions)
	assert.True(t, a.Revenue.Equal(b.Revenue))
}

func TestStore_KeyIsolation(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute, time.Minute)
	base := testKey(1000, "camp-1")

	other := base
	other.State = "NY"

	s.Add(base, KindImpression, decimal.Zero)
	s.Add(other, KindImpression, decimal.Zero)

	batch := s.DrainAll()
	require.Len(t, batch, 2)
	assert.Equal(t, uint64(1), batch[base].Impressions)
	assert.Equal(t, uint64(1), batch[other].Impressions)
}

func TestStore_DrainClosedRespectsGrace(t *testing.T) {
	t.Parallel()

	granularity := time.Minute
	grace := time.Minute
	s := NewStore(granularity, grace)

	bucketStart := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	key := testKey(bucketStart.Unix(), "camp-1")
	s.Add(key, KindImpression, decimal.Zero)

	// Inside the bucket: nothing is closed.
	assert.Empty(t, s.DrainClosed(bucketStart.Add(30*time.Second)))
	// Bucket over but grace still running.
	assert.Empty(t, s.DrainClosed(bucketStart.Add(90*time.Second)))
	assert.Equal(t, 1, s.Len())

	// Grace elapsed: the bucket drains and leaves the live map.
	batch := s.DrainClosed(bucketStart.Add(2 * time.Minute))
	require.Len(t, batch, 1)
	assert.Equal(t, uint64(1), batch[key].Impressions)
	assert.Equal(t, 0, s.Len())

	// A second drain finds nothing.
	assert.Empty(t, s.DrainClosed(bucketStart.Add(3 * time.Minute)))
}

func TestStore_DrainClosedKeepsNewerBuckets(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute, time.Minute)

	oldStart := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	newStart := oldStart.Add(5 * time.Minute)
	oldKey := testKey(oldStart.Unix(), "camp-old")
	newKey := testKey(newStart.Unix(), "camp-new")

	s.Add(oldKey, KindImpression, decimal.Zero)
	s.Add(newKey, KindImpression, decimal.Zero)

	batch := s.DrainClosed(newStart.Add(30 * time.Second))
	require.Len(t, batch, 1)
	assert.Contains(t, batch, oldKey)
	assert.Equal(t, 1, s.Len())
}

func TestStore_LateEventBeforeDrainStillCounts(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute, time.Minute)
	bucketStart := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	key := testKey(bucketStart.Unix(), "camp-1")

	s.Add(key, KindImpression, decimal.Zero)
	// The bucket is over but not yet drained; a straggler still lands on it.
	s.Add(key, KindClick, decimal.Zero)

	batch := s.DrainClosed(bucketStart.Add(2 * time.Minute))
	require.Len(t, batch, 1)
	assert.Equal(t, uint64(1), batch[key].Impressions)
	assert.Equal(t, uint64(1), batch[key].Clicks)
}

func TestStore_ConcurrentAdds(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute, time.Minute)
	key := testKey(1000, "camp-1")

	const workers = 8
	const perWorker = 500

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s.Add(key, KindImpression, decimal.Zero)
				s.Add(key, KindConversion, decimal.RequireFromString("0.01"))
			}
		}()
	}
	wg.Wait()

	rec := s.DrainAll()[key]
	require.NotNil(t, rec)
	assert.Equal(t, uint64(workers*perWorker), rec.Impressions)
	assert.Equal(t, uint64(workers*perWorker), rec.Conversions)
	assert.True(t, rec.Revenue.Equal(decimal.RequireFromString("40")))
}
