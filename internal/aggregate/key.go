package aggregate

import (
	"net/netip"
	"time"

	"github.com/shopspring/decimal"

	"github.com/admetry/admetry/internal/models"
)

// EventKind discriminates the three inbound event types. The values double
// as the durable queue names.
type EventKind string

const (
	KindImpression EventKind = "impression"
	KindClick      EventKind = "click"
	KindConversion EventKind = "conversion"
)

// Sentinel ip_range values. Both are valid bucketing dimensions of their
// own, never dropped.
const (
	IPRangeUnknown = "unknown"
	IPRangeInvalid = "invalid"
)

// StateUnknown is used when neither the event nor its user context carries
// a state.
const StateUnknown = "unknown"

// BucketKey identifies one aggregation bucket. Two events fold into the
// same record iff all six fields match exactly. BucketStart is kept as unix
// seconds so the struct is a well-behaved map key.
type BucketKey struct {
	BucketStart int64
	State       string
	IPRange     string
	CampaignID  string
	AdID        string
	Keyword     string
}

// Time returns the bucket's start as a UTC timestamp.
func (k BucketKey) Time() time.Time {
	return time.Unix(k.BucketStart, 0).UTC()
}

// Add is one derived accumulation: a key, the counter to bump, and for
// conversions the revenue to fold in.
type Add struct {
	Key     BucketKey
	Kind    EventKind
	Revenue decimal.Decimal
}

// Deriver maps normalized queue payloads to bucket keys. Derivation is a
// total function: malformed input degrades to sentinel dimensions, it never
// fails.
type Deriver struct {
	// Granularity is the bucket width G.
	Granularity time.Duration
	// MaskBits is the prefix length client IPs are truncated to.
	MaskBits int
}

// Bucket truncates now to the active granularity. Buckets are keyed on the
// consumer's receipt time, not the event-embedded timestamp: a late-arriving
// event lands in the current bucket rather than reopening a past one. Clock
// skew or consumer downtime therefore shifts events into later buckets; that
// trade is deliberate (bounded memory, no reopened windows).
func (d Deriver) Bucket(now time.Time) int64 {
	return now.Truncate(d.Granularity).Unix()
}

// MaskIP truncates a raw client IP to the configured prefix, e.g.
// "203.0.113.77" -> "203.0.113.0/24". An absent IP maps to "unknown" and an
// unparsable one to "invalid".
func (d Deriver) MaskIP(raw string) string {
	if raw == "" {
		return IPRangeUnknown
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return IPRangeInvalid
	}
	bits := d.MaskBits
	if bits > addr.BitLen() {
		bits = addr.BitLen()
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return IPRangeInvalid
	}
	return prefix.String()
}

// FromImpression derives one Add per ad line item: an impression listing N
// ads produces N independent accumulations sharing the same bucket, state,
// ip_range and keyword.
func (d Deriver) FromImpression(p *models.ImpressionPayload, now time.Time) []Add {
	bucket := d.Bucket(now)
	state := defaultState(p.State)
	ipRange := d.MaskIP(p.UserIP)

	adds := make([]Add, 0, len(p.Ads))
	for _, item := range p.Ads {
		adds = append(adds, Add{
			Key: BucketKey{
				BucketStart: bucket,
				State:       state,
				IPRange:     ipRange,
				CampaignID:  item.Campaign.CampaignID,
				AdID:        item.Ad.AdID,
				Keyword:     p.SearchKeywords,
			},
			Kind: KindImpression,
		})
	}
	return adds
}

// FromClick derives the single Add for a click. Click payloads do not carry
// a campaign_id, so the originating impression reference stands in for the
// campaign dimension.
func (d Deriver) FromClick(p *models.ClickPayload, now time.Time) []Add {
	return []Add{{
		Key: BucketKey{
			BucketStart: d.Bucket(now),
			State:       defaultState(p.UserInfo.State),
			IPRange:     d.MaskIP(p.UserInfo.UserIP),
			CampaignID:  p.ImpressionID,
			AdID:        p.ClickedAd.AdID,
			Keyword:     "",
		},
		Kind: KindClick,
	}}
}

// FromConversion derives the single Add for a conversion. The ad dimension
// is the product_id of the first order item only; multi-item orders are
// attributed entirely to their first item. The campaign dimension prefers an
// explicit campaign_id and falls back to the impression reference.
func (d Deriver) FromConversion(p *models.ConversionPayload, now time.Time) []Add {
	adID := "unknown"
	if len(p.ConversionAttributes.Items) > 0 {
		adID = p.ConversionAttributes.Items[0].ProductID
	}
	campaign := p.CampaignID
	if campaign == "" {
		campaign = p.ImpressionID
	}
	revenue := p.ConversionValue
	if revenue.IsNegative() {
		// Counters never decrease.
		revenue = decimal.Zero
	}
	return []Add{{
		Key: BucketKey{
			BucketStart: d.Bucket(now),
			State:       defaultState(p.UserInfo.State),
			IPRange:     d.MaskIP(p.UserInfo.UserIP),
			CampaignID:  campaign,
			AdID:        adID,
			Keyword:     "",
		},
		Kind:    KindConversion,
		Revenue: revenue,
	}}
}

func defaultState(state string) string {
	if state == "" {
		return StateUnknown
	}
	return state
}
