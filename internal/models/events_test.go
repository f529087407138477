package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validImpression() ImpressionPayload {
	return ImpressionPayload{
		ImpressionID: "imp-1",
		UserIP:       "203.0.113.77",
		Timestamp:    "2025-06-01T12:00:01Z",
		State:        "CA",
		Ads: []ImpressionItem{{
			Advertiser: Advertiser{AdvertiserID: "adv-1"},
			Campaign:   Campaign{CampaignID: "camp-1"},
			Ad:         AdInfo{AdID: "ad-1"},
		}},
	}
}

func TestImpressionPayload_Validate(t *testing.T) {
	t.Parallel()

	p := validImpression()
	assert.NoError(t, p.Validate())

	missing := validImpression()
	missing.ImpressionID = ""
	assert.Error(t, missing.Validate())

	empty := validImpression()
	empty.Ads = nil
	assert.Error(t, empty.Validate())

	badItem := validImpression()
	badItem.Ads[0].Ad.AdID = ""
	assert.Error(t, badItem.Validate())
}

func TestClickPayload_Validate(t *testing.T) {
	t.Parallel()

	p := ClickPayload{
		ClickID:      "clk-1",
		ImpressionID: "imp-1",
		Timestamp:    "2025-06-01T12:00:05Z",
		ClickedAd:    ClickedAd{AdID: "ad-1"},
	}
	assert.NoError(t, p.Validate())

	p.ImpressionID = ""
	assert.Error(t, p.Validate())
}

func validConversion() ConversionPayload {
	return ConversionPayload{
		ConversionID:    "cnv-1",
		ClickID:         "clk-1",
		ImpressionID:    "imp-1",
		Timestamp:       "2025-06-01T12:01:00Z",
		ConversionValue: decimal.RequireFromString("49.99"),
		ConversionAttributes: ConversionAttributes{
			OrderID: "ord-1",
			Items:   []ConversionItem{{ProductID: "prod-1", Quantity: 1}},
		},
	}
}

func TestConversionPayload_Validate(t *testing.T) {
	t.Parallel()

	p := validConversion()
	assert.NoError(t, p.Validate())

	missing := validConversion()
	missing.ConversionAttributes.Items = nil
	assert.Error(t, missing.Validate())

	negative := validConversion()
	negative.ConversionValue = decimal.RequireFromString("-0.01")
	err := negative.Validate()
	require.Error(t, err)
	assert.Equal(t, errNegativeValue, err)
}

func TestConversionPayload_DecodesQuotedValue(t *testing.T) {
	t.Parallel()

	body := `{
		"conversion_id": "cnv-1",
		"click_id": "clk-1",
		"impression_id": "imp-1",
		"timestamp": "2025-06-01T12:01:00Z",
		"conversion_value": "12.34",
		"conversion_attributes": {
			"order_id": "ord-1",
			"items": [{"product_id": "prod-1", "quantity": 2, "unit_price": "6.17"}]
		}
	}`

	var p ConversionPayload
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	require.NoError(t, p.Validate())
	assert.True(t, p.ConversionValue.Equal(decimal.RequireFromString("12.34")))
}
