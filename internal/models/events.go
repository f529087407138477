package models

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Queue payload schemas. These mirror what the ingestion gateway validates
// and publishes; the aggregator decodes the same shapes off the durable
// queues. Field names are part of the wire contract.

// ===========================================
// IMPRESSION
// ===========================================

type Advertiser struct {
	AdvertiserID   string `json:"advertiser_id" validate:"required"`
	AdvertiserName string `json:"advertiser_name"`
}

type Campaign struct {
	CampaignID   string `json:"campaign_id" validate:"required"`
	CampaignName string `json:"campaign_name"`
}

type AdInfo struct {
	AdID       string `json:"ad_id" validate:"required"`
	AdName     string `json:"ad_name"`
	AdText     string `json:"ad_text"`
	AdLink     string `json:"ad_link" validate:"omitempty,url"`
	AdPosition int    `json:"ad_position"`
	AdFormat   string `json:"ad_format"`
}

// ImpressionItem is one ad line item shown within an impression.
type ImpressionItem struct {
	Advertiser Advertiser `json:"advertiser"`
	Campaign   Campaign   `json:"campaign"`
	Ad         AdInfo     `json:"ad"`
}

type ImpressionPayload struct {
	ImpressionID   string           `json:"impression_id" validate:"required"`
	UserIP         string           `json:"user_ip"`
	UserAgent      string           `json:"user_agent"`
	Timestamp      string           `json:"timestamp" validate:"required"`
	State          string           `json:"state"`
	SearchKeywords string           `json:"search_keywords,omitempty"`
	SessionID      string           `json:"session_id"`
	Ads            []ImpressionItem `json:"ads" validate:"required,min=1,dive"`
}

// ===========================================
// CLICK
// ===========================================

type ClickCoordinates struct {
	X           int     `json:"x"`
	Y           int     `json:"y"`
	NormalizedX float64 `json:"normalized_x"`
	NormalizedY float64 `json:"normalized_y"`
}

type ClickedAd struct {
	AdID             string           `json:"ad_id" validate:"required"`
	AdPosition       int              `json:"ad_position"`
	ClickCoordinates ClickCoordinates `json:"click_coordinates"`
	TimeToClick      float64          `json:"time_to_click"`
}

// UserInfo carries the client context nested on click and conversion events.
type UserInfo struct {
	UserIP    string `json:"user_ip"`
	State     string `json:"state"`
	SessionID string `json:"session_id"`
}

type ClickPayload struct {
	ClickID      string    `json:"click_id" validate:"required"`
	ImpressionID string    `json:"impression_id" validate:"required"`
	Timestamp    string    `json:"timestamp" validate:"required"`
	ClickedAd    ClickedAd `json:"clicked_ad"`
	UserInfo     UserInfo  `json:"user_info"`
}

// ===========================================
// CONVERSION
// ===========================================

type ConversionItem struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gte=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type AttributionStep struct {
	EventType string `json:"event_type"`
	Timestamp string `json:"timestamp"`
}

type ConversionAttributes struct {
	OrderID string           `json:"order_id" validate:"required"`
	Items   []ConversionItem `json:"items" validate:"required,min=1,dive"`
}

type AttributionInfo struct {
	TimeToConvert    int               `json:"time_to_convert"`
	AttributionModel string            `json:"attribution_model"`
	ConversionPath   []AttributionStep `json:"conversion_path"`
}

type ConversionPayload struct {
	ConversionID string `json:"conversion_id" validate:"required"`
	ClickID      string `json:"click_id" validate:"required"`
	ImpressionID string `json:"impression_id" validate:"required"`
	// CampaignID is optional; when absent, attribution falls back to the
	// impression reference.
	CampaignID           string               `json:"campaign_id,omitempty"`
	Timestamp            string               `json:"timestamp" validate:"required"`
	ConversionType       string               `json:"conversion_type"`
	ConversionValue      decimal.Decimal      `json:"conversion_value"`
	ConversionCurrency   string               `json:"conversion_currency"`
	ConversionAttributes ConversionAttributes `json:"conversion_attributes"`
	AttributionInfo      AttributionInfo      `json:"attribution_info"`
	UserInfo             UserInfo             `json:"user_info"`
}

var validate = validator.New()

// Validate checks the payload against its schema constraints.
func (p *ImpressionPayload) Validate() error { return validate.Struct(p) }

// Validate checks the payload against its schema constraints.
func (p *ClickPayload) Validate() error { return validate.Struct(p) }

// Validate checks the payload against its schema constraints. The revenue
// amount must not be negative; counters downstream only ever increase.
func (p *ConversionPayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	if p.ConversionValue.IsNegative() {
		return errNegativeValue
	}
	return nil
}
