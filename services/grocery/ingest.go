package grocery

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"matkollen-backend/lib/receiptparse"
	"matkollen-backend/lib/telemetry"
)

// TextExtractor turns a receipt document into plain text. Extraction
// failures come back as an empty string, never as an error that could
// sink a batch. Plain-text and html bodies bypass it.
type TextExtractor interface {
	Extract(ctx context.Context, contentType string, body []byte) string
}

// ForwardedReceipt is one receipt as sent downstream.
type ForwardedReceipt struct {
	Date      string                `json:"date"`
	Store     string                `json:"store"`
	Reference string                `json:"reference"`
	Parsed    *receiptparse.Receipt `json:"parsed,omitempty"`
}

type IngestBatch struct {
	DestinationId string             `json:"destination_id"`
	Receipts      []ForwardedReceipt `json:"receipts"`
}

// Ingestor receives receipt batches for a destination identity.
// Downstream upserts by (destination, reference), resending a batch
// is safe.
type Ingestor interface {
	Ingest(ctx context.Context, batch IngestBatch) error
}

// HttpIngestor forwards batches to the grocery-data service.
type HttpIngestor struct {
	client *resty.Client
}

type IngestorConfig struct {
	BaseUrl string `json:"base_url"`
	ApiKey  string `json:"api_key"`
}

func NewHttpIngestor(config IngestorConfig) *HttpIngestor {
	client := resty.New()
	client.SetBaseURL(config.BaseUrl)
	client.SetTimeout(time.Second * 30)
	if config.ApiKey != "" {
		client.SetHeader("authorization", "Bearer "+config.ApiKey)
	}
	telemetry.InstrumentResty(client, "services/grocery/ingest")
	return &HttpIngestor{client: client}
}

func (i *HttpIngestor) Ingest(ctx context.Context, batch IngestBatch) error {
	res, err := i.client.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetBody(batch).
		Post("/grocery_data/receipts")
	if err != nil {
		return err
	}
	if res.StatusCode() >= 400 {
		return fmt.Errorf("ingestion endpoint returned %d", res.StatusCode())
	}
	return nil
}

type ExtractorConfig struct {
	BaseUrl string `json:"base_url"`
}

// HttpExtractor sends pdf receipts to the external extraction service
// and returns the plain text it produces. Any failure yields an empty
// string, the receipt is then forwarded unparsed.
type HttpExtractor struct {
	client *resty.Client
}

func NewHttpExtractor(config ExtractorConfig) *HttpExtractor {
	client := resty.New()
	client.SetBaseURL(config.BaseUrl)
	client.SetTimeout(time.Second * 60)
	telemetry.InstrumentResty(client, "services/grocery/extract")
	return &HttpExtractor{client: client}
}

func (e *HttpExtractor) Extract(ctx context.Context, contentType string, body []byte) string {
	res, err := e.client.R().
		SetContext(ctx).
		SetHeader("content-type", contentType).
		SetBody(body).
		Post("/extract/text")
	if err != nil || res.StatusCode() >= 400 {
		return ""
	}
	return string(res.Body())
}
