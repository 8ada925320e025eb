package grocery

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("services/grocery")
var meter = otel.Meter("services/grocery")

var receiptsFetched, _ = meter.Int64Counter(
	"grocery_receipts_fetched_total",
	metric.WithDescription("Receipt descriptors fetched from the portal."),
)
var receiptsForwarded, _ = meter.Int64Counter(
	"grocery_receipts_forwarded_total",
	metric.WithDescription("Receipts forwarded to the ingestion endpoint."),
)
var syncFailures, _ = meter.Int64Counter(
	"grocery_sync_failures_total",
	metric.WithDescription("Identities that failed a background sync pass."),
)
