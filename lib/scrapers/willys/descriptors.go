package willys

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"matkollen-backend/lib/retry"
	"matkollen-backend/lib/timezone"
)

const receiptListEndpoint = "/axfood/rest/order/orders/digitalreceipts"

// Descriptor identifies one digital receipt on the portal. ContentUrl
// is canonical: two descriptors with the same url are the same
// receipt.
type Descriptor struct {
	Date       time.Time
	Store      string
	Reference  string
	ContentUrl string
}

type DescriptorQuery struct {
	From     time.Time
	To       time.Time
	PageSize int
	// 0 means no page cap
	MaxPages int
	// attempts per page, defaults to 3
	Retries uint64
}

// wire format of the portal's paginated listing endpoint
type receiptListPage struct {
	CurrentPage   int             `json:"currentPage"`
	NumberOfPages int             `json:"numberOfPages"`
	Receipts      []receiptRecord `json:"receiptList"`
}

type receiptRecord struct {
	DigitalReceiptAvailable bool   `json:"digitalReceiptAvailable"`
	DigitalReceiptReference string `json:"digitalReceiptReference"`
	BookingDate             string `json:"bookingDate"`
	OrderDate               string `json:"orderDate"`
	ReceiptDate             string `json:"receiptDate"`
	StoreId                 string `json:"storeId"`
	StoreName               string `json:"storeName"`
	MemberCardNumber        string `json:"memberCardNumber"`
	Source                  string `json:"source"`
}

// walks the listing endpoint page by page, in strictly increasing
// order, until the server says it is out of pages or MaxPages is hit.
// every page fetch is retried with linear backoff capped at 2s. the
// result contains no duplicate content urls.
func (s *Session) FetchDescriptors(ctx context.Context, q DescriptorQuery) ([]Descriptor, error) {
	ctx, span := tracer.Start(ctx, "FetchDescriptors")
	defer span.End()

	if q.PageSize <= 0 {
		q.PageSize = 50
	}
	if q.Retries == 0 {
		q.Retries = 3
	}
	policy := retry.Policy{
		MaxAttempts: q.Retries,
		NewBackoff:  retry.Linear(time.Millisecond*500, time.Second*2),
	}

	var out []Descriptor
	seen := map[string]bool{}

	page := 0
	for {
		var result receiptListPage
		err := policy.Do(ctx, func() error {
			return s.fetchReceiptPage(ctx, page, q, &result)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, fmt.Sprintf("failed to fetch page %d", page))
			return nil, fmt.Errorf("receipt listing page %d: %w", page, err)
		}

		for _, record := range result.Receipts {
			desc, ok := s.descriptorFromRecord(ctx, record)
			if !ok {
				continue
			}
			if seen[desc.ContentUrl] {
				continue
			}
			seen[desc.ContentUrl] = true
			out = append(out, desc)
		}

		if result.CurrentPage+1 >= result.NumberOfPages {
			break
		}
		page++
		if q.MaxPages > 0 && page >= q.MaxPages {
			break
		}
	}

	span.SetAttributes(attribute.Int("descriptor_count", len(out)))
	return out, nil
}

func (s *Session) fetchReceiptPage(ctx context.Context, page int, q DescriptorQuery, out *receiptListPage) error {
	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("currentPage", fmt.Sprint(page)).
		SetQueryParam("pageSize", fmt.Sprint(q.PageSize)).
		SetQueryParam("fromDate", q.From.Format("2006-01-02")).
		SetQueryParam("toDate", q.To.Format("2006-01-02")).
		Get(receiptListEndpoint)
	if err != nil {
		return err
	}

	body := res.Body()
	if looksLikeHtml(res.Header().Get("content-type"), body) {
		// the portal serves a login page with status 200 once the
		// session dies, surfacing that as a json error would hide
		// the real problem
		return fmt.Errorf("%w (title: %q)", ErrUpstreamFormat, htmlTitle(body))
	}
	if res.StatusCode() >= 500 {
		return fmt.Errorf("receipt listing returned %d", res.StatusCode())
	}
	if res.StatusCode() >= 400 {
		return retry.Permanent(fmt.Errorf("receipt listing returned %d", res.StatusCode()))
	}

	*out = receiptListPage{}
	return json.Unmarshal(body, out)
}

// applies the inclusion rules to one listing record. records without
// a digital receipt, a parsable date, a store or a loyalty card are
// dropped.
func (s *Session) descriptorFromRecord(ctx context.Context, record receiptRecord) (Descriptor, bool) {
	if !record.DigitalReceiptAvailable || record.DigitalReceiptReference == "" {
		return Descriptor{}, false
	}

	date := dateFromReference(record.DigitalReceiptReference)
	if date.IsZero() {
		date = firstParsableDate(record.BookingDate, record.OrderDate, record.ReceiptDate)
	}
	if date.IsZero() || record.StoreId == "" || record.MemberCardNumber == "" {
		return Descriptor{}, false
	}

	source := record.Source
	if source == "" {
		source = "POS"
	}

	params := url.Values{}
	params.Set("reference", record.DigitalReceiptReference)
	params.Set("date", date.Format("2006-01-02"))
	params.Set("storeId", record.StoreId)
	params.Set("source", source)
	params.Set("memberCardNumber", record.MemberCardNumber)

	store := record.StoreName
	if store == "" {
		store = record.StoreId
	}

	return Descriptor{
		Date:      date,
		Store:     store,
		Reference: record.DigitalReceiptReference,
		ContentUrl: fmt.Sprintf(
			"%s/axfood/rest/order/orders/digitalreceipt?%s",
			s.baseUrl, params.Encode(),
		),
	}, true
}

// receipt references embed the purchase timestamp as a digit prefix,
// e.g. "20240115093045-1234-5678". that prefix is the authoritative
// receipt date when present.
func dateFromReference(reference string) time.Time {
	digits := reference
	for i, r := range reference {
		if r < '0' || r > '9' {
			digits = reference[:i]
			break
		}
	}
	if len(digits) < 8 {
		return time.Time{}
	}
	t, err := time.ParseInLocation("20060102", digits[:8], timezone.Location)
	if err != nil {
		return time.Time{}
	}
	return t
}

var fallbackDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func firstParsableDate(candidates ...string) time.Time {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, layout := range fallbackDateLayouts {
			t, err := time.ParseInLocation(layout, c, timezone.Location)
			if err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func looksLikeHtml(contentType string, body []byte) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	trimmed := strings.TrimSpace(string(body))
	return strings.HasPrefix(trimmed, "<!DOCTYPE") || strings.HasPrefix(trimmed, "<html")
}
