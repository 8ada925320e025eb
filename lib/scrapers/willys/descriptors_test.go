package willys

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"matkollen-backend/lib/telemetry"
)

func testSession(t *testing.T, handler http.Handler) *Session {
	cleanup := telemetry.SetupForTesting(t, "test:willys")
	t.Cleanup(cleanup)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	session, err := NewSession("id-1", nil, SessionOptions{BaseUrl: server.URL})
	require.NoError(t, err)
	return session
}

func listingPage(current, total int, records ...map[string]any) []byte {
	body, _ := json.Marshal(map[string]any{
		"currentPage":   current,
		"numberOfPages": total,
		"receiptList":   records,
	})
	return body
}

func record(reference string, overrides map[string]any) map[string]any {
	out := map[string]any{
		"digitalReceiptAvailable": true,
		"digitalReceiptReference": reference,
		"storeId":                 "1042",
		"storeName":               "Willys Stockholm City",
		"memberCardNumber":        "9752201",
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func TestFetchDescriptorsPaginationAndDedup(t *testing.T) {
	var pagesRequested []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /axfood/rest/order/orders/digitalreceipts", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("currentPage")
		pagesRequested = append(pagesRequested, page)
		w.Header().Set("content-type", "application/json")
		switch page {
		case "0":
			w.Write(listingPage(0, 2,
				record("20240110093045-1111-0001", nil),
				record("20240111120000-2222-0002", map[string]any{"digitalReceiptAvailable": false}),
				record("20240112083000-3333-0003", map[string]any{"memberCardNumber": ""}),
			))
		case "1":
			w.Write(listingPage(1, 2,
				record("20240110093045-1111-0001", nil),
				record("20240113174500-4444-0004", nil),
			))
		default:
			http.Error(w, "no such page", http.StatusBadRequest)
		}
	})

	session := testSession(t, mux)
	descriptors, err := session.FetchDescriptors(context.Background(), DescriptorQuery{})
	require.NoError(t, err)

	// unavailable and cardless records skipped, duplicate reference
	// de-duplicated, pages visited exactly once in order
	require.Equal(t, []string{"0", "1"}, pagesRequested)
	require.Len(t, descriptors, 2)
	require.Equal(t, "20240110093045-1111-0001", descriptors[0].Reference)
	require.Equal(t, "20240113174500-4444-0004", descriptors[1].Reference)

	seen := map[string]bool{}
	for _, d := range descriptors {
		require.False(t, seen[d.ContentUrl])
		seen[d.ContentUrl] = true
	}
}

func TestFetchDescriptorsMaxPages(t *testing.T) {
	requests := 0
	mux := http.NewServeMux()
	mux.HandleFunc("GET /axfood/rest/order/orders/digitalreceipts", func(w http.ResponseWriter, r *http.Request) {
		requests++
		page := r.URL.Query().Get("currentPage")
		w.Header().Set("content-type", "application/json")
		ref := fmt.Sprintf("2024011%s093045-1111-000%s", page, page)
		n := 0
		fmt.Sscan(page, &n)
		w.Write(listingPage(n, 5, record(ref, nil)))
	})

	session := testSession(t, mux)
	descriptors, err := session.FetchDescriptors(context.Background(), DescriptorQuery{MaxPages: 2})
	require.NoError(t, err)
	require.Equal(t, 2, requests)
	require.Len(t, descriptors, 2)
}

func TestFetchDescriptorsHtmlIsSurfaced(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /axfood/rest/order/orders/digitalreceipts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/html")
		fmt.Fprint(w, `<html><head><title>Logga in</title></head><body></body></html>`)
	})

	session := testSession(t, mux)
	_, err := session.FetchDescriptors(context.Background(), DescriptorQuery{Retries: 2})
	require.ErrorIs(t, err, ErrUpstreamFormat)
	require.Contains(t, err.Error(), "Logga in")
}

func TestFetchDescriptorsClientErrorNotRetried(t *testing.T) {
	requests := 0
	mux := http.NewServeMux()
	mux.HandleFunc("GET /axfood/rest/order/orders/digitalreceipts", func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("content-type", "application/json")
		http.Error(w, `{"error":"bad range"}`, http.StatusBadRequest)
	})

	session := testSession(t, mux)
	_, err := session.FetchDescriptors(context.Background(), DescriptorQuery{Retries: 3})
	require.Error(t, err)
	require.Equal(t, 1, requests)
}

func TestDateFromReference(t *testing.T) {
	date := dateFromReference("20240115093045-1234-5678")
	require.Equal(t, 2024, date.Year())
	require.Equal(t, time.January, date.Month())
	require.Equal(t, 15, date.Day())

	require.True(t, dateFromReference("1234-5678").IsZero())
	require.True(t, dateFromReference("abc").IsZero())
	require.True(t, dateFromReference("99999999-1").IsZero())
}

func TestFirstParsableDate(t *testing.T) {
	date := firstParsableDate("", "not a date", "2024-02-03T10:30:00")
	require.Equal(t, 3, date.Day())

	date = firstParsableDate("2024-02-04")
	require.Equal(t, 4, date.Day())

	require.True(t, firstParsableDate("", "nope").IsZero())
}

func TestLooksLikeHtml(t *testing.T) {
	require.True(t, looksLikeHtml("text/html; charset=utf-8", nil))
	require.True(t, looksLikeHtml("application/json", []byte("  <!DOCTYPE html><html>")))
	require.True(t, looksLikeHtml("", []byte("<html lang=\"sv\">")))
	require.False(t, looksLikeHtml("application/json", []byte(`{"receiptList":[]}`)))
}

func TestDescriptorContentUrl(t *testing.T) {
	session := testSession(t, http.NewServeMux())

	desc, ok := session.descriptorFromRecord(context.Background(), receiptRecord{
		DigitalReceiptAvailable: true,
		DigitalReceiptReference: "20240110093045-1111-0001",
		StoreId:                 "1042",
		StoreName:               "Willys Stockholm City",
		MemberCardNumber:        "9752201",
	})
	require.True(t, ok)
	require.True(t, strings.HasPrefix(desc.ContentUrl, session.baseUrl))
	require.Contains(t, desc.ContentUrl, "reference=20240110093045-1111-0001")
	require.Contains(t, desc.ContentUrl, "date=2024-01-10")
	require.Contains(t, desc.ContentUrl, "storeId=1042")
	require.Contains(t, desc.ContentUrl, "source=POS")
	require.Contains(t, desc.ContentUrl, "memberCardNumber=9752201")
}
