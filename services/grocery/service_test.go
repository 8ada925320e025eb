package grocery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"matkollen-backend/lib/scrapers/willys"
	"matkollen-backend/lib/sqliteutil"
	"matkollen-backend/lib/telemetry"
	"matkollen-backend/services/sessions"
)

type countingStore struct {
	mu        sync.Mutex
	artifacts map[string]*willys.SessionArtifact
	saves     int
}

func newCountingStore() *countingStore {
	return &countingStore{artifacts: map[string]*willys.SessionArtifact{}}
}

func (c *countingStore) Save(ctx context.Context, identity string, artifact *willys.SessionArtifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves++
	c.artifacts[identity] = artifact
	return nil
}

func (c *countingStore) Load(ctx context.Context, identity string) (*willys.SessionArtifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	artifact, ok := c.artifacts[identity]
	if !ok {
		return nil, errors.New("no artifact")
	}
	return artifact, nil
}

type recordingIngestor struct {
	mu      sync.Mutex
	batches []IngestBatch
}

func (r *recordingIngestor) Ingest(ctx context.Context, batch IngestBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return nil
}

const receiptHtml = `<html><body>
<div>Willys Stockholm City</div>
<div>Ekologisk Banan</div>
<div>0,505 kg * 39,90 kr/kg 20,15</div>
<div>Kaffe Mellanrost 25,00</div>
<div>Rab: -5,00</div>
<div>Totalt 40,15</div>
</body></html>`

// stubPortal imitates the portal's rest api: bankid challenge and
// collect, profile, paginated receipt listing and receipt documents.
func stubPortal(t *testing.T, collectStatuses []string) *httptest.Server {
	var mu sync.Mutex
	collectCalls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("POST /axfood/rest/bankid/auth", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		fmt.Fprint(w, `{"orderRef":"order-1","autoStartToken":"token-1","qrData":"qr-frame-1"}`)
	})
	mux.HandleFunc("GET /axfood/rest/bankid/collect", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("orderRef"); got != "order-1" {
			t.Errorf("unexpected orderRef %q", got)
		}
		mu.Lock()
		status := collectStatuses[len(collectStatuses)-1]
		if collectCalls < len(collectStatuses) {
			status = collectStatuses[collectCalls]
		}
		collectCalls++
		mu.Unlock()
		w.Header().Set("content-type", "application/json")
		fmt.Fprintf(w, `{"status":%q,"hintCode":"outstandingTransaction","qrData":"qr-frame-2"}`, status)
	})
	mux.HandleFunc("GET /axfood/rest/customers/current", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		fmt.Fprint(w, `{"customerId":"cust-1","memberCardNumber":"9752201","firstName":"Test","email":"test@example.com"}`)
	})
	mux.HandleFunc("GET /axfood/rest/order/orders/digitalreceipts", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("currentPage")
		w.Header().Set("content-type", "application/json")
		switch page {
		case "0":
			json.NewEncoder(w).Encode(map[string]any{
				"currentPage":   0,
				"numberOfPages": 2,
				"receiptList": []map[string]any{
					{
						"digitalReceiptAvailable": true,
						"digitalReceiptReference": "20240110093045-1111-0001",
						"storeId":                 "1042",
						"storeName":               "Willys Stockholm City",
						"memberCardNumber":        "9752201",
					},
					{
						"digitalReceiptAvailable": false,
						"digitalReceiptReference": "20240111120000-9999-0009",
						"storeId":                 "1042",
						"memberCardNumber":        "9752201",
					},
				},
			})
		case "1":
			json.NewEncoder(w).Encode(map[string]any{
				"currentPage":   1,
				"numberOfPages": 2,
				"receiptList": []map[string]any{
					{
						// duplicate of page 0, must be de-duplicated
						"digitalReceiptAvailable": true,
						"digitalReceiptReference": "20240110093045-1111-0001",
						"storeId":                 "1042",
						"storeName":               "Willys Stockholm City",
						"memberCardNumber":        "9752201",
					},
					{
						"digitalReceiptAvailable": true,
						"digitalReceiptReference": "20240112083000-2222-0002",
						"storeId":                 "1042",
						"storeName":               "Willys Stockholm City",
						"memberCardNumber":        "9752201",
					},
				},
			})
		default:
			t.Errorf("unexpected page request %q", page)
			http.Error(w, "bad page", http.StatusBadRequest)
		}
	})
	mux.HandleFunc("GET /axfood/rest/order/orders/digitalreceipt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/html; charset=utf-8")
		fmt.Fprint(w, receiptHtml)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func setupService(t *testing.T, server *httptest.Server, ingestor Ingestor) (Service, sessions.Store) {
	cleanup := telemetry.SetupForTesting(t, "test:grocery")
	t.Cleanup(cleanup)

	database, err := sqliteutil.OpenDB(sessions.Schema, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	store := sessions.NewStore(database, t.TempDir())

	engine := willys.NewEngine(nil, store, willys.EngineOptions{
		BaseUrl:      server.URL,
		PollInterval: time.Millisecond * 10,
	})
	svc := NewService(context.Background(), Options{
		Engine:   engine,
		Store:    store,
		Ingestor: ingestor,
	})
	return svc, store
}

func seedSession(t *testing.T, store sessions.Store, identity string) {
	err := store.Save(context.Background(), identity, &willys.SessionArtifact{
		LocalStorage: map[string]string{},
		UpdatedAt:    time.Now(),
	})
	require.NoError(t, err)
}

func TestLoginFastPathPollsUntilComplete(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:grocery")
	t.Cleanup(cleanup)

	server := stubPortal(t, []string{
		"OUTSTANDING_TRANSACTION",
		"OUTSTANDING_TRANSACTION",
		"USER_SIGN",
		"COMPLETE",
	})

	store := newCountingStore()
	store.artifacts["id-1"] = &willys.SessionArtifact{
		LocalStorage: map[string]string{},
		UpdatedAt:    time.Now(),
	}
	engine := willys.NewEngine(nil, store, willys.EngineOptions{
		BaseUrl:      server.URL,
		PollInterval: time.Millisecond * 10,
	})

	stream := engine.Login(context.Background(), willys.LoginRequest{
		Identity: "id-1",
		Headless: true,
	})

	terminal := 0
	collects := 0
	qrs := 0
	var result *willys.LoginResult
	for ev := range stream.Events() {
		switch ev.Kind {
		case willys.EventCollect:
			collects++
		case willys.EventQr:
			qrs++
		case willys.EventDone:
			terminal++
			result = ev.Result
		case willys.EventError:
			terminal++
			t.Errorf("unexpected error event: %s", ev.Err)
		}
	}

	require.Equal(t, 1, terminal)
	require.NotNil(t, result)
	require.True(t, result.Ok)
	require.Equal(t, "id-1", result.Identity)
	require.GreaterOrEqual(t, collects, 3)
	require.GreaterOrEqual(t, qrs, 1)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, 1, store.saves)
}

func TestFetchReceiptsWithContentForwardsParsedItems(t *testing.T) {
	server := stubPortal(t, []string{"COMPLETE"})
	ingestor := &recordingIngestor{}
	svc, store := setupService(t, server, ingestor)
	seedSession(t, store, "id-1")

	result, err := svc.FetchReceiptsWithContent(context.Background(), FetchRequest{
		Identity:      "id-1",
		DestinationId: "dest-1",
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.DescriptorCount)
	require.Equal(t, 2, result.Forwarded)
	require.Empty(t, result.Receipts)

	require.Len(t, ingestor.batches, 1)
	batch := ingestor.batches[0]
	require.Equal(t, "dest-1", batch.DestinationId)
	require.Len(t, batch.Receipts, 2)
	require.Equal(t, "2024-01-10", batch.Receipts[0].Date)
	require.Equal(t, "2024-01-12", batch.Receipts[1].Date)

	parsed := batch.Receipts[0].Parsed
	require.NotNil(t, parsed)
	require.Equal(t, 2, parsed.ItemCount)
	require.Equal(t, "Ekologisk Banan", parsed.Items[0].Name)
	require.Equal(t, 20.15, parsed.Items[0].Total)
	require.Equal(t, "Kaffe Mellanrost", parsed.Items[1].Name)
	require.Equal(t, 20.00, parsed.Items[1].Total)
}

func TestFetchReceiptsInlineWithoutIngestor(t *testing.T) {
	server := stubPortal(t, []string{"COMPLETE"})
	svc, store := setupService(t, server, nil)
	seedSession(t, store, "id-1")

	result, err := svc.FetchReceipts(context.Background(), FetchRequest{Identity: "id-1"})
	require.NoError(t, err)
	require.Equal(t, 2, result.DescriptorCount)
	require.Zero(t, result.Forwarded)
	require.Len(t, result.Receipts, 2)
	require.Equal(t, "20240110093045-1111-0001", result.Receipts[0].Reference)
}

func TestFetchReceiptsWithoutSession(t *testing.T) {
	server := stubPortal(t, []string{"COMPLETE"})
	svc, _ := setupService(t, server, nil)

	_, err := svc.FetchReceipts(context.Background(), FetchRequest{Identity: "stranger"})
	require.ErrorIs(t, err, willys.ErrSessionMissing)
}

func TestProbeSession(t *testing.T) {
	server := stubPortal(t, []string{"COMPLETE"})
	svc, store := setupService(t, server, nil)
	seedSession(t, store, "id-1")

	profile, err := svc.ProbeSession(context.Background(), "id-1")
	require.NoError(t, err)
	require.Equal(t, "cust-1", profile.CustomerId)
	require.Equal(t, "test@example.com", profile.Email)
}

func TestSyncAllRunsEveryIdentity(t *testing.T) {
	server := stubPortal(t, []string{"COMPLETE"})
	ingestor := &recordingIngestor{}
	svc, store := setupService(t, server, ingestor)
	seedSession(t, store, "id-1")
	seedSession(t, store, "id-2")

	report := svc.SyncAll(context.Background())
	require.Equal(t, 2, report.Synced)
	require.Empty(t, report.Failed)

	ingestor.mu.Lock()
	defer ingestor.mu.Unlock()
	require.Len(t, ingestor.batches, 2)
}
