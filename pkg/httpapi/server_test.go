package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"bookstore/pkg/httpapi"
	"bookstore/pkg/ledger"
	"bookstore/pkg/storage/sqlitestore"
)

const unitPrice = uint64(1_000_000_000_000_000_000)

// newTestServer stands up the full stack: SQLite store, ledger service, and
// the HTTP layer on top.
func newTestServer(t *testing.T) (*httptest.Server, uuid.UUID) {
	t.Helper()

	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	owner := uuid.New()
	svc, err := ledger.Open(context.Background(), owner, store)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(svc.Close)

	ts := httptest.NewServer(httpapi.New(svc, nil).Handler())
	t.Cleanup(ts.Close)
	return ts, owner
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, caller uuid.UUID, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if caller != uuid.Nil {
		req.Header.Set("X-Caller-ID", caller.String())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeItem(t *testing.T, resp *http.Response) ledger.Item {
	t.Helper()
	var item ledger.Item
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	return item
}

func addItem(t *testing.T, ts *httptest.Server, owner uuid.UUID, title string, price, stock uint64) ledger.Item {
	t.Helper()
	resp := doJSON(t, ts, http.MethodPost, "/api/items", owner, map[string]any{
		"title": title, "price": price, "stock": stock,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add item status = %d, want 201", resp.StatusCode)
	}
	return decodeItem(t, resp)
}

func TestAddItemReturnsCreated(t *testing.T) {
	t.Parallel()

	ts, owner := newTestServer(t)
	item := addItem(t, ts, owner, "Blockchain Basics", unitPrice, 10)
	if item.ID != 0 {
		t.Fatalf("first item id = %d, want 0", item.ID)
	}
	if item.Title != "Blockchain Basics" || item.Price != unitPrice || item.Stock != 10 {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestAddItemWithoutCaller(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	resp := doJSON(t, ts, http.MethodPost, "/api/items", uuid.Nil, map[string]any{
		"title": "Blockchain Basics", "price": unitPrice, "stock": 10,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAddItemAsNonOwner(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	resp := doJSON(t, ts, http.MethodPost, "/api/items", uuid.New(), map[string]any{
		"title": "Blockchain Basics", "price": unitPrice, "stock": 10,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestAddItemMalformedCaller(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/items", bytes.NewBufferString(`{"title":"X"}`))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Caller-ID", "not-a-uuid")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUpdateItem(t *testing.T) {
	t.Parallel()

	ts, owner := newTestServer(t)
	addItem(t, ts, owner, "Blockchain Basics", unitPrice, 10)

	resp := doJSON(t, ts, http.MethodPut, "/api/items/0", owner, map[string]any{
		"title": "Advanced Blockchain", "price": 2 * unitPrice, "stock": 10,
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("update status = %d, want 204", resp.StatusCode)
	}

	got := doJSON(t, ts, http.MethodGet, "/api/items/0", uuid.Nil, nil)
	if got.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", got.StatusCode)
	}
	item := decodeItem(t, got)
	if item.Title != "Advanced Blockchain" || item.Price != 2*unitPrice {
		t.Fatalf("unexpected item after update: %+v", item)
	}
}

func TestUpdateMissingItem(t *testing.T) {
	t.Parallel()

	ts, owner := newTestServer(t)
	resp := doJSON(t, ts, http.MethodPut, "/api/items/9", owner, map[string]any{
		"title": "Phantom", "price": 1, "stock": 1,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUpdateMissingItemAsNonOwner(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	resp := doJSON(t, ts, http.MethodPut, "/api/items/9", uuid.New(), map[string]any{
		"title": "Phantom", "price": 1, "stock": 1,
	})
	// Authorization is decided before existence, so a non-owner probing an
	// unassigned id still sees 403.
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestPurchaseFlow(t *testing.T) {
	t.Parallel()

	ts, owner := newTestServer(t)
	buyer := uuid.New()
	addItem(t, ts, owner, "Blockchain Basics", unitPrice, 10)

	resp := doJSON(t, ts, http.MethodPost, "/api/items/0/purchase", buyer, map[string]any{
		"quantity": 1, "payment": unitPrice,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("purchase status = %d, want 200", resp.StatusCode)
	}
	item := decodeItem(t, resp)
	if item.Stock != 9 {
		t.Fatalf("stock after purchase = %d, want 9", item.Stock)
	}

	ownerResp := doJSON(t, ts, http.MethodGet, "/api/owner", uuid.Nil, nil)
	if ownerResp.StatusCode != http.StatusOK {
		t.Fatalf("owner status = %d, want 200", ownerResp.StatusCode)
	}
	var ownerBody map[string]string
	if err := json.NewDecoder(ownerResp.Body).Decode(&ownerBody); err != nil {
		t.Fatalf("decode owner response: %v", err)
	}
	if ownerBody["owner"] != owner.String() {
		t.Fatalf("owner = %q, want %q", ownerBody["owner"], owner)
	}
	if want := fmt.Sprintf("%d", unitPrice); ownerBody["balance"] != want {
		t.Fatalf("balance = %q, want %q", ownerBody["balance"], want)
	}
}

func TestPurchaseInsufficientPayment(t *testing.T) {
	t.Parallel()

	ts, owner := newTestServer(t)
	addItem(t, ts, owner, "Blockchain Basics", unitPrice, 10)

	resp := doJSON(t, ts, http.MethodPost, "/api/items/0/purchase", uuid.New(), map[string]any{
		"quantity": 1, "payment": unitPrice / 2,
	})
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}

	got := decodeItem(t, doJSON(t, ts, http.MethodGet, "/api/items/0", uuid.Nil, nil))
	if got.Stock != 10 {
		t.Fatalf("stock after rejected purchase = %d, want 10", got.Stock)
	}
}

func TestPurchaseOutOfStock(t *testing.T) {
	t.Parallel()

	ts, owner := newTestServer(t)
	addItem(t, ts, owner, "Blockchain Basics", unitPrice, 0)

	resp := doJSON(t, ts, http.MethodPost, "/api/items/0/purchase", uuid.New(), map[string]any{
		"quantity": 0, "payment": unitPrice,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestPurchaseMissingItem(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	resp := doJSON(t, ts, http.MethodPost, "/api/items/5/purchase", uuid.New(), map[string]any{
		"quantity": 1, "payment": unitPrice,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListItems(t *testing.T) {
	t.Parallel()

	ts, owner := newTestServer(t)

	empty := doJSON(t, ts, http.MethodGet, "/api/items", uuid.Nil, nil)
	if empty.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", empty.StatusCode)
	}
	var items []ledger.Item
	if err := json.NewDecoder(empty.Body).Decode(&items); err != nil {
		t.Fatalf("decode empty catalog: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("empty catalog has %d items", len(items))
	}

	addItem(t, ts, owner, "Blockchain Basics", unitPrice, 10)
	addItem(t, ts, owner, "Consensus in Practice", 2*unitPrice, 5)

	full := doJSON(t, ts, http.MethodGet, "/api/items", uuid.Nil, nil)
	items = nil
	if err := json.NewDecoder(full.Body).Decode(&items); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("catalog has %d items, want 2", len(items))
	}
	if items[0].ID != 0 || items[1].ID != 1 {
		t.Fatalf("catalog ids = %d,%d, want 0,1", items[0].ID, items[1].ID)
	}
}

func TestGetItemInvalidID(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	resp := doJSON(t, ts, http.MethodGet, "/api/items/abc", uuid.Nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	resp := doJSON(t, ts, http.MethodGet, "/health", uuid.Nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
}
