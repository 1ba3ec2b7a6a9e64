/*
handlers_test.go - HTTP tests for the stock API

Tests for:
- Receiving and selling end to end through the router
- Error translation to HTTP status codes
- Checkout order fulfillment and redelivery
- Reports over HTTP
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/store/memory"
	"github.com/warp/stock-engine/store/sqlite"
)

const clerk = "clerk-1"

type testServer struct {
	t      *testing.T
	dbPath string
	h      *Handler
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "stock.db")
	store, err := sqlite.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, stock.DefaultTaxRate, nil)
	return &testServer{t: t, dbPath: dbPath, h: h, router: NewRouter(h)}
}

func newMemoryTestServer(t *testing.T) *testServer {
	t.Helper()
	h := NewHandler(memory.New(), stock.DefaultTaxRate, nil)
	return &testServer{t: t, h: h, router: NewRouter(h)}
}

// enableReset remounts the router with the admin reset route.
func (s *testServer) enableReset() {
	s.h.AllowReset = true
	s.router = NewRouter(s.h)
}

func (s *testServer) do(method, path string, body any, actor string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) product(id string, price, cost int64) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/products", ProductDTO{
		ID: id, SKU: "SKU-" + id, Name: "Product " + id,
		Price: decimal.NewFromInt(price), Cost: decimal.NewFromInt(cost), Active: true,
	}, "")
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
}

// receive creates, submits and fully receives a one-line purchase order.
func (s *testServer) receive(productID string, qty int64, cost string) PurchaseOrderDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/purchase-orders", CreatePurchaseOrderRequest{
		SupplierID: "sup-1",
		Items:      []PurchaseOrderItemRequest{{ProductID: productID, Quantity: qty, UnitCost: decimal.RequireFromString(cost)}},
	}, clerk)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	po := decodeAs[PurchaseOrderDTO](s.t, rec)

	rec = s.do(http.MethodPost, "/api/purchase-orders/"+po.ID+"/submit", nil, clerk)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/purchase-orders/"+po.ID+"/receive", ReceiveRequest{
		Items: []ReceiptLineRequest{{ItemID: po.Items[0].ID, Quantity: qty}},
	}, clerk)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeAs[PurchaseOrderDTO](s.t, rec)
}

func (s *testServer) onHand(productID string) int64 {
	s.t.Helper()
	rec := s.do(http.MethodGet, "/api/balances/"+productID, nil, "")
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeAs[BalanceDTO](s.t, rec).OnHand
}

func cashSale(key string, lines ...SaleLineRequest) DirectSaleRequest {
	return DirectSaleRequest{IdempotencyKey: key, PaymentMethod: "cash", Items: lines}
}

// =============================================================================
// END TO END
// =============================================================================

func TestAPI_ReceiveThenSell(t *testing.T) {
	// GIVEN: a product received 10 units through a purchase order
	// WHEN: a register sale of 3 at the catalog price is posted
	// THEN: the sale carries 15% tax, on_hand drops to 7 and the ledger
	//       shows one purchase and one sale row

	s := newTestServer(t)
	s.product("p-1", 500, 300)
	po := s.receive("p-1", 10, "300")
	assert.Equal(t, "received", po.Status)
	assert.Equal(t, int64(0), po.Items[0].Remaining)
	assert.Equal(t, int64(10), s.onHand("p-1"))

	rec := s.do(http.MethodPost, "/api/sales", cashSale("pos-1", SaleLineRequest{ProductID: "p-1", Quantity: 3}), clerk)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decodeAs[SaleDTO](t, rec)

	assert.Equal(t, "SALE-000001", sale.SaleNumber)
	assert.True(t, decimal.NewFromInt(1500).Equal(sale.Subtotal), "subtotal %s", sale.Subtotal)
	assert.True(t, decimal.NewFromInt(225).Equal(sale.TaxAmount), "tax %s", sale.TaxAmount)
	assert.True(t, decimal.NewFromInt(1725).Equal(sale.TotalAmount), "total %s", sale.TotalAmount)
	assert.Equal(t, "paid", sale.PaymentStatus)
	assert.Equal(t, clerk, sale.CreatedBy)
	assert.Equal(t, int64(7), s.onHand("p-1"))

	rec = s.do(http.MethodGet, "/api/sales/"+sale.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[SaleDTO](t, rec).Items, 1)

	rec = s.do(http.MethodGet, "/api/balances/p-1/movements", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	movements := decodeAs[[]MovementDTO](t, rec)
	require.Len(t, movements, 2)
	assert.Equal(t, "sale", movements[0].ReferenceType, "newest first")
	assert.Equal(t, "out", movements[0].Direction)
	assert.Equal(t, "purchase", movements[1].ReferenceType)

	rec = s.do(http.MethodGet, "/api/balances/p-1/movements?limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]MovementDTO](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/reports/reconciliation", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeAs[[]DriftDTO](t, rec))
}

func TestAPI_CheckoutOrder_FulfillOnce(t *testing.T) {
	s := newTestServer(t)
	s.product("p-1", 500, 300)
	s.receive("p-1", 5, "300")

	rec := s.do(http.MethodPost, "/api/orders", SaveOrderRequest{
		ID:            "ord-1",
		CustomerName:  "Ada",
		PaymentMethod: "card",
		Items:         []OrderItemRequest{{ProductID: "p-1", Quantity: 2, UnitPrice: decimal.NewFromInt(450)}},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/orders/ord-1/fulfill", nil, clerk)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decodeAs[SaleDTO](t, rec)
	assert.Equal(t, "ord-1", sale.OrderID)
	assert.Equal(t, "pending", sale.PaymentStatus)
	assert.True(t, decimal.NewFromInt(900).Equal(sale.Subtotal), "order price wins over catalog")

	rec = s.do(http.MethodPost, "/api/orders/ord-1/fulfill", nil, clerk)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeAs[ErrorResponse](t, rec).Details, sale.ID)
	assert.Equal(t, int64(3), s.onHand("p-1"))

	rec = s.do(http.MethodPost, "/api/orders", SaveOrderRequest{
		ID: "ord-1", PaymentMethod: "card",
		Items: []OrderItemRequest{{ProductID: "p-1", Quantity: 1, UnitPrice: decimal.NewFromInt(1)}},
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "order ids are unique")
}

func TestAPI_ReturnsAndPaymentStatus(t *testing.T) {
	s := newTestServer(t)
	s.product("p-1", 500, 300)
	s.receive("p-1", 5, "300")

	rec := s.do(http.MethodPost, "/api/sales", cashSale("pos-1", SaleLineRequest{ProductID: "p-1", Quantity: 2}), clerk)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decodeAs[SaleDTO](t, rec)

	rec = s.do(http.MethodPost, "/api/sales/"+sale.ID+"/returns", ReturnRequest{ProductID: "p-1", Quantity: 2, Notes: "damaged box"}, clerk)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	m := decodeAs[MovementDTO](t, rec)
	assert.Equal(t, "return", m.ReferenceType)
	assert.Equal(t, "in", m.Direction)
	assert.Equal(t, int64(5), s.onHand("p-1"))

	rec = s.do(http.MethodPost, "/api/sales/"+sale.ID+"/returns", ReturnRequest{ProductID: "p-1", Quantity: 1}, clerk)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "already returned everything")

	rec = s.do(http.MethodPut, "/api/sales/"+sale.ID+"/payment-status", PaymentStatusRequest{Status: "refunded"}, clerk)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "refunded", decodeAs[SaleDTO](t, rec).PaymentStatus)

	rec = s.do(http.MethodPut, "/api/sales/"+sale.ID+"/payment-status", PaymentStatusRequest{Status: "paid"}, clerk)
	assert.Equal(t, http.StatusConflict, rec.Code, "refunded is terminal")
}

func TestAPI_StockTakeReservationsAndLowStock(t *testing.T) {
	s := newTestServer(t)
	s.product("p-1", 100, 60)

	rec := s.do(http.MethodPut, "/api/balances/p-1/stock-take", StockTakeRequest{Quantity: 8, Notes: "cycle count"}, clerk)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(8), decodeAs[OnHandDTO](t, rec).OnHand)

	rec = s.do(http.MethodPost, "/api/balances/p-1/reservations", QuantityRequest{Quantity: 5}, clerk)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bal := decodeAs[BalanceDTO](t, rec)
	assert.Equal(t, int64(5), bal.Reserved)
	assert.Equal(t, int64(3), bal.Available)

	rec = s.do(http.MethodPost, "/api/balances/p-1/reservations", QuantityRequest{Quantity: 4}, clerk)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPut, "/api/balances/p-1/reorder-policy", ReorderPolicyRequest{ReorderLevel: 3, ReorderQuantity: 20}, clerk)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeAs[BalanceDTO](t, rec).NeedsReorder)

	rec = s.do(http.MethodGet, "/api/reports/low-stock", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	low := decodeAs[[]BalanceDTO](t, rec)
	require.Len(t, low, 1)
	assert.Equal(t, "p-1", low[0].ProductID)

	rec = s.do(http.MethodPost, "/api/balances/p-1/release", QuantityRequest{Quantity: 50}, clerk)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decodeAs[BalanceDTO](t, rec).Reserved)
}

func TestAPI_Reports(t *testing.T) {
	s := newTestServer(t)
	s.product("p-1", 500, 300)
	s.receive("p-1", 10, "300")
	rec := s.do(http.MethodPost, "/api/sales", cashSale("pos-1", SaleLineRequest{ProductID: "p-1", Quantity: 3}), clerk)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	to := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	rec = s.do(http.MethodGet, "/api/reports/sales?to="+to, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sum := decodeAs[SalesSummaryDTO](t, rec)
	assert.Equal(t, 1, sum.Count)
	assert.True(t, decimal.NewFromInt(1725).Equal(sum.Revenue), "revenue %s", sum.Revenue)

	rec = s.do(http.MethodGet, "/api/reports/financial?to="+to, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fin := decodeAs[FinancialSummaryDTO](t, rec)
	assert.True(t, decimal.NewFromInt(1500).Equal(fin.Income), "income %s", fin.Income)
	assert.True(t, decimal.NewFromInt(900).Equal(fin.CostOfGoods), "cogs %s", fin.CostOfGoods)
	assert.True(t, decimal.NewFromInt(3000).Equal(fin.Purchases), "purchases %s", fin.Purchases)
	assert.True(t, decimal.NewFromInt(600).Equal(fin.Profit), "profit %s", fin.Profit)

	rec = s.do(http.MethodGet, "/api/reports/sales?from=2025-01-02&to=2025-01-01", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "from after to")

	rec = s.do(http.MethodGet, "/api/reports/sales?from=yesterday", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ERROR TRANSLATION
// =============================================================================

func TestAPI_ErrorStatusCodes(t *testing.T) {
	s := newTestServer(t)
	s.product("p-1", 500, 300)
	s.receive("p-1", 2, "300")

	rec := s.do(http.MethodPost, "/api/sales", cashSale("pos-1", SaleLineRequest{ProductID: "p-1", Quantity: 3}), clerk)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "oversell")
	assert.Equal(t, "Insufficient stock", decodeAs[ErrorResponse](t, rec).Error)
	assert.Equal(t, int64(2), s.onHand("p-1"))

	rec = s.do(http.MethodPost, "/api/sales", cashSale("pos-1", SaleLineRequest{ProductID: "p-1", Quantity: 1}), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing actor")

	rec = s.do(http.MethodPost, "/api/sales", `{"items": [`, clerk)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "malformed body")

	rec = s.do(http.MethodPost, "/api/sales", cashSale("", SaleLineRequest{ProductID: "p-1", Quantity: 1}), clerk)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing idempotency key")

	rec = s.do(http.MethodPost, "/api/sales", cashSale("pos-2", SaleLineRequest{ProductID: "p-1", Quantity: 1}), clerk)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(http.MethodPost, "/api/sales", cashSale("pos-2", SaleLineRequest{ProductID: "p-1", Quantity: 1}), clerk)
	assert.Equal(t, http.StatusConflict, rec.Code, "repeated idempotency key")
	assert.Equal(t, int64(1), s.onHand("p-1"))

	rec = s.do(http.MethodGet, "/api/purchase-orders/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/balances/ghost", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/adjustments", AdjustmentRequest{ProductID: "p-1", Direction: "sideways", Quantity: 1}, clerk)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/adjustments", AdjustmentRequest{ProductID: "p-1", Direction: "adjustment_down", Quantity: 5}, clerk)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, "/api/adjustments", AdjustmentRequest{ProductID: "p-1", Direction: "adjustment_up", Quantity: 4, Notes: "found in back room"}, clerk)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(5), decodeAs[OnHandDTO](t, rec).OnHand)
}

func TestAPI_PurchaseOrderTransitions(t *testing.T) {
	s := newTestServer(t)
	s.product("p-1", 500, 300)
	po := s.receive("p-1", 4, "300")

	rec := s.do(http.MethodPost, "/api/purchase-orders/"+po.ID+"/receive", ReceiveRequest{
		Items: []ReceiptLineRequest{{ItemID: po.Items[0].ID, Quantity: 1}},
	}, clerk)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "over-receipt")

	rec = s.do(http.MethodPost, "/api/purchase-orders/"+po.ID+"/cancel", nil, clerk)
	assert.Equal(t, http.StatusConflict, rec.Code, "received orders cannot be cancelled")

	rec = s.do(http.MethodPost, "/api/purchase-orders/"+po.ID+"/receive", ReceiveRequest{
		Items: []ReceiptLineRequest{{ItemID: po.Items[0].ID, Quantity: 1}, {ItemID: po.Items[0].ID, Quantity: 1}},
	}, clerk)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "duplicate line")
	assert.Equal(t, int64(4), s.onHand("p-1"))
}

func TestWriteStockError_Mapping(t *testing.T) {
	h := &Handler{Logger: zap.NewNop()}

	tests := []struct {
		err  error
		want int
	}{
		{&stock.InsufficientStockError{ProductID: "p", Requested: 2, Available: 1}, http.StatusUnprocessableEntity},
		{&stock.OverReceiptError{ItemID: "i", Requested: 2, Remaining: 1}, http.StatusUnprocessableEntity},
		{&stock.OverReturnError{}, http.StatusUnprocessableEntity},
		{&stock.InvalidTransitionError{From: "pending", To: "received"}, http.StatusConflict},
		{&stock.AlreadyFulfilledError{Key: "ord-1", SaleID: "s-1"}, http.StatusConflict},
		{&stock.ValidationError{Field: "quantity", Message: "must be positive"}, http.StatusBadRequest},
		{&stock.NotFoundError{Kind: "sale", ID: "s-1"}, http.StatusNotFound},
		{&stock.BusyError{Err: errors.New("database is locked")}, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.writeStockError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
		assert.Equal(t, tt.want, rec.Code, "%T", tt.err)
		if tt.want == http.StatusServiceUnavailable {
			assert.Equal(t, "1", rec.Header().Get("Retry-After"))
		}
	}
}

func TestAPI_ResetAndHealth(t *testing.T) {
	s := newTestServer(t)
	s.product("p-1", 500, 300)

	rec := s.do(http.MethodPost, "/api/admin/reset", nil, clerk)
	assert.Equal(t, http.StatusNotFound, rec.Code, "reset is not mounted by default")
	assert.Len(t, decodeAs[[]ProductDTO](t, s.do(http.MethodGet, "/api/products", nil, "")), 1)

	s.enableReset()
	rec = s.do(http.MethodPost, "/api/admin/reset", nil, clerk)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/products", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeAs[[]ProductDTO](t, rec))

	rec = s.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_MemoryBackend(t *testing.T) {
	// GIVEN: the handler running over the in-memory store
	// WHEN: stock is received, sold and oversold
	// THEN: it behaves exactly like the SQLite backend

	s := newMemoryTestServer(t)
	s.product("p-1", 500, 300)
	s.receive("p-1", 5, "300")

	rec := s.do(http.MethodPost, "/api/sales", cashSale("pos-1", SaleLineRequest{ProductID: "p-1", Quantity: 4}), clerk)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "SALE-000001", decodeAs[SaleDTO](t, rec).SaleNumber)

	rec = s.do(http.MethodPost, "/api/sales", cashSale("pos-2", SaleLineRequest{ProductID: "p-1", Quantity: 2}), clerk)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), s.onHand("p-1"))

	rec = s.do(http.MethodGet, "/api/reports/reconciliation", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeAs[[]DriftDTO](t, rec))

	s.enableReset()
	rec = s.do(http.MethodPost, "/api/admin/reset", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodGet, "/api/balances/p-1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ManualAdjustment_CannotPostDocumentMovements(t *testing.T) {
	// GIVEN: a register sale of 3 units
	// WHEN: /api/adjustments is asked to post a return of 100 against it
	// THEN: 400, stock is untouched and the sale can still be returned in full

	s := newTestServer(t)
	s.product("p-1", 500, 300)
	s.receive("p-1", 10, "300")

	rec := s.do(http.MethodPost, "/api/sales", cashSale("pos-1", SaleLineRequest{ProductID: "p-1", Quantity: 3}), clerk)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decodeAs[SaleDTO](t, rec)

	rec = s.do(http.MethodPost, "/api/adjustments", AdjustmentRequest{
		ProductID: "p-1", Direction: "in", Quantity: 100,
		ReferenceType: "return", ReferenceID: sale.ID,
	}, clerk)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, int64(7), s.onHand("p-1"))

	rec = s.do(http.MethodPost, "/api/sales/"+sale.ID+"/returns", ReturnRequest{ProductID: "p-1", Quantity: 3}, clerk)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(10), s.onHand("p-1"))
}

func TestAPI_BalanceUpdates_RequireActor(t *testing.T) {
	s := newTestServer(t)
	s.product("p-1", 500, 300)
	s.receive("p-1", 10, "300")

	rec := s.do(http.MethodPost, "/api/balances/p-1/reservations", QuantityRequest{Quantity: 2}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodPost, "/api/balances/p-1/release", QuantityRequest{Quantity: 2}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodPut, "/api/balances/p-1/reorder-policy", ReorderPolicyRequest{ReorderLevel: 3, ReorderQuantity: 20}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/balances/p-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decodeAs[BalanceDTO](t, rec)
	assert.Equal(t, int64(0), bal.Reserved)
	assert.Equal(t, int64(0), bal.ReorderLevel)
}

func TestAPI_SaveOrder_Validation(t *testing.T) {
	// GIVEN: either backend with one catalog product
	// WHEN: an order with a zero quantity or an unknown product is pushed
	// THEN: 400 and 404 respectively, never a 500

	backends := map[string]func(*testing.T) *testServer{
		"sqlite": newTestServer,
		"memory": newMemoryTestServer,
	}
	for name, newServer := range backends {
		t.Run(name, func(t *testing.T) {
			s := newServer(t)
			s.product("p-1", 500, 300)

			rec := s.do(http.MethodPost, "/api/orders", SaveOrderRequest{
				ID: "ord-zero", PaymentMethod: "card",
				Items: []OrderItemRequest{{ProductID: "p-1", Quantity: 0, UnitPrice: decimal.NewFromInt(500)}},
			}, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			rec = s.do(http.MethodPost, "/api/orders", SaveOrderRequest{
				ID: "ord-ghost", PaymentMethod: "card",
				Items: []OrderItemRequest{{ProductID: "ghost", Quantity: 1, UnitPrice: decimal.NewFromInt(500)}},
			}, "")
			assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

			rec = s.do(http.MethodPost, "/api/orders/ord-ghost/fulfill", nil, clerk)
			assert.Equal(t, http.StatusNotFound, rec.Code, "rejected order was not stored")
		})
	}
}
