/*
handlers.go - HTTP API handlers for the stock engine

PURPOSE:
  Exposes the stock engine to the web tier via a REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the stock package.

ENDPOINTS:
  Catalog and checkout feeds:
    GET    /api/products                     List catalog products
    POST   /api/products                     Create or update a product
    POST   /api/orders                       Record a checkout order
    POST   /api/orders/{id}/fulfill          Fulfill a checkout order

  Inventory:
    GET    /api/balances                     All balances
    GET    /api/balances/{productID}         One balance
    GET    /api/balances/{productID}/movements?limit=N
    PUT    /api/balances/{productID}/stock-take
    POST   /api/balances/{productID}/reservations
    POST   /api/balances/{productID}/release
    PUT    /api/balances/{productID}/reorder-policy
    POST   /api/adjustments                  Manual movement

  Purchase orders:
    POST   /api/purchase-orders              Create (pending)
    GET    /api/purchase-orders/{id}
    POST   /api/purchase-orders/{id}/submit  pending -> ordered
    POST   /api/purchase-orders/{id}/receive Partial or full receipt
    POST   /api/purchase-orders/{id}/cancel

  Sales:
    POST   /api/sales                        Direct (register) sale
    GET    /api/sales/{id}
    PUT    /api/sales/{id}/payment-status
    POST   /api/sales/{id}/returns

  Reports:
    GET    /api/reports/sales?from=&to=
    GET    /api/reports/financial?from=&to=
    GET    /api/reports/low-stock
    GET    /api/reports/reconciliation

  Admin:
    POST   /api/admin/reset                  Drop and recreate all tables
                                             (mounted only when AllowReset is set)

ACTOR:
  Mutating endpoints that write ledger rows or documents read the acting
  user from the X-Actor-ID header set by the identity layer in front of
  this service. A missing header is a 400.

REQUEST FLOW:
  1. Parse HTTP request
  2. Call the engine (wrapped in stock.Retry so Busy is retried)
  3. Serialize response
  4. Translate engine errors to HTTP status

ERROR HANDLING:
  - 400: Validation errors, malformed body
  - 404: Unknown product, order, sale, purchase order
  - 409: Invalid status transition, already fulfilled
  - 422: Insufficient stock, over-receipt, over-return
  - 503: Lock wait timed out (Retry-After: 1)
  - 500: Internal errors

SECURITY NOTE:
  No authentication; the actor header is trusted.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/stock-engine/stock"
)

// ActorHeader carries the authenticated user id.
const ActorHeader = "X-Actor-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is a stock.Store that also accepts the catalog and checkout feeds.
// Implemented by store/sqlite and store/memory.
type Backend interface {
	stock.Store
	SaveProduct(ctx context.Context, p *stock.Product) error
	ListProducts(ctx context.Context) ([]stock.Product, error)
	SaveOrder(ctx context.Context, o *stock.Order) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       Backend
	Inventory   *stock.Inventory
	Receiving   *stock.Receiving
	Fulfillment *stock.Fulfillment
	Reports     *stock.Reports
	Logger      *zap.Logger

	// RetryAttempts bounds how often a Busy engine call is retried before
	// the client sees a 503.
	RetryAttempts int

	// AllowReset mounts POST /api/admin/reset. Off unless configured.
	AllowReset bool
}

// NewHandler wires the engine services over one store.
func NewHandler(store Backend, taxRate decimal.Decimal, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	inventory := stock.NewInventory(store, logger.Named("inventory"))
	return &Handler{
		Store:         store,
		Inventory:     inventory,
		Receiving:     stock.NewReceiving(store, inventory, logger.Named("receiving")),
		Fulfillment:   stock.NewFulfillment(store, inventory, taxRate, logger.Named("fulfillment")),
		Reports:       stock.NewReports(store),
		Logger:        logger,
		RetryAttempts: stock.DefaultRetryAttempts,
	}
}

// =============================================================================
// CATALOG AND CHECKOUT
// =============================================================================

// ListProducts returns the catalog.
// GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveProduct creates or updates a catalog product. New products start
// with a zero balance.
// POST /api/products
func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductDTO
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.SKU == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id, sku and name are required", nil)
		return
	}
	if req.Price.IsNegative() || req.Cost.IsNegative() {
		writeError(w, http.StatusBadRequest, "price and cost cannot be negative", nil)
		return
	}

	p := &stock.Product{
		ID:     stock.ProductID(req.ID),
		SKU:    req.SKU,
		Name:   req.Name,
		Price:  req.Price,
		Cost:   req.Cost,
		Active: req.Active,
	}
	if err := h.retry(r, func() error { return h.Store.SaveProduct(r.Context(), p) }); err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(*p))
}

// SaveOrder records a checkout order so it can be fulfilled later.
// POST /api/orders
func (h *Handler) SaveOrder(w http.ResponseWriter, r *http.Request) {
	var req SaveOrderRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "id and at least one item are required", nil)
		return
	}

	o := &stock.Order{
		ID:            stock.OrderID(req.ID),
		CustomerName:  req.CustomerName,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: stock.PaymentStatus(req.PaymentStatus),
	}
	if req.CustomerID != "" {
		id := stock.CustomerID(req.CustomerID)
		o.CustomerID = &id
	}
	for _, item := range req.Items {
		o.Items = append(o.Items, stock.OrderItem{
			ProductID: stock.ProductID(item.ProductID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	if err := h.retry(r, func() error { return h.Store.SaveOrder(r.Context(), o) }); err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(o.ID)})
}

// FulfillOrder turns a checkout order into a sale.
// POST /api/orders/{id}/fulfill
func (h *Handler) FulfillOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID := stock.OrderID(chi.URLParam(r, "id"))

	var sale *stock.Sale
	err := h.retry(r, func() error {
		var err error
		sale, err = h.Fulfillment.FulfillFromOrder(r.Context(), orderID, actor)
		return err
	})
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(sale))
}

// =============================================================================
// BALANCES AND LEDGER
// =============================================================================

// ListBalances returns every balance.
// GET /api/balances
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.Store.ListBalances(r.Context())
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTOs(balances))
}

// GetBalance returns one product's balance.
// GET /api/balances/{productID}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.Inventory.Balance(r.Context(), productParam(r))
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*bal))
}

// ListMovements returns a product's ledger, newest first.
// GET /api/balances/{productID}/movements?limit=N
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
			return
		}
		limit = n
	}

	movements, err := h.Inventory.Ledger.Movements(r.Context(), productParam(r), limit)
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	dtos := make([]MovementDTO, len(movements))
	for i, m := range movements {
		dtos[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAdjustment posts a manual movement.
// POST /api/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req AdjustmentRequest
	if !decode(w, r, &req) {
		return
	}

	dir, err := stock.ParseDirection(req.Direction)
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	ref := stock.ReferenceAdjustment
	if req.ReferenceType != "" {
		if ref, err = stock.ParseReferenceType(req.ReferenceType); err != nil {
			h.writeStockError(w, r, err)
			return
		}
	}

	adj := stock.Adjustment{
		ProductID:     stock.ProductID(req.ProductID),
		Direction:     dir,
		Quantity:      req.Quantity,
		ReferenceType: ref,
		ReferenceID:   req.ReferenceID,
		Notes:         req.Notes,
		ActorID:       actor,
	}
	if req.UnitCost != nil {
		adj.UnitCost = *req.UnitCost
	}

	var onHand int64
	err = h.retry(r, func() error {
		var err error
		onHand, err = h.Inventory.Adjust(r.Context(), adj)
		return err
	})
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, OnHandDTO{ProductID: req.ProductID, OnHand: onHand})
}

// StockTake sets on_hand to a counted quantity.
// PUT /api/balances/{productID}/stock-take
func (h *Handler) StockTake(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req StockTakeRequest
	if !decode(w, r, &req) {
		return
	}

	productID := productParam(r)
	var onHand int64
	err := h.retry(r, func() error {
		var err error
		onHand, err = h.Inventory.SetAbsolute(r.Context(), productID, req.Quantity, req.Notes, actor)
		return err
	})
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OnHandDTO{ProductID: string(productID), OnHand: onHand})
}

// Reserve earmarks stock.
// POST /api/balances/{productID}/reservations
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	h.updateBalance(w, r, h.Inventory.Reserve)
}

// Release returns reserved stock.
// POST /api/balances/{productID}/release
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	h.updateBalance(w, r, h.Inventory.Release)
}

func (h *Handler) updateBalance(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id stock.ProductID, qty int64, actorID stock.ActorID) (*stock.InventoryBalance, error)) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req QuantityRequest
	if !decode(w, r, &req) {
		return
	}
	productID := productParam(r)

	var bal *stock.InventoryBalance
	err := h.retry(r, func() error {
		var err error
		bal, err = op(r.Context(), productID, req.Quantity, actor)
		return err
	})
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*bal))
}

// SetReorderPolicy updates reorder hints.
// PUT /api/balances/{productID}/reorder-policy
func (h *Handler) SetReorderPolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req ReorderPolicyRequest
	if !decode(w, r, &req) {
		return
	}
	productID := productParam(r)

	var bal *stock.InventoryBalance
	err := h.retry(r, func() error {
		var err error
		bal, err = h.Inventory.SetReorderPolicy(r.Context(), productID, req.ReorderLevel, req.ReorderQuantity, actor)
		return err
	})
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*bal))
}

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

// CreatePurchaseOrder records a pending purchase order.
// POST /api/purchase-orders
func (h *Handler) CreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req CreatePurchaseOrderRequest
	if !decode(w, r, &req) {
		return
	}

	in := stock.NewPurchaseOrder{
		SupplierID:       stock.SupplierID(req.SupplierID),
		ExpectedDelivery: req.ExpectedDelivery,
		Notes:            req.Notes,
	}
	if req.OrderDate != nil {
		in.OrderDate = *req.OrderDate
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, stock.NewPurchaseOrderItem{
			ProductID: stock.ProductID(item.ProductID),
			Quantity:  item.Quantity,
			UnitCost:  item.UnitCost,
		})
	}

	var po *stock.PurchaseOrder
	err := h.retry(r, func() error {
		var err error
		po, err = h.Receiving.Create(r.Context(), in, actor)
		return err
	})
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseOrderDTO(po))
}

// GetPurchaseOrder returns a purchase order with its lines.
// GET /api/purchase-orders/{id}
func (h *Handler) GetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	po, err := h.Receiving.Get(r.Context(), stock.PurchaseOrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseOrderDTO(po))
}

// SubmitPurchaseOrder moves a pending order to ordered.
// POST /api/purchase-orders/{id}/submit
func (h *Handler) SubmitPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionPurchaseOrder(w, r, h.Receiving.Submit)
}

// CancelPurchaseOrder cancels an order that has received nothing.
// POST /api/purchase-orders/{id}/cancel
func (h *Handler) CancelPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionPurchaseOrder(w, r, h.Receiving.Cancel)
}

func (h *Handler) transitionPurchaseOrder(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id stock.PurchaseOrderID, actor stock.ActorID) (*stock.PurchaseOrder, error)) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id := stock.PurchaseOrderID(chi.URLParam(r, "id"))

	var po *stock.PurchaseOrder
	err := h.retry(r, func() error {
		var err error
		po, err = op(r.Context(), id, actor)
		return err
	})
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseOrderDTO(po))
}

// ReceivePurchaseOrder records a receipt against one or more lines.
// POST /api/purchase-orders/{id}/receive
func (h *Handler) ReceivePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req ReceiveRequest
	if !decode(w, r, &req) {
		return
	}

	receipts := make(map[stock.PurchaseOrderItemID]int64, len(req.Items))
	for _, line := range req.Items {
		id := stock.PurchaseOrderItemID(line.ItemID)
		if _, dup := receipts[id]; dup {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("item %s listed twice", line.ItemID), nil)
			return
		}
		receipts[id] = line.Quantity
	}
	id := stock.PurchaseOrderID(chi.URLParam(r, "id"))

	var po *stock.PurchaseOrder
	err := h.retry(r, func() error {
		var err error
		po, err = h.Receiving.Receive(r.Context(), id, receipts, actor)
		return err
	})
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseOrderDTO(po))
}

// =============================================================================
// SALES
// =============================================================================

// CreateDirectSale records a register sale.
// POST /api/sales
func (h *Handler) CreateDirectSale(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req DirectSaleRequest
	if !decode(w, r, &req) {
		return
	}

	in := stock.DirectSale{
		IdempotencyKey: req.IdempotencyKey,
		Customer:       stock.Customer{ID: stock.CustomerID(req.CustomerID), Name: req.CustomerName},
		PaymentMethod:  req.PaymentMethod,
	}
	for _, line := range req.Items {
		in.Items = append(in.Items, stock.LineItem{
			ProductID: stock.ProductID(line.ProductID),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	var sale *stock.Sale
	err := h.retry(r, func() error {
		var err error
		sale, err = h.Fulfillment.FulfillDirect(r.Context(), in, actor)
		return err
	})
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(sale))
}

// GetSale returns a sale with its lines.
// GET /api/sales/{id}
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Fulfillment.GetSale(r.Context(), stock.SaleID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// UpdatePaymentStatus applies a payment status change.
// PUT /api/sales/{id}/payment-status
func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req PaymentStatusRequest
	if !decode(w, r, &req) {
		return
	}
	id := stock.SaleID(chi.URLParam(r, "id"))

	var sale *stock.Sale
	err := h.retry(r, func() error {
		var err error
		sale, err = h.Fulfillment.UpdatePaymentStatus(r.Context(), id, stock.PaymentStatus(req.Status), actor)
		return err
	})
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// RecordReturn puts returned units back on the shelf.
// POST /api/sales/{id}/returns
func (h *Handler) RecordReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req ReturnRequest
	if !decode(w, r, &req) {
		return
	}
	id := stock.SaleID(chi.URLParam(r, "id"))

	var m *stock.Movement
	err := h.retry(r, func() error {
		var err error
		m, err = h.Fulfillment.RecordReturn(r.Context(), id, stock.ProductID(req.ProductID), req.Quantity, req.Notes, actor)
		return err
	})
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(*m))
}

// =============================================================================
// REPORTS
// =============================================================================

// SalesReport summarizes sales in [from, to).
// GET /api/reports/sales?from=2025-01-01&to=2025-02-01
func (h *Handler) SalesReport(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid range", err)
		return
	}
	sum, err := h.Reports.SalesSummary(r.Context(), rng)
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SalesSummaryDTO{
		From:           sum.Range.From,
		To:             sum.Range.To,
		Count:          sum.Count,
		Revenue:        sum.Revenue,
		Average:        sum.Average,
		PaidAmount:     sum.PaidAmount,
		PendingAmount:  sum.PendingAmount,
		RefundedAmount: sum.RefundedAmount,
	})
}

// FinancialReport is the income statement for [from, to).
// GET /api/reports/financial?from=&to=
func (h *Handler) FinancialReport(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid range", err)
		return
	}
	fin, err := h.Reports.FinancialSummary(r.Context(), rng)
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FinancialSummaryDTO{
		From:         fin.Range.From,
		To:           fin.Range.To,
		Income:       fin.Income,
		TaxCollected: fin.TaxCollected,
		CostOfGoods:  fin.CostOfGoods,
		Purchases:    fin.Purchases,
		Expense:      fin.Expense,
		Profit:       fin.Profit,
	})
}

// LowStockReport lists balances at or below their reorder level.
// GET /api/reports/low-stock
func (h *Handler) LowStockReport(w http.ResponseWriter, r *http.Request) {
	low, err := h.Reports.LowStock(r.Context())
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTOs(low))
}

// ReconciliationReport lists products whose balance disagrees with the ledger.
// GET /api/reports/reconciliation
func (h *Handler) ReconciliationReport(w http.ResponseWriter, r *http.Request) {
	drift, err := h.Reports.Reconcile(r.Context())
	if err != nil {
		h.writeStockError(w, r, err)
		return
	}
	dtos := make([]DriftDTO, len(drift))
	for i, d := range drift {
		dtos[i] = DriftDTO{ProductID: string(d.ProductID), OnHand: d.OnHand, LedgerSum: d.LedgerSum}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN
// =============================================================================

// ResetDatabase drops and recreates every table.
// POST /api/admin/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeStockError(w, r, err)
		return
	}
	h.Logger.Warn("database reset", zap.String("actor_id", r.Header.Get(ActorHeader)))
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) retry(r *http.Request, fn func() error) error {
	return stock.Retry(r.Context(), h.RetryAttempts, fn)
}

// writeStockError maps engine errors to HTTP status codes.
func (h *Handler) writeStockError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		short   *stock.InsufficientStockError
		done    *stock.AlreadyFulfilledError
		invalid *stock.ValidationError
	)

	switch {
	case errors.As(err, &short):
		writeError(w, http.StatusUnprocessableEntity, "Insufficient stock", err)
	case errors.Is(err, stock.ErrOverReceipt):
		writeError(w, http.StatusUnprocessableEntity, "Receipt exceeds ordered quantity", err)
	case errors.Is(err, stock.ErrOverReturn):
		writeError(w, http.StatusUnprocessableEntity, "Return exceeds sold quantity", err)
	case errors.As(err, &done):
		writeError(w, http.StatusConflict, "Already fulfilled", err)
	case errors.Is(err, stock.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "Invalid status transition", err)
	case errors.As(err, &invalid), errors.Is(err, stock.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case stock.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case stock.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "Busy, retry later", err)
	default:
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) (stock.ActorID, bool) {
	actor := r.Header.Get(ActorHeader)
	if actor == "" {
		writeError(w, http.StatusBadRequest, ActorHeader+" header is required", nil)
		return "", false
	}
	return stock.ActorID(actor), true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func productParam(r *http.Request) stock.ProductID {
	return stock.ProductID(chi.URLParam(r, "productID"))
}

// parseRange reads from/to as RFC 3339 timestamps or YYYY-MM-DD dates (UTC
// midnight). A missing from means the epoch; a missing to means now.
func parseRange(r *http.Request) (stock.Range, error) {
	var rng stock.Range
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if rng.From, err = parseTime(v); err != nil {
			return rng, fmt.Errorf("from: %w", err)
		}
	} else {
		rng.From = time.Unix(0, 0).UTC()
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if rng.To, err = parseTime(v); err != nil {
			return rng, fmt.Errorf("to: %w", err)
		}
	}
	return rng, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
