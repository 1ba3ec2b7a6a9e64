/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the stock engine's types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  All amounts are decimal.Decimal, which marshals as a JSON string
  ("12.50") so clients never round through float64.

TIMES:
  RFC 3339 in UTC.

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data
  carriers; handlers only reject bodies that fail to decode.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// CATALOG AND CHECKOUT (collaborator feeds)
// =============================================================================

type ProductDTO struct {
	ID     string          `json:"id"`
	SKU    string          `json:"sku"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Cost   decimal.Decimal `json:"cost"`
	Active bool            `json:"active"`
}

// SaveOrderRequest is a checkout order pushed by the order subsystem.
type SaveOrderRequest struct {
	ID            string             `json:"id"`
	CustomerID    string             `json:"customer_id,omitempty"`
	CustomerName  string             `json:"customer_name,omitempty"`
	PaymentMethod string             `json:"payment_method"`
	PaymentStatus string             `json:"payment_status,omitempty"`
	Items         []OrderItemRequest `json:"items"`
}

type OrderItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// =============================================================================
// BALANCES AND LEDGER
// =============================================================================

type BalanceDTO struct {
	ProductID       string    `json:"product_id"`
	OnHand          int64     `json:"on_hand"`
	Reserved        int64     `json:"reserved"`
	Available       int64     `json:"available"`
	ReorderLevel    int64     `json:"reorder_level"`
	ReorderQuantity int64     `json:"reorder_quantity"`
	NeedsReorder    bool      `json:"needs_reorder"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type MovementDTO struct {
	ID             int64           `json:"id"`
	ProductID      string          `json:"product_id"`
	Direction      string          `json:"direction"`
	Quantity       int64           `json:"quantity"`
	QuantityBefore int64           `json:"quantity_before"`
	QuantityAfter  int64           `json:"quantity_after"`
	ReferenceType  string          `json:"reference_type"`
	ReferenceID    string          `json:"reference_id,omitempty"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	Notes          string          `json:"notes,omitempty"`
	ActorID        string          `json:"actor_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AdjustmentRequest posts one manual movement. ReferenceType may only be
// "adjustment", which is also the default.
type AdjustmentRequest struct {
	ProductID     string           `json:"product_id"`
	Direction     string           `json:"direction"`
	Quantity      int64            `json:"quantity"`
	ReferenceType string           `json:"reference_type,omitempty"`
	ReferenceID   string           `json:"reference_id,omitempty"`
	UnitCost      *decimal.Decimal `json:"unit_cost,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

type StockTakeRequest struct {
	Quantity int64  `json:"quantity"`
	Notes    string `json:"notes,omitempty"`
}

type OnHandDTO struct {
	ProductID string `json:"product_id"`
	OnHand    int64  `json:"on_hand"`
}

type QuantityRequest struct {
	Quantity int64 `json:"quantity"`
}

type ReorderPolicyRequest struct {
	ReorderLevel    int64 `json:"reorder_level"`
	ReorderQuantity int64 `json:"reorder_quantity"`
}

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

type CreatePurchaseOrderRequest struct {
	SupplierID       string                     `json:"supplier_id"`
	OrderDate        *time.Time                 `json:"order_date,omitempty"`
	ExpectedDelivery *time.Time                 `json:"expected_delivery,omitempty"`
	Notes            string                     `json:"notes,omitempty"`
	Items            []PurchaseOrderItemRequest `json:"items"`
}

type PurchaseOrderItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type ReceiveRequest struct {
	Items []ReceiptLineRequest `json:"items"`
}

type ReceiptLineRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

type PurchaseOrderDTO struct {
	ID               string                 `json:"id"`
	OrderNumber      string                 `json:"order_number"`
	SupplierID       string                 `json:"supplier_id"`
	Status           string                 `json:"status"`
	OrderDate        time.Time              `json:"order_date"`
	ExpectedDelivery *time.Time             `json:"expected_delivery,omitempty"`
	ReceivedDate     *time.Time             `json:"received_date,omitempty"`
	TotalAmount      decimal.Decimal        `json:"total_amount"`
	Notes            string                 `json:"notes,omitempty"`
	CreatedBy        string                 `json:"created_by"`
	Items            []PurchaseOrderItemDTO `json:"items"`
}

type PurchaseOrderItemDTO struct {
	ID               string          `json:"id"`
	Line             int             `json:"line"`
	ProductID        string          `json:"product_id"`
	QuantityOrdered  int64           `json:"quantity_ordered"`
	ReceivedQuantity int64           `json:"received_quantity"`
	Remaining        int64           `json:"remaining"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
}

// =============================================================================
// SALES
// =============================================================================

type DirectSaleRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	CustomerID     string            `json:"customer_id,omitempty"`
	CustomerName   string            `json:"customer_name,omitempty"`
	PaymentMethod  string            `json:"payment_method"`
	Items          []SaleLineRequest `json:"items"`
}

// SaleLineRequest omits unit_price to sell at the catalog price.
type SaleLineRequest struct {
	ProductID string           `json:"product_id"`
	Quantity  int64            `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type SaleDTO struct {
	ID             string          `json:"id"`
	SaleNumber     string          `json:"sale_number"`
	OrderID        string          `json:"order_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CustomerID     string          `json:"customer_id,omitempty"`
	CustomerName   string          `json:"customer_name,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaymentMethod  string          `json:"payment_method"`
	PaymentStatus  string          `json:"payment_status"`
	SaleDate       time.Time       `json:"sale_date"`
	CreatedBy      string          `json:"created_by"`
	Items          []SaleItemDTO   `json:"items,omitempty"`
}

type SaleItemDTO struct {
	Line      int             `json:"line"`
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type PaymentStatusRequest struct {
	Status string `json:"status"`
}

type ReturnRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Notes     string `json:"notes,omitempty"`
}

// =============================================================================
// REPORTS
// =============================================================================

type SalesSummaryDTO struct {
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	Count          int             `json:"count"`
	Revenue        decimal.Decimal `json:"revenue"`
	Average        decimal.Decimal `json:"average"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	PendingAmount  decimal.Decimal `json:"pending_amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
}

type FinancialSummaryDTO struct {
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	Income       decimal.Decimal `json:"income"`
	TaxCollected decimal.Decimal `json:"tax_collected"`
	CostOfGoods  decimal.Decimal `json:"cost_of_goods"`
	Purchases    decimal.Decimal `json:"purchases"`
	Expense      decimal.Decimal `json:"expense"`
	Profit       decimal.Decimal `json:"profit"`
}

type DriftDTO struct {
	ProductID string `json:"product_id"`
	OnHand    int64  `json:"on_hand"`
	LedgerSum int64  `json:"ledger_sum"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBalanceDTO(b stock.InventoryBalance) BalanceDTO {
	return BalanceDTO{
		ProductID:       string(b.ProductID),
		OnHand:          b.OnHand,
		Reserved:        b.Reserved,
		Available:       b.Available(),
		ReorderLevel:    b.ReorderLevel,
		ReorderQuantity: b.ReorderQuantity,
		NeedsReorder:    b.NeedsReorder(),
		UpdatedAt:       b.UpdatedAt.UTC(),
	}
}

func toBalanceDTOs(in []stock.InventoryBalance) []BalanceDTO {
	out := make([]BalanceDTO, len(in))
	for i, b := range in {
		out[i] = toBalanceDTO(b)
	}
	return out
}

func toMovementDTO(m stock.Movement) MovementDTO {
	return MovementDTO{
		ID:             int64(m.ID),
		ProductID:      string(m.ProductID),
		Direction:      m.Direction.String(),
		Quantity:       m.Quantity,
		QuantityBefore: m.QuantityBefore,
		QuantityAfter:  m.QuantityAfter,
		ReferenceType:  m.ReferenceType.String(),
		ReferenceID:    m.ReferenceID,
		UnitCost:       m.UnitCost,
		Notes:          m.Notes,
		ActorID:        string(m.ActorID),
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

func toProductDTO(p stock.Product) ProductDTO {
	return ProductDTO{
		ID:     string(p.ID),
		SKU:    p.SKU,
		Name:   p.Name,
		Price:  p.Price,
		Cost:   p.Cost,
		Active: p.Active,
	}
}

func toPurchaseOrderDTO(po *stock.PurchaseOrder) PurchaseOrderDTO {
	dto := PurchaseOrderDTO{
		ID:               string(po.ID),
		OrderNumber:      po.OrderNumber,
		SupplierID:       string(po.SupplierID),
		Status:           string(po.Status),
		OrderDate:        po.OrderDate.UTC(),
		ExpectedDelivery: po.ExpectedDelivery,
		ReceivedDate:     po.ReceivedDate,
		TotalAmount:      po.TotalAmount,
		Notes:            po.Notes,
		CreatedBy:        string(po.CreatedBy),
		Items:            make([]PurchaseOrderItemDTO, len(po.Items)),
	}
	for i, item := range po.Items {
		dto.Items[i] = PurchaseOrderItemDTO{
			ID:               string(item.ID),
			Line:             item.Line,
			ProductID:        string(item.ProductID),
			QuantityOrdered:  item.QuantityOrdered,
			ReceivedQuantity: item.ReceivedQuantity,
			Remaining:        item.Remaining(),
			UnitCost:         item.UnitCost,
		}
	}
	return dto
}

func toSaleDTO(s *stock.Sale) SaleDTO {
	dto := SaleDTO{
		ID:            string(s.ID),
		SaleNumber:    s.SaleNumber,
		CustomerName:  s.CustomerName,
		Subtotal:      s.Subtotal,
		TaxAmount:     s.TaxAmount,
		TotalAmount:   s.TotalAmount,
		PaymentMethod: s.PaymentMethod,
		PaymentStatus: string(s.PaymentStatus),
		SaleDate:      s.SaleDate.UTC(),
		CreatedBy:     string(s.CreatedBy),
	}
	if s.OrderID != nil {
		dto.OrderID = string(*s.OrderID)
	}
	if s.IdempotencyKey != nil {
		dto.IdempotencyKey = *s.IdempotencyKey
	}
	if s.CustomerID != nil {
		dto.CustomerID = string(*s.CustomerID)
	}
	for _, item := range s.Items {
		dto.Items = append(dto.Items, SaleItemDTO{
			Line:      item.Line,
			ProductID: string(item.ProductID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}
	return dto
}
