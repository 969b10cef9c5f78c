package domain

import "time"

type Product struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	CurrentStock  int       `json:"current_stock"`
	MinStock      int       `json:"min_stock"`
	PriceCents    int64     `json:"price_cents"`
	CostCents     int64     `json:"cost_cents"`
	LastRestocked time.Time `json:"last_restocked"`
}

type ProductCreateRequest struct {
	Name         string `json:"name"`
	Category     string `json:"category"`
	PriceCents   int64  `json:"price_cents"`
	CostCents    int64  `json:"cost_cents"`
	InitialStock int    `json:"initial_stock"`
	MinStock     int    `json:"min_stock"`
}

type ProductUpdateRequest struct {
	Name         *string `json:"name,omitempty"`
	Category     *string `json:"category,omitempty"`
	PriceCents   *int64  `json:"price_cents,omitempty"`
	CostCents    *int64  `json:"cost_cents,omitempty"`
	CurrentStock *int    `json:"current_stock,omitempty"`
	MinStock     *int    `json:"min_stock,omitempty"`
}

const (
	InvoiceTypeSale     = "SALE"
	InvoiceTypePurchase = "PURCHASE"
)

// InvoiceItem is a denormalized snapshot taken at commit time. Name and unit
// price are never re-resolved, so history survives later catalog edits or
// deletes.
type InvoiceItem struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	TotalCents     int64  `json:"total_cents"`
}

// Invoice is immutable once committed; no update, delete or reversal path
// exists.
type Invoice struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Date       time.Time     `json:"date"`
	Items      []InvoiceItem `json:"items"`
	TotalCents int64         `json:"total_cents"`
	Note       string        `json:"note,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

type InvoiceItemRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type InvoiceCreateRequest struct {
	Type  string               `json:"type"`
	Date  string               `json:"date,omitempty"`
	Note  string               `json:"note,omitempty"`
	Items []InvoiceItemRequest `json:"items"`
}

// InvoiceDraft is the validated, date-parsed form handed to the repository
// for atomic commit.
type InvoiceDraft struct {
	Type  string
	Date  time.Time
	Note  string
	Items []InvoiceItemRequest
}

type InvoiceListResponse struct {
	Invoices []Invoice `json:"invoices"`
}

type FinancialSummary struct {
	InventoryCostCents    int64 `json:"inventory_cost_cents"`
	PotentialRevenueCents int64 `json:"potential_revenue_cents"`
	TotalSalesCents       int64 `json:"total_sales_cents"`
	TotalPurchasesCents   int64 `json:"total_purchases_cents"`
	NetProfitCents        int64 `json:"net_profit_cents"`
	ProductCount          int   `json:"product_count"`
	LowStockCount         int   `json:"low_stock_count"`
}

type LowStockResponse struct {
	Products []Product `json:"products"`
}

type SeriesWindow string

const (
	WindowWeek  SeriesWindow = "week"
	WindowMonth SeriesWindow = "month"
	WindowYear  SeriesWindow = "year"
)

// Days maps a window to its trailing-day span; unknown windows fall back to
// a month.
func (w SeriesWindow) Days() int {
	switch w {
	case WindowWeek:
		return 7
	case WindowYear:
		return 365
	default:
		return 30
	}
}

// SeriesPoint carries a real value for historical days and a projected value
// for forecast days. The last historical point carries both so a rendered
// line stays visually continuous.
type SeriesPoint struct {
	Date      string `json:"date"`
	Value     *int64 `json:"value"`
	Projected *int64 `json:"projected"`
}

type SeriesResponse struct {
	Window SeriesWindow  `json:"window"`
	Points []SeriesPoint `json:"points"`
}

const (
	UrgencyLow    = "Low"
	UrgencyMedium = "Medium"
	UrgencyHigh   = "High"
)

type DemandPrediction struct {
	Product    string `json:"product"`
	Prediction string `json:"prediction"`
	Urgency    string `json:"urgency"`
}

type RestockRecommendation struct {
	Product string `json:"product"`
	Qty     int    `json:"qty"`
	Reason  string `json:"reason"`
}

// InsightResult is the advisory payload returned by the AI collaborator. It
// is passed through read-only and never feeds back into ledger state.
type InsightResult struct {
	Summary      string                  `json:"summary"`
	Predictions  []DemandPrediction      `json:"predictions"`
	Restocks     []RestockRecommendation `json:"restocks"`
	FinancialTip string                  `json:"financial_tip,omitempty"`
	GeneratedAt  string                  `json:"generated_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
