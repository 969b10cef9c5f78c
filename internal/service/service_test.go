package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"stokku/backend/internal/cache"
	"stokku/backend/internal/domain"
	"stokku/backend/internal/forecast"
	"stokku/backend/internal/insight"
	"stokku/backend/internal/store"
	"stokku/backend/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.New(), forecast.NewEngine(constSource{}), insight.Disabled{}, cache.NoopInsightCache{}, time.Minute)
}

type constSource struct{}

func (constSource) Float64() float64 { return 0.5 }

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "staff", Role: "staff"})
}

func mustCreateProduct(t *testing.T, svc *Service, req domain.ProductCreateRequest) domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(adminCtx(), req)
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	return product
}

func widgetRequest() domain.ProductCreateRequest {
	return domain.ProductCreateRequest{
		Name:         "Test Widget",
		Category:     "widgets",
		PriceCents:   1200,
		CostCents:    800,
		InitialStock: 12,
		MinStock:     20,
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(staffCtx(), widgetRequest())
	if err == nil || !strings.Contains(err.Error(), "admin role required") {
		t.Fatalf("expected admin requirement, got %v", err)
	}
	if _, err := svc.CreateProduct(context.Background(), widgetRequest()); err == nil {
		t.Fatal("expected error without actor in context")
	}
}

func TestCreateProductValidation(t *testing.T) {
	svc := newTestService()

	cases := []domain.ProductCreateRequest{
		{Name: "", Category: "widgets"},
		{Name: "Widget", Category: "  "},
		{Name: "Widget", Category: "widgets", PriceCents: -1},
		{Name: "Widget", Category: "widgets", InitialStock: -5},
	}
	for i, req := range cases {
		if _, err := svc.CreateProduct(adminCtx(), req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestSaleReducesStockAndKeepsLowStockFlag(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, widgetRequest())

	invoice, err := svc.RecordInvoice(staffCtx(), domain.InvoiceCreateRequest{
		Type:  "sale",
		Items: []domain.InvoiceItemRequest{{ProductID: product.ID, Qty: 5}},
	})
	if err != nil {
		t.Fatalf("RecordInvoice: %v", err)
	}
	if invoice.Type != domain.InvoiceTypeSale {
		t.Fatalf("expected type normalized to SALE, got %q", invoice.Type)
	}
	if invoice.TotalCents != 6000 {
		t.Fatalf("expected total 6000, got %d", invoice.TotalCents)
	}

	got, err := svc.GetProduct(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.CurrentStock != 7 {
		t.Fatalf("expected stock 7, got %d", got.CurrentStock)
	}

	low, err := svc.LowStockProducts(context.Background())
	if err != nil {
		t.Fatalf("LowStockProducts: %v", err)
	}
	if len(low.Products) != 1 || low.Products[0].ID != product.ID {
		t.Fatalf("expected product still under its minimum, got %+v", low.Products)
	}
}

func TestPurchaseRestocksAboveMinimum(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, widgetRequest())

	_, err := svc.RecordInvoice(staffCtx(), domain.InvoiceCreateRequest{
		Type:  domain.InvoiceTypePurchase,
		Date:  "2026-08-20",
		Items: []domain.InvoiceItemRequest{{ProductID: product.ID, Qty: 30}},
	})
	if err != nil {
		t.Fatalf("RecordInvoice: %v", err)
	}

	got, err := svc.GetProduct(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.CurrentStock != 42 {
		t.Fatalf("expected stock 42, got %d", got.CurrentStock)
	}
	if got.LastRestocked.IsZero() {
		t.Fatal("expected lastRestocked to be set")
	}

	low, err := svc.LowStockProducts(context.Background())
	if err != nil {
		t.Fatalf("LowStockProducts: %v", err)
	}
	if len(low.Products) != 0 {
		t.Fatalf("expected no low-stock products after restock, got %d", len(low.Products))
	}
}

func TestRecordInvoiceRejectsBadInput(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, widgetRequest())

	cases := []domain.InvoiceCreateRequest{
		{Type: "REFUND", Items: []domain.InvoiceItemRequest{{ProductID: product.ID, Qty: 1}}},
		{Type: "SALE"},
		{Type: "SALE", Items: []domain.InvoiceItemRequest{{ProductID: product.ID, Qty: 0}}},
		{Type: "SALE", Items: []domain.InvoiceItemRequest{{ProductID: " ", Qty: 1}}},
		{Type: "SALE", Date: "20-08-2026", Items: []domain.InvoiceItemRequest{{ProductID: product.ID, Qty: 1}}},
	}
	for i, req := range cases {
		if _, err := svc.RecordInvoice(staffCtx(), req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestRejectedInvoiceLeavesSummaryUnchanged(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, widgetRequest())

	before, err := svc.FinancialSummary(context.Background())
	if err != nil {
		t.Fatalf("FinancialSummary: %v", err)
	}

	_, err = svc.RecordInvoice(staffCtx(), domain.InvoiceCreateRequest{
		Type: "SALE",
		Items: []domain.InvoiceItemRequest{
			{ProductID: product.ID, Qty: 2},
			{ProductID: "prd-missing", Qty: 1},
		},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	after, err := svc.FinancialSummary(context.Background())
	if err != nil {
		t.Fatalf("FinancialSummary: %v", err)
	}
	if before != after {
		t.Fatalf("expected summary unchanged, before %+v after %+v", before, after)
	}
}

func TestFinancialSummaryAggregates(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, widgetRequest())

	// One sale of 5000 cents, one purchase of 2000 cents.
	cheap := mustCreateProduct(t, svc, domain.ProductCreateRequest{
		Name: "Gadget", Category: "gadgets", PriceCents: 1000, CostCents: 400, InitialStock: 5, MinStock: 1,
	})
	if _, err := svc.RecordInvoice(staffCtx(), domain.InvoiceCreateRequest{
		Type:  "SALE",
		Items: []domain.InvoiceItemRequest{{ProductID: cheap.ID, Qty: 5}},
	}); err != nil {
		t.Fatalf("RecordInvoice sale: %v", err)
	}
	if _, err := svc.RecordInvoice(staffCtx(), domain.InvoiceCreateRequest{
		Type:  "PURCHASE",
		Items: []domain.InvoiceItemRequest{{ProductID: cheap.ID, Qty: 5}},
	}); err != nil {
		t.Fatalf("RecordInvoice purchase: %v", err)
	}

	summary, err := svc.FinancialSummary(context.Background())
	if err != nil {
		t.Fatalf("FinancialSummary: %v", err)
	}

	if summary.TotalSalesCents != 5000 {
		t.Fatalf("expected sales 5000, got %d", summary.TotalSalesCents)
	}
	if summary.TotalPurchasesCents != 2000 {
		t.Fatalf("expected purchases 2000, got %d", summary.TotalPurchasesCents)
	}
	if summary.NetProfitCents != 3000 {
		t.Fatalf("expected net profit 3000, got %d", summary.NetProfitCents)
	}
	if summary.ProductCount != 2 {
		t.Fatalf("expected 2 products, got %d", summary.ProductCount)
	}
	// Widget (12) below min (20); Gadget back at 5 after sell-out and restock.
	if summary.LowStockCount != 1 {
		t.Fatalf("expected 1 low-stock product, got %d", summary.LowStockCount)
	}

	wantInventory := int64(12)*product.CostCents + int64(5)*cheap.CostCents
	if summary.InventoryCostCents != wantInventory {
		t.Fatalf("expected inventory cost %d, got %d", wantInventory, summary.InventoryCostCents)
	}
	wantRevenue := int64(12)*product.PriceCents + int64(5)*cheap.PriceCents
	if summary.PotentialRevenueCents != wantRevenue {
		t.Fatalf("expected potential revenue %d, got %d", wantRevenue, summary.PotentialRevenueCents)
	}
}

func TestFinancialSummaryScalesLinearly(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, domain.ProductCreateRequest{
		Name: "Gadget", Category: "gadgets", PriceCents: 1000, CostCents: 400, InitialStock: 100, MinStock: 1,
	})

	sell := func(qty int) {
		if _, err := svc.RecordInvoice(staffCtx(), domain.InvoiceCreateRequest{
			Type:  "SALE",
			Items: []domain.InvoiceItemRequest{{ProductID: product.ID, Qty: qty}},
		}); err != nil {
			t.Fatalf("RecordInvoice: %v", err)
		}
	}

	sell(3)
	first, err := svc.FinancialSummary(context.Background())
	if err != nil {
		t.Fatalf("FinancialSummary: %v", err)
	}
	sell(3)
	second, err := svc.FinancialSummary(context.Background())
	if err != nil {
		t.Fatalf("FinancialSummary: %v", err)
	}

	if second.TotalSalesCents != 2*first.TotalSalesCents {
		t.Fatalf("expected sales to double, got %d then %d", first.TotalSalesCents, second.TotalSalesCents)
	}
}

func TestUpdateProductPartialFields(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, widgetRequest())

	newPrice := int64(1500)
	updated, err := svc.UpdateProduct(adminCtx(), product.ID, domain.ProductUpdateRequest{PriceCents: &newPrice})
	if err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	if updated.PriceCents != 1500 {
		t.Fatalf("expected updated price 1500, got %d", updated.PriceCents)
	}
	if updated.Name != product.Name || updated.CurrentStock != product.CurrentStock {
		t.Fatalf("expected untouched fields preserved, got %+v", updated)
	}

	bad := int64(-1)
	if _, err := svc.UpdateProduct(adminCtx(), product.ID, domain.ProductUpdateRequest{PriceCents: &bad}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for negative price, got %v", err)
	}
}

func TestDeleteProductKeepsInvoiceSnapshot(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, widgetRequest())

	invoice, err := svc.RecordInvoice(staffCtx(), domain.InvoiceCreateRequest{
		Type:  "SALE",
		Items: []domain.InvoiceItemRequest{{ProductID: product.ID, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("RecordInvoice: %v", err)
	}

	if err := svc.DeleteProduct(adminCtx(), product.ID); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	if _, err := svc.GetProduct(context.Background(), product.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	got, err := svc.GetInvoice(context.Background(), invoice.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if got.Items[0].ProductName != "Test Widget" || got.Items[0].UnitPriceCents != 1200 {
		t.Fatalf("expected snapshot intact, got %+v", got.Items[0])
	}
}

func TestFinancialSeriesValidatesType(t *testing.T) {
	svc := newTestService()

	if _, err := svc.FinancialSeries(context.Background(), "REFUND", domain.WindowWeek); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestFinancialSeriesProjectsRecentSales(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, domain.ProductCreateRequest{
		Name: "Gadget", Category: "gadgets", PriceCents: 1000, CostCents: 400, InitialStock: 100, MinStock: 1,
	})

	today := time.Now().UTC()
	for _, daysAgo := range []int{3, 1} {
		if _, err := svc.RecordInvoice(staffCtx(), domain.InvoiceCreateRequest{
			Type:  "SALE",
			Date:  today.AddDate(0, 0, -daysAgo).Format(time.DateOnly),
			Items: []domain.InvoiceItemRequest{{ProductID: product.ID, Qty: 2}},
		}); err != nil {
			t.Fatalf("RecordInvoice: %v", err)
		}
	}

	resp, err := svc.FinancialSeries(context.Background(), "sale", domain.WindowWeek)
	if err != nil {
		t.Fatalf("FinancialSeries: %v", err)
	}
	if resp.Window != domain.WindowWeek {
		t.Fatalf("expected window echoed back, got %q", resp.Window)
	}
	if len(resp.Points) != 7 {
		t.Fatalf("expected 2 historical + 5 projected points, got %d", len(resp.Points))
	}
}

func TestProductSeriesUnknownProduct(t *testing.T) {
	svc := newTestService()

	if _, err := svc.ProductSeries(context.Background(), "prd-unknown", domain.WindowMonth); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProductSeriesProjectsFromOnePoint(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, domain.ProductCreateRequest{
		Name: "Gadget", Category: "gadgets", PriceCents: 1000, CostCents: 400, InitialStock: 100, MinStock: 1,
	})

	if _, err := svc.RecordInvoice(staffCtx(), domain.InvoiceCreateRequest{
		Type:  "SALE",
		Items: []domain.InvoiceItemRequest{{ProductID: product.ID, Qty: 3}},
	}); err != nil {
		t.Fatalf("RecordInvoice: %v", err)
	}

	resp, err := svc.ProductSeries(context.Background(), product.ID, domain.WindowWeek)
	if err != nil {
		t.Fatalf("ProductSeries: %v", err)
	}
	if len(resp.Points) != 5 {
		t.Fatalf("expected 1 historical + 4 projected points, got %d", len(resp.Points))
	}
}

type insightClientStub struct {
	calls  int
	result *domain.InsightResult
	err    error
}

func (s *insightClientStub) Generate(_ context.Context, _ string) (*domain.InsightResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type mapCache struct {
	values map[string]*domain.InsightResult
}

func (c *mapCache) Get(_ context.Context, key string) (*domain.InsightResult, bool, error) {
	value, ok := c.values[key]
	return value, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value *domain.InsightResult, _ time.Duration) error {
	c.values[key] = value
	return nil
}

func TestGenerateInsightCachesSuccess(t *testing.T) {
	repo := memory.New()
	stub := &insightClientStub{result: &domain.InsightResult{Summary: "all good"}}
	cacheStore := &mapCache{values: map[string]*domain.InsightResult{}}
	svc := New(repo, forecast.NewEngine(constSource{}), stub, cacheStore, time.Minute)

	first, err := svc.GenerateInsight(context.Background())
	if err != nil {
		t.Fatalf("GenerateInsight: %v", err)
	}
	second, err := svc.GenerateInsight(context.Background())
	if err != nil {
		t.Fatalf("GenerateInsight: %v", err)
	}

	if first.Summary != "all good" || second.Summary != "all good" {
		t.Fatalf("unexpected summaries %q / %q", first.Summary, second.Summary)
	}
	if stub.calls != 1 {
		t.Fatalf("expected one upstream call with unchanged ledger, got %d", stub.calls)
	}
}

func TestGenerateInsightFailureNotCached(t *testing.T) {
	repo := memory.New()
	stub := &insightClientStub{err: fmt.Errorf("%w: upstream down", insight.ErrUnavailable)}
	cacheStore := &mapCache{values: map[string]*domain.InsightResult{}}
	svc := New(repo, forecast.NewEngine(constSource{}), stub, cacheStore, time.Minute)

	if _, err := svc.GenerateInsight(context.Background()); !errors.Is(err, insight.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(cacheStore.values) != 0 {
		t.Fatal("failures must not be cached")
	}

	// Once the upstream recovers, the same request succeeds.
	stub.err = nil
	stub.result = &domain.InsightResult{Summary: "recovered"}
	result, err := svc.GenerateInsight(context.Background())
	if err != nil {
		t.Fatalf("GenerateInsight after recovery: %v", err)
	}
	if result.Summary != "recovered" {
		t.Fatalf("unexpected summary %q", result.Summary)
	}
}

func TestGenerateInsightCacheMissOnLedgerChange(t *testing.T) {
	repo := memory.New()
	stub := &insightClientStub{result: &domain.InsightResult{Summary: "v1"}}
	cacheStore := &mapCache{values: map[string]*domain.InsightResult{}}
	svc := New(repo, forecast.NewEngine(constSource{}), stub, cacheStore, time.Minute)

	if _, err := svc.GenerateInsight(context.Background()); err != nil {
		t.Fatalf("GenerateInsight: %v", err)
	}
	mustCreateProduct(t, svc, widgetRequest())
	if _, err := svc.GenerateInsight(context.Background()); err != nil {
		t.Fatalf("GenerateInsight: %v", err)
	}

	if stub.calls != 2 {
		t.Fatalf("expected changed ledger to bypass cache, got %d calls", stub.calls)
	}
}
