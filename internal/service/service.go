package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"stokku/backend/internal/cache"
	"stokku/backend/internal/domain"
	"stokku/backend/internal/forecast"
	"stokku/backend/internal/insight"
	"stokku/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// digestInvoiceCount bounds how much history is serialized for the AI
// collaborator.
const digestInvoiceCount = 15

// Service owns the ledger rules: catalog CRUD, atomic invoice commits,
// derived financial figures and the forecast/insight orchestration.
type Service struct {
	repo          store.Repository
	projector     *forecast.Engine
	insightClient insight.Client
	insightCache  cache.InsightCache
	insightTTL    time.Duration
}

func New(repo store.Repository, projector *forecast.Engine, insightClient insight.Client, insightCache cache.InsightCache, insightTTL time.Duration) *Service {
	if projector == nil {
		projector = forecast.NewEngine(nil)
	}
	if insightClient == nil {
		insightClient = insight.Disabled{}
	}
	if insightCache == nil {
		insightCache = cache.NoopInsightCache{}
	}
	if insightTTL <= 0 {
		insightTTL = 5 * time.Minute
	}

	return &Service{
		repo:          repo,
		projector:     projector,
		insightClient: insightClient,
		insightCache:  insightCache,
		insightTTL:    insightTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrValidation
	}
	if req.PriceCents < 0 || req.CostCents < 0 || req.InitialStock < 0 || req.MinStock < 0 {
		return domain.Product{}, store.ErrValidation
	}

	product := domain.Product{
		Name:         req.Name,
		Category:     req.Category,
		PriceCents:   req.PriceCents,
		CostCents:    req.CostCents,
		CurrentStock: req.InitialStock,
		MinStock:     req.MinStock,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrValidation
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, store.ErrValidation
		}
		updated.Category = category
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.CostCents != nil {
		if *req.CostCents < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.CostCents = *req.CostCents
	}
	if req.CurrentStock != nil {
		if *req.CurrentStock < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.CurrentStock = *req.CurrentStock
	}
	if req.MinStock != nil {
		if *req.MinStock < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.MinStock = *req.MinStock
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

// DeleteProduct removes a product from the catalog. Past invoices keep
// their snapshots; nothing cascades.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrValidation
	}
	return s.repo.DeleteProduct(ctx, id)
}

// RecordInvoice validates the request and hands the repository an
// all-or-nothing commit: on any validation failure neither history nor
// stock is touched.
func (s *Service) RecordInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (domain.Invoice, error) {
	invoiceType := strings.ToUpper(strings.TrimSpace(req.Type))
	if invoiceType != domain.InvoiceTypeSale && invoiceType != domain.InvoiceTypePurchase {
		return domain.Invoice{}, store.ErrValidation
	}
	if len(req.Items) == 0 {
		return domain.Invoice{}, store.ErrValidation
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Qty < 1 {
			return domain.Invoice{}, store.ErrValidation
		}
	}

	date := time.Now().UTC()
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := time.Parse(time.DateOnly, strings.TrimSpace(req.Date))
		if err != nil {
			return domain.Invoice{}, store.ErrValidation
		}
		date = parsed
	}

	committed, err := s.repo.CreateInvoice(ctx, domain.InvoiceDraft{
		Type:  invoiceType,
		Date:  date,
		Note:  req.Note,
		Items: req.Items,
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	return *committed, nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	invoice, err := s.repo.GetInvoiceByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) ListInvoices(ctx context.Context, limit int) (domain.InvoiceListResponse, error) {
	invoices, err := s.repo.ListInvoices(ctx, limit)
	if err != nil {
		return domain.InvoiceListResponse{}, err
	}
	return domain.InvoiceListResponse{Invoices: invoices}, nil
}

// FinancialSummary recomputes every aggregate from current state on each
// call; nothing is cached.
func (s *Service) FinancialSummary(ctx context.Context) (domain.FinancialSummary, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.FinancialSummary{}, err
	}
	invoices, err := s.repo.ListInvoices(ctx, 0)
	if err != nil {
		return domain.FinancialSummary{}, err
	}

	summary := domain.FinancialSummary{ProductCount: len(products)}
	for _, p := range products {
		summary.InventoryCostCents += int64(p.CurrentStock) * p.CostCents
		summary.PotentialRevenueCents += int64(p.CurrentStock) * p.PriceCents
		if p.CurrentStock <= p.MinStock {
			summary.LowStockCount++
		}
	}
	for _, invoice := range invoices {
		switch invoice.Type {
		case domain.InvoiceTypeSale:
			summary.TotalSalesCents += invoice.TotalCents
		case domain.InvoiceTypePurchase:
			summary.TotalPurchasesCents += invoice.TotalCents
		}
	}
	summary.NetProfitCents = summary.TotalSalesCents - summary.TotalPurchasesCents
	return summary, nil
}

// LowStockProducts filters the catalog in order, keeping products at or
// below their reorder threshold.
func (s *Service) LowStockProducts(ctx context.Context) (domain.LowStockResponse, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.LowStockResponse{}, err
	}

	low := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if p.CurrentStock <= p.MinStock {
			low = append(low, p)
		}
	}
	return domain.LowStockResponse{Products: low}, nil
}

func (s *Service) FinancialSeries(ctx context.Context, invoiceType string, window domain.SeriesWindow) (domain.SeriesResponse, error) {
	invoiceType = strings.ToUpper(strings.TrimSpace(invoiceType))
	if invoiceType != domain.InvoiceTypeSale && invoiceType != domain.InvoiceTypePurchase {
		return domain.SeriesResponse{}, store.ErrValidation
	}

	now := time.Now().UTC()
	invoices, err := s.repo.ListInvoicesSince(ctx, now.AddDate(0, 0, -window.Days()))
	if err != nil {
		return domain.SeriesResponse{}, err
	}

	return domain.SeriesResponse{
		Window: window,
		Points: s.projector.FinancialSeries(invoices, invoiceType, window, now),
	}, nil
}

func (s *Service) ProductSeries(ctx context.Context, productID string, window domain.SeriesWindow) (domain.SeriesResponse, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.SeriesResponse{}, store.ErrValidation
	}
	if _, err := s.repo.GetProductByID(ctx, productID); err != nil {
		return domain.SeriesResponse{}, err
	}

	now := time.Now().UTC()
	invoices, err := s.repo.ListInvoicesSince(ctx, now.AddDate(0, 0, -window.Days()))
	if err != nil {
		return domain.SeriesResponse{}, err
	}

	return domain.SeriesResponse{
		Window: window,
		Points: s.projector.ProductSeries(invoices, productID, window, now),
	}, nil
}

// GenerateInsight serializes the catalog and recent history into a compact
// digest and asks the AI collaborator for an advisory forecast. A matching
// cached result is served when ledger state has not changed; failures are
// never cached so the caller can retry immediately.
func (s *Service) GenerateInsight(ctx context.Context) (domain.InsightResult, error) {
	digest, err := s.buildDigest(ctx)
	if err != nil {
		return domain.InsightResult{}, err
	}

	key := insightCacheKey(digest)
	if cached, ok, cacheErr := s.insightCache.Get(ctx, key); cacheErr == nil && ok {
		return *cached, nil
	} else if cacheErr != nil {
		log.Printf("[service] WARN: insight cache get failed: %v", cacheErr)
	}

	result, err := s.insightClient.Generate(ctx, digest)
	if err != nil {
		return domain.InsightResult{}, err
	}

	if err := s.insightCache.Set(ctx, key, result, s.insightTTL); err != nil {
		log.Printf("[service] WARN: insight cache set failed: %v", err)
	}
	return *result, nil
}

// buildDigest renders products and the most recent invoices as the compact
// text form the collaborator is prompted against.
func (s *Service) buildDigest(ctx context.Context) (string, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return "", err
	}
	invoices, err := s.repo.ListInvoices(ctx, digestInvoiceCount)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("PRODUCTS:\n")
	for _, p := range products {
		fmt.Fprintf(&b, "- %s | stock=%d min=%d price=%s cost=%s\n",
			p.Name, p.CurrentStock, p.MinStock, formatCents(p.PriceCents), formatCents(p.CostCents))
	}
	b.WriteString("RECENT INVOICES:\n")
	for _, invoice := range invoices {
		lines := make([]string, 0, len(invoice.Items))
		for _, item := range invoice.Items {
			lines = append(lines, fmt.Sprintf("%d x %s", item.Qty, item.ProductName))
		}
		fmt.Fprintf(&b, "- %s %s total=%s items: %s\n",
			invoice.Date.Format(time.DateOnly), invoice.Type, formatCents(invoice.TotalCents), strings.Join(lines, "; "))
	}
	return b.String(), nil
}

func insightCacheKey(digest string) string {
	sum := sha1.Sum([]byte(digest))
	return "insight:" + hex.EncodeToString(sum[:])
}

func formatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}
