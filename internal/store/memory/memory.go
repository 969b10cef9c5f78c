package memory

import (
	"context"
	"log"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"stokku/backend/internal/domain"
	"stokku/backend/internal/store"
	"stokku/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	catalogOrder    []string
	invoices        []domain.Invoice
	invoiceIndex    map[string]int
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. These credentials
// are never used in production (the backend uses PostgreSQL when
// DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store with seed user accounts only.
func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		catalogOrder:    make([]string, 0, 32),
		invoices:        make([]domain.Invoice, 0, 128),
		invoiceIndex:    make(map[string]int),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded returns a store preloaded with a demo catalog and a synthetic
// invoice history spread over the trailing 30 days. History is generated
// deterministically and applied through the normal commit path, so stock
// counts and lastRestocked dates stay consistent with the invoices.
func NewSeeded() *Store {
	s := New()

	today := dateOnly(time.Now().UTC())
	products := []domain.Product{
		{ID: "prd-laptop-01", Name: "ProBook Laptop 14", Category: "computers", CurrentStock: 18, MinStock: 6, PriceCents: 1299900, CostCents: 899900},
		{ID: "prd-monitor-01", Name: "UltraSharp Monitor 27", Category: "displays", CurrentStock: 24, MinStock: 8, PriceCents: 449900, CostCents: 299900},
		{ID: "prd-keyboard-01", Name: "Mechanical Keyboard", Category: "accessories", CurrentStock: 60, MinStock: 20, PriceCents: 89900, CostCents: 48900},
		{ID: "prd-mouse-01", Name: "Wireless Mouse", Category: "accessories", CurrentStock: 85, MinStock: 30, PriceCents: 34900, CostCents: 16900},
		{ID: "prd-headset-01", Name: "Noise-Cancel Headset", Category: "audio", CurrentStock: 40, MinStock: 15, PriceCents: 159900, CostCents: 92900},
		{ID: "prd-webcam-01", Name: "HD Webcam", Category: "accessories", CurrentStock: 35, MinStock: 12, PriceCents: 69900, CostCents: 38900},
		{ID: "prd-hub-01", Name: "USB-C Hub 7-in-1", Category: "accessories", CurrentStock: 50, MinStock: 18, PriceCents: 54900, CostCents: 27900},
		{ID: "prd-ssd-01", Name: "Portable SSD 1TB", Category: "storage", CurrentStock: 45, MinStock: 15, PriceCents: 119900, CostCents: 74900},
		{ID: "prd-router-01", Name: "WiFi 6 Router", Category: "networking", CurrentStock: 28, MinStock: 10, PriceCents: 179900, CostCents: 109900},
		{ID: "prd-powerbank-01", Name: "Power Bank 20000mAh", Category: "accessories", CurrentStock: 70, MinStock: 25, PriceCents: 44900, CostCents: 22900},
	}
	for _, p := range products {
		p.LastRestocked = today.AddDate(0, 0, -30)
		s.products[p.ID] = p
		s.catalogOrder = append(s.catalogOrder, p.ID)
	}

	// Fixed PCG seed keeps the demo dataset reproducible across restarts.
	rng := rand.New(rand.NewPCG(7, 2024))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < 42; i++ {
		p := products[rng.IntN(len(products))]
		draft := domain.InvoiceDraft{
			Type: domain.InvoiceTypeSale,
			Date: today.AddDate(0, 0, -rng.IntN(30)),
			Items: []domain.InvoiceItemRequest{
				{ProductID: p.ID, Qty: 1 + rng.IntN(4)},
			},
		}
		if rng.IntN(4) == 0 {
			draft.Type = domain.InvoiceTypePurchase
			draft.Items[0].Qty = 5 + rng.IntN(15)
		}
		if _, err := s.createInvoiceLocked(draft); err != nil {
			log.Printf("[memory-store] WARN: seed invoice skipped: %v", err)
		}
	}

	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.catalogOrder))
	for _, id := range s.catalogOrder {
		if p, ok := s.products[id]; ok {
			products = append(products, p)
		}
	}
	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrValidation
	}

	s.products[product.ID] = product
	s.catalogOrder = append(s.catalogOrder, product.ID)
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		return nil, store.ErrValidation
	}
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

// DeleteProduct removes a product from the catalog only. Committed invoices
// keep their denormalized name and price snapshots untouched.
func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.products, id)
	s.catalogOrder = slices.DeleteFunc(s.catalogOrder, func(candidate string) bool {
		return candidate == id
	})
	return nil
}

func (s *Store) CreateInvoice(_ context.Context, draft domain.InvoiceDraft) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createInvoiceLocked(draft)
}

// createInvoiceLocked validates the whole draft before touching any state so
// a rejected invoice leaves both history and stock unchanged.
func (s *Store) createInvoiceLocked(draft domain.InvoiceDraft) (*domain.Invoice, error) {
	if draft.Type != domain.InvoiceTypeSale && draft.Type != domain.InvoiceTypePurchase {
		return nil, store.ErrValidation
	}
	if len(draft.Items) == 0 {
		return nil, store.ErrValidation
	}

	items := make([]domain.InvoiceItem, 0, len(draft.Items))
	totalCents := int64(0)
	for _, item := range draft.Items {
		if item.Qty < 1 {
			return nil, store.ErrValidation
		}
		product, exists := s.products[item.ProductID]
		if !exists {
			return nil, store.ErrValidation
		}

		unitCents := product.PriceCents
		if draft.Type == domain.InvoiceTypePurchase {
			unitCents = product.CostCents
		}
		lineTotal := int64(item.Qty) * unitCents
		items = append(items, domain.InvoiceItem{
			ProductID:      item.ProductID,
			ProductName:    product.Name,
			Qty:            item.Qty,
			UnitPriceCents: unitCents,
			TotalCents:     lineTotal,
		})
		totalCents += lineTotal
	}

	date := dateOnly(draft.Date)
	if draft.Date.IsZero() {
		date = dateOnly(time.Now().UTC())
	}

	invoice := domain.Invoice{
		ID:         xid.New("inv"),
		Type:       draft.Type,
		Date:       date,
		Items:      items,
		TotalCents: totalCents,
		Note:       strings.TrimSpace(draft.Note),
		CreatedAt:  time.Now().UTC(),
	}

	s.invoices = append(s.invoices, invoice)
	s.invoiceIndex[invoice.ID] = len(s.invoices) - 1

	for _, item := range items {
		product := s.products[item.ProductID]
		switch invoice.Type {
		case domain.InvoiceTypeSale:
			// Oversell is clamped, not rejected.
			product.CurrentStock -= item.Qty
			if product.CurrentStock < 0 {
				product.CurrentStock = 0
			}
		case domain.InvoiceTypePurchase:
			product.CurrentStock += item.Qty
			product.LastRestocked = date
		}
		s.products[item.ProductID] = product
	}

	committed := cloneInvoice(invoice)
	return &committed, nil
}

func (s *Store) GetInvoiceByID(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, exists := s.invoiceIndex[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	invoice := cloneInvoice(s.invoices[idx])
	return &invoice, nil
}

func (s *Store) ListInvoices(_ context.Context, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Invoice, 0, len(s.invoices))
	for i := len(s.invoices) - 1; i >= 0; i-- {
		result = append(result, cloneInvoice(s.invoices[i]))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ListInvoicesSince(_ context.Context, from time.Time) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := dateOnly(from)
	result := make([]domain.Invoice, 0, len(s.invoices))
	for _, invoice := range s.invoices {
		if invoice.Date.Before(cutoff) {
			continue
		}
		result = append(result, cloneInvoice(invoice))
	}
	slices.SortStableFunc(result, func(a, b domain.Invoice) int {
		return a.Date.Compare(b.Date)
	})
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.TrimSpace(user.Username)
	if username == "" || user.Password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrValidation
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func validateProduct(product domain.Product) error {
	if strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.Category) == "" {
		return store.ErrValidation
	}
	if product.PriceCents < 0 || product.CostCents < 0 {
		return store.ErrValidation
	}
	if product.CurrentStock < 0 || product.MinStock < 0 {
		return store.ErrValidation
	}
	return nil
}

func cloneInvoice(invoice domain.Invoice) domain.Invoice {
	copied := invoice
	copied.Items = make([]domain.InvoiceItem, len(invoice.Items))
	copy(copied.Items, invoice.Items)
	return copied
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
