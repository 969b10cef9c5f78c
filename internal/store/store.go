package store

import (
	"context"
	"errors"
	"time"

	"stokku/backend/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

type Repository interface {
	// Catalog. ListProducts returns products in catalog (insertion) order;
	// LowStockProducts is derived from it by an order-preserving filter.
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	// CreateInvoice resolves items against the catalog, snapshots names and
	// unit prices, appends the invoice and applies stock deltas in a single
	// atomic step. On ErrValidation neither history nor stock changes.
	CreateInvoice(ctx context.Context, draft domain.InvoiceDraft) (*domain.Invoice, error)
	GetInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error)
	// ListInvoices returns invoices newest first; limit <= 0 means all.
	ListInvoices(ctx context.Context, limit int) ([]domain.Invoice, error)
	// ListInvoicesSince returns invoices dated on or after from, oldest first.
	ListInvoicesSince(ctx context.Context, from time.Time) ([]domain.Invoice, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
