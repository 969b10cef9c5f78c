package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stokku/backend/internal/domain"
	"stokku/backend/internal/store"
	"stokku/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			position BIGSERIAL,
			name TEXT NOT NULL,
			category TEXT NOT NULL,
			current_stock INT NOT NULL DEFAULT 0,
			min_stock INT NOT NULL DEFAULT 0,
			price_cents BIGINT NOT NULL DEFAULT 0,
			cost_cents BIGINT NOT NULL DEFAULT 0,
			last_restocked TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS invoices (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			invoice_date TIMESTAMPTZ NOT NULL,
			total_cents BIGINT NOT NULL DEFAULT 0,
			note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS invoice_items (
			invoice_id TEXT NOT NULL REFERENCES invoices(id),
			position INT NOT NULL,
			product_id TEXT NOT NULL,
			product_name TEXT NOT NULL,
			qty INT NOT NULL,
			unit_price_cents BIGINT NOT NULL,
			total_cents BIGINT NOT NULL,
			PRIMARY KEY (invoice_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_date ON invoices (invoice_date)`,
		`CREATE TABLE IF NOT EXISTS app_users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, current_stock, min_stock, price_cents, cost_cents, last_restocked
		FROM products
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var lastRestocked sql.NullTime
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.CurrentStock, &p.MinStock, &p.PriceCents, &p.CostCents, &lastRestocked); err != nil {
		return domain.Product{}, err
	}
	if lastRestocked.Valid {
		p.LastRestocked = lastRestocked.Time.UTC()
	}
	return p, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, current_stock, min_stock, price_cents, cost_cents, last_restocked
		FROM products
		WHERE id = $1
	`, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, current_stock, min_stock, price_cents, cost_cents, last_restocked, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
	`, product.ID, product.Name, product.Category, product.CurrentStock, product.MinStock, product.PriceCents, product.CostCents, nullIfZeroTime(product.LastRestocked))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		return nil, store.ErrValidation
	}
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, current_stock = $4, min_stock = $5,
		    price_cents = $6, cost_cents = $7, last_restocked = $8, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.CurrentStock, product.MinStock, product.PriceCents, product.CostCents, nullIfZeroTime(product.LastRestocked))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := product
	return &updated, nil
}

// DeleteProduct removes the catalog row only; invoice line items keep their
// denormalized snapshots.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateInvoice(ctx context.Context, draft domain.InvoiceDraft) (*domain.Invoice, error) {
	if draft.Type != domain.InvoiceTypeSale && draft.Type != domain.InvoiceTypePurchase {
		return nil, store.ErrValidation
	}
	if len(draft.Items) == 0 {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	// Lock and resolve every referenced product before mutating anything so a
	// rejected draft leaves both history and stock unchanged.
	items := make([]domain.InvoiceItem, 0, len(draft.Items))
	totalCents := int64(0)
	for _, item := range draft.Items {
		if item.Qty < 1 {
			return nil, store.ErrValidation
		}
		var name string
		var priceCents, costCents int64
		err := pgTx.QueryRowContext(ctx, `
			SELECT name, price_cents, cost_cents
			FROM products
			WHERE id = $1
			FOR UPDATE
		`, item.ProductID).Scan(&name, &priceCents, &costCents)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrValidation
			}
			return nil, err
		}

		unitCents := priceCents
		if draft.Type == domain.InvoiceTypePurchase {
			unitCents = costCents
		}
		lineTotal := int64(item.Qty) * unitCents
		items = append(items, domain.InvoiceItem{
			ProductID:      item.ProductID,
			ProductName:    name,
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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO invoices (id, type, invoice_date, total_cents, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, invoice.ID, invoice.Type, invoice.Date, invoice.TotalCents, invoice.Note, invoice.CreatedAt)
	if err != nil {
		return nil, err
	}

	for idx, item := range items {
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO invoice_items (invoice_id, position, product_id, product_name, qty, unit_price_cents, total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, invoice.ID, idx, item.ProductID, item.ProductName, item.Qty, item.UnitPriceCents, item.TotalCents)
		if err != nil {
			return nil, err
		}

		switch invoice.Type {
		case domain.InvoiceTypeSale:
			// Oversell clamps at zero rather than failing the invoice.
			_, err = pgTx.ExecContext(ctx, `
				UPDATE products
				SET current_stock = GREATEST(current_stock - $2, 0), updated_at = now()
				WHERE id = $1
			`, item.ProductID, item.Qty)
		case domain.InvoiceTypePurchase:
			_, err = pgTx.ExecContext(ctx, `
				UPDATE products
				SET current_stock = current_stock + $2, last_restocked = $3, updated_at = now()
				WHERE id = $1
			`, item.ProductID, item.Qty, date)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (s *Store) GetInvoiceByID(ctx context.Context, id string) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, invoice_date, total_cents, note, created_at
		FROM invoices
		WHERE id = $1
	`, id).Scan(&invoice.ID, &invoice.Type, &invoice.Date, &invoice.TotalCents, &invoice.Note, &invoice.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	invoice.Date = invoice.Date.UTC()
	invoice.CreatedAt = invoice.CreatedAt.UTC()

	items, err := s.loadItems(ctx, []string{invoice.ID})
	if err != nil {
		return nil, err
	}
	invoice.Items = items[invoice.ID]
	return &invoice, nil
}

func (s *Store) ListInvoices(ctx context.Context, limit int) ([]domain.Invoice, error) {
	query := `
		SELECT id, type, invoice_date, total_cents, note, created_at
		FROM invoices
		ORDER BY created_at DESC, id DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+` LIMIT $1`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	return s.collectInvoices(ctx, rows)
}

func (s *Store) ListInvoicesSince(ctx context.Context, from time.Time) ([]domain.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, invoice_date, total_cents, note, created_at
		FROM invoices
		WHERE invoice_date >= $1
		ORDER BY invoice_date ASC, created_at ASC
	`, dateOnly(from))
	if err != nil {
		return nil, err
	}
	return s.collectInvoices(ctx, rows)
}

func (s *Store) collectInvoices(ctx context.Context, rows *sql.Rows) ([]domain.Invoice, error) {
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 128)
	ids := make([]string, 0, 128)
	for rows.Next() {
		var invoice domain.Invoice
		if err := rows.Scan(&invoice.ID, &invoice.Type, &invoice.Date, &invoice.TotalCents, &invoice.Note, &invoice.CreatedAt); err != nil {
			return nil, err
		}
		invoice.Date = invoice.Date.UTC()
		invoice.CreatedAt = invoice.CreatedAt.UTC()
		invoices = append(invoices, invoice)
		ids = append(ids, invoice.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return invoices, nil
	}

	itemsByInvoice, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		invoices[i].Items = itemsByInvoice[invoices[i].ID]
	}
	return invoices, nil
}

func (s *Store) loadItems(ctx context.Context, invoiceIDs []string) (map[string][]domain.InvoiceItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT invoice_id, product_id, product_name, qty, unit_price_cents, total_cents
		FROM invoice_items
		WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, position
	`, invoiceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]domain.InvoiceItem, len(invoiceIDs))
	for rows.Next() {
		var invoiceID string
		var item domain.InvoiceItem
		if err := rows.Scan(&invoiceID, &item.ProductID, &item.ProductName, &item.Qty, &item.UnitPriceCents, &item.TotalCents); err != nil {
			return nil, err
		}
		result[invoiceID] = append(result[invoiceID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
