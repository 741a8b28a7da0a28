package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"receiptly/model"
)

const purchaseColumns = `id, user_id, merchant, item, category, amount, currency, purchased_on, return_days, warranty_months, created_at`

// CreatePurchase stores p for p.UserID and returns it with id and timestamps.
func (d *DB) CreatePurchase(ctx context.Context, p model.Purchase) (*model.Purchase, error) {
	p.ID = uuid.NewString()
	p.CreatedAt = d.now().UTC().Truncate(time.Millisecond)
	if p.PurchasedOn.IsZero() {
		p.PurchasedOn = p.CreatedAt
	}
	stmt := `INSERT INTO purchases (` + purchaseColumns + `) VALUES (` + d.placeholders(1, 11) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		p.ID, p.UserID, p.Merchant, p.Item, p.Category, p.Amount, p.Currency,
		toMillis(p.PurchasedOn), p.ReturnDays, p.WarrantyMonths, toMillis(p.CreatedAt),
	); err != nil {
		return nil, fmt.Errorf("failed to create purchase: %w", err)
	}
	p.PurchasedOn = p.PurchasedOn.UTC().Truncate(time.Millisecond)
	return &p, nil
}

// GetPurchase returns the purchase if it belongs to userID.
func (d *DB) GetPurchase(ctx context.Context, userID, id string) (*model.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = ` + d.placeholder(1) + ` AND user_id = ` + d.placeholder(2)
	p, err := scanPurchase(d.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	return p, nil
}

// SearchPurchases matches query against merchant, item and category,
// case-insensitively. An empty query lists the newest purchases.
func (d *DB) SearchPurchases(ctx context.Context, userID, query string, limit int) ([]model.Purchase, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	where, args := []string{"user_id = " + d.placeholder(1)}, []any{userID}
	if q := strings.TrimSpace(query); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		var or []string
		for _, col := range []string{"merchant", "item", "category"} {
			args = append(args, pattern)
			or = append(or, "LOWER("+col+") LIKE "+d.placeholder(len(args)))
		}
		where = append(where, "("+strings.Join(or, " OR ")+")")
	}
	args = append(args, limit)

	stmt := `SELECT ` + purchaseColumns + ` FROM purchases
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY purchased_on DESC, id
		LIMIT ` + d.placeholder(len(args))
	return d.queryPurchases(ctx, stmt, args...)
}

func (d *DB) queryPurchases(ctx context.Context, query string, args ...any) ([]model.Purchase, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	list := make([]model.Purchase, 0)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		list = append(list, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purchases: %w", err)
	}
	return list, nil
}

func scanPurchase(row rowScanner) (*model.Purchase, error) {
	var p model.Purchase
	var purchased, created int64
	if err := row.Scan(&p.ID, &p.UserID, &p.Merchant, &p.Item, &p.Category, &p.Amount, &p.Currency,
		&purchased, &p.ReturnDays, &p.WarrantyMonths, &created); err != nil {
		return nil, err
	}
	p.PurchasedOn = fromMillis(purchased)
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

// CreateCase opens a case. A referenced purchase must belong to the same user.
func (d *DB) CreateCase(ctx context.Context, c model.Case) (*model.Case, error) {
	if !c.Kind.Valid() {
		return nil, fmt.Errorf("invalid case kind %q", c.Kind)
	}
	if c.PurchaseID != "" {
		if _, err := d.GetPurchase(ctx, c.UserID, c.PurchaseID); err != nil {
			return nil, fmt.Errorf("purchase %s: %w", c.PurchaseID, err)
		}
	}

	c.ID = uuid.NewString()
	if c.Status == "" {
		c.Status = "open"
	}
	c.CreatedAt = d.now().UTC().Truncate(time.Millisecond)

	stmt := `INSERT INTO cases (id, user_id, purchase_id, kind, status, description, created_at)
		VALUES (` + d.placeholders(1, 7) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		c.ID, c.UserID, c.PurchaseID, string(c.Kind), c.Status, c.Description, toMillis(c.CreatedAt),
	); err != nil {
		return nil, fmt.Errorf("failed to create case: %w", err)
	}
	return &c, nil
}

// AttachDocument links an uploaded file to a purchase or case of the user.
func (d *DB) AttachDocument(ctx context.Context, doc model.Document) (*model.Document, error) {
	if doc.PurchaseID == "" && doc.CaseID == "" {
		return nil, errors.New("document needs a purchase or a case")
	}
	if doc.PurchaseID != "" {
		if _, err := d.GetPurchase(ctx, doc.UserID, doc.PurchaseID); err != nil {
			return nil, fmt.Errorf("purchase %s: %w", doc.PurchaseID, err)
		}
	}
	if doc.CaseID != "" {
		var owner string
		query := `SELECT user_id FROM cases WHERE id = ` + d.placeholder(1)
		err := d.db.QueryRowContext(ctx, query, doc.CaseID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != doc.UserID) {
			return nil, fmt.Errorf("case %s: %w", doc.CaseID, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check case: %w", err)
		}
	}

	doc.ID = uuid.NewString()
	doc.CreatedAt = d.now().UTC().Truncate(time.Millisecond)
	stmt := `INSERT INTO documents (id, user_id, purchase_id, case_id, storage_path, file_name, file_type, file_size, created_at)
		VALUES (` + d.placeholders(1, 9) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		doc.ID, doc.UserID, doc.PurchaseID, doc.CaseID, doc.StoragePath, doc.FileName, doc.FileType, doc.FileSize, toMillis(doc.CreatedAt),
	); err != nil {
		return nil, fmt.Errorf("failed to attach document: %w", err)
	}
	return &doc, nil
}

// Expiring is a return window or warranty that ends soon.
type Expiring struct {
	Purchase model.Purchase `json:"purchase"`
	Kind     string         `json:"kind"`
	Deadline time.Time      `json:"deadline"`
	DaysLeft int            `json:"days_left"`
}

// ListExpiring returns return windows and warranties of userID ending between
// now and now+days, soonest first.
func (d *DB) ListExpiring(ctx context.Context, userID string, days int) ([]Expiring, error) {
	if days <= 0 {
		days = 30
	}
	query := `SELECT ` + purchaseColumns + ` FROM purchases
		WHERE user_id = ` + d.placeholder(1) + ` AND (return_days > 0 OR warranty_months > 0)`
	purchases, err := d.queryPurchases(ctx, query, userID)
	if err != nil {
		return nil, err
	}

	now := d.now().UTC()
	horizon := now.AddDate(0, 0, days)
	var out []Expiring
	add := func(p model.Purchase, kind string, deadline time.Time) {
		if deadline.IsZero() || deadline.Before(now) || deadline.After(horizon) {
			return
		}
		out = append(out, Expiring{
			Purchase: p,
			Kind:     kind,
			Deadline: deadline,
			DaysLeft: int(deadline.Sub(now).Hours() / 24),
		})
	}
	for _, p := range purchases {
		add(p, "return", p.ReturnDeadline())
		add(p, "warranty", p.WarrantyExpires())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out, nil
}
