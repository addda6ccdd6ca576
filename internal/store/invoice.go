package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tunefile/apiserver/types"
)

const invoiceColumns = `id, user_id, number, year, seq, items, subtotal, total, status, payment_method, billing, created_at, updated_at`

// InvoiceRepository handles persistence for invoices. Invoice numbers come
// from a per-year counter row incremented atomically, so concurrent
// issuance cannot produce duplicates or gaps.
type InvoiceRepository struct {
	db *sql.DB
}

func NewInvoiceRepository(db *sql.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// LedgerDelta is a signed credit movement applied together with an
// invoice status change, in the same transaction.
type LedgerDelta struct {
	UserID      int
	Amount      int
	Kind        types.TransactionKind
	Description string
}

// Create assigns the next sequence number for the invoice's year and
// persists the invoice, in one transaction. An invoice created already
// paid grants its credits inside the same transaction, so a paid invoice
// without the matching ledger row cannot exist.
func (r *InvoiceRepository) Create(ctx context.Context, invoice types.Invoice) (types.Invoice, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Invoice{}, err
	}
	defer tx.Rollback()

	now := time.Now()
	if invoice.Year == 0 {
		invoice.Year = now.Year()
	}
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	const counterQuery = `
		INSERT INTO invoice_counters (year, seq)
		VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET seq = invoice_counters.seq + 1
		RETURNING seq`
	if err := tx.QueryRowContext(ctx, counterQuery, invoice.Year).Scan(&invoice.Seq); err != nil {
		return types.Invoice{}, err
	}
	invoice.Number = fmt.Sprintf("FACT-%d-%03d", invoice.Year, invoice.Seq)

	itemsJSON, err := json.Marshal(invoice.Items)
	if err != nil {
		return types.Invoice{}, err
	}
	billingJSON, err := json.Marshal(invoice.Billing)
	if err != nil {
		return types.Invoice{}, err
	}

	const insertQuery = `
		INSERT INTO invoices (user_id, number, year, seq, items, subtotal, total, status, payment_method, billing, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertQuery,
		invoice.UserID,
		invoice.Number,
		invoice.Year,
		invoice.Seq,
		itemsJSON,
		invoice.Subtotal,
		invoice.Total,
		invoice.Status,
		invoice.PaymentMethod,
		billingJSON,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Scan(&invoice.ID); err != nil {
		return types.Invoice{}, err
	}

	if invoice.Status == types.InvoicePaid {
		if credits := invoice.CreditTotal(); credits > 0 {
			_, err := applyDelta(ctx, tx, invoice.UserID, credits, types.TxPurchase,
				fmt.Sprintf("credit purchase, invoice %s", invoice.Number), 0)
			if err != nil {
				return types.Invoice{}, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return types.Invoice{}, err
	}
	return invoice, nil
}

func scanInvoice(row interface{ Scan(...any) error }) (types.Invoice, error) {
	var (
		invoice     types.Invoice
		itemsJSON   []byte
		billingJSON []byte
	)
	err := row.Scan(
		&invoice.ID,
		&invoice.UserID,
		&invoice.Number,
		&invoice.Year,
		&invoice.Seq,
		&itemsJSON,
		&invoice.Subtotal,
		&invoice.Total,
		&invoice.Status,
		&invoice.PaymentMethod,
		&billingJSON,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Invoice{}, ErrNotFound
		}
		return types.Invoice{}, err
	}
	if err := json.Unmarshal(itemsJSON, &invoice.Items); err != nil {
		return types.Invoice{}, err
	}
	if err := json.Unmarshal(billingJSON, &invoice.Billing); err != nil {
		return types.Invoice{}, err
	}
	return invoice, nil
}

func (r *InvoiceRepository) Get(ctx context.Context, id int) (types.Invoice, error) {
	const query = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	return scanInvoice(r.db.QueryRowContext(ctx, query, id))
}

// ListByUser returns a user's invoices, newest first. A zero userID lists
// all invoices (admin view).
func (r *InvoiceRepository) ListByUser(ctx context.Context, userID int) ([]types.Invoice, error) {
	const query = `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE ($1 = 0 OR user_id = $1)
		ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []types.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, invoice)
	}
	return invoices, rows.Err()
}

// UpdateStatus changes an invoice's payment status and applies the given
// ledger delta in the same transaction. The expected previous status guards
// against double application; a delta the balance cannot cover rolls the
// status change back.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id int, from, to types.InvoiceStatus, delta *LedgerDelta) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(
		ctx,
		`UPDATE invoices SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		to, time.Now(), id, from,
	)
	if err != nil {
		return err
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	if delta != nil && delta.Amount != 0 {
		if _, err := applyDelta(ctx, tx, delta.UserID, delta.Amount, delta.Kind, delta.Description, 0); err != nil {
			return err
		}
	}

	return tx.Commit()
}
