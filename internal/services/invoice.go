package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tunefile/apiserver/internal/store"
	"github.com/tunefile/apiserver/types"
)

// CreditUnitPriceCents is the price of a single credit in cents.
const CreditUnitPriceCents = 150

// InvoiceRepository defines persistence operations for invoices. Create
// grants the credits of an already-paid invoice, and UpdateStatus applies
// the given ledger delta, each atomically with the invoice write.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice types.Invoice) (types.Invoice, error)
	Get(ctx context.Context, id int) (types.Invoice, error)
	ListByUser(ctx context.Context, userID int) ([]types.Invoice, error)
	UpdateStatus(ctx context.Context, id int, from, to types.InvoiceStatus, delta *store.LedgerDelta) error
}

// PaymentGateway charges a customer through an external payment provider.
type PaymentGateway interface {
	Charge(ctx context.Context, amountCents int, method, payerEmail string) (providerID, status string, err error)
}

// InvoiceService encapsulates invoice issuance and the credit purchase
// flow. Invoice status changes keep the credit ledger in sync: a move into
// paid credits the granted credits exactly once, a move out of paid debits
// them back, and both commit together with the status change.
type InvoiceService struct {
	repo    InvoiceRepository
	gateway PaymentGateway
	logger  *slog.Logger
}

func NewInvoiceService(repo InvoiceRepository, gateway PaymentGateway, logger *slog.Logger) *InvoiceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceService{
		repo:    repo,
		gateway: gateway,
		logger:  logger,
	}
}

// Issue computes totals from the items and persists a new invoice. When
// paid is set and the items grant credits, the repository credits the
// ledger in the same transaction as the invoice insert.
func (s *InvoiceService) Issue(ctx context.Context, userID int, items []types.InvoiceItem, paymentMethod string, billing types.BillingInfo, paid bool) (types.Invoice, error) {
	if len(items) == 0 {
		return types.Invoice{}, ErrInvalidAmount
	}

	subtotal := 0
	for _, item := range items {
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		subtotal += item.UnitPrice * qty
	}

	status := types.InvoicePending
	if paid {
		status = types.InvoicePaid
	}

	return s.repo.Create(ctx, types.Invoice{
		UserID:        userID,
		Items:         items,
		Subtotal:      subtotal,
		Total:         subtotal,
		Status:        status,
		PaymentMethod: paymentMethod,
		Billing:       billing,
	})
}

// PurchaseCredits charges the customer through the payment gateway and
// issues a paid invoice granting the credits.
func (s *InvoiceService) PurchaseCredits(ctx context.Context, user types.User, creditAmount int, paymentMethod string, billing types.BillingInfo) (types.Invoice, error) {
	if creditAmount <= 0 {
		return types.Invoice{}, ErrInvalidAmount
	}

	amountCents := creditAmount * CreditUnitPriceCents
	providerID, status, err := s.gateway.Charge(ctx, amountCents, paymentMethod, user.Email)
	if err != nil {
		return types.Invoice{}, err
	}
	if !strings.EqualFold(status, "approved") {
		s.logger.Warn("payment not approved", "user", user.ID, "provider_id", providerID, "status", status)
		return types.Invoice{}, ErrPaymentDeclined
	}

	items := []types.InvoiceItem{{
		Description: fmt.Sprintf("%d tuning credits", creditAmount),
		Credits:     creditAmount,
		Quantity:    1,
		UnitPrice:   amountCents,
	}}
	return s.Issue(ctx, user.ID, items, paymentMethod, billing, true)
}

// Get returns an invoice if the actor owns it or is an admin.
func (s *InvoiceService) Get(ctx context.Context, id int, actor types.User) (types.Invoice, error) {
	invoice, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Invoice{}, err
	}
	if invoice.UserID != actor.ID && !actor.IsAdmin() {
		return types.Invoice{}, ErrForbidden
	}
	return invoice, nil
}

// List returns the actor's invoices; admins see all invoices.
func (s *InvoiceService) List(ctx context.Context, actor types.User) ([]types.Invoice, error) {
	userID := actor.ID
	if actor.IsAdmin() {
		userID = 0
	}
	return s.repo.ListByUser(ctx, userID)
}

// SetStatus changes an invoice's payment state and applies the symmetric
// ledger side effect: a move into paid grants the invoice's credits, a
// move out of paid takes them back. Status flip and ledger delta commit
// together; a revert the balance cannot cover leaves the invoice paid.
func (s *InvoiceService) SetStatus(ctx context.Context, id int, to types.InvoiceStatus) (types.Invoice, error) {
	if !to.Valid() {
		return types.Invoice{}, ErrInvalidStatus
	}

	invoice, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Invoice{}, err
	}
	if invoice.Status == to {
		return invoice, nil
	}

	var delta *store.LedgerDelta
	if credits := invoice.CreditTotal(); credits > 0 {
		switch {
		case invoice.Status != types.InvoicePaid && to == types.InvoicePaid:
			delta = &store.LedgerDelta{
				UserID:      invoice.UserID,
				Amount:      credits,
				Kind:        types.TxPurchase,
				Description: fmt.Sprintf("credit purchase, invoice %s", invoice.Number),
			}
		case invoice.Status == types.InvoicePaid && to != types.InvoicePaid:
			delta = &store.LedgerDelta{
				UserID:      invoice.UserID,
				Amount:      -credits,
				Kind:        types.TxAdminAdjustment,
				Description: fmt.Sprintf("credit purchase reverted, invoice %s", invoice.Number),
			}
		}
	}

	if err := s.repo.UpdateStatus(ctx, id, invoice.Status, to, delta); err != nil {
		return types.Invoice{}, err
	}

	return s.repo.Get(ctx, id)
}
