package types

import "time"

// InvoiceStatus represents the payment state of an invoice.
type InvoiceStatus string

// Invoice states.
const (
	InvoicePending   InvoiceStatus = "pending"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// Valid reports whether s is a known invoice status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoicePending, InvoicePaid, InvoiceCancelled:
		return true
	}
	return false
}

// InvoiceItem is one line on an invoice.
type InvoiceItem struct {
	// Description is the human-readable item text.
	Description string `json:"description" db:"description"`

	// Credits is the number of credits this item grants, if any.
	Credits int `json:"credits,omitempty" db:"credits"`

	// Quantity is the item count. At least 1.
	Quantity int `json:"quantity" db:"quantity"`

	// UnitPrice is the price per unit in cents.
	UnitPrice int `json:"unit_price" db:"unit_price"`
}

// BillingInfo is the customer billing address recorded on an invoice.
type BillingInfo struct {
	Name    string `json:"name" db:"name"`
	Company string `json:"company,omitempty" db:"company"`
	VATID   string `json:"vat_id,omitempty" db:"vat_id"`
	Street  string `json:"street" db:"street"`
	City    string `json:"city" db:"city"`
	Zip     string `json:"zip" db:"zip"`
	Country string `json:"country" db:"country"`
}

// Invoice is an immutable billing record created when credits are
// purchased. The invoice number is sequential and scoped to its year.
type Invoice struct {
	// ID is the unique identifier of the invoice.
	ID int `json:"id" db:"id"`

	// UserID identifies the invoiced customer.
	UserID int `json:"user_id" db:"user_id"`

	// Number is the formatted invoice number, e.g. "FACT-2026-017".
	Number string `json:"number" db:"number"`

	// Year is the issuing year the sequence number is scoped to.
	Year int `json:"year" db:"year"`

	// Seq is the per-year sequence number behind Number.
	Seq int `json:"seq" db:"seq"`

	// Items are the invoice lines.
	Items []InvoiceItem `json:"items" db:"items"`

	// Subtotal is the sum of item amounts in cents, before tax.
	Subtotal int `json:"subtotal" db:"subtotal"`

	// Total is the final amount in cents.
	Total int `json:"total" db:"total"`

	// Status is the payment state.
	Status InvoiceStatus `json:"status" db:"status"`

	// PaymentMethod records how the invoice was (or will be) paid.
	PaymentMethod string `json:"payment_method" db:"payment_method"`

	// Billing is the customer billing address at issuance time.
	Billing BillingInfo `json:"billing" db:"billing"`

	// CreatedAt is the timestamp when the invoice was issued.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent status change.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CreditTotal returns the number of credits granted by the invoice items.
func (i Invoice) CreditTotal() int {
	total := 0
	for _, item := range i.Items {
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		total += item.Credits * qty
	}
	return total
}
