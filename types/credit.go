package types

import "time"

// TransactionKind classifies a credit transaction.
type TransactionKind string

// Transaction kinds. Usage transactions carry a negative amount,
// all other kinds a positive one.
const (
	TxPurchase        TransactionKind = "purchase"
	TxUsage           TransactionKind = "usage"
	TxRefund          TransactionKind = "refund"
	TxAdminAdjustment TransactionKind = "admin_adjustment"
)

// Valid reports whether k is a known transaction kind.
func (k TransactionKind) Valid() bool {
	switch k {
	case TxPurchase, TxUsage, TxRefund, TxAdminAdjustment:
		return true
	}
	return false
}

// CreditTransaction is an immutable record of a credit-affecting event.
// The signed sum of a user's transactions equals the user's balance.
type CreditTransaction struct {
	// ID is the unique identifier of the transaction.
	ID int `json:"id" db:"id"`

	// UserID identifies the user whose balance the transaction affects.
	UserID int `json:"user_id" db:"user_id"`

	// Amount is the signed credit delta. Negative for usage.
	Amount int `json:"amount" db:"amount"`

	// Kind classifies the transaction.
	Kind TransactionKind `json:"kind" db:"kind"`

	// Description is a human-readable account of the event.
	Description string `json:"description" db:"description"`

	// FileID references the ECU file a usage or refund relates to.
	// Zero when the transaction is not tied to a file.
	FileID int `json:"file_id,omitempty" db:"file_id"`

	// CreatedAt is the timestamp of the transaction.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
