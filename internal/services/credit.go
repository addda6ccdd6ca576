package services

import (
	"context"
	"fmt"

	"github.com/tunefile/apiserver/types"
)

// LedgerRepository defines persistence operations for the credit ledger.
// Implementations must write the balance change and the transaction row
// atomically.
type LedgerRepository interface {
	Credit(ctx context.Context, userID, amount int, kind types.TransactionKind, description string) (types.CreditTransaction, error)
	Debit(ctx context.Context, userID, amount int, kind types.TransactionKind, description string, fileID int) (types.CreditTransaction, error)
	ListByUser(ctx context.Context, userID int) ([]types.CreditTransaction, error)
	Balance(ctx context.Context, userID int) (int, error)
	TransactionSum(ctx context.Context, userID int) (int, error)
}

// CreditService encapsulates credit ledger use-cases.
type CreditService struct {
	ledger LedgerRepository
}

func NewCreditService(ledger LedgerRepository) *CreditService {
	return &CreditService{ledger: ledger}
}

// Balance returns the user's cached balance.
func (s *CreditService) Balance(ctx context.Context, userID int) (int, error) {
	return s.ledger.Balance(ctx, userID)
}

// Transactions returns the user's transaction history, newest first.
func (s *CreditService) Transactions(ctx context.Context, userID int) ([]types.CreditTransaction, error) {
	return s.ledger.ListByUser(ctx, userID)
}

// Adjust applies an admin credit adjustment. Positive amounts credit the
// account, negative amounts debit it.
func (s *CreditService) Adjust(ctx context.Context, userID, amount int, reason string) (types.CreditTransaction, error) {
	if amount == 0 {
		return types.CreditTransaction{}, ErrInvalidAmount
	}
	if amount > 0 {
		return s.ledger.Credit(ctx, userID, amount, types.TxAdminAdjustment, reason)
	}
	return s.ledger.Debit(ctx, userID, -amount, types.TxAdminAdjustment, reason, 0)
}

// Refund returns credits spent on a file back to its owner.
func (s *CreditService) Refund(ctx context.Context, userID, amount, fileID int) (types.CreditTransaction, error) {
	if amount <= 0 {
		return types.CreditTransaction{}, ErrInvalidAmount
	}
	return s.ledger.Credit(ctx, userID, amount, types.TxRefund, fmt.Sprintf("refund for file %d", fileID))
}

// Reconcile compares the cached balance with the signed sum of transaction
// rows and reports both. The values must be equal at all times.
func (s *CreditService) Reconcile(ctx context.Context, userID int) (balance, sum int, err error) {
	balance, err = s.ledger.Balance(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	sum, err = s.ledger.TransactionSum(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	return balance, sum, nil
}
