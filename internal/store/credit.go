package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tunefile/apiserver/types"
)

// LedgerRepository handles persistence for credit transactions and the
// cached balance column on users. Balance and transaction rows are only
// ever written together, inside one database transaction.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Credit increases a user's balance and records a transaction of the given
// kind. Amount must be positive.
func (r *LedgerRepository) Credit(ctx context.Context, userID, amount int, kind types.TransactionKind, description string) (types.CreditTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.CreditTransaction{}, err
	}
	defer tx.Rollback()

	record, err := applyDelta(ctx, tx, userID, amount, kind, description, 0)
	if err != nil {
		return types.CreditTransaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.CreditTransaction{}, err
	}
	return record, nil
}

// Debit decreases a user's balance and records a usage transaction.
// Fails with InsufficientCreditsError when the balance cannot cover amount.
func (r *LedgerRepository) Debit(ctx context.Context, userID, amount int, kind types.TransactionKind, description string, fileID int) (types.CreditTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.CreditTransaction{}, err
	}
	defer tx.Rollback()

	record, err := applyDelta(ctx, tx, userID, -amount, kind, description, fileID)
	if err != nil {
		return types.CreditTransaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.CreditTransaction{}, err
	}
	return record, nil
}

// applyDelta performs the paired balance update and transaction insert
// within the caller's database transaction. delta is signed.
func applyDelta(ctx context.Context, tx *sql.Tx, userID, delta int, kind types.TransactionKind, description string, fileID int) (types.CreditTransaction, error) {
	var balance int
	if delta < 0 {
		const debitQuery = `
			UPDATE users
			SET credits = credits + $1, updated_at = $2
			WHERE id = $3 AND credits >= $4
			RETURNING credits`
		err := tx.QueryRowContext(ctx, debitQuery, delta, time.Now(), userID, -delta).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			var current int
			checkErr := tx.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&current)
			if errors.Is(checkErr, sql.ErrNoRows) {
				return types.CreditTransaction{}, ErrNotFound
			}
			if checkErr != nil {
				return types.CreditTransaction{}, checkErr
			}
			return types.CreditTransaction{}, &InsufficientCreditsError{Balance: current, Required: -delta}
		}
		if err != nil {
			return types.CreditTransaction{}, err
		}
	} else {
		const creditQuery = `
			UPDATE users
			SET credits = credits + $1, updated_at = $2
			WHERE id = $3
			RETURNING credits`
		err := tx.QueryRowContext(ctx, creditQuery, delta, time.Now(), userID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return types.CreditTransaction{}, ErrNotFound
		}
		if err != nil {
			return types.CreditTransaction{}, err
		}
	}

	record := types.CreditTransaction{
		UserID:      userID,
		Amount:      delta,
		Kind:        kind,
		Description: description,
		FileID:      fileID,
		CreatedAt:   time.Now(),
	}

	const insertQuery = `
		INSERT INTO credit_transactions (user_id, amount, kind, description, file_id, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, 0), $6)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertQuery,
		record.UserID,
		record.Amount,
		record.Kind,
		record.Description,
		record.FileID,
		record.CreatedAt,
	).Scan(&record.ID); err != nil {
		return types.CreditTransaction{}, err
	}
	return record, nil
}

// ListByUser returns a user's transactions, newest first.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID int) ([]types.CreditTransaction, error) {
	const query = `
		SELECT id, user_id, amount, kind, description, COALESCE(file_id, 0), created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []types.CreditTransaction
	for rows.Next() {
		var record types.CreditTransaction
		if err := rows.Scan(
			&record.ID,
			&record.UserID,
			&record.Amount,
			&record.Kind,
			&record.Description,
			&record.FileID,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Balance returns the cached balance column for a user.
func (r *LedgerRepository) Balance(ctx context.Context, userID int) (int, error) {
	var balance int
	err := r.db.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return balance, err
}

// TransactionSum returns the signed sum of a user's transaction rows.
// It must always equal Balance for the same user.
func (r *LedgerRepository) TransactionSum(ctx context.Context, userID int) (int, error) {
	var sum int
	err := r.db.QueryRowContext(
		ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = $1`,
		userID,
	).Scan(&sum)
	return sum, err
}
