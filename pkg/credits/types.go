package credits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType enumerates the closed set of ledger transaction kinds.
type TransactionType string

const (
	TransactionPurchase     TransactionType = "purchase"
	TransactionAdminGrant   TransactionType = "admin_grant"
	TransactionAdminRemoval TransactionType = "admin_removal"
	TransactionUsage        TransactionType = "usage"
)

// ParseTransactionType validates a raw transaction type value.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch candidate := TransactionType(strings.TrimSpace(raw)); candidate {
	case TransactionPurchase, TransactionAdminGrant, TransactionAdminRemoval, TransactionUsage:
		return candidate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
	}
}

// String returns the stored enum value.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// Additive reports whether the type increases the balance. Purchases and
// admin grants add; admin removals and usage subtract.
func (transactionType TransactionType) Additive() bool {
	return transactionType == TransactionPurchase || transactionType == TransactionAdminGrant
}

// Amount is a strictly positive decimal magnitude. Direction is carried by
// the transaction type, never by the sign.
type Amount struct {
	value decimal.Decimal
}

// NewAmount validates an amount and ensures it is strictly positive.
func NewAmount(raw decimal.Decimal) (Amount, error) {
	if raw.Sign() <= 0 {
		return Amount{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Amount{value: raw}, nil
}

// ParseAmount parses decimal text into an Amount.
func ParseAmount(raw string) (Amount, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return NewAmount(parsed)
}

// Decimal returns the magnitude.
func (amount Amount) Decimal() decimal.Decimal {
	return amount.value
}

// String returns the canonical decimal text.
func (amount Amount) String() string {
	return amount.value.String()
}

// Transaction is a single immutable line in a user's chain. BalanceAfter is
// authoritative: it is always recomputed from the previous head, never
// caller-supplied.
type Transaction struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	Type                  TransactionType
	Amount                decimal.Decimal
	BalanceAfter          decimal.Decimal
	PreviousTransactionID *uuid.UUID
	Description           *string
	CreatedAt             time.Time
}

// TransactionRecord is the insert payload handed to a Store. The store
// assigns the transaction id at insert time.
type TransactionRecord struct {
	UserID                uuid.UUID
	Type                  TransactionType
	Amount                decimal.Decimal
	BalanceAfter          decimal.Decimal
	PreviousTransactionID *uuid.UUID
	Description           *string
	CreatedAt             time.Time
}

// Page bounds an offset-paginated listing.
type Page struct {
	Skip  int64
	Limit int64
}

// NewPage validates pagination bounds. Upstream callers own limit clamping;
// the ledger only rejects values that cannot address any window.
func NewPage(skip int64, limit int64) (Page, error) {
	if skip < 0 {
		return Page{}, fmt.Errorf("%w: skip must not be negative", ErrInvalidPage)
	}
	if limit <= 0 {
		return Page{}, fmt.Errorf("%w: limit must be greater than zero", ErrInvalidPage)
	}
	return Page{Skip: skip, Limit: limit}, nil
}

// Store is the persistence contract used by Service.
//
// LockUserChain must block until the per-user serialization lock is held and
// the lock must live for the rest of the surrounding WithTx unit, releasing
// on commit or rollback.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	LockUserChain(ctx context.Context, userID uuid.UUID) error
	ChainHead(ctx context.Context, userID uuid.UUID) (Transaction, bool, error)
	InsertTransaction(ctx context.Context, record TransactionRecord) (Transaction, error)
	UserBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	UsersBalances(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
	ListUserTransactions(ctx context.Context, userID uuid.UUID, page Page) ([]Transaction, error)
	ListAllTransactions(ctx context.Context, page Page) ([]Transaction, error)
	TransactionByID(ctx context.Context, transactionID uuid.UUID) (*Transaction, error)
}
