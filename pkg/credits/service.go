package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service contains the ledger domain logic over a Store. It holds no
// in-process state and is safe for concurrent use.
type Service struct {
	store  Store
	nowFn  func() time.Time
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// CreateTransaction appends one transaction to the user's chain.
//
// The whole read-modify-write cycle runs inside a single store transaction:
// the per-user lock is taken first, the current chain head is read under it,
// the new balance is computed from the head per the type's sign, and the row
// is inserted referencing the head. The store rejects a negative resulting
// balance at insert time, rolling the unit back with no partial state.
func (service *Service) CreateTransaction(ctx context.Context, userID uuid.UUID, transactionType TransactionType, amount Amount, description *string) (Transaction, error) {
	created, operationError := service.createTransaction(ctx, userID, transactionType, amount, description)
	service.logOperation(ctx, OperationLog{
		Operation:     operationCreateTransaction,
		UserID:        userID,
		TransactionID: created.ID,
		Type:          transactionType,
		Amount:        amount.Decimal(),
		BalanceAfter:  created.BalanceAfter,
		Error:         operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return created, nil
}

func (service *Service) createTransaction(ctx context.Context, userID uuid.UUID, transactionType TransactionType, amount Amount, description *string) (Transaction, error) {
	if _, err := ParseTransactionType(transactionType.String()); err != nil {
		return Transaction{}, err
	}
	// The boundary validates positivity before calling; re-check anyway so a
	// zero-value Amount cannot mint or burn credits.
	if amount.Decimal().Sign() <= 0 {
		return Transaction{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if userID == uuid.Nil {
		return Transaction{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}

	var created Transaction
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.LockUserChain(ctx, userID); err != nil {
			return err
		}
		head, hasHead, err := transactionStore.ChainHead(ctx, userID)
		if err != nil {
			return err
		}
		currentBalance := decimal.Zero
		var previousTransactionID *uuid.UUID
		if hasHead {
			currentBalance = head.BalanceAfter
			headID := head.ID
			previousTransactionID = &headID
		}
		newBalance := currentBalance.Sub(amount.Decimal())
		if transactionType.Additive() {
			newBalance = currentBalance.Add(amount.Decimal())
		}
		created, err = transactionStore.InsertTransaction(ctx, TransactionRecord{
			UserID:                userID,
			Type:                  transactionType,
			Amount:                amount.Decimal(),
			BalanceAfter:          newBalance,
			PreviousTransactionID: previousTransactionID,
			Description:           description,
			CreatedAt:             service.nowFn().UTC(),
		})
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	return created, nil
}

// Balance returns the chain head's balance, zero for users without history.
// Read-only and lock-free; a concurrent writer may commit before or after
// the read.
func (service *Service) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return service.store.UserBalance(ctx, userID)
}

// BalancesBulk resolves each requested user's head balance in one store
// round-trip. Users without transactions are absent from the result map.
func (service *Service) BalancesBulk(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]float64, error) {
	balances, err := service.store.UsersBalances(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	result := make(map[uuid.UUID]float64, len(balances))
	for userID, balance := range balances {
		result[userID] = balance.InexactFloat64()
	}
	return result, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
