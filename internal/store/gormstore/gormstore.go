package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/inferctl/creditledger/pkg/credits"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintBalanceNonNegative = "credit_transactions_balance_after_check"
	pgCheckViolationCode         = "23514"
	sqliteConstraintCode         = 19
	dialectSQLite                = "sqlite"
	errorOperationStore          = "store"
	errorSubjectBalance          = "balance"
	errorSubjectChain            = "chain"
	errorSubjectTransaction      = "transaction"
	errorCodeGet                 = "get"
	errorCodeHead                = "head"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeLock                = "lock"
	errorCodeLookup              = "lookup"
	errorCodeMigrate             = "migrate"
	errorCodeRejected            = "rejected"

	// Portable head-of-chain predicate: a row is a user's latest when no
	// newer row exists for that user under (created_at, id) ordering.
	sqlNoNewerRowExists = `not exists (
		select 1 from credit_transactions newer
		where newer.user_id = credit_transactions.user_id
		and (newer.created_at > credit_transactions.created_at
			or (newer.created_at = credit_transactions.created_at and newer.id > credit_transactions.id))
	)`
)

// Store implements credits.Store using GORM (PostgreSQL or SQLite).
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the ledger tables, including the balance check constraint.
func (store *Store) Migrate() error {
	if err := store.db.AutoMigrate(&CreditAccount{}, &CreditTransaction{}); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// LockUserChain serializes writers for one user by locking that user's
// marker row for the rest of the surrounding transaction. SQLite has no row
// locks; there the transaction's writer lock serializes appends instead.
func (store *Store) LockUserChain(ctx context.Context, userID uuid.UUID) error {
	account := CreditAccount{UserID: userID, CreatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&account).Error
	if err != nil {
		return wrapStoreError(errorSubjectChain, errorCodeLock, err)
	}
	query := store.db.WithContext(ctx).Where("user_id = ?", userID)
	if store.db.Dialector.Name() != dialectSQLite {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var locked CreditAccount
	if err := query.Take(&locked).Error; err != nil {
		return wrapStoreError(errorSubjectChain, errorCodeLock, err)
	}
	return nil
}

func (store *Store) ChainHead(ctx context.Context, userID uuid.UUID) (credits.Transaction, bool, error) {
	var row CreditTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc, id desc").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credits.Transaction{}, false, nil
		}
		return credits.Transaction{}, false, wrapStoreError(errorSubjectChain, errorCodeHead, err)
	}
	transaction, err := mapTransaction(row)
	if err != nil {
		return credits.Transaction{}, false, wrapStoreError(errorSubjectChain, errorCodeInvalid, err)
	}
	return transaction, true, nil
}

func (store *Store) InsertTransaction(ctx context.Context, record credits.TransactionRecord) (credits.Transaction, error) {
	row := CreditTransaction{
		UserID:                record.UserID,
		TransactionType:       record.Type.String(),
		Amount:                record.Amount,
		BalanceAfter:          record.BalanceAfter,
		PreviousTransactionID: record.PreviousTransactionID,
		Description:           record.Description,
		CreatedAt:             record.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isBalanceCheckViolation(err) {
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeRejected, credits.ErrInsufficientBalance)
	}
	if err != nil {
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transaction, err := mapTransaction(row)
	if err != nil {
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

func (store *Store) UserBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var row CreditTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc, id desc").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return row.BalanceAfter, nil
}

func (store *Store) UsersBalances(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	balances := make(map[uuid.UUID]decimal.Decimal, len(userIDs))
	if len(userIDs) == 0 {
		return balances, nil
	}
	var rows []CreditTransaction
	err := store.db.WithContext(ctx).
		Where("user_id in ?", userIDs).
		Where(sqlNoNewerRowExists).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBalance, errorCodeLookup, err)
	}
	for _, row := range rows {
		balances[row.UserID] = row.BalanceAfter
	}
	return balances, nil
}

func (store *Store) ListUserTransactions(ctx context.Context, userID uuid.UUID, page credits.Page) ([]credits.Transaction, error) {
	var rows []CreditTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc, id desc").
		Offset(int(page.Skip)).
		Limit(int(page.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return mapTransactions(rows)
}

func (store *Store) ListAllTransactions(ctx context.Context, page credits.Page) ([]credits.Transaction, error) {
	var rows []CreditTransaction
	err := store.db.WithContext(ctx).
		Order("created_at desc, id desc").
		Offset(int(page.Skip)).
		Limit(int(page.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return mapTransactions(rows)
}

func (store *Store) TransactionByID(ctx context.Context, transactionID uuid.UUID) (*credits.Transaction, error) {
	var row CreditTransaction
	err := store.db.WithContext(ctx).
		Where("id = ?", transactionID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	transaction, err := mapTransaction(row)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return &transaction, nil
}

func mapTransaction(row CreditTransaction) (credits.Transaction, error) {
	transactionType, err := credits.ParseTransactionType(row.TransactionType)
	if err != nil {
		return credits.Transaction{}, err
	}
	return credits.Transaction{
		ID:                    row.ID,
		UserID:                row.UserID,
		Type:                  transactionType,
		Amount:                row.Amount,
		BalanceAfter:          row.BalanceAfter,
		PreviousTransactionID: row.PreviousTransactionID,
		Description:           row.Description,
		CreatedAt:             row.CreatedAt,
	}, nil
}

func mapTransactions(rows []CreditTransaction) ([]credits.Transaction, error) {
	transactions := make([]credits.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func isBalanceCheckViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCheckViolationCode && pgErr.ConstraintName == constraintBalanceNonNegative
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
