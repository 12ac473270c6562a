package pgstore

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
	"github.com/inferctl/creditledger/pkg/credits"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	constraintBalanceNonNegative = "credit_transactions_balance_after_check"
	pgCheckViolationCode         = "23514"
	errorOperationStore          = "store"
	errorSubjectBalance          = "balance"
	errorSubjectChain            = "chain"
	errorSubjectTransaction      = "transaction"
	errorCodeBegin               = "begin"
	errorCodeCommit              = "commit"
	errorCodeGet                 = "get"
	errorCodeHead                = "head"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeLock                = "lock"
	errorCodeLookup              = "lookup"
	errorCodeMigrate             = "migrate"
	errorCodeRejected            = "rejected"

	// Transaction-scoped advisory lock: blocks until available, releases on
	// commit, rollback, or disconnect.
	sqlLockUserChain = `select pg_advisory_xact_lock($1)`

	sqlSelectChainHead = `
		select id, user_id, transaction_type, amount, balance_after, previous_transaction_id, description, created_at
		from credit_transactions
		where user_id = $1
		order by created_at desc, id desc
		limit 1
	`

	sqlInsertTransaction = `
		insert into credit_transactions(
			id, user_id, transaction_type, amount, balance_after, previous_transaction_id, description, created_at
		)
		values(gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)
		returning id, user_id, transaction_type, amount, balance_after, previous_transaction_id, description, created_at
	`

	sqlSelectUserBalance = `
		select balance_after
		from credit_transactions
		where user_id = $1
		order by created_at desc, id desc
		limit 1
	`

	sqlSelectUsersBalances = `
		select distinct on (user_id) user_id, balance_after
		from credit_transactions
		where user_id = any($1)
		order by user_id, created_at desc, id desc
	`

	sqlListUserTransactions = `
		select id, user_id, transaction_type, amount, balance_after, previous_transaction_id, description, created_at
		from credit_transactions
		where user_id = $1
		order by created_at desc, id desc
		offset $2
		limit $3
	`

	sqlListAllTransactions = `
		select id, user_id, transaction_type, amount, balance_after, previous_transaction_id, description, created_at
		from credit_transactions
		order by created_at desc, id desc
		offset $1
		limit $2
	`

	sqlSelectTransactionByID = `
		select id, user_id, transaction_type, amount, balance_after, previous_transaction_id, description, created_at
		from credit_transactions
		where id = $1
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements credits.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements credits.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) LockUserChain(ctx context.Context, userID uuid.UUID) error {
	return lockUserChain(ctx, store.pool, userID)
}

func (store *Store) ChainHead(ctx context.Context, userID uuid.UUID) (credits.Transaction, bool, error) {
	return chainHead(ctx, store.pool, userID)
}

func (store *Store) InsertTransaction(ctx context.Context, record credits.TransactionRecord) (credits.Transaction, error) {
	return insertTransaction(ctx, store.pool, record)
}

func (store *Store) UserBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return userBalance(ctx, store.pool, userID)
}

func (store *Store) UsersBalances(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	return usersBalances(ctx, store.pool, userIDs)
}

func (store *Store) ListUserTransactions(ctx context.Context, userID uuid.UUID, page credits.Page) ([]credits.Transaction, error) {
	return listUserTransactions(ctx, store.pool, userID, page)
}

func (store *Store) ListAllTransactions(ctx context.Context, page credits.Page) ([]credits.Transaction, error) {
	return listAllTransactions(ctx, store.pool, page)
}

func (store *Store) TransactionByID(ctx context.Context, transactionID uuid.UUID) (*credits.Transaction, error) {
	return transactionByID(ctx, store.pool, transactionID)
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return fn(ctx, store)
}

func (store *TxStore) LockUserChain(ctx context.Context, userID uuid.UUID) error {
	return lockUserChain(ctx, store.tx, userID)
}

func (store *TxStore) ChainHead(ctx context.Context, userID uuid.UUID) (credits.Transaction, bool, error) {
	return chainHead(ctx, store.tx, userID)
}

func (store *TxStore) InsertTransaction(ctx context.Context, record credits.TransactionRecord) (credits.Transaction, error) {
	return insertTransaction(ctx, store.tx, record)
}

func (store *TxStore) UserBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return userBalance(ctx, store.tx, userID)
}

func (store *TxStore) UsersBalances(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	return usersBalances(ctx, store.tx, userIDs)
}

func (store *TxStore) ListUserTransactions(ctx context.Context, userID uuid.UUID, page credits.Page) ([]credits.Transaction, error) {
	return listUserTransactions(ctx, store.tx, userID, page)
}

func (store *TxStore) ListAllTransactions(ctx context.Context, page credits.Page) ([]credits.Transaction, error) {
	return listAllTransactions(ctx, store.tx, page)
}

func (store *TxStore) TransactionByID(ctx context.Context, transactionID uuid.UUID) (*credits.Transaction, error) {
	return transactionByID(ctx, store.tx, transactionID)
}

// chainLockKey derives the advisory lock key from the first 8 bytes of the
// user's UUID, read big-endian. Writers for the same user collide on the
// key; writers for different users practically never do.
func chainLockKey(userID uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(userID[:8]))
}

func lockUserChain(ctx context.Context, db querier, userID uuid.UUID) error {
	if _, err := db.Exec(ctx, sqlLockUserChain, chainLockKey(userID)); err != nil {
		return wrapStoreError(errorSubjectChain, errorCodeLock, err)
	}
	return nil
}

func chainHead(ctx context.Context, db querier, userID uuid.UUID) (credits.Transaction, bool, error) {
	transaction, err := scanTransactionRow(db.QueryRow(ctx, sqlSelectChainHead, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return credits.Transaction{}, false, nil
		}
		return credits.Transaction{}, false, wrapStoreError(errorSubjectChain, errorCodeHead, err)
	}
	return transaction, true, nil
}

func insertTransaction(ctx context.Context, db querier, record credits.TransactionRecord) (credits.Transaction, error) {
	transaction, err := scanTransactionRow(db.QueryRow(ctx, sqlInsertTransaction,
		record.UserID,
		record.Type.String(),
		record.Amount,
		record.BalanceAfter,
		record.PreviousTransactionID,
		record.Description,
		record.CreatedAt,
	))
	if isBalanceCheckViolation(err) {
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeRejected, credits.ErrInsufficientBalance)
	}
	if err != nil {
		return credits.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return transaction, nil
}

func userBalance(ctx context.Context, db querier, userID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := db.QueryRow(ctx, sqlSelectUserBalance, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return balance, nil
}

func usersBalances(ctx context.Context, db querier, userIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	balances := make(map[uuid.UUID]decimal.Decimal, len(userIDs))
	if len(userIDs) == 0 {
		return balances, nil
	}
	rows, err := db.Query(ctx, sqlSelectUsersBalances, userIDs)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBalance, errorCodeLookup, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			userID  uuid.UUID
			balance decimal.Decimal
		)
		if err := rows.Scan(&userID, &balance); err != nil {
			return nil, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
		}
		balances[userID] = balance
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBalance, errorCodeLookup, err)
	}
	return balances, nil
}

func listUserTransactions(ctx context.Context, db querier, userID uuid.UUID, page credits.Page) ([]credits.Transaction, error) {
	rows, err := db.Query(ctx, sqlListUserTransactions, userID, page.Skip, page.Limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func listAllTransactions(ctx context.Context, db querier, page credits.Page) ([]credits.Transaction, error) {
	rows, err := db.Query(ctx, sqlListAllTransactions, page.Skip, page.Limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func transactionByID(ctx context.Context, db querier, transactionID uuid.UUID) (*credits.Transaction, error) {
	transaction, err := scanTransactionRow(db.QueryRow(ctx, sqlSelectTransactionByID, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	return &transaction, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransactionRow(row rowScanner) (credits.Transaction, error) {
	var (
		transaction           credits.Transaction
		transactionTypeValue  string
		previousTransactionID *uuid.UUID
		description           *string
	)
	if err := row.Scan(
		&transaction.ID,
		&transaction.UserID,
		&transactionTypeValue,
		&transaction.Amount,
		&transaction.BalanceAfter,
		&previousTransactionID,
		&description,
		&transaction.CreatedAt,
	); err != nil {
		return credits.Transaction{}, err
	}
	transactionType, err := credits.ParseTransactionType(transactionTypeValue)
	if err != nil {
		return credits.Transaction{}, err
	}
	transaction.Type = transactionType
	transaction.PreviousTransactionID = previousTransactionID
	transaction.Description = description
	return transaction, nil
}

func scanTransactions(rows pgx.Rows) ([]credits.Transaction, error) {
	transactions := make([]credits.Transaction, 0, 32)
	for rows.Next() {
		transaction, err := scanTransactionRow(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func isBalanceCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCheckViolationCode && pgErr.ConstraintName == constraintBalanceNonNegative
	}
	return false
}
