package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the ledger's backing table. The named check
// constraint on balance_after is the hard floor the append protocol relies
// on: a write that would drive a balance negative fails the insert and the
// surrounding transaction rolls back whole.
const Schema = `
create table if not exists credit_transactions (
	id uuid primary key default gen_random_uuid(),
	user_id uuid not null,
	transaction_type text not null
		constraint credit_transactions_transaction_type_check
		check (transaction_type in ('purchase', 'admin_grant', 'admin_removal', 'usage')),
	amount numeric not null
		constraint credit_transactions_amount_check
		check (amount > 0),
	balance_after numeric not null
		constraint credit_transactions_balance_after_check
		check (balance_after >= 0),
	previous_transaction_id uuid references credit_transactions(id),
	description text,
	created_at timestamptz not null default now()
);

create index if not exists idx_credit_transactions_user_created
	on credit_transactions (user_id, created_at desc, id desc);
`

// EnsureSchema applies the ledger schema idempotently.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeMigrate, err)
	}
	return nil
}
