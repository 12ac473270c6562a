package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreditAccount is the per-user marker row the append path locks to
// serialize chain construction on stores without advisory locks.
type CreditAccount struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

func (CreditAccount) TableName() string { return "credit_accounts" }

// CreditTransaction mirrors the credit_transactions table.
type CreditTransaction struct {
	ID                    uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID                uuid.UUID       `gorm:"type:uuid;not null;index:idx_credit_transactions_user_created,priority:1"`
	TransactionType       string          `gorm:"not null"`
	Amount                decimal.Decimal `gorm:"type:numeric;not null"`
	BalanceAfter          decimal.Decimal `gorm:"type:numeric;not null;check:credit_transactions_balance_after_check,balance_after >= 0"`
	PreviousTransactionID *uuid.UUID      `gorm:"type:uuid"`
	Description           *string
	CreatedAt             time.Time `gorm:"not null;index:idx_credit_transactions_user_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (transaction *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.ID == uuid.Nil {
		transaction.ID = uuid.New()
	}
	return nil
}
