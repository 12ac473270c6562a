// Package oplog adapts the ledger's operation log onto zap.
package oplog

import (
	"context"

	"github.com/google/uuid"
	"github.com/inferctl/creditledger/pkg/credits"
	"go.uber.org/zap"
)

const (
	messageOperation       = "ledger operation"
	messageOperationFailed = "ledger operation failed"
)

// Logger implements credits.OperationLogger.
type Logger struct {
	base *zap.Logger
}

// New wraps a zap logger.
func New(base *zap.Logger) *Logger {
	return &Logger{base: base}
}

func (logger *Logger) LogOperation(_ context.Context, entry credits.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("transaction_type", entry.Type.String()),
		zap.String("amount", entry.Amount.String()),
		zap.String("status", entry.Status),
	}
	if entry.TransactionID != uuid.Nil {
		fields = append(fields, zap.String("transaction_id", entry.TransactionID.String()))
	}
	if entry.Error != nil {
		logger.base.Warn(messageOperationFailed, append(fields, zap.Error(entry.Error))...)
		return
	}
	fields = append(fields, zap.String("balance_after", entry.BalanceAfter.String()))
	logger.base.Info(messageOperation, fields...)
}
