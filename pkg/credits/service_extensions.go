package credits

import (
	"context"

	"github.com/google/uuid"
)

// ListUserTransactions returns a user's transactions, most recent first by
// (created_at, id), as a stateless offset-paginated window.
func (service *Service) ListUserTransactions(ctx context.Context, userID uuid.UUID, page Page) ([]Transaction, error) {
	return service.store.ListUserTransactions(ctx, userID, page)
}

// ListAllTransactions returns transactions across all users with the same
// ordering. Gating who may call this belongs to the caller.
func (service *Service) ListAllTransactions(ctx context.Context, page Page) ([]Transaction, error) {
	return service.store.ListAllTransactions(ctx, page)
}

// TransactionByID is a point lookup; it returns nil for an unknown id.
func (service *Service) TransactionByID(ctx context.Context, transactionID uuid.UUID) (*Transaction, error) {
	return service.store.TransactionByID(ctx, transactionID)
}
