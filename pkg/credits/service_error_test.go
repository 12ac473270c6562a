package credits

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

var errStoreFailure = errors.New("store failure")

func TestCreateTransactionReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *memoryStore)
	}{
		{
			name:      "transaction begin error",
			configure: func(store *memoryStore) { store.txError = errStoreFailure },
		},
		{
			name:      "lock error",
			configure: func(store *memoryStore) { store.lockError = errStoreFailure },
		},
		{
			name:      "chain head error",
			configure: func(store *memoryStore) { store.headError = errStoreFailure },
		},
		{
			name:      "insert error",
			configure: func(store *memoryStore) { store.insertError = errStoreFailure },
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newMemoryStore(test)
			testCase.configure(store)
			service := mustNewService(test, store)

			_, err := service.CreateTransaction(context.Background(), uuid.New(), TransactionPurchase, mustAmount(test, "10"), nil)
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf("expected store failure, got %v", err)
			}
			if got := len(store.snapshotRows()); got != 0 {
				test.Fatalf("failed unit must commit nothing, got %d rows", got)
			}
		})
	}
}

func TestReadOperationsReturnStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *memoryStore)
		call      func(service *Service) error
	}{
		{
			name:      "balance error",
			configure: func(store *memoryStore) { store.balanceError = errStoreFailure },
			call: func(service *Service) error {
				_, err := service.Balance(context.Background(), uuid.New())
				return err
			},
		},
		{
			name:      "bulk balances error",
			configure: func(store *memoryStore) { store.bulkError = errStoreFailure },
			call: func(service *Service) error {
				_, err := service.BalancesBulk(context.Background(), []uuid.UUID{uuid.New()})
				return err
			},
		},
		{
			name:      "user listing error",
			configure: func(store *memoryStore) { store.listError = errStoreFailure },
			call: func(service *Service) error {
				_, err := service.ListUserTransactions(context.Background(), uuid.New(), Page{Skip: 0, Limit: 10})
				return err
			},
		},
		{
			name:      "global listing error",
			configure: func(store *memoryStore) { store.listError = errStoreFailure },
			call: func(service *Service) error {
				_, err := service.ListAllTransactions(context.Background(), Page{Skip: 0, Limit: 10})
				return err
			},
		},
		{
			name:      "lookup error",
			configure: func(store *memoryStore) { store.lookupError = errStoreFailure },
			call: func(service *Service) error {
				_, err := service.TransactionByID(context.Background(), uuid.New())
				return err
			},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newMemoryStore(test)
			testCase.configure(store)
			service := mustNewService(test, store)

			if err := testCase.call(service); !errors.Is(err, errStoreFailure) {
				test.Fatalf("expected store failure, got %v", err)
			}
		})
	}
}
