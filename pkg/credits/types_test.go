package credits

import (
	"errors"
	"testing"
)

func TestParseTransactionType(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		raw     string
		want    TransactionType
		wantErr error
	}{
		{name: "purchase", raw: "purchase", want: TransactionPurchase},
		{name: "admin grant", raw: "admin_grant", want: TransactionAdminGrant},
		{name: "admin removal", raw: "admin_removal", want: TransactionAdminRemoval},
		{name: "usage", raw: "usage", want: TransactionUsage},
		{name: "surrounding whitespace", raw: "  usage\n", want: TransactionUsage},
		{name: "unknown value", raw: "refund", wantErr: ErrInvalidTransactionType},
		{name: "case mismatch", raw: "Purchase", wantErr: ErrInvalidTransactionType},
		{name: "empty", raw: "", wantErr: ErrInvalidTransactionType},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			parsed, err := ParseTransactionType(testCase.raw)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("parse: %v", err)
			}
			if parsed != testCase.want {
				test.Fatalf("expected %s, got %s", testCase.want, parsed)
			}
		})
	}
}

func TestTransactionTypeAdditive(test *testing.T) {
	test.Parallel()
	additive := map[TransactionType]bool{
		TransactionPurchase:     true,
		TransactionAdminGrant:   true,
		TransactionAdminRemoval: false,
		TransactionUsage:        false,
	}
	for transactionType, want := range additive {
		if got := transactionType.Additive(); got != want {
			test.Fatalf("%s: expected additive=%t, got %t", transactionType, want, got)
		}
	}
}

func TestParseAmount(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "integer", raw: "100", want: "100"},
		{name: "fractional", raw: "100.50", want: "100.5"},
		{name: "small fraction", raw: "0.01", want: "0.01"},
		{name: "zero", raw: "0", wantErr: ErrInvalidAmount},
		{name: "negative", raw: "-5", wantErr: ErrInvalidAmount},
		{name: "not a number", raw: "ten", wantErr: ErrInvalidAmount},
		{name: "empty", raw: "", wantErr: ErrInvalidAmount},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			amount, err := ParseAmount(testCase.raw)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("parse: %v", err)
			}
			if amount.String() != testCase.want {
				test.Fatalf("expected %s, got %s", testCase.want, amount)
			}
		})
	}
}

func TestNewAmountRejectsNonPositive(test *testing.T) {
	test.Parallel()
	if _, err := NewAmount(mustDecimal(test, "0")); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if _, err := NewAmount(mustDecimal(test, "-0.01")); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
	amount, err := NewAmount(mustDecimal(test, "0.01"))
	if err != nil {
		test.Fatalf("new amount: %v", err)
	}
	if !amount.Decimal().Equal(mustDecimal(test, "0.01")) {
		test.Fatalf("unexpected amount %s", amount)
	}
}

func TestNewPage(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		skip    int64
		limit   int64
		wantErr error
	}{
		{name: "first page", skip: 0, limit: 50},
		{name: "offset page", skip: 100, limit: 10},
		{name: "negative skip", skip: -1, limit: 10, wantErr: ErrInvalidPage},
		{name: "zero limit", skip: 0, limit: 0, wantErr: ErrInvalidPage},
		{name: "negative limit", skip: 0, limit: -5, wantErr: ErrInvalidPage},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			page, err := NewPage(testCase.skip, testCase.limit)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("new page: %v", err)
			}
			if page.Skip != testCase.skip || page.Limit != testCase.limit {
				test.Fatalf("unexpected page %+v", page)
			}
		})
	}
}
