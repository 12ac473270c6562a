package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/inferctl/creditledger/internal/oplog"
	"github.com/inferctl/creditledger/internal/store/gormstore"
	"github.com/inferctl/creditledger/internal/store/pgstore"
	"github.com/inferctl/creditledger/pkg/credits"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL      = "database-url"
	flagStore            = "store"
	flagDescription      = "description"
	flagSkip             = "skip"
	flagLimit            = "limit"
	configKeyDatabaseURL = "database_url"
	configKeyStore       = "store"
	defaultDatabaseURL   = "sqlite:///tmp/creditledger.db"

	storeBackendPgx  = "pgx"
	storeBackendGorm = "gorm"

	defaultListLimit = 50
	maxListLimit     = 200
)

type runtimeConfig struct {
	DatabaseURL string
	Store       string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "creditctl",
		Short:         "Credit ledger admin tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
	}

	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or SQLite connection string")
	cmd.PersistentFlags().String(flagStore, storeBackendPgx, "PostgreSQL store backend: pgx or gorm")

	cmd.AddCommand(
		newGrantCommand(cfg),
		newRemoveCommand(cfg),
		newBalanceCommand(cfg),
		newBalancesCommand(cfg),
		newHistoryCommand(cfg),
		newTransactionsCommand(cfg),
		newShowCommand(cfg),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv(configKeyDatabaseURL, "DATABASE_URL"); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyDatabaseURL, cmd.Root().PersistentFlags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyStore, cmd.Root().PersistentFlags().Lookup(flagStore)); err != nil {
		return err
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.Store = viper.GetString(configKeyStore)
	switch cfg.Store {
	case "", storeBackendPgx:
		cfg.Store = storeBackendPgx
	case storeBackendGorm:
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store)
	}
	return nil
}

func newGrantCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant <user-id> <amount>",
		Short: "Append an admin grant to a user's chain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, cfg, credits.TransactionAdminGrant, args)
		},
	}
	cmd.Flags().String(flagDescription, "", "free-text annotation")
	return cmd
}

func newRemoveCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <user-id> <amount>",
		Short: "Append an admin removal to a user's chain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, cfg, credits.TransactionAdminRemoval, args)
		},
	}
	cmd.Flags().String(flagDescription, "", "free-text annotation")
	return cmd
}

func newBalanceCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Print a user's current balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse user id: %w", err)
			}
			return withService(cmd.Context(), cfg, func(ctx context.Context, service *credits.Service) error {
				balance, err := service.Balance(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"user_id": userID.String(), "balance": balance})
			})
		},
	}
}

func newBalancesCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "balances <user-id>...",
		Short: "Print balances for several users in one query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userIDs := make([]uuid.UUID, 0, len(args))
			for _, raw := range args {
				userID, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("parse user id %q: %w", raw, err)
				}
				userIDs = append(userIDs, userID)
			}
			return withService(cmd.Context(), cfg, func(ctx context.Context, service *credits.Service) error {
				balances, err := service.BalancesBulk(ctx, userIDs)
				if err != nil {
					return err
				}
				view := make(map[string]float64, len(balances))
				for userID, balance := range balances {
					view[userID.String()] = balance
				}
				return printJSON(cmd, view)
			})
		},
	}
}

func newHistoryCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "List a user's transactions, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse user id: %w", err)
			}
			page, err := pageFromFlags(cmd)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(ctx context.Context, service *credits.Service) error {
				transactions, err := service.ListUserTransactions(ctx, userID, page)
				if err != nil {
					return err
				}
				return printJSON(cmd, transactionViews(transactions))
			})
		},
	}
	cmd.Flags().Int64(flagSkip, 0, "rows to skip")
	cmd.Flags().Int64(flagLimit, defaultListLimit, "maximum rows to return")
	return cmd
}

func newTransactionsCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List transactions across all users, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := pageFromFlags(cmd)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(ctx context.Context, service *credits.Service) error {
				transactions, err := service.ListAllTransactions(ctx, page)
				if err != nil {
					return err
				}
				return printJSON(cmd, transactionViews(transactions))
			})
		},
	}
	cmd.Flags().Int64(flagSkip, 0, "rows to skip")
	cmd.Flags().Int64(flagLimit, defaultListLimit, "maximum rows to return")
	return cmd
}

func newShowCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "show <transaction-id>",
		Short: "Print a single transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transactionID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse transaction id: %w", err)
			}
			return withService(cmd.Context(), cfg, func(ctx context.Context, service *credits.Service) error {
				transaction, err := service.TransactionByID(ctx, transactionID)
				if err != nil {
					return err
				}
				if transaction == nil {
					return fmt.Errorf("transaction %s not found", transactionID)
				}
				return printJSON(cmd, newTransactionView(*transaction))
			})
		},
	}
}

func runCreate(cmd *cobra.Command, cfg *runtimeConfig, transactionType credits.TransactionType, args []string) error {
	userID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("parse user id: %w", err)
	}
	amount, err := credits.ParseAmount(args[1])
	if err != nil {
		return err
	}
	var description *string
	if raw, err := cmd.Flags().GetString(flagDescription); err == nil && raw != "" {
		description = &raw
	}
	return withService(cmd.Context(), cfg, func(ctx context.Context, service *credits.Service) error {
		transaction, err := service.CreateTransaction(ctx, userID, transactionType, amount, description)
		if err != nil {
			return err
		}
		return printJSON(cmd, newTransactionView(transaction))
	})
}

// pageFromFlags applies the listing default and cap. Clamping lives here,
// in the calling layer, not in the ledger.
func pageFromFlags(cmd *cobra.Command) (credits.Page, error) {
	skip, err := cmd.Flags().GetInt64(flagSkip)
	if err != nil {
		return credits.Page{}, err
	}
	limit, err := cmd.Flags().GetInt64(flagLimit)
	if err != nil {
		return credits.Page{}, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return credits.NewPage(skip, limit)
}

func withService(parent context.Context, cfg *runtimeConfig, fn func(ctx context.Context, service *credits.Service) error) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	service, err := credits.NewService(store, time.Now, credits.WithOperationLogger(oplog.New(logger)))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	return fn(ctx, service)
}

// openStore picks the store implementation by DSN scheme: pgx for
// PostgreSQL (or GORM when --store=gorm), GORM over glebarez for SQLite.
// Schema setup is applied on every start; all paths are idempotent.
func openStore(ctx context.Context, cfg *runtimeConfig) (credits.Store, func(), error) {
	driver, sqlitePath, err := resolveDriver(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	if driver == "postgres" && cfg.Store == storeBackendPgx {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgstore.New(pool), pool.Close, nil
	}

	var db *gorm.DB
	if driver == "postgres" {
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	} else {
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	store := gormstore.New(db.WithContext(ctx))
	if err := store.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return store, func() { _ = sqlDB.Close() }, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "creditledger.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

type transactionView struct {
	ID                    string          `json:"id"`
	UserID                string          `json:"user_id"`
	TransactionType       string          `json:"transaction_type"`
	Amount                decimal.Decimal `json:"amount"`
	BalanceAfter          decimal.Decimal `json:"balance_after"`
	PreviousTransactionID *string         `json:"previous_transaction_id,omitempty"`
	Description           *string         `json:"description,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

func newTransactionView(transaction credits.Transaction) transactionView {
	view := transactionView{
		ID:              transaction.ID.String(),
		UserID:          transaction.UserID.String(),
		TransactionType: transaction.Type.String(),
		Amount:          transaction.Amount,
		BalanceAfter:    transaction.BalanceAfter,
		Description:     transaction.Description,
		CreatedAt:       transaction.CreatedAt,
	}
	if transaction.PreviousTransactionID != nil {
		previousID := transaction.PreviousTransactionID.String()
		view.PreviousTransactionID = &previousID
	}
	return view
}

func transactionViews(transactions []credits.Transaction) []transactionView {
	views := make([]transactionView, 0, len(transactions))
	for _, transaction := range transactions {
		views = append(views, newTransactionView(transaction))
	}
	return views
}

func printJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
