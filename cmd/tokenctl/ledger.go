package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/reach/reach-api/internal/domain/ledger"
	"github.com/reach/reach-api/internal/pkg/database"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)

	rootCmd.AddCommand(grantCmd)
	grantCmd.Flags().String("child", "", "Child ID")
	grantCmd.Flags().Int64("amount", 0, "Tokens to credit (negative debits)")
	grantCmd.Flags().String("reason", string(ledger.ReasonGift), "Ledger reason")
	grantCmd.Flags().String("memo", "", "Free-text memo")
	grantCmd.Flags().String("ref", "", "Idempotency reference, e.g. grants/2026-10-campaign")
	_ = grantCmd.MarkFlagRequired("child")
	_ = grantCmd.MarkFlagRequired("amount")

	rootCmd.AddCommand(weeklyResetCmd)

	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().String("child", "", "Child ID")
	_ = verifyCmd.MarkFlagRequired("child")
}

// withDB opens PostgreSQL for the duration of fn.
func withDB(fn func(ctx context.Context, db *sqlx.DB) error) error {
	if cfg.UsesMemoryStore() {
		return errors.New("DATABASE_URL is not set")
	}
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer database.ClosePostgres(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	return fn(ctx, db)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(database.MigrateUp)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(database.MigrateDown)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(database.MigrationStatus)
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Credit or debit a child's account directly",
	Long: `Apply one ledger entry through the transaction engine. Use --ref to make
the grant safe to re-run: a second grant with the same reference is reported
as a duplicate and changes nothing.`,
	RunE: runGrant,
}

func runGrant(cmd *cobra.Command, args []string) error {
	childID, err := uuidFlag(cmd, "child")
	if err != nil {
		return err
	}
	amount, _ := cmd.Flags().GetInt64("amount")
	reason, _ := cmd.Flags().GetString("reason")
	memo, _ := cmd.Flags().GetString("memo")
	ref, _ := cmd.Flags().GetString("ref")

	entry := ledger.Entry{
		AccountID: childID,
		Delta:     amount,
		Reason:    ledger.Reason(reason),
		Memo:      memo,
	}
	if ref != "" {
		entry.RefTable, entry.RefID = splitRef(ref)
	}

	return withDB(func(ctx context.Context, db *sqlx.DB) error {
		repo := ledger.NewRepository(db)
		if _, err := ledger.NewAccountManager(repo).GetOrCreate(ctx, childID); err != nil {
			return err
		}
		result, err := ledger.NewEngine(repo, nil).Apply(ctx, entry)
		if err != nil {
			return err
		}
		if result.Duplicate {
			cmd.Printf("already applied as %s, balance %d\n", result.Transaction.ID, result.Balance)
			return nil
		}
		cmd.Printf("transaction %s applied, balance %d\n", result.Transaction.ID, result.Balance)
		return nil
	})
}

var weeklyResetCmd = &cobra.Command{
	Use:   "weekly-reset",
	Short: "Zero weekly_earned on every account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(ctx context.Context, db *sqlx.DB) error {
			n, err := ledger.NewAccountManager(ledger.NewRepository(db)).ResetWeekly(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("reset %d accounts\n", n)
			return nil
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that a balance equals the sum of its ledger rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		childID, err := uuidFlag(cmd, "child")
		if err != nil {
			return err
		}
		return withDB(func(ctx context.Context, db *sqlx.DB) error {
			account, err := ledger.NewAccountManager(ledger.NewRepository(db)).Verify(ctx, childID)
			if err != nil {
				return err
			}
			cmd.Printf("ok: balance %d\n", account.Balance)
			return nil
		})
	},
}

func uuidFlag(cmd *cobra.Command, name string) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--%s: %w", name, err)
	}
	return id, nil
}

// splitRef turns "table/id" into its parts; a bare id goes under "grants".
func splitRef(ref string) (string, string) {
	if table, id, ok := strings.Cut(ref, "/"); ok {
		return table, id
	}
	return "grants", ref
}
