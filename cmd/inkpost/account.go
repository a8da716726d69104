package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/shineum/inkpost/internal/address"
	"github.com/shineum/inkpost/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
			fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
			return nil
		})
	},
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage the accounts allowed to send documents",
}

var (
	accountEmail    string
	accountVerified bool
)

var accountAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an account",
	RunE:  runAccountAdd,
}

var accountVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Mark an account's e-mail address as verified",
	RunE:  runAccountVerify,
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE:  runAccountList,
}

func init() {
	accountAddCmd.Flags().StringVar(&accountEmail, "email", "", "account e-mail address (required)")
	accountAddCmd.Flags().BoolVar(&accountVerified, "verified", false, "create the account already verified")
	accountAddCmd.MarkFlagRequired("email")

	accountVerifyCmd.Flags().StringVar(&accountEmail, "email", "", "account e-mail address (required)")
	accountVerifyCmd.MarkFlagRequired("email")

	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountVerifyCmd)
	accountCmd.AddCommand(accountListCmd)
}

func runAccountAdd(cmd *cobra.Command, args []string) error {
	mbox, err := address.Parse(accountEmail)
	if err != nil {
		return fmt.Errorf("invalid e-mail address %q: %w", accountEmail, err)
	}

	return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
		account, err := s.CreateAccount(ctx, mbox.String(), accountVerified)
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("account %s already exists", mbox)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created account %d (%s, verified=%t)\n", account.ID, account.Email, account.EmailVerified)
		return nil
	})
}

func runAccountVerify(cmd *cobra.Command, args []string) error {
	return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
		err := s.SetEmailVerified(ctx, accountEmail, true)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("account %s not found", accountEmail)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "verified %s\n", accountEmail)
		return nil
	})
}

func runAccountList(cmd *cobra.Command, args []string) error {
	return withStore(cmd.Context(), func(ctx context.Context, s *store.Store) error {
		accounts, err := s.Accounts(ctx)
		if err != nil {
			return err
		}
		return printAccounts(cmd.OutOrStdout(), accounts)
	})
}

func printAccounts(out io.Writer, accounts []store.Account) error {
	if len(accounts) == 0 {
		fmt.Fprintln(out, "No accounts found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tVERIFIED\tCREATED")
	for _, a := range accounts {
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", a.ID, a.Email, a.EmailVerified, a.CreatedAt.UTC().Format(time.RFC3339))
	}
	return w.Flush()
}

// withStore opens and migrates the configured database for an admin command.
func withStore(ctx context.Context, fn func(context.Context, *store.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	s, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		return err
	}
	return fn(ctx, s)
}
