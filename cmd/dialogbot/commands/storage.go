package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/m3rciful/dialogbot/app"
	"github.com/m3rciful/dialogbot/automation/store"
	corecmd "github.com/m3rciful/dialogbot/core/cmd"
	coredatabase "github.com/m3rciful/dialogbot/core/database"
	"github.com/m3rciful/dialogbot/core/logger"
)

func loadStorageConfig(cmd *cobra.Command) (*app.Config, error) {
	path, err := corecmd.ResolveConfigPath(configPath(cmd), configEnvVar, "config.yaml")
	if err != nil {
		return nil, err
	}
	cfg, err := app.LoadStorageConfig(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadStorageConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Shutdown() }()
			db, err := coredatabase.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return coredatabase.Migrate(cmd.Context(), db, store.Migrations, store.MigrationsDir)
		},
	}
}

func newKeygenCmd() *cobra.Command {
	var toKeyring bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a session sealing key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := store.GenerateKey()
			if err != nil {
				return err
			}
			if !toKeyring {
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			}
			cfg, err := loadStorageConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Shutdown() }()
			if err := app.StoreSessionKey(cfg.Secrets, key); err != nil {
				return fmt.Errorf("store key in keyring: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key stored in keyring %s/%s\n", cfg.Secrets.KeyringService, cfg.Secrets.KeyringUser)
			return nil
		},
	}
	cmd.Flags().BoolVar(&toKeyring, "keyring", false, "store the key in the OS keyring instead of printing it")
	return cmd
}

// openStore connects to the database for offline account management.
func openStore(cmd *cobra.Command) (*store.Store, func(), error) {
	cfg, err := loadStorageConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	sealer, err := app.NewSealer(cfg.Secrets)
	if err != nil {
		_ = logger.Shutdown()
		return nil, nil, err
	}
	db, err := coredatabase.Open(cmd.Context(), cfg.Database)
	if err != nil {
		_ = logger.Shutdown()
		return nil, nil, err
	}
	closeFn := func() {
		_ = db.Close()
		_ = logger.Shutdown()
	}
	return store.New(db, sealer), closeFn, nil
}

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage automated accounts",
	}
	cmd.AddCommand(newAccountAddCmd(), newAccountListCmd(), newAccountToggleCmd("enable", true), newAccountToggleCmd("disable", false))
	return cmd
}

func newAccountAddCmd() *cobra.Command {
	var phone, sessionFile, greeting string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or refresh an account from a string session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := readSession(cmd.InOrStdin(), sessionFile)
			if err != nil {
				return err
			}
			st, closeFn, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			id, err := st.AddAccount(ctx, store.NewAccount{Phone: phone, Session: session, Greeting: greeting})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %d saved\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "account phone number")
	cmd.Flags().StringVar(&sessionFile, "session-file", "-", "file holding the string session, - for stdin")
	cmd.Flags().StringVar(&greeting, "greeting", "", "greeting text sent to each new partner")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func readSession(stdin io.Reader, file string) (string, error) {
	var (
		raw []byte
		err error
	)
	if file == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	session := strings.TrimSpace(string(raw))
	if session == "" {
		return "", fmt.Errorf("read session: empty input")
	}
	return session, nil
}

func newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts and their last known status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, closeFn, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			accounts, err := st.ListAccounts(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, a := range accounts {
				line := fmt.Sprintf("#%-4d %-16s %s", a.ID, a.Phone, statusColor(a).Sprint(a.Status))
				if !a.IsActive {
					line += color.New(color.Faint).Sprint(" (disabled)")
				}
				if a.ErrorMessage.Valid && a.ErrorMessage.String != "" {
					line += "  " + color.RedString(a.ErrorMessage.String)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func statusColor(a store.AccountSummary) *color.Color {
	switch a.Status {
	case "error":
		return color.New(color.FgRed, color.Bold)
	case "paused":
		return color.New(color.FgYellow)
	case "stopped", "idle":
		return color.New(color.Faint)
	default:
		return color.New(color.FgGreen)
	}
}

func newAccountToggleCmd(name string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <id>",
		Short: strings.ToUpper(name[:1]) + name[1:] + " an account for start-all",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid account id %q", args[0])
			}
			st, closeFn, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := st.SetActive(cmd.Context(), id, active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %d %sd\n", id, name)
			return nil
		},
	}
}
