package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"casedesk.org/internal/audit"
	"casedesk.org/internal/auth"
	"casedesk.org/internal/migrate"
	"casedesk.org/internal/obs"
	"casedesk.org/internal/store/pg"
)

var (
	dsn      string
	seedsDir string
	timeout  time.Duration

	adminUser     string
	adminEmail    string
	adminPassword string
)

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Manage the casedesk PostgreSQL schema",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(dsn) == "" {
			return errors.New("missing DSN: provide --dsn or CASEDESK_PG_DSN")
		}
		return nil
	},
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(ctx context.Context, _ *pg.Store, m *migrate.Manager) error {
			n, err := m.Up(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(ctx context.Context, _ *pg.Store, m *migrate.Manager) error {
			mig, err := m.Down(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", mig.Name)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List schema migrations and whether they are applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(ctx context.Context, _ *pg.Store, m *migrate.Manager) error {
			rows, err := m.Status(ctx)
			if err != nil {
				return err
			}
			for _, row := range rows {
				state := "pending"
				if row.Applied {
					state = "applied " + row.AppliedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%05d  %-32s %s\n", row.Version, row.Name, state)
			}
			return nil
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Apply SQL seeds and bootstrap the admin account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(ctx context.Context, store *pg.Store, m *migrate.Manager) error {
			n, err := m.Seed(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d seed(s)\n", n)
			if adminUser == "" {
				return nil
			}
			return bootstrapAdmin(ctx, store)
		})
	},
}

func withManager(ctx context.Context, fn func(context.Context, *pg.Store, *migrate.Manager) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	store, err := pg.Open(dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	var opts []migrate.Option
	if seedsDir != "" {
		opts = append(opts, migrate.WithSeeds(os.DirFS(seedsDir)))
	}
	m, err := migrate.NewManager(store.DB(), pg.Migrations(), opts...)
	if err != nil {
		return err
	}
	return fn(ctx, store, m)
}

// bootstrapAdmin creates the first admin account. An existing account is left alone.
func bootstrapAdmin(ctx context.Context, store *pg.Store) error {
	if adminEmail == "" || adminPassword == "" {
		return errors.New("--admin-email and --admin-password (or CASEDESK_ADMIN_PASSWORD) are required with --admin-user")
	}
	// no tokens are issued here; the signing key only satisfies the constructor
	tokens, err := auth.NewTokenService(uuid.NewString()+uuid.NewString(), "", nil)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(store.Users(), tokens, auth.WithAudit(audit.NewRecorder(store.Audit())))
	if err != nil {
		return err
	}
	u, err := svc.CreateUser(ctx, auth.RegisterInput{Username: adminUser, Email: adminEmail, Password: adminPassword}, auth.RoleAdmin)
	switch {
	case errors.Is(err, auth.ErrAlreadyExists):
		obs.Logger().WithField("username", adminUser).Info("admin account already exists")
		return nil
	case err != nil:
		return err
	}
	obs.Logger().WithField("user_id", u.ID).Info("admin account created")
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("CASEDESK_PG_DSN"), "PostgreSQL DSN")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")

	seedCmd.Flags().StringVar(&seedsDir, "seeds-dir", "", "directory of goose-annotated *.sql seed files")
	seedCmd.Flags().StringVar(&adminUser, "admin-user", "", "username of the admin account to bootstrap")
	seedCmd.Flags().StringVar(&adminEmail, "admin-email", "", "email of the bootstrapped admin")
	seedCmd.Flags().StringVar(&adminPassword, "admin-password", os.Getenv("CASEDESK_ADMIN_PASSWORD"), "password of the bootstrapped admin")

	rootCmd.AddCommand(upCmd, downCmd, statusCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		obs.Logger().WithError(err).Error("migrate failed")
		os.Exit(1)
	}
}
