package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"otzaria/internal/util"
	"otzaria/pkg/store"
	"otzaria/services/restore/internal/app"
	"otzaria/services/restore/internal/config"
)

func main() {
	// .env.local wins over .env: godotenv never overrides a variable that is already set.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Fatalf("restore failed: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		mode       string
		dryRun     bool
	)
	root := &cobra.Command{
		Use:           "restore",
		Short:         "Rebuild users, books, pages and messages from legacy dumps",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("mode") {
				cfg.Mode = strings.ToLower(strings.TrimSpace(mode))
			}
			if err := config.Validate(cfg, !dryRun); err != nil {
				return err
			}
			logger := util.InitLogger(cfg.LogLevel, cfg.LogFormat)
			return runRestore(cmd.Context(), cfg, dryRun, logger)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default "+config.ConfigPath+")")
	root.Flags().StringVar(&mode, "mode", "", "restore mode: upsert keeps existing rows, replace clears the target first")
	root.Flags().BoolVar(&dryRun, "dry-run", false, "run against an in-memory store and only print the report")

	root.AddCommand(newVerifyCmd(&configPath))
	root.AddCommand(newCreateAdminCmd(&configPath))
	return root
}

func runRestore(ctx context.Context, cfg config.FileConfig, dryRun bool, logger *slog.Logger) error {
	var target store.Store
	if dryRun {
		target = store.NewMemoryStore()
	} else {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		defer gormStore.Close()
		target = gormStore
	}

	srcs, err := openSources(ctx, cfg)
	if err != nil {
		return err
	}
	defer srcs.Close(context.WithoutCancel(ctx))

	deps, err := openRunDeps(cfg, dryRun)
	if err != nil {
		return err
	}
	defer deps.Close()

	appCore, err := app.New(app.Config{
		Store:           target,
		Mode:            app.Mode(cfg.Mode),
		DryRun:          dryRun,
		Files:           srcs.files,
		Backups:         srcs.backups,
		Messages:        srcs.messages,
		Lock:            deps.lock,
		LockTTL:         time.Duration(cfg.LockTTLSeconds) * time.Second,
		Reports:         deps.reports,
		Publisher:       deps.publisher,
		TopClaimants:    cfg.TopClaimants,
		DefaultCategory: cfg.DefaultCategory,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	report, err := appCore.Run(ctx)
	if err != nil {
		if errors.Is(err, app.ErrLocked) {
			return fmt.Errorf("%w: another run holds the lock", err)
		}
		return err
	}
	return report.Render(os.Stdout)
}

func newVerifyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check counters and claimant links of the restored data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(*configPath)
			if err != nil {
				return err
			}
			if err := config.ValidateDatabase(cfg); err != nil {
				return err
			}
			util.InitLogger(cfg.LogLevel, cfg.LogFormat)
			target, err := store.NewGormStore(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("init postgres store: %w", err)
			}
			defer target.Close()
			v, err := app.Verify(cmd.Context(), target, cfg.TopClaimants)
			if err != nil {
				return err
			}
			return app.Report{Verification: v}.Render(os.Stdout)
		},
	}
}

func newCreateAdminCmd(configPath *string) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator, or promote the user with that email",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(*configPath)
			if err != nil {
				return err
			}
			if err := config.ValidateDatabase(cfg); err != nil {
				return err
			}
			logger := util.InitLogger(cfg.LogLevel, cfg.LogFormat)
			if password == "" {
				password = os.Getenv("ADMIN_PASSWORD")
			}
			target, err := store.NewGormStore(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("init postgres store: %w", err)
			}
			defer target.Close()
			user, created, err := app.CreateAdmin(cmd.Context(), target, app.AdminRequest{
				Name:     name,
				Email:    email,
				Password: password,
			})
			if err != nil {
				return err
			}
			logger.Info("admin ready", "id", user.ID, "email", user.Email, "created", created)
			fmt.Fprintf(os.Stdout, "admin %s <%s> ready\n", user.Name, user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "admin", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "password (default $ADMIN_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
