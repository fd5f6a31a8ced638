// Package main provides the Strongbox database maintenance CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MacJediWizard/strongbox/internal/auth"
	"github.com/MacJediWizard/strongbox/internal/db"
	"github.com/MacJediWizard/strongbox/internal/models"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dbURL string

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	connect := func(ctx context.Context) (*db.DB, error) {
		url := dbURL
		if url == "" {
			url = os.Getenv("DATABASE_URL")
		}
		if url == "" {
			return nil, errors.New("database URL required: use --db or set DATABASE_URL")
		}
		cfg := db.DefaultConfig(url)
		cfg.MaxConns = 2
		cfg.MinConns = 0
		database, err := db.New(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		return database, nil
	}

	root := &cobra.Command{
		Use:          "strongbox-migrate",
		Short:        "Manage the Strongbox server database",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dbURL, "db", "", "database URL (or set DATABASE_URL)")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
				defer cancel()
				database, err := connect(ctx)
				if err != nil {
					return err
				}
				defer database.Close()

				applied, err := database.Migrate(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				version, err := database.CurrentVersion(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Applied %d migration(s), schema version %d\n", applied, version)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
				defer cancel()
				database, err := connect(ctx)
				if err != nil {
					return err
				}
				defer database.Close()

				version, err := database.CurrentVersion(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Current schema version: %d\n", version)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List embedded migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				migrations, err := db.GetMigrations()
				if err != nil {
					return err
				}
				if len(migrations) == 0 {
					fmt.Println("No migrations found")
					return nil
				}
				fmt.Println("Available migrations:")
				for _, m := range migrations {
					fmt.Printf("  %03d: %s\n", m.Version, m.Name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "create-client <name>",
			Short: "Register a client and print its API key",
			Long: `Register a client directly in the database and print its API key.

The key is shown once. Use it with 'strongbox-agent register'.`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name := strings.TrimSpace(args[0])
				if name == "" {
					return errors.New("client name cannot be empty")
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
				defer cancel()
				database, err := connect(ctx)
				if err != nil {
					return err
				}
				defer database.Close()

				key, hash, err := auth.GenerateAPIKey()
				if err != nil {
					return err
				}
				client := models.NewClient(name, hash)
				if err := database.CreateClient(ctx, client); err != nil {
					return err
				}
				fmt.Printf("Client ID: %s\n", client.ID)
				fmt.Printf("API key:   %s\n", key)
				return nil
			},
		},
	)
	return root
}
