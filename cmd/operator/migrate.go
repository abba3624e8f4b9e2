package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/easeaico/project-kairos/internal/storage"
)

func newMigrateCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update application tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dryRun {
				fmt.Println("Dry run mode - no changes will be made")
				fmt.Println("  - Would enable pgvector (postgres only)")
				fmt.Println("  - Would migrate threads, messages, memories, insights, category_insights, user_profiles, user_preferences")
				return nil
			}
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Printf("Migrating application tables (%s)...\n", store.Dialect())
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("  ✓ Application tables migrated")
			fmt.Println("\nMigration completed successfully!")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be migrated without executing")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	var (
		file   string
		dir    string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Execute SQL migration files from a directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			files, err := findMigrationFiles(dir, file)
			if err != nil {
				return fmt.Errorf("failed to find migration files: %w", err)
			}
			if len(files) == 0 {
				fmt.Println("No migration files found")
				return nil
			}
			fmt.Printf("Found %d migration file(s):\n", len(files))
			for _, f := range files {
				fmt.Printf("  - %s\n", filepath.Base(f))
			}
			if dryRun {
				fmt.Println("\nDry run mode - no SQL will be executed")
				return nil
			}

			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Println("\nExecuting migrations...")
			for _, f := range files {
				fmt.Printf("  Running %s... ", filepath.Base(f))
				content, err := os.ReadFile(f)
				if err != nil {
					fmt.Println("✗")
					return fmt.Errorf("failed to read %s: %w", f, err)
				}
				if err := store.DB().WithContext(cmd.Context()).Exec(string(content)).Error; err != nil {
					fmt.Println("✗")
					return fmt.Errorf("failed to execute %s: %w", f, err)
				}
				fmt.Println("✓")
			}
			fmt.Println("\nSchema migration completed successfully!")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Specific migration file to execute")
	cmd.Flags().StringVar(&dir, "dir", "migrations", "Directory containing migration files")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be executed without running")
	return cmd
}

// openStore connects using only DATABASE_URL.
func openStore(ctx context.Context) (*storage.Store, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return storage.Open(ctx, dbURL)
}

func findMigrationFiles(dir, specificFile string) ([]string, error) {
	if specificFile != "" {
		fullPath := filepath.Join(dir, specificFile)
		if _, err := os.Stat(fullPath); err != nil {
			return nil, fmt.Errorf("migration file not found: %s", fullPath)
		}
		return []string{fullPath}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
