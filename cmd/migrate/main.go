package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"finassist_back/documents"
	"finassist_back/logging"
)

func main() {
	var (
		dir    string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Bulk-load pre-chunked document exports into the document store",
		Long: `migrate reads every .json chunk file in the given directory and loads the
contained documents and embeddings into the configured database. Files are
processed independently; a broken file is reported and skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			logger, err := logging.NewFromEnv()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync()

			var store documents.Store
			if dryRun && os.Getenv("DATABASE_DSN") == "" {
				store = documents.NewMemoryStore()
			} else {
				store, err = documents.NewGormStoreFromEnv()
				if err != nil {
					return fmt.Errorf("open document store: %w", err)
				}
			}

			migrator := documents.NewMigrator(store, logger)
			stats, err := migrator.MigrateDirectory(cmd.Context(), dir, dryRun)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "files seen:     %d\n", stats.FilesSeen)
			fmt.Fprintf(cmd.OutOrStdout(), "files migrated: %d\n", stats.FilesMigrated)
			fmt.Fprintf(cmd.OutOrStdout(), "files failed:   %d\n", stats.FilesFailed)
			fmt.Fprintf(cmd.OutOrStdout(), "documents:      %d\n", stats.Documents)
			fmt.Fprintf(cmd.OutOrStdout(), "chunks:         %d\n", stats.Chunks)
			for _, fileErr := range stats.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", fileErr)
			}

			if stats.FilesFailed > 0 {
				logger.Warn("migration finished with failures",
					zap.Int("failed", stats.FilesFailed),
					zap.Int("migrated", stats.FilesMigrated))
			}
			if stats.FilesSeen > 0 && stats.FilesMigrated == 0 {
				return fmt.Errorf("all %d chunk files failed", stats.FilesSeen)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "data/documents", "directory holding .json chunk files")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and validate without writing to the store")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
