package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/discovery-swarm/internal/store"
)

func migrateCmd() *cobra.Command {
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the SQL store",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			var (
				dialect store.Dialect
				dsn     string
			)
			switch cfg.Store.Backend {
			case store.BackendSQLite:
				dialect, dsn = store.DialectSQLite, cfg.Store.SQLitePath
			case store.BackendPostgres:
				dialect, dsn = store.DialectPostgres, cfg.Store.PostgresDSN
			default:
				return fmt.Errorf("migrate: store backend %q has no SQL schema", cfg.Store.Backend)
			}

			st, err := store.OpenSQL(ctx, dialect, dsn, false, logger)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer func() { _ = st.Close() }()

			if !statusOnly {
				applied, err := store.Migrate(ctx, st.DB(), dialect)
				if err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				for _, v := range applied {
					fmt.Printf("applied migration %d\n", v)
				}
			}

			v, err := store.MigrationVersion(ctx, st.DB(), dialect)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Printf("Schema version: %d\n", v)
			return nil
		},
	}

	cmd.Flags().BoolVar(&statusOnly, "status", false, "print the current schema version without migrating")
	return cmd
}
