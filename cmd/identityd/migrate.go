package main

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/store/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	for _, sub := range []struct {
		use, short string
	}{
		{"up", "Apply all pending migrations"},
		{"down", "Roll back the latest migration"},
		{"status", "Print migration status"},
	} {
		command := sub.use
		cmd.AddCommand(&cobra.Command{
			Use:   sub.use,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				env, err := opts.load()
				if err != nil {
					return err
				}
				if env.DatabaseURL == "" {
					return errors.New("IDENTITYD_DATABASE_URL is required for migrations")
				}
				store, err := postgres.Open(cmd.Context(), env.DatabaseURL)
				if err != nil {
					return err
				}
				defer store.Close()

				if err := store.Migrate(cmd.Context(), command); err != nil {
					return fmt.Errorf("migrate %s: %w", command, err)
				}
				return nil
			},
		})
	}
	return cmd
}
