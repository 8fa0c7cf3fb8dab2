package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cuckoopost/backend/internal/auth"
)

func commandMigrate(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the storage schema",
		Long:  "Opens the configured storage. SQL backends create the tokens and mail_logs tables; bolt creates its buckets.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, store, err := env.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Health(); err != nil {
				return fmt.Errorf("storage not healthy after migration: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "storage %q is ready\n", cfg.Storage.Driver)
			return nil
		},
	}
}

func commandHashPassword() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for CUCKOOPOST_ADMIN_PASSWORD_HASH",
		Long:  "Hashes the given password, or the first line of stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no password given")
				}
				password = strings.TrimRight(line, "\r\n")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
