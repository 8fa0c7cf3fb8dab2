package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/service"
)

func commandToken(env *cliEnv) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Create, list and delete send tokens",
	}
	tokenCmd.AddCommand(
		commandTokenCreate(env),
		commandTokenList(env),
		commandTokenDelete(env),
		commandTokenLogs(env),
	)
	return tokenCmd
}

func commandTokenCreate(env *cliEnv) *cobra.Command {
	var req domain.CreateTokenRequest

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a token and print its ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, err := env.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			token, err := service.NewTokenService(store, store, env.logger()).Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token.ID)
			return nil
		},
	}

	flags := createCmd.Flags()
	flags.StringVar(&req.Description, "description", "", "Free-form description")
	flags.StringVar(&req.SenderName, "sender-name", "", "Override the sender display name")
	flags.StringVar(&req.ExpirationDate, "expires", "", "Expiration date (YYYY-MM-DD)")
	flags.IntVar(&req.Limit, "limit", 0, "Maximum number of messages, 0 for unlimited")
	flags.StringVar(&req.RecipientWhitelist, "whitelist", "", "Comma separated allowed recipients")
	_ = createCmd.MarkFlagRequired("expires")

	return createCmd
}

func commandTokenList(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tokens with usage and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, err := env.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			views, err := service.NewTokenService(store, store, env.logger()).List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDESCRIPTION\tEXPIRES\tUSED\tSTATUS\tWHITELIST")
			for _, v := range views {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					v.ID,
					v.Description,
					v.ExpirationDate,
					usage(v.Token),
					status(v),
					v.RecipientWhitelist.String(),
				)
			}
			return w.Flush()
		},
	}
}

func commandTokenDelete(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a token, mail logs are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := env.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := service.NewTokenService(store, store, env.logger()).Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func commandTokenLogs(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <id>",
		Short: "Show the mail log of a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := env.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			logs, err := service.NewTokenService(store, store, env.logger()).Logs(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SENT AT\tRECIPIENT\tSUBJECT\tATTACHMENTS")
			for _, l := range logs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					l.SentAt.UTC().Format("2006-01-02 15:04:05"),
					l.Recipient,
					l.Subject,
					l.Attachments,
				)
			}
			return w.Flush()
		},
	}
}

func usage(t domain.Token) string {
	if t.Unlimited() {
		return strconv.Itoa(t.Counter) + "/∞"
	}
	return fmt.Sprintf("%d/%d", t.Counter, t.Limit)
}

func status(v service.TokenView) string {
	switch {
	case v.Expired:
		return "expired"
	case v.Exhausted:
		return "exhausted"
	}
	return "active"
}
