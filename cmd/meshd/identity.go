package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"computemesh/internal/app"
	"computemesh/internal/domain"
	"computemesh/internal/infra/identity"
)

type identityOptions struct {
	storePath string
	role      string
}

func newIdentityCmd(logger *zap.Logger, root *rootOptions) *cobra.Command {
	opts := identityOptions{role: string(domain.RolePlain)}

	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage identities allowed to connect",
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			applyIdentityFlagBindings(cmd, &opts)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.storePath, "store", "", "identity store path (defaults to identityStorePath from --config)")

	add := &cobra.Command{
		Use:   "add <identity>",
		Short: "Create an identity and print its token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := domain.ParseRole(opts.role)
			if err != nil {
				return exitWith(2, err.Error())
			}
			token, err := app.New(logger).AddIdentity(cmd.Context(), identityConfig(root, &opts), domain.Identity(args[0]), role)
			if err != nil {
				return identityExit(err)
			}
			if root.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"identity": args[0],
					"role":     string(role),
					"token":    token,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	add.Flags().StringVar(&opts.role, "role", opts.role, "identity role (plain|provider)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := app.New(logger).ListIdentities(cmd.Context(), identityConfig(root, &opts))
			if err != nil {
				return identityExit(err)
			}
			if root.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			return printIdentities(cmd.OutOrStdout(), records)
		},
	}

	remove := &cobra.Command{
		Use:   "remove <identity>",
		Short: "Delete an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.New(logger).RemoveIdentity(cmd.Context(), identityConfig(root, &opts), domain.Identity(args[0])); err != nil {
				return identityExit(err)
			}
			return nil
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}

func applyIdentityFlagBindings(cmd *cobra.Command, opts *identityOptions) {
	flags := cmd.Flags()
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "store":
			opts.storePath = strings.TrimSpace(f.Value.String())
		case "role":
			opts.role = strings.TrimSpace(f.Value.String())
		}
	})
}

func identityConfig(root *rootOptions, opts *identityOptions) app.IdentityConfig {
	return app.IdentityConfig{
		ConfigPath: root.configPath,
		StorePath:  opts.storePath,
	}
}

func identityExit(err error) error {
	switch {
	case errors.Is(err, domain.ErrIdentityNotFound):
		return exitWith(3, err.Error())
	case errors.Is(err, domain.ErrIdentityExists), errors.Is(err, domain.ErrInvalidRequest):
		return exitWith(2, err.Error())
	default:
		return err
	}
}

func printIdentities(out io.Writer, records []identity.Record) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tROLE\tCREATED")
	for _, record := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\n", record.Identity, record.Role, record.CreatedAt.UTC().Format(time.RFC3339))
	}
	return w.Flush()
}
