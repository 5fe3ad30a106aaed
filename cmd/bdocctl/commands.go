package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/sumanyunandwani/AnalyzeAI/internal/auth"
	"github.com/sumanyunandwani/AnalyzeAI/internal/bdoc"
	"github.com/sumanyunandwani/AnalyzeAI/internal/config"
	"github.com/sumanyunandwani/AnalyzeAI/internal/db"
	"github.com/sumanyunandwani/AnalyzeAI/internal/identity"
	"github.com/sumanyunandwani/AnalyzeAI/internal/quota"
	"gorm.io/gorm"
)

func newRootCmd(cfg config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "bdocctl",
		Short:         "Operate the business document generator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		seedCmd(cfg),
		quotaCmd(cfg),
		hashAdminKeyCmd(),
		fingerprintCmd(),
		pseudonymizeCmd(),
		tokenCmd(cfg),
	)
	return root
}

func openDB(cfg config.Config) (*gorm.DB, error) {
	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

func seedCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "seed [business...]",
		Short: "Insert business names (default: BUSINESS_DOMAINS)",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				names = cfg.BusinessDomains
			}
			gdb, err := openDB(cfg)
			if err != nil {
				return err
			}
			repo := bdoc.NewRepo(gdb)
			if err := repo.SeedBusinesses(cmd.Context(), names); err != nil {
				return err
			}
			all, err := repo.ListBusinessNames(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(all, "\n"))
			return nil
		},
	}
}

func parseIdentity(kind, value string) (identity.Identity, error) {
	var id identity.Identity
	switch kind {
	case "user":
		id = identity.User(value)
	case "ip":
		id = identity.IP(value)
	default:
		return id, fmt.Errorf("unknown identity kind %q (want user or ip)", kind)
	}
	return id, id.Validate()
}

func quotaCmd(cfg config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect or set request budgets",
	}
	ledger := func() (*quota.Ledger, error) {
		gdb, err := openDB(cfg)
		if err != nil {
			return nil, err
		}
		return quota.NewLedger(quota.NewRepo(gdb), quota.Options{
			UserDefault: cfg.QuotaUserDefault,
			IPDefault:   cfg.QuotaIPDefault,
		}), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <user|ip> <value>",
		Short: "Print the remaining budget",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIdentity(args[0], args[1])
			if err != nil {
				return err
			}
			l, err := ledger()
			if err != nil {
				return err
			}
			n, found, err := l.Remaining(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: unseen\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", id, n)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <user|ip> <value> <count>",
		Short: "Set the remaining budget",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIdentity(args[0], args[1])
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(args[2])
			if err != nil || n < 0 {
				return fmt.Errorf("count must be a non-negative integer, got %q", args[2])
			}
			l, err := ledger()
			if err != nil {
				return err
			}
			if err := l.Replenish(cmd.Context(), id, n); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", id, n)
			return nil
		},
	})
	return cmd
}

func hashAdminKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-admin-key <key>",
		Short: "Print the bcrypt hash to use as ADMIN_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
}

func fingerprintCmd() *cobra.Command {
	var scriptFile string
	cmd := &cobra.Command{
		Use:   "fingerprint <business> [script]",
		Short: "Print the request fingerprint of a script and business",
		Long:  "The script is read from the argument, from --file, or from stdin when neither is given.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var script string
			switch {
			case len(args) == 2:
				script = args[1]
			case scriptFile != "":
				b, err := os.ReadFile(scriptFile)
				if err != nil {
					return err
				}
				script = string(b)
			default:
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				script = string(b)
			}
			if script == "" {
				return errors.New("empty script")
			}
			fmt.Fprintln(cmd.OutOrStdout(), identity.Fingerprint(script, args[0]))
			return nil
		},
	}
	cmd.Flags().StringVarP(&scriptFile, "file", "f", "", "read the script from this file")
	return cmd
}

func pseudonymizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pseudonymize <name> [email]",
		Short: "Print the user id derived from a name and email",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := ""
			if len(args) == 2 {
				email = args[1]
			}
			fmt.Fprintln(cmd.OutOrStdout(), identity.PseudonymizeUser(args[0], email))
			return nil
		},
	}
}

func tokenCmd(cfg config.Config) *cobra.Command {
	var (
		oauthTag string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <name> [email]",
		Short: "Sign an access token for local testing",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := ""
			if len(args) == 2 {
				email = args[1]
			}
			tok, err := auth.SignJWT(auth.NewClaims(args[0], email, oauthTag), cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&oauthTag, "oauth-tag", "local", "oauth provider recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
