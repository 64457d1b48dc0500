// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package main

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/elouarate/gallery-admin/internal/auth"
	"github.com/elouarate/gallery-admin/pkg/errutil"
)

// withServices loads and validates configuration, wires the credential
// core and runs fn against it.
func withServices(cmd *cobra.Command, deps *Deps, fn func(context.Context, *services) error) error {
	deps = deps.withDefaults()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateDatabase(); err != nil {
		return err
	}
	logger := setupLogger(cmd, cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	svc, err := buildServices(ctx, cfg, logger, deps)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if closeErr := svc.Close(closeCtx); closeErr != nil {
			errutil.LogError(logger, "release services", closeErr)
		}
	}()

	return fn(ctx, svc)
}

func newBootstrapCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the bootstrap administrator if no active principal exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, deps, func(ctx context.Context, svc *services) error {
				admin, created, err := svc.orchestrator.EnsureBootstrapAdmin(ctx)
				if err != nil {
					return err
				}
				switch {
				case created:
					cmd.Printf("Created bootstrap administrator %s (%s); change its password now\n", admin.Email, admin.ID)
				case admin != nil:
					cmd.Printf("Bootstrap administrator %s already exists\n", admin.Email)
				default:
					cmd.Println("Active principals exist or bootstrap is disabled; nothing to do")
				}
				return nil
			})
		},
	}
}

func newSweepCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired password reset tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withServices(cmd, deps, func(ctx context.Context, svc *services) error {
				n, err := svc.orchestrator.SweepExpiredResets(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("Deleted %d expired reset token(s)\n", n)
				return nil
			})
		},
	}
}

func newPrincipalCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "principal",
		Short: "Manage principals",
	}

	create := &cobra.Command{
		Use:   "create EMAIL",
		Short: "Create a principal",
		Long: `Create a principal with the given email. The password is read from
standard input so it stays out of shell history.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roleName, _ := cmd.Flags().GetString("role")
			role, err := auth.ParseRole(roleName)
			if err != nil {
				return err
			}
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withServices(cmd, deps, func(ctx context.Context, svc *services) error {
				p, err := svc.orchestrator.CreatePrincipal(ctx, args[0], password, role)
				if err != nil {
					if v, ok := auth.AsError(err); ok && v.Kind == auth.KindWeakPassword {
						printViolations(cmd, v.Violations)
					}
					return err
				}
				cmd.Printf("Created %s principal %s (%s)\n", p.Role, p.Email, p.ID)
				return nil
			})
		},
	}
	create.Flags().String("role", string(auth.RoleUser), "role (USER or ADMIN)")
	cmd.AddCommand(create)

	return cmd
}

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the password policy",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Score a password read from standard input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			a := auth.NewPasswordPolicy().Check(password)
			cmd.Printf("Strength: %s (%d points)\n", a.Strength, a.Points)
			if a.Valid {
				cmd.Println("Policy: satisfied")
				return nil
			}
			cmd.Println("Policy: not satisfied")
			printViolations(cmd, a.Violations)
			return oops.Code("WEAK_PASSWORD").With("violations", a.Violations).Errorf("password does not satisfy the policy")
		},
	})

	return cmd
}

func printViolations(cmd *cobra.Command, violations []auth.Violation) {
	for _, v := range violations {
		cmd.Printf("  - %s\n", v.Message())
	}
}

// readPassword reads the first line of r without its line ending.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", oops.Code("PASSWORD_REQUIRED").Errorf("password must be provided on standard input")
	}
	return password, nil
}
