package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jobportal/identity/internal/guard"
	"github.com/jobportal/identity/internal/session"
	"github.com/spf13/cobra"
)

func loginCmd(a *app) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				var err error
				if password, err = readSecret(cmd, "Password: "); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			a.controller.Hydrate(ctx)
			redirect, err := a.controller.Login(ctx, email, password)
			if err != nil {
				return err
			}

			snap := a.controller.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\nLanding route: %s\n", snap.User.Email, snap.User.Role, redirect)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", os.Getenv("PORTAL_PASSWORD"), "Account password (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func registerCmd(a *app) *cobra.Command {
	var (
		reg  session.Registration
		role string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := guard.ParseRole(role)
			if err != nil {
				return err
			}
			reg.Role = parsed

			if reg.Password == "" {
				if reg.Password, err = readSecret(cmd, "Password: "); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			a.controller.Hydrate(ctx)
			redirect, err := a.controller.Register(ctx, reg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Account created for %s\nLanding route: %s\n", reg.Email, redirect)
			return nil
		},
	}

	cmd.Flags().StringVar(&reg.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&reg.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&reg.Password, "password", os.Getenv("PORTAL_PASSWORD"), "Account password (prompted when empty)")
	cmd.Flags().StringVar(&role, "role", "", "jobseeker or employer")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a.controller.Hydrate(ctx)
			redirect := a.controller.Logout(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Signed out\nLanding route: %s\n", redirect)
			return nil
		},
	}
}

func whoamiCmd(a *app) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a.controller.Hydrate(ctx)
			if !offline {
				a.controller.Revalidate(ctx)
			}

			snap := a.controller.Snapshot()
			if snap.State != session.Authenticated {
				return errors.New("not signed in")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap.User)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Show the stored profile without asking the server")
	return cmd
}

func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
