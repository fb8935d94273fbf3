package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voltmoto/site/backend/internal/auth"
	"github.com/voltmoto/site/backend/internal/repository"
)

var errPasswordMismatch = errors.New("passwords do not match")

func newAdminCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	var username, email, role string
	create := &cobra.Command{
		Use:     "create",
		Short:   "Create an administrator (password is prompted)",
		Example: "  gatectl admin create --username rider --email rider@example.com",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			username = strings.TrimSpace(username)
			email = strings.TrimSpace(email)
			if username == "" || email == "" {
				return fmt.Errorf("--username and --email are required")
			}
			hash, err := app.newPasswordHash()
			if err != nil {
				return err
			}
			return app.withStores(cmd, func(ctx context.Context, s *Stores) error {
				p := &repository.AdminPrincipal{
					Username:     username,
					Email:        email,
					PasswordHash: hash,
					Role:         role,
					IsActive:     true,
				}
				if err := s.Principals.Create(ctx, p); err != nil {
					return err
				}
				app.printf("Created administrator %s (%s)\n", p.Username, p.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&username, "username", "", "Login name")
	create.Flags().StringVar(&email, "email", "", "Email address, also accepted as login")
	create.Flags().StringVar(&role, "role", "admin", "Role recorded in the session")

	passwd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Set a new password for an administrator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := app.newPasswordHash()
			if err != nil {
				return err
			}
			return app.withPrincipal(cmd, args[0], func(ctx context.Context, s *Stores, p *repository.AdminPrincipal) error {
				if err := s.Principals.UpdatePassword(ctx, p.ID, hash); err != nil {
					return err
				}
				app.printf("Password updated for %s\n", p.Username)
				return nil
			})
		},
	}

	deactivate := &cobra.Command{
		Use:   "deactivate <username>",
		Short: "Block an administrator from logging in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withPrincipal(cmd, args[0], func(ctx context.Context, s *Stores, p *repository.AdminPrincipal) error {
				if err := s.Principals.SetActive(ctx, p.ID, false); err != nil {
					return err
				}
				app.printf("Deactivated %s\n", p.Username)
				return nil
			})
		},
	}

	cmd.AddCommand(create, passwd, deactivate)
	return cmd
}

func (a *App) withPrincipal(cmd *cobra.Command, login string, fn func(ctx context.Context, s *Stores, p *repository.AdminPrincipal) error) error {
	return a.withStores(cmd, func(ctx context.Context, s *Stores) error {
		p, err := s.Principals.GetByLogin(ctx, strings.TrimSpace(login))
		if err != nil {
			return err
		}
		return fn(ctx, s, p)
	})
}

// newPasswordHash prompts twice, enforces the complexity rules and returns the bcrypt hash
func (a *App) newPasswordHash() (string, error) {
	if a.Passwords == nil {
		a.Passwords = auth.NewPasswords(auth.DefaultBcryptCost)
	}

	password, err := a.ReadSecret("New password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if errs := a.Passwords.Validate(password); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Message)
		}
		return "", fmt.Errorf("weak password: %s", strings.Join(msgs, "; "))
	}

	confirm, err := a.ReadSecret("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if confirm != password {
		return "", errPasswordMismatch
	}
	return a.Passwords.Hash(password)
}
