package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *App) credentials(email string) (string, string, error) {
	var err error
	if email == "" {
		email, err = GetSimpleText(a.in, "Email", a.out)
		if err != nil {
			return "", "", err
		}
	}
	password, err := GetPassword(a.in, a.out)
	if err != nil {
		return "", "", err
	}
	return email, password, nil
}

func (a *App) registerCommand() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			email, password, err := a.credentials(email)
			if err != nil {
				return err
			}
			u, err := s.Auth.Register(cmd.Context(), email, password, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Registered and signed in as %s\n", u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func (a *App) loginCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the sync server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			email, password, err := a.credentials(email)
			if err != nil {
				return err
			}
			u, err := s.Auth.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Signed in as %s\n", u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func (a *App) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the local tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Signed out")
			return nil
		},
	}
}

func (a *App) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			u, err := s.Auth.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			ok, err := s.Auth.IsAuthenticated(cmd.Context())
			if err != nil {
				return err
			}
			state := "signed in"
			if !ok {
				state = "session expired"
			}
			fmt.Fprintf(a.out, "%s (%s), device %s, %s\n", u.Email, u.ID, s.DeviceID, state)
			return nil
		},
	}
}
