package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcoot/mastermind-go/internal/dependencies/random"
)

func newPlayerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Player and login commands",
	}

	cmd.AddCommand(newPlayerGuestCmd())
	cmd.AddCommand(newPlayerLoginCmd())
	cmd.AddCommand(newPlayerRegisterCmd())
	cmd.AddCommand(newPlayerMeCmd())
	cmd.AddCommand(newPlayerLogoutCmd())

	return cmd
}

func newPlayerGuestCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "guest",
		Short: "Log in as a guest player",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				name = "guest-" + random.New().String(4, "ABCDEFGHJKMNPQRSTUVWXYZ23456789")
			}

			result, err := client.CreateGuest(cmd.Context(), name)
			if err != nil {
				return err
			}

			if err := creds.SetToken(result.AccessToken); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			out := NewOutput(cfg.Output)
			out.Print(*result)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (generated when omitted)")

	return cmd
}

func newPlayerLoginCmd() *cobra.Command {
	var user, pass string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := client.Login(cmd.Context(), user, pass)
			if err != nil {
				return err
			}

			if err := creds.SetToken(result.AccessToken); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			out := NewOutput(cfg.Output)
			out.Print(*result)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Username (required)")
	cmd.Flags().StringVar(&pass, "pass", "", "Password (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("pass")

	return cmd
}

func newPlayerRegisterCmd() *cobra.Command {
	var name, user, pass string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				name = user
			}

			result, err := client.Register(cmd.Context(), user, pass, name)
			if err != nil {
				return err
			}

			if err := creds.SetToken(result.AccessToken); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			out := NewOutput(cfg.Output)
			out.Print(*result)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to username)")
	cmd.Flags().StringVar(&user, "user", "", "Username (required)")
	cmd.Flags().StringVar(&pass, "pass", "", "Password (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("pass")

	return cmd
}

func newPlayerMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the logged-in player",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := client.CurrentPlayer(cmd.Context())
			if err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(*result)
			return nil
		},
	}
}

func newPlayerLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and discard the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Logout(cmd.Context()); err != nil {
				// Discard the local credential even if the server is
				// unreachable; it is useless to keep
				logger.Warn("server logout failed", "error", err.Error())
			}
			if err := creds.Invalidate(); err != nil {
				return fmt.Errorf("failed to discard token: %w", err)
			}

			out := NewOutput(cfg.Output)
			out.PrintMessage("Logged out")
			return nil
		},
	}
}
