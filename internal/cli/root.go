package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcoot/mastermind-go/internal/auth"
	"github.com/mcoot/mastermind-go/internal/dependencies/clock"
	"github.com/mcoot/mastermind-go/internal/gameapi"
)

var (
	cfg    *Config
	creds  auth.CredentialProvider
	client *gameapi.Client
	logger *slog.Logger
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cfg = DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "mmind",
		Short: "CLI client for the Mastermind game server",
		Long: `mmind is a terminal client for the Mastermind code-breaking game.

It talks to the game server's REST API: guest and account login, session
creation in single, ai, and pvp modes, guess submission, and live play
against a human or AI opponent.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			}))

			if cfg.Token != "" {
				creds = auth.NewStaticToken(cfg.Token)
			} else {
				creds = auth.NewFileStore(cfg.TokenFile, clock.New())
			}
			client = gameapi.NewClient(cfg.ServerURL, creds, logger)
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Server URL (env: MMIND_SERVER)")
	rootCmd.PersistentFlags().StringVar(&cfg.Token, "token", cfg.Token, "Bearer token (env: MMIND_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&cfg.TokenFile, "token-file", cfg.TokenFile, "Token file path (env: MMIND_TOKEN_FILE)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose output")
	rootCmd.PersistentFlags().DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Opponent poll interval")

	// Add subcommands
	rootCmd.AddCommand(newPlayerCmd())
	rootCmd.AddCommand(newGameCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
