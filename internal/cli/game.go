package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcoot/mastermind-go/internal/model"
	"github.com/mcoot/mastermind-go/internal/session"
)

// abandonTimeout bounds the abandon call made while the process exits
const abandonTimeout = 5 * time.Second

func newGameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Game session commands",
	}

	cmd.AddCommand(newGamePlayCmd())
	cmd.AddCommand(newGameStartCmd())
	cmd.AddCommand(newGameShowCmd())
	cmd.AddCommand(newGameGuessCmd())
	cmd.AddCommand(newGameAbandonCmd())

	return cmd
}

func newGameStartCmd() *cobra.Command {
	var (
		mode       string
		secret     string
		difficulty string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a session without entering the interactive loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := model.GameMode(mode)
			if !m.Valid() {
				return fmt.Errorf("unknown game mode %q", mode)
			}
			if secret != "" && !model.ValidCode(secret) {
				return fmt.Errorf("secret must be exactly %d digits", model.CodeLength)
			}

			snap, err := client.CreateSession(cmd.Context(), m, secret, difficulty)
			if err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(snap.ToModel())
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(model.ModeSingle), "Game mode: single, ai, pvp")
	cmd.Flags().StringVar(&secret, "secret", "", "Your own 4-digit code for the opponent to crack (ai/pvp)")
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "AI difficulty: easy, medium, hard")

	return cmd
}

func newGameShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a session's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}

			snap, err := client.GetSession(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(snap.ToModel())
			return nil
		},
	}
}

func newGameGuessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guess <id> <code>",
		Short: "Submit a guess to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			code := args[1]
			if !model.ValidCode(code) {
				return fmt.Errorf("code must be exactly %d digits", model.CodeLength)
			}

			snap, err := client.SubmitGuess(cmd.Context(), id, code)
			if err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(snap.ToModel())
			return nil
		},
	}
}

func newGameAbandonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abandon <id>",
		Short: "Abandon an in-progress session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}

			if err := client.AbandonSession(cmd.Context(), id); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.PrintMessage("Session abandoned")
			return nil
		},
	}
}

func newGamePlayCmd() *cobra.Command {
	var (
		mode       string
		secret     string
		difficulty string
	)

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Start a session and play it interactively",
		Long: `Start a new session and play it in a terminal loop.

Feedback per guess: ● exact digit, ○ right digit in the wrong position.
Type "quit" to leave; leaving an in-progress ai/pvp session abandons it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), model.GameMode(mode), secret, difficulty)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(model.ModeSingle), "Game mode: single, ai, pvp")
	cmd.Flags().StringVar(&secret, "secret", "", "Your own 4-digit code for the opponent to crack (ai/pvp)")
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "AI difficulty: easy, medium, hard")

	return cmd
}

func runPlay(parent context.Context, mode model.GameMode, secret, difficulty string) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sync := session.New(client, logger)
	out := NewOutput(cfg.Output)

	sess, err := sync.Start(ctx, mode, secret, difficulty)
	if err != nil {
		return err
	}
	fmt.Printf("Session #%d started (%s)\n", sess.ID, sess.Mode)

	// PvP sessions open in the waiting state; poll until matched
	if sess.Status == model.StatusWaiting {
		fmt.Println("Waiting for an opponent...")
		sync.MatchWaitingLoop(cfg.PollInterval).Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		sess = sync.Session()
		if sess == nil || sess.Status != model.StatusInProgress {
			return errors.New("no opponent joined")
		}
		fmt.Printf("Matched against %s\n", sess.Opponent.Name)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		// While the opponent moves, poll until the turn comes back
		if sync.OpponentThinking() {
			fmt.Println("Opponent is thinking...")
			before := sync.Session().OpponentGuessCount()
			sync.OpponentMoveLoop(cfg.PollInterval).Run(ctx)
			if ctx.Err() != nil {
				return abandonOnExit(sync)
			}
			printOpponentMoves(sync.Session(), before)
		}

		sess = sync.Session()
		if sess == nil || sess.Terminal() {
			break
		}

		fmt.Print("guess> ")
		if !scanner.Scan() {
			return abandonOnExit(sync)
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "quit" || input == "exit" {
			return abandonOnExit(sync)
		}

		if err := sync.SubmitGuess(ctx, input); err != nil {
			var ige *model.InvalidGuessError
			if errors.As(err, &ige) {
				fmt.Printf("%s\n", ige.Reason)
				continue
			}
			if errors.Is(err, model.ErrAuthExpired) {
				return err
			}
			// Transient submit failures keep the session playable
			out.PrintError(err)
			continue
		}

		sess = sync.Session()
		last := sess.Self.Guesses[len(sess.Self.Guesses)-1]
		fmt.Printf("  %s  %s\n", last.Guess, pegs(last))
	}

	if sess := sync.Session(); sess != nil {
		out.Print(sess)
	}
	return nil
}

// abandonOnExit leaves the session cleanly when the player quits
// mid-game. Single-mode sessions and sessions that are not in progress
// are untouched by design.
func abandonOnExit(sync *session.Synchronizer) error {
	ctx, cancel := context.WithTimeout(context.Background(), abandonTimeout)
	defer cancel()

	if err := sync.Abandon(ctx); err != nil {
		logger.Warn("abandon on exit failed", "error", err.Error())
	}
	sync.Reset()
	fmt.Println("\nLeft the session")
	return nil
}

func printOpponentMoves(sess *model.Session, since int) {
	if sess == nil || sess.Opponent == nil {
		return
	}
	for i := since; i < len(sess.Opponent.Guesses); i++ {
		g := sess.Opponent.Guesses[i]
		fmt.Printf("  opponent: %s  %s\n", g.Guess, pegs(g))
	}
}

func parseSessionID(arg string) (model.SessionID, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid session id %q", arg)
	}
	return model.SessionID(id), nil
}
