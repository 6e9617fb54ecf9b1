package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mcoot/mastermind-go/internal/gameapi"
	"github.com/mcoot/mastermind-go/internal/model"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
}

// NewOutput creates a new Output formatter
func NewOutput(format string) *Output {
	return &Output{format: format}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Println(string(data))
	} else {
		fmt.Println(msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case gameapi.Player:
		o.printPlayer(v)
	case gameapi.AuthResult:
		o.printAuthResult(v)
	case model.Session:
		o.printSession(&v)
	case *model.Session:
		o.printSession(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

func (o *Output) printPlayer(p gameapi.Player) {
	guestStr := "no"
	if p.IsGuest {
		guestStr = "yes"
	}
	fmt.Printf("Player: %s (#%d)\n", p.DisplayName, p.ID)
	fmt.Printf("Guest: %s\n", guestStr)
	fmt.Printf("Rating: %d\n", p.Rating)
}

func (o *Output) printAuthResult(a gameapi.AuthResult) {
	o.printPlayer(a.Player)
	fmt.Printf("Token: %s\n", a.AccessToken)
}

func (o *Output) printSession(s *model.Session) {
	fmt.Printf("Session: #%d\n", s.ID)
	fmt.Printf("Mode: %s\n", s.Mode)
	fmt.Printf("Status: %s\n", s.Status)

	fmt.Printf("\nYour guesses (%s):\n", s.Self.Name)
	o.printGuesses(s.Self.Guesses)

	if s.Opponent != nil {
		name := s.Opponent.Name
		if name == "" {
			name = "opponent"
		}
		fmt.Printf("\nOpponent guesses (%s):\n", name)
		o.printGuesses(s.Opponent.Guesses)
	}

	if s.OpponentTurn() {
		fmt.Println("\nOpponent is thinking...")
	}

	if s.Terminal() {
		o.printResult(s)
	}
}

func (o *Output) printGuesses(guesses []model.GuessRecord) {
	if len(guesses) == 0 {
		fmt.Println("  (none yet)")
		return
	}
	for i, g := range guesses {
		fmt.Printf("  %2d. %s  %s\n", i+1, g.Guess, pegs(g))
	}
}

// pegs renders feedback as filled and hollow markers, board-style
func pegs(g model.GuessRecord) string {
	return strings.Repeat("●", g.Exact) +
		strings.Repeat("○", g.WrongPos) +
		strings.Repeat("·", model.CodeLength-g.Exact-g.WrongPos)
}

func (o *Output) printResult(s *model.Session) {
	fmt.Println()
	switch {
	case s.SelfWon() && s.OpponentWon():
		fmt.Println("It's a tie - both codes cracked!")
	case s.SelfWon():
		fmt.Println("You won!")
	case s.OpponentWon():
		fmt.Println("Opponent won.")
	default:
		fmt.Println("Session over.")
	}

	if s.Mode == model.ModeSingle {
		if s.Secret() != "" {
			fmt.Printf("The code was %s\n", s.Secret())
		}
	} else {
		if s.Opponent != nil && s.Opponent.Secret != "" {
			fmt.Printf("You were cracking %s\n", s.Opponent.Secret)
		}
		if s.Secret() != "" {
			fmt.Printf("Your code was %s\n", s.Secret())
		}
	}

	if s.Mode != model.ModeSingle {
		fmt.Printf("Rating: %d -> %d\n", s.Self.RatingBefore, s.Self.Rating)
	}
}
