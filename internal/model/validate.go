package model

import "fmt"

// ValidCode reports whether code is exactly CodeLength digits
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Validate checks a guess record against the feedback invariants any
// conforming server must honor: both counts in [0, CodeLength] and
// exact + wrong_pos <= CodeLength
func (g GuessRecord) Validate() error {
	if !ValidCode(g.Guess) {
		return fmt.Errorf("%w: guess %q is not %d digits", ErrMalformedSnapshot, g.Guess, CodeLength)
	}
	if g.Exact < 0 || g.Exact > CodeLength {
		return fmt.Errorf("%w: exact count %d out of range", ErrMalformedSnapshot, g.Exact)
	}
	if g.WrongPos < 0 || g.WrongPos > CodeLength {
		return fmt.Errorf("%w: wrong_pos count %d out of range", ErrMalformedSnapshot, g.WrongPos)
	}
	if g.Exact+g.WrongPos > CodeLength {
		return fmt.Errorf("%w: exact %d + wrong_pos %d exceeds code length", ErrMalformedSnapshot, g.Exact, g.WrongPos)
	}
	return nil
}

// Validate checks a session mirror freshly decoded from a server
// snapshot. It catches responses that violate the wire contract so the
// synchronizer can discard them rather than render them.
func (s *Session) Validate() error {
	if !s.Mode.Valid() {
		return fmt.Errorf("%w: unknown game mode %q", ErrMalformedSnapshot, s.Mode)
	}
	if s.Mode != ModeSingle && s.Status == StatusInProgress && s.Opponent == nil {
		return fmt.Errorf("%w: %s session in progress without an opponent", ErrMalformedSnapshot, s.Mode)
	}
	for _, g := range s.Self.Guesses {
		if err := g.Validate(); err != nil {
			return err
		}
	}
	if s.Opponent != nil {
		for _, g := range s.Opponent.Guesses {
			if err := g.Validate(); err != nil {
				return err
			}
		}
	}
	if s.Self.Rating < 0 {
		return fmt.Errorf("%w: negative rating %d", ErrMalformedSnapshot, s.Self.Rating)
	}
	if s.Opponent != nil && s.Opponent.Rating < 0 {
		return fmt.Errorf("%w: negative rating %d", ErrMalformedSnapshot, s.Opponent.Rating)
	}
	if s.Secret() != "" && !ValidCode(s.Secret()) {
		return fmt.Errorf("%w: revealed secret is not %d digits", ErrMalformedSnapshot, CodeLength)
	}
	return nil
}

// Secret returns the local player's secret, empty until the server
// reveals it at terminal state
func (s *Session) Secret() string {
	return s.Self.Secret
}
