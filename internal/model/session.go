package model

import "time"

// SessionID uniquely identifies a game session on the server
type SessionID int64

// PlayerID uniquely identifies a player across the system
type PlayerID int64

// GameMode selects the opponent type for a session
type GameMode string

const (
	ModeSingle GameMode = "single" // no opponent, guess the server's code
	ModeAI     GameMode = "ai"     // AI opponent guesses the player's code
	ModePvP    GameMode = "pvp"    // matched against another human
)

// Valid reports whether the mode is one the server accepts
func (m GameMode) Valid() bool {
	return m == ModeSingle || m == ModeAI || m == ModePvP
}

// SessionStatus represents the lifecycle phase of a session
type SessionStatus string

const (
	StatusWaiting    SessionStatus = "waiting_for_opponent" // pvp: awaiting a match
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusAbandoned  SessionStatus = "abandoned"
)

// CodeLength is the fixed length of secrets and guesses
const CodeLength = 4

// GuessRecord is one submitted code plus the server's feedback for it
type GuessRecord struct {
	Guess    string `json:"guess"`
	Exact    int    `json:"exact"`
	WrongPos int    `json:"wrong_pos"`
}

// Participant holds one side of a session as mirrored from the server.
// Secret is empty until the session is terminal; the server withholds it
// earlier and the client never fabricates it.
type Participant struct {
	ID      PlayerID
	Name    string
	Secret  string
	Guesses []GuessRecord
	Rating  int

	// RatingBefore is captured client-side exactly once, at session
	// creation or first load, so the end-of-game rating delta can be
	// rendered. Synchronization merges must never overwrite it.
	RatingBefore int
}

// Session is the local mirror of one game session between the player
// and an opponent (human, AI, or none)
type Session struct {
	ID     SessionID
	Mode   GameMode
	Status SessionStatus

	Self     Participant
	Opponent *Participant // nil in single mode

	// CurrentTurn is the participant whose move is expected; nil once
	// the session has a winner
	CurrentTurn *PlayerID

	// WinnerID is nil while the session is ongoing. Once set it never
	// reverts; a snapshot that would null it out is malformed.
	WinnerID *PlayerID

	AIDifficulty string

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Terminal reports whether the session has a winner
func (s *Session) Terminal() bool {
	return s.WinnerID != nil
}

// OpponentTurn reports whether the opponent is expected to move. It is
// derived purely from the current-turn id compared against the opponent
// id, never by assuming the opposite of self.
func (s *Session) OpponentTurn() bool {
	if s.Mode == ModeSingle || s.Terminal() {
		return false
	}
	return s.Opponent != nil && s.CurrentTurn != nil && *s.CurrentTurn == s.Opponent.ID
}

// SelfWon reports whether the local player is the winner
func (s *Session) SelfWon() bool {
	return s.WinnerID != nil && *s.WinnerID == s.Self.ID
}

// OpponentWon reports whether the opponent is the winner. Both sides can
// win the same session: each races to crack the other's code, and a tie
// settles both in one step.
func (s *Session) OpponentWon() bool {
	return s.WinnerID != nil && s.Opponent != nil && *s.WinnerID == s.Opponent.ID
}

// OpponentGuessCount returns the length of the opponent's guess history,
// or 0 when there is no opponent
func (s *Session) OpponentGuessCount() int {
	if s.Opponent == nil {
		return 0
	}
	return len(s.Opponent.Guesses)
}

// Clone returns a deep copy safe to hand to callers while the original
// keeps being mutated under the synchronizer's lock
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Self.Guesses = append([]GuessRecord(nil), s.Self.Guesses...)
	if s.Opponent != nil {
		opp := *s.Opponent
		opp.Guesses = append([]GuessRecord(nil), s.Opponent.Guesses...)
		out.Opponent = &opp
	}
	if s.CurrentTurn != nil {
		turn := *s.CurrentTurn
		out.CurrentTurn = &turn
	}
	if s.WinnerID != nil {
		winner := *s.WinnerID
		out.WinnerID = &winner
	}
	if s.CompletedAt != nil {
		completed := *s.CompletedAt
		out.CompletedAt = &completed
	}
	return &out
}
