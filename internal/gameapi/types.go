package gameapi

import (
	"time"

	"github.com/mcoot/mastermind-go/internal/model"
)

// CreateSessionRequest is the body for POST /sessions
type CreateSessionRequest struct {
	Mode       string `json:"mode"`
	Secret     string `json:"secret,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

// GuessRequest is the body for POST /sessions/{id}/guesses
type GuessRequest struct {
	Code string `json:"code"`
}

// SessionSnapshot is the server's view of a session as returned by every
// session endpoint. Optional fields are pointers so absence and zero are
// distinguishable.
type SessionSnapshot struct {
	ID       int64  `json:"id"`
	GameMode string `json:"game_mode"`
	Status   string `json:"status"`

	SelfID      int64               `json:"self_id"`
	SelfName    string              `json:"self_name"`
	SelfSecret  *string             `json:"self_secret"`
	SelfGuesses []model.GuessRecord `json:"self_guesses"`
	SelfRating  int                 `json:"self_rating"`

	OpponentID      *int64              `json:"opponent_id"`
	OpponentName    *string             `json:"opponent_name"`
	OpponentSecret  *string             `json:"opponent_secret"`
	OpponentGuesses []model.GuessRecord `json:"opponent_guesses"`
	OpponentRating  *int                `json:"opponent_rating"`

	CurrentTurn *int64 `json:"current_turn"`
	WinnerID    *int64 `json:"winner_id"`

	AIDifficulty *string `json:"ai_difficulty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// ToModel converts the wire snapshot to the local session mirror.
// Rating-before fields start at the snapshot's current ratings; the
// synchronizer preserves the originals across later merges.
func (s *SessionSnapshot) ToModel() *model.Session {
	sess := &model.Session{
		ID:     model.SessionID(s.ID),
		Mode:   model.GameMode(s.GameMode),
		Status: model.SessionStatus(s.Status),
		Self: model.Participant{
			ID:           model.PlayerID(s.SelfID),
			Name:         s.SelfName,
			Guesses:      append([]model.GuessRecord(nil), s.SelfGuesses...),
			Rating:       s.SelfRating,
			RatingBefore: s.SelfRating,
		},
		CreatedAt: s.CreatedAt,
	}
	if s.SelfSecret != nil {
		sess.Self.Secret = *s.SelfSecret
	}
	if s.OpponentID != nil {
		opp := &model.Participant{
			ID:      model.PlayerID(*s.OpponentID),
			Guesses: append([]model.GuessRecord(nil), s.OpponentGuesses...),
		}
		if s.OpponentName != nil {
			opp.Name = *s.OpponentName
		}
		if s.OpponentSecret != nil {
			opp.Secret = *s.OpponentSecret
		}
		if s.OpponentRating != nil {
			opp.Rating = *s.OpponentRating
			opp.RatingBefore = *s.OpponentRating
		}
		sess.Opponent = opp
	}
	if s.CurrentTurn != nil {
		turn := model.PlayerID(*s.CurrentTurn)
		sess.CurrentTurn = &turn
	}
	if s.WinnerID != nil {
		winner := model.PlayerID(*s.WinnerID)
		sess.WinnerID = &winner
	}
	if s.AIDifficulty != nil {
		sess.AIDifficulty = *s.AIDifficulty
	}
	if s.CompletedAt != nil {
		completed := *s.CompletedAt
		sess.CompletedAt = &completed
	}
	return sess
}

// Player is a player record in API responses
type Player struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	IsGuest     bool   `json:"is_guest"`
	Rating      int    `json:"rating"`
}

// AuthResult is the response from the auth endpoints that mint tokens
type AuthResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Player      Player `json:"player"`
}

// APIError represents an error response from the API
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an API error
type ErrorResponse struct {
	Error APIError `json:"error"`
}
