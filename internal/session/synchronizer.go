// Package session holds the game session synchronizer: the authoritative
// local mirror of one game session, kept consistent with the server under
// interleaved updates from the local player and a remote opponent.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/mastermind-go/internal/gameapi"
	"github.com/mcoot/mastermind-go/internal/model"
	"github.com/mcoot/mastermind-go/internal/poller"
)

// API is the slice of the game server contract the synchronizer issues
type API interface {
	CreateSession(ctx context.Context, mode model.GameMode, secret, difficulty string) (*gameapi.SessionSnapshot, error)
	GetSession(ctx context.Context, id model.SessionID) (*gameapi.SessionSnapshot, error)
	SubmitGuess(ctx context.Context, id model.SessionID, code string) (*gameapi.SessionSnapshot, error)
	OpponentGuesses(ctx context.Context, id model.SessionID) (*gameapi.SessionSnapshot, error)
	AbandonSession(ctx context.Context, id model.SessionID) error
}

// Synchronizer maintains one local session mirror. Network calls run
// outside the lock; every merge re-acquires it and re-validates against
// the current local state, which is what makes slow poll responses safe
// to race against fast ones.
type Synchronizer struct {
	api    API
	logger *slog.Logger

	mu         sync.Mutex
	sess       *model.Session
	submitting bool
}

// New creates a Synchronizer with no active session
func New(api API, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{api: api, logger: logger}
}

// Session returns a deep copy of the current session, or nil
func (s *Synchronizer) Session() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Clone()
}

// OpponentThinking reports whether the opponent is expected to move
func (s *Synchronizer) OpponentThinking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess != nil && s.sess.OpponentTurn()
}

// Submitting reports whether a guess submission is in flight
func (s *Synchronizer) Submitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitting
}

// Start creates a session on the server and replaces local state with
// the result. The ratings in the returned snapshot are captured as the
// rating-before fields for the end-of-game delta. On failure local state
// is left at none, never partially initialized.
func (s *Synchronizer) Start(ctx context.Context, mode model.GameMode, secret, difficulty string) (*model.Session, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown game mode %q", model.ErrCreateSession, mode)
	}
	if secret != "" && !model.ValidCode(secret) {
		return nil, fmt.Errorf("%w: secret must be exactly %d digits", model.ErrCreateSession, model.CodeLength)
	}

	snap, err := s.api.CreateSession(ctx, mode, secret, difficulty)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.sess = nil
		return nil, fmt.Errorf("%w: %w", model.ErrCreateSession, err)
	}

	sess := snap.ToModel()
	if vErr := sess.Validate(); vErr != nil {
		s.sess = nil
		return nil, fmt.Errorf("%w: %w", model.ErrCreateSession, vErr)
	}

	s.sess = sess
	s.submitting = false
	s.logger.Info("session started",
		slog.Int64("session_id", int64(sess.ID)),
		slog.String("mode", string(sess.Mode)),
		slog.String("status", string(sess.Status)),
	)
	return sess.Clone(), nil
}

// Refresh re-fetches the current session from the server, used while
// waiting for a pvp opponent to join. Already-captured rating-before
// fields survive the merge.
func (s *Synchronizer) Refresh(ctx context.Context) (*model.Session, error) {
	s.mu.Lock()
	if s.sess == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", model.ErrFetchSession, model.ErrNoSession)
	}
	id := s.sess.ID
	s.mu.Unlock()

	snap, err := s.api.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrFetchSession, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applySnapshotLocked(id, snap, false); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrFetchSession, err)
	}
	return s.sess.Clone(), nil
}

// SubmitGuess submits a code for the local player and merges the
// server's updated view. Precondition violations are rejected with
// *model.InvalidGuessError before any network traffic. A second
// submission while one is in flight is rejected, not queued.
func (s *Synchronizer) SubmitGuess(ctx context.Context, code string) error {
	s.mu.Lock()
	switch {
	case s.sess == nil:
		s.mu.Unlock()
		return model.NewInvalidGuessError("no active session")
	case s.sess.Terminal():
		s.mu.Unlock()
		return model.NewInvalidGuessError("session is already over")
	case !model.ValidCode(code):
		s.mu.Unlock()
		return model.NewInvalidGuessError(fmt.Sprintf("code must be exactly %d digits", model.CodeLength))
	case s.submitting:
		s.mu.Unlock()
		return model.NewInvalidGuessError("a submission is already in flight")
	}
	s.submitting = true
	id := s.sess.ID
	s.mu.Unlock()

	snap, err := s.api.SubmitGuess(ctx, id, code)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = false
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrSubmitGuess, err)
	}
	if err := s.applySnapshotLocked(id, snap, false); err != nil {
		return fmt.Errorf("%w: %w", model.ErrSubmitGuess, err)
	}
	if s.sess == nil {
		// Reset while the request was in flight; the response was dropped
		return nil
	}

	s.logger.Info("guess submitted",
		slog.Int64("session_id", int64(id)),
		slog.Int("attempts", len(s.sess.Self.Guesses)),
		slog.Bool("terminal", s.sess.Terminal()),
	)
	return nil
}

// PollOpponentMove requests the server's view of the opponent's guesses.
// It is a no-op in single mode or once the session is terminal. The
// merge is applied only when it represents genuine progress: the
// opponent's guess count strictly increased, or the session newly became
// terminal. Ties and regressions are dropped, so a slow response cannot
// roll back history a faster one already delivered.
func (s *Synchronizer) PollOpponentMove(ctx context.Context) error {
	s.mu.Lock()
	if s.sess == nil || s.sess.Mode == model.ModeSingle || s.sess.Terminal() {
		s.mu.Unlock()
		return nil
	}
	id := s.sess.ID
	s.mu.Unlock()

	snap, err := s.api.OpponentGuesses(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrOpponentPoll, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applySnapshotLocked(id, snap, true); err != nil {
		return fmt.Errorf("%w: %w", model.ErrOpponentPoll, err)
	}
	return nil
}

// Abandon notifies the server the local player is leaving the session.
// Only an in-progress multi-party session can be abandoned; otherwise
// this is a no-op with no network call. Local state is unchanged either
// way: the terminal state arrives via the next refresh or poll.
func (s *Synchronizer) Abandon(ctx context.Context) error {
	s.mu.Lock()
	if s.sess == nil || s.sess.Mode == model.ModeSingle || s.sess.Status != model.StatusInProgress {
		s.mu.Unlock()
		return nil
	}
	id := s.sess.ID
	s.mu.Unlock()

	if err := s.api.AbandonSession(ctx, id); err != nil {
		return fmt.Errorf("failed to abandon session: %w", err)
	}
	s.logger.Info("session abandoned", slog.Int64("session_id", int64(id)))
	return nil
}

// Reset discards the local session unconditionally. No network call.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = nil
	s.submitting = false
}

// applySnapshotLocked merges a server snapshot into local state. The
// caller holds the lock. Malformed snapshots, snapshots for a superseded
// session, and non-progress poll responses are discarded without
// touching local state.
func (s *Synchronizer) applySnapshotLocked(id model.SessionID, snap *gameapi.SessionSnapshot, poll bool) error {
	if s.sess == nil || s.sess.ID != id {
		// Session was reset or replaced while the request was in flight
		return nil
	}

	incoming := snap.ToModel()
	if err := incoming.Validate(); err != nil {
		s.logger.Warn("discarding malformed snapshot",
			slog.Int64("session_id", int64(id)),
			slog.String("error", err.Error()),
		)
		return err
	}
	if incoming.ID != s.sess.ID {
		return fmt.Errorf("%w: snapshot is for session %d", model.ErrMalformedSnapshot, incoming.ID)
	}
	if s.sess.Terminal() && !incoming.Terminal() {
		s.logger.Warn("discarding snapshot that reverts terminal state",
			slog.Int64("session_id", int64(id)),
		)
		return fmt.Errorf("%w: winner reverted to null", model.ErrMalformedSnapshot)
	}

	if poll {
		progressed := incoming.OpponentGuessCount() > s.sess.OpponentGuessCount() ||
			(incoming.Terminal() && !s.sess.Terminal())
		if !progressed {
			return nil
		}
	} else if incoming.Opponent != nil && incoming.OpponentGuessCount() < s.sess.OpponentGuessCount() {
		// A refresh racing a poll must not shrink the opponent history
		if s.sess.Opponent != nil {
			incoming.Opponent.Guesses = append([]model.GuessRecord(nil), s.sess.Opponent.Guesses...)
		}
	}

	// Rating-before fields are captured once per session lifetime and
	// survive every subsequent merge
	incoming.Self.RatingBefore = s.sess.Self.RatingBefore
	if incoming.Opponent != nil && s.sess.Opponent != nil {
		incoming.Opponent.RatingBefore = s.sess.Opponent.RatingBefore
	}

	s.sess = incoming
	return nil
}

// OpponentMoveLoop builds the poll loop that runs while it is the
// opponent's turn. Poll failures are logged and swallowed; transient
// jitter must not halt polling. The loop ends itself once the opponent
// is no longer expected to move.
func (s *Synchronizer) OpponentMoveLoop(interval time.Duration) *poller.Loop {
	return poller.New(interval, func(ctx context.Context) bool {
		if !s.OpponentThinking() {
			return false
		}
		if err := s.PollOpponentMove(ctx); err != nil {
			s.logger.Warn("opponent poll failed", slog.String("error", err.Error()))
		}
		return s.OpponentThinking()
	})
}

// MatchWaitingLoop builds the poll loop that runs while a pvp session
// awaits an opponent. It ends itself once the session leaves the
// waiting state or is reset.
func (s *Synchronizer) MatchWaitingLoop(interval time.Duration) *poller.Loop {
	return poller.New(interval, func(ctx context.Context) bool {
		sess := s.Session()
		if sess == nil || sess.Status != model.StatusWaiting {
			return false
		}
		if _, err := s.Refresh(ctx); err != nil {
			s.logger.Warn("match poll failed", slog.String("error", err.Error()))
		}
		sess = s.Session()
		return sess != nil && sess.Status == model.StatusWaiting
	})
}
