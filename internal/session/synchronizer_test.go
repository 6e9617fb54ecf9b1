package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/mastermind-go/internal/gameapi"
	"github.com/mcoot/mastermind-go/internal/model"
	"github.com/mcoot/mastermind-go/internal/testutil"
)

// stubAPI is a scripted API implementation. Responses are queued per
// operation and consumed in order; an unqueued call fails the operation.
type stubAPI struct {
	mu    sync.Mutex
	calls map[string]int

	createResp *gameapi.SessionSnapshot
	createErr  error

	getResps      []stubResult
	submitResps   []stubResult
	opponentResps []stubResult
	abandonErr    error

	// when set, the next SubmitGuess blocks: started is closed on
	// entry, and the call returns once release is closed
	submitStarted chan struct{}
	submitRelease chan struct{}
}

type stubResult struct {
	snap *gameapi.SessionSnapshot
	err  error
}

var _ API = (*stubAPI)(nil)

func newStubAPI() *stubAPI {
	return &stubAPI{calls: make(map[string]int)}
}

func (a *stubAPI) count(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

func (a *stubAPI) CreateSession(ctx context.Context, mode model.GameMode, secret, difficulty string) (*gameapi.SessionSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["create"]++
	return a.createResp, a.createErr
}

func (a *stubAPI) GetSession(ctx context.Context, id model.SessionID) (*gameapi.SessionSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["get"]++
	return a.pop(&a.getResps, "GetSession")
}

func (a *stubAPI) SubmitGuess(ctx context.Context, id model.SessionID, code string) (*gameapi.SessionSnapshot, error) {
	a.mu.Lock()
	a.calls["submit"]++
	started, release := a.submitStarted, a.submitRelease
	a.submitStarted, a.submitRelease = nil, nil
	snap, err := a.pop(&a.submitResps, "SubmitGuess")
	a.mu.Unlock()

	if started != nil {
		close(started)
		<-release
	}
	return snap, err
}

func (a *stubAPI) OpponentGuesses(ctx context.Context, id model.SessionID) (*gameapi.SessionSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["opponent"]++
	return a.pop(&a.opponentResps, "OpponentGuesses")
}

func (a *stubAPI) AbandonSession(ctx context.Context, id model.SessionID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["abandon"]++
	return a.abandonErr
}

// pop is called with the mutex held
func (a *stubAPI) pop(queue *[]stubResult, op string) (*gameapi.SessionSnapshot, error) {
	if len(*queue) == 0 {
		return nil, errors.New("unexpected " + op + " call")
	}
	r := (*queue)[0]
	*queue = (*queue)[1:]
	return r.snap, r.err
}

func ptr[T any](v T) *T {
	return &v
}

const (
	selfID = int64(10)
	oppID  = int64(20)
)

func singleSnap() *gameapi.SessionSnapshot {
	return &gameapi.SessionSnapshot{
		ID:          1,
		GameMode:    "single",
		Status:      "in_progress",
		SelfID:      selfID,
		SelfName:    "alice",
		SelfRating:  1000,
		CurrentTurn: ptr(selfID),
		CreatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func aiSnap() *gameapi.SessionSnapshot {
	snap := singleSnap()
	snap.ID = 2
	snap.GameMode = "ai"
	snap.OpponentID = ptr(oppID)
	snap.OpponentName = ptr("AI")
	snap.OpponentRating = ptr(1000)
	snap.AIDifficulty = ptr("medium")
	return snap
}

func pvpWaitingSnap() *gameapi.SessionSnapshot {
	snap := singleSnap()
	snap.ID = 3
	snap.GameMode = "pvp"
	snap.Status = "waiting_for_opponent"
	snap.CurrentTurn = nil
	return snap
}

// withOpponentGuesses returns a copy of snap carrying n opponent guesses
func withOpponentGuesses(snap *gameapi.SessionSnapshot, codes ...string) *gameapi.SessionSnapshot {
	out := *snap
	out.OpponentGuesses = nil
	for _, code := range codes {
		out.OpponentGuesses = append(out.OpponentGuesses, model.GuessRecord{
			Guess: code, Exact: 0, WrongPos: 2,
		})
	}
	return &out
}

type SynchronizerSuite struct {
	suite.Suite
	api  *stubAPI
	sync *Synchronizer
	ctx  context.Context
}

func TestSynchronizerSuite(t *testing.T) {
	suite.Run(t, new(SynchronizerSuite))
}

func (s *SynchronizerSuite) SetupTest() {
	s.api = newStubAPI()
	s.sync = New(s.api, testutil.NopLogger())
	s.ctx = context.Background()
}

func (s *SynchronizerSuite) startSingle() {
	s.api.createResp = singleSnap()
	_, err := s.sync.Start(s.ctx, model.ModeSingle, "", "")
	s.Require().NoError(err)
}

func (s *SynchronizerSuite) startAI() {
	s.api.createResp = aiSnap()
	_, err := s.sync.Start(s.ctx, model.ModeAI, "5678", "medium")
	s.Require().NoError(err)
}

// Start tests

func (s *SynchronizerSuite) TestStartSingleSucceeds() {
	s.api.createResp = singleSnap()

	sess, err := s.sync.Start(s.ctx, model.ModeSingle, "", "")
	s.Require().NoError(err)

	s.Equal(model.SessionID(1), sess.ID)
	s.Equal(model.ModeSingle, sess.Mode)
	s.Equal(model.StatusInProgress, sess.Status)
	s.Equal(1000, sess.Self.Rating)
	s.Equal(1000, sess.Self.RatingBefore)
	s.False(sess.Terminal())
	s.Nil(sess.Opponent)
}

func (s *SynchronizerSuite) TestStartAICapturesOpponentRatingBefore() {
	s.startAI()

	sess := s.sync.Session()
	s.Require().NotNil(sess.Opponent)
	s.Equal(1000, sess.Opponent.RatingBefore)
	s.Equal("AI", sess.Opponent.Name)
}

func (s *SynchronizerSuite) TestStartFailureLeavesNoSession() {
	s.api.createErr = errors.New("boom")

	_, err := s.sync.Start(s.ctx, model.ModeSingle, "", "")
	s.ErrorIs(err, model.ErrCreateSession)
	s.Nil(s.sync.Session())
}

func (s *SynchronizerSuite) TestStartRejectsBadSecretWithoutNetworkCall() {
	_, err := s.sync.Start(s.ctx, model.ModeAI, "12a4", "")
	s.ErrorIs(err, model.ErrCreateSession)
	s.Equal(0, s.api.count("create"))
}

func (s *SynchronizerSuite) TestStartRejectsUnknownMode() {
	_, err := s.sync.Start(s.ctx, model.GameMode("coop"), "", "")
	s.ErrorIs(err, model.ErrCreateSession)
	s.Equal(0, s.api.count("create"))
}

// SubmitGuess tests

func (s *SynchronizerSuite) TestSubmitGuessAppendsInOrder() {
	s.startSingle()

	first := singleSnap()
	first.SelfGuesses = []model.GuessRecord{{Guess: "1122", Exact: 1, WrongPos: 1}}
	second := singleSnap()
	second.SelfGuesses = []model.GuessRecord{
		{Guess: "1122", Exact: 1, WrongPos: 1},
		{Guess: "3344", Exact: 0, WrongPos: 2},
	}
	s.api.submitResps = []stubResult{{snap: first}, {snap: second}}

	s.Require().NoError(s.sync.SubmitGuess(s.ctx, "1122"))
	s.Require().NoError(s.sync.SubmitGuess(s.ctx, "3344"))

	sess := s.sync.Session()
	s.Require().Len(sess.Self.Guesses, 2)
	s.Equal("1122", sess.Self.Guesses[0].Guess)
	s.Equal("3344", sess.Self.Guesses[1].Guess)
}

func (s *SynchronizerSuite) TestSubmitWinningGuessEndsSingleSession() {
	s.startSingle()

	won := singleSnap()
	won.Status = "completed"
	won.SelfGuesses = []model.GuessRecord{{Guess: "1234", Exact: 4, WrongPos: 0}}
	won.SelfSecret = ptr("1234")
	won.WinnerID = ptr(selfID)
	won.CurrentTurn = nil
	won.CompletedAt = ptr(time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC))
	s.api.submitResps = []stubResult{{snap: won}}

	s.Require().NoError(s.sync.SubmitGuess(s.ctx, "1234"))

	sess := s.sync.Session()
	s.True(sess.Terminal())
	s.True(sess.SelfWon())
	s.False(sess.OpponentWon())
	s.Equal("1234", sess.Secret())
	s.Nil(sess.CurrentTurn)
	s.False(s.sync.OpponentThinking())
}

func (s *SynchronizerSuite) TestSubmitGuessPreconditionsRejectedWithoutNetwork() {
	err := s.sync.SubmitGuess(s.ctx, "1234")
	s.True(model.IsInvalidGuess(err), "no session: %v", err)

	s.startSingle()
	err = s.sync.SubmitGuess(s.ctx, "123")
	s.True(model.IsInvalidGuess(err), "short code: %v", err)
	err = s.sync.SubmitGuess(s.ctx, "12x4")
	s.True(model.IsInvalidGuess(err), "non-digit code: %v", err)

	s.Equal(0, s.api.count("submit"))
}

func (s *SynchronizerSuite) TestSubmitGuessRejectedOnTerminalSession() {
	s.startSingle()
	won := singleSnap()
	won.Status = "completed"
	won.SelfGuesses = []model.GuessRecord{{Guess: "1234", Exact: 4, WrongPos: 0}}
	won.WinnerID = ptr(selfID)
	won.CurrentTurn = nil
	s.api.submitResps = []stubResult{{snap: won}}
	s.Require().NoError(s.sync.SubmitGuess(s.ctx, "1234"))

	err := s.sync.SubmitGuess(s.ctx, "4321")
	s.True(model.IsInvalidGuess(err))
	s.Equal(1, s.api.count("submit"))
}

func (s *SynchronizerSuite) TestSubmitGuessRejectedWhileInFlight() {
	s.startSingle()

	resp := singleSnap()
	resp.SelfGuesses = []model.GuessRecord{{Guess: "1122", Exact: 0, WrongPos: 1}}
	s.api.submitResps = []stubResult{{snap: resp}}
	started := make(chan struct{})
	release := make(chan struct{})
	s.api.submitStarted = started
	s.api.submitRelease = release

	done := make(chan error, 1)
	go func() {
		done <- s.sync.SubmitGuess(s.ctx, "1122")
	}()
	<-started

	err := s.sync.SubmitGuess(s.ctx, "3344")
	s.True(model.IsInvalidGuess(err), "second submit must be rejected, not queued: %v", err)

	close(release)
	s.Require().NoError(<-done)
	s.Len(s.sync.Session().Self.Guesses, 1)
}

func (s *SynchronizerSuite) TestSubmitGuessFailureClearsLatchAndKeepsSession() {
	s.startSingle()
	s.api.submitResps = []stubResult{{err: errors.New("boom")}}

	err := s.sync.SubmitGuess(s.ctx, "1122")
	s.ErrorIs(err, model.ErrSubmitGuess)
	s.False(s.sync.Submitting())
	s.Empty(s.sync.Session().Self.Guesses)

	// The latch is clear; the next submission goes through
	resp := singleSnap()
	resp.SelfGuesses = []model.GuessRecord{{Guess: "1122", Exact: 0, WrongPos: 1}}
	s.api.submitResps = []stubResult{{snap: resp}}
	s.NoError(s.sync.SubmitGuess(s.ctx, "1122"))
}

// Refresh tests

func (s *SynchronizerSuite) TestRefreshPreservesRatingBefore() {
	s.startSingle()

	updated := singleSnap()
	updated.SelfRating = 1020
	s.api.getResps = []stubResult{{snap: updated}}

	sess, err := s.sync.Refresh(s.ctx)
	s.Require().NoError(err)
	s.Equal(1020, sess.Self.Rating)
	s.Equal(1000, sess.Self.RatingBefore, "rating-before is captured once, never re-captured on merge")
}

func (s *SynchronizerSuite) TestRefreshWithoutSessionFails() {
	_, err := s.sync.Refresh(s.ctx)
	s.ErrorIs(err, model.ErrFetchSession)
	s.ErrorIs(err, model.ErrNoSession)
}

func (s *SynchronizerSuite) TestRefreshFailureLeavesStateUnchanged() {
	s.startSingle()
	s.api.getResps = []stubResult{{err: errors.New("boom")}}

	_, err := s.sync.Refresh(s.ctx)
	s.ErrorIs(err, model.ErrFetchSession)
	s.Equal(model.SessionID(1), s.sync.Session().ID)
}

func (s *SynchronizerSuite) TestRefreshPicksUpJoinedOpponent() {
	s.api.createResp = pvpWaitingSnap()
	_, err := s.sync.Start(s.ctx, model.ModePvP, "5678", "")
	s.Require().NoError(err)
	s.Equal(model.StatusWaiting, s.sync.Session().Status)

	joined := pvpWaitingSnap()
	joined.Status = "in_progress"
	joined.OpponentID = ptr(oppID)
	joined.OpponentName = ptr("bob")
	joined.OpponentRating = ptr(1100)
	joined.CurrentTurn = ptr(selfID)
	s.api.getResps = []stubResult{{snap: joined}}

	sess, err := s.sync.Refresh(s.ctx)
	s.Require().NoError(err)
	s.Equal(model.StatusInProgress, sess.Status)
	s.Require().NotNil(sess.Opponent)
	s.Equal("bob", sess.Opponent.Name)
	s.Equal(1100, sess.Opponent.RatingBefore, "opponent rating-before captured at first sight")
}

func (s *SynchronizerSuite) TestRefreshRejectsTerminalRevert() {
	s.startSingle()
	won := singleSnap()
	won.Status = "completed"
	won.SelfGuesses = []model.GuessRecord{{Guess: "1234", Exact: 4, WrongPos: 0}}
	won.WinnerID = ptr(selfID)
	won.CurrentTurn = nil
	s.api.submitResps = []stubResult{{snap: won}}
	s.Require().NoError(s.sync.SubmitGuess(s.ctx, "1234"))

	// A snapshot with winner_id null after terminal is malformed
	s.api.getResps = []stubResult{{snap: singleSnap()}}
	_, err := s.sync.Refresh(s.ctx)
	s.ErrorIs(err, model.ErrMalformedSnapshot)
	s.True(s.sync.Session().Terminal(), "terminal state is sticky")
}

// PollOpponentMove tests

func (s *SynchronizerSuite) TestPollIsNoopInSingleMode() {
	s.startSingle()
	s.NoError(s.sync.PollOpponentMove(s.ctx))
	s.Equal(0, s.api.count("opponent"))
}

func (s *SynchronizerSuite) TestPollIsNoopWithoutSession() {
	s.NoError(s.sync.PollOpponentMove(s.ctx))
	s.Equal(0, s.api.count("opponent"))
}

func (s *SynchronizerSuite) TestPollIsNoopWhenTerminal() {
	s.startAI()
	won := withOpponentGuesses(aiSnap(), "0000")
	won.Status = "completed"
	won.WinnerID = ptr(oppID)
	won.CurrentTurn = nil
	s.api.opponentResps = []stubResult{{snap: won}}
	s.Require().NoError(s.sync.PollOpponentMove(s.ctx))
	s.Require().True(s.sync.Session().Terminal())

	s.NoError(s.sync.PollOpponentMove(s.ctx))
	s.Equal(1, s.api.count("opponent"))
}

func (s *SynchronizerSuite) TestPollMergesProgress() {
	s.startAI()
	s.api.opponentResps = []stubResult{
		{snap: withOpponentGuesses(aiSnap(), "0000")},
		{snap: withOpponentGuesses(aiSnap(), "0000", "1111", "2222")},
	}

	s.Require().NoError(s.sync.PollOpponentMove(s.ctx))
	s.Equal(1, s.sync.Session().OpponentGuessCount())

	s.Require().NoError(s.sync.PollOpponentMove(s.ctx))
	s.Equal(3, s.sync.Session().OpponentGuessCount())
}

func (s *SynchronizerSuite) TestPollDropsRegression() {
	s.startAI()
	s.api.opponentResps = []stubResult{
		{snap: withOpponentGuesses(aiSnap(), "0000", "1111")},
		{snap: withOpponentGuesses(aiSnap(), "0000")},
	}

	s.Require().NoError(s.sync.PollOpponentMove(s.ctx))
	s.Equal(2, s.sync.Session().OpponentGuessCount())

	// A slow response arriving after a faster one must not roll the
	// opponent history back
	s.Require().NoError(s.sync.PollOpponentMove(s.ctx))
	s.Equal(2, s.sync.Session().OpponentGuessCount())
}

func (s *SynchronizerSuite) TestPollDropsTieEntirely() {
	s.startAI()
	first := withOpponentGuesses(aiSnap(), "0000")
	first.CurrentTurn = ptr(selfID)
	tie := withOpponentGuesses(aiSnap(), "0000")
	tie.CurrentTurn = ptr(oppID)
	s.api.opponentResps = []stubResult{{snap: first}, {snap: tie}}

	s.Require().NoError(s.sync.PollOpponentMove(s.ctx))
	s.Require().NoError(s.sync.PollOpponentMove(s.ctx))

	sess := s.sync.Session()
	s.Equal(1, sess.OpponentGuessCount())
	s.Require().NotNil(sess.CurrentTurn)
	s.Equal(model.PlayerID(selfID), *sess.CurrentTurn, "tied snapshot is dropped wholesale, not partially applied")
}

func (s *SynchronizerSuite) TestPollAppliesNewlyTerminalWithoutNewGuesses() {
	s.startAI()
	first := withOpponentGuesses(aiSnap(), "5678")
	s.api.opponentResps = []stubResult{{snap: first}}
	s.Require().NoError(s.sync.PollOpponentMove(s.ctx))

	won := withOpponentGuesses(aiSnap(), "5678")
	won.Status = "completed"
	won.WinnerID = ptr(oppID)
	won.CurrentTurn = nil
	s.api.opponentResps = []stubResult{{snap: won}}

	s.Require().NoError(s.sync.PollOpponentMove(s.ctx))
	sess := s.sync.Session()
	s.True(sess.Terminal())
	s.True(sess.OpponentWon())
	s.False(sess.SelfWon())
}

func (s *SynchronizerSuite) TestPollFailureKeepsOpponentGuesses() {
	s.startAI()
	s.api.opponentResps = []stubResult{
		{snap: withOpponentGuesses(aiSnap(), "0000", "1111")},
		{err: errors.New("network jitter")},
	}

	s.Require().NoError(s.sync.PollOpponentMove(s.ctx))
	err := s.sync.PollOpponentMove(s.ctx)
	s.ErrorIs(err, model.ErrOpponentPoll)
	s.Equal(2, s.sync.Session().OpponentGuessCount())
}

func (s *SynchronizerSuite) TestPollRejectsMalformedFeedback() {
	s.startAI()
	bad := aiSnap()
	bad.OpponentGuesses = []model.GuessRecord{{Guess: "0000", Exact: 3, WrongPos: 2}}
	s.api.opponentResps = []stubResult{{snap: bad}}

	err := s.sync.PollOpponentMove(s.ctx)
	s.ErrorIs(err, model.ErrMalformedSnapshot)
	s.Equal(0, s.sync.Session().OpponentGuessCount())
}

// Abandon tests

func (s *SynchronizerSuite) TestAbandonIsNoopInSingleMode() {
	s.startSingle()
	s.NoError(s.sync.Abandon(s.ctx))
	s.Equal(0, s.api.count("abandon"))
	s.Equal(model.StatusInProgress, s.sync.Session().Status)
}

func (s *SynchronizerSuite) TestAbandonIsNoopWhileWaiting() {
	s.api.createResp = pvpWaitingSnap()
	_, err := s.sync.Start(s.ctx, model.ModePvP, "", "")
	s.Require().NoError(err)

	s.NoError(s.sync.Abandon(s.ctx))
	s.Equal(0, s.api.count("abandon"))
}

func (s *SynchronizerSuite) TestAbandonNotifiesServerWithoutLocalChange() {
	s.startAI()
	s.NoError(s.sync.Abandon(s.ctx))
	s.Equal(1, s.api.count("abandon"))
	// Terminal state arrives via the next refresh or poll, not here
	s.Equal(model.StatusInProgress, s.sync.Session().Status)
}

// Reset tests

func (s *SynchronizerSuite) TestResetDiscardsSession() {
	s.startSingle()
	s.sync.Reset()
	s.Nil(s.sync.Session())
	s.Equal(1, s.api.count("create"))
}

func (s *SynchronizerSuite) TestResponseForResetSessionIsDropped() {
	s.startSingle()

	resp := singleSnap()
	resp.SelfGuesses = []model.GuessRecord{{Guess: "1122", Exact: 0, WrongPos: 1}}
	s.api.submitResps = []stubResult{{snap: resp}}
	started := make(chan struct{})
	release := make(chan struct{})
	s.api.submitStarted = started
	s.api.submitRelease = release

	done := make(chan error, 1)
	go func() {
		done <- s.sync.SubmitGuess(s.ctx, "1122")
	}()
	<-started

	s.sync.Reset()
	close(release)
	s.Require().NoError(<-done)

	s.Nil(s.sync.Session(), "a response landing after reset must not resurrect the session")
}

// Poll loop tests

func (s *SynchronizerSuite) TestOpponentMoveLoopStopsWhenTurnReturns() {
	s.startAI()
	// First the opponent is mid-think, then the turn comes back
	thinking := aiSnap()
	thinking.CurrentTurn = ptr(oppID)
	s.api.submitResps = []stubResult{{snap: thinking}}
	s.Require().NoError(s.sync.SubmitGuess(s.ctx, "1122"))
	s.Require().True(s.sync.OpponentThinking())

	moved := withOpponentGuesses(aiSnap(), "0000")
	moved.CurrentTurn = ptr(selfID)
	s.api.opponentResps = []stubResult{{snap: moved}}

	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	s.sync.OpponentMoveLoop(5 * time.Millisecond).Run(ctx)

	s.NoError(ctx.Err(), "loop must end on its own once the opponent moved")
	s.False(s.sync.OpponentThinking())
	s.Equal(1, s.sync.Session().OpponentGuessCount())
}

func (s *SynchronizerSuite) TestMatchWaitingLoopStopsOnceMatched() {
	s.api.createResp = pvpWaitingSnap()
	_, err := s.sync.Start(s.ctx, model.ModePvP, "", "")
	s.Require().NoError(err)

	joined := pvpWaitingSnap()
	joined.Status = "in_progress"
	joined.OpponentID = ptr(oppID)
	joined.OpponentName = ptr("bob")
	joined.OpponentRating = ptr(1100)
	joined.CurrentTurn = ptr(selfID)
	s.api.getResps = []stubResult{{snap: joined}}

	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	s.sync.MatchWaitingLoop(5 * time.Millisecond).Run(ctx)

	s.NoError(ctx.Err())
	s.Equal(model.StatusInProgress, s.sync.Session().Status)
}

func (s *SynchronizerSuite) TestMatchWaitingLoopStopsOnReset() {
	s.api.createResp = pvpWaitingSnap()
	_, err := s.sync.Start(s.ctx, model.ModePvP, "", "")
	s.Require().NoError(err)

	// Polls keep the session waiting until reset ends the loop
	waiting := pvpWaitingSnap()
	s.api.getResps = []stubResult{
		{snap: waiting}, {snap: waiting}, {snap: waiting}, {snap: waiting},
		{snap: waiting}, {snap: waiting}, {snap: waiting}, {snap: waiting},
	}

	loop := s.sync.MatchWaitingLoop(5 * time.Millisecond)
	stop := loop.Start(s.ctx)
	defer stop()

	time.Sleep(12 * time.Millisecond)
	s.sync.Reset()

	finished := make(chan struct{})
	go func() {
		stop()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		s.Fail("loop did not stop after reset")
	}
	s.Nil(s.sync.Session())
}