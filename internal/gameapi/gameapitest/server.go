// Package gameapitest provides an in-process fake of the game server's
// HTTP contract for client tests. It implements real feedback scoring so
// the snapshots it serves honor the invariants the client validates, but
// it is test tooling, not a server implementation.
package gameapitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/mcoot/mastermind-go/internal/gameapi"
	"github.com/mcoot/mastermind-go/internal/model"
)

type player struct {
	id     int64
	name   string
	rating int
}

type account struct {
	password string
	playerID int64
}

type side struct {
	player  *player
	secret  string
	guesses []model.GuessRecord
}

type session struct {
	id          int64
	mode        model.GameMode
	status      model.SessionStatus
	self        side
	opponent    *side
	currentTurn *int64
	winnerID    *int64
	difficulty  string
	createdAt   time.Time
	completedAt *time.Time

	// scripted opponent moves, consumed one per opponent-guesses poll
	opponentMoves []string
}

// Server is a fake game server bound to an httptest listener
type Server struct {
	mu sync.Mutex

	httpSrv  *httptest.Server
	sessions map[int64]*session
	players  map[int64]*player
	tokens   map[string]int64
	accounts map[string]*account
	nextID   int64

	// failures maps an operation name (create, get, guess, opponent,
	// abandon) to a count of requests that should 500
	failures map[string]int
}

// NewServer starts a fake server. Callers own Close.
func NewServer() *Server {
	s := &Server{
		sessions: make(map[int64]*session),
		players:  make(map[int64]*player),
		tokens:   make(map[string]int64),
		accounts: make(map[string]*account),
		failures: make(map[string]int),
	}

	r := mux.NewRouter()
	r.HandleFunc("/auth/guest", s.handleGuest).Methods(http.MethodPost)
	r.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", s.withAuth(s.handleMe)).Methods(http.MethodGet)
	r.HandleFunc("/auth/logout", s.withAuth(s.handleLogout)).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.withAuth(s.handleCreate)).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", s.withAuth(s.handleGet)).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/guesses", s.withAuth(s.handleGuess)).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/opponent-guesses", s.withAuth(s.handleOpponentGuess)).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/abandon", s.withAuth(s.handleAbandon)).Methods(http.MethodPost)

	s.httpSrv = httptest.NewServer(r)
	return s
}

// URL returns the server's base URL
func (s *Server) URL() string {
	return s.httpSrv.URL
}

// Close shuts the server down
func (s *Server) Close() {
	s.httpSrv.Close()
}

// NewToken registers a player and returns a bearer token for them
func (s *Server) NewToken(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.newPlayerLocked(name)
	token := fmt.Sprintf("tok-%d-%s", p.id, name)
	s.tokens[token] = p.id
	return token
}

// RevokeToken makes the server reject the token with a 401
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// FailNext makes the next n requests for the named operation (create,
// get, guess, opponent, abandon) respond with HTTP 500
func (s *Server) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = n
}

// QueueOpponentMoves scripts the opponent's next guesses for a session.
// Each opponent-guesses poll consumes one queued move.
func (s *Server) QueueOpponentMoves(id int64, codes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.opponentMoves = append(sess.opponentMoves, codes...)
	}
}

// JoinOpponent simulates a second player joining a waiting pvp session
func (s *Server) JoinOpponent(id int64, name, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.status != model.StatusWaiting {
		return
	}
	p := s.newPlayerLocked(name)
	sess.opponent = &side{player: p, secret: secret}
	sess.status = model.StatusInProgress
	turn := sess.self.player.id
	sess.currentTurn = &turn
}

// SetSelfRating overrides the stored rating for the session's player,
// simulating a server-side ELO adjustment between polls
func (s *Server) SetSelfRating(id int64, rating int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.self.player.rating = rating
	}
}

// SessionCount reports how many sessions the fake has created
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) newPlayerLocked(name string) *player {
	s.nextID++
	p := &player{id: s.nextID, name: name, rating: 1000}
	s.players[p.id] = p
	return p
}

func (s *Server) failLocked(op string) bool {
	if s.failures[op] > 0 {
		s.failures[op]--
		return true
	}
	return false
}

// withAuth enforces the bearer credential, 401ing unknown tokens
func (s *Server) withAuth(next func(w http.ResponseWriter, r *http.Request, playerID int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		s.mu.Lock()
		playerID, known := s.tokens[token]
		s.mu.Unlock()
		if !known {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired session")
			return
		}
		next(w, r, playerID)
	}
}

func (s *Server) handleGuest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "display_name is required")
		return
	}

	s.mu.Lock()
	p := s.newPlayerLocked(req.DisplayName)
	token := fmt.Sprintf("tok-%d-guest", p.id)
	s.tokens[token] = p.id
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, gameapi.AuthResult{
		AccessToken: token,
		TokenType:   "bearer",
		Player:      gameapi.Player{ID: p.id, DisplayName: p.name, IsGuest: true, Rating: p.rating},
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "username and password are required")
		return
	}

	s.mu.Lock()
	if _, taken := s.accounts[req.Username]; taken {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "USERNAME_TAKEN", "Username is already taken")
		return
	}
	name := req.DisplayName
	if name == "" {
		name = req.Username
	}
	p := s.newPlayerLocked(name)
	s.accounts[req.Username] = &account{password: req.Password, playerID: p.id}
	token := fmt.Sprintf("tok-%d-%s", p.id, req.Username)
	s.tokens[token] = p.id
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, gameapi.AuthResult{
		AccessToken: token,
		TokenType:   "bearer",
		Player:      gameapi.Player{ID: p.id, DisplayName: p.name, Rating: p.rating},
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid body")
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[req.Username]
	if !ok || acct.password != req.Password {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "INVALID_CREDENTIALS", "Incorrect username or password")
		return
	}
	p := s.players[acct.playerID]
	token := fmt.Sprintf("tok-%d-%s", p.id, req.Username)
	s.tokens[token] = p.id
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, gameapi.AuthResult{
		AccessToken: token,
		TokenType:   "bearer",
		Player:      gameapi.Player{ID: p.id, DisplayName: p.name, Rating: p.rating},
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, playerID int64) {
	s.mu.Lock()
	p := s.players[playerID]
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, gameapi.Player{ID: p.id, DisplayName: p.name, IsGuest: true, Rating: p.rating})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, playerID int64) {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, playerID int64) {
	var req gameapi.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failLocked("create") {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}

	mode := model.GameMode(req.Mode)
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown game mode")
		return
	}
	secret := req.Secret
	if secret == "" {
		secret = "1234"
	}

	s.nextID++
	sess := &session{
		id:         s.nextID,
		mode:       mode,
		self:       side{player: s.players[playerID], secret: secret},
		difficulty: req.Difficulty,
		createdAt:  time.Now().UTC(),
	}

	switch mode {
	case model.ModeSingle:
		sess.status = model.StatusInProgress
		turn := playerID
		sess.currentTurn = &turn
	case model.ModeAI:
		sess.status = model.StatusInProgress
		ai := s.newPlayerLocked("AI")
		// AI's own code, the one the player is cracking
		sess.opponent = &side{player: ai, secret: "5678"}
		turn := playerID
		sess.currentTurn = &turn
	case model.ModePvP:
		sess.status = model.StatusWaiting
	}

	s.sessions[sess.id] = sess
	writeJSON(w, http.StatusCreated, snapshot(sess))
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid session id")
		return nil, false
	}
	sess, ok := s.sessions[id]
	if !ok {
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, playerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLocked("get") {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshot(sess))
}

func (s *Server) handleGuess(w http.ResponseWriter, r *http.Request, playerID int64) {
	var req gameapi.GuessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !model.ValidCode(req.Code) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "code must be 4 digits")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLocked("guess") {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if sess.winnerID != nil {
		writeError(w, http.StatusConflict, "SESSION_OVER", "Session is already over")
		return
	}

	// The player guesses the hidden code: the server's own in single
	// mode, the opponent's in ai/pvp
	target := sess.self.secret
	if sess.opponent != nil {
		target = sess.opponent.secret
	}
	exact, wrongPos := Score(target, req.Code)
	sess.self.guesses = append(sess.self.guesses, model.GuessRecord{
		Guess: req.Code, Exact: exact, WrongPos: wrongPos,
	})

	if exact == model.CodeLength {
		s.settleLocked(sess, sess.self.player.id)
	} else if sess.opponent != nil {
		turn := sess.opponent.player.id
		sess.currentTurn = &turn
	}

	writeJSON(w, http.StatusOK, snapshot(sess))
}

func (s *Server) handleOpponentGuess(w http.ResponseWriter, r *http.Request, playerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLocked("opponent") {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	if sess.opponent != nil && sess.winnerID == nil && len(sess.opponentMoves) > 0 {
		code := sess.opponentMoves[0]
		sess.opponentMoves = sess.opponentMoves[1:]

		// The opponent is cracking the player's secret
		exact, wrongPos := Score(sess.self.secret, code)
		sess.opponent.guesses = append(sess.opponent.guesses, model.GuessRecord{
			Guess: code, Exact: exact, WrongPos: wrongPos,
		})
		if exact == model.CodeLength {
			s.settleLocked(sess, sess.opponent.player.id)
		} else {
			turn := sess.self.player.id
			sess.currentTurn = &turn
		}
	}

	writeJSON(w, http.StatusOK, snapshot(sess))
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request, playerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLocked("abandon") {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if sess.status == model.StatusInProgress {
		sess.status = model.StatusAbandoned
		if sess.opponent != nil {
			s.settleLocked(sess, sess.opponent.player.id)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) settleLocked(sess *session, winner int64) {
	sess.winnerID = &winner
	sess.currentTurn = nil
	if sess.status != model.StatusAbandoned {
		sess.status = model.StatusCompleted
	}
	now := time.Now().UTC()
	sess.completedAt = &now
	// Flat rating adjustment; real ELO is the production server's business
	if sess.opponent != nil {
		if winner == sess.self.player.id {
			sess.self.player.rating += 20
			sess.opponent.player.rating -= 20
		} else {
			sess.self.player.rating -= 20
			sess.opponent.player.rating += 20
		}
	}
}

// snapshot renders a session the way the production server does: secrets
// withheld until terminal
func snapshot(sess *session) gameapi.SessionSnapshot {
	terminal := sess.winnerID != nil
	snap := gameapi.SessionSnapshot{
		ID:          sess.id,
		GameMode:    string(sess.mode),
		Status:      string(sess.status),
		SelfID:      sess.self.player.id,
		SelfName:    sess.self.player.name,
		SelfGuesses: append([]model.GuessRecord(nil), sess.self.guesses...),
		SelfRating:  sess.self.player.rating,
		CreatedAt:   sess.createdAt,
		CompletedAt: sess.completedAt,
		CurrentTurn: sess.currentTurn,
		WinnerID:    sess.winnerID,
	}
	if terminal {
		secret := sess.self.secret
		snap.SelfSecret = &secret
	}
	if sess.difficulty != "" {
		difficulty := sess.difficulty
		snap.AIDifficulty = &difficulty
	}
	if sess.opponent != nil {
		snap.OpponentID = &sess.opponent.player.id
		snap.OpponentName = &sess.opponent.player.name
		snap.OpponentRating = &sess.opponent.player.rating
		snap.OpponentGuesses = append([]model.GuessRecord(nil), sess.opponent.guesses...)
		if terminal {
			secret := sess.opponent.secret
			snap.OpponentSecret = &secret
		}
	}
	return snap
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, gameapi.ErrorResponse{
		Error: gameapi.APIError{Code: code, Message: message},
	})
}

// Score computes Mastermind feedback for a guess against a secret:
// exact is the positional match count, wrongPos the remaining per-digit
// multiset overlap
func Score(secret, guess string) (exact, wrongPos int) {
	var secretCounts, guessCounts [10]int
	for i := 0; i < len(secret) && i < len(guess); i++ {
		if secret[i] == guess[i] {
			exact++
		} else {
			secretCounts[secret[i]-'0']++
			guessCounts[guess[i]-'0']++
		}
	}
	for d := 0; d < 10; d++ {
		wrongPos += min(secretCounts[d], guessCounts[d])
	}
	return exact, wrongPos
}
