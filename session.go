package main

import (
	"log"
	"time"
)

type phase int

const (
	phaseLobby phase = iota
	phaseAwaitingAnswers
	phaseRevealed
)

// finalLevel is the last playable level; advancing past it ends the game.
const finalLevel = 8

type timerPurpose int

const (
	timerAnswerWindow timerPurpose = iota
	timerPostReveal
)

// Commands consumed by the session goroutine. Everything that mutates
// session state arrives through the inbox, including timer firings, so
// no locking is needed anywhere in the engine.
type connect struct {
	client *Client
}

type disconnect struct {
	client *Client
}

type sendName struct {
	client *Client
	name   string
	avatar string
}

type setMinPlayers struct {
	client *Client
	value  int
}

type toggleAutoStart struct {
	client *Client
	flag   bool
}

type toggleAutoNext struct {
	client *Client
	flag   bool
}

type startGame struct {
	client *Client
}

type submitSelection struct {
	client *Client
	choice string
}

type nextLevel struct {
	client *Client
}

type timerFired struct {
	purpose timerPurpose
	epoch   uint64
}

// Session is the single game session hosted by this process. One
// goroutine (Run) owns all of its state.
type Session struct {
	inbox chan any
	quit  chan struct{}

	cfg       *Config
	catalogue *Catalogue

	clients map[string]*Client
	roster  Roster

	gameStarted  bool
	currentLevel int
	minPlayers   int
	autoStart    bool
	autoNext     bool
	phase        phase
	options      OptionPair

	// At most one timer is armed. Firings carry the epoch they were
	// armed with; a firing whose epoch is stale is dropped, so cancel
	// never races a callback already in flight.
	timer      *time.Timer
	timerEpoch uint64
}

func newSession(cfg *Config, catalogue *Catalogue) *Session {
	return &Session{
		inbox:      make(chan any, 256),
		quit:       make(chan struct{}),
		cfg:        cfg,
		catalogue:  catalogue,
		clients:    make(map[string]*Client),
		minPlayers: cfg.minPlayers,
		autoStart:  cfg.autoStart,
		autoNext:   cfg.autoNext,
	}
}

func (s *Session) Run() {
	for {
		select {
		case <-s.quit:
			s.cancelTimer()
			return
		case ev := <-s.inbox:
			s.handle(ev)
		}
	}
}

func (s *Session) Stop() {
	close(s.quit)
}

func (s *Session) handle(ev any) {
	switch ev := ev.(type) {
	case connect:
		s.handleConnect(ev.client)
	case disconnect:
		s.handleDisconnect(ev.client)
	case sendName:
		s.handleSendName(ev.client, ev.name, ev.avatar)
	case setMinPlayers:
		s.handleSetMinPlayers(ev.client, ev.value)
	case toggleAutoStart:
		s.handleToggleAutoStart(ev.client, ev.flag)
	case toggleAutoNext:
		s.handleToggleAutoNext(ev.client, ev.flag)
	case startGame:
		s.handleStartGame(ev.client)
	case submitSelection:
		s.handleSubmitSelection(ev.client, ev.choice)
	case nextLevel:
		s.handleNextLevel(ev.client)
	case timerFired:
		s.handleTimerFired(ev)
	}
}

// ---- outbound fan-out ----

// send delivers to a live client without blocking. Clients no longer
// registered are skipped: their channel is already closed, and a select
// send-case on a closed channel would panic rather than fall through to
// default.
func (s *Session) send(c *Client, event string, data any) {
	if cur, ok := s.clients[c.handle]; !ok || cur != c {
		return
	}

	select {
	case c.send <- serverEnvelope{Event: event, Data: data}:
	default:
		s.dropClient(c)
	}
}

func (s *Session) broadcast(event string, data any) {
	for _, c := range s.clients {
		s.send(c, event, data)
	}
}

// sendTo unicasts to the participant's connection, if it is still live.
func (s *Session) sendTo(p *Participant, event string, data any) {
	if c, ok := s.clients[p.Handle]; ok {
		s.send(c, event, data)
	}
}

// dropClient disconnects a client that cannot keep up. Closing the
// send channel stops its write pump; roster cleanup follows through
// the disconnect event its read pump emits.
func (s *Session) dropClient(c *Client) {
	if _, ok := s.clients[c.handle]; ok {
		delete(s.clients, c.handle)
		close(c.send)
	}
}

// ---- timers ----

func (s *Session) armTimer(purpose timerPurpose, delay time.Duration) {
	s.cancelTimer()

	epoch := s.timerEpoch
	s.timer = time.AfterFunc(delay, func() {
		select {
		case s.inbox <- timerFired{purpose: purpose, epoch: epoch}:
		case <-s.quit:
		}
	})
}

func (s *Session) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerEpoch++
}

// ---- event handlers ----

func (s *Session) handleConnect(c *Client) {
	s.clients[c.handle] = c
	logf(s.cfg, "GAMES: Connected %s", c.handle)
}

func (s *Session) handleDisconnect(c *Client) {
	if cur, ok := s.clients[c.handle]; ok && cur == c {
		delete(s.clients, c.handle)
		close(c.send)
	}

	removed, promoted := s.roster.Remove(c.handle)
	if removed == nil {
		return
	}

	logf(s.cfg, "GAMES: Player %q left", removed.Name)
	s.broadcast(evtPlayersUpdate, s.roster.View())

	if promoted != nil {
		s.sendTo(promoted, evtYouAre, RoleInfo{IsAdmin: true, IsSpectator: false})
	}

	if s.gameStarted && s.roster.NonSpectatorCount() < s.minPlayers {
		s.cancelGame("Not enough players, game cancelled.")
	}
}

func (s *Session) handleSendName(c *Client, name, avatar string) {
	p := s.roster.Admit(c.handle, name, avatar, s.gameStarted)
	if p == nil {
		return
	}

	logf(s.cfg, "GAMES: Player %q joined", p.Name)

	s.broadcast(evtPlayersUpdate, s.roster.View())

	s.send(c, evtYouAre, RoleInfo{IsAdmin: p.IsAdmin, IsSpectator: p.IsSpectator})
	s.send(c, evtMinPlayersUpdate, s.minPlayers)
	s.send(c, evtAutoStartUpdate, s.autoStart)
	s.send(c, evtAutoNextUpdate, s.autoNext)

	s.maybeAutoStart()
}

func (s *Session) isAdmin(c *Client) bool {
	p := s.roster.Get(c.handle)
	return p != nil && p.IsAdmin
}

func (s *Session) handleSetMinPlayers(c *Client, value int) {
	if !s.isAdmin(c) {
		return
	}

	s.minPlayers = value
	s.broadcast(evtMinPlayersUpdate, s.minPlayers)
	s.maybeAutoStart()
}

func (s *Session) handleToggleAutoStart(c *Client, flag bool) {
	if !s.isAdmin(c) {
		return
	}

	s.autoStart = flag
	s.broadcast(evtAutoStartUpdate, s.autoStart)
	s.maybeAutoStart()
}

func (s *Session) handleToggleAutoNext(c *Client, flag bool) {
	if !s.isAdmin(c) {
		return
	}

	s.autoNext = flag
	s.broadcast(evtAutoNextUpdate, s.autoNext)

	// Keep the outstanding deadline consistent with the flag while a
	// reveal is on screen.
	if s.phase == phaseRevealed {
		if flag {
			s.armTimer(timerPostReveal, s.cfg.postReveal)
		} else {
			s.cancelTimer()
		}
	}
}

func (s *Session) handleStartGame(c *Client) {
	if !s.isAdmin(c) || s.gameStarted {
		return
	}

	current := s.roster.NonSpectatorCount()
	if current < s.minPlayers {
		s.send(c, evtNotEnoughPlayers, QuorumInfo{Current: current, Required: s.minPlayers})
		return
	}

	// gameStarted only flips once the first level actually loads, so a
	// catalogue fault cannot strand the session outside the lobby.
	if s.advance(1) {
		s.gameStarted = true
	}
}

func (s *Session) maybeAutoStart() {
	if s.gameStarted || !s.autoStart {
		return
	}
	if s.roster.NonSpectatorCount() < s.minPlayers {
		return
	}

	if s.advance(1) {
		s.gameStarted = true
	}
}

func (s *Session) handleSubmitSelection(c *Client, choice string) {
	if s.phase != phaseAwaitingAnswers {
		return
	}

	p := s.roster.Get(c.handle)
	if p == nil || p.IsSpectator || p.Selection != "" {
		return
	}
	if choice != s.options.OptionA && choice != s.options.OptionB {
		return
	}

	p.Selection = choice

	if s.roster.NonSpectatorCount() > 0 && s.roster.AllAnswered() {
		s.reveal()
	}
}

func (s *Session) handleNextLevel(c *Client) {
	if !s.isAdmin(c) || !s.gameStarted {
		return
	}

	s.advance(s.currentLevel + 1)
}

func (s *Session) handleTimerFired(ev timerFired) {
	if ev.epoch != s.timerEpoch {
		return
	}
	s.timer = nil

	switch ev.purpose {
	case timerAnswerWindow:
		if s.phase != phaseAwaitingAnswers {
			return
		}
		s.broadcast(evtTimeUp, nil)
		if selections := s.roster.Selections(); len(selections) > 0 {
			s.broadcast(evtAllSelections, RevealData{Selections: selections})
		}
		s.phase = phaseRevealed
		if s.autoNext {
			s.armTimer(timerPostReveal, s.cfg.postReveal)
		}
	case timerPostReveal:
		if s.phase != phaseRevealed || !s.autoNext {
			return
		}
		// A catalogue fault leaves the session in REVEALED; re-arm so
		// an unattended autoNext game can recover once the level file
		// is readable again.
		if !s.advance(s.currentLevel + 1) {
			s.armTimer(timerPostReveal, s.cfg.postReveal)
		}
	}
}

// ---- state machine transitions ----

// reveal ends the answer phase once every active player has chosen.
func (s *Session) reveal() {
	s.cancelTimer()
	s.broadcast(evtAllSelections, RevealData{Selections: s.roster.Selections()})
	s.phase = phaseRevealed
	if s.autoNext {
		s.armTimer(timerPostReveal, s.cfg.postReveal)
	}
}

// advance starts the given level, or ends the game once the target is
// past the final level. The level counter only moves after the option
// pair has loaded, so a catalogue miss leaves the session untouched
// and reports failure.
func (s *Session) advance(target int) bool {
	if target > finalLevel {
		s.cancelTimer()
		s.broadcast(evtGameOver, nil)
		s.resetToLobby()
		logf(s.cfg, "GAMES: Game over after level %d", finalLevel)
		return true
	}

	pair, err := s.catalogue.LoadLevel(target)
	if err != nil {
		log.Printf("ERROR: %v", err)
		return false
	}

	s.cancelTimer()
	s.roster.ResetForLevel()
	s.currentLevel = target
	s.options = pair
	s.phase = phaseAwaitingAnswers

	logf(s.cfg, "GAMES: Level %d: %q vs %q", target, pair.OptionA, pair.OptionB)

	s.broadcast(evtLevelData, LevelData{
		Level:   target,
		OptionA: pair.OptionA,
		OptionB: pair.OptionB,
	})

	s.armTimer(timerAnswerWindow, s.cfg.answerWindow)

	return true
}

// cancelGame aborts a running session after quorum loss.
func (s *Session) cancelGame(reason string) {
	s.cancelTimer()
	s.broadcast(evtGameCancelled, reason)

	s.roster.ResetForLevel()
	s.resetToLobby()
	s.broadcast(evtPlayersUpdate, s.roster.View())

	logf(s.cfg, "GAMES: Game cancelled: %s", reason)
}

// resetToLobby returns to the lobby. Selections are cleared so that no
// stale choice can outlive the options it referred to; spectator flags
// are left alone here, since the next level readmits everyone anyway.
func (s *Session) resetToLobby() {
	s.gameStarted = false
	s.currentLevel = 0
	s.phase = phaseLobby
	s.options = OptionPair{}

	for _, p := range s.roster.participants {
		p.Selection = ""
	}
}
