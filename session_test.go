package main

import (
	"fmt"
	"testing"
	"time"
)

func testConfig(t *testing.T) *Config {
	t.Helper()

	dir := t.TempDir()
	writeLevelFile(t, dir, "level1.json", `[{"optionA":"cats","optionB":"dogs"}]`)
	for n := 2; n <= finalLevel; n++ {
		writeLevelFile(t, dir, fmt.Sprintf("level%d.json", n),
			fmt.Sprintf(`[{"optionA":"a%d","optionB":"b%d"}]`, n, n))
	}

	return &Config{
		levels:       dir,
		minPlayers:   2,
		answerWindow: 5 * time.Second,
		postReveal:   40 * time.Millisecond,
	}
}

func startSession(t *testing.T, cfg *Config) *Session {
	t.Helper()

	s := newSession(cfg, newCatalogue(cfg.levels))
	go s.Run()
	t.Cleanup(s.Stop)

	return s
}

func newTestClient(handle string) *Client {
	return &Client{
		send:   make(chan serverEnvelope, 64),
		handle: handle,
	}
}

func join(s *Session, c *Client, name string) {
	s.inbox <- connect{client: c}
	s.inbox <- sendName{client: c, name: name}
}

// await consumes events from the client until the named one arrives.
func await(t *testing.T, c *Client, event string) serverEnvelope {
	t.Helper()

	timeout := time.After(time.Second)
	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				t.Fatalf("send channel closed while waiting for %q", event)
			}
			if env.Event == event {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", event)
		}
	}
}

// nextEvent returns the next event without skipping.
func nextEvent(t *testing.T, c *Client) serverEnvelope {
	t.Helper()

	select {
	case env, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for an event")
		return serverEnvelope{}
	}
}

// expectNo fails if the named event shows up within the window.
func expectNo(t *testing.T, c *Client, event string, window time.Duration) {
	t.Helper()

	deadline := time.After(window)
	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return
			}
			if env.Event == event {
				t.Fatalf("unexpected %q: %+v", event, env.Data)
			}
		case <-deadline:
			return
		}
	}
}

// startTwoPlayerGame joins A and B, starts the game as A, and consumes
// the level 1 broadcast on both clients.
func startTwoPlayerGame(t *testing.T, cfg *Config) (s *Session, a, b *Client) {
	t.Helper()

	s = startSession(t, cfg)
	a = newTestClient("ha")
	b = newTestClient("hb")

	join(s, a, "A")
	join(s, b, "B")
	await(t, a, evtYouAre)
	await(t, b, evtYouAre)

	s.inbox <- startGame{client: a}
	await(t, a, evtLevelData)
	await(t, b, evtLevelData)

	return s, a, b
}

func TestAdminElection(t *testing.T) {
	s := startSession(t, testConfig(t))
	a := newTestClient("ha")
	b := newTestClient("hb")

	join(s, a, "A")
	role := await(t, a, evtYouAre).Data.(RoleInfo)
	if !role.IsAdmin || role.IsSpectator {
		t.Fatalf("first player should be admin: %+v", role)
	}

	join(s, b, "B")

	// The admission broadcast precedes anything unicast to B.
	env := nextEvent(t, b)
	if env.Event != evtPlayersUpdate {
		t.Fatalf("expected players_update first, got %q", env.Event)
	}
	view := env.Data.([]PlayerInfo)
	if len(view) != 2 || view[0].Name != "A" || !view[0].IsAdmin || view[1].Name != "B" || view[1].IsAdmin {
		t.Fatalf("unexpected roster view: %+v", view)
	}

	env = nextEvent(t, b)
	if env.Event != evtYouAre {
		t.Fatalf("expected you_are second, got %q", env.Event)
	}
	role = env.Data.(RoleInfo)
	if role.IsAdmin || role.IsSpectator {
		t.Fatalf("second player should be a plain player: %+v", role)
	}
}

func TestAdmissionUnicastsSettings(t *testing.T) {
	cfg := testConfig(t)
	cfg.minPlayers = 4
	cfg.autoStart = true
	s := startSession(t, cfg)
	a := newTestClient("ha")

	join(s, a, "A")
	await(t, a, evtYouAre)

	if got := await(t, a, evtMinPlayersUpdate).Data.(int); got != 4 {
		t.Fatalf("expected min players 4, got %d", got)
	}
	if got := await(t, a, evtAutoStartUpdate).Data.(bool); !got {
		t.Fatal("expected auto start enabled")
	}
	if got := await(t, a, evtAutoNextUpdate).Data.(bool); got {
		t.Fatal("expected auto next disabled")
	}
}

func TestSendNameIdempotent(t *testing.T) {
	s := startSession(t, testConfig(t))
	a := newTestClient("ha")

	join(s, a, "A")
	await(t, a, evtAutoNextUpdate)

	s.inbox <- sendName{client: a, name: "A again"}
	expectNo(t, a, evtPlayersUpdate, 100*time.Millisecond)
}

func TestAutoStart(t *testing.T) {
	cfg := testConfig(t)
	cfg.autoStart = true
	s := startSession(t, cfg)
	a := newTestClient("ha")
	b := newTestClient("hb")

	join(s, a, "A")
	join(s, b, "B")

	level := await(t, b, evtLevelData).Data.(LevelData)
	if level.Level != 1 {
		t.Fatalf("expected level 1, got %d", level.Level)
	}
	await(t, a, evtLevelData)
}

func TestStartGameRejectedBelowQuorum(t *testing.T) {
	s := startSession(t, testConfig(t))
	a := newTestClient("ha")

	join(s, a, "A")
	await(t, a, evtYouAre)

	s.inbox <- startGame{client: a}

	quorum := await(t, a, evtNotEnoughPlayers).Data.(QuorumInfo)
	if quorum.Current != 1 || quorum.Required != 2 {
		t.Fatalf("unexpected quorum info: %+v", quorum)
	}
}

func TestAllAnsweredReveal(t *testing.T) {
	cfg := testConfig(t)
	cfg.answerWindow = 200 * time.Millisecond
	s, a, b := startTwoPlayerGame(t, cfg)

	s.inbox <- submitSelection{client: a, choice: "cats"}
	s.inbox <- submitSelection{client: b, choice: "dogs"}

	reveal := await(t, a, evtAllSelections).Data.(RevealData)
	want := []SelectionInfo{{Name: "A", Choice: "cats"}, {Name: "B", Choice: "dogs"}}
	if len(reveal.Selections) != 2 || reveal.Selections[0] != want[0] || reveal.Selections[1] != want[1] {
		t.Fatalf("unexpected reveal: %+v", reveal.Selections)
	}

	// The answer window was cancelled by the reveal.
	expectNo(t, a, evtTimeUp, 400*time.Millisecond)
}

func TestSelectionOutsideOptionsIgnored(t *testing.T) {
	s, a, b := startTwoPlayerGame(t, testConfig(t))

	s.inbox <- submitSelection{client: a, choice: "birds"}
	s.inbox <- submitSelection{client: a, choice: "cats"}
	s.inbox <- submitSelection{client: b, choice: "dogs"}

	reveal := await(t, a, evtAllSelections).Data.(RevealData)
	if reveal.Selections[0].Choice != "cats" {
		t.Fatalf("invalid choice should have been dropped: %+v", reveal.Selections)
	}
}

func TestSecondSelectionIgnored(t *testing.T) {
	s, a, b := startTwoPlayerGame(t, testConfig(t))

	s.inbox <- submitSelection{client: a, choice: "cats"}
	s.inbox <- submitSelection{client: a, choice: "dogs"}
	s.inbox <- submitSelection{client: b, choice: "dogs"}

	reveal := await(t, a, evtAllSelections).Data.(RevealData)
	if reveal.Selections[0].Choice != "cats" {
		t.Fatalf("selection should be frozen once set: %+v", reveal.Selections)
	}
}

func TestLateJoinerIsSpectator(t *testing.T) {
	s, a, b := startTwoPlayerGame(t, testConfig(t))
	c := newTestClient("hc")

	join(s, c, "C")

	role := await(t, c, evtYouAre).Data.(RoleInfo)
	if !role.IsSpectator || role.IsAdmin {
		t.Fatalf("late joiner should spectate: %+v", role)
	}

	// C's selections are ignored while spectating.
	s.inbox <- submitSelection{client: c, choice: "cats"}
	s.inbox <- submitSelection{client: a, choice: "cats"}
	s.inbox <- submitSelection{client: b, choice: "dogs"}

	reveal := await(t, a, evtAllSelections).Data.(RevealData)
	if len(reveal.Selections) != 2 {
		t.Fatalf("spectator should not appear in reveal: %+v", reveal.Selections)
	}
}

func TestSpectatorReadmittedOnNextLevel(t *testing.T) {
	s, a, b := startTwoPlayerGame(t, testConfig(t))
	c := newTestClient("hc")

	join(s, c, "C")
	await(t, c, evtYouAre)

	s.inbox <- nextLevel{client: a}

	level := await(t, c, evtLevelData).Data.(LevelData)
	if level.Level != 2 {
		t.Fatalf("expected level 2, got %d", level.Level)
	}

	s.inbox <- submitSelection{client: a, choice: "a2"}
	s.inbox <- submitSelection{client: b, choice: "a2"}
	s.inbox <- submitSelection{client: c, choice: "b2"}

	reveal := await(t, a, evtAllSelections).Data.(RevealData)
	if len(reveal.Selections) != 3 {
		t.Fatalf("readmitted spectator should count: %+v", reveal.Selections)
	}
}

func TestAnswerWindowExpiryWithoutAnswers(t *testing.T) {
	cfg := testConfig(t)
	cfg.answerWindow = 60 * time.Millisecond
	s, a, _ := startTwoPlayerGame(t, cfg)

	await(t, a, evtTimeUp)
	expectNo(t, a, evtAllSelections, 100*time.Millisecond)

	// The session is revealed, not stuck; the admin can still advance.
	s.inbox <- nextLevel{client: a}
	level := await(t, a, evtLevelData).Data.(LevelData)
	if level.Level != 2 {
		t.Fatalf("expected level 2, got %d", level.Level)
	}
}

func TestAnswerWindowExpiryPartialReveal(t *testing.T) {
	cfg := testConfig(t)
	cfg.answerWindow = 60 * time.Millisecond
	s, a, _ := startTwoPlayerGame(t, cfg)

	s.inbox <- submitSelection{client: a, choice: "cats"}

	await(t, a, evtTimeUp)

	reveal := await(t, a, evtAllSelections).Data.(RevealData)
	if len(reveal.Selections) != 1 || reveal.Selections[0].Name != "A" {
		t.Fatalf("expected only A in the partial reveal: %+v", reveal.Selections)
	}
}

func TestAutoNextAdvances(t *testing.T) {
	cfg := testConfig(t)
	cfg.autoNext = true
	s, a, b := startTwoPlayerGame(t, cfg)

	s.inbox <- submitSelection{client: a, choice: "cats"}
	s.inbox <- submitSelection{client: b, choice: "dogs"}
	await(t, a, evtAllSelections)

	level := await(t, a, evtLevelData).Data.(LevelData)
	if level.Level != 2 {
		t.Fatalf("expected auto-advance to level 2, got %d", level.Level)
	}
}

func TestToggleAutoNextOffCancelsAdvance(t *testing.T) {
	cfg := testConfig(t)
	cfg.autoNext = true
	cfg.postReveal = 300 * time.Millisecond
	s, a, b := startTwoPlayerGame(t, cfg)

	s.inbox <- submitSelection{client: a, choice: "cats"}
	s.inbox <- submitSelection{client: b, choice: "dogs"}
	await(t, a, evtAllSelections)

	s.inbox <- toggleAutoNext{client: a, flag: false}

	expectNo(t, a, evtLevelData, 500*time.Millisecond)
}

func TestQuorumLossCancelsGame(t *testing.T) {
	s, a, b := startTwoPlayerGame(t, testConfig(t))

	s.inbox <- disconnect{client: b}

	reason := await(t, a, evtGameCancelled).Data.(string)
	if reason != "Not enough players, game cancelled." {
		t.Fatalf("unexpected reason: %q", reason)
	}

	// Back in the lobby: a fresh start is rejected for lack of players.
	s.inbox <- startGame{client: a}
	quorum := await(t, a, evtNotEnoughPlayers).Data.(QuorumInfo)
	if quorum.Current != 1 || quorum.Required != 2 {
		t.Fatalf("unexpected quorum info: %+v", quorum)
	}
}

func TestAdminMigratesOnDisconnect(t *testing.T) {
	s := startSession(t, testConfig(t))
	a := newTestClient("ha")
	b := newTestClient("hb")

	join(s, a, "A")
	join(s, b, "B")
	await(t, b, evtAutoNextUpdate)

	s.inbox <- disconnect{client: a}

	view := await(t, b, evtPlayersUpdate).Data.([]PlayerInfo)
	role := await(t, b, evtYouAre).Data.(RoleInfo)
	if !role.IsAdmin {
		t.Fatalf("B should be promoted: %+v", role)
	}

	admins := 0
	for _, p := range view {
		if p.IsAdmin {
			admins++
		}
	}
	if len(view) != 1 || admins != 1 {
		t.Fatalf("expected a single admin to remain: %+v", view)
	}
}

func TestNonAdminCommandsIgnored(t *testing.T) {
	s := startSession(t, testConfig(t))
	a := newTestClient("ha")
	b := newTestClient("hb")

	join(s, a, "A")
	join(s, b, "B")
	await(t, a, evtAutoNextUpdate)
	await(t, b, evtAutoNextUpdate)

	s.inbox <- setMinPlayers{client: b, value: 1}
	s.inbox <- toggleAutoStart{client: b, flag: true}
	s.inbox <- startGame{client: b}

	expectNo(t, a, evtMinPlayersUpdate, 100*time.Millisecond)
	expectNo(t, a, evtAutoStartUpdate, 50*time.Millisecond)
	expectNo(t, a, evtLevelData, 50*time.Millisecond)
}

func TestSetMinPlayersBroadcastsAndAutoStarts(t *testing.T) {
	cfg := testConfig(t)
	cfg.minPlayers = 5
	cfg.autoStart = true
	s := startSession(t, cfg)
	a := newTestClient("ha")
	b := newTestClient("hb")

	join(s, a, "A")
	join(s, b, "B")
	await(t, a, evtAutoNextUpdate)
	await(t, b, evtAutoNextUpdate)

	s.inbox <- setMinPlayers{client: a, value: 2}

	if got := await(t, b, evtMinPlayersUpdate).Data.(int); got != 2 {
		t.Fatalf("expected min players 2, got %d", got)
	}

	// Lowering the threshold put the lobby at quorum, so the game starts.
	level := await(t, b, evtLevelData).Data.(LevelData)
	if level.Level != 1 {
		t.Fatalf("expected level 1, got %d", level.Level)
	}
}

func TestGameOverAfterFinalLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.minPlayers = 1
	s := startSession(t, cfg)
	a := newTestClient("ha")

	join(s, a, "A")
	await(t, a, evtYouAre)

	s.inbox <- startGame{client: a}

	for lvl := 1; lvl <= finalLevel; lvl++ {
		level := await(t, a, evtLevelData).Data.(LevelData)
		if level.Level != lvl {
			t.Fatalf("expected level %d, got %d", lvl, level.Level)
		}
		s.inbox <- nextLevel{client: a}
	}

	await(t, a, evtGameOver)

	// A new session can start from the lobby.
	s.inbox <- startGame{client: a}
	level := await(t, a, evtLevelData).Data.(LevelData)
	if level.Level != 1 {
		t.Fatalf("expected a fresh level 1, got %d", level.Level)
	}
}

func TestCatalogueMissLeavesSessionUntouched(t *testing.T) {
	cfg := testConfig(t)
	writeLevelFile(t, cfg.levels, "level2.json", `not json`)
	s, a, b := startTwoPlayerGame(t, cfg)

	s.inbox <- nextLevel{client: a}
	expectNo(t, a, evtLevelData, 100*time.Millisecond)

	// Still on level 1: its options are accepted and revealed.
	s.inbox <- submitSelection{client: a, choice: "cats"}
	s.inbox <- submitSelection{client: b, choice: "dogs"}

	reveal := await(t, a, evtAllSelections).Data.(RevealData)
	if len(reveal.Selections) != 2 {
		t.Fatalf("unexpected reveal: %+v", reveal.Selections)
	}
}

func TestSlowClientDropKeepsSessionAlive(t *testing.T) {
	s := startSession(t, testConfig(t))

	// A client nobody reads from: the first broadcast fills its (empty)
	// buffer and drops it, then the admission unicasts that follow must
	// be swallowed rather than hitting its closed channel.
	slow := &Client{
		send:   make(chan serverEnvelope),
		handle: "hslow",
	}
	s.inbox <- connect{client: slow}
	s.inbox <- sendName{client: slow, name: "Slow"}

	a := newTestClient("ha")
	join(s, a, "A")

	view := await(t, a, evtPlayersUpdate).Data.([]PlayerInfo)
	if len(view) != 2 {
		t.Fatalf("expected both participants in the roster: %+v", view)
	}

	role := await(t, a, evtYouAre).Data.(RoleInfo)
	if role.IsSpectator {
		t.Fatalf("A should be an active player: %+v", role)
	}
}

func TestAdminDisconnectMidGameMigratesThenCancels(t *testing.T) {
	s, a, b := startTwoPlayerGame(t, testConfig(t))

	s.inbox <- disconnect{client: a}

	view := await(t, b, evtPlayersUpdate).Data.([]PlayerInfo)
	if len(view) != 1 || view[0].Name != "B" || !view[0].IsAdmin {
		t.Fatalf("B should survive as admin: %+v", view)
	}

	role := await(t, b, evtYouAre).Data.(RoleInfo)
	if !role.IsAdmin || role.IsSpectator {
		t.Fatalf("promoted player should learn its role: %+v", role)
	}

	reason := await(t, b, evtGameCancelled).Data.(string)
	if reason != "Not enough players, game cancelled." {
		t.Fatalf("unexpected reason: %q", reason)
	}
}

func TestAutoNextRetriesAfterCatalogueMiss(t *testing.T) {
	cfg := testConfig(t)
	cfg.autoNext = true
	writeLevelFile(t, cfg.levels, "level2.json", `broken`)
	s, a, b := startTwoPlayerGame(t, cfg)

	s.inbox <- submitSelection{client: a, choice: "cats"}
	s.inbox <- submitSelection{client: b, choice: "dogs"}
	await(t, a, evtAllSelections)

	// The reveal stays on screen while the level file is unreadable.
	expectNo(t, a, evtLevelData, 120*time.Millisecond)

	writeLevelFile(t, cfg.levels, "level2.json", `[{"optionA":"a2","optionB":"b2"}]`)

	level := await(t, a, evtLevelData).Data.(LevelData)
	if level.Level != 2 {
		t.Fatalf("expected recovery to level 2, got %d", level.Level)
	}
}

func TestNextLevelIgnoredInLobby(t *testing.T) {
	s := startSession(t, testConfig(t))
	a := newTestClient("ha")

	join(s, a, "A")
	await(t, a, evtYouAre)

	s.inbox <- nextLevel{client: a}
	expectNo(t, a, evtLevelData, 100*time.Millisecond)
}
