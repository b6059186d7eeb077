package main

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Every message on the wire is an envelope of an event name plus an
// optional payload. Inbound payloads are decoded leniently, since
// clients send bare scalars for some events and objects for others.
type clientEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type serverEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Inbound event names.
const (
	evtSendName        = "send_name"
	evtSetMinPlayers   = "set_min_players"
	evtToggleAutoStart = "toggle_auto_start"
	evtToggleAutoNext  = "toggle_auto_next"
	evtStartGame       = "start_game"
	evtSubmitSelection = "submit_selection"
	evtNextLevel       = "next_level"
)

// Outbound event names.
const (
	evtYouAre           = "you_are"
	evtPlayersUpdate    = "players_update"
	evtMinPlayersUpdate = "min_players_update"
	evtAutoStartUpdate  = "auto_start_update"
	evtAutoNextUpdate   = "auto_next_update"
	evtLevelData        = "level_data"
	evtAllSelections    = "all_selections"
	evtTimeUp           = "time_up"
	evtGameOver         = "game_over"
	evtGameCancelled    = "game_cancelled"
	evtNotEnoughPlayers = "not_enough_players"
)

// PlayerInfo is one entry of a players_update broadcast.
type PlayerInfo struct {
	Name        string `json:"name"`
	Avatar      string `json:"avatar,omitempty"`
	IsAdmin     bool   `json:"isAdmin"`
	IsSpectator bool   `json:"isSpectator"`
}

// RoleInfo is the you_are payload sent to a single participant.
type RoleInfo struct {
	IsAdmin     bool `json:"isAdmin"`
	IsSpectator bool `json:"isSpectator"`
}

// LevelData announces a new level and its option pair.
type LevelData struct {
	Level   int    `json:"level"`
	OptionA string `json:"optionA"`
	OptionB string `json:"optionB"`
}

// SelectionInfo is one entry of an all_selections reveal.
type SelectionInfo struct {
	Name   string `json:"name"`
	Choice string `json:"choice"`
}

// RevealData is the all_selections payload.
type RevealData struct {
	Selections []SelectionInfo `json:"selections"`
}

// QuorumInfo is the not_enough_players payload.
type QuorumInfo struct {
	Current  int `json:"current"`
	Required int `json:"required"`
}

// namePayload is the object form of a send_name payload.
type namePayload struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// decodeName accepts either a bare string or a {name, avatar} object.
func decodeName(raw json.RawMessage) (name, avatar string, ok bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, "", true
	}

	var p namePayload
	if err := json.Unmarshal(raw, &p); err == nil {
		return p.Name, p.Avatar, true
	}

	return "", "", false
}

// decodeMinPlayers accepts a number or a numeric string and clamps the
// result to at least 1. Anything non-numeric also yields 1.
func decodeMinPlayers(raw json.RawMessage) int {
	value := 0

	var n float64
	var s string
	if err := json.Unmarshal(raw, &n); err == nil {
		value = int(n)
	} else if err := json.Unmarshal(raw, &s); err == nil {
		parsed, err := strconv.Atoi(strings.TrimSpace(s))
		if err == nil {
			value = parsed
		}
	}

	return max(value, 1)
}

func decodeBool(raw json.RawMessage) (flag, ok bool) {
	if err := json.Unmarshal(raw, &flag); err != nil {
		return false, false
	}
	return flag, true
}

func decodeString(raw json.RawMessage) (s string, ok bool) {
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
