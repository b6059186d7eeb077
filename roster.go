package main

import "strings"

// Participant is one admitted connection, identified by its transport
// handle for the lifetime of that connection.
type Participant struct {
	Handle      string
	Name        string
	Avatar      string
	IsAdmin     bool
	IsSpectator bool
	Selection   string // empty until the participant answers the current level
}

// Roster is the ordered set of participants. Insertion order is
// preserved so that admin succession stays deterministic.
type Roster struct {
	participants []*Participant
}

// Admit adds a new participant. It returns nil if the handle is
// already present or the trimmed name is empty. A participant admitted
// mid-game is a spectator; the first participant admitted to an empty
// lobby becomes admin.
func (r *Roster) Admit(handle, name, avatar string, gameStarted bool) *Participant {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	if r.Get(handle) != nil {
		return nil
	}

	p := &Participant{
		Handle:      handle,
		Name:        name,
		Avatar:      avatar,
		IsAdmin:     !gameStarted && len(r.participants) == 0,
		IsSpectator: gameStarted,
	}
	r.participants = append(r.participants, p)

	return p
}

// Remove deletes the participant with the given handle, if any. When
// the departing participant was admin and others remain, the earliest
// surviving non-spectator is promoted; if only spectators remain, the
// earliest spectator is promoted and loses its spectator status, so
// the session always has a controller. The removed participant and
// any newly promoted admin are returned.
func (r *Roster) Remove(handle string) (removed, promoted *Participant) {
	index := -1
	for i, p := range r.participants {
		if p.Handle == handle {
			index = i
			break
		}
	}
	if index == -1 {
		return nil, nil
	}

	removed = r.participants[index]
	r.participants = append(r.participants[:index], r.participants[index+1:]...)

	if !removed.IsAdmin || len(r.participants) == 0 {
		return removed, nil
	}

	for _, p := range r.participants {
		if !p.IsSpectator {
			promoted = p
			break
		}
	}
	if promoted == nil {
		promoted = r.participants[0]
		promoted.IsSpectator = false
	}
	promoted.IsAdmin = true

	return removed, promoted
}

func (r *Roster) Get(handle string) *Participant {
	for _, p := range r.participants {
		if p.Handle == handle {
			return p
		}
	}
	return nil
}

// NonSpectatorCount reports how many participants count toward quorum.
func (r *Roster) NonSpectatorCount() int {
	count := 0
	for _, p := range r.participants {
		if !p.IsSpectator {
			count++
		}
	}
	return count
}

// AllAnswered reports whether every non-spectator has a selection set.
// An empty roster has nobody to wait for, so callers must also check
// NonSpectatorCount before treating this as a completed level.
func (r *Roster) AllAnswered() bool {
	for _, p := range r.participants {
		if !p.IsSpectator && p.Selection == "" {
			return false
		}
	}
	return true
}

// ResetForLevel clears selections and readmits spectators as active
// players, which is how each new level starts.
func (r *Roster) ResetForLevel() {
	for _, p := range r.participants {
		p.Selection = ""
		p.IsSpectator = false
	}
}

// View returns the broadcastable snapshot of the roster, in insertion order.
func (r *Roster) View() []PlayerInfo {
	view := make([]PlayerInfo, 0, len(r.participants))
	for _, p := range r.participants {
		view = append(view, PlayerInfo{
			Name:        p.Name,
			Avatar:      p.Avatar,
			IsAdmin:     p.IsAdmin,
			IsSpectator: p.IsSpectator,
		})
	}
	return view
}

// Selections returns the reveal payload: every non-spectator that has
// answered, in insertion order. Participants without a selection are
// omitted.
func (r *Roster) Selections() []SelectionInfo {
	selections := make([]SelectionInfo, 0, len(r.participants))
	for _, p := range r.participants {
		if p.IsSpectator || p.Selection == "" {
			continue
		}
		selections = append(selections, SelectionInfo{
			Name:   p.Name,
			Choice: p.Selection,
		})
	}
	return selections
}
