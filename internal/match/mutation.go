package match

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	apperrors "github.com/Muppet1856/Volleyball-Stats-sub001/internal/platform/errors"
)

// Actions that read or manage the record instead of mutating it.
const (
	ActionCreate = "create"
	ActionGet    = "get"
	ActionDelete = "delete"
)

// mutation changes a working copy of the match. now is the actor clock,
// used to stamp timeouts.
type mutation func(m *domain.MatchLiveState, now time.Time) error

// decoder validates a payload up front and returns the mutation it
// describes. Validation never needs the current state.
type decoder func(payload json.RawMessage) (mutation, error)

var mutations = map[string]map[string]decoder{
	ResourceMatch: {
		"set-location":       setString("location", func(m *domain.MatchLiveState, v string) { m.Location = v }),
		"set-date-time":      setString("date", func(m *domain.MatchLiveState, v string) { m.Date = v }),
		"set-opp-name":       setString("opponent", func(m *domain.MatchLiveState, v string) { m.Opponent = v }),
		"set-home-color":     setString("jerseyColorHome", func(m *domain.MatchLiveState, v string) { m.JerseyColorHome = v }),
		"set-opp-color":      setString("jerseyColorOpp", func(m *domain.MatchLiveState, v string) { m.JerseyColorOpp = v }),
		"set-first-server":   setString("firstServer", func(m *domain.MatchLiveState, v string) { m.FirstServer = v }),
		"set-type":           decodeSetType,
		"set-result":         decodeSetResult,
		"set-is-swapped":     decodeSetSwapped,
		"set-players":        decodeSetPlayers,
		"add-player":         decodeAddPlayer,
		"update-player":      decodeUpdatePlayer,
		"remove-player":      decodeRemovePlayer,
		"add-temp-number":    decodeSetTempNumber,
		"update-temp-number": decodeSetTempNumber,
		"remove-temp-number": decodeRemoveTempNumber,
	},
	ResourceSet: {
		"set-home-score":   decodeScore("homeScore", func(s *domain.SetEntry, v *int) { s.Home = v }),
		"set-opp-score":    decodeScore("oppScore", func(s *domain.SetEntry, v *int) { s.Opp = v }),
		"set-home-timeout": decodeTimeout(func(s *domain.SetEntry) *[2]bool { return &s.Timeouts.Home }),
		"set-opp-timeout":  decodeTimeout(func(s *domain.SetEntry) *[2]bool { return &s.Timeouts.Opp }),
		"set-is-final":     decodeFinalized,
	},
}

func knownAction(resource, action string) bool {
	if action == ActionGet {
		return true
	}
	if resource == ResourceMatch && (action == ActionCreate || action == ActionDelete) {
		return true
	}
	_, ok := mutations[resource][action]
	return ok
}

// decodeMutation resolves the decoder for cmd and runs it.
func decodeMutation(cmd Command) (mutation, error) {
	decode, ok := mutations[cmd.Resource][cmd.Action]
	if !ok {
		return nil, apperrors.ValidationError(fmt.Sprintf("action %q does not modify a match", cmd.Action))
	}
	return decode(cmd.Payload)
}

func required(field string) *apperrors.Error {
	return apperrors.ValidationError(field+" is required").WithField("field", field)
}

func setString(field string, assign func(*domain.MatchLiveState, string)) decoder {
	return func(payload json.RawMessage) (mutation, error) {
		var fields map[string]json.RawMessage
		if err := decodePayload(payload, &fields); err != nil {
			return nil, err
		}
		raw, ok := fields[field]
		if !ok {
			return nil, required(field)
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, apperrors.ValidationError(field+" must be a string").WithField("field", field)
		}
		return func(m *domain.MatchLiveState, _ time.Time) error {
			assign(m, value)
			return nil
		}, nil
	}
}

func decodeSetType(payload json.RawMessage) (mutation, error) {
	var p struct {
		Types map[string]flexBool `json:"types"`
	}
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	if p.Types == nil {
		return nil, required("types")
	}
	types := make(map[string]bool, len(p.Types))
	for k, v := range p.Types {
		types[k] = bool(v)
	}
	return func(m *domain.MatchLiveState, _ time.Time) error {
		m.Types = types
		return nil
	}, nil
}

func decodeSetResult(payload json.RawMessage) (mutation, error) {
	var p struct {
		ResultHome flexInt `json:"resultHome"`
		ResultOpp  flexInt `json:"resultOpp"`
	}
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		name string
		v    flexInt
	}{{"resultHome", p.ResultHome}, {"resultOpp", p.ResultOpp}} {
		field, v := f.name, f.v
		if !v.Valid {
			return nil, required(field)
		}
		if v.Value < 0 {
			return nil, apperrors.ValidationError(field+" must not be negative").WithField("field", field)
		}
	}
	return func(m *domain.MatchLiveState, _ time.Time) error {
		m.ResultHome = p.ResultHome.Value
		m.ResultOpp = p.ResultOpp.Value
		return nil
	}, nil
}

func decodeSetSwapped(payload json.RawMessage) (mutation, error) {
	var p struct {
		IsSwapped *flexBool `json:"isSwapped"`
	}
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	if p.IsSwapped == nil {
		return nil, required("isSwapped")
	}
	return func(m *domain.MatchLiveState, _ time.Time) error {
		m.IsSwapped = bool(*p.IsSwapped)
		return nil
	}, nil
}

// rosterPayload is a roster entry on the wire. A bare number or numeric
// string is read as the player id.
type rosterPayload struct {
	PlayerID   flexInt  `json:"playerId"`
	TempNumber *flexInt `json:"tempNumber"`
}

func (p *rosterPayload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] != '{' {
		return p.PlayerID.UnmarshalJSON(trimmed)
	}
	type plain rosterPayload
	return json.Unmarshal(trimmed, (*plain)(p))
}

func (p rosterPayload) entry() (domain.RosterEntry, error) {
	if !p.PlayerID.Valid || p.PlayerID.Value <= 0 {
		return domain.RosterEntry{}, apperrors.ValidationError("playerId must be a positive integer").
			WithField("field", "playerId")
	}
	entry := domain.RosterEntry{PlayerID: p.PlayerID.Value}
	if p.TempNumber != nil && p.TempNumber.Valid {
		if p.TempNumber.Value < 0 {
			return domain.RosterEntry{}, apperrors.ValidationError("tempNumber must not be negative").
				WithField("field", "tempNumber")
		}
		n := p.TempNumber.Value
		entry.TempNumber = &n
	}
	return entry, nil
}

func decodeSetPlayers(payload json.RawMessage) (mutation, error) {
	var p struct {
		Players []rosterPayload `json:"players"`
	}
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	if p.Players == nil {
		return nil, required("players")
	}
	roster := make([]domain.RosterEntry, 0, len(p.Players))
	seen := make(map[int]bool, len(p.Players))
	for _, rp := range p.Players {
		entry, err := rp.entry()
		if err != nil {
			return nil, err
		}
		if seen[entry.PlayerID] {
			return nil, apperrors.ValidationError("duplicate playerId in roster").
				WithField("player_id", entry.PlayerID)
		}
		seen[entry.PlayerID] = true
		roster = append(roster, entry)
	}
	return func(m *domain.MatchLiveState, _ time.Time) error {
		m.Roster = roster
		return nil
	}, nil
}

func decodePlayer(payload json.RawMessage, field string) (domain.RosterEntry, error) {
	var fields map[string]json.RawMessage
	if err := decodePayload(payload, &fields); err != nil {
		return domain.RosterEntry{}, err
	}
	raw, ok := fields[field]
	if !ok {
		return domain.RosterEntry{}, required(field)
	}
	var rp rosterPayload
	if err := decodePayload(raw, &rp); err != nil {
		return domain.RosterEntry{}, err
	}
	return rp.entry()
}

func decodeAddPlayer(payload json.RawMessage) (mutation, error) {
	entry, err := decodePlayer(payload, "player")
	if err != nil {
		return nil, err
	}
	return func(m *domain.MatchLiveState, _ time.Time) error {
		if i := m.RosterIndex(entry.PlayerID); i >= 0 {
			m.Roster[i] = entry
			return nil
		}
		m.Roster = append(m.Roster, entry)
		return nil
	}, nil
}

func decodeUpdatePlayer(payload json.RawMessage) (mutation, error) {
	entry, err := decodePlayer(payload, "player")
	if err != nil {
		return nil, err
	}
	return func(m *domain.MatchLiveState, _ time.Time) error {
		i := m.RosterIndex(entry.PlayerID)
		if i < 0 {
			return domain.ErrPlayerNotFound
		}
		m.Roster[i] = entry
		return nil
	}, nil
}

func decodeRemovePlayer(payload json.RawMessage) (mutation, error) {
	entry, err := decodePlayer(payload, "player")
	if err != nil {
		return nil, err
	}
	return func(m *domain.MatchLiveState, _ time.Time) error {
		i := m.RosterIndex(entry.PlayerID)
		if i < 0 {
			return domain.ErrPlayerNotFound
		}
		m.Roster = append(m.Roster[:i], m.Roster[i+1:]...)
		return nil
	}, nil
}

func decodeSetTempNumber(payload json.RawMessage) (mutation, error) {
	entry, err := decodePlayer(payload, "tempNumber")
	if err != nil {
		return nil, err
	}
	if entry.TempNumber == nil {
		return nil, required("tempNumber.tempNumber")
	}
	return func(m *domain.MatchLiveState, _ time.Time) error {
		i := m.RosterIndex(entry.PlayerID)
		if i < 0 {
			return domain.ErrPlayerNotFound
		}
		m.Roster[i].TempNumber = entry.TempNumber
		return nil
	}, nil
}

func decodeRemoveTempNumber(payload json.RawMessage) (mutation, error) {
	entry, err := decodePlayer(payload, "tempNumber")
	if err != nil {
		return nil, err
	}
	return func(m *domain.MatchLiveState, _ time.Time) error {
		i := m.RosterIndex(entry.PlayerID)
		if i < 0 {
			return domain.ErrPlayerNotFound
		}
		m.Roster[i].TempNumber = nil
		return nil
	}, nil
}

func decodeSetNumber(v flexInt) (int, error) {
	if !v.Valid {
		return 0, required("setNumber")
	}
	if !domain.ValidSetNumber(v.Value) {
		return 0, apperrors.ValidationError(fmt.Sprintf("setNumber must be between %d and %d", domain.FirstSet, domain.LastSet)).
			WithField("set_number", v.Value)
	}
	return v.Value, nil
}

// parseScore reads a score that may be a number, a numeric string, or null
// to clear it.
func parseScore(raw json.RawMessage, field string) (*int, error) {
	if raw == nil {
		return nil, required(field)
	}
	var v flexInt
	if err := v.UnmarshalJSON(raw); err != nil {
		return nil, apperrors.ValidationError(field+" must be numeric").WithField("field", field)
	}
	if !v.Valid {
		return nil, nil
	}
	if v.Value < 0 || v.Value > domain.MaxScore {
		return nil, apperrors.ValidationError(fmt.Sprintf("%s must be between 0 and %d", field, domain.MaxScore)).
			WithField("field", field)
	}
	score := v.Value
	return &score, nil
}

func decodeScore(field string, assign func(*domain.SetEntry, *int)) decoder {
	return func(payload json.RawMessage) (mutation, error) {
		var fields map[string]json.RawMessage
		if err := decodePayload(payload, &fields); err != nil {
			return nil, err
		}
		var setNumber flexInt
		if raw, ok := fields["setNumber"]; ok {
			if err := decodePayload(raw, &setNumber); err != nil {
				return nil, err
			}
		}
		n, err := decodeSetNumber(setNumber)
		if err != nil {
			return nil, err
		}
		score, err := parseScore(fields[field], field)
		if err != nil {
			return nil, err
		}
		return func(m *domain.MatchLiveState, _ time.Time) error {
			assign(m.Sets[n], score)
			return nil
		}, nil
	}
}

func decodeTimeout(side func(*domain.SetEntry) *[2]bool) decoder {
	return func(payload json.RawMessage) (mutation, error) {
		var p struct {
			SetNumber        flexInt    `json:"setNumber"`
			TimeoutNumber    flexInt    `json:"timeoutNumber"`
			Value            *flexBool  `json:"value"`
			TimeoutStartedAt *time.Time `json:"timeoutStartedAt"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		n, err := decodeSetNumber(p.SetNumber)
		if err != nil {
			return nil, err
		}
		if !p.TimeoutNumber.Valid || p.TimeoutNumber.Value < 1 || p.TimeoutNumber.Value > 2 {
			return nil, apperrors.ValidationError("timeoutNumber must be 1 or 2").WithField("field", "timeoutNumber")
		}
		if p.Value == nil {
			return nil, required("value")
		}
		slot := p.TimeoutNumber.Value - 1
		used := bool(*p.Value)
		return func(m *domain.MatchLiveState, now time.Time) error {
			entry := m.Sets[n]
			side(entry)[slot] = used
			switch {
			case !used:
				entry.TimeoutStartedAt = nil
			case p.TimeoutStartedAt != nil:
				started := p.TimeoutStartedAt.UTC()
				entry.TimeoutStartedAt = &started
			default:
				started := now.UTC()
				entry.TimeoutStartedAt = &started
			}
			return nil
		}, nil
	}
}

func decodeFinalized(payload json.RawMessage) (mutation, error) {
	var p struct {
		FinalizedSets map[string]flexBool `json:"finalizedSets"`
	}
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	if p.FinalizedSets == nil {
		return nil, required("finalizedSets")
	}
	finalized := make(map[int]bool, len(p.FinalizedSets))
	for key, v := range p.FinalizedSets {
		n, err := strconv.Atoi(key)
		if err != nil || !domain.ValidSetNumber(n) {
			return nil, apperrors.ValidationError(fmt.Sprintf("finalizedSets key %q is not a set number between %d and %d", key, domain.FirstSet, domain.LastSet)).
				WithField("set_number", key)
		}
		finalized[n] = bool(v)
	}
	return func(m *domain.MatchLiveState, _ time.Time) error {
		m.FinalizedSets = finalized
		return nil
	}, nil
}
