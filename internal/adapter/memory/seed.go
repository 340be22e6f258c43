package memory

import (
	"context"
	"fmt"
	"os"

	"github.com/Muppet1856/Volleyball-Stats-sub001/internal/domain"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Matches []seedMatch `yaml:"matches"`
}

type seedMatch struct {
	ID              int             `yaml:"id"`
	Date            string          `yaml:"date"`
	Location        string          `yaml:"location"`
	Opponent        string          `yaml:"opponent"`
	Types           map[string]bool `yaml:"types"`
	JerseyColorHome string          `yaml:"jerseyColorHome"`
	JerseyColorOpp  string          `yaml:"jerseyColorOpp"`
	FirstServer     string          `yaml:"firstServer"`
	ResultHome      int             `yaml:"resultHome"`
	ResultOpp       int             `yaml:"resultOpp"`
	IsSwapped       bool            `yaml:"isSwapped"`
	Players         []seedPlayer    `yaml:"players"`
	Sets            map[int]seedSet `yaml:"sets"`
	FinalizedSets   map[int]bool    `yaml:"finalizedSets"`
}

type seedPlayer struct {
	PlayerID   int  `yaml:"playerId"`
	TempNumber *int `yaml:"tempNumber"`
}

type seedSet struct {
	Home *int `yaml:"home"`
	Opp  *int `yaml:"opp"`
}

// LoadSeed reads a YAML list of matches and stores each at revision 1.
func LoadSeed(ctx context.Context, s domain.MatchStore, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Seed(ctx, s, data)
}

// Seed stores the matches described by YAML data.
func Seed(ctx context.Context, s domain.MatchStore, data []byte) (int, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse seed file: %w", err)
	}

	for i, sm := range file.Matches {
		if sm.ID <= 0 {
			return 0, fmt.Errorf("seed match %d: id must be a positive integer", i)
		}
		if err := s.Put(ctx, sm.toMatch()); err != nil {
			return 0, fmt.Errorf("seed match %d: %w", sm.ID, err)
		}
	}
	return len(file.Matches), nil
}

func (sm seedMatch) toMatch() *domain.MatchLiveState {
	m := domain.NewMatch(sm.ID)
	m.Date = sm.Date
	m.Location = sm.Location
	m.Opponent = sm.Opponent
	m.JerseyColorHome = sm.JerseyColorHome
	m.JerseyColorOpp = sm.JerseyColorOpp
	m.FirstServer = sm.FirstServer
	m.ResultHome = sm.ResultHome
	m.ResultOpp = sm.ResultOpp
	m.IsSwapped = sm.IsSwapped
	for k, v := range sm.Types {
		m.Types[k] = v
	}
	for _, p := range sm.Players {
		if p.PlayerID > 0 && m.RosterIndex(p.PlayerID) < 0 {
			m.Roster = append(m.Roster, domain.RosterEntry{PlayerID: p.PlayerID, TempNumber: p.TempNumber})
		}
	}
	for n, set := range sm.Sets {
		if !domain.ValidSetNumber(n) {
			continue
		}
		m.Sets[n].Home = set.Home
		m.Sets[n].Opp = set.Opp
	}
	for n, final := range sm.FinalizedSets {
		if domain.ValidSetNumber(n) {
			m.FinalizedSets[n] = final
		}
	}
	m.Revision = 1
	return m
}
