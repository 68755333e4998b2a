package dataset

import (
	"sort"
	"strings"
)

const (
	ColHomeTeam   = "home_team"
	ColAwayTeam   = "away_team"
	ColHomeScore  = "home_score"
	ColAwayScore  = "away_score"
	ColUTCDate    = "utcDate"
	ColDate       = "date"
	ColSeason     = "season"
	ColMatchday   = "matchday"
	ColStage      = "stage"
	ColWinner     = "winner"
	ColSourceFile = "source_file"
)

// Stats summarises the table the way the prediction console shows it.
type Stats struct {
	Matches   int      `json:"matches"`
	FirstDate string   `json:"first_date,omitempty"`
	LastDate  string   `json:"last_date,omitempty"`
	Leagues   []string `json:"leagues"`
	Seasons   []string `json:"seasons"`
	Teams     int      `json:"teams"`
}

// CompetitionName strips the dataset version suffix from a source file name
// and turns underscores into spaces.
func CompetitionName(sourceFile, suffix string) string {
	name := sourceFile
	if suffix != "" {
		name = strings.ReplaceAll(name, suffix, "")
	}
	return strings.ReplaceAll(name, "_", " ")
}

// DateColumn picks utcDate when present, otherwise date.
func (t *Table) DateColumn() string {
	if t.HasColumn(ColUTCDate) {
		return ColUTCDate
	}
	return ColDate
}

// Teams returns the sorted union of home and away team names.
func (t *Table) Teams() []string {
	seen := make(map[string]struct{})
	for _, col := range []string{ColHomeTeam, ColAwayTeam} {
		for _, v := range t.Column(col) {
			seen[v] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// Stats computes match count, date range, leagues, seasons and team count.
func (t *Table) Stats(competitionSuffix string) Stats {
	st := Stats{Matches: len(t.rows), Teams: len(t.Teams())}
	dateCol := t.DateColumn()
	leagues := make(map[string]struct{})
	seasons := make(map[string]struct{})
	for _, r := range t.rows {
		if d, ok := r.Get(dateCol); ok {
			if st.FirstDate == "" || d < st.FirstDate {
				st.FirstDate = d
			}
			if d > st.LastDate {
				st.LastDate = d
			}
		}
		if src, ok := r.Get(ColSourceFile); ok {
			leagues[CompetitionName(src, competitionSuffix)] = struct{}{}
		}
		if s, ok := r.Get(ColSeason); ok {
			seasons[s] = struct{}{}
		}
	}
	st.Leagues = sortedKeys(leagues)
	st.Seasons = sortedKeys(seasons)
	return st
}

// HeadToHead returns up to n meetings of the two teams in either
// orientation, most recent first.
func (t *Table) HeadToHead(teamA, teamB string, n int) *Table {
	meetings := t.Filter(func(r Row) bool {
		home, _ := r.Get(ColHomeTeam)
		away, _ := r.Get(ColAwayTeam)
		return (home == teamA && away == teamB) || (home == teamB && away == teamA)
	})
	return meetings.SortBy(t.DateColumn(), true).Head(n)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
