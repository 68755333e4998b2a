package match

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"matchrag/internal/domain"
)

// documentNamespace scopes name-based document IDs.
var documentNamespace = uuid.MustParse("6f1c8f2e-52a4-4b53-9d0e-2f6a1f3f8c11")

// Render produces the fixed-layout text for one match. The line order is the
// unit of retrieval and the evidence classifier matches on it literally.
func Render(f domain.MatchFact) (string, error) {
	fields := []struct{ name, value string }{
		{"home_team", f.HomeTeam},
		{"away_team", f.AwayTeam},
		{"competition", f.Competition},
		{"stage", f.Stage},
		{"season", f.Season},
		{"date", f.Date},
		{"winner", f.Winner},
	}
	for _, fld := range fields {
		if strings.ContainsAny(fld.value, "\r\n") {
			return "", errors.Newf("field %s contains a line break", fld.name)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Match: %s vs %s\n", f.HomeTeam, f.AwayTeam)
	fmt.Fprintf(&b, "Competition: %s\n", f.Competition)
	fmt.Fprintf(&b, "Stage: %s\n", f.Stage)
	fmt.Fprintf(&b, "Season: %s\n", f.Season)
	fmt.Fprintf(&b, "Date: %s\n", f.Date)
	fmt.Fprintf(&b, "Matchday %d\n", f.Matchday)
	fmt.Fprintf(&b, "Score: %s\n", ScoreLine(f))
	fmt.Fprintf(&b, "Result: %s", ResultLabel(f.Winner))
	return b.String(), nil
}

// ScoreLine formats "Home HS - AS Away".
func ScoreLine(f domain.MatchFact) string {
	return fmt.Sprintf("%s %d - %d %s", f.HomeTeam, f.HomeScore, f.AwayScore, f.AwayTeam)
}

// ResultLabel spells out underscore-joined outcome codes such as HOME_TEAM.
// Labels without an underscore are kept verbatim.
func ResultLabel(winner string) string {
	if !strings.Contains(winner, "_") {
		return winner
	}
	return titleCase(strings.ReplaceAll(winner, "_", " "))
}

// Synthesize renders a fact into an indexable document. rowNum keeps the ID
// unique for repeated fixtures with identical text.
func Synthesize(rowNum int, f domain.MatchFact) (domain.Document, error) {
	text, err := Render(f)
	if err != nil {
		return domain.Document{}, &RowError{Row: rowNum, Stage: StageSynthesize, Err: err}
	}
	id := uuid.NewSHA1(documentNamespace, []byte(fmt.Sprintf("%d\n%s", rowNum, text)))
	return domain.Document{ID: id.String(), Row: rowNum, Text: text}, nil
}
