// Package match turns raw history rows into canonical match facts and the
// fixed-layout documents that get embedded and quoted in prompts.
package match

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"matchrag/internal/dataset"
	"matchrag/internal/domain"
)

const (
	DefaultStage  = "Regular Season"
	DefaultWinner = "Not Played"
	Unknown       = "Unknown"
)

// Stage names the pipeline step a row failed in.
type Stage string

const (
	StageNormalize  Stage = "normalize"
	StageSynthesize Stage = "synthesize"
)

// RowError is the skip signal for one history row. It never aborts a build.
type RowError struct {
	Row   int
	Stage Stage
	Field string
	Err   error
}

func (e *RowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %s: %v", e.Row, e.Stage, e.Err)
	}
	return fmt.Sprintf("row %d: %s %s: %v", e.Row, e.Stage, e.Field, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

var validate = validator.New()

// Normalizer converts dataset rows into domain.MatchFact values.
type Normalizer struct {
	competitionSuffix string
}

func NewNormalizer(competitionSuffix string) *Normalizer {
	return &Normalizer{competitionSuffix: competitionSuffix}
}

// Normalize maps one row. Numeric cells go through float then int, so "2.0"
// reads as 2; missing numbers become 0. A malformed or negative number, or a
// missing team name, yields a *RowError.
func (n *Normalizer) Normalize(rowNum int, row dataset.Row) (domain.MatchFact, error) {
	fail := func(field string, err error) (domain.MatchFact, error) {
		return domain.MatchFact{}, &RowError{Row: rowNum, Stage: StageNormalize, Field: field, Err: err}
	}

	homeScore, err := countField(row, dataset.ColHomeScore)
	if err != nil {
		return fail(dataset.ColHomeScore, err)
	}
	awayScore, err := countField(row, dataset.ColAwayScore)
	if err != nil {
		return fail(dataset.ColAwayScore, err)
	}
	matchday, err := countField(row, dataset.ColMatchday)
	if err != nil {
		return fail(dataset.ColMatchday, err)
	}

	home, _ := row.Get(dataset.ColHomeTeam)
	away, _ := row.Get(dataset.ColAwayTeam)

	fact := domain.MatchFact{
		HomeTeam:    home,
		AwayTeam:    away,
		HomeScore:   homeScore,
		AwayScore:   awayScore,
		Date:        firstPresent(row, dataset.ColUTCDate, dataset.ColDate),
		Competition: Unknown,
		Stage:       DefaultStage,
		Season:      firstPresent(row, dataset.ColSeason),
		Matchday:    matchday,
		Winner:      DefaultWinner,
	}
	if src, ok := row.Get(dataset.ColSourceFile); ok {
		fact.Competition = dataset.CompetitionName(src, n.competitionSuffix)
	}
	if stage, ok := row.Get(dataset.ColStage); ok {
		fact.Stage = titleCase(strings.ReplaceAll(stage, "_", " "))
	}
	if winner, ok := row.Get(dataset.ColWinner); ok {
		fact.Winner = winner
	}

	if err := validate.Struct(fact); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fail(verrs[0].Field(), errors.Newf("failed %q check", verrs[0].Tag()))
		}
		return fail("", err)
	}
	return fact, nil
}

func countField(row dataset.Row, column string) (int, error) {
	raw, ok := row.Get(column)
	if !ok {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %q", raw)
	}
	if math.IsNaN(f) {
		return 0, nil
	}
	if math.IsInf(f, 0) || f < 0 || f > math.MaxInt32 {
		return 0, errors.Newf("value %q out of range", raw)
	}
	return int(math.Trunc(f)), nil
}

func firstPresent(row dataset.Row, columns ...string) string {
	for _, c := range columns {
		if v, ok := row.Get(c); ok {
			return v
		}
	}
	return Unknown
}

func titleCase(s string) string {
	return cases.Title(language.Und).String(s)
}
