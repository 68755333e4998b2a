// Package prediction reads the labelled lines of a generated prediction.
package prediction

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrMalformedOutput marks generated text that lacks one or more of the
// expected labelled lines.
var ErrMalformedOutput = errors.New("malformed prediction output")

type Outcome string

const (
	OutcomeUnknown Outcome = "unknown"
	OutcomeHomeWin Outcome = "home_win"
	OutcomeDraw    Outcome = "draw"
	OutcomeAwayWin Outcome = "away_win"
)

// Result holds the labelled fields of a prediction.
type Result struct {
	Prediction     string  `json:"prediction"`
	WinningTeam    string  `json:"winning_team"`
	PredictedScore string  `json:"predicted_score"`
	Reasoning      string  `json:"reasoning"`
	Outcome        Outcome `json:"outcome"`
}

var labels = []string{"Prediction", "Winning Team", "Predicted Score", "Reasoning"}

// Parse extracts the labelled lines. Labels are matched case-insensitively
// in any order and the first occurrence wins. Markdown bullets and bold
// markers around a label are tolerated. When lines are missing the partial
// Result is returned together with an error marked ErrMalformedOutput.
func Parse(text string) (Result, error) {
	found := make(map[string]string, len(labels))
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "-*#> ")
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.Trim(strings.TrimSpace(key), "*_ ")
		value = strings.TrimSpace(strings.Trim(strings.TrimSpace(value), "*_"))
		for _, l := range labels {
			if !strings.EqualFold(key, l) {
				continue
			}
			if _, seen := found[l]; !seen {
				found[l] = value
			}
		}
	}

	res := Result{
		Prediction:     found["Prediction"],
		WinningTeam:    found["Winning Team"],
		PredictedScore: found["Predicted Score"],
		Reasoning:      found["Reasoning"],
	}
	res.Outcome = Classify(res.Prediction)

	var missing []string
	for _, l := range labels {
		if _, ok := found[l]; !ok {
			missing = append(missing, l)
		}
	}
	if len(missing) > 0 {
		return res, errors.Wrapf(ErrMalformedOutput, "missing %s", strings.Join(missing, ", "))
	}
	return res, nil
}

// Classify maps a Prediction value such as "Home Win" to an Outcome.
func Classify(prediction string) Outcome {
	p := strings.ToLower(prediction)
	p = strings.NewReplacer("-", " ", "_", " ").Replace(p)
	p = strings.Join(strings.Fields(p), " ")
	switch {
	case strings.Contains(p, "home win"):
		return OutcomeHomeWin
	case strings.Contains(p, "away win"):
		return OutcomeAwayWin
	case strings.Contains(p, "draw"):
		return OutcomeDraw
	}
	return OutcomeUnknown
}
