// Package prompt renders the text sent to the generation model.
package prompt

import (
	_ "embed"
	"strings"

	"matchrag/internal/domain"
	"matchrag/internal/evidence"
)

//go:embed templates/prediction.txt
var predictionTemplate string

//go:embed templates/answer.txt
var answerTemplate string

const noEvidence = "No relevant historical matches were retrieved."

// PredictionTemplate returns the analyst instructions placed at the top of
// every prediction prompt.
func PredictionTemplate() string { return strings.TrimRight(predictionTemplate, "\n") }

// Prediction assembles the prompt for home vs away. Empty buckets get no
// header; documents inside a bucket are separated by a blank line.
func Prediction(home, away string, ev evidence.Evidence) string {
	var b strings.Builder
	b.WriteString(PredictionTemplate())
	b.WriteString("\n\nHere are some relevant historical matches:\n\n")
	if hist := Historical(home, away, ev); hist != "" {
		b.WriteString(hist)
	} else {
		b.WriteString(noEvidence)
	}
	b.WriteString("\n\nBased on these historical matches, provide a prediction for:\n")
	b.WriteString(home)
	b.WriteString(" vs ")
	b.WriteString(away)
	return b.String()
}

// Historical renders the evidence sections in fixed order: head-to-head,
// then home form, then away form.
func Historical(home, away string, ev evidence.Evidence) string {
	var b strings.Builder
	section := func(header string, docs []string) {
		if len(docs) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(header)
		b.WriteString("\n")
		for _, d := range docs {
			b.WriteString(d)
			b.WriteString("\n\n")
		}
	}
	section("Head-to-Head Matches:", ev.HeadToHead)
	section("Recent "+home+" Matches:", ev.HomeRecent)
	section("Recent "+away+" Matches:", ev.AwayRecent)
	return strings.TrimRight(b.String(), "\n")
}

// Answer renders a free-text question over the retrieved documents.
func Answer(query string, results []domain.SearchResult) string {
	texts := make([]string, 0, len(results))
	for _, r := range results {
		texts = append(texts, r.Document.Text)
	}
	ctxText := strings.Join(texts, "\n\n")
	if ctxText == "" {
		ctxText = noEvidence
	}
	r := strings.NewReplacer("{{context}}", ctxText, "{{query}}", query)
	return strings.TrimRight(r.Replace(answerTemplate), "\n")
}
