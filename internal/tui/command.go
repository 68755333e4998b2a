package tui

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

type CommandKind int

const (
	CommandPredict CommandKind = iota
	CommandAsk
	CommandTeams
)

// Command is one parsed console line.
type Command struct {
	Kind        CommandKind
	Home        string
	Away        string
	Competition string
	Question    string
}

var vsRe = regexp.MustCompile(`(?i)\s+(?:vs\.?|v)\s+`)

// ParseCommand reads "Home vs Away [@ Competition]", "? question" or
// "teams". Team names keep their case since evidence matching is
// case-sensitive.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if q, ok := strings.CutPrefix(line, "?"); ok {
		q = strings.TrimSpace(q)
		if q == "" {
			return Command{}, errors.New("type a question after '?'")
		}
		return Command{Kind: CommandAsk, Question: q}, nil
	}
	if strings.EqualFold(line, "teams") {
		return Command{Kind: CommandTeams}, nil
	}

	fixture, competition, _ := strings.Cut(line, "@")
	parts := vsRe.Split(strings.TrimSpace(fixture), 2)
	if len(parts) != 2 {
		return Command{}, errors.New("use: Home vs Away [@ Competition], ? question, or teams")
	}
	home, away := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if home == "" || away == "" {
		return Command{}, errors.New("both team names are required")
	}
	return Command{
		Kind:        CommandPredict,
		Home:        home,
		Away:        away,
		Competition: strings.TrimSpace(competition),
	}, nil
}
