package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/cockroachdb/errors"

	"matchrag/internal/dataset"
	"matchrag/internal/service"
)

const headToHeadRows = 5

// Predictor is the TUI-facing subset of the prediction service.
type Predictor interface {
	Predict(ctx context.Context, home, away, competition string) (service.Prediction, error)
	Answer(ctx context.Context, question string) (string, error)
	Dataset() *dataset.Table
}

// Model is the Bubble Tea model for the prediction console.
type Model struct {
	service  Predictor
	ctx      context.Context
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	summary  string
	status   string
	content  string
	busy     bool
	ready    bool
}

type predictionMsg struct {
	p   service.Prediction
	err error
}

type answerMsg struct {
	question string
	text     string
	err      error
}

// New creates the console model. summary is shown under the title.
func New(ctx context.Context, svc Predictor, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Home vs Away [@ Competition]  |  ? question  |  teams"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		service:  svc,
		ctx:      ctx,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		summary:  summary,
		status:   "Knowledge base ready. Enter a fixture to predict.",
		content:  "No prediction yet.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+summary, status, spacer
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.content)
		return m, nil
	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case predictionMsg:
		m.busy = false
		if msg.err != nil {
			m.status = errorStatus(msg.err, service.PredictionFailedMessage)
			return m, nil
		}
		m.status = fmt.Sprintf("Prediction for %s vs %s", msg.p.Home, msg.p.Away)
		m.setContent(renderPrediction(msg.p, m.service.Dataset()))
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = errorStatus(msg.err, service.QueryFailedMessage)
			return m, nil
		}
		m.status = fmt.Sprintf("Answer to %q", msg.question)
		m.setContent(msg.text)
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			if m.busy {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			cmd, err := ParseCommand(line)
			if err != nil {
				m.status = err.Error()
				return m, nil
			}
			m.input.Reset()
			return m.run(cmd)
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) run(c Command) (tea.Model, tea.Cmd) {
	svc, ctx := m.service, m.ctx
	switch c.Kind {
	case CommandTeams:
		table := svc.Dataset()
		if table == nil {
			m.status = service.NotBuiltMessage
			return m, nil
		}
		teams := table.Teams()
		m.status = fmt.Sprintf("%d teams", len(teams))
		m.setContent(strings.Join(teams, "\n"))
		return m, nil
	case CommandAsk:
		m.busy = true
		m.status = "Answering..."
		return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
			text, err := svc.Answer(ctx, c.Question)
			return answerMsg{question: c.Question, text: text, err: err}
		})
	default:
		m.busy = true
		m.status = fmt.Sprintf("Predicting %s vs %s...", c.Home, c.Away)
		return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
			p, err := svc.Predict(ctx, c.Home, c.Away, c.Competition)
			return predictionMsg{p: p, err: err}
		})
	}
}

func (m *Model) setContent(s string) {
	m.content = s
	m.viewport.SetContent(s)
	m.viewport.GotoTop()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Soccer Match Predictor")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := m.status
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	status = statusStyle.Render(status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

// errorStatus turns service errors into console text.
func errorStatus(err error, failed string) string {
	switch {
	case errors.Is(err, service.ErrBuilding):
		return service.BuildingMessage
	case errors.Is(err, service.ErrUninitialized):
		return service.NotBuiltMessage
	case errors.Is(err, service.ErrInvalidRequest):
		return "Error: " + err.Error()
	}
	return errorStyle.Render(failed + ": " + err.Error())
}

// Summary describes the dataset for the header line.
func Summary(st dataset.Stats, documents int) string {
	return fmt.Sprintf("%d matches (%d indexed) · %s to %s · %d teams · leagues: %s",
		st.Matches, documents, orUnknown(st.FirstDate), orUnknown(st.LastDate), st.Teams, strings.Join(st.Leagues, ", "))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func renderPrediction(p service.Prediction, table *dataset.Table) string {
	var b strings.Builder
	if p.FormatErr == nil {
		fields := []struct{ label, value string }{
			{"Prediction", p.Parsed.Prediction},
			{"Winning Team", p.Parsed.WinningTeam},
			{"Predicted Score", p.Parsed.PredictedScore},
			{"Reasoning", p.Parsed.Reasoning},
		}
		for _, f := range fields {
			b.WriteString(labelStyle.Render(f.label+":") + " " + f.value + "\n")
		}
	} else {
		b.WriteString(errorStyle.Render("Model reply is not in the expected format; showing it as is.") + "\n\n")
		b.WriteString(p.Text + "\n")
	}

	if table != nil {
		b.WriteString("\n" + sectionStyle.Render("Recent head-to-head") + "\n")
		b.WriteString(renderMeetings(table.HeadToHead(p.Home, p.Away, headToHeadRows), table.DateColumn()))
	}

	query := p.Home + " " + p.Away
	sections := []struct {
		title string
		docs  []string
	}{
		{"Head-to-Head evidence", p.Evidence.HeadToHead},
		{"Recent " + p.Home + " evidence", p.Evidence.HomeRecent},
		{"Recent " + p.Away + " evidence", p.Evidence.AwayRecent},
	}
	for _, s := range sections {
		if len(s.docs) == 0 {
			continue
		}
		b.WriteString("\n" + sectionStyle.Render(s.title) + "\n")
		for _, d := range s.docs {
			b.WriteString(highlightBestLine(d, query) + "\n\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderMeetings(t *dataset.Table, dateCol string) string {
	if t.Len() == 0 {
		return "No previous meetings in the dataset.\n"
	}
	var b strings.Builder
	t.Each(func(_ int, r dataset.Row) bool {
		date, _ := r.Get(dateCol)
		hs, _ := r.Get(dataset.ColHomeScore)
		as, _ := r.Get(dataset.ColAwayScore)
		fmt.Fprintf(&b, "%-22s %s %s - %s %s\n", orUnknown(date), r[dataset.ColHomeTeam], hs, as, r[dataset.ColAwayTeam])
		return true
	})
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	sectionStyle   = lipgloss.NewStyle().Underline(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	wordRe         = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)
)

// highlightBestLine emphasises the document line sharing most words with
// the query.
func highlightBestLine(text, query string) string {
	lines := strings.Split(text, "\n")
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return text
	}
	bestIdx, bestScore := 0, -1
	for i, l := range lines {
		if score := tokenOverlapScore(qTokens, l); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	lines[bestIdx] = highlightStyle.Render(lines[bestIdx])
	return strings.Join(lines, "\n")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, line string) int {
	score := 0
	for t := range toTokenSet(line) {
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
