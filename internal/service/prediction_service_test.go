package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchrag/internal/domain"
	"matchrag/internal/embedding/tfidf"
	"matchrag/internal/index"
	"matchrag/internal/match"
	"matchrag/internal/vectorstore/memory"
)

const header = "home_team,away_team,home_score,away_score,utcDate,season,matchday,stage,winner,source_file\n"

const wellFormed = `Prediction: Home Win
Winning Team: Team A
Predicted Score: Team A 2 - 1 Team B
Reasoning: Team A won the last home meeting.`

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

func (g *fakeGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

func memoryIndex() Index {
	return index.New(tfidf.NewEmbedder(), memory.NewStorage())
}

func writeCSV(t *testing.T, rows ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.csv")
	require.NoError(t, os.WriteFile(path, []byte(header+strings.Join(rows, "\n")+"\n"), 0o644))
	return path
}

func newService(gen *fakeGenerator) *PredictionService {
	return New(memoryIndex, gen, Options{CompetitionSuffix: "_2023_2025.csv"})
}

func TestPredictMatch_BeforeBuild(t *testing.T) {
	gen := &fakeGenerator{reply: wellFormed}
	svc := newService(gen)
	ctx := context.Background()

	assert.Equal(t, StateUnbuilt, svc.State())
	assert.Equal(t, NotBuiltMessage, svc.PredictMatch(ctx, "Team A", "Team B", ""))
	assert.Equal(t, NotBuiltMessage, svc.AnswerQuery(ctx, "who won?"))

	_, err := svc.Predict(ctx, "Team A", "Team B", "")
	assert.ErrorIs(t, err, ErrUninitialized)
	assert.Empty(t, gen.prompts)
	assert.Nil(t, svc.Dataset())
}

func TestBuild_SkipsBadRowWithoutAborting(t *testing.T) {
	path := writeCSV(t,
		"Team A,Team B,1,0,2024-01-01,2023,1,REGULAR_SEASON,HOME_TEAM,PL_2023_2025.csv",
		"Team C,Team D,2,2,2024-01-02,2023,1,REGULAR_SEASON,DRAW,PL_2023_2025.csv",
		"Team E,Team F,abc,1,2024-01-03,2023,1,REGULAR_SEASON,AWAY_TEAM,PL_2023_2025.csv",
		"Team G,Team H,0,3,2024-01-04,2023,1,REGULAR_SEASON,AWAY_TEAM,PL_2023_2025.csv",
		"Team I,Team J,4,1,2024-01-05,2023,1,REGULAR_SEASON,HOME_TEAM,PL_2023_2025.csv",
	)
	svc := newService(&fakeGenerator{reply: wellFormed})

	report, err := svc.Build(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Rows)
	assert.Equal(t, 4, report.Documents)
	assert.Equal(t, 1, report.Skipped[match.StageNormalize])
	assert.Equal(t, StateReady, svc.State())
	assert.Equal(t, 4, svc.Documents())
	assert.Equal(t, 5, svc.Dataset().Len())
}

func TestPredict_EndToEndTwoRows(t *testing.T) {
	path := writeCSV(t,
		"Team A,Team B,2,1,2024-01-01,2023,10,REGULAR_SEASON,HOME_TEAM,PL_2023_2025.csv",
		"Team B,Team A,0,0,2024-06-01,2023,30,REGULAR_SEASON,DRAW,PL_2023_2025.csv",
	)
	gen := &fakeGenerator{reply: "\n  " + wellFormed + "\n\n"}
	svc := newService(gen)
	ctx := context.Background()
	require.True(t, svc.BuildKnowledgeBase(ctx, path))

	p, err := svc.Predict(ctx, "Team A", "Team B", "")
	require.NoError(t, err)
	assert.Len(t, p.Evidence.HeadToHead, 2)
	assert.Empty(t, p.Evidence.HomeRecent)
	assert.Empty(t, p.Evidence.AwayRecent)
	assert.Equal(t, wellFormed, p.Text)
	assert.NoError(t, p.FormatErr)
	assert.Equal(t, "Team A", p.Parsed.WinningTeam)

	sent := gen.lastPrompt()
	assert.Contains(t, sent, "Head-to-Head Matches:")
	assert.Contains(t, sent, "Score: Team A 2 - 1 Team B")
	assert.Contains(t, sent, "Score: Team B 0 - 0 Team A")
	assert.NotContains(t, sent, "Recent Team A Matches:")
	assert.True(t, strings.HasSuffix(sent, "Team A vs Team B"))

	assert.Equal(t, wellFormed, svc.PredictMatch(ctx, "Team A", "Team B", "Premier League"))
}

func TestPredict_HeadToHeadCappedAtThree(t *testing.T) {
	var rows []string
	for i := 0; i < 10; i++ {
		rows = append(rows, fmt.Sprintf("Team A,Team B,%d,0,2024-01-%02d,2023,%d,REGULAR_SEASON,HOME_TEAM,PL_2023_2025.csv", i, i+1, i+1))
	}
	gen := &fakeGenerator{reply: wellFormed}
	svc := newService(gen)
	ctx := context.Background()
	_, err := svc.Build(ctx, writeCSV(t, rows...))
	require.NoError(t, err)

	p, err := svc.Predict(ctx, "Team A", "Team B", "")
	require.NoError(t, err)
	assert.Len(t, p.Evidence.HeadToHead, 3)
	assert.Equal(t, 3, strings.Count(gen.lastPrompt(), "Match: Team A vs Team B"))
}

func TestBuild_RebuildDoesNotAccumulate(t *testing.T) {
	path := writeCSV(t,
		"Team A,Team B,2,1,2024-01-01,2023,1,REGULAR_SEASON,HOME_TEAM,PL_2023_2025.csv",
		"Team C,Team D,1,1,2024-01-02,2023,1,REGULAR_SEASON,DRAW,PL_2023_2025.csv",
	)
	svc := newService(&fakeGenerator{reply: wellFormed})
	ctx := context.Background()

	first, err := svc.Build(ctx, path)
	require.NoError(t, err)
	n := svc.Documents()
	second, err := svc.Build(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first.Documents, second.Documents)
	assert.Equal(t, n, svc.Documents())
}

func TestBuild_MissingFile(t *testing.T) {
	svc := newService(&fakeGenerator{reply: wellFormed})
	ctx := context.Background()

	_, err := svc.Build(ctx, filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDatasetLoad))
	assert.Equal(t, StateFailed, svc.State())
	assert.False(t, svc.BuildKnowledgeBase(ctx, "does-not-exist.csv"))
	assert.Equal(t, NotBuiltMessage, svc.PredictMatch(ctx, "Team A", "Team B", ""))
}

func TestBuild_FailureDropsPreviousIndex(t *testing.T) {
	path := writeCSV(t, "Team A,Team B,2,1,2024-01-01,2023,1,REGULAR_SEASON,HOME_TEAM,PL_2023_2025.csv")
	failing := false
	svc := New(func() Index {
		if failing {
			return &stubIndex{buildErr: errors.New("embedding backend unreachable")}
		}
		return memoryIndex()
	}, &fakeGenerator{reply: wellFormed}, Options{})
	ctx := context.Background()
	require.True(t, svc.BuildKnowledgeBase(ctx, path))

	failing = true
	_, err := svc.Build(ctx, path)
	assert.True(t, errors.Is(err, ErrExternalService))
	assert.Equal(t, StateFailed, svc.State())
	assert.Zero(t, svc.Documents())
	assert.Equal(t, NotBuiltMessage, svc.PredictMatch(ctx, "Team A", "Team B", ""))
}

func TestBuild_EmptyDataset(t *testing.T) {
	gen := &fakeGenerator{reply: wellFormed}
	svc := newService(gen)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, []byte(header), 0o644))

	report, err := svc.Build(ctx, path)
	require.NoError(t, err)
	assert.Zero(t, report.Documents)
	assert.Equal(t, wellFormed, svc.PredictMatch(ctx, "Team A", "Team B", ""))
	assert.NotContains(t, gen.lastPrompt(), "Head-to-Head Matches:")
}

func TestPredict_GenerationFailure(t *testing.T) {
	path := writeCSV(t, "Team A,Team B,2,1,2024-01-01,2023,1,REGULAR_SEASON,HOME_TEAM,PL_2023_2025.csv")
	gen := &fakeGenerator{err: errors.New("connection refused")}
	svc := newService(gen)
	ctx := context.Background()
	require.True(t, svc.BuildKnowledgeBase(ctx, path))

	_, err := svc.Predict(ctx, "Team A", "Team B", "")
	assert.True(t, errors.Is(err, ErrExternalService))
	assert.Equal(t, PredictionFailedMessage, svc.PredictMatch(ctx, "Team A", "Team B", ""))
	assert.Equal(t, QueryFailedMessage, svc.AnswerQuery(ctx, "who won?"))
	assert.True(t, IsSentinel(PredictionFailedMessage))
}

func TestPredict_FlagsMalformedOutput(t *testing.T) {
	path := writeCSV(t, "Team A,Team B,2,1,2024-01-01,2023,1,REGULAR_SEASON,HOME_TEAM,PL_2023_2025.csv")
	svc := newService(&fakeGenerator{reply: "I reckon Team A edge it."})
	ctx := context.Background()
	require.True(t, svc.BuildKnowledgeBase(ctx, path))

	p, err := svc.Predict(ctx, "Team A", "Team B", "")
	require.NoError(t, err)
	assert.Equal(t, "I reckon Team A edge it.", p.Text)
	assert.ErrorIs(t, p.FormatErr, ErrMalformedOutput)
}

func TestPredict_RejectsEmptyTeams(t *testing.T) {
	path := writeCSV(t, "Team A,Team B,2,1,2024-01-01,2023,1,REGULAR_SEASON,HOME_TEAM,PL_2023_2025.csv")
	gen := &fakeGenerator{reply: wellFormed}
	svc := newService(gen)
	ctx := context.Background()
	require.True(t, svc.BuildKnowledgeBase(ctx, path))

	_, err := svc.Predict(ctx, " ", "Team B", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, PredictionFailedMessage, svc.PredictMatch(ctx, "Team A", "", ""))
	assert.Empty(t, gen.prompts)
}

func TestAnswer_UsesTopDocuments(t *testing.T) {
	path := writeCSV(t,
		"Team A,Team B,2,1,2024-01-01,2023,1,REGULAR_SEASON,HOME_TEAM,PL_2023_2025.csv",
		"Team C,Team D,1,1,2024-01-02,2023,1,REGULAR_SEASON,DRAW,PL_2023_2025.csv",
		"Team E,Team F,0,2,2024-01-03,2023,1,REGULAR_SEASON,AWAY_TEAM,PL_2023_2025.csv",
	)
	gen := &fakeGenerator{reply: "Team A won 2-1."}
	svc := newService(gen)
	ctx := context.Background()
	require.True(t, svc.BuildKnowledgeBase(ctx, path))

	assert.Equal(t, "Team A won 2-1.", svc.AnswerQuery(ctx, "How did Team A do against Team B?"))
	sent := gen.lastPrompt()
	assert.Equal(t, 2, strings.Count(sent, "Match: "))
	assert.Contains(t, sent, "Query: How did Team A do against Team B?")
}

type stubIndex struct {
	buildErr error
	release  chan struct{}
	started  chan struct{}
}

func (s *stubIndex) Build(ctx context.Context, _ []domain.Document) error {
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		<-s.release
	}
	return s.buildErr
}

func (s *stubIndex) Query(context.Context, string, int) ([]domain.SearchResult, error) {
	return nil, nil
}

func (s *stubIndex) Len() int { return 0 }

func TestPredict_DuringBuild(t *testing.T) {
	path := writeCSV(t, "Team A,Team B,2,1,2024-01-01,2023,1,REGULAR_SEASON,HOME_TEAM,PL_2023_2025.csv")
	stub := &stubIndex{release: make(chan struct{}), started: make(chan struct{})}
	svc := New(func() Index { return stub }, &fakeGenerator{reply: wellFormed}, Options{})
	ctx := context.Background()

	done := make(chan bool)
	go func() { done <- svc.BuildKnowledgeBase(ctx, path) }()

	select {
	case <-stub.started:
	case <-time.After(5 * time.Second):
		t.Fatal("build did not start")
	}
	assert.Equal(t, StateBuilding, svc.State())
	assert.Equal(t, BuildingMessage, svc.PredictMatch(ctx, "Team A", "Team B", ""))

	close(stub.release)
	assert.True(t, <-done)
	assert.Equal(t, StateReady, svc.State())
}
