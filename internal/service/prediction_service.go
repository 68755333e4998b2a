// Package service runs the build, prediction and question pipelines behind
// a small state machine.
package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"matchrag/internal/dataset"
	"matchrag/internal/domain"
	"matchrag/internal/evidence"
	"matchrag/internal/logging"
	"matchrag/internal/match"
	"matchrag/internal/metrics"
	"matchrag/internal/prediction"
	"matchrag/internal/prompt"
)

// State of the knowledge base.
type State string

const (
	StateUnbuilt  State = "unbuilt"
	StateBuilding State = "building"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// Index is the semantic index the service builds and queries.
type Index interface {
	Build(ctx context.Context, docs []domain.Document) error
	Query(ctx context.Context, text string, topK int) ([]domain.SearchResult, error)
	Len() int
}

// IndexFactory returns a fresh, unbuilt index for each build.
type IndexFactory func() Index

type Options struct {
	CompetitionSuffix string
	TopK              int
	BucketSize        int
	AnswerTopK        int
	Logger            *logging.Logger
}

// BuildReport summarises one knowledge base build.
type BuildReport struct {
	Path      string              `json:"path"`
	Rows      int                 `json:"rows"`
	Documents int                 `json:"documents"`
	Skipped   map[match.Stage]int `json:"skipped"`
	Duration  time.Duration       `json:"duration"`
}

// Prediction is the outcome of one predict call. FormatErr is set when the
// generated text does not carry the four labelled lines; Text is still the
// model's reply.
type Prediction struct {
	Home        string            `json:"home"`
	Away        string            `json:"away"`
	Competition string            `json:"competition,omitempty"`
	Text        string            `json:"text"`
	Parsed      prediction.Result `json:"parsed"`
	FormatErr   error             `json:"-"`
	Evidence    evidence.Evidence `json:"evidence"`
}

type PredictionService struct {
	newIndex  IndexFactory
	generator domain.Generator
	opts      Options
	logger    *logging.Logger

	buildMu sync.Mutex

	mu    sync.RWMutex
	state State
	index Index
	table *dataset.Table
}

func New(newIndex IndexFactory, generator domain.Generator, opts Options) *PredictionService {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.BucketSize <= 0 {
		opts.BucketSize = evidence.DefaultBucketSize
	}
	if opts.AnswerTopK <= 0 {
		opts.AnswerTopK = 2
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &PredictionService{
		newIndex:  newIndex,
		generator: generator,
		opts:      opts,
		logger:    logger.With("component", "prediction_service"),
		state:     StateUnbuilt,
	}
}

// State returns the current knowledge base state.
func (s *PredictionService) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Dataset returns the table behind the current index, or nil.
func (s *PredictionService) Dataset() *dataset.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Documents returns the number of indexed documents.
func (s *PredictionService) Documents() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index == nil {
		return 0
	}
	return s.index.Len()
}

// Build loads the dataset at path and replaces the knowledge base. Bad rows
// are skipped and counted. On failure the previous index is dropped and the
// state becomes StateFailed.
func (s *PredictionService) Build(ctx context.Context, path string) (BuildReport, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	start := time.Now()
	report := BuildReport{Path: path, Skipped: map[match.Stage]int{}}
	s.setState(StateBuilding, nil, nil)

	fail := func(err error) (BuildReport, error) {
		s.setState(StateFailed, nil, nil)
		metrics.Builds.WithLabelValues("failed").Inc()
		metrics.DocumentsIndexed.Set(0)
		report.Duration = time.Since(start)
		s.logger.Error("knowledge base build failed", "path", path, "err", err)
		return report, err
	}

	table, err := dataset.Load(path)
	if err != nil {
		return fail(err)
	}
	report.Rows = table.Len()

	docs := s.synthesize(table, report.Skipped)
	report.Documents = len(docs)

	ix := s.newIndex()
	if err := ix.Build(ctx, docs); err != nil {
		return fail(errors.Mark(errors.Wrap(err, "build index"), ErrExternalService))
	}

	s.setState(StateReady, ix, table)
	report.Duration = time.Since(start)
	metrics.Builds.WithLabelValues("ok").Inc()
	metrics.BuildDuration.Observe(report.Duration.Seconds())
	metrics.DocumentsIndexed.Set(float64(len(docs)))
	s.logger.Info("knowledge base built",
		"path", path,
		"rows", report.Rows,
		"documents", report.Documents,
		"skipped_normalize", report.Skipped[match.StageNormalize],
		"skipped_synthesize", report.Skipped[match.StageSynthesize],
		"duration", report.Duration,
	)
	return report, nil
}

func (s *PredictionService) synthesize(table *dataset.Table, skipped map[match.Stage]int) []domain.Document {
	norm := match.NewNormalizer(s.opts.CompetitionSuffix)
	docs := make([]domain.Document, 0, table.Len())
	table.Each(func(i int, row dataset.Row) bool {
		rowNum := i + 1
		fact, err := norm.Normalize(rowNum, row)
		if err == nil {
			var doc domain.Document
			doc, err = match.Synthesize(rowNum, fact)
			if err == nil {
				docs = append(docs, doc)
				return true
			}
		}
		stage := match.StageNormalize
		var re *match.RowError
		if errors.As(err, &re) {
			stage = re.Stage
		}
		skipped[stage]++
		metrics.RowsSkipped.WithLabelValues(string(stage)).Inc()
		s.logger.Warn("skipping row", "row", rowNum, "stage", stage, "err", err)
		return true
	})
	return docs
}

func (s *PredictionService) setState(state State, ix Index, table *dataset.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.index = ix
	if state != StateBuilding {
		s.table = table
	}
}

// ready returns the current index or the error explaining why there is none.
func (s *PredictionService) ready() (Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case StateReady:
		return s.index, nil
	case StateBuilding:
		return nil, ErrBuilding
	}
	return nil, ErrUninitialized
}

// Predict retrieves evidence for home vs away, asks the generator and
// returns its trimmed reply.
func (s *PredictionService) Predict(ctx context.Context, home, away, competition string) (Prediction, error) {
	out := Prediction{Home: home, Away: away, Competition: competition}
	ix, err := s.ready()
	if err != nil {
		metrics.Predictions.WithLabelValues("rejected").Inc()
		return out, err
	}
	if strings.TrimSpace(home) == "" || strings.TrimSpace(away) == "" {
		metrics.Predictions.WithLabelValues("rejected").Inc()
		return out, errors.Wrap(ErrInvalidRequest, "home and away teams are required")
	}

	results, err := ix.Query(ctx, evidence.Query(home, away, competition), s.opts.TopK)
	if err != nil {
		metrics.Predictions.WithLabelValues("failed").Inc()
		return out, errors.Mark(errors.Wrap(err, "retrieve evidence"), ErrExternalService)
	}
	out.Evidence = evidence.Classify(results, home, away, s.opts.BucketSize)

	text, err := s.generate(ctx, prompt.Prediction(home, away, out.Evidence))
	if err != nil {
		metrics.Predictions.WithLabelValues("failed").Inc()
		return out, err
	}
	out.Text = text
	out.Parsed, out.FormatErr = prediction.Parse(text)
	if out.FormatErr != nil {
		s.logger.Warn("prediction output not in expected format", "home", home, "away", away, "err", out.FormatErr)
		metrics.Predictions.WithLabelValues("malformed").Inc()
	} else {
		metrics.Predictions.WithLabelValues(string(out.Parsed.Outcome)).Inc()
	}
	return out, nil
}

// Answer answers a free-text question from the top few documents.
func (s *PredictionService) Answer(ctx context.Context, question string) (string, error) {
	ix, err := s.ready()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(question) == "" {
		return "", errors.Wrap(ErrInvalidRequest, "question is required")
	}
	results, err := ix.Query(ctx, question, s.opts.AnswerTopK)
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "retrieve context"), ErrExternalService)
	}
	return s.generate(ctx, prompt.Answer(question, results))
}

func (s *PredictionService) generate(ctx context.Context, p string) (string, error) {
	start := time.Now()
	text, err := s.generator.Generate(ctx, p)
	metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "generate"), ErrExternalService)
	}
	return strings.TrimSpace(text), nil
}

// BuildKnowledgeBase is Build reduced to a success flag.
func (s *PredictionService) BuildKnowledgeBase(ctx context.Context, path string) bool {
	_, err := s.Build(ctx, path)
	return err == nil
}

// PredictMatch is Predict reduced to text: the model reply, or one of the
// ERROR sentinels.
func (s *PredictionService) PredictMatch(ctx context.Context, home, away, competition string) string {
	p, err := s.Predict(ctx, home, away, competition)
	switch {
	case err == nil:
		return p.Text
	case errors.Is(err, ErrBuilding):
		return BuildingMessage
	case errors.Is(err, ErrUninitialized):
		return NotBuiltMessage
	}
	s.logger.Error("match prediction failed", "home", home, "away", away, "err", err)
	return PredictionFailedMessage
}

// AnswerQuery is Answer reduced to text.
func (s *PredictionService) AnswerQuery(ctx context.Context, question string) string {
	text, err := s.Answer(ctx, question)
	switch {
	case err == nil:
		return text
	case errors.Is(err, ErrBuilding):
		return BuildingMessage
	case errors.Is(err, ErrUninitialized):
		return NotBuiltMessage
	}
	s.logger.Error("query failed", "question", question, "err", err)
	return QueryFailedMessage
}
