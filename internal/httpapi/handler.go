// Package httpapi exposes the prediction service over HTTP.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"matchrag/internal/dataset"
	"matchrag/internal/evidence"
	"matchrag/internal/logging"
	"matchrag/internal/prediction"
	"matchrag/internal/service"
)

// MaxBodySize limits request bodies to 1MB.
const MaxBodySize = 1 << 20

const defaultHeadToHead = 5

// Predictor is the part of the prediction service the API uses.
type Predictor interface {
	Build(ctx context.Context, path string) (service.BuildReport, error)
	Predict(ctx context.Context, home, away, competition string) (service.Prediction, error)
	Answer(ctx context.Context, question string) (string, error)
	State() service.State
	Documents() int
	Dataset() *dataset.Table
}

// Config configures the handler. Client-supplied dataset paths must resolve
// inside DatasetDir, or inside the directory of DefaultDataset when
// DatasetDir is empty. With neither set only the default can be built.
type Config struct {
	Service           Predictor
	Logger            *logging.Logger
	DefaultDataset    string
	DatasetDir        string
	CompetitionSuffix string
	AllowedOrigins    []string
}

type Handler struct {
	svc               Predictor
	logger            *logging.Logger
	validator         *validator.Validate
	defaultDataset    string
	datasetDir        string
	competitionSuffix string
	allowedOrigins    []string
}

func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	dir := cfg.DatasetDir
	if dir == "" && cfg.DefaultDataset != "" {
		dir = filepath.Dir(cfg.DefaultDataset)
	}
	return &Handler{
		svc:               cfg.Service,
		logger:            logger.With("component", "http"),
		validator:         validator.New(),
		defaultDataset:    cfg.DefaultDataset,
		datasetDir:        dir,
		competitionSuffix: cfg.CompetitionSuffix,
		allowedOrigins:    cfg.AllowedOrigins,
	}
}

// Router mounts every route.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Post("/knowledge-base", h.BuildKnowledgeBase)
		r.Post("/predictions", h.PredictMatch)
		r.Post("/queries", h.AnswerQuery)
		r.Get("/teams", h.Teams)
		r.Get("/stats", h.Stats)
		r.Get("/head-to-head", h.HeadToHead)
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

type statusResponse struct {
	State     service.State `json:"state"`
	Documents int           `json:"documents"`
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, statusResponse{State: h.svc.State(), Documents: h.svc.Documents()})
}

type buildRequest struct {
	Path string `json:"path"`
}

type buildResponse struct {
	Built     bool           `json:"built"`
	Rows      int            `json:"rows"`
	Documents int            `json:"documents"`
	Skipped   map[string]int `json:"skipped"`
	Duration  string         `json:"duration"`
}

// BuildKnowledgeBase loads the dataset at the given path, or the configured
// default, and rebuilds the index synchronously. A path outside the dataset
// directory is rejected before the current index is touched.
func (h *Handler) BuildKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if err := h.decode(r, &req, true); err != nil {
		h.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	path := h.defaultDataset
	if req.Path != "" {
		resolved, err := h.datasetPath(req.Path)
		if err != nil {
			h.logger.Warn("dataset path rejected", "path", req.Path, "err", err)
			h.errorResponse(w, http.StatusBadRequest, "dataset path is not allowed")
			return
		}
		path = resolved
	}
	if path == "" {
		h.errorResponse(w, http.StatusBadRequest, "dataset path is required")
		return
	}

	report, err := h.svc.Build(r.Context(), path)
	if err != nil {
		h.logger.Error("knowledge base build failed", "path", path, "err", err)
		status := http.StatusBadGateway
		if errors.Is(err, service.ErrDatasetLoad) {
			status = http.StatusUnprocessableEntity
		}
		h.errorResponse(w, status, "knowledge base build failed")
		return
	}
	skipped := make(map[string]int, len(report.Skipped))
	for stage, n := range report.Skipped {
		skipped[string(stage)] = n
	}
	h.jsonResponse(w, http.StatusOK, buildResponse{
		Built:     true,
		Rows:      report.Rows,
		Documents: report.Documents,
		Skipped:   skipped,
		Duration:  report.Duration.String(),
	})
}

type predictRequest struct {
	HomeTeam    string `json:"home_team" validate:"required"`
	AwayTeam    string `json:"away_team" validate:"required"`
	Competition string `json:"competition"`
}

type predictResponse struct {
	Text        string            `json:"text"`
	Parsed      prediction.Result `json:"parsed"`
	FormatError string            `json:"format_error,omitempty"`
	Evidence    evidence.Evidence `json:"evidence"`
}

func (h *Handler) PredictMatch(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := h.decode(r, &req, false); err != nil {
		h.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.svc.Predict(r.Context(), req.HomeTeam, req.AwayTeam, req.Competition)
	if err != nil {
		h.serviceError(w, err, service.PredictionFailedMessage, "home", req.HomeTeam, "away", req.AwayTeam)
		return
	}
	resp := predictResponse{Text: p.Text, Parsed: p.Parsed, Evidence: p.Evidence}
	if p.FormatErr != nil {
		resp.FormatError = p.FormatErr.Error()
	}
	h.jsonResponse(w, http.StatusOK, resp)
}

type queryRequest struct {
	Question string `json:"question" validate:"required"`
}

type queryResponse struct {
	Text string `json:"text"`
}

func (h *Handler) AnswerQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := h.decode(r, &req, false); err != nil {
		h.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	text, err := h.svc.Answer(r.Context(), req.Question)
	if err != nil {
		h.serviceError(w, err, service.QueryFailedMessage, "question", req.Question)
		return
	}
	h.jsonResponse(w, http.StatusOK, queryResponse{Text: text})
}

func (h *Handler) Teams(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w)
	if !ok {
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string][]string{"teams": table.Teams()})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w)
	if !ok {
		return
	}
	h.jsonResponse(w, http.StatusOK, table.Stats(h.competitionSuffix))
}

// HeadToHead lists recent meetings of ?home= and ?away= in either
// orientation, newest first. ?limit= defaults to 5.
func (h *Handler) HeadToHead(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w)
	if !ok {
		return
	}
	home, away := r.URL.Query().Get("home"), r.URL.Query().Get("away")
	if home == "" || away == "" {
		h.errorResponse(w, http.StatusBadRequest, "home and away are required")
		return
	}
	limit := defaultHeadToHead
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	meetings := table.HeadToHead(home, away, limit)
	rows := make([]dataset.Row, 0, meetings.Len())
	meetings.Each(func(_ int, row dataset.Row) bool {
		rows = append(rows, row)
		return true
	})
	h.jsonResponse(w, http.StatusOK, map[string]any{"matches": rows})
}

var errPathNotAllowed = errors.New("dataset path outside dataset directory")

// datasetPath resolves a client path against the dataset directory. Relative
// paths are taken from that directory. Symlinks are followed before the
// containment check.
func (h *Handler) datasetPath(raw string) (string, error) {
	if h.datasetDir == "" {
		return "", errPathNotAllowed
	}
	root, err := filepath.Abs(h.datasetDir)
	if err != nil {
		return "", errors.Wrap(err, "resolve dataset directory")
	}
	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	root = resolveLinks(root)
	path = resolveLinks(path)

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errPathNotAllowed
	}
	return path, nil
}

// resolveLinks follows symlinks when path exists. A missing file is checked
// by its parent so it still fails later as a load error.
func resolveLinks(path string) string {
	if p, err := filepath.EvalSymlinks(path); err == nil {
		return p
	}
	if parent, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		return filepath.Join(parent, filepath.Base(path))
	}
	return path
}

func (h *Handler) table(w http.ResponseWriter) (*dataset.Table, bool) {
	table := h.svc.Dataset()
	if table == nil || h.svc.State() != service.StateReady {
		h.errorResponse(w, http.StatusConflict, service.NotBuiltMessage)
		return nil, false
	}
	return table, true
}

// serviceError maps service errors to status codes. Sentinel text is used as
// the message so clients see the same strings as the console.
func (h *Handler) serviceError(w http.ResponseWriter, err error, failed string, kv ...any) {
	switch {
	case errors.Is(err, service.ErrBuilding):
		h.errorResponse(w, http.StatusServiceUnavailable, service.BuildingMessage)
	case errors.Is(err, service.ErrUninitialized):
		h.errorResponse(w, http.StatusConflict, service.NotBuiltMessage)
	case errors.Is(err, service.ErrInvalidRequest):
		h.errorResponse(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", append(kv, "err", err)...)
		h.errorResponse(w, http.StatusBadGateway, failed)
	}
}

// decode reads a JSON body and validates it. An empty body is accepted only
// when optional is set.
func (h *Handler) decode(r *http.Request, dst any, optional bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(body) == 0 {
		if optional {
			return nil
		}
		return errors.New("request body is required")
	}
	if err := sonic.Unmarshal(body, dst); err != nil {
		return errors.New("invalid JSON body")
	}
	if err := h.validator.Struct(dst); err != nil {
		return errors.Wrap(err, "invalid request")
	}
	return nil
}

func (h *Handler) jsonResponse(w http.ResponseWriter, status int, data any) {
	body, err := sonic.Marshal(data)
	if err != nil {
		h.logger.Error("encode response", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *Handler) errorResponse(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}
