package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchrag/internal/config"
	"matchrag/internal/logging"
	"matchrag/internal/service"
)

const history = `home_team,away_team,home_score,away_score,utcDate,season,matchday,stage,winner,source_file
Arsenal FC,Chelsea FC,2,1,2024-01-01,2023,20,REGULAR_SEASON,HOME_TEAM,PL_2023_2025.csv
Chelsea FC,Arsenal FC,0,0,2024-05-01,2023,35,REGULAR_SEASON,DRAW,PL_2023_2025.csv
`

func chatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":`+reply+`}}]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeHistory(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.csv")
	require.NoError(t, os.WriteFile(path, []byte(history), 0o644))
	return path
}

func TestNew_DefaultsBuildAndPredict(t *testing.T) {
	srv := chatServer(t, `"Prediction: Draw\nWinning Team: Draw\nPredicted Score: Arsenal FC 1 - 1 Chelsea FC\nReasoning: Last meeting was level."`)
	cfg, err := config.Parse([]byte("generator:\n  openai:\n    base_url: " + srv.URL + "/v1\n"))
	require.NoError(t, err)

	a, err := New(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx := context.Background()
	require.True(t, a.Service.BuildKnowledgeBase(ctx, writeHistory(t)))
	assert.Equal(t, 2, a.Service.Documents())

	p, err := a.Service.Predict(ctx, "Arsenal FC", "Chelsea FC", "")
	require.NoError(t, err)
	assert.Len(t, p.Evidence.HeadToHead, 2)
	assert.Equal(t, "Draw", p.Parsed.Prediction)
}

func TestNew_SQLiteStore(t *testing.T) {
	srv := chatServer(t, `"ok"`)
	dbPath := filepath.Join(t.TempDir(), "data", "index.db")
	yml := "vector_store:\n  type: sqlite\n  sqlite:\n    path: " + dbPath +
		"\ngenerator:\n  openai:\n    base_url: " + srv.URL + "/v1\n"
	cfg, err := config.Parse([]byte(yml))
	require.NoError(t, err)

	a, err := New(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx := context.Background()
	path := writeHistory(t)
	require.True(t, a.Service.BuildKnowledgeBase(ctx, path))
	require.True(t, a.Service.BuildKnowledgeBase(ctx, path))
	assert.Equal(t, 2, a.Service.Documents())
	assert.Equal(t, "ok", a.Service.AnswerQuery(ctx, "How did Arsenal FC do?"))
	assert.FileExists(t, dbPath)
}

func TestNew_UnknownBackends(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)

	bad := *cfg
	bad.Embedder.Type = "word2vec"
	_, err = New(context.Background(), &bad, nil)
	assert.Error(t, err)

	bad = *cfg
	bad.VectorStore.Type = "faiss"
	_, err = New(context.Background(), &bad, nil)
	assert.Error(t, err)
}

func TestNew_CacheSkippedForTFIDF(t *testing.T) {
	cfg, err := config.Parse([]byte("cache:\n  type: memory\n"))
	require.NoError(t, err)
	a, err := New(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, service.StateUnbuilt, a.Service.State())
	require.NoError(t, a.Close())
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matchrag.log")
	logger, closeFn, err := NewLogger(config.LogConfig{Level: "debug", Format: "json", File: path}, os.Stderr)
	require.NoError(t, err)
	logger.Debug("written to file", "k", "v")
	require.NoError(t, logger.Sync())
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")

	_, _, err = NewLogger(config.LogConfig{Level: "loud"}, os.Stderr)
	assert.Error(t, err)
}

func TestNew_EmbedderPerIndex(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	a, err := New(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	first, second := a.newEmbedder(), a.newEmbedder()
	assert.NotSame(t, first, second, "tfidf vocabularies must not be shared across builds")

	cfg, err = config.Parse([]byte("embedder:\n  type: openai\n"))
	require.NoError(t, err)
	a, err = New(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Same(t, a.newEmbedder(), a.newEmbedder())
}
