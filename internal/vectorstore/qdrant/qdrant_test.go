package qdrant

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchrag/internal/domain"
	"matchrag/internal/vectorstore"
)

type recorded struct {
	method string
	path   string
	body   map[string]any
}

func newServer(t *testing.T, search string, status int) (*httptest.Server, *[]recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec := recorded{method: r.Method, path: r.URL.Path}
		if len(raw) > 0 {
			_ = sonic.Unmarshal(raw, &rec.body)
		}
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		if r.URL.Path == "/collections/matches/points/search" {
			_, _ = io.WriteString(w, search)
			return
		}
		_, _ = io.WriteString(w, `{"result":true,"status":"ok"}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func TestStorage_InitUpsertSearch(t *testing.T) {
	search := `{"result":[
		{"id":"b","score":0.5,"payload":{"row":2,"seq":1,"text":"second"}},
		{"id":"c","score":0.9,"payload":{"row":3,"seq":2,"text":"third"}},
		{"id":"a","score":0.5,"payload":{"row":1,"seq":0,"text":"first"}}
	]}`
	srv, reqs := newServer(t, search, 0)
	s := NewStorage(Config{URL: srv.URL + "/", APIKey: "secret", Collection: "matches"})
	ctx := context.Background()

	require.NoError(t, s.Init(ctx, 2))
	docs := []domain.Document{{ID: "a", Row: 1, Text: "first"}, {ID: "b", Row: 2, Text: "second"}}
	require.NoError(t, s.Upsert(ctx, docs, [][]float64{{1, 0}, {0, 1}}))

	res, err := s.Search(ctx, []float64{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{res[0].Document.ID, res[1].Document.ID, res[2].Document.ID})
	assert.Equal(t, "first", res[1].Document.Text)
	assert.Equal(t, 1, res[1].Document.Row)

	got := *reqs
	require.Len(t, got, 3)
	assert.Equal(t, http.MethodPut, got[0].method)
	assert.Equal(t, "/collections/matches", got[0].path)
	assert.Equal(t, "/collections/matches/points", got[1].path)
	points := got[1].body["points"].([]any)
	require.Len(t, points, 2)
	payload := points[1].(map[string]any)["payload"].(map[string]any)
	assert.Equal(t, "second", payload["text"])
	assert.EqualValues(t, 1, payload["seq"])
}

func TestStorage_ClearIgnoresMissingCollection(t *testing.T) {
	srv, _ := newServer(t, "", http.StatusNotFound)
	s := NewStorage(Config{URL: srv.URL, APIKey: "secret", Collection: "matches"})
	assert.NoError(t, s.Clear(context.Background()))
}

func TestStorage_ErrorsSurface(t *testing.T) {
	srv, _ := newServer(t, "", http.StatusInternalServerError)
	s := NewStorage(Config{URL: srv.URL, APIKey: "secret", Collection: "matches"})
	ctx := context.Background()
	assert.Error(t, s.Init(ctx, 4))
	assert.Error(t, s.Clear(ctx))
	_, err := s.Search(ctx, []float64{1}, 1)
	assert.Error(t, err)
}

func TestStorage_DimensionChecks(t *testing.T) {
	srv, _ := newServer(t, "", 0)
	s := NewStorage(Config{URL: srv.URL, APIKey: "secret", Collection: "matches"})
	ctx := context.Background()
	assert.ErrorIs(t, s.Init(ctx, 0), vectorstore.ErrInvalidDimension)
	require.NoError(t, s.Init(ctx, 2))
	err := s.Upsert(ctx, []domain.Document{{ID: "a"}}, [][]float64{{1}})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}
