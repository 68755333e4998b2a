package cache

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	fail  bool
}

func (e *countingEmbedder) Name() string { return "fake" }
func (e *countingEmbedder) Prepare([]string) error { return nil }
func (e *countingEmbedder) Dimension() int { return 2 }
func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	e.calls++
	if e.fail {
		return nil, errors.New("backend down")
	}
	return []float64{float64(len(text)), 1}, nil
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]float64, bool, error) {
	return nil, false, errors.New("read timeout")
}
func (brokenStore) Set(context.Context, string, []float64) error { return errors.New("write timeout") }

func TestEmbedder_HitsAfterFirstCall(t *testing.T) {
	inner := &countingEmbedder{}
	store := NewMemoryStore()
	e := New(inner, store, nil)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "Arsenal FC")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "Arsenal FC")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, "fake", e.Name())
	assert.Equal(t, 2, e.Dimension())
}

func TestEmbedder_StoreFailuresFallThrough(t *testing.T) {
	inner := &countingEmbedder{}
	e := New(inner, brokenStore{}, nil)

	v, err := e.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1}, v)
}

func TestEmbedder_InnerErrorIsReturned(t *testing.T) {
	e := New(&countingEmbedder{fail: true}, NewMemoryStore(), nil)
	_, err := e.Embed(context.Background(), "abc")
	require.Error(t, err)
}

func TestKey_DependsOnModelAndText(t *testing.T) {
	assert.Equal(t, Key("m", "t"), Key("m", "t"))
	assert.NotEqual(t, Key("m", "t"), Key("m2", "t"))
	assert.NotEqual(t, Key("m", "t"), Key("m", "t2"))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
}

func TestVectorEncoding(t *testing.T) {
	in := []float64{0.25, -1.5, 3}
	out, err := DecodeVector(EncodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeVector([]byte{1, 2, 3})
	require.Error(t, err)
}
