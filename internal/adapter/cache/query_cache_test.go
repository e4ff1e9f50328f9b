package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgsearch/internal/domain"
)

func outcome(paths ...string) domain.SearchOutcome {
	o := domain.SearchOutcome{Threshold: 0.15}
	for _, p := range paths {
		o.Results = append(o.Results, domain.ScoredImage{Path: p, Score: 0.5})
	}
	return o
}

func TestOutcomeCache_HitAndGenerationMiss(t *testing.T) {
	c := NewOutcomeCache(10, time.Minute)
	key := Key{Query: domain.TextQuery("red"), Threshold: 0.15}

	c.Put(key, 1, outcome("a.png"))

	got, ok := c.Get(key, 1)
	require.True(t, ok)
	assert.Equal(t, "a.png", got.Results[0].Path)

	_, ok = c.Get(key, 2)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestOutcomeCache_ThresholdIsPartOfKey(t *testing.T) {
	c := NewOutcomeCache(10, time.Minute)
	c.Put(Key{Query: domain.TextQuery("red"), Threshold: 0.15}, 1, outcome("a.png"))

	_, ok := c.Get(Key{Query: domain.TextQuery("red"), Threshold: 0.3}, 1)
	assert.False(t, ok)
}

func TestOutcomeCache_TTL(t *testing.T) {
	c := NewOutcomeCache(10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	key := Key{Query: domain.ImageQuery("/q.png")}
	c.Put(key, 0, outcome("a.png"))

	now = now.Add(2 * time.Minute)
	_, ok := c.Get(key, 0)
	assert.False(t, ok)
}

func TestOutcomeCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewOutcomeCache(2, time.Minute)
	k1 := Key{Query: domain.TextQuery("one")}
	k2 := Key{Query: domain.TextQuery("two")}
	k3 := Key{Query: domain.TextQuery("three")}

	c.Put(k1, 0, outcome("1"))
	c.Put(k2, 0, outcome("2"))
	_, _ = c.Get(k1, 0)
	c.Put(k3, 0, outcome("3"))

	_, ok := c.Get(k2, 0)
	assert.False(t, ok, "k2 should have been evicted")
	_, ok = c.Get(k1, 0)
	assert.True(t, ok)
	_, ok = c.Get(k3, 0)
	assert.True(t, ok)
}

func TestOutcomeCache_ReturnsCopies(t *testing.T) {
	c := NewOutcomeCache(10, time.Minute)
	key := Key{Query: domain.TextQuery("red")}
	c.Put(key, 0, outcome("a.png"))

	got, _ := c.Get(key, 0)
	got.Results[0].Path = "mutated"

	again, _ := c.Get(key, 0)
	assert.Equal(t, "a.png", again.Results[0].Path)
}

type countingSearcher struct {
	calls int
	err   error
}

func (s *countingSearcher) Search(ctx context.Context, q domain.Query) (domain.SearchOutcome, error) {
	s.calls++
	if s.err != nil {
		return domain.SearchOutcome{}, s.err
	}
	return outcome(q.Text + ".png"), nil
}

func TestCachedSearcher(t *testing.T) {
	inner := &countingSearcher{}
	gen := uint64(0)
	cs := NewCachedSearcher(inner, NewOutcomeCache(10, time.Minute), func(q domain.Query) (Key, uint64, bool) {
		return Key{Query: q}, gen, true
	})
	ctx := context.Background()

	_, err := cs.Search(ctx, domain.TextQuery("red"))
	require.NoError(t, err)
	_, err = cs.Search(ctx, domain.TextQuery("red"))
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	gen++
	_, err = cs.Search(ctx, domain.TextQuery("red"))
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	inner.err = errors.New("boom")
	_, err = cs.Search(ctx, domain.TextQuery("blue"))
	assert.Error(t, err)
}
