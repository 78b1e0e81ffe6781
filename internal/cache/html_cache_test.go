package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdiff/internal/convert"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mrs, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mrs.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mrs.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mrs, rdb
}

type countingImporter struct {
	calls int
	html  string
	err   error
}

func (c *countingImporter) ToHTML(ctx context.Context, doc convert.Document) (string, error) {
	c.calls++
	return c.html, c.err
}

func TestKey_DependsOnFormatAndContent(t *testing.T) {
	a := Key(convert.Document{Format: convert.FormatDOCX, Data: []byte("x")})
	b := Key(convert.Document{Format: convert.FormatODT, Data: []byte("x")})
	c := Key(convert.Document{Format: convert.FormatDOCX, Data: []byte("y")})
	d := Key(convert.Document{Name: "other-name.docx", Format: convert.FormatDOCX, Data: []byte("x")})

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, d, "file name must not influence the key")
	assert.Contains(t, a, keyPrefix)
}

func TestHTMLCache_SetGetAndDefaultTTL(t *testing.T) {
	mrs, rdb := newRedis(t)
	c := NewHTMLCache(rdb, 0)

	_, ok := c.Get(context.Background(), "htmlcache:k")
	assert.False(t, ok)

	c.Set(context.Background(), "htmlcache:k", "<p>x</p>")
	got, ok := c.Get(context.Background(), "htmlcache:k")
	require.True(t, ok)
	assert.Equal(t, "<p>x</p>", got)

	ttl := mrs.TTL("htmlcache:k")
	if ttl < 50*time.Second || ttl > 70*time.Second {
		t.Fatalf("expected default ttl around 1m, got %v", ttl)
	}
}

func TestImporter_MissThenHit(t *testing.T) {
	_, rdb := newRedis(t)
	inner := &countingImporter{html: "<p>Base text</p>"}
	imp := NewImporter(inner, NewHTMLCache(rdb, time.Minute))
	doc := convert.Document{Format: convert.FormatDOCX, Data: []byte("docx-bytes")}

	for i := 0; i < 3; i++ {
		html, err := imp.ToHTML(context.Background(), doc)
		require.NoError(t, err)
		assert.Equal(t, "<p>Base text</p>", html)
	}
	assert.Equal(t, 1, inner.calls)
}

func TestImporter_ErrorsAreNotCached(t *testing.T) {
	_, rdb := newRedis(t)
	inner := &countingImporter{err: errors.New("corrupt document")}
	imp := NewImporter(inner, NewHTMLCache(rdb, time.Minute))
	doc := convert.Document{Format: convert.FormatDOCX, Data: []byte("bad")}

	_, err := imp.ToHTML(context.Background(), doc)
	require.Error(t, err)
	_, err = imp.ToHTML(context.Background(), doc)
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestImporter_RedisDownFallsThrough(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()
	inner := &countingImporter{html: "<p>ok</p>"}
	imp := NewImporter(inner, NewHTMLCache(rdb, time.Minute))

	html, err := imp.ToHTML(context.Background(), convert.Document{Format: convert.FormatDOCX, Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "<p>ok</p>", html)
	assert.Equal(t, 1, inner.calls)
}
