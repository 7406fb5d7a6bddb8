package cardtrivia

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestYGOProDeck(t testing.TB, srv *httptest.Server, lang string) *YGOProDeck {
	t.Helper()
	y, err := NewYGOProDeck(
		&ContentConfig{
			BaseURL:           srv.URL,
			Language:          lang,
			RequestsPerSecond: 20,
			RequestTimeout:    5 * time.Second,
		},
		srv.Client(),
		nil,
	)
	require.NoError(t, err)
	return y
}

func TestYGOProDeck_FetchPool(t *testing.T) {
	t.Parallel()
	cards := testCards("Dark Magician", "Kuriboh")
	cards[0].CardImages = []struct {
		ImageURL string `json:"image_url"`
	}{{ImageURL: "https://images.example.com/46986414.jpg"}}
	cards[1].Name = "  Kuriboh "

	y := newTestYGOProDeck(t, newCardServer(t, cards), "")
	items, err := y.FetchPool(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Dark Magician", items[0].Name)
	assert.Equal(t, "Normal Monster", items[0].Category)
	assert.Equal(t, "https://images.example.com/46986414.jpg", items[0].ImageURL)
	require.NotNil(t, items[0].ATK)
	assert.Equal(t, 1000, *items[0].ATK)
	assert.Equal(t, "Kuriboh", items[1].Name)
	assert.Empty(t, items[1].ImageURL)
}

func TestYGOProDeck_FetchCluster(t *testing.T) {
	t.Parallel()
	cards := testCards()
	cards[0].Archetype = "Dark Magician"
	cards[3].Archetype = "Dark Magician"

	y := newTestYGOProDeck(t, newCardServer(t, cards), "")
	items, err := y.FetchCluster(context.Background(), "Dark Magician")
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, "Dark Magician", item.Archetype)
	}

	items, err = y.FetchCluster(context.Background(), "Nonexistent")
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)

	items, err = y.FetchCluster(context.Background(), " ")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestYGOProDeck_Language(t *testing.T) {
	t.Parallel()
	var gotLanguage atomic.Value
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				gotLanguage.Store(r.URL.Query().Get(ygoQueryLanguage))
				_, _ = w.Write([]byte(`{"data":[{"id":1,"name":"Magicien Sombre","desc":"Le magicien"}]}`))
			},
		),
	)
	t.Cleanup(srv.Close)

	y := newTestYGOProDeck(t, srv, "fr")
	items, err := y.FetchPool(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "fr", gotLanguage.Load())
	assert.Equal(t, "Magicien Sombre", items[0].Name)
}

func TestYGOProDeck_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "oops"},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"Bad parameter"}`},
		{name: "invalid json", status: http.StatusOK, body: `{"data":[`},
	}

	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				srv := httptest.NewServer(
					http.HandlerFunc(
						func(w http.ResponseWriter, _ *http.Request) {
							w.WriteHeader(tc.status)
							_, _ = w.Write([]byte(tc.body))
						},
					),
				)
				t.Cleanup(srv.Close)

				y := newTestYGOProDeck(t, srv, "")
				_, err := y.FetchPool(context.Background())
				require.ErrorIs(t, err, ErrSourceUnavailable)
				_, err = y.FetchCluster(context.Background(), "Kuriboh")
				require.ErrorIs(t, err, ErrSourceUnavailable)
			},
		)
	}
}

func TestYGOProDeck_Unreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	y := newTestYGOProDeck(t, srv, "")
	srv.Close()

	_, err := y.FetchPool(context.Background())
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestNewYGOProDeck_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := NewYGOProDeck(nil, nil, nil)
	require.Error(t, err)

	_, err = NewYGOProDeck(
		&ContentConfig{BaseURL: DefaultContentBaseURL, Language: "ja"},
		nil,
		nil,
	)
	require.Error(t, err)
}

func TestContentLanguageParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		lang     string
		expected string
		wantErr  bool
	}{
		{lang: "", expected: ""},
		{lang: "en", expected: ""},
		{lang: "en-US", expected: ""},
		{lang: "fr", expected: "fr"},
		{lang: "de", expected: "de"},
		{lang: "it", expected: "it"},
		{lang: "pt", expected: "pt"},
		{lang: "ja", wantErr: true},
		{lang: "not a language", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(
			tc.lang, func(t *testing.T) {
				t.Parallel()
				got, err := contentLanguageParam(tc.lang)
				if tc.wantErr {
					require.Error(t, err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tc.expected, got)
			},
		)
	}
}

// countingSource counts calls through to a staticSource
type countingSource struct {
	staticSource
	mu       sync.Mutex
	pools    int
	clusters int
}

func (c *countingSource) FetchPool(ctx context.Context) ([]Item, error) {
	c.mu.Lock()
	c.pools++
	c.mu.Unlock()
	return c.staticSource.FetchPool(ctx)
}

func (c *countingSource) FetchCluster(ctx context.Context, archetype string) ([]Item, error) {
	c.mu.Lock()
	c.clusters++
	c.mu.Unlock()
	return c.staticSource.FetchCluster(ctx, archetype)
}

func TestCachedContentSource_NoTTL(t *testing.T) {
	t.Parallel()
	source := &countingSource{}
	assert.Same(t, source, newCachedContentSource(source, 0, nil))
}

func TestCachedContentSource_Pool(t *testing.T) {
	t.Parallel()
	source := &countingSource{staticSource: staticSource{pool: testItems()}}
	cached := newCachedContentSource(source, time.Hour, nil).(*cachedContentSource)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cached.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		items, err := cached.FetchPool(ctx)
		require.NoError(t, err)
		assert.Len(t, items, len(testCardNames))
	}
	assert.Equal(t, 1, source.pools)

	now = now.Add(time.Hour)
	_, err := cached.FetchPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, source.pools)
}

func TestCachedContentSource_PoolErrorNotCached(t *testing.T) {
	t.Parallel()
	source := &countingSource{staticSource: staticSource{err: ErrSourceUnavailable}}
	cached := newCachedContentSource(source, time.Hour, nil)
	ctx := context.Background()

	_, err := cached.FetchPool(ctx)
	require.ErrorIs(t, err, ErrSourceUnavailable)

	source.err = nil
	source.pool = testItems()
	items, err := cached.FetchPool(ctx)
	require.NoError(t, err)
	assert.Len(t, items, len(testCardNames))
	assert.Equal(t, 2, source.pools)
}

func TestCachedContentSource_Cluster(t *testing.T) {
	t.Parallel()
	items := testItems()
	items[0].Archetype = "Magician"
	items[1].Archetype = "magician"
	source := &countingSource{staticSource: staticSource{pool: items}}
	cached := newCachedContentSource(source, time.Hour, nil).(*cachedContentSource)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cached.now = func() time.Time { return now }
	ctx := context.Background()

	// no pool loaded yet, so the cluster is fetched
	cluster, err := cached.FetchCluster(ctx, "Magician")
	require.NoError(t, err)
	assert.Len(t, cluster, 2)
	assert.Equal(t, 1, source.clusters)

	cluster, err = cached.FetchCluster(ctx, "MAGICIAN")
	require.NoError(t, err)
	assert.Len(t, cluster, 2)
	assert.Equal(t, 1, source.clusters)

	// loading the pool resets clusters, which are then cut from the pool
	_, err = cached.FetchPool(ctx)
	require.NoError(t, err)
	cluster, err = cached.FetchCluster(ctx, "Magician")
	require.NoError(t, err)
	assert.Len(t, cluster, 2)
	assert.Equal(t, 1, source.clusters)

	empty, err := cached.FetchCluster(ctx, "Unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Equal(t, 1, source.clusters)
}

func TestFilterArchetype(t *testing.T) {
	t.Parallel()
	items := []Item{
		{Name: "a", Archetype: "Blue-Eyes"},
		{Name: "b", Archetype: ""},
		{Name: "c", Archetype: "blue-eyes"},
		{Name: "d", Archetype: "Red-Eyes"},
	}
	got := filterArchetype(items, "BLUE-EYES")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "c", got[1].Name)

	assert.NotNil(t, filterArchetype(items, ""))
	assert.Empty(t, filterArchetype(items, ""))
}
