package cardtrivia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	ygoQueryLanguage  = "language"
	ygoQueryArchetype = "archetype"

	// ygoNoMatchMessage is the prefix of the error YGOPRODeck returns
	// (with a 400) when a filter matches no cards
	ygoNoMatchMessage = "No card matching your query"

	// maxErrorBodySize caps how much of an error response we read
	maxErrorBodySize = 4096
)

var (
	// supportedContentLanguages are the languages YGOPRODeck has card
	// text for. English is the default and isn't sent as a parameter.
	supportedContentLanguages = []language.Tag{
		language.English,
		language.French,
		language.German,
		language.Italian,
		language.Portuguese,
	}
	contentLanguageMatcher = language.NewMatcher(supportedContentLanguages)

	errNoMatchingCards = errors.New("no matching cards")
)

// Item is a single card: the thing a question is about, and the source
// of the other choices.
type Item struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Category is the card type (ex: "Effect Monster", "Spell Card")
	Category  string `json:"category"`
	Race      string `json:"race,omitempty"`
	Attribute string `json:"attribute,omitempty"`

	// Archetype groups related cards. Items in the same archetype
	// make the harder distractors.
	Archetype string `json:"archetype,omitempty"`
	ATK       *int   `json:"atk,omitempty"`
	DEF       *int   `json:"def,omitempty"`
	Level     *int   `json:"level,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}

// wellFormed reports whether the item can be used in a question at all
func (i Item) wellFormed() bool {
	return strings.TrimSpace(i.Name) != "" && strings.TrimSpace(i.Description) != ""
}

func (i Item) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("id", i.ID),
		slog.String("name", i.Name),
		slog.String("archetype", i.Archetype),
	)
}

// ContentSource supplies cards. A cluster is the set of cards sharing
// an archetype.
type ContentSource interface {
	// FetchPool returns every card available
	FetchPool(ctx context.Context) ([]Item, error)

	// FetchCluster returns the cards in the given archetype. An unknown
	// archetype is an empty cluster, not an error.
	FetchCluster(ctx context.Context, archetype string) ([]Item, error)
}

// ygoCard is a card as returned by the YGOPRODeck v7 cardinfo endpoint
type ygoCard struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Desc       string `json:"desc"`
	ATK        *int   `json:"atk"`
	DEF        *int   `json:"def"`
	Level      *int   `json:"level"`
	Race       string `json:"race"`
	Attribute  string `json:"attribute"`
	Archetype  string `json:"archetype"`
	CardImages []struct {
		ImageURL string `json:"image_url"`
	} `json:"card_images"`
}

func (c ygoCard) item() Item {
	item := Item{
		ID:          c.ID,
		Name:        strings.TrimSpace(c.Name),
		Description: strings.TrimSpace(c.Desc),
		Category:    c.Type,
		Race:        c.Race,
		Attribute:   c.Attribute,
		Archetype:   c.Archetype,
		ATK:         c.ATK,
		DEF:         c.DEF,
		Level:       c.Level,
	}
	if len(c.CardImages) > 0 {
		item.ImageURL = c.CardImages[0].ImageURL
	}
	return item
}

type ygoResponse struct {
	Data  []ygoCard `json:"data"`
	Error string    `json:"error"`
}

// YGOProDeck is a [ContentSource] backed by the YGOPRODeck card database API
type YGOProDeck struct {
	baseURL  string
	language string
	client   *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *slog.Logger
}

// NewYGOProDeck returns a client for the cardinfo endpoint in config.
// If client is nil, http.DefaultClient is used.
func NewYGOProDeck(
	config *ContentConfig,
	client *http.Client,
	logger *slog.Logger,
) (*YGOProDeck, error) {
	if config == nil {
		return nil, errors.New("nil content config")
	}
	lang, err := contentLanguageParam(config.Language)
	if err != nil {
		return nil, err
	}
	if _, err = url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid content base url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultContentRequestsPerSecond
	}
	return &YGOProDeck{
		baseURL:  config.BaseURL,
		language: lang,
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		timeout:  config.RequestTimeout,
		logger:   logger,
	}, nil
}

func (y *YGOProDeck) FetchPool(ctx context.Context) ([]Item, error) {
	items, err := y.fetch(ctx, url.Values{})
	if errors.Is(err, errNoMatchingCards) {
		return []Item{}, nil
	}
	return items, err
}

func (y *YGOProDeck) FetchCluster(ctx context.Context, archetype string) (
	[]Item,
	error,
) {
	if strings.TrimSpace(archetype) == "" {
		return []Item{}, nil
	}
	items, err := y.fetch(ctx, url.Values{ygoQueryArchetype: {archetype}})
	if errors.Is(err, errNoMatchingCards) {
		return []Item{}, nil
	}
	return items, err
}

func (y *YGOProDeck) fetch(ctx context.Context, query url.Values) ([]Item, error) {
	if y.language != "" {
		query.Set(ygoQueryLanguage, y.language)
	}
	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	reqURL := y.baseURL
	if encoded := query.Encode(); encoded != "" {
		reqURL = reqURL + "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	logger := y.logger.With("url", reqURL)
	start := time.Now()
	resp, err := y.client.Do(req)
	if err != nil {
		logger.ErrorContext(ctx, "card request failed", tint.Err(err))
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		var errResp ygoResponse
		if json.Unmarshal(body, &errResp) == nil &&
			strings.HasPrefix(errResp.Error, ygoNoMatchMessage) {
			logger.InfoContext(ctx, "no matching cards", "status", resp.StatusCode)
			return nil, errNoMatchingCards
		}
		logger.ErrorContext(
			ctx,
			"unexpected card response",
			"status", resp.StatusCode,
			"body", truncate(string(body), 200),
		)
		return nil, fmt.Errorf(
			"%w: unexpected status %d",
			ErrSourceUnavailable,
			resp.StatusCode,
		)
	}

	var payload ygoResponse
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		logger.ErrorContext(ctx, "error decoding cards", tint.Err(err))
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	items := make([]Item, 0, len(payload.Data))
	for _, c := range payload.Data {
		items = append(items, c.item())
	}
	logger.DebugContext(
		ctx,
		"fetched cards",
		"count", len(items),
		"duration", time.Since(start),
	)
	return items, nil
}

// contentLanguageParam validates lang against the languages YGOPRODeck
// supports, returning the value for the 'language' query parameter
// ("" for English).
func contentLanguageParam(lang string) (string, error) {
	if strings.TrimSpace(lang) == "" {
		return "", nil
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return "", fmt.Errorf("invalid content language %q: %w", lang, err)
	}
	_, idx, confidence := contentLanguageMatcher.Match(tag)
	if confidence < language.High {
		return "", fmt.Errorf("unsupported content language %q", lang)
	}
	matched := supportedContentLanguages[idx]
	if matched == language.English {
		return "", nil
	}
	base, _ := matched.Base()
	return base.String(), nil
}

// cachedContentSource keeps the pool in memory for a TTL. Clusters are
// cut from the cached pool when it's fresh, and fetched otherwise.
type cachedContentSource struct {
	source   ContentSource
	ttl      time.Duration
	mu       sync.RWMutex
	pool     []Item
	loadedAt time.Time
	clusters map[string]cachedCluster
	now      func() time.Time
	logger   *slog.Logger
}

type cachedCluster struct {
	items    []Item
	loadedAt time.Time
}

// newCachedContentSource wraps source with a TTL cache. A ttl <= 0
// returns source unchanged.
func newCachedContentSource(
	source ContentSource,
	ttl time.Duration,
	logger *slog.Logger,
) ContentSource {
	if ttl <= 0 {
		return source
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &cachedContentSource{
		source:   source,
		ttl:      ttl,
		clusters: map[string]cachedCluster{},
		now:      time.Now,
		logger:   logger,
	}
}

func (c *cachedContentSource) fresh(loadedAt time.Time) bool {
	return !loadedAt.IsZero() && c.now().Sub(loadedAt) < c.ttl
}

func (c *cachedContentSource) FetchPool(ctx context.Context) ([]Item, error) {
	c.mu.RLock()
	if c.fresh(c.loadedAt) {
		pool := c.pool
		c.mu.RUnlock()
		return pool, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fresh(c.loadedAt) {
		return c.pool, nil
	}
	pool, err := c.source.FetchPool(ctx)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	c.loadedAt = c.now()
	c.clusters = map[string]cachedCluster{}
	c.logger.InfoContext(ctx, "refreshed card pool", "count", len(pool))
	return pool, nil
}

func (c *cachedContentSource) FetchCluster(
	ctx context.Context,
	archetype string,
) ([]Item, error) {
	key := strings.ToLower(strings.TrimSpace(archetype))

	c.mu.RLock()
	if cluster, ok := c.clusters[key]; ok && c.fresh(cluster.loadedAt) {
		c.mu.RUnlock()
		return cluster.items, nil
	}
	var cluster []Item
	poolFresh := c.fresh(c.loadedAt)
	if poolFresh {
		cluster = filterArchetype(c.pool, archetype)
	}
	c.mu.RUnlock()

	if !poolFresh {
		var err error
		cluster, err = c.source.FetchCluster(ctx, archetype)
		if err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.clusters[key] = cachedCluster{items: cluster, loadedAt: c.now()}
	c.mu.Unlock()
	return cluster, nil
}

func filterArchetype(items []Item, archetype string) []Item {
	cluster := []Item{}
	for _, item := range items {
		if item.Archetype != "" && strings.EqualFold(item.Archetype, archetype) {
			cluster = append(cluster, item)
		}
	}
	return cluster
}
