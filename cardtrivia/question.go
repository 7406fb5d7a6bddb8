package cardtrivia

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
)

const (
	// choiceCount is the number of choices shown for a question
	choiceCount = 4

	// redactionMask replaces each character of the card's name
	// where it appears in its own description
	redactionMask = '█'

	poolScope = "pool"
)

// QuestionMode selects where distractors come from
type QuestionMode int

const (
	// QuestionModePool draws distractors from the whole card pool
	QuestionModePool QuestionMode = iota

	// QuestionModeArchetype draws distractors from the correct card's
	// archetype, so the choices are closer together
	QuestionModeArchetype
)

func (m QuestionMode) String() string {
	switch m {
	case QuestionModeArchetype:
		return "archetype"
	default:
		return poolScope
	}
}

// Question is a multiple-choice question about a single card. It isn't
// modified after [QuestionBuilder.Build] returns it.
type Question struct {
	Correct Item

	// Choices are the names shown to the user, in display order.
	// Choices[CorrectIndex] is always Correct.Name.
	Choices      []string
	CorrectIndex int

	// RedactedDescription is the card text with the card's own name
	// masked out, cut down to the display budget
	RedactedDescription string
	Mode                QuestionMode
}

func (q *Question) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("correct", q.Correct),
		slog.Any("choices", q.Choices),
		slog.Int("correct_index", q.CorrectIndex),
		slog.String("mode", q.Mode.String()),
	)
}

// QuestionBuilder builds questions from a [ContentSource]
type QuestionBuilder struct {
	source           ContentSource
	descriptionLimit int

	// rand.Rand isn't safe for concurrent use
	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewQuestionBuilder returns a QuestionBuilder drawing from source.
// If rng is nil, one is seeded from crypto/rand. descriptionLimit <= 0
// uses DefaultDescriptionLimit.
func NewQuestionBuilder(
	source ContentSource,
	rng *rand.Rand,
	descriptionLimit int,
) *QuestionBuilder {
	if rng == nil {
		rng = rand.New(rand.NewSource(cryptoSeed()))
	}
	if descriptionLimit <= 0 {
		descriptionLimit = DefaultDescriptionLimit
	}
	return &QuestionBuilder{
		source:           source,
		rng:              rng,
		descriptionLimit: descriptionLimit,
	}
}

// Build returns a new question. Returns an [InsufficientPoolError] if
// there aren't enough distinct, well-formed cards for four choices, and
// the source's error (ErrSourceUnavailable) if cards couldn't be fetched.
func (b *QuestionBuilder) Build(ctx context.Context, mode QuestionMode) (
	*Question,
	error,
) {
	pool, err := b.source.FetchPool(ctx)
	if err != nil {
		return nil, err
	}
	items := wellFormedItems(pool)

	candidates := items
	if mode == QuestionModeArchetype {
		candidates = make([]Item, 0, len(items))
		for _, item := range items {
			if item.Archetype != "" {
				candidates = append(candidates, item)
			}
		}
	} else if len(items) < choiceCount {
		return nil, &InsufficientPoolError{
			Scope:    poolScope,
			Eligible: len(items),
			Required: choiceCount,
		}
	}
	if len(candidates) == 0 {
		return nil, &InsufficientPoolError{
			Scope:    mode.String(),
			Required: choiceCount,
		}
	}

	correct := candidates[b.intn(len(candidates))]

	eligible := items
	scope := poolScope
	if mode == QuestionModeArchetype {
		cluster, clusterErr := b.source.FetchCluster(ctx, correct.Archetype)
		if clusterErr != nil {
			return nil, clusterErr
		}
		eligible = wellFormedItems(cluster)
		scope = correct.Archetype
	}

	distractors := distinctDistractors(correct, eligible)
	if len(distractors) < choiceCount-1 {
		return nil, &InsufficientPoolError{
			Scope:    scope,
			Eligible: len(distractors),
			Required: choiceCount - 1,
		}
	}

	choices := make([]string, 0, choiceCount)
	choices = append(choices, correct.Name)
	for _, idx := range b.perm(len(distractors))[:choiceCount-1] {
		choices = append(choices, distractors[idx])
	}
	b.shuffle(choices)

	correctIndex := 0
	for i, name := range choices {
		if name == correct.Name {
			correctIndex = i
			break
		}
	}

	return &Question{
		Correct:      correct,
		Choices:      choices,
		CorrectIndex: correctIndex,
		RedactedDescription: shortenString(
			redactName(correct.Description, correct.Name),
			b.descriptionLimit,
		),
		Mode: mode,
	}, nil
}

func (b *QuestionBuilder) intn(n int) int {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return b.rng.Intn(n)
}

func (b *QuestionBuilder) perm(n int) []int {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return b.rng.Perm(n)
}

func (b *QuestionBuilder) shuffle(s []string) {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	b.rng.Shuffle(
		len(s), func(i, j int) {
			s[i], s[j] = s[j], s[i]
		},
	)
}

// distinctDistractors returns the names in eligible which could be shown
// alongside correct: not the correct card's name (ignoring case), and
// no name repeated.
func distinctDistractors(correct Item, eligible []Item) []string {
	seen := map[string]struct{}{
		nameKey(correct.Name): {},
	}
	names := make([]string, 0, len(eligible))
	for _, item := range eligible {
		key := nameKey(item.Name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, item.Name)
	}
	return names
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func wellFormedItems(items []Item) []Item {
	valid := make([]Item, 0, len(items))
	for _, item := range items {
		if item.wellFormed() {
			valid = append(valid, item)
		}
	}
	return valid
}

// redactName replaces every case-insensitive occurrence of name in
// description with a mask of the same length. Matches are plain
// substrings, found left to right without overlapping.
func redactName(description string, name string) string {
	pattern := []rune(name)
	text := []rune(description)
	if len(pattern) == 0 || len(pattern) > len(text) {
		return description
	}
	mask := strings.Repeat(string(redactionMask), len(pattern))

	var sb strings.Builder
	sb.Grow(len(description))
	for i := 0; i < len(text); {
		if i+len(pattern) <= len(text) &&
			strings.EqualFold(string(text[i:i+len(pattern)]), name) {
			sb.WriteString(mask)
			i += len(pattern)
			continue
		}
		sb.WriteRune(text[i])
		i++
	}
	return sb.String()
}

func cryptoSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic(err)
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}
