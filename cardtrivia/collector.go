package cardtrivia

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"log/slog"
	"sync"
	"time"
)

// answerMarkers label the choices of a question, in order. Users answer
// by reacting with one of these.
var answerMarkers = []string{"🇦", "🇧", "🇨", "🇩"}

// OutcomeKind is how a question ended
type OutcomeKind int

const (
	OutcomeTimedOut OutcomeKind = iota
	OutcomeCorrect
	OutcomeIncorrect
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCorrect:
		return "correct"
	case OutcomeIncorrect:
		return "incorrect"
	default:
		return "timed_out"
	}
}

// AnswerOutcome is the result of [AnswerCollector.Collect]. Selected is
// empty when the question timed out.
type AnswerOutcome struct {
	Kind          OutcomeKind
	SelectedIndex int
	Selected      string
}

// AnswerEvent is a user's selection on a question message, like a
// reaction being added.
type AnswerEvent struct {
	MessageID   string
	ResponderID string
	Marker      string
}

// QuestionPresenter shows a question to the user and offers the
// markers they can answer with.
type QuestionPresenter interface {
	// PresentQuestion displays the question, with choices labeled by
	// markers, and returns the ID of the message answers will reference.
	PresentQuestion(ctx context.Context, q *Question, markers []string) (
		messageID string,
		err error,
	)

	// OfferMarkers attaches the markers to the message so they can be
	// selected. This is called once the answer is being waited on, so
	// selections made as soon as a marker appears aren't missed.
	OfferMarkers(ctx context.Context, messageID string, markers []string) error
}

type pendingKey struct {
	messageID   string
	responderID string
}

// PendingAnswer is a question waiting on an answer from one user
type PendingAnswer struct {
	SessionID   string
	MessageID   string
	ResponderID string
	Question    *Question
	ExpiresAt   time.Time

	selected chan int
	once     sync.Once
}

// claim marks the answer as resolved. Only the first caller gets true.
func (p *PendingAnswer) claim() bool {
	claimed := false
	p.once.Do(
		func() {
			claimed = true
		},
	)
	return claimed
}

func (p *PendingAnswer) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("session_id", p.SessionID),
		slog.String("message_id", p.MessageID),
		slog.String("responder_id", p.ResponderID),
		slog.Time("expires_at", p.ExpiresAt),
	)
}

// AnswerCollector waits for a single user's answer to a question.
// Events are fed in through Dispatch.
type AnswerCollector struct {
	mu      sync.Mutex
	pending map[pendingKey]*PendingAnswer
	markers []string
	logger  *slog.Logger
}

func NewAnswerCollector(logger *slog.Logger) *AnswerCollector {
	if logger == nil {
		logger = slog.Default()
	}
	markers := make([]string, len(answerMarkers))
	copy(markers, answerMarkers)
	return &AnswerCollector{
		pending: map[pendingKey]*PendingAnswer{},
		markers: markers,
		logger:  logger,
	}
}

// Collect presents q, then waits up to timeout for responderID to
// select a choice. Only the first selection by responderID on the
// question's message counts. If nothing is selected in time, the
// outcome is [OutcomeTimedOut]. Returns an error if the question
// couldn't be presented, or ctx is done first.
func (c *AnswerCollector) Collect(
	ctx context.Context,
	presenter QuestionPresenter,
	q *Question,
	responderID string,
	timeout time.Duration,
) (AnswerOutcome, error) {
	messageID, err := presenter.PresentQuestion(ctx, q, c.markers)
	if err != nil {
		return AnswerOutcome{}, fmt.Errorf("error presenting question: %w", err)
	}

	p := &PendingAnswer{
		SessionID:   uuid.NewString(),
		MessageID:   messageID,
		ResponderID: responderID,
		Question:    q,
		ExpiresAt:   time.Now().Add(timeout),
		selected:    make(chan int, 1),
	}
	if err = c.register(p); err != nil {
		return AnswerOutcome{}, err
	}
	defer c.remove(p)

	logger := c.logger.With("pending_answer", p)
	logger.DebugContext(ctx, "waiting for answer")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if err = presenter.OfferMarkers(ctx, messageID, c.markers); err != nil {
		return AnswerOutcome{}, fmt.Errorf("error offering answers: %w", err)
	}

	select {
	case idx := <-p.selected:
		return c.outcome(q, idx), nil
	case <-timer.C:
		if p.claim() {
			logger.InfoContext(ctx, "answer timed out")
			return AnswerOutcome{Kind: OutcomeTimedOut, SelectedIndex: -1}, nil
		}
		// an answer claimed the session as the timer fired
		return c.outcome(q, <-p.selected), nil
	case <-ctx.Done():
		if p.claim() {
			return AnswerOutcome{}, ctx.Err()
		}
		return c.outcome(q, <-p.selected), nil
	}
}

// Dispatch routes an answer event to the question it references.
// Events for unknown messages, from other users, or with markers that
// aren't choices are ignored. Returns true if the event resolved a
// pending answer.
func (c *AnswerCollector) Dispatch(ev AnswerEvent) bool {
	idx := c.markerIndex(ev.Marker)
	if idx < 0 {
		return false
	}
	key := pendingKey{messageID: ev.MessageID, responderID: ev.ResponderID}

	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !ok || !p.claim() {
		return false
	}
	p.selected <- idx
	return true
}

// Pending returns the number of questions waiting on an answer
func (c *AnswerCollector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *AnswerCollector) register(p *PendingAnswer) error {
	key := pendingKey{messageID: p.MessageID, responderID: p.ResponderID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[key]; exists {
		return errPendingAnswerExists
	}
	c.pending[key] = p
	return nil
}

func (c *AnswerCollector) remove(p *PendingAnswer) {
	key := pendingKey{messageID: p.MessageID, responderID: p.ResponderID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.pending[key]; ok && current == p {
		delete(c.pending, key)
	}
}

func (c *AnswerCollector) markerIndex(marker string) int {
	for i, m := range c.markers {
		if m == marker {
			return i
		}
	}
	return -1
}

func (*AnswerCollector) outcome(q *Question, idx int) AnswerOutcome {
	if idx < 0 || idx >= len(q.Choices) {
		return AnswerOutcome{Kind: OutcomeIncorrect, SelectedIndex: idx}
	}
	kind := OutcomeIncorrect
	if idx == q.CorrectIndex {
		kind = OutcomeCorrect
	}
	return AnswerOutcome{
		Kind:          kind,
		SelectedIndex: idx,
		Selected:      q.Choices[idx],
	}
}
