package cardtrivia

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientPool is matched by [InsufficientPoolError] via errors.Is
	ErrInsufficientPool = errors.New("not enough eligible cards to build a question")

	// ErrSourceUnavailable indicates the card database couldn't be reached,
	// or returned something we couldn't use.
	ErrSourceUnavailable = errors.New("card source unavailable")

	// ErrStoreUnavailable indicates the streak store couldn't complete
	// a read or write.
	ErrStoreUnavailable = errors.New("streak store unavailable")

	errPendingAnswerExists = errors.New("an answer is already pending for this message and user")
)

// InsufficientPoolError is returned by [QuestionBuilder.Build] when the
// pool (or an archetype's cluster) doesn't have enough distinct,
// well-formed cards to fill out a question.
type InsufficientPoolError struct {
	// Scope is either "pool" or the archetype name
	Scope    string
	Eligible int
	Required int
}

func (e *InsufficientPoolError) Error() string {
	return fmt.Sprintf(
		"%s: %q has %d eligible, need %d",
		ErrInsufficientPool.Error(),
		e.Scope,
		e.Eligible,
		e.Required,
	)
}

func (e *InsufficientPoolError) Is(target error) bool {
	return target == ErrInsufficientPool
}
