package cardtrivia

import (
	"golang.org/x/time/rate"
	"sync"
	"time"
)

// userCooldowns limits how often each user can start a question. Each
// user gets a single-token limiter refilled once per interval.
type userCooldowns struct {
	interval time.Duration
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// newUserCooldowns returns nil (no cooldown) when interval <= 0
func newUserCooldowns(interval time.Duration) *userCooldowns {
	if interval <= 0 {
		return nil
	}
	return &userCooldowns{
		interval: interval,
		limiters: map[string]*rate.Limiter{},
		now:      time.Now,
	}
}

// Allow reports whether userID may start a question now. If not, it
// also returns how long until they can.
func (c *userCooldowns) Allow(userID string) (bool, time.Duration) {
	if c == nil {
		return true, 0
	}
	return c.allowAt(userID, c.now())
}

func (c *userCooldowns) allowAt(userID string, now time.Time) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune(now)
	limiter, ok := c.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(c.interval), 1)
		c.limiters[userID] = limiter
	}
	if limiter.AllowN(now, 1) {
		return true, 0
	}
	r := limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// Refund gives back the question userID just started, for when it
// never reached them
func (c *userCooldowns) Refund(userID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.limiters, userID)
}

// prune drops limiters that have fully refilled, since they'd behave
// the same as a new one
func (c *userCooldowns) prune(now time.Time) {
	for id, limiter := range c.limiters {
		if limiter.TokensAt(now) >= 1 {
			delete(c.limiters, id)
		}
	}
}
