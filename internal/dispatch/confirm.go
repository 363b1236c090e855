package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/hopper/internal/observability"
	"github.com/haasonsaas/hopper/pkg/models"
)

// SuspendedPlan holds an execution paused at a confirmation gate: the plan,
// the partial results accumulated so far, and the index of the call waiting
// for the user's answer.
type SuspendedPlan struct {
	// ID is the confirmation ID the user answers with.
	ID string

	// ExecutionID stays stable across suspend and resume so logs and
	// audit records correlate.
	ExecutionID string

	Plan      *models.ExecutionPlan
	Result    *models.PlanExecutionResult
	NextIndex int
	Reason    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the confirmation window has closed.
func (s *SuspendedPlan) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ConfirmationStore keeps suspended plans in memory keyed by confirmation
// ID. Entries expire after the configured TTL; expired entries surface as
// ErrConfirmationExpired on the first access after the deadline.
type ConfirmationStore struct {
	mu      sync.Mutex
	pending map[string]*SuspendedPlan
	ttl     time.Duration
	metrics *observability.Metrics
	now     func() time.Time
}

// NewConfirmationStore creates a store with the given TTL. A zero or
// negative TTL falls back to five minutes. Metrics may be nil.
func NewConfirmationStore(ttl time.Duration, metrics *observability.Metrics) *ConfirmationStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ConfirmationStore{
		pending: make(map[string]*SuspendedPlan),
		ttl:     ttl,
		metrics: metrics,
		now:     time.Now,
	}
}

// Suspend stores the paused execution and returns it with a fresh
// confirmation ID.
func (c *ConfirmationStore) Suspend(executionID string, plan *models.ExecutionPlan, result *models.PlanExecutionResult, nextIndex int, reason string) *SuspendedPlan {
	now := c.now()
	sp := &SuspendedPlan{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		Plan:        plan,
		Result:      result,
		NextIndex:   nextIndex,
		Reason:      reason,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
	}

	c.mu.Lock()
	c.pending[sp.ID] = sp
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SuspendedPlans.Inc()
	}
	return sp
}

// Take removes and returns the suspended plan for id. Expired entries are
// discarded and reported as ErrConfirmationExpired.
func (c *ConfirmationStore) Take(id string) (*SuspendedPlan, error) {
	c.mu.Lock()
	sp, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return nil, ErrConfirmationNotFound
	}
	if c.metrics != nil {
		c.metrics.SuspendedPlans.Dec()
	}
	if sp.Expired(c.now()) {
		return nil, ErrConfirmationExpired
	}
	return sp, nil
}

// Pending returns the suspended plans that have not yet expired, for
// surfacing to the user.
func (c *ConfirmationStore) Pending() []*SuspendedPlan {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*SuspendedPlan, 0, len(c.pending))
	for _, sp := range c.pending {
		if sp.Expired(now) {
			continue
		}
		out = append(out, sp)
	}
	return out
}

// Sweep removes expired entries and returns how many were discarded. It is
// meant to be called periodically so abandoned confirmations do not
// accumulate.
func (c *ConfirmationStore) Sweep() int {
	now := c.now()

	c.mu.Lock()
	var swept int
	for id, sp := range c.pending {
		if sp.Expired(now) {
			delete(c.pending, id)
			swept++
		}
	}
	c.mu.Unlock()

	if c.metrics != nil {
		for i := 0; i < swept; i++ {
			c.metrics.SuspendedPlans.Dec()
		}
	}
	return swept
}
