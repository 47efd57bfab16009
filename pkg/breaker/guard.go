package breaker

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultMaxLoops bounds loop-back traversals within one workflow run.
const DefaultMaxLoops = 100

// ErrLoopLimitExceeded terminates a run that keeps looping back.
var ErrLoopLimitExceeded = errors.New("exceeded maximum loop count")

// LoopGuard counts loop-back traversals per execution so a cyclic runtime
// path (edges re-entered via conditions, not structural cycles) terminates
// deterministically instead of hanging.
type LoopGuard struct {
	mu       sync.Mutex
	counts   map[string]int
	maxLoops int
}

// NewLoopGuard creates a guard. A non-positive maxLoops uses the default.
func NewLoopGuard(maxLoops int) *LoopGuard {
	if maxLoops <= 0 {
		maxLoops = DefaultMaxLoops
	}

	return &LoopGuard{
		counts:   make(map[string]int),
		maxLoops: maxLoops,
	}
}

// CanContinue records one loop-back traversal for the execution and fails
// once the count exceeds the limit.
func (g *LoopGuard) CanContinue(executionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counts[executionID]++

	if g.counts[executionID] > g.maxLoops {
		return fmt.Errorf("execution %s after %d loops: %w", executionID, g.counts[executionID]-1, ErrLoopLimitExceeded)
	}

	return nil
}

// Count returns the traversals recorded for the execution.
func (g *LoopGuard) Count(executionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.counts[executionID]
}

// Release forgets a finished execution so the map does not grow unbounded.
func (g *LoopGuard) Release(executionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.counts, executionID)
}
