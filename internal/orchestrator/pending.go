package orchestrator

import (
	"sync"

	"github.com/testbench-io/testbench/internal/wire"
)

// pendingTable maps outstanding unit ids to the channel their waiter blocks
// on. Each entry is removed exactly once: by the first completion, or by
// the waiter giving up.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan wire.RawResult
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[string]chan wire.RawResult)}
}

func (p *pendingTable) register(unitID string) <-chan wire.RawResult {
	ch := make(chan wire.RawResult, 1)
	p.mu.Lock()
	p.waiters[unitID] = ch
	p.mu.Unlock()
	return ch
}

// complete hands raw to the waiter of unitID. It reports false when nobody
// is waiting any more (late or duplicate result).
func (p *pendingTable) complete(unitID string, raw wire.RawResult) bool {
	p.mu.Lock()
	ch, ok := p.waiters[unitID]
	if ok {
		delete(p.waiters, unitID)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- raw
	return true
}

func (p *pendingTable) remove(unitID string) {
	p.mu.Lock()
	delete(p.waiters, unitID)
	p.mu.Unlock()
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
