package graphs

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/defistate/defi-pricing-go/protocols"
)

// mapStateSource adapts a plain state map to StateSource.
type mapStateSource map[common.Address]*protocols.PoolState

func (m mapStateSource) PoolState(addr common.Address) (PoolStateReader, bool) {
	s, ok := m[addr]
	if !ok {
		return nil, false
	}
	return s, true
}

// StateTracker maintains the two kinds of pool state the engine runs on:
// finalized state that verified subgraphs price against, and
// per-block verification state used while a subgraph is still proving
// itself. Verification state graduates to finalized when its block is
// finalized and the pool was marked as belonging to a verified subgraph.
//
// Not safe for concurrent use; GraphManager serializes access.
type StateTracker struct {
	finalized    map[common.Address]*protocols.PoolState
	verification map[common.Address]*poolStateWithBlock

	log Logger
}

// NewStateTracker returns an empty tracker.
func NewStateTracker(log Logger) *StateTracker {
	if log == nil {
		log = nopLogger{}
	}
	return &StateTracker{
		finalized:    make(map[common.Address]*protocols.PoolState),
		verification: make(map[common.Address]*poolStateWithBlock),
		log:          log,
	}
}

// Finalized exposes the finalized state map as a StateSource for price
// queries.
func (t *StateTracker) Finalized() StateSource {
	return mapStateSource(t.finalized)
}

// HasFinalized reports whether finalized state exists for the pool.
func (t *StateTracker) HasFinalized(addr common.Address) bool {
	_, ok := t.finalized[addr]
	return ok
}

// StateForVerification snapshots every pool state usable to verify a
// subgraph at the given block: verification states loaded for that block
// plus finalized states last updated at that block.
func (t *StateTracker) StateForVerification(block uint64) StateSource {
	out := make(mapStateSource)
	for addr, states := range t.verification {
		if s := states.get(block); s != nil {
			out[addr] = s
		}
	}
	for addr, s := range t.finalized {
		if s.LastUpdate() == block {
			out[addr] = s
		}
	}
	return out
}

// MarkStateAsFinalized flags a pool's verification state at the given
// block for promotion when the block is finalized.
func (t *StateTracker) MarkStateAsFinalized(block uint64, pool common.Address) {
	states, ok := t.verification[pool]
	if !ok {
		t.log.Debug("tried to mark a pool without verification state as finalized", "pool", pool)
		return
	}
	states.markFinalized(block)
}

// MissingState returns the pools among the edges that have neither
// verification state at the block nor finalized state updated at the
// block, with their trade directions, so the caller can load them.
func (t *StateTracker) MissingState(block uint64, edges []SubGraphEdge) []PoolPairInfoDirection {
	var out []PoolPairInfoDirection
	for _, e := range edges {
		addr := e.Info.Info.PoolAddr
		if states, ok := t.verification[addr]; ok && states.contains(block) {
			continue
		}
		if s, ok := t.finalized[addr]; ok && s.LastUpdate() == block {
			continue
		}
		out = append(out, e.Info)
	}
	return out
}

// FinalizeBlock drops all verification state cached for the block,
// promoting the states that were marked as finalized.
func (t *StateTracker) FinalizeBlock(block uint64) {
	for pool, states := range t.verification {
		promote, s := states.remove(block)
		if s == nil {
			continue
		}
		if promote {
			t.finalized[pool] = s
		}
		if states.empty() {
			delete(t.verification, pool)
		}
	}
}

// UpdatePoolState routes an incremental delta into the pool's finalized
// state. Unknown pools are ignored; the error from a delta that the pool
// rejects (for example reserves going negative) is returned so the caller
// can isolate the pool.
func (t *StateTracker) UpdatePoolState(addr common.Address, update protocols.PoolUpdate) error {
	s, ok := t.finalized[addr]
	if !ok {
		return nil
	}
	return s.Apply(update)
}

// NewStateForVerification records a freshly-loaded state for a pool that
// some subgraph under verification depends on.
func (t *StateTracker) NewStateForVerification(addr common.Address, state *protocols.PoolState) {
	states, ok := t.verification[addr]
	if !ok {
		states = &poolStateWithBlock{}
		t.verification[addr] = states
	}
	states.add(state)
}

// RemoveState drops all verification state for a pool, used when the pool
// turned out to be bad.
func (t *StateTracker) RemoveState(addr common.Address) {
	delete(t.verification, addr)
}

// poolStateWithBlock holds one pool's verification states, one per block,
// each flagged for promotion or not.
type poolStateWithBlock struct {
	states []trackedState
}

type trackedState struct {
	finalize bool
	state    *protocols.PoolState
}

func (p *poolStateWithBlock) add(state *protocols.PoolState) {
	p.states = append(p.states, trackedState{state: state})
}

func (p *poolStateWithBlock) get(block uint64) *protocols.PoolState {
	for _, ts := range p.states {
		if ts.state.LastUpdate() == block {
			return ts.state
		}
	}
	return nil
}

func (p *poolStateWithBlock) contains(block uint64) bool {
	return p.get(block) != nil
}

func (p *poolStateWithBlock) markFinalized(block uint64) {
	for i := range p.states {
		if p.states[i].state.LastUpdate() == block {
			p.states[i].finalize = true
			return
		}
	}
}

func (p *poolStateWithBlock) remove(block uint64) (bool, *protocols.PoolState) {
	for i, ts := range p.states {
		if ts.state.LastUpdate() == block {
			p.states = append(p.states[:i], p.states[i+1:]...)
			return ts.finalize, ts.state
		}
	}
	return false, nil
}

func (p *poolStateWithBlock) empty() bool { return len(p.states) == 0 }
