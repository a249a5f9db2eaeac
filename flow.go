package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// FlowSnapshot is the display-facing view of one flow: the current state
// machine state, its human-readable label, the terminal error if any, and
// the transaction hash once one is broadcast.
type FlowSnapshot struct {
	IntentID  uuid.UUID    `json:"intentId"`
	State     State        `json:"-"`
	StateName string       `json:"state"`
	Label     string       `json:"label"`
	Err       *FlowError   `json:"error,omitempty"`
	TxHash    *common.Hash `json:"txHash,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// flowTracker enforces the single-in-flight rule per key and publishes
// snapshots. A second submission for an active key fails fast with busy
// rather than queueing; flows for different keys proceed independently.
type flowTracker struct {
	mu    sync.Mutex
	flows map[string]*flowRun
}

type flowRun struct {
	snapshot FlowSnapshot
	cancel   context.CancelFunc
	active   bool
}

func newFlowTracker() *flowTracker {
	return &flowTracker{flows: make(map[string]*flowRun)}
}

// begin marks the key in-flight. Fails with busy when a flow for the same
// key is still running.
func (t *flowTracker) begin(key string, intentID uuid.UUID, cancel context.CancelFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if run, exists := t.flows[key]; exists && run.active {
		return NewFlowError(ErrCodeBusy, "an operation for this account and token is already in flight", nil)
	}
	t.flows[key] = &flowRun{
		snapshot: FlowSnapshot{IntentID: intentID, State: StateIdle, StateName: StateIdle.String(), Label: StateIdle.Label(), UpdatedAt: time.Now()},
		cancel:   cancel,
		active:   true,
	}
	return nil
}

// setState publishes a non-terminal state transition.
func (t *flowTracker) setState(key string, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if run, ok := t.flows[key]; ok {
		run.snapshot.State = s
		run.snapshot.StateName = s.String()
		run.snapshot.Label = s.Label()
		run.snapshot.UpdatedAt = time.Now()
	}
}

// setTx records the broadcast transaction hash for display tracking.
func (t *flowTracker) setTx(key string, txHash common.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if run, ok := t.flows[key]; ok {
		h := txHash
		run.snapshot.TxHash = &h
		run.snapshot.UpdatedAt = time.Now()
	}
}

// finish publishes the terminal state and releases the in-flight slot. The
// snapshot stays readable until the next flow for the key begins.
func (t *flowTracker) finish(key string, s State, flowErr *FlowError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if run, ok := t.flows[key]; ok {
		run.snapshot.State = s
		run.snapshot.StateName = s.String()
		run.snapshot.Label = s.Label()
		run.snapshot.Err = flowErr
		run.snapshot.UpdatedAt = time.Now()
		run.active = false
		run.cancel = nil
	}
}

// active reports whether a flow for the key is currently in flight.
func (t *flowTracker) active(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.flows[key]
	return ok && run.active
}

// snapshot returns the current view of a key's flow.
func (t *flowTracker) snapshot(key string) (FlowSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.flows[key]
	if !ok {
		return FlowSnapshot{}, false
	}
	return run.snapshot, true
}

// cancelRun cancels an in-flight flow's context. Best effort: a transaction
// already broadcast keeps confirming on-chain, only its tracking is dropped.
func (t *flowTracker) cancelRun(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.flows[key]
	if !ok || !run.active || run.cancel == nil {
		return false
	}
	run.cancel()
	return true
}

// asFlowError normalizes any error into the taxonomy for publication.
func asFlowError(err error) *FlowError {
	if err == nil {
		return nil
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return NewFlowError(ErrCodeChainRead, err.Error(), nil)
}
