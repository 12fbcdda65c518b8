package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/logger"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/events"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb"
)

// ErrBadTransition is returned when a Transition precondition fails.
var ErrBadTransition = errors.New("invalid status transition")

// ErrResetActive is returned when Reset is called while the workflow is
// actively converting, validating, or ingesting an upload.
var ErrResetActive = errors.New("cannot reset while workflow is active")

// MaxHistory is the rolling conversation-history window. Appends beyond
// it drop the oldest message.
const MaxHistory = 50

// Store is the single owner of the Session value.
//
// Locking discipline:
//   - mu (status lock) guards every session field and is held only around
//     a single Transition, never across an external call.
//   - convMu (conversation lock) guards only the history slice.
//   - The two locks are never held simultaneously.
//   - llmInflight is the chat single-flight guard; it is a flag, not a
//     lock, so concurrent chat callers fail fast instead of queueing.
type Store struct {
	mu      sync.Mutex
	session Session

	convMu  sync.Mutex
	history []Message

	llmInflight atomic.Bool

	bus *events.Bus
}

// NewStore creates a Store holding a fresh idle session.
func NewStore(bus *events.Bus) *Store {
	return &Store{
		session: newSession(),
		bus:     bus,
	}
}

func newSession() Session {
	now := time.Now().UTC()
	return Session{
		ID:             uuid.New().String(),
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         StatusIdle,
		Phase:          PhaseIdle,
		MetadataPolicy: MetadataNotAsked,
	}
}

// Snapshot returns a deep copy of the session, safe for concurrent
// readers. Downstream logic always operates on snapshots.
func (st *Store) Snapshot() Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session.clone()
}

// Transition verifies the session status equals from (or from is
// StatusAny), applies mutate to the live session, sets the new status and
// UpdatedAt, and publishes a status_update event. mutate may be nil.
//
// The status lock is held for the whole of mutate, so mutate must never
// call out of the package or block.
func (st *Store) Transition(from, to Status, mutate func(*Session)) error {
	st.mu.Lock()
	if from != StatusAny && st.session.Status != from {
		actual := st.session.Status
		st.mu.Unlock()
		return fmt.Errorf("%w: expected %s, session is %s (target %s)", ErrBadTransition, from, actual, to)
	}
	if mutate != nil {
		mutate(&st.session)
	}
	st.session.Status = to
	st.session.UpdatedAt = time.Now().UTC()
	update := events.StatusUpdate{Status: string(to), Phase: string(st.session.Phase)}
	st.mu.Unlock()

	logger.Debug("session transition",
		logger.KeyStatus, string(to),
		logger.KeyPhase, update.Phase,
	)
	st.bus.Publish(events.Event{Kind: events.KindStatusUpdate, Payload: update})
	return nil
}

// Mutate applies mutate to the live session without changing status.
// Used for field updates (metadata persistence, checksum recording) that
// are not status transitions.
func (st *Store) Mutate(mutate func(*Session)) {
	st.mu.Lock()
	mutate(&st.session)
	st.session.UpdatedAt = time.Now().UTC()
	st.mu.Unlock()
}

// SetValidationResult stores the validation report and outcome
// atomically. It does not change the session status; the caller drives
// the follow-up transition.
func (st *Store) SetValidationResult(report nwb.ValidationReport, outcome nwb.Outcome) {
	st.mu.Lock()
	reportCopy := report
	st.session.ValidationReport = &reportCopy
	st.session.ValidationOutcome = outcome
	st.session.UpdatedAt = time.Now().UTC()
	st.mu.Unlock()
}

// AppendMessage appends one conversation turn, enforcing the rolling
// window, and mirrors it onto the event bus.
func (st *Store) AppendMessage(role, content string) {
	st.convMu.Lock()
	st.history = append(st.history, Message{Role: role, Content: content})
	if len(st.history) > MaxHistory {
		st.history = append(st.history[:0], st.history[len(st.history)-MaxHistory:]...)
	}
	st.convMu.Unlock()

	st.bus.Publish(events.Event{
		Kind:    events.KindConversationMessage,
		Payload: events.ConversationMessage{Role: role, Content: content},
	})
}

// HistorySnapshot returns a copy of the conversation history. Iteration
// always uses snapshots, never the live slice.
func (st *Store) HistorySnapshot() []Message {
	st.convMu.Lock()
	defer st.convMu.Unlock()
	return append([]Message(nil), st.history...)
}

// HistoryLen returns the current history length.
func (st *Store) HistoryLen() int {
	st.convMu.Lock()
	defer st.convMu.Unlock()
	return len(st.history)
}

// Reset zeroes the session to a fresh idle value and clears the
// conversation history, then publishes a reset event. It is rejected
// while the workflow is actively processing.
func (st *Store) Reset() error {
	st.mu.Lock()
	if st.session.Status.InFlight() {
		status := st.session.Status
		st.mu.Unlock()
		return fmt.Errorf("%w: status is %s", ErrResetActive, status)
	}
	st.session = newSession()
	st.mu.Unlock()

	st.convMu.Lock()
	st.history = nil
	st.convMu.Unlock()

	logger.Info("session reset")
	st.bus.Publish(events.Event{Kind: events.KindReset})
	return nil
}

// TryBeginLLM acquires the chat single-flight guard. It never blocks:
// callers that lose the race return busy to the client immediately.
func (st *Store) TryBeginLLM() bool {
	return st.llmInflight.CompareAndSwap(false, true)
}

// EndLLM releases the chat single-flight guard.
func (st *Store) EndLLM() {
	st.llmInflight.Store(false)
}

// LLMInFlight reports whether a chat pipeline currently holds the guard.
func (st *Store) LLMInFlight() bool {
	return st.llmInflight.Load()
}

// Events returns the event bus the store publishes on, so agents can
// publish progress and report events without a second wiring path.
func (st *Store) Events() *events.Bus {
	return st.bus
}
