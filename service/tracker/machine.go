// Package tracker follows a submitted transaction through the ledger's
// confirmation pipeline until it is confirmed, fails or times out.
package tracker

import (
	"fmt"
	"time"

	solanasvc "github.com/brojonat/candymint/service/solana"
	"github.com/gagliardetto/solana-go"
)

// State is the lifecycle state of a transaction attempt.
type State uint8

const (
	StateSubmitted State = iota
	StatePolling
	StateConfirmed
	StateFailed
	StateTimedOut
)

var stateNames = [...]string{
	StateSubmitted: "submitted",
	StatePolling:   "polling",
	StateConfirmed: "confirmed",
	StateFailed:    "failed",
	StateTimedOut:  "timed_out",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown tracker state %q", b)
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateTimedOut
}

// Attempt is a submitted transaction and what is known about it.
type Attempt struct {
	Signature   solana.Signature `json:"signature"`
	State       State            `json:"state"`
	Code        *uint32          `json:"code,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Polls       int              `json:"polls"`
	SubmittedAt time.Time        `json:"submitted_at"`
	ResolvedAt  time.Time        `json:"resolved_at,omitzero"`
}

// Machine is the deterministic core of the tracker. It holds no clock and
// performs no I/O: callers feed it observation times and status results, so
// the same transitions drive the in-process poll loop and the durable
// workflow.
type Machine struct {
	attempt  Attempt
	deadline time.Time
}

// NewMachine starts tracking sig, submitted at submittedAt, with a timeout
// measured from submission.
func NewMachine(sig solana.Signature, submittedAt time.Time, timeout time.Duration) *Machine {
	return &Machine{
		attempt: Attempt{
			Signature:   sig,
			State:       StateSubmitted,
			SubmittedAt: submittedAt,
		},
		deadline: submittedAt.Add(timeout),
	}
}

// Begin enters Polling.
func (m *Machine) Begin() {
	if m.attempt.State == StateSubmitted {
		m.attempt.State = StatePolling
	}
}

// Deadline is the instant at which the attempt times out.
func (m *Machine) Deadline() time.Time {
	return m.deadline
}

// Remaining returns the time left before the deadline at now, never negative.
func (m *Machine) Remaining(now time.Time) time.Duration {
	return max(m.deadline.Sub(now), 0)
}

// Done reports whether the attempt reached a terminal state.
func (m *Machine) Done() bool {
	return m.attempt.State.Terminal()
}

// Attempt returns a copy of the current attempt.
func (m *Machine) Attempt() Attempt {
	return m.attempt
}

// Observe applies the result of one status query made at now and reports
// whether the attempt is terminal afterwards. A query error leaves the
// attempt polling unless the deadline has passed. Observations on a terminal
// attempt are ignored.
func (m *Machine) Observe(now time.Time, status solanasvc.SignatureStatus, queryErr error) bool {
	if m.Done() {
		return true
	}
	m.Begin()
	m.attempt.Polls++

	if m.Expire(now) {
		return true
	}
	if queryErr != nil {
		return false
	}

	switch status.Kind {
	case solanasvc.StatusSuccess:
		m.resolve(now, StateConfirmed)
	case solanasvc.StatusError:
		m.attempt.Code = status.Code
		m.attempt.Reason = status.Reason
		m.resolve(now, StateFailed)
	}
	return m.Done()
}

// Expire forces TimedOut once now has reached the deadline, regardless of any
// query in flight. It reports whether the attempt is terminal.
func (m *Machine) Expire(now time.Time) bool {
	if m.Done() {
		return true
	}
	if now.Before(m.deadline) {
		return false
	}
	m.attempt.Reason = "no terminal status before the confirmation deadline"
	m.resolve(now, StateTimedOut)
	return true
}

func (m *Machine) resolve(now time.Time, s State) {
	m.attempt.State = s
	m.attempt.ResolvedAt = now
}
