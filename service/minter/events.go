package minter

import (
	"context"
	"fmt"
	"time"

	"github.com/brojonat/candymint/service/candymachine"
)

// EventType names a presentation event.
type EventType string

const (
	EventSnapshotUpdated    EventType = "snapshot_updated"
	EventEligibilityUpdated EventType = "eligibility_updated"
	EventMintOutcome        EventType = "mint_outcome"
)

// Event is the presentation contract. Exactly one payload is set, matching
// Type.
type Event struct {
	Type      EventType                  `json:"type"`
	Machine   string                     `json:"machine"`
	Wallet    string                     `json:"wallet,omitempty"`
	Snapshot  *candymachine.MintSnapshot `json:"snapshot,omitempty"`
	Decision  *candymachine.Decision     `json:"decision,omitempty"`
	Outcome   *Outcome                   `json:"outcome,omitempty"`
	EmittedAt time.Time                  `json:"emitted_at"`
}

// Validate checks that the payload matches the event type.
func (e *Event) Validate() error {
	if e.Machine == "" {
		return fmt.Errorf("event %s has no machine", e.Type)
	}
	var ok bool
	switch e.Type {
	case EventSnapshotUpdated:
		ok = e.Snapshot != nil && e.Decision == nil && e.Outcome == nil
	case EventEligibilityUpdated:
		ok = e.Decision != nil && e.Snapshot == nil && e.Outcome == nil
	case EventMintOutcome:
		ok = e.Outcome != nil && e.Snapshot == nil && e.Decision == nil
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if !ok {
		return fmt.Errorf("event %s carries the wrong payload", e.Type)
	}
	return nil
}

// SnapshotUpdated builds the event announcing a new snapshot.
func SnapshotUpdated(s candymachine.MintSnapshot, at time.Time) *Event {
	return &Event{
		Type:      EventSnapshotUpdated,
		Machine:   s.Address.String(),
		Snapshot:  &s,
		EmittedAt: at,
	}
}

// EligibilityUpdated builds the event announcing a caller's decision. wallet
// is empty for an anonymous caller.
func EligibilityUpdated(machine, wallet string, d candymachine.Decision, at time.Time) *Event {
	return &Event{
		Type:      EventEligibilityUpdated,
		Machine:   machine,
		Wallet:    wallet,
		Decision:  &d,
		EmittedAt: at,
	}
}

// MintOutcomeEvent builds the event announcing the end of a mint attempt.
func MintOutcomeEvent(machine, wallet string, o Outcome, at time.Time) *Event {
	return &Event{
		Type:      EventMintOutcome,
		Machine:   machine,
		Wallet:    wallet,
		Outcome:   &o,
		EmittedAt: at,
	}
}

// Publisher delivers presentation events.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event *Event) error

func (f PublisherFunc) Publish(ctx context.Context, event *Event) error {
	return f(ctx, event)
}
