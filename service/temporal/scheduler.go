package temporal

import (
	"context"
	"time"
)

// Scheduler manages the Temporal schedule that periodically refreshes a
// candy machine's snapshot.
type Scheduler interface {
	// UpsertRefreshSchedule creates the refresh schedule for a machine, or
	// updates its interval when it already exists.
	UpsertRefreshSchedule(ctx context.Context, machine string, interval time.Duration) error

	// DeleteRefreshSchedule stops refreshing a machine.
	DeleteRefreshSchedule(ctx context.Context, machine string) error
}

// ScheduleID returns the Temporal schedule ID for a machine.
func ScheduleID(machine string) string {
	return "refresh-snapshot-" + machine
}

// MintWorkflowID returns the workflow ID of a wallet's durable mint. One
// wallet has at most one mint in flight: starting another while the first
// runs is rejected by Temporal.
func MintWorkflowID(machine, wallet string) string {
	return "mint-" + machine + "-" + wallet
}
