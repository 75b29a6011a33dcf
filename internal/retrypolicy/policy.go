// Package retrypolicy holds the per-channel scheduled-retry backoff tables
// and the due/not-due decision applied by the error-queue scheduler.
//
// This is the durable, cross-invocation retry tier: the cursor lives in the
// request's persisted metadata and is compared against wall-clock elapsed
// time, not in-process timers. The in-flight bounded backoff around a single
// gateway call is a separate mechanism (see the sendworker package).
package retrypolicy

import (
	"fmt"
	"time"

	"github.com/evicertia/pn-ec/internal/model"
)

// HardCeiling forces a retry due once this much time has elapsed since the
// last attempt, regardless of the policy table. It bounds worst-case
// staleness and guarantees termination even for a cursor past the table end.
const HardCeiling = 40 * time.Minute

// Table maps a channel to its ordered backoff intervals, in minutes.
// Immutable after load.
type Table map[model.Channel][]int

// FromConfig builds a Table from per-channel configured minute lists.
func FromConfig(policies map[string][]int) Table {
	t := make(Table, len(policies))
	for name, minutes := range policies {
		t[model.Channel(name)] = minutes
	}
	return t
}

// Policy returns the backoff minutes for a channel.
func (t Table) Policy(c model.Channel) []int {
	return t[c]
}

// Advance initializes or advances a request's retry cursor. On the first
// pass the step becomes 0, the channel policy is attached, and the
// last-attempt timestamp is stamped; afterwards only the step increments.
// The step never moves backward.
func (t Table) Advance(state *model.RetryState, c model.Channel, now time.Time) {
	if state.Step == nil {
		step := 0
		state.Step = &step
		state.Policy = t.Policy(c)
		state.LastAttempt = now
		return
	}
	next := *state.Step + 1
	state.Step = &next
}

// Due reports whether enough wall-clock time has elapsed for the cursor's
// current step. A step past the end of the policy table falls back to the
// hard ceiling alone.
func (t Table) Due(state *model.RetryState, now time.Time) (bool, error) {
	if state.Step == nil {
		return false, fmt.Errorf("retry state has no step")
	}

	elapsed := now.Sub(state.LastAttempt)
	if elapsed > HardCeiling {
		return true, nil
	}

	step := *state.Step
	if step >= len(state.Policy) {
		// Table exhausted: only the hard ceiling applies.
		return false, nil
	}

	return elapsed >= time.Duration(state.Policy[step])*time.Minute, nil
}
