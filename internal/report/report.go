// Package report defines the immutable per-node outcome snapshot produced
// by one evaluation pass. Consumers read it to render status; the engine
// never mutates a report after it is built.
package report

import (
	"time"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/nodeid"
)

// Status is the outcome variant recorded for a node.
type Status int

const (
	Succeeded Status = iota
	Failed
	Skipped
)

// String implements fmt.Stringer for status rendering.
func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// SkipReason explains why a node was not executed.
type SkipReason int

const (
	NotSkipped SkipReason = iota
	MissingInput
	UpstreamFailed
	UpstreamSkipped
	Cancelled
)

// String implements fmt.Stringer for reason rendering.
func (r SkipReason) String() string {
	switch r {
	case NotSkipped:
		return ""
	case MissingInput:
		return "missing required input"
	case UpstreamFailed:
		return "upstream dependency failed"
	case UpstreamSkipped:
		return "upstream dependency skipped"
	case Cancelled:
		return "evaluation cancelled"
	default:
		return "unknown"
	}
}

// Outcome records the result for a single node in one pass.
type Outcome struct {
	Status Status

	// Values holds the per-output-port values when Status is Succeeded.
	// The map is shared with the node cache and must be treated as read-only.
	Values map[string]cty.Value

	// Error carries the failure description when Status is Failed.
	Error string

	// Reason explains a Skipped status.
	Reason SkipReason

	// FromCache is true when the node was served from its cache without
	// invoking the operation.
	FromCache bool
}

// Report is the full outcome snapshot for one evaluation pass, covering
// every node in the graph.
type Report struct {
	runID      string
	startedAt  time.Time
	finishedAt time.Time
	outcomes   map[nodeid.ID]Outcome
}

// RunID returns the unique identifier of the evaluation pass.
func (r *Report) RunID() string { return r.runID }

// StartedAt returns the time the pass began.
func (r *Report) StartedAt() time.Time { return r.startedAt }

// FinishedAt returns the time the pass completed.
func (r *Report) FinishedAt() time.Time { return r.finishedAt }

// Outcome returns the recorded outcome for a node.
func (r *Report) Outcome(id nodeid.ID) (Outcome, bool) {
	out, ok := r.outcomes[id]
	return out, ok
}

// NodeIDs returns every covered node in ascending identifier order.
func (r *Report) NodeIDs() []nodeid.ID {
	ids := make([]nodeid.ID, 0, len(r.outcomes))
	for id := range r.outcomes {
		ids = append(ids, id)
	}
	return nodeid.Sorted(ids)
}

// Len returns the number of nodes covered by the report.
func (r *Report) Len() int { return len(r.outcomes) }

// Builder accumulates outcomes during a pass and seals them into a Report.
type Builder struct {
	runID     string
	startedAt time.Time
	outcomes  map[nodeid.ID]Outcome
}

// NewBuilder starts a report for a new pass, stamping it with a fresh run id.
func NewBuilder() *Builder {
	return &Builder{
		runID:     uuid.NewString(),
		startedAt: time.Now(),
		outcomes:  make(map[nodeid.ID]Outcome),
	}
}

// RunID returns the identifier stamped on the pass being built.
func (b *Builder) RunID() string { return b.runID }

// Set records the outcome for a node, replacing any previous value.
func (b *Builder) Set(id nodeid.ID, out Outcome) {
	b.outcomes[id] = out
}

// Get returns an already-recorded outcome, used by the scheduler to consult
// upstream results mid-pass.
func (b *Builder) Get(id nodeid.ID) (Outcome, bool) {
	out, ok := b.outcomes[id]
	return out, ok
}

// Build seals the accumulated outcomes. The builder must not be used after.
func (b *Builder) Build() *Report {
	rep := &Report{
		runID:      b.runID,
		startedAt:  b.startedAt,
		finishedAt: time.Now(),
		outcomes:   b.outcomes,
	}
	b.outcomes = nil
	return rep
}
