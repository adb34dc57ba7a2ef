package engine

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/teamsync-project/teamsync/internal/observability"
	"go.opentelemetry.io/otel"
)

type OpKind int

// Kinds order the plan: creates never observe a stale identifier and
// deletes happen last.
const (
	OpCreate OpKind = iota
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

type OpStatus int

const (
	OpPending OpStatus = iota
	OpInFlight
	OpDone
	OpTransientFailed
	OpFatalFailed
	OpBlocked
)

func (s OpStatus) String() string {
	switch s {
	case OpPending:
		return "pending"
	case OpInFlight:
		return "in_flight"
	case OpDone:
		return "done"
	case OpTransientFailed:
		return "transient_failed"
	case OpFatalFailed:
		return "fatal_failed"
	case OpBlocked:
		return "blocked"
	}
	return "unknown"
}

/*
 * Operation is a single remote mutation: a kind, a human-readable
 * description (the dry-run output), an idempotent closure, and the IDs
 * of operations that must have succeeded before this one may run.
 */
type Operation struct {
	ID          string
	Kind        OpKind
	Description string
	Requires    []string
	Apply       func(ctx context.Context) error

	status   OpStatus
	attempts int
	err      error
}

func (o *Operation) Status() OpStatus {
	return o.status
}

func (o *Operation) Err() error {
	return o.err
}

/*
 * Adapter translates the materialised model into a reconciliation of
 * one remote service. All three operations share the snapshot type S,
 * so that Diff is purely a function of the (current, desired) pair.
 */
type Adapter[S any] interface {
	Name() string
	Snapshot(ctx context.Context, feedback observability.RemoteLoadFeedback) (S, error)
	Desired(model *Model) (S, error)
	Diff(current S, desired S) ([]*Operation, error)
}

type Mode int

const (
	ModePlan Mode = iota
	ModeApply
)

// RetryPolicy bounds retries of transient errors. Delays grow
// exponentially from BaseDelay, capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	delay := p.BaseDelay << attempt
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return delay
}

// Summary is the outcome of one adapter run.
type Summary struct {
	Adapter string
	Plan    []*Operation
	Applied []*Operation
	Failed  []*Operation
	Blocked []*Operation
}

// HasFailures reports whether any operation was fatal or blocked.
func (s *Summary) HasFailures() bool {
	return len(s.Failed) > 0 || len(s.Blocked) > 0
}

// Render writes the plan and, after an apply, the failure section.
func (s *Summary) Render(out io.Writer) {
	if len(s.Plan) == 0 {
		fmt.Fprintf(out, "[%s] nothing to do\n", s.Adapter)
		return
	}
	for _, op := range s.Plan {
		fmt.Fprintf(out, "[%s] %s\n", s.Adapter, op.Description)
	}
	if s.HasFailures() {
		fmt.Fprintf(out, "[%s] failures:\n", s.Adapter)
		for _, op := range s.Failed {
			fmt.Fprintf(out, "[%s] - %s: %s\n", s.Adapter, op.Description, op.err)
		}
		for _, op := range s.Blocked {
			fmt.Fprintf(out, "[%s] - %s: blocked\n", s.Adapter, op.Description)
		}
	}
}

/*
 * Reconcile drives one adapter through plan and (optionally) apply:
 *
 *   plan <- adapter.Diff(adapter.Snapshot(), adapter.Desired(model))
 *
 * In plan mode the descriptions are written to out in plan order and
 * nothing is applied. In apply mode operations run sequentially in
 * plan order; transient failures are retried with exponential backoff,
 * fatal failures block their dependents and the run continues with the
 * remaining independent operations.
 */
func Reconcile[S any](ctx context.Context, adapter Adapter[S], model *Model, mode Mode, policy RetryPolicy, out io.Writer, feedback observability.RemoteLoadFeedback) (*Summary, error) {
	tracer := otel.Tracer("teamsync")
	ctx, span := tracer.Start(ctx, "reconcile "+adapter.Name())
	defer span.End()

	summary := &Summary{Adapter: adapter.Name()}

	current, err := adapter.Snapshot(ctx, feedback)
	if err != nil {
		if IsCredentialError(err) {
			return summary, err
		}
		return summary, &SnapshotError{Adapter: adapter.Name(), Err: err}
	}

	desired, err := adapter.Desired(model)
	if err != nil {
		return summary, fmt.Errorf("desired state for %s: %w", adapter.Name(), err)
	}

	plan, err := adapter.Diff(current, desired)
	if err != nil {
		return summary, fmt.Errorf("diff for %s: %w", adapter.Name(), err)
	}
	sortPlan(plan)
	summary.Plan = plan

	if mode == ModePlan {
		summary.Render(out)
		return summary, nil
	}

	failed := map[string]bool{}

	for _, op := range plan {
		if blockedBy(op, failed) || ctx.Err() != nil {
			op.status = OpBlocked
			summary.Blocked = append(summary.Blocked, op)
			failed[op.ID] = true
			continue
		}

		applyWithRetry(ctx, op, policy)

		switch op.status {
		case OpDone:
			summary.Applied = append(summary.Applied, op)
			logrus.WithField("adapter", adapter.Name()).Infof("applied: %s", op.Description)
		case OpFatalFailed:
			failed[op.ID] = true
			summary.Failed = append(summary.Failed, op)
			logrus.WithField("adapter", adapter.Name()).Errorf("failed: %s: %s", op.Description, op.err)
		}
	}

	summary.Render(out)
	return summary, nil
}

// blockedBy reports whether a prerequisite of op has failed or was
// itself blocked. A prerequisite that is not part of the plan is
// assumed already satisfied on the remote.
func blockedBy(op *Operation, failed map[string]bool) bool {
	for _, req := range op.Requires {
		if failed[req] {
			return true
		}
	}
	return false
}

func applyWithRetry(ctx context.Context, op *Operation, policy RetryPolicy) {
	op.status = OpInFlight
	for {
		op.attempts++
		err := op.Apply(ctx)
		if err == nil {
			op.status = OpDone
			return
		}

		if !IsTransient(err) || op.attempts >= policy.MaxAttempts {
			op.status = OpFatalFailed
			op.err = err
			return
		}

		op.status = OpTransientFailed
		op.err = err
		delay := policy.delay(op.attempts - 1)
		logrus.Debugf("transient failure (%s), retrying in %s: %s", op.Description, delay, err)

		select {
		case <-ctx.Done():
			// the in-flight operation completed its last attempt;
			// give up retrying and let the caller block the rest
			op.status = OpFatalFailed
			op.err = fmt.Errorf("%w (cancelled: %s)", err, ctx.Err())
			return
		case <-time.After(delay):
		}
		op.status = OpInFlight
	}
}

// sortPlan orders the plan create before update before delete while
// keeping the adapter's dependency order within each kind.
func sortPlan(plan []*Operation) {
	sort.SliceStable(plan, func(i, j int) bool {
		return plan[i].Kind < plan[j].Kind
	})
}
