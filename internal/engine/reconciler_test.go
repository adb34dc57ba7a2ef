package engine

import (
	"bytes"
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamsync-project/teamsync/internal/observability"
)

// fakeAdapter reconciles a map of string -> string; each differing key
// becomes one operation produced by the opFor callback.
type fakeAdapter struct {
	name    string
	current map[string]string
	desired map[string]string
	opFor   func(key, value string) *Operation

	snapshotErr error
}

func (f *fakeAdapter) Name() string {
	return f.name
}

func (f *fakeAdapter) Snapshot(ctx context.Context, feedback observability.RemoteLoadFeedback) (map[string]string, error) {
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return f.current, nil
}

func (f *fakeAdapter) Desired(model *Model) (map[string]string, error) {
	return f.desired, nil
}

func (f *fakeAdapter) Diff(current, desired map[string]string) ([]*Operation, error) {
	plan := []*Operation{}
	CompareEntities(desired, current,
		func(key string, d string, c string) bool { return d == c },
		func(key string, d string, c string) { plan = append(plan, f.opFor(key, d)) },
		func(key string, d string, c string) {},
		func(key string, d string, c string) { plan = append(plan, f.opFor(key, d)) },
	)
	sort.Slice(plan, func(i, j int) bool { return plan[i].ID < plan[j].ID })
	return plan, nil
}

func quickPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestReconcilePlanMode(t *testing.T) {
	applied := 0
	adapter := &fakeAdapter{
		name:    "fake",
		current: map[string]string{},
		desired: map[string]string{"a": "1"},
		opFor: func(key, value string) *Operation {
			return &Operation{
				ID:          "set/" + key,
				Kind:        OpCreate,
				Description: "set " + key,
				Apply: func(ctx context.Context) error {
					applied++
					return nil
				},
			}
		},
	}

	out := &bytes.Buffer{}
	summary, err := Reconcile[map[string]string](context.Background(), adapter, nil, ModePlan, quickPolicy(), out, &observability.NoopFeedback{})
	require.NoError(t, err)

	// no closure is invoked in plan mode
	assert.Equal(t, 0, applied)
	assert.Len(t, summary.Plan, 1)
	assert.Contains(t, out.String(), "set a")
}

func TestReconcileApplyConverges(t *testing.T) {
	remote := map[string]string{"a": "stale"}
	adapter := &fakeAdapter{
		name:    "fake",
		current: remote,
		desired: map[string]string{"a": "1", "b": "2"},
	}
	adapter.opFor = func(key, value string) *Operation {
		return &Operation{
			ID:          "set/" + key,
			Kind:        OpUpdate,
			Description: "set " + key,
			Apply: func(ctx context.Context) error {
				remote[key] = value
				return nil
			},
		}
	}

	out := &bytes.Buffer{}
	summary, err := Reconcile[map[string]string](context.Background(), adapter, nil, ModeApply, quickPolicy(), out, &observability.NoopFeedback{})
	require.NoError(t, err)
	assert.Len(t, summary.Applied, 2)
	assert.False(t, summary.HasFailures())

	// plan convergence: a second plan against the applied remote is empty
	summary, err = Reconcile[map[string]string](context.Background(), adapter, nil, ModePlan, quickPolicy(), out, &observability.NoopFeedback{})
	require.NoError(t, err)
	assert.Empty(t, summary.Plan)
}

func TestReconcileRetriesTransientErrors(t *testing.T) {
	attempts := 0
	adapter := &fakeAdapter{
		name:    "fake",
		current: map[string]string{},
		desired: map[string]string{"a": "1"},
		opFor: func(key, value string) *Operation {
			return &Operation{
				ID:          "set/" + key,
				Kind:        OpCreate,
				Description: "set " + key,
				Apply: func(ctx context.Context) error {
					attempts++
					if attempts < 3 {
						return Transientf("rate limited")
					}
					return nil
				},
			}
		},
	}

	summary, err := Reconcile[map[string]string](context.Background(), adapter, nil, ModeApply, quickPolicy(), &bytes.Buffer{}, &observability.NoopFeedback{})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, summary.Applied, 1)
	assert.False(t, summary.HasFailures())
}

func TestReconcileTransientBudgetExhausted(t *testing.T) {
	adapter := &fakeAdapter{
		name:    "fake",
		current: map[string]string{},
		desired: map[string]string{"a": "1"},
		opFor: func(key, value string) *Operation {
			return &Operation{
				ID:          "set/" + key,
				Kind:        OpCreate,
				Description: "set " + key,
				Apply: func(ctx context.Context) error {
					return Transientf("still rate limited")
				},
			}
		},
	}

	summary, err := Reconcile[map[string]string](context.Background(), adapter, nil, ModeApply, quickPolicy(), &bytes.Buffer{}, &observability.NoopFeedback{})
	require.NoError(t, err)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, OpFatalFailed, summary.Failed[0].Status())
}

func TestReconcilePartialFailure(t *testing.T) {
	remote := map[string]string{}
	adapter := &fakeAdapter{
		name:    "fake",
		current: remote,
		desired: map[string]string{"bad": "1", "dependent": "2", "independent": "3"},
	}
	adapter.opFor = func(key, value string) *Operation {
		op := &Operation{
			ID:          "set/" + key,
			Kind:        OpCreate,
			Description: "set " + key,
			Apply: func(ctx context.Context) error {
				if key == "bad" {
					return Fatalf("boom")
				}
				remote[key] = value
				return nil
			},
		}
		if key == "dependent" {
			op.Requires = []string{"set/bad"}
		}
		return op
	}

	summary, err := Reconcile[map[string]string](context.Background(), adapter, nil, ModeApply, quickPolicy(), &bytes.Buffer{}, &observability.NoopFeedback{})
	require.NoError(t, err)

	// the fatal op is recorded, its dependent is blocked, the
	// independent op is still applied
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, "set/bad", summary.Failed[0].ID)
	require.Len(t, summary.Blocked, 1)
	assert.Equal(t, "set/dependent", summary.Blocked[0].ID)
	assert.Equal(t, OpBlocked, summary.Blocked[0].Status())
	assert.Equal(t, "3", remote["independent"])
	assert.True(t, summary.HasFailures())
}

func TestReconcileCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	remote := map[string]string{}
	adapter := &fakeAdapter{
		name:    "fake",
		current: remote,
		desired: map[string]string{"a": "1", "b": "2", "c": "3"},
	}
	adapter.opFor = func(key, value string) *Operation {
		return &Operation{
			ID:          "set/" + key,
			Kind:        OpCreate,
			Description: "set " + key,
			Apply: func(ctx context.Context) error {
				// cancel while the first operation is in flight: it
				// still completes, the rest are blocked
				cancel()
				remote[key] = value
				return nil
			},
		}
	}

	summary, err := Reconcile[map[string]string](ctx, adapter, nil, ModeApply, quickPolicy(), &bytes.Buffer{}, &observability.NoopFeedback{})
	require.NoError(t, err)
	assert.Len(t, summary.Applied, 1)
	assert.Len(t, summary.Blocked, 2)
}

func TestReconcileSnapshotError(t *testing.T) {
	adapter := &fakeAdapter{
		name:        "fake",
		snapshotErr: Transientf("remote read failed"),
		desired:     map[string]string{},
		opFor:       func(key, value string) *Operation { return nil },
	}

	_, err := Reconcile[map[string]string](context.Background(), adapter, nil, ModeApply, quickPolicy(), &bytes.Buffer{}, &observability.NoopFeedback{})
	require.Error(t, err)
	var snapErr *SnapshotError
	assert.ErrorAs(t, err, &snapErr)
}

func TestSortPlanOrdersKinds(t *testing.T) {
	plan := []*Operation{
		{ID: "1", Kind: OpDelete},
		{ID: "2", Kind: OpCreate},
		{ID: "3", Kind: OpUpdate},
		{ID: "4", Kind: OpCreate},
	}
	sortPlan(plan)
	assert.Equal(t, []string{"2", "4", "3", "1"}, []string{plan[0].ID, plan[1].ID, plan[2].ID, plan[3].ID})
}
