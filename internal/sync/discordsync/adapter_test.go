package discordsync

import (
	"bytes"
	"context"
	"strconv"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamsync-project/teamsync/internal/engine"
	"github.com/teamsync-project/teamsync/internal/observability"
	"github.com/teamsync-project/teamsync/internal/utils"
)

type fakeDiscord struct {
	roles  map[string]*RoleState
	nextID int
}

func newFakeDiscord() *fakeDiscord {
	return &fakeDiscord{roles: map[string]*RoleState{}, nextID: 1}
}

func (f *fakeDiscord) Roles(ctx context.Context) ([]*RoleState, error) {
	roles := []*RoleState{}
	for _, r := range f.roles {
		roles = append(roles, r)
	}
	return roles, nil
}

func (f *fakeDiscord) CreateRole(ctx context.Context, name, color string) error {
	f.roles[name] = &RoleState{ID: strconv.Itoa(f.nextID), Name: name, Color: color}
	f.nextID++
	return nil
}

func (f *fakeDiscord) UpdateRole(ctx context.Context, id, name, color string) error {
	for _, r := range f.roles {
		if r.ID == id {
			r.Name = name
			r.Color = color
		}
	}
	return nil
}

func buildModel(t *testing.T) *engine.Model {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, utils.WriteFile(fs, "teams/lang.toml", []byte(`
name = "lang"

[people]
alumni = []

[[chat-roles]]
name = "team-lang"
color = "#ff0000"
`), 0644))
	corpus := engine.NewCorpus()
	logs := observability.NewLogCollection()
	corpus.LoadAndValidate(fs, logs)
	require.False(t, logs.HasErrors(), "corpus errors: %v", logs.Errors)
	return engine.BuildModel(corpus)
}

func reconcile(t *testing.T, model *engine.Model, client Client, mode engine.Mode) *engine.Summary {
	t.Helper()
	adapter := NewAdapter(model, client)
	summary, err := engine.Reconcile[*Snapshot](context.Background(), adapter, model, mode,
		engine.RetryPolicy{MaxAttempts: 1}, &bytes.Buffer{}, &observability.NoopFeedback{})
	require.NoError(t, err)
	return summary
}

func TestRoleCreate(t *testing.T) {
	model := buildModel(t)
	remote := newFakeDiscord()

	summary := reconcile(t, model, remote, engine.ModeApply)
	assert.False(t, summary.HasFailures())
	require.NotNil(t, remote.roles["team-lang"])
	assert.Equal(t, "#ff0000", remote.roles["team-lang"].Color)

	summary = reconcile(t, model, remote, engine.ModePlan)
	assert.Empty(t, summary.Plan)
}

func TestRoleColorChange(t *testing.T) {
	model := buildModel(t)
	remote := newFakeDiscord()
	require.NoError(t, remote.CreateRole(context.Background(), "team-lang", "#00ff00"))
	// an unowned role is never touched
	require.NoError(t, remote.CreateRole(context.Background(), "moderators", "#0000ff"))

	summary := reconcile(t, model, remote, engine.ModePlan)
	require.Len(t, summary.Plan, 1)
	assert.Equal(t, "role/team-lang/update", summary.Plan[0].ID)

	reconcile(t, model, remote, engine.ModeApply)
	assert.Equal(t, "#ff0000", remote.roles["team-lang"].Color)
	assert.Equal(t, "#0000ff", remote.roles["moderators"].Color)
}
