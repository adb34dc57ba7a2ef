package zulipsync

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamsync-project/teamsync/internal/engine"
	"github.com/teamsync-project/teamsync/internal/observability"
	"github.com/teamsync-project/teamsync/internal/utils"
)

// fakeZulip keeps groups and streams in memory and implements Client.
type fakeZulip struct {
	groups  map[string]*GroupState
	streams map[string]*GroupState
	nextID  int64
}

func newFakeZulip() *fakeZulip {
	return &fakeZulip{
		groups:  map[string]*GroupState{},
		streams: map[string]*GroupState{},
		nextID:  100,
	}
}

func (f *fakeZulip) UserGroups(ctx context.Context) ([]*GroupState, error) {
	groups := []*GroupState{}
	for _, g := range f.groups {
		groups = append(groups, g)
	}
	return groups, nil
}

func (f *fakeZulip) CreateUserGroup(ctx context.Context, name string, members []int64) error {
	group := NewGroupState(name)
	group.ID = f.nextID
	f.nextID++
	for _, id := range members {
		group.Members[id] = true
	}
	f.groups[name] = group
	return nil
}

func (f *fakeZulip) AddUserGroupMembers(ctx context.Context, groupID int64, members []int64) error {
	for _, g := range f.groups {
		if g.ID == groupID {
			for _, id := range members {
				g.Members[id] = true
			}
		}
	}
	return nil
}

func (f *fakeZulip) RemoveUserGroupMembers(ctx context.Context, groupID int64, members []int64) error {
	for _, g := range f.groups {
		if g.ID == groupID {
			for _, id := range members {
				delete(g.Members, id)
			}
		}
	}
	return nil
}

func (f *fakeZulip) Streams(ctx context.Context) ([]*GroupState, error) {
	streams := []*GroupState{}
	for _, s := range f.streams {
		streams = append(streams, s)
	}
	return streams, nil
}

func (f *fakeZulip) CreateStream(ctx context.Context, name string, subscribers []int64) error {
	stream := NewGroupState(name)
	stream.ID = f.nextID
	f.nextID++
	for _, id := range subscribers {
		stream.Members[id] = true
	}
	f.streams[name] = stream
	return nil
}

func (f *fakeZulip) Subscribe(ctx context.Context, name string, members []int64) error {
	for _, id := range members {
		f.streams[name].Members[id] = true
	}
	return nil
}

func (f *fakeZulip) Unsubscribe(ctx context.Context, name string, members []int64) error {
	for _, id := range members {
		delete(f.streams[name].Members, id)
	}
	return nil
}

func buildModel(t *testing.T) *engine.Model {
	t.Helper()
	fs := memfs.New()
	files := map[string]string{
		"people/alice.toml": `
name = "Alice"
github = "alice"
github-id = 1
zulip-id = 11
`,
		"people/bob.toml": `
name = "Bob"
github = "bob"
github-id = 2
zulip-id = 12
`,
		"teams/lang.toml": `
name = "lang"

[people]
members = ["alice", "bob"]
alumni = []

[[zulip-groups]]
name = "T-lang"

[[zulip-streams]]
name = "t-lang/private"
excluded-people = ["bob"]
`,
	}
	for path, content := range files {
		require.NoError(t, utils.WriteFile(fs, path, []byte(content), 0644))
	}
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

func TestZulipCreateGroupAndStream(t *testing.T) {
	model := buildModel(t)
	remote := newFakeZulip()

	summary := reconcile(t, model, remote, engine.ModeApply)
	assert.False(t, summary.HasFailures())

	require.NotNil(t, remote.groups["T-lang"])
	assert.Equal(t, map[int64]bool{11: true, 12: true}, remote.groups["T-lang"].Members)
	require.NotNil(t, remote.streams["t-lang/private"])
	assert.Equal(t, map[int64]bool{11: true}, remote.streams["t-lang/private"].Members)

	summary = reconcile(t, model, remote, engine.ModePlan)
	assert.Empty(t, summary.Plan)
}

func TestZulipMembershipDiff(t *testing.T) {
	model := buildModel(t)
	remote := newFakeZulip()
	require.NoError(t, remote.CreateUserGroup(context.Background(), "T-lang", []int64{11, 99}))
	require.NoError(t, remote.CreateStream(context.Background(), "t-lang/private", []int64{11}))
	// a group the corpus does not own
	require.NoError(t, remote.CreateUserGroup(context.Background(), "admins", []int64{1}))

	summary := reconcile(t, model, remote, engine.ModePlan)
	require.Len(t, summary.Plan, 2)
	assert.Equal(t, "group/T-lang/add", summary.Plan[0].ID)
	assert.Equal(t, "group/T-lang/remove", summary.Plan[1].ID)

	reconcile(t, model, remote, engine.ModeApply)
	assert.Equal(t, map[int64]bool{11: true, 12: true}, remote.groups["T-lang"].Members)
	assert.Equal(t, map[int64]bool{1: true}, remote.groups["admins"].Members)

	summary = reconcile(t, model, remote, engine.ModePlan)
	assert.Empty(t, summary.Plan)
}
