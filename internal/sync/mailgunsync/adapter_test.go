package mailgunsync

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

// fakeMailgun keeps lists in memory and implements Client.
type fakeMailgun struct {
	lists map[string]map[string]bool
}

func newFakeMailgun() *fakeMailgun {
	return &fakeMailgun{lists: map[string]map[string]bool{}}
}

func (f *fakeMailgun) ListMembers(ctx context.Context, address string) ([]string, bool, error) {
	members, ok := f.lists[address]
	if !ok {
		return nil, false, nil
	}
	return utils.SortedKeys(members), true, nil
}

func (f *fakeMailgun) CreateList(ctx context.Context, address, description string) error {
	f.lists[address] = map[string]bool{}
	return nil
}

func (f *fakeMailgun) AddMember(ctx context.Context, address, email string) error {
	f.lists[address][email] = true
	return nil
}

func (f *fakeMailgun) RemoveMember(ctx context.Context, address, email string) error {
	delete(f.lists[address], email)
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
email = "alice@example.com"
`,
		"people/bob.toml": `
name = "Bob"
github = "bob"
github-id = 2
email = false
`,
		"teams/lang.toml": `
name = "lang"

[people]
members = ["alice", "bob"]
alumni = []

[[lists]]
address = "lang@example.com"
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

func TestMailListCreateAndSubscribe(t *testing.T) {
	model := buildModel(t)
	remote := newFakeMailgun()

	summary := reconcile(t, model, remote, engine.ModeApply)
	assert.False(t, summary.HasFailures())

	// bob has email = false and never appears
	members, exists, err := remote.ListMembers(context.Background(), "lang@example.com")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, []string{"alice@example.com"}, members)

	summary = reconcile(t, model, remote, engine.ModePlan)
	assert.Empty(t, summary.Plan)
}

func TestMailListMembershipDiff(t *testing.T) {
	model := buildModel(t)
	remote := newFakeMailgun()
	remote.lists["lang@example.com"] = map[string]bool{
		"stale@example.com": true,
	}
	// an unowned list is never touched
	remote.lists["announce@example.com"] = map[string]bool{
		"someone@example.com": true,
	}

	summary := reconcile(t, model, remote, engine.ModePlan)
	require.Len(t, summary.Plan, 2)
	assert.Equal(t, "list/lang@example.com/member/alice@example.com/add", summary.Plan[0].ID)
	assert.Equal(t, "list/lang@example.com/member/stale@example.com/remove", summary.Plan[1].ID)

	reconcile(t, model, remote, engine.ModeApply)
	assert.Equal(t, map[string]bool{"alice@example.com": true}, remote.lists["lang@example.com"])
	assert.Equal(t, map[string]bool{"someone@example.com": true}, remote.lists["announce@example.com"])
}
