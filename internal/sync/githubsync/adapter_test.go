package githubsync

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

type staticSnapshotter struct {
	snapshot *Snapshot
}

func (s *staticSnapshotter) Snapshot(ctx context.Context, scope Scope, feedback observability.RemoteLoadFeedback) (*Snapshot, error) {
	return s.snapshot, nil
}

func buildModel(t *testing.T, files map[string]string) *engine.Model {
	t.Helper()
	fs := memfs.New()
	for path, content := range files {
		require.NoError(t, utils.WriteFile(fs, path, []byte(content), 0644))
	}
	corpus := engine.NewCorpus()
	logs := observability.NewLogCollection()
	corpus.LoadAndValidate(fs, logs)
	require.False(t, logs.HasErrors(), "corpus errors: %v", logs.Errors)
	return engine.BuildModel(corpus)
}

func langCorpus() map[string]string {
	return map[string]string{
		"people/a.toml": `
name = "A"
github = "a"
github-id = 1
`,
		"people/b.toml": `
name = "B"
github = "b"
github-id = 2
`,
		"teams/lang.toml": `
name = "lang"

[people]
leads = ["a"]
members = ["a", "b"]
alumni = []

[github]
orgs = ["rust-lang"]
`,
		"repos/rust-lang/rust.toml": `
org = "rust-lang"
name = "rust"
description = "The compiler"
bots = ["bors"]

[access.teams]
lang = "write"

[[branch-protections]]
pattern = "master"
ci-checks = ["CI"]
merge-bots = ["homu"]
`,
	}
}

// remoteLang builds a remote snapshot already carrying team lang and
// repo rust in their converged state, which tests then perturb.
func remoteLang() *Snapshot {
	snapshot := NewSnapshot("rust-lang")
	snapshot.Teams["lang"] = &TeamState{
		Name:    "lang",
		Slug:    "lang",
		Privacy: "closed",
		Members: map[string]string{"a": RoleMaintainer, "b": RoleMember},
	}
	repo := NewRepoState("rust")
	repo.Description = "The compiler"
	repo.TeamAccess["lang"] = PermissionPush
	repo.Collaborators["bors"] = PermissionPush
	repo.Protections["master"] = &ProtectionState{
		Pattern:            "master",
		Checks:             []string{"CI"},
		PrRequired:         true,
		RequiredApprovals:  0,
		PushAllowances:     []string{"bors"},
	}
	snapshot.Repos["rust"] = repo
	return snapshot
}

func reconcile(t *testing.T, model *engine.Model, remote *Snapshot, mode engine.Mode) *engine.Summary {
	t.Helper()
	adapter := NewAdapter("rust-lang", model, &staticSnapshotter{snapshot: remote}, NewMutableSnapshot(remote))
	summary, err := engine.Reconcile[*Snapshot](context.Background(), adapter, model, mode,
		engine.RetryPolicy{MaxAttempts: 1, BaseDelay: 0, MaxDelay: 0}, &bytes.Buffer{}, &observability.NoopFeedback{})
	require.NoError(t, err)
	return summary
}

func TestDiffAddMember(t *testing.T) {
	// corpus team lang has {a, b}; remote has only {a}
	model := buildModel(t, langCorpus())
	remote := remoteLang()
	delete(remote.Teams["lang"].Members, "b")

	summary := reconcile(t, model, remote, engine.ModePlan)
	require.Len(t, summary.Plan, 1)
	assert.Equal(t, "team/lang/member/b/add", summary.Plan[0].ID)
	assert.Contains(t, summary.Plan[0].Description, "add b to team lang as member")

	// apply converges; re-plan is empty
	reconcile(t, model, remote, engine.ModeApply)
	assert.Equal(t, RoleMember, remote.Teams["lang"].Members["b"])
	summary = reconcile(t, model, remote, engine.ModePlan)
	assert.Empty(t, summary.Plan)
}

func TestDiffPromoteToLead(t *testing.T) {
	// remote has a and b both as plain members
	model := buildModel(t, langCorpus())
	remote := remoteLang()
	remote.Teams["lang"].Members["a"] = RoleMember

	summary := reconcile(t, model, remote, engine.ModePlan)
	require.Len(t, summary.Plan, 1)
	assert.Equal(t, "team/lang/member/a/role", summary.Plan[0].ID)

	reconcile(t, model, remote, engine.ModeApply)
	assert.Equal(t, RoleMaintainer, remote.Teams["lang"].Members["a"])
	assert.Equal(t, RoleMember, remote.Teams["lang"].Members["b"])
}

func TestDiffProtectionSingleFieldUpdate(t *testing.T) {
	files := langCorpus()
	files["repos/rust-lang/rust.toml"] = `
org = "rust-lang"
name = "rust"
description = "The compiler"
bots = ["bors"]

[access.teams]
lang = "write"

[[branch-protections]]
pattern = "master"
ci-checks = ["CI"]
required-approvals = 2
`
	model := buildModel(t, files)
	remote := remoteLang()
	remote.Repos["rust"].Protections["master"].RequiredApprovals = 1

	summary := reconcile(t, model, remote, engine.ModePlan)
	require.Len(t, summary.Plan, 1)
	assert.Equal(t, "repo/rust/protection/master/update", summary.Plan[0].ID)
	// only the changed field appears in the operation
	assert.Contains(t, summary.Plan[0].Description, "(required-approvals)")

	reconcile(t, model, remote, engine.ModeApply)
	assert.Equal(t, 2, remote.Repos["rust"].Protections["master"].RequiredApprovals)
	summary = reconcile(t, model, remote, engine.ModePlan)
	assert.Empty(t, summary.Plan)
}

func TestDiffCreateTeamAndRepo(t *testing.T) {
	model := buildModel(t, langCorpus())
	remote := NewSnapshot("rust-lang")

	summary := reconcile(t, model, remote, engine.ModeApply)
	assert.False(t, summary.HasFailures())

	require.NotNil(t, remote.Teams["lang"])
	assert.Equal(t, RoleMaintainer, remote.Teams["lang"].Members["a"])
	require.NotNil(t, remote.Repos["rust"])
	assert.Equal(t, PermissionPush, remote.Repos["rust"].TeamAccess["lang"])
	require.NotNil(t, remote.Repos["rust"].Protections["master"])
	// merge bot pushes through the protection's allowances
	assert.Equal(t, []string{"bors"}, remote.Repos["rust"].Protections["master"].PushAllowances)
	assert.Equal(t, 0, remote.Repos["rust"].Protections["master"].RequiredApprovals)

	// plan idempotence after convergence
	summary = reconcile(t, model, remote, engine.ModePlan)
	assert.Empty(t, summary.Plan)
}

func TestDiffOwnershipSafety(t *testing.T) {
	model := buildModel(t, langCorpus())
	remote := remoteLang()

	// a remote team and repository the corpus does not own
	remote.Teams["infra"] = &TeamState{
		Name:    "infra",
		Slug:    "infra",
		Privacy: "secret",
		Members: map[string]string{"stranger": RoleMaintainer},
	}
	foreign := NewRepoState("foreign")
	foreign.Protections["main"] = &ProtectionState{Pattern: "main"}
	remote.Repos["foreign"] = foreign

	summary := reconcile(t, model, remote, engine.ModePlan)
	assert.Empty(t, summary.Plan)

	reconcile(t, model, remote, engine.ModeApply)
	assert.Equal(t, map[string]string{"stranger": RoleMaintainer}, remote.Teams["infra"].Members)
	assert.NotNil(t, remote.Repos["foreign"].Protections["main"])
}

func TestDiffStaleProtectionDeleted(t *testing.T) {
	model := buildModel(t, langCorpus())
	remote := remoteLang()
	remote.Repos["rust"].Protections["old-branch"] = &ProtectionState{Pattern: "old-branch"}

	summary := reconcile(t, model, remote, engine.ModePlan)
	require.Len(t, summary.Plan, 1)
	assert.Equal(t, "repo/rust/protection/old-branch/delete", summary.Plan[0].ID)
	assert.Equal(t, engine.OpDelete, summary.Plan[0].Kind)

	reconcile(t, model, remote, engine.ModeApply)
	assert.Nil(t, remote.Repos["rust"].Protections["old-branch"])
}

func TestDiffRemovedMemberAndAccess(t *testing.T) {
	model := buildModel(t, langCorpus())
	remote := remoteLang()
	remote.Teams["lang"].Members["gone"] = RoleMember
	remote.Repos["rust"].TeamAccess["legacy"] = PermissionAdmin
	remote.Repos["rust"].Collaborators["intruder"] = PermissionAdmin

	summary := reconcile(t, model, remote, engine.ModeApply)
	assert.False(t, summary.HasFailures())
	assert.NotContains(t, remote.Teams["lang"].Members, "gone")
	assert.NotContains(t, remote.Repos["rust"].TeamAccess, "legacy")
	assert.NotContains(t, remote.Repos["rust"].Collaborators, "intruder")

	summary = reconcile(t, model, remote, engine.ModePlan)
	assert.Empty(t, summary.Plan)
}

func TestDiffTeamSettingsUpdate(t *testing.T) {
	files := langCorpus()
	files["teams/lang.toml"] = `
name = "lang"

[people]
leads = ["a"]
members = ["a", "b"]
alumni = []

[github]
orgs = ["rust-lang"]

[website]
name = "Language team"
description = "Designs the language"
`
	model := buildModel(t, files)
	remote := remoteLang()

	summary := reconcile(t, model, remote, engine.ModePlan)
	require.Len(t, summary.Plan, 1)
	assert.Equal(t, "team/lang/update", summary.Plan[0].ID)

	reconcile(t, model, remote, engine.ModeApply)
	assert.Equal(t, "Designs the language", remote.Teams["lang"].Description)
}

func TestDiffParentTeamCreatedBeforeChild(t *testing.T) {
	files := langCorpus()
	files["teams/release.toml"] = `
name = "release"

[people]
members = ["a"]
alumni = []

[github]
orgs = ["rust-lang"]
`
	// "apex" sorts before "release" but must be created after it
	files["teams/apex.toml"] = `
name = "apex"
subteam-of = "release"

[people]
members = ["b"]
alumni = []

[github]
orgs = ["rust-lang"]
`
	model := buildModel(t, files)
	remote := remoteLang()

	summary := reconcile(t, model, remote, engine.ModePlan)
	require.Len(t, summary.Plan, 2)
	assert.Equal(t, "team/release/create", summary.Plan[0].ID)
	assert.Equal(t, "team/apex/create", summary.Plan[1].ID)
	assert.Equal(t, []string{"team/release/create"}, summary.Plan[1].Requires)

	reconcile(t, model, remote, engine.ModeApply)
	assert.Equal(t, "release", remote.Teams["apex"].ParentSlug)

	summary = reconcile(t, model, remote, engine.ModePlan)
	assert.Empty(t, summary.Plan)
}

func TestScopeExcludesForeignOrg(t *testing.T) {
	files := langCorpus()
	files["repos/other-org/tool.toml"] = `
org = "other-org"
name = "tool"
description = "A tool elsewhere"
`
	model := buildModel(t, files)

	adapter := NewAdapter("rust-lang", model, &staticSnapshotter{snapshot: NewSnapshot("rust-lang")}, nil)
	assert.True(t, adapter.scope.RepoNames["rust"])
	assert.False(t, adapter.scope.RepoNames["tool"])
}
