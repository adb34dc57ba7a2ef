package engine

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamsync-project/teamsync/internal/utils"
)

func buildBasicModel(t *testing.T, extraFiles map[string]string) *Model {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, createBasicCorpus(fs))
	for path, content := range extraFiles {
		require.NoError(t, utils.WriteFile(fs, path, []byte(content), 0644))
	}
	corpus, logs := loadCorpus(t, fs)
	require.False(t, logs.HasErrors(), "corpus errors: %v", logs.Errors)
	return BuildModel(corpus)
}

func TestEffectiveMembers(t *testing.T) {
	t.Run("direct members with lead flag, sorted by handle", func(t *testing.T) {
		model := buildBasicModel(t, nil)

		members := model.EffectiveMembers("lang")
		require.Len(t, members, 3)
		assert.Equal(t, "alice", members[0].Handle)
		assert.True(t, members[0].Lead)
		assert.Equal(t, "bob", members[1].Handle)
		assert.False(t, members[1].Lead)
		assert.Equal(t, []string{"alice"}, model.EffectiveLeads("lang"))
	})

	t.Run("include-all-team-members follows direct membership", func(t *testing.T) {
		// adding a member to lang appears in the next expansion of all
		model := buildBasicModel(t, map[string]string{
			"people/dave.toml": `
name = "Dave"
github = "dave"
github-id = 4
`,
			"teams/lang.toml": `
name = "lang"

[people]
leads = ["alice"]
members = ["alice", "bob", "carol", "dave"]
alumni = []

[github]
orgs = ["rust-lang"]

[[lists]]
address = "lang@example.com"

[permissions]
bors.rust.review = true
`,
		})

		handles := []string{}
		for _, m := range model.EffectiveMembers("all") {
			handles = append(handles, m.Handle)
		}
		assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, handles)
	})

	t.Run("included teams are resolved transitively", func(t *testing.T) {
		model := buildBasicModel(t, map[string]string{
			"teams/outer.toml": `
name = "outer"
[people]
included-teams = ["middle"]
alumni = []
`,
			"teams/middle.toml": `
name = "middle"
[people]
included-teams = ["lang"]
alumni = []
`,
		})

		handles := []string{}
		for _, m := range model.EffectiveMembers("outer") {
			handles = append(handles, m.Handle)
		}
		assert.Equal(t, []string{"alice", "bob", "carol"}, handles)
		// inclusion does not lift leadership
		assert.Empty(t, model.EffectiveLeads("outer"))
	})

	t.Run("expansion monotonicity: adding a member removes nobody elsewhere", func(t *testing.T) {
		before := buildBasicModel(t, nil)
		after := buildBasicModel(t, map[string]string{
			"people/dave.toml": `
name = "Dave"
github = "dave"
github-id = 4
`,
			"teams/extra.toml": `
name = "extra"
[people]
members = ["dave"]
alumni = []
`,
		})

		for _, team := range before.TeamNames() {
			was := map[string]bool{}
			for _, m := range before.EffectiveMembers(team) {
				was[m.Handle] = true
			}
			for _, m := range after.EffectiveMembers(team) {
				delete(was, m.Handle)
			}
			assert.Empty(t, was, "team %s lost members", team)
		}
	})

	t.Run("wg-leads lift", func(t *testing.T) {
		model := buildBasicModel(t, map[string]string{
			"teams/wg-async.toml": `
name = "wg-async"
kind = "working-group"
[people]
leads = ["bob"]
members = ["bob"]
alumni = []
`,
			"teams/wg-leads.toml": `
name = "wg-leads"
[people]
include-wg-leads = true
`,
		})

		handles := []string{}
		for _, m := range model.EffectiveMembers("wg-leads") {
			handles = append(handles, m.Handle)
		}
		assert.Equal(t, []string{"bob"}, handles)
	})
}

func TestEffectivePermissions(t *testing.T) {
	model := buildBasicModel(t, map[string]string{
		"people/dave.toml": `
name = "Dave"
github = "dave"
github-id = 4

[permissions]
perf = true
`,
	})

	t.Run("team permissions reach every effective member", func(t *testing.T) {
		perms := model.PermissionsOf("bob")
		assert.True(t, perms.CanReview("rust"))
		assert.True(t, perms.CanTry("rust")) // review subsumes try
	})

	t.Run("direct permissions are kept", func(t *testing.T) {
		perms := model.PermissionsOf("dave")
		assert.True(t, perms.Has("perf"))
		assert.False(t, perms.CanReview("rust"))
	})
}

func TestRenderMailList(t *testing.T) {
	t.Run("email-disabled person is elided", func(t *testing.T) {
		model := buildBasicModel(t, nil)

		list := model.MailList("lang@example.com")
		require.NotNil(t, list)
		// carol has email = false and does not appear
		assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, list.Members)
	})

	t.Run("extras and exclusions", func(t *testing.T) {
		model := buildBasicModel(t, map[string]string{
			"teams/lang.toml": `
name = "lang"

[people]
leads = ["alice"]
members = ["alice", "bob", "carol"]
alumni = []

[github]
orgs = ["rust-lang"]

[[lists]]
address = "lang@example.com"
extra-emails = ["zzz@example.com"]
excluded-people = ["bob"]

[permissions]
bors.rust.review = true
`,
		})

		list := model.MailList("lang@example.com")
		require.NotNil(t, list)
		assert.Equal(t, []string{"alice@example.com", "zzz@example.com"}, list.Members)
	})
}

func TestRenderChatGroups(t *testing.T) {
	model := buildBasicModel(t, map[string]string{
		"teams/lang.toml": `
name = "lang"

[people]
leads = ["alice"]
members = ["alice", "bob", "carol"]
alumni = []

[github]
orgs = ["rust-lang"]

[[zulip-groups]]
name = "T-lang"
extra-zulip-ids = [999]

[[zulip-streams]]
name = "t-lang/private"
excluded-people = ["alice"]

[permissions]
bors.rust.review = true
`,
	})

	groups := model.ZulipGroups()
	require.Len(t, groups, 1)
	// carol has no zulip id and is elided; ids are sorted
	assert.Equal(t, []int64{11, 12, 999}, groups[0].MemberIDs)

	streams := model.ZulipStreams()
	require.Len(t, streams, 1)
	assert.Equal(t, []int64{12}, streams[0].MemberIDs)
}
