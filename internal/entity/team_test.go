package entity

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamsync-project/teamsync/internal/utils"
)

func TestReadTeam(t *testing.T) {
	t.Run("happy path: members with role tags", func(t *testing.T) {
		fs := memfs.New()
		err := utils.WriteFile(fs, "lang.toml", []byte(`
name = "lang"
kind = "team"

[people]
leads = ["alice"]
members = [
    "alice",
    { github = "bob", roles = ["spec-editor"] },
]
alumni = []

[[roles]]
id = "spec-editor"
description = "Edits the spec"

[github]
team-name = "lang"
orgs = ["rust-lang"]

[[lists]]
address = "lang@example.com"
extra-emails = ["extra@example.com"]

[[zulip-groups]]
name = "T-lang"
extra-zulip-ids = [123]

[[chat-roles]]
name = "team-lang"
color = "#ff0000"
`), 0644)
		require.NoError(t, err)

		team, err := NewTeam(fs, "lang.toml")
		require.NoError(t, err)
		assert.Empty(t, team.Validate("lang.toml"))
		assert.Equal(t, KindTeam, team.Kind)
		require.Len(t, team.People.Members, 2)
		assert.Equal(t, "bob", team.People.Members[1].Handle())
		assert.Equal(t, []string{"spec-editor"}, team.People.Members[1].Roles)
		assert.Equal(t, "lang", team.GithubTeamName())
		assert.True(t, team.Lists[0].TeamMembersIncluded())
	})

	t.Run("happy path: marker team may omit alumni", func(t *testing.T) {
		fs := memfs.New()
		err := utils.WriteFile(fs, "all.toml", []byte(`
name = "all"
kind = "marker-team"

[people]
include-all-team-members = true
`), 0644)
		require.NoError(t, err)

		team, err := NewTeam(fs, "all.toml")
		require.NoError(t, err)
		assert.Empty(t, team.Validate("all.toml"))
	})

	t.Run("happy path: leads-only composition may omit alumni", func(t *testing.T) {
		fs := memfs.New()
		err := utils.WriteFile(fs, "leads.toml", []byte(`
name = "leads"

[people]
include-team-leads = true
`), 0644)
		require.NoError(t, err)

		team, err := NewTeam(fs, "leads.toml")
		require.NoError(t, err)
		assert.Empty(t, team.Validate("leads.toml"))
	})

	t.Run("not happy path: alumni required", func(t *testing.T) {
		fs := memfs.New()
		err := utils.WriteFile(fs, "lang.toml", []byte(`
name = "lang"

[people]
members = ["alice"]
`), 0644)
		require.NoError(t, err)

		team, err := NewTeam(fs, "lang.toml")
		require.NoError(t, err)
		errs := team.Validate("lang.toml")
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "alumni")
	})

	t.Run("not happy path: lead not a member", func(t *testing.T) {
		fs := memfs.New()
		err := utils.WriteFile(fs, "lang.toml", []byte(`
name = "lang"

[people]
leads = ["alice"]
members = ["bob"]
alumni = []
`), 0644)
		require.NoError(t, err)

		team, err := NewTeam(fs, "lang.toml")
		require.NoError(t, err)
		errs := team.Validate("lang.toml")
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "not a direct member")
	})

	t.Run("not happy path: undeclared role", func(t *testing.T) {
		fs := memfs.New()
		err := utils.WriteFile(fs, "lang.toml", []byte(`
name = "lang"

[people]
members = [{ github = "bob", roles = ["ghost-role"] }]
alumni = []
`), 0644)
		require.NoError(t, err)

		team, err := NewTeam(fs, "lang.toml")
		require.NoError(t, err)
		errs := team.Validate("lang.toml")
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "undeclared role")
	})

	t.Run("not happy path: bad kind and name", func(t *testing.T) {
		fs := memfs.New()
		err := utils.WriteFile(fs, "MyTeam.toml", []byte(`
name = "MyTeam"
kind = "squad"

[people]
alumni = []
`), 0644)
		require.NoError(t, err)

		team, err := NewTeam(fs, "MyTeam.toml")
		require.NoError(t, err)
		errs := team.Validate("MyTeam.toml")
		assert.Len(t, errs, 2)
	})

	t.Run("not happy path: unknown member field", func(t *testing.T) {
		fs := memfs.New()
		err := utils.WriteFile(fs, "lang.toml", []byte(`
name = "lang"

[people]
members = [{ github = "bob", role = ["x"] }]
alumni = []
`), 0644)
		require.NoError(t, err)

		_, err = NewTeam(fs, "lang.toml")
		require.Error(t, err)
	})
}

func TestReadTeamDirectory(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("teams", 0755))
	require.NoError(t, utils.WriteFile(fs, "teams/lang.toml", []byte(`
name = "lang"
[people]
members = ["alice"]
alumni = []
`), 0644))
	require.NoError(t, utils.WriteFile(fs, "teams/compiler.toml", []byte(`
name = "compiler"
[people]
alumni = []
`), 0644))

	teams, errs, warns := ReadTeamDirectory(fs, "teams")
	assert.Empty(t, errs)
	assert.Empty(t, warns)
	assert.Len(t, teams, 2)
	assert.NotNil(t, teams["lang"])
}
