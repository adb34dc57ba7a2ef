package staticapi

import (
	"encoding/json"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamsync-project/teamsync/internal/engine"
	"github.com/teamsync-project/teamsync/internal/observability"
	"github.com/teamsync-project/teamsync/internal/utils"
)

func TestBuild(t *testing.T) {
	fs := memfs.New()
	files := map[string]string{
		"people/alice.toml": `
name = "Alice"
github = "alice"
github-id = 1
email = "alice@example.com"

[permissions]
perf = true
`,
		"teams/lang.toml": `
name = "lang"

[people]
leads = ["alice"]
members = ["alice"]
alumni = []

[[lists]]
address = "lang@example.com"
`,
		"repos/rust-lang/rust.toml": `
org = "rust-lang"
name = "rust"
description = "The compiler"

[[branch-protections]]
pattern = "master"
required-approvals = 2
`,
	}
	for path, content := range files {
		require.NoError(t, utils.WriteFile(fs, path, []byte(content), 0644))
	}
	corpus := engine.NewCorpus()
	logs := observability.NewLogCollection()
	corpus.LoadAndValidate(fs, logs)
	require.False(t, logs.HasErrors(), "corpus errors: %v", logs.Errors)
	model := engine.BuildModel(corpus)

	require.NoError(t, Build(model, fs, "out"))

	t.Run("team file", func(t *testing.T) {
		data, err := utils.ReadFile(fs, "out/v1/teams/lang.json")
		require.NoError(t, err)
		var team engine.TeamView
		require.NoError(t, json.Unmarshal(data, &team))
		assert.Equal(t, "lang", team.Name)
		require.Len(t, team.Members, 1)
		assert.True(t, team.Members[0].Lead)
	})

	t.Run("person file carries aggregated permissions", func(t *testing.T) {
		data, err := utils.ReadFile(fs, "out/v1/people/alice.json")
		require.NoError(t, err)
		var person engine.PersonView
		require.NoError(t, json.Unmarshal(data, &person))
		assert.Equal(t, []string{"perf"}, person.Permissions)
	})

	t.Run("indexes exist", func(t *testing.T) {
		for _, path := range []string{
			"out/v1/teams.json",
			"out/v1/people.json",
			"out/v1/repos.json",
			"out/v1/lists.json",
			"out/v1/zulip-groups.json",
			"out/v1/permissions.json",
			"out/v1/repos/rust-lang/rust.json",
			"out/v1/permissions/perf.json",
		} {
			exists, err := utils.Exists(fs, path)
			require.NoError(t, err)
			assert.True(t, exists, path)
		}
	})

	t.Run("rebuild is stable", func(t *testing.T) {
		before, err := utils.ReadFile(fs, "out/v1/teams.json")
		require.NoError(t, err)
		require.NoError(t, Build(model, fs, "out"))
		after, err := utils.ReadFile(fs, "out/v1/teams.json")
		require.NoError(t, err)
		assert.Equal(t, string(before), string(after))
	})
}
