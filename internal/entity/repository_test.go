package entity

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamsync-project/teamsync/internal/utils"
)

func writeRepo(t *testing.T, content string) (*Repository, []error) {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("repos/rust-lang", 0755))
	require.NoError(t, utils.WriteFile(fs, "repos/rust-lang/rust.toml", []byte(content), 0644))
	repo, err := NewRepository(fs, "repos/rust-lang/rust.toml")
	require.NoError(t, err)
	return repo, repo.Validate("repos/rust-lang/rust.toml")
}

func TestReadRepository(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		repo, errs := writeRepo(t, `
org = "rust-lang"
name = "rust"
description = "The compiler"
homepage = "https://rust-lang.org"
bots = ["bors", "rustbot"]

[access.teams]
lang = "write"
release = "maintain"

[access.individuals]
eve = "triage"

[[branch-protections]]
pattern = "master"
ci-checks = ["CI"]
merge-bots = ["homu"]
allowed-merge-teams = ["release"]

[[branch-protections]]
pattern = "beta"
required-approvals = 2
dismiss-stale-review = true
`)
		assert.Empty(t, errs)
		assert.Equal(t, "rust-lang/rust", repo.FullName())
		require.Len(t, repo.BranchProtections, 2)
		assert.Equal(t, 0, repo.BranchProtections[0].ApprovalsRequired())
		assert.Equal(t, 2, repo.BranchProtections[1].ApprovalsRequired())
		assert.True(t, repo.BranchProtections[0].PrIsRequired())
	})

	t.Run("not happy path: ci-checks without pr-required", func(t *testing.T) {
		_, errs := writeRepo(t, `
org = "rust-lang"
name = "rust"
description = "The compiler"

[[branch-protections]]
pattern = "master"
pr-required = false
ci-checks = ["CI"]
`)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "ci-checks requires pr-required")
	})

	t.Run("not happy path: merge-bots excludes approvals and pr-required", func(t *testing.T) {
		_, errs := writeRepo(t, `
org = "rust-lang"
name = "rust"
description = "The compiler"
bots = ["bors"]

[[branch-protections]]
pattern = "master"
pr-required = true
required-approvals = 1
merge-bots = ["homu"]
`)
		assert.Len(t, errs, 2)
	})

	t.Run("not happy path: homu without bors bot", func(t *testing.T) {
		_, errs := writeRepo(t, `
org = "rust-lang"
name = "rust"
description = "The compiler"

[[branch-protections]]
pattern = "master"
merge-bots = ["homu"]
`)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "homu requires")
	})

	t.Run("not happy path: invalid access role", func(t *testing.T) {
		_, errs := writeRepo(t, `
org = "rust-lang"
name = "rust"
description = "The compiler"

[access.teams]
lang = "owner"
`)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "invalid role")
	})

	t.Run("not happy path: missing description", func(t *testing.T) {
		_, errs := writeRepo(t, `
org = "rust-lang"
name = "rust"
`)
		require.Len(t, errs, 1)
	})
}

func TestReadRepositoryDirectory(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("repos/rust-lang", 0755))
	require.NoError(t, utils.WriteFile(fs, "repos/rust-lang/rust.toml", []byte(`
org = "rust-lang"
name = "rust"
description = "The compiler"
`), 0644))
	require.NoError(t, utils.WriteFile(fs, "repos/rust-lang/cargo.toml", []byte(`
org = "rust-lang"
name = "cargo"
description = "The package manager"
`), 0644))

	repos, errs, warns := ReadRepositoryDirectory(fs, "repos")
	assert.Empty(t, errs)
	assert.Empty(t, warns)
	assert.Len(t, repos, 2)
	assert.NotNil(t, repos["rust-lang/rust"])
}
