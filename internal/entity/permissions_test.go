package entity

import (
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionsDecode(t *testing.T) {
	var holder struct {
		Permissions Permissions `toml:"permissions"`
	}
	_, err := toml.Decode(`
[permissions]
perf = true
crater = false
bors.rust.review = true
bors.cargo.try = true
`, &holder)
	require.NoError(t, err)

	p := holder.Permissions
	assert.True(t, p.Has("perf"))
	assert.False(t, p.Has("crater"))
	assert.True(t, p.CanReview("rust"))
	assert.True(t, p.CanTry("rust")) // review subsumes try
	assert.False(t, p.CanReview("cargo"))
	assert.True(t, p.CanTry("cargo"))
	assert.Equal(t, []string{"bors.cargo.try", "bors.rust.review", "perf"}, p.Flatten())
	assert.Equal(t, []string{"cargo", "rust"}, p.BorsRepos())
}

func TestPermissionsDecodeRejectsUnknownShapes(t *testing.T) {
	var holder struct {
		Permissions Permissions `toml:"permissions"`
	}
	_, err := toml.Decode(`
[permissions]
perf = "yes"
`, &holder)
	assert.Error(t, err)

	_, err = toml.Decode(`
[permissions]
bors.rust.deploy = true
`, &holder)
	assert.Error(t, err)
}

func TestPermissionsUnion(t *testing.T) {
	a := Permissions{
		Granted: map[string]bool{"perf": true},
		Bors:    map[string]BorsACL{"rust": {Try: true}},
	}
	b := Permissions{
		Granted: map[string]bool{"crater": true, "perf": false},
		Bors:    map[string]BorsACL{"rust": {Review: true}, "cargo": {Try: true}},
	}

	a.Union(&b)

	// a false grant never revokes
	assert.True(t, a.Has("perf"))
	assert.True(t, a.Has("crater"))
	assert.True(t, a.CanReview("rust"))
	assert.True(t, a.CanTry("cargo"))
}

func TestPermissionsValidate(t *testing.T) {
	p := Permissions{Bors: map[string]BorsACL{"rust": {Review: true, Try: true}}}
	errs := p.Validate("teams/lang.toml")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "redundant")
}
