package githubsync

import "sort"

// Remote role vocabulary for team memberships.
const (
	RoleMember     = "member"
	RoleMaintainer = "maintainer"
)

// Remote permission vocabulary for repository access. The corpus role
// "write" maps to "push" on the wire.
const (
	PermissionPull     = "pull"
	PermissionTriage   = "triage"
	PermissionPush     = "push"
	PermissionMaintain = "maintain"
	PermissionAdmin    = "admin"
)

/*
 * Snapshot is the adapter state type: one organization's owned teams
 * and repositories. The same shape is produced by Snapshot (remote
 * read, restricted to owned resources) and by Desired (derived from
 * the materialised model), so that Diff is purely a function of the
 * pair.
 */
type Snapshot struct {
	Org   string
	Teams map[string]*TeamState // keyed by slug
	Repos map[string]*RepoState // keyed by repository name
}

func NewSnapshot(org string) *Snapshot {
	return &Snapshot{
		Org:   org,
		Teams: map[string]*TeamState{},
		Repos: map[string]*RepoState{},
	}
}

type TeamState struct {
	Name        string
	Slug        string
	Description string
	Privacy     string
	ParentSlug  string
	Members     map[string]string // login (lowercased) -> member|maintainer
}

type RepoState struct {
	Name          string
	Description   string
	Homepage      string
	Archived      bool
	TeamAccess    map[string]string           // team slug -> permission
	Collaborators map[string]string           // login -> permission
	Protections   map[string]*ProtectionState // keyed by pattern
}

func NewRepoState(name string) *RepoState {
	return &RepoState{
		Name:          name,
		TeamAccess:    map[string]string{},
		Collaborators: map[string]string{},
		Protections:   map[string]*ProtectionState{},
	}
}

type ProtectionState struct {
	Pattern            string
	Checks             []string
	DismissStaleReview bool
	PrRequired         bool
	RequiredApprovals  int
	PushAllowances     []string // bot logins and team slugs allowed to push
}

// normalized returns the checks and push allowances sorted, so that
// comparison is order-insensitive.
func (p *ProtectionState) normalized() *ProtectionState {
	n := *p
	n.Checks = append([]string{}, p.Checks...)
	sort.Strings(n.Checks)
	n.PushAllowances = append([]string{}, p.PushAllowances...)
	sort.Strings(n.PushAllowances)
	return &n
}

func stringSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string{}, a...)
	bs := append([]string{}, b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
