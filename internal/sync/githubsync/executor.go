package githubsync

import (
	"context"
	"sort"
	"strings"
)

/*
 * ProtectionChanges is a field-wise branch protection update: only the
 * fields that actually differ are set, and only those travel on the
 * wire.
 */
type ProtectionChanges struct {
	Checks             *[]string
	DismissStaleReview *bool
	PrRequired         *bool
	RequiredApprovals  *int
	PushAllowances     *[]string
}

// Fields names the changed fields, sorted, for the operation description.
func (c *ProtectionChanges) Fields() string {
	fields := []string{}
	if c.Checks != nil {
		fields = append(fields, "ci-checks")
	}
	if c.DismissStaleReview != nil {
		fields = append(fields, "dismiss-stale-review")
	}
	if c.PrRequired != nil {
		fields = append(fields, "pr-required")
	}
	if c.RequiredApprovals != nil {
		fields = append(fields, "required-approvals")
	}
	if c.PushAllowances != nil {
		fields = append(fields, "push-allowances")
	}
	sort.Strings(fields)
	return strings.Join(fields, ", ")
}

func (c *ProtectionChanges) IsEmpty() bool {
	return c.Checks == nil && c.DismissStaleReview == nil && c.PrRequired == nil &&
		c.RequiredApprovals == nil && c.PushAllowances == nil
}

/*
 * Executor performs the remote mutations of the source-forge adapter.
 * The REST implementation talks to the platform; the mutable-snapshot
 * implementation applies the same mutations to an in-memory snapshot,
 * which is how convergence is tested.
 */
type Executor interface {
	CreateTeam(ctx context.Context, org string, team *TeamState) error
	UpdateTeam(ctx context.Context, org, slug, description, privacy, parentSlug string) error
	AddTeamMember(ctx context.Context, org, slug, login, role string) error
	UpdateTeamMemberRole(ctx context.Context, org, slug, login, role string) error
	RemoveTeamMember(ctx context.Context, org, slug, login string) error

	CreateRepository(ctx context.Context, org string, repo *RepoState) error
	UpdateRepositoryMetadata(ctx context.Context, org, repo, description, homepage string) error
	SetRepositoryArchived(ctx context.Context, org, repo string, archived bool) error
	SetTeamAccess(ctx context.Context, org, repo, slug, permission string) error
	RemoveTeamAccess(ctx context.Context, org, repo, slug string) error
	SetCollaborator(ctx context.Context, org, repo, login, permission string) error
	RemoveCollaborator(ctx context.Context, org, repo, login string) error

	CreateBranchProtection(ctx context.Context, org, repo string, protection *ProtectionState) error
	UpdateBranchProtection(ctx context.Context, org, repo, pattern string, changes *ProtectionChanges) error
	DeleteBranchProtection(ctx context.Context, org, repo, pattern string) error
}
