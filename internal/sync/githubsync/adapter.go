package githubsync

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gosimple/slug"
	"github.com/teamsync-project/teamsync/internal/engine"
	"github.com/teamsync-project/teamsync/internal/entity"
	"github.com/teamsync-project/teamsync/internal/observability"
	"github.com/teamsync-project/teamsync/internal/utils"
)

/*
 * Snapshotter reads the remote state of one organization, restricted
 * to the owned scope. Unowned teams and repositories are never read.
 */
type Snapshotter interface {
	Snapshot(ctx context.Context, scope Scope, feedback observability.RemoteLoadFeedback) (*Snapshot, error)
}

// Scope is the set of remote resources the corpus owns in one
// organization. Everything outside it is invisible to the adapter.
type Scope struct {
	TeamSlugs map[string]bool
	RepoNames map[string]bool
}

/*
 * Adapter reconciles one organization: teams this system owns, their
 * memberships and parents, and the corpus repositories with their
 * collaborator access and branch protections.
 */
type Adapter struct {
	org         string
	snapshotter Snapshotter
	executor    Executor
	scope       Scope
}

func NewAdapter(org string, model *engine.Model, snapshotter Snapshotter, executor Executor) *Adapter {
	scope := Scope{
		TeamSlugs: map[string]bool{},
		RepoNames: map[string]bool{},
	}
	for _, name := range model.TeamNames() {
		team := model.Team(name)
		if !teamOnOrg(team, org) {
			continue
		}
		scope.TeamSlugs[slug.Make(team.GithubTeamName())] = true
	}
	for _, fullname := range model.RepositoryNames() {
		repo := model.Repository(fullname)
		if repo.Org == org {
			scope.RepoNames[repo.Name] = true
		}
	}

	return &Adapter{
		org:         org,
		snapshotter: snapshotter,
		executor:    executor,
		scope:       scope,
	}
}

func teamOnOrg(team *entity.Team, org string) bool {
	if team.GitHub == nil {
		return false
	}
	for _, o := range team.GitHub.Orgs {
		if o == org {
			return true
		}
	}
	return false
}

func (a *Adapter) Name() string {
	return "github/" + a.org
}

func (a *Adapter) Snapshot(ctx context.Context, feedback observability.RemoteLoadFeedback) (*Snapshot, error) {
	return a.snapshotter.Snapshot(ctx, a.scope, feedback)
}

/*
 * Desired derives the target state of the organization from the
 * materialised model. Leads map to the maintainer role, every other
 * effective member to member.
 */
func (a *Adapter) Desired(model *engine.Model) (*Snapshot, error) {
	desired := NewSnapshot(a.org)

	for _, name := range model.TeamNames() {
		team := model.Team(name)
		if !teamOnOrg(team, a.org) {
			continue
		}

		state := &TeamState{
			Name:    team.GithubTeamName(),
			Slug:    slug.Make(team.GithubTeamName()),
			Privacy: "closed",
			Members: map[string]string{},
		}
		if team.Website != nil {
			state.Description = team.Website.Description
		}
		if team.SubteamOf != "" {
			if parent := model.Team(team.SubteamOf); parent != nil && teamOnOrg(parent, a.org) {
				state.ParentSlug = slug.Make(parent.GithubTeamName())
			}
		}
		for _, member := range model.EffectiveMembers(name) {
			role := RoleMember
			if member.Lead {
				role = RoleMaintainer
			}
			state.Members[member.Handle] = role
		}
		desired.Teams[state.Slug] = state
	}

	for _, fullname := range model.RepositoryNames() {
		repo := model.Repository(fullname)
		if repo.Org != a.org {
			continue
		}

		state := NewRepoState(repo.Name)
		state.Description = repo.Description
		state.Homepage = repo.Homepage
		state.Archived = repo.Archived

		for team, role := range repo.Access.Teams {
			teamEntity := model.Team(team)
			if teamEntity == nil {
				return nil, fmt.Errorf("repo %s grants access to unknown team %s", fullname, team)
			}
			state.TeamAccess[slug.Make(teamEntity.GithubTeamName())] = corpusRoleToPermission(role)
		}
		for handle, role := range repo.Access.Individuals {
			state.Collaborators[handle] = corpusRoleToPermission(role)
		}
		// bots get write access; the merge bot pushes to protected
		// branches through the protection's push allowances
		for _, bot := range repo.Bots {
			state.Collaborators[bot] = PermissionPush
		}

		for i := range repo.BranchProtections {
			bp := &repo.BranchProtections[i]
			state.Protections[bp.Pattern] = desiredProtection(model, repo, bp)
		}

		desired.Repos[repo.Name] = state
	}

	return desired, nil
}

func corpusRoleToPermission(role string) string {
	if role == entity.RepoRoleWrite {
		return PermissionPush
	}
	return role
}

func desiredProtection(model *engine.Model, repo *entity.Repository, bp *entity.BranchProtection) *ProtectionState {
	state := &ProtectionState{
		Pattern:            bp.Pattern,
		Checks:             append([]string{}, bp.CIChecks...),
		DismissStaleReview: bp.DismissStaleReview,
		PrRequired:         bp.PrIsRequired() || len(bp.MergeBots) > 0,
		RequiredApprovals:  bp.ApprovalsRequired(),
	}

	// allowed-push actors: the union of the repo bots and the teams
	// listed in allowed-merge-teams
	actors := map[string]bool{}
	for _, bot := range repo.Bots {
		actors[bot] = true
	}
	for _, team := range bp.AllowedMergeTeams {
		if teamEntity := model.Team(team); teamEntity != nil {
			actors[slug.Make(teamEntity.GithubTeamName())] = true
		}
	}
	for actor := range actors {
		state.PushAllowances = append(state.PushAllowances, actor)
	}
	sort.Strings(state.PushAllowances)
	sort.Strings(state.Checks)

	return state
}

/*
 * Diff computes the ordered operation sequence turning current into
 * desired. Only owned resources are visited: a remote team or
 * repository absent from the desired state is left untouched, except
 * for branch protection patterns on an owned repository.
 */
func (a *Adapter) Diff(current, desired *Snapshot) ([]*engine.Operation, error) {
	plan := []*engine.Operation{}

	engine.CompareEntities(desired.Teams, current.Teams,
		teamEqual,
		func(key string, d *TeamState, c *TeamState) {
			op := a.createTeamOp(d)
			// parents before children: a child team create needs its
			// parent to exist
			if d.ParentSlug != "" {
				if _, parentExists := current.Teams[d.ParentSlug]; !parentExists {
					op.Requires = append(op.Requires, "team/"+d.ParentSlug+"/create")
				}
			}
			plan = append(plan, op)
		},
		func(key string, d *TeamState, c *TeamState) {
			// a remote team no longer in the corpus is unowned: the
			// snapshot scope should not even have produced it
		},
		func(key string, d *TeamState, c *TeamState) {
			plan = append(plan, a.teamChangeOps(d, c)...)
		},
	)

	engine.CompareEntities(desired.Repos, current.Repos,
		func(key string, d *RepoState, c *RepoState) bool { return false },
		func(key string, d *RepoState, c *RepoState) {
			plan = append(plan, a.createRepoOps(d)...)
		},
		func(key string, d *RepoState, c *RepoState) {},
		func(key string, d *RepoState, c *RepoState) {
			plan = append(plan, a.repoChangeOps(d, c)...)
		},
	)

	sortOps(plan, desired)
	return plan, nil
}

/*
 * sortOps makes the plan deterministic: lexicographic by ID within
 * each kind (the reconciler re-sorts creates before updates before
 * deletes). Team creates are additionally ordered top-down so that a
 * parent team exists before its children are created.
 */
func sortOps(plan []*engine.Operation, desired *Snapshot) {
	depth := func(op *engine.Operation) int {
		if op.Kind != engine.OpCreate || !strings.HasPrefix(op.ID, "team/") {
			return 0
		}
		slugName := strings.TrimSuffix(strings.TrimPrefix(op.ID, "team/"), "/create")
		d := 0
		for team := desired.Teams[slugName]; team != nil && team.ParentSlug != "" && d <= len(desired.Teams); team = desired.Teams[team.ParentSlug] {
			d++
		}
		return d
	}

	sort.SliceStable(plan, func(i, j int) bool {
		if plan[i].Kind != plan[j].Kind {
			return plan[i].Kind < plan[j].Kind
		}
		if di, dj := depth(plan[i]), depth(plan[j]); di != dj {
			return di < dj
		}
		return plan[i].ID < plan[j].ID
	})
}

func teamEqual(key string, d *TeamState, c *TeamState) bool {
	if d.Description != c.Description || d.Privacy != c.Privacy || d.ParentSlug != c.ParentSlug {
		return false
	}
	if len(d.Members) != len(c.Members) {
		return false
	}
	for login, role := range d.Members {
		if c.Members[login] != role {
			return false
		}
	}
	return true
}

func (a *Adapter) createTeamOp(d *TeamState) *engine.Operation {
	team := d
	return &engine.Operation{
		ID:          "team/" + d.Slug + "/create",
		Kind:        engine.OpCreate,
		Description: fmt.Sprintf("create team %s with %d members", d.Slug, len(d.Members)),
		Apply: func(ctx context.Context) error {
			return a.executor.CreateTeam(ctx, a.org, team)
		},
	}
}

func (a *Adapter) teamChangeOps(d *TeamState, c *TeamState) []*engine.Operation {
	ops := []*engine.Operation{}

	if d.Description != c.Description || d.Privacy != c.Privacy || d.ParentSlug != c.ParentSlug {
		desc, privacy, parent := d.Description, d.Privacy, d.ParentSlug
		ops = append(ops, &engine.Operation{
			ID:          "team/" + d.Slug + "/update",
			Kind:        engine.OpUpdate,
			Description: fmt.Sprintf("update team %s settings", d.Slug),
			Apply: func(ctx context.Context) error {
				return a.executor.UpdateTeam(ctx, a.org, d.Slug, desc, privacy, parent)
			},
		})
	}

	// memberships: a multiset diff keyed by login with role values
	for _, login := range utils.SortedKeys(d.Members) {
		role := d.Members[login]
		currentRole, ok := c.Members[login]
		if !ok {
			login, role := login, role
			ops = append(ops, &engine.Operation{
				ID:          "team/" + d.Slug + "/member/" + login + "/add",
				Kind:        engine.OpUpdate,
				Description: fmt.Sprintf("add %s to team %s as %s", login, d.Slug, role),
				Apply: func(ctx context.Context) error {
					return a.executor.AddTeamMember(ctx, a.org, d.Slug, login, role)
				},
			})
		} else if currentRole != role {
			login, role := login, role
			ops = append(ops, &engine.Operation{
				ID:          "team/" + d.Slug + "/member/" + login + "/role",
				Kind:        engine.OpUpdate,
				Description: fmt.Sprintf("change role of %s in team %s to %s", login, d.Slug, role),
				Apply: func(ctx context.Context) error {
					return a.executor.UpdateTeamMemberRole(ctx, a.org, d.Slug, login, role)
				},
			})
		}
	}
	for _, login := range utils.SortedKeys(c.Members) {
		if _, ok := d.Members[login]; !ok {
			login := login
			ops = append(ops, &engine.Operation{
				ID:          "team/" + d.Slug + "/member/" + login + "/remove",
				Kind:        engine.OpDelete,
				Description: fmt.Sprintf("remove %s from team %s", login, d.Slug),
				Apply: func(ctx context.Context) error {
					return a.executor.RemoveTeamMember(ctx, a.org, d.Slug, login)
				},
			})
		}
	}

	return ops
}

func (a *Adapter) createRepoOps(d *RepoState) []*engine.Operation {
	createID := "repo/" + d.Name + "/create"
	repo := d
	ops := []*engine.Operation{{
		ID:          createID,
		Kind:        engine.OpCreate,
		Description: fmt.Sprintf("create repository %s/%s", a.org, d.Name),
		Apply: func(ctx context.Context) error {
			return a.executor.CreateRepository(ctx, a.org, repo)
		},
	}}

	// children of a created repository flow top-down and require the
	// creation to have succeeded
	children := a.repoChangeOps(d, NewRepoState(d.Name))
	for _, op := range children {
		if op.ID == "repo/"+d.Name+"/meta" {
			// creation already carries description and homepage
			continue
		}
		op.Requires = append(op.Requires, createID)
		ops = append(ops, op)
	}
	return ops
}

func (a *Adapter) repoChangeOps(d *RepoState, c *RepoState) []*engine.Operation {
	ops := []*engine.Operation{}

	if d.Description != c.Description || d.Homepage != c.Homepage {
		desc, homepage := d.Description, d.Homepage
		ops = append(ops, &engine.Operation{
			ID:          "repo/" + d.Name + "/meta",
			Kind:        engine.OpUpdate,
			Description: fmt.Sprintf("update description/homepage of repository %s", d.Name),
			Apply: func(ctx context.Context) error {
				return a.executor.UpdateRepositoryMetadata(ctx, a.org, d.Name, desc, homepage)
			},
		})
	}

	if d.Archived != c.Archived {
		archived := d.Archived
		ops = append(ops, &engine.Operation{
			ID:          "repo/" + d.Name + "/archived",
			Kind:        engine.OpUpdate,
			Description: fmt.Sprintf("set archived=%t on repository %s", archived, d.Name),
			Apply: func(ctx context.Context) error {
				return a.executor.SetRepositoryArchived(ctx, a.org, d.Name, archived)
			},
		})
	}

	for _, slugName := range utils.SortedKeys(d.TeamAccess) {
		permission := d.TeamAccess[slugName]
		if c.TeamAccess[slugName] != permission {
			slugName, permission := slugName, permission
			verb := "grant"
			if _, ok := c.TeamAccess[slugName]; ok {
				verb = "change"
			}
			ops = append(ops, &engine.Operation{
				ID:          "repo/" + d.Name + "/team/" + slugName + "/set",
				Kind:        engine.OpUpdate,
				Description: fmt.Sprintf("%s %s access on repository %s for team %s", verb, permission, d.Name, slugName),
				Apply: func(ctx context.Context) error {
					return a.executor.SetTeamAccess(ctx, a.org, d.Name, slugName, permission)
				},
			})
		}
	}
	for _, slugName := range utils.SortedKeys(c.TeamAccess) {
		if _, ok := d.TeamAccess[slugName]; !ok {
			slugName := slugName
			ops = append(ops, &engine.Operation{
				ID:          "repo/" + d.Name + "/team/" + slugName + "/remove",
				Kind:        engine.OpDelete,
				Description: fmt.Sprintf("revoke access on repository %s for team %s", d.Name, slugName),
				Apply: func(ctx context.Context) error {
					return a.executor.RemoveTeamAccess(ctx, a.org, d.Name, slugName)
				},
			})
		}
	}

	for _, login := range utils.SortedKeys(d.Collaborators) {
		permission := d.Collaborators[login]
		if c.Collaborators[login] != permission {
			login, permission := login, permission
			verb := "grant"
			if _, ok := c.Collaborators[login]; ok {
				verb = "change"
			}
			ops = append(ops, &engine.Operation{
				ID:          "repo/" + d.Name + "/collab/" + login + "/set",
				Kind:        engine.OpUpdate,
				Description: fmt.Sprintf("%s %s access on repository %s for %s", verb, permission, d.Name, login),
				Apply: func(ctx context.Context) error {
					return a.executor.SetCollaborator(ctx, a.org, d.Name, login, permission)
				},
			})
		}
	}
	for _, login := range utils.SortedKeys(c.Collaborators) {
		if _, ok := d.Collaborators[login]; !ok {
			login := login
			ops = append(ops, &engine.Operation{
				ID:          "repo/" + d.Name + "/collab/" + login + "/remove",
				Kind:        engine.OpDelete,
				Description: fmt.Sprintf("revoke access on repository %s for %s", d.Name, login),
				Apply: func(ctx context.Context) error {
					return a.executor.RemoveCollaborator(ctx, a.org, d.Name, login)
				},
			})
		}
	}

	ops = append(ops, a.protectionOps(d, c)...)
	return ops
}

func (a *Adapter) protectionOps(d *RepoState, c *RepoState) []*engine.Operation {
	ops := []*engine.Operation{}

	for _, pattern := range utils.SortedKeys(d.Protections) {
		desired := d.Protections[pattern].normalized()
		current, ok := c.Protections[pattern]

		if !ok {
			desired := desired
			ops = append(ops, &engine.Operation{
				ID:          "repo/" + d.Name + "/protection/" + pattern + "/create",
				Kind:        engine.OpCreate,
				Description: fmt.Sprintf("create branch protection %s on repository %s", pattern, d.Name),
				Apply: func(ctx context.Context) error {
					return a.executor.CreateBranchProtection(ctx, a.org, d.Name, desired)
				},
			})
			continue
		}

		changes := diffProtection(desired, current.normalized())
		if changes.IsEmpty() {
			continue
		}
		pattern, changes := pattern, changes
		ops = append(ops, &engine.Operation{
			ID:          "repo/" + d.Name + "/protection/" + pattern + "/update",
			Kind:        engine.OpUpdate,
			Description: fmt.Sprintf("update branch protection %s on repository %s (%s)", pattern, d.Name, changes.Fields()),
			Apply: func(ctx context.Context) error {
				return a.executor.UpdateBranchProtection(ctx, a.org, d.Name, pattern, changes)
			},
		})
	}

	// a remote pattern on an owned repository that is no longer in the
	// corpus is deleted; unowned repositories never reach this point
	for _, pattern := range utils.SortedKeys(c.Protections) {
		if _, ok := d.Protections[pattern]; !ok {
			pattern := pattern
			ops = append(ops, &engine.Operation{
				ID:          "repo/" + d.Name + "/protection/" + pattern + "/delete",
				Kind:        engine.OpDelete,
				Description: fmt.Sprintf("delete branch protection %s on repository %s", pattern, d.Name),
				Apply: func(ctx context.Context) error {
					return a.executor.DeleteBranchProtection(ctx, a.org, d.Name, pattern)
				},
			})
		}
	}

	return ops
}

// diffProtection produces the field-wise changes turning current into
// desired. Checks and push allowances compare as sets.
func diffProtection(desired, current *ProtectionState) *ProtectionChanges {
	changes := &ProtectionChanges{}
	if !stringSetEqual(desired.Checks, current.Checks) {
		checks := append([]string{}, desired.Checks...)
		changes.Checks = &checks
	}
	if desired.DismissStaleReview != current.DismissStaleReview {
		v := desired.DismissStaleReview
		changes.DismissStaleReview = &v
	}
	if desired.PrRequired != current.PrRequired {
		v := desired.PrRequired
		changes.PrRequired = &v
	}
	if desired.RequiredApprovals != current.RequiredApprovals {
		v := desired.RequiredApprovals
		changes.RequiredApprovals = &v
	}
	if !stringSetEqual(desired.PushAllowances, current.PushAllowances) {
		actors := append([]string{}, desired.PushAllowances...)
		changes.PushAllowances = &actors
	}
	return changes
}
