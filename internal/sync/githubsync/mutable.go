package githubsync

import (
	"context"
	"fmt"
)

/*
 * MutableSnapshot is an Executor that applies operations to an
 * in-memory snapshot instead of the remote. Re-diffing against the
 * mutated snapshot must yield an empty plan: this is how convergence
 * and idempotence are verified without a remote.
 */
type MutableSnapshot struct {
	snapshot *Snapshot
}

func NewMutableSnapshot(snapshot *Snapshot) *MutableSnapshot {
	return &MutableSnapshot{snapshot: snapshot}
}

func (m *MutableSnapshot) Snapshot(ctx context.Context) *Snapshot {
	return m.snapshot
}

func (m *MutableSnapshot) team(slug string) (*TeamState, error) {
	team := m.snapshot.Teams[slug]
	if team == nil {
		return nil, fmt.Errorf("unknown team %s", slug)
	}
	return team, nil
}

func (m *MutableSnapshot) repo(name string) (*RepoState, error) {
	repo := m.snapshot.Repos[name]
	if repo == nil {
		return nil, fmt.Errorf("unknown repository %s", name)
	}
	return repo, nil
}

func (m *MutableSnapshot) CreateTeam(ctx context.Context, org string, team *TeamState) error {
	copied := *team
	copied.Members = map[string]string{}
	for login, role := range team.Members {
		copied.Members[login] = role
	}
	m.snapshot.Teams[team.Slug] = &copied
	return nil
}

func (m *MutableSnapshot) UpdateTeam(ctx context.Context, org, slug, description, privacy, parentSlug string) error {
	team, err := m.team(slug)
	if err != nil {
		return err
	}
	team.Description = description
	team.Privacy = privacy
	team.ParentSlug = parentSlug
	return nil
}

func (m *MutableSnapshot) AddTeamMember(ctx context.Context, org, slug, login, role string) error {
	team, err := m.team(slug)
	if err != nil {
		return err
	}
	team.Members[login] = role
	return nil
}

func (m *MutableSnapshot) UpdateTeamMemberRole(ctx context.Context, org, slug, login, role string) error {
	return m.AddTeamMember(ctx, org, slug, login, role)
}

func (m *MutableSnapshot) RemoveTeamMember(ctx context.Context, org, slug, login string) error {
	team, err := m.team(slug)
	if err != nil {
		return err
	}
	delete(team.Members, login)
	return nil
}

func (m *MutableSnapshot) CreateRepository(ctx context.Context, org string, repo *RepoState) error {
	created := NewRepoState(repo.Name)
	created.Description = repo.Description
	created.Homepage = repo.Homepage
	m.snapshot.Repos[repo.Name] = created
	return nil
}

func (m *MutableSnapshot) UpdateRepositoryMetadata(ctx context.Context, org, name, description, homepage string) error {
	repo, err := m.repo(name)
	if err != nil {
		return err
	}
	repo.Description = description
	repo.Homepage = homepage
	return nil
}

func (m *MutableSnapshot) SetRepositoryArchived(ctx context.Context, org, name string, archived bool) error {
	repo, err := m.repo(name)
	if err != nil {
		return err
	}
	repo.Archived = archived
	return nil
}

func (m *MutableSnapshot) SetTeamAccess(ctx context.Context, org, name, slug, permission string) error {
	repo, err := m.repo(name)
	if err != nil {
		return err
	}
	repo.TeamAccess[slug] = permission
	return nil
}

func (m *MutableSnapshot) RemoveTeamAccess(ctx context.Context, org, name, slug string) error {
	repo, err := m.repo(name)
	if err != nil {
		return err
	}
	delete(repo.TeamAccess, slug)
	return nil
}

func (m *MutableSnapshot) SetCollaborator(ctx context.Context, org, name, login, permission string) error {
	repo, err := m.repo(name)
	if err != nil {
		return err
	}
	repo.Collaborators[login] = permission
	return nil
}

func (m *MutableSnapshot) RemoveCollaborator(ctx context.Context, org, name, login string) error {
	repo, err := m.repo(name)
	if err != nil {
		return err
	}
	delete(repo.Collaborators, login)
	return nil
}

func (m *MutableSnapshot) CreateBranchProtection(ctx context.Context, org, name string, protection *ProtectionState) error {
	repo, err := m.repo(name)
	if err != nil {
		return err
	}
	repo.Protections[protection.Pattern] = protection.normalized()
	return nil
}

func (m *MutableSnapshot) UpdateBranchProtection(ctx context.Context, org, name, pattern string, changes *ProtectionChanges) error {
	repo, err := m.repo(name)
	if err != nil {
		return err
	}
	protection := repo.Protections[pattern]
	if protection == nil {
		return fmt.Errorf("unknown branch protection %s on %s", pattern, name)
	}
	if changes.Checks != nil {
		protection.Checks = append([]string{}, *changes.Checks...)
	}
	if changes.DismissStaleReview != nil {
		protection.DismissStaleReview = *changes.DismissStaleReview
	}
	if changes.PrRequired != nil {
		protection.PrRequired = *changes.PrRequired
	}
	if changes.RequiredApprovals != nil {
		protection.RequiredApprovals = *changes.RequiredApprovals
	}
	if changes.PushAllowances != nil {
		protection.PushAllowances = append([]string{}, *changes.PushAllowances...)
	}
	return nil
}

func (m *MutableSnapshot) DeleteBranchProtection(ctx context.Context, org, name, pattern string) error {
	repo, err := m.repo(name)
	if err != nil {
		return err
	}
	delete(repo.Protections, pattern)
	return nil
}
