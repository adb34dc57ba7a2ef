package githubsync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/teamsync-project/teamsync/internal/github"
	"github.com/teamsync-project/teamsync/internal/observability"
	"github.com/teamsync-project/teamsync/internal/utils"
)

/*
 * RemoteSnapshotter reads the owned slice of one organization through
 * the platform API. Unowned teams are dropped as soon as the listing
 * is parsed; their members are never fetched.
 */
type RemoteSnapshotter struct {
	client github.Client
	org    string
}

func NewRemoteSnapshotter(client github.Client, org string) *RemoteSnapshotter {
	return &RemoteSnapshotter{client: client, org: org}
}

func (s *RemoteSnapshotter) Snapshot(ctx context.Context, scope Scope, feedback observability.RemoteLoadFeedback) (*Snapshot, error) {
	snapshot := NewSnapshot(s.org)
	feedback.Init(len(scope.TeamSlugs) + len(scope.RepoNames))

	if err := s.loadTeams(ctx, scope, snapshot, feedback); err != nil {
		return nil, err
	}
	if err := s.loadRepos(ctx, scope, snapshot, feedback); err != nil {
		return nil, err
	}
	return snapshot, nil
}

type teamListEntry struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Privacy     string `json:"privacy"`
	Parent      *struct {
		Slug string `json:"slug"`
	} `json:"parent"`
}

func (s *RemoteSnapshotter) loadTeams(ctx context.Context, scope Scope, snapshot *Snapshot, feedback observability.RemoteLoadFeedback) error {
	for page := 1; ; page++ {
		body, err := s.client.CallRestAPI(ctx,
			fmt.Sprintf("/orgs/%s/teams", s.org),
			fmt.Sprintf("per_page=100&page=%d", page),
			"GET", nil)
		if err != nil {
			return err
		}
		var entries []teamListEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return fmt.Errorf("parsing team list: %w", err)
		}
		for _, entry := range entries {
			if !scope.TeamSlugs[entry.Slug] {
				continue
			}
			team := &TeamState{
				Name:        entry.Name,
				Slug:        entry.Slug,
				Description: entry.Description,
				Privacy:     entry.Privacy,
				Members:     map[string]string{},
			}
			if entry.Parent != nil {
				team.ParentSlug = entry.Parent.Slug
			}
			if err := s.loadTeamMembers(ctx, team); err != nil {
				return err
			}
			snapshot.Teams[team.Slug] = team
			feedback.LoadingAsset("teams", 1)
		}
		if len(entries) < 100 {
			return nil
		}
	}
}

func (s *RemoteSnapshotter) loadTeamMembers(ctx context.Context, team *TeamState) error {
	for _, role := range []string{RoleMember, RoleMaintainer} {
		for page := 1; ; page++ {
			body, err := s.client.CallRestAPI(ctx,
				fmt.Sprintf("/orgs/%s/teams/%s/members", s.org, team.Slug),
				fmt.Sprintf("role=%s&per_page=100&page=%d", role, page),
				"GET", nil)
			if err != nil {
				return err
			}
			var members []struct {
				Login string `json:"login"`
			}
			if err := json.Unmarshal(body, &members); err != nil {
				return fmt.Errorf("parsing members of team %s: %w", team.Slug, err)
			}
			for _, member := range members {
				team.Members[strings.ToLower(member.Login)] = role
			}
			if len(members) < 100 {
				break
			}
		}
	}
	return nil
}

func (s *RemoteSnapshotter) loadRepos(ctx context.Context, scope Scope, snapshot *Snapshot, feedback observability.RemoteLoadFeedback) error {
	for _, name := range utils.SortedKeys(scope.RepoNames) {
		repo, err := s.loadRepo(ctx, name)
		if err != nil {
			return err
		}
		if repo != nil {
			snapshot.Repos[name] = repo
		}
		feedback.LoadingAsset("repositories", 1)
	}
	return nil
}

// loadRepo returns nil (no error) when the repository does not exist
// remotely yet: the diff will then create it.
func (s *RemoteSnapshotter) loadRepo(ctx context.Context, name string) (*RepoState, error) {
	body, err := s.client.CallRestAPI(ctx, fmt.Sprintf("/repos/%s/%s", s.org, name), "", "GET", nil)
	if err != nil {
		if isNotFound(err) {
			logrus.Debugf("repository %s/%s not found remotely", s.org, name)
			return nil, nil
		}
		return nil, err
	}

	var meta struct {
		Description string `json:"description"`
		Homepage    string `json:"homepage"`
		Archived    bool   `json:"archived"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("parsing repository %s: %w", name, err)
	}

	repo := NewRepoState(name)
	repo.Description = meta.Description
	repo.Homepage = meta.Homepage
	repo.Archived = meta.Archived

	if err := s.loadRepoTeams(ctx, repo); err != nil {
		return nil, err
	}
	if err := s.loadRepoCollaborators(ctx, repo); err != nil {
		return nil, err
	}
	if err := s.loadRepoProtections(ctx, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

func (s *RemoteSnapshotter) loadRepoTeams(ctx context.Context, repo *RepoState) error {
	for page := 1; ; page++ {
		body, err := s.client.CallRestAPI(ctx,
			fmt.Sprintf("/repos/%s/%s/teams", s.org, repo.Name),
			fmt.Sprintf("per_page=100&page=%d", page),
			"GET", nil)
		if err != nil {
			return err
		}
		var teams []struct {
			Slug       string `json:"slug"`
			Permission string `json:"permission"`
		}
		if err := json.Unmarshal(body, &teams); err != nil {
			return fmt.Errorf("parsing teams of repository %s: %w", repo.Name, err)
		}
		for _, team := range teams {
			repo.TeamAccess[team.Slug] = team.Permission
		}
		if len(teams) < 100 {
			return nil
		}
	}
}

func (s *RemoteSnapshotter) loadRepoCollaborators(ctx context.Context, repo *RepoState) error {
	for page := 1; ; page++ {
		body, err := s.client.CallRestAPI(ctx,
			fmt.Sprintf("/repos/%s/%s/collaborators", s.org, repo.Name),
			fmt.Sprintf("affiliation=direct&per_page=100&page=%d", page),
			"GET", nil)
		if err != nil {
			return err
		}
		var collaborators []struct {
			Login    string `json:"login"`
			RoleName string `json:"role_name"`
		}
		if err := json.Unmarshal(body, &collaborators); err != nil {
			return fmt.Errorf("parsing collaborators of repository %s: %w", repo.Name, err)
		}
		for _, c := range collaborators {
			repo.Collaborators[strings.ToLower(c.Login)] = c.RoleName
		}
		if len(collaborators) < 100 {
			return nil
		}
	}
}

// branch protection rules only exist on the GraphQL surface
const listBranchProtectionsQuery = `
query listBranchProtections($owner: String!, $name: String!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    branchProtectionRules(first: 50, after: $cursor) {
      nodes {
        pattern
        requiredApprovingReviewCount
        requiresApprovingReviews
        dismissesStaleReviews
        requiredStatusCheckContexts
        pushAllowances(first: 50) {
          nodes {
            actor {
              ... on Team { slug }
              ... on User { login }
              ... on App { slug }
            }
          }
        }
      }
      pageInfo {
        hasNextPage
        endCursor
      }
    }
  }
}`

type protectionsResponse struct {
	Data struct {
		Repository struct {
			BranchProtectionRules struct {
				Nodes []struct {
					Pattern                      string   `json:"pattern"`
					RequiredApprovingReviewCount int      `json:"requiredApprovingReviewCount"`
					RequiresApprovingReviews     bool     `json:"requiresApprovingReviews"`
					DismissesStaleReviews        bool     `json:"dismissesStaleReviews"`
					RequiredStatusCheckContexts  []string `json:"requiredStatusCheckContexts"`
					PushAllowances               struct {
						Nodes []struct {
							Actor struct {
								Slug  string `json:"slug"`
								Login string `json:"login"`
							} `json:"actor"`
						} `json:"nodes"`
					} `json:"pushAllowances"`
				} `json:"nodes"`
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
			} `json:"branchProtectionRules"`
		} `json:"repository"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *RemoteSnapshotter) loadRepoProtections(ctx context.Context, repo *RepoState) error {
	variables := map[string]interface{}{
		"owner":  s.org,
		"name":   repo.Name,
		"cursor": nil,
	}
	for {
		body, err := s.client.QueryGraphQLAPI(ctx, listBranchProtectionsQuery, variables)
		if err != nil {
			return err
		}
		var response protectionsResponse
		if err := json.Unmarshal(body, &response); err != nil {
			return fmt.Errorf("parsing branch protections of repository %s: %w", repo.Name, err)
		}
		if len(response.Errors) > 0 {
			return fmt.Errorf("branch protections of repository %s: %s", repo.Name, response.Errors[0].Message)
		}

		rules := response.Data.Repository.BranchProtectionRules
		for _, node := range rules.Nodes {
			protection := &ProtectionState{
				Pattern:            node.Pattern,
				Checks:             node.RequiredStatusCheckContexts,
				DismissStaleReview: node.DismissesStaleReviews,
				PrRequired:         node.RequiresApprovingReviews,
				RequiredApprovals:  node.RequiredApprovingReviewCount,
			}
			for _, allowance := range node.PushAllowances.Nodes {
				actor := allowance.Actor.Slug
				if actor == "" {
					actor = strings.ToLower(allowance.Actor.Login)
				}
				if actor != "" {
					protection.PushAllowances = append(protection.PushAllowances, actor)
				}
			}
			repo.Protections[node.Pattern] = protection.normalized()
		}

		if !rules.PageInfo.HasNextPage {
			return nil
		}
		variables["cursor"] = rules.PageInfo.EndCursor
	}
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "404")
}
