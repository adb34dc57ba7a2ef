package githubsync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/teamsync-project/teamsync/internal/github"
	"github.com/teamsync-project/teamsync/internal/utils"
)

/*
 * RestExecutor performs the adapter mutations against the platform
 * REST API (branch protections go through GraphQL). Every call is
 * idempotent: PUT/PATCH semantics, so applying an operation twice
 * yields the same remote state.
 */
type RestExecutor struct {
	client github.Client
}

func NewRestExecutor(client github.Client) *RestExecutor {
	return &RestExecutor{client: client}
}

func (e *RestExecutor) CreateTeam(ctx context.Context, org string, team *TeamState) error {
	// https://docs.github.com/en/rest/teams/teams#create-a-team
	body := map[string]interface{}{
		"name":        team.Name,
		"description": team.Description,
		"privacy":     team.Privacy,
	}
	if team.ParentSlug != "" {
		parentID, err := e.teamID(ctx, org, team.ParentSlug)
		if err != nil {
			return err
		}
		body["parent_team_id"] = parentID
	}
	response, err := e.client.CallRestAPI(ctx, fmt.Sprintf("/orgs/%s/teams", org), "", "POST", body)
	if err != nil {
		return err
	}
	var created struct {
		Slug string `json:"slug"`
	}
	if err := json.Unmarshal(response, &created); err != nil {
		return fmt.Errorf("parsing created team: %w", err)
	}

	for _, login := range utils.SortedKeys(team.Members) {
		if err := e.AddTeamMember(ctx, org, created.Slug, login, team.Members[login]); err != nil {
			return err
		}
	}
	return nil
}

func (e *RestExecutor) teamID(ctx context.Context, org, slug string) (int64, error) {
	response, err := e.client.CallRestAPI(ctx, fmt.Sprintf("/orgs/%s/teams/%s", org, slug), "", "GET", nil)
	if err != nil {
		return 0, err
	}
	var team struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(response, &team); err != nil {
		return 0, fmt.Errorf("parsing team %s: %w", slug, err)
	}
	return team.ID, nil
}

func (e *RestExecutor) UpdateTeam(ctx context.Context, org, slug, description, privacy, parentSlug string) error {
	// https://docs.github.com/en/rest/teams/teams#update-a-team
	body := map[string]interface{}{
		"description": description,
		"privacy":     privacy,
	}
	if parentSlug == "" {
		body["parent_team_id"] = nil
	} else {
		parentID, err := e.teamID(ctx, org, parentSlug)
		if err != nil {
			return err
		}
		body["parent_team_id"] = parentID
	}
	_, err := e.client.CallRestAPI(ctx, fmt.Sprintf("/orgs/%s/teams/%s", org, slug), "", "PATCH", body)
	return err
}

func (e *RestExecutor) AddTeamMember(ctx context.Context, org, slug, login, role string) error {
	// https://docs.github.com/en/rest/teams/members#add-or-update-team-membership-for-a-user
	_, err := e.client.CallRestAPI(ctx,
		fmt.Sprintf("/orgs/%s/teams/%s/memberships/%s", org, slug, login),
		"", "PUT", map[string]interface{}{"role": role})
	return err
}

func (e *RestExecutor) UpdateTeamMemberRole(ctx context.Context, org, slug, login, role string) error {
	return e.AddTeamMember(ctx, org, slug, login, role)
}

func (e *RestExecutor) RemoveTeamMember(ctx context.Context, org, slug, login string) error {
	_, err := e.client.CallRestAPI(ctx,
		fmt.Sprintf("/orgs/%s/teams/%s/memberships/%s", org, slug, login),
		"", "DELETE", nil)
	return err
}

func (e *RestExecutor) CreateRepository(ctx context.Context, org string, repo *RepoState) error {
	// https://docs.github.com/en/rest/repos/repos#create-an-organization-repository
	_, err := e.client.CallRestAPI(ctx, fmt.Sprintf("/orgs/%s/repos", org), "", "POST", map[string]interface{}{
		"name":        repo.Name,
		"description": repo.Description,
		"homepage":    repo.Homepage,
		"private":     false,
		"auto_init":   true,
	})
	return err
}

func (e *RestExecutor) UpdateRepositoryMetadata(ctx context.Context, org, repo, description, homepage string) error {
	_, err := e.client.CallRestAPI(ctx, fmt.Sprintf("/repos/%s/%s", org, repo), "", "PATCH", map[string]interface{}{
		"description": description,
		"homepage":    homepage,
	})
	return err
}

func (e *RestExecutor) SetRepositoryArchived(ctx context.Context, org, repo string, archived bool) error {
	_, err := e.client.CallRestAPI(ctx, fmt.Sprintf("/repos/%s/%s", org, repo), "", "PATCH", map[string]interface{}{
		"archived": archived,
	})
	return err
}

func (e *RestExecutor) SetTeamAccess(ctx context.Context, org, repo, slug, permission string) error {
	// https://docs.github.com/en/rest/teams/teams#add-or-update-team-repository-permissions
	_, err := e.client.CallRestAPI(ctx,
		fmt.Sprintf("/orgs/%s/teams/%s/repos/%s/%s", org, slug, org, repo),
		"", "PUT", map[string]interface{}{"permission": permission})
	return err
}

func (e *RestExecutor) RemoveTeamAccess(ctx context.Context, org, repo, slug string) error {
	_, err := e.client.CallRestAPI(ctx,
		fmt.Sprintf("/orgs/%s/teams/%s/repos/%s/%s", org, slug, org, repo),
		"", "DELETE", nil)
	return err
}

func (e *RestExecutor) SetCollaborator(ctx context.Context, org, repo, login, permission string) error {
	// https://docs.github.com/en/rest/collaborators/collaborators#add-a-repository-collaborator
	_, err := e.client.CallRestAPI(ctx,
		fmt.Sprintf("/repos/%s/%s/collaborators/%s", org, repo, login),
		"", "PUT", map[string]interface{}{"permission": permission})
	return err
}

func (e *RestExecutor) RemoveCollaborator(ctx context.Context, org, repo, login string) error {
	_, err := e.client.CallRestAPI(ctx,
		fmt.Sprintf("/repos/%s/%s/collaborators/%s", org, repo, login),
		"", "DELETE", nil)
	return err
}

const createBranchProtectionMutation = `
mutation createBranchProtection($repositoryId: ID!, $pattern: String!, $requiresApprovingReviews: Boolean!, $requiredApprovingReviewCount: Int!, $dismissesStaleReviews: Boolean!, $requiresStatusChecks: Boolean!, $requiredStatusCheckContexts: [String!]!, $restrictsPushes: Boolean!, $pushActorIds: [ID!]) {
  createBranchProtectionRule(input: {
    repositoryId: $repositoryId,
    pattern: $pattern,
    requiresApprovingReviews: $requiresApprovingReviews,
    requiredApprovingReviewCount: $requiredApprovingReviewCount,
    dismissesStaleReviews: $dismissesStaleReviews,
    requiresStatusChecks: $requiresStatusChecks,
    requiredStatusCheckContexts: $requiredStatusCheckContexts,
    restrictsPushes: $restrictsPushes,
    pushActorIds: $pushActorIds
  }) {
    branchProtectionRule { id }
  }
}`

const updateBranchProtectionMutation = `
mutation updateBranchProtection($ruleId: ID!, $requiresApprovingReviews: Boolean, $requiredApprovingReviewCount: Int, $dismissesStaleReviews: Boolean, $requiredStatusCheckContexts: [String!], $pushActorIds: [ID!]) {
  updateBranchProtectionRule(input: {
    branchProtectionRuleId: $ruleId,
    requiresApprovingReviews: $requiresApprovingReviews,
    requiredApprovingReviewCount: $requiredApprovingReviewCount,
    dismissesStaleReviews: $dismissesStaleReviews,
    requiredStatusCheckContexts: $requiredStatusCheckContexts,
    pushActorIds: $pushActorIds
  }) {
    branchProtectionRule { id }
  }
}`

const deleteBranchProtectionMutation = `
mutation deleteBranchProtection($ruleId: ID!) {
  deleteBranchProtectionRule(input: { branchProtectionRuleId: $ruleId }) {
    clientMutationId
  }
}`

func (e *RestExecutor) CreateBranchProtection(ctx context.Context, org, repo string, protection *ProtectionState) error {
	repositoryID, err := e.repositoryNodeID(ctx, org, repo)
	if err != nil {
		return err
	}
	actorIDs, err := e.actorNodeIDs(ctx, org, protection.PushAllowances)
	if err != nil {
		return err
	}

	_, err = e.client.QueryGraphQLAPI(ctx, createBranchProtectionMutation, map[string]interface{}{
		"repositoryId":                 repositoryID,
		"pattern":                      protection.Pattern,
		"requiresApprovingReviews":     protection.PrRequired,
		"requiredApprovingReviewCount": protection.RequiredApprovals,
		"dismissesStaleReviews":        protection.DismissStaleReview,
		"requiresStatusChecks":         len(protection.Checks) > 0,
		"requiredStatusCheckContexts":  protection.Checks,
		"restrictsPushes":              len(protection.PushAllowances) > 0,
		"pushActorIds":                 actorIDs,
	})
	return err
}

func (e *RestExecutor) UpdateBranchProtection(ctx context.Context, org, repo, pattern string, changes *ProtectionChanges) error {
	ruleID, err := e.protectionRuleID(ctx, org, repo, pattern)
	if err != nil {
		return err
	}

	// only the changed fields travel on the wire
	variables := map[string]interface{}{"ruleId": ruleID}
	if changes.PrRequired != nil {
		variables["requiresApprovingReviews"] = *changes.PrRequired
	}
	if changes.RequiredApprovals != nil {
		variables["requiredApprovingReviewCount"] = *changes.RequiredApprovals
	}
	if changes.DismissStaleReview != nil {
		variables["dismissesStaleReviews"] = *changes.DismissStaleReview
	}
	if changes.Checks != nil {
		variables["requiredStatusCheckContexts"] = *changes.Checks
	}
	if changes.PushAllowances != nil {
		actorIDs, err := e.actorNodeIDs(ctx, org, *changes.PushAllowances)
		if err != nil {
			return err
		}
		variables["pushActorIds"] = actorIDs
	}

	_, err = e.client.QueryGraphQLAPI(ctx, updateBranchProtectionMutation, variables)
	return err
}

func (e *RestExecutor) DeleteBranchProtection(ctx context.Context, org, repo, pattern string) error {
	ruleID, err := e.protectionRuleID(ctx, org, repo, pattern)
	if err != nil {
		return err
	}
	_, err = e.client.QueryGraphQLAPI(ctx, deleteBranchProtectionMutation, map[string]interface{}{
		"ruleId": ruleID,
	})
	return err
}

func (e *RestExecutor) repositoryNodeID(ctx context.Context, org, repo string) (string, error) {
	response, err := e.client.CallRestAPI(ctx, fmt.Sprintf("/repos/%s/%s", org, repo), "", "GET", nil)
	if err != nil {
		return "", err
	}
	var meta struct {
		NodeID string `json:"node_id"`
	}
	if err := json.Unmarshal(response, &meta); err != nil {
		return "", fmt.Errorf("parsing repository %s: %w", repo, err)
	}
	return meta.NodeID, nil
}

// actorNodeIDs resolves push allowance actors: a team slug in the
// organization, or a user/bot login.
func (e *RestExecutor) actorNodeIDs(ctx context.Context, org string, actors []string) ([]string, error) {
	ids := []string{}
	for _, actor := range actors {
		response, err := e.client.CallRestAPI(ctx, fmt.Sprintf("/orgs/%s/teams/%s", org, actor), "", "GET", nil)
		if err == nil {
			var team struct {
				NodeID string `json:"node_id"`
			}
			if err := json.Unmarshal(response, &team); err != nil {
				return nil, fmt.Errorf("parsing team %s: %w", actor, err)
			}
			ids = append(ids, team.NodeID)
			continue
		}
		if !isNotFound(err) {
			return nil, err
		}

		response, err = e.client.CallRestAPI(ctx, fmt.Sprintf("/users/%s", actor), "", "GET", nil)
		if err != nil {
			return nil, err
		}
		var user struct {
			NodeID string `json:"node_id"`
		}
		if err := json.Unmarshal(response, &user); err != nil {
			return nil, fmt.Errorf("parsing user %s: %w", actor, err)
		}
		ids = append(ids, user.NodeID)
	}
	return ids, nil
}

func (e *RestExecutor) protectionRuleID(ctx context.Context, org, repo, pattern string) (string, error) {
	const query = `
query protectionRuleId($owner: String!, $name: String!) {
  repository(owner: $owner, name: $name) {
    branchProtectionRules(first: 100) {
      nodes { id pattern }
    }
  }
}`
	response, err := e.client.QueryGraphQLAPI(ctx, query, map[string]interface{}{
		"owner": org,
		"name":  repo,
	})
	if err != nil {
		return "", err
	}
	var parsed struct {
		Data struct {
			Repository struct {
				BranchProtectionRules struct {
					Nodes []struct {
						ID      string `json:"id"`
						Pattern string `json:"pattern"`
					} `json:"nodes"`
				} `json:"branchProtectionRules"`
			} `json:"repository"`
		} `json:"data"`
	}
	if err := json.Unmarshal(response, &parsed); err != nil {
		return "", fmt.Errorf("parsing protection rules of %s: %w", repo, err)
	}
	for _, node := range parsed.Data.Repository.BranchProtectionRules.Nodes {
		if node.Pattern == pattern {
			return node.ID, nil
		}
	}
	return "", fmt.Errorf("branch protection %s not found on %s/%s", pattern, org, repo)
}
