package entity

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/teamsync-project/teamsync/internal/utils"
)

const (
	RepoRoleTriage   = "triage"
	RepoRoleWrite    = "write"
	RepoRoleMaintain = "maintain"
	RepoRoleAdmin    = "admin"
)

const (
	MergeBotHomu = "homu"
	MergeBotBors = "bors"
)

// HomuBotAccount is the platform account the homu merge bot operates as.
const HomuBotAccount = "bors"

func validRepoRole(role string) bool {
	switch role {
	case RepoRoleTriage, RepoRoleWrite, RepoRoleMaintain, RepoRoleAdmin:
		return true
	}
	return false
}

type RepoAccess struct {
	Teams       map[string]string `toml:"teams"`
	Individuals map[string]string `toml:"individuals"`
}

type BranchProtection struct {
	Pattern            string   `toml:"pattern"`
	CIChecks           []string `toml:"ci-checks"`
	DismissStaleReview bool     `toml:"dismiss-stale-review"`
	PrRequired         *bool    `toml:"pr-required"`
	RequiredApprovals  *int     `toml:"required-approvals"`
	AllowedMergeTeams  []string `toml:"allowed-merge-teams"`
	MergeBots          []string `toml:"merge-bots"`
}

func (bp *BranchProtection) PrIsRequired() bool {
	return bp.PrRequired == nil || *bp.PrRequired
}

// ApprovalsRequired resolves the effective approval count: explicit
// value if set, 0 when a merge bot drives the queue, 1 when a pull
// request is required, 0 otherwise.
func (bp *BranchProtection) ApprovalsRequired() int {
	if bp.RequiredApprovals != nil {
		return *bp.RequiredApprovals
	}
	if len(bp.MergeBots) > 0 {
		return 0
	}
	if bp.PrIsRequired() {
		return 1
	}
	return 0
}

/*
 * Repository is keyed by (org, name): repos/<org>/<name>.toml.
 */
type Repository struct {
	Org               string             `toml:"org"`
	Name              string             `toml:"name"`
	Description       string             `toml:"description"`
	Homepage          string             `toml:"homepage"`
	Bots              []string           `toml:"bots"`
	Archived          bool               `toml:"archived"`
	Access            RepoAccess         `toml:"access"`
	BranchProtections []BranchProtection `toml:"branch-protections"`
}

// FullName is the corpus key of the repository.
func (r *Repository) FullName() string {
	return r.Org + "/" + r.Name
}

func NewRepository(fs billy.Filesystem, filename string) (*Repository, error) {
	filecontent, err := utils.ReadFile(fs, filename)
	if err != nil {
		return nil, err
	}

	repo := &Repository{}
	if err := decodeStrict(filecontent, filename, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *Repository) Validate(filename string) []error {
	errs := []error{}

	dir := filepath.Base(filepath.Dir(filename))
	base := filepath.Base(filename)
	base = base[:len(base)-len(filepath.Ext(base))]

	if r.Org == "" {
		errs = append(errs, fmt.Errorf("org is empty for repo filename %s", filename))
	} else if r.Org != dir {
		errs = append(errs, fmt.Errorf("org %s does not match directory for repo filename %s", r.Org, filename))
	}
	if r.Name == "" {
		errs = append(errs, fmt.Errorf("name is empty for repo filename %s", filename))
	} else if r.Name != base {
		errs = append(errs, fmt.Errorf("name %s does not match filename %s", r.Name, filename))
	}
	if r.Description == "" {
		errs = append(errs, fmt.Errorf("description is empty for repo filename %s", filename))
	}

	for team, role := range r.Access.Teams {
		if !validRepoRole(role) {
			errs = append(errs, fmt.Errorf("invalid role %s for team %s in repo %s", role, team, r.FullName()))
		}
	}
	for handle, role := range r.Access.Individuals {
		if !validRepoRole(role) {
			errs = append(errs, fmt.Errorf("invalid role %s for individual %s in repo %s", role, handle, r.FullName()))
		}
	}

	bots := make(map[string]bool, len(r.Bots))
	for _, bot := range r.Bots {
		bots[bot] = true
	}

	patterns := make(map[string]bool)
	for _, bp := range r.BranchProtections {
		if bp.Pattern == "" {
			errs = append(errs, fmt.Errorf("branch protection with empty pattern in repo %s", r.FullName()))
			continue
		}
		if patterns[bp.Pattern] {
			errs = append(errs, fmt.Errorf("duplicate branch protection pattern %s in repo %s", bp.Pattern, r.FullName()))
		}
		patterns[bp.Pattern] = true

		if bp.PrRequired != nil && !*bp.PrRequired {
			if len(bp.CIChecks) > 0 {
				errs = append(errs, fmt.Errorf("protection %s of repo %s: ci-checks requires pr-required", bp.Pattern, r.FullName()))
			}
			if bp.RequiredApprovals != nil {
				errs = append(errs, fmt.Errorf("protection %s of repo %s: required-approvals requires pr-required", bp.Pattern, r.FullName()))
			}
		}

		if len(bp.MergeBots) > 0 {
			if bp.RequiredApprovals != nil {
				errs = append(errs, fmt.Errorf("protection %s of repo %s: required-approvals may not be set with merge-bots", bp.Pattern, r.FullName()))
			}
			if bp.PrRequired != nil {
				errs = append(errs, fmt.Errorf("protection %s of repo %s: pr-required may not be set with merge-bots", bp.Pattern, r.FullName()))
			}
		}
		for _, bot := range bp.MergeBots {
			switch bot {
			case MergeBotHomu:
				if !bots[HomuBotAccount] {
					errs = append(errs, fmt.Errorf("protection %s of repo %s: homu requires the %s bot on the repository", bp.Pattern, r.FullName(), HomuBotAccount))
				}
			case MergeBotBors:
			default:
				errs = append(errs, fmt.Errorf("protection %s of repo %s: unknown merge bot %s", bp.Pattern, r.FullName(), bot))
			}
		}

		if bp.RequiredApprovals != nil && *bp.RequiredApprovals < 0 {
			errs = append(errs, fmt.Errorf("protection %s of repo %s: required-approvals must be non-negative", bp.Pattern, r.FullName()))
		}
	}

	return errs
}

/**
 * ReadRepositoryDirectory reads repos/<org>/<name>.toml files and returns
 * - a map of Repository objects keyed by "org/name"
 * - a slice of errors that must stop the validation process
 * - a slice of warnings that must not stop the validation process
 */
func ReadRepositoryDirectory(fs billy.Filesystem, dirname string) (map[string]*Repository, []error, []Warning) {
	errors := []error{}
	warnings := []Warning{}
	repos := make(map[string]*Repository)

	exist, err := utils.Exists(fs, dirname)
	if err != nil {
		errors = append(errors, err)
		return repos, errors, warnings
	}
	if !exist {
		return repos, errors, warnings
	}

	orgs, err := fs.ReadDir(dirname)
	if err != nil {
		errors = append(errors, err)
		return repos, errors, warnings
	}

	for _, org := range orgs {
		if !org.IsDir() {
			continue
		}
		if org.Name()[0] == '.' {
			continue
		}
		entries, err := fs.ReadDir(filepath.Join(dirname, org.Name()))
		if err != nil {
			errors = append(errors, err)
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if e.Name()[0] == '.' {
				continue
			}
			if !strings.HasSuffix(e.Name(), ".toml") {
				continue
			}
			filename := filepath.Join(dirname, org.Name(), e.Name())
			repo, err := NewRepository(fs, filename)
			if err != nil {
				errors = append(errors, err)
				continue
			}
			if errs := repo.Validate(filename); len(errs) > 0 {
				errors = append(errors, errs...)
				continue
			}
			if _, ok := repos[repo.FullName()]; ok {
				errors = append(errors, fmt.Errorf("duplicate repository %s in %s", repo.FullName(), filename))
				continue
			}
			repos[repo.FullName()] = repo
		}
	}
	return repos, errors, warnings
}
