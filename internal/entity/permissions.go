package entity

import (
	"fmt"
	"sort"
)

// BorsACL is the merge-queue grant for one repository. review subsumes try.
type BorsACL struct {
	Review bool
	Try    bool
}

/*
 * Permissions is an open-ended permission set: a flat map of boolean
 * grants plus the hierarchical bors grants keyed by repository name.
 * New flat keys appear over time, so they are not enumerated here;
 * aggregation is OR on booleans.
 */
type Permissions struct {
	Granted map[string]bool
	Bors    map[string]BorsACL
}

func (p *Permissions) UnmarshalTOML(v interface{}) error {
	table, ok := v.(map[string]interface{})
	if !ok {
		return fmt.Errorf("permissions must be a table")
	}

	for key, value := range table {
		if key == "bors" {
			repos, ok := value.(map[string]interface{})
			if !ok {
				return fmt.Errorf("bors permissions must be a table of repositories")
			}
			for repo, grants := range repos {
				acl := BorsACL{}
				grantsTable, ok := grants.(map[string]interface{})
				if !ok {
					return fmt.Errorf("bors.%s must be a table", repo)
				}
				for grant, raw := range grantsTable {
					b, ok := raw.(bool)
					if !ok {
						return fmt.Errorf("bors.%s.%s must be a boolean", repo, grant)
					}
					switch grant {
					case "review":
						acl.Review = b
					case "try":
						acl.Try = b
					default:
						return fmt.Errorf("unknown bors permission bors.%s.%s", repo, grant)
					}
				}
				if p.Bors == nil {
					p.Bors = make(map[string]BorsACL)
				}
				p.Bors[repo] = acl
			}
			continue
		}

		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("permission %s must be a boolean", key)
		}
		if p.Granted == nil {
			p.Granted = make(map[string]bool)
		}
		p.Granted[key] = b
	}
	return nil
}

func (p *Permissions) IsEmpty() bool {
	return len(p.Granted) == 0 && len(p.Bors) == 0
}

func (p *Permissions) Has(key string) bool {
	return p.Granted[key]
}

// CanReview reports whether the bors review grant is held for repo.
func (p *Permissions) CanReview(repo string) bool {
	return p.Bors[repo].Review
}

// CanTry reports whether the bors try grant is held for repo.
// review subsumes try.
func (p *Permissions) CanTry(repo string) bool {
	acl := p.Bors[repo]
	return acl.Try || acl.Review
}

// Union merges another permission set into this one. A permission is
// granted iff any source grants it.
func (p *Permissions) Union(other *Permissions) {
	if other == nil {
		return
	}
	for key, granted := range other.Granted {
		if !granted {
			continue
		}
		if p.Granted == nil {
			p.Granted = make(map[string]bool)
		}
		p.Granted[key] = true
	}
	for repo, acl := range other.Bors {
		if p.Bors == nil {
			p.Bors = make(map[string]BorsACL)
		}
		merged := p.Bors[repo]
		merged.Review = merged.Review || acl.Review
		merged.Try = merged.Try || acl.Try
		p.Bors[repo] = merged
	}
}

// Flatten renders the set as sorted dotted permission names, e.g.
// "perf", "bors.rust.review". The try grant is elided when review is
// held, since review subsumes it.
func (p *Permissions) Flatten() []string {
	flat := []string{}
	for key, granted := range p.Granted {
		if granted {
			flat = append(flat, key)
		}
	}
	for repo, acl := range p.Bors {
		if acl.Review {
			flat = append(flat, fmt.Sprintf("bors.%s.review", repo))
		} else if acl.Try {
			flat = append(flat, fmt.Sprintf("bors.%s.try", repo))
		}
	}
	sort.Strings(flat)
	return flat
}

// BorsRepos returns the repositories named by bors grants, sorted.
func (p *Permissions) BorsRepos() []string {
	repos := make([]string, 0, len(p.Bors))
	for repo := range p.Bors {
		repos = append(repos, repo)
	}
	sort.Strings(repos)
	return repos
}

func (p *Permissions) Validate(path string) []error {
	errs := []error{}
	for repo, acl := range p.Bors {
		if acl.Review && acl.Try {
			errs = append(errs, fmt.Errorf("%s: bors.%s.try is redundant, bors.%s.review already grants it", path, repo, repo))
		}
	}
	return errs
}
