package engine

import (
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/sirupsen/logrus"
	"github.com/teamsync-project/teamsync/internal/entity"
	"github.com/teamsync-project/teamsync/internal/observability"
	"github.com/teamsync-project/teamsync/internal/utils"
)

/*
 * Corpus is the loaded and validated set of corpus records. It is the
 * read-only source every later stage derives from.
 */
type Corpus interface {
	People() map[string]*entity.Person
	Teams() map[string]*entity.Team
	Repositories() map[string]*entity.Repository

	// LoadAndValidate reads the corpus from the given filesystem and
	// accumulates every error (not just the first) into logsCollector.
	LoadAndValidate(fs billy.Filesystem, logsCollector *observability.LogCollection)
}

type CorpusImpl struct {
	people map[string]*entity.Person
	teams  map[string]*entity.Team
	repos  map[string]*entity.Repository
}

func NewCorpus() *CorpusImpl {
	return &CorpusImpl{
		people: map[string]*entity.Person{},
		teams:  map[string]*entity.Team{},
		repos:  map[string]*entity.Repository{},
	}
}

func (c *CorpusImpl) People() map[string]*entity.Person {
	return c.people
}

func (c *CorpusImpl) Teams() map[string]*entity.Team {
	return c.teams
}

func (c *CorpusImpl) Repositories() map[string]*entity.Repository {
	return c.repos
}

func (c *CorpusImpl) LoadAndValidate(fs billy.Filesystem, logsCollector *observability.LogCollection) {
	people, errs, warns := entity.ReadPeopleDirectory(fs, "people")
	logsCollector.AddErrors(errs)
	logsCollector.AddWarns(warns)
	c.people = people

	teams, errs, warns := entity.ReadTeamDirectory(fs, "teams")
	logsCollector.AddErrors(errs)
	logsCollector.AddWarns(warns)
	c.teams = teams

	repos, errs, warns := entity.ReadRepositoryDirectory(fs, "repos")
	logsCollector.AddErrors(errs)
	logsCollector.AddWarns(warns)
	c.repos = repos

	logrus.Debugf("loaded %d people, %d teams, %d repositories", len(people), len(teams), len(repos))

	// cross-record invariants are only meaningful on records that
	// parsed; per-file errors have already been collected above
	c.validateCrossReferences(logsCollector)
	c.validateTeamGraph(logsCollector)
	c.validateCompositionFlags(logsCollector)
	c.validatePermissionRepos(logsCollector)
}

func (c *CorpusImpl) hasPerson(handle string) bool {
	_, ok := c.people[strings.ToLower(handle)]
	return ok
}

func (c *CorpusImpl) hasTeam(name string) bool {
	_, ok := c.teams[name]
	return ok
}

// validateCrossReferences enforces that every handle resolves to a
// person and every team name resolves to a team.
func (c *CorpusImpl) validateCrossReferences(logsCollector *observability.LogCollection) {
	checkPeople := func(key string, handles []string) {
		for _, handle := range handles {
			if !c.hasPerson(handle) {
				logsCollector.AddError(Invalidf(key, "unknown person %s", handle))
			}
		}
	}
	checkTeams := func(key string, names []string) {
		for _, name := range names {
			if !c.hasTeam(name) {
				logsCollector.AddError(Invalidf(key, "unknown team %s", name))
			}
		}
	}

	for _, name := range utils.SortedKeys(c.teams) {
		team := c.teams[name]
		key := "teams/" + name

		checkPeople(key, team.MemberHandles())
		checkPeople(key, team.People.Leads)
		if team.People.Alumni != nil {
			checkPeople(key, *team.People.Alumni)
		}
		checkTeams(key, team.People.IncludedTeams)
		if team.SubteamOf != "" {
			checkTeams(key, []string{team.SubteamOf})
		}

		for _, list := range team.Lists {
			checkPeople(key, list.ExtraPeople)
			checkPeople(key, list.ExcludedPeople)
			checkTeams(key, list.ExtraTeams)
		}
		for _, group := range team.ZulipGroups {
			checkPeople(key, group.ExtraPeople)
			checkPeople(key, group.ExcludedPeople)
			checkTeams(key, group.ExtraTeams)
		}
		for _, stream := range team.ZulipStreams {
			checkPeople(key, stream.ExtraPeople)
			checkPeople(key, stream.ExcludedPeople)
			checkTeams(key, stream.ExtraTeams)
		}
	}

	for _, fullname := range utils.SortedKeys(c.repos) {
		repo := c.repos[fullname]
		key := "repos/" + fullname

		checkTeams(key, utils.SortedKeys(repo.Access.Teams))
		checkPeople(key, utils.SortedKeys(repo.Access.Individuals))
		for _, bp := range repo.BranchProtections {
			checkTeams(key, bp.AllowedMergeTeams)
		}
	}
}

// validateTeamGraph rejects cycles in subteam-of chains and in the
// included-teams graph.
func (c *CorpusImpl) validateTeamGraph(logsCollector *observability.LogCollection) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)

	detect := func(edges func(*entity.Team) []string, what string) {
		state := make(map[string]int, len(c.teams))
		var visit func(name string, trail []string)
		visit = func(name string, trail []string) {
			switch state[name] {
			case done:
				return
			case visiting:
				logsCollector.AddError(Invalidf("teams/"+name, "%s cycle: %s", what, strings.Join(append(trail, name), " -> ")))
				return
			}
			state[name] = visiting
			team := c.teams[name]
			if team != nil {
				for _, next := range edges(team) {
					if _, ok := c.teams[next]; ok {
						visit(next, append(trail, name))
					}
				}
			}
			state[name] = done
		}
		for _, name := range utils.SortedKeys(c.teams) {
			visit(name, nil)
		}
	}

	detect(func(t *entity.Team) []string {
		if t.SubteamOf == "" {
			return nil
		}
		return []string{t.SubteamOf}
	}, "subteam-of")

	detect(func(t *entity.Team) []string {
		return t.People.IncludedTeams
	}, "included-teams")
}

// validateCompositionFlags enforces that each composition flag is set
// on at most one team.
func (c *CorpusImpl) validateCompositionFlags(logsCollector *observability.LogCollection) {
	flags := []struct {
		name string
		get  func(*entity.Team) bool
	}{
		{"include-all-team-members", func(t *entity.Team) bool { return t.People.IncludeAllTeamMembers }},
		{"include-team-leads", func(t *entity.Team) bool { return t.People.IncludeTeamLeads }},
		{"include-wg-leads", func(t *entity.Team) bool { return t.People.IncludeWgLeads }},
		{"include-project-group-leads", func(t *entity.Team) bool { return t.People.IncludeProjectGroupLeads }},
		{"include-all-alumni", func(t *entity.Team) bool { return t.People.IncludeAllAlumni }},
	}

	for _, flag := range flags {
		holders := []string{}
		for _, name := range utils.SortedKeys(c.teams) {
			if flag.get(c.teams[name]) {
				holders = append(holders, name)
			}
		}
		if len(holders) > 1 {
			logsCollector.AddError(Invalidf("teams", "%s is set on more than one team: %s", flag.name, strings.Join(holders, ", ")))
		}
	}
}

// validatePermissionRepos enforces that every repository referenced by
// a bors permission exists in the repo corpus.
func (c *CorpusImpl) validatePermissionRepos(logsCollector *observability.LogCollection) {
	repoNames := make(map[string]bool, len(c.repos))
	for _, repo := range c.repos {
		repoNames[repo.Name] = true
	}

	check := func(key string, perms *entity.Permissions) {
		for _, repo := range perms.BorsRepos() {
			if !repoNames[repo] {
				logsCollector.AddError(Invalidf(key, "bors permission references unknown repository %s", repo))
			}
		}
	}

	for _, handle := range utils.SortedKeys(c.people) {
		check("people/"+handle, &c.people[handle].Permissions)
	}
	for _, name := range utils.SortedKeys(c.teams) {
		check("teams/"+name, &c.teams[name].Permissions)
		check("teams/"+name, &c.teams[name].LeadsPermissions)
	}
}
