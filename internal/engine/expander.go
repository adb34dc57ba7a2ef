package engine

import (
	"sort"
	"strings"

	"github.com/teamsync-project/teamsync/internal/entity"
	"github.com/teamsync-project/teamsync/internal/utils"
)

/*
 * EffectiveMember is one entry of a team's effective member set: the
 * transitive closure of its declared members after includes,
 * composition flags and role lifts.
 */
type EffectiveMember struct {
	Handle string
	Roles  []string
	Lead   bool
}

type expander struct {
	corpus Corpus
	memo   map[string]map[string]*EffectiveMember
}

func newExpander(corpus Corpus) *expander {
	return &expander{
		corpus: corpus,
		memo:   map[string]map[string]*EffectiveMember{},
	}
}

func (e *expander) add(set map[string]*EffectiveMember, handle string, roles []string, lead bool) {
	handle = strings.ToLower(handle)
	member, ok := set[handle]
	if !ok {
		member = &EffectiveMember{Handle: handle}
		set[handle] = member
	}
	member.Lead = member.Lead || lead
	for _, role := range roles {
		found := false
		for _, held := range member.Roles {
			if held == role {
				found = true
				break
			}
		}
		if !found {
			member.Roles = append(member.Roles, role)
		}
	}
}

/*
 * effectiveMembers resolves the effective member set of a team:
 * declared members, then included teams (recursively, memoised), then
 * the composition flags. The validator has already rejected cycles.
 */
func (e *expander) effectiveMembers(name string) map[string]*EffectiveMember {
	if cached, ok := e.memo[name]; ok {
		return cached
	}
	// placeholder so that a corpus that somehow slipped a cycle past
	// validation terminates instead of recursing forever
	e.memo[name] = map[string]*EffectiveMember{}

	team := e.corpus.Teams()[name]
	if team == nil {
		return e.memo[name]
	}

	set := map[string]*EffectiveMember{}

	leads := make(map[string]bool, len(team.People.Leads))
	for _, lead := range team.People.Leads {
		leads[strings.ToLower(lead)] = true
	}
	for _, member := range team.People.Members {
		e.add(set, member.Handle(), member.Roles, leads[member.Handle()])
	}

	for _, included := range team.People.IncludedTeams {
		for _, member := range e.effectiveMembers(included) {
			e.add(set, member.Handle, nil, false)
		}
	}

	if team.People.IncludeAllTeamMembers {
		for otherName, other := range e.corpus.Teams() {
			if otherName == name || other.Kind == entity.KindMarkerTeam {
				continue
			}
			for _, handle := range other.MemberHandles() {
				e.add(set, handle, nil, false)
			}
		}
	}

	if team.People.IncludeTeamLeads {
		e.addLeadsOfKind(set, name, "")
	}
	if team.People.IncludeWgLeads {
		e.addLeadsOfKind(set, name, entity.KindWorkingGroup)
	}
	if team.People.IncludeProjectGroupLeads {
		e.addLeadsOfKind(set, name, entity.KindProjectGroup)
	}

	if team.People.IncludeAllAlumni {
		for _, other := range e.corpus.Teams() {
			if other.People.Alumni == nil {
				continue
			}
			for _, handle := range *other.People.Alumni {
				e.add(set, handle, nil, false)
			}
		}
	}

	e.memo[name] = set
	return set
}

// addLeadsOfKind unions in the leads of every team of the given kind
// (any kind when empty), excluding the team being expanded.
func (e *expander) addLeadsOfKind(set map[string]*EffectiveMember, name string, kind string) {
	for otherName, other := range e.corpus.Teams() {
		if otherName == name {
			continue
		}
		if kind != "" && other.Kind != kind {
			continue
		}
		for _, lead := range other.People.Leads {
			e.add(set, lead, nil, false)
		}
	}
}

// effectiveLeads is the subset of the effective member set holding the
// implicit "Team leader" role.
func (e *expander) effectiveLeads(name string) []string {
	leads := []string{}
	for handle, member := range e.effectiveMembers(name) {
		if member.Lead {
			leads = append(leads, handle)
		}
	}
	sort.Strings(leads)
	return leads
}

/*
 * effectivePermissions aggregates a person's permission set: their
 * direct permissions, the permissions of every team they are an
 * effective member of, and the leads-permissions of every team they
 * lead. A permission is granted iff any source grants it.
 */
func (e *expander) effectivePermissions(handle string) *entity.Permissions {
	handle = strings.ToLower(handle)
	perms := &entity.Permissions{}

	if person := e.corpus.People()[handle]; person != nil {
		perms.Union(&person.Permissions)
	}

	for _, name := range utils.SortedKeys(e.corpus.Teams()) {
		team := e.corpus.Teams()[name]
		member, ok := e.effectiveMembers(name)[handle]
		if !ok {
			continue
		}
		perms.Union(&team.Permissions)
		if member.Lead {
			perms.Union(&team.LeadsPermissions)
		}
	}

	return perms
}

/*
 * renderMailList renders one mail list: the team's effective members
 * (unless disabled), extra people and emails, members of extra teams,
 * minus excluded people. Persons with email = false, or with no email,
 * are elided. Addresses are sorted lexicographically.
 */
func (e *expander) renderMailList(team *entity.Team, list *entity.MailList) []string {
	addresses := map[string]bool{}

	addPerson := func(handle string) {
		person := e.corpus.People()[strings.ToLower(handle)]
		if person == nil || !person.Email.IsSet() {
			return
		}
		addresses[person.Email.Address] = true
	}

	if list.TeamMembersIncluded() {
		for handle := range e.effectiveMembers(team.Name) {
			addPerson(handle)
		}
	}
	for _, handle := range list.ExtraPeople {
		addPerson(handle)
	}
	for _, address := range list.ExtraEmails {
		addresses[address] = true
	}
	for _, extraTeam := range list.ExtraTeams {
		for handle := range e.effectiveMembers(extraTeam) {
			addPerson(handle)
		}
	}
	for _, handle := range list.ExcludedPeople {
		person := e.corpus.People()[strings.ToLower(handle)]
		if person != nil && person.Email.IsSet() {
			delete(addresses, person.Email.Address)
		}
	}

	return utils.SortedKeys(addresses)
}

/*
 * renderChatGroup renders one zulip group or stream as the sorted set
 * of chat ids. Persons with no zulip id are elided.
 */
func (e *expander) renderChatGroup(team *entity.Team, group *entity.ChatGroup) []int64 {
	ids := map[int64]bool{}

	addPerson := func(handle string) {
		person := e.corpus.People()[strings.ToLower(handle)]
		if person == nil || person.ZulipID == 0 {
			return
		}
		ids[person.ZulipID] = true
	}

	if group.TeamMembersIncluded() {
		for handle := range e.effectiveMembers(team.Name) {
			addPerson(handle)
		}
	}
	for _, handle := range group.ExtraPeople {
		addPerson(handle)
	}
	for _, id := range group.ExtraZulipIDs {
		ids[id] = true
	}
	for _, extraTeam := range group.ExtraTeams {
		for handle := range e.effectiveMembers(extraTeam) {
			addPerson(handle)
		}
	}
	for _, handle := range group.ExcludedPeople {
		person := e.corpus.People()[strings.ToLower(handle)]
		if person != nil && person.ZulipID != 0 {
			delete(ids, person.ZulipID)
		}
	}

	sorted := make([]int64, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}
