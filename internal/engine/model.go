package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/teamsync-project/teamsync/internal/entity"
	"github.com/teamsync-project/teamsync/internal/utils"
)

/*
 * Model is the materialised, immutable view of the corpus after
 * expansion. It is produced entirely in memory before any RPC and is
 * shared read-only between adapters.
 */
type Model struct {
	corpus Corpus

	members     map[string][]*EffectiveMember // team name -> sorted effective members
	leads       map[string][]string           // team name -> sorted effective leads
	permissions map[string]*entity.Permissions

	mailLists   map[string]*MailListView
	zulipGroups []*ChatGroupView
	zulipStream []*ChatGroupView
	chatRoles   []*ChatRoleView
}

// MailListView is a rendered mailing list.
type MailListView struct {
	Address string   `json:"address"`
	Team    string   `json:"team"`
	Members []string `json:"members"`
}

// ChatGroupView is a rendered chat group or stream.
type ChatGroupView struct {
	Name      string  `json:"name"`
	Team      string  `json:"team"`
	MemberIDs []int64 `json:"member_ids"`
}

// ChatRoleView is a chat-platform role definition.
type ChatRoleView struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Team  string `json:"team"`
}

// MemberView is one member in the external projection of a team.
type MemberView struct {
	Handle string   `json:"handle"`
	Name   string   `json:"name"`
	Roles  []string `json:"roles,omitempty"`
	Lead   bool     `json:"lead"`
}

// TeamView is the external projection of a team, minus provenance.
type TeamView struct {
	Name     string                    `json:"name"`
	Kind     string                    `json:"kind"`
	Parent   string                    `json:"parent,omitempty"`
	TopLevel bool                      `json:"top_level"`
	Members  []MemberView              `json:"members"`
	Alumni   []string                  `json:"alumni,omitempty"`
	GitHub   *entity.GitHubIntegration `json:"github,omitempty"`
	Website  *entity.WebsiteData       `json:"website,omitempty"`
	Rfcbot   *entity.RfcbotData        `json:"rfcbot,omitempty"`
}

// PersonView is the external projection of a person.
type PersonView struct {
	Handle      string   `json:"handle"`
	Name        string   `json:"name"`
	GitHubID    int64    `json:"github_id"`
	Email       string   `json:"email,omitempty"`
	Permissions []string `json:"permissions"`
}

/*
 * BuildModel expands the validated corpus into the materialised model.
 * The corpus must have passed validation: expansion assumes resolved
 * references and an acyclic team graph.
 */
func BuildModel(corpus Corpus) *Model {
	e := newExpander(corpus)

	model := &Model{
		corpus:      corpus,
		members:     map[string][]*EffectiveMember{},
		leads:       map[string][]string{},
		permissions: map[string]*entity.Permissions{},
		mailLists:   map[string]*MailListView{},
	}

	for _, name := range utils.SortedKeys(corpus.Teams()) {
		team := corpus.Teams()[name]

		set := e.effectiveMembers(name)
		members := make([]*EffectiveMember, 0, len(set))
		for _, handle := range utils.SortedKeys(set) {
			member := *set[handle]
			sort.Strings(member.Roles)
			members = append(members, &member)
		}
		model.members[name] = members
		model.leads[name] = e.effectiveLeads(name)

		for i := range team.Lists {
			list := &team.Lists[i]
			model.mailLists[list.Address] = &MailListView{
				Address: list.Address,
				Team:    name,
				Members: e.renderMailList(team, list),
			}
		}
		for i := range team.ZulipGroups {
			group := &team.ZulipGroups[i]
			model.zulipGroups = append(model.zulipGroups, &ChatGroupView{
				Name:      group.Name,
				Team:      name,
				MemberIDs: e.renderChatGroup(team, group),
			})
		}
		for i := range team.ZulipStreams {
			stream := &team.ZulipStreams[i]
			model.zulipStream = append(model.zulipStream, &ChatGroupView{
				Name:      stream.Name,
				Team:      name,
				MemberIDs: e.renderChatGroup(team, stream),
			})
		}
		for _, role := range team.ChatRoles {
			model.chatRoles = append(model.chatRoles, &ChatRoleView{
				Name:  role.Name,
				Color: role.Color,
				Team:  name,
			})
		}
	}

	for handle := range corpus.People() {
		model.permissions[handle] = e.effectivePermissions(handle)
	}

	sort.Slice(model.zulipGroups, func(i, j int) bool { return model.zulipGroups[i].Name < model.zulipGroups[j].Name })
	sort.Slice(model.zulipStream, func(i, j int) bool { return model.zulipStream[i].Name < model.zulipStream[j].Name })
	sort.Slice(model.chatRoles, func(i, j int) bool { return model.chatRoles[i].Name < model.chatRoles[j].Name })

	return model
}

func (m *Model) Corpus() Corpus {
	return m.corpus
}

// TeamNames returns all team names in lexicographic order.
func (m *Model) TeamNames() []string {
	return utils.SortedKeys(m.corpus.Teams())
}

func (m *Model) Team(name string) *entity.Team {
	return m.corpus.Teams()[name]
}

// PeopleHandles returns all person handles in lexicographic order.
func (m *Model) PeopleHandles() []string {
	return utils.SortedKeys(m.corpus.People())
}

func (m *Model) Person(handle string) *entity.Person {
	return m.corpus.People()[strings.ToLower(handle)]
}

// RepositoryNames returns all "org/name" keys in lexicographic order.
func (m *Model) RepositoryNames() []string {
	return utils.SortedKeys(m.corpus.Repositories())
}

func (m *Model) Repository(fullname string) *entity.Repository {
	return m.corpus.Repositories()[fullname]
}

// Organizations returns every org referenced by a repo or a team's
// source-forge integration, sorted.
func (m *Model) Organizations() []string {
	orgs := map[string]bool{}
	for _, repo := range m.corpus.Repositories() {
		orgs[repo.Org] = true
	}
	for _, team := range m.corpus.Teams() {
		if team.GitHub == nil {
			continue
		}
		for _, org := range team.GitHub.Orgs {
			orgs[org] = true
		}
	}
	return utils.SortedKeys(orgs)
}

// EffectiveMembers returns the effective member set of a team, sorted
// by handle. Nil for an unknown team.
func (m *Model) EffectiveMembers(team string) []*EffectiveMember {
	return m.members[team]
}

// EffectiveLeads returns the effective lead set of a team, sorted.
func (m *Model) EffectiveLeads(team string) []string {
	return m.leads[team]
}

// PermissionsOf returns the aggregated permission set of a person.
func (m *Model) PermissionsOf(handle string) *entity.Permissions {
	perms := m.permissions[strings.ToLower(handle)]
	if perms == nil {
		return &entity.Permissions{}
	}
	return perms
}

// MailLists returns every rendered mailing list keyed by address.
func (m *Model) MailLists() map[string]*MailListView {
	return m.mailLists
}

func (m *Model) MailList(address string) *MailListView {
	return m.mailLists[address]
}

// ZulipGroups returns every rendered chat group, sorted by name.
func (m *Model) ZulipGroups() []*ChatGroupView {
	return m.zulipGroups
}

// ZulipStreams returns every rendered chat stream, sorted by name.
func (m *Model) ZulipStreams() []*ChatGroupView {
	return m.zulipStream
}

// ChatRoles returns every chat-platform role definition, sorted by name.
func (m *Model) ChatRoles() []*ChatRoleView {
	return m.chatRoles
}

// TeamView renders the external projection of a team.
func (m *Model) TeamView(name string) (*TeamView, error) {
	team := m.corpus.Teams()[name]
	if team == nil {
		return nil, fmt.Errorf("unknown team %s", name)
	}

	view := &TeamView{
		Name:     team.Name,
		Kind:     team.Kind,
		Parent:   team.SubteamOf,
		TopLevel: team.TopLevel,
		Members:  []MemberView{},
		GitHub:   team.GitHub,
		Website:  team.Website,
		Rfcbot:   team.Rfcbot,
	}
	for _, member := range m.members[name] {
		mv := MemberView{
			Handle: member.Handle,
			Roles:  member.Roles,
			Lead:   member.Lead,
		}
		if person := m.Person(member.Handle); person != nil {
			mv.Name = person.Name
		}
		view.Members = append(view.Members, mv)
	}
	if team.People.Alumni != nil {
		alumni := append([]string{}, *team.People.Alumni...)
		for i := range alumni {
			alumni[i] = strings.ToLower(alumni[i])
		}
		sort.Strings(alumni)
		view.Alumni = alumni
	}
	return view, nil
}

// PersonView renders the external projection of a person.
func (m *Model) PersonView(handle string) (*PersonView, error) {
	person := m.Person(handle)
	if person == nil {
		return nil, fmt.Errorf("unknown person %s", handle)
	}
	return &PersonView{
		Handle:      person.Handle(),
		Name:        person.Name,
		GitHubID:    person.GitHubID,
		Email:       person.Email.Address,
		Permissions: m.PermissionsOf(handle).Flatten(),
	}, nil
}
