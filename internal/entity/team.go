package entity

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/teamsync-project/teamsync/internal/utils"
)

const (
	KindTeam         = "team"
	KindWorkingGroup = "working-group"
	KindProjectGroup = "project-group"
	KindMarkerTeam   = "marker-team"
)

/*
 * TeamMember is one entry of the direct member list. The corpus allows
 * either a bare handle or a table with role tags:
 *
 *   members = ["alice", { github = "bob", roles = ["spec-editor"] }]
 */
type TeamMember struct {
	GitHub string
	Roles  []string
}

func (m *TeamMember) UnmarshalTOML(v interface{}) error {
	switch value := v.(type) {
	case string:
		m.GitHub = value
	case map[string]interface{}:
		for key, raw := range value {
			switch key {
			case "github":
				s, ok := raw.(string)
				if !ok {
					return fmt.Errorf("member github must be a string")
				}
				m.GitHub = s
			case "roles":
				arr, ok := raw.([]interface{})
				if !ok {
					return fmt.Errorf("member roles must be an array of strings")
				}
				for _, e := range arr {
					s, ok := e.(string)
					if !ok {
						return fmt.Errorf("member roles must be an array of strings")
					}
					m.Roles = append(m.Roles, s)
				}
			default:
				return fmt.Errorf("unknown member field %s", key)
			}
		}
		if m.GitHub == "" {
			return fmt.Errorf("member table requires a github handle")
		}
	default:
		return fmt.Errorf("member must be a handle or a table")
	}
	return nil
}

func (m *TeamMember) Handle() string {
	return strings.ToLower(m.GitHub)
}

// Role declares a role members of this team may hold. The "Team leader"
// role is implicit for leads and never appears here.
type Role struct {
	ID          string `toml:"id"`
	Description string `toml:"description"`
}

type TeamPeople struct {
	Leads                    []string     `toml:"leads"`
	Members                  []TeamMember `toml:"members"`
	Alumni                   *[]string    `toml:"alumni"`
	IncludedTeams            []string     `toml:"included-teams"`
	IncludeTeamLeads         bool         `toml:"include-team-leads"`
	IncludeWgLeads           bool         `toml:"include-wg-leads"`
	IncludeProjectGroupLeads bool         `toml:"include-project-group-leads"`
	IncludeAllTeamMembers    bool         `toml:"include-all-team-members"`
	IncludeAllAlumni         bool         `toml:"include-all-alumni"`
}

// GitHubIntegration declares the source-forge teams owned by this team.
type GitHubIntegration struct {
	TeamName string   `toml:"team-name"`
	Orgs     []string `toml:"orgs"`
}

type WebsiteData struct {
	Name          string `toml:"name"`
	Description   string `toml:"description"`
	Page          string `toml:"page"`
	Email         string `toml:"email"`
	Repo          string `toml:"repo"`
	DiscordInvite string `toml:"discord-invite"`
	DiscordName   string `toml:"discord-name"`
	ZulipStream   string `toml:"zulip-stream"`
	Weight        int    `toml:"weight"`
}

type RfcbotData struct {
	Label string `toml:"label"`
	Name  string `toml:"name"`
	Ping  string `toml:"ping"`
}

/*
 * MailList membership starts from the team's effective members (unless
 * disabled), adds the extras and subtracts the exclusions.
 */
type MailList struct {
	Address            string   `toml:"address"`
	IncludeTeamMembers *bool    `toml:"include-team-members"`
	ExtraPeople        []string `toml:"extra-people"`
	ExtraEmails        []string `toml:"extra-emails"`
	ExtraTeams         []string `toml:"extra-teams"`
	ExcludedPeople     []string `toml:"excluded-people"`
}

func (l *MailList) TeamMembersIncluded() bool {
	return l.IncludeTeamMembers == nil || *l.IncludeTeamMembers
}

// ChatGroup is a zulip user group or stream attached to a team.
type ChatGroup struct {
	Name               string   `toml:"name"`
	IncludeTeamMembers *bool    `toml:"include-team-members"`
	ExtraPeople        []string `toml:"extra-people"`
	ExtraZulipIDs      []int64  `toml:"extra-zulip-ids"`
	ExtraTeams         []string `toml:"extra-teams"`
	ExcludedPeople     []string `toml:"excluded-people"`
}

func (g *ChatGroup) TeamMembersIncluded() bool {
	return g.IncludeTeamMembers == nil || *g.IncludeTeamMembers
}

// ChatRole is a chat-platform role definition (name, colour).
type ChatRole struct {
	Name  string `toml:"name"`
	Color string `toml:"color"`
}

type Team struct {
	Name             string             `toml:"name"`
	Kind             string             `toml:"kind"`
	SubteamOf        string             `toml:"subteam-of"`
	TopLevel         bool               `toml:"top-level"`
	People           TeamPeople         `toml:"people"`
	Roles            []Role             `toml:"roles"`
	Permissions      Permissions        `toml:"permissions"`
	LeadsPermissions Permissions        `toml:"leads-permissions"`
	GitHub           *GitHubIntegration `toml:"github"`
	Website          *WebsiteData       `toml:"website"`
	Rfcbot           *RfcbotData        `toml:"rfcbot"`
	Lists            []MailList         `toml:"lists"`
	ZulipGroups      []ChatGroup        `toml:"zulip-groups"`
	ZulipStreams     []ChatGroup        `toml:"zulip-streams"`
	ChatRoles        []ChatRole         `toml:"chat-roles"`
}

func NewTeam(fs billy.Filesystem, filename string) (*Team, error) {
	filecontent, err := utils.ReadFile(fs, filename)
	if err != nil {
		return nil, err
	}

	team := &Team{}
	if err := decodeStrict(filecontent, filename, team, "permissions", "leads-permissions"); err != nil {
		return nil, err
	}
	if team.Kind == "" {
		team.Kind = KindTeam
	}
	return team, nil
}

// GithubTeamName is the name of the remote team this team owns,
// defaulting to the team name itself.
func (t *Team) GithubTeamName() string {
	if t.GitHub != nil && t.GitHub.TeamName != "" {
		return t.GitHub.TeamName
	}
	return t.Name
}

// MemberHandles returns the direct member handles, unsorted.
func (t *Team) MemberHandles() []string {
	handles := make([]string, 0, len(t.People.Members))
	for _, m := range t.People.Members {
		handles = append(handles, m.Handle())
	}
	return handles
}

// leadsOnlyComposition reports whether the team is composed purely from
// other teams' leads (no direct members, only lead-lifting flags).
func (t *Team) leadsOnlyComposition() bool {
	if len(t.People.Members) > 0 || len(t.People.IncludedTeams) > 0 {
		return false
	}
	return t.People.IncludeTeamLeads || t.People.IncludeWgLeads || t.People.IncludeProjectGroupLeads
}

func (t *Team) Validate(filename string) []error {
	errs := []error{}

	if t.Name == "" {
		errs = append(errs, fmt.Errorf("name is empty for team filename %s", filename))
		return errs
	}
	if !isKebabCase(t.Name) {
		errs = append(errs, fmt.Errorf("team name %s must be kebab-case in %s", t.Name, filename))
	}

	base := filepath.Base(filename)
	base = base[:len(base)-len(filepath.Ext(base))]
	if t.Name != base {
		errs = append(errs, fmt.Errorf("team name %s does not match filename %s", t.Name, filename))
	}

	switch t.Kind {
	case KindTeam, KindWorkingGroup, KindProjectGroup, KindMarkerTeam:
	default:
		errs = append(errs, fmt.Errorf("invalid kind %s for team %s", t.Kind, t.Name))
	}

	// every lead is a direct member
	members := make(map[string]bool, len(t.People.Members))
	for _, m := range t.People.Members {
		members[m.Handle()] = true
	}
	for _, lead := range t.People.Leads {
		if !members[strings.ToLower(lead)] {
			errs = append(errs, fmt.Errorf("lead %s of team %s is not a direct member", lead, t.Name))
		}
	}

	// every role tag on a member is declared in this team
	declared := make(map[string]bool, len(t.Roles))
	for _, role := range t.Roles {
		if !isKebabCase(role.ID) {
			errs = append(errs, fmt.Errorf("role id %s of team %s must be kebab-case", role.ID, t.Name))
		}
		if declared[role.ID] {
			errs = append(errs, fmt.Errorf("duplicate role id %s in team %s", role.ID, t.Name))
		}
		declared[role.ID] = true
	}
	for _, m := range t.People.Members {
		for _, role := range m.Roles {
			if !declared[role] {
				errs = append(errs, fmt.Errorf("member %s of team %s holds undeclared role %s", m.GitHub, t.Name, role))
			}
		}
	}

	// alumni is required (possibly empty) except on marker teams and
	// teams composed purely from other teams' leads
	if t.People.Alumni == nil && t.Kind != KindMarkerTeam && !t.leadsOnlyComposition() {
		errs = append(errs, fmt.Errorf("team %s must declare alumni (possibly empty)", t.Name))
	}

	for _, list := range t.Lists {
		if list.Address == "" {
			errs = append(errs, fmt.Errorf("mail list of team %s has no address", t.Name))
		} else if err := emailValidator.Var(list.Address, "email"); err != nil {
			errs = append(errs, fmt.Errorf("invalid mail list address %s in team %s", list.Address, t.Name))
		}
		for _, extra := range list.ExtraEmails {
			if err := emailValidator.Var(extra, "email"); err != nil {
				errs = append(errs, fmt.Errorf("invalid extra email %s in list %s of team %s", extra, list.Address, t.Name))
			}
		}
	}

	for _, group := range append(append([]ChatGroup{}, t.ZulipGroups...), t.ZulipStreams...) {
		if group.Name == "" {
			errs = append(errs, fmt.Errorf("chat group of team %s has no name", t.Name))
		}
		for _, id := range group.ExtraZulipIDs {
			if id <= 0 {
				errs = append(errs, fmt.Errorf("chat id %d in group %s of team %s must be positive", id, group.Name, t.Name))
			}
		}
	}

	for _, role := range t.ChatRoles {
		if role.Name == "" {
			errs = append(errs, fmt.Errorf("chat role of team %s has no name", t.Name))
		}
	}

	errs = append(errs, t.Permissions.Validate(filename)...)
	errs = append(errs, t.LeadsPermissions.Validate(filename)...)

	return errs
}

/**
 * ReadTeamDirectory reads all the files in the dirname directory and returns
 * - a map of Team objects keyed by team name
 * - a slice of errors that must stop the validation process
 * - a slice of warnings that must not stop the validation process
 */
func ReadTeamDirectory(fs billy.Filesystem, dirname string) (map[string]*Team, []error, []Warning) {
	errors := []error{}
	warnings := []Warning{}
	teams := make(map[string]*Team)

	exist, err := utils.Exists(fs, dirname)
	if err != nil {
		errors = append(errors, err)
		return teams, errors, warnings
	}
	if !exist {
		return teams, errors, warnings
	}

	entries, err := fs.ReadDir(dirname)
	if err != nil {
		errors = append(errors, err)
		return teams, errors, warnings
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
		filename := filepath.Join(dirname, e.Name())
		team, err := NewTeam(fs, filename)
		if err != nil {
			errors = append(errors, err)
			continue
		}
		if errs := team.Validate(filename); len(errs) > 0 {
			errors = append(errors, errs...)
			continue
		}
		if _, ok := teams[team.Name]; ok {
			errors = append(errors, fmt.Errorf("duplicate team name %s in %s", team.Name, filename))
			continue
		}
		teams[team.Name] = team
	}
	return teams, errors, warnings
}
