package staticapi

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/sirupsen/logrus"
	"github.com/teamsync-project/teamsync/internal/engine"
	"github.com/teamsync-project/teamsync/internal/utils"
)

/*
 * Build emits the JSON projection of the materialised model as a
 * directory tree: one file per team, person and repository, plus
 * aggregate indexes. The shape is a compatibility contract for the
 * website collaborator.
 */
func Build(model *engine.Model, fs billy.Filesystem, outDir string) error {
	if err := utils.RemoveAll(fs, outDir); err != nil {
		return err
	}
	root := filepath.Join(outDir, "v1")
	if err := fs.MkdirAll(root, 0755); err != nil {
		return err
	}

	if err := writeTeams(model, fs, root); err != nil {
		return err
	}
	if err := writePeople(model, fs, root); err != nil {
		return err
	}
	if err := writeRepos(model, fs, root); err != nil {
		return err
	}
	if err := writeLists(model, fs, root); err != nil {
		return err
	}
	if err := writePermissions(model, fs, root); err != nil {
		return err
	}

	logrus.Infof("static api written to %s", outDir)
	return nil
}

func writeJSON(fs billy.Filesystem, path string, payload interface{}) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", path, err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return utils.WriteFile(fs, path, append(data, '\n'), 0644)
}

func writeTeams(model *engine.Model, fs billy.Filesystem, root string) error {
	index := map[string][]*engine.TeamView{"teams": {}}
	for _, name := range model.TeamNames() {
		view, err := model.TeamView(name)
		if err != nil {
			return err
		}
		index["teams"] = append(index["teams"], view)
		if err := writeJSON(fs, filepath.Join(root, "teams", name+".json"), view); err != nil {
			return err
		}
	}
	return writeJSON(fs, filepath.Join(root, "teams.json"), index)
}

func writePeople(model *engine.Model, fs billy.Filesystem, root string) error {
	index := map[string][]*engine.PersonView{"people": {}}
	for _, handle := range model.PeopleHandles() {
		view, err := model.PersonView(handle)
		if err != nil {
			return err
		}
		index["people"] = append(index["people"], view)
		if err := writeJSON(fs, filepath.Join(root, "people", handle+".json"), view); err != nil {
			return err
		}
	}
	return writeJSON(fs, filepath.Join(root, "people.json"), index)
}

type repoView struct {
	Org         string            `json:"org"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Homepage    string            `json:"homepage,omitempty"`
	Bots        []string          `json:"bots,omitempty"`
	Archived    bool              `json:"archived"`
	Teams       map[string]string `json:"teams,omitempty"`
	Individuals map[string]string `json:"individuals,omitempty"`
	Protections []protectionView  `json:"branch_protections,omitempty"`
}

type protectionView struct {
	Pattern           string   `json:"pattern"`
	CIChecks          []string `json:"ci_checks,omitempty"`
	PrRequired        bool     `json:"pr_required"`
	RequiredApprovals int      `json:"required_approvals"`
	MergeBots         []string `json:"merge_bots,omitempty"`
}

func writeRepos(model *engine.Model, fs billy.Filesystem, root string) error {
	index := map[string][]repoView{"repos": {}}
	for _, fullname := range model.RepositoryNames() {
		repo := model.Repository(fullname)
		view := repoView{
			Org:         repo.Org,
			Name:        repo.Name,
			Description: repo.Description,
			Homepage:    repo.Homepage,
			Bots:        repo.Bots,
			Archived:    repo.Archived,
			Teams:       repo.Access.Teams,
			Individuals: repo.Access.Individuals,
		}
		for _, bp := range repo.BranchProtections {
			view.Protections = append(view.Protections, protectionView{
				Pattern:           bp.Pattern,
				CIChecks:          bp.CIChecks,
				PrRequired:        bp.PrIsRequired(),
				RequiredApprovals: bp.ApprovalsRequired(),
				MergeBots:         bp.MergeBots,
			})
		}
		index["repos"] = append(index["repos"], view)
		if err := writeJSON(fs, filepath.Join(root, "repos", repo.Org, repo.Name+".json"), view); err != nil {
			return err
		}
	}
	return writeJSON(fs, filepath.Join(root, "repos.json"), index)
}

func writeLists(model *engine.Model, fs billy.Filesystem, root string) error {
	lists := []*engine.MailListView{}
	for _, address := range utils.SortedKeys(model.MailLists()) {
		lists = append(lists, model.MailLists()[address])
	}
	if err := writeJSON(fs, filepath.Join(root, "lists.json"), map[string]interface{}{"lists": lists}); err != nil {
		return err
	}

	return writeJSON(fs, filepath.Join(root, "zulip-groups.json"), map[string]interface{}{
		"groups":  model.ZulipGroups(),
		"streams": model.ZulipStreams(),
	})
}

func writePermissions(model *engine.Model, fs billy.Filesystem, root string) error {
	// invert person -> permissions into permission -> sorted people
	holders := map[string][]string{}
	for _, handle := range model.PeopleHandles() {
		for _, perm := range model.PermissionsOf(handle).Flatten() {
			holders[perm] = append(holders[perm], handle)
		}
	}
	for _, perm := range utils.SortedKeys(holders) {
		payload := map[string][]string{"people": holders[perm]}
		if err := writeJSON(fs, filepath.Join(root, "permissions", perm+".json"), payload); err != nil {
			return err
		}
	}
	return writeJSON(fs, filepath.Join(root, "permissions.json"), map[string][]string{
		"permissions": utils.SortedKeys(holders),
	})
}
