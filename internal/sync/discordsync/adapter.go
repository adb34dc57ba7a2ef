package discordsync

import (
	"context"
	"fmt"
	"sort"

	"github.com/teamsync-project/teamsync/internal/engine"
	"github.com/teamsync-project/teamsync/internal/observability"
)

/*
 * Snapshot is the chat-role adapter state: the owned role definitions
 * of one guild. A remote role whose name is not declared by any team
 * is dropped at snapshot time and never touched.
 */
type Snapshot struct {
	Roles map[string]*RoleState // keyed by role name
}

func NewSnapshot() *Snapshot {
	return &Snapshot{Roles: map[string]*RoleState{}}
}

type RoleState struct {
	Name  string
	ID    string // remote id; empty until created
	Color string // "#rrggbb"
}

type Client interface {
	Roles(ctx context.Context) ([]*RoleState, error)
	CreateRole(ctx context.Context, name, color string) error
	UpdateRole(ctx context.Context, id, name, color string) error
}

// Adapter reconciles the chat-platform role definitions (name, colour)
// declared by teams.
type Adapter struct {
	client Client
	owned  map[string]bool
}

func NewAdapter(model *engine.Model, client Client) *Adapter {
	owned := map[string]bool{}
	for _, role := range model.ChatRoles() {
		owned[role.Name] = true
	}
	return &Adapter{client: client, owned: owned}
}

func (a *Adapter) Name() string {
	return "discord"
}

func (a *Adapter) Snapshot(ctx context.Context, feedback observability.RemoteLoadFeedback) (*Snapshot, error) {
	snapshot := NewSnapshot()
	feedback.Init(1)

	roles, err := a.client.Roles(ctx)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		if a.owned[role.Name] {
			snapshot.Roles[role.Name] = role
		}
	}
	feedback.LoadingAsset("roles", 1)
	return snapshot, nil
}

func (a *Adapter) Desired(model *engine.Model) (*Snapshot, error) {
	desired := NewSnapshot()
	for _, role := range model.ChatRoles() {
		desired.Roles[role.Name] = &RoleState{
			Name:  role.Name,
			Color: role.Color,
		}
	}
	return desired, nil
}

func (a *Adapter) Diff(current, desired *Snapshot) ([]*engine.Operation, error) {
	plan := []*engine.Operation{}

	engine.CompareEntities(desired.Roles, current.Roles,
		func(key string, d *RoleState, c *RoleState) bool { return d.Color == c.Color },
		func(key string, d *RoleState, c *RoleState) {
			role := d
			plan = append(plan, &engine.Operation{
				ID:          "role/" + d.Name + "/create",
				Kind:        engine.OpCreate,
				Description: fmt.Sprintf("create role %s with colour %s", d.Name, d.Color),
				Apply: func(ctx context.Context) error {
					return a.client.CreateRole(ctx, role.Name, role.Color)
				},
			})
		},
		func(key string, d *RoleState, c *RoleState) {},
		func(key string, d *RoleState, c *RoleState) {
			role, id := d, c.ID
			plan = append(plan, &engine.Operation{
				ID:          "role/" + d.Name + "/update",
				Kind:        engine.OpUpdate,
				Description: fmt.Sprintf("change colour of role %s to %s", d.Name, d.Color),
				Apply: func(ctx context.Context) error {
					return a.client.UpdateRole(ctx, id, role.Name, role.Color)
				},
			})
		},
	)

	sort.SliceStable(plan, func(i, j int) bool {
		if plan[i].Kind != plan[j].Kind {
			return plan[i].Kind < plan[j].Kind
		}
		return plan[i].ID < plan[j].ID
	})
	return plan, nil
}
