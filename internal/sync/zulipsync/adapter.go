package zulipsync

import (
	"context"
	"fmt"
	"sort"

	"github.com/teamsync-project/teamsync/internal/engine"
	"github.com/teamsync-project/teamsync/internal/observability"
)

/*
 * Snapshot is the chat-platform adapter state: the owned user groups
 * and streams with their member ids. Remote groups and streams whose
 * name is not in the materialised model are dropped at snapshot time
 * and never touched.
 */
type Snapshot struct {
	Groups  map[string]*GroupState
	Streams map[string]*GroupState
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Groups:  map[string]*GroupState{},
		Streams: map[string]*GroupState{},
	}
}

type GroupState struct {
	Name    string
	ID      int64 // remote id; zero until created
	Members map[int64]bool
}

func NewGroupState(name string) *GroupState {
	return &GroupState{Name: name, Members: map[int64]bool{}}
}

/*
 * Client is the chat-platform transport. Groups and streams are listed
 * wholesale (the API has no by-name lookup); membership mutations are
 * by remote id.
 */
type Client interface {
	UserGroups(ctx context.Context) ([]*GroupState, error)
	CreateUserGroup(ctx context.Context, name string, members []int64) error
	AddUserGroupMembers(ctx context.Context, groupID int64, members []int64) error
	RemoveUserGroupMembers(ctx context.Context, groupID int64, members []int64) error

	Streams(ctx context.Context) ([]*GroupState, error)
	CreateStream(ctx context.Context, name string, subscribers []int64) error
	Subscribe(ctx context.Context, stream string, members []int64) error
	Unsubscribe(ctx context.Context, stream string, members []int64) error
}

type Adapter struct {
	client  Client
	groups  map[string]bool
	streams map[string]bool
}

func NewAdapter(model *engine.Model, client Client) *Adapter {
	adapter := &Adapter{
		client:  client,
		groups:  map[string]bool{},
		streams: map[string]bool{},
	}
	for _, view := range model.ZulipGroups() {
		adapter.groups[view.Name] = true
	}
	for _, view := range model.ZulipStreams() {
		adapter.streams[view.Name] = true
	}
	return adapter
}

func (a *Adapter) Name() string {
	return "zulip"
}

func (a *Adapter) Snapshot(ctx context.Context, feedback observability.RemoteLoadFeedback) (*Snapshot, error) {
	snapshot := NewSnapshot()
	feedback.Init(2)

	groups, err := a.client.UserGroups(ctx)
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		if a.groups[group.Name] {
			snapshot.Groups[group.Name] = group
		}
	}
	feedback.LoadingAsset("user groups", 1)

	streams, err := a.client.Streams(ctx)
	if err != nil {
		return nil, err
	}
	for _, stream := range streams {
		if a.streams[stream.Name] {
			snapshot.Streams[stream.Name] = stream
		}
	}
	feedback.LoadingAsset("streams", 1)

	return snapshot, nil
}

func (a *Adapter) Desired(model *engine.Model) (*Snapshot, error) {
	desired := NewSnapshot()
	for _, view := range model.ZulipGroups() {
		group := NewGroupState(view.Name)
		for _, id := range view.MemberIDs {
			group.Members[id] = true
		}
		desired.Groups[view.Name] = group
	}
	for _, view := range model.ZulipStreams() {
		stream := NewGroupState(view.Name)
		for _, id := range view.MemberIDs {
			stream.Members[id] = true
		}
		desired.Streams[view.Name] = stream
	}
	return desired, nil
}

func (a *Adapter) Diff(current, desired *Snapshot) ([]*engine.Operation, error) {
	plan := []*engine.Operation{}

	engine.CompareEntities(desired.Groups, current.Groups,
		func(key string, d *GroupState, c *GroupState) bool { return false },
		func(key string, d *GroupState, c *GroupState) {
			group := d
			plan = append(plan, &engine.Operation{
				ID:          "group/" + d.Name + "/create",
				Kind:        engine.OpCreate,
				Description: fmt.Sprintf("create user group %s with %d members", d.Name, len(d.Members)),
				Apply: func(ctx context.Context) error {
					return a.client.CreateUserGroup(ctx, group.Name, sortedIDs(group.Members))
				},
			})
		},
		func(key string, d *GroupState, c *GroupState) {},
		func(key string, d *GroupState, c *GroupState) {
			plan = append(plan, a.groupMembershipOps(d, c)...)
		},
	)

	engine.CompareEntities(desired.Streams, current.Streams,
		func(key string, d *GroupState, c *GroupState) bool { return false },
		func(key string, d *GroupState, c *GroupState) {
			stream := d
			plan = append(plan, &engine.Operation{
				ID:          "stream/" + d.Name + "/create",
				Kind:        engine.OpCreate,
				Description: fmt.Sprintf("create stream %s with %d subscribers", d.Name, len(d.Members)),
				Apply: func(ctx context.Context) error {
					return a.client.CreateStream(ctx, stream.Name, sortedIDs(stream.Members))
				},
			})
		},
		func(key string, d *GroupState, c *GroupState) {},
		func(key string, d *GroupState, c *GroupState) {
			plan = append(plan, a.streamMembershipOps(d, c)...)
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

func (a *Adapter) groupMembershipOps(d *GroupState, c *GroupState) []*engine.Operation {
	ops := []*engine.Operation{}
	added, removed := diffIDs(d.Members, c.Members)

	if len(added) > 0 {
		ops = append(ops, &engine.Operation{
			ID:          "group/" + d.Name + "/add",
			Kind:        engine.OpUpdate,
			Description: fmt.Sprintf("add %d members to user group %s", len(added), d.Name),
			Apply: func(ctx context.Context) error {
				return a.client.AddUserGroupMembers(ctx, c.ID, added)
			},
		})
	}
	if len(removed) > 0 {
		ops = append(ops, &engine.Operation{
			ID:          "group/" + d.Name + "/remove",
			Kind:        engine.OpDelete,
			Description: fmt.Sprintf("remove %d members from user group %s", len(removed), d.Name),
			Apply: func(ctx context.Context) error {
				return a.client.RemoveUserGroupMembers(ctx, c.ID, removed)
			},
		})
	}
	return ops
}

func (a *Adapter) streamMembershipOps(d *GroupState, c *GroupState) []*engine.Operation {
	ops := []*engine.Operation{}
	added, removed := diffIDs(d.Members, c.Members)

	if len(added) > 0 {
		ops = append(ops, &engine.Operation{
			ID:          "stream/" + d.Name + "/subscribe",
			Kind:        engine.OpUpdate,
			Description: fmt.Sprintf("subscribe %d members to stream %s", len(added), d.Name),
			Apply: func(ctx context.Context) error {
				return a.client.Subscribe(ctx, d.Name, added)
			},
		})
	}
	if len(removed) > 0 {
		ops = append(ops, &engine.Operation{
			ID:          "stream/" + d.Name + "/unsubscribe",
			Kind:        engine.OpDelete,
			Description: fmt.Sprintf("unsubscribe %d members from stream %s", len(removed), d.Name),
			Apply: func(ctx context.Context) error {
				return a.client.Unsubscribe(ctx, d.Name, removed)
			},
		})
	}
	return ops
}

func diffIDs(desired, current map[int64]bool) (added, removed []int64) {
	for id := range desired {
		if !current[id] {
			added = append(added, id)
		}
	}
	for id := range current {
		if !desired[id] {
			removed = append(removed, id)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i] < added[j] })
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return added, removed
}

func sortedIDs(members map[int64]bool) []int64 {
	ids := make([]int64, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
