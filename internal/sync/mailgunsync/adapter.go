package mailgunsync

import (
	"context"
	"fmt"
	"sort"

	"github.com/teamsync-project/teamsync/internal/engine"
	"github.com/teamsync-project/teamsync/internal/observability"
	"github.com/teamsync-project/teamsync/internal/utils"
)

/*
 * Snapshot is the mail-list adapter state: the owned mailing lists and
 * their member addresses. Lists outside the corpus are never touched.
 */
type Snapshot struct {
	Lists map[string]*ListState // keyed by list address
}

func NewSnapshot() *Snapshot {
	return &Snapshot{Lists: map[string]*ListState{}}
}

type ListState struct {
	Address string
	Members map[string]bool
}

func NewListState(address string) *ListState {
	return &ListState{Address: address, Members: map[string]bool{}}
}

/*
 * Client is the mail-list manager transport. ListMembers returns
 * (nil, false, nil) when the list does not exist yet.
 */
type Client interface {
	ListMembers(ctx context.Context, address string) ([]string, bool, error)
	CreateList(ctx context.Context, address, description string) error
	AddMember(ctx context.Context, address, email string) error
	RemoveMember(ctx context.Context, address, email string) error
}

// Adapter reconciles the rendered mailing lists against the remote
// mail-list manager.
type Adapter struct {
	client    Client
	addresses []string
}

func NewAdapter(model *engine.Model, client Client) *Adapter {
	return &Adapter{
		client:    client,
		addresses: utils.SortedKeys(model.MailLists()),
	}
}

func (a *Adapter) Name() string {
	return "mailgun"
}

func (a *Adapter) Snapshot(ctx context.Context, feedback observability.RemoteLoadFeedback) (*Snapshot, error) {
	snapshot := NewSnapshot()
	feedback.Init(len(a.addresses))

	for _, address := range a.addresses {
		members, exists, err := a.client.ListMembers(ctx, address)
		if err != nil {
			return nil, err
		}
		feedback.LoadingAsset("lists", 1)
		if !exists {
			continue
		}
		list := NewListState(address)
		for _, member := range members {
			list.Members[member] = true
		}
		snapshot.Lists[address] = list
	}
	return snapshot, nil
}

func (a *Adapter) Desired(model *engine.Model) (*Snapshot, error) {
	desired := NewSnapshot()
	for address, view := range model.MailLists() {
		list := NewListState(address)
		for _, member := range view.Members {
			list.Members[member] = true
		}
		desired.Lists[address] = list
	}
	return desired, nil
}

func (a *Adapter) Diff(current, desired *Snapshot) ([]*engine.Operation, error) {
	plan := []*engine.Operation{}

	engine.CompareEntities(desired.Lists, current.Lists,
		func(key string, d *ListState, c *ListState) bool { return false },
		func(key string, d *ListState, c *ListState) {
			createID := "list/" + d.Address + "/create"
			list := d
			plan = append(plan, &engine.Operation{
				ID:          createID,
				Kind:        engine.OpCreate,
				Description: fmt.Sprintf("create mailing list %s", d.Address),
				Apply: func(ctx context.Context) error {
					return a.client.CreateList(ctx, list.Address, "managed list")
				},
			})
			for _, op := range a.memberOps(d, NewListState(d.Address)) {
				op.Requires = append(op.Requires, createID)
				plan = append(plan, op)
			}
		},
		func(key string, d *ListState, c *ListState) {
			// a remote list absent from the corpus is unowned
		},
		func(key string, d *ListState, c *ListState) {
			plan = append(plan, a.memberOps(d, c)...)
		},
	)

	sortOps(plan)
	return plan, nil
}

func (a *Adapter) memberOps(d *ListState, c *ListState) []*engine.Operation {
	ops := []*engine.Operation{}

	for _, email := range utils.SortedKeys(d.Members) {
		if !c.Members[email] {
			email := email
			ops = append(ops, &engine.Operation{
				ID:          "list/" + d.Address + "/member/" + email + "/add",
				Kind:        engine.OpUpdate,
				Description: fmt.Sprintf("subscribe %s to %s", email, d.Address),
				Apply: func(ctx context.Context) error {
					return a.client.AddMember(ctx, d.Address, email)
				},
			})
		}
	}
	for _, email := range utils.SortedKeys(c.Members) {
		if !d.Members[email] {
			email := email
			ops = append(ops, &engine.Operation{
				ID:          "list/" + d.Address + "/member/" + email + "/remove",
				Kind:        engine.OpDelete,
				Description: fmt.Sprintf("unsubscribe %s from %s", email, d.Address),
				Apply: func(ctx context.Context) error {
					return a.client.RemoveMember(ctx, d.Address, email)
				},
			})
		}
	}
	return ops
}

func sortOps(plan []*engine.Operation) {
	sort.SliceStable(plan, func(i, j int) bool {
		if plan[i].Kind != plan[j].Kind {
			return plan[i].Kind < plan[j].Kind
		}
		return plan[i].ID < plan[j].ID
	})
}
