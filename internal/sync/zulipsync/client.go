package zulipsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/teamsync-project/teamsync/internal/engine"
)

/*
 * RestClient talks to the chat platform API (basic auth with the bot
 * email and api key).
 */
type RestClient struct {
	site       string
	email      string
	apiKey     string
	httpClient *http.Client
}

func NewRestClient(site, email, apiKey string) *RestClient {
	return &RestClient{
		site:   site,
		email:  email,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *RestClient) call(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.site+"/api/v1"+path, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.email, c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &engine.TransientOpError{Err: err}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &engine.TransientOpError{Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return responseBody, engine.Transientf("%s %s: %s", method, path, resp.Status)
	}
	if resp.StatusCode >= 400 {
		return responseBody, engine.Fatalf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(responseBody)))
	}
	return responseBody, nil
}

func (c *RestClient) UserGroups(ctx context.Context) ([]*GroupState, error) {
	body, err := c.call(ctx, "GET", "/user_groups", nil)
	if err != nil {
		return nil, err
	}
	var response struct {
		UserGroups []struct {
			ID      int64   `json:"id"`
			Name    string  `json:"name"`
			Members []int64 `json:"members"`
		} `json:"user_groups"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("parsing user groups: %w", err)
	}

	groups := []*GroupState{}
	for _, g := range response.UserGroups {
		group := NewGroupState(g.Name)
		group.ID = g.ID
		for _, id := range g.Members {
			group.Members[id] = true
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (c *RestClient) CreateUserGroup(ctx context.Context, name string, members []int64) error {
	form := url.Values{}
	form.Set("name", name)
	form.Set("description", "Managed group")
	form.Set("members", idsJSON(members))
	_, err := c.call(ctx, "POST", "/user_groups/create", form)
	return err
}

func (c *RestClient) AddUserGroupMembers(ctx context.Context, groupID int64, members []int64) error {
	form := url.Values{}
	form.Set("add", idsJSON(members))
	_, err := c.call(ctx, "POST", fmt.Sprintf("/user_groups/%d/members", groupID), form)
	return err
}

func (c *RestClient) RemoveUserGroupMembers(ctx context.Context, groupID int64, members []int64) error {
	form := url.Values{}
	form.Set("delete", idsJSON(members))
	_, err := c.call(ctx, "POST", fmt.Sprintf("/user_groups/%d/members", groupID), form)
	return err
}

func (c *RestClient) Streams(ctx context.Context) ([]*GroupState, error) {
	body, err := c.call(ctx, "GET", "/streams?include_subscribers=true", nil)
	if err != nil {
		return nil, err
	}
	var response struct {
		Streams []struct {
			StreamID    int64   `json:"stream_id"`
			Name        string  `json:"name"`
			Subscribers []int64 `json:"subscribers"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("parsing streams: %w", err)
	}

	streams := []*GroupState{}
	for _, s := range response.Streams {
		stream := NewGroupState(s.Name)
		stream.ID = s.StreamID
		for _, id := range s.Subscribers {
			stream.Members[id] = true
		}
		streams = append(streams, stream)
	}
	return streams, nil
}

func (c *RestClient) CreateStream(ctx context.Context, name string, subscribers []int64) error {
	return c.Subscribe(ctx, name, subscribers)
}

func (c *RestClient) Subscribe(ctx context.Context, stream string, members []int64) error {
	form := url.Values{}
	form.Set("subscriptions", fmt.Sprintf(`[{"name": %q}]`, stream))
	form.Set("principals", idsJSON(members))
	_, err := c.call(ctx, "POST", "/users/me/subscriptions", form)
	return err
}

func (c *RestClient) Unsubscribe(ctx context.Context, stream string, members []int64) error {
	form := url.Values{}
	form.Set("subscriptions", fmt.Sprintf(`[%q]`, stream))
	form.Set("principals", idsJSON(members))
	_, err := c.call(ctx, "DELETE", "/users/me/subscriptions", form)
	return err
}

func idsJSON(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return "[" + strings.Join(parts, ",") + "]"
}
