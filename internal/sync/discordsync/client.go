package discordsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teamsync-project/teamsync/internal/engine"
)

// RestClient talks to the chat platform guild API with a bot token.
type RestClient struct {
	server     string
	token      string
	guildID    string
	httpClient *http.Client
}

func NewRestClient(server, token, guildID string) *RestClient {
	return &RestClient{
		server:  server,
		token:   token,
		guildID: guildID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *RestClient) call(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewBuffer(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
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
		return responseBody, engine.Fatalf("%s %s: %s", method, path, resp.Status)
	}
	return responseBody, nil
}

func (c *RestClient) Roles(ctx context.Context) ([]*RoleState, error) {
	body, err := c.call(ctx, "GET", fmt.Sprintf("/guilds/%s/roles", c.guildID), nil)
	if err != nil {
		return nil, err
	}
	var remote []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Color int    `json:"color"`
	}
	if err := json.Unmarshal(body, &remote); err != nil {
		return nil, fmt.Errorf("parsing guild roles: %w", err)
	}

	roles := []*RoleState{}
	for _, r := range remote {
		roles = append(roles, &RoleState{
			ID:    r.ID,
			Name:  r.Name,
			Color: fmt.Sprintf("#%06x", r.Color),
		})
	}
	return roles, nil
}

func (c *RestClient) CreateRole(ctx context.Context, name, color string) error {
	value, err := parseColor(color)
	if err != nil {
		return &engine.FatalOpError{Err: err}
	}
	_, err = c.call(ctx, "POST", fmt.Sprintf("/guilds/%s/roles", c.guildID), map[string]interface{}{
		"name":  name,
		"color": value,
	})
	return err
}

func (c *RestClient) UpdateRole(ctx context.Context, id, name, color string) error {
	value, err := parseColor(color)
	if err != nil {
		return &engine.FatalOpError{Err: err}
	}
	_, err = c.call(ctx, "PATCH", fmt.Sprintf("/guilds/%s/roles/%s", c.guildID, id), map[string]interface{}{
		"name":  name,
		"color": value,
	})
	return err
}

func parseColor(color string) (int64, error) {
	hex := strings.TrimPrefix(color, "#")
	value, err := strconv.ParseInt(hex, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid colour %s: %w", color, err)
	}
	return value, nil
}
