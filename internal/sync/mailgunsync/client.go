package mailgunsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teamsync-project/teamsync/internal/engine"
)

/*
 * RestClient talks to the mail-list manager API with the service API
 * key (basic auth, user "api").
 */
type RestClient struct {
	server     string
	apiKey     string
	httpClient *http.Client
}

func NewRestClient(server, apiKey string) *RestClient {
	return &RestClient{
		server: server,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *RestClient) call(ctx context.Context, method, path string, form url.Values) ([]byte, int, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return nil, 0, err
	}
	req.SetBasicAuth("api", c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &engine.TransientOpError{Err: err}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &engine.TransientOpError{Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return responseBody, resp.StatusCode, engine.Transientf("%s %s: %s", method, path, resp.Status)
	}
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return responseBody, resp.StatusCode, engine.Fatalf("%s %s: %s", method, path, resp.Status)
	}
	return responseBody, resp.StatusCode, nil
}

func (c *RestClient) ListMembers(ctx context.Context, address string) ([]string, bool, error) {
	members := []string{}
	skip := 0
	for {
		body, status, err := c.call(ctx, "GET",
			fmt.Sprintf("/lists/%s/members/pages?limit=100&skip=%d", url.PathEscape(address), skip), nil)
		if err != nil {
			return nil, false, err
		}
		if status == http.StatusNotFound {
			return nil, false, nil
		}

		var page struct {
			Items []struct {
				Address string `json:"address"`
			} `json:"items"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, false, fmt.Errorf("parsing members of %s: %w", address, err)
		}
		for _, item := range page.Items {
			members = append(members, item.Address)
		}
		if len(page.Items) < 100 {
			return members, true, nil
		}
		skip += len(page.Items)
	}
}

func (c *RestClient) CreateList(ctx context.Context, address, description string) error {
	form := url.Values{}
	form.Set("address", address)
	form.Set("description", description)
	_, _, err := c.call(ctx, "POST", "/lists", form)
	return err
}

func (c *RestClient) AddMember(ctx context.Context, address, email string) error {
	form := url.Values{}
	form.Set("address", email)
	form.Set("upsert", "yes")
	_, _, err := c.call(ctx, "POST", fmt.Sprintf("/lists/%s/members", url.PathEscape(address)), form)
	return err
}

func (c *RestClient) RemoveMember(ctx context.Context, address, email string) error {
	// a 404 (already gone) counts as removed
	_, _, err := c.call(ctx, "DELETE",
		fmt.Sprintf("/lists/%s/members/%s", url.PathEscape(address), url.PathEscape(email)), nil)
	return err
}
