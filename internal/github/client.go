package github

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/teamsync-project/teamsync/internal/engine"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

/*
 * Client is the GitHub transport used by the source-forge adapter.
 * One client per organization: each organization carries an
 * independent credential.
 */
type Client interface {
	CallRestAPI(ctx context.Context, endpoint, parameters, method string, body map[string]interface{}) ([]byte, error)
	QueryGraphQLAPI(ctx context.Context, query string, variables map[string]interface{}) ([]byte, error)
}

type ClientImpl struct {
	gitHubServer   string
	organization   string
	appID          int64
	installationID int64
	privateKey     []byte
	patToken       string // if not "" we use the personal access token
	httpClient     *http.Client

	mu              sync.Mutex
	accessToken     string
	tokenExpiration time.Time
}

// NewClient builds a PAT-authenticated client for one organization.
func NewClient(gitHubServer, organization, patToken string) *ClientImpl {
	client := &ClientImpl{
		gitHubServer: gitHubServer,
		organization: organization,
		patToken:     patToken,
	}
	client.httpClient = &http.Client{
		Transport: &authorizedTransport{client: client},
		Timeout:   60 * time.Second,
	}
	return client
}

// NewAppClient builds a GitHub App client. The installation for the
// given organization is discovered via the app JWT.
func NewAppClient(ctx context.Context, gitHubServer, organization string, appID int64, privateKeyFile string) (*ClientImpl, error) {
	privateKey, err := os.ReadFile(privateKeyFile)
	if err != nil {
		return nil, &engine.CredentialError{Tenant: organization, Err: err}
	}

	client := &ClientImpl{
		gitHubServer: gitHubServer,
		organization: organization,
		appID:        appID,
		privateKey:   privateKey,
	}
	client.httpClient = &http.Client{
		Transport: &authorizedTransport{client: client},
		Timeout:   60 * time.Second,
	}

	token, err := client.createJWT()
	if err != nil {
		return nil, &engine.CredentialError{Tenant: organization, Err: err}
	}
	installations, err := client.getInstallations(ctx, token)
	if err != nil {
		return nil, &engine.CredentialError{Tenant: organization, Err: err}
	}
	for _, installation := range installations {
		logrus.Debugf("found installation %d for organization %s", installation.ID, installation.Account.Login)
		if strings.EqualFold(installation.Account.Login, organization) && installation.AppID == appID {
			client.installationID = installation.ID
			break
		}
	}
	if client.installationID == 0 {
		return nil, &engine.CredentialError{Tenant: organization, Err: fmt.Errorf("app %d is not installed on %s", appID, organization)}
	}
	return client, nil
}

type authorizedTransport struct {
	client *ClientImpl
}

func (t *authorizedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.client.mu.Lock()

	if t.client.patToken != "" {
		req.Header.Add("Authorization", "Bearer "+t.client.patToken)
		t.client.mu.Unlock()
		return http.DefaultTransport.RoundTrip(req)
	}

	// Refresh the installation access token if necessary
	if t.client.accessToken == "" || time.Until(t.client.tokenExpiration) < 5*time.Minute {
		token, err := t.client.createJWT()
		if err != nil {
			t.client.mu.Unlock()
			return nil, err
		}
		accessToken, expiresAt, err := t.client.getAccessTokenForInstallation(req.Context(), token)
		if err != nil {
			t.client.mu.Unlock()
			return nil, err
		}
		t.client.accessToken = accessToken
		t.client.tokenExpiration = expiresAt
	}
	token := t.client.accessToken
	t.client.mu.Unlock()

	req.Header.Add("Authorization", "Bearer "+token)
	return http.DefaultTransport.RoundTrip(req)
}

// createJWT signs a short-lived app JWT with the RS256 private key.
func (c *ClientImpl) createJWT() (string, error) {
	block, _ := pem.Decode(c.privateKey)
	if block == nil {
		return "", fmt.Errorf("unable to decode the private key")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Add(-time.Minute).Unix(),
		"exp": now.Add(9 * time.Minute).Unix(),
		"iss": c.appID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

type installation struct {
	ID      int64 `json:"id"`
	AppID   int64 `json:"app_id"`
	Account struct {
		Login string `json:"login"`
	} `json:"account"`
}

func (c *ClientImpl) getInstallations(ctx context.Context, jwtToken string) ([]installation, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.gitHubServer+"/app/installations", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing installations: unexpected status %s", resp.Status)
	}

	var installations []installation
	if err := json.NewDecoder(resp.Body).Decode(&installations); err != nil {
		return nil, err
	}
	return installations, nil
}

func (c *ClientImpl) getAccessTokenForInstallation(ctx context.Context, jwtToken string) (string, time.Time, error) {
	endpoint := fmt.Sprintf("%s/app/installations/%d/access_tokens", c.gitHubServer, c.installationID)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", time.Time{}, fmt.Errorf("creating installation token: unexpected status %s", resp.Status)
	}

	var token struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", time.Time{}, err
	}
	return token.Token, token.ExpiresAt, nil
}

// waitRateLimit sleeps until the reset unix timestamp from the
// X-RateLimit-Reset header.
func waitRateLimit(resetHeader string) error {
	reset, err := strconv.ParseInt(resetHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("error parsing X-RateLimit-Reset header: %w", err)
	}
	wait := time.Until(time.Unix(reset, 0))
	if wait < 0 {
		return nil
	}
	logrus.Debugf("primary rate limit reached, waiting for %s", wait)
	time.Sleep(wait)
	return nil
}

/*
 * CallRestAPI calls a REST endpoint (e.g. "/orgs/foo/teams") and
 * returns the raw response body. Secondary rate limits are waited out
 * and the call retried; 5xx and transport errors surface as transient
 * operation errors, other 4xx as fatal ones.
 */
func (c *ClientImpl) CallRestAPI(ctx context.Context, endpoint, parameters, method string, body map[string]interface{}) ([]byte, error) {
	tracer := otel.Tracer("teamsync")
	ctx, childSpan := tracer.Start(ctx, "CallRestAPI")
	defer childSpan.End()
	childSpan.SetAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("method", method),
	)

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("error marshalling the request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	requestURL := c.gitHubServer + "/" + strings.TrimPrefix(endpoint, "/")
	if parameters != "" {
		requestURL += "?" + parameters
	}
	if _, err := url.Parse(requestURL); err != nil {
		return nil, engine.Fatalf("invalid request URL %s: %s", requestURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		childSpan.SetStatus(codes.Error, err.Error())
		return nil, &engine.TransientOpError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
		if resp.Header.Get("X-RateLimit-Reset") != "" {
			if err := waitRateLimit(resp.Header.Get("X-RateLimit-Reset")); err != nil {
				return nil, err
			}
		} else if resp.Header.Get("Retry-After") != "" {
			retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
			if err != nil {
				return nil, fmt.Errorf("error parsing Retry-After header: %w", err)
			}
			logrus.Debugf("secondary rate limit reached, waiting for %d seconds", retryAfter)
			time.Sleep(time.Duration(retryAfter) * time.Second)
		} else {
			return nil, engine.Transientf("rate limited without reset headers: %s", resp.Status)
		}
		// Retry the request.
		return c.CallRestAPI(ctx, endpoint, parameters, method, body)
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &engine.TransientOpError{Err: err}
	}

	if resp.StatusCode >= 500 {
		childSpan.SetStatus(codes.Error, resp.Status)
		return nil, engine.Transientf("%s %s: %s", method, endpoint, resp.Status)
	}
	if resp.StatusCode >= 400 {
		childSpan.SetStatus(codes.Error, resp.Status)
		return responseBody, engine.Fatalf("%s %s: %s: %s", method, endpoint, resp.Status, strings.TrimSpace(string(responseBody)))
	}

	return responseBody, nil
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

/*
 * QueryGraphQLAPI posts a GraphQL document. Branch protection rules
 * are only reachable through the GraphQL surface.
 */
func (c *ClientImpl) QueryGraphQLAPI(ctx context.Context, query string, variables map[string]interface{}) ([]byte, error) {
	tracer := otel.Tracer("teamsync")
	ctx, childSpan := tracer.Start(ctx, "QueryGraphQLAPI")
	defer childSpan.End()

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("error marshalling the request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.gitHubServer+"/graphql", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		childSpan.SetStatus(codes.Error, err.Error())
		return nil, &engine.TransientOpError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		if resp.Header.Get("X-RateLimit-Reset") != "" {
			if err := waitRateLimit(resp.Header.Get("X-RateLimit-Reset")); err != nil {
				return nil, err
			}
		} else if resp.Header.Get("Retry-After") != "" {
			retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
			if err != nil {
				return nil, fmt.Errorf("error parsing Retry-After header: %w", err)
			}
			logrus.Debugf("secondary rate limit reached, waiting for %d seconds", retryAfter)
			time.Sleep(time.Duration(retryAfter) * time.Second)
		} else {
			return nil, engine.Fatalf("graphql: unexpected status %s", resp.Status)
		}
		// Retry the request.
		return c.QueryGraphQLAPI(ctx, query, variables)
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &engine.TransientOpError{Err: err}
	}
	if resp.StatusCode >= 500 {
		return nil, engine.Transientf("graphql: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return responseBody, engine.Fatalf("graphql: %s: %s", resp.Status, strings.TrimSpace(string(responseBody)))
	}

	return responseBody, nil
}
