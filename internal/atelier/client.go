// Package atelier queries package manager metadata through the remote
// server's REST API and collects the session cookies the terminal
// connection authenticates with.
package atelier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/remote-agent-terminal/ipmbridge/internal/model"
)

const (
	// RegistriesQuery lists the configured package registries.
	RegistriesQuery = "SELECT Name, Details, URL FROM %ZPM_PackageManager_Client.RemoteServerDefinition ORDER BY Name"

	// ModulesQuery lists the modules installed in a namespace.
	ModulesQuery = `SELECT * FROM %ZPM_PackageManager_Developer."Module" ORDER BY Name`

	defaultTimeout = 30 * time.Second
)

// Client is a REST client for one server.
type Client struct {
	target model.Target
	creds  model.Credentials
	http   *http.Client

	mu      sync.Mutex
	cookies []string
}

// NewClient creates a client for target. Requests carry basic auth with
// creds and share a cookie jar.
func NewClient(target model.Target, creds model.Credentials) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Client{
		target: target,
		creds:  creds,
		http:   &http.Client{Jar: jar, Timeout: defaultTimeout},
	}, nil
}

type queryResponse struct {
	Status struct {
		Errors []struct {
			Error string `json:"error"`
		} `json:"errors"`
	} `json:"status"`
	Result struct {
		Content []map[string]any `json:"content"`
	} `json:"result"`
}

// Query runs an SQL query in namespace and returns its rows.
func (c *Client) Query(ctx context.Context, namespace, query string) ([]map[string]any, error) {
	endpoint := c.target.BaseURL() + "/api/atelier/v1/" + url.PathEscape(namespace) + "/action/query"

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.creds.Username != "" {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConnect, err)
	}
	defer resp.Body.Close()

	if cookies := resp.Header.Values("Set-Cookie"); len(cookies) > 0 {
		c.mu.Lock()
		c.cookies = cookies
		c.mu.Unlock()
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("query rejected with status %d: %w", resp.StatusCode, model.ErrAuth)
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("query failed with status %d", resp.StatusCode)
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}
	if len(out.Status.Errors) > 0 {
		msgs := make([]string, 0, len(out.Status.Errors))
		for _, e := range out.Status.Errors {
			msgs = append(msgs, e.Error)
		}
		return nil, fmt.Errorf("query failed: %s", strings.Join(msgs, "; "))
	}
	if out.Result.Content == nil {
		return []map[string]any{}, nil
	}
	return out.Result.Content, nil
}

// Registries returns the package registries configured in namespace.
func (c *Client) Registries(ctx context.Context, namespace string) ([]map[string]any, error) {
	return c.Query(ctx, namespace, RegistriesQuery)
}

// Modules returns the modules installed in namespace.
func (c *Client) Modules(ctx context.Context, namespace string) ([]map[string]any, error) {
	return c.Query(ctx, namespace, ModulesQuery)
}

// AuthContext returns the Set-Cookie values of the last response that
// carried any, for use by the terminal connection.
func (c *Client) AuthContext() model.AuthContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.AuthContext{Cookies: append([]string(nil), c.cookies...)}
}
