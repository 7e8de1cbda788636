// Package provider is a thin client over the external compute provider's
// REST API (spec §4.1, §6). It never retries on its own — callers (the
// Workspace Actor, via internal/backoff) decide when a classified error is
// worth retrying.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/workspacehq/gateway/internal/platform/apierr"
)

// ClientConfig configures the provider HTTP client.
type ClientConfig struct {
	APIURL     string
	APIKey     string
	AppName    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client is a stateless wrapper over the provider REST surface.
type Client struct {
	httpClient *http.Client
	baseURL    string
	appName    string
	apiKey     string
}

// NewClient builds a Client with standardized timeouts, matching the
// teacher gateway's httputil.NewClient convention of explicit, bounded
// HTTP clients rather than http.DefaultClient.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		appName:    cfg.AppName,
		apiKey:     cfg.APIKey,
	}
}

// Machine is the subset of a provider machine we care about.
type Machine struct {
	ID  string
	Env map[string]string
}

func (c *Client) machinesURL(suffix string) string {
	return fmt.Sprintf("%s/apps/%s/machines%s", c.baseURL, c.appName, suffix)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, apierr.NewProviderError(apierr.KindClientError, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, apierr.NewProviderError(apierr.KindTransientNetwork, "read response body", err)
	}

	return respBody, resp.StatusCode, nil
}

// classifyTransportError maps a transport-level failure (connect refused,
// NXDOMAIN, TLS failure, timeout) to the spec's TransientNetwork kind,
// distinguishing an explicit deadline exceeded as Timeout.
func classifyTransportError(err error) error {
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok && netErr.Timeout() {
		return apierr.NewProviderError(apierr.KindTimeout, "request timed out", err)
	}
	return apierr.NewProviderError(apierr.KindTransientNetwork, "transport failure", err)
}

func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// classifyStatus maps a non-transport HTTP response to the spec's error
// taxonomy. isGet controls whether a 404 maps to NotFound (GetMachine only).
func classifyStatus(status int, body []byte, isGet bool) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound && isGet:
		return apierr.NewProviderError(apierr.KindNotFound, "machine not found", nil)
	case status >= 400 && status < 500:
		return apierr.NewProviderError(apierr.KindClientError, string(body), nil)
	case status >= 500:
		return apierr.NewProviderError(apierr.KindServerError, string(body), nil)
	default:
		return apierr.NewProviderError(apierr.KindClientError, fmt.Sprintf("unexpected status %d", status), nil)
	}
}

// CreateMachine deep-merges the built-in default machine config with
// override (which must at minimum set env USERNAME/REPO_NAME) and submits
// it to the provider, returning the assigned machine id.
func (c *Client) CreateMachine(ctx context.Context, override map[string]interface{}) (string, error) {
	merged := DeepMerge(DefaultMachineConfig(), override)

	payload, err := json.Marshal(merged)
	if err != nil {
		return "", apierr.NewProviderError(apierr.KindClientError, "encode create payload", err)
	}

	body, status, err := c.do(ctx, http.MethodPost, c.machinesURL(""), payload)
	if err != nil {
		return "", err
	}
	if err := classifyStatus(status, body, false); err != nil {
		return "", err
	}

	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return "", apierr.NewProviderError(apierr.KindServerError, "create response missing id", nil)
	}
	return id, nil
}

// StartMachine starts a previously created (possibly suspended) machine.
func (c *Client) StartMachine(ctx context.Context, id string) error {
	_, status, err := c.do(ctx, http.MethodPost, c.machinesURL("/"+id+"/start"), nil)
	if err != nil {
		return err
	}
	return classifyStatus(status, nil, false)
}

// StopMachine suspends a machine; the id remains valid for a later start.
func (c *Client) StopMachine(ctx context.Context, id string) error {
	_, status, err := c.do(ctx, http.MethodPost, c.machinesURL("/"+id+"/stop"), nil)
	if err != nil {
		return err
	}
	return classifyStatus(status, nil, false)
}

// GetMachine fetches a single machine by id.
func (c *Client) GetMachine(ctx context.Context, id string) (Machine, error) {
	body, status, err := c.do(ctx, http.MethodGet, c.machinesURL("/"+id), nil)
	if err != nil {
		return Machine{}, err
	}
	if err := classifyStatus(status, body, true); err != nil {
		return Machine{}, err
	}
	return parseMachine(body), nil
}

// ListMachines lists every machine registered under the configured app,
// used once per cold start per workspace to locate an orphaned machine
// whose env vars match the workspace's user/repo (spec §4.1).
func (c *Client) ListMachines(ctx context.Context) ([]Machine, error) {
	body, status, err := c.do(ctx, http.MethodGet, c.machinesURL(""), nil)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(status, body, false); err != nil {
		return nil, err
	}

	var machines []Machine
	for _, item := range gjson.GetBytes(body, "@this").Array() {
		machines = append(machines, parseMachineValue(item))
	}
	return machines, nil
}

func parseMachine(body []byte) Machine {
	return parseMachineValue(gjson.ParseBytes(body))
}

func parseMachineValue(v gjson.Result) Machine {
	m := Machine{
		ID:  v.Get("id").String(),
		Env: map[string]string{},
	}
	v.Get("config.env").ForEach(func(key, value gjson.Result) bool {
		m.Env[key.String()] = value.String()
		return true
	})
	return m
}

// FindByWorkspace returns the single machine (if any) whose USERNAME/
// REPO_NAME env vars match user/repo, per spec §4.1 step 3. ok is false if
// there is no match or more than one match (the spec requires "exactly
// one").
func FindByWorkspace(machines []Machine, user, repo string) (Machine, bool) {
	var match Machine
	count := 0
	for _, m := range machines {
		if m.Env["USERNAME"] == user && m.Env["REPO_NAME"] == repo {
			match = m
			count++
		}
	}
	return match, count == 1
}
