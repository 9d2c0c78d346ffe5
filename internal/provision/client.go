// Package provision talks to the downstream provisioning API: a fixed
// credential token exchange followed by one resource call per fulfillment.
package provision

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rayadhanush/infrapilot-kb/internal/log"
)

const (
	tokenPath      = "/api/token/"
	requestTimeout = 30 * time.Second
)

var (
	ErrAuthFailed        = errors.New("provision: authentication failed")
	ErrUnexpectedStatus  = errors.New("provision: unexpected response status")
	ErrMalformedResponse = errors.New("provision: malformed response body")
)

// Config carries the downstream endpoint and its fixed service account.
type Config struct {
	BaseURL  string
	Username string
	Password string
	// Insecure skips TLS certificate verification. Only for environments
	// with self-signed downstream certs.
	Insecure bool
}

// Result is the classified outcome of a fulfillment call.
//
// Status 204 means a delete succeeded, 201 a create was accepted (KeyID,
// when present, identifies the deployment for later result attribution),
// 200 a query succeeded (ResourceNames holds the listing).
type Result struct {
	Status        int
	KeyID         string
	ResourceNames []string
}

// Deleted reports a successful delete outcome.
func (r *Result) Deleted() bool { return r.Status == http.StatusNoContent }

// Created reports an accepted create outcome.
func (r *Result) Created() bool { return r.Status == http.StatusCreated }

// Queried reports a successful query outcome.
func (r *Result) Queried() bool { return r.Status == http.StatusOK }

// Client performs authenticated calls against the provisioning API.
type Client struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	logger   log.Logger
}

func NewClient(cfg Config, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNop()
	}
	transport := http.DefaultTransport
	if cfg.Insecure {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: requestTimeout, Transport: transport},
		logger:   logger,
	}
}

// Authenticate exchanges the service credentials for a bearer token. A
// fresh token is fetched per fulfillment call; there is no caching.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}

	var token struct {
		Access string `json:"access"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if token.Access == "" {
		return "", fmt.Errorf("%w: empty access token", ErrMalformedResponse)
	}
	return token.Access, nil
}

// Invoke performs one resource call and classifies the response. A
// response with an unexpected status, or a 200 body missing
// data.resource_names, is an error; the caller treats all errors the
// same way (failure message, session reset). A 201 may arrive without a
// key_id (the custom-definition endpoint returns none); callers that
// need the deployment key check Result.KeyID themselves.
func (c *Client) Invoke(ctx context.Context, method, endpoint string, payload map[string]any, token string) (*Result, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	url := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	c.logger.Debug("invoking provisioning api", "method", method, "endpoint", endpoint)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provisioning request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return &Result{Status: resp.StatusCode}, nil

	case http.StatusCreated:
		var created struct {
			KeyID string `json:"key_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return &Result{Status: resp.StatusCode, KeyID: created.KeyID}, nil

	case http.StatusOK:
		var queried struct {
			Data struct {
				ResourceNames []string `json:"resource_names"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&queried); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if queried.Data.ResourceNames == nil {
			return nil, fmt.Errorf("%w: missing data.resource_names", ErrMalformedResponse)
		}
		return &Result{Status: resp.StatusCode, ResourceNames: queried.Data.ResourceNames}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}
