// Package workerclient is the orchestrator's HTTP client for the
// migration worker's service surface. It signs a short-lived HS256 JWT
// on every call the way stanstork-stratum-api's
// internal/temporal/activities/exec_activities.go signs the callback
// token it hands the migration container, except here the token rides
// on the outgoing request instead of an env var passed to a container.
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/stanstork/migratum/internal/pipeline"
)

// Config wires the client to one worker endpoint.
type Config struct {
	BaseURL   string
	JWTSecret []byte
	Timeout   time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Hour
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type migrateRequest struct {
	SourceKey     string         `json:"source_key"`
	SourceConfig  map[string]any `json:"source_config"`
	DestKey       string         `json:"dest_key"`
	DestConfig    map[string]any `json:"dest_config"`
	OperationType string         `json:"operation_type"`
	Since         *time.Time     `json:"since,omitempty"`
}

// Migrate POSTs the spec to the worker's /migrate endpoint and decodes
// the resulting MigrationResult. The request carries the process's
// full configured timeout, since a full-table migration can legitimately
// run for the length of MIGRATE_HTTP_TIMEOUT (spec §4.3).
func (c *Client) Migrate(ctx context.Context, spec pipeline.Spec) (*pipeline.MigrationResult, error) {
	body, err := json.Marshal(migrateRequest{
		SourceKey:     spec.SourceKey,
		SourceConfig:  spec.SourceConfig,
		DestKey:       spec.DestKey,
		DestConfig:    spec.DestConfig,
		OperationType: spec.OperationType,
		Since:         spec.Since,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal migrate request: %w", err)
	}

	// /migrate answers 200 on aggregated success and 500 on aggregated
	// failure, always with a MigrationResult body (spec §6) — both are
	// decodable responses, not transport errors.
	var result pipeline.MigrationResult
	if err := c.doJSON(ctx, "/migrate", body, &result, http.StatusOK, http.StatusInternalServerError); err != nil {
		return nil, err
	}
	return &result, nil
}

// TestConnectionResult is the response shape for the worker's
// /test-connection diagnostic endpoint (spec §9.1 "connection
// diagnostics endpoint parity"): enough detail to tell "wrong
// credentials" apart from "host unreachable" without exposing the
// raw driver error to a caller.
type TestConnectionResult struct {
	Adapter      string `json:"adapter"`
	Success      bool   `json:"success"`
	ResolvedHost string `json:"resolved_host,omitempty"`
	ElapsedMS    int64  `json:"elapsed_ms"`
	Error        string `json:"error,omitempty"`
}

type testConnectionRequest struct {
	AdapterKey string         `json:"adapter_key"`
	Role       string         `json:"role"` // "source" | "destination"
	Config     map[string]any `json:"config"`
}

func (c *Client) TestConnection(ctx context.Context, adapterKey, role string, config map[string]any) (*TestConnectionResult, error) {
	body, err := json.Marshal(testConnectionRequest{AdapterKey: adapterKey, Role: role, Config: config})
	if err != nil {
		return nil, fmt.Errorf("marshal test-connection request: %w", err)
	}

	var result TestConnectionResult
	if err := c.doJSON(ctx, "/test-connection", body, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// doJSON POSTs body to path and decodes the response into out, as long
// as the response status is one of okStatuses. Any other status is
// treated as a transport-level failure and its body is surfaced as an
// error message instead of decoded.
func (c *Client) doJSON(ctx context.Context, path string, body []byte, out any, okStatuses ...int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request to %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.signToken()
	if err != nil {
		return fmt.Errorf("sign worker auth token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call worker %s: %w", path, err)
	}
	defer resp.Body.Close()

	ok := false
	for _, s := range okStatuses {
		if resp.StatusCode == s {
			ok = true
			break
		}
	}
	if !ok {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("worker %s returned %s: %s", path, resp.Status, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode worker %s response: %w", path, err)
	}
	return nil
}

// signToken mirrors generateJobToken from stanstork-stratum-api's
// exec_activities.go: a short-lived HS256 bearer token authenticating
// the orchestrator to the worker, not a user.
func (c *Client) signToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": "migratum-orchestrator",
		"aud": "migratum-worker",
		"iat": now.Unix(),
		"exp": now.Add(2 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.cfg.JWTSecret)
}
