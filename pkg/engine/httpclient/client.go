// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package httpclient implements engine.Service over the engine's JSON HTTP API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/engine"
)

const (
	pathHealth      = "/api/health"
	pathLogin       = "/api/auth/login"
	pathState       = "/api/auth/state"
	pathLogout      = "/api/auth/logout"
	pathInstantiate = "/api/processes/instantiate"
	pathSearch      = "/api/definitions/search"
	pathSignal      = "/api/signals/trigger"

	maxErrorBody = 64 << 10
)

type Config struct {
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
}

// Client talks to one engine. It is safe for concurrent use.
type Client struct {
	baseURL      string
	http         *http.Client
	pollInterval time.Duration
	logger       *slog.Logger
}

var _ engine.Service = (*Client)(nil)

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("engine base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		http:         &http.Client{Timeout: timeout},
		pollInterval: poll,
		logger:       logger,
	}, nil
}

func (c *Client) Authentication() engine.AuthenticationService { return authService{c} }
func (c *Client) Processes() engine.ProcessService             { return processService{c} }
func (c *Client) Definitions() engine.DefinitionsService       { return definitionsService{c} }
func (c *Client) Events() engine.EventService                  { return eventService{c} }

func (c *Client) WaitForStartup(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		err := c.do(ctx, http.MethodGet, pathHealth, nil, nil, nil)
		if err == nil {
			return nil
		}
		c.logger.Debug("engine not started yet", "url", c.baseURL, "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for startup: %w", engine.ErrRemote, ctx.Err())
		case <-ticker.C:
		}
	}
}

type authService struct{ c *Client }

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type principalResponse struct {
	Principal engine.Principal `json:"principal"`
}

type stateResponse struct {
	State string `json:"state"`
}

func (s authService) Login(ctx context.Context, login, password string) (engine.Principal, error) {
	var resp principalResponse
	if err := s.c.do(ctx, http.MethodPost, pathLogin, nil, loginRequest{Login: login, Password: password}, &resp); err != nil {
		return engine.Principal{}, err
	}
	if resp.Principal.IsZero() {
		return engine.Principal{}, fmt.Errorf("%w: empty principal returned for %s", engine.ErrRemote, login)
	}
	return resp.Principal, nil
}

func (s authService) PrincipalState(ctx context.Context, p engine.Principal) (engine.PrincipalState, error) {
	var resp stateResponse
	if err := s.c.do(ctx, http.MethodGet, pathState, &p, nil, &resp); err != nil {
		return engine.PrincipalUnknown, err
	}
	return engine.ParsePrincipalState(resp.State), nil
}

func (s authService) Logout(ctx context.Context, p engine.Principal) error {
	return s.c.do(ctx, http.MethodPost, pathLogout, &p, nil, nil)
}

type processService struct{ c *Client }

func (s processService) InstantiateProcess(ctx context.Context, p engine.Principal, req engine.InstantiateRequest) (engine.ProcessInstanceIdentifier, error) {
	var resp engine.ProcessInstanceIdentifier
	err := s.c.do(ctx, http.MethodPost, pathInstantiate, &p, req, &resp)
	return resp, err
}

type definitionsService struct{ c *Client }

type searchResponse struct {
	Definitions []engine.DefinitionsInfo `json:"definitions"`
}

func (s definitionsService) SearchDefinitions(ctx context.Context, p engine.Principal, filter engine.DefinitionsFilter) ([]engine.DefinitionsInfo, error) {
	var resp searchResponse
	if err := s.c.do(ctx, http.MethodPost, pathSearch, &p, filter, &resp); err != nil {
		return nil, err
	}
	return resp.Definitions, nil
}

type eventService struct{ c *Client }

type signalRequest struct {
	Signal  engine.SignalIdentifier `json:"signal"`
	Name    string                  `json:"name"`
	Payload any                     `json:"payload"`
}

func (s eventService) TriggerSignal(ctx context.Context, p engine.Principal, signal engine.SignalIdentifier, name string, payload any) error {
	return s.c.do(ctx, http.MethodPost, pathSignal, &p, signalRequest{Signal: signal, Name: name, Payload: payload}, nil)
}

// do sends one request. Transport failures and 5xx answers wrap
// engine.ErrRemote; other non-2xx answers are returned as *engine.Error.
func (c *Client) do(ctx context.Context, method, path string, p *engine.Principal, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p != nil {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", engine.ErrRemote, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode %s response: %w", engine.ErrRemote, path, err)
		}
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s %s: status %d: %s", engine.ErrRemote, method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	engineErr := &engine.Error{}
	if err := json.Unmarshal(raw, engineErr); err != nil || (engineErr.Code == "" && engineErr.Message == "") {
		engineErr = &engine.Error{Code: codeForStatus(resp.StatusCode), Message: strings.TrimSpace(string(raw))}
	}
	return engineErr
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return engine.CodeNotAuthenticated
	case http.StatusNotFound:
		return engine.CodeNotFound
	default:
		return fmt.Sprintf("HTTP_%d", status)
	}
}
