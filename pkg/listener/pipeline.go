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

// Package listener converts inbound messages into engine actions.
//
// A Pipeline owns the parts shared by every action: payload to data-entry
// mapping, authentication through the session cache, timing and Close. The
// engine call itself is an Action, either Instantiate or Signal.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/internal/metrics"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/internal/session"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/engine"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/mapping"
)

// Action is one of the engine operations a pipeline can run. The set is
// closed: Instantiate and Signal.
type Action interface {
	Kind() core.ActionKind
	Apply(ctx context.Context, p engine.Principal, msg *core.Message, data map[string]any) (string, error)
	bind(pl *Pipeline) error
}

// DataEntries tells how a payload becomes the engine data map. At most one
// of ID and Mapping may be set.
type DataEntries struct {
	// ID receives the whole payload.
	ID string
	// Mapping copies payload map keys (map key) to data entry ids (value).
	Mapping map[string]string
}

func (d DataEntries) validate() error {
	if d.ID != "" && len(d.Mapping) > 0 {
		return fmt.Errorf("%w: data entry id %q and a data entries mapping cannot be used together", core.ErrInvalidConfig, d.ID)
	}
	return nil
}

type Config struct {
	EndpointID    string
	Engine        engine.Service
	Sessions      *session.Cache
	User          session.User
	DefinitionsID string
	DataEntries   DataEntries
	// Objects converts decoded payload objects to maps. Defaults to a JSON
	// round trip.
	Objects mapping.ObjectMapper
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Pipeline struct {
	cfg         Config
	action      Action
	definitions engine.DefinitionsIdentifier
	logger      *slog.Logger
	closeOnce   sync.Once
	closeErr    error
}

// NewPipeline validates cfg and binds action to it.
func NewPipeline(cfg Config, action Action) (*Pipeline, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("%w: engine service must be set", core.ErrInvalidConfig)
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("%w: session cache must be set", core.ErrInvalidConfig)
	}
	if cfg.User.Login == "" {
		return nil, fmt.Errorf("%w: user must be set", core.ErrInvalidConfig)
	}
	if cfg.DefinitionsID == "" {
		return nil, fmt.Errorf("%w: definitions identifier must be set", core.ErrInvalidConfig)
	}
	if action == nil {
		return nil, fmt.Errorf("%w: action must be set", core.ErrInvalidConfig)
	}
	if err := cfg.DataEntries.validate(); err != nil {
		return nil, err
	}
	if cfg.Objects == nil {
		cfg.Objects = mapping.JSONObjectMapper{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	pl := &Pipeline{
		cfg:         cfg,
		action:      action,
		definitions: engine.DefinitionsIdentifier{ID: cfg.DefinitionsID},
		logger: cfg.Logger.With(
			"endpoint", cfg.EndpointID,
			"definitions", cfg.DefinitionsID,
			"action", action.Kind().String(),
		),
	}
	if err := action.bind(pl); err != nil {
		return nil, err
	}
	return pl, nil
}

func (p *Pipeline) Kind() core.ActionKind { return p.action.Kind() }

func (p *Pipeline) EndpointID() string { return p.cfg.EndpointID }

func (p *Pipeline) User() session.User { return p.cfg.User }

// Handle runs the action for msg and returns the reply to send back, if
// any. Raw bytes and stream payloads are rejected before any engine call.
func (p *Pipeline) Handle(ctx context.Context, msg *core.Message) (string, error) {
	switch msg.Payload.(type) {
	case []byte, core.StreamPayload:
		return "", fmt.Errorf("%w (%T)", core.ErrUnsupportedPayload, msg.Payload)
	}

	p.logger.Debug("received message", "message_id", msg.ID, "destination", msg.Destination)

	data, err := p.dataEntries(msg.Payload)
	if err != nil {
		return "", err
	}

	principal, err := p.cfg.Sessions.Login(ctx, p.cfg.User)
	p.cfg.Metrics.Login(err == nil)
	if err != nil {
		return "", err
	}

	start := time.Now()
	reply, err := p.action.Apply(ctx, principal, msg, data)
	elapsed := time.Since(start)
	p.cfg.Metrics.ActionDuration(p.cfg.EndpointID, p.action.Kind().String(), elapsed)
	p.logger.Debug("message processed", "message_id", msg.ID, "duration", elapsed)
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (p *Pipeline) dataEntries(payload any) (map[string]any, error) {
	entries := p.cfg.DataEntries
	switch {
	case entries.ID != "":
		switch v := payload.(type) {
		case string, map[string]any:
			return map[string]any{entries.ID: v}, nil
		default:
			m, err := p.cfg.Objects.ToMap(v)
			if err != nil {
				return nil, err
			}
			return map[string]any{entries.ID: m}, nil
		}

	case len(entries.Mapping) > 0:
		m, ok := payload.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: with a data entries mapping the payload must be a map, got %T", core.ErrPayloadShape, payload)
		}
		data := make(map[string]any, len(entries.Mapping))
		for from, to := range entries.Mapping {
			data[to] = m[from]
		}
		return data, nil

	default:
		return map[string]any{}, nil
	}
}

// Close logs the pipeline's own identity out of the engine. Later calls
// return the first result.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.logger.Debug("closing listener")
		p.closeErr = p.cfg.Sessions.Logout(ctx, p.cfg.User)
	})
	return p.closeErr
}

// actionError wraps an engine failure raised while running an action.
func actionError(what string, err error) error {
	if errors.Is(err, core.ErrAction) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", core.ErrAction, what, err)
}
