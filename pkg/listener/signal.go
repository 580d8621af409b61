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

package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/engine"
)

// SignalNameProperty is the message property that overrides the configured
// signal name.
const SignalNameProperty = "SignalName"

type SignalOptions struct {
	SignalID string
	// Name is used when the message carries no SignalName property.
	Name string
}

// FanOutResult counts the definitions versions visited for one message.
type FanOutResult struct {
	Versions  int
	Triggered int
	NotFound  int
}

// Signal raises a named signal on every published version of the
// pipeline's definitions.
type Signal struct {
	opts SignalOptions
	pl   *Pipeline
}

func NewSignal(opts SignalOptions) *Signal {
	return &Signal{opts: opts}
}

func (a *Signal) Kind() core.ActionKind { return core.ActionSignal }

func (a *Signal) bind(pl *Pipeline) error {
	if strings.TrimSpace(a.opts.SignalID) == "" {
		return fmt.Errorf("%w: signal identifier must be set", core.ErrInvalidConfig)
	}
	a.pl = pl
	pl.logger.Debug("signal listener configured", "signal", a.opts.SignalID, "default_name", a.opts.Name)
	return nil
}

func (a *Signal) signalName(msg *core.Message) (string, error) {
	if name, ok := msg.Property(SignalNameProperty); ok && strings.TrimSpace(name) != "" {
		return name, nil
	}
	if strings.TrimSpace(a.opts.Name) != "" {
		return a.opts.Name, nil
	}
	return "", core.ErrNoSignalName
}

// Apply never fails on engine errors: a version that does not declare the
// signal is counted, anything else is logged and ends the fan-out.
func (a *Signal) Apply(ctx context.Context, p engine.Principal, msg *core.Message, data map[string]any) (string, error) {
	if len(data) > 1 {
		return "", fmt.Errorf("%w: %d data entries, only one can be signalled", core.ErrPayloadShape, len(data))
	}
	name, err := a.signalName(msg)
	if err != nil {
		return "", err
	}

	var payload any
	for _, v := range data {
		payload = v
	}

	a.pl.logger.Info("trigger signal", "signal", name, "payload", payload)

	start := time.Now()
	res, err := a.FanOut(ctx, p, name, payload)
	if err != nil {
		a.pl.logger.Error("signal fan-out interrupted", "signal", name,
			"versions", res.Versions, "triggered", res.Triggered, "not_found", res.NotFound, "error", err)
	}
	a.pl.cfg.Metrics.SignalFanOut(a.pl.cfg.EndpointID, res.Triggered, res.NotFound)
	a.pl.logger.Debug("signal triggered", "signal", name,
		"versions", res.Versions, "triggered", res.Triggered, "not_found", res.NotFound,
		"duration", time.Since(start))
	return "", nil
}

// FanOut triggers the signal on every version of the definitions.
func (a *Signal) FanOut(ctx context.Context, p engine.Principal, name string, payload any) (FanOutResult, error) {
	var res FanOutResult

	infos, err := a.pl.cfg.Engine.Definitions().SearchDefinitions(ctx, p, engine.DefinitionsFilter{IDLike: a.pl.cfg.DefinitionsID})
	if err != nil {
		return res, fmt.Errorf("search definitions: %w", err)
	}
	if len(infos) == 0 {
		a.pl.logger.Warn("no definition found", "definitions", a.pl.cfg.DefinitionsID)
		return res, nil
	}
	res.Versions = len(infos)
	a.pl.logger.Debug("definitions versions found", "count", len(infos))

	events := a.pl.cfg.Engine.Events()
	for _, info := range infos {
		sig := engine.SignalIdentifier{
			ID:          a.opts.SignalID,
			Definitions: engine.DefinitionsIdentifier{ID: info.Identifier.ID, Version: info.Identifier.Version},
		}
		err := events.TriggerSignal(ctx, p, sig, name, payload)
		switch {
		case err == nil:
			res.Triggered++
		case errors.Is(err, engine.ErrSignalNotFound):
			res.NotFound++
			a.pl.logger.Debug("signal not found", "version", sig.Definitions.Version)
		default:
			return res, fmt.Errorf("trigger signal on %s: %w", sig.Definitions, err)
		}
	}
	return res, nil
}
