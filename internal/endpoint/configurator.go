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

// Package endpoint turns the endpoint settings into live listeners and runs
// them.
//
// A Configurator reads module.endpoints and, for every id, the
// endpoint.<id>.* keys: it builds the listener pipeline through a
// listener.Factory and a consumer for (destination, selector) on the
// endpoint's transport. A Dispatcher then feeds that consumer's deliveries
// to the pipeline.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/internal/session"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/config"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/listener"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/mapping"
)

// Module level settings.
const (
	KeyEndpoints         = "module.endpoints"
	KeyLogin             = "module.principal.login"
	KeyPassword          = "module.principal.password"
	KeyIgnoreErroneous   = "module.ignore_erroneous_endpoints"
	KeyDefaultTransport  = "module.transport"
	KeyJSONTypeProperty  = "module.json.type_property"
	DefaultTransportName = "default"
)

// Per endpoint settings, relative to endpoint.<id>.
const (
	keyDestination = "destination"
	keySelector    = "selector"
	keyLogin       = "principal.login"
	keyPassword    = "principal.password"
	keyMapping     = "mapping"
	keyTransport   = "transport"
	keyConcurrency = "concurrency"
	keyBpmn        = "bpmn"
)

// TransportSource resolves transports by name.
type TransportSource interface {
	Get(name string) (core.Transport, error)
}

// Endpoint is one configured listener bound to its consumer.
type Endpoint struct {
	Definition core.EndpointDefinition
	Pipeline   *listener.Pipeline
	Consumer   core.Consumer
	Converter  mapping.Converter
}

func (e *Endpoint) Name() string { return e.Definition.Name() }

// Close logs the endpoint's identity out of the engine.
func (e *Endpoint) Close(ctx context.Context) error {
	return e.Pipeline.Close(ctx)
}

type Configurator struct {
	Settings   config.Settings
	Factory    *listener.Factory
	Transports TransportSource
	Types      *mapping.TypeRegistry
	// IgnoreErroneousEndpoints skips an endpoint that fails to configure
	// instead of aborting, and falls back to defaults for an unknown action
	// or mapping.
	IgnoreErroneousEndpoints bool
	Logger                   *slog.Logger
}

// NewConfigurator reads the ignore policy from settings.
func NewConfigurator(s config.Settings, factory *listener.Factory, transports TransportSource, types *mapping.TypeRegistry, logger *slog.Logger) (*Configurator, error) {
	ignore, err := s.Bool(KeyIgnoreErroneous, true)
	if err != nil {
		return nil, err
	}
	return &Configurator{
		Settings:                 s,
		Factory:                  factory,
		Transports:               transports,
		Types:                    types,
		IgnoreErroneousEndpoints: ignore,
		Logger:                   logger.With("component", "configurator"),
	}, nil
}

// Configure builds every endpoint listed in module.endpoints. Under the
// strict policy the first failure aborts and closes what was built.
func (c *Configurator) Configure(ctx context.Context) ([]*Endpoint, error) {
	ids := c.Settings.List(KeyEndpoints)
	if len(ids) == 0 {
		c.Logger.Warn("no endpoint has been defined", "key", KeyEndpoints)
		return nil, nil
	}

	var built []*Endpoint
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			c.Logger.Warn("endpoint listed twice, keeping the first", "endpoint", id)
			continue
		}
		seen[id] = true

		ep, err := c.configureEndpoint(ctx, id)
		if err != nil {
			if c.IgnoreErroneousEndpoints {
				c.Logger.Warn("failed to configure endpoint, going to the next one", "endpoint", id, "error", err)
				continue
			}
			err = fmt.Errorf("failed to configure endpoint %s: %w", id, err)
			return nil, errors.Join(err, CloseAll(ctx, built))
		}
		c.Logger.Info("endpoint configured",
			"endpoint", id,
			"consumer", ep.Name(),
			"transport", ep.Definition.Transport,
			"action", ep.Definition.Action.String(),
			"definitions", ep.Definition.DefinitionsIdentifier,
		)
		built = append(built, ep)
	}
	return built, nil
}

func (c *Configurator) configureEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	def, err := c.Definition(id)
	if err != nil {
		return nil, err
	}

	transport, err := c.Transports.Get(def.Transport)
	if err != nil {
		return nil, err
	}

	user := session.User{Login: def.Credentials.Login, Password: def.Credentials.Password}
	pipeline, err := c.Factory.Build(ctx, def.ID, def.Action, user, def.DefinitionsIdentifier, def.Properties)
	if err != nil {
		return nil, err
	}

	consumer, err := transport.NewConsumer(core.ConsumerSpec{
		EndpointID:  def.ID,
		Destination: def.Destination,
		Selector:    def.Selector,
	})
	if err != nil {
		return nil, errors.Join(err, pipeline.Close(ctx))
	}

	typeProperty := c.Settings.GetDefault(KeyJSONTypeProperty, mapping.DefaultTypeProperty)
	return &Endpoint{
		Definition: def,
		Pipeline:   pipeline,
		Consumer:   consumer,
		Converter:  mapping.New(def.Mapping, c.Types, typeProperty),
	}, nil
}

// Definition reads the settings of one endpoint.
func (c *Configurator) Definition(id string) (core.EndpointDefinition, error) {
	s := c.Settings.Subset("endpoint."+id, true)
	logger := c.Logger.With("endpoint", id)

	def := core.EndpointDefinition{ID: id}
	var err error
	if def.Destination, err = s.Required(keyDestination); err != nil {
		return def, err
	}
	def.Selector = s.GetDefault(keySelector, "")

	def.Credentials = core.Credentials{
		Login:    s.GetDefault(keyLogin, c.Settings.GetDefault(KeyLogin, "")),
		Password: s.GetDefault(keyPassword, c.Settings.GetDefault(KeyPassword, "")),
	}

	bpmn := s.Subset(keyBpmn, true)
	if def.DefinitionsIdentifier, err = bpmn.Required("definition_identifier"); err != nil {
		return def, err
	}

	action := bpmn.GetDefault("action", "")
	if def.Action, err = core.ParseActionKind(action); err != nil {
		if !c.IgnoreErroneousEndpoints {
			return def, err
		}
		logger.Warn("unknown action, instantiate will be used", "action", action)
	}

	mode := s.GetDefault(keyMapping, "")
	if def.Mapping, err = core.ParseMappingMode(mode); err != nil {
		if !c.IgnoreErroneousEndpoints {
			return def, err
		}
		logger.Warn("unknown mapping, none will be used", "mapping", mode)
	}

	def.Transport = s.GetDefault(keyTransport, c.Settings.GetDefault(KeyDefaultTransport, DefaultTransportName))

	if def.Concurrency, err = s.Int(keyConcurrency, 1); err != nil {
		return def, err
	}
	if def.Concurrency < 1 {
		return def, fmt.Errorf("%w: concurrency must be at least 1, got %d", core.ErrInvalidConfig, def.Concurrency)
	}

	def.Properties = s.SubsetToCamelCase(keyBpmn)
	return def, nil
}

// CloseAll closes every endpoint and joins the errors.
func CloseAll(ctx context.Context, eps []*Endpoint) error {
	var errs []error
	for _, ep := range eps {
		if err := ep.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("endpoint %s: %w", ep.Definition.ID, err))
		}
	}
	return errors.Join(errs...)
}
