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

// Package bridge wires the engine, the transports and the endpoints into one
// running process and orders its shutdown.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/internal/endpoint"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/internal/logging"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/internal/metrics"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/internal/routing"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/internal/session"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/config"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/engine"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/engine/httpclient"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/listener"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/mapping"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/plugins"
)

const (
	KeyEngineURL            = "module.engine.url"
	KeyEngineTimeout        = "module.engine.timeout"
	KeyEngineStartupTimeout = "module.engine.startup_timeout"
	KeyEngineStartupPoll    = "module.engine.startup_poll"
	KeyMetricsAddress       = "module.metrics.address"

	defaultEngineTimeout  = 30 * time.Second
	defaultStartupTimeout = 2 * time.Minute
	defaultStartupPoll    = 2 * time.Second
)

// NewEngine builds the HTTP engine client from the module.engine.* settings.
func NewEngine(s config.Settings, logger *slog.Logger) (*httpclient.Client, error) {
	url, err := s.Required(KeyEngineURL)
	if err != nil {
		return nil, err
	}
	timeout, err := s.Duration(KeyEngineTimeout, defaultEngineTimeout)
	if err != nil {
		return nil, err
	}
	poll, err := s.Duration(KeyEngineStartupPoll, defaultStartupPoll)
	if err != nil {
		return nil, err
	}
	return httpclient.New(httpclient.Config{BaseURL: url, Timeout: timeout, PollInterval: poll}, logger)
}

type Options struct {
	Settings   config.Settings
	Engine     engine.Service
	Transports *plugins.Registry
	// Types resolves JSON type ids to Go types. Optional.
	Types  *mapping.TypeRegistry
	Logger *slog.Logger
}

type Bridge struct {
	settings       config.Settings
	engine         engine.Service
	transports     *plugins.Registry
	sessions       *session.Cache
	metrics        *metrics.Metrics
	configurator   *endpoint.Configurator
	table          *routing.Table
	startupTimeout time.Duration
	logger         *slog.Logger

	mu          sync.Mutex
	dispatchers []*endpoint.Dispatcher
	endpoints   []*endpoint.Endpoint
	server      *metrics.Server
	cancel      context.CancelFunc
}

func New(opts Options) (*Bridge, error) {
	if opts.Engine == nil || opts.Transports == nil {
		return nil, fmt.Errorf("%w: engine and transports must be set", core.ErrInvalidConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	types := opts.Types
	if types == nil {
		types = mapping.NewTypeRegistry()
	}

	startupTimeout, err := opts.Settings.Duration(KeyEngineStartupTimeout, defaultStartupTimeout)
	if err != nil {
		return nil, err
	}

	sessions := session.NewCache(opts.Engine.Authentication(), logger.With("component", "sessions"))
	m := metrics.New(sessions.Len)
	factory := &listener.Factory{
		Engine:   opts.Engine,
		Sessions: sessions,
		Metrics:  m,
		Logger:   logger.With("component", "listener"),
	}
	configurator, err := endpoint.NewConfigurator(opts.Settings, factory, opts.Transports, types, logger)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		settings:       opts.Settings,
		engine:         opts.Engine,
		transports:     opts.Transports,
		sessions:       sessions,
		metrics:        m,
		configurator:   configurator,
		table:          routing.NewTable(),
		startupTimeout: startupTimeout,
		logger:         logger.With("component", "bridge"),
	}, nil
}

func (b *Bridge) Sessions() *session.Cache { return b.sessions }

func (b *Bridge) Metrics() *metrics.Metrics { return b.metrics }

// Endpoints lists the running endpoints sorted by id.
func (b *Bridge) Endpoints() []core.EndpointDefinition { return b.table.List() }

// Validate configures the endpoints without contacting the engine or the
// brokers and returns their definitions.
func (b *Bridge) Validate(ctx context.Context) ([]core.EndpointDefinition, error) {
	eps, err := b.configurator.Configure(ctx)
	if err != nil {
		return nil, err
	}
	defs := make([]core.EndpointDefinition, 0, len(eps))
	for _, ep := range eps {
		defs = append(defs, ep.Definition)
	}
	return defs, endpoint.CloseAll(ctx, eps)
}

// Start waits for the engine, configures the endpoints, connects the
// transports they use and starts consuming.
func (b *Bridge) Start(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, b.startupTimeout)
	err := b.engine.WaitForStartup(waitCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("engine not started: %w", err)
	}
	b.logger.Info("engine is up")

	eps, err := b.configurator.Configure(ctx)
	if err != nil {
		return err
	}

	eps, err = b.connect(ctx, eps)
	if err != nil {
		return err
	}

	runCtx, runCancel := context.WithCancel(ctx)
	deliveries := logging.NewDeliveryLogger(b.logger.With("component", "delivery"))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancel = runCancel
	b.endpoints = eps
	if addr := b.settings.GetDefault(KeyMetricsAddress, ""); addr != "" {
		b.server = metrics.NewServer(addr, b.metrics, b.logger)
		b.server.Handle("/status", b.StatusHandler())
		b.server.Start()
	}
	for _, ep := range eps {
		d := endpoint.NewDispatcher(ep, b.metrics, deliveries, b.logger)
		d.Start(runCtx)
		b.table.Add(ep.Definition)
		b.dispatchers = append(b.dispatchers, d)
		go b.watch(runCtx, d)
	}

	b.logger.Info("process bridge started", "endpoints", len(eps), "by_transport", b.table.ByTransport())
	return nil
}

// watch takes an endpoint out of the live table when its consumer exits
// while the bridge is still running.
func (b *Bridge) watch(ctx context.Context, d *endpoint.Dispatcher) {
	select {
	case <-ctx.Done():
	case <-d.Done():
		if ctx.Err() != nil {
			return
		}
		def := d.Endpoint().Definition
		b.table.Remove(def.ID)
		b.logger.Warn("consumer exited, endpoint no longer consuming",
			"endpoint", def.ID, "transport", def.Transport, "destination", def.Destination)
	}
}

// connect connects the transports the endpoints use. An endpoint whose
// transport fails is dropped under the ignore policy; otherwise every
// endpoint is closed and the error returned.
func (b *Bridge) connect(ctx context.Context, eps []*endpoint.Endpoint) ([]*endpoint.Endpoint, error) {
	seen := make(map[string]bool)
	var names []string
	for _, ep := range eps {
		if !seen[ep.Definition.Transport] {
			seen[ep.Definition.Transport] = true
			names = append(names, ep.Definition.Transport)
		}
	}
	sort.Strings(names)

	err := b.transports.Connect(ctx, names)
	if err == nil {
		return eps, nil
	}
	if !b.configurator.IgnoreErroneousEndpoints {
		return nil, errors.Join(err, endpoint.CloseAll(ctx, eps))
	}

	kept := eps[:0:0]
	for _, ep := range eps {
		if b.transports.IsHealthy(ep.Definition.Transport) {
			kept = append(kept, ep)
			continue
		}
		b.logger.Warn("transport unavailable, endpoint skipped", "endpoint", ep.Definition.ID, "transport", ep.Definition.Transport)
		if cerr := ep.Close(ctx); cerr != nil {
			b.logger.Warn("endpoint close failed", "endpoint", ep.Definition.ID, "error", cerr)
		}
	}
	return kept, nil
}

// Stop shuts down in order: stop consuming and drain in-flight deliveries,
// close the endpoints, log out every remaining session, disconnect the
// transports and stop the metrics server.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	dispatchers, eps, server, cancel := b.dispatchers, b.endpoints, b.server, b.cancel
	b.dispatchers, b.endpoints, b.server, b.cancel = nil, nil, nil, nil
	b.mu.Unlock()

	b.logger.Info("shutting down process bridge")
	var errs []error

	if cancel != nil {
		cancel()
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, d := range dispatchers {
		wg.Add(1)
		go func(d *endpoint.Dispatcher) {
			defer wg.Done()
			if err := d.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(d)
	}
	wg.Wait()

	if err := endpoint.CloseAll(ctx, eps); err != nil {
		errs = append(errs, err)
	}
	if err := b.sessions.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.transports.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.table.ReplaceAll(nil)

	b.logger.Info("process bridge stopped")
	return errors.Join(errs...)
}
