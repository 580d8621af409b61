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

package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/config"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/plugins/httppost"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/plugins/jms"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/plugins/kafka"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/plugins/mqtt5"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/plugins/nats"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/plugins/rabbitmq"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/plugins/redis"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/plugins/solace"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/plugins/websocket"
)

// TransportPrefix is the settings prefix of transport declarations:
// transport.<name>.type plus the connection keys of that type.
const TransportPrefix = "transport"

type Registry struct {
	transports map[string]core.Transport
	healthy    map[string]bool
	logger     *slog.Logger
	mu         sync.RWMutex
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		transports: make(map[string]core.Transport),
		healthy:    make(map[string]bool),
		logger:     logger,
	}
}

// FromSettings builds every transport declared under transport.<name>.
// Declarations are only constructed here; nothing connects until Connect.
func FromSettings(s config.Settings, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	for _, name := range DeclaredNames(s) {
		t, err := Build(name, s.Subset(TransportPrefix+"."+name, true), logger.With("transport", name))
		if err != nil {
			return nil, err
		}
		r.Register(t)
	}
	return r, nil
}

// DeclaredNames lists the transport names that have a type key.
func DeclaredNames(s config.Settings) []string {
	var names []string
	for k := range s.Subset(TransportPrefix, true) {
		name, key, ok := strings.Cut(k, ".")
		if ok && key == "type" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Build constructs one transport from its stripped settings subset.
func Build(name string, s config.Settings, logger *slog.Logger) (core.Transport, error) {
	typ, err := s.Required("type")
	if err != nil {
		return nil, fmt.Errorf("transport %s: %w", name, err)
	}

	switch strings.ToLower(typ) {
	case "jms":
		credit, err := s.Int("credit", 0)
		if err != nil {
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		url, err := s.Required("url")
		if err != nil {
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		return jms.New(name, jms.Config{
			URL:      url,
			Username: s.GetDefault("username", ""),
			Password: s.GetDefault("password", ""),
			Credit:   int32(credit),
		}, logger), nil

	case "rabbitmq":
		prefetch, err := s.Int("prefetch", 0)
		if err != nil {
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		declare, err := s.Bool("declare", false)
		if err != nil {
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		url, err := s.Required("url")
		if err != nil {
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		return rabbitmq.New(name, rabbitmq.Config{URL: url, Prefetch: prefetch, Declare: declare}, logger), nil

	case "kafka":
		brokers := s.List("brokers")
		if len(brokers) == 0 {
			return nil, fmt.Errorf("transport %s: %w: brokers", name, core.ErrMissingConfig)
		}
		return kafka.New(name, kafka.Config{Brokers: brokers, GroupID: s.GetDefault("group_id", "")}, logger), nil

	case "mqtt5":
		qos, err := s.Int("qos", 1)
		if err != nil {
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		if qos < 0 || qos > 2 {
			return nil, fmt.Errorf("transport %s: %w: qos must be 0, 1 or 2", name, core.ErrInvalidConfig)
		}
		url, err := s.Required("url")
		if err != nil {
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		return mqtt5.New(name, mqtt5.Config{
			BrokerURL: url,
			ClientID:  s.GetDefault("client_id", ""),
			Username:  s.GetDefault("username", ""),
			Password:  s.GetDefault("password", ""),
			QoS:       byte(qos),
		}, logger), nil

	case "solace":
		host, err := s.Required("host")
		if err != nil {
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		return solace.New(name, solace.Config{
			Host:     host,
			VPN:      s.GetDefault("vpn", "default"),
			Username: s.GetDefault("username", ""),
			Password: s.GetDefault("password", ""),
		}, logger), nil

	case "nats":
		return nats.New(name, nats.Config{
			URL:        s.GetDefault("url", ""),
			Username:   s.GetDefault("username", ""),
			Password:   s.GetDefault("password", ""),
			QueueGroup: s.GetDefault("queue_group", ""),
		}, logger), nil

	case "redis":
		db, err := s.Int("db", 0)
		if err != nil {
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		return redis.New(name, redis.Config{
			Addr:     s.GetDefault("address", ""),
			Password: s.GetDefault("password", ""),
			DB:       db,
			Group:    s.GetDefault("group_id", ""),
			Consumer: s.GetDefault("client_id", ""),
		}, logger), nil

	case "websocket":
		addr, err := s.Required("address")
		if err != nil {
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		return websocket.New(name, websocket.Config{Address: addr}, logger), nil

	case "http_post":
		addr, err := s.Required("address")
		if err != nil {
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		maxBody, err := s.Int("max_body", 0)
		if err != nil {
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		timeout, err := s.Duration("response_timeout", 0)
		if err != nil {
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		return httppost.New(name, httppost.Config{
			Address:         addr,
			MaxBody:         int64(maxBody),
			ResponseTimeout: timeout,
		}, logger), nil

	default:
		return nil, fmt.Errorf("%w: transport %s has type %q", core.ErrUnknownTransport, name, typ)
	}
}

func (r *Registry) Register(t core.Transport) {
	r.mu.Lock()
	r.transports[t.Name()] = t
	r.mu.Unlock()
	r.logger.Info("registered transport", "name", t.Name(), "type", t.Type())
}

func (r *Registry) Get(name string) (core.Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrTransportNotFound, name)
	}
	return t, nil
}

func (r *Registry) Transports() map[string]core.Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make(map[string]core.Transport, len(r.transports))
	for k, v := range r.transports {
		cp[k] = v
	}
	return cp
}

// Connect connects the named transports. A transport that fails is marked
// unhealthy and its error joined into the result; the others stay usable.
func (r *Registry) Connect(ctx context.Context, names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, name := range names {
		if r.healthy[name] {
			continue
		}
		t, ok := r.transports[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", core.ErrTransportNotFound, name))
			continue
		}
		if err := t.Connect(ctx); err != nil {
			r.logger.Error("transport connect failed", "name", name, "error", err)
			r.healthy[name] = false
			errs = append(errs, fmt.Errorf("%w: %s: %w", core.ErrTransportUnavailable, name, err))
			continue
		}
		r.healthy[name] = true
	}
	return errors.Join(errs...)
}

func (r *Registry) IsHealthy(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.healthy[name]
}

// StopAll disconnects every connected transport.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, t := range r.transports {
		if !r.healthy[name] {
			continue
		}
		r.logger.Info("stopping transport", "name", name)
		if err := t.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("transport %s: %w", name, err))
		}
		r.healthy[name] = false
	}
	return errors.Join(errs...)
}
