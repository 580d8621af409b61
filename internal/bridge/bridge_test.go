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

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/config"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/engine/enginetest"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/plugins"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/plugins/plugintest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func settings(kv ...string) config.Settings {
	m := map[string]string{
		"module.principal.login":                     "bridge",
		"module.principal.password":                  "secret",
		"module.endpoints":                           "orders,events",
		"endpoint.orders.destination":                "queue.orders",
		"endpoint.orders.bpmn.definition_identifier": "Proc1",
		"endpoint.orders.bpmn.process_identifier":    "P1",
		"endpoint.orders.bpmn.data_entry_id":         "input",
		"endpoint.events.transport":                  "events",
		"endpoint.events.destination":                "topic.events",
		"endpoint.events.principal.login":            "ops",
		"endpoint.events.bpmn.definition_identifier": "Proc1",
		"endpoint.events.bpmn.process_identifier":    "P1",
	}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return config.FromMap(m)
}

type fixture struct {
	engine *enginetest.Engine
	def    *plugintest.Transport
	events *plugintest.Transport
	reg    *plugins.Registry
}

func newFixture() *fixture {
	f := &fixture{
		engine: enginetest.New(),
		def:    plugintest.New("default"),
		events: plugintest.New("events"),
		reg:    plugins.NewRegistry(testLogger()),
	}
	f.reg.Register(f.def)
	f.reg.Register(f.events)
	return f
}

func (f *fixture) bridge(t *testing.T, s config.Settings) *Bridge {
	t.Helper()
	b, err := New(Options{Settings: s, Engine: f.engine, Transports: f.reg, Logger: testLogger()})
	require.NoError(t, err)
	return b
}

func TestStartRunStop(t *testing.T) {
	f := newFixture()
	b := f.bridge(t, settings())
	require.NoError(t, b.Start(context.Background()))

	defs := b.Endpoints()
	require.Len(t, defs, 2)
	assert.Equal(t, "events", defs[0].ID)
	assert.Equal(t, "orders", defs[1].ID)
	assert.Equal(t, 1, f.def.Connects())
	assert.Equal(t, 1, f.events.Connects())

	c := f.def.Consumer("orders")
	o, err := c.Push(&core.Message{ID: "m1", Payload: "hello"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.Settled(o) }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, c.Snapshot(o).Acked)
	assert.Equal(t, 1, b.Sessions().Len())

	require.NoError(t, b.Stop(context.Background()))
	assert.True(t, c.Closed())
	assert.True(t, f.events.Consumer("events").Closed())
	assert.Equal(t, 0, b.Sessions().Len())
	assert.Equal(t, 1, f.engine.Logouts())
	assert.Equal(t, 1, f.def.Disconnects())
	assert.Equal(t, 1, f.events.Disconnects())
	assert.Empty(t, b.Endpoints())
}

func TestStartFailsWhenEngineNeverStarts(t *testing.T) {
	f := newFixture()
	f.engine.StartupErr = errors.New("still booting")
	b := f.bridge(t, settings())

	err := b.Start(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, f.def.Connects())
}

func TestUnavailableTransportSkipsItsEndpoints(t *testing.T) {
	f := newFixture()
	f.events.ConnectErr = errors.New("refused")
	b := f.bridge(t, settings())

	require.NoError(t, b.Start(context.Background()))
	defer b.Stop(context.Background())

	defs := b.Endpoints()
	require.Len(t, defs, 1)
	assert.Equal(t, "orders", defs[0].ID)
}

func TestUnavailableTransportAbortsUnderStrictPolicy(t *testing.T) {
	f := newFixture()
	f.events.ConnectErr = errors.New("refused")
	b := f.bridge(t, settings("module.ignore_erroneous_endpoints", "false"))

	err := b.Start(context.Background())
	assert.ErrorIs(t, err, core.ErrTransportUnavailable)
	assert.Empty(t, b.Endpoints())
}

func TestNewEngineSettings(t *testing.T) {
	_, err := NewEngine(config.FromMap(nil), testLogger())
	assert.ErrorIs(t, err, core.ErrMissingConfig)

	_, err = NewEngine(config.FromMap(map[string]string{
		"module.engine.url":     "http://engine:8080",
		"module.engine.timeout": "soon",
	}), testLogger())
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	c, err := NewEngine(config.FromMap(map[string]string{"module.engine.url": "http://engine:8080"}), testLogger())
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestInvalidStartupTimeout(t *testing.T) {
	f := newFixture()
	_, err := New(Options{
		Settings:   settings("module.engine.startup_timeout", "forever"),
		Engine:     f.engine,
		Transports: f.reg,
	})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestValidateDoesNotConnect(t *testing.T) {
	f := newFixture()
	b := f.bridge(t, settings("endpoint.orders.selector", "kind = 'new'"))

	defs, err := b.Validate(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "orders[destination=queue.orders,selector=kind = 'new']", defs[0].Name())
	assert.Equal(t, "events[destination=topic.events]", defs[1].Name())
	assert.Equal(t, 0, f.def.Connects())
	assert.Equal(t, 0, f.engine.Logins())
}

func TestStatusReportsConsumersAndSessions(t *testing.T) {
	f := newFixture()
	b := f.bridge(t, settings())
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop(context.Background())

	c := f.def.Consumer("orders")
	o, err := c.Push(&core.Message{ID: "m1", Payload: "hello"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.Settled(o) }, 2*time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(b.StatusHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	var st status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()

	require.Len(t, st.Endpoints, 2)
	assert.Equal(t, "events", st.Endpoints[0].ID)
	assert.Equal(t, "orders[destination=queue.orders]", st.Endpoints[1].Consumer)
	assert.Equal(t, map[string][]string{"default": {"orders"}, "events": {"events"}}, st.ByTransport)
	assert.Equal(t, []string{"bridge"}, st.Sessions)

	resp, err = http.Get(srv.URL + "?endpoint=orders")
	require.NoError(t, err)
	var one endpointStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&one))
	resp.Body.Close()
	assert.Equal(t, "queue.orders", one.Destination)
	assert.Equal(t, "default", one.Transport)

	resp, err = http.Get(srv.URL + "?endpoint=nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFailedConsumerLeavesLiveTable(t *testing.T) {
	f := newFixture()
	b := f.bridge(t, settings())
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop(context.Background())

	f.events.Consumer("events").Fail(errors.New("link detached"))

	require.Eventually(t, func() bool { return len(b.Endpoints()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "orders", b.Endpoints()[0].ID)
}
