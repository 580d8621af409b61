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
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/internal/session"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/engine"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/engine/enginetest"
)

type fixture struct {
	engine  *enginetest.Engine
	cache   *session.Cache
	factory *Factory
}

func newFixture() *fixture {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	eng := enginetest.New()
	cache := session.NewCache(eng.Authentication(), logger)
	return &fixture{
		engine: eng,
		cache:  cache,
		factory: &Factory{
			Engine:   eng,
			Sessions: cache,
			Logger:   logger,
		},
	}
}

func (f *fixture) config(entries DataEntries) Config {
	return Config{
		EndpointID:    "e1",
		Engine:        f.engine,
		Sessions:      f.cache,
		User:          session.User{Login: "bridge", Password: "pw"},
		DefinitionsID: "Proc1",
		DataEntries:   entries,
		Logger:        f.factory.Logger,
	}
}

func TestNewPipelineValidation(t *testing.T) {
	f := newFixture()
	action := func() Action { return NewInstantiate(InstantiateOptions{ProcessID: "P1"}) }

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no engine", func(c *Config) { c.Engine = nil }},
		{"no sessions", func(c *Config) { c.Sessions = nil }},
		{"no user", func(c *Config) { c.User = session.User{} }},
		{"no definitions", func(c *Config) { c.DefinitionsID = "" }},
		{"both data entry kinds", func(c *Config) {
			c.DataEntries = DataEntries{ID: "input", Mapping: map[string]string{"a": "b"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := f.config(DataEntries{})
			tt.mutate(&cfg)
			_, err := NewPipeline(cfg, action())
			assert.ErrorIs(t, err, core.ErrInvalidConfig)
		})
	}

	_, err := NewPipeline(f.config(DataEntries{}), NewInstantiate(InstantiateOptions{}))
	assert.ErrorIs(t, err, core.ErrInvalidConfig, "process identifier is required")

	_, err = NewPipeline(f.config(DataEntries{}), NewSignal(SignalOptions{SignalID: "  "}))
	assert.ErrorIs(t, err, core.ErrInvalidConfig, "signal identifier is required")
}

func TestInstantiateSingleDataEntry(t *testing.T) {
	f := newFixture()
	pl, err := NewPipeline(f.config(DataEntries{ID: "input"}), NewInstantiate(InstantiateOptions{ProcessID: "P1"}))
	require.NoError(t, err)

	reply, err := pl.Handle(context.Background(), &core.Message{Destination: "Q1", Payload: "hello"})
	require.NoError(t, err)
	assert.Empty(t, reply)

	calls := f.engine.Instantiated()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"input": "hello"}, calls[0].DataEntries)
	assert.Equal(t, engine.ProcessIdentifier{ID: "P1", Definitions: engine.DefinitionsIdentifier{ID: "Proc1"}}, calls[0].Process)
	assert.Nil(t, calls[0].Collaboration)
	assert.True(t, calls[0].AutoStart)
	assert.True(t, calls[0].ReturnOnCompletion)
}

func TestInstantiateOptionsReachEngine(t *testing.T) {
	f := newFixture()
	pl, err := NewPipeline(f.config(DataEntries{}), NewInstantiate(InstantiateOptions{
		ProcessID:       "P1",
		CollaborationID: "C1",
		NamePrefix:      "order-",
		ReplyInstanceID: true,
	}))
	require.NoError(t, err)

	reply, err := pl.Handle(context.Background(), &core.Message{Payload: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "instance-1", reply)

	calls := f.engine.Instantiated()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Collaboration)
	assert.Equal(t, "C1", calls[0].Collaboration.ID)
	assert.Equal(t, "Proc1", calls[0].Collaboration.Definitions.ID)
	assert.Equal(t, "order-", calls[0].NamePrefix)
	assert.Equal(t, map[string]any{}, calls[0].DataEntries)
}

func TestInstantiateEngineFailure(t *testing.T) {
	f := newFixture()
	f.engine.InstantiateErr = &engine.Error{Code: "PROCESS_NOT_FOUND", Message: "P1"}
	pl, err := NewPipeline(f.config(DataEntries{}), NewInstantiate(InstantiateOptions{ProcessID: "P1"}))
	require.NoError(t, err)

	_, err = pl.Handle(context.Background(), &core.Message{Payload: "x"})
	assert.ErrorIs(t, err, core.ErrAction)
}

func TestHandleRejectsUnsupportedPayloads(t *testing.T) {
	f := newFixture()
	pl, err := NewPipeline(f.config(DataEntries{ID: "input"}), NewInstantiate(InstantiateOptions{ProcessID: "P1"}))
	require.NoError(t, err)

	for _, payload := range []any{[]byte("raw"), core.StreamPayload{1, "two"}} {
		_, err := pl.Handle(context.Background(), &core.Message{Payload: payload})
		assert.ErrorIs(t, err, core.ErrUnsupportedPayload)
	}
	assert.Zero(t, f.engine.Logins(), "no engine call for rejected payloads")
}

func TestHandleLoginFailure(t *testing.T) {
	f := newFixture()
	f.engine.LoginErr = fmt.Errorf("%w: refused", engine.ErrRemote)
	pl, err := NewPipeline(f.config(DataEntries{}), NewInstantiate(InstantiateOptions{ProcessID: "P1"}))
	require.NoError(t, err)

	_, err = pl.Handle(context.Background(), &core.Message{Payload: "x"})
	assert.ErrorIs(t, err, core.ErrLogin)
	assert.Empty(t, f.engine.Instantiated())
}

func TestDataEntryMappingTable(t *testing.T) {
	f := newFixture()
	pl, err := NewPipeline(f.config(DataEntries{Mapping: map[string]string{
		"customer": "customerEntry",
		"amount":   "amountEntry",
		"missing":  "missingEntry",
	}}), NewInstantiate(InstantiateOptions{ProcessID: "P1"}))
	require.NoError(t, err)

	_, err = pl.Handle(context.Background(), &core.Message{Payload: map[string]any{
		"customer": "ACME",
		"amount":   12,
		"extra":    true,
	}})
	require.NoError(t, err)

	calls := f.engine.Instantiated()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{
		"customerEntry": "ACME",
		"amountEntry":   12,
		"missingEntry":  nil,
	}, calls[0].DataEntries)

	_, err = pl.Handle(context.Background(), &core.Message{Payload: "not a map"})
	assert.ErrorIs(t, err, core.ErrPayloadShape)
}

type invoice struct {
	Number string `json:"number"`
	Total  int    `json:"total"`
}

func TestSingleDataEntryConvertsObjects(t *testing.T) {
	f := newFixture()
	pl, err := NewPipeline(f.config(DataEntries{ID: "invoice"}), NewInstantiate(InstantiateOptions{ProcessID: "P1"}))
	require.NoError(t, err)

	_, err = pl.Handle(context.Background(), &core.Message{Payload: &invoice{Number: "F-1", Total: 5}})
	require.NoError(t, err)

	calls := f.engine.Instantiated()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"invoice": map[string]any{"number": "F-1", "total": 5.0}}, calls[0].DataEntries)
}

func TestSignalFanOutCounts(t *testing.T) {
	f := newFixture()
	f.engine.Deploy("Proc1", "1", "S1")
	f.engine.Deploy("Proc1", "2")
	f.engine.Deploy("Proc1", "3", "S1")
	f.engine.Deploy("Other", "1", "S1")

	sig := NewSignal(SignalOptions{SignalID: "S1", Name: "Resume"})
	pl, err := NewPipeline(f.config(DataEntries{}), sig)
	require.NoError(t, err)

	p, err := f.cache.Login(context.Background(), pl.User())
	require.NoError(t, err)
	res, err := sig.FanOut(context.Background(), p, "Resume", nil)
	require.NoError(t, err)
	assert.Equal(t, FanOutResult{Versions: 3, Triggered: 2, NotFound: 1}, res)

	reply, err := pl.Handle(context.Background(), &core.Message{Payload: "x"})
	require.NoError(t, err, "not found versions do not fail the message")
	assert.Empty(t, reply)
	assert.Len(t, f.engine.Triggered(), 4)
}

func TestSignalNameFromMessageProperty(t *testing.T) {
	f := newFixture()
	f.engine.Deploy("Proc1", "1", "S1")

	pl, err := NewPipeline(f.config(DataEntries{}), NewSignal(SignalOptions{SignalID: "S1", Name: "Default"}))
	require.NoError(t, err)

	_, err = pl.Handle(context.Background(), &core.Message{
		Payload:    map[string]any{"x": 1},
		Properties: map[string]any{SignalNameProperty: "Resume"},
	})
	require.NoError(t, err)

	calls := f.engine.Triggered()
	require.Len(t, calls, 1)
	assert.Equal(t, "Resume", calls[0].Name)
	assert.Nil(t, calls[0].Payload)
	assert.Equal(t, engine.SignalIdentifier{ID: "S1", Definitions: engine.DefinitionsIdentifier{ID: "Proc1", Version: "1"}}, calls[0].Signal)

	_, err = pl.Handle(context.Background(), &core.Message{Payload: "y", Properties: map[string]any{SignalNameProperty: " "}})
	require.NoError(t, err)
	calls = f.engine.Triggered()
	require.Len(t, calls, 2)
	assert.Equal(t, "Default", calls[1].Name, "blank property falls back to the default name")
}

func TestSignalSingleEntryPayload(t *testing.T) {
	f := newFixture()
	f.engine.Deploy("Proc1", "1", "S1")

	pl, err := NewPipeline(f.config(DataEntries{ID: "input"}), NewSignal(SignalOptions{SignalID: "S1", Name: "Go"}))
	require.NoError(t, err)

	_, err = pl.Handle(context.Background(), &core.Message{Payload: "hello"})
	require.NoError(t, err)

	calls := f.engine.Triggered()
	require.Len(t, calls, 1)
	assert.Equal(t, "hello", calls[0].Payload)
}

func TestSignalWithoutName(t *testing.T) {
	f := newFixture()
	pl, err := NewPipeline(f.config(DataEntries{}), NewSignal(SignalOptions{SignalID: "S1"}))
	require.NoError(t, err)

	_, err = pl.Handle(context.Background(), &core.Message{Payload: "x"})
	assert.ErrorIs(t, err, core.ErrNoSignalName)
}

func TestSignalTooManyEntries(t *testing.T) {
	f := newFixture()
	pl, err := NewPipeline(f.config(DataEntries{Mapping: map[string]string{"a": "A", "b": "B"}}),
		NewSignal(SignalOptions{SignalID: "S1", Name: "Go"}))
	require.NoError(t, err)

	_, err = pl.Handle(context.Background(), &core.Message{Payload: map[string]any{"a": 1, "b": 2}})
	assert.ErrorIs(t, err, core.ErrPayloadShape)
	assert.Empty(t, f.engine.Triggered())
}

func TestSignalEngineErrorsAreNotFatal(t *testing.T) {
	f := newFixture()
	f.engine.Deploy("Proc1", "1", "S1")
	f.engine.SearchErr = fmt.Errorf("%w: timeout", engine.ErrRemote)

	pl, err := NewPipeline(f.config(DataEntries{}), NewSignal(SignalOptions{SignalID: "S1", Name: "Go"}))
	require.NoError(t, err)

	_, err = pl.Handle(context.Background(), &core.Message{Payload: "x"})
	assert.NoError(t, err)

	f.engine.SearchErr = nil
	f.engine.TriggerErr = &engine.Error{Code: "FORBIDDEN", Message: "nope"}
	_, err = pl.Handle(context.Background(), &core.Message{Payload: "x"})
	assert.NoError(t, err)
	assert.Empty(t, f.engine.Triggered())
}

func TestCloseLogsOutOnce(t *testing.T) {
	f := newFixture()
	pl, err := NewPipeline(f.config(DataEntries{}), NewInstantiate(InstantiateOptions{ProcessID: "P1"}))
	require.NoError(t, err)

	_, err = pl.Handle(context.Background(), &core.Message{Payload: "x"})
	require.NoError(t, err)

	require.NoError(t, pl.Close(context.Background()))
	require.NoError(t, pl.Close(context.Background()))
	assert.Equal(t, 1, f.engine.Logouts())
	assert.Zero(t, f.cache.Len())
}
