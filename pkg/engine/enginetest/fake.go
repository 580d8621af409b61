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

// Package enginetest provides an in-memory engine.Service for tests.
package enginetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/engine"
)

// SignalCall records one TriggerSignal invocation.
type SignalCall struct {
	Signal  engine.SignalIdentifier
	Name    string
	Payload any
}

// Engine is a fake engine. Zero value is not usable; call New.
type Engine struct {
	mu sync.Mutex

	// Injected failures. Setting one makes every matching call fail.
	LoginErr       error
	StateErr       error
	LogoutErr      error
	InstantiateErr error
	SearchErr      error
	TriggerErr     error
	StartupErr     error

	// Hold, when set, parks InstantiateProcess until it is closed.
	Hold chan struct{}

	instantiating int
	logins       int
	stateChecks  int
	logouts      int
	nextToken    int
	valid        map[engine.Principal]bool
	versions     map[string][]string
	signals      map[string]map[string]bool
	instantiated []engine.InstantiateRequest
	triggered    []SignalCall
}

var _ engine.Service = (*Engine)(nil)

func New() *Engine {
	return &Engine{
		valid:    make(map[engine.Principal]bool),
		versions: make(map[string][]string),
		signals:  make(map[string]map[string]bool),
	}
}

// Deploy publishes a definitions version. Signals lists the signal ids the
// version declares.
func (e *Engine) Deploy(definitionsID, version string, signals ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.versions[definitionsID] = append(e.versions[definitionsID], version)
	key := engine.DefinitionsIdentifier{ID: definitionsID, Version: version}.String()
	if e.signals[key] == nil {
		e.signals[key] = make(map[string]bool)
	}
	for _, s := range signals {
		e.signals[key][s] = true
	}
}

// Expire invalidates a principal without removing it from the caller's cache.
func (e *Engine) Expire(p engine.Principal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.valid[p] = false
}

func (e *Engine) Logins() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.logins
}

func (e *Engine) StateChecks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateChecks
}

func (e *Engine) Logouts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.logouts
}

func (e *Engine) Instantiated() []engine.InstantiateRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.InstantiateRequest(nil), e.instantiated...)
}

// Instantiating counts InstantiateProcess calls that have been entered,
// including ones parked on Hold.
func (e *Engine) Instantiating() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instantiating
}

func (e *Engine) Triggered() []SignalCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]SignalCall(nil), e.triggered...)
}

func (e *Engine) Authentication() engine.AuthenticationService { return auth{e} }
func (e *Engine) Processes() engine.ProcessService             { return processes{e} }
func (e *Engine) Definitions() engine.DefinitionsService       { return definitions{e} }
func (e *Engine) Events() engine.EventService                  { return events{e} }

func (e *Engine) WaitForStartup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.StartupErr
}

func (e *Engine) checkPrincipal(p engine.Principal) error {
	if !e.valid[p] {
		return &engine.Error{Code: engine.CodeNotAuthenticated, Message: p.Name}
	}
	return nil
}

type auth struct{ e *Engine }

func (a auth) Login(ctx context.Context, login, password string) (engine.Principal, error) {
	a.e.mu.Lock()
	defer a.e.mu.Unlock()
	a.e.logins++
	if a.e.LoginErr != nil {
		return engine.Principal{}, a.e.LoginErr
	}
	a.e.nextToken++
	p := engine.Principal{Name: login, Token: fmt.Sprintf("token-%d", a.e.nextToken)}
	a.e.valid[p] = true
	return p, nil
}

func (a auth) PrincipalState(ctx context.Context, p engine.Principal) (engine.PrincipalState, error) {
	a.e.mu.Lock()
	defer a.e.mu.Unlock()
	a.e.stateChecks++
	if a.e.StateErr != nil {
		return engine.PrincipalUnknown, a.e.StateErr
	}
	valid, known := a.e.valid[p]
	switch {
	case !known:
		return engine.PrincipalUnknown, nil
	case valid:
		return engine.PrincipalValid, nil
	default:
		return engine.PrincipalExpired, nil
	}
}

func (a auth) Logout(ctx context.Context, p engine.Principal) error {
	a.e.mu.Lock()
	defer a.e.mu.Unlock()
	a.e.logouts++
	if a.e.LogoutErr != nil {
		return a.e.LogoutErr
	}
	if err := a.e.checkPrincipal(p); err != nil {
		return err
	}
	a.e.valid[p] = false
	return nil
}

type processes struct{ e *Engine }

func (s processes) InstantiateProcess(ctx context.Context, p engine.Principal, req engine.InstantiateRequest) (engine.ProcessInstanceIdentifier, error) {
	s.e.mu.Lock()
	s.e.instantiating++
	hold := s.e.Hold
	s.e.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return engine.ProcessInstanceIdentifier{}, ctx.Err()
		}
	}

	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if err := s.e.checkPrincipal(p); err != nil {
		return engine.ProcessInstanceIdentifier{}, err
	}
	if s.e.InstantiateErr != nil {
		return engine.ProcessInstanceIdentifier{}, s.e.InstantiateErr
	}
	s.e.instantiated = append(s.e.instantiated, req)
	return engine.ProcessInstanceIdentifier{ID: fmt.Sprintf("instance-%d", len(s.e.instantiated))}, nil
}

type definitions struct{ e *Engine }

func (s definitions) SearchDefinitions(ctx context.Context, p engine.Principal, filter engine.DefinitionsFilter) ([]engine.DefinitionsInfo, error) {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if err := s.e.checkPrincipal(p); err != nil {
		return nil, err
	}
	if s.e.SearchErr != nil {
		return nil, s.e.SearchErr
	}
	versions := append([]string(nil), s.e.versions[filter.IDLike]...)
	sort.Strings(versions)
	infos := make([]engine.DefinitionsInfo, 0, len(versions))
	for _, v := range versions {
		infos = append(infos, engine.DefinitionsInfo{
			Identifier: engine.DefinitionsIdentifier{ID: filter.IDLike, Version: v},
			Name:       filter.IDLike,
		})
	}
	return infos, nil
}

type events struct{ e *Engine }

func (s events) TriggerSignal(ctx context.Context, p engine.Principal, signal engine.SignalIdentifier, name string, payload any) error {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	if err := s.e.checkPrincipal(p); err != nil {
		return err
	}
	if s.e.TriggerErr != nil {
		return s.e.TriggerErr
	}
	if !s.e.signals[signal.Definitions.String()][signal.ID] {
		return &engine.Error{Code: engine.CodeSignalNotFound, Message: signal.ID + " in " + signal.Definitions.String()}
	}
	s.e.triggered = append(s.e.triggered, SignalCall{Signal: signal, Name: name, Payload: payload})
	return nil
}
